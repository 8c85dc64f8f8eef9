package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hlibko/vika-voice-agent/internal/events"
	"github.com/hlibko/vika-voice-agent/internal/llm"
	"github.com/hlibko/vika-voice-agent/internal/order"
	"github.com/hlibko/vika-voice-agent/internal/tools"
)

// scriptedClient replays canned responses in order. The last response
// repeats forever, which lets tests model a backend stuck in a
// tool-calling loop. All requests are recorded for inspection.
type scriptedClient struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	err       error
	requests  []*llm.Request
}

func (c *scriptedClient) Complete(ctx context.Context, req *llm.Request) (*llm.ChatResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	resp := c.responses[0]
	if len(c.responses) > 1 {
		c.responses = c.responses[1:]
	}
	return resp, nil
}

func (c *scriptedClient) Ping(ctx context.Context) error { return nil }

func endTurn(text string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Blocks:     []llm.ContentBlock{llm.TextBlock(text)},
		StopReason: llm.StopEndTurn,
	}
}

func toolRound(text string, uses ...llm.ContentBlock) *llm.ChatResponse {
	var blocks []llm.ContentBlock
	if text != "" {
		blocks = append(blocks, llm.TextBlock(text))
	}
	blocks = append(blocks, uses...)
	return &llm.ChatResponse{Blocks: blocks, StopReason: llm.StopToolUse}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(client llm.Client, registry *tools.Registry, maxToolCalls int) *Orchestrator {
	if registry == nil {
		registry = tools.NewRegistry(testLogger())
	}
	return New(client, registry, Config{
		Model:        "claude-test",
		SystemPrompt: "Ти Віка, оператор шинного магазину.",
		MaxTokens:    1024,
		MaxHistory:   40,
		MaxToolCalls: maxToolCalls,
	}, nil, testLogger())
}

func TestProcessPlainTextTurn(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		endTurn("Доброго дня! Чим можу допомогти?"),
	}}
	o := newTestOrchestrator(client, nil, 8)

	resp, history := o.Process(context.Background(), "Алло, добрий день", nil)

	if resp != "Доброго дня! Чим можу допомогти?" {
		t.Errorf("unexpected response: %q", resp)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Role != llm.RoleUser || history[1].Role != llm.RoleAssistant {
		t.Errorf("unexpected roles: %s, %s", history[0].Role, history[1].Role)
	}
}

func TestProcessToolRoundTrip(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolRound("Зараз перевірю наявність.",
			llm.ToolUseBlock("tu-1", "search_tires", map[string]any{"width": 205.0, "profile": 55.0, "diameter": 16.0})),
		endTurn("Є чотири моделі у наявності."),
	}}
	registry := tools.NewRegistry(testLogger())
	registry.Register(&tools.Tool{
		Name: "search_tires",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"results": []string{"Rosava Itegro"}}, nil
		},
	})
	o := newTestOrchestrator(client, registry, 8)

	resp, history := o.Process(context.Background(), "Потрібні шини 205/55 R16", nil)

	if !strings.Contains(resp, "перевірю") || !strings.Contains(resp, "чотири моделі") {
		t.Errorf("response should concatenate text from all rounds: %q", resp)
	}

	// user, assistant(tool_use), user(tool_result), assistant
	if len(history) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(history))
	}
	if err := CheckPaired(history); err != nil {
		t.Fatalf("pairing violated: %v", err)
	}

	results := history[2]
	if results.Role != llm.RoleUser || len(results.Blocks) != 1 {
		t.Fatalf("unexpected results message: %+v", results)
	}
	if results.Blocks[0].ToolUseID != "tu-1" {
		t.Errorf("result not id-matched: %q", results.Blocks[0].ToolUseID)
	}
	if !strings.Contains(results.Blocks[0].Content, "Rosava Itegro") {
		t.Errorf("result content lost: %q", results.Blocks[0].Content)
	}
}

func TestProcessPreservesBlockOrder(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		{
			Blocks: []llm.ContentBlock{
				llm.TextBlock("Спочатку перевірю склад."),
				llm.ToolUseBlock("tu-1", "a", nil),
				llm.TextBlock("І одразу подивлюсь слоти."),
				llm.ToolUseBlock("tu-2", "b", nil),
			},
			StopReason: llm.StopToolUse,
		},
		endTurn("Готово."),
	}}
	registry := tools.NewRegistry(testLogger())
	noop := func(ctx context.Context, args map[string]any) (any, error) { return "ok", nil }
	registry.Register(&tools.Tool{Name: "a", Handler: noop})
	registry.Register(&tools.Tool{Name: "b", Handler: noop})
	o := newTestOrchestrator(client, registry, 8)

	_, history := o.Process(context.Background(), "привіт", nil)

	assistant := history[1]
	wantTypes := []string{llm.BlockText, llm.BlockToolUse, llm.BlockText, llm.BlockToolUse}
	if len(assistant.Blocks) != len(wantTypes) {
		t.Fatalf("expected %d blocks, got %d", len(wantTypes), len(assistant.Blocks))
	}
	for i, wt := range wantTypes {
		if assistant.Blocks[i].Type != wt {
			t.Errorf("block %d: expected %s, got %s", i, wt, assistant.Blocks[i].Type)
		}
	}
}

func TestProcessResultOrderMatchesIssuanceOrder(t *testing.T) {
	const n = 6
	uses := make([]llm.ContentBlock, n)
	registry := tools.NewRegistry(testLogger())
	for i := 0; i < n; i++ {
		name := string(rune('a' + i))
		uses[i] = llm.ToolUseBlock("tu-"+name, name, nil)
		registry.Register(&tools.Tool{
			Name: name,
			Handler: func(ctx context.Context, args map[string]any) (any, error) {
				// Random latency so completion order differs from
				// issuance order across runs.
				time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
				return name, nil
			},
		})
	}
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolRound("", uses...),
		endTurn("Готово."),
	}}
	o := newTestOrchestrator(client, registry, 20)

	_, history := o.Process(context.Background(), "привіт", nil)

	results := history[2]
	if len(results.Blocks) != n {
		t.Fatalf("expected %d results, got %d", n, len(results.Blocks))
	}
	for i := 0; i < n; i++ {
		wantID := "tu-" + string(rune('a'+i))
		if results.Blocks[i].ToolUseID != wantID {
			t.Errorf("result %d: expected %s, got %s", i, wantID, results.Blocks[i].ToolUseID)
		}
		if !strings.Contains(results.Blocks[i].Content, string(rune('a'+i))) {
			t.Errorf("result %d content mismatched: %q", i, results.Blocks[i].Content)
		}
	}
	if err := CheckPaired(history); err != nil {
		t.Fatalf("pairing violated: %v", err)
	}
}

func TestProcessDispatchRunsToolsConcurrently(t *testing.T) {
	// Two slow tools in one round. Sequential dispatch would take at
	// least the sum of their latencies; the fan-out must overlap them.
	const latency = 50 * time.Millisecond
	registry := tools.NewRegistry(testLogger())
	slow := func(ctx context.Context, args map[string]any) (any, error) {
		time.Sleep(latency)
		return "ok", nil
	}
	registry.Register(&tools.Tool{Name: "check_stock", Handler: slow})
	registry.Register(&tools.Tool{Name: "check_slots", Handler: slow})

	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolRound("",
			llm.ToolUseBlock("tu-1", "check_stock", nil),
			llm.ToolUseBlock("tu-2", "check_slots", nil)),
		endTurn("Готово."),
	}}
	o := newTestOrchestrator(client, registry, 8)

	start := time.Now()
	_, history := o.Process(context.Background(), "привіт", nil)
	elapsed := time.Since(start)

	if elapsed >= 2*latency {
		t.Errorf("dispatch took %v, want under %v", elapsed, 2*latency)
	}
	results := history[2]
	if len(results.Blocks) != 2 || results.Blocks[0].ToolUseID != "tu-1" || results.Blocks[1].ToolUseID != "tu-2" {
		t.Errorf("results out of order: %+v", results.Blocks)
	}
}

func TestProcessBudgetTerminatesRunawayLoop(t *testing.T) {
	// The scripted backend asks for two more tool calls on every
	// round, forever. The budget must cut the turn off.
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolRound("Хвилинку.",
			llm.ToolUseBlock("tu-1", "check_stock", nil),
			llm.ToolUseBlock("tu-2", "check_stock", nil)),
	}}
	registry := tools.NewRegistry(testLogger())
	registry.Register(&tools.Tool{
		Name:    "check_stock",
		Handler: func(ctx context.Context, args map[string]any) (any, error) { return "ok", nil },
	})
	o := newTestOrchestrator(client, registry, 8)

	_, history := o.Process(context.Background(), "привіт", nil)

	// 8 budget / 2 per round = 4 rounds: 4 LLM calls, then stop.
	if got := len(client.requests); got != 4 {
		t.Errorf("expected 4 backend calls, got %d", got)
	}

	// The final round's results must still be appended before the
	// force-terminate, keeping the history well formed.
	last := history[len(history)-1]
	if last.Role != llm.RoleUser || !last.HasToolResults() {
		t.Errorf("history must end with the last round's tool results, got %+v", last)
	}
	if err := CheckPaired(history); err != nil {
		t.Fatalf("pairing violated after forced termination: %v", err)
	}
}

func TestProcessBackendFailureIsFailSoft(t *testing.T) {
	client := &scriptedClient{err: errors.New("api: overloaded")}
	o := newTestOrchestrator(client, nil, 8)

	prior := []llm.Message{
		llm.UserText("Алло"),
		llm.AssistantText("Доброго дня!"),
	}
	resp, history := o.Process(context.Background(), "Потрібні шини", prior)

	if resp != "" {
		t.Errorf("expected empty response, got %q", resp)
	}
	if len(history) != 3 {
		t.Fatalf("expected prior history plus user message, got %d messages", len(history))
	}
	if history[2].Role != llm.RoleUser || history[2].Text() != "Потрібні шини" {
		t.Errorf("user message missing from returned history: %+v", history[2])
	}
}

func TestProcessStageGateAppliedPerRound(t *testing.T) {
	// Round one: no order yet, confirm_order must be hidden. The tool
	// creates a draft and sets delivery, so by round two the full set
	// is visible.
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolRound("Оформлюю.",
			llm.ToolUseBlock("tu-1", "setup_order", nil)),
		endTurn("Замовлення чернеткою створено."),
	}}
	registry := tools.NewRegistry(testLogger())
	registry.Register(&tools.Tool{
		Name: "setup_order",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			tools.StateFromContext(ctx).SetStage(order.StageDeliverySet)
			return "ok", nil
		},
	})
	registry.Register(&tools.Tool{Name: tools.NameConfirmOrder})
	o := newTestOrchestrator(client, registry, 8)

	st := order.NewState()
	ctx := tools.WithState(context.Background(), st)
	o.Process(ctx, "Беру ці шини", nil)

	if len(client.requests) != 2 {
		t.Fatalf("expected 2 backend calls, got %d", len(client.requests))
	}
	if hasTool(client.requests[0].Tools, tools.NameConfirmOrder) {
		t.Error("confirm_order visible before any order exists")
	}
	if !hasTool(client.requests[1].Tools, tools.NameConfirmOrder) {
		t.Error("confirm_order hidden after delivery was set")
	}
}

func hasTool(descs []llm.ToolDescriptor, name string) bool {
	for _, d := range descs {
		if d.Name == name {
			return true
		}
	}
	return false
}

func TestProcessToolErrorFedBackToModel(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolRound("Перевіряю.",
			llm.ToolUseBlock("tu-1", "failing", nil)),
		endTurn("Вибачте, система недоступна, спробуємо ще раз."),
	}}
	registry := tools.NewRegistry(testLogger())
	registry.Register(&tools.Tool{
		Name: "failing",
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("store api: 503")
		},
	})
	o := newTestOrchestrator(client, registry, 8)

	resp, history := o.Process(context.Background(), "Що по наявності?", nil)

	if !strings.Contains(resp, "спробуємо ще раз") {
		t.Errorf("turn should complete normally: %q", resp)
	}
	result := history[2].Blocks[0]
	if !strings.Contains(result.Content, "store api: 503") {
		t.Errorf("error payload should reach the model: %q", result.Content)
	}
}

func TestProcessEmitsEvents(t *testing.T) {
	client := &scriptedClient{responses: []*llm.ChatResponse{
		toolRound("", llm.ToolUseBlock("tu-1", "check_stock", nil)),
		endTurn("Готово."),
	}}
	registry := tools.NewRegistry(testLogger())
	registry.Register(&tools.Tool{
		Name:    "check_stock",
		Handler: func(ctx context.Context, args map[string]any) (any, error) { return "ok", nil },
	})
	bus := events.New()
	ch := bus.Subscribe(64)
	defer bus.Unsubscribe(ch)

	o := New(client, registry, Config{
		Model:        "claude-test",
		MaxTokens:    1024,
		MaxHistory:   40,
		MaxToolCalls: 8,
	}, bus, testLogger())

	o.Process(context.Background(), "привіт", nil)

	kinds := make(map[string]int)
	for {
		select {
		case e := <-ch:
			kinds[e.Kind]++
			if e.Kind == events.KindLLMResponse {
				// The token meter reads these fields.
				for _, key := range []string{"input_tokens", "output_tokens"} {
					if _, ok := e.Data[key]; !ok {
						t.Errorf("llm_response missing %s", key)
					}
				}
			}
			if kinds[events.KindTurnComplete] > 0 {
				goto done
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for turn_complete")
		}
	}
done:
	for _, k := range []string{events.KindTurnStart, events.KindLLMCall, events.KindLLMResponse, events.KindToolCall, events.KindToolDone, events.KindTurnComplete} {
		if kinds[k] == 0 {
			t.Errorf("event %s never emitted", k)
		}
	}
	if kinds[events.KindLLMCall] != 2 {
		t.Errorf("expected 2 llm_call events, got %d", kinds[events.KindLLMCall])
	}
}
