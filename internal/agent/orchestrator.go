// Package agent implements the conversational turn loop that drives
// the LLM tool-use protocol for one call.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hlibko/vika-voice-agent/internal/events"
	"github.com/hlibko/vika-voice-agent/internal/llm"
	"github.com/hlibko/vika-voice-agent/internal/order"
	"github.com/hlibko/vika-voice-agent/internal/tools"
)

// Orchestrator drives one conversational turn at a time: it calls the
// LLM backend, fans out requested tool calls, feeds results back, and
// repeats until the model stops asking for tools or the per-turn
// budget runs out.
//
// Process calls for the same history must be serialized by the caller.
// One call session is one sequential stream of turns.
type Orchestrator struct {
	client   llm.Client
	registry *tools.Registry

	model        string
	systemPrompt string
	maxTokens    int
	maxHistory   int
	maxToolCalls int

	bus    *events.Bus
	logger *slog.Logger
}

// Config carries the orchestrator's tunables.
type Config struct {
	Model        string
	SystemPrompt string
	MaxTokens    int
	MaxHistory   int // bound on history length, trimmed pair-safe
	MaxToolCalls int // cumulative tool-call budget per turn
}

// New creates an orchestrator. The bus may be nil.
func New(client llm.Client, registry *tools.Registry, cfg Config, bus *events.Bus, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		client:       client,
		registry:     registry,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		maxTokens:    cfg.MaxTokens,
		maxHistory:   cfg.MaxHistory,
		maxToolCalls: cfg.MaxToolCalls,
		bus:          bus,
		logger:       logger,
	}
}

// Process runs one caller turn. It appends the user text to history,
// loops through LLM rounds and tool dispatch, and returns the spoken
// response plus the updated history. The caller owns the returned
// history; nothing mutates it in the background.
//
// A backend failure does not raise: Process returns an empty response
// so the voice layer can play a fallback utterance instead of
// dropping the call. Tool failures never surface here at all, the
// registry converts them to error payloads the model reads as
// ordinary results.
func (o *Orchestrator) Process(ctx context.Context, userText string, history []llm.Message) (string, []llm.Message) {
	callID := tools.CallIDFromContext(ctx)
	state := tools.StateFromContext(ctx)

	o.publish(events.KindTurnStart, map[string]any{"call_id": callID})
	start := time.Now()

	history = append(history, llm.UserText(userText))
	history = TrimHistory(history, o.maxHistory)

	var parts []string
	toolCalls := 0

	for {
		stage, fittingBooked := snapshotState(state)
		visible := tools.FilterByState(o.registry.Descriptors(), stage, fittingBooked)

		o.publish(events.KindLLMCall, map[string]any{
			"call_id":       callID,
			"messages":      len(history),
			"visible_tools": len(visible),
		})

		resp, err := o.client.Complete(ctx, &llm.Request{
			Model:     o.model,
			System:    o.systemPrompt,
			Tools:     visible,
			Messages:  history,
			MaxTokens: o.maxTokens,
		})
		if err != nil {
			o.logger.Error("backend call failed, aborting turn",
				"call_id", callID,
				"error", err,
			)
			return "", history
		}

		o.publish(events.KindLLMResponse, map[string]any{
			"call_id":       callID,
			"stop_reason":   resp.StopReason,
			"input_tokens":  resp.InputTokens,
			"output_tokens": resp.OutputTokens,
		})

		if text := resp.Text(); text != "" {
			parts = append(parts, text)
		}

		// All returned blocks go into one assistant message in the
		// order the model produced them. Reordering here would break
		// the protocol on the next round.
		history = append(history, llm.Message{Role: llm.RoleAssistant, Blocks: resp.Blocks})

		toolUses := resp.ToolUses()
		if len(toolUses) == 0 {
			break
		}

		o.checkConfirmBackstop(callID, toolUses, history)

		results := o.dispatch(ctx, callID, toolUses)
		history = append(history, llm.Message{Role: llm.RoleUser, Blocks: results})

		toolCalls += len(toolUses)
		if toolCalls >= o.maxToolCalls {
			o.logger.Warn("tool call budget exhausted, terminating turn",
				"call_id", callID,
				"tool_calls", toolCalls,
				"budget", o.maxToolCalls,
			)
			break
		}
	}

	response := strings.TrimSpace(strings.Join(parts, "\n"))

	o.publish(events.KindTurnComplete, map[string]any{
		"call_id":     callID,
		"tool_calls":  toolCalls,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	o.logger.Debug("turn complete",
		"call_id", callID,
		"tool_calls", toolCalls,
		"history", len(history),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return response, history
}

// dispatch runs all tool calls of one round concurrently and returns
// one result block per call. Results land in a pre-sized slice indexed
// by issuance order, so the output ordering never depends on which
// tool finishes first.
func (o *Orchestrator) dispatch(ctx context.Context, callID string, toolUses []llm.ContentBlock) []llm.ContentBlock {
	results := make([]llm.ContentBlock, len(toolUses))

	var wg sync.WaitGroup
	for i, tu := range toolUses {
		wg.Add(1)
		go func(i int, tu llm.ContentBlock) {
			defer wg.Done()

			o.publish(events.KindToolCall, map[string]any{
				"call_id": callID,
				"tool":    tu.Name,
			})

			value := o.registry.Execute(ctx, tu.Name, tu.Input)
			results[i] = llm.ToolResultBlock(tu.ID, encodeResult(value))

			o.publish(events.KindToolDone, map[string]any{
				"call_id": callID,
				"tool":    tu.Name,
			})
		}(i, tu)
	}
	wg.Wait()

	return results
}

// encodeResult renders a tool's return value as the string content of
// a tool_result block.
func encodeResult(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%v", value)
	}
	return string(data)
}

func snapshotState(state *order.State) (order.Stage, bool) {
	if state == nil {
		return order.StageNone, false
	}
	return state.Snapshot()
}

// checkConfirmBackstop flags confirm_order dispatches that lack a
// preceding announced summary with an affirmative caller reply. The
// prompt is the primary enforcement; this is a monitoring backstop
// that logs, never blocks.
func (o *Orchestrator) checkConfirmBackstop(callID string, toolUses []llm.ContentBlock, history []llm.Message) {
	for _, tu := range toolUses {
		if tu.Name != tools.NameConfirmOrder {
			continue
		}
		if !ConfirmAnnounced(history) {
			o.logger.Warn("confirm_order dispatched without announced summary",
				"call_id", callID,
			)
		}
		return
	}
}

func (o *Orchestrator) publish(kind string, data map[string]any) {
	o.bus.Publish(events.Event{Source: events.SourceAgent, Kind: kind, Data: data})
}
