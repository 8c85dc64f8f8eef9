package llm

import (
	"encoding/json"
	"testing"
)

func TestConvertMessages_TextCollapsesToString(t *testing.T) {
	messages := []Message{
		UserText("Hello!"),
		AssistantText("Hi there!"),
	}

	result := convertMessages(messages)

	if len(result) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(result))
	}
	if s, ok := result[0].Content.(string); !ok || s != "Hello!" {
		t.Errorf("expected plain string content, got %#v", result[0].Content)
	}
}

func TestConvertMessages_ToolBlocks(t *testing.T) {
	messages := []Message{
		UserText("Потрібні шини 205/55 R16."),
		{
			Role: RoleAssistant,
			Blocks: []ContentBlock{
				TextBlock("Зараз пошукаю."),
				ToolUseBlock("toolu_abc123", "search_tires", map[string]any{"width": 205}),
			},
		},
		{
			Role:   RoleUser,
			Blocks: []ContentBlock{ToolResultBlock("toolu_abc123", `{"matches":3}`)},
		},
	}

	result := convertMessages(messages)

	if len(result) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result))
	}

	asst, ok := result[1].Content.([]anthropicContent)
	if !ok {
		t.Fatalf("assistant content should be block array, got %#v", result[1].Content)
	}
	if len(asst) != 2 || asst[0].Type != "text" || asst[1].Type != "tool_use" {
		t.Errorf("unexpected assistant blocks: %#v", asst)
	}
	if asst[1].ID != "toolu_abc123" || asst[1].Name != "search_tires" {
		t.Errorf("tool_use block lost identity: %#v", asst[1])
	}

	res, ok := result[2].Content.([]anthropicContent)
	if !ok || len(res) != 1 || res[0].Type != "tool_result" {
		t.Fatalf("tool_result message malformed: %#v", result[2].Content)
	}
	if res[0].ToolUseID != "toolu_abc123" {
		t.Errorf("tool_result id = %q, want toolu_abc123", res[0].ToolUseID)
	}
}

func TestConvertMessages_NilToolInput(t *testing.T) {
	messages := []Message{
		{Role: RoleAssistant, Blocks: []ContentBlock{ToolUseBlock("t1", "get_fitting_slots", nil)}},
	}

	result := convertMessages(messages)
	blocks := result[0].Content.([]anthropicContent)
	if blocks[0].Input == nil {
		t.Error("nil input should be sent as empty object, not omitted")
	}
}

func TestConvertTools(t *testing.T) {
	tools := []ToolDescriptor{
		{
			Name:        "search_tires",
			Description: "Search the tire catalog by size.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"width": map[string]any{"type": "integer"},
				},
			},
		},
		{Name: "transfer_to_operator"},
	}

	result := convertTools(tools)

	if len(result) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(result))
	}
	if result[0].Name != "search_tires" {
		t.Errorf("name = %q", result[0].Name)
	}
	if result[1].InputSchema == nil {
		t.Error("missing schema should default to empty object schema")
	}

	if convertTools(nil) != nil {
		t.Error("no tools should marshal as absent, not empty array")
	}
}

func TestConvertResponse(t *testing.T) {
	raw := `{
		"id": "msg_01",
		"type": "message",
		"role": "assistant",
		"model": "claude-sonnet-4-20250514",
		"content": [
			{"type": "text", "text": "Шукаю варіанти."},
			{"type": "tool_use", "id": "toolu_1", "name": "search_tires", "input": {"width": 205, "profile": 55}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 420, "output_tokens": 55}
	}`

	var resp anthropicResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}

	result := convertResponse(&resp)

	if result.StopReason != StopToolUse {
		t.Errorf("stop_reason = %q, want %q", result.StopReason, StopToolUse)
	}
	if result.Text() != "Шукаю варіанти." {
		t.Errorf("text = %q", result.Text())
	}

	uses := result.ToolUses()
	if len(uses) != 1 {
		t.Fatalf("expected 1 tool_use, got %d", len(uses))
	}
	if uses[0].ID != "toolu_1" || uses[0].Name != "search_tires" {
		t.Errorf("tool_use = %+v", uses[0])
	}
	if w, ok := uses[0].Input["width"].(float64); !ok || w != 205 {
		t.Errorf("input width = %v", uses[0].Input["width"])
	}
	if result.InputTokens != 420 || result.OutputTokens != 55 {
		t.Errorf("usage = %d/%d", result.InputTokens, result.OutputTokens)
	}
}

func TestConvertResponse_BlockOrderPreserved(t *testing.T) {
	resp := &anthropicResponse{
		Content: []anthropicContent{
			{Type: "tool_use", ID: "t1", Name: "a"},
			{Type: "text", Text: "between"},
			{Type: "tool_use", ID: "t2", Name: "b"},
		},
	}

	result := convertResponse(resp)

	if len(result.Blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(result.Blocks))
	}
	want := []string{BlockToolUse, BlockText, BlockToolUse}
	for i, b := range result.Blocks {
		if b.Type != want[i] {
			t.Errorf("block[%d].Type = %q, want %q", i, b.Type, want[i])
		}
	}
	if result.Blocks[0].ID != "t1" || result.Blocks[2].ID != "t2" {
		t.Error("tool_use ids reordered")
	}
}

func TestAnthropicClientImplementsInterface(t *testing.T) {
	var _ Client = (*AnthropicClient)(nil)
}
