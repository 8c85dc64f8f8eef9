// Package llm provides the LLM backend client and the conversational
// message model shared by the orchestrator and the voice bridge.
package llm

import "log/slog"

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles. The model only ever sees user and assistant turns;
// system text travels separately in the request.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content block types.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Stop reasons reported by the backend.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// ContentBlock is one element of a message body. Type selects which
// fields are meaningful:
//
//   - text: Text
//   - tool_use: ID, Name, Input
//   - tool_result: ToolUseID, Content
//
// Blocks pass through a turn verbatim: what the model emitted is what
// history stores and what the next request carries back.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool_use content block.
func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool_result content block correlated to a
// prior tool_use by id.
func ToolResultBlock(toolUseID, content string) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content}
}

// Message is one conversational turn: a role plus an ordered sequence
// of content blocks.
type Message struct {
	Role   string         `json:"role"`
	Blocks []ContentBlock `json:"blocks"`
}

// UserText builds a user message containing a single text block.
func UserText(text string) Message {
	return Message{Role: RoleUser, Blocks: []ContentBlock{TextBlock(text)}}
}

// AssistantText builds an assistant message containing a single text block.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Blocks: []ContentBlock{TextBlock(text)}}
}

// Text returns the concatenated text blocks of the message.
func (m Message) Text() string {
	var out string
	for _, b := range m.Blocks {
		if b.Type == BlockText {
			out += b.Text
		}
	}
	return out
}

// ToolUses returns the tool_use blocks of the message, in order.
func (m Message) ToolUses() []ContentBlock {
	var uses []ContentBlock
	for _, b := range m.Blocks {
		if b.Type == BlockToolUse {
			uses = append(uses, b)
		}
	}
	return uses
}

// HasToolResults reports whether the message carries any tool_result
// block. Such user messages are synthetic (built by the orchestrator)
// and must never be separated from the preceding assistant message
// that issued the matching tool_use blocks.
func (m Message) HasToolResults() bool {
	for _, b := range m.Blocks {
		if b.Type == BlockToolResult {
			return true
		}
	}
	return false
}

// ToolDescriptor describes one callable tool to the model.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// Request is one completion call to the backend.
type Request struct {
	Model     string
	System    string
	Tools     []ToolDescriptor
	Messages  []Message
	MaxTokens int
}

// ChatResponse is the backend's reply to one Request.
type ChatResponse struct {
	Model        string
	Blocks       []ContentBlock
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// Text returns the concatenated text blocks of the response.
func (r *ChatResponse) Text() string {
	return Message{Blocks: r.Blocks}.Text()
}

// ToolUses returns the tool_use blocks of the response, in order.
func (r *ChatResponse) ToolUses() []ContentBlock {
	return Message{Blocks: r.Blocks}.ToolUses()
}
