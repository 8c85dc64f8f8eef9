package agent

import (
	"fmt"

	"github.com/hlibko/vika-voice-agent/internal/llm"
)

// TrimHistory bounds the history length by keeping the first message
// (anchor context for the whole call) plus the most recent window.
//
// The cut point must never separate an assistant message carrying
// tool_use blocks from the user message carrying its tool_result
// blocks. The window start is therefore only allowed on a plain user
// message; if the naive boundary lands elsewhere, the window extends
// backward until a safe boundary is found. Extension means the result
// can exceed max by a few messages, which is the cheaper failure mode.
func TrimHistory(history []llm.Message, max int) []llm.Message {
	if max <= 0 || len(history) <= max {
		return history
	}

	start := len(history) - (max - 1)
	for start > 1 && !safeCutPoint(history[start]) {
		start--
	}
	if start <= 1 {
		return history
	}

	trimmed := make([]llm.Message, 0, 1+len(history)-start)
	trimmed = append(trimmed, history[0])
	trimmed = append(trimmed, history[start:]...)
	return trimmed
}

// safeCutPoint reports whether the window may start at this message.
// A user message holding tool results belongs to the assistant message
// before it and must not become the window head.
func safeCutPoint(m llm.Message) bool {
	return m.Role == llm.RoleUser && !m.HasToolResults()
}

// CheckPaired verifies the tool_use/tool_result pairing invariant over
// a history: every assistant message with tool_use blocks must be
// immediately followed by a user message whose tool_result blocks
// match the issued ids exactly, in issuance order. A violation is a
// programming error in trimming or assembly, not a runtime condition.
func CheckPaired(history []llm.Message) error {
	for i, m := range history {
		if m.Role != llm.RoleAssistant {
			continue
		}
		uses := m.ToolUses()
		if len(uses) == 0 {
			continue
		}

		if i+1 >= len(history) {
			return fmt.Errorf("message %d: tool_use blocks with no following message", i)
		}
		next := history[i+1]
		if next.Role != llm.RoleUser {
			return fmt.Errorf("message %d: tool results expected in a user message, got %s", i+1, next.Role)
		}

		var results []llm.ContentBlock
		for _, b := range next.Blocks {
			if b.Type == llm.BlockToolResult {
				results = append(results, b)
			}
		}
		if len(results) != len(uses) {
			return fmt.Errorf("message %d: %d tool_use blocks but %d tool_result blocks", i, len(uses), len(results))
		}
		for j, use := range uses {
			if results[j].ToolUseID != use.ID {
				return fmt.Errorf("message %d: result %d has id %q, want %q", i, j, results[j].ToolUseID, use.ID)
			}
		}
	}
	return nil
}
