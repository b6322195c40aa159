// Package convo holds the process-wide conversation history and the LLM
// tool-call graph that drives it. It implements dispatch.Agent, so
// internal/dispatch never imports this package — cmd/relaybot wires the two
// together.
package convo

import (
	"github.com/countlessbugs/relaybot/internal/dispatch"
	"github.com/countlessbugs/relaybot/internal/llm"
)

// Role identifies who produced a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in the conversation history: a user turn, an
// assistant turn (optionally carrying tool calls), a tool result keyed to a
// prior tool call, or a system note (prompt, time stamp, summary wrapper).
type Message struct {
	Role       Role
	Content    string
	Blocks     []llm.ContentBlock
	ToolCalls  []llm.ToolCall
	ToolCallID string
}

func convertBlocks(blocks []dispatch.ContentBlock) []llm.ContentBlock {
	if len(blocks) == 0 {
		return nil
	}
	out := make([]llm.ContentBlock, len(blocks))
	for i, b := range blocks {
		out[i] = llm.ContentBlock{Type: b.Type, ImageURL: b.ImageURL}
	}
	return out
}

func toLLMMessages(msgs []Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llm.Message{
			Role:       llm.Role(m.Role),
			Content:    m.Content,
			Blocks:     m.Blocks,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		}
	}
	return out
}
