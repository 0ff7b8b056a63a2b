// Package agent implements the tool-calling orchestration loop: the state
// machine that alternates between model invocations and tool executions
// until the model produces a final answer or a safety limit intervenes.
package agent

import (
	"encoding/json"
	"time"

	"github.com/bernardlabs/bernard/llm"
)

// MessageKind discriminates between message variants.
type MessageKind string

const (
	KindHuman      MessageKind = "human"
	KindAssistant  MessageKind = "assistant"
	KindToolResult MessageKind = "tool_result"
)

// ToolCallRequest is a structured request from the model naming a tool and
// supplying arguments.
type ToolCallRequest struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is a single entry in the conversation transcript.
type Message struct {
	Kind       MessageKind        `json:"kind"`
	Timestamp  time.Time          `json:"timestamp"`
	Human      *HumanMessage      `json:"human,omitempty"`
	Assistant  *AssistantMessage  `json:"assistant,omitempty"`
	ToolResult *ToolResultMessage `json:"tool_result,omitempty"`
}

// HumanMessage holds user input.
type HumanMessage struct {
	Content string `json:"content"`
}

// AssistantMessage holds the model's response. Empty ToolCalls signals a
// final answer.
type AssistantMessage struct {
	Content   string            `json:"content"`
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`
	Usage     llm.Usage         `json:"usage"`
}

// ToolResultMessage correlates to exactly one ToolCallRequest.
type ToolResultMessage struct {
	CallID   string `json:"call_id"`
	ToolName string `json:"tool_name"`
	Content  string `json:"content"`
	IsError  bool   `json:"is_error"`
}

// NewHumanMessage creates a Message wrapping user input.
func NewHumanMessage(content string) Message {
	return Message{
		Kind:      KindHuman,
		Timestamp: time.Now(),
		Human:     &HumanMessage{Content: content},
	}
}

// NewAssistantMessage creates a Message wrapping a model response.
func NewAssistantMessage(content string, calls []ToolCallRequest, usage llm.Usage) Message {
	return Message{
		Kind:      KindAssistant,
		Timestamp: time.Now(),
		Assistant: &AssistantMessage{Content: content, ToolCalls: calls, Usage: usage},
	}
}

// NewToolResultMessage creates a Message wrapping one tool result.
func NewToolResultMessage(result ToolResultMessage) Message {
	return Message{
		Kind:       KindToolResult,
		Timestamp:  time.Now(),
		ToolResult: &result,
	}
}

// TextContent returns the text of a message regardless of its kind.
func (m Message) TextContent() string {
	switch m.Kind {
	case KindHuman:
		if m.Human != nil {
			return m.Human.Content
		}
	case KindAssistant:
		if m.Assistant != nil {
			return m.Assistant.Content
		}
	case KindToolResult:
		if m.ToolResult != nil {
			return m.ToolResult.Content
		}
	}
	return ""
}

// ToLLMMessages converts the transcript into the wire message sequence.
func ToLLMMessages(transcript []Message) []llm.Message {
	var messages []llm.Message
	for _, m := range transcript {
		switch m.Kind {
		case KindHuman:
			if m.Human != nil {
				messages = append(messages, llm.UserMessage(m.Human.Content))
			}
		case KindAssistant:
			if m.Assistant != nil {
				calls := make([]llm.ToolCall, len(m.Assistant.ToolCalls))
				for i, tc := range m.Assistant.ToolCalls {
					calls[i] = llm.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
				}
				messages = append(messages, llm.AssistantMessage(m.Assistant.Content, calls...))
			}
		case KindToolResult:
			if m.ToolResult != nil {
				messages = append(messages, llm.ToolResultMessage(
					m.ToolResult.CallID,
					m.ToolResult.ToolName,
					m.ToolResult.Content,
					m.ToolResult.IsError,
				))
			}
		}
	}
	return messages
}
