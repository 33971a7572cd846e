package domain

import (
	"strings"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape used by the gateway
// and provider integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest carries the full conversation context for one chat call. Model
// and Temperature are optional; an empty model means "use the configured one".
type ChatRequest struct {
	Messages    []ChatMessage `json:"messages"`
	Model       string        `json:"model,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type ChatResponse struct {
	ID        string      `json:"id"`
	Message   ChatMessage `json:"message"`
	Model     string      `json:"model"`
	CreatedAt time.Time   `json:"createdAt"`
}

type StreamEventType string

const (
	StreamDelta StreamEventType = "delta"
	StreamDone  StreamEventType = "done"
	StreamError StreamEventType = "error"
)

// ChatStreamEvent is one frame of a streaming chat call. A stream is zero or
// more delta events followed by exactly one done or error event.
type ChatStreamEvent struct {
	Type  StreamEventType `json:"type"`
	Delta string          `json:"delta,omitempty"`
	Error string          `json:"error,omitempty"`
}

func DeltaEvent(text string) ChatStreamEvent {
	return ChatStreamEvent{Type: StreamDelta, Delta: text}
}

func DoneEvent() ChatStreamEvent {
	return ChatStreamEvent{Type: StreamDone}
}

func ErrorEvent(msg string) ChatStreamEvent {
	return ChatStreamEvent{Type: StreamError, Error: msg}
}

func (e ChatStreamEvent) IsTerminal() bool {
	return e.Type == StreamDone || e.Type == StreamError
}

type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type ModelsResponse struct {
	Provider      Provider    `json:"provider"`
	SelectedModel string      `json:"selectedModel"`
	Models        []ModelInfo `json:"models"`
}

// SplitSystem separates system-role messages from the conversation. The
// returned system text is prompt followed by every system message in order,
// newline-joined and trimmed; turns holds the remaining messages in a new
// slice.
func SplitSystem(prompt string, messages []ChatMessage) (system string, turns []ChatMessage) {
	var parts []string
	if p := strings.TrimSpace(prompt); p != "" {
		parts = append(parts, p)
	}
	turns = make([]ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			if c := strings.TrimSpace(m.Content); c != "" {
				parts = append(parts, c)
			}
			continue
		}
		turns = append(turns, m)
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), turns
}

// CoalesceSystem returns a new message slice with every system message folded
// into a single leading system message (omitted when empty).
func CoalesceSystem(prompt string, messages []ChatMessage) []ChatMessage {
	system, turns := SplitSystem(prompt, messages)
	if system == "" {
		return turns
	}
	out := make([]ChatMessage, 0, len(turns)+1)
	out = append(out, ChatMessage{Role: RoleSystem, Content: system})
	return append(out, turns...)
}
