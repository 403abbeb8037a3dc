// Package llm defines the chat completion capability used by the AI
// re-analysis action and adapts the OpenAI and Anthropic SDKs to it.
package llm

import (
	"context"
	"errors"
)

// Role of a chat message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation
type Message struct {
	Role    Role
	Content string
}

// Options override the adapter defaults for one call. Zero values keep the defaults.
type Options struct {
	Model       string
	Temperature *float64
	MaxTokens   int64
}

// ChatCompleter turns a conversation into the assistant's reply text
type ChatCompleter interface {
	ChatComplete(ctx context.Context, messages []Message, opts Options) (string, error)
}

// ErrEmptyCompletion is returned when the provider answers without any text
var ErrEmptyCompletion = errors.New("completion returned no content")

// Func adapts a plain function to ChatCompleter
type Func func(ctx context.Context, messages []Message, opts Options) (string, error)

func (f Func) ChatComplete(ctx context.Context, messages []Message, opts Options) (string, error) {
	return f(ctx, messages, opts)
}

// splitSystem separates system prompts from the rest of the conversation
func splitSystem(messages []Message) ([]string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
