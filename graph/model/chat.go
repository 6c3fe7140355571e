// Package model defines the chat-model abstraction used by the llm nodes
// and a provider-independent cost tracker.
//
// Provider adapters live in the anthropic, openai and google sub-packages.
// MockChatModel serves tests.
package model

import (
	"context"
	"errors"
)

// ChatModel sends a conversation to a language model and returns its reply.
//
// Implementations must honour ctx cancellation and be safe for concurrent
// use.
type ChatModel interface {
	Chat(ctx context.Context, messages []Message) (ChatOut, error)
}

// Message is one conversation turn.
type Message struct {
	Role    string
	Content string
}

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Usage reports the tokens consumed by one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ChatOut is the model reply.
type ChatOut struct {
	Text  string
	Model string
	Usage Usage
}

// ErrNoAPIKey is returned by adapters constructed without credentials.
var ErrNoAPIKey = errors.New("api key is required")

// ErrEmptyConversation is returned when no user or assistant message is
// supplied.
var ErrEmptyConversation = errors.New("conversation has no messages")

// SplitSystem separates system messages from the conversation. Several
// system messages are joined with a blank line.
func SplitSystem(messages []Message) (string, []Message) {
	var system string
	var rest []Message
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		rest = append(rest, msg)
	}
	return system, rest
}
