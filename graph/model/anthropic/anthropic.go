// Package anthropic adapts the Anthropic Messages API to model.ChatModel.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/nodegraph-go/graph/model"
)

// DefaultModel is used when no model name is given.
const DefaultModel = "claude-3-5-haiku-20241022"

// DefaultMaxTokens caps the length of a reply.
const DefaultMaxTokens = 1024

// ChatModel implements model.ChatModel for Claude.
//
//	m, err := anthropic.New(os.Getenv("ANTHROPIC_API_KEY"), "")
//	out, err := m.Chat(ctx, []model.Message{{Role: model.RoleUser, Content: "hi"}})
type ChatModel struct {
	client    *anthropic.Client
	modelName string
	maxTokens int64
}

// New returns a ChatModel. Extra request options are passed to the SDK
// client, which is how tests point it at a local server.
func New(apiKey, modelName string, opts ...option.RequestOption) (*ChatModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: %w", model.ErrNoAPIKey)
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	client := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)
	return &ChatModel{client: &client, modelName: modelName, maxTokens: DefaultMaxTokens}, nil
}

// Chat implements model.ChatModel. System messages are sent through the
// dedicated system parameter.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}
	system, conversation := model.SplitSystem(messages)
	if len(conversation) == 0 {
		return model.ChatOut{}, model.ErrEmptyConversation
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(m.modelName),
		MaxTokens: m.maxTokens,
		Messages:  make([]anthropic.MessageParam, 0, len(conversation)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	for _, msg := range conversation {
		block := anthropic.NewTextBlock(msg.Content)
		if msg.Role == model.RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
		}
	}

	message, err := m.client.Messages.New(ctx, params)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("anthropic: %w", err)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return model.ChatOut{
		Text:  sb.String(),
		Model: string(message.Model),
		Usage: model.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}, nil
}
