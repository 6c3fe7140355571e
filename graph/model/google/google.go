// Package google adapts the Gemini API to model.ChatModel.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/nodegraph-go/graph/model"
)

// DefaultModel is used when no model name is given.
const DefaultModel = "gemini-1.5-flash"

// ErrNoCandidates is returned when the API answers without a candidate.
var ErrNoCandidates = errors.New("google: response has no candidates")

// SafetyFilterError reports a reply blocked by Gemini's safety filters.
type SafetyFilterError struct {
	Categories []string
}

func (e *SafetyFilterError) Error() string {
	return "google: response blocked by safety filter: " + strings.Join(e.Categories, ", ")
}

// generateFunc sends one turn with history and returns the raw response.
type generateFunc func(ctx context.Context, system string, history []*genai.Content, last string) (*genai.GenerateContentResponse, error)

// ChatModel implements model.ChatModel for Gemini. Close releases the
// underlying client.
type ChatModel struct {
	modelName string
	client    *genai.Client
	generate  generateFunc
}

// New dials the Gemini API.
func New(ctx context.Context, apiKey, modelName string, opts ...option.ClientOption) (*ChatModel, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google: %w", model.ErrNoAPIKey)
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	m := &ChatModel{modelName: modelName, client: client}
	m.generate = m.send
	return m, nil
}

func (m *ChatModel) send(ctx context.Context, system string, history []*genai.Content, last string) (*genai.GenerateContentResponse, error) {
	gm := m.client.GenerativeModel(m.modelName)
	if system != "" {
		gm.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}
	cs := gm.StartChat()
	cs.History = history
	return cs.SendMessage(ctx, genai.Text(last))
}

// Close releases the client.
func (m *ChatModel) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}

// Chat implements model.ChatModel. The last message is sent as the new turn
// and the rest become chat history.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}
	system, conversation := model.SplitSystem(messages)
	if len(conversation) == 0 {
		return model.ChatOut{}, model.ErrEmptyConversation
	}

	history := make([]*genai.Content, 0, len(conversation)-1)
	for _, msg := range conversation[:len(conversation)-1] {
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}

	resp, err := m.generate(ctx, system, history, conversation[len(conversation)-1].Content)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("google: %w", err)
	}
	return m.convert(resp)
}

func (m *ChatModel) convert(resp *genai.GenerateContentResponse) (model.ChatOut, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return model.ChatOut{}, ErrNoCandidates
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		serr := &SafetyFilterError{}
		for _, r := range candidate.SafetyRatings {
			if r.Blocked {
				serr.Categories = append(serr.Categories, r.Category.String())
			}
		}
		return model.ChatOut{}, serr
	}

	out := model.ChatOut{Model: m.modelName}
	if candidate.Content != nil {
		var sb strings.Builder
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		out.Text = sb.String()
	}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out, nil
}
