package nodes

import (
	"context"
	"fmt"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/data"
	"github.com/dshills/nodegraph-go/graph/model"
)

// Prompt sends a prompt to a chat model. Its usage output is a JSONData
// object with input_tokens, output_tokens, model and cost_usd.
func Prompt(chat model.ChatModel, costs *model.CostTracker) graph.Func {
	return graph.Func{
		Def: func() graph.Definition {
			prompt := graph.In("prompt", data.ClassString).WithDefault(data.NewString("")).WithMeta("multiline", true)
			return graph.Definition{
				ClassName:   "Prompt",
				Description: "Sends a prompt to a language model",
				Inputs: []graph.InputField{
					graph.In("system", data.ClassString).WithDefault(data.NewString("")),
					prompt,
				},
				Outputs: []graph.OutputField{graph.Out("response"), graph.Out("usage")},
			}
		},
		Fn: func(ctx context.Context, ec *graph.ExecContext, args []data.Payload) ([]data.Payload, error) {
			system, err := stringArg(args, 0, "system")
			if err != nil {
				return nil, err
			}
			prompt, err := stringArg(args, 1, "prompt")
			if err != nil {
				return nil, err
			}
			if prompt == "" {
				return nil, fmt.Errorf("prompt is empty")
			}

			var messages []model.Message
			if system != "" {
				messages = append(messages, model.Message{Role: model.RoleSystem, Content: system})
			}
			messages = append(messages, model.Message{Role: model.RoleUser, Content: prompt})

			out, err := chat.Chat(ctx, messages)
			if err != nil {
				return nil, err
			}

			var cost float64
			if costs != nil {
				cost = costs.Record(ec.NodeID, out)
			}
			fmt.Fprintf(ec.Stdout, "%s: %d input tokens, %d output tokens\n",
				out.Model, out.Usage.InputTokens, out.Usage.OutputTokens)

			usage := data.NewJSON(map[string]any{
				"model":         out.Model,
				"input_tokens":  out.Usage.InputTokens,
				"output_tokens": out.Usage.OutputTokens,
				"cost_usd":      cost,
			})
			return []data.Payload{data.NewString(out.Text), usage}, nil
		},
	}
}

func registerLLM(r *graph.Registry, deps Deps) error {
	if deps.Chat == nil {
		return nil
	}
	return r.Register(NamespaceLLM, "Models", Prompt(deps.Chat, deps.Costs))
}
