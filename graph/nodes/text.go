package nodes

import (
	"context"
	"strings"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/data"
)

func textInput(label string) graph.InputField {
	return graph.In(label, data.ClassString).WithDefault(data.NewString(""))
}

// Join concatenates a and b with separator between them.
var Join = graph.Func{
	Def: func() graph.Definition {
		return graph.Definition{
			ClassName:   "Join",
			Description: "Joins two strings with a separator",
			Inputs:      []graph.InputField{textInput("separator"), textInput("a"), textInput("b")},
			Outputs:     []graph.OutputField{graph.Out("join_result")},
		}
	},
	Fn: func(_ context.Context, _ *graph.ExecContext, args []data.Payload) ([]data.Payload, error) {
		var parts [3]string
		for i, label := range []string{"separator", "a", "b"} {
			s, err := stringArg(args, i, label)
			if err != nil {
				return nil, err
			}
			parts[i] = s
		}
		return []data.Payload{data.NewString(parts[1] + parts[0] + parts[2])}, nil
	},
}

// Replace substitutes every occurrence of old in text with new.
var Replace = graph.Func{
	Def: func() graph.Definition {
		return graph.Definition{
			ClassName:   "Replace",
			Description: "Replaces every occurrence of old with new",
			Inputs:      []graph.InputField{textInput("text"), textInput("old"), textInput("new")},
			Outputs:     []graph.OutputField{graph.Out("replace_result")},
		}
	},
	Fn: func(_ context.Context, _ *graph.ExecContext, args []data.Payload) ([]data.Payload, error) {
		var parts [3]string
		for i, label := range []string{"text", "old", "new"} {
			s, err := stringArg(args, i, label)
			if err != nil {
				return nil, err
			}
			parts[i] = s
		}
		return []data.Payload{data.NewString(strings.ReplaceAll(parts[0], parts[1], parts[2]))}, nil
	},
}

func registerText(r *graph.Registry, _ Deps) error {
	if err := r.Register(NamespaceText, "Basic", Join); err != nil {
		return err
	}
	return r.Register(NamespaceText, "Basic", Replace)
}
