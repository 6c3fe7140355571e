package nodes

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/data"
)

// pause waits d or until ctx is done.
func pause(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// StreamingAdd emits the running step number ten times before the sum.
func StreamingAdd(delay time.Duration) graph.StreamFunc {
	return graph.StreamFunc{
		Def: func() graph.Definition {
			return graph.Definition{
				ClassName:   "TestStreamingAdd",
				Description: "Test node for streaming that adds two numbers",
				Inputs:      []graph.InputField{numberInput("a", data.NewInt(0)), numberInput("b", data.NewInt(0))},
				Outputs:     []graph.OutputField{graph.Out("result")},
			}
		},
		Fn: func(ctx context.Context, ec *graph.ExecContext, args []data.Payload) iter.Seq2[graph.Step, error] {
			return func(yield func(graph.Step, error) bool) {
				const steps = 10
				for i := 0; i < steps; i++ {
					if err := pause(ctx, delay); err != nil {
						yield(graph.Step{}, err)
						return
					}
					fmt.Fprintf(ec.Stdout, "this status update came from inside the node: %d\n", i)
					step := graph.Step{
						Progress: float64(i) / steps,
						Outputs:  []data.Payload{data.NewInt(int64(i))},
					}
					if !yield(step, nil) {
						return
					}
				}

				var sum data.Payload
				if x, y, ok := bothInt(args[0], args[1]); ok {
					sum = data.NewInt(x + y)
				} else {
					a, err := numberArg(args, 0, "a")
					if err != nil {
						yield(graph.Step{}, err)
						return
					}
					b, err := numberArg(args, 1, "b")
					if err != nil {
						yield(graph.Step{}, err)
						return
					}
					sum = data.NewFloat(a + b)
				}
				yield(graph.Step{Progress: 1, Outputs: []data.Payload{sum}}, nil)
			}
		},
	}
}

// StreamingSplit reports progress five times before producing the split.
func StreamingSplit(delay time.Duration) graph.StreamFunc {
	return graph.StreamFunc{
		Def: func() graph.Definition {
			return graph.Definition{
				ClassName:   "TestStreamingSplit",
				Description: "Test node for streaming that splits a number into two numbers",
				Inputs:      splitInputs(),
				Outputs:     splitOutputs(),
			}
		},
		Fn: func(ctx context.Context, _ *graph.ExecContext, args []data.Payload) iter.Seq2[graph.Step, error] {
			return func(yield func(graph.Step, error) bool) {
				n, t, err := splitArgs(args)
				if err != nil {
					yield(graph.Step{}, err)
					return
				}
				const steps = 5
				for i := 0; i < steps; i++ {
					if err := pause(ctx, delay); err != nil {
						yield(graph.Step{}, err)
						return
					}
					if !yield(graph.Step{Progress: float64(i) / steps}, nil) {
						return
					}
				}
				yield(graph.Step{
					Progress: 1,
					Outputs:  []data.Payload{data.NewFloat(n * t), data.NewFloat(n * (1 - t))},
				}, nil)
			}
		},
	}
}

func listInput(label string, items ...data.Payload) graph.InputField {
	return graph.In(label, data.ClassList).WithDefault(data.NewList(items...))
}

// AddList concatenates two lists.
var AddList = graph.Func{
	Def: func() graph.Definition {
		a := listInput("a",
			data.NewInt(0), data.NewInt(1),
			data.NewList(data.NewInt(2), data.NewInt(3)))
		a.UserLabel = "A"
		return graph.Definition{
			ClassName:   "AddList",
			Description: "Concatenates two lists",
			Inputs: []graph.InputField{
				a,
				listInput("b", data.NewInt(3), data.NewInt(4), data.NewInt(5)),
			},
			Outputs: []graph.OutputField{graph.Out("result")},
		}
	},
	Fn: func(_ context.Context, _ *graph.ExecContext, args []data.Payload) ([]data.Payload, error) {
		out := data.NewList()
		for i, label := range []string{"a", "b"} {
			l, ok := args[i].(*data.List)
			if !ok {
				return nil, missing(label)
			}
			out.Append(l.Items...)
		}
		return []data.Payload{out}, nil
	},
}

// ListOfTwo repeats its input twice.
var ListOfTwo = graph.Func{
	Def: func() graph.Definition {
		return graph.Definition{
			ClassName:   "ListOfTwo",
			Description: "Builds a list holding the input twice",
			Inputs:      []graph.InputField{numberInput("a", data.NewFloat(0))},
			Outputs:     []graph.OutputField{graph.Out("result")},
		}
	},
	Fn: func(_ context.Context, _ *graph.ExecContext, args []data.Payload) ([]data.Payload, error) {
		switch v := args[0].(type) {
		case *data.Int:
			return []data.Payload{data.NewList(data.NewInt(v.Value), data.NewInt(v.Value))}, nil
		case nil:
			return nil, missing("a")
		}
		a, err := numberArg(args, 0, "a")
		if err != nil {
			return nil, err
		}
		return []data.Payload{data.NewList(data.NewFloat(a), data.NewFloat(a))}, nil
	},
}

func registerExperimental(r *graph.Registry, deps Deps) error {
	if err := r.Register(NamespaceExperimental, "Basic", StreamingAdd(deps.StepDelay)); err != nil {
		return err
	}
	if err := r.Register(NamespaceExperimental, "Special", StreamingSplit(deps.StepDelay)); err != nil {
		return err
	}
	if err := r.Register(NamespaceExperimental, "Basic", AddList); err != nil {
		return err
	}
	return r.Register(NamespaceExperimental, "Experimental", ListOfTwo)
}
