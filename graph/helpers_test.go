package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"testing"

	"github.com/dshills/nodegraph-go/graph/data"
	"github.com/dshills/nodegraph-go/graph/emit"
)

const testNS = "test"

func numIn(label string, def float64) InputField {
	return In(label, data.ClassFloat, data.ClassInt).WithDefault(data.NewFloat(def))
}

func num(p data.Payload) float64 {
	n, _ := data.Number(p)
	return n
}

func binaryOp(class string, op func(a, b float64) float64) Func {
	return Func{
		Def: func() Definition {
			return Definition{
				ClassName: class,
				Inputs:    []InputField{numIn("a", 0), numIn("b", 0)},
				Outputs:   []OutputField{Out("result")},
			}
		},
		Fn: func(_ context.Context, _ *ExecContext, args []data.Payload) ([]data.Payload, error) {
			return []data.Payload{data.NewFloat(op(num(args[0]), num(args[1])))}, nil
		},
	}
}

var splitNode = Func{
	Def: func() Definition {
		return Definition{
			ClassName: "Split",
			Inputs:    []InputField{numIn("number", 0), numIn("t", 0.5)},
			Outputs:   []OutputField{Out("split_t"), Out("split_1_minus_t")},
		}
	},
	Fn: func(_ context.Context, _ *ExecContext, args []data.Payload) ([]data.Payload, error) {
		n, t := num(args[0]), num(args[1])
		return []data.Payload{data.NewFloat(n * t), data.NewFloat(n * (1 - t))}, nil
	},
}

var failNode = Func{
	Def: func() Definition {
		return Definition{ClassName: "Fail", Inputs: []InputField{In("in")}, Outputs: []OutputField{Out("out")}}
	},
	Fn: func(context.Context, *ExecContext, []data.Payload) ([]data.Payload, error) {
		return nil, errors.New("always fails")
	},
}

var panicNode = Func{
	Def: func() Definition {
		return Definition{ClassName: "Panic", Outputs: []OutputField{Out("out")}}
	},
	Fn: func(context.Context, *ExecContext, []data.Payload) ([]data.Payload, error) {
		panic("boom")
	},
}

var arityNode = Func{
	Def: func() Definition {
		return Definition{ClassName: "Arity", Outputs: []OutputField{Out("x"), Out("y")}}
	},
	Fn: func(context.Context, *ExecContext, []data.Payload) ([]data.Payload, error) {
		return []data.Payload{data.NewInt(1)}, nil
	},
}

// describeNode reports whether its input was nil.
var describeNode = Func{
	Def: func() Definition {
		return Definition{ClassName: "Describe", Inputs: []InputField{In("in")}, Outputs: []OutputField{Out("out")}}
	},
	Fn: func(_ context.Context, ec *ExecContext, args []data.Payload) ([]data.Payload, error) {
		if args[0] == nil {
			fmt.Fprint(ec.Stdout, "input is nil")
			return []data.Payload{data.NewString("nil")}, nil
		}
		return []data.Payload{data.NewString(args[0].ClassName())}, nil
	},
}

var sourceNode = Func{
	Def: func() Definition {
		return Definition{ClassName: "Source", Outputs: []OutputField{Out("out")}}
	},
	Fn: func(context.Context, *ExecContext, []data.Payload) ([]data.Payload, error) {
		return []data.Payload{data.NewInt(1)}, nil
	},
}

var streamAddNode = StreamFunc{
	Def: func() Definition {
		return Definition{
			ClassName: "StreamAdd",
			Inputs:    []InputField{numIn("a", 0), numIn("b", 0)},
			Outputs:   []OutputField{Out("result")},
		}
	},
	Fn: func(_ context.Context, ec *ExecContext, args []data.Payload) iter.Seq2[Step, error] {
		return func(yield func(Step, error) bool) {
			const steps = 10
			for i := 1; i <= steps; i++ {
				fmt.Fprintf(ec.Stdout, "step %d\n", i)
				st := Step{Progress: float64(i) / steps}
				if i == steps {
					st.Outputs = []data.Payload{data.NewFloat(num(args[0]) + num(args[1]))}
				}
				if !yield(st, nil) {
					return
				}
			}
		}
	},
}

// hookNode runs fn when executed; used to cancel or block mid-run.
func hookNode(class string, fn func()) Func {
	return Func{
		Def: func() Definition {
			return Definition{ClassName: class, Outputs: []OutputField{Out("out")}}
		},
		Fn: func(context.Context, *ExecContext, []data.Payload) ([]data.Payload, error) {
			fn()
			return []data.Payload{data.NewInt(1)}, nil
		},
	}
}

func testLoader(r *Registry) error {
	for _, t := range []NodeType{
		binaryOp("Add", func(a, b float64) float64 { return a + b }),
		binaryOp("Subtract", func(a, b float64) float64 { return a - b }),
		splitNode, failNode, panicNode, arityNode, describeNode, sourceNode, streamAddNode,
	} {
		if err := r.Register(testNS, "Test", t); err != nil {
			return err
		}
	}
	return nil
}

func newTestRegistry(t *testing.T, extra ...NodeType) *Registry {
	t.Helper()
	loaders := []Loader{testLoader}
	if len(extra) > 0 {
		loaders = append(loaders, func(r *Registry) error {
			for _, nt := range extra {
				if err := r.Register(testNS, "Extra", nt); err != nil {
					return err
				}
			}
			return nil
		})
	}
	reg, err := NewRegistry(loaders...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func newTestEngine(t *testing.T, reg *Registry, opts ...Option) (*Engine, *emit.BufferedEmitter) {
	t.Helper()
	buf := emit.NewBufferedEmitter()
	e, err := New(reg, append([]Option{WithEmitter(buf)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, buf
}

// nodeJSON builds a submitted node. inputs maps labels to float values.
func nodeJSON(id, class string, inputs map[string]float64) json.RawMessage {
	var ins []map[string]any
	for label, v := range inputs {
		ins = append(ins, map[string]any{
			"label": label,
			"data":  map[string]any{"class_name": data.ClassFloat, "dtype": "float", "payload": v},
		})
	}
	b, _ := json.Marshal(map[string]any{
		"id":       id,
		"position": map[string]any{"x": 10, "y": 20},
		"data": map[string]any{
			"class_name": class,
			"namespace":  testNS,
			"inputs":     ins,
		},
	})
	return b
}

func edge(src, srcPort, dst, dstPort string) Edge {
	return Edge{
		Source:       ID(src),
		SourceHandle: src + ":output:" + srcPort,
		Target:       ID(dst),
		TargetHandle: dst + ":input:" + dstPort,
	}
}

func graphOf(edges []Edge, nodes ...json.RawMessage) *GraphDefinition {
	return &GraphDefinition{Nodes: nodes, Edges: edges}
}

func msgs(events []emit.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Msg
	}
	return out
}
