package nodes

import (
	"context"
	"errors"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/data"
)

// numberInput is an Int-or-Float port with a slider range.
func numberInput(label string, def data.Payload) graph.InputField {
	return graph.In(label, data.ClassInt, data.ClassFloat).
		WithDefault(def).
		WithMeta("min", -100).
		WithMeta("max", 100)
}

// arithmetic keeps integer results for integer operands and falls back to
// float otherwise.
func arithmetic(class, description string, defA, defB func() data.Payload,
	intOp func(a, b int64) int64, floatOp func(a, b float64) float64) graph.Func {
	return graph.Func{
		Def: func() graph.Definition {
			return graph.Definition{
				ClassName:   class,
				Description: description,
				Inputs:      []graph.InputField{numberInput("a", defA()), numberInput("b", defB())},
				Outputs:     []graph.OutputField{graph.Out("result")},
			}
		},
		Fn: func(_ context.Context, _ *graph.ExecContext, args []data.Payload) ([]data.Payload, error) {
			if x, y, ok := bothInt(args[0], args[1]); ok {
				return []data.Payload{data.NewInt(intOp(x, y))}, nil
			}
			a, err := numberArg(args, 0, "a")
			if err != nil {
				return nil, err
			}
			b, err := numberArg(args, 1, "b")
			if err != nil {
				return nil, err
			}
			return []data.Payload{data.NewFloat(floatOp(a, b))}, nil
		},
	}
}

func intZero() data.Payload   { return data.NewInt(0) }
func intOne() data.Payload    { return data.NewInt(1) }
func floatZero() data.Payload { return data.NewFloat(0) }

// Add sums two numbers.
var Add = arithmetic("Add", "Adds two numbers", intZero, intZero,
	func(a, b int64) int64 { return a + b },
	func(a, b float64) float64 { return a + b })

// Subtract computes a - b.
var Subtract = arithmetic("Subtract", "Subtracts b from a", floatZero, floatZero,
	func(a, b int64) int64 { return a - b },
	func(a, b float64) float64 { return a - b })

// Multiply computes a * b.
var Multiply = arithmetic("Multiply", "Multiplies two numbers", intZero, intOne,
	func(a, b int64) int64 { return a * b },
	func(a, b float64) float64 { return a * b })

// ErrDivideByZero is returned by Divide for a zero divisor.
var ErrDivideByZero = errors.New("cannot divide by zero")

// Divide always produces a float.
var Divide = graph.Func{
	Def: func() graph.Definition {
		return graph.Definition{
			ClassName:   "Divide",
			Description: "Divides a by b",
			Inputs: []graph.InputField{
				numberInput("a", data.NewFloat(0)),
				numberInput("b", data.NewFloat(1)),
			},
			Outputs: []graph.OutputField{graph.Out("result")},
		}
	},
	Fn: func(_ context.Context, _ *graph.ExecContext, args []data.Payload) ([]data.Payload, error) {
		a, err := numberArg(args, 0, "a")
		if err != nil {
			return nil, err
		}
		b, err := numberArg(args, 1, "b")
		if err != nil {
			return nil, err
		}
		if b == 0 {
			return nil, ErrDivideByZero
		}
		return []data.Payload{data.NewFloat(a / b)}, nil
	},
}

// ErrSplitRange is returned when t is outside [0, 1].
var ErrSplitRange = errors.New("t must be between 0 and 1")

func splitInputs() []graph.InputField {
	return []graph.InputField{
		numberInput("number", data.NewInt(1)),
		graph.In("t", data.ClassFloat).
			WithDefault(data.NewFloat(0.5)).
			WithMeta("min", 0).
			WithMeta("max", 1).
			WithMeta("step", 0.01),
	}
}

func splitOutputs() []graph.OutputField {
	return []graph.OutputField{graph.Out("split_t"), graph.Out("split_1_minus_t")}
}

func splitArgs(args []data.Payload) (n, t float64, err error) {
	if n, err = numberArg(args, 0, "number"); err != nil {
		return 0, 0, err
	}
	if t, err = numberArg(args, 1, "t"); err != nil {
		return 0, 0, err
	}
	if t < 0 || t > 1 {
		return 0, 0, ErrSplitRange
	}
	return n, t, nil
}

// Split divides a number into the parts t*n and (1-t)*n.
var Split = graph.Func{
	Def: func() graph.Definition {
		return graph.Definition{
			ClassName:   "Split",
			Description: "Splits a number into two parts weighted by t",
			Inputs:      splitInputs(),
			Outputs:     splitOutputs(),
		}
	},
	Fn: func(_ context.Context, _ *graph.ExecContext, args []data.Payload) ([]data.Payload, error) {
		n, t, err := splitArgs(args)
		if err != nil {
			return nil, err
		}
		return []data.Payload{data.NewFloat(n * t), data.NewFloat(n * (1 - t))}, nil
	},
}

func registerMath(r *graph.Registry, _ Deps) error {
	if err := r.Register(NamespaceMath, "Basic", Add); err != nil {
		return err
	}
	if err := r.Register(NamespaceMath, "Basic", Subtract); err != nil {
		return err
	}
	if err := r.Register(NamespaceMath, "Basic", Multiply); err != nil {
		return err
	}
	if err := r.Register(NamespaceMath, "Basic", Divide); err != nil {
		return err
	}
	return r.Register(NamespaceMath, "Special", Split)
}
