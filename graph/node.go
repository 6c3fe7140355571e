package graph

import (
	"context"
	"io"
	"iter"
	"log/slog"

	"github.com/dshills/nodegraph-go/graph/data"
)

// Status is the execution state of a node within a run.
//
//	not evaluated -> pending -> executing|streaming -> evaluated|error
type Status string

const (
	StatusNotEvaluated Status = "not evaluated"
	StatusPending      Status = "pending"
	StatusExecuting    Status = "executing"
	StatusStreaming    Status = "streaming"
	StatusEvaluated    Status = "evaluated"
	StatusError        Status = "error"
)

// Definition is the declared schema of a node type.
//
// Definition is called for every instantiation and must return fresh port
// templates (including fresh default payloads) each time.
type Definition struct {
	// ClassName is the type name used to look the node up. It must be
	// unique within a namespace.
	ClassName string

	// DisplayName defaults to ClassName.
	DisplayName string

	Description string
	Inputs      []InputField
	Outputs     []OutputField
}

// NodeType is implemented by every node implementation. A NodeType must
// also implement exactly one of SyncNode or StreamingNode.
type NodeType interface {
	Definition() Definition
}

// SyncNode runs to completion and returns one payload per declared output,
// in declared order.
type SyncNode interface {
	NodeType
	Exec(ctx context.Context, ec *ExecContext, args []data.Payload) ([]data.Payload, error)
}

// StreamingNode yields a finite sequence of progress steps. The engine
// stops pulling steps (ending the range loop) when the run is cancelled.
type StreamingNode interface {
	NodeType
	ExecStream(ctx context.Context, ec *ExecContext, args []data.Payload) iter.Seq2[Step, error]
}

// Step is one item of a streaming execution.
type Step struct {
	// Progress is the completed fraction in [0, 1].
	Progress float64

	// Outputs, when non-nil, overwrite the node outputs positionally. It may
	// be shorter than the declared outputs.
	Outputs []data.Payload
}

// ExecContext carries per-call facilities to a node.
type ExecContext struct {
	// NodeID is the id of the executing node instance.
	NodeID string

	// Stdout and Stderr collect diagnostic text. The engine copies them into
	// the node's terminal_output and error_output.
	Stdout io.Writer
	Stderr io.Writer

	// Logger is the run logger annotated with the node id.
	Logger *slog.Logger
}

// Func adapts a function to SyncNode.
//
// Example:
//
//	double := graph.Func{
//	    Def: func() graph.Definition { return graph.Definition{ClassName: "Double", ...} },
//	    Fn: func(ctx context.Context, ec *graph.ExecContext, args []data.Payload) ([]data.Payload, error) {
//	        n, _ := data.Number(args[0])
//	        return []data.Payload{data.NewFloat(2 * n)}, nil
//	    },
//	}
type Func struct {
	Def func() Definition
	Fn  func(ctx context.Context, ec *ExecContext, args []data.Payload) ([]data.Payload, error)
}

// Definition implements NodeType.
func (f Func) Definition() Definition { return f.Def() }

// Exec implements SyncNode.
func (f Func) Exec(ctx context.Context, ec *ExecContext, args []data.Payload) ([]data.Payload, error) {
	return f.Fn(ctx, ec, args)
}

// StreamFunc adapts a function to StreamingNode.
type StreamFunc struct {
	Def func() Definition
	Fn  func(ctx context.Context, ec *ExecContext, args []data.Payload) iter.Seq2[Step, error]
}

// Definition implements NodeType.
func (f StreamFunc) Definition() Definition { return f.Def() }

// ExecStream implements StreamingNode.
func (f StreamFunc) ExecStream(ctx context.Context, ec *ExecContext, args []data.Payload) iter.Seq2[Step, error] {
	return f.Fn(ctx, ec, args)
}

// IsStreaming reports whether t is a StreamingNode.
func IsStreaming(t NodeType) bool {
	_, ok := t.(StreamingNode)
	return ok
}
