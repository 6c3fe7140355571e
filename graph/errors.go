// Package graph provides the node-graph execution engine.
//
// A caller submits a GraphDefinition (serialized nodes plus edges). The
// Engine instantiates every node through a Registry, orders them with
// Schedule (Kahn's algorithm, FIFO tie-break by submission order), runs
// them one at a time and copies each output payload across its outgoing
// edges. Progress is reported as emit.Event values.
//
// Node failures never abort a run: the failing node is marked with
// StatusError, its outputs stay nil and downstream nodes receive nil on
// the corresponding inputs.
package graph

import (
	"errors"
	"fmt"
)

// ErrNodeTypeNotFound is returned when a (namespace, class) pair is not
// registered.
var ErrNodeTypeNotFound = errors.New("node type not found")

// ErrOutputArity is returned when a node produces a different number of
// outputs than it declares.
var ErrOutputArity = errors.New("output count does not match declared outputs")

// ErrCancelled is recorded on a streaming node interrupted by cancellation.
var ErrCancelled = errors.New("execution cancelled")

// EngineError represents a run-level failure: the run could not start.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// NodeError represents a failure of one node. It is recorded on the node
// and reported through events; it never propagates out of Engine.Run.
type NodeError struct {
	// NodeID identifies which node failed.
	NodeID string

	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code: NODE_TYPE_NOT_FOUND,
	// DECODE_FAILED, EXEC_FAILED, PANIC, OUTPUT_ARITY or CANCELLED.
	Code string

	// Stack holds the goroutine stack for recovered panics.
	Stack string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *NodeError) Unwrap() error {
	return e.Cause
}

// Report renders the error as recorded in a node's error_output.
func (e *NodeError) Report() string {
	s := fmt.Sprintf("Error: %s", e.Message)
	if e.Stack != "" {
		s += "\n\nTraceback:\n" + e.Stack
	}
	return s
}
