package graph

import (
	"encoding/json"

	"github.com/dshills/nodegraph-go/graph/data"
)

// Node is an instance of a registered node type within one graph.
//
// Its port schema comes from the type's Definition and does not change;
// only the Data of each port changes during a run.
type Node struct {
	ID             string
	ClassName      string
	DisplayName    string
	Namespace      string
	Group          string
	Description    string
	DefinitionPath string
	Streaming      bool

	Status         Status
	TerminalOutput string
	ErrorOutput    string
	Progress       float64

	Inputs  []InputField
	Outputs []OutputField

	// extra holds submitted top-level keys the engine does not interpret
	// (position, type, ...). They are echoed back on serialization.
	extra map[string]json.RawMessage

	// extraData holds unknown keys of the submitted "data" object.
	extraData map[string]json.RawMessage

	impl NodeType
}

// Type returns the node implementation.
func (n *Node) Type() NodeType {
	return n.impl
}

// Input returns the input port with the given label.
func (n *Node) Input(label string) *InputField {
	for i := range n.Inputs {
		if n.Inputs[i].Label == label {
			return &n.Inputs[i]
		}
	}
	return nil
}

// Output returns the output port with the given label.
func (n *Node) Output(label string) *OutputField {
	for i := range n.Outputs {
		if n.Outputs[i].Label == label {
			return &n.Outputs[i]
		}
	}
	return nil
}

// inputByHandle resolves an edge target handle to an input port, matching
// either the positional index or the label.
func (n *Node) inputByHandle(handle string) *InputField {
	key := handleKey(handle)
	for i := range n.Inputs {
		if portMatches(i, n.Inputs[i].Label, key) {
			return &n.Inputs[i]
		}
	}
	return nil
}

// outputByHandle resolves an edge source handle to an output port.
func (n *Node) outputByHandle(handle string) *OutputField {
	key := handleKey(handle)
	for i := range n.Outputs {
		if portMatches(i, n.Outputs[i].Label, key) {
			return &n.Outputs[i]
		}
	}
	return nil
}

// args collects the input payloads in declared order.
func (n *Node) args() []data.Payload {
	out := make([]data.Payload, len(n.Inputs))
	for i, in := range n.Inputs {
		out[i] = in.Data
	}
	return out
}

// clearOutputs resets every output to nil.
func (n *Node) clearOutputs() {
	for i := range n.Outputs {
		n.Outputs[i].Data = nil
	}
}

// OutputValues returns the output payloads in declared order.
func (n *Node) OutputValues() []data.Payload {
	out := make([]data.Payload, len(n.Outputs))
	for i, o := range n.Outputs {
		out[i] = o.Data
	}
	return out
}
