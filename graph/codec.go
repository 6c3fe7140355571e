package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dshills/nodegraph-go/graph/data"
)

// ID is a node or edge identifier. On the wire it may be a string or a
// number; it is always handled as a string.
type ID string

// UnmarshalJSON accepts a JSON string or number.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Edge connects an output port of Source to an input port of Target.
//
// Handles have the form "<node id>:<role>:<index or label>".
type Edge struct {
	ID           ID     `json:"id,omitempty"`
	Source       ID     `json:"source"`
	SourceHandle string `json:"sourceHandle"`
	Target       ID     `json:"target"`
	TargetHandle string `json:"targetHandle"`
}

// GraphDefinition is a submitted graph. Nodes are kept in their serialized
// form until instantiated by a Registry.
type GraphDefinition struct {
	Nodes []json.RawMessage `json:"nodes"`
	Edges []Edge            `json:"edges"`
}

type inputOut struct {
	InputField
	Data *data.Wire `json:"data"`
}

type outputOut struct {
	OutputField
	Data *data.Wire `json:"data"`
}

type inputIn struct {
	InputField
	Data json.RawMessage `json:"data"`
}

type outputIn struct {
	OutputField
	Data json.RawMessage `json:"data"`
}

type nodeData[I, O any] struct {
	DisplayName    string   `json:"display_name"`
	ClassName      string   `json:"class_name"`
	Namespace      string   `json:"namespace"`
	Group          string   `json:"group"`
	Status         Status   `json:"status"`
	TerminalOutput string   `json:"terminal_output"`
	ErrorOutput    string   `json:"error_output"`
	Description    string   `json:"description"`
	Inputs         []I      `json:"inputs"`
	Outputs        []O      `json:"outputs"`
	Streaming      bool     `json:"streaming"`
	DefinitionPath string   `json:"definition_path"`
	Progress       *float64 `json:"progress,omitempty"`
}

type nodeOut struct {
	ID   string                         `json:"id"`
	Data nodeData[inputOut, outputOut] `json:"data"`
}

// EncodeNode serializes n. Port payloads go through s, so large values are
// moved to the cache and replaced by previews. Keys submitted with the node
// that the engine does not interpret are echoed back.
func EncodeNode(ctx context.Context, s *data.Serializer, n *Node) (json.RawMessage, error) {
	d := nodeData[inputOut, outputOut]{
		DisplayName:    n.DisplayName,
		ClassName:      n.ClassName,
		Namespace:      n.Namespace,
		Group:          n.Group,
		Status:         n.Status,
		TerminalOutput: n.TerminalOutput,
		ErrorOutput:    n.ErrorOutput,
		Description:    n.Description,
		Inputs:         make([]inputOut, len(n.Inputs)),
		Outputs:        make([]outputOut, len(n.Outputs)),
		Streaming:      n.Streaming,
		DefinitionPath: n.DefinitionPath,
	}
	if n.Streaming {
		p := n.Progress
		d.Progress = &p
	}
	for i, in := range n.Inputs {
		w, err := s.Encode(ctx, in.Data)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", in.Label, err)
		}
		d.Inputs[i] = inputOut{InputField: in, Data: w}
	}
	for i, out := range n.Outputs {
		w, err := s.Encode(ctx, out.Data)
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", out.Label, err)
		}
		d.Outputs[i] = outputOut{OutputField: out, Data: w}
	}

	dataRaw, err := mergeExtra(d, n.extraData)
	if err != nil {
		return nil, err
	}
	return mergeExtra(struct {
		ID   string          `json:"id"`
		Data json.RawMessage `json:"data"`
	}{n.ID, dataRaw}, n.extra)
}

// mergeExtra marshals v and adds the keys of extra that v does not set.
func mergeExtra(v any, extra map[string]json.RawMessage) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return b, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, raw := range extra {
		if _, ok := m[k]; !ok {
			m[k] = raw
		}
	}
	return json.Marshal(m)
}

// knownDataKeys are the keys of a node's "data" object interpreted here.
var knownDataKeys = map[string]bool{
	"display_name": true, "class_name": true, "namespace": true, "group": true,
	"status": true, "terminal_output": true, "error_output": true,
	"description": true, "inputs": true, "outputs": true, "streaming": true,
	"definition_path": true, "progress": true,
}

// Instantiate builds a node from its serialized form.
//
// The port schema always comes from the registered definition. Port values
// and is_edge_connected flags supplied by the caller are kept, matched by
// label; values are decoded through s and checked against the port's allowed
// types. A failure to decode an input fails the whole node with a NodeError
// (DECODE_FAILED) wrapping the data.DecodeError.
//
// connected lists the target handles of edges that feed this node. Those
// inputs are marked edge-connected and their stored value is not decoded,
// since the edge replaces it. An output value that no longer decodes is
// dropped: outputs are recomputed when the node runs.
func (r *Registry) Instantiate(ctx context.Context, raw json.RawMessage, s *data.Serializer, connected ...string) (*Node, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, &NodeError{Message: "malformed node: " + err.Error(), Code: "DECODE_FAILED", Cause: err}
	}
	var id ID
	if rawID, ok := top["id"]; ok {
		if err := json.Unmarshal(rawID, &id); err != nil {
			return nil, &NodeError{Message: "malformed node id: " + err.Error(), Code: "DECODE_FAILED", Cause: err}
		}
	}
	if id == "" {
		return nil, &NodeError{Message: "node has no id", Code: "DECODE_FAILED"}
	}
	nodeID := string(id)

	var dataFields map[string]json.RawMessage
	if err := json.Unmarshal(top["data"], &dataFields); err != nil || dataFields == nil {
		return nil, &NodeError{NodeID: nodeID, Message: "node has no data object", Code: "DECODE_FAILED", Cause: err}
	}
	var in nodeData[inputIn, outputIn]
	if err := json.Unmarshal(top["data"], &in); err != nil {
		return nil, &NodeError{NodeID: nodeID, Message: "malformed node data: " + err.Error(), Code: "DECODE_FAILED", Cause: err}
	}

	reg, err := r.Lookup(in.Namespace, in.ClassName)
	if err != nil {
		return nil, &NodeError{NodeID: nodeID, Message: err.Error(), Code: "NODE_TYPE_NOT_FOUND", Cause: err}
	}
	n := reg.instantiate(nodeID)
	fed := make(map[string]bool, len(connected))
	for _, h := range connected {
		if port := n.inputByHandle(h); port != nil {
			fed[port.Label] = true
		}
	}

	if in.DisplayName != "" {
		n.DisplayName = in.DisplayName
	}
	switch in.Status {
	case StatusNotEvaluated, StatusPending, StatusExecuting, StatusStreaming, StatusEvaluated, StatusError:
		n.Status = in.Status
	}
	n.TerminalOutput = in.TerminalOutput
	n.ErrorOutput = in.ErrorOutput
	if in.Progress != nil {
		n.Progress = *in.Progress
	}

	for _, sub := range in.Inputs {
		port := n.Input(sub.Label)
		if port == nil {
			continue
		}
		port.IsEdgeConnected = sub.IsEdgeConnected
		if fed[port.Label] {
			port.IsEdgeConnected = true
			port.Data = nil
			continue
		}
		if sub.Data == nil {
			continue
		}
		p, err := decodePort(ctx, s, sub.Label, sub.Data, port.AllowedTypes)
		if err != nil {
			return nil, portError(nodeID, err)
		}
		port.Data = p
	}
	for _, sub := range in.Outputs {
		port := n.Output(sub.Label)
		if port == nil {
			continue
		}
		port.IsEdgeConnected = sub.IsEdgeConnected
		if sub.ID != "" {
			port.ID = sub.ID
		}
		if sub.Data == nil {
			continue
		}
		p, err := decodePort(ctx, s, sub.Label, sub.Data, nil)
		if err != nil {
			LoggerFrom(ctx).Debug("dropping stale output", "node_id", nodeID, "port", sub.Label, "error", err)
			continue
		}
		port.Data = p
	}

	for k, v := range dataFields {
		if !knownDataKeys[k] {
			if n.extraData == nil {
				n.extraData = make(map[string]json.RawMessage)
			}
			n.extraData[k] = v
		}
	}
	for k, v := range top {
		if k != "id" && k != "data" {
			if n.extra == nil {
				n.extra = make(map[string]json.RawMessage)
			}
			n.extra[k] = v
		}
	}
	return n, nil
}

func decodePort(ctx context.Context, s *data.Serializer, label string, raw json.RawMessage, allowed []string) (data.Payload, error) {
	p, err := s.Decode(ctx, raw)
	if err != nil {
		var de *data.DecodeError
		if errors.As(err, &de) && de.Field == "" {
			de.Field = label
			return nil, de
		}
		return nil, &data.DecodeError{Field: label, Cause: err}
	}
	if !data.Allowed(allowed, p) {
		return nil, &data.DecodeError{
			Field:         label,
			Discriminator: p.ClassName(),
			Cause:         fmt.Errorf("%w: port accepts %v", data.ErrWrongType, allowed),
		}
	}
	return p, nil
}

func portError(nodeID string, err error) *NodeError {
	return &NodeError{NodeID: nodeID, Message: err.Error(), Code: "DECODE_FAILED", Cause: err}
}

// nodeIDOf extracts the id of a serialized node without instantiating it.
func nodeIDOf(raw json.RawMessage) string {
	var v struct {
		ID ID `json:"id"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return string(v.ID)
}

// ParseGraph decodes a submitted graph definition.
func ParseGraph(raw []byte) (*GraphDefinition, error) {
	var g GraphDefinition
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, &EngineError{Message: "malformed graph definition: " + err.Error(), Code: "INVALID_GRAPH"}
	}
	seen := make(map[string]bool, len(g.Nodes))
	for i, n := range g.Nodes {
		id := nodeIDOf(n)
		if id == "" {
			return nil, &EngineError{Message: "node " + strconv.Itoa(i) + " has no id", Code: "INVALID_GRAPH"}
		}
		if seen[id] {
			return nil, &EngineError{Message: "duplicate node id " + id, Code: "INVALID_GRAPH"}
		}
		seen[id] = true
	}
	return &g, nil
}
