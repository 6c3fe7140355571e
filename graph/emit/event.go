package emit

// Event names. Msg carries one of these; they are also the "event" field of
// the outbound duplex-channel message.
const (
	// MsgExecutionStarted opens a run.
	MsgExecutionStarted = "execution_started"

	// MsgStatusUpdate reports status transitions for one or more nodes.
	// Meta["updates"] holds a []StatusUpdate.
	MsgStatusUpdate = "status_update"

	// MsgSingleNodeUpdate carries the serialized node after it finished.
	// Meta["node"] holds the node wire form.
	MsgSingleNodeUpdate = "single_node_update"

	// MsgFullNodeUpdate carries the serialized node after a streaming step.
	MsgFullNodeUpdate = "full_node_update"

	// MsgExecutionFinished closes a run. Meta["cancelled"] is true when the
	// run stopped early.
	MsgExecutionFinished = "execution_finished"

	// MsgError reports a run-level or protocol failure. Meta["message"]
	// holds the description.
	MsgError = "error"
)

// StatusUpdate is one entry of a status_update event.
type StatusUpdate struct {
	NodeID string `json:"node_id"`
	Status string `json:"status"`
}

// Event is one entry of the event stream produced by a run.
//
// Events describe run progress to the caller (over the duplex channel) and
// to observability backends (logs, traces, test buffers).
type Event struct {
	// RunID identifies the run that emitted this event.
	RunID string

	// Step is the 1-based position of NodeID in the execution order.
	// Zero for run-level events.
	Step int

	// NodeID identifies the node the event is about. Empty for run-level
	// events and for status updates covering several nodes.
	NodeID string

	// Msg is the event name, one of the Msg* constants.
	Msg string

	// Meta holds the event payload. Common keys:
	//   - "updates": []StatusUpdate
	//   - "node": serialized node
	//   - "status": node status after the event
	//   - "progress": streaming progress in [0, 1]
	//   - "error": error text for failed nodes
	//   - "cancelled": bool on execution_finished
	//   - "duration_ms": node execution time
	Meta map[string]any
}

// Message returns the outbound duplex-channel form of the event: an object
// with an "event" key plus the caller-facing Meta keys.
func (e Event) Message() map[string]any {
	out := map[string]any{"event": e.Msg}
	if e.Msg == MsgError && e.NodeID != "" {
		out["node_id"] = e.NodeID
	}
	for _, k := range []string{"updates", "node", "cancelled", "message"} {
		if v, ok := e.Meta[k]; ok {
			out[k] = v
		}
	}
	return out
}
