package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/nodegraph-go/graph/data"
	"github.com/dshills/nodegraph-go/graph/emit"
)

// Engine executes submitted graphs against a Registry.
//
// An Engine runs at most one graph at a time; hosts serving several
// connections create one Engine per connection and share the Registry and
// the Serializer (and thereby the large-object cache) between them.
//
// Example:
//
//	reg, _ := graph.NewRegistry(nodes.RegisterAll)
//	engine, _ := graph.New(reg, graph.WithEmitter(emit.NewLogEmitter(logger, slog.LevelInfo)))
//	def, _ := graph.ParseGraph(body)
//	res, err := engine.Run(ctx, def)
type Engine struct {
	registry *Registry
	opts     Options

	running   atomic.Bool
	reserved  atomic.Bool
	cancelled atomic.Bool
}

// RunResult summarizes a finished run.
type RunResult struct {
	RunID string

	// Nodes holds every instantiated node by id.
	Nodes map[string]*Node

	// Order is the execution order computed by Schedule.
	Order []string

	// Skipped lists nodes that were submitted but never executed because
	// they failed to instantiate or sit on a cycle.
	Skipped []string

	// Cancelled is true when the run stopped before executing every
	// scheduled node.
	Cancelled bool
}

// New returns an Engine that instantiates nodes from registry.
func New(registry *Registry, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, &EngineError{Message: "registry is required", Code: "MISSING_REGISTRY"}
	}
	cfg := &engineConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, &EngineError{Message: err.Error(), Code: "INVALID_OPTION"}
		}
	}
	if cfg.opts.Emitter == nil {
		cfg.opts.Emitter = emit.NewNullEmitter()
	}
	if cfg.opts.Serializer == nil {
		cfg.opts.Serializer = data.NewSerializer(nil, nil)
	}
	return &Engine{registry: registry, opts: cfg.opts}, nil
}

// Reserve claims the Engine for the next call to Run and clears the
// cancellation flag. A Cancel issued between Reserve and Run applies to that
// run. Hosts that start Run on another goroutine reserve first so that an
// immediate cancel is not lost.
func (e *Engine) Reserve() error {
	if !e.running.CompareAndSwap(false, true) {
		return errRunInProgress()
	}
	e.cancelled.Store(false)
	e.reserved.Store(true)
	return nil
}

func errRunInProgress() *EngineError {
	return &EngineError{Message: "execution already in progress", Code: "RUN_IN_PROGRESS"}
}

// Cancel asks the active run to stop. The flag is checked before each node
// starts and between streaming steps; the node in flight is not interrupted.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)
}

// Running reports whether a run is in progress.
func (e *Engine) Running() bool {
	return e.running.Load()
}

func (e *Engine) stopRequested(ctx context.Context) bool {
	return e.cancelled.Load() || ctx.Err() != nil
}

// Run executes def to completion or cancellation.
//
// Node failures never make Run fail: they are recorded on the node and
// reported through the emitter. Run returns an error only when the run
// cannot start (another run is active) or when ctx was cancelled, in which
// case the partial RunResult is returned alongside ctx.Err().
func (e *Engine) Run(ctx context.Context, def *GraphDefinition) (*RunResult, error) {
	if !e.reserved.CompareAndSwap(true, false) {
		if !e.running.CompareAndSwap(false, true) {
			return nil, errRunInProgress()
		}
		e.cancelled.Store(false)
	}
	release := sync.OnceFunc(func() { e.running.Store(false) })
	defer release()
	if def == nil {
		return nil, &EngineError{Message: "graph definition is required", Code: "INVALID_GRAPH"}
	}

	res := &RunResult{RunID: uuid.NewString(), Nodes: make(map[string]*Node, len(def.Nodes))}
	logger := e.opts.Logger
	if logger == nil {
		logger = LoggerFrom(ctx)
	}
	logger = logger.With("run_id", res.RunID)
	ctx = ContextWithLogger(ctx, logger)

	e.opts.Metrics.RunStarted()
	defer func() { e.opts.Metrics.RunFinished(res.Cancelled) }()

	e.emit(emit.Event{RunID: res.RunID, Msg: emit.MsgExecutionStarted})

	ids := e.instantiate(ctx, res, def)
	e.connect(res.Nodes, def.Edges)

	res.Order = Schedule(ids, def.Edges)
	if excluded := Excluded(ids, res.Order); len(excluded) > 0 {
		logger.Warn("nodes excluded from execution order", "reason", "cycle", "node_ids", excluded)
		e.opts.Metrics.IncrementSkipped("cycle", len(excluded))
		res.Skipped = append(res.Skipped, excluded...)
	}

	pending := make([]emit.StatusUpdate, len(res.Order))
	for i, id := range res.Order {
		res.Nodes[id].Status = StatusPending
		pending[i] = emit.StatusUpdate{NodeID: id, Status: string(StatusPending)}
	}
	e.emit(emit.Event{RunID: res.RunID, Msg: emit.MsgStatusUpdate, Meta: map[string]any{"updates": pending}})

	for i, id := range res.Order {
		if e.stopRequested(ctx) {
			res.Cancelled = true
			break
		}
		n := res.Nodes[id]
		e.execute(ctx, res.RunID, i+1, n)
		e.propagate(ctx, n, def.Edges, res.Nodes)
	}
	if e.stopRequested(ctx) {
		res.Cancelled = true
	}

	if res.Cancelled {
		logger.Info("run cancelled")
	}
	// Released before the final event so a caller reacting to it can start
	// the next run.
	release()
	e.emit(emit.Event{RunID: res.RunID, Msg: emit.MsgExecutionFinished, Meta: map[string]any{"cancelled": res.Cancelled}})
	if res.Cancelled && ctx.Err() != nil {
		return res, ctx.Err()
	}
	return res, nil
}

// instantiate builds every submitted node in submission order and returns
// the ids of the nodes that could be built. Failures skip the node.
func (e *Engine) instantiate(ctx context.Context, res *RunResult, def *GraphDefinition) []string {
	logger := LoggerFrom(ctx)
	ids := make([]string, 0, len(def.Nodes))
	fed := make(map[string][]string)
	for _, edge := range def.Edges {
		fed[string(edge.Target)] = append(fed[string(edge.Target)], edge.TargetHandle)
	}
	for _, raw := range def.Nodes {
		n, err := e.registry.Instantiate(ctx, raw, e.opts.Serializer, fed[nodeIDOf(raw)]...)
		if err != nil {
			id := nodeIDOf(raw)
			logger.Warn("skipping node", "node_id", id, "error", err)
			e.opts.Metrics.IncrementSkipped("instantiate", 1)
			e.emit(emit.Event{RunID: res.RunID, NodeID: id, Msg: emit.MsgError, Meta: map[string]any{"message": err.Error(), "error": err.Error()}})
			if id != "" {
				res.Skipped = append(res.Skipped, id)
			}
			continue
		}
		if _, dup := res.Nodes[n.ID]; dup {
			logger.Warn("skipping duplicate node id", "node_id", n.ID)
			continue
		}
		res.Nodes[n.ID] = n
		ids = append(ids, n.ID)
	}
	return ids
}

// connect clears every input that has an incoming edge: the edge source is
// authoritative over a value stored in the submitted graph.
func (e *Engine) connect(nodes map[string]*Node, edges []Edge) {
	for _, edge := range edges {
		if tgt, ok := nodes[string(edge.Target)]; ok {
			if in := tgt.inputByHandle(edge.TargetHandle); in != nil {
				in.Data = nil
				in.IsEdgeConnected = true
			}
		}
		if src, ok := nodes[string(edge.Source)]; ok {
			if out := src.outputByHandle(edge.SourceHandle); out != nil {
				out.IsEdgeConnected = true
			}
		}
	}
}

// execute runs one node and records the outcome on it.
func (e *Engine) execute(ctx context.Context, runID string, step int, n *Node) {
	logger := LoggerFrom(ctx).With("node_id", n.ID, "class", n.ClassName)

	n.clearOutputs()
	n.Progress = 0
	n.TerminalOutput = ""
	n.ErrorOutput = ""
	n.Status = StatusExecuting
	if n.Streaming {
		n.Status = StatusStreaming
	}
	e.emitStatus(runID, step, n)

	var stdout, stderr strings.Builder
	ec := &ExecContext{NodeID: n.ID, Stdout: &stdout, Stderr: &stderr, Logger: logger}

	start := time.Now()
	var err error
	switch impl := n.impl.(type) {
	case StreamingNode:
		err = e.runStream(ctx, runID, step, n, impl, ec, &stdout, &stderr)
	case SyncNode:
		err = runSync(ctx, n, impl, ec)
		n.TerminalOutput = stdout.String()
		n.ErrorOutput = stderr.String()
	default:
		err = &NodeError{Message: n.ClassName + " has no exec entry point", Code: "EXEC_FAILED"}
	}
	elapsed := time.Since(start)

	meta := map[string]any{"duration_ms": elapsed.Milliseconds()}
	if err != nil {
		ne := asNodeError(n.ID, err)
		n.clearOutputs()
		n.Status = StatusError
		n.ErrorOutput += ne.Report()
		meta["error"] = ne.Message
		logger.Warn("node failed", "code", ne.Code, "error", ne.Message)
	} else {
		n.Status = StatusEvaluated
		n.Progress = 1
	}
	meta["status"] = string(n.Status)
	e.opts.Metrics.RecordNodeLatency(n.ClassName, elapsed, n.Status)

	e.emitNode(ctx, emit.MsgSingleNodeUpdate, runID, step, n, meta)
	e.emitStatus(runID, step, n)
}

func runSync(ctx context.Context, n *Node, impl SyncNode, ec *ExecContext) (err error) {
	defer recoverNode(&err)

	outs, err := impl.Exec(ctx, ec, n.args())
	if err != nil {
		return err
	}
	if len(outs) != len(n.Outputs) {
		return &NodeError{
			Message: fmt.Sprintf("%s returned %d outputs, declared %d", n.ClassName, len(outs), len(n.Outputs)),
			Code:    "OUTPUT_ARITY",
			Cause:   ErrOutputArity,
		}
	}
	for i, p := range outs {
		n.Outputs[i].Data = p
	}
	return nil
}

// runStream pulls steps until the sequence ends, fails or the run is
// cancelled. Returning from the range loop stops the node's iterator.
func (e *Engine) runStream(ctx context.Context, runID string, step int, n *Node, impl StreamingNode, ec *ExecContext, stdout, stderr *strings.Builder) (err error) {
	defer recoverNode(&err)
	defer func() {
		n.TerminalOutput += stdout.String()
		n.ErrorOutput += stderr.String()
	}()

	for st, serr := range impl.ExecStream(ctx, ec, n.args()) {
		if serr != nil {
			return serr
		}
		if len(st.Outputs) > len(n.Outputs) {
			return &NodeError{
				Message: fmt.Sprintf("%s step returned %d outputs, declared %d", n.ClassName, len(st.Outputs), len(n.Outputs)),
				Code:    "OUTPUT_ARITY",
				Cause:   ErrOutputArity,
			}
		}
		n.Progress = st.Progress
		for i, p := range st.Outputs {
			n.Outputs[i].Data = p
		}
		n.TerminalOutput += stdout.String()
		n.ErrorOutput += stderr.String()
		stdout.Reset()
		stderr.Reset()

		e.opts.Metrics.IncrementStreamSteps(n.ClassName)
		e.emitNode(ctx, emit.MsgFullNodeUpdate, runID, step, n, map[string]any{
			"status":   string(n.Status),
			"progress": n.Progress,
		})

		if e.stopRequested(ctx) {
			return &NodeError{Message: "cancelled during streaming", Code: "CANCELLED", Cause: ErrCancelled}
		}
	}
	return nil
}

// recoverNode converts a panic in node code into a NodeError carrying the
// stack. It must be deferred directly.
func recoverNode(err *error) {
	if r := recover(); r != nil {
		*err = &NodeError{
			Message: fmt.Sprintf("panic: %v", r),
			Code:    "PANIC",
			Stack:   string(debug.Stack()),
		}
	}
}

func asNodeError(nodeID string, err error) *NodeError {
	var ne *NodeError
	if errors.As(err, &ne) {
		if ne.NodeID == "" {
			ne.NodeID = nodeID
		}
		return ne
	}
	return &NodeError{NodeID: nodeID, Message: err.Error(), Code: "EXEC_FAILED", Cause: err}
}

// propagate copies the outputs of n across its outgoing edges.
func (e *Engine) propagate(ctx context.Context, n *Node, edges []Edge, nodes map[string]*Node) {
	logger := LoggerFrom(ctx)
	for _, edge := range edges {
		if string(edge.Source) != n.ID {
			continue
		}
		tgt, ok := nodes[string(edge.Target)]
		if !ok {
			e.edgeWarning(logger, edge, "target node not instantiated")
			continue
		}
		out := n.outputByHandle(edge.SourceHandle)
		if out == nil {
			e.edgeWarning(logger, edge, "source port not found")
			continue
		}
		in := tgt.inputByHandle(edge.TargetHandle)
		if in == nil {
			e.edgeWarning(logger, edge, "target port not found")
			continue
		}
		in.Data = out.Data
	}
}

func (e *Engine) edgeWarning(logger *slog.Logger, edge Edge, reason string) {
	logger.Warn("edge skipped", "reason", reason,
		"source", string(edge.Source), "source_handle", edge.SourceHandle,
		"target", string(edge.Target), "target_handle", edge.TargetHandle)
	e.opts.Metrics.IncrementEdgeWarnings()
}

func (e *Engine) emit(ev emit.Event) {
	e.opts.Emitter.Emit(ev)
}

func (e *Engine) emitStatus(runID string, step int, n *Node) {
	e.emit(emit.Event{
		RunID:  runID,
		Step:   step,
		NodeID: n.ID,
		Msg:    emit.MsgStatusUpdate,
		Meta: map[string]any{
			"status":  string(n.Status),
			"updates": []emit.StatusUpdate{{NodeID: n.ID, Status: string(n.Status)}},
		},
	})
}

// emitNode sends the serialized node. A node that cannot be serialized is
// reported with an error event instead.
func (e *Engine) emitNode(ctx context.Context, msg, runID string, step int, n *Node, meta map[string]any) {
	raw, err := EncodeNode(ctx, e.opts.Serializer, n)
	if err != nil {
		LoggerFrom(ctx).Error("serialize node", "node_id", n.ID, "error", err)
		e.emit(emit.Event{RunID: runID, Step: step, NodeID: n.ID, Msg: emit.MsgError, Meta: map[string]any{
			"message": "serialize node: " + err.Error(),
			"error":   err.Error(),
		}})
		return
	}
	meta["node"] = raw
	e.emit(emit.Event{RunID: runID, Step: step, NodeID: n.ID, Msg: msg, Meta: meta})
}
