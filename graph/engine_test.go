package graph

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dshills/nodegraph-go/graph/data"
	"github.com/dshills/nodegraph-go/graph/emit"
)

func linearMathGraph() *GraphDefinition {
	return graphOf(
		[]Edge{
			edge("add1", "result", "sub", "b"),
			edge("add2", "result", "sub", "a"),
			edge("sub", "result", "split", "number"),
		},
		nodeJSON("add1", "Add", map[string]float64{"a": 5, "b": 5}),
		nodeJSON("add2", "Add", map[string]float64{"a": 10, "b": 10}),
		nodeJSON("sub", "Subtract", nil),
		nodeJSON("split", "Split", map[string]float64{"t": 0.25}),
	)
}

func TestEngine_New(t *testing.T) {
	t.Run("nil registry", func(t *testing.T) {
		_, err := New(nil)
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != "MISSING_REGISTRY" {
			t.Fatalf("expected MISSING_REGISTRY, got %v", err)
		}
	})

	t.Run("invalid option", func(t *testing.T) {
		_, err := New(newTestRegistry(t), WithSerializer(nil))
		var ee *EngineError
		if !errors.As(err, &ee) || ee.Code != "INVALID_OPTION" {
			t.Fatalf("expected INVALID_OPTION, got %v", err)
		}
	})
}

func TestEngine_LinearMath(t *testing.T) {
	e, _ := newTestEngine(t, newTestRegistry(t))

	res, err := e.Run(context.Background(), linearMathGraph())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	wantOrder := []string{"add1", "add2", "sub", "split"}
	if !reflect.DeepEqual(res.Order, wantOrder) {
		t.Errorf("expected order %v, got %v", wantOrder, res.Order)
	}
	for id, n := range res.Nodes {
		if n.Status != StatusEvaluated {
			t.Errorf("node %s: expected evaluated, got %s (%s)", id, n.Status, n.ErrorOutput)
		}
	}
	if got := num(res.Nodes["sub"].Output("result").Data); got != 10 {
		t.Errorf("expected subtract result 10, got %v", got)
	}
	split := res.Nodes["split"]
	if got := num(split.Output("split_t").Data); got != 2.5 {
		t.Errorf("expected split_t 2.5, got %v", got)
	}
	if got := num(split.Output("split_1_minus_t").Data); got != 7.5 {
		t.Errorf("expected split_1_minus_t 7.5, got %v", got)
	}
}

func TestEngine_Determinism(t *testing.T) {
	e, _ := newTestEngine(t, newTestRegistry(t))

	var first []float64
	for i := 0; i < 3; i++ {
		res, err := e.Run(context.Background(), linearMathGraph())
		if err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
		var got []float64
		for _, id := range res.Order {
			for _, p := range res.Nodes[id].OutputValues() {
				got = append(got, num(p))
			}
		}
		if first == nil {
			first = got
			continue
		}
		if !reflect.DeepEqual(first, got) {
			t.Fatalf("run %d: expected %v, got %v", i, first, got)
		}
	}
}

func TestEngine_ErrorIsolation(t *testing.T) {
	e, buf := newTestEngine(t, newTestRegistry(t))

	def := graphOf(
		[]Edge{edge("a", "out", "b", "in"), edge("b", "out", "c", "in")},
		nodeJSON("a", "Source", nil),
		nodeJSON("b", "Fail", nil),
		nodeJSON("c", "Describe", nil),
	)
	res, err := e.Run(context.Background(), def)
	if err != nil {
		t.Fatalf("Run must not fail on node errors: %v", err)
	}

	a, b, c := res.Nodes["a"], res.Nodes["b"], res.Nodes["c"]
	if a.Status != StatusEvaluated {
		t.Errorf("expected a evaluated, got %s", a.Status)
	}
	if b.Status != StatusError {
		t.Errorf("expected b error, got %s", b.Status)
	}
	if !strings.HasPrefix(b.ErrorOutput, "Error: always fails") {
		t.Errorf("unexpected b error_output %q", b.ErrorOutput)
	}
	if b.Output("out").Data != nil {
		t.Error("expected failed node outputs to be nil")
	}
	if c.Status != StatusEvaluated {
		t.Errorf("expected c evaluated, got %s", c.Status)
	}
	if c.Input("in").Data != nil {
		t.Error("expected c input to be nil")
	}
	if c.TerminalOutput != "input is nil" {
		t.Errorf("expected captured stdout, got %q", c.TerminalOutput)
	}

	updates := buf.GetHistoryWithFilter(res.RunID, emit.HistoryFilter{NodeID: "b", Msg: emit.MsgSingleNodeUpdate})
	if len(updates) != 1 || updates[0].Meta["error"] != "always fails" {
		t.Errorf("expected one failed node update, got %+v", updates)
	}
}

func TestEngine_EventOrder(t *testing.T) {
	e, buf := newTestEngine(t, newTestRegistry(t))

	res, err := e.Run(context.Background(), graphOf(nil, nodeJSON("n1", "Add", map[string]float64{"a": 4, "b": 6})))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	history := buf.GetHistory(res.RunID)
	want := []string{
		emit.MsgExecutionStarted,
		emit.MsgStatusUpdate,
		emit.MsgStatusUpdate,
		emit.MsgSingleNodeUpdate,
		emit.MsgStatusUpdate,
		emit.MsgExecutionFinished,
	}
	if got := msgs(history); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}

	pending := history[1].Meta["updates"].([]emit.StatusUpdate)
	if len(pending) != 1 || pending[0].Status != string(StatusPending) {
		t.Errorf("unexpected pending updates %+v", pending)
	}
	if history[2].Meta["status"] != string(StatusExecuting) {
		t.Errorf("expected executing, got %v", history[2].Meta["status"])
	}
	if history[4].Meta["status"] != string(StatusEvaluated) {
		t.Errorf("expected evaluated, got %v", history[4].Meta["status"])
	}
	if history[5].Meta["cancelled"] != false {
		t.Errorf("expected cancelled=false, got %v", history[5].Meta["cancelled"])
	}

	var node struct {
		ID   string `json:"id"`
		Data struct {
			Status  string `json:"status"`
			Outputs []struct {
				Label string `json:"label"`
				Data  struct {
					Payload float64 `json:"payload"`
				} `json:"data"`
			} `json:"outputs"`
		} `json:"data"`
		Position map[string]any `json:"position"`
	}
	if err := json.Unmarshal(history[3].Meta["node"].(json.RawMessage), &node); err != nil {
		t.Fatalf("decode node update: %v", err)
	}
	if node.ID != "n1" || node.Data.Status != "evaluated" {
		t.Errorf("unexpected node update %+v", node)
	}
	if len(node.Data.Outputs) != 1 || node.Data.Outputs[0].Data.Payload != 10 {
		t.Errorf("expected output payload 10, got %+v", node.Data.Outputs)
	}
	if node.Position["x"] != float64(10) {
		t.Errorf("expected position to be echoed, got %v", node.Position)
	}
}

func TestEngine_Streaming(t *testing.T) {
	e, buf := newTestEngine(t, newTestRegistry(t))

	res, err := e.Run(context.Background(), graphOf(nil, nodeJSON("s", "StreamAdd", map[string]float64{"a": 3, "b": 4})))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	n := res.Nodes["s"]
	if !n.Streaming || n.Status != StatusEvaluated {
		t.Fatalf("expected evaluated streaming node, got streaming=%v status=%s", n.Streaming, n.Status)
	}

	steps := buf.GetHistoryWithFilter(res.RunID, emit.HistoryFilter{Msg: emit.MsgFullNodeUpdate})
	if len(steps) != 10 {
		t.Fatalf("expected 10 steps, got %d", len(steps))
	}
	last := 0.0
	for i, st := range steps {
		p := st.Meta["progress"].(float64)
		if p <= last {
			t.Errorf("step %d: progress %v not increasing from %v", i, p, last)
		}
		last = p
	}
	if last != 1.0 {
		t.Errorf("expected final progress 1.0, got %v", last)
	}
	if got := num(n.Output("result").Data); got != 7 {
		t.Errorf("expected streamed result 7, got %v", got)
	}
	if !strings.Contains(n.TerminalOutput, "step 1\n") || !strings.Contains(n.TerminalOutput, "step 10\n") {
		t.Errorf("expected accumulated terminal output, got %q", n.TerminalOutput)
	}

	status := buf.GetHistoryWithFilter(res.RunID, emit.HistoryFilter{NodeID: "s", Msg: emit.MsgStatusUpdate})
	if len(status) != 2 || status[0].Meta["status"] != string(StatusStreaming) {
		t.Errorf("expected streaming then evaluated status updates, got %+v", status)
	}
}

func TestEngine_Cancel(t *testing.T) {
	t.Run("between nodes", func(t *testing.T) {
		var e *Engine
		reg := newTestRegistry(t, hookNode("Canceller", func() { e.Cancel() }))
		e, buf := newTestEngine(t, reg)

		def := graphOf(
			[]Edge{edge("c", "out", "d", "in")},
			nodeJSON("c", "Canceller", nil),
			nodeJSON("d", "Describe", nil),
		)
		res, err := e.Run(context.Background(), def)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !res.Cancelled {
			t.Error("expected run to be cancelled")
		}
		if res.Nodes["c"].Status != StatusEvaluated {
			t.Errorf("expected in-flight node to finish, got %s", res.Nodes["c"].Status)
		}
		if res.Nodes["d"].Status != StatusPending {
			t.Errorf("expected d to stay pending, got %s", res.Nodes["d"].Status)
		}
		history := buf.GetHistory(res.RunID)
		final := history[len(history)-1]
		if final.Msg != emit.MsgExecutionFinished || final.Meta["cancelled"] != true {
			t.Errorf("expected cancelled execution_finished, got %+v", final)
		}
	})

	t.Run("between streaming steps", func(t *testing.T) {
		var e *Engine
		stepper := StreamFunc{
			Def: func() Definition {
				return Definition{ClassName: "Stepper", Outputs: []OutputField{Out("n")}}
			},
			Fn: func(context.Context, *ExecContext, []data.Payload) iter.Seq2[Step, error] {
				return func(yield func(Step, error) bool) {
					for i := 1; i <= 5; i++ {
						if i == 2 {
							e.Cancel()
						}
						if !yield(Step{Progress: float64(i) / 5, Outputs: []data.Payload{data.NewInt(int64(i))}}, nil) {
							return
						}
					}
				}
			},
		}
		e, buf := newTestEngine(t, newTestRegistry(t, stepper))

		res, err := e.Run(context.Background(), graphOf(nil, nodeJSON("st", "Stepper", nil)))
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		n := res.Nodes["st"]
		if n.Status != StatusError || !strings.Contains(n.ErrorOutput, "cancelled") {
			t.Errorf("expected cancelled streaming node, got %s %q", n.Status, n.ErrorOutput)
		}
		if got := len(buf.GetHistoryWithFilter(res.RunID, emit.HistoryFilter{Msg: emit.MsgFullNodeUpdate})); got != 2 {
			t.Errorf("expected 2 streamed steps, got %d", got)
		}
		if !res.Cancelled {
			t.Error("expected run to be cancelled")
		}
	})

	t.Run("flag resets on next run", func(t *testing.T) {
		e, _ := newTestEngine(t, newTestRegistry(t))
		e.Cancel()
		res, err := e.Run(context.Background(), graphOf(nil, nodeJSON("n", "Source", nil)))
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if res.Cancelled || res.Nodes["n"].Status != StatusEvaluated {
			t.Errorf("expected a fresh run, got cancelled=%v status=%s", res.Cancelled, res.Nodes["n"].Status)
		}
	})

	t.Run("cancel after reserve applies to the run", func(t *testing.T) {
		e, _ := newTestEngine(t, newTestRegistry(t))
		if err := e.Reserve(); err != nil {
			t.Fatalf("Reserve: %v", err)
		}
		if err := e.Reserve(); err == nil {
			t.Error("expected second Reserve to fail")
		}
		if !e.Running() {
			t.Error("expected reserved engine to report running")
		}
		e.Cancel()
		res, err := e.Run(context.Background(), graphOf(nil, nodeJSON("n", "Source", nil)))
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if !res.Cancelled || res.Nodes["n"].Status == StatusEvaluated {
			t.Errorf("expected reserved run to be cancelled, got cancelled=%v status=%s", res.Cancelled, res.Nodes["n"].Status)
		}
		if e.Running() {
			t.Error("expected engine to be released after Run")
		}
	})

	t.Run("context", func(t *testing.T) {
		e, _ := newTestEngine(t, newTestRegistry(t))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		res, err := e.Run(ctx, graphOf(nil, nodeJSON("n", "Source", nil)))
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
		if !res.Cancelled {
			t.Error("expected partial result marked cancelled")
		}
	})
}

func TestEngine_NodeFailures(t *testing.T) {
	tests := []struct {
		class    string
		contains string
	}{
		{"Panic", "Traceback:"},
		{"Panic", "panic: boom"},
		{"Arity", "returned 1 outputs, declared 2"},
	}
	for _, tt := range tests {
		t.Run(tt.class+"/"+tt.contains, func(t *testing.T) {
			e, _ := newTestEngine(t, newTestRegistry(t))
			res, err := e.Run(context.Background(), graphOf(nil, nodeJSON("n", tt.class, nil)))
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			n := res.Nodes["n"]
			if n.Status != StatusError {
				t.Fatalf("expected error status, got %s", n.Status)
			}
			if !strings.Contains(n.ErrorOutput, tt.contains) {
				t.Errorf("expected error_output to contain %q, got %q", tt.contains, n.ErrorOutput)
			}
		})
	}
}

func TestEngine_SkipsUninstantiableNodes(t *testing.T) {
	e, buf := newTestEngine(t, newTestRegistry(t))

	def := graphOf(
		[]Edge{edge("ghost", "out", "d", "in")},
		json.RawMessage(`{"id":"ghost","data":{"class_name":"Nope","namespace":"test"}}`),
		nodeJSON("d", "Describe", nil),
	)
	res, err := e.Run(context.Background(), def)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(res.Skipped, []string{"ghost"}) {
		t.Errorf("expected ghost skipped, got %v", res.Skipped)
	}
	if res.Nodes["d"].Status != StatusEvaluated || res.Nodes["d"].Input("in").Data != nil {
		t.Errorf("expected d to run with nil input")
	}
	errs := buf.GetHistoryWithFilter(res.RunID, emit.HistoryFilter{Msg: emit.MsgError})
	if len(errs) != 1 || errs[0].NodeID != "ghost" {
		t.Fatalf("expected one error event for ghost, got %+v", errs)
	}
	if !strings.Contains(errs[0].Meta["message"].(string), "node type not found") {
		t.Errorf("unexpected error message %v", errs[0].Meta["message"])
	}
	if errs[0].Message()["node_id"] != "ghost" {
		t.Errorf("expected node_id on outbound error message")
	}
}

func TestEngine_EdgeHandling(t *testing.T) {
	t.Run("connected input value is discarded", func(t *testing.T) {
		e, _ := newTestEngine(t, newTestRegistry(t))
		// add2.a carries a stale 100 but is fed by add1.
		def := graphOf(
			[]Edge{edge("add1", "result", "add2", "a")},
			nodeJSON("add1", "Add", map[string]float64{"a": 1, "b": 1}),
			nodeJSON("add2", "Add", map[string]float64{"a": 100, "b": 3}),
		)
		res, err := e.Run(context.Background(), def)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if got := num(res.Nodes["add2"].Output("result").Data); got != 5 {
			t.Errorf("expected 5, got %v", got)
		}
		if !res.Nodes["add2"].Input("a").IsEdgeConnected {
			t.Error("expected input to be marked edge connected")
		}
	})

	t.Run("expired value on a connected input", func(t *testing.T) {
		e, _ := newTestEngine(t, newTestRegistry(t))
		// add2.a references a cache entry that no longer exists.
		add2 := json.RawMessage(`{"id":"add2","data":{"class_name":"Add","namespace":"test","inputs":[
			{"label":"a","data":{"class_name":"FloatData","id":"expired-id","payload":null}},
			{"label":"b","data":{"class_name":"FloatData","payload":3}}]}}`)
		def := graphOf(
			[]Edge{edge("add1", "result", "add2", "a")},
			nodeJSON("add1", "Add", map[string]float64{"a": 1, "b": 1}),
			add2,
		)
		res, err := e.Run(context.Background(), def)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if len(res.Skipped) != 0 {
			t.Fatalf("expected no skipped nodes, got %v", res.Skipped)
		}
		if !reflect.DeepEqual(res.Order, []string{"add1", "add2"}) {
			t.Errorf("expected order [add1 add2], got %v", res.Order)
		}
		if got := num(res.Nodes["add2"].Output("result").Data); got != 5 {
			t.Errorf("expected 5, got %v", got)
		}
	})

	t.Run("expired output value is dropped", func(t *testing.T) {
		e, _ := newTestEngine(t, newTestRegistry(t))
		src := json.RawMessage(`{"id":"s","data":{"class_name":"Source","namespace":"test","outputs":[
			{"label":"out","data":{"class_name":"FloatData","id":"expired-id","payload":null}}]}}`)
		res, err := e.Run(context.Background(), graphOf(nil, src))
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if len(res.Skipped) != 0 {
			t.Fatalf("expected no skipped nodes, got %v", res.Skipped)
		}
		if res.Nodes["s"].Status != StatusEvaluated {
			t.Errorf("expected s evaluated, got %s", res.Nodes["s"].Status)
		}
	})

	t.Run("positional handles", func(t *testing.T) {
		e, _ := newTestEngine(t, newTestRegistry(t))
		def := graphOf(
			[]Edge{{Source: "s", SourceHandle: "s:output:1", Target: "d", TargetHandle: "d:input:0"}},
			nodeJSON("s", "Split", map[string]float64{"number": 8, "t": 0.25}),
			nodeJSON("d", "Describe", nil),
		)
		res, err := e.Run(context.Background(), def)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if got := res.Nodes["d"].Input("in").Data; num(got) != 6 {
			t.Errorf("expected split_1_minus_t (6) on d.in, got %v", got)
		}
	})

	t.Run("unresolved port is a warning", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := NewPrometheusMetrics(reg)
		e, _ := newTestEngine(t, newTestRegistry(t), WithMetrics(m))
		def := graphOf(
			[]Edge{edge("s", "missing", "d", "in")},
			nodeJSON("s", "Source", nil),
			nodeJSON("d", "Describe", nil),
		)
		res, err := e.Run(context.Background(), def)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if res.Nodes["d"].Status != StatusEvaluated {
			t.Errorf("expected d evaluated, got %s", res.Nodes["d"].Status)
		}
		if got := testutil.ToFloat64(m.edgeWarnings); got != 1 {
			t.Errorf("expected 1 edge warning, got %v", got)
		}
	})
}

func TestEngine_Cycle(t *testing.T) {
	e, _ := newTestEngine(t, newTestRegistry(t))
	def := graphOf(
		[]Edge{edge("x", "result", "y", "a"), edge("y", "result", "x", "a")},
		nodeJSON("x", "Add", nil),
		nodeJSON("y", "Add", nil),
		nodeJSON("free", "Source", nil),
	)
	res, err := e.Run(context.Background(), def)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(res.Order, []string{"free"}) {
		t.Errorf("expected only free to be scheduled, got %v", res.Order)
	}
	if !reflect.DeepEqual(res.Skipped, []string{"x", "y"}) {
		t.Errorf("expected x and y skipped, got %v", res.Skipped)
	}
	if res.Nodes["x"].Status != StatusNotEvaluated {
		t.Errorf("expected cycle member not evaluated, got %s", res.Nodes["x"].Status)
	}
}

func TestEngine_RunInProgress(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	reg := newTestRegistry(t, hookNode("Block", func() {
		close(started)
		<-release
	}))
	e, _ := newTestEngine(t, reg)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := e.Run(context.Background(), graphOf(nil, nodeJSON("b", "Block", nil))); err != nil {
			t.Errorf("first Run: %v", err)
		}
	}()

	<-started
	if !e.Running() {
		t.Error("expected engine to report running")
	}
	_, err := e.Run(context.Background(), graphOf(nil, nodeJSON("n", "Source", nil)))
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Code != "RUN_IN_PROGRESS" {
		t.Errorf("expected RUN_IN_PROGRESS, got %v", err)
	}
	close(release)
	wg.Wait()
	if e.Running() {
		t.Error("expected engine to be idle")
	}
}

func TestEngine_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheusMetrics(reg)
	e, _ := newTestEngine(t, newTestRegistry(t), WithMetrics(m))

	if _, err := e.Run(context.Background(), linearMathGraph()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := e.Run(context.Background(), graphOf(nil, nodeJSON("s", "StreamAdd", nil), nodeJSON("f", "Fail", nil))); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := testutil.ToFloat64(m.runs.WithLabelValues("completed")); got != 2 {
		t.Errorf("expected 2 completed runs, got %v", got)
	}
	if got := testutil.ToFloat64(m.inflightRuns); got != 0 {
		t.Errorf("expected no inflight runs, got %v", got)
	}
	if got := testutil.ToFloat64(m.streamSteps.WithLabelValues("StreamAdd")); got != 10 {
		t.Errorf("expected 10 stream steps, got %v", got)
	}
	if got := testutil.CollectAndCount(m.nodeLatency); got != 5 {
		// Add, Subtract, Split and StreamAdd evaluated; Fail error.
		t.Errorf("expected 5 latency series, got %d", got)
	}

	m.Disable()
	if _, err := e.Run(context.Background(), linearMathGraph()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("completed")); got != 2 {
		t.Errorf("expected disabled metrics to stay at 2, got %v", got)
	}
}
