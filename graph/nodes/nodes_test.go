package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/data"
	"github.com/dshills/nodegraph-go/graph/model"
	"github.com/dshills/nodegraph-go/graph/tool"
)

type execResult struct {
	out    []data.Payload
	err    error
	stdout string
}

func newExecContext() (*graph.ExecContext, *strings.Builder) {
	var stdout strings.Builder
	return &graph.ExecContext{
		NodeID: "n1",
		Stdout: &stdout,
		Stderr: &strings.Builder{},
		Logger: slog.Default(),
	}, &stdout
}

// execute runs a sync node with args, filling nil args from the defaults.
func execute(t *testing.T, n graph.SyncNode, args ...data.Payload) execResult {
	t.Helper()
	def := n.Definition()
	full := make([]data.Payload, len(def.Inputs))
	for i, in := range def.Inputs {
		full[i] = in.Data
		if i < len(args) && args[i] != nil {
			full[i] = args[i]
		}
	}
	ec, stdout := newExecContext()
	out, err := n.Exec(context.Background(), ec, full)
	return execResult{out: out, err: err, stdout: stdout.String()}
}

func asInt(t *testing.T, p data.Payload) int64 {
	t.Helper()
	v, ok := p.(*data.Int)
	if !ok {
		t.Fatalf("expected IntData, got %T", p)
	}
	return v.Value
}

func asFloat(t *testing.T, p data.Payload) float64 {
	t.Helper()
	v, ok := p.(*data.Float)
	if !ok {
		t.Fatalf("expected FloatData, got %T", p)
	}
	return v.Value
}

func asString(t *testing.T, p data.Payload) string {
	t.Helper()
	v, ok := p.(*data.String)
	if !ok {
		t.Fatalf("expected StringData, got %T", p)
	}
	return v.Value
}

func testRegistry(t *testing.T, deps Deps) *graph.Registry {
	t.Helper()
	if deps.StepDelay == 0 {
		deps.StepDelay = time.Millisecond
	}
	if deps.Fetcher == nil {
		deps.Fetcher = &tool.MockFetcher{}
	}
	reg, err := graph.NewRegistry(Loader(deps))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func TestLoader(t *testing.T) {
	t.Run("without chat model", func(t *testing.T) {
		reg := testRegistry(t, Deps{})
		want := []string{NamespaceCME, NamespaceExperimental, NamespaceImage, NamespaceMath, NamespaceText}
		got := reg.Namespaces()
		if strings.Join(got, ",") != strings.Join(want, ",") {
			t.Errorf("expected namespaces %v, got %v", want, got)
		}
		for ns, classes := range map[string][]string{
			NamespaceMath:         {"Add", "Subtract", "Multiply", "Divide", "Split"},
			NamespaceText:         {"Join", "Replace"},
			NamespaceImage:        {"BlurImage", "FlipHorizontally", "ImageFromUrl"},
			NamespaceExperimental: {"TestStreamingAdd", "TestStreamingSplit", "AddList", "ListOfTwo"},
			NamespaceCME:          {"ConstructDocument", "DeconstructDocument"},
		} {
			for _, class := range classes {
				if _, err := reg.Lookup(ns, class); err != nil {
					t.Errorf("lookup %s.%s: %v", ns, class, err)
				}
			}
		}
	})

	t.Run("with chat model", func(t *testing.T) {
		reg := testRegistry(t, Deps{Chat: &model.MockChatModel{}})
		if _, err := reg.Lookup(NamespaceLLM, "Prompt"); err != nil {
			t.Errorf("expected Prompt to be registered: %v", err)
		}
	})

	t.Run("catalog serializes every default", func(t *testing.T) {
		reg := testRegistry(t, Deps{Chat: &model.MockChatModel{}})
		types := data.NewRegistry()
		if err := RegisterTypes(types); err != nil {
			t.Fatalf("RegisterTypes: %v", err)
		}
		catalog, err := reg.Catalog(context.Background(), data.NewSerializer(types, nil))
		if err != nil {
			t.Fatalf("Catalog: %v", err)
		}
		if len(catalog[NamespaceMath]) != 5 || len(catalog[NamespaceLLM]) != 1 {
			t.Errorf("unexpected catalog sizes: math=%d llm=%d", len(catalog[NamespaceMath]), len(catalog[NamespaceLLM]))
		}
		var node struct {
			Data struct {
				ClassName string `json:"class_name"`
				Group     string `json:"group"`
				Streaming bool   `json:"streaming"`
			} `json:"data"`
		}
		for _, raw := range catalog[NamespaceExperimental] {
			if err := json.Unmarshal(raw, &node); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			wantStreaming := strings.HasPrefix(node.Data.ClassName, "TestStreaming")
			if node.Data.Streaming != wantStreaming {
				t.Errorf("%s: expected streaming=%v", node.Data.ClassName, wantStreaming)
			}
		}
	})
}

func TestLinearMathGraph(t *testing.T) {
	reg := testRegistry(t, Deps{})
	engine, err := graph.New(reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	intIn := func(label string, v int) map[string]any {
		return map[string]any{"label": label, "data": map[string]any{"class_name": "IntData", "dtype": "int", "payload": v}}
	}
	node := func(id, class string, inputs ...map[string]any) json.RawMessage {
		b, _ := json.Marshal(map[string]any{
			"id":   id,
			"data": map[string]any{"class_name": class, "namespace": NamespaceMath, "inputs": inputs},
		})
		return b
	}
	edge := func(src, srcPort, dst, dstPort string) graph.Edge {
		return graph.Edge{
			Source: graph.ID(src), SourceHandle: src + ":output:" + srcPort,
			Target: graph.ID(dst), TargetHandle: dst + ":input:" + dstPort,
		}
	}

	def := &graph.GraphDefinition{
		Nodes: []json.RawMessage{
			node("split", "Split", map[string]any{
				"label": "t", "data": map[string]any{"class_name": "FloatData", "dtype": "float", "payload": 0.25},
			}),
			node("sub", "Subtract"),
			node("add1", "Add", intIn("a", 5), intIn("b", 5)),
			node("add2", "Add", intIn("a", 10), intIn("b", 10)),
		},
		Edges: []graph.Edge{
			edge("add1", "result", "sub", "b"),
			edge("add2", "result", "sub", "a"),
			edge("sub", "result", "split", "number"),
		},
	}

	res, err := engine.Run(context.Background(), def)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.Join(res.Order, ","); got != "add1,add2,sub,split" {
		t.Errorf("unexpected order %s", got)
	}
	if v := asInt(t, res.Nodes["sub"].Output("result").Data); v != 10 {
		t.Errorf("expected subtract result 10, got %d", v)
	}
	split := res.Nodes["split"]
	if a, b := asFloat(t, split.Output("split_t").Data), asFloat(t, split.Output("split_1_minus_t").Data); a != 2.5 || b != 7.5 {
		t.Errorf("expected split (2.5, 7.5), got (%v, %v)", a, b)
	}
}

func TestPrompt(t *testing.T) {
	chat := &model.MockChatModel{Responses: []model.ChatOut{{
		Text:  "Paris",
		Model: "gpt-4o",
		Usage: model.Usage{InputTokens: 1000, OutputTokens: 500},
	}}}
	costs := model.NewCostTracker()
	node := Prompt(chat, costs)

	res := execute(t, node, data.NewString("answer briefly"), data.NewString("capital of France?"))
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	if asString(t, res.out[0]) != "Paris" {
		t.Errorf("expected Paris, got %v", res.out[0])
	}
	usage, ok := res.out[1].(*data.JSON)
	if !ok {
		t.Fatalf("expected JSONData usage, got %T", res.out[1])
	}
	if m := usage.Value.(map[string]any); m["input_tokens"] != 1000 || m["cost_usd"].(float64) <= 0 {
		t.Errorf("unexpected usage %v", m)
	}
	if !strings.Contains(res.stdout, "gpt-4o") {
		t.Errorf("expected model in terminal output, got %q", res.stdout)
	}

	calls := chat.Calls()
	if len(calls) != 1 || len(calls[0]) != 2 || calls[0][0].Role != model.RoleSystem {
		t.Errorf("unexpected conversation %+v", calls)
	}
	if costs.Calls()[0].NodeID != "n1" {
		t.Errorf("expected cost attributed to n1")
	}

	t.Run("empty prompt", func(t *testing.T) {
		if res := execute(t, node); res.err == nil {
			t.Error("expected error for empty prompt")
		}
	})

	t.Run("model error", func(t *testing.T) {
		boom := errors.New("rate limited")
		res := execute(t, Prompt(&model.MockChatModel{Err: boom}, nil), nil, data.NewString("hi"))
		if !errors.Is(res.err, boom) {
			t.Errorf("expected model error, got %v", res.err)
		}
	})
}

func ptr(v int64) *int64 { return &v }

func syncNode(v any) graph.SyncNode {
	return v.(graph.SyncNode)
}
