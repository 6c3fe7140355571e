// Package nodes holds the built-in node catalog.
//
// Node types are grouped by namespace (math, text, image, experimental,
// cme and llm) and installed into a graph.Registry by the Loader returned
// from Loader:
//
//	reg, err := graph.NewRegistry(nodes.Loader(nodes.Deps{Fetcher: tool.NewHTTPFetcher()}))
package nodes

import (
	"fmt"
	"time"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/data"
	"github.com/dshills/nodegraph-go/graph/model"
	"github.com/dshills/nodegraph-go/graph/tool"
)

// Namespaces of the built-in catalog.
const (
	NamespaceMath         = "math"
	NamespaceText         = "text"
	NamespaceImage        = "image"
	NamespaceExperimental = "experimental"
	NamespaceCME          = "cme"
	NamespaceLLM          = "llm"
)

// Deps are the collaborators some node types need.
type Deps struct {
	// Fetcher serves ImageFromUrl. Nil uses tool.NewHTTPFetcher().
	Fetcher tool.Fetcher

	// Chat enables the llm namespace when set.
	Chat model.ChatModel

	// Costs records token usage of llm nodes. Nil disables tracking.
	Costs *model.CostTracker

	// StepDelay is the pause between steps of the streaming test nodes.
	// Zero means one second.
	StepDelay time.Duration
}

// Loader returns a graph.Loader that registers the whole catalog.
func Loader(deps Deps) graph.Loader {
	if deps.Fetcher == nil {
		deps.Fetcher = tool.NewHTTPFetcher()
	}
	if deps.StepDelay <= 0 {
		deps.StepDelay = time.Second
	}
	return func(r *graph.Registry) error {
		for _, register := range []func(*graph.Registry, Deps) error{
			registerMath, registerText, registerImage, registerExperimental, registerCME, registerLLM,
		} {
			if err := register(r, deps); err != nil {
				return err
			}
		}
		return nil
	}
}

// RegisterTypes adds the payload types the catalog defines to reg.
func RegisterTypes(reg *data.Registry) error {
	return reg.RegisterRecord(DocumentType)
}

// missing reports an input that is nil, usually because its upstream node
// failed.
func missing(label string) error {
	return fmt.Errorf("input %q has no value", label)
}

func numberArg(args []data.Payload, i int, label string) (float64, error) {
	if args[i] == nil {
		return 0, missing(label)
	}
	n, ok := data.Number(args[i])
	if !ok {
		return 0, fmt.Errorf("input %q: %s is not a number", label, args[i].ClassName())
	}
	return n, nil
}

func stringArg(args []data.Payload, i int, label string) (string, error) {
	s, ok := args[i].(*data.String)
	if !ok {
		if args[i] == nil {
			return "", missing(label)
		}
		return "", fmt.Errorf("input %q: %s is not a string", label, args[i].ClassName())
	}
	return s.Value, nil
}

func intArg(args []data.Payload, i int, label string) (int64, error) {
	switch v := args[i].(type) {
	case *data.Int:
		return v.Value, nil
	case nil:
		return 0, missing(label)
	}
	return 0, fmt.Errorf("input %q: %s is not an integer", label, args[i].ClassName())
}

func bothInt(a, b data.Payload) (int64, int64, bool) {
	x, ok1 := a.(*data.Int)
	y, ok2 := b.(*data.Int)
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	return x.Value, y.Value, true
}
