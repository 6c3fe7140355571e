package nodes

import (
	"context"
	"errors"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/data"
)

// DocumentType is an image together with its physical size.
var DocumentType = &data.RecordType{
	Name: "Document",
	Fields: []data.RecordField{
		{Name: "image", Allowed: []string{data.ClassImage}},
		{Name: "units", Allowed: []string{data.ClassString}},
		{Name: "width", Allowed: []string{data.ClassFloat, data.ClassInt}},
		{Name: "height", Allowed: []string{data.ClassFloat, data.ClassInt}},
	},
}

var documentFields = []string{"image", "units", "width", "height"}

// ConstructDocument bundles its inputs into a Document.
var ConstructDocument = graph.Func{
	Def: func() graph.Definition {
		return graph.Definition{
			ClassName:   "ConstructDocument",
			Description: "Creates a document, a collection of an image, units, width, and height.",
			Inputs: []graph.InputField{
				graph.In("image", data.ClassImage),
				graph.In("units", data.ClassString).WithDefault(data.NewString("mm")),
				graph.In("width", data.ClassFloat, data.ClassInt).WithDefault(data.NewFloat(100)),
				graph.In("height", data.ClassFloat, data.ClassInt).WithDefault(data.NewFloat(100)),
			},
			Outputs: []graph.OutputField{graph.Out("document")},
		}
	},
	Fn: func(_ context.Context, _ *graph.ExecContext, args []data.Payload) ([]data.Payload, error) {
		values := make(map[string]data.Payload, len(documentFields))
		for i, name := range documentFields {
			if args[i] == nil {
				return nil, missing(name)
			}
			values[name] = args[i]
		}
		doc, err := DocumentType.New(values)
		if err != nil {
			return nil, err
		}
		return []data.Payload{doc}, nil
	},
}

// ErrNotDocument is returned by DeconstructDocument for other payloads.
var ErrNotDocument = errors.New("input is not a Document")

// DeconstructDocument splits a Document into its fields.
var DeconstructDocument = graph.Func{
	Def: func() graph.Definition {
		return graph.Definition{
			ClassName:   "DeconstructDocument",
			Description: "Deconstructs a document into its image, units, width, and height.",
			Inputs:      []graph.InputField{graph.In("document", DocumentType.Name)},
			Outputs: []graph.OutputField{
				graph.Out("image"), graph.Out("units"), graph.Out("width"), graph.Out("height"),
			},
		}
	},
	Fn: func(_ context.Context, _ *graph.ExecContext, args []data.Payload) ([]data.Payload, error) {
		if args[0] == nil {
			return nil, missing("document")
		}
		doc, ok := args[0].(*data.Record)
		if !ok || doc.ClassName() != DocumentType.Name {
			return nil, ErrNotDocument
		}
		out := make([]data.Payload, len(documentFields))
		for i, name := range documentFields {
			out[i] = doc.Get(name)
		}
		return out, nil
	},
}

func registerCME(r *graph.Registry, _ Deps) error {
	if err := r.Register(NamespaceCME, "Document", ConstructDocument); err != nil {
		return err
	}
	return r.Register(NamespaceCME, "Document", DeconstructDocument)
}
