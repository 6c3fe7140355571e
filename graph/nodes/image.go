package nodes

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/data"
	"github.com/dshills/nodegraph-go/graph/tool"
)

// DefaultImageURL is the default input of ImageFromUrl.
const DefaultImageURL = "https://github.com/docarray/docarray/blob/main/tests/toydata/image-data/apple.png?raw=true"

func imageInput() graph.InputField {
	return graph.In("image", data.ClassImage).WithMeta("expanded", true)
}

func imageArg(args []data.Payload, i int) (image.Image, error) {
	img, ok := args[i].(*data.Image)
	if !ok || img.Value == nil {
		if args[i] == nil || ok {
			return nil, missing("image")
		}
		return nil, fmt.Errorf("input %q: %s is not an image", "image", args[i].ClassName())
	}
	return img.Value, nil
}

// BlurImage applies a Gaussian blur whose sigma is the radius.
var BlurImage = graph.Func{
	Def: func() graph.Definition {
		out := graph.Out("blurred_image")
		out.UserLabel = "Blurred Image"
		return graph.Definition{
			ClassName:   "BlurImage",
			Description: "Applies a Gaussian blur",
			Inputs: []graph.InputField{
				imageInput(),
				graph.In("radius", data.ClassInt).WithDefault(data.NewInt(10)).WithMeta("min", 0).WithMeta("max", 100),
			},
			Outputs: []graph.OutputField{out},
		}
	},
	Fn: func(_ context.Context, _ *graph.ExecContext, args []data.Payload) ([]data.Payload, error) {
		img, err := imageArg(args, 0)
		if err != nil {
			return nil, err
		}
		radius, err := intArg(args, 1, "radius")
		if err != nil {
			return nil, err
		}
		if radius < 0 {
			return nil, fmt.Errorf("radius must not be negative, got %d", radius)
		}
		return []data.Payload{data.NewImage(imaging.Blur(img, float64(radius)))}, nil
	},
}

// FlipHorizontally mirrors an image left to right.
var FlipHorizontally = graph.Func{
	Def: func() graph.Definition {
		return graph.Definition{
			ClassName:   "FlipHorizontally",
			Description: "Mirrors an image horizontally",
			Inputs:      []graph.InputField{imageInput()},
			Outputs:     []graph.OutputField{graph.Out("flipped_image")},
		}
	},
	Fn: func(_ context.Context, _ *graph.ExecContext, args []data.Payload) ([]data.Payload, error) {
		img, err := imageArg(args, 0)
		if err != nil {
			return nil, err
		}
		return []data.Payload{data.NewImage(imaging.FlipH(img))}, nil
	},
}

// ImageFromURL downloads an image and drops its alpha channel.
func ImageFromURL(f tool.Fetcher) graph.Func {
	return graph.Func{
		Def: func() graph.Definition {
			return graph.Definition{
				ClassName:   "ImageFromUrl",
				Description: "Downloads an image",
				Inputs: []graph.InputField{
					graph.In("URL", data.ClassString).WithDefault(data.NewString(DefaultImageURL)),
				},
				Outputs: []graph.OutputField{graph.Out("Image")},
			}
		},
		Fn: func(ctx context.Context, ec *graph.ExecContext, args []data.Payload) ([]data.Payload, error) {
			url, err := stringArg(args, 0, "URL")
			if err != nil {
				return nil, err
			}
			resp, err := f.Fetch(ctx, url)
			if err != nil {
				return nil, err
			}
			img, err := imaging.Decode(bytes.NewReader(resp.Body))
			if err != nil {
				return nil, fmt.Errorf("decode image from %s: %w", url, err)
			}
			ec.Logger.Debug("image downloaded", "url", url, "bytes", len(resp.Body))
			return []data.Payload{data.NewImage(opaque(img))}, nil
		},
	}
}

// opaque returns a copy of img with every alpha value set to 255.
func opaque(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}

func registerImage(r *graph.Registry, deps Deps) error {
	if err := r.Register(NamespaceImage, "Filters", BlurImage); err != nil {
		return err
	}
	if err := r.Register(NamespaceImage, "Transform", FlipHorizontally); err != nil {
		return err
	}
	return r.Register(NamespaceImage, "Sources", ImageFromURL(deps.Fetcher))
}
