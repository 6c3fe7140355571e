package nodes

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/dshills/nodegraph-go/graph/data"
	"github.com/dshills/nodegraph-go/graph/tool"
)

// stripes returns a w x h image whose left half is red and right half blue.
func stripes(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{R: 255, A: 255}
			if x >= w/2 {
				c = color.NRGBA{B: 255, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func asImage(t *testing.T, p data.Payload) image.Image {
	t.Helper()
	v, ok := p.(*data.Image)
	if !ok || v.Value == nil {
		t.Fatalf("expected ImageData, got %T", p)
	}
	return v.Value
}

func TestFlipHorizontally(t *testing.T) {
	res := execute(t, FlipHorizontally, data.NewImage(stripes(4, 2)))
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	img := asImage(t, res.out[0])
	if r, _, b, _ := img.At(0, 0).RGBA(); r != 0 || b == 0 {
		t.Errorf("expected blue at the left edge after flipping")
	}
	if img.Bounds().Dx() != 4 || img.Bounds().Dy() != 2 {
		t.Errorf("unexpected bounds %v", img.Bounds())
	}
}

func TestBlurImage(t *testing.T) {
	src := stripes(20, 4)
	res := execute(t, BlurImage, data.NewImage(src), data.NewInt(3))
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	img := asImage(t, res.out[0])
	// The boundary pixel mixes both colours after blurring.
	r, _, b, _ := img.At(9, 2).RGBA()
	if r == 0 || b == 0 {
		t.Errorf("expected mixed colour at the boundary, got r=%d b=%d", r, b)
	}

	t.Run("missing image", func(t *testing.T) {
		if res := execute(t, BlurImage); res.err == nil {
			t.Error("expected error without an image")
		}
	})

	t.Run("negative radius", func(t *testing.T) {
		if res := execute(t, BlurImage, data.NewImage(src), data.NewInt(-1)); res.err == nil {
			t.Error("expected error for negative radius")
		}
	})
}

func TestImageFromURL(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	for i := range src.Pix {
		src.Pix[i] = 0x80
	}
	var png bytes.Buffer
	if err := imaging.Encode(&png, src, imaging.PNG); err != nil {
		t.Fatalf("encode: %v", err)
	}
	fetcher := &tool.MockFetcher{Bodies: map[string][]byte{
		"http://img/ok.png": png.Bytes(),
		"http://img/bad":    []byte("not an image"),
	}}
	node := ImageFromURL(fetcher)

	t.Run("downloads and drops alpha", func(t *testing.T) {
		res := execute(t, node, data.NewString("http://img/ok.png"))
		if res.err != nil {
			t.Fatalf("unexpected error: %v", res.err)
		}
		p := res.out[0].(*data.Image)
		if p.ImageType() != "RGB" {
			t.Errorf("expected RGB image, got %s", p.ImageType())
		}
		if p.Width() != 3 || p.Height() != 2 {
			t.Errorf("unexpected size %dx%d", p.Width(), p.Height())
		}
	})

	t.Run("status error", func(t *testing.T) {
		res := execute(t, node, data.NewString("http://img/missing"))
		var herr *tool.HTTPError
		if !errors.As(res.err, &herr) {
			t.Errorf("expected HTTPError, got %v", res.err)
		}
	})

	t.Run("undecodable body", func(t *testing.T) {
		if res := execute(t, node, data.NewString("http://img/bad")); res.err == nil {
			t.Error("expected decode error")
		}
	})

	t.Run("default url", func(t *testing.T) {
		execute(t, node)
		calls := fetcher.Calls()
		if calls[len(calls)-1] != DefaultImageURL {
			t.Errorf("expected default URL to be fetched, got %s", calls[len(calls)-1])
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		ec, _ := newExecContext()
		if _, err := node.Exec(ctx, ec, []data.Payload{data.NewString("http://img/ok.png")}); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}
