package data

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"
)

// Image is a raster image payload. On the wire it is a base64 encoded PNG;
// callers may also supply a nested [height][width][channels] sequence.
type Image struct {
	Base
	Value image.Image
}

// NewImage returns an Image payload.
func NewImage(img image.Image) *Image {
	return &Image{Value: img}
}

func (p *Image) ClassName() string { return ClassImage }
func (p *Image) Kind() Kind        { return KindImage }
func (p *Image) Native() any       { return p.Value }

// SizeBytes estimates four bytes per pixel.
func (p *Image) SizeBytes() int {
	if p.Value == nil {
		return 0
	}
	b := p.Value.Bounds()
	return b.Dx() * b.Dy() * 4
}

func (p *Image) SetNative(v any) error {
	img, ok := v.(image.Image)
	if !ok {
		return fmt.Errorf("%w: %T is not an image", ErrWrongType, v)
	}
	p.Value = img
	return nil
}

// Width returns the image width in pixels.
func (p *Image) Width() int {
	if p.Value == nil {
		return 0
	}
	return p.Value.Bounds().Dx()
}

// Height returns the image height in pixels.
func (p *Image) Height() int {
	if p.Value == nil {
		return 0
	}
	return p.Value.Bounds().Dy()
}

// ImageType returns GRAY, RGB or RGBA.
func (p *Image) ImageType() string {
	switch channels(p.Value) {
	case 1:
		return "GRAY"
	case 3:
		return "RGB"
	default:
		return "RGBA"
	}
}

// DerivedMetadata reports the image dimensions.
func (p *Image) DerivedMetadata() map[string]any {
	if p.Value == nil {
		return nil
	}
	return map[string]any{
		"width":      p.Width(),
		"height":     p.Height(),
		"image_type": p.ImageType(),
	}
}

func (p *Image) EncodePayload() (any, error) {
	if p.Value == nil {
		return nil, fmt.Errorf("%w: image is empty", ErrMissingPayload)
	}
	return encodePNG(p.Value)
}

func (p *Image) DecodePayload(raw json.RawMessage) error {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		img, err := decodeBase64Image(s)
		if err != nil {
			return err
		}
		p.Value = img
		return nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	a, err := flatten(v)
	if err != nil {
		return err
	}
	img, err := imageFromArray(a)
	if err != nil {
		return err
	}
	p.Value = img
	return nil
}

// Preview returns a base64 PNG thumbnail whose pixel count fits within maxMB
// at four bytes per pixel. The aspect ratio is preserved.
func (p *Image) Preview(maxMB float64) (string, error) {
	if p.Value == nil {
		return "", fmt.Errorf("%w: image is empty", ErrMissingPayload)
	}
	return encodePNG(Thumbnail(p.Value, maxMB))
}

// Thumbnail downsizes img so that it holds at most maxMB*1MiB/4 pixels.
func Thumbnail(img image.Image, maxMB float64) image.Image {
	maxPixels := int(maxMB * 1024 * 1024 / 4)
	side := int(math.Sqrt(float64(maxPixels)))
	if side < 1 {
		side = 1
	}
	return imaging.Fit(img, side, side, imaging.Lanczos)
}

func encodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func decodeBase64Image(s string) (image.Image, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 image: %v", ErrMalformed, err)
	}
	img, err := imaging.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return img, nil
}

// imageFromArray converts a [h][w] or [h][w][c] array with values in 0..255.
func imageFromArray(a NDArray) (image.Image, error) {
	var h, w, c int
	switch len(a.Shape) {
	case 2:
		h, w, c = a.Shape[0], a.Shape[1], 1
	case 3:
		h, w, c = a.Shape[0], a.Shape[1], a.Shape[2]
	default:
		return nil, fmt.Errorf("%w: image array must have 2 or 3 dimensions, got %d", ErrWrongType, len(a.Shape))
	}
	px := func(i int) uint8 {
		return uint8(math.Max(0, math.Min(255, math.Round(a.Values[i]))))
	}
	switch c {
	case 1:
		img := image.NewGray(image.Rect(0, 0, w, h))
		for i := 0; i < h*w; i++ {
			img.Pix[i] = px(i)
		}
		return img, nil
	case 3, 4:
		img := image.NewNRGBA(image.Rect(0, 0, w, h))
		for i := 0; i < h*w; i++ {
			alpha := uint8(255)
			if c == 4 {
				alpha = px(i*c + 3)
			}
			img.Pix[i*4] = px(i * c)
			img.Pix[i*4+1] = px(i*c + 1)
			img.Pix[i*4+2] = px(i*c + 2)
			img.Pix[i*4+3] = alpha
		}
		return img, nil
	}
	return nil, fmt.Errorf("%w: unsupported channel count %d", ErrWrongType, c)
}

func channels(img image.Image) int {
	if img == nil {
		return 0
	}
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model:
		return 1
	}
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return 3
	}
	return 4
}
