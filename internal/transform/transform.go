// Package transform is the image codec behind the pipeline: decode,
// auto-orient, crop, re-encode. Given identical inputs it produces
// identical outputs, which the whole identity scheme depends on.
package transform

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	_ "image/png" // Register PNG decoder

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // Register WebP decoder

	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// Engine is the codec contract consumed by the facade (metadata-only
// decode for validation) and the pipeline (full transform).
type Engine interface {
	// Metadata decodes only the image header and returns the source
	// dimensions. Fails with imagecache.ErrUnsupportedImage when the
	// bytes are not a decodable image.
	Metadata(data []byte) (width, height int, err error)

	// Transform decodes, applies EXIF auto-orientation, crops and
	// re-encodes at the requested quality and format. Returns the
	// encoded bytes and the output dimensions.
	Transform(data []byte, crop imagecache.NormalizedCrop) (out []byte, width, height int, err error)
}

// ImagingEngine implements Engine using the imaging library for decode,
// orientation and crop, plus a WebP encoder for webp output.
type ImagingEngine struct{}

// NewEngine creates an ImagingEngine.
func NewEngine() *ImagingEngine {
	return &ImagingEngine{}
}

func (e *ImagingEngine) Metadata(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", imagecache.ErrUnsupportedImage, err)
	}
	return cfg.Width, cfg.Height, nil
}

func (e *ImagingEngine) Transform(data []byte, crop imagecache.NormalizedCrop) ([]byte, int, int, error) {
	// Decode with EXIF auto-orientation so the crop box applies to the
	// image as the user sees it
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: %v", imagecache.ErrUnsupportedImage, err)
	}

	cropped := imaging.Crop(img, image.Rect(crop.X, crop.Y, crop.X+crop.W, crop.Y+crop.H))
	bounds := cropped.Bounds()

	quality := clampQuality(crop.Quality)

	var buf bytes.Buffer
	switch crop.Format {
	case imagecache.FormatWebP:
		err = webp.Encode(&buf, cropped, &webp.Options{Quality: float32(quality)})
	case imagecache.FormatJPEG:
		err = jpeg.Encode(&buf, cropped, &jpeg.Options{Quality: quality})
	default:
		return nil, 0, 0, fmt.Errorf("unsupported output format: %s", crop.Format)
	}
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to encode %s: %w", crop.Format, err)
	}

	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}

func clampQuality(q int) int {
	if q < 1 {
		return 1
	}
	if q > 100 {
		return 100
	}
	return q
}
