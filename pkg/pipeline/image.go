package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"image/png"
	"path"
	"strings"

	"github.com/aretw0/kiln/pkg/domain"
)

// ImageOptions tunes OptimizeImage.
type ImageOptions struct {
	JPEGQuality int `mapstructure:"jpeg_quality"`
}

// DefaultJPEGQuality is used when ImageOptions.JPEGQuality is zero.
const DefaultJPEGQuality = 75

// Optimizer recompresses one image.
type Optimizer func(ctx context.Context, rec domain.FileRecord) ([]byte, error)

// OptimizeImage builds the cacheable image optimization stage. PNG files are
// re-encoded at best compression, JPEG files at the configured quality and SVG
// files minified. The smaller of input and output is kept.
func OptimizeImage(opts ImageOptions) Cacheable {
	return OptimizeImageWith(opts, defaultOptimizer(opts))
}

// OptimizeImageWith builds the stage around a custom optimizer.
func OptimizeImageWith(opts ImageOptions, fn Optimizer) Cacheable {
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = DefaultJPEGQuality
	}
	options := map[string]any{
		"jpeg_quality": opts.JPEGQuality,
	}
	return Pure("optimize-image", options, ProcessFunc(fn))
}

func defaultOptimizer(opts ImageOptions) Optimizer {
	quality := opts.JPEGQuality
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	return func(_ context.Context, rec domain.FileRecord) ([]byte, error) {
		var (
			out []byte
			err error
		)
		switch strings.ToLower(path.Ext(rec.Path)) {
		case ".png":
			out, err = recompressPNG(rec.Content)
		case ".jpg", ".jpeg":
			out, err = recompressJPEG(rec.Content, quality)
		case ".svg":
			out, err = minifier.Bytes(mediaSVG, rec.Content)
		default:
			return rec.Content, nil
		}
		if err != nil {
			return nil, err
		}
		if len(out) >= len(rec.Content) {
			return rec.Content, nil
		}
		return out, nil
	}
}

func recompressPNG(data []byte) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode png: %w", err)
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func recompressJPEG(data []byte, quality int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode jpeg: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
