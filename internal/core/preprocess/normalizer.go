// Package preprocess normalizes photographed and rasterized report pages for OCR.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/disintegration/imaging"

	"github.com/joseph-ayodele/health-reports/internal/common"
)

const (
	MinShortEdge = 1000
	MaxLongEdge  = 2000

	darkMeanThreshold   = 80
	brightMeanThreshold = 180
)

// Options controls the optional normalization steps.
type Options struct {
	EnableContrast bool // CLAHE on luminance when mean brightness is out of band
	Binarize       bool // adaptive threshold, applied last

	ClipLimit      float64 // default 2.0
	TileGrid       int     // default 8
	ThresholdBlock int     // default 11, must be odd
	ThresholdC     float64 // default 2
}

// DefaultOptions matches the mobile-photo tuning: contrast on, threshold off.
func DefaultOptions() Options {
	return Options{EnableContrast: true, ClipLimit: 2.0, TileGrid: 8, ThresholdBlock: 11, ThresholdC: 2}
}

// NormalizedImage is a raster in canonical orientation within the OCR size band.
type NormalizedImage struct {
	Image           image.Image
	Width           int
	Height          int
	Orientation     int
	Scale           float64
	ContrastApplied bool
	Binarized       bool
	MeanLuminance   float64
}

type Normalizer struct {
	opts   Options
	logger *slog.Logger
}

func NewNormalizer(opts Options, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ClipLimit <= 0 {
		opts.ClipLimit = 2.0
	}
	if opts.TileGrid <= 0 {
		opts.TileGrid = 8
	}
	if opts.ThresholdBlock < 3 || opts.ThresholdBlock%2 == 0 {
		opts.ThresholdBlock = 11
	}
	if opts.ThresholdC == 0 {
		opts.ThresholdC = 2
	}
	return &Normalizer{opts: opts, logger: logger}
}

// NormalizeFile reads path, applies EXIF orientation and normalizes it.
// A missing file wraps common.ErrNotFound; undecodable data wraps common.ErrInvalidImage.
func (n *Normalizer) NormalizeFile(path string) (*NormalizedImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, common.NewAppError("NOT_FOUND", "image not found: "+path, common.ErrNotFound)
		}
		return nil, fmt.Errorf("read image: %w", err)
	}
	return n.NormalizeBytes(data)
}

// NormalizeBytes decodes data (JPEG or PNG) and normalizes it.
func (n *Normalizer) NormalizeBytes(data []byte) (*NormalizedImage, error) {
	img, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return n.Normalize(img, ReadOrientation(data)), nil
}

// Decode decodes JPEG or PNG bytes without applying orientation.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, common.NewAppError("INVALID_IMAGE", "empty image data", common.ErrInvalidImage)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, common.NewAppError("INVALID_IMAGE", "cannot decode image", fmt.Errorf("%w: %v", common.ErrInvalidImage, err))
	}
	return img, nil
}

// Normalize applies orientation, the resize band, conditional contrast and
// optional binarization, in that order. The input is not modified.
func (n *Normalizer) Normalize(img image.Image, orientation int) *NormalizedImage {
	start := time.Now()
	out := &NormalizedImage{Orientation: orientation, Scale: 1.0}

	cur := applyOrientation(img, orientation)
	cur, out.Scale = resizeToBand(cur)

	out.MeanLuminance = meanLuminance(cur)
	if n.opts.EnableContrast && (out.MeanLuminance < darkMeanThreshold || out.MeanLuminance > brightMeanThreshold) {
		cur = claheLuma(imaging.Clone(cur), n.opts.TileGrid, n.opts.TileGrid, n.opts.ClipLimit)
		out.ContrastApplied = true
	}
	if n.opts.Binarize {
		cur = adaptiveThreshold(cur, n.opts.ThresholdBlock, n.opts.ThresholdC)
		out.Binarized = true
	}

	b := cur.Bounds()
	out.Image, out.Width, out.Height = cur, b.Dx(), b.Dy()

	n.logger.Debug("image normalized",
		"orientation", orientation,
		"scale", out.Scale,
		"width", out.Width,
		"height", out.Height,
		"mean_luminance", math.Round(out.MeanLuminance*10)/10,
		"contrast_applied", out.ContrastApplied,
		"binarized", out.Binarized,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out
}

// resizeToBand upscales when the short edge is below MinShortEdge, otherwise
// downscales when the long edge exceeds MaxLongEdge. The branches are exclusive,
// so a 500x3000 image is only upscaled.
func resizeToBand(img image.Image) (image.Image, float64) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return img, 1.0
	}
	minEdge, maxEdge := min(w, h), max(w, h)

	switch {
	case minEdge < MinShortEdge:
		scale := float64(MinShortEdge) / float64(minEdge)
		nw, nh := scaled(w, scale), scaled(h, scale)
		return imaging.Resize(img, nw, nh, imaging.CatmullRom), scale
	case maxEdge > MaxLongEdge:
		scale := float64(MaxLongEdge) / float64(maxEdge)
		nw, nh := scaled(w, scale), scaled(h, scale)
		return imaging.Resize(img, nw, nh, imaging.Box), scale
	default:
		return img, 1.0
	}
}

func scaled(v int, scale float64) int {
	s := int(math.Round(float64(v) * scale))
	if s < 1 {
		return 1
	}
	return s
}
