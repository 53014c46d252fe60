// Package ocr recognizes text lines with per-line confidence from page images.
package ocr

import (
	"context"
	"image"
)

// Line is one recognized text line. Confidence is in [0,1].
type Line struct {
	Text       string
	Confidence float64
}

// Engine recognizes text on a single image. Implementations need not be
// safe for concurrent use; the Pool hands each engine to one caller at a time.
type Engine interface {
	Recognize(ctx context.Context, img image.Image) ([]Line, error)
	Close() error
}

// Factory builds one engine instance. It may be expensive (model loading).
type Factory func() (Engine, error)

// Config selects and tunes the engine.
type Config struct {
	Engine      string // "tesseract" (default) | "gosseract"
	Tesseract   string // binary name or absolute path; if empty -> "tesseract"
	Language    string // default "chi_tra+eng"
	TessdataDir string
	PSM         int // page segmentation mode, default 6
}

func (c Config) withDefaults() Config {
	if c.Engine == "" {
		c.Engine = "tesseract"
	}
	if c.Tesseract == "" {
		c.Tesseract = "tesseract"
	}
	if c.Language == "" {
		c.Language = "chi_tra+eng"
	}
	if c.PSM <= 0 {
		c.PSM = 6
	}
	return c
}

// MeanConfidence is the arithmetic mean of line confidences, 0 when empty.
func MeanConfidence(lines []Line) float64 {
	if len(lines) == 0 {
		return 0
	}
	var sum float64
	for _, l := range lines {
		sum += l.Confidence
	}
	return sum / float64(len(lines))
}

// JoinText joins line texts with newlines.
func JoinText(lines []Line) string {
	n := 0
	for _, l := range lines {
		n += len(l.Text) + 1
	}
	buf := make([]byte, 0, n)
	for i, l := range lines {
		if i > 0 {
			buf = append(buf, '\n')
		}
		buf = append(buf, l.Text...)
	}
	return string(buf)
}
