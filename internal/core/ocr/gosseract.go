//go:build ocr

package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// GosseractEngine runs tesseract in-process. A gosseract client is not safe
// for concurrent use; the Pool serializes access per instance.
type GosseractEngine struct {
	client *gosseract.Client
}

func NewGosseractEngine(cfg Config) (Engine, error) {
	cfg = cfg.withDefaults()
	client := gosseract.NewClient()
	if err := client.SetLanguage(strings.Split(cfg.Language, "+")...); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("set language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PageSegMode(cfg.PSM)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("set page seg mode: %w", err)
	}
	if cfg.TessdataDir != "" {
		client.TessdataPrefix = cfg.TessdataDir
	}
	return &GosseractEngine{client: client}, nil
}

func (e *GosseractEngine) Recognize(ctx context.Context, img image.Image) ([]Line, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode ocr input: %w", err)
	}
	if err := e.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}
	lines := make([]Line, 0, len(boxes))
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		lines = append(lines, Line{Text: text, Confidence: b.Confidence / 100.0})
	}
	return lines, nil
}

func (e *GosseractEngine) Close() error {
	return e.client.Close()
}
