package ocr

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/joseph-ayodele/health-reports/internal/core/command"
)

// TesseractEngine shells out to the tesseract CLI in TSV mode. It holds no
// per-call state and is safe for concurrent use.
type TesseractEngine struct {
	cfg    Config
	runner command.Runner
	logger *slog.Logger
}

func NewTesseractEngine(cfg Config, runner command.Runner, logger *slog.Logger) *TesseractEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = command.ExecRunner{}
	}
	return &TesseractEngine{cfg: cfg.withDefaults(), runner: runner, logger: logger}
}

func (e *TesseractEngine) Recognize(ctx context.Context, img image.Image) ([]Line, error) {
	tmpDir, err := os.MkdirTemp("", "hr-ocr-*")
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	in := filepath.Join(tmpDir, "page.png")
	if err := imaging.Save(img, in); err != nil {
		return nil, fmt.Errorf("write ocr input: %w", err)
	}

	// tesseract <img> stdout -l <lang> --psm N [--tessdata-dir D] tsv
	args := []string{in, "stdout", "-l", e.cfg.Language, "--psm", strconv.Itoa(e.cfg.PSM)}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	args = append(args, "tsv")

	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, e.logger, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("tesseract: %w: %s", err, command.Truncate(strings.TrimSpace(string(errb)), 512))
	}
	return ParseTSV(string(out)), nil
}

func (e *TesseractEngine) Close() error { return nil }

// ParseTSV groups tesseract TSV word rows into lines keyed by
// (page, block, paragraph, line). Line confidence is the mean of its word
// confidences scaled to [0,1]; rows with conf -1 or empty text are skipped.
func ParseTSV(tsv string) []Line {
	type acc struct {
		words []string
		sum   float64
		n     int
	}
	var order []string
	groups := map[string]*acc{}

	for i, ln := range strings.Split(tsv, "\n") {
		if i == 0 || strings.TrimSpace(ln) == "" {
			continue // header
		}
		cols := strings.Split(strings.TrimRight(ln, "\r"), "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		text := strings.TrimSpace(cols[11])
		conf, err := strconv.ParseFloat(cols[10], 64)
		if text == "" || err != nil || conf < 0 {
			continue
		}
		key := strings.Join(cols[1:5], "/")
		g, ok := groups[key]
		if !ok {
			g = &acc{}
			groups[key] = g
			order = append(order, key)
		}
		g.words = append(g.words, text)
		g.sum += conf
		g.n++
	}

	lines := make([]Line, 0, len(order))
	for _, key := range order {
		g := groups[key]
		lines = append(lines, Line{
			Text:       strings.Join(g.words, " "),
			Confidence: g.sum / float64(g.n) / 100.0,
		})
	}
	return lines
}
