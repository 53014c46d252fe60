// Package raster converts PDF reports into one image per page.
package raster

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/joseph-ayodele/health-reports/constants"
	"github.com/joseph-ayodele/health-reports/internal/common"
	"github.com/joseph-ayodele/health-reports/internal/core/command"
)

type Config struct {
	Pdftoppm string // binary name or absolute path; if empty -> "pdftoppm"
	DPI      int    // default 300
	MaxPages int    // 0 = no limit
}

type Rasterizer struct {
	cfg    Config
	runner command.Runner
	logger *slog.Logger
}

var disableConfigDir sync.Once

func NewRasterizer(cfg Config, runner command.Runner, logger *slog.Logger) *Rasterizer {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = command.ExecRunner{}
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = constants.DefaultDPI
	}
	disableConfigDir.Do(api.DisableConfigDir)
	return &Rasterizer{cfg: cfg, runner: runner, logger: logger}
}

// Rasterize renders every page of the PDF at path, in document order.
// dpi <= 0 uses the configured default.
func (r *Rasterizer) Rasterize(ctx context.Context, path string, dpi int) ([]image.Image, error) {
	if err := mustExist(path); err != nil {
		return nil, err
	}
	if dpi <= 0 {
		dpi = r.cfg.DPI
	}
	start := time.Now()

	tmpDir, err := os.MkdirTemp("", "hr-raster-*")
	if err != nil {
		return nil, err
	}
	defer func(dir string) {
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Warn("failed to remove raster temp dir", "dir", dir, "error", err)
		}
	}(tmpDir)

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png [-f 1 -l N] <in.pdf> <tmp/page>
	args := []string{"-r", strconv.Itoa(dpi), "-png"}
	if r.cfg.MaxPages > 0 {
		args = append(args, "-f", "1", "-l", strconv.Itoa(r.cfg.MaxPages))
	}
	args = append(args, path, prefix)
	if _, errb, err := r.runner.Run(ctx, r.cfg.Pdftoppm, r.logger, args...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, common.NewAppError("RASTER_FAILED", command.Truncate(strings.TrimSpace(string(errb)), 512),
			fmt.Errorf("%w: pdftoppm: %v", common.ErrCorruptDocument, err))
	}

	pages, err := renderedPages(prefix)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, common.NewAppError("RASTER_FAILED", "pdftoppm produced no images", common.ErrCorruptDocument)
	}

	images := make([]image.Image, 0, len(pages))
	for _, p := range pages {
		img, err := imaging.Open(p)
		if err != nil {
			return nil, fmt.Errorf("decode rendered page %s: %w", filepath.Base(p), err)
		}
		images = append(images, img)
	}

	r.logger.Info("pdf rasterized",
		"path", path,
		"dpi", dpi,
		"pages", len(images),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return images, nil
}

// RasterizeBytes writes data to a temp file and rasterizes it.
func (r *Rasterizer) RasterizeBytes(ctx context.Context, data []byte, dpi int) ([]image.Image, error) {
	f, err := os.CreateTemp("", "hr-doc-*.pdf")
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(f.Name()) }()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return r.Rasterize(ctx, f.Name(), dpi)
}

// PageCount reads the page tree without rendering. pdfcpu is tried first,
// ledongthuc/pdf second.
func (r *Rasterizer) PageCount(path string) (int, error) {
	if err := mustExist(path); err != nil {
		return 0, err
	}
	n, err := pdfcpuPageCount(path)
	if err == nil {
		return n, nil
	}
	r.logger.Debug("pdfcpu page count failed, trying fallback reader", "path", path, "error", err)

	n, err2 := ledongthucPageCount(path)
	if err2 != nil {
		return 0, common.NewAppError("PAGE_COUNT_FAILED", "cannot read page tree",
			fmt.Errorf("%w: %v; %v", common.ErrCorruptDocument, err, err2))
	}
	return n, nil
}

// TextLayer returns the embedded text of each page, empty for image-only pages.
func (r *Rasterizer) TextLayer(path string) (texts []string, err error) {
	if err := mustExist(path); err != nil {
		return nil, err
	}
	defer func() {
		if rec := recover(); rec != nil {
			texts, err = nil, fmt.Errorf("%w: text layer: %v", common.ErrCorruptDocument, rec)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrCorruptDocument, err)
	}
	defer func() { _ = f.Close() }()

	total := reader.NumPage()
	if r.cfg.MaxPages > 0 && total > r.cfg.MaxPages {
		total = r.cfg.MaxPages
	}
	texts = make([]string, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		txt, err := page.GetPlainText(nil)
		if err != nil {
			r.logger.Debug("page text extraction failed", "page", i, "error", err)
			continue
		}
		texts[i-1] = txt
	}
	return texts, nil
}

func pdfcpuPageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return 0, fmt.Errorf("pdfcpu read: %w", err)
	}
	return ctx.PageCount, nil
}

func ledongthucPageCount(path string) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			n, err = 0, fmt.Errorf("pdf reader panic: %v", rec)
		}
	}()
	f, reader, err := pdf.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	return reader.NumPage(), nil
}

// renderedPages collects prefix-N.png files ordered by page number.
func renderedPages(prefix string) ([]string, error) {
	matches, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, err
	}
	num := func(p string) int {
		base := strings.TrimSuffix(filepath.Base(p), ".png")
		n, _ := strconv.Atoi(base[strings.LastIndex(base, "-")+1:])
		return n
	}
	sort.Slice(matches, func(i, j int) bool { return num(matches[i]) < num(matches[j]) })
	return matches, nil
}

func mustExist(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return common.NewAppError("NOT_FOUND", "document not found: "+path, common.ErrNotFound)
		}
		return err
	}
	return nil
}
