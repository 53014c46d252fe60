// Package pipeline runs the per-file extraction state machine and the batch
// fan-out on top of it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/health-reports/constants"
	"github.com/joseph-ayodele/health-reports/internal/async"
	"github.com/joseph-ayodele/health-reports/internal/common"
	"github.com/joseph-ayodele/health-reports/internal/core/extract"
	"github.com/joseph-ayodele/health-reports/internal/core/preprocess"
	"github.com/joseph-ayodele/health-reports/internal/core/raster"
	"github.com/joseph-ayodele/health-reports/internal/core/report"
	"github.com/joseph-ayodele/health-reports/internal/llm"
)

// minTextLayerChars is how many non-space characters a PDF page's embedded
// text needs before it replaces OCR for that page.
const minTextLayerChars = 40

// cropWhiteLevel is the luminance treated as paper when trimming rendered pages.
const cropWhiteLevel = 245

// Rasterizer turns PDF documents into page images. *raster.Rasterizer satisfies it.
type Rasterizer interface {
	Rasterize(ctx context.Context, path string, dpi int) ([]image.Image, error)
	RasterizeBytes(ctx context.Context, data []byte, dpi int) ([]image.Image, error)
	TextLayer(path string) ([]string, error)
}

// Recorder persists finished envelopes. Failures are logged, never returned.
type Recorder interface {
	Record(ctx context.Context, env Envelope) error
}

// Config carries the orchestration knobs.
type Config struct {
	MinCompletenessThreshold float64
	UseFallback              bool
	Rules                    common.FileRules
	Preprocess               bool
	EnhancePages             bool
	DPI                      int
	PDFTextLayer             bool
	BatchConcurrency         int
}

// ConfigFrom maps the application config onto pipeline settings.
func ConfigFrom(cfg *common.Config) Config {
	return Config{
		MinCompletenessThreshold: cfg.Pipeline.MinCompletenessThreshold,
		UseFallback:              cfg.Pipeline.UseLLMFallback,
		Rules: common.FileRules{
			MaxSizeBytes: cfg.Pipeline.MaxFileSizeBytes,
			Supported:    cfg.Pipeline.SupportedMediaTypes,
		},
		Preprocess:       cfg.Pipeline.PreprocessImages,
		EnhancePages:     cfg.Pipeline.EnhancePages,
		DPI:              cfg.Raster.DPI,
		PDFTextLayer:     cfg.Pipeline.PDFTextLayer,
		BatchConcurrency: cfg.Pipeline.BatchConcurrency,
	}
}

// Pipeline is the façade over normalization, extraction, scoring, fallback and merge.
type Pipeline struct {
	cfg        Config
	normalizer *preprocess.Normalizer
	extractor  *extract.Extractor
	raster     Rasterizer
	fallback   *llm.FallbackExtractor
	workers    *async.WorkerPool
	recorder   Recorder
	logger     *slog.Logger
}

type Option func(*Pipeline)

// WithRasterizer enables PDF input.
func WithRasterizer(r Rasterizer) Option {
	return func(p *Pipeline) { p.raster = r }
}

// WithFallback enables the model fallback for incomplete results.
func WithFallback(f *llm.FallbackExtractor) Option {
	return func(p *Pipeline) { p.fallback = f }
}

// WithWorkerPool runs normalization and OCR on a bounded pool.
func WithWorkerPool(w *async.WorkerPool) Option {
	return func(p *Pipeline) { p.workers = w }
}

func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func New(cfg Config, normalizer *preprocess.Normalizer, extractor *extract.Extractor, opts ...Option) *Pipeline {
	if cfg.MinCompletenessThreshold <= 0 {
		cfg.MinCompletenessThreshold = 0.7
	}
	if cfg.DPI <= 0 {
		cfg.DPI = constants.DefaultDPI
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 4
	}
	p := &Pipeline{cfg: cfg, normalizer: normalizer, extractor: extractor, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.normalizer == nil {
		p.normalizer = preprocess.NewNormalizer(preprocess.DefaultOptions(), p.logger)
	}
	return p
}

// document is one input: a file on disk or an in-memory upload.
type document struct {
	name     string
	path     string
	data     []byte
	fileType constants.FileType
}

func (d document) bytes() ([]byte, error) {
	if d.data != nil {
		return d.data, nil
	}
	b, err := os.ReadFile(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, common.NewAppError("NOT_FOUND", "file not found: "+d.path, common.ErrNotFound)
		}
		return nil, err
	}
	return b, nil
}

// page is one unit of extraction. raw is kept for the fallback upload.
type page struct {
	raw         image.Image
	orientation int
	rendered    bool
	text        string
}

// Parse runs the single-file state machine on path. It never returns an
// error: failures come back as an envelope with source "error".
// useFallback overrides the configured fallback switch when non-nil.
func (p *Pipeline) Parse(ctx context.Context, path string, useFallback *bool) Envelope {
	runID := uuid.NewString()
	log := p.logger.With("run_id", runID, "file", path)

	vr, err := common.ValidateFile(path, p.cfg.Rules)
	if err != nil {
		log.Warn("pipeline.validate.failed", "error", err)
		return p.record(ctx, errorEnvelope(runID, path, constants.DetectFileType(path), constants.StateValidating, err))
	}
	doc := document{name: path, path: path, fileType: vr.FileType}
	return p.run(common.WithRunID(ctx, runID), runID, log, doc, useFallback)
}

// ParseBytes is Parse for an in-memory upload. name supplies the extension.
func (p *Pipeline) ParseBytes(ctx context.Context, name string, data []byte, useFallback *bool) Envelope {
	runID := uuid.NewString()
	log := p.logger.With("run_id", runID, "file", name)

	vr, err := common.ValidateMeta(filepath.Base(name), int64(len(data)), p.cfg.Rules)
	if err != nil {
		log.Warn("pipeline.validate.failed", "error", err)
		return p.record(ctx, errorEnvelope(runID, name, constants.DetectFileType(name), constants.StateValidating, err))
	}
	doc := document{name: name, data: data, fileType: vr.FileType}
	return p.run(common.WithRunID(ctx, runID), runID, log, doc, useFallback)
}

func (p *Pipeline) run(ctx context.Context, runID string, log *slog.Logger, doc document, useFallback *bool) Envelope {
	start := time.Now()
	log.Info("pipeline.parse.start", "file_type", doc.fileType)

	state := constants.StateNormalizing
	var pages []page
	var err error
	if doc.fileType == constants.PDF {
		state = constants.StateRasterizing
		pages, err = p.loadPDF(ctx, log, doc)
	} else {
		pages, err = p.loadImage(doc)
	}
	if err != nil {
		log.Error("pipeline.parse.failed", "state", state, "error", err)
		return p.record(ctx, errorEnvelope(runID, doc.name, doc.fileType, state, err))
	}

	state = constants.StateExtractingOCR
	res, err := p.extractPages(ctx, log, pages)
	if err != nil {
		log.Error("pipeline.parse.failed", "state", state, "error", err)
		return p.record(ctx, errorEnvelope(runID, doc.name, doc.fileType, state, err))
	}

	res.Completeness = report.Score(res.Fields)
	res.Source = constants.SourceOCR
	log.Info("pipeline.ocr.scored",
		"completeness", res.Completeness,
		"confidence", res.ConfidenceScore,
		"missing", report.MissingRequired(res.Fields),
	)

	if p.fallbackEnabled(useFallback) && res.Completeness < p.cfg.MinCompletenessThreshold {
		res = p.applyFallback(ctx, log, doc, pages, res)
	}

	env := fromResult(runID, doc.name, doc.fileType, len(pages), res)
	log.Info("pipeline.parse.done",
		"source", env.Source,
		"completeness", env.Completeness,
		"pages", env.Pages,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return p.record(ctx, env)
}

func (p *Pipeline) fallbackEnabled(override *bool) bool {
	enabled := p.cfg.UseFallback
	if override != nil {
		enabled = *override
	}
	return enabled && p.fallback != nil
}

// loadImage decodes and, when enabled, normalizes a single raster input.
func (p *Pipeline) loadImage(doc document) ([]page, error) {
	data, err := doc.bytes()
	if err != nil {
		return nil, err
	}
	img, err := preprocess.Decode(data)
	if err != nil {
		return nil, err
	}
	return []page{{raw: img, orientation: preprocess.ReadOrientation(data)}}, nil
}

// loadPDF renders every page and attaches the embedded text layer when enabled.
func (p *Pipeline) loadPDF(ctx context.Context, log *slog.Logger, doc document) ([]page, error) {
	if p.raster == nil {
		return nil, common.NewAppError("UNSUPPORTED_MEDIA", "pdf input is not configured", common.ErrUnsupportedMedia)
	}
	var images []image.Image
	var err error
	if doc.path != "" {
		images, err = p.raster.Rasterize(ctx, doc.path, p.cfg.DPI)
	} else {
		images, err = p.raster.RasterizeBytes(ctx, doc.data, p.cfg.DPI)
	}
	if err != nil {
		return nil, err
	}

	var texts []string
	if p.cfg.PDFTextLayer && doc.path != "" {
		if texts, err = p.raster.TextLayer(doc.path); err != nil {
			log.Warn("pipeline.textlayer.failed", "error", err)
			texts = nil
		}
	}

	pages := make([]page, len(images))
	for i, img := range images {
		pages[i] = page{raw: img, orientation: 1, rendered: true}
		if i < len(texts) && nonSpaceCount(texts[i]) >= minTextLayerChars {
			pages[i].text = texts[i]
		}
	}
	return pages, nil
}

// prepare is the NORMALIZING step for one page.
func (p *Pipeline) prepare(log *slog.Logger, pg page) image.Image {
	img := pg.raw
	if pg.rendered {
		if out := raster.CropToContent(img, cropWhiteLevel); out.Err != nil {
			log.Debug("pipeline.crop.skipped", "error", out.Err)
		} else {
			img = out.Image
		}
		if p.cfg.EnhancePages {
			if out := raster.Enhance(img); out.Err != nil {
				log.Debug("pipeline.enhance.skipped", "error", out.Err)
			} else {
				img = out.Image
			}
		}
	}
	if !p.cfg.Preprocess {
		return img
	}
	return p.normalizer.Normalize(img, pg.orientation).Image
}

// extractPages extracts pages in order and folds them into one result,
// earlier pages taking precedence. A page whose OCR fails is recorded as a
// warning; the file fails only when no page could be read.
func (p *Pipeline) extractPages(ctx context.Context, log *slog.Logger, pages []page) (report.ExtractionResult, error) {
	results := make([]report.ExtractionResult, 0, len(pages))
	var warnings []string
	var lastErr error

	for i, pg := range pages {
		if err := ctx.Err(); err != nil {
			return report.ExtractionResult{}, err
		}
		if pg.text != "" {
			res := p.extractor.ParseText(pg.text, 1.0)
			log.Debug("pipeline.page.textlayer", "page", i+1, "chars", len(pg.text))
			results = append(results, res)
			continue
		}
		res, err := p.ocrPage(ctx, log, pg)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report.ExtractionResult{}, ctxErr
			}
			log.Warn("pipeline.page.failed", "page", i+1, "error", err)
			warnings = append(warnings, fmt.Sprintf("page %d: %v", i+1, err))
			lastErr = err
			continue
		}
		results = append(results, res)
	}
	if len(results) == 0 {
		if lastErr == nil {
			lastErr = common.NewAppError("EMPTY_DOCUMENT", "document has no pages", common.ErrCorruptDocument)
		}
		return report.ExtractionResult{}, lastErr
	}
	merged := mergePages(results)
	merged.Errors = append(merged.Errors, warnings...)
	return merged, nil
}

// ocrPage normalizes then recognizes one page, on the worker pool when set.
func (p *Pipeline) ocrPage(ctx context.Context, log *slog.Logger, pg page) (report.ExtractionResult, error) {
	task := func(ctx context.Context) (report.ExtractionResult, error) {
		return p.extractor.Extract(ctx, p.prepare(log, pg))
	}
	if p.workers == nil {
		return task(ctx)
	}
	return async.Do(ctx, p.workers, "ocr", task)
}

// mergePages folds per-page results in page order.
func mergePages(results []report.ExtractionResult) report.ExtractionResult {
	if len(results) == 1 {
		return results[0]
	}
	out := report.NewExtractionResult()
	fields := make([]report.Fields, 0, len(results))
	raw := make([]string, 0, len(results))
	var conf float64
	for _, r := range results {
		fields = append(fields, r.Fields)
		for k, m := range r.VitalSigns {
			if _, ok := out.VitalSigns[k]; !ok {
				out.VitalSigns[k] = m
			}
		}
		out.PatientInfo = report.MergeMaps(out.PatientInfo, r.PatientInfo)
		out.LifestyleFactors = report.MergeMaps(out.LifestyleFactors, r.LifestyleFactors)
		if out.TestDate == "" {
			out.TestDate = r.TestDate
		}
		if r.RawText != "" {
			raw = append(raw, r.RawText)
		}
		out.Errors = append(out.Errors, r.Errors...)
		conf += r.ConfidenceScore
	}
	out.Fields = report.MergeAll(fields...)
	out.RawText = strings.Join(raw, "\n\f\n")
	out.ConfidenceScore = conf / float64(len(results))
	return out
}

// applyFallback asks the model for the missing fields and merges them under
// the OCR result. Any failure leaves the OCR result untouched.
func (p *Pipeline) applyFallback(ctx context.Context, log *slog.Logger, doc document, pages []page, res report.ExtractionResult) report.ExtractionResult {
	log.Info("pipeline.fallback.start",
		"ocr_completeness", res.Completeness,
		"threshold", p.cfg.MinCompletenessThreshold,
	)
	in, err := p.fallbackInput(doc, pages)
	if err != nil {
		log.Warn("pipeline.fallback.image_unavailable", "error", err)
	}
	if in.Image == nil {
		in.Text = res.RawText
	}

	extra := p.fallback.ExtractWithRetry(ctx, in)
	if len(extra) == 0 {
		log.Warn("pipeline.fallback.empty", "source", constants.SourceOCR)
		return res
	}

	merged := res
	merged.Fields = report.Merge(res.Fields, extra)
	merged.Completeness = report.Score(merged.Fields)
	merged.Source = constants.SourceHybrid
	log.Info("pipeline.fallback.merged",
		"fallback_fields", len(extra),
		"completeness", merged.Completeness,
	)
	return merged
}

// fallbackInput is the original image bytes for raster inputs and the first
// rendered page for PDFs.
func (p *Pipeline) fallbackInput(doc document, pages []page) (llm.Input, error) {
	if doc.fileType.IsImage() {
		if doc.path != "" {
			img, err := llm.ImageFromFile(doc.path)
			if err != nil {
				return llm.Input{}, err
			}
			return llm.Input{Image: img}, nil
		}
		if len(doc.data) > constants.MaxFallbackEncodeBytes {
			return llm.Input{}, common.ErrFileTooLarge
		}
		return llm.Input{Image: &llm.Image{Data: doc.data, MIMEType: doc.fileType.MIMEType()}}, nil
	}
	if len(pages) == 0 || pages[0].raw == nil {
		return llm.Input{}, errors.New("no rendered page")
	}
	img, err := llm.ImageFromRaster(pages[0].raw)
	if err != nil {
		return llm.Input{}, err
	}
	return llm.Input{Image: img}, nil
}

func (p *Pipeline) record(ctx context.Context, env Envelope) Envelope {
	if p.recorder == nil {
		return env
	}
	if err := p.recorder.Record(context.WithoutCancel(ctx), env); err != nil {
		p.logger.Warn("pipeline.record.failed", "run_id", env.RunID, "error", err)
	}
	return env
}

func nonSpaceCount(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
