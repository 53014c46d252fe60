package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"

	"github.com/joseph-ayodele/health-reports/constants"
	"github.com/joseph-ayodele/health-reports/internal/async"
	"github.com/joseph-ayodele/health-reports/internal/common"
	"github.com/joseph-ayodele/health-reports/internal/core/extract"
	"github.com/joseph-ayodele/health-reports/internal/core/ocr"
	"github.com/joseph-ayodele/health-reports/internal/llm"
)

var quiet = slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// widthRecognizer returns canned OCR lines keyed by image width so each
// test file can carry its own text.
type widthRecognizer struct {
	mu    sync.Mutex
	pages map[int][]ocr.Line
	err   error
	calls int
}

func (w *widthRecognizer) Recognize(_ context.Context, img image.Image) ([]ocr.Line, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return nil, w.err
	}
	return w.pages[img.Bounds().Dx()], nil
}

type fakeLLM struct {
	mu     sync.Mutex
	reply  string
	err    error
	calls  int
	images []*llm.Image
	prompt []string
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, img *llm.Image) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.images = append(f.images, img)
	f.prompt = append(f.prompt, prompt)
	return f.reply, f.err
}

type fakeRaster struct {
	pages []image.Image
	texts []string
	err   error
}

func (f fakeRaster) Rasterize(context.Context, string, int) ([]image.Image, error) {
	return f.pages, f.err
}

func (f fakeRaster) RasterizeBytes(context.Context, []byte, int) ([]image.Image, error) {
	return f.pages, f.err
}

func (f fakeRaster) TextLayer(string) ([]string, error) {
	return f.texts, nil
}

type memRecorder struct {
	mu   sync.Mutex
	envs []Envelope
}

func (m *memRecorder) Record(_ context.Context, env Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.envs = append(m.envs, env)
	return nil
}

func grayImage(w, h int) image.Image {
	return imaging.New(w, h, color.Gray{Y: 128})
}

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := imaging.Save(grayImage(w, h), path); err != nil {
		t.Fatalf("save %s: %v", name, err)
	}
	return path
}

var partialOCR = []ocr.Line{
	{Text: "血壓：120/80", Confidence: 0.9},
	{Text: "總膽固醇：200", Confidence: 0.7},
}

func newPipeline(t *testing.T, cfg Config, rec *widthRecognizer, client llm.Client, opts ...Option) *Pipeline {
	t.Helper()
	if cfg.Rules.MaxSizeBytes == 0 {
		cfg.Rules = common.FileRules{MaxSizeBytes: constants.DefaultMaxFileSize}
	}
	ex := extract.NewExtractor(rec, extract.WithLogger(quiet))
	opts = append([]Option{WithLogger(quiet)}, opts...)
	if client != nil {
		fb := llm.NewFallbackExtractor(client, llm.FallbackConfig{MaxRetries: 1, BackoffBase: time.Millisecond, Timeout: time.Second}, quiet)
		opts = append(opts, WithFallback(fb))
	}
	return New(cfg, nil, ex, opts...)
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestParseHybridWhenFallbackFillsGaps(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "report.png", 40, 30)
	rec := &widthRecognizer{pages: map[int][]ocr.Line{40: partialOCR}}
	client := &fakeLLM{reply: "```json\n{\"blood_pressure\": \"150/95\", \"glucose\": 95, \"bmi\": 22.5, \"heart_rate\": \"72\"}\n```"}

	p := newPipeline(t, Config{MinCompletenessThreshold: 0.7, UseFallback: true}, rec, client)
	env := p.Parse(context.Background(), path, nil)

	if env.Source != constants.SourceHybrid {
		t.Fatalf("source = %q, want hybrid (error %q)", env.Source, env.Error)
	}
	if client.calls != 1 {
		t.Errorf("fallback calls = %d, want 1", client.calls)
	}
	if got := env.Data[constants.FieldBloodPressure]; got != "120/80" {
		t.Errorf("blood_pressure = %v, want OCR value 120/80", got)
	}
	if got := env.Data[constants.FieldGlucose]; got != 95.0 {
		t.Errorf("glucose = %v, want 95", got)
	}
	if !near(env.Completeness, 5.0/7.0) {
		t.Errorf("completeness = %v, want 5/7", env.Completeness)
	}
	if env.State != constants.StateDone || env.FileType != "png" || env.FilePath != path {
		t.Errorf("envelope = %+v", env)
	}
	if img := client.images[0]; img == nil || img.MIMEType != "image/png" {
		t.Errorf("fallback image = %+v, want png upload", img)
	}
}

func TestParseFallbackFailureKeepsOCR(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeLLM
	}{
		{"client error", &fakeLLM{err: errors.New("503 upstream")}},
		{"unparseable reply", &fakeLLM{reply: "I cannot read this report."}},
		{"empty object", &fakeLLM{reply: "{}"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writePNG(t, dir, "report.jpg", 40, 30)
			rec := &widthRecognizer{pages: map[int][]ocr.Line{40: partialOCR}}
			p := newPipeline(t, Config{MinCompletenessThreshold: 0.7, UseFallback: true}, rec, tt.client)

			env := p.Parse(context.Background(), path, nil)
			if env.Source != constants.SourceOCR {
				t.Fatalf("source = %q, want ocr", env.Source)
			}
			if env.Error != "" {
				t.Errorf("error = %q, want none", env.Error)
			}
			if !near(env.Completeness, 2.0/7.0) {
				t.Errorf("completeness = %v, want 2/7", env.Completeness)
			}
			if tt.client.calls == 0 {
				t.Error("fallback was not attempted")
			}
		})
	}
}

func TestParseFallbackGate(t *testing.T) {
	off, on := false, true
	tests := []struct {
		name      string
		cfg       Config
		override  *bool
		wantCalls int
	}{
		{"disabled by caller", Config{MinCompletenessThreshold: 0.7, UseFallback: true}, &off, 0},
		{"disabled by config", Config{MinCompletenessThreshold: 0.7}, nil, 0},
		{"enabled by caller", Config{MinCompletenessThreshold: 0.7}, &on, 1},
		{"above threshold", Config{MinCompletenessThreshold: 0.25, UseFallback: true}, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writePNG(t, t.TempDir(), "r.png", 40, 30)
			rec := &widthRecognizer{pages: map[int][]ocr.Line{40: partialOCR}}
			client := &fakeLLM{reply: `{"glucose": 90}`}
			p := newPipeline(t, tt.cfg, rec, client)

			env := p.Parse(context.Background(), path, tt.override)
			if client.calls != tt.wantCalls {
				t.Errorf("fallback calls = %d, want %d", client.calls, tt.wantCalls)
			}
			want := constants.SourceOCR
			if tt.wantCalls > 0 {
				want = constants.SourceHybrid
			}
			if env.Source != want {
				t.Errorf("source = %q, want %q", env.Source, want)
			}
		})
	}
}

func TestParseValidationFailures(t *testing.T) {
	dir := t.TempDir()
	big := filepath.Join(dir, "big.png")
	if err := os.WriteFile(big, make([]byte, 2048), 0o644); err != nil {
		t.Fatal(err)
	}
	empty := filepath.Join(dir, "empty.png")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	text := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(text, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		want error
	}{
		{"missing", filepath.Join(dir, "nope.png"), common.ErrNotFound},
		{"unsupported", text, common.ErrUnsupportedMedia},
		{"too large", big, common.ErrFileTooLarge},
		{"empty", empty, common.ErrInvalidInput},
	}
	rec := &widthRecognizer{}
	p := newPipeline(t, Config{Rules: common.FileRules{MaxSizeBytes: 1024}}, rec, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := p.Parse(context.Background(), tt.path, nil)
			if env.Source != constants.SourceError || env.Error == "" {
				t.Fatalf("envelope = %+v, want error envelope", env)
			}
			if !errors.Is(env.Cause, tt.want) {
				t.Errorf("cause = %v, want %v", env.Cause, tt.want)
			}
			if env.FailedAt != constants.StateValidating {
				t.Errorf("failed at %q, want VALIDATING", env.FailedAt)
			}
			if env.Validation == nil || env.Validation.Valid {
				t.Errorf("validation = %+v", env.Validation)
			}
			if len(env.Data) != 0 || env.Completeness != 0 {
				t.Errorf("error envelope carries data: %+v", env)
			}
		})
	}
	if rec.calls != 0 {
		t.Errorf("OCR ran %d times on rejected input", rec.calls)
	}
}

func TestParseCorruptImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jpg")
	if err := os.WriteFile(path, []byte("not a jpeg at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := newPipeline(t, Config{}, &widthRecognizer{}, nil)
	env := p.Parse(context.Background(), path, nil)
	if !errors.Is(env.Cause, common.ErrInvalidImage) {
		t.Fatalf("cause = %v, want ErrInvalidImage", env.Cause)
	}
	if env.FailedAt != constants.StateNormalizing || env.Validation != nil {
		t.Errorf("envelope = %+v", env)
	}
}

func TestParseOCRFailure(t *testing.T) {
	path := writePNG(t, t.TempDir(), "r.png", 40, 30)
	boom := errors.New("tesseract: exit status 1")
	p := newPipeline(t, Config{}, &widthRecognizer{err: boom}, nil)
	env := p.Parse(context.Background(), path, nil)
	if env.Source != constants.SourceError || !errors.Is(env.Cause, boom) {
		t.Fatalf("envelope = %+v", env)
	}
	if env.FailedAt != constants.StateExtractingOCR {
		t.Errorf("failed at %q", env.FailedAt)
	}
}

func TestParseNormalizesImages(t *testing.T) {
	path := writePNG(t, t.TempDir(), "small.png", 100, 100)
	// 100x100 is upscaled so the short edge reaches 1000.
	rec := &widthRecognizer{pages: map[int][]ocr.Line{1000: partialOCR}}
	p := newPipeline(t, Config{Preprocess: true}, rec, nil)
	env := p.Parse(context.Background(), path, nil)
	if env.Source != constants.SourceOCR || !near(env.Completeness, 2.0/7.0) {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestParsePDFMergesPagesInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec := &widthRecognizer{pages: map[int][]ocr.Line{
		40: {{Text: "血壓：130/85", Confidence: 0.8}, {Text: "姓名：王小明", Confidence: 0.8}},
		50: {{Text: "血壓：110/70", Confidence: 0.6}, {Text: "空腹血糖：92", Confidence: 0.6}},
	}}
	rs := fakeRaster{pages: []image.Image{grayImage(40, 30), grayImage(50, 30)}}
	client := &fakeLLM{reply: `{"bmi": 21}`}
	p := newPipeline(t, Config{MinCompletenessThreshold: 0.7, UseFallback: true}, rec, client, WithRasterizer(rs))

	env := p.Parse(context.Background(), path, nil)
	if env.Source != constants.SourceHybrid {
		t.Fatalf("source = %q (error %q)", env.Source, env.Error)
	}
	if env.Pages != 2 {
		t.Errorf("pages = %d, want 2", env.Pages)
	}
	if got := env.Data[constants.FieldBloodPressure]; got != "130/85" {
		t.Errorf("blood_pressure = %v, want first page value", got)
	}
	if got := env.Data[constants.FieldGlucose]; got != 92.0 {
		t.Errorf("glucose = %v, want 92 from page 2", got)
	}
	if !near(env.Confidence, 0.7) {
		t.Errorf("confidence = %v, want mean 0.7", env.Confidence)
	}
	if env.PatientInfo["name"] != "王小明" {
		t.Errorf("patient info = %v", env.PatientInfo)
	}
	if img := client.images[0]; img == nil || img.MIMEType != "image/png" {
		t.Errorf("fallback image = %+v, want rendered first page", img)
	}
}

func TestParsePDFTextLayer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	layer := "健康檢查報告\n血壓：128/82\n總膽固醇：190\n空腹血糖：88\n身高：170 cm\n體重：65 kg\n"
	rec := &widthRecognizer{pages: map[int][]ocr.Line{50: {{Text: "脈搏：72", Confidence: 0.5}}}}
	rs := fakeRaster{
		pages: []image.Image{grayImage(40, 30), grayImage(50, 30)},
		texts: []string{layer, "  "},
	}
	p := newPipeline(t, Config{PDFTextLayer: true}, rec, nil, WithRasterizer(rs))

	env := p.Parse(context.Background(), path, nil)
	if env.Source != constants.SourceOCR {
		t.Fatalf("envelope = %+v", env)
	}
	if rec.calls != 1 {
		t.Errorf("OCR calls = %d, want 1 (page 1 read from text layer)", rec.calls)
	}
	for _, k := range []string{constants.FieldBloodPressure, constants.FieldCholesterol, constants.FieldGlucose, constants.FieldBMI, constants.FieldHeartRate} {
		if _, ok := env.Data[k]; !ok {
			t.Errorf("missing %s in %v", k, env.Data)
		}
	}
	if !near(env.Confidence, 0.75) {
		t.Errorf("confidence = %v, want 0.75", env.Confidence)
	}
}

func TestParsePDFWithoutRasterizer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := newPipeline(t, Config{}, &widthRecognizer{}, nil)
	env := p.Parse(context.Background(), path, nil)
	if !errors.Is(env.Cause, common.ErrUnsupportedMedia) || env.FailedAt != constants.StateRasterizing {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestParseBytes(t *testing.T) {
	var buf strings.Builder
	if err := imaging.Encode(&buf, grayImage(40, 30), imaging.PNG); err != nil {
		t.Fatal(err)
	}
	rec := &widthRecognizer{pages: map[int][]ocr.Line{40: partialOCR}}
	client := &fakeLLM{reply: `{"heart_rate": 70}`}
	p := newPipeline(t, Config{MinCompletenessThreshold: 0.7, UseFallback: true}, rec, client)

	env := p.ParseBytes(context.Background(), "upload.png", []byte(buf.String()), nil)
	if env.Source != constants.SourceHybrid || env.FilePath != "upload.png" {
		t.Fatalf("envelope = %+v", env)
	}
	if img := client.images[0]; img == nil || len(img.Data) != buf.Len() {
		t.Errorf("fallback did not receive the uploaded bytes")
	}

	bad := p.ParseBytes(context.Background(), "upload.gif", []byte("GIF89a"), nil)
	if !errors.Is(bad.Cause, common.ErrUnsupportedMedia) {
		t.Errorf("gif cause = %v", bad.Cause)
	}
}

func TestParseUsesWorkerPoolAndRecorder(t *testing.T) {
	path := writePNG(t, t.TempDir(), "r.png", 40, 30)
	rec := &widthRecognizer{pages: map[int][]ocr.Line{40: partialOCR}}
	pool := async.NewWorkerPool(quiet, async.WithWorkers(1))
	defer pool.Shutdown(context.Background())
	store := &memRecorder{}

	p := newPipeline(t, Config{}, rec, nil, WithWorkerPool(pool), WithRecorder(store))
	env := p.Parse(context.Background(), path, nil)
	if env.Source != constants.SourceOCR {
		t.Fatalf("envelope = %+v", env)
	}
	if len(store.envs) != 1 || store.envs[0].RunID != env.RunID || env.RunID == "" {
		t.Errorf("recorded = %+v", store.envs)
	}
}

func TestParseBatchPartialFailure(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", 40, 30)
	b := writePNG(t, dir, "b.png", 50, 30)
	missing := filepath.Join(dir, "gone.png")
	rec := &widthRecognizer{pages: map[int][]ocr.Line{
		40: partialOCR,
		50: {{Text: "血壓：140/90", Confidence: 0.9}, {Text: "空腹血糖：101", Confidence: 0.9}, {Text: "脈搏：66", Confidence: 0.9}},
	}}
	p := newPipeline(t, Config{BatchConcurrency: 2}, rec, nil)

	out, err := p.ParseBatch(context.Background(), []string{a, missing, b}, true)
	if err != nil {
		t.Fatalf("ParseBatch() error = %v", err)
	}
	if out.Succeeded != 2 || out.Failed != 1 || len(out.Results) != 3 {
		t.Fatalf("counts = %d ok / %d failed / %d results", out.Succeeded, out.Failed, len(out.Results))
	}
	if out.Results[0].FilePath != a || out.Results[1].FilePath != missing || out.Results[2].FilePath != b {
		t.Errorf("results out of input order")
	}
	if !errors.Is(out.Results[1].Cause, common.ErrNotFound) {
		t.Errorf("missing file cause = %v", out.Results[1].Cause)
	}
	if got := out.MergedData[constants.FieldBloodPressure]; got != "120/80" {
		t.Errorf("merged blood_pressure = %v, want first file's value", got)
	}
	// blood_pressure, cholesterol, glucose, heart_rate
	if !near(out.OverallCompleteness, 4.0/7.0) {
		t.Errorf("overall completeness = %v, want 4/7", out.OverallCompleteness)
	}
}

func TestParseBatchWithoutMerge(t *testing.T) {
	a := writePNG(t, t.TempDir(), "a.png", 40, 30)
	rec := &widthRecognizer{pages: map[int][]ocr.Line{40: partialOCR}}
	p := newPipeline(t, Config{}, rec, nil)
	out, err := p.ParseBatch(context.Background(), []string{a}, false)
	if err != nil {
		t.Fatal(err)
	}
	if out.MergedData != nil {
		t.Errorf("merged data = %v, want nil", out.MergedData)
	}
	if !near(out.OverallCompleteness, 2.0/7.0) {
		t.Errorf("overall completeness = %v", out.OverallCompleteness)
	}
}

func TestParseBatchAllFail(t *testing.T) {
	dir := t.TempDir()
	p := newPipeline(t, Config{}, &widthRecognizer{}, nil)
	out, err := p.ParseBatch(context.Background(), []string{filepath.Join(dir, "x.png"), filepath.Join(dir, "y.pdf")}, true)
	if !errors.Is(err, ErrBatchFailed) {
		t.Fatalf("err = %v, want ErrBatchFailed", err)
	}
	if out.Error == "" || out.Failed != 2 || out.OverallCompleteness != 0 {
		t.Errorf("batch = %+v", out)
	}
}

func TestParseBatchEmpty(t *testing.T) {
	p := newPipeline(t, Config{}, &widthRecognizer{}, nil)
	if _, err := p.ParseBatch(context.Background(), nil, true); !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestParseBatchCancelled(t *testing.T) {
	a := writePNG(t, t.TempDir(), "a.png", 40, 30)
	rec := &widthRecognizer{pages: map[int][]ocr.Line{40: partialOCR}}
	p := newPipeline(t, Config{}, rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := p.ParseBatch(ctx, []string{a, a}, true)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if out.MergedData != nil {
		t.Errorf("cancelled batch merged %v", out.MergedData)
	}
	for _, r := range out.Results {
		if r.OK() {
			t.Errorf("cancelled file kept result %+v", r)
		}
	}
}
