package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/health-reports/internal/core/report"
)

// FallbackConfig tunes the fallback extractor.
type FallbackConfig struct {
	MaxRetries  int           // attempts in ExtractWithRetry, default 3
	BackoffBase time.Duration // wait BackoffBase*2^attempt between attempts, default 1s
	Timeout     time.Duration // per request, default 45s
}

func (c FallbackConfig) withDefaults() FallbackConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 45 * time.Second
	}
	return c
}

// Input is what the model sees: an inline image, or text when no image is
// available.
type Input struct {
	Image *Image
	Text  string
}

var errEmptyInput = errors.New("fallback input has neither image nor text")

// FallbackExtractor asks a model for the whitelisted fields when OCR left
// the report incomplete. It never returns an error; failures yield an empty map.
type FallbackExtractor struct {
	client Client
	cfg    FallbackConfig
	logger *slog.Logger
}

func NewFallbackExtractor(client Client, cfg FallbackConfig, logger *slog.Logger) *FallbackExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackExtractor{client: client, cfg: cfg.withDefaults(), logger: logger}
}

// Extract makes a single request.
func (f *FallbackExtractor) Extract(ctx context.Context, in Input) report.Fields {
	fields, err := f.extractOnce(ctx, in, uuid.NewString())
	if err != nil {
		return report.Fields{}
	}
	return fields
}

// ExtractWithRetry retries on error or empty output with exponential backoff.
// The first non-empty result wins.
func (f *FallbackExtractor) ExtractWithRetry(ctx context.Context, in Input) report.Fields {
	reqID := uuid.NewString()
	for attempt := 0; attempt < f.cfg.MaxRetries; attempt++ {
		fields, err := f.extractOnce(ctx, in, reqID)
		if err == nil && len(fields) > 0 {
			f.logger.Info("fallback.extract.ok", "req_id", reqID, "attempt", attempt+1, "fields", len(fields))
			return fields
		}
		if ctx.Err() != nil {
			break
		}
		if attempt == f.cfg.MaxRetries-1 {
			break
		}
		wait := f.cfg.BackoffBase * time.Duration(1<<attempt)
		f.logger.Debug("fallback.retry.wait", "req_id", reqID, "attempt", attempt+1, "wait_ms", wait.Milliseconds())
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			f.logger.Warn("fallback.extract.cancelled", "req_id", reqID, "error", ctx.Err())
			return report.Fields{}
		case <-t.C:
		}
	}
	f.logger.Error("fallback.extract.exhausted", "req_id", reqID, "max_attempts", f.cfg.MaxRetries)
	return report.Fields{}
}

func (f *FallbackExtractor) extractOnce(ctx context.Context, in Input, reqID string) (report.Fields, error) {
	if f.client == nil {
		return nil, errors.New("no llm client configured")
	}
	if in.Image == nil && in.Text == "" {
		f.logger.Warn("fallback.attempt.failed", "req_id", reqID, "error", errEmptyInput)
		return nil, errEmptyInput
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	content := in.Text
	if in.Image != nil {
		content = ""
	}
	text, err := f.client.Generate(ctx, BuildExtractionPrompt(content), in.Image)
	if err != nil {
		f.logger.Warn("fallback.attempt.failed",
			"req_id", reqID, "stage", "generate", "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	raw, err := ParseJSONResponse(text)
	if err != nil {
		f.logger.Warn("fallback.attempt.failed",
			"req_id", reqID, "stage", "parse", "error", err, "response_preview", preview(text, 200))
		return nil, err
	}

	fields, dropped := SanitizeFields(raw, f.logger)
	fields, pruned, err := ValidateFields(fields)
	if err != nil {
		f.logger.Error("fallback.attempt.failed", "req_id", reqID, "stage", "schema", "error", err)
		return nil, err
	}
	if len(pruned) > 0 {
		f.logger.Warn("fallback.schema.pruned", "req_id", reqID, "keys", pruned)
	}

	f.logger.Debug("fallback.attempt.done",
		"req_id", reqID,
		"with_image", in.Image != nil,
		"fields", len(fields),
		"dropped", len(dropped),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return fields, nil
}

// preview cuts s to at most n runes for logging.
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
