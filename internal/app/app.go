// Package app wires configuration into a ready pipeline for the binaries.
package app

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/joseph-ayodele/health-reports/internal/async"
	"github.com/joseph-ayodele/health-reports/internal/common"
	"github.com/joseph-ayodele/health-reports/internal/core/command"
	"github.com/joseph-ayodele/health-reports/internal/core/extract"
	"github.com/joseph-ayodele/health-reports/internal/core/ocr"
	"github.com/joseph-ayodele/health-reports/internal/core/preprocess"
	"github.com/joseph-ayodele/health-reports/internal/core/raster"
	"github.com/joseph-ayodele/health-reports/internal/llm"
	"github.com/joseph-ayodele/health-reports/internal/llm/openai"
	"github.com/joseph-ayodele/health-reports/internal/pipeline"
	"github.com/joseph-ayodele/health-reports/internal/repository"
)

// App owns every process-wide resource behind the pipeline.
type App struct {
	Config   *common.Config
	Pipeline *pipeline.Pipeline
	Store    *repository.RunStore // nil without STORE_DSN

	db      *repository.DB
	engines *ocr.Pool
	workers *async.WorkerPool
	logger  *slog.Logger
}

// New builds the pipeline from cfg. OCR engines are created and checked here.
func New(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Config: cfg, logger: logger}

	runner := command.ExecRunner{}
	factory, err := ocr.NewFactory(ocr.Config{
		Engine:      cfg.OCR.Engine,
		Tesseract:   cfg.OCR.Tesseract,
		Language:    cfg.OCR.Language,
		TessdataDir: cfg.OCR.TessdataDir,
		PSM:         cfg.OCR.PSM,
	}, runner, logger)
	if err != nil {
		return nil, common.NewAppError("CONFIG_ERROR", "ocr engine", err)
	}
	a.engines = ocr.NewPool(factory, cfg.OCR.PoolSize, logger)
	if err := a.engines.Init(); err != nil {
		return nil, err
	}

	tables := extract.DefaultTables()
	if cfg.Pipeline.PatternFile != "" {
		if tables, err = extract.LoadPatternFile(cfg.Pipeline.PatternFile); err != nil {
			a.Close(ctx)
			return nil, err
		}
		logger.Info("pattern overlay loaded", "file", cfg.Pipeline.PatternFile)
	}
	extractor := extract.NewExtractor(a.engines, extract.WithTables(tables), extract.WithLogger(logger))

	normOpts := preprocess.DefaultOptions()
	normOpts.Binarize = cfg.Pipeline.BinarizeImages
	normalizer := preprocess.NewNormalizer(normOpts, logger)

	rasterizer := raster.NewRasterizer(raster.Config{
		Pdftoppm: cfg.Raster.Pdftoppm,
		DPI:      cfg.Raster.DPI,
		MaxPages: cfg.Raster.MaxPages,
	}, runner, logger)

	a.workers = async.NewWorkerPool(logger,
		async.WithWorkers(cfg.OCR.Workers),
		async.WithQueueSize(cfg.OCR.Workers*16),
		async.WithTaskTimeout(cfg.OCR.TaskTimeout),
	)

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithRasterizer(rasterizer),
		pipeline.WithWorkerPool(a.workers),
	}
	if cfg.Pipeline.UseLLMFallback {
		client := openai.NewClient(openai.Config{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
		}, logger)
		fb := llm.NewFallbackExtractor(client, llm.FallbackConfig{
			MaxRetries:  cfg.LLM.MaxRetries,
			BackoffBase: cfg.LLM.BackoffBase,
			Timeout:     cfg.LLM.Timeout,
		}, logger)
		opts = append(opts, pipeline.WithFallback(fb))
		logger.Info("llm fallback enabled", "model", cfg.LLM.Model)
	} else {
		logger.Warn("llm fallback disabled, incomplete reports stay OCR-only")
	}

	if cfg.Store.DSN != "" {
		a.db, err = repository.Open(ctx, repository.Config{Driver: cfg.Store.Driver, DSN: cfg.Store.DSN}, logger)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.Store = repository.NewRunStore(a.db, logger)
		opts = append(opts, pipeline.WithRecorder(a.Store))
	}

	a.Pipeline = pipeline.New(pipeline.ConfigFrom(cfg), normalizer, extractor, opts...)
	return a, nil
}

// Close drains the worker pool and releases engines and the database.
func (a *App) Close(ctx context.Context) {
	if a.workers != nil {
		a.workers.Shutdown(ctx)
	}
	if a.engines != nil {
		if err := a.engines.Close(); err != nil {
			a.logger.Warn("failed to close ocr engines", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close(a.logger)
	}
}

// PingStore checks the run store; it is a no-op when none is configured.
func (a *App) PingStore(ctx context.Context, timeout time.Duration) error {
	if a.db == nil {
		return nil
	}
	return repository.HealthCheck(ctx, a.db, timeout, a.logger)
}

// NewLogger returns a JSON logger on stderr; stdout is left for results.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
