package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joseph-ayodele/health-reports/internal/app"
	"github.com/joseph-ayodele/health-reports/internal/common"
	"github.com/joseph-ayodele/health-reports/internal/export"
	"github.com/joseph-ayodele/health-reports/internal/ingest"
	"github.com/joseph-ayodele/health-reports/internal/pipeline"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

// Scanners write in several bursts; wait for the file to settle.
const watchDebounce = 750 * time.Millisecond

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		dir        = flag.String("dir", "", "directory to scan for reports")
		watch      = flag.Bool("watch", false, "keep watching -dir and parse new reports as they arrive")
		noFallback = flag.Bool("no-fallback", false, "disable the LLM fallback")
		merge      = flag.Bool("merge", true, "merge batch results into one record")
		xlsxOut    = flag.String("xlsx", "", "also write the batch to this XLSX file")
		pretty     = flag.Bool("pretty", false, "indent JSON output")
	)
	flag.Usage = func() {
		printError("usage: healthparse [flags] [file ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	paths := flag.Args()
	if *watch && *dir == "" {
		printError("Error: -watch requires -dir\n")
		return exitUsage
	}
	if len(paths) == 0 && *dir == "" {
		flag.Usage()
		return exitUsage
	}

	cfg := common.LoadConfig()
	if *noFallback {
		cfg.Pipeline.UseLLMFallback = false
	}
	logger := app.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		return exitUsage
	}
	defer a.Close(context.Background())

	out := newEncoder(os.Stdout, *pretty)

	if *watch {
		return watchDir(ctx, a.Pipeline, *dir, out, logger)
	}

	if *dir != "" {
		found, stats, err := ingest.CollectFiles(*dir, cfg.Pipeline.SupportedMediaTypes, true)
		if err != nil {
			logger.Error("failed to scan directory", "dir", *dir, "error", err)
			return exitUsage
		}
		logger.Info("directory scanned",
			"dir", *dir,
			"scanned", stats.Scanned,
			"matched", stats.Matched,
			"skipped", stats.Skipped,
			"failed", stats.Failed,
		)
		paths = append(paths, found...)
	}

	if len(paths) == 1 && *xlsxOut == "" {
		env := a.Pipeline.Parse(ctx, paths[0], nil)
		if err := out.Encode(env); err != nil {
			logger.Error("failed to write result", "error", err)
			return exitFailed
		}
		if !env.OK() {
			return exitFailed
		}
		return exitOK
	}

	batch, batchErr := a.Pipeline.ParseBatch(ctx, paths, *merge)
	if err := out.Encode(batch); err != nil {
		logger.Error("failed to write result", "error", err)
		return exitFailed
	}
	if *xlsxOut != "" && batchErr == nil {
		if err := export.NewService(logger).WriteBatchXLSX(*xlsxOut, batch); err != nil {
			logger.Error("failed to write xlsx", "path", *xlsxOut, "error", err)
			return exitFailed
		}
		logger.Info("xlsx written", "path", *xlsxOut)
	}
	if batchErr != nil {
		if errors.Is(batchErr, common.ErrInvalidInput) {
			return exitUsage
		}
		return exitFailed
	}
	return exitOK
}

// watchDir streams one JSON envelope per report until interrupted.
func watchDir(ctx context.Context, p *pipeline.Pipeline, dir string, out *json.Encoder, logger *slog.Logger) int {
	events, errs, err := ingest.Watch(ctx, ingest.WatchConfig{
		Roots:       []string{dir},
		SkipHidden:  true,
		InitialScan: true,
		Debounce:    watchDebounce,
	}, logger)
	if err != nil {
		logger.Error("failed to watch directory", "dir", dir, "error", err)
		return exitUsage
	}
	logger.Info("watching for reports", "dir", dir)
	for {
		select {
		case path, ok := <-events:
			if !ok {
				logger.Info("watch stopped")
				return exitOK
			}
			env := p.Parse(ctx, path, nil)
			if err := out.Encode(env); err != nil {
				logger.Error("failed to write result", "error", err)
				return exitFailed
			}
		case err, ok := <-errs:
			if ok {
				logger.Warn("watch error", "error", err)
			} else {
				errs = nil
			}
		}
	}
}

func newEncoder(w io.Writer, pretty bool) *json.Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc
}
