package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/health-reports/constants"
	"github.com/joseph-ayodele/health-reports/internal/common"
	"github.com/joseph-ayodele/health-reports/internal/core/report"
)

// ErrBatchFailed is returned when no file in a batch produced a result.
var ErrBatchFailed = errors.New("every file in the batch failed")

// ParseBatch parses paths concurrently, at most BatchConcurrency at a time,
// then folds the successful field maps in input order. One file failing does
// not stop the others. When ctx is cancelled, unfinished files are discarded
// and ctx's error is returned.
func (p *Pipeline) ParseBatch(ctx context.Context, paths []string, mergeResults bool) (BatchResult, error) {
	if len(paths) == 0 {
		return BatchResult{Results: []Envelope{}}, common.NewAppError("INVALID_INPUT", "no files to parse", common.ErrInvalidInput)
	}
	start := time.Now()
	p.logger.Info("pipeline.batch.start", "files", len(paths), "merge", mergeResults)

	results := make([]Envelope, len(paths))
	done := make([]bool, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.BatchConcurrency)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			env := p.Parse(gctx, path, nil)
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], done[i] = env, true
			return nil
		})
	}
	waitErr := g.Wait()

	for i := range results {
		if !done[i] {
			cause := waitErr
			if cause == nil {
				cause = context.Canceled
			}
			results[i] = errorEnvelope("", paths[i], constants.DetectFileType(paths[i]), constants.StateExtractingOCR, cause)
		}
	}
	if waitErr != nil {
		p.logger.Warn("pipeline.batch.cancelled", "error", waitErr)
		return BatchResult{Results: results, Failed: len(paths)}, waitErr
	}

	out := foldResults(results, mergeResults)
	p.logger.Info("pipeline.batch.done",
		"files", len(paths),
		"succeeded", out.Succeeded,
		"failed", out.Failed,
		"overall_completeness", out.OverallCompleteness,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if out.Succeeded == 0 {
		out.Error = fmt.Sprintf("all %d files failed", len(paths))
		return out, common.NewAppError("BATCH_FAILED", out.Error, ErrBatchFailed)
	}
	return out, nil
}

// foldResults merges successful envelopes in input order and scores the
// merged map. The merged map is only exposed when mergeResults is set.
func foldResults(results []Envelope, mergeResults bool) BatchResult {
	out := BatchResult{Results: results}
	merged := report.Fields{}
	for _, r := range results {
		if !r.OK() {
			out.Failed++
			continue
		}
		out.Succeeded++
		merged = report.Merge(merged, r.Data)
	}
	out.OverallCompleteness = report.Score(merged)
	if mergeResults {
		out.MergedData = merged
	}
	return out
}
