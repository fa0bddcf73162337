package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	errs "comic-translator/internal/errors"
	"comic-translator/internal/jobs"
	"comic-translator/internal/logger"
	"comic-translator/internal/types"
)

// Batch runs jobs of many pages on a bounded worker pool and tracks them
// in a registry.
type Batch struct {
	pipeline *Pipeline
	registry *jobs.Registry
	pool     *jobs.Pool
}

// NewBatch creates a batch runner.
func NewBatch(p *Pipeline, registry *jobs.Registry, pool *jobs.Pool) *Batch {
	return &Batch{pipeline: p, registry: registry, pool: pool}
}

// Registry returns the job registry.
func (b *Batch) Registry() *jobs.Registry {
	return b.registry
}

// Submit registers a job without running it.
func (b *Batch) Submit(mode types.ProcessMode, inputs []string) string {
	return b.registry.Create(mode, inputs)
}

// Run processes every page of a job. A failed page never stops the others;
// the job error is only non-nil when the job does not exist.
func (b *Batch) Run(ctx context.Context, jobID string) (jobs.Job, error) {
	job, ok := b.registry.Get(jobID)
	if !ok {
		return jobs.Job{}, types.NewAppError(types.ErrInvalidInput, fmt.Sprintf("job not found: %s", jobID), nil)
	}

	logger.Info("job started",
		logger.String("jobID", jobID),
		logger.Int("pages", len(job.Inputs)),
		logger.Int("workers", b.pool.Size()))

	reported := make([]bool, len(job.Inputs))
	pageErrs := b.pool.Run(ctx, len(job.Inputs), func(ctx context.Context, i int) error {
		input := job.Inputs[i]
		name := filepath.Base(input)
		info, err := b.pipeline.ProcessPage(ctx, PageRequest{JobID: jobID, Path: input, Mode: job.Mode},
			func(phase types.ProcessPhase, _ int, msg string) {
				// 单页完成不代表任务完成
				if phase == types.PhaseComplete || phase == types.PhaseError {
					return
				}
				_ = b.registry.SetPhase(jobID, phase, 0, name+": "+msg)
			})
		reported[i] = true
		if err != nil {
			_ = b.registry.PageFailed(jobID, input)
			return err
		}
		_ = b.registry.PageDone(jobID, info.PageID)
		return nil
	})

	for i, err := range pageErrs {
		if err == nil {
			continue
		}
		logger.Warn("page failed", logger.String("page", job.Inputs[i]), logger.Err(err))
		// 未启动或中途 panic 的页面
		if !reported[i] {
			_ = b.registry.PageFailed(jobID, job.Inputs[i])
			b.recordUnstarted(jobID, job.Inputs[i], err)
		}
	}

	_ = b.registry.Complete(jobID)
	job, _ = b.registry.Get(jobID)
	logger.Info("job finished",
		logger.String("jobID", jobID),
		logger.Int("done", len(job.PageIDs)),
		logger.Int("failed", len(job.Failed)))
	return job, nil
}

// RetryFailed submits and runs a new job with every retryable page from the
// failure registry.
func (b *Batch) RetryFailed(ctx context.Context, mode types.ProcessMode) (jobs.Job, error) {
	failures := b.pipeline.deps.Failures
	if failures == nil {
		return jobs.Job{}, types.NewAppError(types.ErrConfig, "no failure registry configured", nil)
	}

	var inputs []string
	seen := map[string]bool{}
	for _, rec := range failures.ListRetryable() {
		if seen[rec.Input] {
			continue
		}
		seen[rec.Input] = true
		inputs = append(inputs, rec.Input)
		_ = failures.IncrementRetry(rec.ID)
	}
	if len(inputs) == 0 {
		return jobs.Job{}, nil
	}

	return b.Run(ctx, b.Submit(mode, inputs))
}

// recordUnstarted records pages that never reached the pipeline's own
// failure handling, such as pages the pool skipped because ctx ended.
// Pages that failed inside the pipeline already have a record.
func (b *Batch) recordUnstarted(jobID, input string, err error) {
	failures := b.pipeline.deps.Failures
	if failures == nil {
		return
	}
	if _, ok := failures.GetError(errs.RecordID(input)); ok {
		return
	}
	if rerr := failures.RecordError(jobID, input, errs.StageLoad, err); rerr != nil {
		logger.Warn("failed to record page error", logger.Err(rerr))
	}
}
