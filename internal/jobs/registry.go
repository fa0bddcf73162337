// Package jobs tracks batch jobs and runs their pages on a bounded pool.
package jobs

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"comic-translator/internal/types"
)

// Job 一个批处理任务
type Job struct {
	ID        string            `json:"id"`
	Mode      types.ProcessMode `json:"mode"`
	Inputs    []string          `json:"inputs"`
	Status    types.Status      `json:"status"`
	PageIDs   []string          `json:"page_ids,omitempty"` // 已完成页面
	Failed    []string          `json:"failed,omitempty"`   // 失败页面的输入路径
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Done reports whether the job reached a terminal phase.
func (j *Job) Done() bool {
	return j.Status.Phase == types.PhaseComplete || j.Status.Phase == types.PhaseError
}

// Registry 任务状态表，所有访问经过互斥锁
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
	now  func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job), now: time.Now}
}

// Create registers a new pending job and returns its id.
func (r *Registry) Create(mode types.ProcessMode, inputs []string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	now := r.now()
	r.jobs[id] = &Job{
		ID:        id,
		Mode:      mode,
		Inputs:    append([]string(nil), inputs...),
		Status:    types.Status{Phase: types.PhaseIdle, Message: "queued"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return id
}

// Get returns a copy of the job.
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	return copyJob(j), true
}

// List returns copies of all jobs, oldest first.
func (r *Registry) List() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, copyJob(j))
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out
}

func copyJob(j *Job) Job {
	c := *j
	c.Inputs = append([]string(nil), j.Inputs...)
	c.PageIDs = append([]string(nil), j.PageIDs...)
	c.Failed = append([]string(nil), j.Failed...)
	return c
}

func (r *Registry) update(id string, fn func(*Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return types.NewAppError(types.ErrInvalidInput, fmt.Sprintf("job not found: %s", id), nil)
	}
	if j.Done() {
		return nil
	}
	fn(j)
	j.UpdatedAt = r.now()
	return nil
}

// SetPhase records the current phase and message of a job. Progress only
// moves forward.
func (r *Registry) SetPhase(id string, phase types.ProcessPhase, progress int, message string) error {
	return r.update(id, func(j *Job) {
		j.Status.Phase = phase
		j.Status.Message = message
		j.Status.Progress = max(j.Status.Progress, min(100, progress))
	})
}

// PageDone records a finished page and advances progress.
func (r *Registry) PageDone(id, pageID string) error {
	return r.update(id, func(j *Job) {
		j.PageIDs = append(j.PageIDs, pageID)
		j.Status.Progress = max(j.Status.Progress, pageProgress(j))
	})
}

// PageFailed records a failed page and advances progress.
func (r *Registry) PageFailed(id, input string) error {
	return r.update(id, func(j *Job) {
		j.Failed = append(j.Failed, input)
		j.Status.Progress = max(j.Status.Progress, pageProgress(j))
	})
}

func pageProgress(j *Job) int {
	if len(j.Inputs) == 0 {
		return 100
	}
	return (len(j.PageIDs) + len(j.Failed)) * 100 / len(j.Inputs)
}

// Complete marks the job finished. A job where every page failed ends in
// the error phase.
func (r *Registry) Complete(id string) error {
	return r.update(id, func(j *Job) {
		if len(j.Inputs) > 0 && len(j.Failed) == len(j.Inputs) {
			j.Status = types.Status{Phase: types.PhaseError, Progress: 100,
				Message: "all pages failed", Error: "all pages failed"}
			return
		}
		j.Status = types.Status{Phase: types.PhaseComplete, Progress: 100,
			Message: fmt.Sprintf("%d pages done, %d failed", len(j.PageIDs), len(j.Failed))}
	})
}

// Fail marks the job failed.
func (r *Registry) Fail(id string, err error) error {
	return r.update(id, func(j *Job) {
		j.Status.Phase = types.PhaseError
		j.Status.Error = fmt.Sprint(err)
		j.Status.Message = "failed"
	})
}
