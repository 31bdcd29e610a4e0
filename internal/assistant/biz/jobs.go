package biz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kart-io/logger"
	"github.com/oklog/ulid/v2"

	apierrors "github.com/kart-io/helix-assistant/pkg/utils/errors"
)

// defaultJobHistory 保留的最近任务数。
const defaultJobHistory = 256

// JobState 后台摄取任务状态。
type JobState string

// 任务状态。
const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// IngestionJob 一次后台摄取任务。
type IngestionJob struct {
	ID         string            `json:"id"`
	TenantID   string            `json:"tenant_id"`
	State      JobState          `json:"state"`
	Summary    *IngestionSummary `json:"summary,omitempty"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// Done 任务是否已结束。
func (j *IngestionJob) Done() bool {
	return j.State == JobCompleted || j.State == JobFailed
}

// jobRegistry 按提交顺序保存最近的任务。
type jobRegistry struct {
	mu    sync.RWMutex
	jobs  map[string]*IngestionJob
	order []string
	limit int
}

func newJobRegistry(limit int) *jobRegistry {
	return &jobRegistry{jobs: make(map[string]*IngestionJob), limit: limit}
}

func (r *jobRegistry) add(job *IngestionJob) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.ID] = job
	r.order = append(r.order, job.ID)
	// 只淘汰已结束的任务
	for len(r.order) > r.limit {
		oldest := r.jobs[r.order[0]]
		if oldest != nil && !oldest.Done() {
			break
		}
		delete(r.jobs, r.order[0])
		r.order = r.order[1:]
	}
}

func (r *jobRegistry) update(id string, fn func(j *IngestionJob)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		fn(j)
	}
}

func (r *jobRegistry) get(id string) (*IngestionJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, false
	}
	cp := *j
	return &cp, true
}

// IngestAsync 在后台池中执行摄取并立即返回任务。
// 任务继承 ctx 中的值但不随 ctx 取消。
func (i *Ingestor) IngestAsync(ctx context.Context, tenantID string, source Source) (*IngestionJob, error) {
	if i.jobPool == nil {
		return nil, errors.New("background ingestion is not configured")
	}

	job := &IngestionJob{
		ID:        ulid.Make().String(),
		TenantID:  tenantID,
		State:     JobQueued,
		CreatedAt: time.Now(),
	}
	i.jobs.add(job)

	bg := context.WithoutCancel(ctx)
	err := i.jobPool.Submit(func() {
		started := time.Now()
		i.jobs.update(job.ID, func(j *IngestionJob) {
			j.State = JobRunning
			j.StartedAt = &started
		})

		summary, err := i.Ingest(bg, tenantID, source)
		finished := time.Now()
		i.jobs.update(job.ID, func(j *IngestionJob) {
			j.FinishedAt = &finished
			if err != nil {
				j.State = JobFailed
				j.Error = err.Error()
				return
			}
			j.State = JobCompleted
			j.Summary = summary
		})
		if err != nil {
			logger.Errorw("后台摄取任务失败", "job_id", job.ID, "tenant_id", tenantID, "error", err)
		}
	})
	if err != nil {
		now := time.Now()
		i.jobs.update(job.ID, func(j *IngestionJob) {
			j.State = JobFailed
			j.Error = err.Error()
			j.FinishedAt = &now
		})
		return nil, err
	}

	logger.Infow("后台摄取任务已提交", "job_id", job.ID, "tenant_id", tenantID)
	return i.JobStatus(tenantID, job.ID)
}

// JobStatus 返回任务快照。任务不存在或属于其他租户时返回 ErrIngestionJobNotFound。
func (i *Ingestor) JobStatus(tenantID, id string) (*IngestionJob, error) {
	job, ok := i.jobs.get(id)
	if !ok || job.TenantID != tenantID {
		return nil, apierrors.ErrIngestionJobNotFound.WithMessagef("ingestion job %s not found", id)
	}
	return job, nil
}
