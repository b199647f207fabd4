package streamer

import (
	"context"
	"sync"
	"time"

	"reelstream/internal/pipeline"

	"github.com/google/uuid"
)

// JobStatus represents the status of a background render
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// Job represents a background render
type Job struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	MediaFileID int        `json:"mediaFileId"`
	OutputPath  string     `json:"outputPath"`
	Status      JobStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// PrepareFunc resolves subtitles and builds the invocation for a render. The returned
// cleanup removes whatever it created and may be nil.
type PrepareFunc func(ctx context.Context) (pipeline.Invocation, func(), error)

// Jobs runs renders in the background, independent of the request that asked for them.
type Jobs struct {
	ctx      context.Context
	streamer *Streamer
	jobs     map[string]*Job
	jobsMux  sync.RWMutex
	wg       sync.WaitGroup
}

// NewJobs creates a registry whose renders run under ctx, usually the server's base
// context, so they outlive the request that submitted them.
func NewJobs(ctx context.Context, s *Streamer) *Jobs {
	return &Jobs{
		ctx:      ctx,
		streamer: s,
		jobs:     make(map[string]*Job),
	}
}

// Submit registers a render and starts it in the background
func (j *Jobs) Submit(username string, mediaFileID int, outputPath string, prepare PrepareFunc) Job {
	job := &Job{
		ID:          uuid.New().String(),
		Username:    username,
		MediaFileID: mediaFileID,
		OutputPath:  outputPath,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}

	j.jobsMux.Lock()
	j.jobs[job.ID] = job
	snapshot := *job
	j.jobsMux.Unlock()

	j.wg.Add(1)
	go j.process(job.ID, username, mediaFileID, prepare)

	return snapshot
}

func (j *Jobs) process(id, username string, mediaFileID int, prepare PrepareFunc) {
	defer j.wg.Done()
	j.update(id, StatusRunning, "")

	inv, cleanup, err := prepare(j.ctx)
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		j.update(id, StatusFailed, err.Error())
		j.streamer.logger.WithError(err).WithField("job_id", id).Error("Render preparation failed")
		return
	}

	_, err = j.streamer.RunToFile(j.ctx, RenderRequest{
		JobID:       id,
		Username:    username,
		MediaFileID: mediaFileID,
		Invocation:  inv,
		Cleanup:     cleanup,
	})
	if err != nil {
		j.update(id, StatusFailed, err.Error())
		return
	}
	j.update(id, StatusCompleted, "")
}

// update updates the status of a job
func (j *Jobs) update(id string, status JobStatus, errorMsg string) {
	j.jobsMux.Lock()
	defer j.jobsMux.Unlock()

	if job, exists := j.jobs[id]; exists {
		job.Status = status
		if errorMsg != "" {
			job.Error = errorMsg
		}
		if status == StatusCompleted || status == StatusFailed {
			now := time.Now()
			job.CompletedAt = &now
		}
	}
}

// Get returns a copy of a job by ID
func (j *Jobs) Get(id string) (Job, bool) {
	j.jobsMux.RLock()
	defer j.jobsMux.RUnlock()

	job, exists := j.jobs[id]
	if !exists {
		return Job{}, false
	}
	return *job, true
}

// All returns copies of every known job
func (j *Jobs) All() []Job {
	j.jobsMux.RLock()
	defer j.jobsMux.RUnlock()

	jobs := make([]Job, 0, len(j.jobs))
	for _, job := range j.jobs {
		jobs = append(jobs, *job)
	}
	return jobs
}

// CleanupFinished removes finished jobs older than maxAge
func (j *Jobs) CleanupFinished(maxAge time.Duration) {
	j.jobsMux.Lock()
	defer j.jobsMux.Unlock()

	cutoff := time.Now().Add(-maxAge)
	for id, job := range j.jobs {
		if job.Status == StatusCompleted || job.Status == StatusFailed {
			if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
				delete(j.jobs, id)
			}
		}
	}
}

// Wait blocks until every submitted render has finished.
func (j *Jobs) Wait() {
	j.wg.Wait()
}
