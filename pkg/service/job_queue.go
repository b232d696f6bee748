package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dasmlab/fukidashi/pkg/translate"
)

// ErrJobNotFound is returned for unknown or expired job ids.
var ErrJobNotFound = errors.New("job not found")

// JobStatus represents the status of a job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Done reports whether the status is final.
func (s JobStatus) Done() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// JobRequest is the input of an asynchronous job. Either Image or
// Fragments is set.
type JobRequest struct {
	RequestID   string
	Image       []byte
	Fragments   []translate.Fragment
	SourceLang  string
	TargetLang  string
	Provider    string
	Credentials Credentials
}

// Job is an asynchronous recognize-and-translate or translate request.
type Job struct {
	ID        string
	CreatedAt time.Time
	request   JobRequest

	mu          sync.RWMutex
	status      JobStatus
	startedAt   *time.Time
	completedAt *time.Time
	err         string
	progress    int32
	message     string
	language    string
	fragments   []translate.Fragment
}

// JobSnapshot is a consistent copy of a job's state.
type JobSnapshot struct {
	ID              string               `json:"job_id"`
	RequestID       string               `json:"request_id,omitempty"`
	Status          JobStatus            `json:"status"`
	ProgressPercent int32                `json:"progress_percent"`
	ProgressMessage string               `json:"progress_message,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	StartedAt       *time.Time           `json:"started_at,omitempty"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty"`
	Error           string               `json:"error,omitempty"`
	Language        string               `json:"language,omitempty"`
	Fragments       []translate.Fragment `json:"fragments,omitempty"`
}

// Request returns the job's input.
func (j *Job) Request() JobRequest {
	return j.request
}

// Snapshot returns the job's current state. Fragments are only present
// once the job completed.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()

	s := JobSnapshot{
		ID:              j.ID,
		RequestID:       j.request.RequestID,
		Status:          j.status,
		ProgressPercent: j.progress,
		ProgressMessage: j.message,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.startedAt,
		CompletedAt:     j.completedAt,
		Error:           j.err,
		Language:        j.language,
	}
	if j.status == JobStatusCompleted {
		s.Fragments = append([]translate.Fragment(nil), j.fragments...)
	}
	return s
}

// Status returns the job status, progress message and percentage.
func (j *Job) Status() (JobStatus, string, int32) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status, j.message, j.progress
}

// UpdateStatus updates the status of a job.
func (j *Job) UpdateStatus(status JobStatus, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.status = status
	j.message = message

	now := time.Now()
	switch status {
	case JobStatusProcessing:
		if j.startedAt == nil {
			j.startedAt = &now
		}
	case JobStatusCompleted, JobStatusFailed:
		if j.completedAt == nil {
			j.completedAt = &now
		}
	}
}

// UpdateProgress updates the progress of a job.
func (j *Job) UpdateProgress(percent int32, message string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.progress = percent
	j.message = message
}

// SetError marks the job failed.
func (j *Job) SetError(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.err = err.Error()
	j.status = JobStatusFailed
	now := time.Now()
	j.completedAt = &now
}

// SetResult marks the job completed with its fragments.
func (j *Job) SetResult(language string, fragments []translate.Fragment) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.language = language
	j.fragments = fragments
	j.status = JobStatusCompleted
	now := time.Now()
	j.completedAt = &now
	j.progress = 100
	j.message = "completed"
}

// Fragments returns the result of a completed job.
func (j *Job) Fragments() ([]translate.Fragment, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if j.status != JobStatusCompleted {
		return nil, false
	}
	return append([]translate.Fragment(nil), j.fragments...), true
}

// Processor runs jobs.
type Processor interface {
	ProcessJob(job *Job)
}

// JobQueue manages asynchronous jobs in memory.
type JobQueue struct {
	jobs      map[string]*Job
	jobsMu    sync.RWMutex
	logger    *logrus.Logger
	processor Processor
	wg        sync.WaitGroup
}

// NewJobQueue creates a new job queue.
func NewJobQueue(logger *logrus.Logger) *JobQueue {
	if logger == nil {
		logger = logrus.New()
	}
	return &JobQueue{
		jobs:   make(map[string]*Job),
		logger: logger,
	}
}

// SetProcessor sets the job processor for this queue.
func (q *JobQueue) SetProcessor(processor Processor) {
	q.processor = processor
}

// CreateJob stores a new job and starts it when a processor is set.
func (q *JobQueue) CreateJob(req JobRequest) (*Job, error) {
	if len(req.Image) == 0 && len(req.Fragments) == 0 {
		return nil, fmt.Errorf("job needs an image or fragments")
	}

	job := &Job{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
		request:   req,
		status:    JobStatusQueued,
	}

	q.jobsMu.Lock()
	q.jobs[job.ID] = job
	q.jobsMu.Unlock()

	q.logger.WithFields(logrus.Fields{
		"job_id":     job.ID,
		"request_id": req.RequestID,
		"image":      len(req.Image) > 0,
		"fragments":  len(req.Fragments),
	}).Info("Created job")

	if q.processor != nil {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.processor.ProcessJob(job)
		}()
	}

	return job, nil
}

// GetJob retrieves a job by ID.
func (q *JobQueue) GetJob(jobID string) (*Job, error) {
	q.jobsMu.RLock()
	defer q.jobsMu.RUnlock()

	job, exists := q.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job, nil
}

// Len returns the number of stored jobs.
func (q *JobQueue) Len() int {
	q.jobsMu.RLock()
	defer q.jobsMu.RUnlock()
	return len(q.jobs)
}

// Wait blocks until every started job has finished.
func (q *JobQueue) Wait() {
	q.wg.Wait()
}

// CleanupOldJobs removes finished jobs older than maxAge.
func (q *JobQueue) CleanupOldJobs(maxAge time.Duration) {
	q.jobsMu.Lock()
	defer q.jobsMu.Unlock()

	now := time.Now()
	removed := 0

	for id, job := range q.jobs {
		job.mu.RLock()
		expired := job.status.Done() && job.completedAt != nil && now.Sub(*job.completedAt) > maxAge
		job.mu.RUnlock()

		if expired {
			delete(q.jobs, id)
			removed++
		}
	}

	if removed > 0 {
		q.logger.WithFields(logrus.Fields{
			"removed":   removed,
			"remaining": len(q.jobs),
		}).Info("Cleaned up old jobs")
	}
}
