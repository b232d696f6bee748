package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dasmlab/fukidashi/pkg/translate"
)

// DefaultJobTimeout bounds a single job.
const DefaultJobTimeout = 10 * time.Minute

// JobProcessor runs jobs through the pipeline.
type JobProcessor struct {
	pipeline *Pipeline
	logger   *logrus.Logger
	timeout  time.Duration
	baseCtx  context.Context
}

// NewJobProcessor creates a job processor. Jobs are canceled when ctx is.
func NewJobProcessor(ctx context.Context, pipeline *Pipeline, timeout time.Duration, logger *logrus.Logger) *JobProcessor {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	return &JobProcessor{
		pipeline: pipeline,
		logger:   logger,
		timeout:  timeout,
		baseCtx:  ctx,
	}
}

// ProcessJob runs a job to completion, recording progress on it.
func (p *JobProcessor) ProcessJob(job *Job) {
	ctx, cancel := context.WithTimeout(p.baseCtx, p.timeout)
	defer cancel()

	startTime := time.Now()
	req := job.Request()

	p.logger.WithFields(logrus.Fields{
		"job_id":     job.ID,
		"request_id": req.RequestID,
	}).Info("Starting job processing")

	job.UpdateStatus(JobStatusProcessing, "starting")

	// Resolve the provider before any recognition work.
	provider, err := p.pipeline.Provider(req.Provider, req.Credentials)
	if err != nil {
		p.fail(job, err)
		return
	}

	fragments := req.Fragments
	source := req.SourceLang
	language := ""

	if len(req.Image) > 0 {
		job.UpdateProgress(10, "recognizing text")

		result, err := p.pipeline.Recognize(ctx, req.Image, req.SourceLang)
		if err != nil {
			p.fail(job, fmt.Errorf("recognition failed: %w", err))
			return
		}

		language = result.Language
		fragments = FragmentsFromDetections(result.Detections)
		source = TranslationSource(req.SourceLang, result.Language)

		job.UpdateProgress(50, fmt.Sprintf("recognized %d fragments (%s)", len(fragments), result.Language))
	}

	job.UpdateProgress(60, fmt.Sprintf("translating %d fragments", len(fragments)))

	translated, err := p.pipeline.orchestrator.Translate(ctx, provider, fragments, source, req.TargetLang)
	if err != nil {
		p.fail(job, fmt.Errorf("translation failed: %w", err))
		return
	}

	if language == "" && len(translated) > 0 {
		language = translated[0].DetectedLanguage
	}
	job.SetResult(language, translated)

	p.logger.WithFields(logrus.Fields{
		"job_id":      job.ID,
		"request_id":  req.RequestID,
		"fragments":   len(translated),
		"fallback":    countStatus(translated, translate.StatusFallbackOriginal),
		"duration_ms": time.Since(startTime).Milliseconds(),
	}).Info("Job completed")
}

func (p *JobProcessor) fail(job *Job, err error) {
	entry := p.logger.WithError(err).WithField("job_id", job.ID)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		entry.Warn("Job canceled")
	} else {
		entry.Error("Job failed")
	}
	job.SetError(err)
}

func countStatus(fragments []translate.Fragment, status translate.Status) int {
	n := 0
	for _, f := range fragments {
		if f.Status == status {
			n++
		}
	}
	return n
}
