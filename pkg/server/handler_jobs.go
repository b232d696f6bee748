package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dasmlab/fukidashi/pkg/export"
	"github.com/dasmlab/fukidashi/pkg/service"
)

var errJobNotCompleted = errors.New("job has not completed")

// handleCreateJob accepts a JSON TranslateRequest or an image upload and
// answers 202 with the queued job.
func (s *HTTPServer) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	req := service.JobRequest{
		RequestID: valueRequestID(r),
	}

	if isJSON(r) {
		body, err := readTranslateRequest(r)

		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		req.Fragments = body.fragments()
		req.SourceLang = body.SourceLang
		req.TargetLang = body.TargetLang
		req.Provider = body.Provider
		req.Credentials = service.Credentials{APIKey: body.APIKey}
	} else {
		image, err := s.readImage(w, r)

		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}

		if !s.pipeline.RecognitionEnabled() {
			writeError(w, http.StatusNotImplemented, service.ErrRecognitionDisabled)
			return
		}

		req.Image = image
		req.SourceLang = valueSourceLanguage(r)
		req.TargetLang = valueTargetLanguage(r)
		req.Provider = valueProvider(r)
		req.Credentials = valueCredentials(r)

		if req.TargetLang == "" {
			writeError(w, http.StatusBadRequest, errors.New("target language is required"))
			return
		}
	}

	job, err := s.jobs.CreateJob(req)

	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	w.Header().Set("Location", "/api/v1/jobs/"+job.ID)
	writeJsonStatus(w, http.StatusAccepted, job.Snapshot())
}

func (s *HTTPServer) job(w http.ResponseWriter, r *http.Request) (*service.Job, bool) {
	job, err := s.jobs.GetJob(chi.URLParam(r, "id"))

	if err != nil {
		writeError(w, errorStatus(err), err)
		return nil, false
	}

	return job, true
}

func (s *HTTPServer) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.job(w, r)

	if !ok {
		return
	}

	writeJson(w, job.Snapshot())
}

func (s *HTTPServer) handleJobExport(w http.ResponseWriter, r *http.Request) {
	job, ok := s.job(w, r)

	if !ok {
		return
	}

	format, err := export.ParseFormat(valueFormat(r))

	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	snap := job.Snapshot()

	if snap.Status != service.JobStatusCompleted {
		writeError(w, http.StatusConflict, fmt.Errorf("%w: %s", errJobNotCompleted, snap.Status))
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", job.ID+"."+format.Extension()))

	if err := export.Write(w, format, snap.Language, snap.Fragments); err != nil {
		s.logger.WithError(err).WithField("job_id", job.ID).Error("Failed to write export")
	}
}

// jobEvent is the payload of a "status" server-sent event.
type jobEvent struct {
	service.JobSnapshot
	Timestamp string `json:"timestamp"`
}

// handleJobEvents streams job progress as server-sent events. The job is
// polled and an event is sent whenever its status or progress changes; the
// stream ends after the final event.
func (s *HTTPServer) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	job, ok := s.job(w, r)

	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	last := s.sendEvent(w, job.Snapshot())

	for !last.Status.Done() {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			snap := job.Snapshot()

			if snap.Status == last.Status && snap.ProgressPercent == last.ProgressPercent {
				continue
			}

			last = s.sendEvent(w, snap)
		}
	}
}

func (s *HTTPServer) sendEvent(w http.ResponseWriter, snap service.JobSnapshot) service.JobSnapshot {
	data, err := json.Marshal(jobEvent{
		JobSnapshot: snap,
		Timestamp:   time.Now().Format(time.RFC3339),
	})

	if err != nil {
		s.logger.WithError(err).Error("Failed to marshal SSE event")
		return snap
	}

	fmt.Fprintf(w, "event: status\n")
	fmt.Fprintf(w, "data: %s\n\n", data)

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	return snap
}
