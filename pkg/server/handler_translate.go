package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/dasmlab/fukidashi/pkg/export"
	"github.com/dasmlab/fukidashi/pkg/recognize"
	"github.com/dasmlab/fukidashi/pkg/service"
	"github.com/dasmlab/fukidashi/pkg/translate"
)

// TranslateRequest is the body of POST /api/v1/translate and of JSON job
// submissions. Fragments take precedence over Texts.
type TranslateRequest struct {
	Texts      []string             `json:"texts,omitempty"`
	Fragments  []translate.Fragment `json:"fragments,omitempty"`
	SourceLang string               `json:"source_lang,omitempty"`
	TargetLang string               `json:"target_lang"`
	Provider   string               `json:"provider,omitempty"`
	APIKey     string               `json:"api_key,omitempty"`
}

// TranslateResponse is the body returned by POST /api/v1/translate.
type TranslateResponse struct {
	Provider  string               `json:"provider"`
	Fragments []translate.Fragment `json:"fragments"`
}

func (req *TranslateRequest) fragments() []translate.Fragment {
	if len(req.Fragments) > 0 {
		return req.Fragments
	}
	return translate.NewFragments(req.Texts...)
}

func (req *TranslateRequest) provider(s *HTTPServer) string {
	if req.Provider != "" {
		return req.Provider
	}
	return s.pipeline.DefaultProvider()
}

func readTranslateRequest(r *http.Request) (*TranslateRequest, error) {
	var req TranslateRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}

	if req.TargetLang == "" {
		return nil, errors.New("target_lang is required")
	}

	if req.APIKey == "" {
		req.APIKey = r.Header.Get("X-Provider-Key")
	}

	return &req, nil
}

func (s *HTTPServer) handleTranslate(w http.ResponseWriter, r *http.Request) {
	req, err := readTranslateRequest(r)

	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	fragments, err := s.pipeline.TranslateFragments(r.Context(), req.fragments(), req.SourceLang, req.TargetLang,
		req.Provider, service.Credentials{APIKey: req.APIKey})

	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}

	writeJson(w, TranslateResponse{
		Provider:  req.provider(s),
		Fragments: fragments,
	})
}

// handleRecognize runs recognition on an uploaded image, followed by
// translation when a target language is given. format=csv returns an export
// document instead of the JSON outcome.
func (s *HTTPServer) handleRecognize(w http.ResponseWriter, r *http.Request) {
	image, err := s.readImage(w, r)

	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}

	format, err := export.ParseFormat(valueFormat(r))

	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	source := valueSourceLanguage(r)
	target := valueTargetLanguage(r)

	var outcome *service.Outcome

	if target == "" {
		result, err := s.pipeline.Recognize(r.Context(), image, source)

		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}

		outcome = &service.Outcome{
			Language:  result.Language,
			Pass:      result.Pass,
			Fragments: service.FragmentsFromDetections(result.Detections),
		}
	} else {
		outcome, err = s.pipeline.RecognizeAndTranslate(r.Context(), image, source, target,
			valueProvider(r), valueCredentials(r))

		if err != nil {
			writeError(w, errorStatus(err), err)
			return
		}
	}

	s.logger.WithFields(logrus.Fields{
		"requested": source,
		"language":  outcome.Language,
		"target":    target,
		"fragments": len(outcome.Fragments),
	}).Info("Recognize request completed")

	if format == export.FormatCSV {
		w.Header().Set("Content-Type", format.ContentType())
		if err := export.WriteCSV(w, outcome.Fragments); err != nil {
			s.logger.WithError(err).Error("Failed to write export")
		}
		return
	}

	if outcome.Fragments == nil {
		outcome.Fragments = []translate.Fragment{}
	}

	writeJson(w, outcome)
}

func (s *HTTPServer) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJson(w, map[string]any{
		"providers":           s.pipeline.ProviderNames(),
		"default":             s.pipeline.DefaultProvider(),
		"recognition_enabled": s.pipeline.RecognitionEnabled(),
		"languages":           recognize.SupportedLanguages(),
		"provider_languages":  s.pipeline.ProviderLanguages(r.Context()),
	})
}
