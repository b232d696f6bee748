package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/dasmlab/fukidashi/pkg/export"
	"github.com/dasmlab/fukidashi/pkg/recognize"
	"github.com/dasmlab/fukidashi/pkg/service"
	"github.com/dasmlab/fukidashi/pkg/translate"
)

var errEmptyImage = errors.New("image is empty")

func writeJson(w http.ResponseWriter, v any) {
	writeJsonStatus(w, http.StatusOK, v)
}

func writeJsonStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	enc.Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	text := http.StatusText(code)

	if err != nil {
		text = err.Error()
	}

	writeJsonStatus(w, code, map[string]string{
		"error": text,
	})
}

// errorStatus maps pipeline errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrUnknownProvider),
		errors.Is(err, recognize.ErrUnsupportedLanguage),
		errors.Is(err, recognize.ErrInvalidPass),
		errors.Is(err, translate.ErrInvalidChunkSize),
		errors.Is(err, export.ErrUnknownFormat),
		errors.Is(err, errEmptyImage):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrRecognitionDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func valueProvider(r *http.Request) string {
	if val := r.FormValue("provider"); val != "" {
		return val
	}

	return ""
}

func valueSourceLanguage(r *http.Request) string {
	if val := r.FormValue("lang"); val != "" {
		return val
	}

	if val := r.FormValue("source_lang"); val != "" {
		return val
	}

	return recognize.Auto
}

func valueTargetLanguage(r *http.Request) string {
	if val := r.FormValue("target"); val != "" {
		return val
	}

	if val := r.FormValue("target_lang"); val != "" {
		return val
	}

	return ""
}

func valueFormat(r *http.Request) string {
	return r.FormValue("format")
}

// valueCredentials reads a caller-supplied provider key. The header wins
// over the form value.
func valueCredentials(r *http.Request) service.Credentials {
	if val := r.Header.Get("X-Provider-Key"); val != "" {
		return service.Credentials{APIKey: val}
	}

	return service.Credentials{APIKey: r.FormValue("api_key")}
}

func valueRequestID(r *http.Request) string {
	if val := r.Header.Get("X-Request-ID"); val != "" {
		return val
	}

	return uuid.New().String()
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// readImage reads an upload from the multipart "file" field or, failing
// that, from the raw request body.
func (s *HTTPServer) readImage(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	if file, _, err := r.FormFile("file"); err == nil {
		defer file.Close()

		data, err := io.ReadAll(file)

		if err != nil {
			return nil, err
		}

		if len(data) == 0 {
			return nil, errEmptyImage
		}

		return data, nil
	}

	data, err := io.ReadAll(r.Body)

	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, errEmptyImage
	}

	return data, nil
}
