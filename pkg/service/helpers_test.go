package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/dasmlab/fukidashi/pkg/recognize"
	"github.com/dasmlab/fukidashi/pkg/translate"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type libreCall struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	APIKey string `json:"api_key"`
}

// libreServer fakes LibreTranslate, answering "<target>:<q>".
type libreServer struct {
	*httptest.Server
	mu    sync.Mutex
	calls []libreCall
}

func newLibreServer(t *testing.T) *libreServer {
	t.Helper()

	s := &libreServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(`[{"code":"en","name":"English"}]`))
			return
		}

		var call libreCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		s.calls = append(s.calls, call)
		s.mu.Unlock()

		json.NewEncoder(w).Encode(map[string]string{"translatedText": call.Target + ":" + call.Q})
	}))
	t.Cleanup(s.Close)

	return s
}

func (s *libreServer) recorded() []libreCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]libreCall(nil), s.calls...)
}

// stubEngine returns the same detections for every image.
type stubEngine struct {
	detections []recognize.Detection
}

func (e *stubEngine) Recognize(ctx context.Context, image []byte) ([]recognize.Detection, error) {
	return e.detections, ctx.Err()
}

func (e *stubEngine) Close() error { return nil }

func newStubRecognizer(byKey map[string][]recognize.Detection) *recognize.Recognizer {
	factory := func(ctx context.Context, pass recognize.Pass) (recognize.Engine, error) {
		return &stubEngine{detections: byKey[pass.Key()]}, nil
	}
	cache := recognize.NewEngineCache(factory, newTestLogger())
	return recognize.NewRecognizer(cache, recognize.Options{Logger: newTestLogger()})
}

func box(x, y float64) [][2]float64 {
	return [][2]float64{{x, y}, {x + 10, y}, {x + 10, y + 10}, {x, y + 10}}
}

func newTestPipeline(t *testing.T, libreURL string, recognizer *recognize.Recognizer) *Pipeline {
	t.Helper()

	p, err := NewPipeline(PipelineConfig{
		Providers: map[string]translate.Config{
			"libre": {Type: translate.ProviderLibreTranslate, BaseURL: libreURL},
		},
		DefaultProvider: "libre",
		Recognizer:      recognizer,
		Logger:          newTestLogger(),
	})
	require.NoError(t, err)
	return p
}
