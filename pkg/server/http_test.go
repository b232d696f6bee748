package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dasmlab/fukidashi/pkg/export"
	"github.com/dasmlab/fukidashi/pkg/recognize"
	"github.com/dasmlab/fukidashi/pkg/service"
	"github.com/dasmlab/fukidashi/pkg/translate"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newLibreServer fakes LibreTranslate, answering "<target>:<q>".
func newLibreServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/languages" {
			w.Write([]byte(`[{"code":"en","name":"English"},{"code":"ja","name":"Japanese"}]`))
			return
		}

		var req struct {
			Q      string `json:"q"`
			Target string `json:"target"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"translatedText": req.Target + ":" + req.Q})
	}))
	t.Cleanup(srv.Close)

	return srv
}

type stubEngine struct {
	detections []recognize.Detection
}

func (e *stubEngine) Recognize(ctx context.Context, image []byte) ([]recognize.Detection, error) {
	return e.detections, nil
}

func (e *stubEngine) Close() error { return nil }

func box(x, y float64) [][2]float64 {
	return [][2]float64{{x, y}, {x + 10, y}, {x + 10, y + 10}, {x, y + 10}}
}

type testEnv struct {
	server *httptest.Server
	jobs   *service.JobQueue
}

func newTestEnv(t *testing.T, withRecognition, withProcessor bool) *testEnv {
	t.Helper()

	libre := newLibreServer(t)

	var recognizer *recognize.Recognizer
	if withRecognition {
		factory := func(ctx context.Context, pass recognize.Pass) (recognize.Engine, error) {
			if pass.Key() != "en,ja" {
				return &stubEngine{}, nil
			}
			return &stubEngine{detections: []recognize.Detection{
				{Text: "ありがとう", Box: box(0, 100), Confidence: 0.9},
				{Text: "こんにちは", Box: box(0, 0), Confidence: 0.8},
			}}, nil
		}
		cache := recognize.NewEngineCache(factory, newTestLogger())
		t.Cleanup(func() { cache.Close() })
		recognizer = recognize.NewRecognizer(cache, recognize.Options{Logger: newTestLogger()})
	}

	pipeline, err := service.NewPipeline(service.PipelineConfig{
		Providers: map[string]translate.Config{
			"libre": {Type: translate.ProviderLibreTranslate, BaseURL: libre.URL},
		},
		DefaultProvider: "libre",
		Recognizer:      recognizer,
		Logger:          newTestLogger(),
	})
	require.NoError(t, err)

	jobs := service.NewJobQueue(newTestLogger())
	if withProcessor {
		jobs.SetProcessor(service.NewJobProcessor(context.Background(), pipeline, time.Minute, newTestLogger()))
	}

	s := NewHTTPServer(pipeline, jobs, Options{
		PollInterval: 5 * time.Millisecond,
		Logger:       newTestLogger(),
	})

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, jobs: jobs}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) postImage(t *testing.T, path string, image []byte, fields map[string]string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", "page.png")
	require.NoError(t, err)
	_, err = fw.Write(image)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(e.server.URL+path, mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()

	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, false, false)

	resp := env.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", decode[map[string]string](t, resp)["status"])

	resp = env.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProviders(t *testing.T) {
	env := newTestEnv(t, true, false)

	body := decode[map[string]any](t, env.get(t, "/api/v1/providers"))
	assert.Equal(t, []any{"libre"}, body["providers"])
	assert.Equal(t, "libre", body["default"])
	assert.Equal(t, true, body["recognition_enabled"])
	assert.Len(t, body["languages"], len(recognize.SupportedLanguages()))
	assert.Equal(t, map[string]any{"libre": []any{"en", "ja"}}, body["provider_languages"])
}

func TestTranslate(t *testing.T) {
	env := newTestEnv(t, false, false)

	resp := env.postJSON(t, "/api/v1/translate", TranslateRequest{
		Texts:      []string{"hola", "", "gracias"},
		SourceLang: "es",
		TargetLang: "en",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[TranslateResponse](t, resp)
	assert.Equal(t, "libre", body.Provider)
	require.Len(t, body.Fragments, 3)
	assert.Equal(t, "en:hola", body.Fragments[0].TranslatedText)
	assert.Equal(t, "", body.Fragments[1].TranslatedText)
	assert.Equal(t, translate.StatusTranslated, body.Fragments[1].Status)
	assert.Equal(t, 2, body.Fragments[2].ID)
}

func TestTranslateErrors(t *testing.T) {
	env := newTestEnv(t, false, false)

	resp := env.postJSON(t, "/api/v1/translate", TranslateRequest{Texts: []string{"a"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.postJSON(t, "/api/v1/translate", TranslateRequest{Texts: []string{"a"}, TargetLang: "en", Provider: "deepl"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode[map[string]string](t, resp)["error"], "unknown provider")

	resp, err := http.Post(env.server.URL+"/api/v1/translate", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRecognizeAndTranslate(t *testing.T) {
	env := newTestEnv(t, true, false)

	resp := env.postImage(t, "/api/v1/recognize", []byte("png"), map[string]string{"lang": "japanese", "target": "en"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	outcome := decode[service.Outcome](t, resp)
	assert.Equal(t, recognize.Japanese, outcome.Language)
	assert.Equal(t, "en,ja", outcome.Pass)
	require.Len(t, outcome.Fragments, 2)
	assert.Equal(t, "en:こんにちは", outcome.Fragments[0].TranslatedText)
	assert.Equal(t, "en:ありがとう", outcome.Fragments[1].TranslatedText)
}

func TestRecognizeOnly(t *testing.T) {
	env := newTestEnv(t, true, false)

	resp, err := http.Post(env.server.URL+"/api/v1/recognize?lang=ja", "image/png", bytes.NewReader([]byte("png")))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	outcome := decode[service.Outcome](t, resp)
	require.Len(t, outcome.Fragments, 2)
	assert.Equal(t, "こんにちは", outcome.Fragments[0].OriginalText)
	assert.Equal(t, translate.StatusPending, outcome.Fragments[0].Status)
	assert.Empty(t, outcome.Fragments[0].TranslatedText)
}

func TestRecognizeCSV(t *testing.T) {
	env := newTestEnv(t, true, false)

	resp := env.postImage(t, "/api/v1/recognize?format=csv", []byte("png"), map[string]string{"lang": "ja", "target": "en"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, export.FormatCSV.ContentType(), resp.Header.Get("Content-Type"))

	rows, err := csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "en:こんにちは", rows[1][2])
}

func TestRecognizeErrors(t *testing.T) {
	env := newTestEnv(t, false, false)
	resp := env.postImage(t, "/api/v1/recognize", []byte("png"), nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	env = newTestEnv(t, true, false)
	resp, err := http.Post(env.server.URL+"/api/v1/recognize", "image/png", bytes.NewReader(nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.postImage(t, "/api/v1/recognize", []byte("png"), map[string]string{"lang": "klingon"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.postImage(t, "/api/v1/recognize?format=pdf", []byte("png"), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func waitForJob(t *testing.T, env *testEnv, id string) service.JobSnapshot {
	t.Helper()

	var snap service.JobSnapshot
	require.Eventually(t, func() bool {
		resp, err := http.Get(env.server.URL + "/api/v1/jobs/" + id)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return false
		}
		return snap.Status.Done()
	}, 5*time.Second, 10*time.Millisecond)

	return snap
}

func TestJobFromFragments(t *testing.T) {
	env := newTestEnv(t, false, true)

	resp := env.postJSON(t, "/api/v1/jobs", TranslateRequest{
		Texts:      []string{"bonjour"},
		SourceLang: "fr",
		TargetLang: "en",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	created := decode[service.JobSnapshot](t, resp)
	require.NotEmpty(t, created.ID)
	assert.NotEmpty(t, created.RequestID)
	assert.Equal(t, "/api/v1/jobs/"+created.ID, resp.Header.Get("Location"))

	snap := waitForJob(t, env, created.ID)
	require.Equal(t, service.JobStatusCompleted, snap.Status, snap.Error)
	require.Len(t, snap.Fragments, 1)
	assert.Equal(t, "en:bonjour", snap.Fragments[0].TranslatedText)

	resp = env.get(t, "/api/v1/jobs/"+created.ID+"/export?format=csv")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), created.ID+".csv")

	rows, err := csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "en:bonjour", rows[1][2])

	resp = env.get(t, "/api/v1/jobs/"+created.ID+"/export")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := decode[export.Document](t, resp)
	assert.Equal(t, "fr", doc.Language)
	require.Len(t, doc.Items, 1)
}

func TestJobFromImage(t *testing.T) {
	env := newTestEnv(t, true, true)

	resp := env.postImage(t, "/api/v1/jobs", []byte("png"), map[string]string{"lang": "ja", "target": "en"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	created := decode[service.JobSnapshot](t, resp)
	snap := waitForJob(t, env, created.ID)

	require.Equal(t, service.JobStatusCompleted, snap.Status, snap.Error)
	assert.Equal(t, recognize.Japanese, snap.Language)
	assert.Len(t, snap.Fragments, 2)
}

func TestJobErrors(t *testing.T) {
	env := newTestEnv(t, false, false)

	resp := env.get(t, "/api/v1/jobs/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.postImage(t, "/api/v1/jobs", []byte("png"), map[string]string{"target": "en"})
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp = env.postJSON(t, "/api/v1/jobs", TranslateRequest{TargetLang: "en"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	job, err := env.jobs.CreateJob(service.JobRequest{Fragments: translate.NewFragments("a"), TargetLang: "en"})
	require.NoError(t, err)

	resp = env.get(t, "/api/v1/jobs/"+job.ID+"/export")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func readEvents(t *testing.T, body io.Reader) []service.JobSnapshot {
	t.Helper()

	var events []service.JobSnapshot
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var snap service.JobSnapshot
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap))
		events = append(events, snap)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestJobEvents(t *testing.T) {
	env := newTestEnv(t, false, false)

	job, err := env.jobs.CreateJob(service.JobRequest{Fragments: translate.NewFragments("a"), TargetLang: "en"})
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		job.UpdateStatus(service.JobStatusProcessing, "starting")
		job.UpdateProgress(60, "translating")
		time.Sleep(30 * time.Millisecond)
		job.SetResult("es", translate.NewFragments("a"))
	}()

	resp := env.get(t, "/api/v1/jobs/"+job.ID+"/events")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(t, resp.Body)
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, service.JobStatusQueued, events[0].Status)

	last := events[len(events)-1]
	assert.Equal(t, service.JobStatusCompleted, last.Status)
	assert.EqualValues(t, 100, last.ProgressPercent)
	assert.Len(t, last.Fragments, 1)
}

func TestJobEventsFinishedJob(t *testing.T) {
	env := newTestEnv(t, false, false)

	job, err := env.jobs.CreateJob(service.JobRequest{Fragments: translate.NewFragments("a"), TargetLang: "en"})
	require.NoError(t, err)
	job.SetResult("es", translate.NewFragments("a"))

	resp := env.get(t, "/api/v1/jobs/"+job.ID+"/events")
	events := readEvents(t, resp.Body)

	require.Len(t, events, 1)
	assert.Equal(t, service.JobStatusCompleted, events[0].Status)
}
