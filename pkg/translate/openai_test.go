package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chatServer fakes an OpenAI-compatible chat endpoint. reply receives the
// decoded segments of each request and returns the assistant message content.
func chatServer(t *testing.T, reply func(segments []string) string) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var payload segmentsPayload
		if len(req.Messages) != 2 || json.Unmarshal([]byte(req.Messages[1].Content), &payload) != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": reply(payload.Segments)}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(server.Close)

	return server, &hits
}

func newTestOpenAI(url string, sleep *sleepRecorder) *OpenAIClient {
	transport := NewTransport(DefaultRetryPolicy, newTestLogger(), WithSleep(sleep.sleep))
	return NewOpenAIClient("openai", url, "test-key", "", 0, transport, newTestLogger())
}

func TestOpenAITranslateBatch(t *testing.T) {
	var got segmentsPayload
	server, hits := chatServer(t, func(segments []string) string {
		got.Segments = segments
		return `{"translations":["Hello","Thank you"]}`
	})

	client := newTestOpenAI(server.URL, &sleepRecorder{})

	out, err := client.TranslateBatch(context.Background(), []string{"こんにちは", "ありがとう"}, "ja", "en")
	require.NoError(t, err)

	assert.Equal(t, []string{"Hello", "Thank you"}, out)
	assert.Equal(t, []string{"こんにちは", "ありがとう"}, got.Segments)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, DefaultBulkBatchSize, client.BatchSize())
}

func TestOpenAIMissingKey(t *testing.T) {
	client := NewOpenAIClient("openai", "http://127.0.0.1:1", "", "", 0, nil, newTestLogger())

	_, err := client.TranslateBatch(context.Background(), []string{"a"}, "ja", "en")
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestParseTranslations(t *testing.T) {
	texts := []string{"a", "b"}

	t.Run("plain", func(t *testing.T) {
		out, err := parseTranslations(`{"translations":["A","B"]}`, texts)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B"}, out)
	})

	t.Run("code fence", func(t *testing.T) {
		out, err := parseTranslations("```json\n{\"translations\":[\"A\",\"B\"]}\n```", texts)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B"}, out)
	})

	t.Run("null entries keep original", func(t *testing.T) {
		out, err := parseTranslations(`{"translations":["A",null]}`, texts)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "b"}, out)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := parseTranslations("Sure! Here you go: A, B", texts)
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := parseTranslations(`{"result":["A","B"]}`, texts)
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("not an array", func(t *testing.T) {
		_, err := parseTranslations(`{"translations":"A B"}`, texts)
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("bare array", func(t *testing.T) {
		_, err := parseTranslations(`["A","B"]`, texts)
		assert.ErrorIs(t, err, ErrMalformedResponse)
	})

	t.Run("length mismatch", func(t *testing.T) {
		_, err := parseTranslations(`{"translations":["A"]}`, texts)
		assert.ErrorIs(t, err, ErrContractViolation)
	})
}

func TestLanguageMapper(t *testing.T) {
	lm := NewLanguageMapper()

	cases := map[string]string{
		"EN":     "en",
		"fr-CA":  "fr",
		"en_US":  "en",
		"ch_sim": "zh",
		"ch_tra": "zh",
		"zh-TW":  "zh",
		"auto":   "auto",
		"":       "",
		"ja":     "ja",
	}
	for in, want := range cases {
		assert.Equal(t, want, lm.ToBackendCode(in), "input %q", in)
	}
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(Config{Type: ProviderOpenAI, APIKey: "k", Logger: newTestLogger()})
	require.NoError(t, err)
	_, ok := p.(BulkTranslator)
	assert.True(t, ok)

	p, err = NewProvider(Config{Type: ProviderLibreTranslate, Logger: newTestLogger()})
	require.NoError(t, err)
	_, ok = p.(BulkTranslator)
	assert.False(t, ok)
	assert.Equal(t, "libretranslate", p.Name())

	_, err = NewProvider(Config{Type: "nope", Logger: newTestLogger()})
	assert.Error(t, err)

	_, err = NewProvider(Config{Type: ProviderOpenAI, BatchSize: -1, Logger: newTestLogger()})
	assert.ErrorIs(t, err, ErrInvalidChunkSize)
}

func TestParseProviderType(t *testing.T) {
	pt, err := ParseProviderType("LLM")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, pt)

	pt, err = ParseProviderType("libre")
	require.NoError(t, err)
	assert.Equal(t, ProviderLibreTranslate, pt)

	_, err = ParseProviderType("deepl")
	assert.Error(t, err)
}
