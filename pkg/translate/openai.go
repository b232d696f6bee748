package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultOpenAIURL is the default base URL for OpenAI-compatible chat APIs.
	DefaultOpenAIURL = "https://api.openai.com/v1"
	// DefaultOpenAIModel is used when no model is configured.
	DefaultOpenAIModel = "gpt-4o-mini"
	// DefaultBulkBatchSize is how many fragments go into one chat request.
	DefaultBulkBatchSize = 18
)

// ErrContractViolation is returned when a bulk response has a different
// number of translations than the request had texts.
var ErrContractViolation = errors.New("provider contract violation")

const (
	systemPrompt      = "You are a precise translator. Output strictly as JSON only, no markdown, no explanations."
	instructionPrompt = "Return ONLY valid JSON with key 'translations' (array of strings), same length as segments. No extra text."
)

// OpenAIClient implements BulkTranslator against an OpenAI-compatible chat
// completions endpoint. One chunk is one chat request.
type OpenAIClient struct {
	name        string
	baseURL     string
	apiKey      string
	model       string
	batchSize   int
	temperature float64
	transport   *Transport
	logger      *logrus.Logger
}

var _ BulkTranslator = (*OpenAIClient)(nil)

// NewOpenAIClient creates a new bulk-capable chat provider.
func NewOpenAIClient(name, baseURL, apiKey, model string, batchSize int, transport *Transport, logger *logrus.Logger) *OpenAIClient {
	if name == "" {
		name = string(ProviderOpenAI)
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIURL
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	if batchSize <= 0 {
		batchSize = DefaultBulkBatchSize
	}
	if logger == nil {
		logger = logrus.New()
	}
	if transport == nil {
		transport = NewTransport(DefaultRetryPolicy, logger)
	}

	return &OpenAIClient{
		name:        name,
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		model:       model,
		batchSize:   batchSize,
		temperature: 0.2,
		transport:   transport,
		logger:      logger,
	}
}

// chatMessage is one role-tagged message.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatRequest represents a chat completions request.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

// chatResponse represents the subset of a chat completions response we read.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// segmentsPayload is the user message content.
type segmentsPayload struct {
	SourceLanguage string   `json:"source_language"`
	TargetLanguage string   `json:"target_language"`
	Segments       []string `json:"segments"`
	Instructions   string   `json:"instructions"`
}

func (c *OpenAIClient) Name() string {
	return c.name
}

// BatchSize returns the maximum number of texts per request.
func (c *OpenAIClient) BatchSize() int {
	return c.batchSize
}

// Translate translates a single text with a one-element batch.
func (c *OpenAIClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	out, err := c.translate(ctx, "single", []string{text}, sourceLang, targetLang)
	if err != nil {
		return "", err
	}
	return out[0], nil
}

// TranslateBatch translates texts with exactly one chat request.
func (c *OpenAIClient) TranslateBatch(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return c.translate(ctx, "bulk", texts, sourceLang, targetLang)
}

func (c *OpenAIClient) translate(ctx context.Context, mode string, texts []string, sourceLang, targetLang string) ([]string, error) {
	metrics := NewMetricsCollector(c.name)
	startTime := time.Now()

	out, err := c.complete(ctx, texts, sourceLang, targetLang)
	metrics.RecordTranslationRequest(mode, time.Since(startTime), len(texts), err == nil)

	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"provider":    c.name,
		"source_lang": sourceLang,
		"target_lang": targetLang,
		"texts":       len(texts),
		"duration_ms": time.Since(startTime).Milliseconds(),
	}).Info("Batch translation completed successfully")

	return out, nil
}

func (c *OpenAIClient) complete(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%s: %w: api key", c.name, ErrMissingCredentials)
	}

	user, err := json.Marshal(segmentsPayload{
		SourceLanguage: sourceLang,
		TargetLanguage: targetLang,
		Segments:       texts,
		Instructions:   instructionPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode segments: %w", err)
	}

	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(user)},
		},
		Temperature:    c.temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.apiKey)

	var resp chatResponse
	if err := c.transport.PostJSON(ctx, c.name, c.baseURL+"/chat/completions", header, &req, &resp); err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in completion", ErrMalformedResponse)
	}

	return parseTranslations(resp.Choices[0].Message.Content, texts)
}

// CheckHealth verifies the API key against the models endpoint.
func (c *OpenAIClient) CheckHealth(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("%s: %w: api key", c.name, ErrMissingCredentials)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.apiKey)

	if err := c.transport.GetJSON(ctx, c.name, c.baseURL+"/models", header, nil); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// SupportedLanguages returns the languages the prompt is known to work with.
func (c *OpenAIClient) SupportedLanguages(ctx context.Context) ([]string, error) {
	return append([]string(nil), commonLanguages...), nil
}

var codeFence = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

// parseTranslations decodes the model's reply. The reply must be a JSON
// object whose "translations" key holds an array with one entry per text;
// null entries fall back to the original text.
func parseTranslations(content string, texts []string) ([]string, error) {
	content = strings.TrimSpace(content)
	if m := codeFence.FindStringSubmatch(content); len(m) > 1 {
		content = m[1]
	}

	var payload struct {
		Translations json.RawMessage `json:"translations"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("%w: reply is not a JSON object: %v", ErrMalformedResponse, err)
	}

	if len(payload.Translations) == 0 || string(payload.Translations) == "null" {
		return nil, fmt.Errorf("%w: missing translations key", ErrMalformedResponse)
	}

	var items []*string
	if err := json.Unmarshal(payload.Translations, &items); err != nil {
		return nil, fmt.Errorf("%w: translations is not an array of strings: %v", ErrMalformedResponse, err)
	}

	if len(items) != len(texts) {
		return nil, fmt.Errorf("%w: got %d translations for %d texts", ErrContractViolation, len(items), len(texts))
	}

	out := make([]string, len(items))
	for i, item := range items {
		if item == nil {
			out[i] = texts[i]
			continue
		}
		out[i] = *item
	}

	return out, nil
}
