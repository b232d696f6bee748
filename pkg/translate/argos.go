package translate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultArgosURL is the default base URL for a self-hosted Argos Translate service.
	DefaultArgosURL = "http://127.0.0.1:5000"
	// DefaultArgosTimeout is the default timeout for HTTP requests.
	DefaultArgosTimeout = 30 * time.Second
)

// ArgosClient implements the Translator interface using an Argos Translate
// HTTP wrapper. Like LibreTranslate it translates one text per request.
type ArgosClient struct {
	name      string
	baseURL   string
	transport *Transport
	logger    *logrus.Logger
}

var _ Translator = (*ArgosClient)(nil)

// NewArgosClient creates a new Argos Translate client.
func NewArgosClient(name, baseURL string, transport *Transport, logger *logrus.Logger) *ArgosClient {
	if name == "" {
		name = string(ProviderArgos)
	}
	if baseURL == "" {
		baseURL = DefaultArgosURL
	}
	if logger == nil {
		logger = logrus.New()
	}
	if transport == nil {
		transport = NewTransport(DefaultRetryPolicy, logger)
	}

	return &ArgosClient{
		name:      name,
		baseURL:   strings.TrimRight(baseURL, "/"),
		transport: transport,
		logger:    logger,
	}
}

// argosRequest represents an Argos Translate API request.
type argosRequest struct {
	Text       string `json:"text"`
	SourceLang string `json:"source_lang"`
	TargetLang string `json:"target_lang"`
}

// argosResponse represents an Argos Translate API response.
type argosResponse struct {
	TranslatedText *string `json:"translated_text"`
}

func (c *ArgosClient) Name() string {
	return c.name
}

// Translate translates text from source language to target language.
func (c *ArgosClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	metrics := NewMetricsCollector(c.name)
	startTime := time.Now()

	req := argosRequest{
		Text:       text,
		SourceLang: sourceLang,
		TargetLang: targetLang,
	}

	var resp argosResponse
	err := c.transport.PostJSON(ctx, c.name, c.baseURL+"/translate", nil, &req, &resp)
	if err == nil && resp.TranslatedText == nil {
		err = fmt.Errorf("%w: missing translated_text", ErrMalformedResponse)
	}

	metrics.RecordTranslationRequest("single", time.Since(startTime), 1, err == nil)

	if err != nil {
		return "", err
	}

	return *resp.TranslatedText, nil
}

// CheckHealth verifies that Argos Translate is ready and operational.
func (c *ArgosClient) CheckHealth(ctx context.Context) error {
	if err := c.transport.GetJSON(ctx, c.name, c.baseURL+"/health", nil, nil); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// SupportedLanguages returns the language codes Argos ships packages for.
func (c *ArgosClient) SupportedLanguages(ctx context.Context) ([]string, error) {
	return append([]string(nil), commonLanguages...), nil
}
