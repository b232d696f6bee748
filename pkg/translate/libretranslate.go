package translate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultLibreTranslateURL is the public LibreTranslate instance.
	DefaultLibreTranslateURL = "https://libretranslate.com"
	// DefaultLibreTranslateTimeout is the default timeout for HTTP requests.
	DefaultLibreTranslateTimeout = 25 * time.Second
)

// LibreTranslateClient implements the Translator interface using LibreTranslate.
// LibreTranslate is an open-source machine translation API, either self-hosted
// or shared public infrastructure. It has no batching, so the orchestrator
// calls it once per fragment.
type LibreTranslateClient struct {
	name      string
	baseURL   string
	apiKey    string
	transport *Transport
	logger    *logrus.Logger
}

var _ Translator = (*LibreTranslateClient)(nil)

// NewLibreTranslateClient creates a new LibreTranslate client.
func NewLibreTranslateClient(name, baseURL, apiKey string, transport *Transport, logger *logrus.Logger) *LibreTranslateClient {
	if name == "" {
		name = string(ProviderLibreTranslate)
	}
	if baseURL == "" {
		baseURL = DefaultLibreTranslateURL
	}
	if logger == nil {
		logger = logrus.New()
	}
	if transport == nil {
		transport = NewTransport(DefaultRetryPolicy, logger)
	}

	return &LibreTranslateClient{
		name:      name,
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		transport: transport,
		logger:    logger,
	}
}

// libreRequest represents a LibreTranslate API request.
type libreRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"` // e.g., "en" or "auto"
	Target string `json:"target"` // e.g., "fr"
	Format string `json:"format"` // "text" or "html"
	APIKey string `json:"api_key,omitempty"`
}

// libreResponse represents a LibreTranslate API response.
type libreResponse struct {
	TranslatedText *string `json:"translatedText"`
}

// libreLanguage represents one entry of the /languages endpoint.
type libreLanguage struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func (c *LibreTranslateClient) Name() string {
	return c.name
}

// Translate translates text from source language to target language.
func (c *LibreTranslateClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	c.logger.WithFields(logrus.Fields{
		"provider":    c.name,
		"source_lang": sourceLang,
		"target_lang": targetLang,
		"text_length": len(text),
	}).Debug("Translating text with LibreTranslate")

	metrics := NewMetricsCollector(c.name)
	startTime := time.Now()

	req := libreRequest{
		Q:      text,
		Source: sourceLang,
		Target: targetLang,
		Format: "text",
		APIKey: c.apiKey,
	}

	var resp libreResponse
	err := c.transport.PostJSON(ctx, c.name, c.baseURL+"/translate", nil, &req, &resp)
	if err == nil && resp.TranslatedText == nil {
		err = fmt.Errorf("%w: missing translatedText", ErrMalformedResponse)
	}

	duration := time.Since(startTime)
	metrics.RecordTranslationRequest("single", duration, 1, err == nil)

	if err != nil {
		return "", err
	}

	c.logger.WithFields(logrus.Fields{
		"provider":    c.name,
		"source_lang": sourceLang,
		"target_lang": targetLang,
		"duration_ms": duration.Milliseconds(),
	}).Debug("Translation completed successfully")

	return *resp.TranslatedText, nil
}

// CheckHealth verifies that LibreTranslate is ready and operational.
func (c *LibreTranslateClient) CheckHealth(ctx context.Context) error {
	c.logger.Debug("Checking LibreTranslate health")

	// Use the /languages endpoint as a health check
	if err := c.transport.GetJSON(ctx, c.name, c.baseURL+"/languages", nil, nil); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	c.logger.Debug("LibreTranslate health check passed")
	return nil
}

// SupportedLanguages returns a list of language codes supported by LibreTranslate.
func (c *LibreTranslateClient) SupportedLanguages(ctx context.Context) ([]string, error) {
	var languages []libreLanguage
	if err := c.transport.GetJSON(ctx, c.name, c.baseURL+"/languages", nil, &languages); err != nil {
		return nil, fmt.Errorf("fetch languages: %w", err)
	}

	codes := make([]string, 0, len(languages))
	for _, lang := range languages {
		codes = append(codes, lang.Code)
	}

	c.logger.WithFields(logrus.Fields{
		"count": len(codes),
	}).Debug("Fetched supported languages")

	return codes, nil
}
