package translate

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ProviderType represents the kind of translation backend.
type ProviderType string

const (
	// ProviderOpenAI is an OpenAI-compatible chat completions API (bulk-capable).
	ProviderOpenAI ProviderType = "openai"
	// ProviderLibreTranslate is a LibreTranslate instance (sequential-only).
	ProviderLibreTranslate ProviderType = "libretranslate"
	// ProviderArgos is a self-hosted Argos Translate wrapper (sequential-only).
	ProviderArgos ProviderType = "argos"
)

// DefaultOpenAITimeout is the per-request timeout for chat requests.
const DefaultOpenAITimeout = 90 * time.Second

// Config holds configuration for creating a provider instance.
type Config struct {
	// Name labels the provider in logs and metrics. Defaults to the type.
	Name string
	// Type specifies which backend to use.
	Type ProviderType
	// BaseURL is the base URL for the backend API.
	BaseURL string
	// APIKey authenticates against the backend, when it needs one.
	APIKey string
	// Model selects the chat model for LLM providers.
	Model string
	// BatchSize is the maximum texts per request for bulk providers.
	// Zero selects the default; negative values are rejected.
	BatchSize int
	// Timeout bounds a single HTTP attempt. Zero selects the backend default.
	Timeout time.Duration
	// Retry bounds retries on throttling.
	Retry RetryPolicy
	// Logger is the logger instance to use. If nil, a default logger is created.
	Logger *logrus.Logger
	// TransportOptions are passed to the provider's Transport.
	TransportOptions []TransportOption
}

// NewProvider creates a Translator based on the configuration. Bulk-capable
// backends also implement BulkTranslator.
func NewProvider(cfg Config) (Translator, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.BatchSize < 0 {
		return nil, fmt.Errorf("provider %q: %w (got %d)", cfg.Name, ErrInvalidChunkSize, cfg.BatchSize)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		switch cfg.Type {
		case ProviderOpenAI:
			timeout = DefaultOpenAITimeout
		case ProviderArgos:
			timeout = DefaultArgosTimeout
		default:
			timeout = DefaultLibreTranslateTimeout
		}
	}

	options := append([]TransportOption{WithHTTPClient(&http.Client{Timeout: timeout})}, cfg.TransportOptions...)
	transport := NewTransport(cfg.Retry, cfg.Logger, options...)

	cfg.Logger.WithFields(logrus.Fields{
		"provider": cfg.Name,
		"type":     cfg.Type,
		"base_url": cfg.BaseURL,
	}).Debug("Creating translation provider")

	switch cfg.Type {
	case ProviderOpenAI:
		return NewOpenAIClient(cfg.Name, cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.BatchSize, transport, cfg.Logger), nil
	case ProviderLibreTranslate:
		return NewLibreTranslateClient(cfg.Name, cfg.BaseURL, cfg.APIKey, transport, cfg.Logger), nil
	case ProviderArgos:
		return NewArgosClient(cfg.Name, cfg.BaseURL, transport, cfg.Logger), nil
	default:
		cfg.Logger.WithFields(logrus.Fields{
			"type": cfg.Type,
		}).Error("Unknown translation provider")
		return nil, fmt.Errorf("unknown translation provider: %s", cfg.Type)
	}
}

// ParseProviderType parses a string into a ProviderType.
func ParseProviderType(s string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai", "llm":
		return ProviderOpenAI, nil
	case "libretranslate", "libre":
		return ProviderLibreTranslate, nil
	case "argos":
		return ProviderArgos, nil
	default:
		return "", fmt.Errorf("unknown provider type: %s (supported: openai, libretranslate, argos)", s)
	}
}
