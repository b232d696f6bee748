package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dasmlab/fukidashi/pkg/recognize"
	"github.com/dasmlab/fukidashi/pkg/translate"
)

var (
	// ErrUnknownProvider is returned when a request names a provider that is not configured.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrRecognitionDisabled is returned by image requests when no recognizer is configured.
	ErrRecognitionDisabled = errors.New("recognition is not enabled")
)

// Credentials override a provider's configured secrets for one request.
type Credentials struct {
	APIKey string `json:"api_key,omitempty"`
}

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	// Providers maps provider ids to factory configs.
	Providers map[string]translate.Config
	// DefaultProvider is used when a request names none.
	DefaultProvider string
	// FallbackProvider, when set, retries fragments of failed chunks.
	FallbackProvider string
	// Orchestrator holds concurrency and pacing settings. Its Fallback and
	// Logger fields are set by NewPipeline.
	Orchestrator translate.Options
	// Recognizer runs image recognition. Nil disables image requests.
	Recognizer *recognize.Recognizer
	// Logger is the logger instance to use. If nil, a default logger is created.
	Logger *logrus.Logger
}

// Pipeline is the caller-facing entry point: recognition followed by
// translation, or translation of fragments the caller already has.
type Pipeline struct {
	configs         map[string]translate.Config
	providers       map[string]translate.Translator
	defaultProvider string
	orchestrator    *translate.Orchestrator
	recognizer      *recognize.Recognizer
	logger          *logrus.Logger
}

// Outcome is the result of an image request.
type Outcome struct {
	// Language is the recognition result's language: a script code, "auto"
	// when the multi-script pass won, or "und".
	Language  string               `json:"language"`
	Pass      string               `json:"pass,omitempty"`
	Fragments []translate.Fragment `json:"fragments"`
}

// NewPipeline constructs every configured provider.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	p := &Pipeline{
		configs:         make(map[string]translate.Config, len(cfg.Providers)),
		providers:       make(map[string]translate.Translator, len(cfg.Providers)),
		defaultProvider: cfg.DefaultProvider,
		recognizer:      cfg.Recognizer,
		logger:          cfg.Logger,
	}

	for id, pc := range cfg.Providers {
		pc.Name = id
		pc.Logger = cfg.Logger

		provider, err := translate.NewProvider(pc)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", id, err)
		}
		p.configs[id] = pc
		p.providers[id] = provider
	}

	if _, ok := p.providers[p.defaultProvider]; !ok {
		return nil, fmt.Errorf("%w: default %q", ErrUnknownProvider, p.defaultProvider)
	}

	opts := cfg.Orchestrator
	opts.Logger = cfg.Logger
	if cfg.FallbackProvider != "" {
		fallback, ok := p.providers[cfg.FallbackProvider]
		if !ok {
			return nil, fmt.Errorf("%w: fallback %q", ErrUnknownProvider, cfg.FallbackProvider)
		}
		opts.Fallback = fallback
	}
	p.orchestrator = translate.NewOrchestrator(opts)

	cfg.Logger.WithFields(logrus.Fields{
		"providers":   p.ProviderNames(),
		"default":     p.defaultProvider,
		"fallback":    cfg.FallbackProvider,
		"recognition": p.recognizer != nil,
	}).Info("Translation pipeline ready")

	return p, nil
}

// ProviderNames returns the configured provider ids, sorted.
func (p *Pipeline) ProviderNames() []string {
	names := make([]string, 0, len(p.providers))
	for id := range p.providers {
		names = append(names, id)
	}
	sort.Strings(names)
	return names
}

// DefaultProvider returns the id used when a request names no provider.
func (p *Pipeline) DefaultProvider() string {
	return p.defaultProvider
}

// RecognitionEnabled reports whether image requests are served.
func (p *Pipeline) RecognitionEnabled() bool {
	return p.recognizer != nil
}

// CheckHealth probes every configured provider. The result maps provider
// ids to their failure; healthy providers are absent.
func (p *Pipeline) CheckHealth(ctx context.Context) map[string]error {
	failed := make(map[string]error)
	for _, id := range p.ProviderNames() {
		if err := p.providers[id].CheckHealth(ctx); err != nil {
			p.logger.WithError(err).WithField("provider", id).Warn("Provider health check failed")
			failed[id] = err
		}
	}
	return failed
}

// ProviderLanguages lists the language codes each provider accepts.
// Providers whose listing fails are left out.
func (p *Pipeline) ProviderLanguages(ctx context.Context) map[string][]string {
	languages := make(map[string][]string, len(p.providers))
	for _, id := range p.ProviderNames() {
		codes, err := p.providers[id].SupportedLanguages(ctx)
		if err != nil {
			p.logger.WithError(err).WithField("provider", id).Warn("Failed to list provider languages")
			continue
		}
		languages[id] = codes
	}
	return languages
}

// Provider resolves a provider choice. An empty choice selects the default.
// Non-empty credentials build a one-off instance with the caller's key.
func (p *Pipeline) Provider(choice string, creds Credentials) (translate.Translator, error) {
	if choice == "" {
		choice = p.defaultProvider
	}

	provider, ok := p.providers[choice]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, choice)
	}

	if creds.APIKey == "" {
		return provider, nil
	}

	cfg := p.configs[choice]
	cfg.APIKey = creds.APIKey
	return translate.NewProvider(cfg)
}

// TranslateFragments translates fragments the caller already has. The
// result has one fragment per input, in order. Only configuration errors
// and cancellation are returned as errors.
func (p *Pipeline) TranslateFragments(ctx context.Context, fragments []translate.Fragment, sourceLang, targetLang, choice string, creds Credentials) ([]translate.Fragment, error) {
	provider, err := p.Provider(choice, creds)
	if err != nil {
		return nil, err
	}
	return p.orchestrator.Translate(ctx, provider, fragments, sourceLang, targetLang)
}

// Recognize runs recognition alone.
func (p *Pipeline) Recognize(ctx context.Context, image []byte, sourceLang string) (recognize.Result, error) {
	if p.recognizer == nil {
		return recognize.Result{}, ErrRecognitionDisabled
	}
	return p.recognizer.Recognize(ctx, image, sourceLang)
}

// RecognizeAndTranslate finds text in image and translates it. The
// provider choice is resolved before any recognition work starts.
func (p *Pipeline) RecognizeAndTranslate(ctx context.Context, image []byte, sourceLang, targetLang, choice string, creds Credentials) (*Outcome, error) {
	if p.recognizer == nil {
		return nil, ErrRecognitionDisabled
	}

	provider, err := p.Provider(choice, creds)
	if err != nil {
		return nil, err
	}

	startTime := time.Now()

	result, err := p.recognizer.Recognize(ctx, image, sourceLang)
	if err != nil {
		return nil, err
	}

	fragments, err := p.orchestrator.Translate(ctx, provider, FragmentsFromDetections(result.Detections),
		TranslationSource(sourceLang, result.Language), targetLang)

	p.logger.WithFields(logrus.Fields{
		"provider":    provider.Name(),
		"language":    result.Language,
		"fragments":   len(fragments),
		"duration_ms": time.Since(startTime).Milliseconds(),
	}).Info("Image request completed")

	return &Outcome{Language: result.Language, Pass: result.Pass, Fragments: fragments}, err
}

// TranslationSource picks the source language handed to translation. A
// fixed request wins; otherwise the recognized language is used, and the
// multi-script or undetermined outcome leaves inference to the classifier.
func TranslationSource(requested, recognized string) string {
	if lang, err := recognize.Normalize(requested); err == nil && lang != recognize.Auto {
		return lang
	}
	if recognized == recognize.Undetermined || recognized == "" {
		return translate.AutoLanguage
	}
	return recognized
}

// FragmentsFromDetections numbers detections in their given order.
func FragmentsFromDetections(detections []recognize.Detection) []translate.Fragment {
	out := make([]translate.Fragment, len(detections))
	for i, d := range detections {
		out[i] = translate.Fragment{
			ID:           i,
			OriginalText: d.Text,
			Status:       translate.StatusPending,
			Box:          d.Box,
			Confidence:   d.Confidence,
		}
	}
	return out
}
