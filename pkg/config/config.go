// Package config loads the daemon's YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/dasmlab/fukidashi/pkg/recognize"
	"github.com/dasmlab/fukidashi/pkg/translate"
)

// Config is the full daemon configuration.
type Config struct {
	Server      ServerConfig              `yaml:"server"`
	Translation TranslationConfig         `yaml:"translation"`
	Providers   map[string]ProviderConfig `yaml:"providers"`
	Recognition RecognitionConfig         `yaml:"recognition"`
	Jobs        JobsConfig                `yaml:"jobs"`
}

type ServerConfig struct {
	GRPCPort int    `yaml:"grpc_port"`
	HTTPPort int    `yaml:"http_port"`
	LogLevel string `yaml:"log_level"`
}

type TranslationConfig struct {
	DefaultProvider  string `yaml:"default_provider"`
	FallbackProvider string `yaml:"fallback_provider"`

	// MaxConcurrency is the number of chunk requests in flight per call.
	MaxConcurrency int `yaml:"max_concurrency"`
	// RequestsPerSecond paces chunk requests. Zero disables pacing.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	Retry RetryConfig `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type ProviderConfig struct {
	Type string `yaml:"type"`

	URL   string `yaml:"url"`
	Token string `yaml:"token"`

	Model     string        `yaml:"model"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

type RecognitionConfig struct {
	Enabled bool `yaml:"enabled"`

	Command        []string      `yaml:"command"`
	SocketDir      string        `yaml:"socket_dir"`
	Workers        int           `yaml:"workers"`
	StartTimeout   time.Duration `yaml:"start_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	MinUsableDetections int     `yaml:"min_usable_detections"`
	MinConfidence       float64 `yaml:"min_confidence"`
	MergeNearby         bool    `yaml:"merge_nearby"`
	MergeThreshold      float64 `yaml:"merge_threshold"`
}

type JobsConfig struct {
	Timeout         time.Duration `yaml:"timeout"`
	MaxAge          time.Duration `yaml:"max_age"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// Default returns a configuration with one LibreTranslate provider, usable
// without a config file.
func Default() *Config {
	workers := recognize.DefaultWorkerConfig()

	return &Config{
		Server: ServerConfig{
			GRPCPort: 50051,
			HTTPPort: 8080,
			LogLevel: "info",
		},
		Translation: TranslationConfig{
			DefaultProvider: "libretranslate",
			MaxConcurrency:  1,
			Retry: RetryConfig{
				MaxAttempts: translate.DefaultRetryPolicy.MaxAttempts,
				BaseDelay:   translate.DefaultRetryPolicy.BaseDelay,
				MaxDelay:    translate.DefaultRetryPolicy.MaxDelay,
			},
		},
		Providers: map[string]ProviderConfig{
			"libretranslate": {Type: string(translate.ProviderLibreTranslate)},
		},
		Recognition: RecognitionConfig{
			Command:             workers.Command,
			SocketDir:           workers.SocketDir,
			Workers:             workers.Workers,
			StartTimeout:        workers.StartTimeout,
			RequestTimeout:      workers.RequestTimeout,
			MinUsableDetections: recognize.DefaultMinUsableDetections,
			MergeThreshold:      recognize.DefaultMergeThreshold,
		},
		Jobs: JobsConfig{
			Timeout:         10 * time.Minute,
			MaxAge:          time.Hour,
			CleanupInterval: 5 * time.Minute,
		},
	}
}

// Load reads path over the defaults and validates the result. Environment
// variables in the file are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	data = []byte(os.ExpandEnv(string(data)))

	var file Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.merge(&file)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// merge overlays the non-zero values of f.
func (c *Config) merge(f *Config) {
	if f.Server.GRPCPort != 0 {
		c.Server.GRPCPort = f.Server.GRPCPort
	}
	if f.Server.HTTPPort != 0 {
		c.Server.HTTPPort = f.Server.HTTPPort
	}
	if f.Server.LogLevel != "" {
		c.Server.LogLevel = f.Server.LogLevel
	}

	t := f.Translation
	if t.DefaultProvider != "" {
		c.Translation.DefaultProvider = t.DefaultProvider
	}
	if t.FallbackProvider != "" {
		c.Translation.FallbackProvider = t.FallbackProvider
	}
	if t.MaxConcurrency != 0 {
		c.Translation.MaxConcurrency = t.MaxConcurrency
	}
	if t.RequestsPerSecond != 0 {
		c.Translation.RequestsPerSecond = t.RequestsPerSecond
	}
	if t.Retry.MaxAttempts != 0 {
		c.Translation.Retry.MaxAttempts = t.Retry.MaxAttempts
	}
	if t.Retry.BaseDelay != 0 {
		c.Translation.Retry.BaseDelay = t.Retry.BaseDelay
	}
	if t.Retry.MaxDelay != 0 {
		c.Translation.Retry.MaxDelay = t.Retry.MaxDelay
	}

	if len(f.Providers) > 0 {
		c.Providers = f.Providers
	}

	r := f.Recognition
	c.Recognition.Enabled = r.Enabled
	c.Recognition.MergeNearby = r.MergeNearby
	if len(r.Command) > 0 {
		c.Recognition.Command = r.Command
	}
	if r.SocketDir != "" {
		c.Recognition.SocketDir = r.SocketDir
	}
	if r.Workers != 0 {
		c.Recognition.Workers = r.Workers
	}
	if r.StartTimeout != 0 {
		c.Recognition.StartTimeout = r.StartTimeout
	}
	if r.RequestTimeout != 0 {
		c.Recognition.RequestTimeout = r.RequestTimeout
	}
	if r.MinUsableDetections != 0 {
		c.Recognition.MinUsableDetections = r.MinUsableDetections
	}
	if r.MinConfidence != 0 {
		c.Recognition.MinConfidence = r.MinConfidence
	}
	if r.MergeThreshold != 0 {
		c.Recognition.MergeThreshold = r.MergeThreshold
	}

	if f.Jobs.Timeout != 0 {
		c.Jobs.Timeout = f.Jobs.Timeout
	}
	if f.Jobs.MaxAge != 0 {
		c.Jobs.MaxAge = f.Jobs.MaxAge
	}
	if f.Jobs.CleanupInterval != 0 {
		c.Jobs.CleanupInterval = f.Jobs.CleanupInterval
	}
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return errors.New("at least one provider must be configured")
	}

	for id, p := range c.Providers {
		if _, err := translate.ParseProviderType(p.Type); err != nil {
			return fmt.Errorf("provider %q: %w", id, err)
		}
		if p.BatchSize < 0 {
			return fmt.Errorf("provider %q: %w (got %d)", id, translate.ErrInvalidChunkSize, p.BatchSize)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("provider %q: timeout must not be negative", id)
		}
	}

	t := c.Translation
	if _, ok := c.Providers[t.DefaultProvider]; !ok {
		return fmt.Errorf("default provider %q is not configured", t.DefaultProvider)
	}
	if t.FallbackProvider != "" {
		if _, ok := c.Providers[t.FallbackProvider]; !ok {
			return fmt.Errorf("fallback provider %q is not configured", t.FallbackProvider)
		}
	}
	if t.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1 (got %d)", t.MaxConcurrency)
	}
	if t.RequestsPerSecond < 0 {
		return errors.New("requests_per_second must not be negative")
	}
	if t.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1 (got %d)", t.Retry.MaxAttempts)
	}
	if t.Retry.BaseDelay <= 0 {
		return errors.New("retry.base_delay must be positive")
	}
	if t.Retry.MaxDelay < t.Retry.BaseDelay {
		return errors.New("retry.max_delay must not be below retry.base_delay")
	}

	r := c.Recognition
	if r.Enabled && len(r.Command) == 0 {
		return errors.New("recognition.command is required when recognition is enabled")
	}
	if r.MinUsableDetections < 1 {
		return fmt.Errorf("recognition.min_usable_detections must be at least 1 (got %d)", r.MinUsableDetections)
	}
	if r.MinConfidence < 0 || r.MinConfidence > 1 {
		return fmt.Errorf("recognition.min_confidence must be within [0, 1] (got %g)", r.MinConfidence)
	}

	j := c.Jobs
	if j.Timeout < 0 || j.MaxAge < 0 || j.CleanupInterval < 0 {
		return errors.New("jobs durations must not be negative")
	}

	return nil
}

// RetryPolicy converts the retry section.
func (c *Config) RetryPolicy() translate.RetryPolicy {
	return translate.RetryPolicy{
		MaxAttempts: c.Translation.Retry.MaxAttempts,
		BaseDelay:   c.Translation.Retry.BaseDelay,
		MaxDelay:    c.Translation.Retry.MaxDelay,
	}
}

// ProviderConfigs converts the providers section into factory configs.
func (c *Config) ProviderConfigs() map[string]translate.Config {
	out := make(map[string]translate.Config, len(c.Providers))
	for id, p := range c.Providers {
		pt, _ := translate.ParseProviderType(p.Type)
		out[id] = translate.Config{
			Name:      id,
			Type:      pt,
			BaseURL:   p.URL,
			APIKey:    p.Token,
			Model:     p.Model,
			BatchSize: p.BatchSize,
			Timeout:   p.Timeout,
			Retry:     c.RetryPolicy(),
		}
	}
	return out
}

// Pacer returns the chunk request limiter, or nil when pacing is off.
func (c *Config) Pacer() *rate.Limiter {
	rps := c.Translation.RequestsPerSecond
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// WorkerConfig converts the recognition section into engine settings.
func (c *Config) WorkerConfig() recognize.WorkerConfig {
	r := c.Recognition
	return recognize.WorkerConfig{
		Command:        r.Command,
		SocketDir:      r.SocketDir,
		Workers:        r.Workers,
		StartTimeout:   r.StartTimeout,
		RequestTimeout: r.RequestTimeout,
	}
}

// RecognizerOptions converts the recognition section into selection settings.
func (c *Config) RecognizerOptions() recognize.Options {
	r := c.Recognition
	return recognize.Options{
		MinUsableDetections: r.MinUsableDetections,
		MinConfidence:       r.MinConfidence,
		MergeNearby:         r.MergeNearby,
		MergeThreshold:      r.MergeThreshold,
	}
}
