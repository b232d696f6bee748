package translate

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/text/language"
)

// ErrMissingCredentials is returned by providers that need an API key when none was configured.
var ErrMissingCredentials = errors.New("missing credentials")

// Translator is the capability every provider has: translating one text.
// This abstraction lets the orchestrator switch between backends
// (LLM chat, LibreTranslate, Argos) without knowing which one it drives.
type Translator interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Translate translates text from source language to target language.
	// sourceLang and targetLang should be in ISO 639-1 format (e.g., "en", "fr").
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)

	// CheckHealth verifies that the translation backend is ready and operational.
	CheckHealth(ctx context.Context) error

	// SupportedLanguages returns a list of language codes supported by this backend.
	SupportedLanguages(ctx context.Context) ([]string, error)
}

// BulkTranslator is implemented by providers that can translate many texts in
// a single request.
type BulkTranslator interface {
	Translator

	// TranslateBatch returns one translation per text, in the same order.
	// A response whose length differs from len(texts) is reported as
	// ErrContractViolation rather than returned.
	TranslateBatch(ctx context.Context, texts []string, sourceLang, targetLang string) ([]string, error)

	// BatchSize is the maximum number of texts per TranslateBatch call.
	BatchSize() int
}

// LanguageMapper handles conversion between the codes callers and the
// recognition engine use (e.g. "ch_sim", "fr-CA", "EN") and the ISO 639-1
// codes translation backends expect.
type LanguageMapper struct{}

// NewLanguageMapper creates a new language mapper instance.
func NewLanguageMapper() *LanguageMapper {
	return &LanguageMapper{}
}

var engineAliases = map[string]string{
	"ch_sim": "zh",
	"ch_tra": "zh",
	"zh_sim": "zh",
	"zh_tra": "zh",
}

// ToBackendCode converts a language code to backend format.
// Examples:
//   - "EN" -> "en"
//   - "fr-CA" -> "fr"
//   - "ch_sim" -> "zh"
//   - "auto" -> "auto"
func (lm *LanguageMapper) ToBackendCode(code string) string {
	lang := strings.ToLower(strings.TrimSpace(code))
	if lang == "" || lang == "auto" {
		return lang
	}

	if alias, ok := engineAliases[lang]; ok {
		return alias
	}

	if tag, err := language.Parse(strings.ReplaceAll(lang, "_", "-")); err == nil {
		if base, confidence := tag.Base(); confidence != language.No {
			return base.String()
		}
	}

	// Extract base language (before any "-" or "_")
	if idx := strings.IndexAny(lang, "-_"); idx >= 0 {
		lang = lang[:idx]
	}

	return lang
}

// commonLanguages is what the bundled backends are known to handle.
var commonLanguages = []string{
	"en", "es", "fr", "de", "it", "pt", "ru", "zh", "ja", "ko",
	"ar", "hi", "tr", "pl", "nl", "sv", "da", "fi", "no", "cs",
	"ro", "hu", "bg", "hr", "sk", "sl", "et", "lv", "lt", "el",
}
