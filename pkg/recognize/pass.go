package recognize

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Script codes understood by the recognition engine.
const (
	English            = "en"
	Japanese           = "ja"
	Korean             = "ko"
	Arabic             = "ar"
	French             = "fr"
	Spanish            = "es"
	German             = "de"
	Russian            = "ru"
	Portuguese         = "pt"
	Italian            = "it"
	Turkish            = "tr"
	ChineseSimplified  = "ch_sim"
	ChineseTraditional = "ch_tra"

	// Auto requests automatic language inference.
	Auto = "auto"
	// Undetermined is reported when no pass found any usable text.
	Undetermined = "und"
)

var (
	// ErrUnsupportedLanguage is returned for language codes the engine has no model for.
	ErrUnsupportedLanguage = errors.New("unsupported recognition language")
	// ErrInvalidPass is returned when a language set cannot be run in one pass.
	ErrInvalidPass = errors.New("invalid recognition pass")
)

// pairedOnly maps scripts whose models are only validated alongside one
// companion to that companion.
var pairedOnly = map[string]string{
	ChineseSimplified:  English,
	ChineseTraditional: English,
}

// escalationOrder is the order paired-only passes are tried in auto mode.
var escalationOrder = []string{ChineseSimplified, ChineseTraditional}

// multiScript is the cheap first pass in auto mode: every script that can
// share a pass with the others.
var multiScript = []string{Japanese, Korean, English, Arabic, French}

// supported lists every code a pass may contain.
var supported = map[string]bool{
	English: true, Japanese: true, Korean: true, Arabic: true, French: true,
	Spanish: true, German: true, Russian: true, Portuguese: true, Italian: true, Turkish: true,
	ChineseSimplified: true, ChineseTraditional: true,
}

var aliases = map[string]string{
	"zh":          ChineseSimplified,
	"zh-cn":       ChineseSimplified,
	"zh-hans":     ChineseSimplified,
	"zh_sim":      ChineseSimplified,
	"chinese_sim": ChineseSimplified,
	"zh-tw":       ChineseTraditional,
	"zh-hant":     ChineseTraditional,
	"zh_tra":      ChineseTraditional,
	"chinese_tra": ChineseTraditional,
	"english":     English,
	"japanese":    Japanese,
	"korean":      Korean,
	"arabic":      Arabic,
	"french":      French,
}

// SupportedLanguages returns every engine script code, sorted.
func SupportedLanguages() []string {
	out := make([]string, 0, len(supported))
	for code := range supported {
		out = append(out, code)
	}
	slices.Sort(out)
	return out
}

// Normalize maps a caller-supplied code or alias to an engine script code.
// "auto" and the empty string normalize to Auto.
func Normalize(code string) (string, error) {
	c := strings.ToLower(strings.TrimSpace(code))
	if c == "" || c == Auto {
		return Auto, nil
	}
	if alias, ok := aliases[c]; ok {
		return alias, nil
	}
	if supported[c] {
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, code)
}

// Pass is one valid set of scripts the engine can load together. The zero
// value is not a valid pass; use NewPass.
type Pass struct {
	languages []string
}

// NewPass validates a language set. A paired-only script is accepted only
// as exactly {script, companion}, in either order.
func NewPass(languages ...string) (Pass, error) {
	if len(languages) == 0 {
		return Pass{}, fmt.Errorf("%w: empty language set", ErrInvalidPass)
	}

	seen := make(map[string]bool, len(languages))
	for _, lang := range languages {
		if !supported[lang] {
			return Pass{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
		}
		if seen[lang] {
			return Pass{}, fmt.Errorf("%w: duplicate language %q", ErrInvalidPass, lang)
		}
		seen[lang] = true
	}

	for _, lang := range languages {
		companion, ok := pairedOnly[lang]
		if !ok {
			continue
		}
		if len(languages) != 2 || !seen[companion] {
			return Pass{}, fmt.Errorf("%w: %s must be paired with exactly %s, got %v",
				ErrInvalidPass, lang, companion, languages)
		}
	}

	return Pass{languages: slices.Clone(languages)}, nil
}

// Languages returns the pass's scripts in requested order.
func (p Pass) Languages() []string {
	return slices.Clone(p.languages)
}

// Key identifies the engine configuration: the sorted language set.
func (p Pass) Key() string {
	sorted := slices.Clone(p.languages)
	slices.Sort(sorted)
	return strings.Join(sorted, ",")
}

// IsZero reports whether p was never constructed.
func (p Pass) IsZero() bool {
	return len(p.languages) == 0
}

// Language is the language a winning pass stands for: the primary script of
// a single-language or paired pass, Auto for a multi-script pass.
func (p Pass) Language() string {
	switch {
	case len(p.languages) == 1:
		return p.languages[0]
	case len(p.languages) == 2 && p.languages[1] == English:
		return p.languages[0]
	case len(p.languages) == 2 && p.languages[0] == English:
		return p.languages[1]
	case len(p.languages) == 0:
		return Undetermined
	default:
		return Auto
	}
}

func (p Pass) String() string {
	return "[" + strings.Join(p.languages, ",") + "]"
}

// Plan returns the passes to attempt for a requested language. A fixed
// language yields one pass. Auto yields the multi-script pass followed by
// one pass per paired-only script in escalation order; callers run the
// escalation passes only when the first one comes back thin.
func Plan(requested string) ([]Pass, error) {
	lang, err := Normalize(requested)
	if err != nil {
		return nil, err
	}

	if lang != Auto {
		pass, err := fixedPass(lang)
		if err != nil {
			return nil, err
		}
		return []Pass{pass}, nil
	}

	first, err := NewPass(multiScript...)
	if err != nil {
		return nil, err
	}
	passes := []Pass{first}

	for _, script := range escalationOrder {
		pass, err := fixedPass(script)
		if err != nil {
			return nil, err
		}
		passes = append(passes, pass)
	}

	return passes, nil
}

func fixedPass(lang string) (Pass, error) {
	if companion, ok := pairedOnly[lang]; ok {
		return NewPass(lang, companion)
	}
	if lang == English {
		return NewPass(English)
	}
	return NewPass(lang, English)
}
