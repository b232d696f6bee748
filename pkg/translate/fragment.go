package translate

// Status records what happened to a fragment during translation.
type Status string

const (
	// StatusPending marks a fragment that has not been processed yet.
	StatusPending Status = "pending"
	// StatusTranslated marks a fragment whose TranslatedText came from a provider.
	StatusTranslated Status = "translated"
	// StatusFallbackOriginal marks a fragment for which every provider attempt
	// failed; TranslatedText holds the original text.
	StatusFallbackOriginal Status = "fallback_original"
	// StatusFailed marks a fragment that was never attempted because the
	// request was canceled; TranslatedText holds the original text.
	StatusFailed Status = "failed"
)

// Fragment is one unit of source text. ID is the ordinal position in the
// input sequence and is the only key used to map translations back.
type Fragment struct {
	ID               int          `json:"id"`
	OriginalText     string       `json:"original_text"`
	DetectedLanguage string       `json:"detected_language,omitempty"`
	TranslatedText   string       `json:"translated_text,omitempty"`
	Status           Status       `json:"status"`
	Box              [][2]float64 `json:"box,omitempty"`
	Confidence       float64      `json:"confidence,omitempty"`
}

// NewFragments builds pending fragments from plain texts.
func NewFragments(texts ...string) []Fragment {
	out := make([]Fragment, len(texts))
	for i, text := range texts {
		out[i] = Fragment{ID: i, OriginalText: text, Status: StatusPending}
	}
	return out
}

// Texts returns the original texts in order.
func Texts(fragments []Fragment) []string {
	out := make([]string, len(fragments))
	for i, f := range fragments {
		out[i] = f.OriginalText
	}
	return out
}
