// Package langdetect guesses the language of short text fragments from the
// Unicode blocks their letters fall into. It is intentionally coarse: the
// fragments come out of speech bubbles and are rarely longer than a sentence,
// so statistical models have too little signal to work with.
package langdetect

import (
	"unicode"
)

// Language codes returned by the classifier. They match the recognition
// engine's script codes so a classification can be fed straight back into a
// recognition pass request.
const (
	English           = "en"
	Arabic            = "ar"
	Japanese          = "ja"
	Korean            = "ko"
	ChineseSimplified = "ch_sim"
	French            = "fr"

	// Default is returned when no script reaches the minimum share.
	Default = English
)

// DefaultMinShare is the minimum proportion of letters that must belong to a
// script before the classifier commits to it.
const DefaultMinShare = 0.3

// latin1Letters covers the accented letters of the Latin-1 Supplement block
// (À..ÿ). The two non-letters in that range are filtered by unicode.IsLetter.
var latin1Letters = &unicode.RangeTable{
	R16: []unicode.Range16{{Lo: 0x00C0, Hi: 0x00FF, Stride: 1}},
}

type tally struct {
	letters  int
	arabic   int
	hangul   int
	kana     int
	han      int
	accented int
}

func (t tally) share(n int) float64 {
	if t.letters == 0 {
		return 0
	}
	return float64(n) / float64(t.letters)
}

func count(text string) tally {
	var t tally
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		t.letters++

		switch {
		case unicode.In(r, unicode.Arabic):
			t.arabic++
		case unicode.In(r, unicode.Hangul):
			t.hangul++
		case unicode.In(r, unicode.Hiragana, unicode.Katakana):
			t.kana++
		case unicode.In(r, unicode.Han):
			t.han++
		case unicode.In(r, latin1Letters):
			t.accented++
		}
	}
	return t
}

// Classify returns a best-guess language code for text. It never fails: text
// without any distinguishing letters (empty, numeric, punctuation) yields
// Default.
func Classify(text string) string {
	return ClassifyWithShare(text, DefaultMinShare)
}

// ClassifyWithShare is Classify with an explicit minimum share in (0, 1].
func ClassifyWithShare(text string, minShare float64) string {
	if minShare <= 0 || minShare > 1 {
		minShare = DefaultMinShare
	}
	return decide(count(text), minShare)
}

// decide checks the most specific scripts first. Han ideographs show up in
// both Japanese and Chinese text, so kana must be ruled out before Han is
// taken as Chinese.
func decide(t tally, minShare float64) string {
	switch {
	case t.letters == 0:
		return Default
	case t.share(t.arabic) >= minShare:
		return Arabic
	case t.share(t.hangul) >= minShare:
		return Korean
	case t.share(t.kana) >= minShare:
		return Japanese
	case t.share(t.kana) >= minShare/3 && t.share(t.kana+t.han) >= minShare:
		// Kanji-heavy Japanese: a handful of okurigana is enough.
		return Japanese
	case t.share(t.han) >= minShare:
		return ChineseSimplified
	case t.share(t.accented) >= minShare:
		return French
	default:
		return Default
	}
}

// ClassifyBatch picks a single language for a whole set of fragments. Each
// fragment that contains letters casts one vote; the majority wins and ties go
// to the code that was seen first. Fragments without letters do not vote, and
// a batch with no votes at all yields Default.
func ClassifyBatch(texts []string) string {
	votes := make(map[string]int)
	var order []string

	for _, text := range texts {
		t := count(text)
		if t.letters == 0 {
			continue
		}
		code := decide(t, DefaultMinShare)
		if _, seen := votes[code]; !seen {
			order = append(order, code)
		}
		votes[code]++
	}

	best := Default
	bestVotes := 0
	for _, code := range order {
		if votes[code] > bestVotes {
			best = code
			bestVotes = votes[code]
		}
	}
	return best
}
