package recognize

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertPairing fails unless every paired-only script in p appears only
// with its companion.
func assertPairing(t *testing.T, p Pass) {
	t.Helper()

	langs := p.Languages()
	for _, lang := range langs {
		companion, ok := pairedOnly[lang]
		if !ok {
			continue
		}
		other := slices.DeleteFunc(slices.Clone(langs), func(s string) bool { return s == lang })
		assert.Equal(t, []string{companion}, other, "pass %s pairs %s with something else", p, lang)
	}
}

func TestNewPass(t *testing.T) {
	cases := []struct {
		name  string
		langs []string
		err   error
	}{
		{"single", []string{"ja"}, nil},
		{"multi", []string{"ja", "ko", "en", "ar", "fr"}, nil},
		{"paired", []string{"ch_sim", "en"}, nil},
		{"paired reversed", []string{"en", "ch_tra"}, nil},
		{"empty", nil, ErrInvalidPass},
		{"paired alone", []string{"ch_sim"}, ErrInvalidPass},
		{"paired with wrong companion", []string{"ch_sim", "ja"}, ErrInvalidPass},
		{"paired with extra", []string{"ch_sim", "en", "ja"}, ErrInvalidPass},
		{"two paired", []string{"ch_sim", "ch_tra"}, ErrInvalidPass},
		{"duplicate", []string{"en", "en"}, ErrInvalidPass},
		{"unknown", []string{"xx"}, ErrUnsupportedLanguage},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := NewPass(tc.langs...)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				assert.True(t, p.IsZero())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.langs, p.Languages())
			assertPairing(t, p)
		})
	}
}

// Every subset of the supported scripts, in two orders, either fails to
// construct or satisfies the pairing rule.
func TestNewPassNeverBreaksPairing(t *testing.T) {
	all := SupportedLanguages()
	require.Len(t, all, 13)

	built := 0
	for mask := 1; mask < 1<<len(all); mask++ {
		var langs []string
		for i, lang := range all {
			if mask&(1<<i) != 0 {
				langs = append(langs, lang)
			}
		}

		for _, order := range [][]string{langs, reversed(langs)} {
			p, err := NewPass(order...)
			if err != nil {
				assert.ErrorIs(t, err, ErrInvalidPass)
				continue
			}
			built++
			assertPairing(t, p)
		}
	}
	assert.Greater(t, built, 0)
}

func reversed(in []string) []string {
	out := slices.Clone(in)
	slices.Reverse(out)
	return out
}

func TestPlanFixedLanguages(t *testing.T) {
	cases := map[string][]string{
		"ja":          {"ja", "en"},
		"en":          {"en"},
		"EN":          {"en"},
		"fr":          {"fr", "en"},
		"ch_sim":      {"ch_sim", "en"},
		"zh":          {"ch_sim", "en"},
		"zh-CN":       {"ch_sim", "en"},
		"chinese_sim": {"ch_sim", "en"},
		"ch_tra":      {"ch_tra", "en"},
		"zh-TW":       {"ch_tra", "en"},
		"zh-Hant":     {"ch_tra", "en"},
		"japanese":    {"ja", "en"},
		"korean":      {"ko", "en"},
	}

	for requested, want := range cases {
		passes, err := Plan(requested)
		require.NoError(t, err, requested)
		require.Len(t, passes, 1, requested)
		assert.Equal(t, want, passes[0].Languages(), requested)
	}
}

func TestPlanAuto(t *testing.T) {
	for _, requested := range []string{"auto", "AUTO", ""} {
		passes, err := Plan(requested)
		require.NoError(t, err)
		require.Len(t, passes, 3)

		assert.Equal(t, []string{"ja", "ko", "en", "ar", "fr"}, passes[0].Languages())
		assert.Equal(t, Auto, passes[0].Language())
		assert.Equal(t, []string{"ch_sim", "en"}, passes[1].Languages())
		assert.Equal(t, []string{"ch_tra", "en"}, passes[2].Languages())
	}
}

func TestPlanUnsupported(t *testing.T) {
	for _, requested := range []string{"klingon", "xx", "zh-yue"} {
		_, err := Plan(requested)
		assert.ErrorIs(t, err, ErrUnsupportedLanguage, requested)
	}
}

// Every request the planner accepts yields only valid passes.
func TestPlanNeverBreaksPairing(t *testing.T) {
	requests := append(SupportedLanguages(), "auto", "")
	for alias := range aliases {
		requests = append(requests, alias)
	}

	for _, requested := range requests {
		passes, err := Plan(requested)
		require.NoError(t, err, requested)
		require.NotEmpty(t, passes, requested)
		for _, p := range passes {
			assertPairing(t, p)
		}
	}
}

func TestPassKeyIgnoresOrder(t *testing.T) {
	a, err := NewPass("ch_sim", "en")
	require.NoError(t, err)
	b, err := NewPass("en", "ch_sim")
	require.NoError(t, err)

	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, "ch_sim,en", a.Key())
}

func TestPassLanguage(t *testing.T) {
	p, _ := NewPass("ko", "en")
	assert.Equal(t, "ko", p.Language())

	p, _ = NewPass("en")
	assert.Equal(t, "en", p.Language())

	assert.Equal(t, Undetermined, Pass{}.Language())
}
