package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dasmlab/fukidashi/pkg/translate"
)

func sample() []translate.Fragment {
	return []translate.Fragment{
		{
			ID:             0,
			OriginalText:   "こんにちは",
			TranslatedText: "Hello",
			Status:         translate.StatusTranslated,
			Box:            [][2]float64{{1, 2}, {3, 2}, {3, 4}, {1, 4}},
			Confidence:     0.87,
		},
		{
			ID:             1,
			OriginalText:   "a, \"quoted\" line",
			TranslatedText: "a, \"quoted\" line",
			Status:         translate.StatusFallbackOriginal,
		},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat(" CSV ")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)
	assert.Equal(t, "text/csv; charset=utf-8", f.ContentType())

	_, err = ParseFormat("xlsx")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, "ja", sample()))

	var doc Document
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))

	assert.Equal(t, "ja", doc.Language)
	require.Len(t, doc.Items, 2)
	assert.Equal(t, "Hello", doc.Items[0].Translation)
	assert.Equal(t, 0.87, doc.Items[0].Confidence)
	assert.Equal(t, translate.StatusFallbackOriginal, doc.Items[1].Status)
	assert.NotNil(t, doc.Items[1].Box)
	assert.Contains(t, buf.String(), "こんにちは")
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, "", sample()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{"index", "text", "translation", "conf", "status", "box"}, rows[0])
	assert.Equal(t, []string{"0", "こんにちは", "Hello", "0.87", "translated", "[[1,2],[3,2],[3,4],[1,4]]"}, rows[1])
	assert.Equal(t, "a, \"quoted\" line", rows[2][1])
	assert.Equal(t, "[]", rows[2][5])
}

func TestWriteEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, "", nil))
	assert.JSONEq(t, `{"items": []}`, buf.String())
}
