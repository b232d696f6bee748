// Package export renders translated fragments as JSON or CSV documents.
package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dasmlab/fukidashi/pkg/translate"
)

// ErrUnknownFormat is returned by ParseFormat.
var ErrUnknownFormat = errors.New("unknown export format")

// Format is an export document format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ParseFormat parses a format name. Empty selects JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %q (supported: json, csv)", ErrUnknownFormat, s)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// Extension returns the file extension of the format, without the dot.
func (f Format) Extension() string {
	return string(f)
}

// Item is one exported fragment.
type Item struct {
	Index       int              `json:"index"`
	Text        string           `json:"text"`
	Translation string           `json:"translation"`
	Confidence  float64          `json:"conf"`
	Status      translate.Status `json:"status"`
	Box         [][2]float64     `json:"box"`
}

// Document is the JSON export envelope.
type Document struct {
	Language string `json:"language,omitempty"`
	Items    []Item `json:"items"`
}

// Items converts fragments to export items, keeping their order.
func Items(fragments []translate.Fragment) []Item {
	items := make([]Item, len(fragments))
	for i, f := range fragments {
		box := f.Box
		if box == nil {
			box = [][2]float64{}
		}
		items[i] = Item{
			Index:       f.ID,
			Text:        f.OriginalText,
			Translation: f.TranslatedText,
			Confidence:  f.Confidence,
			Status:      f.Status,
			Box:         box,
		}
	}
	return items
}

// Write renders fragments to w in the given format.
func Write(w io.Writer, format Format, language string, fragments []translate.Fragment) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, language, fragments)
	case FormatCSV:
		return WriteCSV(w, fragments)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// WriteJSON writes an indented Document.
func WriteJSON(w io.Writer, language string, fragments []translate.Fragment) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Document{Language: language, Items: Items(fragments)})
}

var csvHeader = []string{"index", "text", "translation", "conf", "status", "box"}

// WriteCSV writes a header row and one row per fragment. The box column
// holds the JSON encoding of the polygon.
func WriteCSV(w io.Writer, fragments []translate.Fragment) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for _, item := range Items(fragments) {
		box, err := json.Marshal(item.Box)
		if err != nil {
			return fmt.Errorf("encode box of item %d: %w", item.Index, err)
		}
		row := []string{
			strconv.Itoa(item.Index),
			item.Text,
			item.Translation,
			strconv.FormatFloat(item.Confidence, 'f', -1, 64),
			string(item.Status),
			string(box),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
