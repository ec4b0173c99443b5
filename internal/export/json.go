package export

import (
	"encoding/json"
	"io"

	"github.com/rewired-gh/tickwatch/internal/models"
)

// JSONEncoder writes an indented JSON array.
type JSONEncoder struct{}

func (JSONEncoder) Extension() string   { return "json" }
func (JSONEncoder) ContentType() string { return "application/json" }

func (JSONEncoder) EncodeTicks(w io.Writer, ticks []models.Tick) error {
	if ticks == nil {
		ticks = []models.Tick{}
	}
	return encodeJSON(w, ticks)
}

func (JSONEncoder) EncodeBars(w io.Writer, bars []models.OhlcvBar) error {
	if bars == nil {
		bars = []models.OhlcvBar{}
	}
	return encodeJSON(w, bars)
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
