// Package models defines the core domain entities: ticks, feed envelopes, derived
// statistics, bars, alerts, and analytics snapshots.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MessageTypeTick is the envelope type carrying a trade tick.
const MessageTypeTick = "tick"

// Tick is a single trade event. Immutable once received.
type Tick struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
}

// Validate checks tick field constraints.
func (t *Tick) Validate() error {
	if t.Symbol == "" {
		return errors.New("tick symbol must not be empty")
	}
	if t.Timestamp.IsZero() {
		return errors.New("tick timestamp must be set")
	}
	if !t.Price.IsPositive() {
		return errors.New("tick price must be positive")
	}
	if t.Size.IsNegative() {
		return errors.New("tick size must not be negative")
	}
	return nil
}

// Envelope is one decoded feed frame. Tick is set only for well-formed tick frames.
type Envelope struct {
	Seq        uint64          `json:"seq"`
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	ReceivedAt time.Time       `json:"received_at"`
	Tick       *Tick           `json:"-"`
}

// NormalizeSymbol lower-cases and trims an instrument symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToLower(strings.TrimSpace(symbol))
}

type wireTick struct {
	Symbol    string          `json:"symbol"`
	Timestamp wireTime        `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
}

// DecodeTick parses the data payload of a tick envelope.
// Price and size may be numeric strings or JSON numbers.
func DecodeTick(data []byte) (*Tick, error) {
	var w wireTick
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode tick: %w", err)
	}
	t := &Tick{
		Symbol:    NormalizeSymbol(w.Symbol),
		Timestamp: time.Time(w.Timestamp),
		Price:     w.Price,
		Size:      w.Size,
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tick: %w", err)
	}
	return t, nil
}

// wireTime accepts ISO-8601 strings (zone optional, UTC assumed) or epoch numbers.
// Epoch values below 1e11 are seconds, otherwise milliseconds.
type wireTime time.Time

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func (w *wireTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return errors.New("timestamp is null")
	}
	if b[0] != '"' {
		return w.fromEpoch(string(b))
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*w = wireTime(t.UTC())
			return nil
		}
	}
	return w.fromEpoch(s)
}

func (w *wireTime) fromEpoch(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("unrecognized timestamp %q", s)
	}
	if math.Abs(v) < 1e11 {
		v *= 1000
	}
	*w = wireTime(time.UnixMilli(int64(math.Round(v))).UTC())
	return nil
}
