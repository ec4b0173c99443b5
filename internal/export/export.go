// Package export encodes ticks and bars as CSV, JSON or Parquet.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rewired-gh/tickwatch/internal/models"
)

// Encoder writes ticks or bars in one file format.
type Encoder interface {
	Extension() string
	ContentType() string
	EncodeTicks(w io.Writer, ticks []models.Tick) error
	EncodeBars(w io.Writer, bars []models.OhlcvBar) error
}

// New returns the encoder for format (csv, json, parquet), or nil if unsupported.
func New(format string) Encoder {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv":
		return CSVEncoder{}
	case "json":
		return JSONEncoder{}
	case "parquet":
		return ParquetEncoder{}
	default:
		return nil
	}
}

// Formats lists the supported format names.
func Formats() []string {
	return []string{"csv", "json", "parquet"}
}

// Dump writes ticks and bars for symbol into dir and returns the created paths.
func Dump(dir string, enc Encoder, symbol string, ticks []models.Tick, bars []models.OhlcvBar, at time.Time) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	stamp := at.UTC().Format("20060102T150405Z")

	ticksPath := filepath.Join(dir, fmt.Sprintf("%s_ticks_%s.%s", symbol, stamp, enc.Extension()))
	if err := writeFile(ticksPath, func(w io.Writer) error { return enc.EncodeTicks(w, ticks) }); err != nil {
		return nil, fmt.Errorf("failed to export ticks: %w", err)
	}
	barsPath := filepath.Join(dir, fmt.Sprintf("%s_bars_%s.%s", symbol, stamp, enc.Extension()))
	if err := writeFile(barsPath, func(w io.Writer) error { return enc.EncodeBars(w, bars) }); err != nil {
		return []string{ticksPath}, fmt.Errorf("failed to export bars: %w", err)
	}
	return []string{ticksPath, barsPath}, nil
}

func writeFile(path string, encode func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encode(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
