package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/rewired-gh/tickwatch/internal/models"
)

// CSVEncoder writes ticks with the header symbol,timestamp,price,size.
type CSVEncoder struct{}

func (CSVEncoder) Extension() string   { return "csv" }
func (CSVEncoder) ContentType() string { return "text/csv" }

func (CSVEncoder) EncodeTicks(w io.Writer, ticks []models.Tick) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"symbol", "timestamp", "price", "size"}); err != nil {
		return err
	}
	for _, t := range ticks {
		if err := cw.Write([]string{
			t.Symbol,
			t.Timestamp.UTC().Format(time.RFC3339Nano),
			t.Price.String(),
			t.Size.String(),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (CSVEncoder) EncodeBars(w io.Writer, bars []models.OhlcvBar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"bucket_start", "open", "high", "low", "close", "volume", "trades"}); err != nil {
		return err
	}
	for _, b := range bars {
		if err := cw.Write([]string{
			b.BucketStart.UTC().Format(time.RFC3339Nano),
			b.Open.String(),
			b.High.String(),
			b.Low.String(),
			b.Close.String(),
			b.Volume.String(),
			strconv.Itoa(b.Trades),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
