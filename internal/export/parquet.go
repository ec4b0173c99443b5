package export

import (
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/rewired-gh/tickwatch/internal/models"
)

// ParquetEncoder writes one row per tick or bar. Decimals are stored as strings
// so no precision is lost.
type ParquetEncoder struct{}

type tickRow struct {
	Symbol    string `parquet:"symbol"`
	Timestamp int64  `parquet:"timestamp"` // Unix milliseconds
	Price     string `parquet:"price"`
	Size      string `parquet:"size"`
}

type barRow struct {
	BucketStart int64  `parquet:"bucket_start"` // Unix milliseconds
	Open        string `parquet:"open"`
	High        string `parquet:"high"`
	Low         string `parquet:"low"`
	Close       string `parquet:"close"`
	Volume      string `parquet:"volume"`
	Trades      int64  `parquet:"trades"`
}

func (ParquetEncoder) Extension() string   { return "parquet" }
func (ParquetEncoder) ContentType() string { return "application/vnd.apache.parquet" }

func (ParquetEncoder) EncodeTicks(w io.Writer, ticks []models.Tick) error {
	rows := make([]tickRow, len(ticks))
	for i, t := range ticks {
		rows[i] = tickRow{
			Symbol:    t.Symbol,
			Timestamp: t.Timestamp.UnixMilli(),
			Price:     t.Price.String(),
			Size:      t.Size.String(),
		}
	}
	return parquet.Write(w, rows)
}

func (ParquetEncoder) EncodeBars(w io.Writer, bars []models.OhlcvBar) error {
	rows := make([]barRow, len(bars))
	for i, b := range bars {
		rows[i] = barRow{
			BucketStart: b.BucketStart.UnixMilli(),
			Open:        b.Open.String(),
			High:        b.High.String(),
			Low:         b.Low.String(),
			Close:       b.Close.String(),
			Volume:      b.Volume.String(),
			Trades:      int64(b.Trades),
		}
	}
	return parquet.Write(w, rows)
}
