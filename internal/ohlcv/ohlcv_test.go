package ohlcv

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/tickwatch/internal/models"
)

func tickAt(ms int64, price, size int64) models.Tick {
	return models.Tick{
		Symbol:    "btcusdt",
		Timestamp: time.UnixMilli(ms),
		Price:     decimal.NewFromInt(price),
		Size:      decimal.NewFromInt(size),
	}
}

func TestBucketize(t *testing.T) {
	buf := []models.Tick{
		tickAt(0, 10, 1),
		tickAt(500, 12, 2),
		tickAt(999, 9, 1),
		tickAt(1000, 11, 4),
	}

	bars := Bucketize(buf, time.Second, 60)
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}

	first := bars[0]
	if first.BucketStart.UnixMilli() != 0 {
		t.Errorf("first bucket = %d, want 0", first.BucketStart.UnixMilli())
	}
	checks := []struct {
		name string
		got  decimal.Decimal
		want int64
	}{
		{"open", first.Open, 10},
		{"high", first.High, 12},
		{"low", first.Low, 9},
		{"close", first.Close, 9},
		{"volume", first.Volume, 4},
	}
	for _, c := range checks {
		if !c.got.Equal(decimal.NewFromInt(c.want)) {
			t.Errorf("%s = %s, want %d", c.name, c.got, c.want)
		}
	}
	if first.Trades != 3 {
		t.Errorf("trades = %d, want 3", first.Trades)
	}

	if bars[1].BucketStart.UnixMilli() != 1000 {
		t.Errorf("second bucket = %d, want 1000", bars[1].BucketStart.UnixMilli())
	}
	if !bars[1].Open.Equal(decimal.NewFromInt(11)) || bars[1].Trades != 1 {
		t.Errorf("unexpected second bar: %+v", bars[1])
	}
}

func TestBucketizeOrderByFirstOccurrence(t *testing.T) {
	buf := []models.Tick{
		tickAt(5000, 1, 1),
		tickAt(1000, 2, 1),
		tickAt(5500, 3, 1),
	}
	bars := Bucketize(buf, time.Second, 60)
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	if bars[0].BucketStart.UnixMilli() != 5000 || bars[1].BucketStart.UnixMilli() != 1000 {
		t.Errorf("bars not in first-occurrence order: %v, %v", bars[0].BucketStart, bars[1].BucketStart)
	}
	if !bars[0].Close.Equal(decimal.NewFromInt(3)) {
		t.Errorf("close = %s, want 3", bars[0].Close)
	}
}

func TestBucketizeMaxBars(t *testing.T) {
	var buf []models.Tick
	for i := int64(0); i < 100; i++ {
		buf = append(buf, tickAt(i*1000, i+1, 1))
	}
	bars := Bucketize(buf, time.Second, 60)
	if len(bars) != 60 {
		t.Fatalf("expected 60 bars, got %d", len(bars))
	}
	if bars[0].BucketStart.UnixMilli() != 40_000 {
		t.Errorf("oldest kept bucket = %d, want 40000", bars[0].BucketStart.UnixMilli())
	}
}

func TestBucketizeWiderInterval(t *testing.T) {
	buf := []models.Tick{tickAt(61_000, 1, 1), tickAt(119_999, 2, 1), tickAt(120_000, 3, 1)}
	bars := Bucketize(buf, time.Minute, 60)
	if len(bars) != 2 || bars[0].BucketStart.UnixMilli() != 60_000 || bars[0].Trades != 2 {
		t.Errorf("unexpected bars: %+v", bars)
	}
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"1s", time.Second},
		{"5s", 5 * time.Second},
		{"1m", time.Minute},
		{"5m", 5 * time.Minute},
		{"1h", time.Second},
		{"", time.Second},
	}
	for _, tt := range tests {
		if got := ParseInterval(tt.in); got != tt.want {
			t.Errorf("ParseInterval(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if got := Intervals(); len(got) != 4 || got[0] != "1s" || got[3] != "5m" {
		t.Errorf("Intervals() = %v", got)
	}
}
