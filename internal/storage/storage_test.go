package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rewired-gh/tickwatch/internal/models"
)

func newTestStorage(t *testing.T, maxTicks int) *Storage {
	t.Helper()
	s, err := New(maxTicks, ":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testTick(symbol string, ms int64, price string) models.Tick {
	return models.Tick{
		Symbol:    symbol,
		Timestamp: time.UnixMilli(ms).UTC(),
		Price:     decimal.RequireFromString(price),
		Size:      decimal.RequireFromString("0.5"),
	}
}

func TestStorage_RecordAndRecentTicks(t *testing.T) {
	s := newTestStorage(t, 100)
	ticks := []models.Tick{
		testTick("btcusdt", 1000, "100.25"),
		testTick("ethusdt", 1001, "10"),
		testTick("btcusdt", 1002, "100.50"),
		testTick("btcusdt", 1003, "100.75"),
	}
	if err := s.RecordTicks(ticks); err != nil {
		t.Fatalf("RecordTicks: %v", err)
	}

	got, err := s.RecentTicks("BTCUSDT", 2)
	if err != nil {
		t.Fatalf("RecentTicks: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 ticks, got %d", len(got))
	}
	if !got[0].Price.Equal(decimal.RequireFromString("100.5")) || !got[1].Price.Equal(decimal.RequireFromString("100.75")) {
		t.Errorf("ticks not chronological: %s, %s", got[0].Price, got[1].Price)
	}
	if !got[1].Timestamp.Equal(time.UnixMilli(1003)) {
		t.Errorf("timestamp = %v", got[1].Timestamp)
	}
	if !got[0].Size.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("size = %s, want 0.5", got[0].Size)
	}
}

func TestStorage_RecentTicksEmpty(t *testing.T) {
	s := newTestStorage(t, 100)
	got, err := s.RecentTicks("btcusdt", 10)
	if err != nil {
		t.Fatalf("RecentTicks: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", got)
	}
}

func TestStorage_RecordTicksRejectsInvalid(t *testing.T) {
	s := newTestStorage(t, 100)
	bad := []models.Tick{testTick("btcusdt", 1, "1"), {Symbol: "btcusdt"}}
	if err := s.RecordTicks(bad); err == nil {
		t.Fatal("expected error for invalid tick")
	}
	if n, _ := s.CountTicks(); n != 0 {
		t.Errorf("transaction should roll back, found %d ticks", n)
	}
}

func TestStorage_TickCap(t *testing.T) {
	s := newTestStorage(t, 5)
	for i := 0; i < 3; i++ {
		batch := make([]models.Tick, 4)
		for j := range batch {
			batch[j] = testTick("btcusdt", int64(i*4+j), "1")
		}
		if err := s.RecordTicks(batch); err != nil {
			t.Fatalf("RecordTicks: %v", err)
		}
	}

	n, err := s.CountTicks()
	if err != nil {
		t.Fatalf("CountTicks: %v", err)
	}
	if n != 5 {
		t.Errorf("archived %d ticks, want 5", n)
	}
	got, _ := s.RecentTicks("btcusdt", 10)
	if got[0].Timestamp.UnixMilli() != 7 {
		t.Errorf("oldest kept tick at %d, want 7", got[0].Timestamp.UnixMilli())
	}
}

func TestStorage_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ticks.db")
	s, err := New(10, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.RecordTicks([]models.Tick{testTick("btcusdt", 1, "1")}); err != nil {
		t.Fatalf("RecordTicks: %v", err)
	}
	_ = s.Close()

	s, err = New(10, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if n, _ := s.CountTicks(); n != 1 {
		t.Errorf("expected 1 tick after reopen, got %d", n)
	}
}

func TestStorage_ReopenWithLowerCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.db")
	s, err := New(10, path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	batch := make([]models.Tick, 8)
	for i := range batch {
		batch[i] = testTick("btcusdt", int64(i), "1")
	}
	if err := s.RecordTicks(batch); err != nil {
		t.Fatalf("RecordTicks: %v", err)
	}
	_ = s.Close()

	s, err = New(3, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if n, _ := s.CountTicks(); n != 3 {
		t.Errorf("expected 3 ticks after reopening with a lower cap, got %d", n)
	}
	got, _ := s.RecentTicks("btcusdt", 10)
	if len(got) != 3 || got[0].Timestamp.UnixMilli() != 5 {
		t.Errorf("expected the newest ticks 5..7 to survive, got %+v", got)
	}
}

func TestStorage_TriggeredAlerts(t *testing.T) {
	s := newTestStorage(t, 100)
	now := time.Now()
	for i, v := range []float64{2.1, 2.4} {
		err := s.Notify(context.Background(), models.TriggeredAlert{
			Alert:       models.Alert{ID: "a1", Metric: models.MetricZScore, Threshold: 2},
			Value:       v,
			TriggeredAt: now.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}

	got, err := s.RecentTriggers(10)
	if err != nil {
		t.Fatalf("RecentTriggers: %v", err)
	}
	if len(got) != 2 || got[0].Value != 2.4 || got[0].Alert.Metric != models.MetricZScore {
		t.Errorf("unexpected triggers: %+v", got)
	}
}
