package analytics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rewired-gh/tickwatch/internal/models"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/analytics/btcusdt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"btcusdt","zscore":2.5,"spread":12.3,"adf_pvalue":0.04}`))
	})
	mux.HandleFunc("/api/analytics/empty", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"insufficient data"}`))
	})
	mux.HandleFunc("/api/analytics/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("/api/analytics/garbage", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})
	mux.HandleFunc("/api/correlation/btcusdt/ethusdt", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"symbol1":"btcusdt","symbol2":"ethusdt","correlation":0.87,"hedge_ratio":14.2}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchAnalytics(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, 0, 0)

	snap, err := c.FetchAnalytics(context.Background(), "btcusdt")
	if err != nil {
		t.Fatalf("FetchAnalytics: %v", err)
	}
	if v, ok := snap.Float("zscore"); !ok || v != 2.5 {
		t.Errorf("zscore = %v, %v", v, ok)
	}

	snap, err = c.FetchAnalytics(context.Background(), "empty")
	if err != nil {
		t.Fatalf("error body should be an opaque snapshot, got %v", err)
	}
	if _, ok := snap.Float("zscore"); ok {
		t.Error("error snapshot should not carry zscore")
	}
}

func TestFetchAnalyticsErrors(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, time.Second, 0)

	tests := []struct {
		symbol     string
		wantStatus int
	}{
		{"broken", http.StatusInternalServerError},
		{"missing", http.StatusNotFound},
		{"garbage", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			_, err := c.FetchAnalytics(context.Background(), tt.symbol)
			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("expected *FetchError, got %v", err)
			}
			if fe.Endpoint != EndpointAnalytics || fe.StatusCode != tt.wantStatus {
				t.Errorf("FetchError = %+v, want status %d", fe, tt.wantStatus)
			}
		})
	}

	unreachable := NewClient("http://127.0.0.1:1", time.Second, 0)
	_, err := unreachable.FetchCorrelation(context.Background(), "a", "b")
	var fe *FetchError
	if !errors.As(err, &fe) || fe.StatusCode != 0 || fe.Endpoint != EndpointCorrelation {
		t.Errorf("expected transport FetchError, got %v", err)
	}
}

func TestFetchCorrelation(t *testing.T) {
	srv := newTestServer(t)
	c := NewClient(srv.URL, 0, 0)

	snap, err := c.FetchCorrelation(context.Background(), "btcusdt", "ethusdt")
	if err != nil {
		t.Fatalf("FetchCorrelation: %v", err)
	}
	if v, ok := snap.Float("hedge_ratio"); !ok || v != 14.2 {
		t.Errorf("hedge_ratio = %v, %v", v, ok)
	}
}

type fakeFetcher struct {
	analyticsCalls   atomic.Int32
	correlationCalls atomic.Int32
	failAnalytics    atomic.Bool
}

func (f *fakeFetcher) FetchAnalytics(_ context.Context, symbol string) (models.AnalyticsSnapshot, error) {
	f.analyticsCalls.Add(1)
	if f.failAnalytics.Load() {
		return nil, &FetchError{Endpoint: EndpointAnalytics, StatusCode: 500, Err: errors.New("down")}
	}
	return models.AnalyticsSnapshot{"symbol": symbol, "zscore": 1.0}, nil
}

func (f *fakeFetcher) FetchCorrelation(_ context.Context, a, b string) (models.CorrelationSnapshot, error) {
	f.correlationCalls.Add(1)
	return models.CorrelationSnapshot{"correlation": 0.5}, nil
}

type fakeSink struct {
	mu          sync.Mutex
	symbols     []string
	correlation int
}

func (s *fakeSink) UpdateAnalytics(symbol string, _ models.AnalyticsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.symbols = append(s.symbols, symbol)
	return nil
}

func (s *fakeSink) UpdateCorrelation(models.CorrelationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.correlation++
	return nil
}

func (s *fakeSink) analytics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.symbols...)
}

func TestPollOnceFailureKeepsSink(t *testing.T) {
	f := &fakeFetcher{}
	f.failAnalytics.Store(true)
	sink := &fakeSink{}
	p := NewPoller(f, sink, PollerOptions{Symbol: func() string { return "btcusdt" }})

	p.PollOnce(context.Background())
	if len(sink.analytics()) != 0 {
		t.Error("failed fetch should not reach the sink")
	}
	if sink.correlation != 1 {
		t.Errorf("correlation updates = %d, want 1", sink.correlation)
	}
}

func TestPollerRunAndKick(t *testing.T) {
	f := &fakeFetcher{}
	sink := &fakeSink{}
	var symbol atomic.Value
	symbol.Store("btcusdt")
	p := NewPoller(f, sink, PollerOptions{
		Interval: time.Hour,
		Symbol:   func() string { return symbol.Load().(string) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	waitFor(t, func() bool { return len(sink.analytics()) == 1 })
	symbol.Store("ethusdt")
	p.Kick()
	waitFor(t, func() bool { return len(sink.analytics()) == 2 })

	if got := sink.analytics(); got[0] != "btcusdt" || got[1] != "ethusdt" {
		t.Errorf("analytics symbols = %v", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
