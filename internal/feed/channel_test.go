package feed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rewired-gh/tickwatch/internal/models"
)

var upgrader = websocket.Upgrader{}

const validTick = `{"type":"tick","data":{"symbol":"btcusdt","timestamp":1709294400500,"price":"100","size":"1"}}`

// statusRecorder collects OnStatus transitions.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []models.FeedStatus
}

func (r *statusRecorder) record(s models.FeedStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *statusRecorder) get() []models.FeedStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.FeedStatus(nil), r.statuses...)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func equalStatuses(a, b []models.FeedStatus) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// holdOpen writes frames and then blocks until the client goes away.
func holdOpen(frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

func TestOversizedFrameKeepsConnection(t *testing.T) {
	big := `{"type":"snapshot","data":"` + strings.Repeat("x", 2*maxFrameSize) + `"}`
	srv := httptest.NewServer(holdOpen(validTick, big, validTick))
	defer srv.Close()

	rec := &statusRecorder{}
	ch := Open(wsURL(srv), Options{OnStatus: rec.record, AutoReconnect: true, ReconnectDelay: time.Hour})
	defer ch.Close()

	waitFor(t, 5*time.Second, func() bool { return len(ch.Snapshot()) == 2 })
	time.Sleep(50 * time.Millisecond)

	snap := ch.Snapshot()
	if len(snap) != 2 || snap[0].Tick == nil || snap[1].Tick == nil {
		t.Fatalf("expected both ticks around the oversized frame, got %+v", snap)
	}
	if ch.Status() != models.StatusConnected {
		t.Errorf("status = %s, want connected", ch.Status())
	}
	want := []models.FeedStatus{models.StatusConnecting, models.StatusConnected}
	if got := rec.get(); !equalStatuses(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
}

func TestDecodeIsolation(t *testing.T) {
	srv := httptest.NewServer(holdOpen(
		validTick,
		`{"type":"tick","data":`,
		validTick,
		`[1,2]`,
		`{"data":{}}`,
		`{"type":"heartbeat"}`,
	))
	defer srv.Close()

	rec := &statusRecorder{}
	ch := Open(wsURL(srv), Options{OnStatus: rec.record})
	defer ch.Close()

	waitFor(t, 2*time.Second, func() bool { return len(ch.Snapshot()) == 3 })
	time.Sleep(50 * time.Millisecond)

	snap := ch.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected 3 buffered envelopes, got %d", len(snap))
	}
	if snap[0].Tick == nil || snap[1].Tick == nil {
		t.Error("expected valid ticks to be decoded")
	}
	if snap[2].Type != "heartbeat" || snap[2].Tick != nil {
		t.Errorf("expected heartbeat envelope without tick, got %+v", snap[2])
	}
	for i := 1; i < len(snap); i++ {
		if snap[i].Seq <= snap[i-1].Seq {
			t.Errorf("sequence not increasing: %d then %d", snap[i-1].Seq, snap[i].Seq)
		}
	}

	want := []models.FeedStatus{models.StatusConnecting, models.StatusConnected}
	if got := rec.get(); !equalStatuses(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
	if ch.Status() != models.StatusConnected {
		t.Errorf("status = %s, want connected", ch.Status())
	}
}

func TestBufferKeepsMostRecent(t *testing.T) {
	frames := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		frames = append(frames, validTick)
	}
	srv := httptest.NewServer(holdOpen(frames...))
	defer srv.Close()

	ch := Open(wsURL(srv), Options{BufferCapacity: 4})
	defer ch.Close()

	waitFor(t, 2*time.Second, func() bool {
		snap := ch.Snapshot()
		return len(snap) == 4 && snap[3].Seq == 10
	})
	snap := ch.Snapshot()
	if snap[0].Seq != 7 {
		t.Errorf("oldest buffered seq = %d, want 7", snap[0].Seq)
	}
}

func TestUpdatesCoalesce(t *testing.T) {
	srv := httptest.NewServer(holdOpen(validTick, validTick, validTick))
	defer srv.Close()

	ch := Open(wsURL(srv), Options{})
	defer ch.Close()

	waitFor(t, 2*time.Second, func() bool { return len(ch.Snapshot()) == 3 })

	select {
	case <-ch.Updates():
	default:
		t.Fatal("expected a pending update signal")
	}
	select {
	case <-ch.Updates():
		t.Fatal("expected signals to coalesce")
	default:
	}
}

func TestNormalCloseEmitsOnlyDisconnected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	rec := &statusRecorder{}
	ch := Open(wsURL(srv), Options{OnStatus: rec.record})

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop without auto reconnect")
	}
	ch.Close()

	want := []models.FeedStatus{models.StatusConnecting, models.StatusConnected, models.StatusDisconnected}
	if got := rec.get(); !equalStatuses(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
}

func TestDialFailureWithoutReconnect(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := wsURL(srv)
	srv.Close()

	rec := &statusRecorder{}
	ch := Open(addr, Options{OnStatus: rec.record, ReconnectDelay: 10 * time.Millisecond})

	select {
	case <-ch.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop after dial failure")
	}
	ch.Close()

	want := []models.FeedStatus{models.StatusConnecting, models.StatusError, models.StatusDisconnected}
	if got := rec.get(); !equalStatuses(got, want) {
		t.Errorf("statuses = %v, want %v", got, want)
	}
}

func TestReconnectAfterDelay(t *testing.T) {
	var connections atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connections.Add(1)
		// Drop the connection without a close frame.
		conn.Close()
	}))
	defer srv.Close()

	rec := &statusRecorder{}
	delay := 200 * time.Millisecond
	ch := Open(wsURL(srv), Options{AutoReconnect: true, ReconnectDelay: delay, OnStatus: rec.record})

	waitFor(t, time.Second, func() bool { return connections.Load() >= 1 })
	time.Sleep(delay / 4)
	if got := connections.Load(); got != 1 {
		t.Fatalf("reconnected before delay elapsed: %d connections", got)
	}

	waitFor(t, 2*time.Second, func() bool { return connections.Load() >= 2 })
	ch.Close()

	after := connections.Load()
	emitted := len(rec.get())
	time.Sleep(2 * delay)
	if got := connections.Load(); got != after {
		t.Errorf("reconnected after Close: %d -> %d", after, got)
	}
	if got := len(rec.get()); got != emitted {
		t.Errorf("status emitted after Close: %v", rec.get()[emitted:])
	}

	statuses := rec.get()
	want := []models.FeedStatus{models.StatusConnecting, models.StatusConnected, models.StatusError, models.StatusDisconnected, models.StatusConnecting}
	if len(statuses) < len(want) || !equalStatuses(statuses[:len(want)], want) {
		t.Errorf("statuses = %v, want prefix %v", statuses, want)
	}
}

func TestCloseIdempotentDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := wsURL(srv)
	srv.Close()

	rec := &statusRecorder{}
	ch := Open(addr, Options{AutoReconnect: true, ReconnectDelay: time.Hour, OnStatus: rec.record})
	waitFor(t, 2*time.Second, func() bool { return ch.Status() == models.StatusDisconnected })

	done := make(chan struct{})
	go func() {
		ch.Close()
		ch.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not cancel the pending reconnect")
	}
	if got := rec.get(); got[len(got)-1] != models.StatusDisconnected {
		t.Errorf("last status = %s, want disconnected", got[len(got)-1])
	}
}

func TestDecodeFrame(t *testing.T) {
	tests := []struct {
		name     string
		msg      string
		wantErr  bool
		wantTick bool
	}{
		{"tick", validTick, false, true},
		{"tick with bad data", `{"type":"tick","data":{"symbol":"x"}}`, false, false},
		{"other type", `{"type":"status","data":{"ok":true}}`, false, false},
		{"invalid json", `{"type":`, true, false},
		{"array", `[]`, true, false},
		{"missing type", `{"data":{}}`, true, false},
		{"numeric type", `{"type":5}`, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := decodeFrame([]byte(tt.msg))
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeFrame() error = %v, wantErr %v", err, tt.wantErr)
			}
			if (env.Tick != nil) != tt.wantTick {
				t.Errorf("tick decoded = %v, want %v", env.Tick != nil, tt.wantTick)
			}
		})
	}
}
