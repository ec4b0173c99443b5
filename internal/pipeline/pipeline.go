// Package pipeline owns the active tick buffer and every value derived from
// it. A single goroutine applies all changes and publishes immutable views.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rewired-gh/tickwatch/internal/alerts"
	"github.com/rewired-gh/tickwatch/internal/logger"
	"github.com/rewired-gh/tickwatch/internal/metrics"
	"github.com/rewired-gh/tickwatch/internal/models"
	"github.com/rewired-gh/tickwatch/internal/ohlcv"
	"github.com/rewired-gh/tickwatch/internal/stats"
	"github.com/rewired-gh/tickwatch/internal/ticks"
)

// ErrClosed is returned by every mutation once Run has returned.
var ErrClosed = errors.New("pipeline closed")

// Source provides the raw feed buffer.
type Source interface {
	Snapshot() []models.Envelope
	Updates() <-chan struct{}
}

// TickSink receives every newly ingested tick, of any symbol.
type TickSink interface {
	RecordTicks(ticks []models.Tick) error
}

// Options configures a Pipeline.
type Options struct {
	Symbol       string
	Interval     string
	TickCapacity int
	MaxBars      int
	TickSink     TickSink
	// OnSymbolChange runs on the pipeline goroutine after a symbol switch.
	OnSymbolChange func(symbol string)
}

// Pipeline serializes feed ingestion, user commands and analytics updates.
type Pipeline struct {
	src    Source
	alerts *alerts.Engine
	stats  *stats.Engine
	opts   Options

	cmds chan func()
	done chan struct{}
	view atomic.Pointer[View]

	subMu      sync.Mutex
	subs       map[chan *View]struct{}
	subsClosed bool

	// Owned by the Run goroutine.
	runCtx      context.Context
	symbol      string
	interval    string
	status      models.FeedStatus
	buffer      []models.Tick
	lastSeq     uint64
	volatility  []models.VolatilityPoint
	bars        []models.OhlcvBar
	analytics   models.AnalyticsSnapshot
	correlation models.CorrelationSnapshot
}

// New creates a pipeline reading from src. src may be nil when ticks are not
// needed. Alert state lives in engine, which outlives buffer resets.
func New(src Source, engine *alerts.Engine, opts Options) *Pipeline {
	if opts.TickCapacity <= 0 {
		opts.TickCapacity = ticks.DefaultCapacity
	}
	if opts.MaxBars <= 0 {
		opts.MaxBars = ohlcv.DefaultMaxBars
	}
	if opts.Interval == "" {
		opts.Interval = "1s"
	}
	if engine == nil {
		engine = alerts.New(alerts.Options{})
	}

	p := &Pipeline{
		src:      src,
		alerts:   engine,
		stats:    stats.NewEngine(),
		opts:     opts,
		cmds:     make(chan func()),
		done:     make(chan struct{}),
		subs:     make(map[chan *View]struct{}),
		runCtx:   context.Background(),
		symbol:   models.NormalizeSymbol(opts.Symbol),
		interval: opts.Interval,
		status:   models.StatusConnecting,
	}
	p.view.Store(p.snapshot())
	return p
}

// Run processes events until ctx is done. It returns nil on cancellation.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.shutdown()
	p.runCtx = ctx

	var updates <-chan struct{}
	if p.src != nil {
		updates = p.src.Updates()
		p.ingest()
	}
	p.publish()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-updates:
			p.ingest()
			p.publish()
		case fn := <-p.cmds:
			fn()
		}
	}
}

func (p *Pipeline) shutdown() {
	close(p.done)

	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.subsClosed = true
	for ch := range p.subs {
		close(ch)
		delete(p.subs, ch)
	}
}

// View returns the latest published view. It is never nil.
func (p *Pipeline) View() *View {
	return p.view.Load()
}

// Symbol returns the active symbol as of the latest view.
func (p *Pipeline) Symbol() string {
	return p.View().Symbol
}

// Subscribe returns a channel that receives every published view. A slow
// subscriber only ever sees the newest view. The channel is closed when the
// pipeline stops or cancel is called.
func (p *Pipeline) Subscribe() (<-chan *View, func()) {
	ch := make(chan *View, 1)

	p.subMu.Lock()
	defer p.subMu.Unlock()
	ch <- p.View()
	if p.subsClosed {
		close(ch)
		return ch, func() {}
	}
	p.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.subMu.Lock()
			defer p.subMu.Unlock()
			if _, ok := p.subs[ch]; ok {
				delete(p.subs, ch)
				close(ch)
			}
		})
	}
}

// do runs fn on the pipeline goroutine and waits for it to finish.
func (p *Pipeline) do(fn func()) error {
	applied := make(chan struct{})
	select {
	case p.cmds <- func() { fn(); close(applied) }:
	case <-p.done:
		return ErrClosed
	}
	<-applied
	return nil
}

// SetSymbol switches the active instrument, discarding all state derived
// from the previous one.
func (p *Pipeline) SetSymbol(symbol string) error {
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" {
		return errors.New("symbol must not be empty")
	}
	return p.do(func() {
		if symbol == p.symbol {
			return
		}
		logger.Info("Switching symbol %s -> %s", p.symbol, symbol)
		p.symbol = symbol
		p.stats.Reset()
		p.volatility = nil
		p.analytics = nil
		if p.src != nil {
			p.buffer = ticks.Filter(p.src.Snapshot(), p.symbol, p.opts.TickCapacity)
		} else {
			p.buffer = nil
		}
		p.recompute()
		p.publish()
		if p.opts.OnSymbolChange != nil {
			p.opts.OnSymbolChange(symbol)
		}
	})
}

// SetInterval changes the bar width. Unknown names bucket at one second.
func (p *Pipeline) SetInterval(interval string) error {
	return p.do(func() {
		if interval == p.interval {
			return
		}
		p.interval = interval
		p.bars = ohlcv.Bucketize(p.buffer, ohlcv.ParseInterval(p.interval), p.opts.MaxBars)
		p.publish()
	})
}

// SetStatus records a feed status transition.
func (p *Pipeline) SetStatus(status models.FeedStatus) error {
	return p.do(func() {
		p.status = status
		p.publish()
	})
}

// UpdateAnalytics stores snap and evaluates alerts against it. Snapshots for
// a symbol other than the active one are discarded.
func (p *Pipeline) UpdateAnalytics(symbol string, snap models.AnalyticsSnapshot) error {
	symbol = models.NormalizeSymbol(symbol)
	return p.do(func() {
		if symbol != p.symbol {
			logger.Debug("Discarding analytics for inactive symbol %s", symbol)
			return
		}
		p.analytics = snap
		p.alerts.Evaluate(p.runCtx, snap)
		p.publish()
	})
}

// UpdateCorrelation stores the latest correlation snapshot.
func (p *Pipeline) UpdateCorrelation(snap models.CorrelationSnapshot) error {
	return p.do(func() {
		p.correlation = snap
		p.publish()
	})
}

// AddAlert registers an alert and evaluates it against the current analytics.
func (p *Pipeline) AddAlert(metric string, threshold float64) (models.Alert, error) {
	var (
		alert models.Alert
		err   error
	)
	if doErr := p.do(func() {
		alert, err = p.alerts.Add(metric, threshold)
		if err != nil {
			return
		}
		p.alerts.Evaluate(p.runCtx, p.analytics)
		p.publish()
	}); doErr != nil {
		return models.Alert{}, doErr
	}
	return alert, err
}

// RemoveAlert deletes an alert by id and re-evaluates the remaining alerts
// against the current analytics.
func (p *Pipeline) RemoveAlert(id string) error {
	var err error
	if doErr := p.do(func() {
		if err = p.alerts.Remove(id); err == nil {
			p.alerts.Evaluate(p.runCtx, p.analytics)
			p.publish()
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

// DismissTriggered drops the triggered record for an alert.
func (p *Pipeline) DismissTriggered(id string) error {
	var err error
	if doErr := p.do(func() {
		if err = p.alerts.Dismiss(id); err == nil {
			p.publish()
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

func (p *Pipeline) ingest() {
	envs := p.src.Snapshot()

	fresh, last := ticks.NewTicks(envs, p.lastSeq)
	p.lastSeq = last
	if len(fresh) > 0 && p.opts.TickSink != nil {
		if err := p.opts.TickSink.RecordTicks(fresh); err != nil {
			logger.Error("Failed to archive %d ticks: %v", len(fresh), err)
		}
	}

	p.buffer = ticks.Filter(envs, p.symbol, p.opts.TickCapacity)
	p.recompute()
}

// recompute rebuilds stats, the volatility series and bars from p.buffer.
func (p *Pipeline) recompute() {
	if _, ok := p.stats.Update(p.buffer); ok {
		p.volatility = stats.RollingVolatility(p.buffer, stats.DefaultSeriesTail, stats.DefaultSeriesWindow)
	}
	p.bars = ohlcv.Bucketize(p.buffer, ohlcv.ParseInterval(p.interval), p.opts.MaxBars)
	metrics.PipelineRecomputes.Inc()
}

func (p *Pipeline) snapshot() *View {
	v := &View{
		Symbol:      p.symbol,
		Interval:    p.interval,
		Status:      p.status,
		TickCount:   len(p.buffer),
		LastSeq:     p.lastSeq,
		Volatility:  p.volatility,
		Bars:        p.bars,
		Analytics:   p.analytics,
		Correlation: p.correlation,
		Alerts:      p.alerts.Alerts(),
		Triggered:   p.alerts.Triggered(),
		UpdatedAt:   time.Now(),
		Ticks:       p.buffer,
	}
	if s, ok := p.stats.Last(); ok {
		v.Stats = &s
	}
	return v
}

func (p *Pipeline) publish() {
	v := p.snapshot()
	p.view.Store(v)

	p.subMu.Lock()
	defer p.subMu.Unlock()
	for ch := range p.subs {
		select {
		case ch <- v:
		default:
			// Replace the stale view the subscriber has not read yet.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}
