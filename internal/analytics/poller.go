package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/rewired-gh/tickwatch/internal/logger"
	"github.com/rewired-gh/tickwatch/internal/metrics"
	"github.com/rewired-gh/tickwatch/internal/models"
)

const DefaultPollInterval = 3 * time.Second

// Fetcher is the subset of Client the poller needs.
type Fetcher interface {
	FetchAnalytics(ctx context.Context, symbol string) (models.AnalyticsSnapshot, error)
	FetchCorrelation(ctx context.Context, a, b string) (models.CorrelationSnapshot, error)
}

// Sink receives successful snapshots. symbol is the instrument the analytics
// snapshot was requested for.
type Sink interface {
	UpdateAnalytics(symbol string, snap models.AnalyticsSnapshot) error
	UpdateCorrelation(snap models.CorrelationSnapshot) error
}

// PollerOptions configures a Poller.
type PollerOptions struct {
	Interval        time.Duration
	CorrelationPair [2]string
	// Symbol returns the active instrument at fetch time.
	Symbol func() string
}

// Poller periodically fetches analytics and correlation snapshots.
type Poller struct {
	fetcher  Fetcher
	sink     Sink
	interval time.Duration
	pair     [2]string
	symbol   func() string
	kick     chan struct{}
}

func NewPoller(fetcher Fetcher, sink Sink, opts PollerOptions) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	if opts.CorrelationPair[0] == "" || opts.CorrelationPair[1] == "" {
		opts.CorrelationPair = [2]string{"btcusdt", "ethusdt"}
	}
	return &Poller{
		fetcher:  fetcher,
		sink:     sink,
		interval: opts.Interval,
		pair:     opts.CorrelationPair,
		symbol:   opts.Symbol,
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests an immediate poll. Kicks coalesce.
func (p *Poller) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run polls immediately, then on every tick or kick, until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	logger.Info("Starting analytics poller (interval %v, correlation %s/%s)", p.interval, p.pair[0], p.pair[1])
	p.PollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Analytics poller stopped")
			return nil
		case <-ticker.C:
			p.PollOnce(ctx)
		case <-p.kick:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce fetches both snapshots concurrently and delivers the successful ones.
func (p *Poller) PollOnce(ctx context.Context) {
	symbol := ""
	if p.symbol != nil {
		symbol = p.symbol()
	}

	var wg conc.WaitGroup
	if symbol != "" {
		wg.Go(func() {
			snap, err := p.fetcher.FetchAnalytics(ctx, symbol)
			if err != nil {
				p.failed(ctx, EndpointAnalytics, err)
				return
			}
			p.deliver(p.sink.UpdateAnalytics(symbol, snap))
		})
	}
	wg.Go(func() {
		snap, err := p.fetcher.FetchCorrelation(ctx, p.pair[0], p.pair[1])
		if err != nil {
			p.failed(ctx, EndpointCorrelation, err)
			return
		}
		p.deliver(p.sink.UpdateCorrelation(snap))
	})
	wg.Wait()
}

func (p *Poller) failed(ctx context.Context, endpoint string, err error) {
	if ctx.Err() != nil {
		return
	}
	metrics.AnalyticsFetchErrors.WithLabelValues(endpoint).Inc()
	logger.Warn("Analytics %s fetch failed, keeping previous snapshot: %v", endpoint, err)
}

func (p *Poller) deliver(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	logger.Debug("Snapshot not applied: %v", err)
}
