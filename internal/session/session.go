// Package session wires the feed, pipeline, analytics poller, notifiers,
// archive and HTTP API into one running process.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/tickwatch/internal/alerts"
	"github.com/rewired-gh/tickwatch/internal/analytics"
	"github.com/rewired-gh/tickwatch/internal/config"
	"github.com/rewired-gh/tickwatch/internal/export"
	"github.com/rewired-gh/tickwatch/internal/feed"
	"github.com/rewired-gh/tickwatch/internal/logger"
	"github.com/rewired-gh/tickwatch/internal/models"
	"github.com/rewired-gh/tickwatch/internal/pipeline"
	"github.com/rewired-gh/tickwatch/internal/server"
	"github.com/rewired-gh/tickwatch/internal/storage"
	"github.com/rewired-gh/tickwatch/internal/telegram"
)

const feedEventQueue = 8

// feedEvent is a connection health change worth telling the user about.
type feedEvent struct {
	recovered bool
	failures  int
	since     time.Time
}

// Session owns every long-lived component. Run must be called at most once.
type Session struct {
	cfg *config.Config

	feed     *feed.Channel
	pipeline *pipeline.Pipeline
	engine   *alerts.Engine
	async    *alerts.AsyncNotifier
	poller   *analytics.Poller
	server   *server.Server
	store    *storage.Storage
	telegram *telegram.Client

	statusSig  chan struct{}
	feedEvents chan feedEvent

	// Touched only from the feed supervisor goroutine.
	failures  int
	downSince time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	running   sync.WaitGroup
	closeOnce sync.Once
}

// New builds a session from a validated configuration and starts the feed connection.
func New(cfg *config.Config) (*Session, error) {
	s := &Session{
		cfg:        cfg,
		statusSig:  make(chan struct{}, 1),
		feedEvents: make(chan feedEvent, feedEventQueue),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	var notifiers alerts.MultiNotifier
	if cfg.Alerts.Bell {
		notifiers = append(notifiers, alerts.NewBellNotifier(os.Stdout))
	}

	if cfg.Storage.Enabled {
		store, err := storage.New(cfg.Storage.MaxTicks, cfg.Storage.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		s.store = store
		notifiers = append(notifiers, store)
	}

	if cfg.Telegram.Enabled {
		tg, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			s.closeStore()
			return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		s.telegram = tg
		notifiers = append(notifiers, tg)
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	s.async = alerts.NewAsyncNotifier(notifiers, 0)
	s.engine = alerts.New(alerts.Options{
		Notifier:       s.async,
		NotifyCooldown: cfg.Alerts.NotifyCooldown,
	})
	for _, rule := range cfg.Alerts.Rules {
		if _, err := s.engine.Add(rule.Metric, rule.Threshold); err != nil {
			s.closeStore()
			return nil, fmt.Errorf("invalid alert rule %s > %g: %w", rule.Metric, rule.Threshold, err)
		}
	}

	s.feed = feed.Open(cfg.Feed.URL, feed.Options{
		AutoReconnect:    cfg.Feed.AutoReconnect,
		BufferCapacity:   cfg.Feed.BufferCapacity,
		ReconnectDelay:   cfg.Feed.ReconnectDelay,
		HandshakeTimeout: cfg.Feed.HandshakeTimeout,
		OnStatus:         s.onStatus,
	})

	popts := pipeline.Options{
		Symbol:       cfg.Pipeline.Symbol,
		Interval:     cfg.Pipeline.Interval,
		TickCapacity: cfg.Pipeline.TickCapacity,
		MaxBars:      cfg.Pipeline.MaxBars,
		OnSymbolChange: func(string) {
			s.poller.Kick()
		},
	}
	if s.store != nil {
		popts.TickSink = s.store
	}
	s.pipeline = pipeline.New(s.feed, s.engine, popts)

	s.poller = analytics.NewPoller(
		analytics.NewClient(cfg.Analytics.BaseURL, cfg.Analytics.Timeout, cfg.Analytics.MaxRetries),
		s.pipeline,
		analytics.PollerOptions{
			Interval:        cfg.Analytics.PollInterval,
			CorrelationPair: cfg.CorrelationPair(),
			Symbol:          s.pipeline.Symbol,
		},
	)

	var archive server.Archive
	if s.store != nil {
		archive = s.store
	}
	s.server = server.New(s.pipeline, archive)

	return s, nil
}

// Pipeline exposes the running pipeline.
func (s *Session) Pipeline() *pipeline.Pipeline {
	return s.pipeline
}

// Run starts every component and blocks until ctx is done, Close is called,
// or a component fails.
func (s *Session) Run(ctx context.Context) error {
	s.running.Add(1)
	defer s.running.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.pipeline.Run(gctx) })
	g.Go(func() error { return s.forwardStatus(gctx) })
	g.Go(func() error { s.watchFeed(gctx); return nil })
	g.Go(func() error { return s.poller.Run(gctx) })
	g.Go(func() error { return s.async.Run(gctx) })
	if s.telegram != nil {
		g.Go(func() error { return s.reportFeedHealth(gctx) })
		s.telegram.ListenForCommands(gctx, s.statusText)
	}
	if s.cfg.Server.Addr != "" {
		g.Go(func() error { return s.server.ListenAndServe(gctx, s.cfg.Server.Addr) })
	}

	logger.Info("Watching %s on %s (interval %s, poll %v)",
		s.pipeline.Symbol(), s.cfg.Feed.URL, s.cfg.Pipeline.Interval, s.cfg.Analytics.PollInterval)

	return g.Wait()
}

// Close stops polling and reconnecting, closes the feed, writes the export
// dump when configured and closes the archive. It is safe to call repeatedly.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.feed.Close()
		s.running.Wait()

		if s.cfg.Export.Dir != "" {
			if dumpErr := s.dump(time.Now()); dumpErr != nil {
				err = dumpErr
			}
		}
		if closeErr := s.closeStore(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	})
	return err
}

func (s *Session) dump(at time.Time) error {
	enc := export.New(s.cfg.Export.Format)
	if enc == nil {
		return fmt.Errorf("unsupported export format %q", s.cfg.Export.Format)
	}
	v := s.pipeline.View()
	paths, err := export.Dump(s.cfg.Export.Dir, enc, v.Symbol, v.Ticks, v.Bars, at)
	if err != nil {
		return err
	}
	logger.Info("Exported %d ticks and %d bars to %s", len(v.Ticks), len(v.Bars), strings.Join(paths, ", "))
	return nil
}

func (s *Session) closeStore() error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}
	return nil
}

// onStatus runs on the feed supervisor goroutine and must not block.
func (s *Session) onStatus(status models.FeedStatus) {
	select {
	case s.statusSig <- struct{}{}:
	default:
	}

	switch status {
	case models.StatusError:
		s.failures++
		if s.failures == 1 {
			s.downSince = time.Now()
			logger.Warn("Feed connection lost: %s", s.cfg.Feed.URL)
			s.queueFeedEvent(feedEvent{})
		}
	case models.StatusConnected:
		if s.failures > 0 {
			logger.Info("Feed connection recovered after %d failed attempt(s), down since %s",
				s.failures, humanize.Time(s.downSince))
			s.queueFeedEvent(feedEvent{recovered: true, failures: s.failures, since: s.downSince})
			s.failures = 0
		}
	}
}

func (s *Session) queueFeedEvent(ev feedEvent) {
	if s.telegram == nil {
		return
	}
	select {
	case s.feedEvents <- ev:
	default:
		logger.Warn("Dropping feed health notification: queue full")
	}
}

// forwardStatus copies the latest feed status into the pipeline.
func (s *Session) forwardStatus(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.statusSig:
			if err := s.pipeline.SetStatus(s.feed.Status()); errors.Is(err, pipeline.ErrClosed) {
				return nil
			}
		}
	}
}

// watchFeed reports a feed supervisor that stopped on its own, which happens
// after the first disconnect when auto reconnect is off.
func (s *Session) watchFeed(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-s.feed.Done():
		if ctx.Err() == nil && s.ctx.Err() == nil {
			logger.Warn("Feed %s stopped and will not reconnect; serving the last received ticks", s.cfg.Feed.URL)
		}
	}
}

func (s *Session) reportFeedHealth(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.feedEvents:
			var err error
			if ev.recovered {
				err = s.telegram.SendFeedRecovered(ctx, ev.failures, ev.since)
			} else {
				err = s.telegram.SendFeedDown(ctx, s.cfg.Feed.URL)
			}
			if err != nil {
				logger.Warn("Failed to send feed health notification to Telegram: %v", err)
			}
		}
	}
}

// statusText renders the /status bot reply.
func (s *Session) statusText() string {
	v := s.pipeline.View()
	var b strings.Builder
	fmt.Fprintf(&b, "Feed: %s\n", v.Status)
	fmt.Fprintf(&b, "Symbol: %s (%s bars)\n", v.Symbol, v.Interval)
	fmt.Fprintf(&b, "Ticks: %s\n", humanize.Comma(int64(v.TickCount)))
	if v.Stats != nil {
		fmt.Fprintf(&b, "Price: %s (%+.2f%%)\n", humanize.FtoaWithDigits(v.Stats.Price, 8), v.Stats.PriceChangePercent)
	}
	fmt.Fprintf(&b, "Alerts: %d active, %d triggered\n", len(v.Alerts), len(v.Triggered))
	fmt.Fprintf(&b, "Updated: %s", humanize.Time(v.UpdatedAt))
	return b.String()
}
