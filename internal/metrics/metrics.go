// Package metrics exposes Prometheus counters for the feed, pipeline, and alerting.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FeedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tickwatch_feed_frames_total", Help: "Feed frames buffered, by envelope type"},
		[]string{"kind"},
	)
	FeedDecodeErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tickwatch_feed_decode_errors_total", Help: "Malformed feed frames dropped"},
	)
	FeedReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tickwatch_feed_reconnects_total", Help: "Reconnect attempts scheduled"},
	)
	FeedConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "tickwatch_feed_connected", Help: "1 while the feed connection is open"},
	)
	PipelineRecomputes = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "tickwatch_pipeline_recomputes_total", Help: "Derived state recomputations"},
	)
	AlertsTriggered = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tickwatch_alerts_triggered_total", Help: "Alert triggers, by metric"},
		[]string{"metric"},
	)
	AnalyticsFetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "tickwatch_analytics_fetch_errors_total", Help: "Failed analytics fetches, by endpoint"},
		[]string{"endpoint"},
	)
)

func init() {
	prometheus.MustRegister(
		FeedFrames,
		FeedDecodeErrors,
		FeedReconnects,
		FeedConnected,
		PipelineRecomputes,
		AlertsTriggered,
		AnalyticsFetchErrors,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
