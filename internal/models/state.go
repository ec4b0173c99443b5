package models

import (
	"encoding/json"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// FeedStatus is the connection state reported by the feed channel.
type FeedStatus string

const (
	StatusConnecting   FeedStatus = "connecting"
	StatusConnected    FeedStatus = "connected"
	StatusError        FeedStatus = "error"
	StatusDisconnected FeedStatus = "disconnected"
)

// DescriptiveStats is recomputed wholesale from the active tick buffer.
type DescriptiveStats struct {
	Price              float64 `json:"price"`
	PreviousPrice      float64 `json:"previous_price"`
	Mean               float64 `json:"mean"`
	Std                float64 `json:"std"`
	High               float64 `json:"high"`
	Low                float64 `json:"low"`
	Range              float64 `json:"range"`
	VWAP               float64 `json:"vwap"`
	TickCount          int     `json:"tick_count"`
	TotalVolume        float64 `json:"total_volume"`
	Volatility         float64 `json:"volatility"`
	PriceChange        float64 `json:"price_change"`
	PriceChangePercent float64 `json:"price_change_percent"`

	AvgReturn        float64 `json:"avg_return"`
	ReturnStd        float64 `json:"return_std"`
	SharpeLike       float64 `json:"sharpe_like"`
	Skewness         float64 `json:"skewness"`
	BuyVolume        float64 `json:"buy_volume"`
	SellVolume       float64 `json:"sell_volume"`
	BuyVolumePercent float64 `json:"buy_volume_percent"`
	MomentumScore    float64 `json:"momentum_score"`

	ComputedAt time.Time `json:"computed_at"`
}

// VolatilityPoint is one sample of the rolling volatility series, in percent.
type VolatilityPoint struct {
	Timestamp  time.Time `json:"timestamp"`
	Volatility float64   `json:"volatility"`
}

// OhlcvBar summarizes the ticks of one time bucket.
type OhlcvBar struct {
	BucketStart time.Time       `json:"bucket_start"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
	Trades      int             `json:"trades"`
}

// Metric names an externally computed analytics value an alert can watch.
type Metric string

const (
	MetricZScore    Metric = "zscore"
	MetricSpread    Metric = "spread"
	MetricADFPValue Metric = "adf_pvalue"
)

// OperatorGreaterThan is the only supported alert comparison.
const OperatorGreaterThan = "greater_than"

// Alert is a user-defined threshold on an analytics metric.
type Alert struct {
	ID        string    `json:"id"`
	Metric    Metric    `json:"metric"`
	Threshold float64   `json:"threshold"`
	Operator  string    `json:"operator"`
	CreatedAt time.Time `json:"created_at"`
}

// TriggeredAlert records the latest trigger of an alert. One record per alert ID.
type TriggeredAlert struct {
	Alert       Alert     `json:"alert"`
	Value       float64   `json:"value"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// AnalyticsSnapshot is an opaque key/value result from the analytics service.
type AnalyticsSnapshot map[string]any

// CorrelationSnapshot is an opaque key/value result from the correlation service.
type CorrelationSnapshot map[string]any

// Float returns the numeric value stored under key. Absent, null, and non-numeric
// values report ok=false.
func (s AnalyticsSnapshot) Float(key string) (float64, bool) {
	return floatValue(s, key)
}

// Float returns the numeric value stored under key.
func (s CorrelationSnapshot) Float(key string) (float64, bool) {
	return floatValue(s, key)
}

func floatValue(m map[string]any, key string) (float64, bool) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return 0, false
	}
	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int64:
		v = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}
	if math.IsNaN(v) {
		return 0, false
	}
	return v, true
}
