package pipeline

import (
	"time"

	"github.com/rewired-gh/tickwatch/internal/models"
)

// View is an immutable snapshot of all derived state. Published views are
// never mutated; every change produces a new View.
type View struct {
	Symbol      string                     `json:"symbol"`
	Interval    string                     `json:"interval"`
	Status      models.FeedStatus          `json:"status"`
	TickCount   int                        `json:"tick_count"`
	LastSeq     uint64                     `json:"last_seq"`
	Stats       *models.DescriptiveStats   `json:"stats"`
	Volatility  []models.VolatilityPoint   `json:"volatility"`
	Bars        []models.OhlcvBar          `json:"bars"`
	Analytics   models.AnalyticsSnapshot   `json:"analytics"`
	Correlation models.CorrelationSnapshot `json:"correlation"`
	Alerts      []models.Alert             `json:"alerts"`
	Triggered   []models.TriggeredAlert    `json:"triggered"`
	UpdatedAt   time.Time                  `json:"updated_at"`

	// Ticks is the active buffer, oldest first.
	Ticks []models.Tick `json:"-"`
}

// LatestTicks returns up to n of the most recent ticks in the view.
func (v *View) LatestTicks(n int) []models.Tick {
	if n <= 0 || n >= len(v.Ticks) {
		return v.Ticks
	}
	return v.Ticks[len(v.Ticks)-n:]
}
