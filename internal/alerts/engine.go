// Package alerts evaluates user-defined thresholds against analytics snapshots.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/rewired-gh/tickwatch/internal/logger"
	"github.com/rewired-gh/tickwatch/internal/metrics"
	"github.com/rewired-gh/tickwatch/internal/models"
)

// ErrNotFound is returned when an alert or triggered record does not exist.
var ErrNotFound = errors.New("alert not found")

// Definition is the user input for a new alert.
type Definition struct {
	Metric    string  `json:"metric" mapstructure:"metric" validate:"required,oneof=zscore spread adf_pvalue"`
	Threshold float64 `json:"threshold" mapstructure:"threshold" validate:"gt=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the metric name and that the threshold is positive.
func (d Definition) Validate() error {
	return validate.Struct(d)
}

// Options configures an Engine.
type Options struct {
	Notifier Notifier
	// NotifyCooldown suppresses repeat notifications for the same alert. Zero disables it.
	NotifyCooldown time.Duration
}

// Engine owns the alert set and the triggered history.
type Engine struct {
	mu           sync.Mutex
	alerts       []models.Alert
	triggered    []models.TriggeredAlert
	lastNotified map[string]time.Time

	notifier Notifier
	cooldown time.Duration
	now      func() time.Time
}

// New creates an empty engine.
func New(opts Options) *Engine {
	return &Engine{
		lastNotified: make(map[string]time.Time),
		notifier:     opts.Notifier,
		cooldown:     opts.NotifyCooldown,
		now:          time.Now,
	}
}

// Add validates the metric and threshold and registers a new greater-than alert.
func (e *Engine) Add(metric string, threshold float64) (models.Alert, error) {
	def := Definition{Metric: metric, Threshold: threshold}
	if err := def.Validate(); err != nil {
		return models.Alert{}, fmt.Errorf("invalid alert: %w", err)
	}

	alert := models.Alert{
		ID:        uuid.NewString(),
		Metric:    models.Metric(def.Metric),
		Threshold: def.Threshold,
		Operator:  models.OperatorGreaterThan,
		CreatedAt: e.now(),
	}

	e.mu.Lock()
	e.alerts = append(e.alerts, alert)
	e.mu.Unlock()

	logger.Info("Added alert %s: %s > %g", alert.ID, alert.Metric, alert.Threshold)
	return alert, nil
}

// Remove deletes an alert. Its triggered record, if any, stays in the history.
func (e *Engine) Remove(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, a := range e.alerts {
		if a.ID == id {
			e.alerts = append(e.alerts[:i:i], e.alerts[i+1:]...)
			delete(e.lastNotified, id)
			return nil
		}
	}
	return ErrNotFound
}

// Dismiss drops the triggered record for an alert.
func (e *Engine) Dismiss(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, t := range e.triggered {
		if t.Alert.ID == id {
			e.triggered = append(e.triggered[:i:i], e.triggered[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// Alerts returns a copy of the active alerts in creation order.
func (e *Engine) Alerts() []models.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Alert(nil), e.alerts...)
}

// Triggered returns a copy of the triggered history, most recent trigger last.
func (e *Engine) Triggered() []models.TriggeredAlert {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.TriggeredAlert(nil), e.triggered...)
}

// Evaluate checks every alert against snapshot and returns the alerts that
// fired on this pass. Alerts re-fire on every pass while their condition holds.
func (e *Engine) Evaluate(ctx context.Context, snapshot models.AnalyticsSnapshot) []models.TriggeredAlert {
	if snapshot == nil {
		return nil
	}

	e.mu.Lock()
	now := e.now()
	var fired, notify []models.TriggeredAlert
	for _, a := range e.alerts {
		value, ok := snapshot.Float(string(a.Metric))
		if !ok || !(value > a.Threshold) {
			continue
		}
		rec := models.TriggeredAlert{Alert: a, Value: value, TriggeredAt: now}
		e.upsert(rec)
		fired = append(fired, rec)

		if last, seen := e.lastNotified[a.ID]; e.cooldown > 0 && seen && now.Sub(last) < e.cooldown {
			continue
		}
		e.lastNotified[a.ID] = now
		notify = append(notify, rec)
	}
	e.mu.Unlock()

	for _, rec := range fired {
		metrics.AlertsTriggered.WithLabelValues(string(rec.Alert.Metric)).Inc()
	}
	for _, rec := range notify {
		logger.Warn("Alert %s triggered: %s = %g > %g", rec.Alert.ID, rec.Alert.Metric, rec.Value, rec.Alert.Threshold)
		if e.notifier == nil {
			continue
		}
		if err := e.notifier.Notify(ctx, rec); err != nil {
			logger.Error("Failed to send alert notification: %v", err)
		}
	}
	return fired
}

// upsert replaces any prior record for the same alert and appends rec at the end.
// Caller holds e.mu.
func (e *Engine) upsert(rec models.TriggeredAlert) {
	kept := e.triggered[:0]
	for _, t := range e.triggered {
		if t.Alert.ID != rec.Alert.ID {
			kept = append(kept, t)
		}
	}
	e.triggered = append(kept, rec)
}
