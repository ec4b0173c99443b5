package alerts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rewired-gh/tickwatch/internal/logger"
	"github.com/rewired-gh/tickwatch/internal/models"
)

// Notifier delivers a triggered alert to the user.
type Notifier interface {
	Notify(ctx context.Context, t models.TriggeredAlert) error
}

// BellNotifier rings the terminal bell and prints a one-line summary.
type BellNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewBellNotifier writes notifications to w.
func NewBellNotifier(w io.Writer) *BellNotifier {
	return &BellNotifier{w: w}
}

func (b *BellNotifier) Notify(_ context.Context, t models.TriggeredAlert) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := fmt.Fprintf(b.w, "\a%s alert: %s = %.4f > %g\n",
		t.TriggeredAt.Format("15:04:05"), t.Alert.Metric, t.Value, t.Alert.Threshold)
	return err
}

// MultiNotifier fans a notification out to every notifier and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, t models.TriggeredAlert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ErrQueueFull is returned by AsyncNotifier when its queue has no room.
var ErrQueueFull = errors.New("notification queue full")

// AsyncNotifier queues notifications for a background worker so slow
// delivery never blocks evaluation.
type AsyncNotifier struct {
	next  Notifier
	queue chan models.TriggeredAlert
}

// NewAsyncNotifier wraps next with a queue of the given size.
func NewAsyncNotifier(next Notifier, size int) *AsyncNotifier {
	if size <= 0 {
		size = 16
	}
	return &AsyncNotifier{next: next, queue: make(chan models.TriggeredAlert, size)}
}

// Notify enqueues t without blocking.
func (a *AsyncNotifier) Notify(_ context.Context, t models.TriggeredAlert) error {
	select {
	case a.queue <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run delivers queued notifications until ctx is done.
func (a *AsyncNotifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case t := <-a.queue:
			if err := a.next.Notify(ctx, t); err != nil {
				logger.Error("Failed to deliver notification for alert %s: %v", t.Alert.ID, err)
			}
		}
	}
}
