package jobrun

import (
	"context"
	"errors"
	"time"

	"github.com/pipewright/pipewright/pkg/log"
)

// Poller periodically mirrors unfinished runs from the scheduler.
type Poller struct {
	tracker  *Tracker
	interval time.Duration
}

// NewPoller returns a poller syncing every interval.
func NewPoller(tracker *Tracker, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{tracker: tracker, interval: interval}
}

// Run polls until ctx is cancelled. Sync failures are logged and retried
// on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-ticker.C:
			synced, err := p.tracker.SyncPending(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("job run poll", "synced", synced, "error", err)
				continue
			}
			if synced > 0 {
				log.Debug("job run poll", "synced", synced)
			}
		}
	}
}
