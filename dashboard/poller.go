package dashboard

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Poller is the manual-polling fallback for a view that has lost its
// real-time coverage. While the registry health check reports the feed as
// disconnected, the poller refreshes the view's snapshot on a fixed
// interval; once the feed is live again it goes back to waiting.
type Poller struct {
	view     *View
	interval time.Duration
	log      *logrus.Entry
}

// NewPoller returns a poller for the given view.
func NewPoller(view *View, interval time.Duration, log *logrus.Entry) *Poller {
	return &Poller{
		view:     view,
		interval: interval,
		log:      log,
	}
}

// Run polls until the context is cancelled. It is intended to run in its own
// goroutine alongside a mounted view.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status := p.view.CheckHealth(ctx)
			if status.Connected {
				continue
			}
			p.log.WithError(status.Err).Debug("change feed disconnected; refreshing by poll")
			if err := p.view.Refresh(ctx); err != nil {
				p.log.WithError(err).Warn("polling refresh failed")
			}
		}
	}
}
