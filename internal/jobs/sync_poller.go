package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"catalog-override-service/internal/services"
)

// SyncPoller periodically applies finished sync jobs and closes idle editing sessions
type SyncPoller struct {
	tracker  *services.SyncStateTracker
	sessions *services.SessionManager
	logger   *logrus.Logger
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSyncPoller creates a new sync poller
func NewSyncPoller(tracker *services.SyncStateTracker, sessions *services.SessionManager, interval time.Duration, logger *logrus.Logger) *SyncPoller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &SyncPoller{
		tracker:  tracker,
		sessions: sessions,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the poll loop until Stop is called or ctx is cancelled
func (p *SyncPoller) Start(ctx context.Context) {
	p.logger.Info("Sync poller started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			p.RunOnce(ctx)
		case <-p.stopCh:
			p.logger.Info("Sync poller stopped")
			return
		case <-ctx.Done():
			p.logger.Info("Sync poller context cancelled")
			return
		}
	}
}

// Stop signals the poller to stop
func (p *SyncPoller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// RunOnce performs a single poll cycle
func (p *SyncPoller) RunOnce(ctx context.Context) {
	changed, err := p.tracker.PollActive(ctx)
	if err != nil {
		p.logger.WithError(err).Error("Failed to poll sync jobs")
	}
	if changed > 0 {
		p.logger.Infof("Applied %d sync job update(s)", changed)
	}

	if p.sessions != nil {
		if closed := p.sessions.Sweep(ctx); closed > 0 {
			p.logger.Infof("Closed %d idle editing session(s)", closed)
		}
	}
}
