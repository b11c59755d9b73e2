// internal/monitoring/scheduler.go
package monitoring

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sensorqa/internal/database"
)

// Scheduler triggers a full run every interval.
type Scheduler struct {
	engine   *Engine
	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewScheduler(engine *Engine, interval time.Duration) *Scheduler {
	return &Scheduler{
		engine:   engine,
		interval: interval,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.interval <= 0 {
		return nil
	}
	s.running = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)

	logrus.WithField("interval", s.interval).Info("Scheduled periodic runs")
	return nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	logrus.Info("Stopping scheduler")
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	timer := time.NewTimer(s.next())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.runScheduled(ctx)
			timer.Reset(s.next())
		}
	}
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	_, err := s.engine.RunOnce(ctx, database.TriggerScheduled)
	switch {
	case errors.Is(err, ErrRunInProgress):
		logrus.Debug("Skipping scheduled run, another run is active")
	case err != nil:
		logrus.WithError(err).Error("Scheduled run failed")
	}
}

// next adds up to 10% jitter so several instances do not hit the fleet at
// the same moment.
func (s *Scheduler) next() time.Duration {
	jitter := time.Duration(0)
	if spread := int64(s.interval / 10); spread > 0 {
		jitter = time.Duration(rand.Int63n(spread))
	}
	return s.interval + jitter
}
