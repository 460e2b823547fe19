// Package workers runs the periodic background sweeps: re-ranking the priority queue
// and releasing matured time-locks.
package workers

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ruralpay/payqueue/internal/metrics"
	"go.uber.org/zap"
)

// SweepFunc does one pass of work at now and reports how many items it touched.
type SweepFunc func(ctx context.Context, now time.Time) (int, error)

// Sweep is a non-reentrant periodic task. A tick that fires while the previous one is
// still running is skipped.
type Sweep struct {
	name    string
	tag     string
	fn      SweepFunc
	timeout time.Duration
	running atomic.Bool

	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewSweep(name, tag string, fn SweepFunc, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Sweep {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweep{
		name:    name,
		tag:     tag,
		fn:      fn,
		timeout: timeout,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *Sweep) Name() string {
	return s.name
}

// Run satisfies cron.Job.
func (s *Sweep) Run() {
	_, _ = s.RunOnce(context.Background())
}

// RunOnce runs a single tick. ran is false when the previous tick is still in progress.
func (s *Sweep) RunOnce(ctx context.Context) (ran bool, err error) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.RecordSweepSkipped(s.name)
		s.logger.Debug(s.tag+" Previous tick still running, skipping", zap.String("sweep", s.name))
		return false, nil
	}
	defer s.running.Store(false)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	items, err := s.fn(ctx, s.now())
	s.metrics.RecordSweep(s.name, items, time.Since(start), err)

	if err != nil {
		s.logger.Error(s.tag+" Sweep failed", zap.String("sweep", s.name), zap.Int("items", items), zap.Error(err))
		return true, err
	}
	if items > 0 {
		s.logger.Info(s.tag+" Sweep finished", zap.String("sweep", s.name), zap.Int("items", items))
	}
	return true, nil
}
