package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ruralpay/payqueue/internal/config"
	"github.com/ruralpay/payqueue/internal/metrics"
	"go.uber.org/zap"
)

const (
	AgingSweep  = "aging"
	UnlockSweep = "unlock"
)

// Engine is the part of the transfer service the sweeps drive.
type Engine interface {
	Rerank(ctx context.Context, now time.Time) (int, error)
	ReleaseMatured(ctx context.Context, now time.Time) (int, error)
}

// Scheduler owns the cron runner and the sweeps registered on it.
type Scheduler struct {
	cron   *cron.Cron
	jobs   []scheduledSweep
	logger *zap.Logger
}

type scheduledSweep struct {
	spec  string
	sweep *Sweep
}

// NewScheduler wires the aging and unlock sweeps against engine.
func NewScheduler(engine Engine, cfg config.WorkerConfig, m *metrics.Metrics, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger{logger.Sugar()}))),
		logger: logger,
	}
	s.Add(every(cfg.AgingInterval), NewSweep(AgingSweep, "[AGING_SWEEP]", engine.Rerank, cfg.TickTimeout, m, logger))
	s.Add(every(cfg.UnlockInterval), NewSweep(UnlockSweep, "[UNLOCK_SWEEP]", engine.ReleaseMatured, cfg.TickTimeout, m, logger))
	return s
}

// Add registers a sweep under a cron spec. It takes effect on Start.
func (s *Scheduler) Add(spec string, sweep *Sweep) {
	s.jobs = append(s.jobs, scheduledSweep{spec: spec, sweep: sweep})
}

func (s *Scheduler) Sweeps() []*Sweep {
	out := make([]*Sweep, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.sweep)
	}
	return out
}

// Start registers every sweep and starts the cron runner.
func (s *Scheduler) Start() error {
	for _, j := range s.jobs {
		if _, err := s.cron.AddJob(j.spec, j.sweep); err != nil {
			return fmt.Errorf("failed to schedule %s sweep: %w", j.sweep.Name(), err)
		}
		s.logger.Info("[SCHEDULER] Scheduled sweep", zap.String("sweep", j.sweep.Name()), zap.String("schedule", j.spec))
	}
	s.cron.Start()
	return nil
}

// Stop halts scheduling. The returned context is done once running ticks have returned.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// cronLogger routes cron's own messages (recovered panics) through zap.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw("[SCHEDULER] "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw("[SCHEDULER] "+msg, append(keysAndValues, "error", err)...)
}
