// Package scheduler runs daily jobs at wall-clock times.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler wraps a cron runner with HH:MM daily registration.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// New builds an empty scheduler.
func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		logger: logger,
	}
}

// Daily registers job to run every day at clockTime ("15:04").
func (s *Scheduler) Daily(clockTime, name string, job func()) error {
	parsed, err := time.Parse("15:04", clockTime)
	if err != nil {
		return fmt.Errorf("parse %s time %q: %w", name, clockTime, err)
	}
	spec := fmt.Sprintf("%d %d * * *", parsed.Minute(), parsed.Hour())

	logger := s.logger.With(zap.String("job", name), zap.String("at", clockTime))
	_, err = s.cron.AddFunc(spec, func() {
		logger.Info("scheduled job starting")
		start := time.Now()
		job()
		logger.Info("scheduled job finished", zap.Duration("took", time.Since(start)))
	})
	if err != nil {
		return fmt.Errorf("register %s job: %w", name, err)
	}
	logger.Info("scheduled daily job")
	return nil
}

// Start launches the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and returns a context that ends once running jobs
// have drained.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
