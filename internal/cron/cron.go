// Package cron runs the API's periodic jobs.
package cron

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"
)

// Scheduler is a cron-like job scheduler.
type Scheduler struct {
	*cron.Cron
}

// cronLogger adapts a charm logger to cron.Logger.
type cronLogger struct {
	logger *log.Logger
}

// Info logs routine messages about cron's operation.
func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

// Error logs an error condition.
func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "err", err)...)
}

func NewScheduler(ctx context.Context) *Scheduler {
	logger := cronLogger{log.FromContext(ctx).WithPrefix("cron")}
	return &Scheduler{
		Cron: cron.New(cron.WithLogger(logger)),
	}
}

// Shutdown stops the scheduler and waits up to 30s for running jobs.
func (s *Scheduler) Shutdown() {
	ctx, cancel := context.WithTimeout(s.Cron.Stop(), 30*time.Second)
	defer cancel()
	<-ctx.Done()
}

// AddJob schedules fn on the cron expression schedule. fn receives ctx and its error is logged.
func (s *Scheduler) AddJob(ctx context.Context, name, schedule string, fn func(context.Context) error) (int, error) {
	logger := log.FromContext(ctx).WithPrefix("cron")
	id, err := s.Cron.AddFunc(schedule, func() {
		started := time.Now()
		if err := fn(ctx); err != nil {
			logger.Error("job failed", "job", name, "err", err)
			return
		}
		logger.Debug("job finished", "job", name, "elapsed", time.Since(started))
	})
	return int(id), err
}

func (s *Scheduler) Remove(id int) {
	s.Cron.Remove(cron.EntryID(id))
}
