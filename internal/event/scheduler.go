package event

import (
	"context"
	"fmt"

	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/logger"
	"github.com/robfig/cron/v3"
)

// Scheduler runs periodic maintenance jobs. It implements Callable so the Cleaner can stop it.
type Scheduler struct {
	cron *cron.Cron
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(cron.Recover(cronLogger{}))),
	}
}

// Add registers job under a cron spec such as "@every 1m" or "*/5 * * * *".
func (s *Scheduler) Add(name string, spec string, job func()) error {
	_, err := s.cron.AddFunc(spec, func() {
		logger.DebugF("Running scheduled job %s", name)
		job()
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", spec, name, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

func (s *Scheduler) Invoke(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debug(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Error(msg, append(keysAndValues, "error", err)...)
}
