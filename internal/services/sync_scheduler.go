package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
)

// SyncScheduler runs ReconcileAll on a five-field cron schedule. Ticks that
// arrive while a previous reconcile is still running are skipped.
type SyncScheduler struct {
	log     *logger.Logger
	trigger SyncTrigger
	cron    *cron.Cron
	timeout time.Duration
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewSyncScheduler returns nil with no error when spec is empty.
func NewSyncScheduler(log *logger.Logger, trigger SyncTrigger, spec string, timeout time.Duration) (*SyncScheduler, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	if _, err := scheduleParser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}
	if timeout <= 0 {
		timeout = time.Hour
	}
	s := &SyncScheduler{
		log:     log.With("service", "SyncScheduler"),
		trigger: trigger,
		timeout: timeout,
	}
	cl := cronLogger{log: s.log}
	s.cron = cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("schedule reconcile: %w", err)
	}
	s.log.Info("Reconcile scheduled", "schedule", spec)
	return s, nil
}

func (s *SyncScheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	started := time.Now()
	outcomes, err := s.trigger.ReconcileAll(ctx)
	if err != nil {
		s.log.Warn("Scheduled reconcile incomplete", "error", err, "integrations", len(outcomes))
		return
	}
	s.log.Info("Scheduled reconcile done", "integrations", len(outcomes), "duration", time.Since(started).String())
}

func (s *SyncScheduler) Start() {
	if s == nil {
		return
	}
	s.cron.Start()
}

// Stop prevents new runs and waits for a running reconcile until ctx ends.
func (s *SyncScheduler) Stop(ctx context.Context) {
	if s == nil {
		return
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("Scheduler stop timed out; reconcile still running")
	}
}

// cronLogger adapts the service logger to cron.Logger.
type cronLogger struct{ log *logger.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
