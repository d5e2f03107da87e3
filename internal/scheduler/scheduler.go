// Package scheduler retrains the churn model on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stwalsh4118/churn/internal/logger"
	"github.com/stwalsh4118/churn/internal/services"
)

// ErrTrainingInProgress is returned by RunNow while another run is active.
var ErrTrainingInProgress = errors.New("training already in progress")

// Trainer runs one training pipeline. services.TrainingService satisfies it.
type Trainer interface {
	Train(ctx context.Context) (*services.TrainingReport, error)
}

// Scheduler runs retraining jobs, at most one at a time.
type Scheduler struct {
	cron    *cron.Cron
	trainer Trainer
	spec    string
	timeout time.Duration
	log     *logger.Logger

	running atomic.Bool
	// ctx is cancelled by Stop so an in-flight run ends early.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
}

// New creates a scheduler. An empty spec disables the schedule; RunNow
// still works.
func New(trainer Trainer, spec string, timeout time.Duration, log *logger.Logger) *Scheduler {
	log = log.WithComponent("scheduler")
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{log}),
			cron.SkipIfStillRunning(cronLogger{log}),
		)),
		trainer: trainer,
		spec:    spec,
		timeout: timeout,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start registers the retraining job and starts the cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.spec == "" {
		s.log.Info("Scheduled retraining is disabled", nil)
		return nil
	}
	if s.started {
		return nil
	}

	if _, err := s.cron.AddFunc(s.spec, s.scheduledRun); err != nil {
		return fmt.Errorf("invalid retrain schedule %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.started = true

	s.log.Info("Scheduler started", map[string]interface{}{
		"schedule": s.spec,
		"timeout":  s.timeout.String(),
	})
	return nil
}

// Stop halts the schedule, cancels an in-flight run and waits for it to
// return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancel()
	if !s.started {
		return nil
	}
	s.started = false

	select {
	case <-s.cron.Stop().Done():
		s.log.Info("Scheduler stopped", nil)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether a training run is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// RunNow trains immediately. It returns ErrTrainingInProgress when a run
// is already active.
func (s *Scheduler) RunNow(ctx context.Context) (*services.TrainingReport, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrTrainingInProgress
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	return s.trainer.Train(ctx)
}

func (s *Scheduler) scheduledRun() {
	s.log.Info("Starting scheduled retraining", nil)

	report, err := s.RunNow(context.Background())
	switch {
	case errors.Is(err, ErrTrainingInProgress):
		s.log.Warn("Skipping scheduled retraining, a run is already active", nil)
	case err != nil:
		s.log.Error("Scheduled retraining failed", err, nil)
	default:
		s.log.Info("Scheduled retraining completed", map[string]interface{}{
			"artifact_id": report.ArtifactID.String(),
			"version":     report.Version,
			"duration_ms": report.Duration.Milliseconds(),
		})
	}
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, pairs(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, err, pairs(keysAndValues))
}

func pairs(kv []interface{}) map[string]interface{} {
	if len(kv) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
