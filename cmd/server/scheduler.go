package main

import (
	"github.com/stwalsh4118/churn/internal/app"
	"github.com/stwalsh4118/churn/internal/config"
	"github.com/stwalsh4118/churn/internal/database"
	"github.com/stwalsh4118/churn/internal/logger"
	"github.com/stwalsh4118/churn/internal/metrics"
	"github.com/stwalsh4118/churn/internal/scheduler"
	"github.com/stwalsh4118/churn/internal/services"
	"github.com/stwalsh4118/churn/internal/storage"
)

// newScheduler wires scheduled retraining. It returns nil when no schedule
// is configured or there is nothing to train from.
func newScheduler(
	cfg *config.Config,
	db *database.Database,
	store storage.BlobStore,
	registry *services.ModelRegistry,
	log *logger.Logger,
	m *metrics.Metrics,
) *scheduler.Scheduler {
	if cfg.Training.Schedule == "" {
		return nil
	}

	source, err := app.NewRecordSource(cfg.Training, db)
	if err != nil {
		log.Warn("Scheduled retraining disabled", map[string]interface{}{"reason": err.Error()})
		return nil
	}
	opts, err := app.TrainingOptions(cfg)
	if err != nil {
		log.Fatal("Invalid training configuration", err, nil)
	}

	trainer := services.NewTrainingService(source, store, registry, opts, log, m)
	return scheduler.New(trainer, cfg.Training.Schedule, cfg.Training.Timeout, log)
}
