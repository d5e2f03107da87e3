// Package app builds the dependencies shared by the server and training
// binaries from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/stwalsh4118/churn/internal/classifier"
	"github.com/stwalsh4118/churn/internal/config"
	"github.com/stwalsh4118/churn/internal/database"
	"github.com/stwalsh4118/churn/internal/logger"
	"github.com/stwalsh4118/churn/internal/repository"
	"github.com/stwalsh4118/churn/internal/risk"
	"github.com/stwalsh4118/churn/internal/services"
	"github.com/stwalsh4118/churn/internal/storage"
)

// ErrNoRecordSource is returned when neither a records file nor a database
// is configured.
var ErrNoRecordSource = errors.New("no record source configured: set TRAIN_RECORDS_FILE or DB_ENABLED")

// OpenDatabase connects to Postgres and applies pending migrations. It
// returns nil without error when the database is disabled.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*database.Database, error) {
	if !cfg.Enabled {
		log.Info("Database disabled", nil)
		return nil, nil
	}

	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	log.Info("Database connection established", map[string]interface{}{
		"host":     cfg.Host,
		"port":     cfg.Port,
		"database": cfg.Name,
		"pool_min": cfg.PoolMin,
		"pool_max": cfg.PoolMax,
	})
	return db, nil
}

// NewArtifactStore returns the configured blob store for model artifacts.
func NewArtifactStore(cfg config.ModelConfig, db *database.Database) (storage.BlobStore, error) {
	switch cfg.Store {
	case config.ArtifactStoreFile:
		fs, err := storage.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case config.ArtifactStorePostgres:
		if db == nil {
			return nil, fmt.Errorf("artifact store %q requires a database", cfg.Store)
		}
		return storage.NewPostgresStore(db), nil
	default:
		return nil, fmt.Errorf("unknown artifact store %q", cfg.Store)
	}
}

// NewRecordSource prefers the records file and falls back to the database
// record tables.
func NewRecordSource(cfg config.TrainingConfig, db *database.Database) (services.RecordSource, error) {
	switch {
	case cfg.RecordsFile != "":
		return repository.NewFileRecordSource(cfg.RecordsFile), nil
	case db != nil:
		return repository.NewRecordRepository(db), nil
	default:
		return nil, ErrNoRecordSource
	}
}

// TrainingOptions maps configuration onto a training run, loading the
// hyperparameter grid file when one is set.
func TrainingOptions(cfg *config.Config) (services.TrainingOptions, error) {
	opts := services.TrainingOptions{
		Kind:     classifier.Kind(cfg.Model.Kind),
		Version:  cfg.Model.Version,
		Key:      cfg.Model.Path,
		TestSize: cfg.Training.TestSize,
		CVFolds:  cfg.Training.CVFolds,
		Seed:     cfg.Training.Seed,
		Tune:     cfg.Training.Tune,
	}
	if cfg.Training.GridFile != "" {
		grid, err := classifier.LoadGrid(cfg.Training.GridFile)
		if err != nil {
			return services.TrainingOptions{}, err
		}
		opts.Grid = grid
	}
	return opts, nil
}

// RiskPolicy builds the serving-time tier policy.
func RiskPolicy(cfg config.RiskConfig) (risk.Policy, error) {
	p := risk.Policy{HighScore: cfg.HighThreshold, MediumScore: cfg.MediumThreshold}
	if err := p.Validate(); err != nil {
		return risk.Policy{}, err
	}
	return p, nil
}
