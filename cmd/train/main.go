// Command train fits a churn model from the configured record source and
// saves the artifact the server loads.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/stwalsh4118/churn/internal/app"
	"github.com/stwalsh4118/churn/internal/config"
	"github.com/stwalsh4118/churn/internal/logger"
	"github.com/stwalsh4118/churn/internal/metrics"
	"github.com/stwalsh4118/churn/internal/repository"
	"github.com/stwalsh4118/churn/internal/services"
)

func main() {
	flags := pflag.NewFlagSet("train", pflag.ExitOnError)
	flags.String("records", "", "JSON record set to train on (default: database record tables)")
	flags.String("model-kind", "", "gradient_boosting or logistic_regression")
	flags.String("model-version", "", "version stamped into the artifact")
	flags.String("model-path", "", "artifact key to save under")
	flags.String("artifact-dir", "", "artifact directory for the file store")
	flags.String("store", "", "artifact store: file or postgres")
	flags.Float64("test-size", 0, "held-out validation fraction")
	flags.Int("cv-folds", 0, "cross-validation folds, 0 disables")
	flags.Int64("seed", 0, "random seed")
	flags.Bool("tune", false, "run a hyperparameter grid search")
	flags.String("grid", "", "YAML hyperparameter grid file")
	flags.Duration("timeout", 0, "wall-clock limit for the run")
	importRecords := flags.Bool("import", false, "replace the database record tables with --records before training")
	reportPath := flags.String("report", "", "write the training report JSON here instead of stdout")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.Env).WithComponent("train")

	if err := run(cfg, log, *importRecords, *reportPath); err != nil {
		log.Error("Training run failed", err, nil)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger, importRecords bool, reportPath string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, cfg.Training.Timeout)
	defer cancel()

	db, err := app.OpenDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	var source services.RecordSource
	if importRecords {
		if db == nil || cfg.Training.RecordsFile == "" {
			return errors.New("--import needs --records and DB_ENABLED")
		}
		records, err := repository.NewFileRecordSource(cfg.Training.RecordsFile).LoadRecordSet(ctx)
		if err != nil {
			return err
		}
		repo := repository.NewRecordRepository(db)
		if err := repo.ReplaceRecordSet(ctx, records); err != nil {
			return err
		}
		log.Info("Imported records", map[string]interface{}{
			"file":   cfg.Training.RecordsFile,
			"leases": len(records.Leases),
		})
		source = repo
	} else if source, err = app.NewRecordSource(cfg.Training, db); err != nil {
		return err
	}

	store, err := app.NewArtifactStore(cfg.Model, db)
	if err != nil {
		return err
	}
	opts, err := app.TrainingOptions(cfg)
	if err != nil {
		return err
	}

	report, err := services.NewTrainingService(source, store, nil, opts, log, metrics.New()).Train(ctx)
	if err != nil {
		return err
	}
	return writeReport(report, reportPath)
}

func writeReport(report *services.TrainingReport, path string) error {
	var out io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
