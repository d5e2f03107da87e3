package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/churn/internal/artifact"
	"github.com/stwalsh4118/churn/internal/classifier"
	"github.com/stwalsh4118/churn/internal/dataset"
	"github.com/stwalsh4118/churn/internal/domainerr"
	"github.com/stwalsh4118/churn/internal/features"
	"github.com/stwalsh4118/churn/internal/logger"
	"github.com/stwalsh4118/churn/internal/metrics"
	"github.com/stwalsh4118/churn/internal/models"
	"github.com/stwalsh4118/churn/internal/storage"
)

// reportedFeatures is how many of the most important features a training
// report carries.
const reportedFeatures = 10

// RecordSource supplies the raw tables for training.
type RecordSource interface {
	LoadRecordSet(ctx context.Context) (models.RecordSet, error)
}

// TrainingOptions configure one training pipeline.
type TrainingOptions struct {
	Kind    classifier.Kind
	Version string
	// Key is the artifact key the trained bundle is saved under.
	Key      string
	TestSize float64
	CVFolds  int
	Seed     int64
	// Tune runs a grid search over Grid, or over the default grid when Grid
	// is nil, before the final fit.
	Tune bool
	Grid classifier.Grid
	// Overrides are applied to the estimator's default hyperparameters.
	Overrides map[string]float64
}

// TrainingReport summarizes a successful training run.
type TrainingReport struct {
	RunID          uuid.UUID                    `json:"run_id"`
	ArtifactID     uuid.UUID                    `json:"artifact_id"`
	Key            string                       `json:"key"`
	Kind           classifier.Kind              `json:"kind"`
	Version        string                       `json:"version"`
	LabeledRows    int                          `json:"labeled_rows"`
	TrainRows      int                          `json:"train_rows"`
	ValidationRows int                          `json:"validation_rows"`
	ChurnRate      float64                      `json:"churn_rate"`
	ScalePosWeight float64                      `json:"scale_pos_weight"`
	Training       *classifier.TrainingMetadata `json:"training"`
	TrainMetrics   *classifier.Evaluation       `json:"train_metrics"`
	ValMetrics     *classifier.Evaluation       `json:"validation_metrics"`
	TopFeatures    []classifier.Importance      `json:"top_features,omitempty"`
	Tuning         []classifier.CandidateScore  `json:"tuning,omitempty"`
	BestParams     map[string]float64           `json:"best_params,omitempty"`
	Duration       time.Duration                `json:"duration"`
}

// TrainingService runs the training pipeline.
type TrainingService interface {
	// Train loads records, fits a transform and classifier on a stratified
	// training split, evaluates on the held-out split, saves the bundle and
	// publishes it when a registry is attached.
	Train(ctx context.Context) (*TrainingReport, error)
}

// trainingService is the concrete implementation of TrainingService.
type trainingService struct {
	source   RecordSource
	store    storage.BlobStore
	registry *ModelRegistry
	opts     TrainingOptions
	features []features.Option
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// NewTrainingService creates a new instance of TrainingService. registry may
// be nil, in which case the trained bundle is only saved.
func NewTrainingService(
	source RecordSource,
	store storage.BlobStore,
	registry *ModelRegistry,
	opts TrainingOptions,
	log *logger.Logger,
	m *metrics.Metrics,
	featureOpts ...features.Option,
) TrainingService {
	return &trainingService{
		source:   source,
		store:    store,
		registry: registry,
		opts:     opts,
		features: featureOpts,
		log:      log.WithComponent("training"),
		metrics:  m,
	}
}

// Train runs the pipeline end to end.
func (s *trainingService) Train(ctx context.Context) (*TrainingReport, error) {
	start := time.Now()
	report := &TrainingReport{RunID: uuid.New(), Kind: s.opts.Kind, Key: s.opts.Key}
	log := s.log.With(map[string]interface{}{"run_id": report.RunID.String()})

	err := s.run(ctx, report, log)
	report.Duration = time.Since(start)

	var cvAUC, valAUC float64
	if err == nil {
		cvAUC, valAUC = report.Training.CVAUCMean, report.ValMetrics.ROCAUC
	}
	s.metrics.RecordTraining(err, report.Duration, cvAUC, valAUC)

	if err != nil {
		log.Error("Training failed", err, map[string]interface{}{
			"duration_ms": report.Duration.Milliseconds(),
		})
		return nil, err
	}

	log.Info("Training complete", map[string]interface{}{
		"artifact_id": report.ArtifactID.String(),
		"key":         report.Key,
		"cv_auc":      cvAUC,
		"val_auc":     valAUC,
		"duration_ms": report.Duration.Milliseconds(),
	})
	return report, nil
}

func (s *trainingService) run(ctx context.Context, report *TrainingReport, log *logger.Logger) error {
	records, err := s.source.LoadRecordSet(ctx)
	if err != nil {
		return fmt.Errorf("failed to load records: %w", err)
	}
	table, err := dataset.Join(records, dataset.JoinOptions{})
	if err != nil {
		return err
	}

	labeled, y := labeledRows(table)
	report.LabeledRows = len(y)
	if len(y) == 0 {
		return fmt.Errorf("%w: no labeled leases to train on", domainerr.ErrInvalidInput)
	}

	trainIdx, valIdx, err := classifier.StratifiedSplit(y, s.opts.TestSize, s.opts.Seed)
	if err != nil {
		return err
	}
	trainTable, yTrain := subset(labeled, y, trainIdx)
	valTable, yVal := subset(labeled, y, valIdx)
	report.TrainRows, report.ValidationRows = len(yTrain), len(yVal)

	log.Info("Training data prepared", map[string]interface{}{
		"leases":     len(table.Rows),
		"labeled":    len(y),
		"train":      len(yTrain),
		"validation": len(yVal),
		"has_market": table.HasMarket,
	})

	// The transform sees the training split only.
	transform := features.NewTransform(s.features...)
	xTrain, err := transform.FitTransform(trainTable)
	if err != nil {
		return fmt.Errorf("failed to fit transform: %w", err)
	}
	xVal, err := transform.Transform(valTable)
	if err != nil {
		return fmt.Errorf("failed to transform validation split: %w", err)
	}
	trainSet := classifier.Dataset{X: xTrain, Y: yTrain}
	valSet := classifier.Dataset{X: xVal, Y: yVal}

	report.ChurnRate = float64(trainSet.Positives()) / float64(trainSet.Len())
	report.ScalePosWeight = classifier.ScalePosWeight(yTrain)

	model, err := s.newEstimator(report.ScalePosWeight)
	if err != nil {
		return err
	}

	if s.opts.Tune {
		grid := s.opts.Grid
		if grid == nil {
			if grid, err = classifier.DefaultGrid(s.opts.Kind); err != nil {
				return err
			}
		}
		log.Info("Starting hyperparameter search", map[string]interface{}{"candidates": grid.Size()})
		res, err := classifier.GridSearch(ctx, model, grid, trainSet, classifier.SearchOptions{
			Folds:      s.opts.CVFolds,
			Seed:       s.opts.Seed,
			Validation: &valSet,
		})
		if err != nil {
			return fmt.Errorf("hyperparameter search failed: %w", err)
		}
		model = res.Best
		report.Tuning, report.BestParams = res.Candidates, res.BestParams
	} else {
		if _, err := model.Train(ctx, trainSet, &valSet); err != nil {
			return fmt.Errorf("failed to train model: %w", err)
		}
	}

	meta := model.Metadata()
	report.Version, report.Training = meta.Version, meta.Training
	if report.TrainMetrics, err = model.Evaluate(xTrain, yTrain); err != nil {
		return err
	}
	if report.ValMetrics, err = model.Evaluate(xVal, yVal); err != nil {
		return err
	}
	if imp, err := model.FeatureImportance(); err == nil {
		report.TopFeatures = imp[:min(reportedFeatures, len(imp))]
	}

	bundle, err := artifact.NewBundle(model, transform)
	if err != nil {
		return err
	}
	if err := artifact.Save(ctx, s.store, s.opts.Key, bundle); err != nil {
		return err
	}
	report.ArtifactID = bundle.ID

	if s.registry != nil {
		s.registry.Publish(bundle)
	}
	return nil
}

// newEstimator builds the configured estimator with class weighting and the
// run's fold count and seed applied.
func (s *trainingService) newEstimator(scalePosWeight float64) (classifier.Tunable, error) {
	var opts []classifier.Option
	if s.opts.Version != "" {
		opts = append(opts, classifier.WithVersion(s.opts.Version))
	}
	base, err := classifier.New(s.opts.Kind, opts...)
	if err != nil {
		return nil, err
	}

	overrides := map[string]float64{
		"scale_pos_weight": scalePosWeight,
		"cv_folds":         float64(s.opts.CVFolds),
		"seed":             float64(s.opts.Seed),
	}
	for k, v := range s.opts.Overrides {
		overrides[k] = v
	}
	return base.WithParams(overrides)
}

// labeledRows keeps the rows that carry a training label.
func labeledRows(table *models.JoinedTable) (*models.JoinedTable, []int) {
	out := &models.JoinedTable{HasMarket: table.HasMarket}
	var y []int
	for _, row := range table.Rows {
		if label, ok := row.Label(); ok {
			out.Rows = append(out.Rows, row)
			y = append(y, label)
		}
	}
	return out, y
}

func subset(table *models.JoinedTable, y []int, idx []int) (*models.JoinedTable, []int) {
	out := &models.JoinedTable{HasMarket: table.HasMarket, Rows: make([]models.JoinedRow, len(idx))}
	labels := make([]int, len(idx))
	for i, j := range idx {
		out.Rows[i] = table.Rows[j]
		labels[i] = y[j]
	}
	return out, labels
}
