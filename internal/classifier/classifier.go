// Package classifier defines the churn model family. Every estimator trains
// on a features.Matrix, refuses input whose column order differs from the
// order it was trained on, and can be persisted and restored exactly.
package classifier

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/stwalsh4118/churn/internal/domainerr"
	"github.com/stwalsh4118/churn/internal/features"
)

// Kind names an estimator implementation.
type Kind string

const (
	KindGradientBoosting   Kind = "gradient_boosting"
	KindLogisticRegression Kind = "logistic_regression"
)

// DecisionThreshold is the positive-class probability at which Predict returns 1.
const DecisionThreshold = 0.5

// Dataset pairs a feature matrix with binary labels.
type Dataset struct {
	X features.Matrix
	Y []int
}

// NewDataset checks that labels are binary and parallel to the rows.
func NewDataset(x features.Matrix, y []int) (Dataset, error) {
	if len(y) != x.Len() {
		return Dataset{}, fmt.Errorf("%w: %d rows but %d labels", domainerr.ErrInvalidInput, x.Len(), len(y))
	}
	for i, v := range y {
		if v != 0 && v != 1 {
			return Dataset{}, fmt.Errorf("%w: label %d at row %d is not binary", domainerr.ErrInvalidInput, v, i)
		}
	}
	return Dataset{X: x, Y: y}, nil
}

// Len returns the number of samples.
func (d Dataset) Len() int { return len(d.Y) }

// Subset returns the samples at idx.
func (d Dataset) Subset(idx []int) Dataset {
	y := make([]int, len(idx))
	for i, j := range idx {
		y[i] = d.Y[j]
	}
	return Dataset{X: d.X.Select(idx), Y: y}
}

// Positives counts samples labelled 1.
func (d Dataset) Positives() int {
	n := 0
	for _, v := range d.Y {
		n += v
	}
	return n
}

// TrainingMetadata is recorded by every successful Train call.
type TrainingMetadata struct {
	SampleCount      int           `json:"sample_count"`
	PositiveCount    int           `json:"positive_count"`
	CVFolds          int           `json:"cv_folds"`
	CVAUCMean        float64       `json:"cv_auc_mean"`
	CVAUCStd         float64       `json:"cv_auc_std"`
	TrainingDuration time.Duration `json:"training_duration"`
	TrainedAt        time.Time     `json:"trained_at"`
	BestIteration    int           `json:"best_iteration,omitempty"`
	ValidationAUC    *float64      `json:"validation_auc,omitempty"`
}

// Metadata describes a classifier for serving and observability layers.
type Metadata struct {
	Version      string             `json:"version"`
	Kind         Kind               `json:"kind"`
	FeatureCount int                `json:"feature_count"`
	FeatureNames []string           `json:"feature_names"`
	Training     *TrainingMetadata  `json:"training,omitempty"`
	Config       map[string]float64 `json:"config"`
}

// Importance is one feature's share of the model's importance.
type Importance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// Classifier is the capability set every churn estimator provides.
type Classifier interface {
	Kind() Kind
	// Train fits on train. When val is non-nil it drives early stopping only.
	Train(ctx context.Context, train Dataset, val *Dataset) (*TrainingMetadata, error)
	Predict(x features.Matrix) ([]int, error)
	// PredictProba returns {P(stay), P(churn)} per row.
	PredictProba(x features.Matrix) ([][2]float64, error)
	Evaluate(x features.Matrix, y []int) (*Evaluation, error)
	// FeatureImportance returns features sorted by importance, descending, or
	// ErrUnsupportedOperation when the estimator has no importance scores.
	FeatureImportance() ([]Importance, error)
	// Explain describes the prediction for exactly one row.
	Explain(x features.Matrix, opts ExplainOptions) (*Explanation, error)
	Metadata() Metadata
	FeatureNames() []string
	// MarshalState encodes the fitted estimator for Decode.
	MarshalState() ([]byte, error)
}

// Tunable estimators can be re-created with overridden hyperparameters.
type Tunable interface {
	Classifier
	Params() map[string]float64
	// WithParams returns a new untrained estimator with the overrides applied.
	WithParams(overrides map[string]float64) (Tunable, error)
}

// Option configures fields shared by all estimators.
type Option func(*common)

// WithVersion sets the model version reported in Metadata.
func WithVersion(v string) Option {
	return func(c *common) { c.Version = v }
}

// common holds the state every estimator carries besides its parameters.
type common struct {
	Version   string            `json:"version"`
	Features  []string          `json:"feature_names"`
	Training  *TrainingMetadata `json:"training,omitempty"`
	clockFunc func() time.Time
}

func newCommon(opts []Option) common {
	c := common{Version: "1.0.0", clockFunc: time.Now}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c *common) now() time.Time {
	if c.clockFunc == nil {
		return time.Now()
	}
	return c.clockFunc()
}

func (c *common) fitted() bool { return c.Training != nil }

func (c *common) FeatureNames() []string { return slices.Clone(c.Features) }

func (c *common) metadata(kind Kind, config map[string]float64) Metadata {
	return Metadata{
		Version:      c.Version,
		Kind:         kind,
		FeatureCount: len(c.Features),
		FeatureNames: slices.Clone(c.Features),
		Training:     c.Training,
		Config:       config,
	}
}

// checkInput validates a matrix against the fitted feature order.
func (c *common) checkInput(x features.Matrix) error {
	if !c.fitted() {
		return fmt.Errorf("%w: call Train before predicting", domainerr.ErrNotFitted)
	}
	if err := domainerr.CheckFeatureOrder(c.Features, x.Names); err != nil {
		return err
	}
	for i, row := range x.Rows {
		if len(row) != len(c.Features) {
			return fmt.Errorf("%w: row %d has %d values, expected %d",
				domainerr.ErrInvalidInput, i, len(row), len(c.Features))
		}
	}
	return nil
}

// checkTraining validates the training and validation splits.
func checkTraining(train Dataset, val *Dataset) error {
	if train.Len() == 0 {
		return fmt.Errorf("%w: training set is empty", domainerr.ErrInvalidInput)
	}
	if train.Len() != train.X.Len() {
		return fmt.Errorf("%w: %d rows but %d labels", domainerr.ErrInvalidInput, train.X.Len(), train.Len())
	}
	if val != nil {
		if val.Len() != val.X.Len() {
			return fmt.Errorf("%w: validation has %d rows but %d labels", domainerr.ErrInvalidInput, val.X.Len(), val.Len())
		}
		if err := domainerr.CheckFeatureOrder(train.X.Names, val.X.Names); err != nil {
			return err
		}
	}
	return nil
}

// predictLabels thresholds positive-class probabilities.
func predictLabels(c Classifier, x features.Matrix) ([]int, error) {
	proba, err := c.PredictProba(x)
	if err != nil {
		return nil, err
	}
	labels := make([]int, len(proba))
	for i, p := range proba {
		if p[1] >= DecisionThreshold {
			labels[i] = 1
		}
	}
	return labels, nil
}

func evaluateWith(c Classifier, x features.Matrix, y []int) (*Evaluation, error) {
	if len(y) != x.Len() {
		return nil, fmt.Errorf("%w: %d rows but %d labels", domainerr.ErrInvalidInput, x.Len(), len(y))
	}
	proba, err := c.PredictProba(x)
	if err != nil {
		return nil, err
	}
	return Evaluate(y, positiveColumn(proba)), nil
}

func positiveColumn(proba [][2]float64) []float64 {
	out := make([]float64, len(proba))
	for i, p := range proba {
		out[i] = p[1]
	}
	return out
}

// ScalePosWeight returns negatives/positives for the given labels, or 1 when
// there are no positives. Compute it on the training split only.
func ScalePosWeight(y []int) float64 {
	pos := 0
	for _, v := range y {
		pos += v
	}
	if pos == 0 {
		return 1
	}
	return float64(len(y)-pos) / float64(pos)
}
