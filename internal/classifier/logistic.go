package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/stwalsh4118/churn/internal/domainerr"
	"github.com/stwalsh4118/churn/internal/features"
)

// LogisticParams configure batch gradient descent with an L2 penalty.
type LogisticParams struct {
	LearningRate   float64 `json:"learning_rate"`
	MaxIter        int     `json:"max_iter"`
	L2             float64 `json:"l2"`
	Tolerance      float64 `json:"tolerance"`
	ScalePosWeight float64 `json:"scale_pos_weight"`
	CVFolds        int     `json:"cv_folds"`
	Seed           int64   `json:"seed"`
}

func DefaultLogisticParams() LogisticParams {
	return LogisticParams{
		LearningRate:   0.1,
		MaxIter:        1000,
		L2:             0.01,
		Tolerance:      1e-6,
		ScalePosWeight: 1,
		CVFolds:        DefaultCVFolds,
		Seed:           42,
	}
}

func (p LogisticParams) Validate() error {
	switch {
	case p.LearningRate <= 0:
		return fmt.Errorf("%w: learning_rate must be positive", domainerr.ErrInvalidInput)
	case p.MaxIter < 1:
		return fmt.Errorf("%w: max_iter must be at least 1", domainerr.ErrInvalidInput)
	case p.L2 < 0 || p.Tolerance < 0 || p.ScalePosWeight < 0:
		return fmt.Errorf("%w: l2, tolerance and scale_pos_weight must be non-negative", domainerr.ErrInvalidInput)
	case p.CVFolds == 1 || p.CVFolds < 0:
		return fmt.Errorf("%w: cv_folds must be 0 or at least 2", domainerr.ErrInvalidInput)
	}
	return nil
}

func (p LogisticParams) asMap() map[string]float64 {
	return map[string]float64{
		"learning_rate":    p.LearningRate,
		"max_iter":         float64(p.MaxIter),
		"l2":               p.L2,
		"tolerance":        p.Tolerance,
		"scale_pos_weight": p.ScalePosWeight,
		"cv_folds":         float64(p.CVFolds),
		"seed":             float64(p.Seed),
	}
}

func (p LogisticParams) with(overrides map[string]float64) (LogisticParams, error) {
	for name, v := range overrides {
		switch name {
		case "learning_rate":
			p.LearningRate = v
		case "max_iter":
			p.MaxIter = int(v)
		case "l2":
			p.L2 = v
		case "tolerance":
			p.Tolerance = v
		case "scale_pos_weight":
			p.ScalePosWeight = v
		case "cv_folds":
			p.CVFolds = int(v)
		case "seed":
			p.Seed = int64(v)
		default:
			return p, fmt.Errorf("%w: unknown logistic regression parameter %q", domainerr.ErrInvalidInput, name)
		}
	}
	return p, p.Validate()
}

// LogisticRegression is a linear substitute for the tree ensemble. It has no
// importance scores, so global-importance explanations are unsupported.
type LogisticRegression struct {
	common
	params    LogisticParams
	weights   []float64
	intercept float64
}

var _ Tunable = (*LogisticRegression)(nil)

func NewLogisticRegression(params LogisticParams, opts ...Option) *LogisticRegression {
	return &LogisticRegression{common: newCommon(opts), params: params}
}

func (m *LogisticRegression) Kind() Kind { return KindLogisticRegression }

func (m *LogisticRegression) Params() map[string]float64 { return m.params.asMap() }

func (m *LogisticRegression) WithParams(overrides map[string]float64) (Tunable, error) {
	p, err := m.params.with(overrides)
	if err != nil {
		return nil, err
	}
	return &LogisticRegression{common: common{Version: m.Version, clockFunc: m.clockFunc}, params: p}, nil
}

func (m *LogisticRegression) Train(ctx context.Context, train Dataset, val *Dataset) (*TrainingMetadata, error) {
	if err := checkTraining(train, val); err != nil {
		return nil, err
	}
	if err := m.params.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	meta := &TrainingMetadata{
		SampleCount:   train.Len(),
		PositiveCount: train.Positives(),
		CVFolds:       m.params.CVFolds,
	}
	if m.params.CVFolds >= 2 {
		fold := m.params
		fold.CVFolds = 0
		scores, err := crossValidate(ctx, train, m.params.CVFolds, m.params.Seed,
			func(ctx context.Context, d Dataset) (Classifier, error) {
				fm := NewLogisticRegression(fold)
				if _, err := fm.Train(ctx, d, nil); err != nil {
					return nil, err
				}
				return fm, nil
			})
		if err != nil {
			return nil, fmt.Errorf("cross-validation: %w", err)
		}
		meta.CVAUCMean, meta.CVAUCStd = summarize(scores)
	}

	weights, intercept, err := m.descend(ctx, train)
	if err != nil {
		return nil, err
	}
	m.Features = slices.Clone(train.X.Names)
	m.weights, m.intercept = weights, intercept
	meta.BestIteration = 0
	if val != nil {
		proba := make([]float64, val.Len())
		for i, row := range val.X.Rows {
			proba[i] = sigmoid(linear(weights, intercept, row))
		}
		auc := AUC(val.Y, proba)
		meta.ValidationAUC = &auc
	}
	meta.TrainingDuration = time.Since(start)
	meta.TrainedAt = m.now()
	m.Training = meta
	return meta, nil
}

func (m *LogisticRegression) descend(ctx context.Context, train Dataset) ([]float64, float64, error) {
	p := m.params
	n, width := train.Len(), train.X.Width()
	sampleW := make([]float64, n)
	var wAll float64
	for i, y := range train.Y {
		sampleW[i] = 1
		if y == 1 && p.ScalePosWeight > 0 {
			sampleW[i] = p.ScalePosWeight
		}
		wAll += sampleW[i]
	}

	w := make([]float64, width)
	grad := make([]float64, width)
	var b float64
	for iter := 0; iter < p.MaxIter; iter++ {
		if iter%50 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
		}
		clear(grad)
		var gb float64
		for i, row := range train.X.Rows {
			r := (sigmoid(linear(w, b, row)) - float64(train.Y[i])) * sampleW[i]
			for j, v := range row {
				grad[j] += r * v
			}
			gb += r
		}
		var step float64
		for j := range w {
			g := grad[j]/wAll + p.L2*w[j]
			w[j] -= p.LearningRate * g
			step = math.Max(step, math.Abs(g))
		}
		b -= p.LearningRate * gb / wAll
		if step < p.Tolerance && math.Abs(gb/wAll) < p.Tolerance {
			break
		}
	}
	return w, b, nil
}

func linear(w []float64, b float64, row []float64) float64 {
	s := b
	for j, v := range row {
		s += w[j] * v
	}
	return s
}

func (m *LogisticRegression) PredictProba(x features.Matrix) ([][2]float64, error) {
	if err := m.checkInput(x); err != nil {
		return nil, err
	}
	out := make([][2]float64, x.Len())
	for i, row := range x.Rows {
		p := sigmoid(linear(m.weights, m.intercept, row))
		out[i] = [2]float64{1 - p, p}
	}
	return out, nil
}

func (m *LogisticRegression) Predict(x features.Matrix) ([]int, error) {
	return predictLabels(m, x)
}

func (m *LogisticRegression) Evaluate(x features.Matrix, y []int) (*Evaluation, error) {
	return evaluateWith(m, x, y)
}

func (m *LogisticRegression) FeatureImportance() ([]Importance, error) {
	return nil, fmt.Errorf("%w: logistic regression exposes no feature importance", domainerr.ErrUnsupportedOperation)
}

func (m *LogisticRegression) Explain(x features.Matrix, opts ExplainOptions) (*Explanation, error) {
	return explain(m, x, opts, m.linearContributions)
}

// linearContributions is exact for a linear model: w_j * x_j.
func (m *LogisticRegression) linearContributions(row []float64) (float64, []float64) {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = m.weights[j] * v
	}
	return m.intercept, out
}

// Coefficients returns the fitted weights keyed by feature name.
func (m *LogisticRegression) Coefficients() map[string]float64 {
	out := make(map[string]float64, len(m.weights))
	for i, name := range m.Features {
		out[name] = m.weights[i]
	}
	return out
}

func (m *LogisticRegression) Metadata() Metadata {
	return m.metadata(KindLogisticRegression, m.params.asMap())
}

type logisticState struct {
	common
	Params    LogisticParams `json:"params"`
	Weights   []float64      `json:"weights"`
	Intercept float64        `json:"intercept"`
}

func (m *LogisticRegression) MarshalState() ([]byte, error) {
	if !m.fitted() {
		return nil, fmt.Errorf("%w: nothing to persist", domainerr.ErrNotFitted)
	}
	return json.Marshal(logisticState{common: m.common, Params: m.params, Weights: m.weights, Intercept: m.intercept})
}

func decodeLogisticRegression(data []byte) (Classifier, error) {
	var s logisticState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.Training == nil {
		return nil, fmt.Errorf("%w: logistic regression state is untrained", domainerr.ErrNotFitted)
	}
	if len(s.Weights) != len(s.Features) {
		return nil, fmt.Errorf("%w: %d weights for %d features", domainerr.ErrInvalidInput, len(s.Weights), len(s.Features))
	}
	s.common.clockFunc = time.Now
	return &LogisticRegression{common: s.common, params: s.Params, weights: s.Weights, intercept: s.Intercept}, nil
}
