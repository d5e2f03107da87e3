package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"sort"
	"time"

	"github.com/stwalsh4118/churn/internal/domainerr"
	"github.com/stwalsh4118/churn/internal/features"
)

// GBTParams are the gradient boosting hyperparameters.
type GBTParams struct {
	MaxDepth        int     `json:"max_depth"`
	LearningRate    float64 `json:"learning_rate"`
	NEstimators     int     `json:"n_estimators"`
	Subsample       float64 `json:"subsample"`
	ColsampleByTree float64 `json:"colsample_bytree"`
	MinChildWeight  float64 `json:"min_child_weight"`
	Gamma           float64 `json:"gamma"`
	Alpha           float64 `json:"reg_alpha"`
	Lambda          float64 `json:"reg_lambda"`
	// ScalePosWeight multiplies the loss of positive samples.
	ScalePosWeight float64 `json:"scale_pos_weight"`
	// EarlyStoppingRounds stops boosting once validation AUC has not improved
	// for this many rounds. Zero disables early stopping.
	EarlyStoppingRounds int `json:"early_stopping_rounds"`
	// CVFolds is the fold count for the cross-validated AUC recorded by
	// Train. Zero skips cross-validation.
	CVFolds int   `json:"cv_folds"`
	Seed    int64 `json:"seed"`
}

// DefaultGBTParams returns the production defaults.
func DefaultGBTParams() GBTParams {
	return GBTParams{
		MaxDepth:            6,
		LearningRate:        0.1,
		NEstimators:         200,
		Subsample:           0.8,
		ColsampleByTree:     0.8,
		MinChildWeight:      1,
		Gamma:               0,
		Alpha:               0.1,
		Lambda:              1,
		ScalePosWeight:      1,
		EarlyStoppingRounds: 20,
		CVFolds:             DefaultCVFolds,
		Seed:                42,
	}
}

// Validate checks parameter ranges.
func (p GBTParams) Validate() error {
	switch {
	case p.MaxDepth < 1:
		return fmt.Errorf("%w: max_depth must be at least 1", domainerr.ErrInvalidInput)
	case p.LearningRate <= 0 || p.LearningRate > 1:
		return fmt.Errorf("%w: learning_rate must be in (0, 1]", domainerr.ErrInvalidInput)
	case p.NEstimators < 1:
		return fmt.Errorf("%w: n_estimators must be at least 1", domainerr.ErrInvalidInput)
	case p.Subsample <= 0 || p.Subsample > 1:
		return fmt.Errorf("%w: subsample must be in (0, 1]", domainerr.ErrInvalidInput)
	case p.ColsampleByTree <= 0 || p.ColsampleByTree > 1:
		return fmt.Errorf("%w: colsample_bytree must be in (0, 1]", domainerr.ErrInvalidInput)
	case p.MinChildWeight < 0 || p.Gamma < 0 || p.Alpha < 0 || p.Lambda < 0 || p.ScalePosWeight < 0:
		return fmt.Errorf("%w: regularization terms must be non-negative", domainerr.ErrInvalidInput)
	case p.CVFolds == 1 || p.CVFolds < 0:
		return fmt.Errorf("%w: cv_folds must be 0 or at least 2", domainerr.ErrInvalidInput)
	}
	return nil
}

func (p GBTParams) asMap() map[string]float64 {
	return map[string]float64{
		"max_depth":             float64(p.MaxDepth),
		"learning_rate":         p.LearningRate,
		"n_estimators":          float64(p.NEstimators),
		"subsample":             p.Subsample,
		"colsample_bytree":      p.ColsampleByTree,
		"min_child_weight":      p.MinChildWeight,
		"gamma":                 p.Gamma,
		"reg_alpha":             p.Alpha,
		"reg_lambda":            p.Lambda,
		"scale_pos_weight":      p.ScalePosWeight,
		"early_stopping_rounds": float64(p.EarlyStoppingRounds),
		"cv_folds":              float64(p.CVFolds),
		"seed":                  float64(p.Seed),
	}
}

func (p GBTParams) with(overrides map[string]float64) (GBTParams, error) {
	for name, v := range overrides {
		switch name {
		case "max_depth":
			p.MaxDepth = int(v)
		case "learning_rate":
			p.LearningRate = v
		case "n_estimators":
			p.NEstimators = int(v)
		case "subsample":
			p.Subsample = v
		case "colsample_bytree":
			p.ColsampleByTree = v
		case "min_child_weight":
			p.MinChildWeight = v
		case "gamma":
			p.Gamma = v
		case "reg_alpha":
			p.Alpha = v
		case "reg_lambda":
			p.Lambda = v
		case "scale_pos_weight":
			p.ScalePosWeight = v
		case "early_stopping_rounds":
			p.EarlyStoppingRounds = int(v)
		case "cv_folds":
			p.CVFolds = int(v)
		case "seed":
			p.Seed = int64(v)
		default:
			return p, fmt.Errorf("%w: unknown gradient boosting parameter %q", domainerr.ErrInvalidInput, name)
		}
	}
	return p, p.Validate()
}

// GradientBoosting is a binary gradient-boosted tree ensemble trained on the
// logistic loss.
type GradientBoosting struct {
	common
	params     GBTParams
	baseMargin float64
	trees      []tree
}

var _ Tunable = (*GradientBoosting)(nil)

// NewGradientBoosting returns an untrained ensemble.
func NewGradientBoosting(params GBTParams, opts ...Option) *GradientBoosting {
	return &GradientBoosting{common: newCommon(opts), params: params}
}

func (m *GradientBoosting) Kind() Kind { return KindGradientBoosting }

// Params returns the hyperparameters as a flat map.
func (m *GradientBoosting) Params() map[string]float64 { return m.params.asMap() }

// WithParams returns an untrained copy with overridden hyperparameters.
func (m *GradientBoosting) WithParams(overrides map[string]float64) (Tunable, error) {
	p, err := m.params.with(overrides)
	if err != nil {
		return nil, err
	}
	return &GradientBoosting{common: common{Version: m.Version, clockFunc: m.clockFunc}, params: p}, nil
}

// Trees returns the number of boosting rounds kept after training.
func (m *GradientBoosting) Trees() int { return len(m.trees) }

func (m *GradientBoosting) Train(ctx context.Context, train Dataset, val *Dataset) (*TrainingMetadata, error) {
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
		fold.EarlyStoppingRounds = 0
		scores, err := crossValidate(ctx, train, m.params.CVFolds, m.params.Seed,
			func(ctx context.Context, d Dataset) (Classifier, error) {
				fm := NewGradientBoosting(fold)
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

	fit, err := boost(ctx, m.params, train, val)
	if err != nil {
		return nil, err
	}

	m.Features = slices.Clone(train.X.Names)
	m.baseMargin = fit.baseMargin
	m.trees = fit.trees
	meta.BestIteration = fit.bestIteration
	meta.ValidationAUC = fit.validationAUC
	meta.TrainingDuration = time.Since(start)
	meta.TrainedAt = m.now()
	m.Training = meta
	return meta, nil
}

type boostResult struct {
	baseMargin    float64
	trees         []tree
	bestIteration int
	validationAUC *float64
}

func boost(ctx context.Context, p GBTParams, train Dataset, val *Dataset) (*boostResult, error) {
	n, width := train.Len(), train.X.Width()
	x := train.X.Rows

	weights := make([]float64, n)
	var wPos, wAll float64
	for i, y := range train.Y {
		weights[i] = 1
		if y == 1 && p.ScalePosWeight > 0 {
			weights[i] = p.ScalePosWeight
		}
		wAll += weights[i]
		if y == 1 {
			wPos += weights[i]
		}
	}
	base := logit(wPos / wAll)

	margin := make([]float64, n)
	for i := range margin {
		margin[i] = base
	}
	grad := make([]float64, n)
	hess := make([]float64, n)

	useVal := val != nil && p.EarlyStoppingRounds > 0 && val.Len() > 0 &&
		val.Positives() > 0 && val.Positives() < val.Len()
	var valMargin []float64
	if useVal {
		valMargin = make([]float64, val.Len())
		for i := range valMargin {
			valMargin[i] = base
		}
	}

	rng := rand.New(rand.NewSource(p.Seed))
	builder := &treeBuilder{
		x:    x,
		grad: grad,
		hess: hess,
		params: treeParams{
			maxDepth:       p.MaxDepth,
			minChildWeight: p.MinChildWeight,
			gamma:          p.Gamma,
			alpha:          p.Alpha,
			lambda:         p.Lambda,
		},
	}

	res := &boostResult{baseMargin: base}
	bestAUC := math.Inf(-1)
	for round := 0; round < p.NEstimators; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range margin {
			prob := sigmoid(margin[i])
			grad[i] = (prob - float64(train.Y[i])) * weights[i]
			hess[i] = math.Max(prob*(1-prob)*weights[i], 1e-16)
		}

		rows := sampleIndices(rng, n, p.Subsample)
		builder.features = sampleIndices(rng, width, p.ColsampleByTree)
		t := builder.build(rows)
		res.trees = append(res.trees, t)

		for i := range margin {
			margin[i] += p.LearningRate * t.predict(x[i])
		}

		if !useVal {
			continue
		}
		for i, row := range val.X.Rows {
			valMargin[i] += p.LearningRate * t.predict(row)
		}
		auc := AUC(val.Y, valMargin)
		if auc > bestAUC {
			bestAUC = auc
			res.bestIteration = round
		} else if round-res.bestIteration >= p.EarlyStoppingRounds {
			break
		}
	}

	if useVal {
		res.trees = res.trees[:res.bestIteration+1]
		res.validationAUC = &bestAUC
	} else {
		res.bestIteration = len(res.trees) - 1
	}
	return res, nil
}

// sampleIndices draws round(n*frac) indices without replacement, at least one,
// in ascending order.
func sampleIndices(rng *rand.Rand, n int, frac float64) []int {
	if frac >= 1 {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	k := max(1, int(math.Round(float64(n)*frac)))
	idx := rng.Perm(n)[:k]
	sort.Ints(idx)
	return idx
}

func (m *GradientBoosting) margin(row []float64) float64 {
	s := m.baseMargin
	for i := range m.trees {
		s += m.params.LearningRate * m.trees[i].predict(row)
	}
	return s
}

func (m *GradientBoosting) PredictProba(x features.Matrix) ([][2]float64, error) {
	if err := m.checkInput(x); err != nil {
		return nil, err
	}
	out := make([][2]float64, x.Len())
	for i, row := range x.Rows {
		p := sigmoid(m.margin(row))
		out[i] = [2]float64{1 - p, p}
	}
	return out, nil
}

func (m *GradientBoosting) Predict(x features.Matrix) ([]int, error) {
	return predictLabels(m, x)
}

func (m *GradientBoosting) Evaluate(x features.Matrix, y []int) (*Evaluation, error) {
	return evaluateWith(m, x, y)
}

// FeatureImportance returns total split gain per feature, normalized to sum
// to one.
func (m *GradientBoosting) FeatureImportance() ([]Importance, error) {
	if !m.fitted() {
		return nil, fmt.Errorf("%w: call Train before FeatureImportance", domainerr.ErrNotFitted)
	}
	gains := make([]float64, len(m.Features))
	var total float64
	for _, t := range m.trees {
		for _, n := range t.Nodes {
			if n.Left != leaf {
				gains[n.Feature] += n.Gain
				total += n.Gain
			}
		}
	}
	out := make([]Importance, len(m.Features))
	for i, name := range m.Features {
		imp := 0.0
		if total > 0 {
			imp = gains[i] / total
		}
		out[i] = Importance{Feature: name, Importance: imp}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Importance > out[b].Importance })
	return out, nil
}

func (m *GradientBoosting) Explain(x features.Matrix, opts ExplainOptions) (*Explanation, error) {
	return explain(m, x, opts, m.pathContributions)
}

// pathContributions attributes the row's margin to the features on its
// decision paths. The bias plus all contributions equals the margin.
func (m *GradientBoosting) pathContributions(row []float64) (float64, []float64) {
	contrib := make([]float64, len(m.Features))
	bias := m.baseMargin
	for i := range m.trees {
		bias += m.trees[i].contributions(row, m.params.LearningRate, contrib)
	}
	return bias, contrib
}

func (m *GradientBoosting) Metadata() Metadata {
	return m.metadata(KindGradientBoosting, m.params.asMap())
}

type gbtState struct {
	common
	Params     GBTParams `json:"params"`
	BaseMargin float64   `json:"base_margin"`
	Trees      []tree    `json:"trees"`
}

func (m *GradientBoosting) MarshalState() ([]byte, error) {
	if !m.fitted() {
		return nil, fmt.Errorf("%w: nothing to persist", domainerr.ErrNotFitted)
	}
	return json.Marshal(gbtState{common: m.common, Params: m.params, BaseMargin: m.baseMargin, Trees: m.trees})
}

func decodeGradientBoosting(data []byte) (Classifier, error) {
	var s gbtState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if len(s.Trees) == 0 || s.Training == nil {
		return nil, fmt.Errorf("%w: gradient boosting state has no trees", domainerr.ErrNotFitted)
	}
	width := len(s.Features)
	for ti, t := range s.Trees {
		if len(t.Nodes) == 0 {
			return nil, fmt.Errorf("%w: tree %d is empty", domainerr.ErrInvalidInput, ti)
		}
		for ni, n := range t.Nodes {
			if n.Left == leaf {
				continue
			}
			// Children always follow their parent.
			if n.Feature < 0 || n.Feature >= width ||
				n.Left <= ni || n.Right <= ni || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
				return nil, fmt.Errorf("%w: tree %d node %d is malformed", domainerr.ErrInvalidInput, ti, ni)
			}
		}
	}
	s.common.clockFunc = time.Now
	return &GradientBoosting{common: s.common, params: s.Params, baseMargin: s.BaseMargin, trees: s.Trees}, nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func logit(p float64) float64 {
	p = math.Min(math.Max(p, 1e-6), 1-1e-6)
	return math.Log(p / (1 - p))
}
