package classifier

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/stwalsh4118/churn/internal/domainerr"
	"gopkg.in/yaml.v3"
)

// Grid maps hyperparameter names to the values to try.
type Grid map[string][]float64

// DefaultGBTGrid is the search space used when no grid file is configured.
func DefaultGBTGrid() Grid {
	return Grid{
		"max_depth":        {4, 6, 8},
		"learning_rate":    {0.01, 0.1, 0.2},
		"n_estimators":     {100, 200, 300},
		"subsample":        {0.7, 0.8, 0.9},
		"colsample_bytree": {0.7, 0.8, 0.9},
	}
}

// DefaultLogisticGrid is the logistic regression search space.
func DefaultLogisticGrid() Grid {
	return Grid{
		"learning_rate": {0.05, 0.1, 0.5},
		"l2":            {0.001, 0.01, 0.1},
	}
}

// DefaultGrid returns the default search space for kind.
func DefaultGrid(kind Kind) (Grid, error) {
	switch kind {
	case KindGradientBoosting:
		return DefaultGBTGrid(), nil
	case KindLogisticRegression:
		return DefaultLogisticGrid(), nil
	default:
		return nil, fmt.Errorf("%w: unknown estimator kind %q", domainerr.ErrUnsupportedOperation, kind)
	}
}

// ParseGrid decodes a YAML grid such as:
//
//	max_depth: [4, 6]
//	learning_rate: [0.05, 0.1]
func ParseGrid(data []byte) (Grid, error) {
	var g Grid
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("%w: parse grid: %v", domainerr.ErrInvalidInput, err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// LoadGrid reads a YAML grid file.
func LoadGrid(path string) (Grid, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read grid %s: %w", path, err)
	}
	return ParseGrid(data)
}

// Validate rejects empty grids and parameters without values.
func (g Grid) Validate() error {
	if len(g) == 0 {
		return fmt.Errorf("%w: parameter grid is empty", domainerr.ErrInvalidInput)
	}
	for name, values := range g {
		if len(values) == 0 {
			return fmt.Errorf("%w: parameter %q has no values", domainerr.ErrInvalidInput, name)
		}
	}
	return nil
}

// Size returns the number of candidate configurations.
func (g Grid) Size() int {
	if len(g) == 0 {
		return 0
	}
	n := 1
	for _, values := range g {
		n *= len(values)
	}
	return n
}

// Candidates enumerates every combination. Parameters vary in sorted-name
// order with the last name changing fastest.
func (g Grid) Candidates() []map[string]float64 {
	if g.Validate() != nil {
		return nil
	}
	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]map[string]float64, 0, g.Size())
	pos := make([]int, len(names))
	for {
		c := make(map[string]float64, len(names))
		for i, name := range names {
			c[name] = g[name][pos[i]]
		}
		out = append(out, c)

		i := len(names) - 1
		for ; i >= 0; i-- {
			pos[i]++
			if pos[i] < len(g[names[i]]) {
				break
			}
			pos[i] = 0
		}
		if i < 0 {
			return out
		}
	}
}

// CandidateScore is the cross-validated AUC of one configuration.
type CandidateScore struct {
	Params  map[string]float64 `json:"params"`
	AUCMean float64            `json:"auc_mean"`
	AUCStd  float64            `json:"auc_std"`
}

// SearchResult is the outcome of GridSearch. Best is trained on the full
// dataset with BestParams.
type SearchResult struct {
	Best       Tunable            `json:"-"`
	BestParams map[string]float64 `json:"best_params"`
	BestScore  float64            `json:"best_score"`
	Candidates []CandidateScore   `json:"candidates"`
}

// SearchOptions configure GridSearch.
type SearchOptions struct {
	Folds int
	Seed  int64
	// Validation is passed to the final refit for early stopping.
	Validation *Dataset
}

// GridSearch scores every grid candidate by stratified k-fold AUC and refits
// the best one on data. The returned estimator is new, so no state from base
// or from earlier fits carries over. The search is combinatorial in grid size
// times folds; bound it with ctx.
func GridSearch(ctx context.Context, base Tunable, grid Grid, data Dataset, opts SearchOptions) (*SearchResult, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	folds := opts.Folds
	if folds == 0 {
		folds = DefaultCVFolds
	}

	res := &SearchResult{BestScore: math.Inf(-1)}
	for _, params := range grid.Candidates() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Candidates are scored here, so their own Train skips CV.
		overrides := map[string]float64{"cv_folds": 0}
		for k, v := range params {
			overrides[k] = v
		}
		if _, err := base.WithParams(overrides); err != nil {
			return nil, err
		}

		scores, err := crossValidate(ctx, data, folds, opts.Seed, func(ctx context.Context, d Dataset) (Classifier, error) {
			m, err := base.WithParams(overrides)
			if err != nil {
				return nil, err
			}
			if _, err := m.Train(ctx, d, nil); err != nil {
				return nil, err
			}
			return m, nil
		})
		if err != nil {
			return nil, err
		}
		mean, std := summarize(scores)
		res.Candidates = append(res.Candidates, CandidateScore{Params: params, AUCMean: mean, AUCStd: std})
		if mean > res.BestScore {
			res.BestScore, res.BestParams = mean, params
		}
	}

	best, err := base.WithParams(res.BestParams)
	if err != nil {
		return nil, err
	}
	if _, err := best.Train(ctx, data, opts.Validation); err != nil {
		return nil, fmt.Errorf("refit best candidate: %w", err)
	}
	res.Best = best
	return res, nil
}
