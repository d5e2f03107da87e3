package classifier

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"slices"

	"github.com/stwalsh4118/churn/internal/domainerr"
	"gonum.org/v1/gonum/stat"
)

// DefaultCVFolds is the number of folds used to score a training run.
const DefaultCVFolds = 5

// StratifiedKFold splits sample indices into k folds that preserve the class
// ratio. Each returned slice is one fold's held-out indices.
func StratifiedKFold(y []int, k int, seed int64) ([][]int, error) {
	if k < 2 {
		return nil, fmt.Errorf("%w: need at least 2 folds, got %d", domainerr.ErrInvalidInput, k)
	}
	if len(y) < k {
		return nil, fmt.Errorf("%w: %d samples cannot fill %d folds", domainerr.ErrInvalidInput, len(y), k)
	}

	var pos, neg []int
	for i, v := range y {
		if v == 1 {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(pos), func(i, j int) { pos[i], pos[j] = pos[j], pos[i] })
	rng.Shuffle(len(neg), func(i, j int) { neg[i], neg[j] = neg[j], neg[i] })

	folds := make([][]int, k)
	next := 0
	for _, group := range [][]int{neg, pos} {
		for _, idx := range group {
			folds[next%k] = append(folds[next%k], idx)
			next++
		}
	}
	return folds, nil
}

// StratifiedSplit holds out testSize of each class. Both returned index
// slices are sorted ascending so row order is preserved within each split.
func StratifiedSplit(y []int, testSize float64, seed int64) (train, test []int, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("%w: test size must be in (0, 1), got %g", domainerr.ErrInvalidInput, testSize)
	}

	var pos, neg []int
	for i, v := range y {
		if v == 1 {
			pos = append(pos, i)
		} else {
			neg = append(neg, i)
		}
	}
	if len(pos) < 2 || len(neg) < 2 {
		return nil, nil, fmt.Errorf("%w: need at least 2 samples of each class, got %d positive and %d negative",
			domainerr.ErrInvalidInput, len(pos), len(neg))
	}

	rng := rand.New(rand.NewSource(seed))
	for _, group := range [][]int{neg, pos} {
		rng.Shuffle(len(group), func(i, j int) { group[i], group[j] = group[j], group[i] })
		n := int(math.Round(float64(len(group)) * testSize))
		n = max(1, min(n, len(group)-1))
		test = append(test, group[:n]...)
		train = append(train, group[n:]...)
	}
	slices.Sort(train)
	slices.Sort(test)
	return train, test, nil
}

// fitFunc trains a fresh estimator on one fold's training portion.
type fitFunc func(ctx context.Context, train Dataset) (Classifier, error)

// crossValidate returns the per-fold held-out AUC of estimators produced by fit.
func crossValidate(ctx context.Context, data Dataset, k int, seed int64, fit fitFunc) ([]float64, error) {
	folds, err := StratifiedKFold(data.Y, k, seed)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, 0, k)
	for f, test := range folds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		inTest := make(map[int]struct{}, len(test))
		for _, i := range test {
			inTest[i] = struct{}{}
		}
		train := make([]int, 0, data.Len()-len(test))
		for i := 0; i < data.Len(); i++ {
			if _, ok := inTest[i]; !ok {
				train = append(train, i)
			}
		}

		model, err := fit(ctx, data.Subset(train))
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", f, err)
		}
		held := data.Subset(test)
		proba, err := model.PredictProba(held.X)
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", f, err)
		}
		scores = append(scores, AUC(held.Y, positiveColumn(proba)))
	}
	return scores, nil
}

// summarize returns the mean and sample standard deviation of fold scores.
func summarize(scores []float64) (mean, std float64) {
	if len(scores) == 0 {
		return 0, 0
	}
	if len(scores) == 1 {
		return scores[0], 0
	}
	return stat.MeanStdDev(scores, nil)
}
