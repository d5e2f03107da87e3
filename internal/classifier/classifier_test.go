package classifier

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/churn/internal/domainerr"
	"github.com/stwalsh4118/churn/internal/features"
	"github.com/stwalsh4118/churn/internal/risk"
	"github.com/stwalsh4118/churn/internal/storage"
	"gonum.org/v1/gonum/stat"
)

var scenarioFeatures = []string{
	"avg_days_late", "payment_count", "tenure_months", "monthly_rent",
	"property_age", "condition_rating", "complaint_count",
}

// scenarioData generates n rows whose label is
// (avg_days_late > 5 AND complaint_count > 1) OR condition_rating < 3.
func scenarioData(n int, seed int64) Dataset {
	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, n)
	y := make([]int, n)
	for i := range rows {
		daysLate := rng.Float64() * 15
		complaints := float64(rng.Intn(5))
		condition := 1 + rng.Float64()*4
		rows[i] = []float64{
			daysLate,
			float64(1 + rng.Intn(24)),
			float64(1 + rng.Intn(60)),
			1000 + rng.Float64()*2000,
			float64(rng.Intn(50)),
			condition,
			complaints,
		}
		if (daysLate > 5 && complaints > 1) || condition < 3 {
			y[i] = 1
		}
	}
	return Dataset{X: features.Matrix{Names: scenarioFeatures, Rows: rows}, Y: y}
}

// standardize rescales every column with the statistics of the first fit rows.
func standardize(d Dataset, fit int) Dataset {
	width := d.X.Width()
	out := make([][]float64, d.Len())
	for i := range out {
		out[i] = make([]float64, width)
	}
	for j := 0; j < width; j++ {
		col := make([]float64, fit)
		for i := 0; i < fit; i++ {
			col[i] = d.X.Rows[i][j]
		}
		mean, variance := stat.PopMeanVariance(col, nil)
		sd := math.Sqrt(variance)
		for i := range out {
			out[i][j] = (d.X.Rows[i][j] - mean) / sd
		}
	}
	return Dataset{X: features.Matrix{Names: d.X.Names, Rows: out}, Y: d.Y}
}

func splitAt(d Dataset, at int) (Dataset, Dataset) {
	head := make([]int, at)
	tail := make([]int, d.Len()-at)
	for i := range head {
		head[i] = i
	}
	for i := range tail {
		tail[i] = at + i
	}
	return d.Subset(head), d.Subset(tail)
}

func fastGBT() GBTParams {
	p := DefaultGBTParams()
	p.NEstimators = 60
	p.MaxDepth = 4
	p.CVFolds = 3
	return p
}

func trainedGBT(t *testing.T) (*GradientBoosting, Dataset, Dataset) {
	t.Helper()
	train, test := splitAt(scenarioData(1000, 7), 800)
	m := NewGradientBoosting(fastGBT(), WithVersion("test"))
	_, err := m.Train(context.Background(), train, nil)
	require.NoError(t, err)
	return m, train, test
}

func TestGradientBoosting_ChurnScenario(t *testing.T) {
	m, train, test := trainedGBT(t)

	ev, err := m.Evaluate(test.X, test.Y)
	require.NoError(t, err)
	assert.Greater(t, ev.ROCAUC, 0.7)
	assert.Equal(t, 200, ev.Support)
	assert.Equal(t, 200, ev.TruePositives+ev.TrueNegatives+ev.FalsePositives+ev.FalseNegatives)

	meta := m.Metadata()
	require.NotNil(t, meta.Training)
	assert.Equal(t, train.Len(), meta.Training.SampleCount)
	assert.Equal(t, train.Positives(), meta.Training.PositiveCount)
	assert.Equal(t, 3, meta.Training.CVFolds)
	assert.Greater(t, meta.Training.CVAUCMean, 0.7)
	assert.GreaterOrEqual(t, meta.Training.CVAUCStd, 0.0)
	assert.False(t, meta.Training.TrainedAt.IsZero())
	assert.Positive(t, int64(meta.Training.TrainingDuration))
	assert.Equal(t, "test", meta.Version)
	assert.Equal(t, KindGradientBoosting, meta.Kind)
	assert.Equal(t, len(scenarioFeatures), meta.FeatureCount)
	assert.Equal(t, 60.0, meta.Config["n_estimators"])
}

func TestGradientBoosting_Deterministic(t *testing.T) {
	data := scenarioData(300, 3)
	p := fastGBT()
	p.CVFolds = 0
	p.NEstimators = 20

	a := NewGradientBoosting(p)
	b := NewGradientBoosting(p)
	_, err := a.Train(context.Background(), data, nil)
	require.NoError(t, err)
	_, err = b.Train(context.Background(), data, nil)
	require.NoError(t, err)

	pa, err := a.PredictProba(data.X)
	require.NoError(t, err)
	pb, err := b.PredictProba(data.X)
	require.NoError(t, err)
	assert.Equal(t, pa, pb)
}

func TestGradientBoosting_EarlyStopping(t *testing.T) {
	train, val := splitAt(scenarioData(600, 11), 450)
	p := fastGBT()
	p.CVFolds = 0
	p.NEstimators = 150
	p.EarlyStoppingRounds = 5

	m := NewGradientBoosting(p)
	meta, err := m.Train(context.Background(), train, &val)
	require.NoError(t, err)

	require.NotNil(t, meta.ValidationAUC)
	assert.Equal(t, meta.BestIteration+1, m.Trees())
	assert.LessOrEqual(t, m.Trees(), 150)
	// Validation never changes the feature set.
	assert.Equal(t, scenarioFeatures, m.FeatureNames())
}

func TestPredictProba_SumsToOne(t *testing.T) {
	gbt, _, test := trainedGBT(t)

	data := standardize(scenarioData(400, 5), 300)
	lr := NewLogisticRegression(DefaultLogisticParams())
	_, err := lr.Train(context.Background(), data, nil)
	require.NoError(t, err)

	for name, tc := range map[string]struct {
		c Classifier
		x features.Matrix
	}{
		"gradient boosting":   {gbt, test.X},
		"logistic regression": {lr, data.X},
	} {
		t.Run(name, func(t *testing.T) {
			proba, err := tc.c.PredictProba(tc.x)
			require.NoError(t, err)
			require.Len(t, proba, tc.x.Len())

			labels, err := tc.c.Predict(tc.x)
			require.NoError(t, err)
			for i, p := range proba {
				assert.GreaterOrEqual(t, p[0], 0.0)
				assert.LessOrEqual(t, p[1], 1.0)
				assert.InDelta(t, 1.0, p[0]+p[1], 1e-6)
				want := 0
				if p[1] >= 0.5 {
					want = 1
				}
				assert.Equal(t, want, labels[i])
			}
		})
	}
}

func TestLogisticRegression_LearnsScenario(t *testing.T) {
	data := standardize(scenarioData(1000, 9), 800)
	train, test := splitAt(data, 800)

	m := NewLogisticRegression(DefaultLogisticParams())
	meta, err := m.Train(context.Background(), train, &test)
	require.NoError(t, err)
	require.NotNil(t, meta.ValidationAUC)

	ev, err := m.Evaluate(test.X, test.Y)
	require.NoError(t, err)
	assert.Greater(t, ev.ROCAUC, 0.7)

	// Worse condition raises churn risk.
	assert.Less(t, m.Coefficients()["condition_rating"], 0.0)

	_, err = m.FeatureImportance()
	assert.ErrorIs(t, err, domainerr.ErrUnsupportedOperation)
}

func TestSaveLoad_ReproducesPredictions(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	gbt, _, test := trainedGBT(t)

	data := standardize(scenarioData(300, 5), 300)
	lr := NewLogisticRegression(DefaultLogisticParams(), WithVersion("lr-1"))
	_, err = lr.Train(ctx, data, nil)
	require.NoError(t, err)

	for key, tc := range map[string]struct {
		c Classifier
		x features.Matrix
	}{
		"gbt.json": {gbt, test.X},
		"lr.json":  {lr, data.X},
	} {
		t.Run(key, func(t *testing.T) {
			require.NoError(t, Save(ctx, store, key, tc.c))

			loaded, err := Load(ctx, store, key)
			require.NoError(t, err)
			assert.Equal(t, tc.c.Kind(), loaded.Kind())
			assert.Equal(t, tc.c.FeatureNames(), loaded.FeatureNames())
			assert.Equal(t, tc.c.Metadata().Version, loaded.Metadata().Version)
			assert.Equal(t, tc.c.Metadata().Config, loaded.Metadata().Config)
			assert.Equal(t, tc.c.Metadata().Training.SampleCount, loaded.Metadata().Training.SampleCount)

			want, err := tc.c.PredictProba(tc.x)
			require.NoError(t, err)
			got, err := loaded.PredictProba(tc.x)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestSaveLoad_Errors(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)

	err = Save(ctx, store, "untrained.json", NewGradientBoosting(DefaultGBTParams()))
	assert.ErrorIs(t, err, domainerr.ErrNotFitted)

	_, err = Load(ctx, store, "missing.json")
	require.ErrorIs(t, err, domainerr.ErrPersistence)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Put(ctx, "garbage.json", []byte("{not json")))
	_, err = Load(ctx, store, "garbage.json")
	assert.ErrorIs(t, err, domainerr.ErrPersistence)

	require.NoError(t, store.Put(ctx, "unknown.json", []byte(`{"kind":"random_forest","state":{}}`)))
	_, err = Load(ctx, store, "unknown.json")
	require.ErrorIs(t, err, domainerr.ErrPersistence)
	assert.ErrorIs(t, err, domainerr.ErrUnsupportedOperation)
}

func TestClassifier_InputErrors(t *testing.T) {
	gbt, _, test := trainedGBT(t)

	t.Run("not fitted", func(t *testing.T) {
		for _, c := range []Classifier{
			NewGradientBoosting(DefaultGBTParams()),
			NewLogisticRegression(DefaultLogisticParams()),
		} {
			_, err := c.PredictProba(test.X)
			assert.ErrorIs(t, err, domainerr.ErrNotFitted)
			_, err = c.Predict(test.X)
			assert.ErrorIs(t, err, domainerr.ErrNotFitted)
			_, err = c.Evaluate(test.X, test.Y)
			assert.ErrorIs(t, err, domainerr.ErrNotFitted)
		}
		_, err := NewGradientBoosting(DefaultGBTParams()).FeatureImportance()
		assert.ErrorIs(t, err, domainerr.ErrNotFitted)
	})

	t.Run("reordered columns", func(t *testing.T) {
		names := append([]string(nil), test.X.Names...)
		names[0], names[1] = names[1], names[0]
		_, err := gbt.PredictProba(features.Matrix{Names: names, Rows: test.X.Rows})
		assert.ErrorIs(t, err, domainerr.ErrFeatureMismatch)
	})

	t.Run("missing column", func(t *testing.T) {
		_, err := gbt.PredictProba(features.Matrix{Names: test.X.Names[1:], Rows: [][]float64{{1, 2, 3, 4, 5, 6}}})
		var mismatch *domainerr.FeatureMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.Contains(t, mismatch.Error(), "avg_days_late")
	})

	t.Run("label count", func(t *testing.T) {
		_, err := gbt.Evaluate(test.X, test.Y[:3])
		assert.ErrorIs(t, err, domainerr.ErrInvalidInput)
	})

	t.Run("empty training set", func(t *testing.T) {
		_, err := NewGradientBoosting(DefaultGBTParams()).Train(context.Background(), Dataset{}, nil)
		assert.ErrorIs(t, err, domainerr.ErrInvalidInput)
	})

	t.Run("invalid params", func(t *testing.T) {
		p := DefaultGBTParams()
		p.LearningRate = 0
		_, err := NewGradientBoosting(p).Train(context.Background(), test, nil)
		assert.ErrorIs(t, err, domainerr.ErrInvalidInput)
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewGradientBoosting(fastGBT()).Train(ctx, test, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFeatureImportance_SortedAndNormalized(t *testing.T) {
	m, _, _ := trainedGBT(t)

	imp, err := m.FeatureImportance()
	require.NoError(t, err)
	require.Len(t, imp, len(scenarioFeatures))

	var total float64
	for i, entry := range imp {
		total += entry.Importance
		if i > 0 {
			assert.GreaterOrEqual(t, imp[i-1].Importance, entry.Importance)
		}
	}
	assert.InDelta(t, 1.0, total, 1e-9)

	// The label is driven by these features; noise columns rank below them.
	top := map[string]bool{imp[0].Feature: true, imp[1].Feature: true, imp[2].Feature: true}
	assert.True(t, top["condition_rating"], "top features: %v", imp[:3])
}

func TestExplain(t *testing.T) {
	m, _, test := trainedGBT(t)

	t.Run("rejects more than one row", func(t *testing.T) {
		_, err := m.Explain(test.X.Select([]int{0, 1}), ExplainOptions{})
		assert.ErrorIs(t, err, domainerr.ErrInvalidInput)
	})

	t.Run("global importance", func(t *testing.T) {
		row := test.X.Row(0)
		ex, err := m.Explain(row, ExplainOptions{})
		require.NoError(t, err)

		proba, err := m.PredictProba(row)
		require.NoError(t, err)
		assert.Equal(t, proba[0][1], ex.Probability)
		assert.Equal(t, risk.TierFromProbability(ex.Probability), ex.Tier)
		assert.Equal(t, MethodGlobalImportance, ex.Method)
		assert.Nil(t, ex.Bias)
		require.Len(t, ex.TopFeatures, DefaultTopN)

		imp, err := m.FeatureImportance()
		require.NoError(t, err)
		for i, f := range ex.TopFeatures {
			assert.Equal(t, imp[i].Feature, f.Feature)
			assert.Equal(t, imp[i].Importance, f.Importance)
			v, _ := row.Value(0, f.Feature)
			assert.Equal(t, v, f.Value)
			assert.Nil(t, f.Contribution)
		}
	})

	t.Run("path contributions add up to the prediction", func(t *testing.T) {
		row := test.X.Row(3)
		ex, err := m.Explain(row, ExplainOptions{TopN: len(scenarioFeatures), Method: MethodPathContributions})
		require.NoError(t, err)
		require.NotNil(t, ex.Bias)
		require.Len(t, ex.TopFeatures, len(scenarioFeatures))

		margin := *ex.Bias
		for i, f := range ex.TopFeatures {
			require.NotNil(t, f.Contribution)
			margin += *f.Contribution
			if i > 0 {
				assert.GreaterOrEqual(t, math.Abs(*ex.TopFeatures[i-1].Contribution), math.Abs(*f.Contribution))
			}
		}
		assert.InDelta(t, ex.Probability, sigmoid(margin), 1e-9)
	})

	t.Run("unknown method", func(t *testing.T) {
		_, err := m.Explain(test.X.Row(0), ExplainOptions{Method: "counterfactual"})
		assert.ErrorIs(t, err, domainerr.ErrUnsupportedOperation)
	})
}

func TestLogisticRegression_Explain(t *testing.T) {
	data := standardize(scenarioData(300, 4), 300)
	m := NewLogisticRegression(DefaultLogisticParams())
	_, err := m.Train(context.Background(), data, nil)
	require.NoError(t, err)

	_, err = m.Explain(data.X.Row(0), ExplainOptions{})
	assert.ErrorIs(t, err, domainerr.ErrUnsupportedOperation)

	ex, err := m.Explain(data.X.Row(0), ExplainOptions{TopN: 20, Method: MethodPathContributions})
	require.NoError(t, err)
	require.Len(t, ex.TopFeatures, len(scenarioFeatures))
	margin := *ex.Bias
	for _, f := range ex.TopFeatures {
		margin += *f.Contribution
	}
	assert.InDelta(t, ex.Probability, sigmoid(margin), 1e-9)
}

func TestScalePosWeight(t *testing.T) {
	assert.Equal(t, 3.0, ScalePosWeight([]int{0, 0, 0, 1}))
	assert.Equal(t, 1.0, ScalePosWeight([]int{0, 0}))
	assert.Equal(t, 0.0, ScalePosWeight([]int{1, 1}))
}

func TestNewDataset(t *testing.T) {
	x := features.Matrix{Names: []string{"a"}, Rows: [][]float64{{1}, {2}}}

	_, err := NewDataset(x, []int{0})
	assert.ErrorIs(t, err, domainerr.ErrInvalidInput)
	_, err = NewDataset(x, []int{0, 2})
	assert.ErrorIs(t, err, domainerr.ErrInvalidInput)

	d, err := NewDataset(x, []int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, 1, d.Positives())
}

func TestNew(t *testing.T) {
	m, err := New(KindLogisticRegression, WithVersion("2"))
	require.NoError(t, err)
	assert.Equal(t, KindLogisticRegression, m.Kind())
	assert.Equal(t, "2", m.Metadata().Version)

	_, err = New("random_forest")
	assert.ErrorIs(t, err, domainerr.ErrUnsupportedOperation)
}
