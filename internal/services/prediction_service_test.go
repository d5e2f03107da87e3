package services

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/churn/internal/classifier"
	"github.com/stwalsh4118/churn/internal/domainerr"
	"github.com/stwalsh4118/churn/internal/risk"
	"github.com/stwalsh4118/churn/internal/testutil"
)

func TestPredictionService_Predict(t *testing.T) {
	f, _ := trained(t)
	svc := NewPredictionService(f.registry, risk.DefaultPolicy(), f.log, f.metrics)

	rs := testutil.Records(50, 9, true)
	preds, err := svc.Predict(context.Background(), PredictRequest{Records: rs})
	require.NoError(t, err)
	require.Len(t, preds, 50)

	for i, p := range preds {
		assert.Equal(t, rs.Leases[i].LeaseID, p.LeaseID)
		assert.Equal(t, rs.Leases[i].TenantID, p.TenantID)
		assert.GreaterOrEqual(t, p.Probability, 0.0)
		assert.LessOrEqual(t, p.Probability, 1.0)
		assert.Equal(t, risk.Score(p.Probability), p.Score)
		assert.Equal(t, risk.DefaultPolicy().TierFromScore(p.Score), p.Tier)
		assert.Equal(t, p.Probability >= 0.5, p.Churn)
		assert.Equal(t, "test-1", p.ModelVersion)
		assert.Nil(t, p.Explanation)
		assert.False(t, p.PredictedAt.IsZero())
	}
}

func TestPredictionService_SingleMatchesBatch(t *testing.T) {
	f, _ := trained(t)
	svc := NewPredictionService(f.registry, risk.DefaultPolicy(), f.log, f.metrics)

	rs := testutil.Records(20, 11, true)
	batch, err := svc.Predict(context.Background(), PredictRequest{Records: rs})
	require.NoError(t, err)

	single := rs
	single.Leases = rs.Leases[7:8]
	one, err := svc.Predict(context.Background(), PredictRequest{Records: single})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, batch[7].Probability, one[0].Probability)
}

func TestPredictionService_ActiveOnly(t *testing.T) {
	f, _ := trained(t)
	svc := NewPredictionService(f.registry, risk.DefaultPolicy(), f.log, f.metrics)

	preds, err := svc.Predict(context.Background(), PredictRequest{
		Records:    testutil.Records(50, 9, true),
		ActiveOnly: true,
	})
	require.NoError(t, err)
	assert.Len(t, preds, 10)
}

func TestPredictionService_Explain(t *testing.T) {
	f, _ := trained(t)
	svc := NewPredictionService(f.registry, risk.DefaultPolicy(), f.log, f.metrics)

	preds, err := svc.Predict(context.Background(), PredictRequest{
		Records: testutil.Records(5, 9, true),
		Explain: true,
		TopN:    3,
		Method:  classifier.MethodPathContributions,
	})
	require.NoError(t, err)

	for _, p := range preds {
		require.NotNil(t, p.Explanation)
		assert.Len(t, p.Explanation.TopFeatures, 3)
		assert.Equal(t, classifier.MethodPathContributions, p.Explanation.Method)
		assert.InDelta(t, p.Probability, p.Explanation.Probability, 1e-12)
		for _, fe := range p.Explanation.TopFeatures {
			require.NotNil(t, fe.Contribution)
			assert.False(t, math.IsNaN(*fe.Contribution))
		}
	}
}

func TestPredictionService_ExplainLogistic(t *testing.T) {
	f := newFixture(t)
	source := new(MockRecordSource)
	source.On("LoadRecordSet", mock.Anything).Return(testutil.Records(300, 6, false), nil)
	_, err := f.trainer(source, fastOptions(classifier.KindLogisticRegression)).Train(context.Background())
	require.NoError(t, err)
	svc := NewPredictionService(f.registry, risk.DefaultPolicy(), f.log, f.metrics)

	t.Run("default method falls back to path contributions", func(t *testing.T) {
		preds, err := svc.Predict(context.Background(), PredictRequest{
			Records: testutil.Records(5, 9, false),
			Explain: true,
		})
		require.NoError(t, err)
		require.Len(t, preds, 5)
		for _, p := range preds {
			require.NotNil(t, p.Explanation)
			assert.Equal(t, classifier.MethodPathContributions, p.Explanation.Method)
			assert.Len(t, p.Explanation.TopFeatures, classifier.DefaultTopN)
		}
	})

	t.Run("explicit global importance is unsupported", func(t *testing.T) {
		_, err := svc.Predict(context.Background(), PredictRequest{
			Records: testutil.Records(5, 9, false),
			Explain: true,
			Method:  classifier.MethodGlobalImportance,
		})
		assert.ErrorIs(t, err, domainerr.ErrUnsupportedOperation)
	})
}

func TestPredictionService_Errors(t *testing.T) {
	t.Run("model not loaded", func(t *testing.T) {
		f := newFixture(t)
		svc := NewPredictionService(f.registry, risk.DefaultPolicy(), f.log, f.metrics)
		_, err := svc.Predict(context.Background(), PredictRequest{Records: testutil.Records(3, 1, true)})
		assert.ErrorIs(t, err, ErrModelNotLoaded)
	})

	f, _ := trained(t)
	svc := NewPredictionService(f.registry, risk.DefaultPolicy(), f.log, f.metrics)

	t.Run("market data missing", func(t *testing.T) {
		_, err := svc.Predict(context.Background(), PredictRequest{Records: testutil.Records(3, 1, false)})
		assert.ErrorIs(t, err, domainerr.ErrFeatureMismatch)
	})

	t.Run("duplicate lease", func(t *testing.T) {
		rs := testutil.Records(3, 1, true)
		rs.Leases = append(rs.Leases, rs.Leases[0])
		_, err := svc.Predict(context.Background(), PredictRequest{Records: rs})
		assert.ErrorIs(t, err, domainerr.ErrSchema)
	})

	t.Run("top_n out of range", func(t *testing.T) {
		_, err := svc.Predict(context.Background(), PredictRequest{Records: testutil.Records(3, 1, true), TopN: 500})
		assert.ErrorIs(t, err, domainerr.ErrInvalidInput)
	})

	t.Run("unknown explain method", func(t *testing.T) {
		_, err := svc.Predict(context.Background(), PredictRequest{
			Records: testutil.Records(3, 1, true),
			Explain: true,
			Method:  "shap",
		})
		assert.ErrorIs(t, err, domainerr.ErrUnsupportedOperation)
	})

	t.Run("nothing active", func(t *testing.T) {
		rs := testutil.Records(3, 1, true)
		rs.Leases = rs.Leases[1:3]
		preds, err := svc.Predict(context.Background(), PredictRequest{Records: rs, ActiveOnly: true})
		require.NoError(t, err)
		assert.Empty(t, preds)
	})
}
