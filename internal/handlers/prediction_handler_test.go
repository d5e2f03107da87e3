package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/churn/internal/classifier"
	"github.com/stwalsh4118/churn/internal/domainerr"
	apierrors "github.com/stwalsh4118/churn/internal/errors"
	"github.com/stwalsh4118/churn/internal/risk"
	"github.com/stwalsh4118/churn/internal/services"
	"github.com/stwalsh4118/churn/internal/testutil"
)

func setupPredictionRouter(svc services.PredictionService) *gin.Engine {
	router := newTestRouter()
	router.POST("/api/v1/predictions", NewPredictionHandler(svc).Predict)
	return router
}

func prediction(leaseID string, p float64) services.Prediction {
	return services.Prediction{
		LeaseID:      leaseID,
		Assessment:   risk.DefaultPolicy().Assess(p),
		ModelVersion: "1.0.0",
		PredictedAt:  time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestPredictionHandler_Predict(t *testing.T) {
	svc := new(MockPredictionService)
	rs := testutil.Records(5, 1, true)

	svc.On("Predict", mock.Anything, mock.MatchedBy(func(req services.PredictRequest) bool {
		return len(req.Records.Leases) == 5 &&
			req.ActiveOnly &&
			req.Explain &&
			req.TopN == 3 &&
			req.Method == classifier.MethodPathContributions
	})).Return([]services.Prediction{
		prediction("L1", 0.9),
		prediction("L2", 0.6),
		prediction("L3", 0.1),
	}, nil)

	w := doJSON(t, setupPredictionRouter(svc), http.MethodPost, "/api/v1/predictions", PredictionRequest{
		RecordSet:  rs,
		ActiveOnly: true,
		Explain:    true,
		TopN:       3,
		Method:     string(classifier.MethodPathContributions),
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[PredictionResponse](t, w)
	assert.Equal(t, 3, resp.Count)
	assert.Equal(t, "1.0.0", resp.ModelVersion)
	assert.Equal(t, map[risk.Tier]int{risk.TierHigh: 1, risk.TierMedium: 1, risk.TierLow: 1}, resp.TierCounts)
	assert.Equal(t, "L1", resp.Predictions[0].LeaseID)
	assert.Equal(t, 90, resp.Predictions[0].Score)
	assert.True(t, resp.Predictions[0].Churn)
	assert.Contains(t, w.Body.String(), `"churn_probability":0.9`)
	svc.AssertExpectations(t)
}

func TestPredictionHandler_EmptyResult(t *testing.T) {
	svc := new(MockPredictionService)
	svc.On("Predict", mock.Anything, mock.Anything).Return([]services.Prediction{}, nil)

	w := doJSON(t, setupPredictionRouter(svc), http.MethodPost, "/api/v1/predictions", PredictionRequest{
		RecordSet: testutil.Records(2, 1, false),
	})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[PredictionResponse](t, w)
	assert.Zero(t, resp.Count)
	assert.Empty(t, resp.ModelVersion)
	assert.Equal(t, 0, resp.TierCounts[risk.TierHigh])
}

func TestPredictionHandler_RequestErrors(t *testing.T) {
	tests := []struct {
		name string
		body PredictionRequest
		code string
	}{
		{
			name: "no leases",
			body: PredictionRequest{},
			code: apierrors.ErrValidation,
		},
		{
			name: "top_n above limit",
			body: PredictionRequest{RecordSet: testutil.Records(2, 1, true), TopN: 99},
			code: apierrors.ErrValidation,
		},
		{
			name: "unknown explain method",
			body: PredictionRequest{RecordSet: testutil.Records(2, 1, true), Method: "shap"},
			code: apierrors.ErrValidation,
		},
		{
			name: "negative complaint count",
			body: func() PredictionRequest {
				rs := testutil.Records(2, 1, true)
				rs.Tenants[0].ComplaintCount = -1
				return PredictionRequest{RecordSet: rs}
			}(),
			code: apierrors.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockPredictionService)
			w := doJSON(t, setupPredictionRouter(svc), http.MethodPost, "/api/v1/predictions", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, errorCode(t, w))
			svc.AssertNotCalled(t, "Predict", mock.Anything, mock.Anything)
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		svc := new(MockPredictionService)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/predictions", strings.NewReader(`{"leases": [`))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		setupPredictionRouter(svc).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, apierrors.ErrBadRequest, errorCode(t, w))
	})
}

func TestPredictionHandler_ServiceErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"model not loaded", services.ErrModelNotLoaded, http.StatusServiceUnavailable, apierrors.ErrServiceUnavailable},
		{"feature mismatch", domainerr.CheckFeatureOrder([]string{"a"}, []string{"b"}), http.StatusBadRequest, apierrors.ErrFeatureMismatch},
		{"schema", &domainerr.SchemaError{Table: "leases", Key: "lease_id", Reason: "duplicate key"}, http.StatusBadRequest, apierrors.ErrSchema},
		{"unsupported", fmt.Errorf("%w: feature importance", domainerr.ErrUnsupportedOperation), http.StatusNotImplemented, apierrors.ErrNotImplemented},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, apierrors.ErrInternalServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockPredictionService)
			svc.On("Predict", mock.Anything, mock.Anything).Return(nil, tt.err)

			w := doJSON(t, setupPredictionRouter(svc), http.MethodPost, "/api/v1/predictions", PredictionRequest{
				RecordSet: testutil.Records(2, 1, true),
			})

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, errorCode(t, w))
		})
	}
}
