package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/churn/internal/artifact"
	"github.com/stwalsh4118/churn/internal/classifier"
	"github.com/stwalsh4118/churn/internal/dataset"
	apierrors "github.com/stwalsh4118/churn/internal/errors"
	"github.com/stwalsh4118/churn/internal/features"
	"github.com/stwalsh4118/churn/internal/logger"
	"github.com/stwalsh4118/churn/internal/middleware"
	"github.com/stwalsh4118/churn/internal/services"
	"github.com/stwalsh4118/churn/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockModelSource is a mock implementation of ModelSource for testing
type MockModelSource struct {
	mock.Mock
}

func (m *MockModelSource) Current() (*artifact.Bundle, error) {
	args := m.Called()
	b, _ := args.Get(0).(*artifact.Bundle)
	return b, args.Error(1)
}

func (m *MockModelSource) Reload(ctx context.Context) (*artifact.Bundle, error) {
	args := m.Called(ctx)
	b, _ := args.Get(0).(*artifact.Bundle)
	return b, args.Error(1)
}

// MockPredictionService is a mock implementation of services.PredictionService for testing
type MockPredictionService struct {
	mock.Mock
}

func (m *MockPredictionService) Predict(ctx context.Context, req services.PredictRequest) ([]services.Prediction, error) {
	args := m.Called(ctx, req)
	preds, _ := args.Get(0).([]services.Prediction)
	return preds, args.Error(1)
}

// newTestRouter mirrors the server's middleware stack.
func newTestRouter() *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger.Nop()))
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[apierrors.ErrorResponse](t, w).Error.Code
}

// trainedBundle fits a small model of the given kind on synthetic records.
func trainedBundle(t *testing.T, kind classifier.Kind) *artifact.Bundle {
	t.Helper()
	table, err := dataset.Join(testutil.Records(150, 3, true), dataset.JoinOptions{})
	require.NoError(t, err)

	var y []int
	labeled := *table
	labeled.Rows = nil
	for _, row := range table.Rows {
		if label, ok := row.Label(); ok {
			labeled.Rows = append(labeled.Rows, row)
			y = append(y, label)
		}
	}

	transform := features.NewTransform(features.WithClock(testutil.Clock))
	x, err := transform.FitTransform(&labeled)
	require.NoError(t, err)

	base, err := classifier.New(kind, classifier.WithVersion("handler-test"))
	require.NoError(t, err)
	params := map[string]float64{"cv_folds": 0}
	if kind == classifier.KindGradientBoosting {
		params["n_estimators"] = 10
		params["max_depth"] = 2
	}
	model, err := base.WithParams(params)
	require.NoError(t, err)
	_, err = model.Train(context.Background(), classifier.Dataset{X: x, Y: y}, nil)
	require.NoError(t, err)

	b, err := artifact.NewBundle(model, transform)
	require.NoError(t, err)
	b.Key = "models/churn.json"
	return b
}
