package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stwalsh4118/churn/internal/classifier"
	"github.com/stwalsh4118/churn/internal/dataset"
	"github.com/stwalsh4118/churn/internal/domainerr"
	"github.com/stwalsh4118/churn/internal/logger"
	"github.com/stwalsh4118/churn/internal/metrics"
	"github.com/stwalsh4118/churn/internal/models"
	"github.com/stwalsh4118/churn/internal/risk"
)

// MaxExplainTopN bounds the number of features an explanation may report.
const MaxExplainTopN = 50

// PredictRequest is one batch of raw records to score.
type PredictRequest struct {
	Records models.RecordSet
	// ActiveOnly skips leases that are no longer running.
	ActiveOnly bool
	// Explain attaches a per-lease explanation to every prediction.
	Explain bool
	TopN    int
	Method  classifier.ExplainMethod
}

// Prediction is the scored result for one lease.
type Prediction struct {
	LeaseID    string `json:"lease_id"`
	TenantID   string `json:"tenant_id"`
	PropertyID string `json:"property_id"`
	risk.Assessment
	Explanation  *classifier.Explanation `json:"explanation,omitempty"`
	ModelVersion string                  `json:"model_version"`
	PredictedAt  time.Time               `json:"predicted_at"`
}

// PredictionService scores leases with the currently published model.
type PredictionService interface {
	// Predict joins, transforms and scores req.Records.
	// Returns ErrModelNotLoaded if no model has been published.
	// Returns domainerr errors for schema, feature and input problems.
	Predict(ctx context.Context, req PredictRequest) ([]Prediction, error)
}

// predictionService is the concrete implementation of PredictionService.
type predictionService struct {
	registry *ModelRegistry
	policy   risk.Policy
	log      *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewPredictionService creates a new instance of PredictionService.
func NewPredictionService(registry *ModelRegistry, policy risk.Policy, log *logger.Logger, m *metrics.Metrics) PredictionService {
	return &predictionService{
		registry: registry,
		policy:   policy,
		log:      log.WithComponent("prediction"),
		metrics:  m,
		now:      time.Now,
	}
}

// Predict runs Join → Transform → PredictProba → risk scoring, and
// optionally explains every row.
func (s *predictionService) Predict(ctx context.Context, req PredictRequest) ([]Prediction, error) {
	start := time.Now()

	if req.TopN < 0 || req.TopN > MaxExplainTopN {
		return nil, fmt.Errorf("%w: top_n must be between 0 and %d", domainerr.ErrInvalidInput, MaxExplainTopN)
	}

	bundle, err := s.registry.Current()
	if err != nil {
		return nil, err
	}

	table, err := dataset.Join(req.Records, dataset.JoinOptions{ActiveOnly: req.ActiveOnly})
	if err != nil {
		return nil, err
	}
	if len(table.Rows) == 0 {
		return []Prediction{}, nil
	}

	x, err := bundle.Transform.Transform(table)
	if err != nil {
		return nil, err
	}
	proba, err := bundle.Model.PredictProba(x)
	if err != nil {
		return nil, err
	}

	method := req.Method
	if req.Explain {
		method = explainMethod(bundle.Model, method)
	}

	version := bundle.Metadata().Version
	predictedAt := s.now().UTC()
	out := make([]Prediction, len(proba))

	for i, pr := range proba {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		p := Prediction{
			LeaseID:      x.Keys[i].LeaseID,
			TenantID:     x.Keys[i].TenantID,
			PropertyID:   x.Keys[i].PropertyID,
			Assessment:   s.policy.Assess(pr[1]),
			ModelVersion: version,
			PredictedAt:  predictedAt,
		}
		if req.Explain {
			ex, err := bundle.Model.Explain(x.Row(i), classifier.ExplainOptions{TopN: req.TopN, Method: method})
			if err != nil {
				return nil, fmt.Errorf("failed to explain lease %s: %w", p.LeaseID, err)
			}
			p.Explanation = ex
		}
		s.metrics.RecordPrediction(string(p.Tier), p.Probability)
		out[i] = p
	}

	duration := time.Since(start)
	s.metrics.RecordPredictionBatch(duration)
	s.log.Debug("Scored prediction batch", map[string]interface{}{
		"leases":        len(out),
		"model_version": version,
		"explain":       req.Explain,
		"duration_ms":   duration.Milliseconds(),
	})

	return out, nil
}

// explainMethod picks path contributions when no method was requested and
// the estimator has no global importance. An explicit method is kept as is.
func explainMethod(model classifier.Classifier, requested classifier.ExplainMethod) classifier.ExplainMethod {
	if requested != "" {
		return requested
	}
	if _, err := model.FeatureImportance(); errors.Is(err, domainerr.ErrUnsupportedOperation) {
		return classifier.MethodPathContributions
	}
	return classifier.MethodGlobalImportance
}
