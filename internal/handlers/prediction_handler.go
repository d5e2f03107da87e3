package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/stwalsh4118/churn/internal/classifier"
	apierrors "github.com/stwalsh4118/churn/internal/errors"
	"github.com/stwalsh4118/churn/internal/middleware"
	"github.com/stwalsh4118/churn/internal/models"
	"github.com/stwalsh4118/churn/internal/risk"
	"github.com/stwalsh4118/churn/internal/services"
)

// maxPredictionBody bounds the request body of a prediction batch.
const maxPredictionBody = 32 << 20

// PredictionHandler handles prediction requests.
type PredictionHandler struct {
	service  services.PredictionService
	validate *validator.Validate
}

// NewPredictionHandler creates a new PredictionHandler instance.
func NewPredictionHandler(service services.PredictionService) *PredictionHandler {
	return &PredictionHandler{
		service:  service,
		validate: validator.New(),
	}
}

// PredictionRequest is the body of POST /api/v1/predictions: the raw record
// tables plus scoring options.
type PredictionRequest struct {
	models.RecordSet
	ActiveOnly bool   `json:"active_only"`
	Explain    bool   `json:"explain"`
	TopN       int    `json:"top_n" validate:"gte=0,lte=50"`
	Method     string `json:"explain_method" validate:"omitempty,oneof=global_importance path_contributions"`
}

// PredictionResponse carries one prediction per scored lease.
type PredictionResponse struct {
	Predictions  []services.Prediction `json:"predictions"`
	Count        int                   `json:"count"`
	TierCounts   map[risk.Tier]int     `json:"tier_counts"`
	ModelVersion string                `json:"model_version,omitempty"`
}

// Predict handles POST /api/v1/predictions.
func (h *PredictionHandler) Predict(c *gin.Context) {
	log := middleware.GetLogger(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxPredictionBody)
	var req PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apierrors.BadRequest(c, "Invalid request body", map[string]interface{}{"reason": err.Error()})
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid request body", nil)
		return
	}

	if log != nil {
		log.Info("Processing prediction request", map[string]interface{}{
			"leases":      len(req.Leases),
			"active_only": req.ActiveOnly,
			"explain":     req.Explain,
		})
	}

	preds, err := h.service.Predict(c.Request.Context(), services.PredictRequest{
		Records:    req.RecordSet,
		ActiveOnly: req.ActiveOnly,
		Explain:    req.Explain,
		TopN:       req.TopN,
		Method:     classifier.ExplainMethod(req.Method),
	})
	if err != nil {
		if errors.Is(err, services.ErrModelNotLoaded) {
			apierrors.ServiceUnavailable(c, "No model is loaded")
			return
		}
		apierrors.Domain(c, err, "Failed to score leases")
		return
	}

	resp := PredictionResponse{
		Predictions: preds,
		Count:       len(preds),
		TierCounts:  map[risk.Tier]int{risk.TierLow: 0, risk.TierMedium: 0, risk.TierHigh: 0},
	}
	for _, p := range preds {
		resp.TierCounts[p.Tier]++
		resp.ModelVersion = p.ModelVersion
	}
	c.JSON(http.StatusOK, resp)
}
