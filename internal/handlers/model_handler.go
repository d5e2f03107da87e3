package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stwalsh4118/churn/internal/artifact"
	"github.com/stwalsh4118/churn/internal/classifier"
	apierrors "github.com/stwalsh4118/churn/internal/errors"
	"github.com/stwalsh4118/churn/internal/services"
)

// defaultImportanceTopN is how many features GET /model/features returns
// when top_n is omitted.
const defaultImportanceTopN = 20

// ModelSource exposes the published model bundle. *services.ModelRegistry
// satisfies it.
type ModelSource interface {
	Current() (*artifact.Bundle, error)
	Reload(ctx context.Context) (*artifact.Bundle, error)
}

// ModelHandler serves model metadata and reload requests.
type ModelHandler struct {
	models ModelSource
}

// NewModelHandler creates a new ModelHandler instance.
func NewModelHandler(models ModelSource) *ModelHandler {
	return &ModelHandler{models: models}
}

// ModelInfoResponse describes the published model.
type ModelInfoResponse struct {
	ArtifactID   uuid.UUID                    `json:"artifact_id"`
	Key          string                       `json:"key"`
	Kind         classifier.Kind              `json:"kind"`
	Version      string                       `json:"version"`
	FeatureCount int                          `json:"feature_count"`
	FeatureNames []string                     `json:"feature_names"`
	Training     *classifier.TrainingMetadata `json:"training,omitempty"`
	Config       map[string]float64           `json:"config"`
	SavedAt      time.Time                    `json:"saved_at"`
	LoadedAt     time.Time                    `json:"loaded_at"`
}

// FeaturesRequest represents the query parameters for the features endpoint.
type FeaturesRequest struct {
	TopN int `form:"top_n" binding:"omitempty,min=1,max=500"`
}

// FeaturesResponse lists features by descending importance.
type FeaturesResponse struct {
	Features []classifier.Importance `json:"features"`
	Count    int                     `json:"count"`
	Total    int                     `json:"total"`
}

// Info handles GET /api/v1/model.
func (h *ModelHandler) Info(c *gin.Context) {
	b, ok := h.current(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toModelInfo(b))
}

// Features handles GET /api/v1/model/features. Estimators without
// importance scores answer 501.
func (h *ModelHandler) Features(c *gin.Context) {
	var req FeaturesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			apierrors.ValidationError(c, validationErrors)
			return
		}
		apierrors.BadRequest(c, "Invalid query parameters", nil)
		return
	}
	if req.TopN == 0 {
		req.TopN = defaultImportanceTopN
	}

	b, ok := h.current(c)
	if !ok {
		return
	}
	imp, err := b.Model.FeatureImportance()
	if err != nil {
		apierrors.Domain(c, err, "Failed to compute feature importance")
		return
	}

	top := imp[:min(req.TopN, len(imp))]
	c.JSON(http.StatusOK, FeaturesResponse{Features: top, Count: len(top), Total: len(imp)})
}

// Reload handles POST /api/v1/model/reload. On failure the previously
// published model keeps serving.
func (h *ModelHandler) Reload(c *gin.Context) {
	b, err := h.models.Reload(c.Request.Context())
	if err != nil {
		apierrors.Domain(c, err, "Model reload failed")
		return
	}
	c.JSON(http.StatusOK, toModelInfo(b))
}

// current writes a 503 and returns false when no model is published.
func (h *ModelHandler) current(c *gin.Context) (*artifact.Bundle, bool) {
	b, err := h.models.Current()
	if err != nil {
		if errors.Is(err, services.ErrModelNotLoaded) {
			apierrors.ServiceUnavailable(c, "No model is loaded")
			return nil, false
		}
		apierrors.InternalServerError(c, "Failed to read model", err)
		return nil, false
	}
	return b, true
}

func toModelInfo(b *artifact.Bundle) ModelInfoResponse {
	meta := b.Metadata()
	return ModelInfoResponse{
		ArtifactID:   b.ID,
		Key:          b.Key,
		Kind:         meta.Kind,
		Version:      meta.Version,
		FeatureCount: meta.FeatureCount,
		FeatureNames: meta.FeatureNames,
		Training:     meta.Training,
		Config:       meta.Config,
		SavedAt:      b.SavedAt,
		LoadedAt:     b.LoadedAt,
	}
}
