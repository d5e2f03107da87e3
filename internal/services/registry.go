package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/stwalsh4118/churn/internal/artifact"
	"github.com/stwalsh4118/churn/internal/features"
	"github.com/stwalsh4118/churn/internal/logger"
	"github.com/stwalsh4118/churn/internal/metrics"
	"github.com/stwalsh4118/churn/internal/storage"
)

// ErrModelNotLoaded is returned when serving is attempted before any model
// has been published.
var ErrModelNotLoaded = errors.New("model not loaded")

// ModelRegistry holds the bundle currently used for serving. Readers never
// block: Current returns whatever bundle was last published, and in-flight
// requests keep using the bundle they started with across a reload.
type ModelRegistry struct {
	current atomic.Pointer[artifact.Bundle]

	// reloadMu serializes reloads; readers do not take it.
	reloadMu sync.Mutex

	store   storage.BlobStore
	key     string
	opts    []features.Option
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewModelRegistry creates an empty registry that reloads from key in store.
// Transform options (such as a fixed clock) are applied to every loaded bundle.
func NewModelRegistry(store storage.BlobStore, key string, log *logger.Logger, m *metrics.Metrics, opts ...features.Option) *ModelRegistry {
	return &ModelRegistry{
		store:   store,
		key:     key,
		opts:    opts,
		log:     log.WithComponent("registry"),
		metrics: m,
	}
}

// Current returns the published bundle or ErrModelNotLoaded.
func (r *ModelRegistry) Current() (*artifact.Bundle, error) {
	b := r.current.Load()
	if b == nil {
		return nil, ErrModelNotLoaded
	}
	return b, nil
}

// Loaded reports whether a bundle has been published.
func (r *ModelRegistry) Loaded() bool {
	return r.current.Load() != nil
}

// Key returns the storage key reloads read from.
func (r *ModelRegistry) Key() string { return r.key }

// Publish makes b the serving bundle.
func (r *ModelRegistry) Publish(b *artifact.Bundle) {
	prev := r.current.Swap(b)
	r.metrics.SetModelLoaded(true)

	fields := map[string]interface{}{
		"artifact_id":   b.ID.String(),
		"model_kind":    string(b.Model.Kind()),
		"model_version": b.Metadata().Version,
		"feature_count": len(b.Model.FeatureNames()),
	}
	if prev != nil {
		fields["previous_artifact_id"] = prev.ID.String()
	}
	r.log.Info("Model published", fields)
}

// Reload reads the artifact from the store and publishes it. On failure the
// previously published bundle stays in place.
func (r *ModelRegistry) Reload(ctx context.Context) (*artifact.Bundle, error) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	b, err := artifact.Load(ctx, r.store, r.key, r.opts...)
	r.metrics.RecordReload(err)
	if err != nil {
		r.log.Error("Model reload failed", err, map[string]interface{}{
			"key":          r.key,
			"kept_serving": r.Loaded(),
		})
		return nil, err
	}

	r.Publish(b)
	return b, nil
}
