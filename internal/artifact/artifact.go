// Package artifact persists a trained classifier together with the exact
// feature transform it was trained behind. The two are written and read as
// one document so a reload can never pair a model with a different transform.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stwalsh4118/churn/internal/classifier"
	"github.com/stwalsh4118/churn/internal/domainerr"
	"github.com/stwalsh4118/churn/internal/features"
	"github.com/stwalsh4118/churn/internal/storage"
)

// FormatVersion identifies the document layout.
const FormatVersion = 1

// Document is the stored form of a Bundle.
type Document struct {
	Format       int                 `json:"format"`
	ID           uuid.UUID           `json:"id"`
	Kind         classifier.Kind     `json:"kind"`
	Version      string              `json:"version"`
	FeatureNames []string            `json:"feature_names"`
	Metadata     classifier.Metadata `json:"metadata"`
	Estimator    json.RawMessage     `json:"estimator"`
	Transform    *features.State     `json:"transform"`
	SavedAt      time.Time           `json:"saved_at"`
}

// Bundle is a loaded artifact. It is read-only once built and safe to share
// across goroutines.
type Bundle struct {
	ID        uuid.UUID
	Key       string
	Model     classifier.Classifier
	Transform *features.Transform
	SavedAt   time.Time
	LoadedAt  time.Time
}

// NewBundle pairs a trained classifier with its fitted transform. Their
// feature orders must agree.
func NewBundle(model classifier.Classifier, transform *features.Transform) (*Bundle, error) {
	if model == nil || transform == nil || !transform.Fitted() {
		return nil, fmt.Errorf("%w: a bundle needs a trained model and a fitted transform", domainerr.ErrNotFitted)
	}
	if err := domainerr.CheckFeatureOrder(transform.FeatureNames(), model.FeatureNames()); err != nil {
		return nil, err
	}
	return &Bundle{ID: uuid.New(), Model: model, Transform: transform}, nil
}

// Metadata is the model's metadata accessor.
func (b *Bundle) Metadata() classifier.Metadata { return b.Model.Metadata() }

// Save writes b to store under key in a single atomic Put.
func Save(ctx context.Context, store storage.BlobStore, key string, b *Bundle) error {
	state, err := b.Model.MarshalState()
	if err != nil {
		if errors.Is(err, domainerr.ErrNotFitted) {
			return err
		}
		return &domainerr.PersistenceError{Op: "encode", Key: key, Err: err}
	}
	meta := b.Model.Metadata()
	doc := Document{
		Format:       FormatVersion,
		ID:           b.ID,
		Kind:         b.Model.Kind(),
		Version:      meta.Version,
		FeatureNames: b.Model.FeatureNames(),
		Metadata:     meta,
		Estimator:    state,
		Transform:    b.Transform.State(),
		SavedAt:      time.Now().UTC(),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return &domainerr.PersistenceError{Op: "encode", Key: key, Err: err}
	}
	if err := store.Put(ctx, key, data); err != nil {
		return &domainerr.PersistenceError{Op: "save", Key: key, Err: err}
	}
	b.Key, b.SavedAt = key, doc.SavedAt
	return nil
}

// Load reads and validates a bundle. The model, the transform and the
// recorded feature names must all agree on column order.
func Load(ctx context.Context, store storage.BlobStore, key string, opts ...features.Option) (*Bundle, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, &domainerr.PersistenceError{Op: "load", Key: key, Err: err}
	}
	return Decode(key, data, opts...)
}

// Decode builds a bundle from a stored document.
func Decode(key string, data []byte, opts ...features.Option) (*Bundle, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &domainerr.PersistenceError{Op: "decode", Key: key, Err: err}
	}
	if doc.Format != FormatVersion {
		return nil, &domainerr.PersistenceError{Op: "decode", Key: key,
			Err: fmt.Errorf("unsupported artifact format %d", doc.Format)}
	}

	model, err := classifier.Decode(doc.Kind, doc.Estimator)
	if err != nil {
		return nil, &domainerr.PersistenceError{Op: "decode", Key: key, Err: err}
	}
	transform, err := features.FromState(doc.Transform, opts...)
	if err != nil {
		return nil, &domainerr.PersistenceError{Op: "decode", Key: key, Err: err}
	}
	if err := domainerr.CheckFeatureOrder(doc.FeatureNames, model.FeatureNames()); err != nil {
		return nil, &domainerr.PersistenceError{Op: "decode", Key: key, Err: err}
	}
	if err := domainerr.CheckFeatureOrder(doc.FeatureNames, transform.FeatureNames()); err != nil {
		return nil, &domainerr.PersistenceError{Op: "decode", Key: key, Err: err}
	}

	return &Bundle{
		ID:        doc.ID,
		Key:       key,
		Model:     model,
		Transform: transform,
		SavedAt:   doc.SavedAt,
		LoadedAt:  time.Now().UTC(),
	}, nil
}
