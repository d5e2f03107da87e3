package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stwalsh4118/churn/internal/domainerr"
	"github.com/stwalsh4118/churn/internal/storage"
)

// decoders restore estimators from MarshalState output, by kind.
var decoders = map[Kind]func([]byte) (Classifier, error){
	KindGradientBoosting:   decodeGradientBoosting,
	KindLogisticRegression: decodeLogisticRegression,
}

// Decode restores a fitted estimator of the given kind.
func Decode(kind Kind, state []byte) (Classifier, error) {
	decode, ok := decoders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown estimator kind %q", domainerr.ErrUnsupportedOperation, kind)
	}
	return decode(state)
}

// New returns an untrained estimator of the given kind with default parameters.
func New(kind Kind, opts ...Option) (Tunable, error) {
	switch kind {
	case KindGradientBoosting:
		return NewGradientBoosting(DefaultGBTParams(), opts...), nil
	case KindLogisticRegression:
		return NewLogisticRegression(DefaultLogisticParams(), opts...), nil
	default:
		return nil, fmt.Errorf("%w: unknown estimator kind %q", domainerr.ErrUnsupportedOperation, kind)
	}
}

// envelope is the stored form of a single model.
type envelope struct {
	Kind     Kind            `json:"kind"`
	Version  string          `json:"version"`
	Metadata Metadata        `json:"metadata"`
	State    json.RawMessage `json:"state"`
	SavedAt  time.Time       `json:"saved_at"`
}

// Save writes the estimator, its feature names, config, training metadata and
// version to store under key as one blob.
func Save(ctx context.Context, store storage.BlobStore, key string, c Classifier) error {
	state, err := c.MarshalState()
	if err != nil {
		if errors.Is(err, domainerr.ErrNotFitted) {
			return err
		}
		return &domainerr.PersistenceError{Op: "encode", Key: key, Err: err}
	}
	meta := c.Metadata()
	data, err := json.Marshal(envelope{
		Kind:     c.Kind(),
		Version:  meta.Version,
		Metadata: meta,
		State:    state,
		SavedAt:  time.Now().UTC(),
	})
	if err != nil {
		return &domainerr.PersistenceError{Op: "encode", Key: key, Err: err}
	}
	if err := store.Put(ctx, key, data); err != nil {
		return &domainerr.PersistenceError{Op: "save", Key: key, Err: err}
	}
	return nil
}

// Load restores a model written by Save.
func Load(ctx context.Context, store storage.BlobStore, key string) (Classifier, error) {
	data, err := store.Get(ctx, key)
	if err != nil {
		return nil, &domainerr.PersistenceError{Op: "load", Key: key, Err: err}
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &domainerr.PersistenceError{Op: "decode", Key: key, Err: err}
	}
	c, err := Decode(env.Kind, env.State)
	if err != nil {
		return nil, &domainerr.PersistenceError{Op: "decode", Key: key, Err: err}
	}
	return c, nil
}
