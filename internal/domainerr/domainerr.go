// Package domainerr defines the error taxonomy shared by the churn pipeline.
// Callers match with errors.Is against the sentinels; the typed errors carry
// the details needed for logging and HTTP responses.
package domainerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSchema is returned when a required join key is entirely absent from a table.
	ErrSchema = errors.New("schema error")
	// ErrNotFitted is returned when transform/predict/evaluate run before fit/train.
	ErrNotFitted = errors.New("not fitted")
	// ErrFeatureMismatch is returned when supplied features differ from the fitted schema.
	ErrFeatureMismatch = errors.New("feature mismatch")
	// ErrUnsupportedOperation is returned when an estimator lacks a capability.
	ErrUnsupportedOperation = errors.New("unsupported operation")
	// ErrPersistence is returned when an artifact cannot be saved or loaded.
	ErrPersistence = errors.New("persistence error")
	// ErrInvalidInput is returned when a call precondition is violated.
	ErrInvalidInput = errors.New("invalid input")
)

// SchemaError reports a table whose join key column is unusable.
type SchemaError struct {
	Table  string
	Key    string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error: table %s key %s: %s", e.Table, e.Key, e.Reason)
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// FeatureMismatchError reports the expected and supplied feature orderings.
type FeatureMismatchError struct {
	Expected []string
	Got      []string
}

func (e *FeatureMismatchError) Error() string {
	missing, extra := diff(e.Expected, e.Got)
	if len(missing) == 0 && len(extra) == 0 {
		return fmt.Sprintf("feature mismatch: column order differs from fitted schema (%d columns)", len(e.Expected))
	}
	return fmt.Sprintf("feature mismatch: missing [%s], unexpected [%s]",
		strings.Join(missing, ", "), strings.Join(extra, ", "))
}

func (e *FeatureMismatchError) Unwrap() error { return ErrFeatureMismatch }

// PersistenceError wraps an I/O failure during artifact save or load.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error: %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// CheckFeatureOrder returns a FeatureMismatchError unless got equals expected
// element by element.
func CheckFeatureOrder(expected, got []string) error {
	if len(expected) != len(got) {
		return &FeatureMismatchError{Expected: expected, Got: got}
	}
	for i := range expected {
		if expected[i] != got[i] {
			return &FeatureMismatchError{Expected: expected, Got: got}
		}
	}
	return nil
}

func diff(expected, got []string) (missing, extra []string) {
	gotSet := make(map[string]struct{}, len(got))
	for _, name := range got {
		gotSet[name] = struct{}{}
	}
	expSet := make(map[string]struct{}, len(expected))
	for _, name := range expected {
		expSet[name] = struct{}{}
		if _, ok := gotSet[name]; !ok {
			missing = append(missing, name)
		}
	}
	for _, name := range got {
		if _, ok := expSet[name]; !ok {
			extra = append(extra, name)
		}
	}
	return missing, extra
}
