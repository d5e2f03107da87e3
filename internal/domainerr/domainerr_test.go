package domainerr

import (
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckFeatureOrder(t *testing.T) {
	tests := []struct {
		name     string
		expected []string
		got      []string
		wantErr  bool
	}{
		{name: "identical", expected: []string{"a", "b"}, got: []string{"a", "b"}},
		{name: "reordered", expected: []string{"a", "b"}, got: []string{"b", "a"}, wantErr: true},
		{name: "missing column", expected: []string{"a", "b"}, got: []string{"a"}, wantErr: true},
		{name: "extra column", expected: []string{"a"}, got: []string{"a", "c"}, wantErr: true},
		{name: "both empty", expected: nil, got: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckFeatureOrder(tt.expected, tt.got)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrFeatureMismatch)
			var mismatch *FeatureMismatchError
			assert.True(t, errors.As(err, &mismatch))
		})
	}
}

func TestFeatureMismatchError_Message(t *testing.T) {
	err := &FeatureMismatchError{Expected: []string{"a", "b"}, Got: []string{"a", "c"}}
	assert.Contains(t, err.Error(), "missing [b]")
	assert.Contains(t, err.Error(), "unexpected [c]")

	reordered := &FeatureMismatchError{Expected: []string{"a", "b"}, Got: []string{"b", "a"}}
	assert.Contains(t, reordered.Error(), "column order differs")
}

func TestPersistenceError_Unwrap(t *testing.T) {
	err := &PersistenceError{Op: "load", Key: "model.json", Err: fs.ErrNotExist}

	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.Contains(t, err.Error(), "model.json")
}

func TestSchemaError_Unwrap(t *testing.T) {
	err := &SchemaError{Table: "leases", Key: "tenant_id", Reason: "no populated values"}

	assert.ErrorIs(t, err, ErrSchema)
	assert.Contains(t, err.Error(), "leases")
}
