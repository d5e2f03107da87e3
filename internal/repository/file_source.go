package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/stwalsh4118/churn/internal/domainerr"
	"github.com/stwalsh4118/churn/internal/models"
)

// FileRecordSource reads a record set from a JSON document shaped like
// models.RecordSet. It is used by the training CLI when no database is
// configured.
type FileRecordSource struct {
	path     string
	validate *validator.Validate
}

// NewFileRecordSource creates a source for the JSON file at path.
func NewFileRecordSource(path string) *FileRecordSource {
	return &FileRecordSource{
		path:     path,
		validate: validator.New(),
	}
}

// LoadRecordSet reads and validates the file. Validation failures unwrap to
// domainerr.ErrInvalidInput and validator.ValidationErrors.
func (s *FileRecordSource) LoadRecordSet(ctx context.Context) (models.RecordSet, error) {
	var rs models.RecordSet
	if err := ctx.Err(); err != nil {
		return rs, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return rs, fmt.Errorf("failed to read records file %s: %w", s.path, err)
	}
	if err := json.Unmarshal(data, &rs); err != nil {
		return rs, fmt.Errorf("%w: failed to parse records file %s: %w", domainerr.ErrInvalidInput, s.path, err)
	}
	if err := s.validate.Struct(rs); err != nil {
		return rs, fmt.Errorf("%w: records file %s: %w", domainerr.ErrInvalidInput, s.path, err)
	}
	return rs, nil
}
