package features

import (
	"fmt"

	"github.com/stwalsh4118/churn/internal/domainerr"
)

// RowKey identifies the lease a feature row was computed for.
type RowKey struct {
	LeaseID    string `json:"lease_id"`
	TenantID   string `json:"tenant_id"`
	PropertyID string `json:"property_id"`
}

// Matrix is an ordered, dense feature matrix. Names gives the column order
// every consumer must respect; Keys is optional and parallel to Rows.
type Matrix struct {
	Names []string    `json:"names"`
	Keys  []RowKey    `json:"keys,omitempty"`
	Rows  [][]float64 `json:"rows"`
}

// NewMatrix builds a matrix and checks that every row has one value per name.
func NewMatrix(names []string, rows [][]float64) (Matrix, error) {
	for i, row := range rows {
		if len(row) != len(names) {
			return Matrix{}, fmt.Errorf("%w: row %d has %d values, expected %d",
				domainerr.ErrInvalidInput, i, len(row), len(names))
		}
	}
	return Matrix{Names: names, Rows: rows}, nil
}

// Len returns the number of rows.
func (m Matrix) Len() int { return len(m.Rows) }

// Width returns the number of columns.
func (m Matrix) Width() int { return len(m.Names) }

// Select returns a matrix with the given rows, sharing the underlying row slices.
func (m Matrix) Select(idx []int) Matrix {
	out := Matrix{Names: m.Names, Rows: make([][]float64, len(idx))}
	if len(m.Keys) == len(m.Rows) {
		out.Keys = make([]RowKey, len(idx))
	}
	for i, j := range idx {
		out.Rows[i] = m.Rows[j]
		if out.Keys != nil {
			out.Keys[i] = m.Keys[j]
		}
	}
	return out
}

// Row returns a single-row matrix for row i.
func (m Matrix) Row(i int) Matrix {
	return m.Select([]int{i})
}

// Column returns a copy of the named column.
func (m Matrix) Column(name string) ([]float64, bool) {
	col := -1
	for i, n := range m.Names {
		if n == name {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, false
	}
	out := make([]float64, len(m.Rows))
	for i, row := range m.Rows {
		out[i] = row[col]
	}
	return out, true
}

// Value returns the named value of row i as a map lookup convenience.
func (m Matrix) Value(i int, name string) (float64, bool) {
	for c, n := range m.Names {
		if n == name {
			return m.Rows[i][c], true
		}
	}
	return 0, false
}
