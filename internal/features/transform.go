// Package features turns joined lease rows into the ordered numeric feature
// matrix consumed by the classifier. A Transform is fitted once on a training
// batch; every later call reuses the frozen imputation, encoding and scaling
// state so a row encodes the same way at training and at serving time.
package features

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/stwalsh4118/churn/internal/domainerr"
	"github.com/stwalsh4118/churn/internal/models"
	"gonum.org/v1/gonum/stat"
)

// MissingCategory fills a categorical column that had no values at fit time.
const MissingCategory = "__missing__"

// ColumnState is the fitted state of one output column.
type ColumnState struct {
	Name  string `json:"name"`
	Group string `json:"group"`
	Kind  Kind   `json:"kind"`
	// Median imputes numeric gaps.
	Median float64 `json:"median,omitempty"`
	// Mode imputes categorical gaps.
	Mode    string           `json:"mode,omitempty"`
	Encoder *CategoryEncoder `json:"encoder,omitempty"`
	Scaled  bool             `json:"scaled"`
	Mean    float64          `json:"mean,omitempty"`
	Scale   float64          `json:"scale,omitempty"`
}

// State is the complete fitted state of a Transform.
type State struct {
	FeatureNames []string      `json:"feature_names"`
	Columns      []ColumnState `json:"columns"`
	HasMarket    bool          `json:"has_market"`
	FittedRows   int           `json:"fitted_rows"`
	FittedAt     time.Time     `json:"fitted_at"`
}

// Transform derives, imputes, encodes and scales features.
// After fitting it is safe for concurrent use.
type Transform struct {
	state *State
	now   func() time.Time
}

// Option configures a Transform.
type Option func(*Transform)

// WithClock overrides the clock used for date arithmetic.
func WithClock(now func() time.Time) Option {
	return func(t *Transform) { t.now = now }
}

// NewTransform returns an unfitted transform.
func NewTransform(opts ...Option) *Transform {
	t := &Transform{now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// FromState restores a fitted transform from persisted state.
func FromState(state *State, opts ...Option) (*Transform, error) {
	if state == nil || len(state.Columns) == 0 {
		return nil, fmt.Errorf("%w: transform state is empty", domainerr.ErrNotFitted)
	}
	if len(state.Columns) != len(state.FeatureNames) {
		return nil, fmt.Errorf("%w: state has %d columns but %d feature names",
			domainerr.ErrInvalidInput, len(state.Columns), len(state.FeatureNames))
	}
	t := NewTransform(opts...)
	t.state = state
	return t, nil
}

// Fitted reports whether the transform holds fitted state.
func (t *Transform) Fitted() bool { return t.state != nil }

// State returns the fitted state, or nil before fitting.
func (t *Transform) State() *State { return t.state }

// FeatureNames returns the fitted output ordering.
func (t *Transform) FeatureNames() []string {
	if t.state == nil {
		return nil
	}
	return slices.Clone(t.state.FeatureNames)
}

// FitTransform fits the transform on a training table and returns its
// encoded matrix. A transform can only be fitted once.
func (t *Transform) FitTransform(table *models.JoinedTable) (Matrix, error) {
	if t.state != nil {
		return Matrix{}, fmt.Errorf("%w: transform is already fitted", domainerr.ErrInvalidInput)
	}
	if table == nil || len(table.Rows) == 0 {
		return Matrix{}, fmt.Errorf("%w: cannot fit on an empty table", domainerr.ErrInvalidInput)
	}

	now := t.now()
	specs := columnsFor(table.HasMarket)
	cells := derive(specs, table.Rows, now)

	state := &State{
		FeatureNames: make([]string, len(specs)),
		Columns:      make([]ColumnState, len(specs)),
		HasMarket:    table.HasMarket,
		FittedRows:   len(table.Rows),
		FittedAt:     now,
	}

	for c, spec := range specs {
		state.FeatureNames[c] = spec.name
		col := ColumnState{Name: spec.name, Group: spec.group, Kind: spec.kind}

		switch spec.kind {
		case KindCategorical:
			col.Mode = modeOf(cells[c])
			values := make([]string, len(cells[c]))
			for i, cell := range cells[c] {
				values[i] = col.imputeCategory(cell)
			}
			col.Encoder = FitCategoryEncoder(values)
		default:
			col.Median = medianOf(cells[c])
		}

		// Scaling statistics come from the imputed, encoded fit column.
		encoded := make([]float64, len(cells[c]))
		for i, cell := range cells[c] {
			encoded[i] = col.encode(cell)
		}
		if distinct(encoded) > 2 {
			mean, variance := stat.PopMeanVariance(encoded, nil)
			scale := math.Sqrt(variance)
			if scale == 0 {
				scale = 1
			}
			col.Scaled, col.Mean, col.Scale = true, mean, scale
		}

		state.Columns[c] = col
	}

	t.state = state
	return t.apply(specs, cells, table.Rows), nil
}

// Transform encodes a table with the frozen fitted state.
func (t *Transform) Transform(table *models.JoinedTable) (Matrix, error) {
	if t.state == nil {
		return Matrix{}, fmt.Errorf("%w: call FitTransform before Transform", domainerr.ErrNotFitted)
	}
	if table == nil {
		return Matrix{}, fmt.Errorf("%w: table is nil", domainerr.ErrInvalidInput)
	}

	specs := columnsFor(table.HasMarket)
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.name
	}
	if err := domainerr.CheckFeatureOrder(t.state.FeatureNames, names); err != nil {
		return Matrix{}, err
	}

	cells := derive(specs, table.Rows, t.now())
	return t.apply(specs, cells, table.Rows), nil
}

// apply turns derived cells into the output matrix using fitted state only.
func (t *Transform) apply(specs []columnSpec, cells [][]raw, rows []models.JoinedRow) Matrix {
	m := Matrix{
		Names: slices.Clone(t.state.FeatureNames),
		Keys:  make([]RowKey, len(rows)),
		Rows:  make([][]float64, len(rows)),
	}
	for i, r := range rows {
		m.Keys[i] = RowKey{LeaseID: r.Lease.LeaseID, TenantID: r.Lease.TenantID, PropertyID: r.Lease.PropertyID}
		m.Rows[i] = make([]float64, len(specs))
	}
	for c := range specs {
		col := &t.state.Columns[c]
		for i := range rows {
			v := col.encode(cells[c][i])
			if col.Scaled {
				v = (v - col.Mean) / col.Scale
			}
			m.Rows[i][c] = v
		}
	}
	return m
}

func (c *ColumnState) imputeCategory(cell raw) string {
	if cell.present {
		return cell.cat
	}
	return c.Mode
}

// encode imputes and encodes one cell without scaling.
func (c *ColumnState) encode(cell raw) float64 {
	if c.Kind == KindCategorical {
		return float64(c.Encoder.Encode(c.imputeCategory(cell)))
	}
	if cell.present {
		return cell.num
	}
	return c.Median
}

// derive computes raw cells column-major.
func derive(specs []columnSpec, rows []models.JoinedRow, now time.Time) [][]raw {
	cells := make([][]raw, len(specs))
	for c := range specs {
		cells[c] = make([]raw, len(rows))
	}
	for i := range rows {
		row := &rows[i]
		for c, spec := range specs {
			cells[c][i] = spec.derive(row, now)
		}
	}
	return cells
}

// medianOf returns the median of present values, or 0 when none are present.
func medianOf(cells []raw) float64 {
	values := make([]float64, 0, len(cells))
	for _, cell := range cells {
		if cell.present {
			values = append(values, cell.num)
		}
	}
	if len(values) == 0 {
		return 0
	}
	slices.Sort(values)
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	return (values[mid-1] + values[mid]) / 2
}

// modeOf returns the most frequent present category; ties go to the
// lexically smallest value so the result does not depend on row order.
func modeOf(cells []raw) string {
	counts := make(map[string]int)
	for _, cell := range cells {
		if cell.present {
			counts[cell.cat]++
		}
	}
	if len(counts) == 0 {
		return MissingCategory
	}
	best, bestCount := "", -1
	for v, n := range counts {
		if n > bestCount || (n == bestCount && v < best) {
			best, bestCount = v, n
		}
	}
	return best
}

func distinct(values []float64) int {
	seen := make(map[float64]struct{}, 4)
	for _, v := range values {
		seen[v] = struct{}{}
		if len(seen) > 2 {
			break
		}
	}
	return len(seen)
}
