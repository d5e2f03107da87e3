package features

import (
	"encoding/json"
	"sort"
)

// UnknownCode is the reserved code for categories not seen during fit.
const UnknownCode = -1

// CategoryEncoder maps a fixed, fit-time vocabulary to integer codes.
// Codes follow the sorted order of the vocabulary, starting at zero.
type CategoryEncoder struct {
	categories []string
	index      map[string]int
}

// FitCategoryEncoder builds an encoder from the distinct values observed.
func FitCategoryEncoder(values []string) *CategoryEncoder {
	seen := make(map[string]struct{}, len(values))
	categories := make([]string, 0)
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		categories = append(categories, v)
	}
	sort.Strings(categories)
	return newCategoryEncoder(categories)
}

func newCategoryEncoder(categories []string) *CategoryEncoder {
	index := make(map[string]int, len(categories))
	for i, c := range categories {
		index[c] = i
	}
	return &CategoryEncoder{categories: categories, index: index}
}

// Encode returns the code for v, or UnknownCode when v was not seen during fit.
func (e *CategoryEncoder) Encode(v string) int {
	if code, ok := e.index[v]; ok {
		return code
	}
	return UnknownCode
}

// Categories returns the fitted vocabulary in code order.
func (e *CategoryEncoder) Categories() []string {
	out := make([]string, len(e.categories))
	copy(out, e.categories)
	return out
}

// MarshalJSON encodes the vocabulary; codes are implied by position.
func (e *CategoryEncoder) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Categories []string `json:"categories"`
	}{Categories: e.categories})
}

// UnmarshalJSON restores the vocabulary and rebuilds the lookup index.
func (e *CategoryEncoder) UnmarshalJSON(data []byte) error {
	var raw struct {
		Categories []string `json:"categories"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = *newCategoryEncoder(raw.Categories)
	return nil
}
