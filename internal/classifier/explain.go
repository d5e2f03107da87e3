package classifier

import (
	"fmt"
	"math"
	"sort"

	"github.com/stwalsh4118/churn/internal/domainerr"
	"github.com/stwalsh4118/churn/internal/features"
	"github.com/stwalsh4118/churn/internal/risk"
)

// DefaultTopN is the number of features reported when ExplainOptions.TopN is zero.
const DefaultTopN = 5

// ExplainMethod selects how features are ranked in an explanation.
type ExplainMethod string

const (
	// MethodGlobalImportance reports the model's globally most important
	// features with this row's values. It is not a per-row attribution.
	MethodGlobalImportance ExplainMethod = "global_importance"
	// MethodPathContributions attributes this row's log-odds to individual
	// features. It must be requested explicitly.
	MethodPathContributions ExplainMethod = "path_contributions"
)

// ExplainOptions configure Explain.
type ExplainOptions struct {
	TopN   int           `json:"top_n"`
	Method ExplainMethod `json:"method"`
}

// FeatureExplanation is one reported feature.
type FeatureExplanation struct {
	Feature    string  `json:"feature"`
	Value      float64 `json:"value"`
	Importance float64 `json:"importance"`
	// Contribution is the change in log-odds attributed to the feature; set
	// only by MethodPathContributions.
	Contribution *float64 `json:"contribution,omitempty"`
}

// Explanation describes one prediction.
type Explanation struct {
	Probability    float64              `json:"churn_probability"`
	PredictedClass int                  `json:"predicted_class"`
	Tier           risk.Tier            `json:"risk_tier"`
	Method         ExplainMethod        `json:"method"`
	Bias           *float64             `json:"bias,omitempty"`
	TopFeatures    []FeatureExplanation `json:"top_features"`
}

// contributionFunc returns a row's bias and per-feature log-odds contributions.
type contributionFunc func(row []float64) (float64, []float64)

func explain(c Classifier, x features.Matrix, opts ExplainOptions, contrib contributionFunc) (*Explanation, error) {
	if x.Len() != 1 {
		return nil, fmt.Errorf("%w: explain accepts exactly one row, got %d", domainerr.ErrInvalidInput, x.Len())
	}
	topN := opts.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}
	method := opts.Method
	if method == "" {
		method = MethodGlobalImportance
	}

	proba, err := c.PredictProba(x)
	if err != nil {
		return nil, err
	}
	p := proba[0][1]
	ex := &Explanation{
		Probability: p,
		Tier:        risk.TierFromProbability(p),
		Method:      method,
	}
	if p >= DecisionThreshold {
		ex.PredictedClass = 1
	}
	row := x.Rows[0]

	switch method {
	case MethodGlobalImportance:
		imp, err := c.FeatureImportance()
		if err != nil {
			return nil, err
		}
		index := make(map[string]int, len(x.Names))
		for i, name := range x.Names {
			index[name] = i
		}
		for _, entry := range imp[:min(topN, len(imp))] {
			ex.TopFeatures = append(ex.TopFeatures, FeatureExplanation{
				Feature:    entry.Feature,
				Value:      row[index[entry.Feature]],
				Importance: entry.Importance,
			})
		}
	case MethodPathContributions:
		bias, values := contrib(row)
		ex.Bias = &bias
		order := make([]int, len(values))
		var total float64
		for i := range order {
			order[i] = i
			total += math.Abs(values[i])
		}
		sort.SliceStable(order, func(a, b int) bool { return math.Abs(values[order[a]]) > math.Abs(values[order[b]]) })
		for _, j := range order[:min(topN, len(order))] {
			v := values[j]
			share := 0.0
			if total > 0 {
				share = math.Abs(v) / total
			}
			ex.TopFeatures = append(ex.TopFeatures, FeatureExplanation{
				Feature:      x.Names[j],
				Value:        row[j],
				Importance:   share,
				Contribution: &v,
			})
		}
	default:
		return nil, fmt.Errorf("%w: explain method %q", domainerr.ErrUnsupportedOperation, method)
	}
	return ex, nil
}
