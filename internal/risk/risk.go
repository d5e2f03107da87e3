// Package risk maps churn probabilities to integer scores, tiers and a
// confidence value.
package risk

import (
	"fmt"
	"math"

	"github.com/stwalsh4118/churn/internal/domainerr"
)

// Tier is the LOW/MEDIUM/HIGH classification of a churn probability.
type Tier string

const (
	TierLow    Tier = "LOW"
	TierMedium Tier = "MEDIUM"
	TierHigh   Tier = "HIGH"
)

// Probability cutoffs for TierFromProbability. Both are inclusive.
const (
	HighProbability   = 0.8
	MediumProbability = 0.5
)

// TierFromString parses a tier name.
func TierFromString(s string) (Tier, error) {
	switch Tier(s) {
	case TierLow, TierMedium, TierHigh:
		return Tier(s), nil
	default:
		return "", fmt.Errorf("%w: invalid risk tier: %s", domainerr.ErrInvalidInput, s)
	}
}

func (t Tier) String() string { return string(t) }

// TierFromProbability is the model's own mapping: p >= 0.8 is HIGH,
// p >= 0.5 is MEDIUM, anything lower is LOW.
func TierFromProbability(p float64) Tier {
	switch {
	case p >= HighProbability:
		return TierHigh
	case p >= MediumProbability:
		return TierMedium
	default:
		return TierLow
	}
}

// Score returns floor(p*100) clamped to [0, 100].
func Score(p float64) int {
	if math.IsNaN(p) {
		return 0
	}
	s := int(math.Floor(p * 100))
	return min(max(s, 0), 100)
}

// Confidence is |p - 0.5| * 2: zero at the decision boundary, one at the extremes.
func Confidence(p float64) float64 {
	return math.Min(math.Abs(p-0.5)*2, 1)
}

// Policy is the configurable score-based tiering used at the serving boundary.
type Policy struct {
	HighScore   int `json:"high_score" mapstructure:"high_score"`
	MediumScore int `json:"medium_score" mapstructure:"medium_score"`
}

// DefaultPolicy matches TierFromProbability on whole-percent scores.
func DefaultPolicy() Policy {
	return Policy{HighScore: 80, MediumScore: 50}
}

// Validate checks 0 <= MediumScore <= HighScore <= 100.
func (p Policy) Validate() error {
	if p.MediumScore < 0 || p.HighScore > 100 || p.MediumScore > p.HighScore {
		return fmt.Errorf("%w: risk thresholds must satisfy 0 <= medium (%d) <= high (%d) <= 100",
			domainerr.ErrInvalidInput, p.MediumScore, p.HighScore)
	}
	return nil
}

// TierFromScore applies the policy to an integer score.
func (p Policy) TierFromScore(score int) Tier {
	switch {
	case score >= p.HighScore:
		return TierHigh
	case score >= p.MediumScore:
		return TierMedium
	default:
		return TierLow
	}
}

// Assessment is the scored view of one probability.
type Assessment struct {
	Probability float64 `json:"churn_probability"`
	Score       int     `json:"risk_score"`
	Tier        Tier    `json:"risk_tier"`
	Churn       bool    `json:"will_churn"`
	Confidence  float64 `json:"confidence"`
}

// Assess scores p and tiers it with the policy.
func (p Policy) Assess(prob float64) Assessment {
	score := Score(prob)
	return Assessment{
		Probability: prob,
		Score:       score,
		Tier:        p.TierFromScore(score),
		Churn:       prob >= MediumProbability,
		Confidence:  Confidence(prob),
	}
}
