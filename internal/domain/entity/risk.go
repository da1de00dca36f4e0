package entity

import (
	"fmt"
	"math"
	"sort"
)

// RiskCategory is the fixed band a score falls into
type RiskCategory string

const (
	RiskCategoryLow      RiskCategory = "low"
	RiskCategoryMedium   RiskCategory = "medium"
	RiskCategoryHigh     RiskCategory = "high"
	RiskCategoryCritical RiskCategory = "critical"
)

// Band upper bounds. A fractional score belongs to the first band whose
// upper bound it does not exceed, so 25.5 is Medium and 75.01 is Critical.
const (
	lowUpperBound    = 25.0
	mediumUpperBound = 50.0
	highUpperBound   = 75.0
)

// CategoryForScore maps a score in [0,100] to its band
func CategoryForScore(score float64) RiskCategory {
	switch {
	case score <= lowUpperBound:
		return RiskCategoryLow
	case score <= mediumUpperBound:
		return RiskCategoryMedium
	case score <= highUpperBound:
		return RiskCategoryHigh
	default:
		return RiskCategoryCritical
	}
}

// Rank orders categories; an unknown category ranks 0
func (c RiskCategory) Rank() int {
	switch c {
	case RiskCategoryLow:
		return 1
	case RiskCategoryMedium:
		return 2
	case RiskCategoryHigh:
		return 3
	case RiskCategoryCritical:
		return 4
	}
	return 0
}

// Valid reports whether c is one of the four bands
func (c RiskCategory) Valid() bool {
	return c.Rank() > 0
}

// IsHighRisk reports whether c is High or Critical
func (c RiskCategory) IsHighRisk() bool {
	return c == RiskCategoryHigh || c == RiskCategoryCritical
}

// RiskFactor is one named, weighted contribution to a score
type RiskFactor struct {
	Name            string  `json:"name"`
	RawValue        float64 `json:"raw_value"`
	NormalizedValue float64 `json:"normalized_value"`
	Weight          float64 `json:"weight"`
	Detail          string  `json:"detail,omitempty"`
}

// Contribution is the factor's share of the weighted sum
func (f RiskFactor) Contribution() float64 {
	return clamp01(f.NormalizedValue) * f.Weight
}

// Aggregate combines factors into a score in [0,100] with two decimals.
// Only factors with a positive weight take part, and the weighted sum is
// divided by the weights actually present so missing factors do not
// deflate the result. Factors are summed in name order, which makes the
// score independent of the order they were computed in.
func Aggregate(factors []RiskFactor) (float64, error) {
	present := make([]RiskFactor, 0, len(factors))
	for _, f := range factors {
		if f.Weight > 0 && !math.IsNaN(f.NormalizedValue) {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return 0, fmt.Errorf("%w: no applicable risk factors", ErrInsufficientData)
	}

	SortFactors(present)

	var weighted, weights float64
	for _, f := range present {
		weighted += f.Contribution()
		weights += f.Weight
	}

	score := weighted / weights * 100
	return RoundScore(math.Max(0, math.Min(100, score))), nil
}

// SortFactors orders factors by name, then weight, in place
func SortFactors(factors []RiskFactor) {
	sort.SliceStable(factors, func(i, j int) bool {
		if factors[i].Name != factors[j].Name {
			return factors[i].Name < factors[j].Name
		}
		return factors[i].Weight < factors[j].Weight
	})
}

// TopFactors returns up to n factors with the largest contribution,
// ties broken by name
func TopFactors(factors []RiskFactor, n int) []RiskFactor {
	sorted := append([]RiskFactor(nil), factors...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci, cj := sorted[i].Contribution(), sorted[j].Contribution()
		if ci != cj {
			return ci > cj
		}
		return sorted[i].Name < sorted[j].Name
	})
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// FindFactor returns the factor with the given name
func FindFactor(factors []RiskFactor, name string) (RiskFactor, bool) {
	for _, f := range factors {
		if f.Name == name {
			return f, true
		}
	}
	return RiskFactor{}, false
}

// RoundScore rounds to the two decimals used on the wire
func RoundScore(score float64) float64 {
	return math.Round(score*100) / 100
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
