package entity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryForScore(t *testing.T) {
	cases := []struct {
		score float64
		want  RiskCategory
	}{
		{0, RiskCategoryLow},
		{25, RiskCategoryLow},
		{25.01, RiskCategoryMedium},
		{26, RiskCategoryMedium},
		{50, RiskCategoryMedium},
		{51, RiskCategoryHigh},
		{75, RiskCategoryHigh},
		{75.5, RiskCategoryCritical},
		{76, RiskCategoryCritical},
		{100, RiskCategoryCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CategoryForScore(tc.score), "score %.2f", tc.score)
	}
}

func TestAggregate_UnverifiedBurstExample(t *testing.T) {
	factors := []RiskFactor{
		{Name: "tx_burst", NormalizedValue: 0.8, Weight: 2},
		{Name: "unverified_contract", NormalizedValue: 1.0, Weight: 3},
	}

	score, err := Aggregate(factors)
	require.NoError(t, err)
	assert.Equal(t, 92.0, score)
	assert.Equal(t, RiskCategoryCritical, CategoryForScore(score))
}

func TestAggregate_RenormalizesOverPresentFactors(t *testing.T) {
	withMissing := []RiskFactor{
		{Name: "vulnerabilities", NormalizedValue: 0.5, Weight: 3},
		{Name: "tx_burst", NormalizedValue: 0, Weight: 0}, // disabled
	}
	score, err := Aggregate(withMissing)
	require.NoError(t, err)
	assert.Equal(t, 50.0, score)
}

func TestAggregate_OrderIndependent(t *testing.T) {
	factors := []RiskFactor{
		{Name: "a", NormalizedValue: 0.1, Weight: 1.1},
		{Name: "b", NormalizedValue: 0.7, Weight: 0.3},
		{Name: "c", NormalizedValue: 0.33, Weight: 2.7},
		{Name: "d", NormalizedValue: 0.9, Weight: 1.9},
		{Name: "e", NormalizedValue: 0.05, Weight: 0.7},
	}
	want, err := Aggregate(factors)
	require.NoError(t, err)

	reversed := make([]RiskFactor, len(factors))
	for i, f := range factors {
		reversed[len(factors)-1-i] = f
	}
	rotated := append(append([]RiskFactor(nil), factors[2:]...), factors[:2]...)

	for _, perm := range [][]RiskFactor{reversed, rotated} {
		got, err := Aggregate(perm)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestAggregate_ClampsNormalizedValues(t *testing.T) {
	score, err := Aggregate([]RiskFactor{
		{Name: "x", NormalizedValue: 3, Weight: 1},
		{Name: "y", NormalizedValue: -1, Weight: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 50.0, score)
}

func TestAggregate_NoFactors(t *testing.T) {
	_, err := Aggregate(nil)
	assert.True(t, errors.Is(err, ErrInsufficientData))

	_, err = Aggregate([]RiskFactor{{Name: "zero_weight", NormalizedValue: 1, Weight: 0}})
	assert.True(t, errors.Is(err, ErrInsufficientData))
}

func TestTopFactors(t *testing.T) {
	factors := []RiskFactor{
		{Name: "small", NormalizedValue: 0.1, Weight: 1},
		{Name: "big", NormalizedValue: 1, Weight: 3},
		{Name: "mid_b", NormalizedValue: 0.5, Weight: 1},
		{Name: "mid_a", NormalizedValue: 0.5, Weight: 1},
	}
	top := TopFactors(factors, 3)
	require.Len(t, top, 3)
	assert.Equal(t, "big", top[0].Name)
	assert.Equal(t, "mid_a", top[1].Name)
	assert.Equal(t, "mid_b", top[2].Name)
}

func TestRoundScore(t *testing.T) {
	assert.Equal(t, 91.99, RoundScore(91.994))
	assert.Equal(t, 92.0, RoundScore(91.9999999))
}
