package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-risk-intelligence/internal/domain/entity"
)

func temporalView() *GraphView {
	return NewGraphView(nil, []*entity.Edge{
		edge("a", "b", baseTime),
		edge("b", "c", baseTime.Add(time.Hour)),
		edge("c", "d", baseTime.Add(5*time.Hour)),
	}, true, false)
}

func TestTemporal_WindowsOldestFirst(t *testing.T) {
	res, err := Temporal(context.Background(), temporalView(), TemporalOptions{WindowSize: time.Hour, MaxWindows: 10})
	require.NoError(t, err)
	require.Len(t, res.Windows, 6)
	assert.False(t, res.Truncated)

	edgeCounts := make([]int, 0, len(res.Windows))
	total := 0
	for i, w := range res.Windows {
		assert.Equal(t, i, w.Index)
		assert.Equal(t, time.Hour, w.End.Sub(w.Start))
		edgeCounts = append(edgeCounts, w.Metrics.EdgeCount)
		total += w.Metrics.EdgeCount
	}
	assert.Equal(t, []int{1, 1, 0, 0, 0, 1}, edgeCounts)
	assert.Equal(t, 3, total)
	assert.True(t, res.Windows[0].End.Equal(baseTime))
	assert.True(t, res.Windows[5].End.Equal(baseTime.Add(5*time.Hour)))

	for i := 1; i < len(res.Windows); i++ {
		assert.True(t, res.Windows[i].Start.Equal(res.Windows[i-1].End))
	}
}

func TestTemporal_MaxWindowsKeepsNewest(t *testing.T) {
	res, err := Temporal(context.Background(), temporalView(), TemporalOptions{WindowSize: time.Hour, MaxWindows: 2})
	require.NoError(t, err)
	require.Len(t, res.Windows, 2)
	assert.Equal(t, 0, res.Windows[0].Metrics.EdgeCount)
	assert.Equal(t, 1, res.Windows[1].Metrics.EdgeCount)
}

func TestTemporal_EmptyView(t *testing.T) {
	res, err := Temporal(context.Background(), NewGraphView([]string{"a"}, nil, true, false), TemporalOptions{WindowSize: time.Hour, MaxWindows: 3})
	require.NoError(t, err)
	assert.Empty(t, res.Windows)
}

func TestTemporal_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Temporal(ctx, temporalView(), TemporalOptions{WindowSize: time.Hour, MaxWindows: 10})
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Empty(t, res.Windows)
}

func TestTemporal_InvalidOptions(t *testing.T) {
	_, err := Temporal(context.Background(), temporalView(), TemporalOptions{WindowSize: 0, MaxWindows: 10})
	assert.ErrorIs(t, err, entity.ErrInvalidInput)

	_, err = Temporal(context.Background(), temporalView(), TemporalOptions{WindowSize: time.Hour})
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}

func TestComputeCentralityShift(t *testing.T) {
	newest := baseTime.Add(10 * time.Hour)
	v := NewGraphView(nil, []*entity.Edge{
		edge("a", "b", newest.Add(-90*time.Minute)),
		edge("a", "c", newest.Add(-30*time.Minute)),
		edge("a", "d", newest.Add(-10*time.Minute)),
		edge("e", "a", newest),
		edge("f", "g", newest.Add(-100*time.Minute)),
	}, true, false)

	shift, err := ComputeCentralityShift(v, "a", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1.0, shift.Previous)
	assert.Equal(t, 3.0, shift.Current)
	require.NotNil(t, shift.Ratio)
	assert.InDelta(t, 3.0, *shift.Ratio, 1e-9)

	// e only shows up in the newest window, so there is no baseline
	shift, err = ComputeCentralityShift(v, "e", time.Hour)
	assert.ErrorIs(t, err, entity.ErrInsufficientData)
	require.NotNil(t, shift)
	assert.Equal(t, 1.0, shift.Current)
	assert.Nil(t, shift.Ratio)

	// f was active before but not since
	shift, err = ComputeCentralityShift(v, "f", time.Hour)
	require.NoError(t, err)
	assert.Zero(t, *shift.Ratio)

	_, err = ComputeCentralityShift(v, "z", time.Hour)
	assert.ErrorIs(t, err, entity.ErrAlgorithmUndefined)

	_, err = ComputeCentralityShift(v, "a", 0)
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}
