package analytics

import (
	"context"
	"fmt"
	"time"

	"crypto-risk-intelligence/internal/domain/entity"
)

// MaxShiftRatio caps the ratio between the two windows
const MaxShiftRatio = 10.0

// TemporalOptions sizes the window series
type TemporalOptions struct {
	WindowSize time.Duration
	MaxWindows int
}

// WindowMetrics are the basic metrics of one window. Start is exclusive,
// End inclusive.
type WindowMetrics struct {
	Index   int           `json:"index"`
	Start   time.Time     `json:"start"`
	End     time.Time     `json:"end"`
	Metrics *GraphMetrics `json:"metrics"`
}

// TemporalResult is the window series, oldest first. Truncated is set when
// the computation stopped early; the series then holds the most recent
// windows that finished.
type TemporalResult struct {
	WindowSize    time.Duration   `json:"window_size"`
	Windows       []WindowMetrics `json:"windows"`
	Truncated     bool            `json:"truncated"`
	ViewTruncated bool            `json:"view_truncated"`
}

// Validate rejects non-positive sizes
func (o TemporalOptions) Validate() error {
	if o.WindowSize <= 0 {
		return fmt.Errorf("%w: window size must be positive", entity.ErrInvalidInput)
	}
	if o.MaxWindows <= 0 {
		return fmt.Errorf("%w: max windows must be positive", entity.ErrInvalidInput)
	}
	return nil
}

// windowBounds returns the (start, end] bounds of window k counted back
// from the newest edge
func windowBounds(newest time.Time, size time.Duration, k int) (time.Time, time.Time) {
	end := newest.Add(-time.Duration(k) * size)
	return end.Add(-size), end
}

// Temporal partitions the edge time range into fixed, non-overlapping
// windows anchored at the newest edge and computes basic metrics per
// window. Windows without edges are kept with empty-graph metrics. Windows
// are computed newest first so that a cancelled ctx still leaves the most
// recent part of the series.
func Temporal(ctx context.Context, v *GraphView, opts TemporalOptions) (*TemporalResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	res := &TemporalResult{WindowSize: opts.WindowSize, ViewTruncated: v.Truncated}

	oldest, newest, ok := v.TimeSpan()
	if !ok {
		return res, nil
	}

	count := int(newest.Sub(oldest)/opts.WindowSize) + 1
	if count > opts.MaxWindows {
		count = opts.MaxWindows
	}

	buckets := make([][]*entity.Edge, count)
	for _, e := range v.Edges {
		k := windowIndex(newest, e.Timestamp, opts.WindowSize)
		if k < count {
			buckets[k] = append(buckets[k], e)
		}
	}

	computed := make([]WindowMetrics, 0, count)
	for k := 0; k < count; k++ {
		if ctx.Err() != nil {
			res.Truncated = true
			break
		}
		start, end := windowBounds(newest, opts.WindowSize, k)
		window := NewGraphView(nil, buckets[k], v.Directed, v.Truncated)
		computed = append(computed, WindowMetrics{
			Start:   start,
			End:     end,
			Metrics: BasicMetrics(window),
		})
	}

	res.Windows = make([]WindowMetrics, len(computed))
	for i := range computed {
		w := computed[len(computed)-1-i]
		w.Index = i
		res.Windows[i] = w
	}
	return res, nil
}

// windowIndex returns k such that ts falls in (newest-(k+1)size, newest-k*size]
func windowIndex(newest, ts time.Time, size time.Duration) int {
	age := newest.Sub(ts)
	if age <= 0 {
		return 0
	}
	return int(age / size)
}

// CentralityShift compares a node's degree in the newest window against
// the window before it
type CentralityShift struct {
	Node     string   `json:"node"`
	Previous float64  `json:"previous"`
	Current  float64  `json:"current"`
	Ratio    *float64 `json:"ratio"`
}

// ComputeCentralityShift measures the degree (distinct counterparties) of
// node in the two most recent windows of windowSize. A ratio needs a
// baseline: when the node had no connections in the previous window the
// shift is returned without a ratio and ErrInsufficientData, so first
// activity and activity after a quiet window are not reported as jumps.
func ComputeCentralityShift(v *GraphView, node string, windowSize time.Duration) (*CentralityShift, error) {
	if windowSize <= 0 {
		return nil, fmt.Errorf("%w: window size must be positive", entity.ErrInvalidInput)
	}
	shift := &CentralityShift{Node: node}

	_, newest, ok := v.TimeSpan()
	if !ok {
		return nil, fmt.Errorf("%w: view has no edges", entity.ErrAlgorithmUndefined)
	}

	current := v.Subgraph(func(e *entity.Edge) bool {
		return windowIndex(newest, e.Timestamp, windowSize) == 0
	})
	previous := v.Subgraph(func(e *entity.Edge) bool {
		return windowIndex(newest, e.Timestamp, windowSize) == 1
	})
	shift.Current = nodeDegree(current, node)
	shift.Previous = nodeDegree(previous, node)

	switch {
	case shift.Previous > 0:
		r := min(shift.Current/shift.Previous, MaxShiftRatio)
		shift.Ratio = &r
	case shift.Current > 0:
		return shift, fmt.Errorf("%w: %s has no connections in the previous window", entity.ErrInsufficientData, node)
	default:
		return shift, fmt.Errorf("%w: %s has no connections in the last two windows", entity.ErrAlgorithmUndefined, node)
	}
	return shift, nil
}

func nodeDegree(v *GraphView, node string) float64 {
	g := project(v)
	i, ok := g.index[node]
	if !ok {
		return 0
	}
	values := degreeCentrality(g, g.und, false)
	return values[i]
}
