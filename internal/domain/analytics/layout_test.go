package analytics

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-risk-intelligence/internal/domain/entity"
)

// assertFitsBox checks positions are centred on center with the largest
// axis offset equal to scale
func assertFitsBox(t *testing.T, res *LayoutResult, center Point, scale float64) {
	t.Helper()
	var mean Point
	for _, p := range res.Positions {
		mean.X += p.X
		mean.Y += p.Y
	}
	n := float64(len(res.Positions))
	assert.InDelta(t, center.X, mean.X/n, 1e-6)
	assert.InDelta(t, center.Y, mean.Y/n, 1e-6)

	lim := 0.0
	for _, p := range res.Positions {
		lim = math.Max(lim, math.Max(math.Abs(p.X-center.X), math.Abs(p.Y-center.Y)))
	}
	assert.InDelta(t, scale, lim, 1e-6)
}

func TestLayout_Circular(t *testing.T) {
	v := NewGraphView(nil, pairs([2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"c", "d"}), false, false)
	center := Point{X: 10, Y: -5}

	res, err := Layout(context.Background(), v, LayoutOptions{Algorithm: LayoutCircular, Scale: 50, Center: center})
	require.NoError(t, err)
	require.Len(t, res.Positions, 4)

	for id, p := range res.Positions {
		assert.InDelta(t, 50.0, math.Hypot(p.X-center.X, p.Y-center.Y), 1e-9, id)
	}
	assert.InDelta(t, 60.0, res.Positions["a"].X, 1e-9)
	assert.InDelta(t, -5.0, res.Positions["a"].Y, 1e-9)
	assertFitsBox(t, res, center, 50)
}

func TestLayout_FitsScaleAndCenter(t *testing.T) {
	v := NewGraphView([]string{"g"}, twoTriangles(), false, false)
	center := Point{X: 3, Y: 4}

	for _, alg := range []string{LayoutSpring, LayoutCircular, LayoutSpiral, LayoutRandom} {
		t.Run(alg, func(t *testing.T) {
			res, err := Layout(context.Background(), v, LayoutOptions{Algorithm: alg, Center: center})
			require.NoError(t, err)
			assert.Equal(t, alg, res.Algorithm)
			assert.Equal(t, DefaultLayoutScale, res.Scale)
			assert.Len(t, res.Positions, len(v.Nodes))
			assertFitsBox(t, res, center, DefaultLayoutScale)
		})
	}
}

func TestLayout_SpringIsRepeatable(t *testing.T) {
	v := NewGraphView(nil, twoTriangles(), true, false)

	first, err := Layout(context.Background(), v, LayoutOptions{})
	require.NoError(t, err)
	second, err := Layout(context.Background(), v, LayoutOptions{})
	require.NoError(t, err)
	assert.Equal(t, LayoutSpring, first.Algorithm)
	assert.Equal(t, first.Positions, second.Positions)

	reseeded, err := Layout(context.Background(), v, LayoutOptions{Seed: 42})
	require.NoError(t, err)
	assert.NotEqual(t, first.Positions, reseeded.Positions)
}

func TestLayout_SmallViews(t *testing.T) {
	empty, err := Layout(context.Background(), NewGraphView(nil, nil, false, false), LayoutOptions{})
	require.NoError(t, err)
	assert.Empty(t, empty.Positions)

	center := Point{X: 1, Y: 2}
	for _, alg := range []string{LayoutSpring, LayoutCircular, LayoutSpiral, LayoutRandom} {
		res, err := Layout(context.Background(), NewGraphView([]string{"solo"}, nil, false, false),
			LayoutOptions{Algorithm: alg, Center: center})
		require.NoError(t, err)
		assert.Equal(t, center, res.Positions["solo"], alg)
	}
}

func TestLayout_RejectsBadOptions(t *testing.T) {
	v := NewGraphView(nil, twoTriangles(), false, false)

	_, err := Layout(context.Background(), v, LayoutOptions{Algorithm: "kamada_kawai"})
	assert.ErrorIs(t, err, entity.ErrInvalidInput)

	_, err = Layout(context.Background(), v, LayoutOptions{Scale: -1})
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}

func TestLayout_SpringStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Layout(ctx, NewGraphView(nil, twoTriangles(), false, false), LayoutOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVisualize_Annotations(t *testing.T) {
	v := NewGraphView(nil, twoTriangles(), false, true)

	vis, err := Visualize(context.Background(), v, VisualizationOptions{
		Layout:             LayoutOptions{Algorithm: LayoutCircular},
		CommunityAlgorithm: CommunityLouvain,
		IncludeMetrics:     true,
	})
	require.NoError(t, err)

	assert.Equal(t, LayoutCircular, vis.Layout)
	assert.True(t, vis.Truncated)
	assert.Len(t, vis.Links, len(v.Edges))
	require.NotNil(t, vis.GraphMetrics)
	assert.Equal(t, 6, vis.GraphMetrics.NodeCount)
	require.NotNil(t, vis.Communities)
	require.Len(t, vis.Nodes, 6)

	byID := make(map[string]VisualNode, len(vis.Nodes))
	for i, node := range vis.Nodes {
		assert.Equal(t, v.Nodes[i], node.ID)
		require.NotNil(t, node.Community, node.ID)
		assert.Contains(t, vis.Communities.Communities[*node.Community], node.ID)
		assert.Contains(t, node.Metrics, AlgorithmDegree)
		assert.Contains(t, node.Metrics, AlgorithmBetweenness)
		byID[node.ID] = node
	}
	// the bridge endpoints carry all shortest paths between the triangles
	assert.Greater(t, byID["c"].Metrics[AlgorithmBetweenness], byID["a"].Metrics[AlgorithmBetweenness])
	assert.Equal(t, *byID["a"].Community, *byID["b"].Community)
	assert.NotEqual(t, *byID["a"].Community, *byID["f"].Community)
}

func TestVisualize_WithoutAnnotations(t *testing.T) {
	vis, err := Visualize(context.Background(), NewGraphView(nil, twoTriangles(), false, false), VisualizationOptions{})
	require.NoError(t, err)

	assert.Equal(t, LayoutSpring, vis.Layout)
	assert.Nil(t, vis.Communities)
	for _, node := range vis.Nodes {
		assert.Nil(t, node.Community)
		assert.Nil(t, node.Metrics)
	}

	_, err = Visualize(context.Background(), NewGraphView(nil, nil, false, false), VisualizationOptions{CommunityAlgorithm: "spectral"})
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}
