package analytics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-risk-intelligence/internal/domain/entity"
)

func TestCentrality_BetweennessOnPath(t *testing.T) {
	ctx := context.Background()
	edges := pairs([2]string{"a", "b"}, [2]string{"b", "c"})

	directed, err := Centrality(ctx, NewGraphView(nil, edges, true, false), CentralityOptions{
		Algorithms: []string{AlgorithmBetweenness},
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, directed.Values[AlgorithmBetweenness]["b"], 1e-9)
	assert.Zero(t, directed.Values[AlgorithmBetweenness]["a"])

	normalized, err := Centrality(ctx, NewGraphView(nil, edges, true, false), CentralityOptions{
		Algorithms: []string{AlgorithmBetweenness},
		Normalized: true,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, normalized.Values[AlgorithmBetweenness]["b"], 1e-9)

	undirected, err := Centrality(ctx, NewGraphView(nil, edges, false, false), CentralityOptions{
		Algorithms: []string{AlgorithmBetweenness},
		Normalized: true,
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, undirected.Values[AlgorithmBetweenness]["b"], 1e-9)
}

func TestCentrality_NormalizedBetweennessBounded(t *testing.T) {
	v := NewGraphView(nil, twoTriangles(), false, false)
	res, err := Centrality(context.Background(), v, CentralityOptions{
		Algorithms: []string{AlgorithmBetweenness},
		Normalized: true,
	})
	require.NoError(t, err)
	for node, value := range res.Values[AlgorithmBetweenness] {
		assert.GreaterOrEqual(t, value, 0.0, node)
		assert.LessOrEqual(t, value, 1.0, node)
	}
	// c and d bridge the triangles
	assert.Equal(t, "c", res.Ranking[AlgorithmBetweenness][0].Node)
	assert.Equal(t, "d", res.Ranking[AlgorithmBetweenness][1].Node)
}

func TestCentrality_Closeness(t *testing.T) {
	edges := pairs([2]string{"a", "b"}, [2]string{"b", "c"})

	raw, err := Centrality(context.Background(), NewGraphView(nil, edges, true, false), CentralityOptions{
		Algorithms: []string{AlgorithmCloseness},
	})
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, raw.Values[AlgorithmCloseness]["c"], 1e-9)
	assert.InDelta(t, 1.0, raw.Values[AlgorithmCloseness]["b"], 1e-9)
	assert.Zero(t, raw.Values[AlgorithmCloseness]["a"])

	normalized, err := Centrality(context.Background(), NewGraphView(nil, edges, true, false), CentralityOptions{
		Algorithms: []string{AlgorithmCloseness},
		Normalized: true,
	})
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, normalized.Values[AlgorithmCloseness]["c"], 1e-9)
	assert.InDelta(t, 0.5, normalized.Values[AlgorithmCloseness]["b"], 1e-9)
}

func TestCentrality_PageRank(t *testing.T) {
	edges := pairs([2]string{"a", "b"}, [2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"c", "a"}, [2]string{"d", "a"})

	undirected, err := Centrality(context.Background(), NewGraphView(nil, edges, false, false), CentralityOptions{
		Algorithms: []string{AlgorithmPageRank, AlgorithmDegree},
	})
	require.NoError(t, err)
	assert.Contains(t, undirected.Omitted, AlgorithmPageRank)
	assert.NotContains(t, undirected.Values, AlgorithmPageRank)
	assert.Contains(t, undirected.Values, AlgorithmDegree)

	directed, err := Centrality(context.Background(), NewGraphView(nil, edges, true, false), CentralityOptions{
		Algorithms: []string{AlgorithmPageRank},
	})
	require.NoError(t, err)
	sum := 0.0
	for _, value := range directed.Values[AlgorithmPageRank] {
		sum += value
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
	assert.Greater(t, directed.Values[AlgorithmPageRank]["a"], directed.Values[AlgorithmPageRank]["d"])
}

func TestCentrality_EigenvectorOmittedWhenDisconnected(t *testing.T) {
	v := NewGraphView(nil, pairs([2]string{"a", "b"}, [2]string{"c", "d"}), false, false)
	res, err := Centrality(context.Background(), v, CentralityOptions{})
	require.NoError(t, err)

	assert.Contains(t, res.Omitted, AlgorithmEigenvector)
	assert.Contains(t, res.Values, AlgorithmDegree)
	assert.Contains(t, res.Values, AlgorithmBetweenness)
	assert.Contains(t, res.Values, AlgorithmCloseness)
}

func TestCentrality_EigenvectorTriangle(t *testing.T) {
	v := NewGraphView(nil, pairs([2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"c", "a"}), false, false)
	res, err := Centrality(context.Background(), v, CentralityOptions{
		Algorithms: []string{AlgorithmEigenvector},
		Normalized: true,
	})
	require.NoError(t, err)
	for _, node := range []string{"a", "b", "c"} {
		assert.InDelta(t, 1.0, res.Values[AlgorithmEigenvector][node], 1e-6)
	}
}

func TestCentrality_TopNBreaksTiesByID(t *testing.T) {
	v := NewGraphView(nil, pairs([2]string{"h", "c"}, [2]string{"h", "a"}, [2]string{"h", "b"}), false, false)
	res, err := Centrality(context.Background(), v, CentralityOptions{
		Algorithms: []string{AlgorithmDegree},
		TopN:       2,
		Normalized: true,
	})
	require.NoError(t, err)

	ranking := res.Ranking[AlgorithmDegree]
	require.Len(t, ranking, 2)
	assert.Equal(t, NodeScore{Node: "h", Value: 1}, ranking[0])
	assert.Equal(t, "a", ranking[1].Node)
	assert.Len(t, res.Values[AlgorithmDegree], 2)
}

func TestCentrality_DirectedDegreeExpands(t *testing.T) {
	algorithms, err := ResolveAlgorithms([]string{AlgorithmDegree, AlgorithmInDegree}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{AlgorithmInDegree, AlgorithmOutDegree}, algorithms)

	algorithms, err = ResolveAlgorithms(nil, false)
	require.NoError(t, err)
	assert.NotContains(t, algorithms, AlgorithmPageRank)
}

func TestCentrality_UnknownAlgorithm(t *testing.T) {
	_, err := Centrality(context.Background(), NewGraphView([]string{"a"}, nil, true, false), CentralityOptions{
		Algorithms: []string{"katz"},
	})
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
}

func TestCentrality_CancelledContextOmitsBetweenness(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Centrality(ctx, NewGraphView(nil, twoTriangles(), false, false), CentralityOptions{
		Algorithms: []string{AlgorithmBetweenness, AlgorithmDegree},
	})
	require.NoError(t, err)
	assert.Contains(t, res.Omitted, AlgorithmBetweenness)
	assert.Contains(t, res.Values, AlgorithmDegree)
}

func TestCentrality_EmptyView(t *testing.T) {
	res, err := Centrality(context.Background(), NewGraphView(nil, nil, false, false), CentralityOptions{
		Algorithms: []string{AlgorithmDegree},
	})
	require.NoError(t, err)
	assert.Contains(t, res.Omitted, AlgorithmDegree)
}

func TestPercentileRank(t *testing.T) {
	values := map[string]float64{"a": 1, "b": 2, "c": 3}

	p, ok := PercentileRank(values, "c")
	require.True(t, ok)
	assert.Equal(t, 1.0, p)

	p, ok = PercentileRank(values, "a")
	require.True(t, ok)
	assert.Zero(t, p)

	_, ok = PercentileRank(values, "z")
	assert.False(t, ok)
}
