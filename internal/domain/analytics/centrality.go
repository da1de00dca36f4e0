package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"crypto-risk-intelligence/internal/domain/entity"
)

// Centrality algorithm names
const (
	AlgorithmDegree      = "degree"
	AlgorithmInDegree    = "in_degree"
	AlgorithmOutDegree   = "out_degree"
	AlgorithmBetweenness = "betweenness"
	AlgorithmCloseness   = "closeness"
	AlgorithmEigenvector = "eigenvector"
	AlgorithmPageRank    = "pagerank"
)

const (
	pageRankAlpha        = 0.85
	pageRankMaxIter      = 100
	pageRankTolerance    = 1e-6
	eigenvectorMaxIter   = 1000
	eigenvectorTolerance = 1e-6
)

// CentralityOptions selects algorithms and output shape
type CentralityOptions struct {
	// Algorithms to run; empty means every algorithm that applies to the
	// view orientation. "degree" on a directed view expands to in_degree
	// and out_degree.
	Algorithms []string
	// TopN keeps the N highest values per algorithm; 0 keeps all
	TopN       int
	Normalized bool
	// BetweennessTimeout bounds the betweenness pass; 0 means no bound
	// beyond ctx
	BetweennessTimeout time.Duration
}

// NodeScore is one node's value for one algorithm
type NodeScore struct {
	Node  string  `json:"node"`
	Value float64 `json:"value"`
}

// CentralityResult holds the per-algorithm values. Ranking carries the
// same values ordered by value desc, node id asc.
type CentralityResult struct {
	Values     map[string]map[string]float64 `json:"values"`
	Ranking    map[string][]NodeScore        `json:"ranking"`
	Normalized bool                          `json:"normalized"`
	Truncated  bool                          `json:"truncated"`
	Omitted    map[string]string             `json:"omitted,omitempty"`
}

// ResolveAlgorithms validates names and expands defaults for the view
// orientation
func ResolveAlgorithms(names []string, directed bool) ([]string, error) {
	if len(names) == 0 {
		if directed {
			return []string{AlgorithmInDegree, AlgorithmOutDegree, AlgorithmBetweenness,
				AlgorithmCloseness, AlgorithmEigenvector, AlgorithmPageRank}, nil
		}
		return []string{AlgorithmDegree, AlgorithmBetweenness, AlgorithmCloseness, AlgorithmEigenvector}, nil
	}

	seen := make(map[string]bool)
	var resolved []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			resolved = append(resolved, name)
		}
	}
	for _, name := range names {
		switch name {
		case AlgorithmDegree:
			if directed {
				add(AlgorithmInDegree)
				add(AlgorithmOutDegree)
			} else {
				add(AlgorithmDegree)
			}
		case AlgorithmInDegree, AlgorithmOutDegree, AlgorithmBetweenness,
			AlgorithmCloseness, AlgorithmEigenvector, AlgorithmPageRank:
			add(name)
		default:
			return nil, fmt.Errorf("%w: unknown centrality algorithm %q", entity.ErrInvalidInput, name)
		}
	}
	return resolved, nil
}

// Centrality runs the requested algorithms concurrently. An algorithm that
// is undefined for the view, or that runs out of time, is reported in
// Omitted while the others still return values. The only error is an
// unknown algorithm name.
func Centrality(ctx context.Context, v *GraphView, opts CentralityOptions) (*CentralityResult, error) {
	algorithms, err := ResolveAlgorithms(opts.Algorithms, v.Directed)
	if err != nil {
		return nil, err
	}

	g := project(v)
	res := &CentralityResult{
		Values:     make(map[string]map[string]float64),
		Ranking:    make(map[string][]NodeScore),
		Normalized: opts.Normalized,
		Truncated:  v.Truncated,
	}

	var mu sync.Mutex
	record := func(name string, values []float64, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			if res.Omitted == nil {
				res.Omitted = make(map[string]string)
			}
			res.Omitted[name] = err.Error()
			return
		}
		ranking := rank(g.ids, values, opts.TopN)
		res.Ranking[name] = ranking
		m := make(map[string]float64, len(ranking))
		for _, s := range ranking {
			m[s.Node] = s.Value
		}
		res.Values[name] = m
	}

	var eg errgroup.Group
	for _, name := range algorithms {
		eg.Go(func() error {
			values, err := runAlgorithm(ctx, g, name, opts)
			record(name, values, err)
			return nil
		})
	}
	_ = eg.Wait()

	return res, nil
}

func runAlgorithm(ctx context.Context, g *graph, name string, opts CentralityOptions) ([]float64, error) {
	if g.n() == 0 {
		return nil, fmt.Errorf("%w: graph has no nodes", entity.ErrAlgorithmUndefined)
	}
	switch name {
	case AlgorithmDegree:
		return degreeCentrality(g, g.und, opts.Normalized), nil
	case AlgorithmInDegree:
		if !g.directed {
			return nil, fmt.Errorf("%w: in_degree requires a directed view", entity.ErrAlgorithmUndefined)
		}
		return degreeCentrality(g, g.in, opts.Normalized), nil
	case AlgorithmOutDegree:
		if !g.directed {
			return nil, fmt.Errorf("%w: out_degree requires a directed view", entity.ErrAlgorithmUndefined)
		}
		return degreeCentrality(g, g.out, opts.Normalized), nil
	case AlgorithmBetweenness:
		bctx := ctx
		if opts.BetweennessTimeout > 0 {
			var cancel context.CancelFunc
			bctx, cancel = context.WithTimeout(ctx, opts.BetweennessTimeout)
			defer cancel()
		}
		values, err := betweenness(bctx, g, opts.Normalized)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("betweenness timed out: %w", err)
		}
		return values, err
	case AlgorithmCloseness:
		return closeness(g, opts.Normalized), nil
	case AlgorithmEigenvector:
		return eigenvector(g, opts.Normalized)
	case AlgorithmPageRank:
		return pageRank(g)
	}
	return nil, fmt.Errorf("%w: unknown centrality algorithm %q", entity.ErrInvalidInput, name)
}

// rank orders values desc with ties broken by node id and keeps topN
func rank(ids []string, values []float64, topN int) []NodeScore {
	scores := make([]NodeScore, len(ids))
	for i, id := range ids {
		scores[i] = NodeScore{Node: id, Value: values[i]}
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Value != scores[j].Value {
			return scores[i].Value > scores[j].Value
		}
		return scores[i].Node < scores[j].Node
	})
	if topN > 0 && len(scores) > topN {
		scores = scores[:topN]
	}
	return scores
}

// degreeCentrality counts distinct neighbours; normalised by n-1
func degreeCentrality(g *graph, adj [][]int, normalized bool) []float64 {
	n := g.n()
	values := make([]float64, n)
	for i := range adj {
		values[i] = float64(len(adj[i]))
		if normalized {
			if n > 1 {
				values[i] /= float64(n - 1)
			} else {
				values[i] = 0
			}
		}
	}
	return values
}

// betweenness is Brandes' algorithm on the simple projection. Undirected
// raw values are halved since every pair is visited from both ends; the
// normalised form divides by (n-1)(n-2) pairs, which bounds it by 1.
func betweenness(ctx context.Context, g *graph, normalized bool) ([]float64, error) {
	n := g.n()
	cb := make([]float64, n)

	sigma := make([]float64, n)
	dist := make([]int, n)
	delta := make([]float64, n)
	preds := make([][]int, n)
	stack := make([]int, 0, n)
	queue := make([]int, 0, n)

	for s := 0; s < n; s++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			sigma[i], dist[i], delta[i] = 0, -1, 0
			preds[i] = preds[i][:0]
		}
		sigma[s], dist[s] = 1, 0
		stack = stack[:0]
		queue = append(queue[:0], s)

		for head := 0; head < len(queue); head++ {
			v := queue[head]
			stack = append(stack, v)
			for _, w := range g.out[v] {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					preds[w] = append(preds[w], v)
				}
			}
		}

		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range preds[w] {
				delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
			}
			if w != s {
				cb[w] += delta[w]
			}
		}
	}

	var scale float64 = 1
	switch {
	case normalized && n > 2:
		scale = 1 / (float64(n-1) * float64(n-2))
	case !normalized && !g.directed:
		scale = 0.5
	}
	if scale != 1 {
		for i := range cb {
			cb[i] *= scale
		}
	}
	return cb, nil
}

// closeness uses incoming distances on directed views. Nodes that reach
// only part of the graph are scaled by the share they reach when
// normalised (Wasserman-Faust).
func closeness(g *graph, normalized bool) []float64 {
	n := g.n()
	values := make([]float64, n)
	for u := 0; u < n; u++ {
		dist := bfs(g.in, u, nil)
		reach, total := 0, 0
		for _, d := range dist {
			if d > 0 {
				reach++
				total += d
			}
		}
		if total == 0 || n < 2 {
			continue
		}
		c := float64(reach) / float64(total)
		if normalized {
			c *= float64(reach) / float64(n-1)
		}
		values[u] = c
	}
	return values
}

// eigenvector runs power iteration on A+I, which converges for any
// strongly connected graph. On directed views a node scores from its
// in-neighbours. Normalised values are scaled to max 1, otherwise the
// vector has unit Euclidean length.
func eigenvector(g *graph, normalized bool) ([]float64, error) {
	n := g.n()
	if g.edgeCount == 0 {
		return nil, fmt.Errorf("%w: eigenvector centrality needs at least one edge", entity.ErrAlgorithmUndefined)
	}
	if g.directed {
		if len(stronglyConnected(g)) != 1 {
			return nil, fmt.Errorf("%w: eigenvector centrality needs a strongly connected graph", entity.ErrAlgorithmUndefined)
		}
	} else if len(connected(g)) != 1 {
		return nil, fmt.Errorf("%w: eigenvector centrality needs a connected graph", entity.ErrAlgorithmUndefined)
	}

	x := make([]float64, n)
	for i := range x {
		x[i] = 1 / float64(n)
	}
	next := make([]float64, n)
	for iter := 0; iter < eigenvectorMaxIter; iter++ {
		copy(next, x)
		for v := 0; v < n; v++ {
			for _, u := range g.in[v] {
				next[v] += x[u]
			}
		}
		norm := 0.0
		for _, val := range next {
			norm += val * val
		}
		norm = math.Sqrt(norm)
		if norm == 0 {
			return nil, fmt.Errorf("%w: eigenvector iteration collapsed to zero", entity.ErrAlgorithmUndefined)
		}
		diff := 0.0
		for i := range next {
			next[i] /= norm
			diff += math.Abs(next[i] - x[i])
		}
		x, next = next, x
		if diff < float64(n)*eigenvectorTolerance {
			return scaleEigenvector(x, normalized), nil
		}
	}
	return nil, fmt.Errorf("%w: eigenvector centrality did not converge in %d iterations", entity.ErrAlgorithmUndefined, eigenvectorMaxIter)
}

func scaleEigenvector(x []float64, normalized bool) []float64 {
	if !normalized {
		return x
	}
	maxVal := 0.0
	for _, v := range x {
		maxVal = math.Max(maxVal, v)
	}
	if maxVal > 0 {
		for i := range x {
			x[i] /= maxVal
		}
	}
	return x
}

// pageRank weights each link by the number of parallel transactions it
// carries; dangling mass is spread uniformly. Values sum to 1, so the
// normalised flag has nothing to change.
func pageRank(g *graph) ([]float64, error) {
	if !g.directed {
		return nil, fmt.Errorf("%w: pagerank requires a directed view", entity.ErrAlgorithmUndefined)
	}
	n := g.n()
	outWeight := make([]float64, n)
	for key, w := range g.weight {
		outWeight[key[0]] += w
	}

	x := make([]float64, n)
	for i := range x {
		x[i] = 1 / float64(n)
	}
	next := make([]float64, n)
	base := (1 - pageRankAlpha) / float64(n)

	for iter := 0; iter < pageRankMaxIter; iter++ {
		dangling := 0.0
		for i := 0; i < n; i++ {
			if outWeight[i] == 0 {
				dangling += x[i]
			}
		}
		for v := 0; v < n; v++ {
			sum := 0.0
			for _, u := range g.in[v] {
				sum += x[u] * g.weight[[2]int{u, v}] / outWeight[u]
			}
			next[v] = base + pageRankAlpha*(sum+dangling/float64(n))
		}
		diff := 0.0
		for i := range next {
			diff += math.Abs(next[i] - x[i])
		}
		x, next = next, x
		if diff < float64(n)*pageRankTolerance {
			return x, nil
		}
	}
	return nil, fmt.Errorf("%w: pagerank did not converge in %d iterations", entity.ErrAlgorithmUndefined, pageRankMaxIter)
}

// PercentileRank returns the share of other nodes whose value is strictly
// below node's value, in [0,1]
func PercentileRank(values map[string]float64, node string) (float64, bool) {
	own, ok := values[node]
	if !ok || len(values) < 2 {
		return 0, false
	}
	below := 0
	for id, v := range values {
		if id != node && v < own {
			below++
		}
	}
	return float64(below) / float64(len(values)-1), true
}
