package analytics

import (
	"context"
	"fmt"
	"sort"

	"crypto-risk-intelligence/internal/domain/entity"
)

// Community detection algorithm names
const (
	CommunityLouvain          = "louvain"
	CommunityLabelPropagation = "label_propagation"
	CommunityGreedy           = "greedy"
)

const (
	labelPropagationMaxIter = 100
	modularityEpsilon       = 1e-12
)

// CommunityResult is a partition of the view's nodes. Communities are
// sorted by size desc, then by first member; members are sorted.
type CommunityResult struct {
	Algorithm   string     `json:"algorithm"`
	Communities [][]string `json:"communities"`
	// Modularity is nil when the graph has no edges
	Modularity *float64          `json:"modularity"`
	Truncated  bool              `json:"truncated"`
	Omitted    map[string]string `json:"omitted,omitempty"`
}

// CommunityOf returns the members of the community containing node
func (r *CommunityResult) CommunityOf(node string) []string {
	for _, c := range r.Communities {
		for _, m := range c {
			if m == node {
				return c
			}
		}
	}
	return nil
}

// ValidCommunityAlgorithm reports whether name selects a known algorithm
func ValidCommunityAlgorithm(name string) bool {
	switch name {
	case CommunityLouvain, CommunityLabelPropagation, CommunityGreedy:
		return true
	}
	return false
}

// DetectCommunities partitions the undirected, multiplicity-weighted
// projection of the view with the chosen algorithm. Every run with the
// same input and algorithm yields the same partition.
func DetectCommunities(ctx context.Context, v *GraphView, algorithm string) (*CommunityResult, error) {
	if !ValidCommunityAlgorithm(algorithm) {
		return nil, fmt.Errorf("%w: unknown community algorithm %q", entity.ErrInvalidInput, algorithm)
	}

	g := project(v)
	wg := newWeightedGraph(g)

	var membership []int
	var err error
	switch algorithm {
	case CommunityLouvain:
		membership, err = louvain(ctx, wg)
	case CommunityLabelPropagation:
		membership, err = labelPropagation(ctx, wg)
	case CommunityGreedy:
		membership, err = greedyModularity(ctx, wg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to detect communities: %w", err)
	}

	res := &CommunityResult{
		Algorithm:   algorithm,
		Communities: groupMembers(g.ids, membership),
		Truncated:   v.Truncated,
	}
	if q, ok := modularity(wg, membership); ok {
		res.Modularity = &q
	} else {
		res.Omitted = map[string]string{"modularity": "graph has no edges"}
	}
	return res, nil
}

// weightedGraph is an undirected graph with edge weights and per-node
// self-loop weight, the shape Louvain aggregates into
type weightedGraph struct {
	adj    []map[int]float64
	self   []float64
	degree []float64
	total  float64 // sum of all edge weights, self-loops included
}

func newWeightedGraph(g *graph) *weightedGraph {
	n := g.n()
	wg := &weightedGraph{
		adj:    make([]map[int]float64, n),
		self:   make([]float64, n),
		degree: make([]float64, n),
	}
	for i := range wg.adj {
		wg.adj[i] = make(map[int]float64)
	}
	for key, w := range g.uweight {
		a, b := key[0], key[1]
		wg.adj[a][b] += w
		wg.adj[b][a] += w
		wg.degree[a] += w
		wg.degree[b] += w
		wg.total += w
	}
	return wg
}

func (wg *weightedGraph) n() int {
	return len(wg.adj)
}

func (wg *weightedGraph) sortedNeighbors(v int) []int {
	return sortedKeys(wg.adj[v])
}

func sortedKeys(m map[int]float64) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// modularity computes Q = sum_c [ L_c/m - (d_c/2m)^2 ]
func modularity(wg *weightedGraph, membership []int) (float64, bool) {
	m := wg.total
	if m == 0 {
		return 0, false
	}
	internal := make(map[int]float64)
	degree := make(map[int]float64)
	for v := 0; v < wg.n(); v++ {
		c := membership[v]
		degree[c] += wg.degree[v]
		internal[c] += wg.self[v]
		for u, w := range wg.adj[v] {
			if u > v && membership[u] == c {
				internal[c] += w
			}
		}
	}
	q := 0.0
	for _, c := range sortedKeys(degree) {
		d := degree[c]
		q += internal[c]/m - (d/(2*m))*(d/(2*m))
	}
	return q, true
}

// louvain repeats local moving and aggregation until no node changes
// community. Nodes are visited in index order and ties keep the lowest
// community id, so results are reproducible.
func louvain(ctx context.Context, base *weightedGraph) ([]int, error) {
	membership := make([]int, base.n())
	for i := range membership {
		membership[i] = i
	}
	if base.total == 0 {
		return membership, nil
	}

	wg := base
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		local, moved := louvainLocalMoves(wg)
		if !moved {
			break
		}
		local, count := renumber(local)
		for v := range membership {
			membership[v] = local[membership[v]]
		}
		if count == wg.n() {
			break
		}
		wg = aggregate(wg, local, count)
	}
	membership, _ = renumber(membership)
	return membership, nil
}

func louvainLocalMoves(wg *weightedGraph) ([]int, bool) {
	n := wg.n()
	m2 := 2 * wg.total
	comm := make([]int, n)
	tot := make([]float64, n)
	for v := 0; v < n; v++ {
		comm[v] = v
		tot[v] = wg.degree[v]
	}

	movedAny := false
	for {
		moved := false
		for v := 0; v < n; v++ {
			current := comm[v]
			k := wg.degree[v]

			links := make(map[int]float64)
			for _, u := range wg.sortedNeighbors(v) {
				links[comm[u]] += wg.adj[v][u]
			}

			tot[current] -= k
			best := current
			bestGain := links[current] - tot[current]*k/m2

			candidates := make([]int, 0, len(links))
			for c := range links {
				candidates = append(candidates, c)
			}
			sort.Ints(candidates)
			for _, c := range candidates {
				gain := links[c] - tot[c]*k/m2
				if gain > bestGain+modularityEpsilon {
					best, bestGain = c, gain
				}
			}

			tot[best] += k
			if best != current {
				comm[v] = best
				moved = true
				movedAny = true
			}
		}
		if !moved {
			break
		}
	}
	return comm, movedAny
}

// aggregate collapses each community into a single node
func aggregate(wg *weightedGraph, comm []int, count int) *weightedGraph {
	next := &weightedGraph{
		adj:    make([]map[int]float64, count),
		self:   make([]float64, count),
		degree: make([]float64, count),
		total:  wg.total,
	}
	for i := range next.adj {
		next.adj[i] = make(map[int]float64)
	}
	for v := 0; v < wg.n(); v++ {
		cv := comm[v]
		next.degree[cv] += wg.degree[v]
		next.self[cv] += wg.self[v]
		for u, w := range wg.adj[v] {
			if u < v {
				continue
			}
			cu := comm[u]
			if cu == cv {
				next.self[cv] += w
				continue
			}
			next.adj[cv][cu] += w
			next.adj[cu][cv] += w
		}
	}
	return next
}

// renumber maps community ids to 0..k-1 in order of first appearance
func renumber(comm []int) ([]int, int) {
	ids := make(map[int]int)
	out := make([]int, len(comm))
	for v, c := range comm {
		id, ok := ids[c]
		if !ok {
			id = len(ids)
			ids[c] = id
		}
		out[v] = id
	}
	return out, len(ids)
}

// labelPropagation adopts the label carrying the most edge weight among
// neighbours, keeping the current label on ties and otherwise taking the
// smallest tied label
func labelPropagation(ctx context.Context, wg *weightedGraph) ([]int, error) {
	n := wg.n()
	labels := make([]int, n)
	for i := range labels {
		labels[i] = i
	}

	for iter := 0; iter < labelPropagationMaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		changed := false
		for v := 0; v < n; v++ {
			if len(wg.adj[v]) == 0 {
				continue
			}
			weights := make(map[int]float64)
			for u, w := range wg.adj[v] {
				weights[labels[u]] += w
			}
			bestWeight := -1.0
			best := labels[v]
			for label, w := range weights {
				if w > bestWeight || (w == bestWeight && label < best) {
					best, bestWeight = label, w
				}
			}
			if weights[labels[v]] == bestWeight {
				continue
			}
			labels[v] = best
			changed = true
		}
		if !changed {
			break
		}
	}
	labels, _ = renumber(labels)
	return labels, nil
}

// greedyModularity merges the pair of adjacent communities with the
// largest modularity gain until no merge improves modularity
func greedyModularity(ctx context.Context, wg *weightedGraph) ([]int, error) {
	n := wg.n()
	membership := make([]int, n)
	for i := range membership {
		membership[i] = i
	}
	m := wg.total
	if m == 0 {
		return membership, nil
	}

	between := make([]map[int]float64, n)
	degree := make([]float64, n)
	alive := make([]bool, n)
	for v := 0; v < n; v++ {
		between[v] = make(map[int]float64, len(wg.adj[v]))
		for u, w := range wg.adj[v] {
			between[v][u] = w
		}
		degree[v] = wg.degree[v]
		alive[v] = true
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		bestA, bestB, bestGain := -1, -1, 0.0
		for a := 0; a < n; a++ {
			if !alive[a] {
				continue
			}
			for _, b := range sortedKeys(between[a]) {
				if b <= a {
					continue
				}
				gain := between[a][b]/m - degree[a]*degree[b]/(2*m*m)
				if gain > bestGain+modularityEpsilon {
					bestA, bestB, bestGain = a, b, gain
				}
			}
		}
		if bestA < 0 {
			break
		}

		// merge bestB into bestA
		for c, w := range between[bestB] {
			if c == bestA {
				continue
			}
			between[bestA][c] += w
			between[c][bestA] += w
			delete(between[c], bestB)
		}
		delete(between[bestA], bestB)
		between[bestB] = nil
		degree[bestA] += degree[bestB]
		alive[bestB] = false
		for v := range membership {
			if membership[v] == bestB {
				membership[v] = bestA
			}
		}
	}
	membership, _ = renumber(membership)
	return membership, nil
}

func groupMembers(ids []string, membership []int) [][]string {
	groups := make(map[int][]string)
	for v, c := range membership {
		groups[c] = append(groups[c], ids[v])
	}
	out := make([][]string, 0, len(groups))
	for _, members := range groups {
		sort.Strings(members)
		out = append(out, members)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i][0] < out[j][0]
	})
	return out
}
