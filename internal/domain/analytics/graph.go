// Package analytics computes network metrics over an in-memory graph view.
// Every function is read-only over its input and safe to call concurrently.
package analytics

import (
	"sort"
	"time"

	"crypto-risk-intelligence/internal/domain/entity"
)

// GraphView is a request-scoped projection of entities and the transaction
// edges between them. Parallel edges are kept.
type GraphView struct {
	Nodes     []string       `json:"nodes"`
	Edges     []*entity.Edge `json:"edges"`
	Directed  bool           `json:"directed"`
	Truncated bool           `json:"truncated"`
}

// NewGraphView builds a view whose node set is nodes plus every edge
// endpoint, sorted and de-duplicated
func NewGraphView(nodes []string, edges []*entity.Edge, directed, truncated bool) *GraphView {
	seen := make(map[string]struct{}, len(nodes)+2*len(edges))
	for _, n := range nodes {
		seen[n] = struct{}{}
	}
	for _, e := range edges {
		seen[e.From] = struct{}{}
		seen[e.To] = struct{}{}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return &GraphView{
		Nodes:     ids,
		Edges:     edges,
		Directed:  directed,
		Truncated: truncated,
	}
}

// HasNode reports whether id is part of the view
func (v *GraphView) HasNode(id string) bool {
	i := sort.SearchStrings(v.Nodes, id)
	return i < len(v.Nodes) && v.Nodes[i] == id
}

// TimeSpan returns the oldest and newest edge timestamps
func (v *GraphView) TimeSpan() (minTS, maxTS time.Time, ok bool) {
	for i, e := range v.Edges {
		if i == 0 || e.Timestamp.Before(minTS) {
			minTS = e.Timestamp
		}
		if i == 0 || e.Timestamp.After(maxTS) {
			maxTS = e.Timestamp
		}
	}
	return minTS, maxTS, len(v.Edges) > 0
}

// Subgraph keeps the edges accepted by keep; nodes become their endpoints
func (v *GraphView) Subgraph(keep func(*entity.Edge) bool) *GraphView {
	var edges []*entity.Edge
	for _, e := range v.Edges {
		if keep(e) {
			edges = append(edges, e)
		}
	}
	return NewGraphView(nil, edges, v.Directed, v.Truncated)
}

// graph is the indexed projection the algorithms run on. Node indices
// follow the sorted node ids, which keeps every traversal deterministic.
//
// out/in hold the simple projection: parallel edges collapse to one and
// self-loops are dropped. For undirected views out, in and und are the
// same lists. weight holds parallel-edge multiplicities for the directed
// projection, uweight for the undirected one.
type graph struct {
	ids      []string
	index    map[string]int
	directed bool

	out [][]int
	in  [][]int
	und [][]int

	weight  map[[2]int]float64
	uweight map[[2]int]float64

	edgeCount int
	txCount   int
}

func project(v *GraphView) *graph {
	n := len(v.Nodes)
	g := &graph{
		ids:      v.Nodes,
		index:    make(map[string]int, n),
		directed: v.Directed,
		out:      make([][]int, n),
		in:       make([][]int, n),
		und:      make([][]int, n),
		weight:   make(map[[2]int]float64),
		uweight:  make(map[[2]int]float64),
		txCount:  len(v.Edges),
	}
	for i, id := range v.Nodes {
		g.index[id] = i
	}

	for _, e := range v.Edges {
		if e.IsSelfLoop() {
			continue
		}
		from, okFrom := g.index[e.From]
		to, okTo := g.index[e.To]
		if !okFrom || !okTo {
			continue
		}
		g.weight[[2]int{from, to}]++
		g.uweight[undirectedKey(from, to)]++
	}

	for key := range g.uweight {
		a, b := key[0], key[1]
		g.und[a] = append(g.und[a], b)
		g.und[b] = append(g.und[b], a)
	}
	for i := range g.und {
		sort.Ints(g.und[i])
	}

	if !g.directed {
		g.out, g.in = g.und, g.und
		g.edgeCount = len(g.uweight)
		return g
	}

	for key := range g.weight {
		g.out[key[0]] = append(g.out[key[0]], key[1])
		g.in[key[1]] = append(g.in[key[1]], key[0])
	}
	for i := 0; i < n; i++ {
		sort.Ints(g.out[i])
		sort.Ints(g.in[i])
	}
	g.edgeCount = len(g.weight)
	return g
}

func (g *graph) n() int {
	return len(g.ids)
}

// undirectedWeight returns the multiplicity between a and b ignoring direction
func (g *graph) undirectedWeight(a, b int) float64 {
	return g.uweight[undirectedKey(a, b)]
}

func undirectedKey(a, b int) [2]int {
	if a > b {
		a, b = b, a
	}
	return [2]int{a, b}
}

// bfs returns hop distances from src over adj, -1 for unreachable nodes.
// When allowed is non-nil the search stays inside it.
func bfs(adj [][]int, src int, allowed []bool) []int {
	dist := make([]int, len(adj))
	for i := range dist {
		dist[i] = -1
	}
	dist[src] = 0
	queue := []int{src}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, w := range adj[v] {
			if dist[w] >= 0 || (allowed != nil && !allowed[w]) {
				continue
			}
			dist[w] = dist[v] + 1
			queue = append(queue, w)
		}
	}
	return dist
}

// stronglyConnected returns the strongly connected components using an
// iterative Kosaraju pass. Members are sorted.
func stronglyConnected(g *graph) [][]int {
	n := g.n()
	visited := make([]bool, n)
	order := make([]int, 0, n)

	type frame struct{ node, next int }
	for s := 0; s < n; s++ {
		if visited[s] {
			continue
		}
		visited[s] = true
		stack := []frame{{node: s}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next < len(g.out[top.node]) {
				w := g.out[top.node][top.next]
				top.next++
				if !visited[w] {
					visited[w] = true
					stack = append(stack, frame{node: w})
				}
				continue
			}
			order = append(order, top.node)
			stack = stack[:len(stack)-1]
		}
	}

	comp := make([]int, n)
	for i := range comp {
		comp[i] = -1
	}
	var comps [][]int
	for i := n - 1; i >= 0; i-- {
		root := order[i]
		if comp[root] >= 0 {
			continue
		}
		id := len(comps)
		comp[root] = id
		members := []int{root}
		for q := 0; q < len(members); q++ {
			for _, u := range g.in[members[q]] {
				if comp[u] < 0 {
					comp[u] = id
					members = append(members, u)
				}
			}
		}
		sort.Ints(members)
		comps = append(comps, members)
	}
	return comps
}

// connected returns the components of the undirected projection
func connected(g *graph) [][]int {
	n := g.n()
	seen := make([]bool, n)
	var comps [][]int
	for s := 0; s < n; s++ {
		if seen[s] {
			continue
		}
		seen[s] = true
		members := []int{s}
		for q := 0; q < len(members); q++ {
			for _, w := range g.und[members[q]] {
				if !seen[w] {
					seen[w] = true
					members = append(members, w)
				}
			}
		}
		sort.Ints(members)
		comps = append(comps, members)
	}
	return comps
}

// largest picks the biggest component; ties go to the one holding the
// smallest node index
func largest(comps [][]int) []int {
	var best []int
	for _, c := range comps {
		if len(c) > len(best) || (len(c) == len(best) && len(c) > 0 && c[0] < best[0]) {
			best = c
		}
	}
	return best
}

// HopDistances returns the undirected hop distance from the nearest seed for
// every node within maxHops. Seeds missing from the view are ignored.
func HopDistances(v *GraphView, seeds []string, maxHops int) map[string]int {
	g := project(v)
	dist := make([]int, g.n())
	for i := range dist {
		dist[i] = -1
	}
	var queue []int
	for _, s := range seeds {
		if i, ok := g.index[s]; ok && dist[i] < 0 {
			dist[i] = 0
			queue = append(queue, i)
		}
	}
	for head := 0; head < len(queue); head++ {
		u := queue[head]
		if dist[u] >= maxHops {
			continue
		}
		for _, w := range g.und[u] {
			if dist[w] < 0 {
				dist[w] = dist[u] + 1
				queue = append(queue, w)
			}
		}
	}

	out := make(map[string]int)
	for i, d := range dist {
		if d >= 0 {
			out[g.ids[i]] = d
		}
	}
	return out
}
