package analytics

// GraphMetrics summarises the shape of a view. Pointer fields are nil when
// the value is undefined for the graph or does not apply to its
// orientation; Omitted then explains why.
type GraphMetrics struct {
	NodeCount        int     `json:"node_count"`
	EdgeCount        int     `json:"edge_count"`
	TransactionCount int     `json:"transaction_count"`
	Directed         bool    `json:"directed"`
	Density          float64 `json:"density"`
	AverageDegree    float64 `json:"average_degree"`

	StronglyConnectedComponents *int  `json:"strongly_connected_components,omitempty"`
	WeaklyConnectedComponents   *int  `json:"weakly_connected_components,omitempty"`
	IsStronglyConnected         *bool `json:"is_strongly_connected,omitempty"`
	IsWeaklyConnected           *bool `json:"is_weakly_connected,omitempty"`
	ConnectedComponents         *int  `json:"connected_components,omitempty"`
	IsConnected                 *bool `json:"is_connected,omitempty"`

	AverageClustering        float64 `json:"average_clustering"`
	// LargestComponentSize counts the component the path metrics run on:
	// strongly connected for directed views, connected otherwise
	LargestComponentSize     int     `json:"largest_component_size"`
	LargestComponentFraction float64 `json:"largest_component_fraction"`

	Diameter                  *int     `json:"diameter"`
	AverageShortestPathLength *float64 `json:"average_shortest_path_length"`

	Truncated bool              `json:"truncated"`
	Omitted   map[string]string `json:"omitted,omitempty"`
}

func (m *GraphMetrics) omit(metric, reason string) {
	if m.Omitted == nil {
		m.Omitted = make(map[string]string)
	}
	m.Omitted[metric] = reason
}

// BasicMetrics computes counts, density, connectivity, clustering and the
// path metrics of the largest component. Edge counts and density use the
// simple projection, so density always lies in [0,1]; TransactionCount
// keeps the raw number of parallel edges.
func BasicMetrics(v *GraphView) *GraphMetrics {
	return basicMetrics(project(v), v.Truncated)
}

func basicMetrics(g *graph, truncated bool) *GraphMetrics {
	n := g.n()
	m := &GraphMetrics{
		NodeCount:        n,
		EdgeCount:        g.edgeCount,
		TransactionCount: g.txCount,
		Directed:         g.directed,
		Truncated:        truncated,
	}

	if n > 1 {
		pairs := float64(n) * float64(n-1)
		if g.directed {
			m.Density = float64(g.edgeCount) / pairs
		} else {
			m.Density = 2 * float64(g.edgeCount) / pairs
		}
	}
	if n > 0 {
		m.AverageDegree = 2 * float64(g.edgeCount) / float64(n)
	}

	weak := connected(g)
	var pathComponent []int
	if g.directed {
		strong := stronglyConnected(g)
		sc, wc := len(strong), len(weak)
		isStrong, isWeak := n > 0 && sc == 1, n > 0 && wc == 1
		m.StronglyConnectedComponents = &sc
		m.WeaklyConnectedComponents = &wc
		m.IsStronglyConnected = &isStrong
		m.IsWeaklyConnected = &isWeak
		pathComponent = largest(strong)
	} else {
		cc := len(weak)
		isConn := n > 0 && cc == 1
		m.ConnectedComponents = &cc
		m.IsConnected = &isConn
		pathComponent = largest(weak)
	}
	m.LargestComponentSize = len(pathComponent)
	if n > 0 {
		m.LargestComponentFraction = float64(m.LargestComponentSize) / float64(n)
	}

	m.AverageClustering = averageClustering(g)

	switch {
	case g.edgeCount == 0:
		m.omit("diameter", "graph has no edges")
		m.omit("average_shortest_path_length", "graph has no edges")
	case len(pathComponent) < 2:
		m.omit("diameter", "largest connected component has a single node")
		m.omit("average_shortest_path_length", "largest connected component has a single node")
	default:
		diameter, aspl := pathMetrics(g, pathComponent)
		m.Diameter = &diameter
		m.AverageShortestPathLength = &aspl
	}
	return m
}

// averageClustering averages the local clustering coefficient over all
// nodes of the undirected projection; nodes with fewer than two
// neighbours contribute 0
func averageClustering(g *graph) float64 {
	n := g.n()
	if n == 0 {
		return 0
	}
	neighbors := make([]map[int]bool, n)
	for i := range g.und {
		neighbors[i] = make(map[int]bool, len(g.und[i]))
		for _, w := range g.und[i] {
			neighbors[i][w] = true
		}
	}

	var total float64
	for v := 0; v < n; v++ {
		adj := g.und[v]
		k := len(adj)
		if k < 2 {
			continue
		}
		links := 0
		for i := 0; i < k; i++ {
			for j := i + 1; j < k; j++ {
				if neighbors[adj[i]][adj[j]] {
					links++
				}
			}
		}
		total += 2 * float64(links) / float64(k*(k-1))
	}
	return total / float64(n)
}

// pathMetrics returns the diameter and average shortest path length of a
// component in which every node reaches every other
func pathMetrics(g *graph, component []int) (int, float64) {
	allowed := make([]bool, g.n())
	for _, v := range component {
		allowed[v] = true
	}

	diameter, sum, pairs := 0, 0, 0
	for _, src := range component {
		dist := bfs(g.out, src, allowed)
		for _, dst := range component {
			if dst == src || dist[dst] < 0 {
				continue
			}
			sum += dist[dst]
			pairs++
			if dist[dst] > diameter {
				diameter = dist[dst]
			}
		}
	}
	if pairs == 0 {
		return 0, 0
	}
	return diameter, float64(sum) / float64(pairs)
}
