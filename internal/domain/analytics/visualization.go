package analytics

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"crypto-risk-intelligence/internal/domain/entity"
)

// VisualizationOptions picks the layout and the optional node annotations
type VisualizationOptions struct {
	Layout LayoutOptions
	// CommunityAlgorithm annotates nodes with their community index when set
	CommunityAlgorithm string
	// IncludeMetrics annotates nodes with every applicable normalized
	// centrality value
	IncludeMetrics     bool
	BetweennessTimeout time.Duration
}

// VisualNode is a node with its drawing position and annotations.
// Community indexes CommunityResult.Communities.
type VisualNode struct {
	ID        string             `json:"id"`
	X         float64            `json:"x"`
	Y         float64            `json:"y"`
	Community *int               `json:"community,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// Visualization bundles everything a client needs to draw the view
type Visualization struct {
	Layout       string           `json:"layout"`
	Nodes        []VisualNode     `json:"nodes"`
	Links        []*entity.Edge   `json:"links"`
	GraphMetrics *GraphMetrics    `json:"graph_metrics"`
	Communities  *CommunityResult `json:"communities,omitempty"`
	Truncated    bool             `json:"truncated"`
	// Omitted lists centrality algorithms that produced no node metrics
	Omitted map[string]string `json:"omitted,omitempty"`
}

// Visualize lays out the view and runs the requested annotations
// concurrently. Nodes follow the view's sorted order.
func Visualize(ctx context.Context, v *GraphView, opts VisualizationOptions) (*Visualization, error) {
	if err := opts.Layout.Validate(); err != nil {
		return nil, err
	}
	if opts.CommunityAlgorithm != "" && !ValidCommunityAlgorithm(opts.CommunityAlgorithm) {
		return nil, fmt.Errorf("%w: unknown community algorithm %q", entity.ErrInvalidInput, opts.CommunityAlgorithm)
	}

	var (
		layout      *LayoutResult
		communities *CommunityResult
		centrality  *CentralityResult
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		layout, err = Layout(egCtx, v, opts.Layout)
		return err
	})
	if opts.CommunityAlgorithm != "" {
		eg.Go(func() error {
			var err error
			communities, err = DetectCommunities(egCtx, v, opts.CommunityAlgorithm)
			return err
		})
	}
	if opts.IncludeMetrics {
		eg.Go(func() error {
			var err error
			centrality, err = Centrality(egCtx, v, CentralityOptions{
				Normalized:         true,
				BetweennessTimeout: opts.BetweennessTimeout,
			})
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	out := &Visualization{
		Layout:       layout.Algorithm,
		Nodes:        make([]VisualNode, 0, len(v.Nodes)),
		Links:        v.Edges,
		GraphMetrics: BasicMetrics(v),
		Communities:  communities,
		Truncated:    v.Truncated,
	}
	if out.Links == nil {
		out.Links = []*entity.Edge{}
	}

	var communityOf map[string]int
	if communities != nil {
		communityOf = make(map[string]int, len(v.Nodes))
		for i, members := range communities.Communities {
			for _, m := range members {
				communityOf[m] = i
			}
		}
	}
	if centrality != nil {
		out.Omitted = centrality.Omitted
	}

	for _, id := range v.Nodes {
		p := layout.Positions[id]
		node := VisualNode{ID: id, X: p.X, Y: p.Y}
		if c, ok := communityOf[id]; ok {
			node.Community = &c
		}
		if centrality != nil {
			node.Metrics = make(map[string]float64, len(centrality.Values))
			for alg, values := range centrality.Values {
				if val, ok := values[id]; ok {
					node.Metrics[alg] = val
				}
			}
		}
		out.Nodes = append(out.Nodes, node)
	}
	return out, nil
}
