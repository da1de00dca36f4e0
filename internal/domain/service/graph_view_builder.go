package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"crypto-risk-intelligence/internal/domain/analytics"
	"crypto-risk-intelligence/internal/domain/entity"
	"crypto-risk-intelligence/internal/domain/repository"
	"crypto-risk-intelligence/internal/infrastructure/logger"
)

// MaxViewHops bounds neighbourhood expansion around seed entities
const MaxViewHops = 3

// ViewParams describes the graph view of one analysis request
type ViewParams struct {
	Chain     string
	EntityIDs []string
	// Hops expands around EntityIDs; 0 defaults to 1 when seeds are given
	Hops      int
	From      time.Time
	To        time.Time
	LinkLimit int
	Directed  bool
}

// Validate checks the parameters before any store access
func (p ViewParams) Validate() error {
	if p.Hops < 0 || p.Hops > MaxViewHops {
		return fmt.Errorf("%w: hops must be between 0 and %d", entity.ErrInvalidInput, MaxViewHops)
	}
	if p.LinkLimit < 0 {
		return fmt.Errorf("%w: link limit must not be negative", entity.ErrInvalidInput)
	}
	if !p.From.IsZero() && !p.To.IsZero() && p.From.After(p.To) {
		return fmt.Errorf("%w: time range starts after it ends", entity.ErrInvalidInput)
	}
	for _, id := range p.EntityIDs {
		if err := entity.ValidateID(id); err != nil {
			return err
		}
	}
	return nil
}

// GraphViewBuilder turns store contents into bounded graph views
type GraphViewBuilder struct {
	store            repository.EntityStore
	defaultLinkLimit int
	logger           *logger.Logger
}

// NewGraphViewBuilder creates a builder; views without an explicit link
// limit get defaultLinkLimit
func NewGraphViewBuilder(store repository.EntityStore, defaultLinkLimit int, logger *logger.Logger) *GraphViewBuilder {
	return &GraphViewBuilder{
		store:            store,
		defaultLinkLimit: defaultLinkLimit,
		logger:           logger.WithComponent("graph-view-builder"),
	}
}

// Build fetches the newest LinkLimit edges matching params and reports
// truncation when more were available. Store failures are returned as
// entity.ErrDataUnavailable.
func (b *GraphViewBuilder) Build(ctx context.Context, params ViewParams) (*analytics.GraphView, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	limit := params.LinkLimit
	if limit == 0 {
		limit = b.defaultLinkLimit
	}
	hops := params.Hops
	if len(params.EntityIDs) > 0 && hops == 0 {
		hops = 1
	}
	seeds := normalizeIDs(params.EntityIDs)

	edges, err := b.store.GetEdges(ctx,
		repository.EdgeFilter{Chain: params.Chain, Seeds: seeds, Hops: hops},
		repository.TimeRange{From: params.From, To: params.To},
		limit+1,
	)
	if err != nil {
		return nil, unavailable("failed to fetch edges", err)
	}

	sortNewestFirst(edges)
	truncated := len(edges) > limit
	if truncated {
		edges = edges[:limit]
	}

	var nodes []string
	if len(seeds) > 0 {
		found, err := b.store.GetEntities(ctx, repository.EntityFilter{IDs: seeds})
		if err != nil {
			return nil, unavailable("failed to fetch seed entities", err)
		}
		for _, e := range found {
			nodes = append(nodes, e.ID)
		}
	}

	view := analytics.NewGraphView(nodes, edges, params.Directed, truncated)
	b.logger.Debug("Built graph view",
		zap.Int("nodes", len(view.Nodes)),
		zap.Int("edges", len(view.Edges)),
		zap.Bool("truncated", truncated))
	return view, nil
}

// sortNewestFirst orders edges by timestamp desc, ties by tx hash
func sortNewestFirst(edges []*entity.Edge) {
	sort.SliceStable(edges, func(i, j int) bool {
		if !edges[i].Timestamp.Equal(edges[j].Timestamp) {
			return edges[i].Timestamp.After(edges[j].Timestamp)
		}
		return edges[i].TxHash < edges[j].TxHash
	})
}

func normalizeIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// unavailable wraps a store failure so callers see entity.ErrDataUnavailable
// while keeping the cause inspectable
func unavailable(msg string, err error) error {
	if errors.Is(err, entity.ErrDataUnavailable) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%s: %w: %w", msg, entity.ErrDataUnavailable, err)
}
