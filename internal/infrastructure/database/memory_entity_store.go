package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"crypto-risk-intelligence/internal/domain/entity"
	"crypto-risk-intelligence/internal/domain/repository"
)

// MemoryEntityStore is an in-memory EntityStore for development and tests.
// Every read and write copies, so callers never share state with it.
type MemoryEntityStore struct {
	mu       sync.RWMutex
	entities map[string]*entity.Entity
	edges    map[string]entity.Edge // by transaction entity id
	adjacent map[string][]string    // node id → edge keys
	alerts   map[string]*entity.Alert
}

// NewMemoryEntityStore creates an empty store
func NewMemoryEntityStore() *MemoryEntityStore {
	return &MemoryEntityStore{
		entities: make(map[string]*entity.Entity),
		edges:    make(map[string]entity.Edge),
		adjacent: make(map[string][]string),
		alerts:   make(map[string]*entity.Alert),
	}
}

// PutEntity stores e as given, risk fields included. Fixture loading only.
func (s *MemoryEntityStore) PutEntity(e *entity.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.ID] = e.Clone()
}

func (s *MemoryEntityStore) GetEntity(_ context.Context, id string) (*entity.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[strings.ToLower(id)]
	if !ok {
		return nil, fmt.Errorf("%w: entity %s", entity.ErrNotFound, id)
	}
	return e.Clone(), nil
}

func (s *MemoryEntityStore) GetEntities(_ context.Context, filter repository.EntityFilter) ([]*entity.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []*entity.Entity
	if len(filter.IDs) > 0 {
		for _, id := range filter.IDs {
			if e, ok := s.entities[strings.ToLower(id)]; ok {
				candidates = append(candidates, e)
			}
		}
	} else {
		for _, e := range s.entities {
			candidates = append(candidates, e)
		}
	}

	var out []*entity.Entity
	for _, e := range candidates {
		if matchesEntity(e, filter) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matchesEntity(e *entity.Entity, filter repository.EntityFilter) bool {
	if filter.Chain != "" && e.Chain != strings.ToLower(filter.Chain) {
		return false
	}
	if len(filter.Types) > 0 && !contains(filter.Types, e.Type) {
		return false
	}
	if len(filter.Categories) > 0 && !contains(filter.Categories, e.RiskCategory) {
		return false
	}
	return true
}

func contains[T comparable](values []T, v T) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func (s *MemoryEntityStore) GetEdges(ctx context.Context, filter repository.EdgeFilter, timeRange repository.TimeRange, limit int) ([]*entity.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accept := func(e entity.Edge) bool {
		if filter.Chain != "" && !strings.HasPrefix(e.From, strings.ToLower(filter.Chain)+":") {
			return false
		}
		return timeRange.Contains(e.Timestamp)
	}

	selected := make(map[string]bool)
	if len(filter.Seeds) == 0 {
		for key, e := range s.edges {
			if accept(e) {
				selected[key] = true
			}
		}
	} else {
		visited := make(map[string]bool, len(filter.Seeds))
		frontier := make([]string, 0, len(filter.Seeds))
		for _, seed := range filter.Seeds {
			seed = strings.ToLower(seed)
			if !visited[seed] {
				visited[seed] = true
				frontier = append(frontier, seed)
			}
		}
		hops := filter.Hops
		if hops <= 0 {
			hops = 1
		}
		for depth := 0; depth < hops && len(frontier) > 0; depth++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			var next []string
			for _, node := range frontier {
				for _, key := range s.adjacent[node] {
					e := s.edges[key]
					if !accept(e) {
						continue
					}
					selected[key] = true
					if other := e.Other(node); !visited[other] {
						visited[other] = true
						next = append(next, other)
					}
				}
			}
			frontier = next
		}
	}

	out := make([]*entity.Edge, 0, len(selected))
	for key := range selected {
		e := s.edges[key]
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].TxHash < out[j].TxHash
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryEntityStore) UpsertEntityRisk(_ context.Context, update repository.RiskUpdate) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[update.ID]
	if !ok {
		return 0, fmt.Errorf("%w: entity %s", entity.ErrNotFound, update.ID)
	}
	if e.EvaluationVersion != update.ExpectedVersion {
		return 0, fmt.Errorf("%w: entity %s is at version %d, pass started at %d",
			entity.ErrConcurrentModification, update.ID, e.EvaluationVersion, update.ExpectedVersion)
	}

	e.RiskScore = nil
	if update.Score != nil {
		score := *update.Score
		e.RiskScore = &score
	}
	e.RiskCategory = update.Category
	e.RiskFactors = append([]entity.RiskFactor(nil), update.Factors...)
	e.LastEvaluated = update.EvaluatedAt
	e.EvaluationVersion++
	return e.EvaluationVersion, nil
}

func (s *MemoryEntityStore) UpsertEntities(_ context.Context, entities []*entity.Entity) error {
	for _, e := range entities {
		if err := e.Validate(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entities {
		s.mergeEntity(e)
	}
	return nil
}

// mergeEntity replaces descriptive fields, widens the activity range and
// keeps the risk state. Callers hold the write lock.
func (s *MemoryEntityStore) mergeEntity(e *entity.Entity) {
	existing, ok := s.entities[e.ID]
	if !ok {
		fresh := e.Clone()
		fresh.RiskScore, fresh.RiskCategory, fresh.RiskFactors = nil, "", nil
		fresh.EvaluationVersion = 0
		s.entities[e.ID] = fresh
		return
	}

	merged := e.Clone()
	merged.RiskScore = existing.RiskScore
	merged.RiskCategory = existing.RiskCategory
	merged.RiskFactors = existing.RiskFactors
	merged.EvaluationVersion = existing.EvaluationVersion
	merged.LastEvaluated = existing.LastEvaluated
	if !existing.FirstSeen.IsZero() && (merged.FirstSeen.IsZero() || existing.FirstSeen.Before(merged.FirstSeen)) {
		merged.FirstSeen = existing.FirstSeen
	}
	if existing.LastActive.After(merged.LastActive) {
		merged.LastActive = existing.LastActive
	}
	if len(merged.Tags) == 0 {
		merged.Tags = existing.Tags
	}
	// an endpoint seen first as a plain wallet keeps richer details
	if merged.Type == entity.EntityTypeWallet && existing.Type != entity.EntityTypeWallet {
		merged.Type = existing.Type
		merged.Wallet, merged.Contract = existing.Wallet, existing.Contract
	}
	s.entities[e.ID] = merged
}

func (s *MemoryEntityStore) UpsertTransactions(_ context.Context, transactions []*entity.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range transactions {
		key := tx.ID()
		if _, seen := s.edges[key]; seen {
			continue
		}
		for _, e := range tx.Entities() {
			if existing, ok := s.entities[e.ID]; ok && e.Type == entity.EntityTypeWallet {
				if e.FirstSeen.Before(existing.FirstSeen) {
					existing.FirstSeen = e.FirstSeen
				}
				if e.LastActive.After(existing.LastActive) {
					existing.LastActive = e.LastActive
				}
				continue
			}
			s.mergeEntity(e)
		}
		if tx.To == "" {
			continue
		}
		edge := tx.Edge()
		s.edges[key] = *edge
		s.adjacent[edge.From] = append(s.adjacent[edge.From], key)
		if !edge.IsSelfLoop() {
			s.adjacent[edge.To] = append(s.adjacent[edge.To], key)
		}
	}
	return nil
}

func (s *MemoryEntityStore) AppendAlert(_ context.Context, alert *entity.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.alerts[alert.ID]; exists {
		return fmt.Errorf("%w: alert %s already exists", entity.ErrInvalidInput, alert.ID)
	}
	s.alerts[alert.ID] = alert.Clone()
	return nil
}

func (s *MemoryEntityStore) FindOpenAlert(_ context.Context, entityID string, alertType entity.AlertType) (*entity.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *entity.Alert
	for _, a := range s.alerts {
		if a.Entity != entityID || a.Type != alertType || a.Status != entity.AlertStatusNew {
			continue
		}
		if found == nil || a.Timestamp.After(found.Timestamp) {
			found = a
		}
	}
	return found.Clone(), nil
}

func (s *MemoryEntityStore) UpdateAlert(_ context.Context, id string, update repository.AlertUpdate) (*entity.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil, fmt.Errorf("%w: alert %s", entity.ErrNotFound, id)
	}
	if update.ExpectStatus != nil && a.Status != *update.ExpectStatus {
		return nil, fmt.Errorf("%w: alert %s is %s, expected %s",
			entity.ErrConcurrentModification, id, a.Status, *update.ExpectStatus)
	}
	if update.Status != nil && *update.Status != a.Status && !a.Status.CanTransitionTo(*update.Status) {
		return nil, fmt.Errorf("%w: alert %s cannot move from %s to %s",
			entity.ErrInvalidTransition, id, a.Status, *update.Status)
	}

	if update.Severity != nil {
		a.Severity = *update.Severity
	}
	if update.Description != nil {
		a.Description = *update.Description
	}
	if update.Context != nil {
		a.Context = make(map[string]any, len(update.Context))
		for k, v := range update.Context {
			a.Context[k] = v
		}
	}
	if update.Status != nil {
		a.Status = *update.Status
	}
	if update.Occurrences != nil {
		a.Occurrences = *update.Occurrences
	}
	if !update.UpdatedAt.IsZero() {
		a.UpdatedAt = update.UpdatedAt
	}
	return a.Clone(), nil
}

func (s *MemoryEntityStore) GetAlert(_ context.Context, id string) (*entity.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil, fmt.Errorf("%w: alert %s", entity.ErrNotFound, id)
	}
	return a.Clone(), nil
}

func (s *MemoryEntityStore) ListAlerts(_ context.Context, filter repository.AlertFilter) ([]*entity.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entity.Alert
	for _, a := range s.alerts {
		if filter.Entity != "" && a.Entity != strings.ToLower(filter.Entity) {
			continue
		}
		if filter.Type != "" && a.Type != filter.Type {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryEntityStore) Ping(context.Context) error {
	return nil
}

var _ repository.EntityStore = (*MemoryEntityStore)(nil)
