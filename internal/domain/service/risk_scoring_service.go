package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"crypto-risk-intelligence/internal/domain/analytics"
	"crypto-risk-intelligence/internal/domain/entity"
	"crypto-risk-intelligence/internal/domain/repository"
	"crypto-risk-intelligence/internal/infrastructure/logger"
	"crypto-risk-intelligence/internal/pkg/syncutil"
)

// ScoringConfig tunes factor collection
type ScoringConfig struct {
	Lookback           time.Duration
	BurstWindow        time.Duration
	ShiftWindow        time.Duration
	Weights            map[string]float64
	CommunityCap       float64
	CommunityAlgorithm string
	NeighborHops       int
	LinkLimit          int
	BetweennessTimeout time.Duration
}

// DefaultScoringConfig returns the built-in scoring settings
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Lookback:           30 * 24 * time.Hour,
		BurstWindow:        time.Hour,
		ShiftWindow:        24 * time.Hour,
		Weights:            DefaultFactorWeights(),
		CommunityCap:       0.5,
		CommunityAlgorithm: analytics.CommunityLouvain,
		NeighborHops:       2,
		LinkLimit:          1000,
		BetweennessTimeout: 5 * time.Second,
	}
}

// ScoreStatus tells a computed score from an unknown one
type ScoreStatus string

const (
	ScoreStatusScored  ScoreStatus = "scored"
	ScoreStatusUnknown ScoreStatus = "unknown"
)

// ScoreSignals carries raw observations the alert rules need besides the
// weighted factors
type ScoreSignals struct {
	CriticalVulnerabilities int      `json:"critical_vulnerabilities"`
	CentralityShiftRatio    *float64 `json:"centrality_shift_ratio,omitempty"`
}

// ScoreResult is the outcome of one scoring pass. Score is nil and Status
// unknown when no factor could be computed.
type ScoreResult struct {
	EntityID          string              `json:"entity_id"`
	EntityType        entity.EntityType   `json:"entity_type"`
	Score             *float64            `json:"score"`
	Category          entity.RiskCategory `json:"category,omitempty"`
	PreviousScore     *float64            `json:"previous_score"`
	PreviousCategory  entity.RiskCategory `json:"previous_category,omitempty"`
	Factors           []entity.RiskFactor `json:"factors"`
	Omitted           map[string]string   `json:"omitted,omitempty"`
	Status            ScoreStatus         `json:"status"`
	EvaluationVersion int64               `json:"evaluation_version"`
	EvaluatedAt       time.Time           `json:"evaluated_at"`
	Signals           ScoreSignals        `json:"signals"`
	// Entity is the scored entity with the new risk fields applied
	Entity *entity.Entity `json:"-"`
}

// RiskScoringService runs scoring passes: collect factors, aggregate,
// band and persist
type RiskScoringService struct {
	store  repository.EntityStore
	views  *GraphViewBuilder
	config ScoringConfig
	locks  *syncutil.KeyedMutex
	logger *logger.Logger
	now    func() time.Time
}

// NewRiskScoringService creates a scoring service
func NewRiskScoringService(
	store repository.EntityStore,
	views *GraphViewBuilder,
	config ScoringConfig,
	logger *logger.Logger,
) *RiskScoringService {
	return &RiskScoringService{
		store:  store,
		views:  views,
		config: config,
		locks:  syncutil.NewKeyedMutex(),
		logger: logger.WithComponent("risk-scoring"),
		now:    time.Now,
	}
}

// ScoreEntity runs one pass for id. Passes for the same entity are
// serialised and the write is a compare-and-swap on the evaluation
// version, so a stale pass fails with entity.ErrConcurrentModification.
func (s *RiskScoringService) ScoreEntity(ctx context.Context, id string) (*ScoreResult, error) {
	if err := entity.ValidateID(id); err != nil {
		return nil, err
	}
	id = strings.ToLower(id)
	log := s.logger.WithEntity(id)

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire scoring lock: %w", err)
	}
	defer unlock()

	subject, err := s.store.GetEntity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity %s: %w", id, err)
	}

	evaluatedAt := s.now().UTC()
	in, err := s.collectInput(ctx, subject, evaluatedAt)
	if err != nil {
		return nil, err
	}

	factors, omitted := s.collectFactors(ctx, in)
	for name, reason := range omitted {
		log.Debug("Factor omitted", zap.String("factor", name), zap.String("reason", reason))
	}

	result := &ScoreResult{
		EntityID:         id,
		EntityType:       subject.Type,
		PreviousScore:    subject.RiskScore,
		PreviousCategory: subject.RiskCategory,
		Factors:          factors,
		Omitted:          omitted,
		Status:           ScoreStatusUnknown,
		EvaluatedAt:      evaluatedAt,
		Signals:          signals(subject, factors),
	}

	score, err := entity.Aggregate(factors)
	switch {
	case err == nil:
		result.Score = &score
		result.Category = entity.CategoryForScore(score)
		result.Status = ScoreStatusScored
	case errors.Is(err, entity.ErrInsufficientData):
		log.Info("No applicable risk factors, recording unknown score")
	default:
		return nil, fmt.Errorf("failed to aggregate factors: %w", err)
	}

	version, err := s.store.UpsertEntityRisk(ctx, repository.RiskUpdate{
		ID:              id,
		ExpectedVersion: subject.EvaluationVersion,
		Score:           result.Score,
		Category:        result.Category,
		Factors:         factors,
		EvaluatedAt:     evaluatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist risk for %s: %w", id, err)
	}
	result.EvaluationVersion = version

	scored := subject.Clone()
	scored.RiskScore = result.Score
	scored.RiskCategory = result.Category
	scored.RiskFactors = factors
	scored.EvaluationVersion = version
	scored.LastEvaluated = evaluatedAt
	result.Entity = scored

	if result.Score != nil {
		log.Info("Scored entity",
			zap.Float64("score", *result.Score),
			zap.String("category", string(result.Category)),
			zap.Int("factors", len(factors)),
			zap.Int64("version", version))
	}
	return result, nil
}

func (s *RiskScoringService) collectInput(ctx context.Context, subject *entity.Entity, now time.Time) (*factorInput, error) {
	in := &factorInput{
		subject:   subject,
		actor:     subject.ID,
		reference: now,
		seeds:     []string{subject.ID},
		config:    s.config,
	}
	if tx := subject.Transaction; subject.Type == entity.EntityTypeTransaction && tx != nil {
		in.txEdge = tx.Edge()
		in.actor = tx.FromID()
		in.reference = tx.Timestamp
		in.seeds = []string{tx.FromID()}
		if tx.To != "" {
			in.seeds = append(in.seeds, tx.ToID())
		}
	}
	since := in.reference.Add(-s.config.Lookback)

	history, err := s.store.GetEdges(ctx,
		repository.EdgeFilter{Chain: subject.Chain, Seeds: []string{in.actor}, Hops: 1},
		repository.TimeRange{From: since},
		s.config.LinkLimit,
	)
	if err != nil {
		return nil, unavailable("failed to fetch transaction history", err)
	}
	in.history = history

	view, err := s.views.Build(ctx, ViewParams{
		Chain:     subject.Chain,
		EntityIDs: in.seeds,
		Hops:      s.config.NeighborHops,
		From:      since,
		LinkLimit: s.config.LinkLimit,
		Directed:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build neighbourhood view: %w", err)
	}
	in.view = view

	ids := make([]string, 0, len(view.Nodes))
	for _, n := range view.Nodes {
		if n != subject.ID {
			ids = append(ids, n)
		}
	}
	in.neighbors = make(map[string]*entity.Entity, len(ids))
	if len(ids) > 0 {
		found, err := s.store.GetEntities(ctx, repository.EntityFilter{IDs: ids})
		if err != nil {
			return nil, unavailable("failed to load neighbours", err)
		}
		for _, n := range found {
			in.neighbors[n.ID] = n
		}
	}
	return in, nil
}

// collectFactors runs every applicable factor with a positive weight.
// Absent or undefined factors are reported in the omitted map.
func (s *RiskScoringService) collectFactors(ctx context.Context, in *factorInput) ([]entity.RiskFactor, map[string]string) {
	var factors []entity.RiskFactor
	omitted := make(map[string]string)

	for _, name := range applicableFactors[in.subject.Type] {
		weight := s.config.Weights[name]
		if weight <= 0 {
			continue
		}
		f, err := factorFuncs[name](ctx, in)
		if err != nil {
			omitted[name] = err.Error()
			if !errors.Is(err, entity.ErrInsufficientData) && !errors.Is(err, entity.ErrAlgorithmUndefined) {
				s.logger.Warn("Risk factor failed",
					zap.String("entity", in.subject.ID),
					zap.String("factor", name),
					zap.Error(err))
			}
			continue
		}
		f.Weight = weight
		f.NormalizedValue = clamp01(f.NormalizedValue)
		factors = append(factors, f)
	}
	entity.SortFactors(factors)
	if len(omitted) == 0 {
		omitted = nil
	}
	return factors, omitted
}

func signals(subject *entity.Entity, factors []entity.RiskFactor) ScoreSignals {
	var sig ScoreSignals
	if subject.Contract != nil {
		sig.CriticalVulnerabilities = subject.Contract.CountBySeverity()[entity.SeverityCritical]
	}
	if f, ok := entity.FindFactor(factors, FactorCentralityShift); ok {
		ratio := f.RawValue
		sig.CentralityShiftRatio = &ratio
	}
	return sig
}
