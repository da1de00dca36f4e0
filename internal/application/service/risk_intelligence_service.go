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
	"crypto-risk-intelligence/internal/domain/service"
	"crypto-risk-intelligence/internal/infrastructure/logger"
	"crypto-risk-intelligence/internal/infrastructure/metrics"
	"crypto-risk-intelligence/internal/pkg/retry"
)

// AnalyticsConfig bounds the analytics operations
type AnalyticsConfig struct {
	BetweennessTimeout time.Duration
	TemporalTimeout    time.Duration
	DefaultWindow      time.Duration
	MaxWindows         int
	CommunityAlgorithm string
	TopN               int
	// ScoreAttempts is how many times ScoreAndAlert runs a pass that lost
	// the version race
	ScoreAttempts int
	ScoreBackoff  time.Duration
}

// DefaultAnalyticsConfig returns the built-in analytics bounds
func DefaultAnalyticsConfig() AnalyticsConfig {
	return AnalyticsConfig{
		BetweennessTimeout: 10 * time.Second,
		TemporalTimeout:    30 * time.Second,
		DefaultWindow:      24 * time.Hour,
		MaxWindows:         30,
		CommunityAlgorithm: analytics.CommunityLouvain,
		TopN:               20,
		ScoreAttempts:      2,
		ScoreBackoff:       20 * time.Millisecond,
	}
}

// CentralityRequest selects the algorithms to run over a view
type CentralityRequest struct {
	View       service.ViewParams
	Algorithms []string
	TopN       *int
	Normalized bool
}

// TemporalRequest sizes the window series over a view
type TemporalRequest struct {
	View       service.ViewParams
	WindowSize time.Duration
	MaxWindows int
}

// LayoutRequest positions the nodes of a view
type LayoutRequest struct {
	View   service.ViewParams
	Layout analytics.LayoutOptions
}

// VisualizationRequest asks for a laid out view with optional annotations.
// CommunityAlgorithm is only used when IncludeCommunities is set; empty
// picks the configured default.
type VisualizationRequest struct {
	View               service.ViewParams
	Layout             analytics.LayoutOptions
	IncludeCommunities bool
	CommunityAlgorithm string
	IncludeMetrics     bool
}

// MetricsResponse is returned by ComputeMetrics
type MetricsResponse struct {
	Message string                  `json:"message"`
	Metrics *analytics.GraphMetrics `json:"metrics"`
}

// CentralityResponse is returned by ComputeCentrality
type CentralityResponse struct {
	Message    string                      `json:"message"`
	Centrality *analytics.CentralityResult `json:"centrality"`
}

// CommunitiesResponse is returned by DetectCommunities
type CommunitiesResponse struct {
	Message     string                     `json:"message"`
	Communities *analytics.CommunityResult `json:"communities"`
}

// TemporalResponse is returned by ComputeTemporal
type TemporalResponse struct {
	Message  string                    `json:"message"`
	Temporal *analytics.TemporalResult `json:"temporal"`
}

// LayoutResponse is returned by ComputeLayout
type LayoutResponse struct {
	Message string                  `json:"message"`
	Layout  *analytics.LayoutResult `json:"layout"`
}

// VisualizationResponse is returned by Visualize
type VisualizationResponse struct {
	Message       string                   `json:"message"`
	Visualization *analytics.Visualization `json:"visualization"`
}

// ScoreResponse is returned by ScoreEntity
type ScoreResponse struct {
	Message string               `json:"message"`
	Result  *service.ScoreResult `json:"result"`
}

// ScoreAndAlertResponse is returned by ScoreAndAlert. Result is set even
// when raising alerts partly failed.
type ScoreAndAlertResponse struct {
	Message      string                `json:"message"`
	Result       *service.ScoreResult  `json:"result"`
	AlertsRaised []service.RaisedAlert `json:"alerts_raised"`
	AlertErrors  []string              `json:"alert_errors,omitempty"`
}

// AlertResponse carries one alert after a lifecycle change
type AlertResponse struct {
	Message string        `json:"message"`
	Alert   *entity.Alert `json:"alert"`
}

// AlertsResponse carries a page of alerts
type AlertsResponse struct {
	Message string          `json:"message"`
	Alerts  []*entity.Alert `json:"alerts"`
}

// RiskIntelligenceService is the entry point of the API layer. Every
// response carries a human-readable message next to the best-effort
// payload; only malformed input and store failures abort a request.
type RiskIntelligenceService struct {
	views   *service.GraphViewBuilder
	scoring *service.RiskScoringService
	alerts  *service.AlertManager
	config  AnalyticsConfig
	logger  *logger.Logger
}

// NewRiskIntelligenceService creates the application service
func NewRiskIntelligenceService(
	views *service.GraphViewBuilder,
	scoring *service.RiskScoringService,
	alerts *service.AlertManager,
	config AnalyticsConfig,
	logger *logger.Logger,
) *RiskIntelligenceService {
	return &RiskIntelligenceService{
		views:   views,
		scoring: scoring,
		alerts:  alerts,
		config:  config,
		logger:  logger.WithComponent("risk-intelligence"),
	}
}

// observe records the duration of one analytics operation
func observe(operation string, start time.Time) {
	metrics.AnalyticsDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// summarize builds the response message from the partial-result flags
func summarize(what string, empty, truncated, stopped bool, omitted map[string]string) string {
	var notes []string
	if empty {
		notes = append(notes, "graph view is empty")
	}
	if truncated {
		notes = append(notes, "graph view truncated at the link limit")
	}
	if stopped {
		notes = append(notes, "computation stopped early")
	}
	if len(omitted) > 0 {
		notes = append(notes, fmt.Sprintf("%d value(s) omitted", len(omitted)))
	}
	if len(notes) == 0 {
		return what + " computed"
	}
	return what + " computed with partial results: " + strings.Join(notes, "; ")
}

// ComputeMetrics builds the view and returns its basic metrics
func (s *RiskIntelligenceService) ComputeMetrics(ctx context.Context, params service.ViewParams) (*MetricsResponse, error) {
	defer observe("metrics", time.Now())

	view, err := s.views.Build(ctx, params)
	if err != nil {
		return nil, err
	}
	m := analytics.BasicMetrics(view)
	metrics.RecordOmitted(m.Omitted)

	return &MetricsResponse{
		Message: summarize("Metrics", len(view.Nodes) == 0, view.Truncated, false, m.Omitted),
		Metrics: m,
	}, nil
}

// ComputeCentrality runs the requested centrality algorithms concurrently.
// Betweenness is bounded by the configured timeout.
func (s *RiskIntelligenceService) ComputeCentrality(ctx context.Context, req CentralityRequest) (*CentralityResponse, error) {
	defer observe("centrality", time.Now())

	if _, err := analytics.ResolveAlgorithms(req.Algorithms, req.View.Directed); err != nil {
		return nil, err
	}
	topN := s.config.TopN
	if req.TopN != nil {
		if *req.TopN < 0 {
			return nil, fmt.Errorf("%w: top_n must not be negative", entity.ErrInvalidInput)
		}
		topN = *req.TopN
	}

	view, err := s.views.Build(ctx, req.View)
	if err != nil {
		return nil, err
	}
	result, err := analytics.Centrality(ctx, view, analytics.CentralityOptions{
		Algorithms:         req.Algorithms,
		TopN:               topN,
		Normalized:         req.Normalized,
		BetweennessTimeout: s.config.BetweennessTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute centrality: %w", err)
	}
	metrics.RecordOmitted(result.Omitted)
	for name, reason := range result.Omitted {
		s.logger.Warn("Centrality algorithm omitted", zap.String("algorithm", name), zap.String("reason", reason))
	}

	return &CentralityResponse{
		Message:    summarize("Centrality", len(view.Nodes) == 0, view.Truncated, false, result.Omitted),
		Centrality: result,
	}, nil
}

// DetectCommunities partitions the view; an empty algorithm uses the
// configured default
func (s *RiskIntelligenceService) DetectCommunities(ctx context.Context, params service.ViewParams, algorithm string) (*CommunitiesResponse, error) {
	defer observe("communities", time.Now())

	if algorithm == "" {
		algorithm = s.config.CommunityAlgorithm
	}
	if !analytics.ValidCommunityAlgorithm(algorithm) {
		return nil, fmt.Errorf("%w: unknown community algorithm %q", entity.ErrInvalidInput, algorithm)
	}

	view, err := s.views.Build(ctx, params)
	if err != nil {
		return nil, err
	}
	result, err := analytics.DetectCommunities(ctx, view, algorithm)
	if err != nil {
		return nil, fmt.Errorf("failed to detect communities: %w", err)
	}
	metrics.RecordOmitted(result.Omitted)

	return &CommunitiesResponse{
		Message:     summarize("Communities", len(view.Nodes) == 0, view.Truncated, false, result.Omitted),
		Communities: result,
	}, nil
}

// ComputeTemporal computes the window series under the temporal timeout.
// A timeout returns the newest windows computed so far.
func (s *RiskIntelligenceService) ComputeTemporal(ctx context.Context, req TemporalRequest) (*TemporalResponse, error) {
	defer observe("temporal", time.Now())

	opts := analytics.TemporalOptions{WindowSize: req.WindowSize, MaxWindows: req.MaxWindows}
	if opts.WindowSize == 0 {
		opts.WindowSize = s.config.DefaultWindow
	}
	if opts.MaxWindows == 0 {
		opts.MaxWindows = s.config.MaxWindows
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	view, err := s.views.Build(ctx, req.View)
	if err != nil {
		return nil, err
	}

	tctx, cancel := context.WithTimeout(ctx, s.config.TemporalTimeout)
	defer cancel()
	result, err := analytics.Temporal(tctx, view, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to compute temporal metrics: %w", err)
	}
	if result.Truncated {
		s.logger.Warn("Temporal computation stopped early",
			zap.Int("windows", len(result.Windows)),
			zap.Duration("timeout", s.config.TemporalTimeout))
	}

	return &TemporalResponse{
		Message:  summarize("Temporal metrics", len(view.Nodes) == 0, view.Truncated, result.Truncated, nil),
		Temporal: result,
	}, nil
}

// ComputeLayout returns drawing positions for every node of the view
func (s *RiskIntelligenceService) ComputeLayout(ctx context.Context, req LayoutRequest) (*LayoutResponse, error) {
	defer observe("layout", time.Now())

	if err := req.Layout.Validate(); err != nil {
		return nil, err
	}
	view, err := s.views.Build(ctx, req.View)
	if err != nil {
		return nil, err
	}
	result, err := analytics.Layout(ctx, view, req.Layout)
	if err != nil {
		return nil, fmt.Errorf("failed to compute layout: %w", err)
	}

	return &LayoutResponse{
		Message: summarize("Layout", len(view.Nodes) == 0, view.Truncated, false, nil),
		Layout:  result,
	}, nil
}

// Visualize lays out the view and annotates nodes with their community
// and centrality values on request. Betweenness keeps the configured
// timeout.
func (s *RiskIntelligenceService) Visualize(ctx context.Context, req VisualizationRequest) (*VisualizationResponse, error) {
	defer observe("visualization", time.Now())

	if err := req.Layout.Validate(); err != nil {
		return nil, err
	}
	opts := analytics.VisualizationOptions{
		Layout:             req.Layout,
		IncludeMetrics:     req.IncludeMetrics,
		BetweennessTimeout: s.config.BetweennessTimeout,
	}
	if req.IncludeCommunities {
		opts.CommunityAlgorithm = req.CommunityAlgorithm
		if opts.CommunityAlgorithm == "" {
			opts.CommunityAlgorithm = s.config.CommunityAlgorithm
		}
		if !analytics.ValidCommunityAlgorithm(opts.CommunityAlgorithm) {
			return nil, fmt.Errorf("%w: unknown community algorithm %q", entity.ErrInvalidInput, opts.CommunityAlgorithm)
		}
	}

	view, err := s.views.Build(ctx, req.View)
	if err != nil {
		return nil, err
	}
	result, err := analytics.Visualize(ctx, view, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build visualization: %w", err)
	}
	metrics.RecordOmitted(result.Omitted)

	return &VisualizationResponse{
		Message:       summarize("Visualization", len(view.Nodes) == 0, view.Truncated, false, result.Omitted),
		Visualization: result,
	}, nil
}

// ScoreEntity runs one scoring pass. A stale pass surfaces
// entity.ErrConcurrentModification for the caller to retry.
func (s *RiskIntelligenceService) ScoreEntity(ctx context.Context, id string) (*ScoreResponse, error) {
	defer observe("score", time.Now())

	result, err := s.score(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ScoreResponse{Message: scoreMessage(result), Result: result}, nil
}

// ScoreAndAlert scores the entity, rerunning a pass that lost the version
// race, then evaluates the alert rules on the fresh result
func (s *RiskIntelligenceService) ScoreAndAlert(ctx context.Context, id string) (*ScoreAndAlertResponse, error) {
	defer observe("score_and_alert", time.Now())

	var result *service.ScoreResult
	policy := retry.Policy{
		MaxAttempts: s.config.ScoreAttempts,
		BaseDelay:   s.config.ScoreBackoff,
		OnRetry: func(attempt int, err error) {
			s.logger.Debug("Rescoring after concurrent modification",
				zap.String("entity", id),
				zap.Int("attempt", attempt))
		},
	}
	err := policy.Do(ctx, func() error {
		r, err := s.score(ctx, id)
		if err != nil {
			if errors.Is(err, entity.ErrConcurrentModification) {
				return err
			}
			return retry.Permanent(err)
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	raised, err := s.alerts.Evaluate(ctx, result)
	for _, r := range raised {
		metrics.AlertsTotal.WithLabelValues(string(r.Alert.Type), string(r.Alert.Severity), string(r.Action)).Inc()
	}

	resp := &ScoreAndAlertResponse{
		Message:      scoreMessage(result),
		Result:       result,
		AlertsRaised: raised,
	}
	if resp.AlertsRaised == nil {
		resp.AlertsRaised = []service.RaisedAlert{}
	}
	if err != nil {
		s.logger.Error("Failed to raise some alerts", zap.String("entity", result.EntityID), zap.Error(err))
		resp.AlertErrors = strings.Split(err.Error(), "\n")
		resp.Message += "; some alerts could not be recorded"
	}
	if len(raised) > 0 {
		resp.Message += fmt.Sprintf("; %d alert(s) raised", len(raised))
	}
	return resp, nil
}

func (s *RiskIntelligenceService) score(ctx context.Context, id string) (*service.ScoreResult, error) {
	result, err := s.scoring.ScoreEntity(ctx, id)
	switch {
	case err == nil:
	case errors.Is(err, entity.ErrConcurrentModification):
		metrics.ScoringPassesTotal.WithLabelValues("conflict").Inc()
		return nil, err
	default:
		metrics.ScoringPassesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.ScoringPassesTotal.WithLabelValues(string(result.Status)).Inc()
	if result.Score != nil {
		metrics.RiskScores.Observe(*result.Score)
	}
	return result, nil
}

func scoreMessage(r *service.ScoreResult) string {
	if r.Score == nil {
		return "Risk is unknown: no risk factor applies to this entity"
	}
	msg := fmt.Sprintf("Risk scored %.2f (%s)", *r.Score, r.Category)
	if len(r.Omitted) > 0 {
		msg += fmt.Sprintf(" with %d factor(s) omitted", len(r.Omitted))
	}
	return msg
}

// AcknowledgeAlert moves an alert from new to acknowledged
func (s *RiskIntelligenceService) AcknowledgeAlert(ctx context.Context, id string) (*AlertResponse, error) {
	alert, err := s.alerts.Acknowledge(ctx, id)
	if err != nil {
		return nil, err
	}
	return &AlertResponse{Message: "Alert acknowledged", Alert: alert}, nil
}

// ResolveAlert moves an alert from acknowledged to resolved
func (s *RiskIntelligenceService) ResolveAlert(ctx context.Context, id string) (*AlertResponse, error) {
	alert, err := s.alerts.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	return &AlertResponse{Message: "Alert resolved", Alert: alert}, nil
}

// ListAlerts returns alerts matching filter, newest first
func (s *RiskIntelligenceService) ListAlerts(ctx context.Context, filter repository.AlertFilter) (*AlertsResponse, error) {
	if filter.Status != "" && filter.Status != entity.AlertStatusNew &&
		filter.Status != entity.AlertStatusAcknowledged && filter.Status != entity.AlertStatusResolved {
		return nil, fmt.Errorf("%w: unknown alert status %q", entity.ErrInvalidInput, filter.Status)
	}
	alerts, err := s.alerts.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	if alerts == nil {
		alerts = []*entity.Alert{}
	}
	return &AlertsResponse{Message: fmt.Sprintf("%d alert(s)", len(alerts)), Alerts: alerts}, nil
}
