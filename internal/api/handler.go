// Package api exposes the risk intelligence operations over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appservice "crypto-risk-intelligence/internal/application/service"
	"crypto-risk-intelligence/internal/domain/analytics"
	"crypto-risk-intelligence/internal/domain/entity"
	"crypto-risk-intelligence/internal/domain/repository"
	"crypto-risk-intelligence/internal/domain/service"
	"crypto-risk-intelligence/internal/infrastructure/logger"
)

// Pinger reports whether the backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the analytics, scoring and alert endpoints
type Handler struct {
	svc    *appservice.RiskIntelligenceService
	health Pinger
	logger *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(svc *appservice.RiskIntelligenceService, health Pinger, logger *logger.Logger) *Handler {
	return &Handler{
		svc:    svc,
		health: health,
		logger: logger.WithComponent("api"),
	}
}

// RegisterRoutes mounts the versioned API on r
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	analysis := r.Group("/analysis")
	analysis.GET("/metrics", h.Metrics)
	analysis.GET("/centrality", h.Centrality)
	analysis.GET("/communities", h.Communities)
	analysis.GET("/temporal", h.Temporal)
	analysis.GET("/layout", h.Layout)
	analysis.GET("/visualization", h.Visualization)

	r.POST("/entities/:chain/:address/score", h.Score)
	r.POST("/entities/:chain/:address/score-and-alert", h.ScoreAndAlert)

	r.GET("/alerts", h.ListAlerts)
	r.POST("/alerts/:id/acknowledge", h.AcknowledgeAlert)
	r.POST("/alerts/:id/resolve", h.ResolveAlert)
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	if err := h.health.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "entity store reachable"})
}

// Metrics handles GET /analysis/metrics
func (h *Handler) Metrics(c *gin.Context) {
	params, err := viewParams(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp, err := h.svc.ComputeMetrics(c.Request.Context(), params)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Centrality handles GET /analysis/centrality
func (h *Handler) Centrality(c *gin.Context) {
	params, err := viewParams(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	req := appservice.CentralityRequest{
		View:       params,
		Algorithms: listQuery(c, "algorithms"),
	}
	if raw := c.Query("top_n"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.fail(c, invalid("top_n", raw))
			return
		}
		req.TopN = &n
	}
	if req.Normalized, err = boolQuery(c, "normalized", true); err != nil {
		h.fail(c, err)
		return
	}

	resp, err := h.svc.ComputeCentrality(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Communities handles GET /analysis/communities
func (h *Handler) Communities(c *gin.Context) {
	params, err := viewParams(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	resp, err := h.svc.DetectCommunities(c.Request.Context(), params, c.Query("algorithm"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Temporal handles GET /analysis/temporal
func (h *Handler) Temporal(c *gin.Context) {
	params, err := viewParams(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	req := appservice.TemporalRequest{View: params}
	if raw := c.Query("window"); raw != "" {
		if req.WindowSize, err = time.ParseDuration(raw); err != nil {
			h.fail(c, invalid("window", raw))
			return
		}
	}
	if raw := c.Query("max_windows"); raw != "" {
		if req.MaxWindows, err = strconv.Atoi(raw); err != nil {
			h.fail(c, invalid("max_windows", raw))
			return
		}
	}

	resp, err := h.svc.ComputeTemporal(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Layout handles GET /analysis/layout
func (h *Handler) Layout(c *gin.Context) {
	params, err := viewParams(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	layout, err := layoutParams(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	resp, err := h.svc.ComputeLayout(c.Request.Context(), appservice.LayoutRequest{View: params, Layout: layout})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Visualization handles GET /analysis/visualization
func (h *Handler) Visualization(c *gin.Context) {
	params, err := viewParams(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	req := appservice.VisualizationRequest{View: params, CommunityAlgorithm: c.Query("community_algorithm")}
	if req.Layout, err = layoutParams(c); err != nil {
		h.fail(c, err)
		return
	}
	if req.IncludeCommunities, err = boolQuery(c, "include_communities", false); err != nil {
		h.fail(c, err)
		return
	}
	if req.IncludeMetrics, err = boolQuery(c, "include_metrics", false); err != nil {
		h.fail(c, err)
		return
	}

	resp, err := h.svc.Visualize(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Score handles POST /entities/:chain/:address/score
func (h *Handler) Score(c *gin.Context) {
	resp, err := h.svc.ScoreEntity(c.Request.Context(), entityParam(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ScoreAndAlert handles POST /entities/:chain/:address/score-and-alert
func (h *Handler) ScoreAndAlert(c *gin.Context) {
	resp, err := h.svc.ScoreAndAlert(c.Request.Context(), entityParam(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListAlerts handles GET /alerts
func (h *Handler) ListAlerts(c *gin.Context) {
	filter := repository.AlertFilter{
		Entity: c.Query("entity"),
		Type:   entity.AlertType(c.Query("type")),
		Status: entity.AlertStatus(c.Query("status")),
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.fail(c, invalid("limit", raw))
			return
		}
		filter.Limit = n
	}

	resp, err := h.svc.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// AcknowledgeAlert handles POST /alerts/:id/acknowledge
func (h *Handler) AcknowledgeAlert(c *gin.Context) {
	resp, err := h.svc.AcknowledgeAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ResolveAlert handles POST /alerts/:id/resolve
func (h *Handler) ResolveAlert(c *gin.Context) {
	resp, err := h.svc.ResolveAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func entityParam(c *gin.Context) string {
	return entity.Key(c.Param("chain"), c.Param("address"))
}

// viewParams reads the graph view selection shared by the analysis routes
func viewParams(c *gin.Context) (service.ViewParams, error) {
	p := service.ViewParams{
		Chain:     strings.ToLower(c.Query("chain")),
		EntityIDs: listQuery(c, "entity"),
	}
	var err error
	if raw := c.Query("hops"); raw != "" {
		if p.Hops, err = strconv.Atoi(raw); err != nil {
			return p, invalid("hops", raw)
		}
	}
	if raw := c.Query("link_limit"); raw != "" {
		if p.LinkLimit, err = strconv.Atoi(raw); err != nil {
			return p, invalid("link_limit", raw)
		}
	}
	if raw := c.Query("from"); raw != "" {
		if p.From, err = time.Parse(time.RFC3339, raw); err != nil {
			return p, invalid("from", raw)
		}
	}
	if raw := c.Query("to"); raw != "" {
		if p.To, err = time.Parse(time.RFC3339, raw); err != nil {
			return p, invalid("to", raw)
		}
	}
	if p.Directed, err = boolQuery(c, "directed", false); err != nil {
		return p, err
	}
	return p, nil
}

// layoutParams reads the layout algorithm, scale, center and seed
func layoutParams(c *gin.Context) (analytics.LayoutOptions, error) {
	opts := analytics.LayoutOptions{Algorithm: c.Query("layout")}
	floats := []struct {
		key string
		dst *float64
	}{
		{"scale", &opts.Scale},
		{"center_x", &opts.Center.X},
		{"center_y", &opts.Center.Y},
	}
	for _, f := range floats {
		raw := c.Query(f.key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return opts, invalid(f.key, raw)
		}
		*f.dst = v
	}
	if raw := c.Query("seed"); raw != "" {
		seed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return opts, invalid("seed", raw)
		}
		opts.Seed = seed
	}
	return opts, nil
}

// listQuery accepts both repeated and comma separated values
func listQuery(c *gin.Context, key string) []string {
	var out []string
	for _, raw := range c.QueryArray(key) {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func boolQuery(c *gin.Context, key string, def bool) (bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def, invalid(key, raw)
	}
	return v, nil
}

func invalid(key, value string) error {
	return fmt.Errorf("%w: invalid %s %q", entity.ErrInvalidInput, key, value)
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, entity.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, entity.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, entity.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification"
	case errors.Is(err, entity.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, entity.ErrDataUnavailable):
		return http.StatusServiceUnavailable, "data_unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "timeout"
	}
	return http.StatusInternalServerError, "internal_error"
}

func (h *Handler) fail(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
