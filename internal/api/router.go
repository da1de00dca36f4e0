package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"crypto-risk-intelligence/internal/infrastructure/metrics"
	"crypto-risk-intelligence/internal/infrastructure/realtime"
)

// NewRouter builds the gin engine with the versioned API, health,
// Prometheus and websocket endpoints. hub may be nil and an empty
// metricsPath turns request metrics off.
func NewRouter(h *Handler, hub *realtime.Hub, metricsPath string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if metricsPath != "" {
		r.Use(metrics.Middleware())
		r.GET(metricsPath, metrics.Handler())
	}

	r.GET("/health", h.Health)
	if hub != nil {
		r.GET("/ws/alerts", gin.WrapF(hub.HandleWebSocket))
		r.GET("/ws/stats", func(c *gin.Context) {
			c.JSON(http.StatusOK, hub.Stats())
		})
	}

	h.RegisterRoutes(r.Group("/api/v1"))
	return r
}
