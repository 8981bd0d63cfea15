package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type RouterConfig struct {
	Control *ControlHandler
	WS      *WSHandler
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	Health   map[string]HealthCheck
	Logger   *slog.Logger
}

// NewRouter assembles the gin engine serving REST, websocket, metrics and profiling routes.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	e := gin.New()
	e.Use(gin.Recovery())

	metrics := promhttp.Handler()
	if cfg.Gatherer != nil {
		metrics = promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})
	}
	e.GET("/metrics", gin.WrapH(metrics))
	pprof.Register(e, "/debug/pprof")
	e.GET("/healthz", healthz(cfg.Health, cfg.Logger))

	if cfg.Control != nil {
		cfg.Control.Register(e)
	}
	if cfg.WS != nil {
		e.GET("/ws", gin.WrapF(cfg.WS.ServeWS))
	}
	return e
}

func healthz(checks map[string]HealthCheck, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		failed := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				log.WarnContext(ctx, "health check failed", "dependency", name, "error", err)
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "failed": failed})
			return
		}
		c.String(http.StatusOK, "ok")
	}
}
