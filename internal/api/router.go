package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/heliactyl/heliactyldb/internal/app"
	"github.com/heliactyl/heliactyldb/internal/handlers"
	"github.com/heliactyl/heliactyldb/internal/kv"
	"github.com/heliactyl/heliactyldb/internal/middleware"
	"github.com/heliactyl/heliactyldb/pkg/response"
)

// NewRouter assembles the daemon's HTTP surface around one store handle.
func NewRouter(store *kv.DB, cfg *app.Config) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.WithRequestID(),
		middleware.Logger(),
		middleware.Recovery(),
		middleware.Metrics(),
	)

	if cfg.Monitoring.Health.Enabled {
		router.GET("/healthz", func(c *gin.Context) {
			response.Success(c, http.StatusOK, gin.H{
				"status":  "ok",
				"backend": store.Kind(),
			})
		})
	}

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		router.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	h := handlers.NewKVHandler(store)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/kv", h.List)
		v1.POST("/kv", h.SetMultiple)
		v1.DELETE("/kv", h.Clear)

		v1.GET("/kv/:key", h.Get)
		v1.PUT("/kv/:key", h.Set)
		v1.DELETE("/kv/:key", h.Delete)
		v1.GET("/kv/:key/exists", h.Exists)
		v1.POST("/kv/:key/increment", h.Increment)
		v1.POST("/kv/:key/decrement", h.Decrement)

		v1.DELETE("/cache", h.ClearCache)
		v1.GET("/stats", h.Stats)
	}

	return router
}
