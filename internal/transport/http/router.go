package httptransport

import (
	"log/slog"

	"github.com/ErlanBelekov/alerting-scheduler/internal/transport/http/handler"
	"github.com/ErlanBelekov/alerting-scheduler/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	sloggin "github.com/samber/slog-gin"
)

func NewRouter(logger *slog.Logger, healthHandler *handler.HealthHandler, statsHandler *handler.StatsHandler, runHandler *handler.RunHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics("/metrics", "/health/live", "/health/ready"))

	r.GET("/health/live", healthHandler.Live)
	r.GET("/health/ready", healthHandler.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/_stats", statsHandler.Get)
	r.POST("/_sweep", statsHandler.Sweep)
	r.GET("/_monitors/:id/runs", runHandler.List)

	return r
}
