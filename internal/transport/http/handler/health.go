package handler

import (
	"context"
	"net/http"

	"github.com/ErlanBelekov/alerting-scheduler/internal/health"
	"github.com/gin-gonic/gin"
)

type healthChecker interface {
	Liveness(ctx context.Context) health.HealthResult
	Readiness(ctx context.Context) health.HealthResult
}

type HealthHandler struct {
	checker healthChecker
}

func NewHealthHandler(checker healthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

func (h *HealthHandler) Live(c *gin.Context) {
	respondHealth(c, h.checker.Liveness(c.Request.Context()))
}

func (h *HealthHandler) Ready(c *gin.Context) {
	respondHealth(c, h.checker.Readiness(c.Request.Context()))
}

func respondHealth(c *gin.Context, result health.HealthResult) {
	code := http.StatusOK
	if result.Status != "up" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, result)
}
