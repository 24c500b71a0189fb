package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ErlanBelekov/alerting-scheduler/internal/stats"
	"github.com/ErlanBelekov/alerting-scheduler/internal/sweeper"
	"github.com/gin-gonic/gin"
)

type statsCollector interface {
	Collect() stats.NodeStats
}

type sweepRequester interface {
	RequestSweep() error
}

type StatsHandler struct {
	stats  statsCollector
	sweeps sweepRequester
	logger *slog.Logger
}

func NewStatsHandler(stats statsCollector, sweeps sweepRequester, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{stats: stats, sweeps: sweeps, logger: logger.With("component", "stats_handler")}
}

// Get reports this node's sweep and job schedule health.
func (h *StatsHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.stats.Collect())
}

// Sweep queues a full sweep of the local shards.
func (h *StatsHandler) Sweep(c *gin.Context) {
	err := h.sweeps.RequestSweep()
	switch {
	case errors.Is(err, sweeper.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": errSweepTooSoon})
		return
	case errors.Is(err, sweeper.ErrDisabled):
		c.JSON(http.StatusConflict, gin.H{"error": errSweepDisabled})
		return
	case err != nil:
		h.logger.ErrorContext(c.Request.Context(), "request sweep", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}
