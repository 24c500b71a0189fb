package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ErlanBelekov/alerting-scheduler/internal/domain"
	"github.com/ErlanBelekov/alerting-scheduler/internal/repository"
	"github.com/gin-gonic/gin"
)

type RunHandler struct {
	runs   repository.RunRepository
	logger *slog.Logger
}

func NewRunHandler(runs repository.RunRepository, logger *slog.Logger) *RunHandler {
	return &RunHandler{runs: runs, logger: logger.With("component", "run_handler")}
}

type listRunsQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=100"`
}

type runResponse struct {
	ID          string           `json:"id"`
	MonitorID   string           `json:"monitor_id"`
	NodeID      string           `json:"node_id"`
	PeriodStart time.Time        `json:"period_start"`
	PeriodEnd   time.Time        `json:"period_end"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at"`
	Status      domain.RunStatus `json:"status,omitempty"`
	Triggered   []string         `json:"triggered,omitempty"`
	Error       *string          `json:"error,omitempty"`
	DurationMS  *int64           `json:"duration_ms"`
}

// List returns the latest runs of a monitor, newest first.
func (h *RunHandler) List(c *gin.Context) {
	var q listRunsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Limit == 0 {
		q.Limit = 20
	}

	runs, err := h.runs.ListByMonitor(c.Request.Context(), c.Param("id"), q.Limit)
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "list runs", "monitor_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	out := make([]runResponse, 0, len(runs))
	for _, r := range runs {
		out = append(out, runResponse{
			ID:          r.ID,
			MonitorID:   r.MonitorID,
			NodeID:      r.NodeID,
			PeriodStart: r.PeriodStart,
			PeriodEnd:   r.PeriodEnd,
			StartedAt:   r.StartedAt,
			CompletedAt: r.CompletedAt,
			Status:      r.Status,
			Triggered:   r.Triggered,
			Error:       r.Error,
			DurationMS:  r.DurationMS,
		})
	}
	c.JSON(http.StatusOK, gin.H{"runs": out})
}
