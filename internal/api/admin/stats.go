package admin

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shelter-registry/shelter-registry/internal/db/models"
)

// StateCounter reports how many associations are in each state.
type StateCounter interface {
	CountByState(ctx context.Context) ([]models.StateCount, error)
}

// StatsHandler serves registry statistics.
type StatsHandler struct {
	counter StateCounter
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(counter StateCounter) *StatsHandler {
	return &StatsHandler{counter: counter}
}

// RegistryStats is the dashboard summary. Every state is present, zero or not.
type RegistryStats struct {
	Total   int                             `json:"total"`
	ByState map[models.AssociationState]int `json:"by_state"`
}

// @Summary      Registry statistics
// @Tags         Admin
// @Produce      json
// @Security     Bearer
// @Success      200  {object}  RegistryStats
// @Router       /api/v1/admin/stats [get]
// GetStats counts associations per state.
func (h *StatsHandler) GetStats(c *gin.Context) {
	counts, err := h.counter.CountByState(c.Request.Context())
	if err != nil {
		slog.Error("failed to count associations", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load statistics"})
		return
	}
	c.JSON(http.StatusOK, summarize(counts))
}

func summarize(counts []models.StateCount) RegistryStats {
	stats := RegistryStats{ByState: make(map[models.AssociationState]int, len(models.AllStates))}
	for _, s := range models.AllStates {
		stats.ByState[s] = 0
	}
	for _, sc := range counts {
		stats.ByState[sc.State] += sc.Count
		stats.Total += sc.Count
	}
	return stats
}
