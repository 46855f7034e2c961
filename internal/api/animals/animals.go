// Package animals serves the public adoption listings.
package animals

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/shelter-registry/shelter-registry/internal/db/models"
)

// Lister pages through publicly visible listings.
type Lister interface {
	ListVisible(ctx context.Context, limit, offset int) ([]*models.Animal, int, error)
}

// Handler serves GET /api/v1/animals.
type Handler struct {
	animals Lister
}

// NewHandler creates the listing handler.
func NewHandler(animals Lister) *Handler {
	return &Handler{animals: animals}
}

// @Summary      List adoptable animals
// @Description  Animals that are not adopted and whose association is active or suspended.
// @Tags         Animals
// @Produce      json
// @Param        page      query  int  false  "Page number (default 1)"
// @Param        per_page  query  int  false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "animals, pagination"
// @Router       /api/v1/animals [get]
// ListHandler returns a page of visible listings.
func (h *Handler) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
		perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))

		if page < 1 {
			page = 1
		}
		if perPage < 1 || perPage > 100 {
			perPage = 20
		}
		offset := (page - 1) * perPage

		list, total, err := h.animals.ListVisible(c.Request.Context(), perPage, offset)
		if err != nil {
			slog.Error("failed to list animals", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list animals"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"animals": list,
			"pagination": gin.H{
				"page":     page,
				"per_page": perPage,
				"total":    total,
			},
		})
	}
}
