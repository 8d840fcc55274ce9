package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"conteo/internal/branch"
	"conteo/internal/core/apperror"
	"conteo/internal/domain/stock"
	"conteo/internal/infrastructure/cache"
)

// OpsHandler exposes the operational surface: branch pool status, cache
// statistics and manual cache invalidation.
type OpsHandler struct {
	registry *branch.Registry
	cache    *cache.Cache
	stock    *stock.Service
}

func NewOpsHandler(registry *branch.Registry, c *cache.Cache, stockSvc *stock.Service) *OpsHandler {
	return &OpsHandler{registry: registry, cache: c, stock: stockSvc}
}

// BranchesStatus returns the status snapshot of every branch pool.
// GET /v1/branches/status
func (h *OpsHandler) BranchesStatus(c *gin.Context) {
	statuses := h.registry.GetBranchesStatus()
	c.JSON(http.StatusOK, gin.H{
		"branches": statuses,
		"total":    len(statuses),
	})
}

// CheckBranches forces an immediate health check round.
// POST /v1/branches/check
func (h *OpsHandler) CheckBranches(c *gin.Context) {
	h.registry.CheckAllBranchesHealth(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"branches": h.registry.GetBranchesStatus(),
	})
}

// CacheStats returns hit/miss counters and entry count.
// GET /v1/cache/stats
func (h *OpsHandler) CacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.cache.GetStats())
}

type invalidateRequest struct {
	BranchID int64  `json:"branch_id" binding:"required"`
	ItemCode string `json:"item_code"`
}

// InvalidateCache drops cached stock for a branch, or for a single item on
// that branch when item_code is given.
// POST /v1/cache/invalidate
func (h *OpsHandler) InvalidateCache(c *gin.Context) {
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperror.NewValidation("invalid request body").WithDetail("error", err.Error()))
		c.Abort()
		return
	}

	removed := h.stock.InvalidateCache(req.BranchID, req.ItemCode)
	c.JSON(http.StatusOK, gin.H{
		"invalidated": removed,
	})
}
