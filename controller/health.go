package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// UpstreamChecker reports inference-service liveness
type UpstreamChecker interface {
	Health(ctx context.Context) error
}

// HealthController answers liveness probes
type HealthController struct {
	upstream UpstreamChecker
}

func NewHealthController(upstream UpstreamChecker) *HealthController {
	return &HealthController{upstream: upstream}
}

// GetHealth handles GET /health
func (c *HealthController) GetHealth(ctx *gin.Context) {
	checkCtx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	upstream := "ok"
	if err := c.upstream.Health(checkCtx); err != nil {
		upstream = "unreachable"
	}

	ctx.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"upstream": upstream,
	})
}
