package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"radon-backend/logic"
)

// UsageController serves usage summaries
type UsageController struct {
	usageLogic *logic.UsageLogic
}

func NewUsageController(usageLogic *logic.UsageLogic) *UsageController {
	return &UsageController{usageLogic: usageLogic}
}

// GetUsage handles GET /usage
func (c *UsageController) GetUsage(ctx *gin.Context) {
	userID := currentUserID(ctx)
	if userID == "" {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	summary, err := c.usageLogic.Summary(userID)
	if err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, summary)
}
