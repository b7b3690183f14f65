package controller

import (
	"net/http"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"

	"radon-backend/logic"
)

// UserController handles HTTP requests for accounts
type UserController struct {
	userLogic *logic.UserLogic
	jwtSecret string
}

func NewUserController(userLogic *logic.UserLogic, jwtSecret string) *UserController {
	return &UserController{userLogic: userLogic, jwtSecret: jwtSecret}
}

// Login handles POST /user/login: syncs the external identity and issues a
// session token for it.
func (c *UserController) Login(ctx *gin.Context) {
	type Request struct {
		ExternalID string `json:"external_id" binding:"required"`
		Email      string `json:"email"`
		Name       string `json:"name"`
	}
	var req Request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := c.userLogic.SyncUser(req.ExternalID, req.Email, req.Name)
	if err != nil {
		abortWith(ctx, err)
		return
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": user.ExternalID,
		"exp": time.Now().Add(24 * time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(c.jwtSecret))
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"token": signed, "user": user})
}

// GetUser handles GET /user
func (c *UserController) GetUser(ctx *gin.Context) {
	userID := currentUserID(ctx)
	if userID == "" {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	user, err := c.userLogic.GetUser(userID)
	if err != nil {
		abortWith(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, user)
}
