package controller

import (
	"errors"
	"net/http"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"

	"radon-backend/pkg"
)

// currentUserID extracts the authenticated subject set by the auth
// middleware. Empty string means the request carries no identity.
func currentUserID(c *gin.Context) string {
	v, exists := c.Get("user")
	if !exists {
		return ""
	}
	claims, ok := v.(jwt.MapClaims)
	if !ok {
		return ""
	}
	sub, _ := claims["sub"].(string)
	return sub
}

// statusFor maps the error taxonomy to an HTTP status and a client-safe
// message
func statusFor(err error) (int, string) {
	var ve *pkg.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, ve.Msg
	}
	if errors.Is(err, pkg.ErrNotFound) {
		return http.StatusNotFound, "Not found"
	}
	var pe *pkg.PersistenceError
	if errors.As(err, &pe) {
		return http.StatusServiceUnavailable, "Storage unavailable, try again later"
	}
	var ue *pkg.UpstreamError
	if errors.As(err, &ue) {
		return http.StatusBadGateway, "Inference service error"
	}
	return http.StatusInternalServerError, "Internal server error"
}

func abortWith(c *gin.Context, err error) {
	status, msg := statusFor(err)
	c.JSON(status, gin.H{"error": msg})
}
