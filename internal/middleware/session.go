package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cqbot/cqbot-backend/internal/response"
	"github.com/cqbot/cqbot-backend/internal/service"
)

// CheckActiveSession validates the JWT's JTI against the active session in
// Redis. A mismatch means a newer session replaced this one.
func CheckActiveSession(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		if err := authService.ValidateSession(c.Request.Context(), claims.Login, claims.ID); err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
			return
		}

		c.Next()
	}
}
