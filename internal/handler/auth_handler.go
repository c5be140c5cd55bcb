package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cqbot/cqbot-backend/internal/middleware"
	"github.com/cqbot/cqbot-backend/internal/response"
	"github.com/cqbot/cqbot-backend/internal/service"
	"github.com/cqbot/cqbot-backend/internal/upstream"
)

// AuthHandler handles session endpoints.
type AuthHandler struct {
	authService     *service.AuthService
	workflowService *service.WorkflowService
	upstream        *upstream.Client
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *service.AuthService, workflowService *service.WorkflowService, upstream *upstream.Client) *AuthHandler {
	return &AuthHandler{
		authService:     authService,
		workflowService: workflowService,
		upstream:        upstream,
	}
}

// EstablishSession godoc
// POST /api/v1/auth/session
// Exchanges the caller's upstream platform cookie for a gateway JWT. An
// unauthenticated cookie is not an error: the response carries the
// anonymous identity plus the sign-in URL instead of a token.
func (h *AuthHandler) EstablishSession(c *gin.Context) {
	cookie := c.GetHeader("Cookie")

	token, identity, err := h.authService.EstablishSession(c.Request.Context(), cookie)
	if err != nil {
		if errors.Is(err, service.ErrNotAuthenticated) {
			response.Success(c, http.StatusOK, gin.H{
				"identity": identity,
				"auth_url": h.upstream.AuthURL(),
			})
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token":    token,
		"identity": identity,
	})
}

// Me godoc
// GET /api/v1/auth/me
// Returns the identity baked into the validated JWT. No upstream call.
func (h *AuthHandler) Me(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"login":         claims.Login,
		"is_instructor": claims.IsInstructor,
	})
}

// Logout godoc
// POST /api/v1/auth/logout
// Ends the upstream session best-effort, drops the gateway session and
// fully resets the user's workflow.
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	h.workflowService.Drop(c.Request.Context(), claims.Login)

	if err := h.authService.Logout(c.Request.Context(), claims.Login, c.GetHeader("Cookie")); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}
