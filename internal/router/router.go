package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/cqbot/cqbot-backend/internal/config"
	"github.com/cqbot/cqbot-backend/internal/handler"
	"github.com/cqbot/cqbot-backend/internal/middleware"
	"github.com/cqbot/cqbot-backend/internal/response"
	"github.com/cqbot/cqbot-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth     *handler.AuthHandler
	Workflow *handler.WorkflowHandler
	WS       *handler.WSHandler
	System   *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		corsConfig.AllowCredentials = true
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for session establishment, per IP.
	sessionLimiter := middleware.NewRateLimiter(cfg.SessionRatePerMin, time.Minute)

	// ─── 1. Auth Group ─────────────────────────────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/session", sessionLimiter.Middleware(), handlers.Auth.EstablishSession)

		auth.GET("/me", middleware.RequireSession(authService), handlers.Auth.Me)
		auth.POST("/logout",
			middleware.RequireSession(authService),
			middleware.CheckActiveSession(authService),
			handlers.Auth.Logout,
		)
	}

	// ─── 2. Workflow Group (JWT + Active Session) ──────────────────────
	workflowAPI := router.Group("/api/v1/workflow")
	workflowAPI.Use(
		middleware.RequireSession(authService),
		middleware.CheckActiveSession(authService),
	)
	{
		workflowAPI.GET("", handlers.Workflow.GetWorkflow)
		workflowAPI.POST("/submissions", handlers.Workflow.StartSubmission)
		workflowAPI.PUT("/answers/:question_id", handlers.Workflow.EditAnswer)
		workflowAPI.POST("/events", handlers.Workflow.RecordEvent)
		workflowAPI.POST("/submit", handlers.Workflow.SubmitAnswers)
		workflowAPI.POST("/reset", handlers.Workflow.Reset)
	}

	// ─── 3. WebSocket Group (WS Auth) ──────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireWSAuth(authService))
	{
		ws.GET("/workflow/stream", handlers.WS.WorkflowStream)
	}

	// ─── 4. Instructor Group (JWT + Instructor Flag) ───────────────────
	instructorAPI := router.Group("/api/v1/instructor")
	instructorAPI.Use(
		middleware.RequireSession(authService),
		middleware.CheckActiveSession(authService),
		middleware.RequireInstructor(),
	)
	{
		instructorAPI.GET("/export-url", handlers.Workflow.ExportURL)
		instructorAPI.GET("/system/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}
