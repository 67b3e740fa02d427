package api

import (
	"log/slog"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/kuranet/kuranet/internal/api/handlers"
	"github.com/kuranet/kuranet/internal/api/middleware"
	"github.com/kuranet/kuranet/internal/auth"
	"github.com/kuranet/kuranet/internal/config"
	"github.com/kuranet/kuranet/internal/events"
	"github.com/kuranet/kuranet/internal/service"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Services are the dependencies the HTTP layer is built on
type Services struct {
	Auth    auth.Authenticator
	Broker  *events.Broker
	Polls   *service.PollService
	Options *service.OptionService
	Votes   *service.VoteService
	Users   *service.UserService
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, svc Services) *gin.Engine {
	// Set Gin mode
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware(cfg.Server.CORSOrigins))

	authHandler := handlers.NewAuthHandler(svc.Users)
	pollHandler := handlers.NewPollHandler(svc.Polls)
	optionHandler := handlers.NewOptionHandler(svc.Options)
	voteHandler := handlers.NewVoteHandler(svc.Votes)
	userHandler := handlers.NewUserHandler(svc.Users)
	adminHandler := handlers.NewAdminHandler(svc.Users)
	liveHandler := handlers.NewLiveHandler(svc.Polls, svc.Broker, cfg.Server.CORSOrigins)

	// Public routes
	open := router.Group("/api/v1")
	{
		open.GET("/health", handlers.HealthCheck)
		open.GET("/version", handlers.GetVersion)

		open.POST("/auth/register", authHandler.Register)
		open.POST("/auth/login", authHandler.Login)
		open.POST("/auth/refresh", authHandler.Refresh)
	}

	// Read-only poll routes; a valid token is attached when present so
	// owners and admins see their drafts
	public := router.Group("/api/v1")
	public.Use(svc.Auth.OptionalMiddleware())
	{
		public.GET("/polls", pollHandler.ListPolls)
		public.GET("/polls/:id", pollHandler.GetPoll)
		public.GET("/polls/:id/results", pollHandler.GetResults)
		public.GET("/polls/:id/live", liveHandler.StreamResults)
		public.GET("/polls/:id/options", optionHandler.ListOptions)
	}

	// Protected routes (require authentication)
	protected := router.Group("/api/v1")
	protected.Use(svc.Auth.Middleware())
	{
		protected.POST("/auth/logout", authHandler.Logout)
		protected.GET("/auth/me", authHandler.Me)

		// Poll endpoints
		createPoll := []gin.HandlerFunc{pollHandler.CreatePoll}
		if cfg.Auth.CreatorOnlyPolls {
			createPoll = append([]gin.HandlerFunc{middleware.RequireCreator()}, createPoll...)
		}
		protected.POST("/polls", createPoll...)
		protected.PUT("/polls/:id", pollHandler.ReplacePoll)
		protected.PATCH("/polls/:id", pollHandler.PatchPoll)
		protected.DELETE("/polls/:id", pollHandler.DeletePoll)

		// Option endpoints
		protected.POST("/polls/:id/options", optionHandler.AddOption)
		protected.PATCH("/polls/:id/options/:option_id", optionHandler.UpdateOption)
		protected.DELETE("/polls/:id/options/:option_id", optionHandler.DeleteOption)

		// Vote endpoints
		protected.GET("/polls/:id/votes", voteHandler.ListVotes)
		protected.POST("/polls/:id/votes", voteHandler.CastVote)
		protected.GET("/polls/:id/votes/me", voteHandler.MyVote)

		// User endpoints
		protected.GET("/users", userHandler.ListUsers)
		protected.GET("/users/:id", userHandler.GetUser)
		protected.PUT("/users/:id", userHandler.UpdateUser)
		protected.PATCH("/users/:id", userHandler.UpdateUser)
		protected.DELETE("/users/:id", userHandler.DeleteUser)
		protected.POST("/users/:id/deactivate", userHandler.DeactivateUser)

		protected.GET("/roles", adminHandler.ListRoles)

		// Admin endpoints
		admin := protected.Group("/admin")
		admin.Use(middleware.RequireAdmin())
		{
			admin.POST("/users/:id/roles", adminHandler.AssignRole)
			admin.DELETE("/users/:id/roles/:role", adminHandler.RevokeRole)
			admin.GET("/audit-logs", adminHandler.ListAuditLogs)
		}
	}

	// Swagger documentation
	router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	slog.Info("API router initialized", "mode", cfg.Server.Mode, "creator_only_polls", cfg.Auth.CreatorOnlyPolls)
	return router
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		slog.Info("HTTP request",
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"ip", c.ClientIP(),
		)
	}
}

// corsMiddleware allows the configured origins; "*" or an empty list
// allows any origin.
func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cors.New(cfg)
}
