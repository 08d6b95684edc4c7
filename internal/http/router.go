package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"issue-service/internal/http/middleware"
	"issue-service/internal/model"
)

// HealthCheck is a named readiness probe, e.g. the database or redis ping.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type RouterOptions struct {
	Env          string
	EvidencePath string
	Evidence     http.FileSystem
	SubmitLimit  gin.HandlerFunc
	Checks       []HealthCheck
}

func NewRouter(handler *Handler, authMiddleware gin.HandlerFunc, opts RouterOptions) *gin.Engine {
	if opts.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"*"},
		ExposeHeaders:   []string{"Content-Type", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		MaxAge:          12 * time.Hour,
	}))

	router.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := gin.H{}
		healthy := true
		for _, check := range opts.Checks {
			if err := check.Check(ctx); err != nil {
				status[check.Name] = err.Error()
				healthy = false
				continue
			}
			status[check.Name] = "ok"
		}
		if !healthy {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": status})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": status})
	})

	if opts.Evidence != nil && opts.EvidencePath != "" {
		router.StaticFS(opts.EvidencePath, opts.Evidence)
	}

	submitLimit := opts.SubmitLimit
	if submitLimit == nil {
		submitLimit = func(c *gin.Context) { c.Next() }
	}

	admin := middleware.RequireRole(model.UserRoleAdmin)

	protected := router.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.POST("/issues", submitLimit, handler.submitIssue)
		protected.GET("/issues", handler.listIssues)
		protected.GET("/issues/:id", handler.getIssue)
		protected.GET("/issues/:id/history", handler.issueHistory)

		protected.POST("/issues/:id/assign", admin, handler.assignIssue)
		protected.POST("/issues/:id/accept", handler.acceptIssue)
		protected.POST("/issues/:id/start", handler.startIssue)
		protected.POST("/issues/:id/escalate", handler.escalateIssue)
		protected.POST("/issues/:id/reengage", handler.reengageIssue)
		protected.POST("/issues/:id/resolve", handler.resolveIssue)
		protected.POST("/issues/:id/close", handler.closeIssue)

		protected.PUT("/issues/:id/upvote", handler.setUpvote)
		protected.POST("/issues/:id/comments", handler.addComment)

		protected.GET("/dispatch/issues", handler.dispatchIssues)

		protected.GET("/workers", admin, handler.listWorkers)
		protected.PUT("/workers/:id", admin, handler.saveWorker)
	}

	return router
}
