package api

import (
	"github.com/gin-gonic/gin"

	"github.com/clipforge/clipforge/internal/api/handlers"
	"github.com/clipforge/clipforge/internal/api/middleware"
	"github.com/clipforge/clipforge/internal/core"
	"github.com/clipforge/clipforge/internal/metrics"
	"github.com/clipforge/clipforge/internal/storage"
	"github.com/clipforge/clipforge/internal/store"
)

// NewRouter assembles the HTTP surface: auth, job intake, queue/summary
// lookups, download control and asset serving.
func NewRouter(scheduler *core.Scheduler, st *store.Store, assetStore storage.Store, m *metrics.Metrics) (*gin.Engine, error) {
	auth, err := middleware.NewAuthMiddleware(st)
	if err != nil {
		return nil, err
	}

	jobs := handlers.NewJobHandler(scheduler, st)
	downloads := handlers.NewDownloadHandler(scheduler.Downloads, assetStore)

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/setup", auth.Setup)
		authGroup.POST("/login", auth.Login)
		authGroup.POST("/logout", auth.Logout)
		authGroup.GET("/status", auth.Status)
		authGroup.POST("/password", auth.RequireAuth(), auth.ChangePassword)
	}

	// Provider push deliveries arrive unauthenticated; they only nudge a
	// poll forward, never carry state.
	r.POST("/webhooks/provider", jobs.ProviderWebhook)

	apiGroup := r.Group("/api", auth.RequireAuth())
	{
		apiGroup.POST("/jobs", jobs.SubmitJob)
		apiGroup.POST("/jobs/batch", jobs.SubmitBatch)
		apiGroup.GET("/jobs", jobs.ListJobs)
		apiGroup.GET("/jobs/:id", jobs.GetJob)
		apiGroup.GET("/jobs/:id/assets", jobs.ListAssets)
		apiGroup.GET("/queue", jobs.QueueSummary)
		apiGroup.GET("/downloads/:id", downloads.GetDownload)
		apiGroup.POST("/downloads/:id/retry", downloads.RetryDownload)
		apiGroup.GET("/assets/:batch/:name", downloads.ServeAsset)
	}

	return r, nil
}
