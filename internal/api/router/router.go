package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "job-orchestrator-api",
		})
	})

	jobHandler := handler.NewJobHandler(deps)

	jobs := r.Group("/jobs")
	{
		// POST /jobs - submit a new job, returns 202
		jobs.POST("", jobHandler.SubmitJob)

		// GET /jobs - list jobs with filtering and pagination
		jobs.GET("", jobHandler.ListJobs)

		// GET /jobs/:job_id - job document for polling
		jobs.GET("/:job_id", jobHandler.GetJob)

		// GET /jobs/:job_id/output-link - time-limited retrieval link
		jobs.GET("/:job_id/output-link", jobHandler.GetOutputLink)

		// POST /jobs/:job_id/cancel - request cooperative cancellation
		jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
	}

	return r
}
