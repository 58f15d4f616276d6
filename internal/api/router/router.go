package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/job-supervisor/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))

	h := handler.NewSupervisionHandler(deps)

	r.GET("/health", h.Health)

	v1 := r.Group("/api/v1")
	{
		supervisions := v1.Group("/supervisions")
		{
			// POST /api/v1/supervisions - Start supervising a job's log stream
			supervisions.POST("", h.StartSupervision)

			// GET /api/v1/supervisions - List supervisions
			supervisions.GET("", h.ListSupervisions)

			// GET /api/v1/supervisions/:job_id - Get a supervision snapshot
			supervisions.GET("/:job_id", h.GetSupervision)

			// DELETE /api/v1/supervisions/:job_id - Ask a supervision to stop
			supervisions.DELETE("/:job_id", h.StopSupervision)
		}
	}

	return r
}
