package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/job-supervisor/internal/api/dto"
	"github.com/cuongbtq/job-supervisor/internal/signalling"
	"github.com/cuongbtq/job-supervisor/internal/supervisor"
	"github.com/cuongbtq/job-supervisor/internal/supervisor/domain"
)

// Health handles GET /health
func (h *SupervisionHandler) Health(c *gin.Context) {
	if h.database != nil {
		if err := h.database.HealthCheck(c.Request.Context()); err != nil {
			h.logger.Warn("Health check failed", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"service": h.service,
				"error":   err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.service,
	})
}

// StartSupervision handles POST /api/v1/supervisions
func (h *SupervisionHandler) StartSupervision(c *gin.Context) {
	var req dto.StartSupervisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	var maxDuration time.Duration
	if req.MaxDuration != "" {
		d, err := time.ParseDuration(req.MaxDuration)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "max_duration must be a duration such as 90m",
			})
			return
		}
		maxDuration = d
	}

	snap, err := h.supervisor.Start(supervisor.Request{
		JobID:       signalling.JobID(req.JobID),
		Levels:      req.Levels,
		MaxDuration: maxDuration,
	})
	if err != nil {
		h.writeError(c, req.JobID, err)
		return
	}

	c.JSON(http.StatusCreated, dto.NewSupervisionDTO(snap))
}

// ListSupervisions handles GET /api/v1/supervisions
func (h *SupervisionHandler) ListSupervisions(c *gin.Context) {
	snaps := h.supervisor.List()

	resp := dto.ListSupervisionsResponse{
		Supervisions: make([]dto.SupervisionDTO, len(snaps)),
		Count:        len(snaps),
	}
	for i, snap := range snaps {
		resp.Supervisions[i] = dto.NewSupervisionDTO(snap)
	}

	c.JSON(http.StatusOK, resp)
}

// GetSupervision handles GET /api/v1/supervisions/:job_id
func (h *SupervisionHandler) GetSupervision(c *gin.Context) {
	jobID := c.Param("job_id")

	snap, err := h.supervisor.Get(signalling.JobID(jobID))
	if err != nil {
		h.writeError(c, jobID, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewSupervisionDTO(snap))
}

// StopSupervision handles DELETE /api/v1/supervisions/:job_id.
// The supervision ends at its next poll cycle, so the response is 202.
func (h *SupervisionHandler) StopSupervision(c *gin.Context) {
	jobID := c.Param("job_id")

	if err := h.supervisor.Stop(signalling.JobID(jobID)); err != nil {
		h.writeError(c, jobID, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": jobID,
		"status": "stop requested",
	})
}

// writeError maps supervisor errors to HTTP statuses
func (h *SupervisionHandler) writeError(c *gin.Context, jobID string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, signalling.ErrInvalidJobID),
		errors.Is(err, signalling.ErrInvalidLevel),
		errors.Is(err, domain.ErrInvalidMaxDuration):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrSupervisionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadySupervised):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrTooManySupervisions):
		status = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrShuttingDown):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Supervision request failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(status, gin.H{"error": err.Error()})
}
