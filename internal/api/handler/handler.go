package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/job-supervisor/internal/signalling"
	"github.com/cuongbtq/job-supervisor/internal/supervisor"
	"github.com/cuongbtq/job-supervisor/internal/supervisor/domain"
)

// SupervisionService is the part of supervisor.Manager the API drives
type SupervisionService interface {
	Start(req supervisor.Request) (domain.Supervision, error)
	Stop(jobID signalling.JobID) error
	Get(jobID signalling.JobID) (domain.Supervision, error)
	List() []domain.Supervision
}

// HealthChecker reports whether a backing store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Supervisor  SupervisionService
	Database    HealthChecker
	ServiceName string
}

// SupervisionHandler handles supervision-related HTTP requests
type SupervisionHandler struct {
	logger     *slog.Logger
	supervisor SupervisionService
	database   HealthChecker
	service    string
}

// NewSupervisionHandler creates a new SupervisionHandler instance
func NewSupervisionHandler(deps *Dependencies) *SupervisionHandler {
	service := deps.ServiceName
	if service == "" {
		service = "job-supervisor"
	}

	return &SupervisionHandler{
		logger:     deps.Logger,
		supervisor: deps.Supervisor,
		database:   deps.Database,
		service:    service,
	}
}
