package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"licenseops/internal/common"
	"licenseops/internal/jobs"
	"licenseops/internal/jobs/background"
	"licenseops/internal/models"

	"github.com/labstack/echo/v4"
)

// JobRunner is the executor surface the admin API drives.
type JobRunner interface {
	Statuses() []background.JobStatus
	Status(name string) (background.JobStatus, error)
	Trigger(ctx context.Context, name string) error
	Pause(name string) error
	Resume(name string) error
}

type ExecutionReader interface {
	RecentExecutions(ctx context.Context, jobName string, limit int) ([]models.JobExecution, error)
	Maintenance(ctx context.Context) (models.MaintenanceResult, error)
}

type JobHandlers struct {
	runner     JobRunner
	executions ExecutionReader
}

func NewJobHandlers(runner JobRunner, executions ExecutionReader) *JobHandlers {
	return &JobHandlers{runner: runner, executions: executions}
}

func (h *JobHandlers) ListJobs(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"jobs": h.runner.Statuses(),
	})
}

func (h *JobHandlers) GetJob(c echo.Context) error {
	status, err := h.runner.Status(c.Param("name"))
	if err != nil {
		return jobError(c, err)
	}
	return c.JSON(http.StatusOK, status)
}

// ListExecutions returns the most recent execution records of one job.
func (h *JobHandlers) ListExecutions(c echo.Context) error {
	name := c.Param("name")
	if _, err := h.runner.Status(name); err != nil {
		return jobError(c, err)
	}

	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return common.SendValidationError(c, "limit", "must be an integer")
		}
		limit = parsed
	}
	limit = common.ValidateLimit(limit, 20, 100)

	executions, err := h.executions.RecentExecutions(c.Request().Context(), name, limit)
	if err != nil {
		c.Logger().Errorf("list executions for %s: %v", name, err)
		return common.SendServerError(c, "Failed to load executions")
	}
	if executions == nil {
		executions = []models.JobExecution{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"job":        name,
		"executions": executions,
	})
}

// TriggerJob starts a manual run and returns before it finishes.
func (h *JobHandlers) TriggerJob(c echo.Context) error {
	name := c.Param("name")
	if err := h.runner.Trigger(c.Request().Context(), name); err != nil {
		return jobError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"message": "Job triggered",
		"job":     name,
	})
}

func (h *JobHandlers) PauseJob(c echo.Context) error {
	name := c.Param("name")
	if err := h.runner.Pause(name); err != nil {
		return jobError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Job paused",
		"job":     name,
	})
}

func (h *JobHandlers) ResumeJob(c echo.Context) error {
	name := c.Param("name")
	if err := h.runner.Resume(name); err != nil {
		return jobError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Job resumed",
		"job":     name,
	})
}

// RunMaintenance prunes execution history and old system events.
func (h *JobHandlers) RunMaintenance(c echo.Context) error {
	result, err := h.executions.Maintenance(c.Request().Context())
	if err != nil {
		c.Logger().Errorf("maintenance: %v", err)
		return common.SendServerError(c, "Maintenance failed")
	}
	return c.JSON(http.StatusOK, result)
}

func jobError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		return common.SendNotFoundError(c, "Job")
	case errors.Is(err, jobs.ErrJobAlreadyRunning),
		errors.Is(err, background.ErrJobDisabled),
		errors.Is(err, background.ErrNotPaused):
		return common.SendConflictError(c, err.Error())
	default:
		c.Logger().Errorf("job request failed: %v", err)
		return common.SendServerError(c, "Job request failed")
	}
}
