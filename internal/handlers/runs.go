package handlers

import (
	"context"
	"errors"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	appctx "github.com/MarkPhamm/consumer-complaint-pipeline/pkg/context"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/repositories"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/scheduler"
)

// RunSubmitter starts pipeline runs in the background
type RunSubmitter interface {
	Submit(ctx context.Context, trigger string) (uuid.UUID, error)
	IsRunActive() bool
}

// RunReader reads run history
type RunReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.PipelineRun, error)
	List(ctx context.Context, limit int) ([]models.PipelineRun, error)
}

// RunHandler handles pipeline run API requests
type RunHandler struct {
	submitter RunSubmitter
	runs      RunReader
	logger    ectologger.Logger
}

// NewRunHandler creates a new run handler. runs may be nil when history is disabled.
func NewRunHandler(submitter RunSubmitter, runs RunReader, logger ectologger.Logger) *RunHandler {
	return &RunHandler{
		submitter: submitter,
		runs:      runs,
		logger:    logger,
	}
}

// TriggerResponse is returned when a run is accepted
type TriggerResponse struct {
	RunID   uuid.UUID `json:"run_id"`
	Status  string    `json:"status"`
	Trigger string    `json:"trigger"`
}

// RunListResponse represents the response for listing runs
type RunListResponse struct {
	Runs   []models.PipelineRun `json:"runs"`
	Count  int                  `json:"count"`
	Active bool                 `json:"active"`
}

// Trigger starts a run
// POST /api/v1/runs
func (h *RunHandler) Trigger(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := h.submitter.Submit(ctx, scheduler.TriggerAPI)
	if errors.Is(err, scheduler.ErrRunInProgress) {
		return Conflict("a pipeline run is already in progress")
	}
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to submit run")
		return err
	}

	h.logger.WithContext(ctx).WithField("run_id", id.String()).Infof("Run submitted by %q", appctx.GetUserID(ctx))
	return AcceptedResponse(c, TriggerResponse{
		RunID:   id,
		Status:  string(models.RunStatusRunning),
		Trigger: scheduler.TriggerAPI,
	})
}

// List returns recent runs, newest first
// GET /api/v1/runs
func (h *RunHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	if h.runs == nil {
		return ServiceUnavailable("run history is disabled")
	}

	limit, err := QueryInt(c, "limit", repositories.DefaultListLimit)
	if err != nil {
		return err
	}

	runs, err := h.runs.List(ctx, limit)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to list runs")
		return err
	}

	return SuccessResponse(c, RunListResponse{
		Runs:   runs,
		Count:  len(runs),
		Active: h.submitter.IsRunActive(),
	})
}

// Get returns a single run
// GET /api/v1/runs/:id
func (h *RunHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	if h.runs == nil {
		return ServiceUnavailable("run history is disabled")
	}

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	run, err := h.runs.GetByID(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, run)
}

// RegisterRoutes registers run routes. middleware guards every run route.
func (h *RunHandler) RegisterRoutes(g *echo.Group, middleware ...echo.MiddlewareFunc) {
	runs := g.Group("/runs", middleware...)
	runs.POST("", h.Trigger)
	runs.GET("", h.List)
	runs.GET("/:id", h.Get)
}
