package handlers

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/objectstore"
)

// StagedFileResolver picks the latest staged extract per company
type StagedFileResolver interface {
	Latest(ctx context.Context, store objectstore.Store) ([]models.StagedFile, error)
}

// Validator runs the post-load validation pass
type Validator interface {
	Validate(ctx context.Context) (*models.ValidationResult, error)
}

// WarehouseHandler exposes the staged namespace and the target table checks
type WarehouseHandler struct {
	resolver  StagedFileResolver
	store     objectstore.Store
	validator Validator
	logger    ectologger.Logger
}

// NewWarehouseHandler creates a new warehouse handler. resolver and store may be nil in
// direct mode.
func NewWarehouseHandler(resolver StagedFileResolver, store objectstore.Store, validator Validator, logger ectologger.Logger) *WarehouseHandler {
	return &WarehouseHandler{
		resolver:  resolver,
		store:     store,
		validator: validator,
		logger:    logger,
	}
}

// StagedFilesResponse lists the resolved extracts
type StagedFilesResponse struct {
	Bucket string              `json:"bucket"`
	Files  []models.StagedFile `json:"files"`
	Count  int                 `json:"count"`
}

// StagedFiles returns the latest staged file of every company
// GET /api/v1/staged-files
func (h *WarehouseHandler) StagedFiles(c echo.Context) error {
	ctx := c.Request().Context()

	if h.resolver == nil || h.store == nil {
		return ServiceUnavailable("object store is not configured")
	}

	files, err := h.resolver.Latest(ctx, h.store)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to resolve staged files")
		return err
	}
	if files == nil {
		files = []models.StagedFile{}
	}

	return SuccessResponse(c, StagedFilesResponse{
		Bucket: h.store.Bucket(),
		Files:  files,
		Count:  len(files),
	})
}

// Validation runs the validation pass on demand
// GET /api/v1/validation
func (h *WarehouseHandler) Validation(c echo.Context) error {
	ctx := c.Request().Context()

	result, err := h.validator.Validate(ctx)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to validate target table")
		return err
	}

	return SuccessResponse(c, result)
}

// RegisterRoutes registers warehouse routes
func (h *WarehouseHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/staged-files", h.StagedFiles)
	g.GET("/validation", h.Validation)
}
