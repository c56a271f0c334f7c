package repositories

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/database"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/tracing"
)

const pipelineRunsTable = "pipeline_runs"

// DefaultListLimit bounds List when no limit is given.
const DefaultListLimit = 20

var pipelineRunStruct = database.NewStruct(new(models.PipelineRun))

// RunRepository stores the run history
type RunRepository struct {
	*Repository
}

// NewRunRepository creates a new run repository
func NewRunRepository(db database.DB, logger ectologger.Logger) *RunRepository {
	return &RunRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create inserts a new run
func (r *RunRepository) Create(ctx context.Context, run *models.PipelineRun) error {
	ctx, span := tracing.StartSpan(ctx, "RunRepository.Create")
	defer span.End()

	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(pipelineRunsTable).
		Cols("id", "trigger", "status", "attempt", "mode", "started_at", "outcome", "created_at", "updated_at").
		Values(run.ID, run.Trigger, run.Status, run.Attempt, run.Mode, run.StartedAt, run.Outcome,
			database.Now(), database.Now()).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err := r.DB().QueryRowxContext(ctx, query, args...).Scan(&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		tracing.RecordError(span, err, "create run failed")
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id": run.ID,
		}).Error("failed to create run")
		return Internal("failed to create run")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": run.ID,
	}).Debugf("Created %s", pipelineRunsTable)
	return nil
}

// Update writes the status, statistics and outcome of a run
func (r *RunRepository) Update(ctx context.Context, run *models.PipelineRun) error {
	ctx, span := tracing.StartSpan(ctx, "RunRepository.Update")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(pipelineRunsTable).
		Set(
			ub.Assign("status", run.Status),
			ub.Assign("attempt", run.Attempt),
			ub.Assign("mode", run.Mode),
			ub.Assign("extracted", run.Extracted),
			ub.Assign("uploaded", run.Uploaded),
			ub.Assign("files_processed", run.FilesProcessed),
			ub.Assign("rows_loaded", run.RowsLoaded),
			ub.Assign("rows_parsed", run.RowsParsed),
			ub.Assign("row_errors", run.RowErrors),
			ub.Assign("outcome", run.Outcome),
			ub.Assign("error_message", run.ErrorMessage),
			ub.Assign("completed_at", run.CompletedAt),
			ub.Touch(),
		).
		Where(ub.Equal("id", run.ID))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		tracing.RecordError(span, err, "update run failed")
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id": run.ID,
		}).Error("failed to update run")
		return Internal("failed to update run")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return NotFound("run %s does not exist", run.ID)
	}
	return nil
}

// GetByID retrieves a run by ID
func (r *RunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PipelineRun, error) {
	ctx, span := tracing.StartSpan(ctx, "RunRepository.GetByID")
	defer span.End()

	sb := pipelineRunStruct.SelectFrom(pipelineRunsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var run models.PipelineRun
	if err := r.DB().GetContext(ctx, &run, query, args...); err != nil {
		return nil, r.lookupError(ctx, err, "run", id)
	}
	return &run, nil
}

// List returns the most recent runs first
func (r *RunRepository) List(ctx context.Context, limit int) ([]models.PipelineRun, error) {
	ctx, span := tracing.StartSpan(ctx, "RunRepository.List")
	defer span.End()

	if limit <= 0 {
		limit = DefaultListLimit
	}

	sb := pipelineRunStruct.SelectFrom(pipelineRunsTable)
	sb.OrderBy("started_at").Desc()
	sb.Limit(limit)

	query, args := sb.Build()
	runs := []models.PipelineRun{}
	if err := r.DB().SelectContext(ctx, &runs, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list runs")
		return nil, Internal("failed to list runs")
	}

	r.logger.WithContext(ctx).Debugf("Listed %d %s", len(runs), pipelineRunsTable)
	return runs, nil
}

// FailRunning marks runs left in the running state, by a process that died mid-run, as
// failed. It returns how many runs were updated.
func (r *RunRepository) FailRunning(ctx context.Context, message string) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "RunRepository.FailRunning")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(pipelineRunsTable).
		Set(
			ub.Assign("status", models.RunStatusFailed),
			ub.Assign("error_message", message),
			ub.Assign("completed_at", database.Now()),
			ub.Touch(),
		).
		Where(ub.Equal("status", models.RunStatusRunning))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to close interrupted runs")
		return 0, Internal("failed to close interrupted runs")
	}
	affected, _ := result.RowsAffected()
	return affected, nil
}
