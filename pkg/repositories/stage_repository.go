package repositories

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/database"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/tracing"
)

const ingestStagesTable = "ingest_stages"

var stageStruct = database.NewStruct(new(models.Stage))

// StageRepository stores external stage registrations
type StageRepository struct {
	*Repository
}

// NewStageRepository creates a new stage repository
func NewStageRepository(db database.DB, logger ectologger.Logger) *StageRepository {
	return &StageRepository{
		Repository: NewRepository(db, logger),
	}
}

// Recreate drops the stage registration with the same name, if any, and inserts stage.
// It joins the transaction carried by ctx when there is one.
func (r *StageRepository) Recreate(ctx context.Context, stage *models.Stage) (err error) {
	ctx, span := tracing.StartSpan(ctx, "StageRepository.Recreate")
	defer span.End()

	ctx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tracing.RecordError(span, err, "recreate stage failed")
			_ = tx.Rollback(ctx)
		}
	}()

	dlb := database.NewDeleteBuilder()
	dlb.DeleteFrom(ingestStagesTable).Where(dlb.Equal("name", stage.Name))
	query, args := dlb.Build()
	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to drop stage %s: %w", stage.Name, err)
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(ingestStagesTable).
		Cols("name", "url", "database_name", "schema_name", "warehouse_name", "file_format", "created_at").
		Values(stage.Name, stage.URL, stage.Database, stage.Schema, stage.Warehouse, stage.FileFormat, database.Now()).
		Returning("created_at")
	query, args = ib.Build()
	if err = tx.QueryRowxContext(ctx, query, args...).Scan(&stage.CreatedAt); err != nil {
		return fmt.Errorf("failed to create stage %s: %w", stage.Name, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"stage": stage.Name,
		"url":   stage.URL,
	}).Debugf("Recreated %s", ingestStagesTable)
	return nil
}

// Get retrieves a stage by name
func (r *StageRepository) Get(ctx context.Context, name string) (*models.Stage, error) {
	ctx, span := tracing.StartSpan(ctx, "StageRepository.Get")
	defer span.End()

	sb := stageStruct.SelectFrom(ingestStagesTable)
	sb.Where(sb.Equal("name", name))

	query, args := sb.Build()
	var stage models.Stage
	if err := r.DB().GetContext(ctx, &stage, query, args...); err != nil {
		return nil, r.lookupError(ctx, err, "stage", name)
	}
	return &stage, nil
}
