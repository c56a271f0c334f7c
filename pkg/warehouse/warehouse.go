// Package warehouse owns the complaints table: table and stage setup, the direct and
// staged load paths, and the post-load validation pass.
package warehouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/jackc/pgx/v5"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/database"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/objectstore"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/tracing"
)

// DefaultBatchSize is the number of rows per INSERT on the direct path.
const DefaultBatchSize = 500

// StageRegistry persists external stage registrations.
type StageRegistry interface {
	Recreate(ctx context.Context, stage *models.Stage) error
	Get(ctx context.Context, name string) (*models.Stage, error)
}

// Config names the warehouse objects.
type Config struct {
	Database  string
	Schema    string
	Warehouse string
	Table     string
	Stage     string
	Bucket    string
	Prefix    string
	BatchSize int
}

// Warehouse loads complaints into the target table.
type Warehouse struct {
	db     database.DB
	copier RowCopier
	stages StageRegistry
	store  objectstore.Store
	config Config
	logger ectologger.Logger
}

// NewWarehouse creates a loader. copier and store are only needed by LoadFromFiles.
func NewWarehouse(db database.DB, copier RowCopier, stages StageRegistry, store objectstore.Store, config Config, logger ectologger.Logger) *Warehouse {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	return &Warehouse{
		db:     db,
		copier: copier,
		stages: stages,
		store:  store,
		config: config,
		logger: logger,
	}
}

// Table returns the schema-qualified target table identifier.
func (w *Warehouse) Table() pgx.Identifier {
	return pgx.Identifier{strings.ToLower(w.config.Schema), strings.ToLower(w.config.Table)}
}

// StageURL is the location the stage registration points at.
func (w *Warehouse) StageURL() string {
	return fmt.Sprintf("s3://%s/%s/", w.config.Bucket, w.config.Prefix)
}

// Setup creates the schema and the target table when missing, then drops and recreates
// the stage registration. Everything runs in one transaction.
func (w *Warehouse) Setup(ctx context.Context) (err error) {
	ctx, span := tracing.StartSpan(ctx, "Warehouse.Setup")
	defer span.End()

	log := w.logger.WithContext(ctx)
	ctx, tx, err := w.db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tracing.RecordError(span, err, "setup failed")
			_ = tx.Rollback(ctx)
		}
	}()

	table := w.Table()
	statements := []string{
		fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pgx.Identifier{table[0]}.Sanitize()),
		createTableSQL(table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (complaint_id)", pgx.Identifier{table[1] + "_complaint_id_idx"}.Sanitize(), table.Sanitize()),
	}
	for _, statement := range statements {
		if _, err = tx.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("failed to prepare table %s: %w", table.Sanitize(), err)
		}
	}
	log.Infof("Table %s is ready", table.Sanitize())

	stage := &models.Stage{
		Name:       w.config.Stage,
		URL:        w.StageURL(),
		Database:   w.config.Database,
		Schema:     w.config.Schema,
		Warehouse:  w.config.Warehouse,
		FileFormat: database.NewJSONB(models.DefaultStageFileFormat()),
	}
	if err = w.stages.Recreate(ctx, stage); err != nil {
		return fmt.Errorf("failed to create stage %s: %w", w.config.Stage, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	log.Infof("Stage %s points at %s", stage.Name, stage.URL)
	return nil
}
