package warehouse

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/database"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/metrics"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/tracing"
)

// LoadRecords appends records to the target table with batched multi-row INSERTs in one
// transaction. Records whose values cannot be stored are logged and left out. Nothing is
// deduplicated.
func (w *Warehouse) LoadRecords(ctx context.Context, records []models.Complaint) (loaded int64, err error) {
	ctx, span := tracing.StartSpan(ctx, "Warehouse.LoadRecords")
	defer span.End()

	log := w.logger.WithContext(ctx)
	if len(records) == 0 {
		log.Warn("No complaints to load")
		return 0, nil
	}

	rows := make([][]any, 0, len(records))
	for i := range records {
		row, convErr := convertRow(complaintValues(&records[i]))
		if convErr != nil {
			log.WithError(convErr).WithField("complaint_id", records[i].ID()).Warn("Skipping complaint that cannot be stored")
			continue
		}
		rows = append(rows, row)
	}

	ctx, tx, err := w.db.GetTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tracing.RecordError(span, err, "load failed")
			_ = tx.Rollback(ctx)
		}
	}()

	table := w.Table().Sanitize()
	for start := 0; start < len(rows); start += w.config.BatchSize {
		end := min(start+w.config.BatchSize, len(rows))

		query, args := database.NewBatchInsert(table, models.StagedColumns, rows[start:end]).Build()

		result, execErr := tx.ExecContext(ctx, query, args...)
		if execErr != nil {
			err = fmt.Errorf("failed to insert complaints %d-%d into %s: %w", start+1, end, table, execErr)
			return 0, err
		}
		affected, _ := result.RowsAffected()
		loaded += affected
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, err
	}

	metrics.RowsLoaded.WithLabelValues("direct").Add(float64(loaded))
	span.SetAttributes(attribute.Int64("load.rows", loaded))
	log.Infof("Loaded %d of %d complaint(s) into %s", loaded, len(records), table)
	return loaded, nil
}
