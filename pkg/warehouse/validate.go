package warehouse

import (
	"context"
	"fmt"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/database"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/metrics"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/tracing"
)

// TopCompaniesLimit is the number of companies reported by validation.
const TopCompaniesLimit = 5

type tableSummary struct {
	TotalRows       int64   `db:"total_rows"`
	DuplicateIDs    int64   `db:"duplicate_ids"`
	NullIDs         int64   `db:"null_ids"`
	MinDateReceived *string `db:"min_date_received"`
	MaxDateReceived *string `db:"max_date_received"`
}

// Validate reports table-level quality figures. Null identifiers fail validation;
// duplicate identifiers are expected from repeated loads and only logged.
func (w *Warehouse) Validate(ctx context.Context) (*models.ValidationResult, error) {
	ctx, span := tracing.StartSpan(ctx, "Warehouse.Validate")
	defer span.End()

	table := w.Table().Sanitize()

	sb := database.NewSelectBuilder()
	sb.Select(
		"COUNT(*) AS total_rows",
		"COUNT(*) - COUNT(DISTINCT complaint_id) AS duplicate_ids",
		"COUNT(*) - COUNT(complaint_id) AS null_ids",
		"to_char(MIN(date_received), 'YYYY-MM-DD') AS min_date_received",
		"to_char(MAX(date_received), 'YYYY-MM-DD') AS max_date_received",
	).From(table)
	query, args := sb.Build()

	var summary tableSummary
	if err := w.db.GetContext(ctx, &summary, query, args...); err != nil {
		tracing.RecordError(span, err, "validation query failed")
		return nil, fmt.Errorf("failed to summarize %s: %w", table, err)
	}

	tb := database.NewSelectBuilder()
	tb.Select("company", "COUNT(*) AS complaint_count").
		From(table).
		GroupBy("company").
		OrderBy("complaint_count DESC", "company").
		Limit(TopCompaniesLimit)
	query, args = tb.Build()

	var top []models.CompanyCount
	if err := w.db.SelectContext(ctx, &top, query, args...); err != nil {
		tracing.RecordError(span, err, "top companies query failed")
		return nil, fmt.Errorf("failed to count companies in %s: %w", table, err)
	}

	result := &models.ValidationResult{
		TotalRows:       summary.TotalRows,
		DuplicateIDs:    summary.DuplicateIDs,
		NullIDs:         summary.NullIDs,
		MinDateReceived: summary.MinDateReceived,
		MaxDateReceived: summary.MaxDateReceived,
		TopCompanies:    top,
		Passed:          true,
	}
	evaluate(result)
	metrics.RecordValidation(result.TotalRows, result.DuplicateIDs, result.NullIDs)

	log := w.logger.WithContext(ctx).WithFields(map[string]any{
		"total_rows":    result.TotalRows,
		"duplicate_ids": result.DuplicateIDs,
		"null_ids":      result.NullIDs,
	})
	if result.DuplicateIDs > 0 {
		log.Warnf("Found %d duplicate complaint IDs", result.DuplicateIDs)
	}
	if result.Passed {
		log.Info("All data quality checks passed")
	} else {
		log.Warnf("Data quality issues found: %v", result.Issues)
	}
	return result, nil
}

func evaluate(result *models.ValidationResult) {
	if result.NullIDs > 0 {
		result.Issues = append(result.Issues, fmt.Sprintf("Found %d records with null complaint_id", result.NullIDs))
	}
	result.Passed = len(result.Issues) == 0
}
