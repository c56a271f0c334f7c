// Package transform projects raw complaint records onto the fixed complaint schema and
// writes CSV extracts in the staged column order.
package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Gobusters/ectologger"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/metrics"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/tracing"
)

// ErrEmptyTransform is returned when a non-empty input produced no records.
var ErrEmptyTransform = errors.New("transform produced no records from non-empty input")

// ListSeparator joins list-valued fields into one string.
const ListSeparator = ", "

// sourceAliases lists the source fields read for a target column, in priority order.
// Columns not listed read the same-named field.
var sourceAliases = map[string][]string{
	"company_response_to_consumer": {"company_response_to_consumer", "company_response"},
	"timely_response":              {"timely_response", "timely"},
}

// Result is the output of one transform.
type Result struct {
	Records []models.Complaint
	Skipped int
}

// Transformer normalizes raw records.
type Transformer struct {
	logger ectologger.Logger
}

// NewTransformer creates a transformer.
func NewTransformer(logger ectologger.Logger) *Transformer {
	return &Transformer{logger: logger}
}

// Transform projects every raw record onto the complaint schema. Records without a
// complaint_id are dropped and counted in Skipped. When raw is non-empty and every record
// was dropped the result is returned together with ErrEmptyTransform.
func (t *Transformer) Transform(ctx context.Context, raw []models.RawRecord) (Result, error) {
	_, span := tracing.StartSpan(ctx, "Transformer.Transform")
	defer span.End()

	result := Transform(raw)
	span.SetAttributes(
		attribute.Int("transform.input", len(raw)),
		attribute.Int("transform.records", len(result.Records)),
		attribute.Int("transform.skipped", result.Skipped),
	)

	log := t.logger.WithContext(ctx)
	if result.Skipped > 0 {
		metrics.RecordsSkipped.Add(float64(result.Skipped))
		log.Warnf("Skipped %d record(s) without complaint_id", result.Skipped)
	}
	log.Infof("Transformed %d of %d record(s)", len(result.Records), len(raw))

	if len(raw) > 0 && len(result.Records) == 0 {
		tracing.RecordError(span, ErrEmptyTransform, "empty transform")
		return result, ErrEmptyTransform
	}
	return result, nil
}

// Transform is the pure projection used by Transformer.Transform.
func Transform(raw []models.RawRecord) Result {
	result := Result{Records: make([]models.Complaint, 0, len(raw))}
	for _, record := range raw {
		complaint := project(record)
		if complaint.ID() == "" {
			result.Skipped++
			continue
		}
		result.Records = append(result.Records, complaint)
	}
	return result
}

func project(record models.RawRecord) models.Complaint {
	var complaint models.Complaint
	for _, column := range models.StagedColumns {
		complaint.SetField(column, lookup(record, column))
	}
	return complaint
}

func lookup(record models.RawRecord, column string) *string {
	names, ok := sourceAliases[column]
	if !ok {
		names = []string{column}
	}
	for _, name := range names {
		value, present := record[name]
		if !present || value == nil {
			continue
		}
		if s, ok := coerce(value); ok {
			return &s
		}
	}
	return nil
}

// coerce renders a decoded JSON value as a column string. ok is false for null.
func coerce(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case json.Number:
		return formatNumber(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case bool:
		return strconv.FormatBool(v), true
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := coerce(item); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ListSeparator), true
	case []string:
		return strings.Join(v, ListSeparator), true
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v), true
		}
		return string(encoded), true
	}
}

func formatNumber(n json.Number) string {
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	if f, err := n.Float64(); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return n.String()
}
