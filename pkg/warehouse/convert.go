package warehouse

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseDate accepts a calendar date or an RFC3339 timestamp. The wall clock is kept and
// the offset dropped, matching a timestamp column without time zone.
func parseDate(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", value)
}

// convertValue turns a column string into the value bound for the target column.
func convertValue(name string, value *string) (any, error) {
	if value == nil {
		return nil, nil
	}
	if !utf8.ValidString(*value) {
		return nil, fmt.Errorf("column %s: invalid UTF-8 sequence", name)
	}
	col := columns[name]
	if col.date {
		t, err := parseDate(*value)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", name, err)
		}
		return t, nil
	}
	if col.limit > 0 && utf8.RuneCountInString(*value) > col.limit {
		return nil, fmt.Errorf("column %s: value of length %d exceeds %d", name, utf8.RuneCountInString(*value), col.limit)
	}
	return *value, nil
}

// convertRow converts positional values in models.StagedColumns order.
func convertRow(values []*string) ([]any, error) {
	row := make([]any, len(models.StagedColumns))
	for i, name := range models.StagedColumns {
		v, err := convertValue(name, values[i])
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}

func complaintValues(c *models.Complaint) []*string {
	values := make([]*string, len(models.StagedColumns))
	for i, name := range models.StagedColumns {
		values[i] = c.Field(name)
	}
	return values
}
