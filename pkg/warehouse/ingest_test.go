package warehouse

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/database"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/objectstore"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/repositories"
)

const testPrefix = "consumer_complaints"

type memoryStages struct {
	stages map[string]*models.Stage
}

func (m *memoryStages) Recreate(_ context.Context, stage *models.Stage) error {
	if m.stages == nil {
		m.stages = map[string]*models.Stage{}
	}
	m.stages[stage.Name] = stage
	return nil
}

func (m *memoryStages) Get(_ context.Context, name string) (*models.Stage, error) {
	stage, ok := m.stages[name]
	if !ok {
		return nil, repositories.NotFound("stage %s does not exist", name)
	}
	return stage, nil
}

// tableCopier appends copied rows to an in-memory table.
type tableCopier struct {
	rows    [][]any
	failOn  int
	calls   int
	copyErr error
}

func (c *tableCopier) CopyRows(_ context.Context, _ pgx.Identifier, columns []string, rows [][]any) (int64, error) {
	c.calls++
	if c.failOn == c.calls {
		return 0, c.copyErr
	}
	for _, row := range rows {
		if len(row) != len(columns) {
			return 0, fmt.Errorf("row has %d values for %d columns", len(row), len(columns))
		}
	}
	c.rows = append(c.rows, rows...)
	return int64(len(rows)), nil
}

func (c *tableCopier) count(id string) int {
	idx := columnIndex("complaint_id")
	n := 0
	for _, row := range c.rows {
		if row[idx] == id {
			n++
		}
	}
	return n
}

func columnIndex(name string) int {
	for i, column := range models.StagedColumns {
		if column == name {
			return i
		}
	}
	return -1
}

type fixture struct {
	warehouse *Warehouse
	store     *objectstore.MemoryStore
	copier    *tableCopier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := objectstore.NewMemoryStore("complaints-bucket")
	copier := &tableCopier{}
	stages := &memoryStages{}
	w := NewWarehouse(nil, copier, stages, store, Config{
		Database:  "CONSUMER_DATA",
		Schema:    "PUBLIC",
		Warehouse: "COMPUTE_WH",
		Table:     "CONSUMER_COMPLAINTS",
		Stage:     "CONSUMER_COMPLAINTS_S3_STAGE",
		Bucket:    "complaints-bucket",
		Prefix:    testPrefix,
	}, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))

	require.NoError(t, stages.Recreate(context.Background(), &models.Stage{
		Name:       "CONSUMER_COMPLAINTS_S3_STAGE",
		URL:        w.StageURL(),
		FileFormat: database.NewJSONB(models.DefaultStageFileFormat()),
	}))
	return &fixture{warehouse: w, store: store, copier: copier}
}

func (f *fixture) put(t *testing.T, key, body string) {
	t.Helper()
	_, err := f.store.Put(context.Background(), key, strings.NewReader(body), int64(len(body)), "text/csv")
	require.NoError(t, err)
}

// stagedCSV renders a header and one positional row per map.
func stagedCSV(t *testing.T, rows ...map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	require.NoError(t, w.Write(models.StagedColumns))
	for _, values := range rows {
		record := make([]string, len(models.StagedColumns))
		for i, column := range models.StagedColumns {
			record[i] = values[column]
		}
		require.NoError(t, w.Write(record))
	}
	w.Flush()
	return buf.String()
}

func complaintRow(id string) map[string]string {
	return map[string]string{
		"complaint_id":  id,
		"company":       "Acme",
		"date_received": "2024-01-15T12:00:00-05:00",
		"state":         "CA",
	}
}

func TestLoadFromFiles_RowErrorsAreCountedAndSkipped(t *testing.T) {
	f := newFixture(t)

	rows := make([]map[string]string, 0, 100)
	for i := 0; i < 100; i++ {
		row := complaintRow(fmt.Sprintf("%d", i+1))
		if i%40 == 7 {
			row["date_received"] = "not-a-date"
		}
		rows = append(rows, row)
	}
	require.Len(t, rows, 100)
	f.put(t, testPrefix+"/20240101_000000_acme_complaints.csv", stagedCSV(t, rows...))
	f.put(t, testPrefix+"/20240101_000000_other_complaints.csv", stagedCSV(t, complaintRow("500")))

	stats, results, err := f.warehouse.LoadFromFiles(context.Background(), []string{
		testPrefix + "/20240101_000000_acme_complaints.csv",
		"20240101_000000_other_complaints.csv",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	first := results[0]
	assert.Equal(t, "s3://complaints-bucket/consumer_complaints/20240101_000000_acme_complaints.csv", first.File)
	assert.Equal(t, models.FileLoadStatusPartiallyLoaded, first.Status)
	assert.Equal(t, int64(100), first.RowsParsed)
	assert.Equal(t, int64(97), first.RowsLoaded)
	assert.Equal(t, int64(3), first.Errors)
	assert.Contains(t, first.FirstError, "not-a-date")

	assert.Equal(t, models.FileLoadStatusLoaded, results[1].Status)
	assert.Equal(t, int64(1), results[1].RowsLoaded)

	assert.Equal(t, models.LoadStatistics{FilesProcessed: 2, RowsLoaded: 98, RowsParsed: 101, Errors: 3}, stats)
}

func TestLoadFromFiles_UnreadableFileContinues(t *testing.T) {
	f := newFixture(t)
	f.put(t, testPrefix+"/20240102_000000_acme_complaints.csv", stagedCSV(t, complaintRow("1"), complaintRow("2")))

	stats, results, err := f.warehouse.LoadFromFiles(context.Background(), []string{
		testPrefix + "/20240101_000000_missing_complaints.csv",
		testPrefix + "/20240102_000000_acme_complaints.csv",
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, models.FileLoadStatusLoadFailed, results[0].Status)
	assert.True(t, results[0].Aborted)
	assert.NotEmpty(t, results[0].FirstError)
	assert.Equal(t, models.FileLoadStatusLoaded, results[1].Status)
	assert.Equal(t, 1, stats.FilesProcessed)
	assert.Zero(t, stats.Errors)
	assert.Equal(t, int64(2), stats.RowsLoaded)
	assert.Len(t, f.copier.rows, 2)
}

func TestLoadFromFiles_CopyFailureContinues(t *testing.T) {
	f := newFixture(t)
	f.copier.failOn = 1
	f.copier.copyErr = errors.New("connection reset")
	f.put(t, testPrefix+"/a.csv", stagedCSV(t, complaintRow("1")))
	f.put(t, testPrefix+"/b.csv", stagedCSV(t, complaintRow("2")))

	stats, results, err := f.warehouse.LoadFromFiles(context.Background(), []string{"a.csv", "b.csv"})
	require.NoError(t, err)
	assert.Equal(t, models.FileLoadStatusLoadFailed, results[0].Status)
	assert.Equal(t, "connection reset", results[0].FirstError)
	assert.True(t, results[0].Aborted)
	assert.Zero(t, results[0].Errors)
	assert.Equal(t, models.FileLoadStatusLoaded, results[1].Status)
	assert.Equal(t, models.LoadStatistics{FilesProcessed: 1, RowsLoaded: 1, RowsParsed: 1}, stats)
}

func TestLoadFromFiles_InvalidUTF8IsRowError(t *testing.T) {
	f := newFixture(t)
	bad := complaintRow("2")
	bad["company"] = "Acme\xff\xfe"
	f.put(t, testPrefix+"/mixed.csv", stagedCSV(t, complaintRow("1"), bad, complaintRow("3")))

	stats, results, err := f.warehouse.LoadFromFiles(context.Background(), []string{"mixed.csv"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.FileLoadStatusPartiallyLoaded, results[0].Status)
	assert.False(t, results[0].Aborted)
	assert.Equal(t, int64(3), results[0].RowsParsed)
	assert.Equal(t, int64(2), results[0].RowsLoaded)
	assert.Equal(t, int64(1), results[0].Errors)
	assert.Contains(t, results[0].FirstError, "invalid UTF-8")
	assert.Equal(t, models.LoadStatistics{FilesProcessed: 1, RowsLoaded: 2, RowsParsed: 3, Errors: 1}, stats)
	assert.Zero(t, f.copier.count("2"))
}

func TestLoadFromFiles_PadsShortRowsAndAppliesNullIf(t *testing.T) {
	f := newFixture(t)
	header := strings.Join(models.StagedColumns, ",")
	body := header + "\n" +
		"Mortgage,NULL,2024-01-02,Issue,null,,tag,42\n" +
		strings.Repeat("x,", len(models.StagedColumns)-1) + "x,extra,more\n"
	f.put(t, testPrefix+"/short.csv", body)

	_, results, err := f.warehouse.LoadFromFiles(context.Background(), []string{"short.csv"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(2), results[0].RowsParsed)

	// the second row has a non-date date column and is rejected
	assert.Equal(t, int64(1), results[0].RowsLoaded)
	require.Len(t, f.copier.rows, 1)

	row := f.copier.rows[0]
	assert.Equal(t, "Mortgage", row[columnIndex("product")])
	assert.Nil(t, row[columnIndex("complaint_what_happened")])
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), row[columnIndex("date_sent_to_company")])
	assert.Nil(t, row[columnIndex("sub_product")])
	assert.Nil(t, row[columnIndex("zip_code")])
	assert.Equal(t, "42", row[columnIndex("complaint_id")])
	assert.Nil(t, row[columnIndex("company")])
	assert.Nil(t, row[columnIndex("sub_issue")])
}

func TestLoadFromFiles_MalformedQuotingIsRowError(t *testing.T) {
	f := newFixture(t)
	header := strings.Join(models.StagedColumns, ",")
	body := header + "\n" +
		"Mortgage,bad\"quote,2024-01-02\n" +
		"Mortgage,,2024-01-02,,,,,7\n"
	f.put(t, testPrefix+"/quotes.csv", body)

	_, results, err := f.warehouse.LoadFromFiles(context.Background(), []string{"quotes.csv"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), results[0].RowsParsed)
	assert.Equal(t, int64(1), results[0].RowsLoaded)
	assert.Equal(t, int64(1), results[0].Errors)
	assert.Equal(t, models.FileLoadStatusPartiallyLoaded, results[0].Status)
}

func TestLoadFromFiles_ReloadDuplicatesRows(t *testing.T) {
	f := newFixture(t)
	f.put(t, testPrefix+"/a.csv", stagedCSV(t, complaintRow("1"), complaintRow("2"), complaintRow("3")))

	for i := 0; i < 2; i++ {
		stats, _, err := f.warehouse.LoadFromFiles(context.Background(), []string{"a.csv"})
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.RowsLoaded)
	}

	assert.Len(t, f.copier.rows, 6)
	assert.Equal(t, 2, f.copier.count("1"))
	assert.Equal(t, 2, f.copier.count("2"))
	assert.Equal(t, 2, f.copier.count("3"))
}

func TestLoadFromFiles_MissingStage(t *testing.T) {
	f := newFixture(t)
	f.warehouse.config.Stage = "UNKNOWN"

	_, _, err := f.warehouse.LoadFromFiles(context.Background(), []string{"a.csv"})
	assert.Error(t, err)
}

func TestLoadFromFiles_EmptyFileIsLoaded(t *testing.T) {
	f := newFixture(t)
	f.put(t, testPrefix+"/empty.csv", stagedCSV(t))

	_, results, err := f.warehouse.LoadFromFiles(context.Background(), []string{"empty.csv"})
	require.NoError(t, err)
	assert.Equal(t, models.FileLoadStatusLoaded, results[0].Status)
	assert.Equal(t, int64(0), results[0].RowsParsed)
	assert.Equal(t, 0, f.copier.calls)
}

func TestStageLocation(t *testing.T) {
	location, err := parseStageURL("s3://bucket/consumer_complaints/")
	require.NoError(t, err)
	assert.Equal(t, "bucket", location.bucket)
	assert.Equal(t, "consumer_complaints", location.prefix)
	assert.Equal(t, "consumer_complaints/a.csv", location.key("a.csv"))
	assert.Equal(t, "consumer_complaints/a.csv", location.key("consumer_complaints/a.csv"))

	_, err = parseStageURL("https://bucket/prefix")
	assert.Error(t, err)
}

func TestConvertValue(t *testing.T) {
	value := func(s string) *string { return &s }

	v, err := convertValue("date_received", value("2024-03-01"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), v)

	v, err = convertValue("date_received", value("2024-03-01T08:30:00-05:00"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC), v)

	_, err = convertValue("date_received", value("03/01/2024"))
	assert.Error(t, err)

	_, err = convertValue("state", value("California"))
	assert.Error(t, err)

	v, err = convertValue("complaint_what_happened", value(strings.Repeat("a", 10000)))
	require.NoError(t, err)
	assert.Len(t, v, 10000)

	v, err = convertValue("company", nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = convertValue("company", value("Acme\xc3\x28"))
	assert.ErrorContains(t, err, "invalid UTF-8")
}

func TestCreateTableSQL(t *testing.T) {
	sql := createTableSQL(pgx.Identifier{"public", "consumer_complaints"})
	assert.True(t, strings.HasPrefix(sql, `CREATE TABLE IF NOT EXISTS "public"."consumer_complaints"`))
	assert.Contains(t, sql, "complaint_id VARCHAR(50),")
	assert.Contains(t, sql, "date_received TIMESTAMP,")
	assert.Contains(t, sql, "load_timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP")
	assert.NotContains(t, sql, "PRIMARY KEY")
	assert.NotContains(t, sql, "UNIQUE")
}

func TestEvaluate(t *testing.T) {
	result := &models.ValidationResult{TotalRows: 10, DuplicateIDs: 4}
	evaluate(result)
	assert.True(t, result.Passed)
	assert.Empty(t, result.Issues)

	result = &models.ValidationResult{TotalRows: 10, NullIDs: 2}
	evaluate(result)
	assert.False(t, result.Passed)
	assert.Equal(t, []string{"Found 2 records with null complaint_id"}, result.Issues)
}
