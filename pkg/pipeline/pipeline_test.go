package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "github.com/MarkPhamm/consumer-complaint-pipeline/pkg/context"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/objectstore"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/resolver"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/transform"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/uploader"
)

type fakeFetcher struct {
	byCompany map[string][]models.RawRecord
	byRange   []models.RawRecord
	err       error

	companies  []string
	rangeStart time.Time
	rangeEnd   time.Time
}

func (f *fakeFetcher) FetchByDateRange(_ context.Context, start, end time.Time, _ int) ([]models.RawRecord, error) {
	f.rangeStart, f.rangeEnd = start, end
	return f.byRange, f.err
}

func (f *fakeFetcher) FetchByCompany(_ context.Context, company string, _, _ time.Time, _ int) ([]models.RawRecord, error) {
	f.companies = append(f.companies, company)
	if f.err != nil {
		return nil, f.err
	}
	return f.byCompany[company], nil
}

type fakeWarehouse struct {
	setupErr   error
	validation *models.ValidationResult

	setups      int
	records     []models.Complaint
	loadedFiles []string
}

func (w *fakeWarehouse) Setup(context.Context) error {
	w.setups++
	return w.setupErr
}

func (w *fakeWarehouse) LoadRecords(_ context.Context, records []models.Complaint) (int64, error) {
	w.records = append(w.records, records...)
	return int64(len(records)), nil
}

func (w *fakeWarehouse) LoadFromFiles(_ context.Context, files []string) (models.LoadStatistics, []models.FileLoadResult, error) {
	w.loadedFiles = append(w.loadedFiles, files...)
	var stats models.LoadStatistics
	var results []models.FileLoadResult
	for _, file := range files {
		result := models.FileLoadResult{File: file, Status: models.FileLoadStatusLoaded, RowsParsed: 1, RowsLoaded: 1}
		stats.Add(result)
		results = append(results, result)
	}
	return stats, results, nil
}

func (w *fakeWarehouse) Validate(context.Context) (*models.ValidationResult, error) {
	if w.validation != nil {
		return w.validation, nil
	}
	return &models.ValidationResult{TotalRows: int64(len(w.records)), Passed: true}, nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func raw(ids ...any) []models.RawRecord {
	records := make([]models.RawRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, models.RawRecord{"complaint_id": id, "company": "ACME", "product": "Mortgage"})
	}
	return records
}

func stagedPipeline(t *testing.T, fetcher Fetcher, warehouse Warehouse, store *objectstore.MemoryStore, cfg Config) *Pipeline {
	t.Helper()
	logger := testLogger()
	cfg.Mode = models.PipelineModeStaged
	if cfg.DataDir == "" {
		cfg.DataDir = t.TempDir()
	}
	return NewPipeline(
		fetcher,
		transform.NewTransformer(logger),
		uploader.NewUploader(store, "consumer_complaints", logger),
		resolver.NewResolver("consumer_complaints", logger),
		store,
		warehouse,
		cfg,
		logger,
	)
}

func TestRunStaged(t *testing.T) {
	store := objectstore.NewMemoryStore("complaints-bucket")
	_, err := store.Put(context.Background(), "consumer_complaints/20200101_000000_jpmorgan_complaints.csv", strings.NewReader("old"), 3, "text/csv")
	require.NoError(t, err)

	fetcher := &fakeFetcher{byCompany: map[string][]models.RawRecord{
		"jpmorgan":        raw(1, 2, nil),
		"bank of america": raw(3),
		"wells fargo":     nil,
	}}
	warehouse := &fakeWarehouse{}
	dataDir := t.TempDir()
	p := stagedPipeline(t, fetcher, warehouse, store, Config{
		DataDir: dataDir,
		Companies: []Company{
			{Name: "jpmorgan"},
			{Name: "bank of america"},
			{Name: "wells fargo"},
		},
	})

	outcome, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"jpmorgan", "bank of america", "wells fargo"}, fetcher.companies)
	assert.Equal(t, 3, outcome.Extracted)
	assert.Equal(t, 1, outcome.Skipped)
	assert.Equal(t, 2, outcome.Uploaded)
	assert.Equal(t, 1, warehouse.setups)

	// the superseded jpmorgan extract was cleaned up; one key per company remains
	keys := store.Keys()
	sort.Strings(keys)
	require.Len(t, keys, 2)
	assert.ElementsMatch(t, keys, outcome.ResolvedFiles)
	assert.Equal(t, outcome.ResolvedFiles, warehouse.loadedFiles)
	assert.Equal(t, 2, outcome.Load.FilesProcessed)

	_, err = os.Stat(filepath.Join(dataDir, transform.ExtractFileName("bank of america")))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dataDir, transform.ExtractFileName("wells fargo")))
	assert.True(t, os.IsNotExist(err))

	require.NotNil(t, outcome.Validation)
	assert.True(t, outcome.Validation.Passed)
}

func TestRunStagedAbortsOnFetchFailure(t *testing.T) {
	fetchErr := errors.New("api unavailable")
	store := objectstore.NewMemoryStore("complaints-bucket")
	warehouse := &fakeWarehouse{}
	p := stagedPipeline(t, &fakeFetcher{err: fetchErr}, warehouse, store, Config{
		Companies: []Company{{Name: "jpmorgan"}},
	})

	outcome, err := p.Run(context.Background())
	assert.ErrorIs(t, err, fetchErr)
	require.NotNil(t, outcome)
	assert.Zero(t, warehouse.setups)
	assert.Empty(t, store.Keys())
}

func TestRunStagedAbortsOnEmptyTransform(t *testing.T) {
	store := objectstore.NewMemoryStore("complaints-bucket")
	warehouse := &fakeWarehouse{}
	p := stagedPipeline(t, &fakeFetcher{byCompany: map[string][]models.RawRecord{
		"jpmorgan": raw(nil, ""),
	}}, warehouse, store, Config{Companies: []Company{{Name: "jpmorgan"}}})

	outcome, err := p.Run(context.Background())
	assert.ErrorIs(t, err, transform.ErrEmptyTransform)
	assert.Equal(t, 2, outcome.Skipped)
	assert.Zero(t, warehouse.setups)
}

func TestRunStagedAbortsOnSetupFailure(t *testing.T) {
	setupErr := errors.New("permission denied")
	store := objectstore.NewMemoryStore("complaints-bucket")
	warehouse := &fakeWarehouse{setupErr: setupErr}
	p := stagedPipeline(t, &fakeFetcher{byCompany: map[string][]models.RawRecord{
		"jpmorgan": raw(1),
	}}, warehouse, store, Config{Companies: []Company{{Name: "jpmorgan"}}})

	outcome, err := p.Run(context.Background())
	assert.ErrorIs(t, err, setupErr)
	assert.Equal(t, 1, outcome.Uploaded)
	assert.Empty(t, warehouse.loadedFiles)
}

func TestRunStagedRequiresStore(t *testing.T) {
	p := NewPipeline(&fakeFetcher{}, transform.NewTransformer(testLogger()), nil, nil, nil, &fakeWarehouse{}, Config{Mode: models.PipelineModeStaged}, testLogger())

	_, err := p.Run(context.Background())
	assert.Error(t, err)
}

func TestRunDirect(t *testing.T) {
	fetcher := &fakeFetcher{byRange: raw(10, 11, nil)}
	warehouse := &fakeWarehouse{}
	p := NewPipeline(fetcher, transform.NewTransformer(testLogger()), nil, nil, nil, warehouse, Config{
		Mode:         models.PipelineModeDirect,
		LookbackDays: 3,
	}, testLogger())
	p.now = func() time.Time { return time.Date(2025, time.March, 4, 12, 0, 0, 0, time.UTC) }

	outcome, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC), fetcher.rangeStart)
	assert.Equal(t, time.Date(2025, time.March, 4, 12, 0, 0, 0, time.UTC), fetcher.rangeEnd)
	assert.Equal(t, 2, outcome.Extracted)
	assert.Equal(t, 1, outcome.Skipped)
	assert.Equal(t, int64(2), outcome.Load.RowsLoaded)
	assert.Len(t, warehouse.records, 2)
	assert.Equal(t, 1, warehouse.setups)
}

func TestRunDirectWithNoRecords(t *testing.T) {
	warehouse := &fakeWarehouse{}
	p := NewPipeline(&fakeFetcher{}, transform.NewTransformer(testLogger()), nil, nil, nil, warehouse, Config{
		Mode: models.PipelineModeDirect,
	}, testLogger())

	outcome, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, outcome.Extracted)
	assert.Empty(t, warehouse.records)
	assert.NotNil(t, outcome.Validation)
}

func TestRunValidationPolicy(t *testing.T) {
	failed := &models.ValidationResult{
		TotalRows: 10,
		NullIDs:   2,
		Passed:    false,
		Issues:    []string{"Found 2 records with null complaint_id"},
	}

	t.Run("reported only", func(t *testing.T) {
		p := NewPipeline(&fakeFetcher{byRange: raw(1)}, transform.NewTransformer(testLogger()), nil, nil, nil,
			&fakeWarehouse{validation: failed}, Config{Mode: models.PipelineModeDirect}, testLogger())

		outcome, err := p.Run(context.Background())
		require.NoError(t, err)
		assert.False(t, outcome.Validation.Passed)
		assert.Equal(t, "Found 2 records with null complaint_id", outcome.ValidationError)
	})

	t.Run("escalated", func(t *testing.T) {
		p := NewPipeline(&fakeFetcher{byRange: raw(1)}, transform.NewTransformer(testLogger()), nil, nil, nil,
			&fakeWarehouse{validation: failed}, Config{Mode: models.PipelineModeDirect, FailOnValidationError: true}, testLogger())

		outcome, err := p.Run(context.Background())
		assert.ErrorIs(t, err, ErrValidationFailed)
		assert.NotNil(t, outcome.Validation)

		var postLoad *PostLoadError
		require.ErrorAs(t, err, &postLoad)
		assert.False(t, postLoad.Retryable())
	})

	t.Run("duplicates pass", func(t *testing.T) {
		p := NewPipeline(&fakeFetcher{byRange: raw(1)}, transform.NewTransformer(testLogger()), nil, nil, nil,
			&fakeWarehouse{validation: &models.ValidationResult{TotalRows: 4, DuplicateIDs: 2, Passed: true}},
			Config{Mode: models.PipelineModeDirect, FailOnValidationError: true}, testLogger())

		_, err := p.Run(context.Background())
		assert.NoError(t, err)
	})
}

func TestRunUnknownMode(t *testing.T) {
	p := NewPipeline(&fakeFetcher{}, transform.NewTransformer(testLogger()), nil, nil, nil, &fakeWarehouse{}, Config{Mode: "sideways"}, testLogger())

	_, err := p.Run(context.Background())
	assert.Error(t, err)
}

func TestRunLogsCarryRunIdentity(t *testing.T) {
	var (
		mu       sync.Mutex
		messages []ectologger.EctoLogMessage
	)
	logger := ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		mu.Lock()
		defer mu.Unlock()
		messages = append(messages, msg)
	})
	p := NewPipeline(&fakeFetcher{byRange: raw(1)}, transform.NewTransformer(testLogger()), nil, nil, nil,
		&fakeWarehouse{}, Config{Mode: models.PipelineModeDirect}, logger)

	ctx := appctx.SetRunID(context.Background(), "run-42")
	ctx = appctx.SetTrigger(ctx, "api")
	_, err := p.Run(ctx)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, messages)
	for _, msg := range messages {
		assert.Equal(t, "run-42", msg.Fields["run_id"], msg.Message)
		assert.Equal(t, "api", msg.Fields["trigger"], msg.Message)
	}
}

func TestRunLogsWithoutRunIdentity(t *testing.T) {
	var fields []map[string]any
	logger := ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		fields = append(fields, msg.Fields)
	})
	p := NewPipeline(&fakeFetcher{byRange: raw(1)}, transform.NewTransformer(testLogger()), nil, nil, nil,
		&fakeWarehouse{}, Config{Mode: models.PipelineModeDirect}, logger)

	_, err := p.Run(context.Background())
	require.NoError(t, err)
	for _, f := range fields {
		assert.NotContains(t, f, "run_id")
	}
}
