package warehouse

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/database"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/models"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/objectstore"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/repositories"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/testcontainers"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func complaint(id, company, dateReceived string) models.Complaint {
	return models.Complaint{ComplaintID: &id, Company: &company, DateReceived: &dateReceived}
}

func TestIntegrationWarehouse(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	logger := getTestLogger()

	services := testcontainers.NewServiceManager(ctx)
	require.NoError(t, services.StartPostgres())
	t.Cleanup(func() { _ = services.Cleanup() })

	sqlxDB, err := database.Open(ctx, services.Postgres, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlxDB.Close() })

	migrations := database.NewMigrationService(logger, &database.MigrationConfig{MigrationFolderPath: "../../db/pg"})
	require.NoError(t, migrations.MigratePostgres(sqlxDB, services.Postgres.Name))

	pool, err := database.OpenPool(ctx, services.Postgres, logger)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	db := database.NewDatabaseInstance(sqlxDB, logger)
	store := objectstore.NewMemoryStore("complaints-bucket")
	w := NewWarehouse(db, NewPgxCopier(pool), repositories.NewStageRepository(db, logger), store, Config{
		Database:  "CONSUMER_DATA",
		Schema:    "PUBLIC",
		Warehouse: "COMPUTE_WH",
		Table:     "CONSUMER_COMPLAINTS",
		Stage:     "CONSUMER_COMPLAINTS_S3_STAGE",
		Bucket:    "complaints-bucket",
		Prefix:    testPrefix,
		BatchSize: 2,
	}, logger)

	t.Run("setup is repeatable", func(t *testing.T) {
		require.NoError(t, w.Setup(ctx))
		require.NoError(t, w.Setup(ctx))

		var count int
		require.NoError(t, sqlxDB.GetContext(ctx, &count, "SELECT COUNT(*) FROM ingest_stages WHERE name = $1", "CONSUMER_COMPLAINTS_S3_STAGE"))
		assert.Equal(t, 1, count)
	})

	records := []models.Complaint{
		complaint("1", "Acme", "2024-01-15T12:00:00-05:00"),
		complaint("2", "Acme", "2024-01-16"),
		complaint("3", "Globex", "2024-02-01"),
	}

	t.Run("loading the same records twice duplicates them", func(t *testing.T) {
		loaded, err := w.LoadRecords(ctx, records)
		require.NoError(t, err)
		assert.Equal(t, int64(3), loaded)

		first, err := w.Validate(ctx)
		require.NoError(t, err)

		loaded, err = w.LoadRecords(ctx, records)
		require.NoError(t, err)
		assert.Equal(t, int64(3), loaded)

		second, err := w.Validate(ctx)
		require.NoError(t, err)
		assert.Equal(t, first.TotalRows+3, second.TotalRows)
		assert.Equal(t, first.DuplicateIDs+int64(len(records)), second.DuplicateIDs)
		assert.True(t, second.Passed)
		require.NotNil(t, second.MinDateReceived)
		assert.Equal(t, "2024-01-15", *second.MinDateReceived)
		assert.Equal(t, "Acme", second.TopCompanies[0].Company)
	})

	t.Run("staged files load through copy", func(t *testing.T) {
		var b strings.Builder
		b.WriteString(strings.Join(models.StagedColumns, ",") + "\n")
		for i := 0; i < 5; i++ {
			row := make([]string, len(models.StagedColumns))
			row[columnIndex("complaint_id")] = fmt.Sprintf("s%d", i)
			row[columnIndex("company")] = "Initech"
			row[columnIndex("date_received")] = "2024-03-01"
			if i == 4 {
				row[columnIndex("date_received")] = "yesterday"
			}
			b.WriteString(strings.Join(row, ",") + "\n")
		}
		key := testPrefix + "/20240301_000000_initech_complaints.csv"
		_, err := store.Put(ctx, key, strings.NewReader(b.String()), int64(b.Len()), "text/csv")
		require.NoError(t, err)

		stats, results, err := w.LoadFromFiles(ctx, []string{key})
		require.NoError(t, err)
		assert.Equal(t, int64(4), stats.RowsLoaded)
		assert.Equal(t, int64(1), stats.Errors)
		assert.Equal(t, models.FileLoadStatusPartiallyLoaded, results[0].Status)

		var count int
		require.NoError(t, sqlxDB.GetContext(ctx, &count, `SELECT COUNT(*) FROM "public"."consumer_complaints" WHERE company = 'Initech'`))
		assert.Equal(t, 4, count)
	})

	t.Run("null ids fail validation", func(t *testing.T) {
		_, err := sqlxDB.ExecContext(ctx, `INSERT INTO "public"."consumer_complaints" (company) VALUES ('NoID')`)
		require.NoError(t, err)

		result, err := w.Validate(ctx)
		require.NoError(t, err)
		assert.False(t, result.Passed)
		assert.Equal(t, int64(1), result.NullIDs)
		assert.NotEmpty(t, result.Issues)
	})
}
