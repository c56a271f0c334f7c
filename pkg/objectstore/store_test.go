package objectstore_test

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/objectstore"
	"github.com/MarkPhamm/consumer-complaint-pipeline/pkg/testcontainers"
)

func TestIntegrationMinioStore(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	services := testcontainers.NewServiceManager(ctx)
	require.NoError(t, services.StartMinio())
	t.Cleanup(func() { _ = services.Cleanup() })

	store, err := objectstore.NewMinioStore(objectstore.Config{
		Endpoint:  services.MinioEndpoint,
		Region:    "us-east-1",
		AccessKey: services.MinioAccessKey,
		SecretKey: services.MinioSecretKey,
		Bucket:    "complaints-bucket",
	}, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	require.NoError(t, err)

	t.Run("missing bucket fails ping", func(t *testing.T) {
		assert.Error(t, store.Ping(ctx))
	})

	require.NoError(t, store.EnsureBucket(ctx))
	require.NoError(t, store.EnsureBucket(ctx))
	require.NoError(t, store.Ping(ctx))

	t.Run("put list get remove", func(t *testing.T) {
		put := func(key, body string) {
			info, err := store.Put(ctx, key, strings.NewReader(body), int64(len(body)), "text/csv")
			require.NoError(t, err)
			assert.Equal(t, key, info.Key)
			assert.Equal(t, int64(len(body)), info.Size)
		}
		put("consumer_complaints/20240101_000000_acme_complaints.csv", "id\n1\n")
		put("consumer_complaints/20240102_000000_acme_complaints.csv", "id\n2\n3\n")
		put("elsewhere/notes.txt", "x")

		objects, err := store.List(ctx, "consumer_complaints/")
		require.NoError(t, err)
		require.Len(t, objects, 2)
		assert.Equal(t, "consumer_complaints/20240101_000000_acme_complaints.csv", objects[0].Key)
		assert.Equal(t, int64(8), objects[1].Size)
		assert.False(t, objects[0].LastModified.IsZero())

		body, err := store.Get(ctx, "consumer_complaints/20240102_000000_acme_complaints.csv")
		require.NoError(t, err)
		data, err := io.ReadAll(body)
		require.NoError(t, body.Close())
		require.NoError(t, err)
		assert.Equal(t, "id\n2\n3\n", string(data))

		require.NoError(t, store.Remove(ctx, "consumer_complaints/20240101_000000_acme_complaints.csv"))
		objects, err = store.List(ctx, "consumer_complaints/")
		require.NoError(t, err)
		require.Len(t, objects, 1)
		assert.Equal(t, "consumer_complaints/20240102_000000_acme_complaints.csv", objects[0].Key)
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := store.Get(ctx, "consumer_complaints/missing.csv")
		assert.ErrorIs(t, err, objectstore.ErrObjectNotFound)
	})
}
