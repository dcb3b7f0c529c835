package sessionstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func newTestMongoStore(t *testing.T, maxBytes int) *MongoStore {
	t.Helper()
	url := os.Getenv("MONGODB_TEST_URL")
	if url == "" {
		t.Skip("Skipping MongoDB test: MONGODB_TEST_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := mongo.Connect(options.Client().ApplyURI(url).SetConnectTimeout(2 * time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })
	if err := client.Ping(ctx, nil); err != nil {
		t.Skipf("Skipping MongoDB test: %v", err)
	}

	store, err := NewMongoStore(ctx, client.Database("sessionstore_test"), MongoConfig{MaxSessionBytes: maxBytes})
	require.NoError(t, err)
	return store
}

func TestMongoStore(t *testing.T) {
	runBackendContract(t, newTestMongoStore(t, 0), contractOptions{})
}

func TestMongoStore_MaxSessionBytes(t *testing.T) {
	runMaxSessionBytes(t, newTestMongoStore(t, 0), newTestMongoStore(t, 500))
}

func TestMongoStore_CleanupWithinTick(t *testing.T) {
	runCleanupWithinTick(t, newTestMongoStore(t, 0), time.Millisecond)
}
