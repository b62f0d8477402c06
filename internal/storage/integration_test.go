package storage

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opendiscourse/congress-data-service/internal/config"
)

// These tests talk to real servers and are skipped unless the matching
// environment variable is set.

func TestPostgreSQL_Integration(t *testing.T) {
	uri := os.Getenv("TEST_POSTGRES_URI")
	if uri == "" {
		t.Skip("TEST_POSTGRES_URI not set")
	}

	store, err := NewPostgreSQLStorage(config.StorageConfig{PostgresURI: uri})
	require.NoError(t, err)
	defer store.Close()

	recordRoundTrip(t, store)
	runStoreRoundTrip(t, store)
}

func TestMongoDB_Integration(t *testing.T) {
	uri := os.Getenv("TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("TEST_MONGODB_URI not set")
	}

	store, err := NewMongoDBStorage(config.StorageConfig{MongoDBURI: uri, MongoDatabase: "congress_test"})
	require.NoError(t, err)
	defer store.Close()

	recordRoundTrip(t, store)
	runStoreRoundTrip(t, store)
}

func TestDynamoDB_Integration(t *testing.T) {
	endpoint := os.Getenv("TEST_DYNAMODB_ENDPOINT")
	if endpoint == "" {
		t.Skip("TEST_DYNAMODB_ENDPOINT not set")
	}

	store, err := NewDynamoDBStorage(config.StorageConfig{
		Region:    "us-west-2",
		Endpoint:  endpoint,
		TableName: "congress_test",
	})
	require.NoError(t, err)
	defer store.Close()

	recordRoundTrip(t, store)
	runStoreRoundTrip(t, store)
}
