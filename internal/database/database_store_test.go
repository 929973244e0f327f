package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestDBStore(t *testing.T) {
	uri := os.Getenv("MQTT_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("MQTT_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	defer func() { _ = client.Disconnect(context.Background()) }()

	db := client.Database("mqtt_test_" + uuid.NewString()[:8])
	defer func() { _ = db.Drop(context.Background()) }()

	collection := db.Collection(ClientCollectionName)
	require.NoError(t, EnsureIndexes(ctx, collection))

	store := NewDatabaseStore(collection, 5*time.Second)
	record := &ClientRecord{ClientID: "sensor-1", Username: "alice"}
	require.NoError(t, record.SetPassword("secret"))
	require.NoError(t, store.SaveClient(ctx, record))

	found, err := store.FindClient(ctx, "sensor-1")
	require.NoError(t, err)
	assert.Equal(t, "alice", found.Username)
	assert.True(t, found.CheckCredentials("alice", []byte("secret")))

	record.Disabled = true
	require.NoError(t, store.SaveClient(ctx, record))
	found, err = store.FindClient(ctx, "sensor-1")
	require.NoError(t, err)
	assert.True(t, found.Disabled)

	require.NoError(t, store.DeleteClient(ctx, "sensor-1"))
	_, err = store.FindClient(ctx, "sensor-1")
	assert.ErrorIs(t, err, ErrClientNotFound)
	assert.ErrorIs(t, store.DeleteClient(ctx, "sensor-1"), ErrClientNotFound)
}
