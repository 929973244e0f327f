package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DBStore keeps client records in MongoDB.
type DBStore struct {
	collection *mongo.Collection
	timeout    time.Duration
}

func NewDatabaseStore(collection *mongo.Collection, timeout time.Duration) *DBStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DBStore{collection: collection, timeout: timeout}
}

func wrapError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("unique key conflicts: %w", err)
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrClientNotFound
	}
	return fmt.Errorf("database operation failed: %w", err)
}

func (ds *DBStore) FindClient(ctx context.Context, clientID string) (*ClientRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, ds.timeout)
	defer cancel()

	if clientID == "" {
		return nil, ErrClientIDEmpty
	}

	var record ClientRecord
	startTime := time.Now()
	err := ds.collection.FindOne(ctx, bson.D{{Key: "client_id", Value: clientID}}).Decode(&record)
	logger.DebugF("client query cost: %v", time.Since(startTime))
	if err != nil {
		return nil, wrapError(err)
	}
	return &record, nil
}

func (ds *DBStore) SaveClient(ctx context.Context, record *ClientRecord) error {
	ctx, cancel := context.WithTimeout(ctx, ds.timeout)
	defer cancel()

	if record.ClientID == "" {
		return ErrClientIDEmpty
	}
	record.UpdatedAt = time.Now().UTC()

	filter := bson.D{{Key: "client_id", Value: record.ClientID}}
	result, err := ds.collection.ReplaceOne(ctx, filter, record, options.Replace().SetUpsert(true))
	if err != nil {
		return wrapError(err)
	}

	logger.InfoF("Client saved: client_id=%s, matched=%d, modified=%d, upserted=%v",
		record.ClientID,
		result.MatchedCount,
		result.ModifiedCount,
		result.UpsertedID != nil,
	)
	return nil
}

func (ds *DBStore) DeleteClient(ctx context.Context, clientID string) error {
	ctx, cancel := context.WithTimeout(ctx, ds.timeout)
	defer cancel()

	if clientID == "" {
		return ErrClientIDEmpty
	}

	result, err := ds.collection.DeleteOne(ctx, bson.D{{Key: "client_id", Value: clientID}})
	if err != nil {
		return wrapError(err)
	}
	if result.DeletedCount == 0 {
		return ErrClientNotFound
	}

	logger.InfoF("Client deleted: client_id=%s", clientID)
	return nil
}
