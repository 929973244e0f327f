package database

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	c "github.com/life-stream-dev/life-stream-go-mqtt-core/internal/config"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/logger"
	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/utils"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var Client *mongo.Client
var Database *mongo.Database
var Clients *mongo.Collection
var OperationTimeout time.Duration

type DBCloseCallback struct {
}

func NewDBCloseCallback() *DBCloseCallback {
	return &DBCloseCallback{}
}

func (dc *DBCloseCallback) Invoke(ctx context.Context) error {
	logger.InfoF("Closing database connection")
	ctx, cancel := context.WithTimeout(ctx, OperationTimeout)
	defer cancel()
	return Client.Disconnect(ctx)
}

// ConnectDatabase opens the MongoDB connection described by the database section of the
// config and prepares the client credential collection. The caller registers the returned
// callback with the Cleaner.
func ConnectDatabase(ctx context.Context) (*DBCloseCallback, error) {
	logger.DebugF("Connecting to database...")
	config, err := c.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("error occured while connecting to database: %v", err)
	}

	OperationTimeout = utils.ParseStringTime(config.Database.OperationTimeout)
	if OperationTimeout <= 0 {
		OperationTimeout = 5 * time.Second
	}

	encodedUser := url.QueryEscape(config.Database.Username)
	encodedPass := url.QueryEscape(config.Database.Password)
	databaseUrl := fmt.Sprintf("mongodb://%s:%s@%s:%d/?authSource=admin",
		encodedUser, encodedPass,
		config.Database.Host,
		config.Database.Port,
	)
	if config.Database.Username == "" {
		databaseUrl = fmt.Sprintf("mongodb://%s:%d/", config.Database.Host, config.Database.Port)
	}

	clientOptions := options.Client().ApplyURI(databaseUrl).SetAppName(config.AppName)
	clientOptions.SetMinPoolSize(config.Database.MinPoolSize)
	clientOptions.SetMaxPoolSize(config.Database.MaxPoolSize)
	clientOptions.SetMaxConnIdleTime(utils.ParseStringTime(config.Database.ConnectIdleTimeout))
	clientOptions.SetConnectTimeout(utils.ParseStringTime(config.Database.ConnectTimeout))
	clientOptions.SetSocketTimeout(utils.ParseStringTime(config.Database.SocketTimeout))
	clientOptions.SetHeartbeatInterval(utils.ParseStringTime(config.Database.Heartbeat))
	if config.Database.UseTLS {
		clientOptions.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	clientOptions.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				logger.DebugF("Database connection created: %+v", evt)
			case event.ConnectionClosed:
				logger.DebugF("Database connection closed: %+v", evt)
			}
		},
	})

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	Client, err = mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("error occured while connecting to database: %v", err)
	}

	if err = Client.Ping(connectCtx, nil); err != nil {
		_ = Client.Disconnect(connectCtx)
		return nil, fmt.Errorf("error occured while pinging database: %v", err)
	}

	Database = Client.Database(config.Database.Database)
	Clients = Database.Collection(ClientCollectionName)

	if err := EnsureIndexes(connectCtx, Clients); err != nil {
		_ = Client.Disconnect(connectCtx)
		return nil, err
	}

	return NewDBCloseCallback(), nil
}

// EnsureIndexes creates the unique client_id index if it does not exist yet.
func EnsureIndexes(ctx context.Context, collection *mongo.Collection) error {
	_, err := collection.Indexes().CreateOne(
		ctx,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "client_id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("clients_client_id_unique"),
		},
	)
	if err != nil {
		return fmt.Errorf("error occured while creating database indexes: %v", err)
	}
	return nil
}
