package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Collection names
const (
	BuoysCollection        = "buoys"
	ObservationsCollection = "observations"
)

// Cursor interface for mocking
type Cursor interface {
	All(ctx context.Context, results interface{}) error
	Close(ctx context.Context) error
}

// SingleResult interface for mocking
type SingleResult interface {
	Decode(v interface{}) error
}

// Collection is the subset of *mongo.Collection the stores use
type Collection interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (Cursor, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) SingleResult
	BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	CreateIndexes(ctx context.Context, models []mongo.IndexModel) error
}

// mongoCollection adapts *mongo.Collection to Collection
type mongoCollection struct {
	*mongo.Collection
}

func (m *mongoCollection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (Cursor, error) {
	cursor, err := m.Collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return cursor, nil
}

func (m *mongoCollection) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) SingleResult {
	return m.Collection.FindOne(ctx, filter, opts...)
}

func (m *mongoCollection) CreateIndexes(ctx context.Context, models []mongo.IndexModel) error {
	_, err := m.Collection.Indexes().CreateMany(ctx, models)
	return err
}

// MongoDB holds the MongoDB client and database
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
	timeout  time.Duration
}

// NewMongoDB creates a new MongoDB connection
func NewMongoDB(ctx context.Context, uri, dbName string, maxPoolSize uint64, timeout time.Duration, logger *zap.SugaredLogger) (*MongoDB, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(maxPoolSize).
		SetServerSelectionTimeout(timeout).
		SetAppName("obuoy")
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Infow("Connected to MongoDB", "database", dbName)

	return &MongoDB{
		Client:   client,
		Database: client.Database(dbName),
		timeout:  timeout,
	}, nil
}

// Collection returns a named collection of the database
func (m *MongoDB) Collection(name string) Collection {
	return &mongoCollection{Collection: m.Database.Collection(name)}
}

// HealthCheck performs a health check on the MongoDB connection
func (m *MongoDB) HealthCheck(ctx context.Context) error {
	return m.Client.Ping(ctx, nil)
}

// Close closes the MongoDB connection
func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}
