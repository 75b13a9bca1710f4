package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"obuoy/core"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// BuoyStorage persists buoy stations
type BuoyStorage struct {
	coll    Collection
	timeout time.Duration
	now     func() time.Time
}

// NewBuoyStorage creates a buoy store on the buoys collection
func NewBuoyStorage(mongoDB *MongoDB) *BuoyStorage {
	return newBuoyStorage(mongoDB.Collection(BuoysCollection), mongoDB.timeout)
}

func newBuoyStorage(coll Collection, timeout time.Duration) *BuoyStorage {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BuoyStorage{coll: coll, timeout: timeout, now: time.Now}
}

// EnsureIndexes creates the indexes the buoy queries rely on
func (bs *BuoyStorage) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, bs.timeout)
	defer cancel()

	err := bs.coll.CreateIndexes(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "active", Value: 1}, {Key: "_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create buoy indexes: %w", err)
	}
	return nil
}

// ListBuoys returns buoys ordered by station id
func (bs *BuoyStorage) ListBuoys(ctx context.Context, activeOnly bool) ([]core.Buoy, error) {
	ctx, cancel := context.WithTimeout(ctx, bs.timeout)
	defer cancel()

	filter := bson.M{}
	if activeOnly {
		filter["active"] = true
	}

	cursor, err := bs.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to find buoys: %w", err)
	}
	defer cursor.Close(ctx)

	buoys := make([]core.Buoy, 0)
	if err := cursor.All(ctx, &buoys); err != nil {
		return nil, fmt.Errorf("failed to decode buoys: %w", err)
	}
	return buoys, nil
}

// GetBuoy returns one buoy or ErrNotFound
func (bs *BuoyStorage) GetBuoy(ctx context.Context, id string) (*core.Buoy, error) {
	ctx, cancel := context.WithTimeout(ctx, bs.timeout)
	defer cancel()

	var buoy core.Buoy
	err := bs.coll.FindOne(ctx, bson.M{"_id": core.NormalizeStationID(id)}).Decode(&buoy)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find buoy: %w", err)
	}
	return &buoy, nil
}

// UpsertBuoys normalizes, validates and writes buoys, replacing existing
// stations with the same id. It returns the number inserted and updated.
func (bs *BuoyStorage) UpsertBuoys(ctx context.Context, buoys []core.Buoy) (inserted, updated int64, err error) {
	if len(buoys) == 0 {
		return 0, 0, nil
	}

	now := bs.now().UTC()
	models := make([]mongo.WriteModel, 0, len(buoys))
	for i := range buoys {
		b := buoys[i]
		b.Normalize()
		if err := b.Validate(); err != nil {
			return 0, 0, err
		}
		b.UpdatedAt = now
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": b.ID}).
			SetReplacement(b).
			SetUpsert(true))
	}

	ctx, cancel := context.WithTimeout(ctx, bs.timeout)
	defer cancel()

	result, err := bs.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to upsert buoys: %w", err)
	}
	return result.UpsertedCount, result.ModifiedCount, nil
}
