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

// ObservationStorage persists station observations
type ObservationStorage struct {
	coll    Collection
	timeout time.Duration
	now     func() time.Time
}

// NewObservationStorage creates an observation store on the observations collection
func NewObservationStorage(mongoDB *MongoDB) *ObservationStorage {
	return newObservationStorage(mongoDB.Collection(ObservationsCollection), mongoDB.timeout)
}

func newObservationStorage(coll Collection, timeout time.Duration) *ObservationStorage {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ObservationStorage{coll: coll, timeout: timeout, now: time.Now}
}

// EnsureIndexes creates the unique station/time index and the retention index
func (s *ObservationStorage) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.coll.CreateIndexes(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "station_id", Value: 1}, {Key: "observed_at", Value: -1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "observed_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create observation indexes: %w", err)
	}
	return nil
}

// InsertObservations stores observations not seen before and returns how many
// were new. Re-inserting the same station and time is a no-op.
func (s *ObservationStorage) InsertObservations(ctx context.Context, observations []core.Observation) (int, error) {
	if len(observations) == 0 {
		return 0, nil
	}

	models := make([]mongo.WriteModel, 0, len(observations))
	for _, o := range observations {
		o.ObservedAt = o.ObservedAt.UTC()
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"station_id": o.StationID, "observed_at": o.ObservedAt}).
			SetUpdate(bson.M{"$setOnInsert": o}).
			SetUpsert(true))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, fmt.Errorf("failed to insert observations: %w", err)
	}
	return int(result.UpsertedCount), nil
}

// LatestObservation returns the newest observation of a station or ErrNotFound
func (s *ObservationStorage) LatestObservation(ctx context.Context, stationID string) (*core.Observation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var obs core.Observation
	err := s.coll.FindOne(ctx,
		bson.M{"station_id": core.NormalizeStationID(stationID)},
		options.FindOne().SetSort(bson.D{{Key: "observed_at", Value: -1}}),
	).Decode(&obs)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find latest observation: %w", err)
	}
	return &obs, nil
}

// RecentObservations returns up to limit observations of a station, newest first
func (s *ObservationStorage) RecentObservations(ctx context.Context, stationID string, limit int) ([]core.Observation, error) {
	if limit <= 0 {
		limit = core.DefaultObservationLimit
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	findOptions := options.Find().
		SetSort(bson.D{{Key: "observed_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.coll.Find(ctx, bson.M{"station_id": core.NormalizeStationID(stationID)}, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to find observations: %w", err)
	}
	defer cursor.Close(ctx)

	observations := make([]core.Observation, 0, limit)
	if err := cursor.All(ctx, &observations); err != nil {
		return nil, fmt.Errorf("failed to decode observations: %w", err)
	}
	return observations, nil
}

// CleanupOld deletes observations older than retention
func (s *ObservationStorage) CleanupOld(ctx context.Context, retention time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*s.timeout)
	defer cancel()

	cutoff := s.now().UTC().Add(-retention)
	result, err := s.coll.DeleteMany(ctx, bson.M{"observed_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete old observations: %w", err)
	}
	return result.DeletedCount, nil
}
