package storage

import (
	"context"
	"time"

	"obuoy/core"

	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mockCollection struct {
	mock.Mock
}

func (m *mockCollection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (Cursor, error) {
	args := m.Called(ctx, filter)
	if c, ok := args.Get(0).(Cursor); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockCollection) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) SingleResult {
	args := m.Called(ctx, filter)
	return args.Get(0).(SingleResult)
}

func (m *mockCollection) BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error) {
	args := m.Called(ctx, models)
	if r, ok := args.Get(0).(*mongo.BulkWriteResult); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockCollection) DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	args := m.Called(ctx, filter)
	if r, ok := args.Get(0).(*mongo.DeleteResult); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockCollection) CreateIndexes(ctx context.Context, models []mongo.IndexModel) error {
	args := m.Called(ctx, models)
	return args.Error(0)
}

func cursorOf(docs ...interface{}) *mongo.Cursor {
	cursor, err := mongo.NewCursorFromDocuments(docs, nil, nil)
	if err != nil {
		panic(err)
	}
	return cursor
}

func floatPtr(v float64) *float64 {
	return &v
}

func testObservation(id string, ts time.Time) core.Observation {
	return core.Observation{
		StationID:  id,
		ObservedAt: ts,
		WaveHeight: floatPtr(1.5),
		WaterTemp:  floatPtr(24.0),
	}
}
