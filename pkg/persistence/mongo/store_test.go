package mongo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/Sokol111/ecommerce-resilience/pkg/persistence"
)

type mockCollection struct {
	mock.Mock
}

func (m *mockCollection) FindOne(ctx context.Context, filter any, _ ...options.Lister[options.FindOneOptions]) *mongodriver.SingleResult {
	args := m.Called(ctx, filter)
	return args.Get(0).(*mongodriver.SingleResult)
}

func (m *mockCollection) ReplaceOne(ctx context.Context, filter any, replacement any, _ ...options.Lister[options.ReplaceOptions]) (*mongodriver.UpdateResult, error) {
	args := m.Called(ctx, filter, replacement)
	res, _ := args.Get(0).(*mongodriver.UpdateResult)
	return res, args.Error(1)
}

func (m *mockCollection) DeleteOne(ctx context.Context, filter any, _ ...options.Lister[options.DeleteOneOptions]) (*mongodriver.DeleteResult, error) {
	args := m.Called(ctx, filter)
	res, _ := args.Get(0).(*mongodriver.DeleteResult)
	return res, args.Error(1)
}

func idFilter(key string) bson.D {
	return bson.D{{Key: "_id", Value: key}}
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// ============================================================================
// Get
// ============================================================================

func TestStore_Get(t *testing.T) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Second)

	tests := []struct {
		name    string
		result  *mongodriver.SingleResult
		want    []byte
		wantErr error
	}{
		{
			name:   "found without expiry",
			result: mongodriver.NewSingleResultFromDocument(document{Key: "q", Value: []byte("[]")}, nil, nil),
			want:   []byte("[]"),
		},
		{
			name:   "found before expiry",
			result: mongodriver.NewSingleResultFromDocument(document{Key: "q", Value: []byte("[1]"), ExpiresAt: &future}, nil, nil),
			want:   []byte("[1]"),
		},
		{
			name:    "expired but not yet reaped",
			result:  mongodriver.NewSingleResultFromDocument(document{Key: "q", Value: []byte("[1]"), ExpiresAt: &past}, nil, nil),
			wantErr: persistence.ErrNotFound,
		},
		{
			name:    "missing",
			result:  mongodriver.NewSingleResultFromDocument(bson.D{}, mongodriver.ErrNoDocuments, nil),
			wantErr: persistence.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coll := &mockCollection{}
			coll.On("FindOne", mock.Anything, idFilter("q")).Return(tt.result)
			s := newStore(coll, time.Second)
			s.now = fixedNow(now)

			got, err := s.Get(context.Background(), "q")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			coll.AssertExpectations(t)
		})
	}
}

func TestStore_Get_DriverError(t *testing.T) {
	boom := errors.New("server selection timeout")
	coll := &mockCollection{}
	coll.On("FindOne", mock.Anything, idFilter("q")).Return(mongodriver.NewSingleResultFromDocument(bson.D{}, boom, nil))

	_, err := newStore(coll, 0).Get(context.Background(), "q")

	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, persistence.ErrNotFound)
}

func TestStore_Get_AppliesQueryTimeout(t *testing.T) {
	coll := &mockCollection{}
	coll.On("FindOne", mock.MatchedBy(func(ctx context.Context) bool {
		deadline, ok := ctx.Deadline()
		return ok && time.Until(deadline) <= 2*time.Second
	}), idFilter("q")).Return(mongodriver.NewSingleResultFromDocument(document{Key: "q"}, nil, nil))

	_, err := newStore(coll, 2*time.Second).Get(context.Background(), "q")

	require.NoError(t, err)
	coll.AssertExpectations(t)
}

// ============================================================================
// Set / Remove
// ============================================================================

func TestStore_Set(t *testing.T) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		ttl           time.Duration
		wantExpiresAt *time.Time
	}{
		{name: "with ttl", ttl: time.Hour, wantExpiresAt: func() *time.Time { e := now.Add(time.Hour); return &e }()},
		{name: "without ttl", ttl: 0, wantExpiresAt: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coll := &mockCollection{}
			coll.On("ReplaceOne", mock.Anything, idFilter("q"), document{
				Key:       "q",
				Value:     []byte(`[{"id":"a"}]`),
				UpdatedAt: now,
				ExpiresAt: tt.wantExpiresAt,
			}).Return(&mongodriver.UpdateResult{UpsertedCount: 1}, nil)
			s := newStore(coll, time.Second)
			s.now = fixedNow(now)

			err := s.Set(context.Background(), "q", []byte(`[{"id":"a"}]`), tt.ttl)

			require.NoError(t, err)
			coll.AssertExpectations(t)
		})
	}
}

func TestStore_Set_Error(t *testing.T) {
	boom := errors.New("not primary")
	coll := &mockCollection{}
	coll.On("ReplaceOne", mock.Anything, idFilter("q"), mock.Anything).Return(nil, boom)

	err := newStore(coll, 0).Set(context.Background(), "q", nil, 0)

	assert.ErrorIs(t, err, boom)
}

func TestStore_Remove(t *testing.T) {
	coll := &mockCollection{}
	coll.On("DeleteOne", mock.Anything, idFilter("q")).Return(&mongodriver.DeleteResult{DeletedCount: 0}, nil)

	err := newStore(coll, 0).Remove(context.Background(), "q")

	require.NoError(t, err, "removing a missing key succeeds")
	coll.AssertExpectations(t)
}
