package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BathrobeBat/noise-sensor/pkg/database"
	"github.com/BathrobeBat/noise-sensor/pkg/memstore"
	"github.com/BathrobeBat/noise-sensor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testCandidate(sensorID, locationID int64) *models.Candidate {
	return &models.Candidate{
		ExternalSensorID:   sensorID,
		ExternalLocationID: locationID,
		Country:            "DE",
		Latitude:           52.5,
		Longitude:          13.4,
		Altitude:           30,
		Timestamp:          time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		LAeq:               50,
		LAmax:              60,
		LAmin:              40,
	}
}

// racingStore lets another writer insert the row between the lookup and the
// create of the upserter
type racingStore struct {
	*memstore.Store
	once sync.Once
}

func (r *racingStore) CreateLocation(ctx context.Context, loc *models.Location) error {
	r.once.Do(func() {
		other := &models.Location{ExternalID: loc.ExternalID, Country: "WINNER"}
		_ = r.Store.CreateLocation(ctx, other)
	})
	return r.Store.CreateLocation(ctx, loc)
}

// conflictingStore fails sensor creation on an unrelated constraint
type conflictingStore struct {
	*memstore.Store
}

func (c *conflictingStore) CreateSensor(ctx context.Context, sensor *models.Sensor) error {
	return &database.UniqueViolationError{Constraint: "sensors_pkey"}
}

type brokenStore struct {
	*memstore.Store
}

func (b *brokenStore) GetLocationByExternalID(ctx context.Context, externalID int64) (*models.Location, error) {
	return nil, errors.New("connection reset")
}

func TestUpsert_CreatesOnce(t *testing.T) {
	store := memstore.New()
	u := NewUpserter(store, zap.NewNop())
	ctx := context.Background()

	loc1, sensor1, err := u.Upsert(ctx, testCandidate(1, 10))
	require.NoError(t, err)
	assert.Equal(t, models.SourceFeed, sensor1.Source)
	assert.Equal(t, loc1.ID, sensor1.LocationID)
	assert.Equal(t, int64(10), *loc1.ExternalID)

	loc2, sensor2, err := u.Upsert(ctx, testCandidate(1, 10))
	require.NoError(t, err)
	assert.Equal(t, loc1.ID, loc2.ID)
	assert.Equal(t, sensor1.ID, sensor2.ID)

	locations, sensors, _, _ := store.Counts()
	assert.Equal(t, 1, locations)
	assert.Equal(t, 1, sensors)
}

func TestUpsert_ExistingRowsAreNotOverwritten(t *testing.T) {
	store := memstore.New()
	u := NewUpserter(store, zap.NewNop())
	ctx := context.Background()

	first, _, err := u.Upsert(ctx, testCandidate(1, 10))
	require.NoError(t, err)

	moved := testCandidate(1, 10)
	moved.Latitude = 0
	moved.Country = "FR"

	again, _, err := u.Upsert(ctx, moved)
	require.NoError(t, err)
	assert.Equal(t, first.Latitude, again.Latitude)
	assert.Equal(t, "DE", again.Country)
}

func TestResolveSensor_KeepsOriginalLocation(t *testing.T) {
	store := memstore.New()
	u := NewUpserter(store, zap.NewNop())
	ctx := context.Background()

	loc, sensor, err := u.Upsert(ctx, testCandidate(1, 10))
	require.NoError(t, err)

	newLoc, again, err := u.Upsert(ctx, testCandidate(1, 11))
	require.NoError(t, err)
	assert.NotEqual(t, loc.ID, newLoc.ID)
	assert.Equal(t, sensor.ID, again.ID)
	assert.Equal(t, loc.ID, again.LocationID)
}

func TestResolveLocation_ConcurrentCallersConverge(t *testing.T) {
	store := memstore.New()
	u := NewUpserter(store, zap.NewNop())
	ctx := context.Background()

	const n = 32
	ids := make(chan string, n)
	errs := make(chan error, n)

	var start sync.WaitGroup
	start.Add(1)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start.Wait()
			loc, err := u.ResolveLocation(ctx, testCandidate(1, 99))
			if err != nil {
				errs <- err
				return
			}
			ids <- loc.ID.String()
		}()
	}
	start.Done()
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}

	seen := make(map[string]struct{})
	for id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 1)

	locations, _, _, _ := store.Counts()
	assert.Equal(t, 1, locations)
}

func TestResolveLocation_RaceLoserReadsWinner(t *testing.T) {
	store := &racingStore{Store: memstore.New()}
	u := NewUpserter(store, zap.NewNop())

	loc, err := u.ResolveLocation(context.Background(), testCandidate(1, 10))

	require.NoError(t, err)
	assert.Equal(t, "WINNER", loc.Country)

	locations, _, _, _ := store.Counts()
	assert.Equal(t, 1, locations)
}

func TestResolveSensor_UnexpectedConstraintPropagates(t *testing.T) {
	store := &conflictingStore{Store: memstore.New()}
	u := NewUpserter(store, zap.NewNop())

	_, _, err := u.Upsert(context.Background(), testCandidate(1, 10))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnexpectedConstraint)
}

func TestResolveLocation_LookupFailurePropagates(t *testing.T) {
	store := &brokenStore{Store: memstore.New()}
	u := NewUpserter(store, zap.NewNop())

	_, err := u.ResolveLocation(context.Background(), testCandidate(1, 10))

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnexpectedConstraint)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRegisterDirect(t *testing.T) {
	store := memstore.New()
	u := NewUpserter(store, zap.NewNop())
	ctx := context.Background()

	reg := DirectRegistration{Country: "BE", Latitude: 50.85, Longitude: 4.35, Altitude: 13, Indoor: true}

	s1, l1, err := u.RegisterDirect(ctx, reg)
	require.NoError(t, err)
	s2, l2, err := u.RegisterDirect(ctx, reg)
	require.NoError(t, err)

	assert.Equal(t, models.SourceDirect, s1.Source)
	assert.Nil(t, s1.ExternalID)
	assert.Nil(t, l1.ExternalID)
	assert.True(t, l1.Indoor)
	assert.NotEqual(t, s1.ID, s2.ID)
	assert.NotEqual(t, l1.ID, l2.ID)
}
