package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pawmark/registry-engine/pkg/apperrors"
	"github.com/pawmark/registry-engine/pkg/models"
)

type locationFixture struct {
	locations *mockLocationRepo
	svc       LocationResolverService
}

func newLocationFixture() *locationFixture {
	locations := newMockLocationRepo()
	canonical := NewCanonicalService(newMockPersonRepo(), newMockAnimalRepo(), locations, 50, zap.NewNop())
	svc := NewLocationResolverService(passthroughTx{}, locations, canonical, matchingConfig(), zap.NewNop())
	return &locationFixture{locations: locations, svc: svc}
}

func floatPtr(f float64) *float64 { return &f }

func TestLocationResolver_CreatesPendingWithoutCoordinates(t *testing.T) {
	f := newLocationFixture()

	id, err := f.svc.FindOrCreate(context.Background(), LocationInput{
		Address:      "123 North Main Street",
		SourceSystem: "intake",
	})
	require.NoError(t, err)

	loc := f.locations.locations[id]
	assert.Equal(t, "123 n main st", loc.NormalizedAddress)
	assert.Equal(t, "123 North Main Street", loc.RawAddress)
	assert.Equal(t, models.GeocodePending, loc.GeocodeStatus)
	assert.False(t, loc.HasCoordinates())
}

func TestLocationResolver_SuppliedCoordinatesSkipGeocoding(t *testing.T) {
	f := newLocationFixture()

	id, err := f.svc.FindOrCreate(context.Background(), LocationInput{
		Address:      "123 Main St",
		Latitude:     floatPtr(37.7749),
		Longitude:    floatPtr(-122.4194),
		SourceSystem: "survey",
	})
	require.NoError(t, err)

	loc := f.locations.locations[id]
	assert.Equal(t, models.GeocodeSuccess, loc.GeocodeStatus)
	assert.Equal(t, "supplied", loc.Precision)
	assert.True(t, loc.HasCoordinates())
}

func TestLocationResolver_EquivalentAddressFormsMatch(t *testing.T) {
	f := newLocationFixture()
	ctx := context.Background()

	first, err := f.svc.FindOrCreate(ctx, LocationInput{Address: "123 North Main Street", SourceSystem: "a"})
	require.NoError(t, err)
	second, err := f.svc.FindOrCreate(ctx, LocationInput{Address: "123 N. Main St.", SourceSystem: "b"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, f.locations.locations, 1)
}

func TestLocationResolver_ProximityMatch(t *testing.T) {
	f := newLocationFixture()
	ctx := context.Background()

	first, err := f.svc.FindOrCreate(ctx, LocationInput{
		Address:      "123 Main St",
		Latitude:     floatPtr(37.7749),
		Longitude:    floatPtr(-122.4194),
		SourceSystem: "survey",
	})
	require.NoError(t, err)

	// Different address text, same point: the proximity check treats it as
	// the same place.
	second, err := f.svc.FindOrCreate(ctx, LocationInput{
		Address:      "behind 123 Main",
		Latitude:     floatPtr(37.7749),
		Longitude:    floatPtr(-122.4194),
		SourceSystem: "report",
	})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, f.locations.locations, 1)
}

func TestLocationResolver_EnrichFillsCoordinates(t *testing.T) {
	f := newLocationFixture()
	ctx := context.Background()

	id, err := f.svc.FindOrCreate(ctx, LocationInput{Address: "123 Main St", SourceSystem: "intake"})
	require.NoError(t, err)
	assert.Equal(t, models.GeocodePending, f.locations.locations[id].GeocodeStatus)

	_, err = f.svc.FindOrCreate(ctx, LocationInput{
		Address:      "123 Main St",
		Latitude:     floatPtr(37.7749),
		Longitude:    floatPtr(-122.4194),
		SourceSystem: "survey",
	})
	require.NoError(t, err)

	loc := f.locations.locations[id]
	assert.True(t, loc.HasCoordinates())
	assert.Equal(t, models.GeocodeSuccess, loc.GeocodeStatus)
	assert.Equal(t, "supplied", loc.Precision)
}

func TestLocationResolver_EmptyAddressRejected(t *testing.T) {
	f := newLocationFixture()

	_, err := f.svc.FindOrCreate(context.Background(), LocationInput{Address: "  ", SourceSystem: "intake"})
	assert.ErrorIs(t, err, apperrors.ErrNoUsableIdentifier)
	assert.Empty(t, f.locations.locations)
}

func TestLocationResolver_ResolvesThroughMerge(t *testing.T) {
	f := newLocationFixture()
	ctx := context.Background()

	id, err := f.svc.FindOrCreate(ctx, LocationInput{Address: "123 Main St", SourceSystem: "intake"})
	require.NoError(t, err)

	survivor := &models.Location{NormalizedAddress: "123 main st unit b"}
	require.NoError(t, f.locations.Create(ctx, survivor))
	f.locations.locations[id].MergedInto = &survivor.ID

	got, err := f.svc.FindOrCreate(ctx, LocationInput{Address: "123 Main St", SourceSystem: "intake"})
	require.NoError(t, err)
	assert.Equal(t, survivor.ID, got)
}
