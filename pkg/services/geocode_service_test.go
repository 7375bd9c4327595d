package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pawmark/registry-engine/pkg/geocode"
	"github.com/pawmark/registry-engine/pkg/models"
	"github.com/pawmark/registry-engine/pkg/retry"
)

// fakeGeocodeClient answers from a canned table, keyed by raw address.
type fakeGeocodeClient struct {
	results map[string]*geocode.Result
	errs    map[string]error
	calls   map[string]int
}

func newFakeGeocodeClient() *fakeGeocodeClient {
	return &fakeGeocodeClient{
		results: make(map[string]*geocode.Result),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (c *fakeGeocodeClient) Geocode(_ context.Context, rawAddress string) (*geocode.Result, error) {
	c.calls[rawAddress]++
	if err, ok := c.errs[rawAddress]; ok {
		return nil, err
	}
	if res, ok := c.results[rawAddress]; ok {
		return res, nil
	}
	return nil, &geocode.Error{Message: "no answer", Retryable: true}
}

type geocodeFixture struct {
	locations *mockLocationRepo
	history   *mockMergeHistoryRepo
	client    *fakeGeocodeClient
	svc       GeocodeService
}

func newGeocodeFixture() *geocodeFixture {
	f := &geocodeFixture{
		locations: newMockLocationRepo(),
		history:   &mockMergeHistoryRepo{},
		client:    newFakeGeocodeClient(),
	}
	logger := zap.NewNop()
	canonical := NewCanonicalService(newMockPersonRepo(), newMockAnimalRepo(), f.locations, 50, logger)
	merges := NewMergeService(passthroughTx{}, newMockPersonRepo(), newMockAnimalRepo(), f.locations,
		&mockRelationshipRepo{}, &mockObservationRepo{}, &mockProcedureRepo{}, f.history, canonical, logger)

	f.svc = NewGeocodeService(passthroughTx{}, f.locations, merges, f.client, matchingConfig(), logger)
	// Fast backoff so the transient-failure test does not sleep for real.
	f.svc.(*geocodeService).retryCfg = &retry.Config{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1,
	}
	return f
}

func (f *geocodeFixture) addPending(t *testing.T, raw, normalized string) *models.Location {
	t.Helper()
	loc := &models.Location{
		RawAddress:        raw,
		NormalizedAddress: normalized,
		GeocodeStatus:     models.GeocodePending,
		SourceSystem:      "feed-a",
	}
	require.NoError(t, f.locations.Create(context.Background(), loc))
	return loc
}

func TestGeocodeService_StoresResult(t *testing.T) {
	f := newGeocodeFixture()
	loc := f.addPending(t, "456 Oak Avenue", "456 oak ave")
	f.client.results["456 Oak Avenue"] = &geocode.Result{
		CanonicalAddress: "456 Oak Ave",
		Latitude:         45.52,
		Longitude:        -122.68,
		Precision:        "rooftop",
	}

	stats, err := f.svc.EnrichPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Geocoded)
	assert.Zero(t, stats.Merged)
	assert.Zero(t, stats.Failed)

	stored := f.locations.locations[loc.ID]
	assert.Equal(t, models.GeocodeSuccess, stored.GeocodeStatus)
	assert.Equal(t, "456 oak ave", stored.NormalizedAddress)
	require.NotNil(t, stored.Latitude)
	assert.InDelta(t, 45.52, *stored.Latitude, 0.0001)
	assert.Equal(t, "rooftop", stored.Precision)
}

func TestGeocodeService_UnresolvableAddressMarkedFailed(t *testing.T) {
	f := newGeocodeFixture()
	loc := f.addPending(t, "not a real place", "not a real place")
	f.client.errs["not a real place"] = &geocode.Error{Message: "no match", Retryable: false}

	stats, err := f.svc.EnrichPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Geocoded)

	assert.Equal(t, models.GeocodeFailed, f.locations.locations[loc.ID].GeocodeStatus)
	// A permanent rejection is never retried.
	assert.Equal(t, 1, f.client.calls["not a real place"])
}

func TestGeocodeService_TransientFailureStaysPending(t *testing.T) {
	f := newGeocodeFixture()
	loc := f.addPending(t, "456 Oak Avenue", "456 oak ave")
	f.client.errs["456 Oak Avenue"] = &geocode.Error{Message: "provider down", Retryable: true}

	stats, err := f.svc.EnrichPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	// Row is untouched so the next pass picks it up again.
	assert.Equal(t, models.GeocodePending, f.locations.locations[loc.ID].GeocodeStatus)
	assert.Equal(t, 3, f.client.calls["456 Oak Avenue"])
}

func TestGeocodeService_CanonicalAddressTriggersMerge(t *testing.T) {
	f := newGeocodeFixture()

	survivor := f.addPending(t, "456 Oak Ave", "456 oak ave")
	survivor.GeocodeStatus = models.GeocodeSuccess

	dup := f.addPending(t, "456 Oak Avenue, Apt B", "456 oak avenue apt b")
	f.client.results["456 Oak Avenue, Apt B"] = &geocode.Result{
		CanonicalAddress: "456 Oak Ave",
		Latitude:         45.52,
		Longitude:        -122.68,
		Precision:        "street",
	}

	stats, err := f.svc.EnrichPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Geocoded)
	assert.Equal(t, 1, stats.Merged)

	require.NotNil(t, f.locations.locations[dup.ID].MergedInto)
	assert.Equal(t, survivor.ID, *f.locations.locations[dup.ID].MergedInto)

	require.Len(t, f.history.records, 1)
	assert.Equal(t, "geocode-dedup", f.history.records[0].Reason)
	assert.Equal(t, "geocode", f.history.records[0].Actor)
}

func TestGeocodeService_ProximityTriggersMerge(t *testing.T) {
	f := newGeocodeFixture()

	lat, lng := 45.52, -122.68
	survivor := f.addPending(t, "456 Oak Ave", "456 oak ave")
	survivor.GeocodeStatus = models.GeocodeSuccess
	survivor.Latitude = &lat
	survivor.Longitude = &lng

	dup := f.addPending(t, "Oak & 4th", "oak and 4th")
	f.client.results["Oak & 4th"] = &geocode.Result{
		CanonicalAddress: "Oak St & 4th St",
		Latitude:         lat,
		Longitude:        lng,
		Precision:        "street",
	}

	stats, err := f.svc.EnrichPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Merged)
	require.NotNil(t, f.locations.locations[dup.ID].MergedInto)
	assert.Equal(t, survivor.ID, *f.locations.locations[dup.ID].MergedInto)
}

func TestGeocodeService_NoPendingLocations(t *testing.T) {
	f := newGeocodeFixture()

	stats, err := f.svc.EnrichPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, stats.Geocoded)
	assert.Zero(t, stats.Failed)
}
