package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pawmark/registry-engine/pkg/config"
	"github.com/pawmark/registry-engine/pkg/models"
)

// mockRawRecordRepo implements repositories.RawRecordRepository in memory.
type mockRawRecordRepo struct {
	records []*models.RawRecord
}

func (m *mockRawRecordRepo) Insert(_ context.Context, rec *models.RawRecord) (bool, error) {
	for _, existing := range m.records {
		if existing.ContentHash == rec.ContentHash {
			return false, nil
		}
	}
	rec.ID = uuid.New()
	rec.Status = models.RawPending
	rec.CreatedAt = time.Now()
	m.records = append(m.records, rec)
	return true, nil
}

func (m *mockRawRecordRepo) ClaimPending(_ context.Context, limit int) ([]*models.RawRecord, error) {
	var out []*models.RawRecord
	for _, rec := range m.records {
		if rec.Status == models.RawPending {
			out = append(out, rec)
			if len(out) == limit {
				break
			}
		}
	}
	// Claimed rows flip out of pending immediately so a second claim in the
	// same batch run does not hand them out again, mirroring SKIP LOCKED.
	for _, rec := range out {
		rec.Status = "claimed"
	}
	return out, nil
}

func (m *mockRawRecordRepo) MarkProcessed(_ context.Context, id uuid.UUID) error {
	return m.setStatus(id, models.RawProcessed, nil)
}

func (m *mockRawRecordRepo) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	return m.setStatus(id, models.RawFailed, &reason)
}

func (m *mockRawRecordRepo) MarkSkipped(_ context.Context, id uuid.UUID, reason string) error {
	return m.setStatus(id, models.RawSkipped, &reason)
}

func (m *mockRawRecordRepo) setStatus(id uuid.UUID, status models.RawRecordStatus, reason *string) error {
	for _, rec := range m.records {
		if rec.ID == id {
			rec.Status = status
			rec.Error = reason
		}
	}
	return nil
}

func (m *mockRawRecordRepo) CountByStatus(_ context.Context, status models.RawRecordStatus) (int, error) {
	var n int
	for _, rec := range m.records {
		if rec.Status == status {
			n++
		}
	}
	return n, nil
}

type ingestFixture struct {
	rawRecords   *mockRawRecordRepo
	persons      *mockPersonRepo
	animals      *mockAnimalRepo
	locations    *mockLocationRepo
	observations *mockObservationRepo
	procedures   *mockProcedureRepo
	svc          IngestService
}

// newIngestFixture wires the ingest pipeline over real resolver services
// backed by in-memory repositories.
func newIngestFixture() *ingestFixture {
	f := &ingestFixture{
		rawRecords:   &mockRawRecordRepo{},
		persons:      newMockPersonRepo(),
		animals:      newMockAnimalRepo(),
		locations:    newMockLocationRepo(),
		observations: &mockObservationRepo{},
		procedures:   &mockProcedureRepo{},
	}

	logger := zap.NewNop()
	canonical := NewCanonicalService(f.persons, f.animals, f.locations, 50, logger)
	personSvc := NewPersonResolverService(passthroughTx{}, f.persons, newMockBlacklistRepo(), canonical, matchingConfig(), logger)
	animalSvc := NewAnimalResolverService(passthroughTx{}, f.animals, canonical, matchingConfig(), logger)
	locationSvc := NewLocationResolverService(passthroughTx{}, f.locations, canonical, matchingConfig(), logger)
	linkSvc := NewLinkService(passthroughTx{}, &mockRelationshipRepo{}, canonical, logger)

	f.svc = NewIngestService(passthroughTx{}, f.rawRecords, personSvc, animalSvc, locationSvc,
		linkSvc, f.observations, f.procedures, nil,
		&config.IngestConfig{Workers: 1, BatchSize: 10}, logger)
	return f
}

func stage(t *testing.T, f *ingestFixture, table, rowID string, payload models.RawPayload) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	staged, err := f.svc.Stage(context.Background(), "feed-a", table, rowID, raw)
	require.NoError(t, err)
	require.True(t, staged)
}

func TestIngestService_StageDedupByContentHash(t *testing.T) {
	f := newIngestFixture()
	ctx := context.Background()
	payload := json.RawMessage(`{"kind":"person","email":"a@x.com"}`)

	staged, err := f.svc.Stage(ctx, "feed-a", "people", "1", payload)
	require.NoError(t, err)
	assert.True(t, staged)

	staged, err = f.svc.Stage(ctx, "feed-a", "people", "1", payload)
	require.NoError(t, err)
	assert.False(t, staged)

	assert.Len(t, f.rawRecords.records, 1)
}

func TestContentHash_Stable(t *testing.T) {
	payload := []byte(`{"kind":"person"}`)
	a := ContentHash("feed-a", "people", "1", payload)
	b := ContentHash("feed-a", "people", "1", payload)
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, ContentHash("feed-b", "people", "1", payload))
	assert.NotEqual(t, a, ContentHash("feed-a", "people", "2", payload))
	assert.NotEqual(t, a, ContentHash("feed-a", "people", "1", []byte(`{"kind":"animal"}`)))
}

func TestIngestService_RunBatch_PersonWithAddress(t *testing.T) {
	f := newIngestFixture()

	stage(t, f, "people", "1", models.RawPayload{
		Kind:      "person",
		Email:     "a@x.com",
		FirstName: "Jane",
		LastName:  "Doe",
		Address:   "123 Main St",
	})

	stats, err := f.svc.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Len(t, f.persons.persons, 1)
	assert.Len(t, f.locations.locations, 1)
}

func TestIngestService_RunBatch_AnimalWithProcedure(t *testing.T) {
	f := newIngestFixture()

	stage(t, f, "surgeries", "77", models.RawPayload{
		Kind:        "animal",
		MicrochipID: "985112004567890",
		AnimalName:  "Patches",
		Species:     "cat",
		Address:     "123 Main St",
		Procedure:   models.ProcedureSpay,
	})

	stats, err := f.svc.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Len(t, f.animals.animals, 1)
	require.Len(t, f.procedures.procedures, 1)
	assert.Equal(t, models.ProcedureSpay, f.procedures.procedures[0].Kind)
	require.NotNil(t, f.procedures.procedures[0].LocationID)
}

func TestIngestService_RunBatch_Observation(t *testing.T) {
	f := newIngestFixture()
	total, marked := 15, 6

	stage(t, f, "surveys", "3", models.RawPayload{
		Kind:        "observation",
		Address:     "99 Colony Alley",
		TotalCount:  &total,
		MarkedCount: &marked,
		SourceKind:  string(models.SourceCaretaker),
		Firsthand:   true,
	})

	stats, err := f.svc.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	require.Len(t, f.observations.observations, 1)
	obs := f.observations.observations[0]
	assert.Equal(t, 15, obs.TotalCount)
	assert.Equal(t, 6, *obs.MarkedCount)
	assert.True(t, obs.Firsthand)
	assert.Equal(t, "feed-a", obs.SourceSystem)
}

func TestIngestService_RunBatch_InvalidRecordsMarkedFailed(t *testing.T) {
	f := newIngestFixture()

	// Microchip too short: rejected, no animal created.
	stage(t, f, "animals", "1", models.RawPayload{Kind: "animal", MicrochipID: "123"})
	// Garbage person: nothing usable.
	stage(t, f, "people", "2", models.RawPayload{Kind: "person", FirstName: "Order", LastName: "12345678"})

	stats, err := f.svc.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Failed)
	assert.Zero(t, stats.Processed)
	assert.Empty(t, f.animals.animals)
	assert.Empty(t, f.persons.persons)

	n, err := f.rawRecords.CountByStatus(context.Background(), models.RawFailed)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestIngestService_RunBatch_UnknownKindSkipped(t *testing.T) {
	f := newIngestFixture()

	stage(t, f, "misc", "1", models.RawPayload{Kind: "invoice"})

	stats, err := f.svc.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)

	n, err := f.rawRecords.CountByStatus(context.Background(), models.RawSkipped)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIngestService_ReIngestionStable(t *testing.T) {
	f := newIngestFixture()
	payload := models.RawPayload{
		Kind:      "person",
		Email:     "a@x.com",
		Phone:     "5551234567",
		FirstName: "Jane",
		LastName:  "Doe",
	}

	stage(t, f, "people", "1", payload)
	_, err := f.svc.RunBatch(context.Background())
	require.NoError(t, err)

	// The same export staged under a different row id still resolves to the
	// same canonical person with the same identifiers.
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	staged, err := f.svc.Stage(context.Background(), "feed-a", "people", "1-reexport", raw)
	require.NoError(t, err)
	require.True(t, staged)

	_, err = f.svc.RunBatch(context.Background())
	require.NoError(t, err)

	assert.Len(t, f.persons.persons, 1)
	assert.Len(t, f.persons.identifiers, 2)
}

func TestIngestService_RunBatch_EmptyQueue(t *testing.T) {
	f := newIngestFixture()

	stats, err := f.svc.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Processed)
	assert.Zero(t, stats.Failed)
}
