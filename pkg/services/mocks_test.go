package services

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/pawmark/registry-engine/pkg/apperrors"
	"github.com/pawmark/registry-engine/pkg/models"
)

// passthroughTx satisfies database.TxRunner without a database; repository
// mocks below keep their own state so no scope is needed.
type passthroughTx struct{}

func (passthroughTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// mockPersonRepo implements repositories.PersonRepository in memory.
type mockPersonRepo struct {
	persons     map[uuid.UUID]*models.Person
	identifiers []*models.PersonIdentifier
	lockCalls   int
	lockHook    func()
	createErr   error
}

func newMockPersonRepo() *mockPersonRepo {
	return &mockPersonRepo{persons: make(map[uuid.UUID]*models.Person)}
}

func (m *mockPersonRepo) Create(_ context.Context, person *models.Person) error {
	if m.createErr != nil {
		return m.createErr
	}
	person.ID = uuid.New()
	m.persons[person.ID] = person
	return nil
}

func (m *mockPersonRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Person, error) {
	return m.persons[id], nil
}

func (m *mockPersonRepo) GetMergedInto(_ context.Context, id uuid.UUID) (*uuid.UUID, error) {
	p, ok := m.persons[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return p.MergedInto, nil
}

func (m *mockPersonRepo) Update(_ context.Context, person *models.Person) error {
	m.persons[person.ID] = person
	return nil
}

func (m *mockPersonRepo) SetMergedInto(_ context.Context, sourceID uuid.UUID, targetID *uuid.UUID) error {
	m.persons[sourceID].MergedInto = targetID
	return nil
}

func (m *mockPersonRepo) LockPair(_ context.Context, a, b uuid.UUID) error {
	m.lockCalls++
	// The hook runs once, standing in for work another transaction commits
	// while this one waits on the row locks. Cleared first so work done
	// inside the hook can take locks without re-entering it.
	if hook := m.lockHook; hook != nil {
		m.lockHook = nil
		hook()
	}
	return nil
}

func (m *mockPersonRepo) FindByIdentifier(_ context.Context, idType models.IdentifierType, value string, _ bool) (*models.Person, error) {
	for _, ident := range m.identifiers {
		if ident.Type == idType && ident.Value == value {
			return m.persons[ident.PersonID], nil
		}
	}
	return nil, nil
}

func (m *mockPersonRepo) AddIdentifier(_ context.Context, ident *models.PersonIdentifier) (bool, error) {
	for _, existing := range m.identifiers {
		if existing.Type == ident.Type && existing.Value == ident.Value {
			return false, nil
		}
	}
	ident.ID = uuid.New()
	m.identifiers = append(m.identifiers, ident)
	return true, nil
}

func (m *mockPersonRepo) GetIdentifiers(_ context.Context, personID uuid.UUID) ([]*models.PersonIdentifier, error) {
	var out []*models.PersonIdentifier
	for _, ident := range m.identifiers {
		if ident.PersonID == personID {
			out = append(out, ident)
		}
	}
	return out, nil
}

func (m *mockPersonRepo) TransferIdentifiers(_ context.Context, sourceID, targetID uuid.UUID) (int, error) {
	kept := m.identifiers[:0]
	var moved int
	for _, ident := range m.identifiers {
		if ident.PersonID == sourceID {
			if m.hasEquivalent(targetID, ident.Type, ident.Value) {
				continue
			}
			ident.PersonID = targetID
			moved++
		}
		kept = append(kept, ident)
	}
	m.identifiers = kept
	return moved, nil
}

func (m *mockPersonRepo) hasEquivalent(ownerID uuid.UUID, idType models.IdentifierType, value string) bool {
	for _, ident := range m.identifiers {
		if ident.PersonID == ownerID && ident.Type == idType && ident.Value == value {
			return true
		}
	}
	return false
}

func (m *mockPersonRepo) CountIdentifierReferences(_ context.Context, id uuid.UUID) (int, error) {
	var n int
	for _, ident := range m.identifiers {
		if ident.PersonID == id {
			n++
		}
	}
	return n, nil
}

// mockAnimalRepo implements repositories.AnimalRepository in memory.
type mockAnimalRepo struct {
	animals     map[uuid.UUID]*models.Animal
	identifiers []*models.AnimalIdentifier
	lockCalls   int
}

func newMockAnimalRepo() *mockAnimalRepo {
	return &mockAnimalRepo{animals: make(map[uuid.UUID]*models.Animal)}
}

func (m *mockAnimalRepo) Create(_ context.Context, animal *models.Animal) error {
	animal.ID = uuid.New()
	m.animals[animal.ID] = animal
	return nil
}

func (m *mockAnimalRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Animal, error) {
	return m.animals[id], nil
}

func (m *mockAnimalRepo) GetMergedInto(_ context.Context, id uuid.UUID) (*uuid.UUID, error) {
	a, ok := m.animals[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return a.MergedInto, nil
}

func (m *mockAnimalRepo) Update(_ context.Context, animal *models.Animal) error {
	m.animals[animal.ID] = animal
	return nil
}

func (m *mockAnimalRepo) SetMergedInto(_ context.Context, sourceID uuid.UUID, targetID *uuid.UUID) error {
	m.animals[sourceID].MergedInto = targetID
	return nil
}

func (m *mockAnimalRepo) LockPair(_ context.Context, a, b uuid.UUID) error {
	m.lockCalls++
	return nil
}

func (m *mockAnimalRepo) FindByIdentifier(_ context.Context, idType models.IdentifierType, value string, _ bool) (*models.Animal, error) {
	for _, ident := range m.identifiers {
		if ident.Type == idType && ident.Value == value {
			return m.animals[ident.AnimalID], nil
		}
	}
	return nil, nil
}

func (m *mockAnimalRepo) AddIdentifier(_ context.Context, ident *models.AnimalIdentifier) (bool, error) {
	for _, existing := range m.identifiers {
		if existing.Type == ident.Type && existing.Value == ident.Value {
			return false, nil
		}
	}
	ident.ID = uuid.New()
	m.identifiers = append(m.identifiers, ident)
	return true, nil
}

func (m *mockAnimalRepo) GetIdentifiers(_ context.Context, animalID uuid.UUID) ([]*models.AnimalIdentifier, error) {
	var out []*models.AnimalIdentifier
	for _, ident := range m.identifiers {
		if ident.AnimalID == animalID {
			out = append(out, ident)
		}
	}
	return out, nil
}

func (m *mockAnimalRepo) TransferIdentifiers(_ context.Context, sourceID, targetID uuid.UUID) (int, error) {
	kept := m.identifiers[:0]
	var moved int
	for _, ident := range m.identifiers {
		if ident.AnimalID == sourceID {
			dup := false
			for _, other := range m.identifiers {
				if other.AnimalID == targetID && other.Type == ident.Type && other.Value == ident.Value {
					dup = true
					break
				}
			}
			if dup {
				continue
			}
			ident.AnimalID = targetID
			moved++
		}
		kept = append(kept, ident)
	}
	m.identifiers = kept
	return moved, nil
}

func (m *mockAnimalRepo) CountIdentifierReferences(_ context.Context, id uuid.UUID) (int, error) {
	var n int
	for _, ident := range m.identifiers {
		if ident.AnimalID == id {
			n++
		}
	}
	return n, nil
}

// mockLocationRepo implements repositories.LocationRepository in memory.
// Proximity matching compares exact coordinates; radius queries in tests
// use identical points.
type mockLocationRepo struct {
	locations map[uuid.UUID]*models.Location
	order     []uuid.UUID
	lockCalls int
}

func newMockLocationRepo() *mockLocationRepo {
	return &mockLocationRepo{locations: make(map[uuid.UUID]*models.Location)}
}

func (m *mockLocationRepo) Create(_ context.Context, loc *models.Location) error {
	loc.ID = uuid.New()
	m.locations[loc.ID] = loc
	m.order = append(m.order, loc.ID)
	return nil
}

func (m *mockLocationRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Location, error) {
	return m.locations[id], nil
}

func (m *mockLocationRepo) GetMergedInto(_ context.Context, id uuid.UUID) (*uuid.UUID, error) {
	l, ok := m.locations[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return l.MergedInto, nil
}

func (m *mockLocationRepo) Update(_ context.Context, loc *models.Location) error {
	m.locations[loc.ID] = loc
	return nil
}

func (m *mockLocationRepo) SetMergedInto(_ context.Context, sourceID uuid.UUID, targetID *uuid.UUID) error {
	m.locations[sourceID].MergedInto = targetID
	return nil
}

func (m *mockLocationRepo) LockPair(_ context.Context, a, b uuid.UUID) error {
	m.lockCalls++
	return nil
}

// FindByNormalizedAddress walks in insertion order with live rows winning,
// matching the repository's ORDER BY (merged_into IS NULL) DESC, created_at.
func (m *mockLocationRepo) FindByNormalizedAddress(_ context.Context, addr string, _ bool) (*models.Location, error) {
	var merged *models.Location
	for _, id := range m.order {
		loc := m.locations[id]
		if loc.NormalizedAddress != addr {
			continue
		}
		if loc.MergedInto == nil {
			return loc, nil
		}
		if merged == nil {
			merged = loc
		}
	}
	return merged, nil
}

func (m *mockLocationRepo) FindWithinRadius(_ context.Context, lat, lng, _ float64, exclude uuid.UUID) (*models.Location, error) {
	for _, id := range m.order {
		loc := m.locations[id]
		if loc.ID != exclude && loc.MergedInto == nil && loc.HasCoordinates() &&
			*loc.Latitude == lat && *loc.Longitude == lng {
			return loc, nil
		}
	}
	return nil, nil
}

func (m *mockLocationRepo) ListPendingGeocode(_ context.Context, limit int) ([]*models.Location, error) {
	var out []*models.Location
	for _, id := range m.order {
		loc := m.locations[id]
		if loc.MergedInto == nil && loc.GeocodeStatus == models.GeocodePending {
			out = append(out, loc)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *mockLocationRepo) SetGeocodeSuccess(_ context.Context, id uuid.UUID, canonicalAddress string, lat, lng float64, precision string) error {
	loc := m.locations[id]
	loc.NormalizedAddress = canonicalAddress
	loc.GeocodeStatus = models.GeocodeSuccess
	loc.Latitude = &lat
	loc.Longitude = &lng
	loc.Precision = precision
	return nil
}

func (m *mockLocationRepo) SetGeocodeFailed(_ context.Context, id uuid.UUID) error {
	m.locations[id].GeocodeStatus = models.GeocodeFailed
	return nil
}

// mockBlacklistRepo implements repositories.BlacklistRepository in memory.
type mockBlacklistRepo struct {
	entries   map[string]bool
	sightings map[string]map[string]bool
}

func newMockBlacklistRepo() *mockBlacklistRepo {
	return &mockBlacklistRepo{
		entries:   make(map[string]bool),
		sightings: make(map[string]map[string]bool),
	}
}

func blacklistKey(idType models.IdentifierType, value string) string {
	return string(idType) + ":" + value
}

func (m *mockBlacklistRepo) IsBlacklisted(_ context.Context, idType models.IdentifierType, value string) (bool, error) {
	return m.entries[blacklistKey(idType, value)], nil
}

func (m *mockBlacklistRepo) Add(_ context.Context, entry *models.BlacklistEntry) error {
	m.entries[blacklistKey(entry.Type, entry.Value)] = true
	return nil
}

func (m *mockBlacklistRepo) RecordSighting(_ context.Context, idType models.IdentifierType, value, displayName string) (int, error) {
	key := blacklistKey(idType, value)
	if m.sightings[key] == nil {
		m.sightings[key] = make(map[string]bool)
	}
	m.sightings[key][strings.ToLower(displayName)] = true
	return len(m.sightings[key]), nil
}

// mockRelationshipRepo implements repositories.RelationshipRepository in
// memory with the same (pair, a, b, role) upsert key as the real tables.
type mockRelationshipRepo struct {
	rows []*models.Relationship
}

func (m *mockRelationshipRepo) Upsert(_ context.Context, rel *models.Relationship) error {
	for _, existing := range m.rows {
		if existing.Pair == rel.Pair && existing.AID == rel.AID &&
			existing.BID == rel.BID && existing.Role == rel.Role {
			existing.Confidence = rel.Confidence
			existing.SourceSystem = rel.SourceSystem
			return nil
		}
	}
	rel.ID = uuid.New()
	m.rows = append(m.rows, rel)
	return nil
}

func (m *mockRelationshipRepo) List(_ context.Context, pair models.RelationshipPair, column string, id uuid.UUID) ([]*models.Relationship, error) {
	var out []*models.Relationship
	for _, rel := range m.rows {
		if rel.Pair != pair {
			continue
		}
		if (column == "a" && rel.AID == id) || (column == "b" && rel.BID == id) {
			out = append(out, rel)
		}
	}
	return out, nil
}

func (m *mockRelationshipRepo) TransferForEntity(_ context.Context, kind models.EntityKind, sourceID, targetID uuid.UUID) (int, error) {
	kept := m.rows[:0]
	var moved int
	for _, rel := range m.rows {
		side := m.sideOf(rel, kind, sourceID)
		if side == "" {
			kept = append(kept, rel)
			continue
		}
		var candidate models.Relationship = *rel
		if side == "a" {
			candidate.AID = targetID
		} else {
			candidate.BID = targetID
		}
		if m.hasEquivalent(&candidate) {
			continue
		}
		*rel = candidate
		moved++
		kept = append(kept, rel)
	}
	m.rows = kept
	return moved, nil
}

func (m *mockRelationshipRepo) sideOf(rel *models.Relationship, kind models.EntityKind, id uuid.UUID) string {
	switch kind {
	case models.KindPerson:
		if (rel.Pair == models.PairPersonLocation || rel.Pair == models.PairPersonAnimal) && rel.AID == id {
			return "a"
		}
	case models.KindAnimal:
		if rel.Pair == models.PairAnimalLocation && rel.AID == id {
			return "a"
		}
		if rel.Pair == models.PairPersonAnimal && rel.BID == id {
			return "b"
		}
	case models.KindLocation:
		if (rel.Pair == models.PairPersonLocation || rel.Pair == models.PairAnimalLocation) && rel.BID == id {
			return "b"
		}
	}
	return ""
}

func (m *mockRelationshipRepo) hasEquivalent(candidate *models.Relationship) bool {
	for _, rel := range m.rows {
		if rel.Pair == candidate.Pair && rel.AID == candidate.AID &&
			rel.BID == candidate.BID && rel.Role == candidate.Role && rel.ID != candidate.ID {
			return true
		}
	}
	return false
}

func (m *mockRelationshipRepo) CountReferences(_ context.Context, kind models.EntityKind, id uuid.UUID) (int, error) {
	var n int
	for _, rel := range m.rows {
		if m.sideOf(rel, kind, id) != "" {
			n++
		}
	}
	return n, nil
}

// mockMergeHistoryRepo implements repositories.MergeHistoryRepository in memory.
type mockMergeHistoryRepo struct {
	records []*models.MergeRecord
	nextSeq int64
}

func (m *mockMergeHistoryRepo) Append(_ context.Context, rec *models.MergeRecord) error {
	m.nextSeq++
	rec.ID = uuid.New()
	rec.Seq = m.nextSeq
	m.records = append(m.records, rec)
	return nil
}

func (m *mockMergeHistoryRepo) GetLatestBySource(_ context.Context, kind models.EntityKind, sourceID uuid.UUID) (*models.MergeRecord, error) {
	var latest *models.MergeRecord
	for _, rec := range m.records {
		if rec.Kind == kind && rec.SourceID == sourceID && !rec.Undone {
			if latest == nil || rec.Seq > latest.Seq {
				latest = rec
			}
		}
	}
	return latest, nil
}

func (m *mockMergeHistoryRepo) HasLaterMergeInvolving(_ context.Context, kind models.EntityKind, ids []uuid.UUID, afterSeq int64) (bool, error) {
	for _, rec := range m.records {
		if rec.Kind != kind || rec.Undone || rec.Seq <= afterSeq {
			continue
		}
		for _, id := range ids {
			if rec.SourceID == id || rec.TargetID == id {
				return true, nil
			}
		}
	}
	return false, nil
}

func (m *mockMergeHistoryRepo) MarkUndone(_ context.Context, id uuid.UUID) error {
	for _, rec := range m.records {
		if rec.ID == id {
			rec.Undone = true
		}
	}
	return nil
}

func (m *mockMergeHistoryRepo) ListByEntity(_ context.Context, kind models.EntityKind, entityID uuid.UUID) ([]*models.MergeRecord, error) {
	var out []*models.MergeRecord
	for _, rec := range m.records {
		if rec.Kind == kind && (rec.SourceID == entityID || rec.TargetID == entityID) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// mockObservationRepo implements repositories.ObservationRepository in memory.
type mockObservationRepo struct {
	observations []*models.Observation
}

func (m *mockObservationRepo) Create(_ context.Context, obs *models.Observation) error {
	obs.ID = uuid.New()
	m.observations = append(m.observations, obs)
	return nil
}

func (m *mockObservationRepo) ListByLocation(_ context.Context, locationID uuid.UUID) ([]*models.Observation, error) {
	var out []*models.Observation
	for _, obs := range m.observations {
		if obs.LocationID == locationID {
			out = append(out, obs)
		}
	}
	return out, nil
}

func (m *mockObservationRepo) TransferToLocation(_ context.Context, sourceID, targetID uuid.UUID) (int, error) {
	var moved int
	for _, obs := range m.observations {
		if obs.LocationID == sourceID {
			obs.LocationID = targetID
			moved++
		}
	}
	return moved, nil
}

// mockProcedureRepo implements repositories.ProcedureRepository in memory.
type mockProcedureRepo struct {
	procedures   []*models.Procedure
	alteredCount int
}

func (m *mockProcedureRepo) Create(_ context.Context, proc *models.Procedure) error {
	proc.ID = uuid.New()
	m.procedures = append(m.procedures, proc)
	return nil
}

func (m *mockProcedureRepo) ListByAnimal(_ context.Context, animalID uuid.UUID) ([]*models.Procedure, error) {
	var out []*models.Procedure
	for _, proc := range m.procedures {
		if proc.AnimalID == animalID {
			out = append(out, proc)
		}
	}
	return out, nil
}

func (m *mockProcedureRepo) TransferToAnimal(_ context.Context, sourceID, targetID uuid.UUID) (int, error) {
	var moved int
	for _, proc := range m.procedures {
		if proc.AnimalID == sourceID {
			proc.AnimalID = targetID
			moved++
		}
	}
	return moved, nil
}

func (m *mockProcedureRepo) TransferToLocation(_ context.Context, sourceID, targetID uuid.UUID) (int, error) {
	var moved int
	for _, proc := range m.procedures {
		if proc.LocationID != nil && *proc.LocationID == sourceID {
			proc.LocationID = &targetID
			moved++
		}
	}
	return moved, nil
}

func (m *mockProcedureRepo) VerifiedAlteredCount(_ context.Context, _ uuid.UUID) (int, error) {
	return m.alteredCount, nil
}
