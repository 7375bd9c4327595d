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

type animalFixture struct {
	animals *mockAnimalRepo
	svc     AnimalResolverService
}

func newAnimalFixture() *animalFixture {
	animals := newMockAnimalRepo()
	canonical := NewCanonicalService(newMockPersonRepo(), animals, newMockLocationRepo(), 50, zap.NewNop())
	svc := NewAnimalResolverService(passthroughTx{}, animals, canonical, matchingConfig(), zap.NewNop())
	return &animalFixture{animals: animals, svc: svc}
}

func TestAnimalResolver_CreatesWithNormalizedChip(t *testing.T) {
	f := newAnimalFixture()

	id, err := f.svc.FindOrCreateByStrongID(context.Background(), AnimalInput{
		IdentifierValue: "985-112-004-567-890",
		Name:            "Patches",
		Species:         "cat",
		SourceSystem:    "clinic",
	})
	require.NoError(t, err)

	idents, err := f.animals.GetIdentifiers(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, idents, 1)
	assert.Equal(t, models.IdentifierMicrochip, idents[0].Type)
	assert.Equal(t, "985112004567890", idents[0].Value)
}

func TestAnimalResolver_SeparatorVariantsMatch(t *testing.T) {
	f := newAnimalFixture()
	ctx := context.Background()

	first, err := f.svc.FindOrCreateByStrongID(ctx, AnimalInput{
		IdentifierValue: "985 112 004 567 890",
		SourceSystem:    "clinic",
	})
	require.NoError(t, err)

	second, err := f.svc.FindOrCreateByStrongID(ctx, AnimalInput{
		IdentifierValue: "985.112.004.567.890",
		SourceSystem:    "shelter",
	})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, f.animals.animals, 1)
}

func TestAnimalResolver_InvalidStrongID(t *testing.T) {
	f := newAnimalFixture()
	tests := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"too short", "12345"},
		{"non alphanumeric", "985112004567890!"},
		{"whitespace only", "   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.FindOrCreateByStrongID(context.Background(), AnimalInput{
				IdentifierValue: tt.value,
				Name:            "Patches",
				SourceSystem:    "clinic",
			})
			assert.ErrorIs(t, err, apperrors.ErrInvalidStrongID)
		})
	}
	assert.Empty(t, f.animals.animals)
}

func TestAnimalResolver_EnrichesMissingFields(t *testing.T) {
	f := newAnimalFixture()
	ctx := context.Background()

	id, err := f.svc.FindOrCreateByStrongID(ctx, AnimalInput{
		IdentifierValue: "985112004567890",
		Name:            "Patches",
		SourceSystem:    "clinic",
	})
	require.NoError(t, err)

	_, err = f.svc.FindOrCreateByStrongID(ctx, AnimalInput{
		IdentifierValue: "985112004567890",
		Name:            "Someone Else's Name",
		Species:         "cat",
		Sex:             "f",
		SourceSystem:    "shelter",
	})
	require.NoError(t, err)

	animal := f.animals.animals[id]
	assert.Equal(t, "Patches", animal.Name) // existing value wins
	assert.Equal(t, "cat", animal.Species)  // absent value filled
	assert.Equal(t, "f", animal.Sex)
}

func TestAnimalResolver_TagIdentifier(t *testing.T) {
	f := newAnimalFixture()

	id, err := f.svc.FindOrCreateByStrongID(context.Background(), AnimalInput{
		IdentifierType:  models.IdentifierTag,
		IdentifierValue: "tag-00012345",
		SourceSystem:    "colony-survey",
	})
	require.NoError(t, err)

	idents, err := f.animals.GetIdentifiers(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, idents, 1)
	assert.Equal(t, models.IdentifierTag, idents[0].Type)
	assert.Equal(t, "TAG00012345", idents[0].Value)
}
