package equality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/logging"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/models"
)

func TestFingerprintIgnoresRegeneratedFields(t *testing.T) {
	base := map[string]any{
		"ods:specimenName": "Quercus robur",
		"dcterms:created":  "2024-01-01T00:00:00Z",
		"ods:lastChecked":  "2024-01-01T00:00:00Z",
	}
	other := map[string]any{
		"ods:specimenName": "Quercus robur",
		"dcterms:created":  "2025-06-06T00:00:00Z",
		"ods:lastChecked":  "2025-06-06T00:00:00Z",
	}
	assert.Equal(t, Fingerprint(base), Fingerprint(other))
}

func TestFingerprintKeyOrderIndependent(t *testing.T) {
	a := map[string]any{"a": 1, "b": map[string]any{"x": "1", "y": "2"}}
	b := map[string]any{"b": map[string]any{"y": "2", "x": "1"}, "a": 1}
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintDetectsChange(t *testing.T) {
	a := map[string]any{"ods:specimenName": "Quercus robur"}
	b := map[string]any{"ods:specimenName": "Quercus petraea"}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestIsSpecimenEqual(t *testing.T) {
	eng := NewEngine(logging.NewNoop())
	attrs := map[string]any{"ods:specimenName": "Quercus robur"}
	current := models.SpecimenRecord{Attributes: attrs}
	incoming := models.SpecimenEvent{Attributes: map[string]any{"ods:specimenName": "Quercus robur"}}

	assert.True(t, eng.IsSpecimenEqual(current, incoming, models.MediaRelationshipResult{}))

	t.Run("relationship change forces inequality", func(t *testing.T) {
		rel := models.MediaRelationshipResult{
			New: []models.MediaEvent{{AccessURI: "https://img.example.org/1"}},
		}
		assert.False(t, eng.IsSpecimenEqual(current, incoming, rel))
	})

	t.Run("tombstone forces inequality", func(t *testing.T) {
		rel := models.MediaRelationshipResult{
			Tombstoned: []models.EntityRelationship{{Name: models.RelationshipHasMedia, RelatedResourceID: "20.5000/1"}},
		}
		assert.False(t, eng.IsSpecimenEqual(current, incoming, rel))
	})

	t.Run("attribute change forces inequality", func(t *testing.T) {
		changed := models.SpecimenEvent{Attributes: map[string]any{"ods:specimenName": "Quercus petraea"}}
		assert.False(t, eng.IsSpecimenEqual(current, changed, models.MediaRelationshipResult{}))
	})
}

func TestIsMediaEqual(t *testing.T) {
	eng := NewEngine(logging.NewNoop())
	current := models.MediaRecord{Attributes: map[string]any{"ac:accessURI": "https://img.example.org/1"}}
	incoming := models.MediaEvent{Attributes: map[string]any{"ac:accessURI": "https://img.example.org/1"}}

	assert.True(t, eng.IsMediaEqual(current, incoming, false))
	assert.False(t, eng.IsMediaEqual(current, incoming, true), "new referencing specimen forces inequality")
}

func TestSetEventDates(t *testing.T) {
	eng := NewEngine(logging.NewNoop())
	established := time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

	current := []models.EntityRelationship{
		{Name: models.RelationshipHasMedia, RelatedResourceID: "20.5000/1", EstablishedDate: established},
	}
	incoming := []models.EntityRelationship{
		{Name: models.RelationshipHasMedia, RelatedResourceID: "20.5000/1", EstablishedDate: now},
		{Name: models.RelationshipHasMedia, RelatedResourceID: "20.5000/2", EstablishedDate: now},
	}

	out := eng.SetEventDates("20.5000/spec", current, incoming)

	assert.Equal(t, established, out[0].EstablishedDate, "matched pair keeps its original date")
	assert.Equal(t, now, out[1].EstablishedDate, "new pair keeps the fresh date")
	assert.Equal(t, now, incoming[0].EstablishedDate, "input is not mutated")
}

func TestSetEventDatesAmbiguousMatchKeepsFirst(t *testing.T) {
	eng := NewEngine(logging.NewNoop())
	first := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)
	second := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)

	current := []models.EntityRelationship{
		{Name: models.RelationshipHasMedia, RelatedResourceID: "20.5000/1", EstablishedDate: first},
		{Name: models.RelationshipHasMedia, RelatedResourceID: "20.5000/1", EstablishedDate: second},
	}
	incoming := []models.EntityRelationship{
		{Name: models.RelationshipHasMedia, RelatedResourceID: "20.5000/1"},
	}

	out := eng.SetEventDates("20.5000/spec", current, incoming)
	assert.Equal(t, first, out[0].EstablishedDate)
}
