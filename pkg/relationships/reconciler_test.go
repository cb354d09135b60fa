package relationships

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/logging"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/models"
)

func hasMediaRel(pid string) models.EntityRelationship {
	return models.EntityRelationship{
		Name:              models.RelationshipHasMedia,
		RelatedResourceID: pid,
		EstablishedDate:   time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestReconcile(t *testing.T) {
	r := NewReconciler(logging.NewNoop())
	mediaPIDs := map[string]string{
		"https://img.example.org/1": "20.5000/m1",
		"https://img.example.org/2": "20.5000/m2",
	}

	t.Run("steady state is all unchanged", func(t *testing.T) {
		current := []models.EntityRelationship{hasMediaRel("20.5000/m1")}
		incoming := []models.MediaEvent{{AccessURI: "https://img.example.org/1"}}

		result := r.Reconcile(current, incoming, mediaPIDs)
		assert.Empty(t, result.New)
		assert.Empty(t, result.Tombstoned)
		assert.Equal(t, current, result.Unchanged)
		assert.False(t, result.HasChanges())
	})

	t.Run("unreferenced media event becomes new", func(t *testing.T) {
		incoming := []models.MediaEvent{{AccessURI: "https://img.example.org/1"}}

		result := r.Reconcile(nil, incoming, mediaPIDs)
		assert.Len(t, result.New, 1)
		assert.Equal(t, "https://img.example.org/1", result.New[0].AccessURI)
		assert.True(t, result.HasChanges())
	})

	t.Run("dropped media reference is tombstoned", func(t *testing.T) {
		current := []models.EntityRelationship{hasMediaRel("20.5000/m1"), hasMediaRel("20.5000/m2")}
		incoming := []models.MediaEvent{{AccessURI: "https://img.example.org/1"}}

		result := r.Reconcile(current, incoming, mediaPIDs)
		assert.Len(t, result.Tombstoned, 1)
		assert.Equal(t, "20.5000/m2", result.Tombstoned[0].RelatedResourceID)
		assert.Len(t, result.Unchanged, 1)
	})

	t.Run("unresolvable target is tombstoned", func(t *testing.T) {
		current := []models.EntityRelationship{hasMediaRel("20.5000/gone")}

		result := r.Reconcile(current, nil, mediaPIDs)
		assert.Len(t, result.Tombstoned, 1)
		assert.Equal(t, "20.5000/gone", result.Tombstoned[0].RelatedResourceID)
	})

	t.Run("non media relationships pass through", func(t *testing.T) {
		other := models.EntityRelationship{Name: "hasInstitution", RelatedResourceID: "20.5000/org"}
		current := []models.EntityRelationship{other}

		result := r.Reconcile(current, nil, mediaPIDs)
		assert.Equal(t, []models.EntityRelationship{other}, result.Unchanged)
		assert.False(t, result.HasChanges())
	})

	t.Run("tombstoned and unchanged partition the current set", func(t *testing.T) {
		current := []models.EntityRelationship{
			hasMediaRel("20.5000/m1"),
			hasMediaRel("20.5000/m2"),
			hasMediaRel("20.5000/gone"),
			{Name: "hasInstitution", RelatedResourceID: "20.5000/org"},
		}
		incoming := []models.MediaEvent{{AccessURI: "https://img.example.org/2"}}

		result := r.Reconcile(current, incoming, mediaPIDs)
		assert.Equal(t, len(current), len(result.Tombstoned)+len(result.Unchanged))
	})
}
