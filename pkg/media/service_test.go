package media

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/equality"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/kafka"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/logging"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/models"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/pids"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/rollback"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/search"
)

type fakeStore struct {
	upserted  [][]models.MediaRecord
	bumped    [][]string
	unlinked  [][]string
	upsertErr error
}

func (f *fakeStore) BulkUpsert(_ context.Context, records []models.MediaRecord) (int, error) {
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	f.upserted = append(f.upserted, records)
	return len(records), nil
}

func (f *fakeStore) BumpLastChecked(_ context.Context, ids []string) error {
	f.bumped = append(f.bumped, ids)
	return nil
}

func (f *fakeStore) UnlinkSpecimen(_ context.Context, mediaIDs []string) error {
	f.unlinked = append(f.unlinked, mediaIDs)
	return nil
}

type fakeIndex struct {
	indexed   [][]search.Document
	transport error
}

func (f *fakeIndex) BulkIndex(_ context.Context, docs []search.Document) (*search.BulkResult, error) {
	if f.transport != nil {
		return nil, f.transport
	}
	f.indexed = append(f.indexed, docs)
	result := &search.BulkResult{}
	for _, doc := range docs {
		result.Items = append(result.Items, search.ItemResult{ID: doc.ID})
	}
	return result, nil
}

type fakePublisher struct {
	published   []*kafka.RecordEvent
	deadLetters []string
}

func (f *fakePublisher) PublishRecordEvent(_ context.Context, event *kafka.RecordEvent) error {
	f.published = append(f.published, event)
	return nil
}

func (f *fakePublisher) DeadLetterMedia(_ context.Context, event models.MediaEvent, reason string) error {
	f.deadLetters = append(f.deadLetters, event.AccessURI+":"+reason)
	return nil
}

type fakeRollback struct {
	newCalls     int
	updatedCalls int
}

func (f *fakeRollback) RollbackNewMedia(_ context.Context, failed []rollback.FailedMedia, _, _ bool) {
	if len(failed) > 0 {
		f.newCalls++
	}
}

func (f *fakeRollback) RollbackUpdatedMedia(_ context.Context, failed []rollback.FailedMedia, _, _ bool) {
	if len(failed) > 0 {
		f.updatedCalls++
	}
}

type fixture struct {
	store    *fakeStore
	index    *fakeIndex
	producer *fakePublisher
	rollback *fakeRollback
	service  *Service
}

func newFixture() *fixture {
	f := &fixture{
		store:    &fakeStore{},
		index:    &fakeIndex{},
		producer: &fakePublisher{},
		rollback: &fakeRollback{},
	}
	logger := logging.NewNoop()
	f.service = NewService(f.store, f.index, f.producer, f.rollback, equality.NewEngine(logger), nil, logger)
	return f
}

func resolution() *pids.Resolution {
	return &pids.Resolution{
		SpecimenPIDs: map[string]string{"phys-1": "20.5000/s1", "phys-2": "20.5000/s2"},
		MediaPIDs:    map[string]string{"https://img.example.org/1": "20.5000/m1"},
		Specimens:    map[string]models.PidProcessResult{},
		Media: map[string]models.PidProcessResult{
			"https://img.example.org/1": {OwnPID: "20.5000/m1", RelatedPIDs: map[string]bool{
				"20.5000/s1": true,
				"20.5000/s2": true,
			}},
		},
	}
}

func newEvent() models.MediaEvent {
	return models.MediaEvent{
		AccessURI:          "https://img.example.org/1",
		PhysicalSpecimenID: "phys-1",
		Attributes:         map[string]any{"ac:accessURI": "https://img.example.org/1"},
	}
}

func TestCreateNewFansOutHasSpecimenRelationships(t *testing.T) {
	f := newFixture()

	committed := f.service.CreateNew(context.Background(), []models.MediaEvent{newEvent()}, resolution())

	require.Len(t, committed, 1)
	rec := committed[0]
	assert.Equal(t, "20.5000/m1", rec.ID)
	assert.Equal(t, "20.5000/s1", rec.SpecimenID)
	require.Len(t, rec.Relationships, 2)
	targets := map[string]bool{}
	for _, rel := range rec.Relationships {
		assert.Equal(t, models.RelationshipHasSpecimen, rel.Name)
		targets[rel.RelatedResourceID] = true
	}
	assert.True(t, targets["20.5000/s1"])
	assert.True(t, targets["20.5000/s2"])
}

func TestCreateNewUnresolvedPIDDeadLetters(t *testing.T) {
	f := newFixture()
	ev := newEvent()
	ev.AccessURI = "https://img.example.org/unknown"

	committed := f.service.CreateNew(context.Background(), []models.MediaEvent{ev}, resolution())

	assert.Empty(t, committed)
	assert.Empty(t, f.store.upserted)
	require.Len(t, f.producer.deadLetters, 1)
	assert.Equal(t, "https://img.example.org/unknown:identifier assignment failed", f.producer.deadLetters[0])
}

func TestCreateNewStoreFailureRollsBack(t *testing.T) {
	f := newFixture()
	f.store.upsertErr = errors.New("database down")

	committed := f.service.CreateNew(context.Background(), []models.MediaEvent{newEvent()}, resolution())

	assert.Empty(t, committed)
	assert.Equal(t, 1, f.rollback.newCalls)
}

func TestUpdateExistingPreservesForeignRelationships(t *testing.T) {
	f := newFixture()
	established := time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC)
	current := models.MediaRecord{
		ID:         "20.5000/m1",
		Version:    1,
		AccessURI:  "https://img.example.org/1",
		SpecimenID: "20.5000/s-outside",
		Attributes: map[string]any{"ac:accessURI": "https://img.example.org/1"},
		Relationships: []models.EntityRelationship{
			// Linked to a specimen that is not part of this batch.
			{Name: models.RelationshipHasSpecimen, RelatedResourceID: "20.5000/s-outside", EstablishedDate: established},
		},
		Created: time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	upd := models.MediaUpdate{Event: newEvent(), Current: current}

	committed := f.service.UpdateExisting(context.Background(), []models.MediaUpdate{upd}, resolution())

	require.Len(t, committed, 1)
	rec := committed[0]
	assert.Equal(t, 2, rec.Version)
	assert.Equal(t, current.Created, rec.Created)

	targets := map[string]time.Time{}
	for _, rel := range rec.Relationships {
		targets[rel.RelatedResourceID] = rel.EstablishedDate
	}
	require.Len(t, targets, 3)
	assert.Equal(t, established, targets["20.5000/s-outside"], "out-of-batch link survives with its date")
	assert.Contains(t, targets, "20.5000/s1")
	assert.Contains(t, targets, "20.5000/s2")
	assert.Equal(t, "20.5000/s1", rec.SpecimenID, "owner follows the referencing specimen in the batch")
}

func TestUpdateEqualOnlyBumpsLastChecked(t *testing.T) {
	f := newFixture()

	f.service.UpdateEqual(context.Background(), []models.MediaRecord{{ID: "20.5000/m1"}})

	require.Len(t, f.store.bumped, 1)
	assert.Empty(t, f.index.indexed)
	assert.Empty(t, f.producer.published)
}

func TestUnlink(t *testing.T) {
	f := newFixture()

	f.service.Unlink(context.Background(), []string{"20.5000/m1", "20.5000/m2"})

	require.Len(t, f.store.unlinked, 1)
	assert.Equal(t, []string{"20.5000/m1", "20.5000/m2"}, f.store.unlinked[0])
}
