package rollback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/logging"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/models"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/search"
)

type fakeSpecimenStore struct {
	deleted    []string
	rolledBack []models.SpecimenRecord
	deleteErr  error
}

func (f *fakeSpecimenStore) Delete(_ context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeSpecimenStore) RollbackToVersion(_ context.Context, rec models.SpecimenRecord) error {
	f.rolledBack = append(f.rolledBack, rec)
	return nil
}

type fakeMediaStore struct {
	deleted    []string
	rolledBack []models.MediaRecord
}

func (f *fakeMediaStore) Delete(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeMediaStore) RollbackToVersion(_ context.Context, rec models.MediaRecord) error {
	f.rolledBack = append(f.rolledBack, rec)
	return nil
}

type fakeIndex struct {
	deleted   []string
	reindexed []search.Document
}

func (f *fakeIndex) Delete(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeIndex) Reindex(_ context.Context, doc search.Document) error {
	f.reindexed = append(f.reindexed, doc)
	return nil
}

type fakeHandles struct {
	released [][]string
	err      error
}

func (f *fakeHandles) Rollback(_ context.Context, pids []string) error {
	if f.err != nil {
		return f.err
	}
	f.released = append(f.released, pids)
	return nil
}

type fakeDeadLetterer struct {
	specimens []string
	media     []string
}

func (f *fakeDeadLetterer) DeadLetterSpecimen(_ context.Context, event models.SpecimenEvent, reason string) error {
	f.specimens = append(f.specimens, event.PhysicalSpecimenID+":"+reason)
	return nil
}

func (f *fakeDeadLetterer) DeadLetterMedia(_ context.Context, event models.MediaEvent, reason string) error {
	f.media = append(f.media, event.AccessURI+":"+reason)
	return nil
}

type fixture struct {
	specimens   *fakeSpecimenStore
	media       *fakeMediaStore
	index       *fakeIndex
	handles     *fakeHandles
	producer    *fakeDeadLetterer
	coordinator *Coordinator
}

func newFixture() *fixture {
	f := &fixture{
		specimens: &fakeSpecimenStore{},
		media:     &fakeMediaStore{},
		index:     &fakeIndex{},
		handles:   &fakeHandles{},
		producer:  &fakeDeadLetterer{},
	}
	f.coordinator = NewCoordinator(f.specimens, f.media, f.index, f.handles, f.producer, logging.NewNoop())
	return f
}

func failedSpecimen(pid, physID string) FailedSpecimen {
	return FailedSpecimen{
		Record: models.SpecimenRecord{ID: pid, PhysicalSpecimenID: physID},
		Event:  models.SpecimenEvent{PhysicalSpecimenID: physID},
	}
}

func TestRollbackNewSpecimensFullCompensation(t *testing.T) {
	f := newFixture()
	failed := []FailedSpecimen{failedSpecimen("20.5000/s1", "phys-1"), failedSpecimen("20.5000/s2", "phys-2")}

	f.coordinator.RollbackNewSpecimens(context.Background(), failed, true, true)

	assert.Equal(t, []string{"20.5000/s1", "20.5000/s2"}, f.index.deleted)
	assert.Equal(t, []string{"20.5000/s1", "20.5000/s2"}, f.specimens.deleted)
	require.Len(t, f.handles.released, 1, "handles are released in one batched call")
	assert.Equal(t, []string{"20.5000/s1", "20.5000/s2"}, f.handles.released[0])
	assert.Equal(t, []string{"phys-1:create rolled back", "phys-2:create rolled back"}, f.producer.specimens)
}

func TestRollbackNewSpecimensStoreOnly(t *testing.T) {
	f := newFixture()

	f.coordinator.RollbackNewSpecimens(context.Background(), []FailedSpecimen{failedSpecimen("20.5000/s1", "phys-1")}, false, true)

	assert.Empty(t, f.index.deleted)
	assert.Equal(t, []string{"20.5000/s1"}, f.specimens.deleted)
}

func TestRollbackNewSpecimensDeadLettersEvenWhenCompensationFails(t *testing.T) {
	f := newFixture()
	f.specimens.deleteErr = errors.New("database down")
	f.handles.err = errors.New("identifier service down")

	f.coordinator.RollbackNewSpecimens(context.Background(), []FailedSpecimen{failedSpecimen("20.5000/s1", "phys-1")}, true, true)

	require.Len(t, f.producer.specimens, 1, "dead letter is always the last action")
}

func TestRollbackUpdatedSpecimensRestoresPreviousVersion(t *testing.T) {
	f := newFixture()
	previous := models.SpecimenRecord{
		ID:         "20.5000/s1",
		Version:    2,
		Attributes: map[string]any{"ods:specimenName": "Old name"},
	}
	failed := []FailedSpecimen{{
		Record:   models.SpecimenRecord{ID: "20.5000/s1", Version: 3},
		Event:    models.SpecimenEvent{PhysicalSpecimenID: "phys-1"},
		Previous: &previous,
	}}

	f.coordinator.RollbackUpdatedSpecimens(context.Background(), failed, true, true)

	require.Len(t, f.specimens.rolledBack, 1)
	assert.Equal(t, 2, f.specimens.rolledBack[0].Version)
	require.Len(t, f.index.reindexed, 1)
	assert.Equal(t, "20.5000/s1", f.index.reindexed[0].ID)
	assert.Empty(t, f.handles.released, "updates never release handles")
	require.Len(t, f.producer.specimens, 1)
}

func TestRollbackNewMedia(t *testing.T) {
	f := newFixture()
	failed := []FailedMedia{{
		Record: models.MediaRecord{ID: "20.5000/m1", AccessURI: "uri-1"},
		Event:  models.MediaEvent{AccessURI: "uri-1"},
	}}

	f.coordinator.RollbackNewMedia(context.Background(), failed, true, true)

	assert.Equal(t, []string{"20.5000/m1"}, f.index.deleted)
	assert.Equal(t, []string{"20.5000/m1"}, f.media.deleted)
	require.Len(t, f.handles.released, 1)
	assert.Equal(t, []string{"uri-1:create rolled back"}, f.producer.media)
}
