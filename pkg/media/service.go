// Package media runs the persist pipeline for digital media objects. It
// mirrors the specimen pipeline with two differences: media carries
// hasSpecimen relationships fanned out over every referencing specimen, and
// media whose specimen-side link was tombstoned gets unlinked from its owner.
package media

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/equality"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/kafka"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/metrics"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/models"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/pids"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/rollback"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/search"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/tracing"
)

// Store is the slice of the media repository the service needs.
type Store interface {
	BulkUpsert(ctx context.Context, records []models.MediaRecord) (int, error)
	BumpLastChecked(ctx context.Context, ids []string) error
	UnlinkSpecimen(ctx context.Context, mediaIDs []string) error
}

// Indexer is the slice of the search index the service needs.
type Indexer interface {
	BulkIndex(ctx context.Context, docs []search.Document) (*search.BulkResult, error)
}

// Publisher is the outbound broker surface the service needs.
type Publisher interface {
	PublishRecordEvent(ctx context.Context, event *kafka.RecordEvent) error
	DeadLetterMedia(ctx context.Context, event models.MediaEvent, reason string) error
}

// Rollbacker compensates partially committed groups.
type Rollbacker interface {
	RollbackNewMedia(ctx context.Context, failed []rollback.FailedMedia, rollbackIndex, rollbackStore bool)
	RollbackUpdatedMedia(ctx context.Context, failed []rollback.FailedMedia, rollbackIndex, rollbackStore bool)
}

// NameResolver resolves source system ids to display names for published
// events.
type NameResolver interface {
	GetName(ctx context.Context, id string) (string, error)
}

// Service handles digital media processing
type Service struct {
	store    Store
	index    Indexer
	producer Publisher
	rollback Rollbacker
	equality *equality.Engine
	names    NameResolver
	logger   ectologger.Logger
}

// NewService creates a new media service
func NewService(store Store, index Indexer, producer Publisher, rb Rollbacker, eq *equality.Engine, names NameResolver, logger ectologger.Logger) *Service {
	return &Service{
		store:    store,
		index:    index,
		producer: producer,
		rollback: rb,
		equality: eq,
		names:    names,
		logger:   logger,
	}
}

// UpdateEqual stamps the last-checked timestamp of Equal media.
func (s *Service) UpdateEqual(ctx context.Context, records []models.MediaRecord) {
	ctx, span := tracing.StartSpan(ctx, "media.Service.UpdateEqual")
	defer span.End()

	if len(records) == 0 {
		return
	}

	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	if err := s.store.BumpLastChecked(ctx, ids); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(ids)}).Error("Failed to bump last checked for equal media")
		return
	}
	metrics.EntitiesProcessedTotal.WithLabelValues("media", models.ClassificationEqual.String()).Add(float64(len(records)))
}

// Unlink clears the owning specimen of media whose specimen-side relationship
// was tombstoned this cycle.
func (s *Service) Unlink(ctx context.Context, mediaIDs []string) {
	ctx, span := tracing.StartSpan(ctx, "media.Service.Unlink")
	defer span.End()

	if len(mediaIDs) == 0 {
		return
	}
	if err := s.store.UnlinkSpecimen(ctx, mediaIDs); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(mediaIDs)}).Error("Failed to unlink media from tombstoned relationships")
	}
}

// CreateNew builds and commits records for New media and returns the ones
// that made it through store, index, and publish. Events whose identifier
// could not be assigned are dead-lettered up front.
func (s *Service) CreateNew(ctx context.Context, events []models.MediaEvent, res *pids.Resolution) []models.MediaRecord {
	ctx, span := tracing.StartSpan(ctx, "media.Service.CreateNew")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	now := time.Now().UTC()
	group := make([]rollback.FailedMedia, 0, len(events))
	for _, ev := range events {
		pid, ok := res.MediaPIDs[ev.AccessURI]
		if !ok {
			s.logger.WithContext(ctx).WithField("access_uri", ev.AccessURI).Warn("Media has no assigned identifier, dead-lettering")
			if err := s.producer.DeadLetterMedia(ctx, ev, "identifier assignment failed"); err != nil {
				s.logger.WithContext(ctx).WithError(err).Error("Failed to dead letter media event")
			}
			continue
		}
		group = append(group, rollback.FailedMedia{
			Record: s.buildNewRecord(ev, pid, res, now),
			Event:  ev,
		})
	}
	if len(group) == 0 {
		return nil
	}

	records := make([]models.MediaRecord, len(group))
	for i, g := range group {
		records[i] = g.Record
	}
	if _, err := s.store.BulkUpsert(ctx, records); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(records)}).Error("Failed to store new media")
		s.rollback.RollbackNewMedia(ctx, group, false, false)
		return nil
	}

	committed := s.indexAndPublish(ctx, group, kafka.EventCreateMedia, s.rollback.RollbackNewMedia)
	metrics.EntitiesProcessedTotal.WithLabelValues("media", models.ClassificationNew.String()).Add(float64(len(committed)))
	return committed
}

// UpdateExisting commits new versions for Changed media.
func (s *Service) UpdateExisting(ctx context.Context, updates []models.MediaUpdate, res *pids.Resolution) []models.MediaRecord {
	ctx, span := tracing.StartSpan(ctx, "media.Service.UpdateExisting")
	defer span.End()

	if len(updates) == 0 {
		return nil
	}

	now := time.Now().UTC()
	group := make([]rollback.FailedMedia, 0, len(updates))
	for _, upd := range updates {
		previous := upd.Current
		group = append(group, rollback.FailedMedia{
			Record:   s.buildUpdatedRecord(upd, res, now),
			Event:    upd.Event,
			Previous: &previous,
		})
	}

	records := make([]models.MediaRecord, len(group))
	for i, g := range group {
		records[i] = g.Record
	}
	if _, err := s.store.BulkUpsert(ctx, records); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(records)}).Error("Failed to store updated media")
		s.rollback.RollbackUpdatedMedia(ctx, group, false, false)
		return nil
	}

	committed := s.indexAndPublish(ctx, group, kafka.EventUpdateMedia, s.rollback.RollbackUpdatedMedia)
	metrics.EntitiesProcessedTotal.WithLabelValues("media", models.ClassificationChanged.String()).Add(float64(len(committed)))
	return committed
}

func (s *Service) indexAndPublish(ctx context.Context, group []rollback.FailedMedia, eventType string, compensate func(context.Context, []rollback.FailedMedia, bool, bool)) []models.MediaRecord {
	docs := make([]search.Document, len(group))
	for i, g := range group {
		docs[i] = search.Document{ID: g.Record.ID, Data: g.Record.Attributes}
	}

	result, err := s.index.BulkIndex(ctx, docs)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(group)}).Error("Failed to index media group")
		compensate(ctx, group, false, true)
		return nil
	}

	failedIDs := result.Failed()
	var failed, indexed []rollback.FailedMedia
	for _, g := range group {
		if failedIDs[g.Record.ID] {
			failed = append(failed, g)
		} else {
			indexed = append(indexed, g)
		}
	}
	compensate(ctx, failed, false, true)

	var committed []models.MediaRecord
	for _, g := range indexed {
		if err := s.publishRecord(ctx, g.Record, eventType); err != nil {
			compensate(ctx, []rollback.FailedMedia{g}, true, true)
			continue
		}
		committed = append(committed, g.Record)
	}
	return committed
}

func (s *Service) publishRecord(ctx context.Context, rec models.MediaRecord, eventType string) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.producer.PublishRecordEvent(ctx, &kafka.RecordEvent{
		EventType:        eventType,
		ID:               rec.ID,
		Version:          rec.Version,
		SourceSystemName: s.sourceName(ctx, rec.Attributes),
		Data:             data,
	})
}

func (s *Service) sourceName(ctx context.Context, attrs map[string]any) string {
	id, ok := attrs["ods:sourceSystemID"].(string)
	if !ok || id == "" || s.names == nil {
		return ""
	}
	name, err := s.names.GetName(ctx, id)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("source_system_id", id).Debug("Failed to resolve source system name")
		return ""
	}
	return name
}

// buildNewRecord turns a New media event into a version-1 record with one
// hasSpecimen relationship per committed referencing specimen. The owning
// specimen is the event's referencing specimen when it resolved, otherwise
// the media starts out unlinked.
func (s *Service) buildNewRecord(ev models.MediaEvent, pid string, res *pids.Resolution, now time.Time) models.MediaRecord {
	var rels []models.EntityRelationship
	if result, ok := res.Media[ev.AccessURI]; ok {
		for specimenPID := range result.RelatedPIDs {
			rels = append(rels, models.EntityRelationship{
				Name:              models.RelationshipHasSpecimen,
				RelatedResourceID: specimenPID,
				EstablishedDate:   now,
			})
		}
	}
	specimenID, ok := res.SpecimenPIDs[ev.PhysicalSpecimenID]
	if !ok {
		specimenID = models.UnknownSpecimen
	}
	return models.MediaRecord{
		ID:                 pid,
		Version:            1,
		AccessURI:          ev.AccessURI,
		SpecimenID:         specimenID,
		Type:               "digital-media",
		Attributes:         ev.Attributes,
		OriginalAttributes: ev.OriginalAttributes,
		Relationships:      rels,
		EnrichmentList:     ev.EnrichmentList,
		ForceSchedule:      ev.ForceSchedule,
		Created:            now,
		LastChecked:        now,
	}
}

// buildUpdatedRecord constructs the next version of a Changed media object.
// hasSpecimen relationships to specimens outside this batch are preserved;
// committed referencing specimens from this batch are merged in with dates
// carried forward for pairs that already existed.
func (s *Service) buildUpdatedRecord(upd models.MediaUpdate, res *pids.Resolution, now time.Time) models.MediaRecord {
	current := upd.Current

	batchPIDs := map[string]bool{}
	if result, ok := res.Media[upd.Event.AccessURI]; ok {
		for pid := range result.RelatedPIDs {
			batchPIDs[pid] = true
		}
	}

	rels := make([]models.EntityRelationship, 0, len(current.Relationships)+len(batchPIDs))
	seen := map[string]bool{}
	for _, rel := range current.Relationships {
		if rel.Name == models.RelationshipHasSpecimen {
			seen[rel.RelatedResourceID] = true
		}
		rels = append(rels, rel)
	}
	for pid := range batchPIDs {
		if seen[pid] {
			continue
		}
		rels = append(rels, models.EntityRelationship{
			Name:              models.RelationshipHasSpecimen,
			RelatedResourceID: pid,
			EstablishedDate:   now,
		})
	}
	rels = s.equality.SetEventDates(current.ID, current.Relationships, rels)

	specimenID := current.SpecimenID
	if pid, ok := res.SpecimenPIDs[upd.Event.PhysicalSpecimenID]; ok && upd.Event.PhysicalSpecimenID != "" {
		specimenID = pid
	}

	return models.MediaRecord{
		ID:                 current.ID,
		Version:            current.Version + 1,
		AccessURI:          upd.Event.AccessURI,
		SpecimenID:         specimenID,
		Type:               current.Type,
		Attributes:         upd.Event.Attributes,
		OriginalAttributes: upd.Event.OriginalAttributes,
		Relationships:      rels,
		EnrichmentList:     upd.Event.EnrichmentList,
		ForceSchedule:      upd.Event.ForceSchedule,
		Created:            current.Created,
		LastChecked:        now,
	}
}
