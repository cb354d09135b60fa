// Package specimen runs the persist pipeline for digital specimens: record
// construction, MIDS scoring, relationship assembly, and the ordered
// store -> index -> publish commit with compensation on partial failure.
package specimen

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/equality"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/handles"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/kafka"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/metrics"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/mids"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/models"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/pids"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/rollback"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/search"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/tracing"
)

// Handle attributes that must stay in sync with the identifier service. Only
// a change to one of these triggers a handle update.
var handleTerms = []string{"ods:specimenName", "ods:organisationID", "ods:topicDiscipline", "ods:markedAsType"}

// Store is the slice of the specimen repository the service needs.
type Store interface {
	BulkUpsert(ctx context.Context, records []models.SpecimenRecord) (int, error)
	BumpLastChecked(ctx context.Context, ids []string) error
}

// Indexer is the slice of the search index the service needs.
type Indexer interface {
	BulkIndex(ctx context.Context, docs []search.Document) (*search.BulkResult, error)
}

// HandleClient updates identifier records whose mirrored attributes changed.
type HandleClient interface {
	Update(ctx context.Context, updates []handles.Update) error
}

// Publisher is the outbound broker surface the service needs.
type Publisher interface {
	PublishRecordEvent(ctx context.Context, event *kafka.RecordEvent) error
	DeadLetterSpecimen(ctx context.Context, event models.SpecimenEvent, reason string) error
}

// Rollbacker compensates partially committed groups.
type Rollbacker interface {
	RollbackNewSpecimens(ctx context.Context, failed []rollback.FailedSpecimen, rollbackIndex, rollbackStore bool)
	RollbackUpdatedSpecimens(ctx context.Context, failed []rollback.FailedSpecimen, rollbackIndex, rollbackStore bool)
}

// NameResolver resolves source system ids to display names for published
// events.
type NameResolver interface {
	GetName(ctx context.Context, id string) (string, error)
}

// Service handles digital specimen processing
type Service struct {
	store    Store
	index    Indexer
	handles  HandleClient
	producer Publisher
	rollback Rollbacker
	equality *equality.Engine
	names    NameResolver
	logger   ectologger.Logger
}

// NewService creates a new specimen service
func NewService(store Store, index Indexer, handleClient HandleClient, producer Publisher, rb Rollbacker, eq *equality.Engine, names NameResolver, logger ectologger.Logger) *Service {
	return &Service{
		store:    store,
		index:    index,
		handles:  handleClient,
		producer: producer,
		rollback: rb,
		equality: eq,
		names:    names,
		logger:   logger,
	}
}

// UpdateEqual stamps the last-checked timestamp of Equal specimens. No other
// system is touched; a failure here only delays the next freshness check.
func (s *Service) UpdateEqual(ctx context.Context, records []models.SpecimenRecord) {
	ctx, span := tracing.StartSpan(ctx, "specimen.Service.UpdateEqual")
	defer span.End()

	if len(records) == 0 {
		return
	}

	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}
	if err := s.store.BumpLastChecked(ctx, ids); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(ids)}).Error("Failed to bump last checked for equal specimens")
		return
	}
	metrics.EntitiesProcessedTotal.WithLabelValues("specimen", models.ClassificationEqual.String()).Add(float64(len(records)))
}

// CreateNew builds and commits records for New specimens and returns the ones
// that made it all the way through store, index, and publish. Events whose
// identifier could not be assigned are dead-lettered before any other system
// is touched.
func (s *Service) CreateNew(ctx context.Context, events []models.SpecimenEvent, res *pids.Resolution) []models.SpecimenRecord {
	ctx, span := tracing.StartSpan(ctx, "specimen.Service.CreateNew")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	now := time.Now().UTC()
	group := make([]rollback.FailedSpecimen, 0, len(events))
	for _, ev := range events {
		pid, ok := res.SpecimenPIDs[ev.PhysicalSpecimenID]
		if !ok {
			s.logger.WithContext(ctx).WithField("physical_specimen_id", ev.PhysicalSpecimenID).Warn("Specimen has no assigned identifier, dead-lettering")
			if err := s.producer.DeadLetterSpecimen(ctx, ev, "identifier assignment failed"); err != nil {
				s.logger.WithContext(ctx).WithError(err).Error("Failed to dead letter specimen event")
			}
			continue
		}
		group = append(group, rollback.FailedSpecimen{
			Record: s.buildNewRecord(ev, pid, res, now),
			Event:  ev,
		})
	}
	if len(group) == 0 {
		return nil
	}

	records := make([]models.SpecimenRecord, len(group))
	for i, g := range group {
		records[i] = g.Record
	}
	if _, err := s.store.BulkUpsert(ctx, records); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(records)}).Error("Failed to store new specimens")
		s.rollback.RollbackNewSpecimens(ctx, group, false, false)
		return nil
	}

	committed := s.indexAndPublish(ctx, group, kafka.EventCreateSpecimen, s.rollback.RollbackNewSpecimens)
	metrics.EntitiesProcessedTotal.WithLabelValues("specimen", models.ClassificationNew.String()).Add(float64(len(committed)))
	return committed
}

// UpdateExisting commits new versions for Changed specimens. The identifier
// service is updated first when the mirrored attributes changed; a failure
// there aborts the whole group before any store write, so no compensation is
// needed.
func (s *Service) UpdateExisting(ctx context.Context, updates []models.SpecimenUpdate, res *pids.Resolution) []models.SpecimenRecord {
	ctx, span := tracing.StartSpan(ctx, "specimen.Service.UpdateExisting")
	defer span.End()

	if len(updates) == 0 {
		return nil
	}

	now := time.Now().UTC()
	group := make([]rollback.FailedSpecimen, 0, len(updates))
	var handleUpdates []handles.Update
	for _, upd := range updates {
		previous := upd.Current
		rec := s.buildUpdatedRecord(upd, res, now)
		group = append(group, rollback.FailedSpecimen{
			Record:   rec,
			Event:    upd.Event,
			Previous: &previous,
		})
		if hu, needed := handleUpdate(previous, rec); needed {
			handleUpdates = append(handleUpdates, hu)
		}
	}

	if err := s.handles.Update(ctx, handleUpdates); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(handleUpdates)}).Error("Failed to update handles, aborting specimen update group")
		for _, g := range group {
			if dlErr := s.producer.DeadLetterSpecimen(ctx, g.Event, "handle update failed"); dlErr != nil {
				s.logger.WithContext(ctx).WithError(dlErr).Error("Failed to dead letter specimen event")
			}
		}
		return nil
	}

	records := make([]models.SpecimenRecord, len(group))
	for i, g := range group {
		records[i] = g.Record
	}
	if _, err := s.store.BulkUpsert(ctx, records); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(records)}).Error("Failed to store updated specimens")
		s.rollback.RollbackUpdatedSpecimens(ctx, group, false, false)
		return nil
	}

	committed := s.indexAndPublish(ctx, group, kafka.EventUpdateSpecimen, s.rollback.RollbackUpdatedSpecimens)
	metrics.EntitiesProcessedTotal.WithLabelValues("specimen", models.ClassificationChanged.String()).Add(float64(len(committed)))
	return committed
}

// indexAndPublish runs the index and publish steps of the commit for a group
// whose store write already succeeded, compensating each entity as far as it
// got. Returns the fully committed records.
func (s *Service) indexAndPublish(ctx context.Context, group []rollback.FailedSpecimen, eventType string, compensate func(context.Context, []rollback.FailedSpecimen, bool, bool)) []models.SpecimenRecord {
	docs := make([]search.Document, len(group))
	for i, g := range group {
		docs[i] = search.Document{ID: g.Record.ID, Data: g.Record.Attributes}
	}

	result, err := s.index.BulkIndex(ctx, docs)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(group)}).Error("Failed to index specimen group")
		compensate(ctx, group, false, true)
		return nil
	}

	failedIDs := result.Failed()
	var failed, indexed []rollback.FailedSpecimen
	for _, g := range group {
		if failedIDs[g.Record.ID] {
			failed = append(failed, g)
		} else {
			indexed = append(indexed, g)
		}
	}
	compensate(ctx, failed, false, true)

	var committed []models.SpecimenRecord
	for _, g := range indexed {
		if err := s.publishRecord(ctx, g.Record, eventType); err != nil {
			compensate(ctx, []rollback.FailedSpecimen{g}, true, true)
			continue
		}
		committed = append(committed, g.Record)
	}
	return committed
}

func (s *Service) publishRecord(ctx context.Context, rec models.SpecimenRecord, eventType string) error {
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

// sourceName resolves the display name of the record's source system; a
// resolution failure only leaves the name off the published event.
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

// buildNewRecord turns a New event into a version-1 record, scoring MIDS and
// materializing one hasMedia relationship per resolvable media reference.
func (s *Service) buildNewRecord(ev models.SpecimenEvent, pid string, res *pids.Resolution, now time.Time) models.SpecimenRecord {
	var rels []models.EntityRelationship
	if result, ok := res.Specimens[ev.PhysicalSpecimenID]; ok {
		for mediaPID := range result.RelatedPIDs {
			rels = append(rels, models.EntityRelationship{
				Name:              models.RelationshipHasMedia,
				RelatedResourceID: mediaPID,
				EstablishedDate:   now,
			})
		}
	}
	return models.SpecimenRecord{
		ID:                 pid,
		Version:            1,
		MidsLevel:          mids.Calculate(ev.Attributes),
		PhysicalSpecimenID: ev.PhysicalSpecimenID,
		Type:               ev.Type,
		Attributes:         ev.Attributes,
		OriginalAttributes: ev.OriginalAttributes,
		Relationships:      rels,
		EnrichmentList:     ev.EnrichmentList,
		ForceSchedule:      ev.ForceSchedule,
		Created:            now,
		LastChecked:        now,
	}
}

// buildUpdatedRecord constructs the next version of a Changed specimen:
// unchanged relationships survive, tombstoned ones are dropped, and new media
// references become fresh hasMedia relationships. Established dates are
// carried forward from the current record.
func (s *Service) buildUpdatedRecord(upd models.SpecimenUpdate, res *pids.Resolution, now time.Time) models.SpecimenRecord {
	current := upd.Current
	rels := make([]models.EntityRelationship, 0, len(upd.Relationships.Unchanged)+len(upd.Relationships.New))
	rels = append(rels, upd.Relationships.Unchanged...)
	for _, media := range upd.Relationships.New {
		mediaPID, ok := res.MediaPIDs[media.AccessURI]
		if !ok {
			// Unresolvable media is dead-lettered on its own side; the
			// relationship is simply not formed this cycle.
			continue
		}
		rels = append(rels, models.EntityRelationship{
			Name:              models.RelationshipHasMedia,
			RelatedResourceID: mediaPID,
			EstablishedDate:   now,
		})
	}
	rels = s.equality.SetEventDates(current.ID, current.Relationships, rels)

	return models.SpecimenRecord{
		ID:                 current.ID,
		Version:            current.Version + 1,
		MidsLevel:          mids.Calculate(upd.Event.Attributes),
		PhysicalSpecimenID: upd.Event.PhysicalSpecimenID,
		Type:               upd.Event.Type,
		Attributes:         upd.Event.Attributes,
		OriginalAttributes: upd.Event.OriginalAttributes,
		Relationships:      rels,
		EnrichmentList:     upd.Event.EnrichmentList,
		ForceSchedule:      upd.Event.ForceSchedule,
		Created:            current.Created,
		LastChecked:        now,
	}
}

// handleUpdate reports whether any identifier-mirrored attribute changed
// between the committed record and its replacement.
func handleUpdate(previous, next models.SpecimenRecord) (handles.Update, bool) {
	changed := false
	attrs := map[string]any{}
	for _, term := range handleTerms {
		attrs[term] = next.Attributes[term]
		if fmt.Sprintf("%v", previous.Attributes[term]) != fmt.Sprintf("%v", next.Attributes[term]) {
			changed = true
		}
	}
	if !changed {
		return handles.Update{}, false
	}
	return handles.Update{PID: next.ID, Attributes: attrs}, true
}
