// Package processor orchestrates one batch end to end: deduplication, state
// loading, classification, relationship reconciliation, identifier
// resolution, and the ordered hand-off to the specimen and media pipelines.
// Specimens always commit before media so media never links to a specimen
// identifier the store does not hold.
package processor

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/equality"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/metrics"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/models"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/pids"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/relationships"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/tracing"
)

// SpecimenStore is the read surface the processor needs from the specimen
// repository.
type SpecimenStore interface {
	GetByPhysicalIDs(ctx context.Context, physicalIDs []string) ([]models.SpecimenRecord, error)
}

// MediaStore is the read surface the processor needs from the media
// repository.
type MediaStore interface {
	GetByURIs(ctx context.Context, uris []string) ([]models.MediaRecord, error)
}

// Resolver resolves identifiers for one batch.
type Resolver interface {
	Resolve(ctx context.Context, events []models.SpecimenEvent, newSpecimens []models.SpecimenEvent, newMedia []models.MediaEvent, existingSpecimens, existingMedia map[string]string) *pids.Resolution
}

// SpecimenService is the specimen persist pipeline.
type SpecimenService interface {
	UpdateEqual(ctx context.Context, records []models.SpecimenRecord)
	CreateNew(ctx context.Context, events []models.SpecimenEvent, res *pids.Resolution) []models.SpecimenRecord
	UpdateExisting(ctx context.Context, updates []models.SpecimenUpdate, res *pids.Resolution) []models.SpecimenRecord
}

// MediaService is the media persist pipeline.
type MediaService interface {
	UpdateEqual(ctx context.Context, records []models.MediaRecord)
	Unlink(ctx context.Context, mediaIDs []string)
	CreateNew(ctx context.Context, events []models.MediaEvent, res *pids.Resolution) []models.MediaRecord
	UpdateExisting(ctx context.Context, updates []models.MediaUpdate, res *pids.Resolution) []models.MediaRecord
}

// Republisher re-emits events that cannot be handled in this batch.
type Republisher interface {
	RepublishSpecimenEvent(ctx context.Context, event models.SpecimenEvent) error
	RepublishMediaEvent(ctx context.Context, event models.MediaEvent) error
}

// JobScheduler schedules enrichment jobs for committed records.
type JobScheduler interface {
	ScheduleSpecimens(ctx context.Context, records []models.SpecimenRecord)
	ScheduleMedia(ctx context.Context, records []models.MediaRecord)
}

// Processor orchestrates batch processing
type Processor struct {
	specimens  SpecimenStore
	media      MediaStore
	resolver   Resolver
	specimenSv SpecimenService
	mediaSv    MediaService
	producer   Republisher
	scheduler  JobScheduler
	reconciler *relationships.Reconciler
	equality   *equality.Engine
	logger     ectologger.Logger
}

// NewProcessor creates a new batch processor
func NewProcessor(
	specimens SpecimenStore,
	media MediaStore,
	resolver Resolver,
	specimenSv SpecimenService,
	mediaSv MediaService,
	producer Republisher,
	scheduler JobScheduler,
	reconciler *relationships.Reconciler,
	eq *equality.Engine,
	logger ectologger.Logger,
) *Processor {
	return &Processor{
		specimens:  specimens,
		media:      media,
		resolver:   resolver,
		specimenSv: specimenSv,
		mediaSv:    mediaSv,
		producer:   producer,
		scheduler:  scheduler,
		reconciler: reconciler,
		equality:   eq,
		logger:     logger,
	}
}

// batchState carries the classified batch between the orchestration phases.
type batchState struct {
	events []models.SpecimenEvent

	newSpecimens    []models.SpecimenEvent
	changedSpecs    []models.SpecimenUpdate
	equalSpecimens  []models.SpecimenRecord
	newMedia        []models.MediaEvent
	changedMedia    []models.MediaUpdate
	equalMedia      []models.MediaRecord
	tombstonedMedia []string

	existingSpecimenPIDs map[string]string
	existingMediaPIDs    map[string]string
}

// HandleBatch processes one batch of specimen events and returns the fully
// committed specimen records. It never returns an error: per-entity failures
// are dead-lettered or re-emitted, and a batch-level failure re-emits
// everything for a later attempt.
func (p *Processor) HandleBatch(ctx context.Context, events []models.SpecimenEvent) []models.SpecimenRecord {
	ctx, span := tracing.StartSpan(ctx, "processor.Processor.HandleBatch")
	defer span.End()

	start := time.Now()
	if len(events) == 0 {
		return nil
	}

	unique := p.deduplicate(ctx, events)
	if len(unique) == 0 {
		return nil
	}

	state, ok := p.loadAndClassify(ctx, unique)
	if !ok {
		// State could not be loaded; every event goes around again.
		for _, ev := range unique {
			if err := p.producer.RepublishSpecimenEvent(ctx, ev); err != nil {
				p.logger.WithContext(ctx).WithError(err).WithField("physical_specimen_id", ev.PhysicalSpecimenID).Error("Failed to republish specimen event")
			}
		}
		metrics.BatchesTotal.WithLabelValues("retried").Inc()
		return nil
	}

	res := p.resolver.Resolve(ctx, state.events, state.newSpecimens, state.newMedia, state.existingSpecimenPIDs, state.existingMediaPIDs)

	// Specimens commit first.
	p.specimenSv.UpdateEqual(ctx, state.equalSpecimens)
	committed := p.specimenSv.CreateNew(ctx, state.newSpecimens, res)
	committed = append(committed, p.specimenSv.UpdateExisting(ctx, state.changedSpecs, res)...)

	committedPIDs := make(map[string]bool, len(committed))
	for _, rec := range committed {
		committedPIDs[rec.ID] = true
	}
	res.FilterCommitted(committedPIDs)

	// Media follows, linking only to specimens that actually committed.
	p.mediaSv.Unlink(ctx, state.tombstonedMedia)
	p.mediaSv.UpdateEqual(ctx, state.equalMedia)
	committedMedia := p.mediaSv.CreateNew(ctx, state.newMedia, res)
	committedMedia = append(committedMedia, p.mediaSv.UpdateExisting(ctx, state.changedMedia, res)...)

	p.scheduler.ScheduleSpecimens(ctx, committed)
	p.scheduler.ScheduleMedia(ctx, committedMedia)

	metrics.BatchesTotal.WithLabelValues("ok").Inc()
	metrics.BatchDuration.Observe(time.Since(start).Seconds())
	p.logger.WithContext(ctx).WithFields(map[string]any{
		"events":             len(events),
		"unique":             len(unique),
		"committed_specimen": len(committed),
		"committed_media":    len(committedMedia),
		"duration":           time.Since(start).String(),
	}).Info("Processed batch")
	return committed
}

// deduplicate keeps the first event per physical specimen id and the first
// media event per access URI. Later duplicates are re-emitted so no sighting
// is lost; the specimen and media channels retry independently.
func (p *Processor) deduplicate(ctx context.Context, events []models.SpecimenEvent) []models.SpecimenEvent {
	seenSpecimens := make(map[string]bool, len(events))
	seenMedia := map[string]bool{}
	unique := make([]models.SpecimenEvent, 0, len(events))

	for _, ev := range events {
		if seenSpecimens[ev.PhysicalSpecimenID] {
			p.logger.WithContext(ctx).WithField("physical_specimen_id", ev.PhysicalSpecimenID).Debug("Duplicate specimen event in batch, republishing")
			if err := p.producer.RepublishSpecimenEvent(ctx, ev); err != nil {
				p.logger.WithContext(ctx).WithError(err).WithField("physical_specimen_id", ev.PhysicalSpecimenID).Error("Failed to republish duplicate specimen event")
			}
			continue
		}
		seenSpecimens[ev.PhysicalSpecimenID] = true

		var media []models.MediaEvent
		for _, mev := range ev.MediaEvents {
			if seenMedia[mev.AccessURI] {
				p.logger.WithContext(ctx).WithField("access_uri", mev.AccessURI).Debug("Duplicate media event in batch, republishing")
				if err := p.producer.RepublishMediaEvent(ctx, mev); err != nil {
					p.logger.WithContext(ctx).WithError(err).WithField("access_uri", mev.AccessURI).Error("Failed to republish duplicate media event")
				}
				continue
			}
			seenMedia[mev.AccessURI] = true
			media = append(media, mev)
		}
		ev.MediaEvents = media
		unique = append(unique, ev)
	}
	return unique
}

// loadAndClassify loads the current store state for the batch and classifies
// every specimen and media event as New, Changed, or Equal. Returns false
// when the state could not be loaded; nothing is classified in that case.
func (p *Processor) loadAndClassify(ctx context.Context, events []models.SpecimenEvent) (*batchState, bool) {
	physicalIDs := make([]string, 0, len(events))
	var uris []string
	for _, ev := range events {
		physicalIDs = append(physicalIDs, ev.PhysicalSpecimenID)
		for _, mev := range ev.MediaEvents {
			uris = append(uris, mev.AccessURI)
		}
	}

	currentSpecimens, err := p.specimens.GetByPhysicalIDs(ctx, physicalIDs)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to load current specimens")
		return nil, false
	}
	currentMedia, err := p.media.GetByURIs(ctx, uris)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to load current media")
		return nil, false
	}

	specimenByPhysID := make(map[string]models.SpecimenRecord, len(currentSpecimens))
	state := &batchState{
		events:               events,
		existingSpecimenPIDs: make(map[string]string, len(currentSpecimens)),
		existingMediaPIDs:    make(map[string]string, len(currentMedia)),
	}
	for _, rec := range currentSpecimens {
		specimenByPhysID[rec.PhysicalSpecimenID] = rec
		state.existingSpecimenPIDs[rec.PhysicalSpecimenID] = rec.ID
	}
	mediaByURI := make(map[string]models.MediaRecord, len(currentMedia))
	for _, rec := range currentMedia {
		mediaByURI[rec.AccessURI] = rec
		state.existingMediaPIDs[rec.AccessURI] = rec.ID
	}

	for _, ev := range events {
		current, exists := specimenByPhysID[ev.PhysicalSpecimenID]
		if !exists {
			state.newSpecimens = append(state.newSpecimens, ev)
			p.classifyMedia(state, ev, specimenByPhysID, mediaByURI)
			continue
		}

		rel := p.reconciler.Reconcile(current.Relationships, ev.MediaEvents, state.existingMediaPIDs)
		if p.equality.IsSpecimenEqual(current, ev, rel) {
			state.equalSpecimens = append(state.equalSpecimens, current)
		} else {
			state.changedSpecs = append(state.changedSpecs, models.SpecimenUpdate{
				Event:         ev,
				Current:       current,
				Relationships: rel,
			})
			// A tombstoned hasMedia link unlinks the media on its side too.
			for _, tomb := range rel.Tombstoned {
				if tomb.Name == models.RelationshipHasMedia {
					state.tombstonedMedia = append(state.tombstonedMedia, tomb.RelatedResourceID)
				}
			}
		}
		p.classifyMedia(state, ev, specimenByPhysID, mediaByURI)
	}
	return state, true
}

// classifyMedia classifies the media events bundled in one specimen event. A
// media object referenced by a specimen it is not yet linked to counts as
// changed even when its document is identical.
func (p *Processor) classifyMedia(state *batchState, ev models.SpecimenEvent, specimenByPhysID map[string]models.SpecimenRecord, mediaByURI map[string]models.MediaRecord) {
	for _, mev := range ev.MediaEvents {
		current, exists := mediaByURI[mev.AccessURI]
		if !exists {
			state.newMedia = append(state.newMedia, mev)
			continue
		}
		if p.equality.IsMediaEqual(current, mev, p.hasNewOwner(current, mev, specimenByPhysID)) {
			state.equalMedia = append(state.equalMedia, current)
		} else {
			state.changedMedia = append(state.changedMedia, models.MediaUpdate{Event: mev, Current: current})
		}
	}
}

// hasNewOwner reports whether the media event's referencing specimen is not
// yet linked to the media record. A brand-new specimen is always a new owner.
func (p *Processor) hasNewOwner(current models.MediaRecord, mev models.MediaEvent, specimenByPhysID map[string]models.SpecimenRecord) bool {
	if mev.PhysicalSpecimenID == "" {
		return false
	}
	owner, exists := specimenByPhysID[mev.PhysicalSpecimenID]
	if !exists {
		return true
	}
	if current.SpecimenID == owner.ID {
		return false
	}
	for _, rel := range current.Relationships {
		if rel.Name == models.RelationshipHasSpecimen && rel.RelatedResourceID == owner.ID {
			return false
		}
	}
	return true
}
