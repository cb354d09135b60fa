// Package pids coordinates identifier assignment for a batch and builds the
// bidirectional specimen<->media identifier cross-reference. Inside one batch
// entities reference each other only by natural key (physical specimen id,
// access URI); everything downstream of this package speaks PIDs.
package pids

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/handles"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/models"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/tracing"
)

// HandleClient is the slice of the identifier service the coordinator needs.
type HandleClient interface {
	Assign(ctx context.Context, requests []handles.Request) (map[string]string, error)
}

// Resolution holds the full natural-key -> PID maps for one batch plus the
// per-entity cross-reference results.
type Resolution struct {
	// SpecimenPIDs maps physical specimen id -> PID for every resolvable
	// specimen in the batch, new and existing alike.
	SpecimenPIDs map[string]string
	// MediaPIDs maps access URI -> PID.
	MediaPIDs map[string]string
	// Specimens holds the cross-reference per physical specimen id.
	Specimens map[string]models.PidProcessResult
	// Media holds the cross-reference per access URI.
	Media map[string]models.PidProcessResult
}

// Coordinator resolves identifiers for one batch.
type Coordinator struct {
	handles HandleClient
	logger  ectologger.Logger
}

// NewCoordinator creates a new identifier coordinator.
func NewCoordinator(client HandleClient, logger ectologger.Logger) *Coordinator {
	return &Coordinator{handles: client, logger: logger}
}

// Resolve requests identifiers for the brand-new specimens and media in two
// bulk calls, merges them with the identifiers of entities already known to
// the store, and builds the symmetric cross-reference. An assignment failure
// is not fatal to the batch: keys left unresolved are simply absent from the
// maps, and the entity services dead-letter their events before touching any
// other system.
func (c *Coordinator) Resolve(
	ctx context.Context,
	events []models.SpecimenEvent,
	newSpecimens []models.SpecimenEvent,
	newMedia []models.MediaEvent,
	existingSpecimens map[string]string,
	existingMedia map[string]string,
) *Resolution {
	ctx, span := tracing.StartSpan(ctx, "pids.Coordinator.Resolve")
	defer span.End()

	res := &Resolution{
		SpecimenPIDs: make(map[string]string, len(existingSpecimens)+len(newSpecimens)),
		MediaPIDs:    make(map[string]string, len(existingMedia)+len(newMedia)),
		Specimens:    make(map[string]models.PidProcessResult),
		Media:        make(map[string]models.PidProcessResult),
	}
	for key, pid := range existingSpecimens {
		res.SpecimenPIDs[key] = pid
	}
	for uri, pid := range existingMedia {
		res.MediaPIDs[uri] = pid
	}

	if len(newSpecimens) > 0 {
		requests := make([]handles.Request, 0, len(newSpecimens))
		for _, ev := range newSpecimens {
			requests = append(requests, specimenRequest(ev))
		}
		assigned, err := c.handles.Assign(ctx, requests)
		if err != nil {
			c.logger.WithContext(ctx).WithError(err).Error("Failed to assign specimen handles, affected events will be dead-lettered")
		}
		for key, pid := range assigned {
			res.SpecimenPIDs[key] = pid
		}
	}

	if len(newMedia) > 0 {
		requests := make([]handles.Request, 0, len(newMedia))
		for _, ev := range newMedia {
			requests = append(requests, mediaRequest(ev))
		}
		assigned, err := c.handles.Assign(ctx, requests)
		if err != nil {
			c.logger.WithContext(ctx).WithError(err).Error("Failed to assign media handles, affected events will be dead-lettered")
		}
		for uri, pid := range assigned {
			res.MediaPIDs[uri] = pid
		}
	}

	c.buildCrossReference(res, events)
	return res
}

// buildCrossReference accumulates, for every specimen, the PIDs of its media
// and, for every media object, the PIDs of every specimen referencing it.
// Media shared by several specimens in the same batch keeps the full fan-out.
func (c *Coordinator) buildCrossReference(res *Resolution, events []models.SpecimenEvent) {
	for uri, pid := range res.MediaPIDs {
		res.Media[uri] = models.NewPidProcessResult(pid)
	}

	for _, ev := range events {
		specimenPID, ok := res.SpecimenPIDs[ev.PhysicalSpecimenID]
		if !ok {
			continue
		}
		specimenResult := models.NewPidProcessResult(specimenPID)
		for _, media := range ev.MediaEvents {
			mediaPID, ok := res.MediaPIDs[media.AccessURI]
			if !ok {
				continue
			}
			specimenResult.RelatedPIDs[mediaPID] = true
			res.Media[media.AccessURI].RelatedPIDs[specimenPID] = true
		}
		res.Specimens[ev.PhysicalSpecimenID] = specimenResult
	}
}

// FilterCommitted drops, from every media cross-reference, the specimen PIDs
// that did not survive the specimen persist pipeline. Media must never link
// to a specimen identifier that does not exist in the store.
func (res *Resolution) FilterCommitted(committedSpecimenPIDs map[string]bool) {
	for uri, result := range res.Media {
		for pid := range result.RelatedPIDs {
			if !committedSpecimenPIDs[pid] {
				delete(result.RelatedPIDs, pid)
			}
		}
		res.Media[uri] = result
	}
}

func specimenRequest(ev models.SpecimenEvent) handles.Request {
	attrs := map[string]any{
		"physical_specimen_id": ev.PhysicalSpecimenID,
	}
	for _, term := range []string{"ods:specimenName", "ods:organisationID", "ods:topicDiscipline", "ods:markedAsType"} {
		if v, ok := ev.Attributes[term]; ok {
			attrs[term] = v
		}
	}
	return handles.Request{
		NaturalKey: ev.PhysicalSpecimenID,
		Kind:       handles.KindSpecimen,
		Attributes: attrs,
	}
}

func mediaRequest(ev models.MediaEvent) handles.Request {
	return handles.Request{
		NaturalKey: ev.AccessURI,
		Kind:       handles.KindMedia,
		Attributes: map[string]any{
			"access_uri":           ev.AccessURI,
			"physical_specimen_id": ev.PhysicalSpecimenID,
		},
	}
}
