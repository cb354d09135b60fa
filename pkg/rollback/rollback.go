// Package rollback compensates partially committed work when a later saga
// step fails. Compensation is best effort: each failed compensating action is
// logged and counted, never retried inline, and the affected source events
// are always dead-lettered last so operators can replay them.
package rollback

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/metrics"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/models"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/search"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/tracing"
)

// SpecimenStore is the subset of the specimen repository compensation needs.
type SpecimenStore interface {
	Delete(ctx context.Context, id string) error
	RollbackToVersion(ctx context.Context, rec models.SpecimenRecord) error
}

// MediaStore is the subset of the media repository compensation needs.
type MediaStore interface {
	Delete(ctx context.Context, id string) error
	RollbackToVersion(ctx context.Context, rec models.MediaRecord) error
}

// Indexer is the subset of the search index compensation needs.
type Indexer interface {
	Delete(ctx context.Context, id string) error
	Reindex(ctx context.Context, doc search.Document) error
}

// HandleClient releases identifiers assigned during the failed attempt.
type HandleClient interface {
	Rollback(ctx context.Context, pids []string) error
}

// DeadLetterer re-routes the source events of rolled-back entities.
type DeadLetterer interface {
	DeadLetterSpecimen(ctx context.Context, event models.SpecimenEvent, reason string) error
	DeadLetterMedia(ctx context.Context, event models.MediaEvent, reason string) error
}

// FailedSpecimen couples a specimen record with its source event so both the
// compensating actions and the dead letter can be produced from one value.
type FailedSpecimen struct {
	Record models.SpecimenRecord
	Event  models.SpecimenEvent
	// Previous holds the committed prior version; only set on the update path.
	Previous *models.SpecimenRecord
}

// FailedMedia couples a media record with its source event.
type FailedMedia struct {
	Record   models.MediaRecord
	Event    models.MediaEvent
	Previous *models.MediaRecord
}

// Coordinator runs the compensating actions of the persist pipeline
type Coordinator struct {
	specimens SpecimenStore
	media     MediaStore
	index     Indexer
	handles   HandleClient
	producer  DeadLetterer
	logger    ectologger.Logger
}

// NewCoordinator creates a new rollback coordinator
func NewCoordinator(specimens SpecimenStore, media MediaStore, index Indexer, handles HandleClient, producer DeadLetterer, logger ectologger.Logger) *Coordinator {
	return &Coordinator{
		specimens: specimens,
		media:     media,
		index:     index,
		handles:   handles,
		producer:  producer,
		logger:    logger,
	}
}

// RollbackNewSpecimens undoes a failed create group. rollbackIndex and
// rollbackStore say how far the group got before the failure: an index
// failure needs no index cleanup for the failed items, a publish failure
// needs both.
func (c *Coordinator) RollbackNewSpecimens(ctx context.Context, failed []FailedSpecimen, rollbackIndex, rollbackStore bool) {
	ctx, span := tracing.StartSpan(ctx, "rollback.Coordinator.RollbackNewSpecimens")
	defer span.End()

	if len(failed) == 0 {
		return
	}

	pids := make([]string, 0, len(failed))
	for _, f := range failed {
		if rollbackIndex {
			if err := c.index.Delete(ctx, f.Record.ID); err != nil {
				c.logIndexFailure(ctx, "specimen", f.Record.ID, err)
			}
		}
		if rollbackStore {
			if err := c.specimens.Delete(ctx, f.Record.ID); err != nil {
				c.logStoreFailure(ctx, "specimen", f.Record.ID, err)
			}
		}
		pids = append(pids, f.Record.ID)
	}

	// One release call for the whole group.
	if err := c.handles.Rollback(ctx, pids); err != nil {
		c.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(pids)}).Error("Failed to release handles during rollback")
		metrics.RollbacksTotal.WithLabelValues("specimen", "handle").Inc()
	}

	for _, f := range failed {
		if err := c.producer.DeadLetterSpecimen(ctx, f.Event, "create rolled back"); err != nil {
			c.logger.WithContext(ctx).WithError(err).WithField("id", f.Record.ID).Error("Failed to dead letter specimen event")
		}
	}
	c.logger.WithContext(ctx).WithFields(map[string]any{"count": len(failed)}).Warn("Rolled back new specimens")
}

// RollbackUpdatedSpecimens restores the previous committed version of a
// failed update group. Handles are never released for updates; the entity
// legitimately keeps its identifier.
func (c *Coordinator) RollbackUpdatedSpecimens(ctx context.Context, failed []FailedSpecimen, rollbackIndex, rollbackStore bool) {
	ctx, span := tracing.StartSpan(ctx, "rollback.Coordinator.RollbackUpdatedSpecimens")
	defer span.End()

	for _, f := range failed {
		if f.Previous == nil {
			c.logger.WithContext(ctx).WithField("id", f.Record.ID).Error("Updated specimen has no previous version to restore")
			metrics.RollbacksTotal.WithLabelValues("specimen", "store").Inc()
			continue
		}
		if rollbackStore {
			if err := c.specimens.RollbackToVersion(ctx, *f.Previous); err != nil {
				c.logStoreFailure(ctx, "specimen", f.Record.ID, err)
			}
		}
		if rollbackIndex {
			if err := c.index.Reindex(ctx, search.Document{ID: f.Previous.ID, Data: f.Previous.Attributes}); err != nil {
				c.logIndexFailure(ctx, "specimen", f.Record.ID, err)
			}
		}
	}

	for _, f := range failed {
		if err := c.producer.DeadLetterSpecimen(ctx, f.Event, "update rolled back"); err != nil {
			c.logger.WithContext(ctx).WithError(err).WithField("id", f.Record.ID).Error("Failed to dead letter specimen event")
		}
	}
	if len(failed) > 0 {
		c.logger.WithContext(ctx).WithFields(map[string]any{"count": len(failed)}).Warn("Rolled back updated specimens")
	}
}

// RollbackNewMedia undoes a failed media create group.
func (c *Coordinator) RollbackNewMedia(ctx context.Context, failed []FailedMedia, rollbackIndex, rollbackStore bool) {
	ctx, span := tracing.StartSpan(ctx, "rollback.Coordinator.RollbackNewMedia")
	defer span.End()

	if len(failed) == 0 {
		return
	}

	pids := make([]string, 0, len(failed))
	for _, f := range failed {
		if rollbackIndex {
			if err := c.index.Delete(ctx, f.Record.ID); err != nil {
				c.logIndexFailure(ctx, "media", f.Record.ID, err)
			}
		}
		if rollbackStore {
			if err := c.media.Delete(ctx, f.Record.ID); err != nil {
				c.logStoreFailure(ctx, "media", f.Record.ID, err)
			}
		}
		pids = append(pids, f.Record.ID)
	}

	if err := c.handles.Rollback(ctx, pids); err != nil {
		c.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"count": len(pids)}).Error("Failed to release handles during rollback")
		metrics.RollbacksTotal.WithLabelValues("media", "handle").Inc()
	}

	for _, f := range failed {
		if err := c.producer.DeadLetterMedia(ctx, f.Event, "create rolled back"); err != nil {
			c.logger.WithContext(ctx).WithError(err).WithField("id", f.Record.ID).Error("Failed to dead letter media event")
		}
	}
	c.logger.WithContext(ctx).WithFields(map[string]any{"count": len(failed)}).Warn("Rolled back new media")
}

// RollbackUpdatedMedia restores the previous committed version of a failed
// media update group.
func (c *Coordinator) RollbackUpdatedMedia(ctx context.Context, failed []FailedMedia, rollbackIndex, rollbackStore bool) {
	ctx, span := tracing.StartSpan(ctx, "rollback.Coordinator.RollbackUpdatedMedia")
	defer span.End()

	for _, f := range failed {
		if f.Previous == nil {
			c.logger.WithContext(ctx).WithField("id", f.Record.ID).Error("Updated media has no previous version to restore")
			metrics.RollbacksTotal.WithLabelValues("media", "store").Inc()
			continue
		}
		if rollbackStore {
			if err := c.media.RollbackToVersion(ctx, *f.Previous); err != nil {
				c.logStoreFailure(ctx, "media", f.Record.ID, err)
			}
		}
		if rollbackIndex {
			if err := c.index.Reindex(ctx, search.Document{ID: f.Previous.ID, Data: f.Previous.Attributes}); err != nil {
				c.logIndexFailure(ctx, "media", f.Record.ID, err)
			}
		}
	}

	for _, f := range failed {
		if err := c.producer.DeadLetterMedia(ctx, f.Event, "update rolled back"); err != nil {
			c.logger.WithContext(ctx).WithError(err).WithField("id", f.Record.ID).Error("Failed to dead letter media event")
		}
	}
	if len(failed) > 0 {
		c.logger.WithContext(ctx).WithFields(map[string]any{"count": len(failed)}).Warn("Rolled back updated media")
	}
}

func (c *Coordinator) logIndexFailure(ctx context.Context, kind, id string, err error) {
	c.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"kind": kind, "id": id}).Error("Failed to remove index document during rollback")
	metrics.RollbacksTotal.WithLabelValues(kind, "index").Inc()
}

func (c *Coordinator) logStoreFailure(ctx context.Context, kind, id string, err error) {
	c.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"kind": kind, "id": id}).Error("Failed to remove record during rollback")
	metrics.RollbacksTotal.WithLabelValues(kind, "store").Inc()
}
