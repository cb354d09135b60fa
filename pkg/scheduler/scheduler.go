// Package scheduler fans out machine annotation service (MAS) job requests
// for committed records. Newly created entities always get their enrichment
// list scheduled; updated entities only when the event forces it.
package scheduler

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/kafka"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/models"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/tracing"
)

// Target types carried on MAS job requests.
const (
	TargetSpecimen = "digital-specimen"
	TargetMedia    = "digital-media"
)

// JobPublisher is the broker surface the scheduler needs.
type JobPublisher interface {
	PublishMasJob(ctx context.Context, job *kafka.MasJobRequest) error
}

// Scheduler publishes enrichment job requests
type Scheduler struct {
	producer JobPublisher
	logger   ectologger.Logger
}

// NewScheduler creates a new MAS job scheduler
func NewScheduler(producer JobPublisher, logger ectologger.Logger) *Scheduler {
	return &Scheduler{producer: producer, logger: logger}
}

// ScheduleSpecimens publishes one job per enrichment list entry for every
// record that is newly created or explicitly force-scheduled. A publish
// failure skips that job only; enrichment is eventually consistent and never
// blocks the batch.
func (s *Scheduler) ScheduleSpecimens(ctx context.Context, records []models.SpecimenRecord) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Scheduler.ScheduleSpecimens")
	defer span.End()

	for _, rec := range records {
		if rec.Version > 1 && !rec.ForceSchedule {
			continue
		}
		s.publish(ctx, rec.ID, TargetSpecimen, rec.EnrichmentList)
	}
}

// ScheduleMedia publishes enrichment jobs for committed media records under
// the same created-or-forced rule.
func (s *Scheduler) ScheduleMedia(ctx context.Context, records []models.MediaRecord) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Scheduler.ScheduleMedia")
	defer span.End()

	for _, rec := range records {
		if rec.Version > 1 && !rec.ForceSchedule {
			continue
		}
		s.publish(ctx, rec.ID, TargetMedia, rec.EnrichmentList)
	}
}

func (s *Scheduler) publish(ctx context.Context, pid, targetType string, enrichmentList []string) {
	for _, masID := range enrichmentList {
		job := &kafka.MasJobRequest{
			MasID:      masID,
			TargetPID:  pid,
			TargetType: targetType,
		}
		if err := s.producer.PublishMasJob(ctx, job); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"mas_id":     masID,
				"target_pid": pid,
			}).Error("Failed to schedule enrichment job")
		}
	}
}
