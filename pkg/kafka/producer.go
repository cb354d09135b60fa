// Package kafka carries the inbound and outbound broker surface of the
// processor: batch consumption of specimen events, publication of record
// lifecycle events and enrichment job requests, re-emission of duplicates,
// and the dead-letter channel.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/metrics"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/models"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/tracing"
)

// Record event types published after a successful persist.
const (
	EventCreateSpecimen = "createDigitalSpecimen"
	EventUpdateSpecimen = "updateDigitalSpecimen"
	EventCreateMedia    = "createDigitalMedia"
	EventUpdateMedia    = "updateDigitalMedia"
)

// RecordEvent announces a durably committed record to downstream consumers.
type RecordEvent struct {
	EventType        string          `json:"event_type"`
	ID               string          `json:"id"`
	Version          int             `json:"version"`
	SourceSystemName string          `json:"source_system_name,omitempty"`
	BatchID          string          `json:"batch_id,omitempty"`
	Data             json.RawMessage `json:"data"`
	Timestamp        time.Time       `json:"timestamp"`
}

// MasJobRequest asks a machine annotation service to enrich one entity.
type MasJobRequest struct {
	JobID      string    `json:"job_id"`
	MasID      string    `json:"mas_id"`
	TargetPID  string    `json:"target_pid"`
	TargetType string    `json:"target_type"`
	BatchID    string    `json:"batch_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// DeadLetterEntry wraps an event that could not be completed, together with
// the reason, for the external re-delivery mechanism.
type DeadLetterEntry struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"` // specimen, media, raw
	Reason    string          `json:"reason"`
	Payload   json.RawMessage `json:"payload"`
	TraceID   string          `json:"trace_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers         []string
	InputTopic      string
	MediaRetryTopic string
	EventsTopic     string
	MasTopic        string
	DeadLetterTopic string
	BatchSize       int
	BatchTimeout    time.Duration
	RequiredAcks    int
	Compression     string
}

// Producer handles all outbound Kafka traffic
type Producer struct {
	writer *kafka.Writer
	cfg    ProducerConfig
	logger ectologger.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{writer: writer, cfg: cfg, logger: logger}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishRecordEvent publishes one record lifecycle event.
func (p *Producer) PublishRecordEvent(ctx context.Context, event *RecordEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishRecordEvent")
	defer span.End()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.cfg.EventsTopic,
		Key:   []byte(event.ID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type": event.EventType,
			"id":         event.ID,
		}).Error("Failed to publish record event")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_type": event.EventType,
		"id":         event.ID,
	}).Debug("Published record event")
	return nil
}

// PublishMasJob publishes one enrichment job request.
func (p *Producer) PublishMasJob(ctx context.Context, job *MasJobRequest) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishMasJob")
	defer span.End()

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.Timestamp.IsZero() {
		job.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(job)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.cfg.MasTopic,
		Key:   []byte(job.TargetPID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "mas_id", Value: []byte(job.MasID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"mas_id":     job.MasID,
			"target_pid": job.TargetPID,
		}).Error("Failed to publish MAS job request")
		return err
	}

	metrics.MasJobsScheduledTotal.Inc()
	return nil
}

// RepublishSpecimenEvent re-emits a specimen event verbatim onto the input
// topic so it is retried in a future batch.
func (p *Producer) RepublishSpecimenEvent(ctx context.Context, event models.SpecimenEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.RepublishSpecimenEvent")
	defer span.End()

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.cfg.InputTopic,
		Key:   []byte(event.PhysicalSpecimenID),
		Value: data,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"physical_specimen_id": event.PhysicalSpecimenID,
		}).Error("Failed to republish specimen event")
		return err
	}
	return nil
}

// RepublishMediaEvent re-emits a duplicate media event onto the media retry
// topic. That topic is consumed by the standalone digital media processor,
// which replays the event against the shared store once the first occurrence
// in this batch has committed.
func (p *Producer) RepublishMediaEvent(ctx context.Context, event models.MediaEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.RepublishMediaEvent")
	defer span.End()

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.cfg.MediaRetryTopic,
		Key:   []byte(event.AccessURI),
		Value: data,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"access_uri": event.AccessURI,
		}).Error("Failed to republish media event")
		return err
	}
	return nil
}

// DeadLetterSpecimen routes a specimen event to the dead-letter topic.
func (p *Producer) DeadLetterSpecimen(ctx context.Context, event models.SpecimenEvent, reason string) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.deadLetter(ctx, "specimen", reason, payload)
}

// DeadLetterMedia routes a media event to the dead-letter topic.
func (p *Producer) DeadLetterMedia(ctx context.Context, event models.MediaEvent, reason string) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.deadLetter(ctx, "media", reason, payload)
}

// DeadLetterRaw routes an undecodable payload to the dead-letter topic
// unparsed. A malformed message is never silently dropped.
func (p *Producer) DeadLetterRaw(ctx context.Context, payload []byte, reason string) error {
	return p.deadLetter(ctx, "raw", reason, payload)
}

func (p *Producer) deadLetter(ctx context.Context, kind, reason string, payload []byte) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.deadLetter")
	defer span.End()

	entry := DeadLetterEntry{
		ID:        uuid.New().String(),
		Kind:      kind,
		Reason:    reason,
		Payload:   payload,
		TraceID:   tracing.GetTraceID(ctx),
		CreatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Topic: p.cfg.DeadLetterTopic,
		Key:   []byte(entry.ID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(kind)},
			{Key: "reason", Value: []byte(reason)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"kind":   kind,
			"reason": reason,
		}).Error("Failed to dead-letter event")
		return err
	}

	metrics.DeadLettersTotal.WithLabelValues(reason).Inc()
	p.logger.WithContext(ctx).WithFields(map[string]any{
		"kind":   kind,
		"reason": reason,
	}).Warn("Dead-lettered event")
	return nil
}
