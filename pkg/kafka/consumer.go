package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/segmentio/kafka-go"

	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/models"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/tracing"
)

var validate = validator.New()

// BatchHandler processes one decoded batch of specimen events. The handler
// never returns an error: every event ends up committed, compensated, or
// dead-lettered inside the pipeline.
type BatchHandler func(ctx context.Context, events []models.SpecimenEvent)

// DeadLetterer receives raw payloads that could not be decoded.
type DeadLetterer interface {
	DeadLetterRaw(ctx context.Context, payload []byte, reason string) error
}

// ConsumerConfig holds Kafka consumer configuration
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	BatchSize     int
	BatchTimeout  time.Duration
}

// Consumer fetches messages from the input topic and hands them to the batch
// handler in groups. One batch is fully processed before the next one is
// fetched.
type Consumer struct {
	reader     *kafka.Reader
	logger     ectologger.Logger
	handler    BatchHandler
	deadLetter DeadLetterer
	batchSize  int
	batchWait  time.Duration
	healthy    atomic.Bool
	wg         sync.WaitGroup
	cancel     context.CancelFunc
}

// NewConsumer creates a new batch consumer.
func NewConsumer(cfg ConsumerConfig, logger ectologger.Logger, deadLetter DeadLetterer, handler BatchHandler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: time.Second,
	})

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	batchWait := cfg.BatchTimeout
	if batchWait <= 0 {
		batchWait = 2 * time.Second
	}

	c := &Consumer{
		reader:     reader,
		logger:     logger,
		handler:    handler,
		deadLetter: deadLetter,
		batchSize:  batchSize,
		batchWait:  batchWait,
	}
	c.healthy.Store(true)
	return c
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.consumeLoop(ctx)

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic": c.reader.Config().Topic,
	}).Info("Kafka consumer started")
	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

// Health reports whether the last fetch against the broker succeeded.
func (c *Consumer) Health() bool {
	return c.healthy.Load()
}

// markFetch updates the health flag from a fetch result. A canceled context,
// an elapsed batch window, or a closed reader says nothing about the broker.
func (c *Consumer) markFetch(err error) {
	switch {
	case err == nil:
		c.healthy.Store(true)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, io.EOF):
	default:
		c.healthy.Store(false)
	}
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			c.logger.WithContext(ctx).Info("Consumer loop stopping")
			return
		default:
			messages := c.fetchBatch(ctx)
			if len(messages) == 0 {
				continue
			}
			c.processBatch(ctx, messages)
		}
	}
}

// fetchBatch accumulates messages until the batch is full or the wait window
// elapses with at least one message in hand.
func (c *Consumer) fetchBatch(ctx context.Context) []kafka.Message {
	var messages []kafka.Message
	deadline := time.Now().Add(c.batchWait)

	for len(messages) < c.batchSize {
		fetchCtx := ctx
		if len(messages) > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithDeadline(ctx, deadline)
			msg, err := c.reader.FetchMessage(fetchCtx)
			cancel()
			c.markFetch(err)
			if err != nil {
				// Window elapsed, hand over what we have.
				break
			}
			messages = append(messages, msg)
			continue
		}

		msg, err := c.reader.FetchMessage(fetchCtx)
		c.markFetch(err)
		if err != nil {
			if err == context.Canceled || err == io.EOF {
				return messages
			}
			c.logger.WithContext(ctx).WithError(err).Error("Failed to fetch message")
			return messages
		}
		messages = append(messages, msg)
		deadline = time.Now().Add(c.batchWait)
	}
	return messages
}

func (c *Consumer) processBatch(ctx context.Context, messages []kafka.Message) {
	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.processBatch")
	defer span.End()

	events := make([]models.SpecimenEvent, 0, len(messages))
	for _, msg := range messages {
		event, ok := c.decode(ctx, msg)
		if ok {
			events = append(events, event)
		}
	}

	if len(events) > 0 {
		c.handler(ctx, events)
	}

	// The handler resolves every event to committed, compensated, or
	// dead-lettered; the offsets are safe to commit either way.
	if err := c.reader.CommitMessages(ctx, messages...); err != nil {
		c.logger.WithContext(ctx).WithError(err).Error("Failed to commit messages")
	}
}

// decode unmarshals and validates one message. Undecodable payloads are
// dead-lettered raw, never dropped.
func (c *Consumer) decode(ctx context.Context, msg kafka.Message) (models.SpecimenEvent, bool) {
	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	var event models.SpecimenEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		log.WithError(err).Error("Failed to parse specimen event")
		if dlErr := c.deadLetter.DeadLetterRaw(ctx, msg.Value, "unparseable"); dlErr != nil {
			log.WithError(dlErr).Error("Failed to dead-letter unparseable payload")
		}
		return models.SpecimenEvent{}, false
	}

	if err := validate.Struct(event); err != nil {
		log.WithError(err).Error("Specimen event failed validation")
		if dlErr := c.deadLetter.DeadLetterRaw(ctx, msg.Value, "invalid"); dlErr != nil {
			log.WithError(dlErr).Error("Failed to dead-letter invalid payload")
		}
		return models.SpecimenEvent{}, false
	}

	return event, true
}
