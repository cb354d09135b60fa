package kafka

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/logging"
	"github.com/DiSSCo/dissco-core-digital-specimen-processor/pkg/models"
)

func newTestConsumer() *Consumer {
	return NewConsumer(ConsumerConfig{
		Brokers:       []string{"localhost:9092"},
		Topic:         "digital-specimen-events",
		ConsumerGroup: "specimen-processor",
		BatchSize:     10,
		BatchTimeout:  time.Second,
	}, logging.NewNoop(), nil, func(context.Context, []models.SpecimenEvent) {})
}

func TestHealthTracksFetchResults(t *testing.T) {
	c := newTestConsumer()

	assert.True(t, c.Health(), "healthy until a fetch fails")

	c.markFetch(errors.New("broker unreachable"))
	assert.False(t, c.Health())

	c.markFetch(nil)
	assert.True(t, c.Health())
}

func TestHealthIgnoresShutdownAndWindowErrors(t *testing.T) {
	c := newTestConsumer()

	c.markFetch(context.Canceled)
	assert.True(t, c.Health(), "shutdown is not a broker fault")

	c.markFetch(context.DeadlineExceeded)
	assert.True(t, c.Health(), "an elapsed batch window is not a broker fault")

	c.markFetch(io.EOF)
	assert.True(t, c.Health(), "a closed reader is not a broker fault")

	c.markFetch(errors.New("broker unreachable"))
	c.markFetch(context.DeadlineExceeded)
	assert.False(t, c.Health(), "window errors must not mask a broker fault")
}
