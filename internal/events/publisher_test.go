package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope(BookingConfirmed, map[string]string{"booking_id": "b-1"})

	assert.Equal(t, BookingConfirmed, env.Event)
	assert.Equal(t, 1, env.Version)
	_, err := time.Parse(time.RFC3339, env.OccurredAt)
	assert.NoError(t, err)

	b, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"occurred_at"`)
	assert.Contains(t, string(b), `"booking_id":"b-1"`)
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	p := NewLogPublisher(zap.New(core))

	err := p.PublishJSON(context.Background(), BookingCancelled, map[string]int{"refund": 5000})
	require.NoError(t, err)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, BookingCancelled, logs.All()[0].ContextMap()["routing_key"])

	err = p.PublishJSON(context.Background(), BookingCancelled, make(chan int))
	assert.Error(t, err)
	assert.NoError(t, p.Close())
}
