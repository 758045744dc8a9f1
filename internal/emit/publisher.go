// Package emit publishes engine decisions to downstream consumers. Events go
// out after the owning transaction commits; publish failures are logged and
// never fail the tick.
package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Event types.
const (
	TypePredictionCreated = "prediction_created"
	TypeOutcomeEvaluated  = "outcome_evaluated"
	TypeWindowPaused      = "window_paused"
)

// Event is the wire envelope pushed to subscribers.
type Event struct {
	ID       string      `json:"id"`
	Type     string      `json:"type"`
	At       time.Time   `json:"at"`
	WindowID int64       `json:"window_id,omitempty"`
	Payload  interface{} `json:"payload,omitempty"`
}

// NewEvent stamps an envelope with a fresh id.
func NewEvent(typ string, at time.Time, windowID int64, payload interface{}) *Event {
	return &Event{
		ID:       uuid.NewString(),
		Type:     typ,
		At:       at.UTC(),
		WindowID: windowID,
		Payload:  payload,
	}
}

// Publisher delivers events to a downstream channel.
type Publisher interface {
	Publish(ctx context.Context, ev *Event) error
}

// LogPublisher writes events to the structured log. It is the fallback when
// no Redis connection is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, ev *Event) error {
	log.Info().
		Str("event_id", ev.ID).
		Str("type", ev.Type).
		Int64("window_id", ev.WindowID).
		Interface("payload", ev.Payload).
		Msg("Decision event")
	return nil
}

// RedisPublisher pushes events to a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev *Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
