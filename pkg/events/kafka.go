package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Kind is the fanout event type pushed to room viewers.
type Kind string

const (
	KindItemAdded   Kind = "item-added"
	KindVoteChanged Kind = "vote-changed"
	KindNowPlaying  Kind = "now-playing"
)

// Event is a transient room notification. Delivery is at-least-once and
// best-effort; clients that miss one recover by refetching the queue.
type Event struct {
	Kind      Kind            `json:"kind"`
	RoomID    string          `json:"room_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// KafkaClient is the fanout broker. Every instance writes to one shared
// topic keyed by room id, and every instance reads it back with its own
// consumer group, so a mutation accepted on instance A reaches viewers
// connected to instance B.
type KafkaClient struct {
	writer *kafka.Writer
	reader *kafka.Reader
}

func NewKafkaClient(brokers []string, topic string) *KafkaClient {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	// A unique group id per process gives broadcast semantics: a shared
	// group would split the stream between instances instead.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     "gateway-" + uuid.New().String(),
		StartOffset: kafka.LastOffset,
	})

	return &KafkaClient{writer: writer, reader: reader}
}

// Publish writes a room-tagged event. Callers treat failures as
// fire-and-forget: the mutation has already committed by the time this runs.
func (k *KafkaClient) Publish(ctx context.Context, roomID string, kind Kind, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	event := Event{
		Kind:      kind,
		RoomID:    roomID,
		Timestamp: time.Now().UTC(),
		Payload:   body,
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(roomID),
		Value: value,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Consume reads events until the context is done, passing each to handler.
func (k *KafkaClient) Consume(ctx context.Context, handler func(Event) error) error {
	for {
		msg, err := k.reader.ReadMessage(ctx)
		if err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}

		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("failed to unmarshal event: %w", err)
		}
		if err := handler(event); err != nil {
			return fmt.Errorf("failed to handle event: %w", err)
		}
	}
}

func (k *KafkaClient) Close() error {
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	if err := k.reader.Close(); err != nil {
		return fmt.Errorf("failed to close reader: %w", err)
	}
	return nil
}

// Payload shapes for the event kinds above.

type ItemAddedPayload struct {
	Stream any `json:"stream"`
}

type VoteChangedPayload struct {
	StreamID   string `json:"stream_id"`
	TotalVotes int    `json:"total_votes"`
}

type NowPlayingPayload struct {
	Stream any `json:"stream"`
}
