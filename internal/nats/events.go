package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/operator-relay/internal/model"
	"github.com/capitalize-ai/operator-relay/pkg/metrics"
)

const (
	// StreamName is the name of the relay events stream.
	StreamName = "RELAY"

	// SubjectPrefix is the prefix for all relay event subjects.
	SubjectPrefix = "relay"
)

type publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// EventPublisher writes relay events to JetStream.
type EventPublisher struct {
	js publisher
}

// NewEventPublisher ensures the events stream and returns a publisher for it.
func NewEventPublisher(ctx context.Context, client *Client) (*EventPublisher, error) {
	if err := EnsureStream(ctx, client.JetStream()); err != nil {
		return nil, err
	}
	return &EventPublisher{js: client.JetStream()}, nil
}

// EnsureStream ensures the relay events stream exists.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		MaxBytes:    1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Relay audit events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// EventSubject returns the subject for a relay event.
func EventSubject(ev *model.RelayEvent) string {
	return fmt.Sprintf("%s.%d.%s", SubjectPrefix, ev.UserID, ev.Status)
}

// Publish publishes one relay event. The event id doubles as the JetStream
// message id so retries are deduplicated.
func (p *EventPublisher) Publish(ctx context.Context, ev *model.RelayEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = p.js.Publish(ctx, EventSubject(ev), data, jetstream.WithMsgID(ev.ID))
	if err != nil {
		metrics.EventsPublishedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish event: %w", err)
	}
	metrics.EventsPublishedTotal.WithLabelValues("success").Inc()
	return nil
}
