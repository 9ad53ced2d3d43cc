package service

import (
	"context"
	"errors"

	"github.com/capitalize-ai/operator-relay/internal/model"
)

// Sink accepts relay events.
type Sink interface {
	Publish(ctx context.Context, ev *model.RelayEvent) error
}

// MultiSink publishes to every sink and joins their errors.
type MultiSink []Sink

// Publish delivers ev to all sinks, continuing past failures.
func (m MultiSink) Publish(ctx context.Context, ev *model.RelayEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
