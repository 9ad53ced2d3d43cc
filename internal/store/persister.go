package store

import (
	"context"

	"github.com/capitalize-ai/operator-relay/internal/model"
)

// Persister is the durable substrate behind a Store. Save must not return
// until the snapshot is durable.
type Persister interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Load returns the last saved snapshot, or an empty one if nothing was saved yet.
	Load(ctx context.Context) (*model.Snapshot, error)

	// Save durably replaces the stored snapshot.
	Save(ctx context.Context, snap *model.Snapshot) error

	// Close releases backend resources.
	Close() error
}
