package nats

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/operator-relay/internal/model"
)

// StateKey is the key the relay snapshot is stored under.
const StateKey = "snapshot"

// bucket is the part of jetstream.KeyValue the persister uses.
type bucket interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Put(ctx context.Context, key string, value []byte) (uint64, error)
}

// KVPersister stores the relay snapshot in a JetStream key-value bucket.
type KVPersister struct {
	kv bucket
}

// EnsureBucket returns the named bucket, creating it if it does not exist.
func EnsureBucket(ctx context.Context, client *Client, name string) (jetstream.KeyValue, error) {
	js := client.JetStream()

	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("failed to look up bucket %s: %w", name, err)
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: "Operator relay conversation state",
		History:     1,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket %s: %w", name, err)
	}
	return kv, nil
}

// NewKVPersister ensures the bucket and wraps it.
func NewKVPersister(ctx context.Context, client *Client, name string) (*KVPersister, error) {
	kv, err := EnsureBucket(ctx, client, name)
	if err != nil {
		return nil, err
	}
	return &KVPersister{kv: kv}, nil
}

// Name returns the driver name.
func (p *KVPersister) Name() string {
	return "nats"
}

// Load reads the stored snapshot.
func (p *KVPersister) Load(ctx context.Context) (*model.Snapshot, error) {
	entry, err := p.kv.Get(ctx, StateKey)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return model.NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return model.DecodeSnapshot(entry.Value())
}

// Save writes the snapshot. Put returns after the server has acknowledged
// the write.
func (p *KVPersister) Save(ctx context.Context, snap *model.Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if _, err := p.kv.Put(ctx, StateKey, data); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Close is a no-op; the connection belongs to the Client.
func (p *KVPersister) Close() error {
	return nil
}
