package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/capitalize-ai/operator-relay/internal/model"
)

// RedisPersister stores the snapshot under a single Redis key.
type RedisPersister struct {
	client *redis.Client
	key    string
}

// NewRedisPersister connects to Redis and verifies the connection.
func NewRedisPersister(addr, password string, db int, key string) (*RedisPersister, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisPersisterFromClient(client, key), nil
}

// NewRedisPersisterFromClient wraps an existing client.
func NewRedisPersisterFromClient(client *redis.Client, key string) *RedisPersister {
	return &RedisPersister{client: client, key: key}
}

// Name returns the driver name.
func (p *RedisPersister) Name() string {
	return "redis"
}

// Load reads the stored document.
func (p *RedisPersister) Load(ctx context.Context) (*model.Snapshot, error) {
	data, err := p.client.Get(ctx, p.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return model.DecodeSnapshot(data)
}

// Save replaces the stored document.
func (p *RedisPersister) Save(ctx context.Context, snap *model.Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	return p.client.Set(ctx, p.key, data, 0).Err()
}

// Close closes the client.
func (p *RedisPersister) Close() error {
	return p.client.Close()
}
