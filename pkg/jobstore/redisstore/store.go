// Package redisstore persists job snapshots as JSON values in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/3leaps/gojobs/pkg/job"
)

// DefaultPrefix namespaces job keys.
const DefaultPrefix = "gojobs:job:"

// Options configures a Backend.
type Options struct {
	// Prefix is prepended to the job id to form the key. Empty uses DefaultPrefix.
	Prefix string

	// TTL expires a job key after its last save. Zero keeps keys forever.
	TTL time.Duration
}

// Backend stores one key per job. SET replaces the value atomically.
type Backend struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ job.Backend = (*Backend)(nil)

// New wraps a Redis client.
func New(client redis.UniversalClient, opts Options) *Backend {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Backend{client: client, prefix: prefix, ttl: opts.TTL}
}

// Key returns the Redis key for id.
func (b *Backend) Key(id uuid.UUID) string {
	return b.prefix + id.String()
}

// SaveSnapshot implements job.Backend.
func (b *Backend) SaveSnapshot(ctx context.Context, snap job.Snapshot) error {
	id := snap.ID.String()
	data, err := json.Marshal(snap)
	if err != nil {
		return job.SerializationError("save", id, err)
	}
	if err := b.client.Set(ctx, b.Key(snap.ID), data, b.ttl).Err(); err != nil {
		return job.IOError("save", id, fmt.Errorf("redis set: %w", err))
	}
	return nil
}

// LoadSnapshot implements job.Backend.
func (b *Backend) LoadSnapshot(ctx context.Context, id uuid.UUID) (job.Snapshot, error) {
	data, err := b.client.Get(ctx, b.Key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return job.Snapshot{}, job.NotFoundError("load", id.String())
		}
		return job.Snapshot{}, job.IOError("load", id.String(), fmt.Errorf("redis get: %w", err))
	}

	var snap job.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return job.Snapshot{}, job.SerializationError("load", id.String(), err)
	}
	if snap.ID != id {
		return job.Snapshot{}, job.SerializationError("load", id.String(), fmt.Errorf("redis value holds job %s", snap.ID))
	}
	return snap, nil
}

// Delete removes the job key.
func (b *Backend) Delete(ctx context.Context, id uuid.UUID) error {
	n, err := b.client.Del(ctx, b.Key(id)).Result()
	if err != nil {
		return job.IOError("delete", id.String(), fmt.Errorf("redis del: %w", err))
	}
	if n == 0 {
		return job.NotFoundError("delete", id.String())
	}
	return nil
}

// List returns every snapshot under the prefix, newest first. Keys that
// expire or fail to decode between SCAN and GET are skipped.
func (b *Backend) List(ctx context.Context) ([]job.Snapshot, error) {
	var out []job.Snapshot
	iter := b.client.Scan(ctx, 0, b.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := b.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, job.IOError("list", "", fmt.Errorf("redis get: %w", err))
		}
		var snap job.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			continue
		}
		out = append(out, snap)
	}
	if err := iter.Err(); err != nil {
		return nil, job.IOError("list", "", fmt.Errorf("redis scan: %w", err))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// TTL returns the remaining lifetime of the job key. A negative duration
// means the key never expires.
func (b *Backend) TTL(ctx context.Context, id uuid.UUID) (time.Duration, error) {
	d, err := b.client.TTL(ctx, b.Key(id)).Result()
	if err != nil {
		return 0, job.IOError("ttl", id.String(), fmt.Errorf("redis ttl: %w", err))
	}
	// go-redis reports a missing key as -2ns.
	if d == -2 {
		return 0, job.NotFoundError("ttl", id.String())
	}
	return d, nil
}
