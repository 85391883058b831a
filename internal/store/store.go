// Package store implements the persistent key/value layer that backs
// sessions in every mode and the whole user directory in local mode.
// Values are JSON documents under namespaced Redis keys, mirroring the
// storage layout the site has always used (a users list, a sessions
// list, one current-session record per client, and a pair of legacy
// compatibility keys).
//
// Concurrent clients performing read-modify-write on the same list can
// race; Update closes that hole with an optimistic WATCH/MULTI loop, so
// a conflicting write retries instead of silently losing data.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every key this service owns.
const keyPrefix = "lightfox:"

// maxUpdateRetries bounds the optimistic retry loop in Update.
const maxUpdateRetries = 10

// ErrConflict is returned when an Update keeps losing the optimistic
// race. Callers treat it as a transient failure.
var ErrConflict = errors.New("store: too many concurrent modifications")

// Store is a namespaced JSON key/value layer over Redis.
type Store struct {
	rdb *redis.Client
}

// New creates a store over the given Redis client.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// GetJSON reads the value at key into dest. Returns false if the key is
// absent. A value that fails to decode is treated the same as an absent
// key: the caller sees the zero value and the next write overwrites the
// corrupt data. Corruption is logged but never surfaced.
func (s *Store) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := s.rdb.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		slog.Warn("discarding corrupt stored value",
			slog.String("key", key),
			slog.Any("error", err),
		)
		return false, nil
	}

	return true, nil
}

// PutJSON writes v as a JSON document at key with no expiry.
func (s *Store) PutJSON(ctx context.Context, key string, v any) error {
	return s.PutJSONTTL(ctx, key, v, 0)
}

// PutJSONTTL writes v as a JSON document at key, expiring after ttl
// (ttl <= 0 means no expiry).
func (s *Store) PutJSONTTL(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Delete removes the given keys. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = keyPrefix + k
	}
	if err := s.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("deleting keys: %w", err)
	}
	return nil
}

// Update performs an optimistic read-modify-write on key. fn receives the
// current raw value (nil if absent or corrupt per GetJSON semantics is
// the caller's concern -- fn gets exactly what is stored) and returns the
// replacement document. If another client writes the key between the read
// and the write, the transaction fails and the whole cycle retries.
func (s *Store) Update(ctx context.Context, key string, fn func(current []byte) (any, error)) error {
	full := keyPrefix + key

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, full).Bytes()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("reading %s: %w", key, err)
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", key, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, full, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := s.rdb.Watch(ctx, txf, full)
		if err == nil {
			return nil
		}
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}

	return ErrConflict
}

// Publish sends a notification payload on a namespaced channel. Used to
// tell dashboards the user list changed so they refresh without polling.
func (s *Store) Publish(ctx context.Context, channel, payload string) error {
	if err := s.rdb.Publish(ctx, keyPrefix+channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing on %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a subscription on a namespaced channel. The caller
// owns the subscription and must Close it.
func (s *Store) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return s.rdb.Subscribe(ctx, keyPrefix+channel)
}
