package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrContention is returned when optimistic updates keep losing races.
var ErrContention = errors.New("breaker state contention")

// RedisStore shares circuit state across replicas using WATCH/MULTI transactions.
type RedisStore struct {
	client     redis.UniversalClient
	prefix     string
	ttl        time.Duration
	maxRetries int
}

// NewRedisStore builds a store on an existing client. ttl bounds how long idle state survives; zero keeps it forever.
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "breaker:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, maxRetries: 16}
}

func (r *RedisStore) key(name string) string {
	return r.prefix + name
}

// Get returns the stored state.
func (r *RedisStore) Get(ctx context.Context, name string) (State, bool, error) {
	data, err := r.client.Get(ctx, r.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("redis get: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, false, fmt.Errorf("decode breaker state: %w", err)
	}
	return state, true, nil
}

// Update runs mutate inside an optimistic transaction, retrying when the key changed underneath.
func (r *RedisStore) Update(ctx context.Context, name string, mutate func(*State)) (State, error) {
	key := r.key(name)
	var next State

	txf := func(tx *redis.Tx) error {
		var current State
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(data, &current); err != nil {
				return fmt.Errorf("decode breaker state: %w", err)
			}
		}

		mutate(&current)
		encoded, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("encode breaker state: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, r.ttl)
			return nil
		})
		if err == nil {
			next = current
		}
		return err
	}

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return State{}, fmt.Errorf("redis update: %w", err)
	}
	return State{}, ErrContention
}
