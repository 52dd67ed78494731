// Package redisstore backs the docstore contract with Redis: one JSON
// envelope per key, optimistic WATCH/MULTI writes for revision safety, and a
// pub/sub channel per key as the change feed.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"quizroom-service/internal/docstore"
)

const maxTxRetries = 16

// Collection stores documents of type T under prefix. Every committed write
// bumps the envelope revision and publishes the envelope on the key's event
// channel, so remote subscribers observe per-key ordered snapshots.
type Collection[T any] struct {
	client *redis.Client
	prefix string
}

type envelope struct {
	Revision int64           `json:"revision"`
	Exists   bool            `json:"exists"`
	Data     json.RawMessage `json:"data,omitempty"`
}

func NewCollection[T any](client *redis.Client, prefix string) *Collection[T] {
	return &Collection[T]{client: client, prefix: prefix}
}

func (c *Collection[T]) key(key string) string     { return c.prefix + ":" + key }
func (c *Collection[T]) channel(key string) string { return c.prefix + ":events:" + key }

func (c *Collection[T]) Get(ctx context.Context, key string) (docstore.Snapshot[T], error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return docstore.Snapshot[T]{Key: key}, docstore.ErrNotFound
	}
	if err != nil {
		return docstore.Snapshot[T]{Key: key}, fmt.Errorf("redis get: %w", err)
	}
	return decodeSnapshot[T](key, raw)
}

func (c *Collection[T]) Set(ctx context.Context, key string, doc T) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return c.commit(ctx, key, func(prev envelope) (envelope, error) {
		return envelope{Revision: prev.Revision + 1, Exists: true, Data: data}, nil
	})
}

func (c *Collection[T]) Update(ctx context.Context, key string, mutate docstore.Mutator[T]) (docstore.Snapshot[T], error) {
	var out docstore.Snapshot[T]
	err := c.commit(ctx, key, func(prev envelope) (envelope, error) {
		if !prev.Exists {
			return envelope{}, docstore.ErrNotFound
		}
		var doc T
		if err := json.Unmarshal(prev.Data, &doc); err != nil {
			return envelope{}, fmt.Errorf("decode document: %w", err)
		}
		if err := mutate(&doc); err != nil {
			return envelope{}, err
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return envelope{}, fmt.Errorf("encode document: %w", err)
		}
		next := envelope{Revision: prev.Revision + 1, Exists: true, Data: data}
		out = docstore.Snapshot[T]{Key: key, Data: doc, Exists: true, Revision: next.Revision}
		return next, nil
	})
	if err != nil {
		return docstore.Snapshot[T]{Key: key}, err
	}
	return out, nil
}

func (c *Collection[T]) Delete(ctx context.Context, key string) error {
	return c.commit(ctx, key, func(prev envelope) (envelope, error) {
		if !prev.Exists {
			return prev, errNoWrite
		}
		return envelope{Revision: prev.Revision + 1, Exists: false}, nil
	})
}

// errNoWrite aborts a commit silently when there is nothing to change.
var errNoWrite = errors.New("redisstore: nothing to write")

// commit runs an optimistic transaction: WATCH the key, compute the next
// envelope from the current one, then write and publish atomically. A
// concurrent writer invalidates the transaction and the whole step re-reads.
func (c *Collection[T]) commit(ctx context.Context, key string, next func(envelope) (envelope, error)) error {
	k := c.key(key)
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := c.client.Watch(ctx, func(tx *redis.Tx) error {
			var prev envelope
			raw, err := tx.Get(ctx, k).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
				// absent key: zero envelope
			case err != nil:
				return fmt.Errorf("redis get: %w", err)
			default:
				if err := json.Unmarshal(raw, &prev); err != nil {
					return fmt.Errorf("decode envelope: %w", err)
				}
			}

			nextEnv, err := next(prev)
			if err != nil {
				return err
			}
			payload, err := json.Marshal(nextEnv)
			if err != nil {
				return fmt.Errorf("encode envelope: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if nextEnv.Exists {
					pipe.Set(ctx, k, payload, 0)
				} else {
					pipe.Del(ctx, k)
				}
				pipe.Publish(ctx, c.channel(key), payload)
				return nil
			})
			return err
		}, k)

		switch {
		case err == nil:
			return nil
		case errors.Is(err, errNoWrite):
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		default:
			return err
		}
	}
	return docstore.ErrConflict
}

func (c *Collection[T]) Subscribe(key string, onSnapshot func(docstore.Snapshot[T]), onError func(error)) func() {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := c.client.Subscribe(ctx, c.channel(key))

	go func() {
		// Initial snapshot after the channel is open so no change between
		// the read and the subscription start can be missed; a duplicate of
		// the current state is possible and allowed.
		if snap, err := c.Get(ctx, key); err == nil {
			onSnapshot(snap)
		} else if errors.Is(err, docstore.ErrNotFound) {
			onSnapshot(docstore.Snapshot[T]{Key: key, Exists: false})
		} else if ctx.Err() == nil {
			onError(err)
		}

		for msg := range pubsub.Channel() {
			snap, err := decodeSnapshot[T](key, []byte(msg.Payload))
			if err != nil {
				onError(err)
				continue
			}
			onSnapshot(snap)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancelCtx()
			_ = pubsub.Close()
		})
	}
}

func (c *Collection[T]) Query(ctx context.Context, match func(T) bool) ([]docstore.Snapshot[T], error) {
	var out []docstore.Snapshot[T]
	iter := c.client.Scan(ctx, 0, c.prefix+":*", 0).Iterator()
	eventPrefix := c.prefix + ":events:"
	for iter.Next(ctx) {
		full := iter.Val()
		if len(full) >= len(eventPrefix) && full[:len(eventPrefix)] == eventPrefix {
			continue
		}
		key := full[len(c.prefix)+1:]
		snap, err := c.Get(ctx, key)
		if errors.Is(err, docstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if match(snap.Data) {
			out = append(out, snap)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return out, nil
}

func decodeSnapshot[T any](key string, raw []byte) (docstore.Snapshot[T], error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return docstore.Snapshot[T]{Key: key}, fmt.Errorf("decode envelope: %w", err)
	}
	snap := docstore.Snapshot[T]{Key: key, Exists: env.Exists, Revision: env.Revision}
	if env.Exists {
		if err := json.Unmarshal(env.Data, &snap.Data); err != nil {
			return docstore.Snapshot[T]{Key: key}, fmt.Errorf("decode document: %w", err)
		}
	}
	return snap, nil
}
