package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryCollection is an in-process Collection with revision tracking and a
// subscriber fanout. Documents are cloned through JSON on every read and
// write so subscribers can never share mutable state with writers, matching
// what a remote store would enforce by serialization.
type MemoryCollection[T any] struct {
	mu      sync.RWMutex
	docs    map[string]memoryDoc
	subs    map[string]map[*memorySub[T]]struct{}
	nextRev int64
}

type memoryDoc struct {
	raw      []byte
	revision int64
}

type memorySub[T any] struct {
	ch     chan Snapshot[T]
	done   chan struct{}
	closed bool
}

func NewMemoryCollection[T any]() *MemoryCollection[T] {
	return &MemoryCollection[T]{
		docs: make(map[string]memoryDoc),
		subs: make(map[string]map[*memorySub[T]]struct{}),
	}
}

func (c *MemoryCollection[T]) Get(_ context.Context, key string) (Snapshot[T], error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked(key)
}

func (c *MemoryCollection[T]) Set(_ context.Context, key string, doc T) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	c.mu.Lock()
	c.nextRev++
	c.docs[key] = memoryDoc{raw: raw, revision: c.nextRev}
	snap, _ := c.snapshotLocked(key)
	c.publishLocked(key, snap)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCollection[T]) Update(_ context.Context, key string, mutate Mutator[T]) (Snapshot[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.docs[key]
	if !ok {
		return Snapshot[T]{Key: key}, ErrNotFound
	}

	var doc T
	if err := json.Unmarshal(entry.raw, &doc); err != nil {
		return Snapshot[T]{Key: key}, fmt.Errorf("decode document: %w", err)
	}
	if err := mutate(&doc); err != nil {
		return Snapshot[T]{Key: key}, err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return Snapshot[T]{Key: key}, fmt.Errorf("encode document: %w", err)
	}
	c.nextRev++
	c.docs[key] = memoryDoc{raw: raw, revision: c.nextRev}
	snap, err := c.snapshotLocked(key)
	if err != nil {
		return snap, err
	}
	c.publishLocked(key, snap)
	return snap, nil
}

func (c *MemoryCollection[T]) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.docs[key]; !ok {
		return nil
	}
	delete(c.docs, key)
	c.nextRev++
	c.publishLocked(key, Snapshot[T]{Key: key, Exists: false, Revision: c.nextRev})
	return nil
}

func (c *MemoryCollection[T]) Subscribe(key string, onSnapshot func(Snapshot[T]), onError func(error)) func() {
	sub := &memorySub[T]{
		ch:   make(chan Snapshot[T], 8),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	if c.subs[key] == nil {
		c.subs[key] = make(map[*memorySub[T]]struct{})
	}
	c.subs[key][sub] = struct{}{}
	initial, err := c.snapshotLocked(key)
	if err == nil {
		sub.ch <- initial
	} else {
		sub.ch <- Snapshot[T]{Key: key, Exists: false}
	}
	c.mu.Unlock()

	go func() {
		for {
			select {
			case snap := <-sub.ch:
				onSnapshot(snap)
			case <-sub.done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if set, ok := c.subs[key]; ok {
				delete(set, sub)
				if len(set) == 0 {
					delete(c.subs, key)
				}
			}
			sub.closed = true
			c.mu.Unlock()
			close(sub.done)
		})
	}
}

func (c *MemoryCollection[T]) Query(_ context.Context, match func(T) bool) ([]Snapshot[T], error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Snapshot[T]
	for key := range c.docs {
		snap, err := c.snapshotLocked(key)
		if err != nil {
			return nil, err
		}
		if match(snap.Data) {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (c *MemoryCollection[T]) snapshotLocked(key string) (Snapshot[T], error) {
	entry, ok := c.docs[key]
	if !ok {
		return Snapshot[T]{Key: key}, ErrNotFound
	}
	var doc T
	if err := json.Unmarshal(entry.raw, &doc); err != nil {
		return Snapshot[T]{Key: key}, fmt.Errorf("decode document: %w", err)
	}
	return Snapshot[T]{Key: key, Data: doc, Exists: true, Revision: entry.revision}, nil
}

// publishLocked fans out to subscribers, dropping the oldest buffered
// snapshot when a slow consumer falls behind; the latest state always lands.
func (c *MemoryCollection[T]) publishLocked(key string, snap Snapshot[T]) {
	for sub := range c.subs[key] {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- snap:
		default:
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- snap
		}
	}
}
