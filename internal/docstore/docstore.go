// Package docstore defines the replicated document store contract the room
// protocol runs on. Implementations provide per-key last-write-wins ordering
// and at-least-once snapshot delivery; consumers must tolerate redelivery.
package docstore

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a keyed document does not exist.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrConflict is returned when an update lost a revision race and
	// retries were exhausted, or the mutator aborted on a stale read.
	ErrConflict = errors.New("docstore: write conflict")
)

// Snapshot is one observed revision of a document. Exists is false for a
// deletion notice; Data is the zero value in that case.
type Snapshot[T any] struct {
	Key      string
	Data     T
	Exists   bool
	Revision int64
}

// Mutator rewrites a document in place during an Update. Returning an error
// aborts the update without writing; the error is surfaced to the caller.
type Mutator[T any] func(*T) error

// Collection is a keyed set of documents of one type.
//
// Update is a read-modify-write executed against the authoritative revision:
// the mutator sees the freshest committed copy, and a revision moving under
// the write triggers an internal retry with a re-read. This is the primitive
// turn claims ride on; a mutator detecting a lost race must abort rather
// than overwrite.
type Collection[T any] interface {
	Get(ctx context.Context, key string) (Snapshot[T], error)
	Set(ctx context.Context, key string, doc T) error
	Update(ctx context.Context, key string, mutate Mutator[T]) (Snapshot[T], error)
	Delete(ctx context.Context, key string) error

	// Subscribe delivers a snapshot for every committed change to key,
	// including an initial snapshot of the current state and a final
	// Exists=false notice on deletion. Delivery is at-least-once.
	Subscribe(key string, onSnapshot func(Snapshot[T]), onError func(error)) (cancel func())

	// Query returns snapshots of every existing document matching the filter.
	Query(ctx context.Context, match func(T) bool) ([]Snapshot[T], error)
}
