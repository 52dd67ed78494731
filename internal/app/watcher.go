package app

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"quizroom-service/internal/docstore"
	"quizroom-service/internal/domain"
)

// WatchHooks receives deduplicated room events from a RoomWatcher. All hooks
// are optional and run on the watcher's delivery goroutine.
type WatchHooks struct {
	// OnRoom fires for every snapshot where the room exists.
	OnRoom func(room domain.Room)
	// OnDeleted fires once when the room document disappears.
	OnDeleted func()
	// OnCompleted fires for snapshots where the room has finished. The
	// watcher already ran the stats finalizer for watcherUserID by then.
	OnCompleted func(room domain.Room)
	OnError     func(err error)
}

// RoomWatcher holds the single canonical subscription one connection keeps on
// its current room. It drives the two snapshot-reactive behaviors of the
// protocol: the leader advancing the question when every participant is ready,
// and each participant finalizing their own stats when the room completes.
type RoomWatcher struct {
	stores    Stores
	turns     *TurnCoordinator
	finalizer *StatsFinalizer

	mu     sync.Mutex
	cancel func()
}

func NewRoomWatcher(stores Stores, turns *TurnCoordinator, finalizer *StatsFinalizer) *RoomWatcher {
	return &RoomWatcher{stores: stores, turns: turns, finalizer: finalizer}
}

// Watch attaches to roomID on behalf of userID, tearing down any previous
// subscription first. Snapshot delivery is at-least-once, so every reaction
// below is idempotent: the advance is guarded by a ready-flag edge plus the
// coordinator's leader check, and the finalizer dedupes per room.
func (w *RoomWatcher) Watch(ctx context.Context, roomID, userID string, hooks WatchHooks) {
	w.Stop()

	prevReady := false
	deleted := false

	cancel := w.stores.Rooms.Subscribe(roomID, func(snap docstore.Snapshot[domain.Room]) {
		if !snap.Exists {
			if !deleted {
				deleted = true
				if hooks.OnDeleted != nil {
					hooks.OnDeleted()
				}
			}
			return
		}
		room := snap.Data

		if hooks.OnRoom != nil {
			hooks.OnRoom(room)
		}

		switch room.Status {
		case domain.RoomInProgress:
			ready := room.ReadyForNextQuestion
			if ready && !prevReady && room.IsLeader(userID) {
				w.advance(ctx, roomID, userID)
			}
			prevReady = ready
		case domain.RoomCompleted:
			prevReady = false
			if err := w.finalizer.Finalize(ctx, &room, userID); err != nil {
				log.Warn().Err(err).Str("room", roomID).Str("user", userID).Msg("stats finalization failed, will retry on next snapshot")
			}
			if hooks.OnCompleted != nil {
				hooks.OnCompleted(room)
			}
		default:
			prevReady = false
		}
	}, func(err error) {
		if hooks.OnError != nil {
			hooks.OnError(err)
		}
	})

	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()
}

// Stop tears down the active subscription, if any.
func (w *RoomWatcher) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (w *RoomWatcher) advance(ctx context.Context, roomID, userID string) {
	err := w.turns.AdvanceQuestion(ctx, roomID, userID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotLeader), errors.Is(err, domain.ErrWriteConflict):
		// Another snapshot or a concurrent leader change beat us; the next
		// snapshot reflects whatever happened.
	default:
		log.Warn().Err(err).Str("room", roomID).Msg("question advance failed")
	}
}
