package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"quizroom-service/internal/docstore"
	"quizroom-service/internal/domain"
)

const DefaultMaxParticipants = 8

// MembershipManager owns join/leave semantics, leader succession, the
// single-room-per-user invariant, and orphan cleanup of per-round answers.
type MembershipManager struct {
	stores          Stores
	maxParticipants int
	clock           func() time.Time
}

func NewMembershipManager(stores Stores, maxParticipants int) *MembershipManager {
	if maxParticipants <= 0 {
		maxParticipants = DefaultMaxParticipants
	}
	return &MembershipManager{
		stores:          stores,
		maxParticipants: maxParticipants,
		clock:           time.Now,
	}
}

// JoinRoom inserts the user into a waiting room. A user already attached to
// a different room is refused with ErrSwitchRequired so the switch
// coordinator can take over; joining never silently doubles membership.
func (m *MembershipManager) JoinRoom(ctx context.Context, roomID, userID, username string, iconID int) error {
	current, err := m.ResolveCurrentRoom(ctx, userID)
	if err != nil {
		return err
	}
	if current != "" && current != roomID {
		return fmt.Errorf("%w: currently in room %s", domain.ErrSwitchRequired, current)
	}

	now := m.clock()
	_, err = m.stores.Rooms.Update(ctx, roomID, func(room *domain.Room) error {
		if room.Status != domain.RoomWaiting {
			return domain.ErrRoomNotJoinable
		}
		if _, already := room.Participants[userID]; already {
			return nil // rejoin is a no-op
		}
		if len(room.Participants) >= m.maxParticipants {
			return domain.ErrRoomFull
		}
		if room.Participants == nil {
			room.Participants = make(map[string]domain.Participant)
		}
		room.Participants[userID] = domain.Participant{
			UserID:   userID,
			Username: username,
			IconID:   iconID,
			JoinedAt: now,
		}
		// A leaderless room should never occur, but a crashed leader client
		// can leave one behind; the first joiner adopts it.
		if room.RoomLeaderID == "" {
			room.RoomLeaderID = userID
		}
		return nil
	})
	if err != nil {
		return storeErr(err, domain.ErrRoomNotFound)
	}

	m.setBackReference(ctx, userID, roomID)
	log.Info().Str("room", roomID).Str("user", userID).Msg("joined room")
	return nil
}

// LeaveRoom removes the user. A leaving leader first cleans up the room's
// ephemeral answers, then leadership passes to the deterministic successor:
// earliest JoinedAt, ties broken by lowest participant id. Removing the last
// participant deletes the room.
func (m *MembershipManager) LeaveRoom(ctx context.Context, roomID, userID string, wasLeader bool) error {
	if wasLeader {
		m.CleanupRoomAnswers(ctx, roomID)
	}

	snap, err := m.stores.Rooms.Update(ctx, roomID, func(room *domain.Room) error {
		if _, ok := room.Participants[userID]; !ok {
			return domain.ErrNotParticipant
		}
		delete(room.Participants, userID)
		if room.RoomLeaderID == userID {
			room.RoomLeaderID = successor(room.Participants)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			// Room already gone; still make sure the pointer is dropped.
			m.clearBackReference(ctx, userID)
			return nil
		}
		return storeErr(err, domain.ErrRoomNotFound)
	}

	if len(snap.Data.Participants) == 0 {
		if err := m.stores.Rooms.Delete(ctx, roomID); err != nil {
			log.Warn().Err(err).Str("room", roomID).Msg("failed to delete empty room")
		}
	}

	m.clearBackReference(ctx, userID)
	log.Info().Str("room", roomID).Str("user", userID).Bool("wasLeader", wasLeader).Msg("left room")
	return nil
}

// ResolveCurrentRoom returns the user's authoritative current room. The
// back-reference is only a hint: a pointer to a room that is gone or that no
// longer lists the user is repaired on read and reported as "no room".
func (m *MembershipManager) ResolveCurrentRoom(ctx context.Context, userID string) (string, error) {
	userSnap, err := m.stores.Users.Get(ctx, userID)
	if errors.Is(err, docstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	roomID := userSnap.Data.CurrentRoomID
	if roomID == "" {
		return "", nil
	}

	roomSnap, err := m.stores.Rooms.Get(ctx, roomID)
	if errors.Is(err, docstore.ErrNotFound) {
		m.clearBackReference(ctx, userID)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if _, member := roomSnap.Data.Participants[userID]; !member {
		m.clearBackReference(ctx, userID)
		return "", nil
	}
	return roomID, nil
}

// CleanupRoomAnswers deletes the ephemeral per-question submissions scoped
// to the room. Best-effort: failures are logged, never fatal.
func (m *MembershipManager) CleanupRoomAnswers(ctx context.Context, roomID string) {
	snaps, err := m.stores.Answers.Query(ctx, func(rec domain.AnswerRecord) bool {
		return rec.RoomID == roomID
	})
	if err != nil {
		log.Warn().Err(err).Str("room", roomID).Msg("answer cleanup query failed")
		return
	}
	for _, snap := range snaps {
		if err := m.stores.Answers.Delete(ctx, snap.Key); err != nil {
			log.Warn().Err(err).Str("room", roomID).Str("key", snap.Key).Msg("answer cleanup delete failed")
		}
	}
}

// setBackReference records the user's current room. Best-effort bookkeeping:
// the join has already succeeded, and a failed write here is repaired by the
// next ResolveCurrentRoom.
func (m *MembershipManager) setBackReference(ctx context.Context, userID, roomID string) {
	_, err := m.stores.Users.Update(ctx, userID, func(user *domain.UserProfile) error {
		user.CurrentRoomID = roomID
		return nil
	})
	if errors.Is(err, docstore.ErrNotFound) {
		err = m.stores.Users.Set(ctx, userID, domain.UserProfile{UserID: userID, CurrentRoomID: roomID})
	}
	if err != nil {
		log.Warn().Err(err).Str("user", userID).Str("room", roomID).Msg("back-reference write failed")
	}
}

func (m *MembershipManager) clearBackReference(ctx context.Context, userID string) {
	_, err := m.stores.Users.Update(ctx, userID, func(user *domain.UserProfile) error {
		user.CurrentRoomID = ""
		return nil
	})
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		log.Warn().Err(err).Str("user", userID).Msg("back-reference clear failed")
	}
}

// successor picks the new leader among the remaining participants.
func successor(participants map[string]domain.Participant) string {
	if len(participants) == 0 {
		return ""
	}
	ids := make([]string, 0, len(participants))
	for id := range participants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		pi, pj := participants[ids[i]], participants[ids[j]]
		if !pi.JoinedAt.Equal(pj.JoinedAt) {
			return pi.JoinedAt.Before(pj.JoinedAt)
		}
		return ids[i] < ids[j]
	})
	return ids[0]
}
