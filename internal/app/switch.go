package app

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"quizroom-service/internal/docstore"
	"quizroom-service/internal/domain"
)

// PendingCreationTarget marks a switch whose destination is a room that does
// not exist yet; the creation request rides along and is stashed on confirm.
const PendingCreationTarget = "pending-creation"

// PendingSwitch is the confirmation request surfaced to the user when a join
// or create collides with an existing room membership.
type PendingSwitch struct {
	UserID         string                      `json:"userId"`
	FromRoomID     string                      `json:"fromRoomId"`
	FromRoomName   string                      `json:"fromRoomName,omitempty"`
	TargetRoomID   string                      `json:"targetRoomId"`
	TargetRoomName string                      `json:"targetRoomName,omitempty"`
	CreateRequest  *domain.PendingRoomCreation `json:"-"`
}

// SwitchCoordinator resolves the "user in room A wants room B" race with an
// explicit confirm/cancel exit-then-join sequence.
type SwitchCoordinator struct {
	stores     Stores
	membership *MembershipManager
	registry   *RoomRegistry
	pending    PendingStore

	mu        sync.Mutex
	proposals map[string]*PendingSwitch
}

func NewSwitchCoordinator(stores Stores, membership *MembershipManager, registry *RoomRegistry, pending PendingStore) *SwitchCoordinator {
	return &SwitchCoordinator{
		stores:     stores,
		membership: membership,
		registry:   registry,
		pending:    pending,
		proposals:  make(map[string]*PendingSwitch),
	}
}

// RequestJoin tries to enter targetRoomID. Three outcomes: joined outright;
// already there (idempotent short-circuit, e.g. another tab finished the
// switch first); or a PendingSwitch awaiting explicit confirmation because
// the user is attached to a different room.
func (s *SwitchCoordinator) RequestJoin(ctx context.Context, userID, username string, iconID int, targetRoomID string) (*PendingSwitch, error) {
	current, err := s.membership.ResolveCurrentRoom(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current == targetRoomID && current != "" {
		return nil, nil // already in the target room
	}
	if current == "" {
		return nil, s.membership.JoinRoom(ctx, targetRoomID, userID, username, iconID)
	}

	prompt := &PendingSwitch{
		UserID:       userID,
		FromRoomID:   current,
		FromRoomName: s.roomName(ctx, current),
		TargetRoomID: targetRoomID,
	}
	prompt.TargetRoomName = s.roomName(ctx, targetRoomID)
	s.propose(prompt)
	return prompt, nil
}

// RequestCreate allocates a fresh room immediately (no current room) or
// proposes a switch whose target is a pending creation. An explicit create
// never matchmakes: the caller asked for their own room, not a seat in
// someone else's.
func (s *SwitchCoordinator) RequestCreate(ctx context.Context, userID, username string, iconID int, req domain.PendingRoomCreation) (string, *PendingSwitch, error) {
	req.Matchmake = false
	return s.requestNewRoom(ctx, userID, username, iconID, req)
}

// RequestMatchmake joins the oldest open room matching the request, creating
// one only when nothing matches. A user attached to another room gets the
// same switch prompt as RequestCreate.
func (s *SwitchCoordinator) RequestMatchmake(ctx context.Context, userID, username string, iconID int, req domain.PendingRoomCreation) (string, *PendingSwitch, error) {
	req.Matchmake = true
	return s.requestNewRoom(ctx, userID, username, iconID, req)
}

func (s *SwitchCoordinator) requestNewRoom(ctx context.Context, userID, username string, iconID int, req domain.PendingRoomCreation) (string, *PendingSwitch, error) {
	current, err := s.membership.ResolveCurrentRoom(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	if current == "" {
		roomID, err := s.fulfil(ctx, userID, username, iconID, req)
		return roomID, nil, err
	}

	prompt := &PendingSwitch{
		UserID:         userID,
		FromRoomID:     current,
		FromRoomName:   s.roomName(ctx, current),
		TargetRoomID:   PendingCreationTarget,
		TargetRoomName: req.Name,
		CreateRequest:  &req,
	}
	s.propose(prompt)
	return "", prompt, nil
}

// fulfil turns a creation request into a room membership per its mode.
func (s *SwitchCoordinator) fulfil(ctx context.Context, userID, username string, iconID int, req domain.PendingRoomCreation) (string, error) {
	if req.Matchmake {
		return s.registry.FindOrCreateRoom(ctx, req.Name, req.Genre, req.ClassType, userID, username, iconID, req.UnitID)
	}
	return s.registry.CreateRoom(ctx, req.Name, req.Genre, req.ClassType, userID, username, iconID, req.UnitID)
}

// Confirm executes the proposed switch: leave A, then enter B. The leave and
// the join are separate document writes with no cross-document transaction,
// so each step is attempted even when the previous one failed. A user left
// with a stale back-reference is worse off than one whose old room lingers.
// Returns the room entered, or "" when the destination is a pending creation
// (the caller navigates to the hub, where ResumePendingCreation picks the
// stash up).
func (s *SwitchCoordinator) Confirm(ctx context.Context, userID, username string, iconID int) (string, error) {
	prompt := s.take(userID)
	if prompt == nil {
		return "", domain.ErrNoPendingSwitch
	}

	s.leaveCurrent(ctx, userID, prompt.FromRoomID)

	if prompt.TargetRoomID == PendingCreationTarget {
		if prompt.CreateRequest != nil {
			if err := s.pending.Stash(ctx, userID, *prompt.CreateRequest); err != nil {
				log.Warn().Err(err).Str("user", userID).Msg("pending creation stash failed")
				return "", err
			}
		}
		return "", nil
	}

	if err := s.membership.JoinRoom(ctx, prompt.TargetRoomID, userID, username, iconID); err != nil {
		return "", err
	}
	return prompt.TargetRoomID, nil
}

// Cancel withdraws the proposal; neither room changes.
func (s *SwitchCoordinator) Cancel(userID string) {
	s.take(userID)
}

// ResumePendingCreation consumes a stashed creation request, if any, and
// completes it. Called once at client startup.
func (s *SwitchCoordinator) ResumePendingCreation(ctx context.Context, userID, username string, iconID int) (string, bool, error) {
	req, ok, err := s.pending.Take(ctx, userID)
	if err != nil || !ok {
		return "", false, err
	}
	roomID, err := s.fulfil(ctx, userID, username, iconID, req)
	if err != nil {
		return "", true, err
	}
	return roomID, true, nil
}

// leaveCurrent exits the old room best-effort. The leader check runs against
// the room document, not the caller's stale view, and even a failed leave
// still clears the back-reference.
func (s *SwitchCoordinator) leaveCurrent(ctx context.Context, userID, roomID string) {
	if roomID == "" {
		return
	}
	wasLeader := false
	roomSnap, err := s.stores.Rooms.Get(ctx, roomID)
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		s.membership.clearBackReference(ctx, userID)
		return
	case err != nil:
		log.Warn().Err(err).Str("room", roomID).Msg("switch: room lookup failed, proceeding with exit")
	default:
		wasLeader = roomSnap.Data.IsLeader(userID)
	}

	if err := s.membership.LeaveRoom(ctx, roomID, userID, wasLeader); err != nil {
		log.Warn().Err(err).Str("room", roomID).Str("user", userID).Msg("switch: leave failed, clearing back-reference anyway")
		s.membership.clearBackReference(ctx, userID)
	}
}

func (s *SwitchCoordinator) propose(prompt *PendingSwitch) {
	s.mu.Lock()
	s.proposals[prompt.UserID] = prompt
	s.mu.Unlock()
}

func (s *SwitchCoordinator) take(userID string) *PendingSwitch {
	s.mu.Lock()
	defer s.mu.Unlock()
	prompt := s.proposals[userID]
	delete(s.proposals, userID)
	return prompt
}

func (s *SwitchCoordinator) roomName(ctx context.Context, roomID string) string {
	snap, err := s.stores.Rooms.Get(ctx, roomID)
	if err != nil {
		return ""
	}
	return snap.Data.Name
}
