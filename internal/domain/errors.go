package domain

import "errors"

var (
	// ErrRoomNotFound is returned when the referenced room does not exist.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomNotJoinable is returned when joining a room that is not waiting.
	ErrRoomNotJoinable = errors.New("room is not accepting participants")
	// ErrRoomFull is returned when a room has reached its participant limit.
	ErrRoomFull = errors.New("room is full")
	// ErrUserNotFound is returned when the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrNotLeader is returned for leader-only mutations from a non-leader.
	ErrNotLeader = errors.New("only the room leader may perform this action")
	// ErrNotAnswerer is returned when a submission arrives without answer right.
	ErrNotAnswerer = errors.New("participant does not hold the answer right")
	// ErrNotParticipant is returned when a user acts in a room they never joined.
	ErrNotParticipant = errors.New("participant not found in room")
	// ErrWriteConflict signals a lost race against a concurrent update. On a
	// turn claim this is expected flow, not a failure.
	ErrWriteConflict = errors.New("concurrent update lost the race")
	// ErrStoreUnavailable wraps transient backend failures.
	ErrStoreUnavailable = errors.New("document store unavailable")
	// ErrNoPendingSwitch is returned when confirming a switch that was never proposed.
	ErrNoPendingSwitch = errors.New("no room switch pending")
	// ErrSwitchRequired is returned when a join targets a different room than
	// the user's current one; the switch coordinator must take over.
	ErrSwitchRequired = errors.New("user is attached to another room")
)
