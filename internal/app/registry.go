package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"quizroom-service/internal/domain"
)

// RoomRegistry creates rooms and matches users to open ones.
type RoomRegistry struct {
	stores     Stores
	membership *MembershipManager
	maxSize    int
	newID      func() string
	clock      func() time.Time
}

func NewRoomRegistry(stores Stores, membership *MembershipManager, maxSize int) *RoomRegistry {
	if maxSize <= 0 {
		maxSize = DefaultMaxParticipants
	}
	return &RoomRegistry{
		stores:     stores,
		membership: membership,
		maxSize:    maxSize,
		newID:      uuid.NewString,
		clock:      time.Now,
	}
}

// ListOpenRooms returns waiting rooms matching the genre and class filters,
// oldest first. A store failure degrades to an empty list plus the error.
func (r *RoomRegistry) ListOpenRooms(ctx context.Context, genre string, classType domain.ClassType) ([]domain.RoomListing, error) {
	snaps, err := r.stores.Rooms.Query(ctx, func(room domain.Room) bool {
		return room.Status == domain.RoomWaiting && room.Genre == genre && room.ClassType == classType
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].Data.CreatedAt.Equal(snaps[j].Data.CreatedAt) {
			return snaps[i].Data.CreatedAt.Before(snaps[j].Data.CreatedAt)
		}
		return snaps[i].Data.RoomID < snaps[j].Data.RoomID
	})

	listings := make([]domain.RoomListing, 0, len(snaps))
	for _, snap := range snaps {
		listings = append(listings, toListing(snap.Data))
	}
	return listings, nil
}

// SubscribeOpenRooms delivers the open-room listing on an interval until the
// returned cancel runs. The store contract only orders per document, so the
// lobby view is polled rather than stitched from per-room feeds.
func (r *RoomRegistry) SubscribeOpenRooms(genre string, classType domain.ClassType, every time.Duration, onUpdate func([]domain.RoomListing), onError func(error)) func() {
	if every <= 0 {
		every = 2 * time.Second
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			listings, err := r.ListOpenRooms(context.Background(), genre, classType)
			if err != nil {
				onError(err)
			} else {
				onUpdate(listings)
			}
			select {
			case <-ticker.C:
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

// CreateRoom allocates a waiting room with the creator as sole participant
// and leader.
func (r *RoomRegistry) CreateRoom(ctx context.Context, name, genre string, classType domain.ClassType, leaderID, leaderName string, leaderIcon int, unitID string) (string, error) {
	roomID := r.newID()
	now := r.clock()
	room := domain.Room{
		RoomID:    roomID,
		Name:      name,
		Genre:     genre,
		ClassType: classType,
		UnitID:    unitID,
		Status:    domain.RoomWaiting,
		RoomLeaderID: leaderID,
		Participants: map[string]domain.Participant{
			leaderID: {
				UserID:   leaderID,
				Username: leaderName,
				IconID:   leaderIcon,
				JoinedAt: now,
			},
		},
		CurrentQuizIndex: -1,
		CreatedAt:        now,
	}
	if err := r.stores.Rooms.Set(ctx, roomID, room); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	r.membership.setBackReference(ctx, leaderID, roomID)
	log.Info().Str("room", roomID).Str("genre", genre).Str("leader", leaderID).Msg("room created")
	return roomID, nil
}

// FindOrCreateRoom joins the oldest open room matching (genre, classType,
// unitID) that still has space, or creates a new one. Two concurrent callers
// can both miss the other's fresh room and create duplicates; without a
// cross-client lock that window stays open and extra rooms simply age out as
// normal waiting rooms.
func (r *RoomRegistry) FindOrCreateRoom(ctx context.Context, name, genre string, classType domain.ClassType, userID, username string, iconID int, unitID string) (string, error) {
	snaps, err := r.stores.Rooms.Query(ctx, func(room domain.Room) bool {
		return room.Status == domain.RoomWaiting &&
			room.Genre == genre &&
			room.ClassType == classType &&
			room.UnitID == unitID &&
			len(room.Participants) < r.maxSize
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	sort.Slice(snaps, func(i, j int) bool {
		if !snaps[i].Data.CreatedAt.Equal(snaps[j].Data.CreatedAt) {
			return snaps[i].Data.CreatedAt.Before(snaps[j].Data.CreatedAt)
		}
		return snaps[i].Data.RoomID < snaps[j].Data.RoomID
	})

	for _, snap := range snaps {
		if _, member := snap.Data.Participants[userID]; member {
			return snap.Data.RoomID, nil
		}
		err := r.membership.JoinRoom(ctx, snap.Data.RoomID, userID, username, iconID)
		if err == nil {
			return snap.Data.RoomID, nil
		}
		// The room filled or started between the query and the join; try the
		// next candidate. Anything else is a real failure.
		if errors.Is(err, domain.ErrRoomFull) || errors.Is(err, domain.ErrRoomNotJoinable) || errors.Is(err, domain.ErrRoomNotFound) {
			continue
		}
		return "", err
	}

	return r.CreateRoom(ctx, name, genre, classType, userID, username, iconID, unitID)
}

func toListing(room domain.Room) domain.RoomListing {
	return domain.RoomListing{
		RoomID:           room.RoomID,
		Name:             room.Name,
		Genre:            room.Genre,
		ClassType:        room.ClassType,
		UnitID:           room.UnitID,
		Status:           room.Status,
		ParticipantCount: len(room.Participants),
	}
}
