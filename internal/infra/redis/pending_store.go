package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"quizroom-service/internal/domain"
)

// PendingStore keeps per-user pending room-creation requests in Redis with a
// TTL, surviving the leave-then-create navigation gap. Take consumes the
// entry: it is read once and cleared.
type PendingStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPendingStore(client *redis.Client, ttl time.Duration) *PendingStore {
	return &PendingStore{client: client, ttl: ttl}
}

func (s *PendingStore) Stash(ctx context.Context, userID string, req domain.PendingRoomCreation) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode pending creation: %w", err)
	}
	if err := s.client.Set(ctx, s.key(userID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("stash pending creation: %w", err)
	}
	return nil
}

func (s *PendingStore) Take(ctx context.Context, userID string) (domain.PendingRoomCreation, bool, error) {
	raw, err := s.client.GetDel(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PendingRoomCreation{}, false, nil
	}
	if err != nil {
		return domain.PendingRoomCreation{}, false, fmt.Errorf("take pending creation: %w", err)
	}
	var req domain.PendingRoomCreation
	if err := json.Unmarshal(raw, &req); err != nil {
		// Malformed stash: drop it rather than replay it forever.
		return domain.PendingRoomCreation{}, false, fmt.Errorf("decode pending creation: %w", err)
	}
	return req, true, nil
}

func (s *PendingStore) key(userID string) string {
	return "pending:room:" + userID
}
