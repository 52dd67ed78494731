package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"quizroom-service/internal/docstore"
	"quizroom-service/internal/docstore/redisstore"
	"quizroom-service/internal/domain"
)

// Stores bundles the document collections the room protocol runs on.
type Stores struct {
	Rooms   docstore.Collection[domain.Room]
	Users   docstore.Collection[domain.UserProfile]
	Answers docstore.Collection[domain.AnswerRecord]
}

// NewMemoryStores backs every collection with the in-process store.
func NewMemoryStores() Stores {
	return Stores{
		Rooms:   docstore.NewMemoryCollection[domain.Room](),
		Users:   docstore.NewMemoryCollection[domain.UserProfile](),
		Answers: docstore.NewMemoryCollection[domain.AnswerRecord](),
	}
}

// NewRedisStores backs every collection with Redis so multiple service
// instances observe the same rooms.
func NewRedisStores(client *redis.Client) Stores {
	return Stores{
		Rooms:   redisstore.NewCollection[domain.Room](client, "quiz_rooms"),
		Users:   redisstore.NewCollection[domain.UserProfile](client, "users"),
		Answers: redisstore.NewCollection[domain.AnswerRecord](client, "room_answers"),
	}
}

// QuizRepository loads quiz content for play, addressed by bank scope.
type QuizRepository interface {
	GetQuiz(ctx context.Context, scope domain.QuizScope, quizID string) (domain.Quiz, error)
	ListQuizIDs(ctx context.Context, scope domain.QuizScope) ([]string, error)
}

// QuizSaver persists authored quizzes into the bank.
type QuizSaver interface {
	SaveQuiz(ctx context.Context, quiz domain.Quiz) error
}

// QuizStatsSink receives per-quiz usage counters from the stats finalizer.
type QuizStatsSink interface {
	BumpQuizStats(ctx context.Context, scope domain.QuizScope, quizID string, used, correct int) error
}

// PendingStore is the session-affinity scratch space carrying a room-creation
// request across a leave-then-create switch. Take consumes the entry.
type PendingStore interface {
	Stash(ctx context.Context, userID string, req domain.PendingRoomCreation) error
	Take(ctx context.Context, userID string) (domain.PendingRoomCreation, bool, error)
}

// answerKey addresses one ephemeral answer record.
func answerKey(roomID string, quizIndex int, userID string) string {
	return fmt.Sprintf("%s:%d:%s", roomID, quizIndex, userID)
}

// storeErr maps docstore sentinels onto the domain taxonomy, substituting
// notFound for missing documents.
func storeErr(err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, docstore.ErrNotFound):
		return notFound
	case errors.Is(err, docstore.ErrConflict):
		return domain.ErrWriteConflict
	}
	return err
}
