package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quizroom-service/internal/domain"
)

// QuizLoader fetches quiz content from a backing store (e.g. the Postgres bank).
type QuizLoader interface {
	LoadQuiz(ctx context.Context, scope domain.QuizScope, quizID string) (domain.Quiz, error)
	ListQuizIDs(ctx context.Context, scope domain.QuizScope) ([]string, error)
}

// QuizRepository caches whole quizzes in Redis (one JSON value per quiz,
// addressed by bank scope) and falls back to a loader on cache miss.
type QuizRepository struct {
	client *redis.Client
	loader QuizLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuizRepository(client *redis.Client, loader QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, scope domain.QuizScope, quizID string) (domain.Quiz, error) {
	key := r.quizKey(scope, quizID)

	raw, err := r.client.Get(ctx, key).Bytes()
	if err == nil {
		var quiz domain.Quiz
		if err := json.Unmarshal(raw, &quiz); err == nil {
			return quiz, nil
		}
		// corrupt entry: fall through and refill
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		raw, err := r.client.Get(ctx, key).Bytes()
		if err == nil {
			var quiz domain.Quiz
			if err := json.Unmarshal(raw, &quiz); err == nil {
				return quiz, nil
			}
		}

		quiz, err := r.loader.LoadQuiz(ctx, scope, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}

		payload, err := json.Marshal(quiz)
		if err != nil {
			return domain.Quiz{}, fmt.Errorf("encode quiz: %w", err)
		}
		_ = r.client.Set(ctx, key, payload, r.ttlWithJitter()).Err()
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

// ListQuizIDs serves the id list from a short-lived cache entry; a starting
// room reads this once, so staleness is bounded by the TTL.
func (r *QuizRepository) ListQuizIDs(ctx context.Context, scope domain.QuizScope) ([]string, error) {
	key := r.listKey(scope)

	raw, err := r.client.Get(ctx, key).Bytes()
	if err == nil {
		var ids []string
		if err := json.Unmarshal(raw, &ids); err == nil {
			return ids, nil
		}
	}

	ids, err := r.loader.ListQuizIDs(ctx, scope)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(ids); err == nil {
		_ = r.client.Set(ctx, key, payload, r.ttlWithJitter()).Err()
	}
	return ids, nil
}

func (r *QuizRepository) quizKey(scope domain.QuizScope, quizID string) string {
	return "quizbank:" + scopeKey(scope) + ":" + quizID
}

func (r *QuizRepository) listKey(scope domain.QuizScope) string {
	return "quizbank:" + scopeKey(scope) + ":ids"
}

func scopeKey(scope domain.QuizScope) string {
	return scope.Genre + ":" + string(scope.ClassType) + ":" + scope.UnitID
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
