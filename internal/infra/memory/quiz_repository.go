package memory

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quizroom-service/internal/domain"
)

// QuizLoader fetches quiz content from a backing store (e.g. the Postgres bank).
type QuizLoader interface {
	LoadQuiz(ctx context.Context, scope domain.QuizScope, quizID string) (domain.Quiz, error)
	ListQuizIDs(ctx context.Context, scope domain.QuizScope) ([]string, error)
}

// QuizRepository caches quizzes with TTL to avoid repeated bank hits. Entries
// are addressed by the room's scope so quizzes from a previous room's genre
// can never answer for another branch.
type QuizRepository struct {
	loader QuizLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedQuiz
}

type cachedQuiz struct {
	quiz      domain.Quiz
	expiresAt time.Time
}

func NewQuizRepository(loader QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedQuiz),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, scope domain.QuizScope, quizID string) (domain.Quiz, error) {
	key := scopeKey(scope) + ":" + quizID
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[key]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.quiz, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[key]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.quiz, nil
		}
		r.mu.RUnlock()

		quiz, err := r.loader.LoadQuiz(ctx, scope, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}

		r.mu.Lock()
		r.cache[key] = cachedQuiz{
			quiz:      quiz,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

// ListQuizIDs goes straight to the loader: the id list changes as authors
// publish and a stale sequence would shortchange a starting room.
func (r *QuizRepository) ListQuizIDs(ctx context.Context, scope domain.QuizScope) ([]string, error) {
	return r.loader.ListQuizIDs(ctx, scope)
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

func scopeKey(scope domain.QuizScope) string {
	return scope.Genre + ":" + string(scope.ClassType) + ":" + scope.UnitID
}

// StaticQuizLoader is a loader backed by an in-memory map, useful for tests
// and demos.
type StaticQuizLoader struct {
	mu      sync.RWMutex
	quizzes map[string]map[string]domain.Quiz
}

func NewStaticQuizLoader() *StaticQuizLoader {
	return &StaticQuizLoader{quizzes: make(map[string]map[string]domain.Quiz)}
}

// Add stores a quiz under its own scope.
func (l *StaticQuizLoader) Add(quiz domain.Quiz) {
	scope := domain.QuizScope{Genre: quiz.Genre, UnitID: quiz.UnitID, ClassType: quiz.ClassType}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := scopeKey(scope)
	if l.quizzes[key] == nil {
		l.quizzes[key] = make(map[string]domain.Quiz)
	}
	l.quizzes[key][quiz.QuizID] = quiz
}

func (l *StaticQuizLoader) LoadQuiz(_ context.Context, scope domain.QuizScope, quizID string) (domain.Quiz, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if quiz, ok := l.quizzes[scopeKey(scope)][quizID]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

func (l *StaticQuizLoader) ListQuizIDs(_ context.Context, scope domain.QuizScope) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	branch := l.quizzes[scopeKey(scope)]
	ids := make([]string, 0, len(branch))
	for id := range branch {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
