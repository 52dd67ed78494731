package app

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"quizroom-service/internal/docstore"
	"quizroom-service/internal/domain"
)

// StatsFinalizer applies a participant's aggregate statistics once per
// completed room. Each client finalizes only its own user; the guard against
// duplicate snapshot deliveries is a local per-(user,room) flag, not a store
// transaction, so a fresh process could re-count. An accepted limitation of
// the protocol.
type StatsFinalizer struct {
	stores    Stores
	quizStats QuizStatsSink // optional

	mu   sync.Mutex
	done map[string]struct{}
}

func NewStatsFinalizer(stores Stores, quizStats QuizStatsSink) *StatsFinalizer {
	return &StatsFinalizer{
		stores:    stores,
		quizStats: quizStats,
		done:      make(map[string]struct{}),
	}
}

// Finalize updates userID's own aggregates for the completed room. Safe to
// call on every redelivered snapshot: only the first successful run counts.
func (f *StatsFinalizer) Finalize(ctx context.Context, room *domain.Room, userID string) error {
	if room == nil || room.Status != domain.RoomCompleted {
		return nil
	}
	participant, member := room.Participants[userID]
	if !member {
		return nil
	}

	key := userID + "/" + room.RoomID
	f.mu.Lock()
	if _, already := f.done[key]; already {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	answered, correct := f.answerCounts(ctx, room.RoomID, userID)

	err := f.updateUser(ctx, userID, participant, answered, correct)
	if err != nil {
		// Not marked done: the next snapshot delivery retries.
		return err
	}

	f.bumpQuizCounters(ctx, room, userID)

	f.mu.Lock()
	f.done[key] = struct{}{}
	f.mu.Unlock()
	log.Info().Str("room", room.RoomID).Str("user", userID).Int("score", participant.Score).Msg("stats finalized")
	return nil
}

func (f *StatsFinalizer) updateUser(ctx context.Context, userID string, p domain.Participant, answered, correct int) error {
	apply := func(user *domain.UserProfile) error {
		user.Stats.RoomsCompleted++
		user.Stats.QuestionsAnswered += answered
		user.Stats.CorrectAnswers += correct
		user.Stats.TotalScore += p.Score
		return nil
	}
	_, err := f.stores.Users.Update(ctx, userID, apply)
	if errors.Is(err, docstore.ErrNotFound) {
		user := domain.UserProfile{UserID: userID, Username: p.Username, IconID: p.IconID}
		_ = apply(&user)
		err = f.stores.Users.Set(ctx, userID, user)
	}
	if err != nil {
		return storeErr(err, domain.ErrUserNotFound)
	}
	return nil
}

// answerCounts derives this user's per-room counts from the ephemeral answer
// records. Cleanup may already have raced them away; zero counts then, with
// the score still applied from the room document.
func (f *StatsFinalizer) answerCounts(ctx context.Context, roomID, userID string) (answered, correct int) {
	snaps, err := f.stores.Answers.Query(ctx, func(rec domain.AnswerRecord) bool {
		return rec.RoomID == roomID && rec.UserID == userID
	})
	if err != nil {
		log.Warn().Err(err).Str("room", roomID).Str("user", userID).Msg("answer count query failed")
		return 0, 0
	}
	seen := make(map[int]bool)
	for _, snap := range snaps {
		answered++
		if snap.Data.Correct && !seen[snap.Data.QuizIndex] {
			seen[snap.Data.QuizIndex] = true
			correct++
		}
	}
	return answered, correct
}

// bumpQuizCounters feeds per-quiz use/correct counters back into the bank.
// Advisory writes: failures are logged and swallowed.
func (f *StatsFinalizer) bumpQuizCounters(ctx context.Context, room *domain.Room, userID string) {
	if f.quizStats == nil {
		return
	}
	snaps, err := f.stores.Answers.Query(ctx, func(rec domain.AnswerRecord) bool {
		return rec.RoomID == room.RoomID && rec.UserID == userID
	})
	if err != nil {
		log.Warn().Err(err).Str("room", room.RoomID).Msg("quiz counter query failed")
		return
	}
	scope := room.Scope()
	for _, snap := range snaps {
		idx := snap.Data.QuizIndex
		if idx < 0 || idx >= len(room.QuizIDs) {
			continue
		}
		correct := 0
		if snap.Data.Correct {
			correct = 1
		}
		if err := f.quizStats.BumpQuizStats(ctx, scope, room.QuizIDs[idx], 1, correct); err != nil {
			log.Warn().Err(err).Str("room", room.RoomID).Str("quiz", room.QuizIDs[idx]).Msg("quiz counter bump failed")
		}
	}
}
