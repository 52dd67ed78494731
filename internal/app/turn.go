package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"quizroom-service/internal/domain"
)

// RetryRule decides what happens to the turn after an incorrect answer.
type RetryRule string

const (
	// RetrySameAnswerer keeps the turn with the answerer who missed; only
	// they may try again until the leader advances.
	RetrySameAnswerer RetryRule = "same_answerer"
	// RetryReleaseOnIncorrect lets any other participant take over the turn
	// after a miss. The missed state stays visible as "incorrect" so clients
	// can tell a released turn from a never-claimed one.
	RetryReleaseOnIncorrect RetryRule = "release_on_incorrect"
)

// AnswerOutcome is the graded result of one submission.
type AnswerOutcome struct {
	Correct       bool   `json:"correct"`
	CorrectAnswer string `json:"correctAnswer"`
	Explanation   string `json:"explanation,omitempty"`
	Score         int    `json:"score"`
}

// TurnCoordinator drives the per-room question/answer-right protocol. All
// mutations run as read-modify-writes against the authoritative document
// revision, so a stale local view can never grant a turn twice.
type TurnCoordinator struct {
	stores  Stores
	quizzes QuizRepository
	rule    RetryRule
	clock   func() time.Time
}

func NewTurnCoordinator(stores Stores, quizzes QuizRepository, rule RetryRule) *TurnCoordinator {
	if rule == "" {
		rule = RetrySameAnswerer
	}
	return &TurnCoordinator{
		stores:  stores,
		quizzes: quizzes,
		rule:    rule,
		clock:   time.Now,
	}
}

// StartQuiz moves a waiting room into play: the leader fixes the question
// sequence from the room's own bank scope and opens question zero.
func (t *TurnCoordinator) StartQuiz(ctx context.Context, roomID, userID string) error {
	roomSnap, err := t.stores.Rooms.Get(ctx, roomID)
	if err != nil {
		return storeErr(err, domain.ErrRoomNotFound)
	}

	quizIDs, err := t.quizzes.ListQuizIDs(ctx, roomSnap.Data.Scope())
	if err != nil {
		return err
	}
	if len(quizIDs) == 0 {
		return domain.ErrQuizNotFound
	}

	now := t.clock()
	_, err = t.stores.Rooms.Update(ctx, roomID, func(room *domain.Room) error {
		if !room.IsLeader(userID) {
			return domain.ErrNotLeader
		}
		if room.Status != domain.RoomWaiting {
			return domain.ErrRoomNotJoinable
		}
		room.Status = domain.RoomInProgress
		room.StartedAt = &now
		room.QuizIDs = quizIDs
		room.CurrentQuizIndex = 0
		room.CurrentState = &domain.TurnState{
			QuizID:       quizIDs[0],
			AnswerStatus: domain.AnswerIdle,
		}
		room.ReadyForNextQuestion = false
		return nil
	})
	if err != nil {
		return storeErr(err, domain.ErrRoomNotFound)
	}
	log.Info().Str("room", roomID).Int("questions", len(quizIDs)).Msg("quiz started")
	return nil
}

// ClaimAnswerRight grants the turn to the first claimant of the given quiz
// index. The claim is a compare-and-set against the committed document: a
// client whose cached view said "idle" but whose claim lands on an already
// claimed turn gets ErrWriteConflict, which means "someone else got it",
// not a failure.
func (t *TurnCoordinator) ClaimAnswerRight(ctx context.Context, roomID, userID string, quizIndex int) error {
	_, err := t.stores.Rooms.Update(ctx, roomID, func(room *domain.Room) error {
		if room.Status != domain.RoomInProgress || room.CurrentState == nil {
			return domain.ErrRoomNotJoinable
		}
		if _, member := room.Participants[userID]; !member {
			return domain.ErrNotParticipant
		}
		if room.CurrentQuizIndex != quizIndex {
			// Claim raced an advance; the target question is gone.
			return domain.ErrWriteConflict
		}
		switch room.CurrentState.AnswerStatus {
		case domain.AnswerIdle:
			// first claim wins
		case domain.AnswerIncorrect:
			if t.rule != RetryReleaseOnIncorrect || room.CurrentState.CurrentAnswerer == userID {
				return domain.ErrWriteConflict
			}
		default:
			return domain.ErrWriteConflict
		}
		room.CurrentState.CurrentAnswerer = userID
		room.CurrentState.AnswerStatus = domain.AnswerInProgress
		return nil
	})
	return storeErr(err, domain.ErrRoomNotFound)
}

// SubmitAnswer grades the holder's answer. The quiz is always resolved
// through the room's own scope, never a cached reference from elsewhere.
// Correct locks the turn and bumps the score; incorrect leaves the turn in
// the retry-eligible state the configured rule interprets.
func (t *TurnCoordinator) SubmitAnswer(ctx context.Context, roomID, userID, answer string) (AnswerOutcome, error) {
	roomSnap, err := t.stores.Rooms.Get(ctx, roomID)
	if err != nil {
		return AnswerOutcome{}, storeErr(err, domain.ErrRoomNotFound)
	}
	room := roomSnap.Data
	if !room.HasAnswerRight(userID) {
		return AnswerOutcome{}, domain.ErrNotAnswerer
	}

	quiz, err := t.quizzes.GetQuiz(ctx, room.Scope(), room.CurrentQuizID())
	if err != nil {
		return AnswerOutcome{}, err
	}
	correct := quiz.Grade(answer)
	quizIndex := room.CurrentQuizIndex

	var score int
	_, err = t.stores.Rooms.Update(ctx, roomID, func(fresh *domain.Room) error {
		// Re-check against the authoritative revision: the right may have
		// moved since the read above.
		if !fresh.HasAnswerRight(userID) {
			return domain.ErrNotAnswerer
		}
		if fresh.CurrentQuizIndex != quizIndex {
			return domain.ErrWriteConflict
		}
		if correct {
			p := fresh.Participants[userID]
			p.Score++
			fresh.Participants[userID] = p
			fresh.CurrentState.AnswerStatus = domain.AnswerCorrect
		} else {
			fresh.CurrentState.AnswerStatus = domain.AnswerIncorrect
		}
		score = fresh.Participants[userID].Score
		return nil
	})
	if err != nil {
		return AnswerOutcome{}, storeErr(err, domain.ErrRoomNotFound)
	}

	t.recordAnswer(ctx, roomID, quizIndex, userID, answer, correct)

	outcome := AnswerOutcome{Correct: correct, Score: score}
	// The turn stays retry-eligible after a miss, so revealing the answer
	// here would let the next attempt simply echo it back.
	if correct {
		outcome.CorrectAnswer = quiz.CorrectAnswer
		outcome.Explanation = quiz.Explanation
	}
	return outcome, nil
}

// AdvanceQuestion is the leader-only progression step: next index with a
// fresh idle turn, or completion past the final question. It also consumes
// the ready flag, so a flag-driven advance is a single write.
func (t *TurnCoordinator) AdvanceQuestion(ctx context.Context, roomID, userID string) error {
	now := t.clock()
	var completed bool
	_, err := t.stores.Rooms.Update(ctx, roomID, func(room *domain.Room) error {
		if !room.IsLeader(userID) {
			return domain.ErrNotLeader
		}
		if room.Status != domain.RoomInProgress {
			return domain.ErrRoomNotJoinable
		}
		next := room.CurrentQuizIndex + 1
		room.ReadyForNextQuestion = false
		if next >= len(room.QuizIDs) {
			room.Status = domain.RoomCompleted
			room.CompletedAt = &now
			room.CurrentState = nil
			completed = true
			return nil
		}
		room.CurrentQuizIndex = next
		room.CurrentState = &domain.TurnState{
			QuizID:       room.QuizIDs[next],
			AnswerStatus: domain.AnswerIdle,
		}
		return nil
	})
	if err != nil {
		return storeErr(err, domain.ErrRoomNotFound)
	}
	if completed {
		log.Info().Str("room", roomID).Msg("quiz completed")
	}
	return nil
}

// RequestNextQuestion lets a non-leader signal the leader to advance when
// the leader's client missed the event. The leader's watcher consumes the
// flag on its false-to-true edge.
func (t *TurnCoordinator) RequestNextQuestion(ctx context.Context, roomID, userID string) error {
	_, err := t.stores.Rooms.Update(ctx, roomID, func(room *domain.Room) error {
		if room.Status != domain.RoomInProgress {
			return domain.ErrRoomNotJoinable
		}
		if _, member := room.Participants[userID]; !member {
			return domain.ErrNotParticipant
		}
		room.ReadyForNextQuestion = true
		return nil
	})
	return storeErr(err, domain.ErrRoomNotFound)
}

// recordAnswer writes the ephemeral per-question submission. Advisory: the
// room document already carries the authoritative score.
func (t *TurnCoordinator) recordAnswer(ctx context.Context, roomID string, quizIndex int, userID, answer string, correct bool) {
	rec := domain.AnswerRecord{
		RoomID:      roomID,
		QuizIndex:   quizIndex,
		UserID:      userID,
		Answer:      answer,
		Correct:     correct,
		SubmittedAt: t.clock(),
	}
	if err := t.stores.Answers.Set(ctx, answerKey(roomID, quizIndex, userID), rec); err != nil {
		log.Warn().Err(err).Str("room", roomID).Str("user", userID).Msg("answer record write failed")
	}
}
