package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
)

// fixture wires the full coordination stack onto in-process stores.
type fixture struct {
	stores     Stores
	membership *MembershipManager
	registry   *RoomRegistry
	turns      *TurnCoordinator
	loader     *memory.StaticQuizLoader
	now        time.Time
}

func newFixture(t *testing.T, rule RetryRule) *fixture {
	t.Helper()
	f := &fixture{
		stores: NewMemoryStores(),
		loader: memory.NewStaticQuizLoader(),
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.membership = NewMembershipManager(f.stores, 4)
	f.membership.clock = f.clock
	f.registry = NewRoomRegistry(f.stores, f.membership, 4)
	f.registry.clock = f.clock
	quizzes := memory.NewQuizRepository(f.loader, time.Minute)
	f.turns = NewTurnCoordinator(f.stores, quizzes, rule)
	f.turns.clock = f.clock
	return f
}

func (f *fixture) clock() time.Time {
	return f.now
}

// advanceClock moves the injected clock so later joins sort after earlier ones.
func (f *fixture) advanceClock(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) createRoom(t *testing.T, name, leaderID string) string {
	t.Helper()
	roomID, err := f.registry.CreateRoom(context.Background(), name, "history", domain.ClassOfficial, leaderID, "user "+leaderID, 1, "unit-1")
	if err != nil {
		t.Fatalf("CreateRoom(%q): %v", name, err)
	}
	return roomID
}

func (f *fixture) join(t *testing.T, roomID, userID string) {
	t.Helper()
	f.advanceClock(time.Second)
	if err := f.membership.JoinRoom(context.Background(), roomID, userID, "user "+userID, 1); err != nil {
		t.Fatalf("JoinRoom(%s, %s): %v", roomID, userID, err)
	}
}

func (f *fixture) room(t *testing.T, roomID string) domain.Room {
	t.Helper()
	snap, err := f.stores.Rooms.Get(context.Background(), roomID)
	if err != nil {
		t.Fatalf("Rooms.Get(%s): %v", roomID, err)
	}
	return snap.Data
}

// seedQuizzes loads n questions into the bank scope rooms from createRoom use.
func (f *fixture) seedQuizzes(n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("quiz-%d", i)
		f.loader.Add(domain.Quiz{
			QuizID:        id,
			Title:         "Quiz " + id,
			Question:      "Capital of France?",
			Type:          domain.QuizMultipleChoice,
			Choices:       []string{"Paris", "Lyon", "Rome"},
			CorrectAnswer: "Paris",
			Explanation:   "Paris has been the capital since 987.",
			Genre:         "history",
			UnitID:        "unit-1",
			ClassType:     domain.ClassOfficial,
		})
		ids = append(ids, id)
	}
	return ids
}

// startQuiz seeds the bank and moves the room into play.
func (f *fixture) startQuiz(t *testing.T, roomID, leaderID string, questions int) {
	t.Helper()
	f.seedQuizzes(questions)
	if err := f.turns.StartQuiz(context.Background(), roomID, leaderID); err != nil {
		t.Fatalf("StartQuiz(%s): %v", roomID, err)
	}
}
