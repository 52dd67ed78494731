package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"quizroom-service/internal/domain"
)

type recordingStatsSink struct {
	mu    sync.Mutex
	used  map[string]int
	right map[string]int
}

func newRecordingStatsSink() *recordingStatsSink {
	return &recordingStatsSink{used: make(map[string]int), right: make(map[string]int)}
}

func (s *recordingStatsSink) BumpQuizStats(_ context.Context, _ domain.QuizScope, quizID string, used, correct int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used[quizID] += used
	s.right[quizID] += correct
	return nil
}

// completedRoom builds a finished two-question room with bob's answer trail.
func completedRoom(t *testing.T, f *fixture) domain.Room {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	room := domain.Room{
		RoomID:    "room-1",
		Genre:     "history",
		ClassType: domain.ClassOfficial,
		UnitID:    "unit-1",
		Status:    domain.RoomCompleted,
		Participants: map[string]domain.Participant{
			"bob": {UserID: "bob", Username: "bob", Score: 1, JoinedAt: now},
		},
		QuizIDs:          []string{"quiz-0", "quiz-1"},
		CurrentQuizIndex: 1,
		CompletedAt:      &now,
	}
	records := []domain.AnswerRecord{
		{RoomID: "room-1", QuizIndex: 0, UserID: "bob", Answer: "Rome", Correct: false, SubmittedAt: now},
		{RoomID: "room-1", QuizIndex: 0, UserID: "bob", Answer: "Paris", Correct: true, SubmittedAt: now},
		{RoomID: "room-1", QuizIndex: 1, UserID: "bob", Answer: "Lyon", Correct: false, SubmittedAt: now},
	}
	for i, rec := range records {
		key := answerKey(rec.RoomID, rec.QuizIndex, rec.UserID)
		if i == 0 {
			key += ":first" // retries overwrite by key; keep the miss distinct
		}
		if err := f.stores.Answers.Set(ctx, key, rec); err != nil {
			t.Fatalf("Answers.Set: %v", err)
		}
	}
	return room
}

func TestFinalizeAppliesStatsExactlyOnce(t *testing.T) {
	f := newFixture(t, RetrySameAnswerer)
	ctx := context.Background()
	finalizer := NewStatsFinalizer(f.stores, nil)
	room := completedRoom(t, f)

	// Redelivered completed snapshots must not double-count.
	for i := 0; i < 3; i++ {
		if err := finalizer.Finalize(ctx, &room, "bob"); err != nil {
			t.Fatalf("Finalize #%d: %v", i, err)
		}
	}

	snap, err := f.stores.Users.Get(ctx, "bob")
	if err != nil {
		t.Fatalf("Users.Get: %v", err)
	}
	stats := snap.Data.Stats
	if stats.RoomsCompleted != 1 {
		t.Fatalf("RoomsCompleted = %d, want 1", stats.RoomsCompleted)
	}
	if stats.QuestionsAnswered != 3 || stats.CorrectAnswers != 1 || stats.TotalScore != 1 {
		t.Fatalf("stats = %+v, want 3 answered, 1 correct, score 1", stats)
	}
}

func TestFinalizeIgnoresUnfinishedRoomsAndOutsiders(t *testing.T) {
	f := newFixture(t, RetrySameAnswerer)
	ctx := context.Background()
	finalizer := NewStatsFinalizer(f.stores, nil)
	room := completedRoom(t, f)

	inProgress := room
	inProgress.Status = domain.RoomInProgress
	if err := finalizer.Finalize(ctx, &inProgress, "bob"); err != nil {
		t.Fatalf("Finalize in-progress: %v", err)
	}
	if err := finalizer.Finalize(ctx, &room, "stranger"); err != nil {
		t.Fatalf("Finalize non-member: %v", err)
	}

	if _, err := f.stores.Users.Get(ctx, "bob"); err == nil {
		t.Fatal("stats written for unfinished room")
	}
}

func TestFinalizeCreatesMissingProfile(t *testing.T) {
	f := newFixture(t, RetrySameAnswerer)
	ctx := context.Background()
	finalizer := NewStatsFinalizer(f.stores, nil)
	room := completedRoom(t, f)

	if err := finalizer.Finalize(ctx, &room, "bob"); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	snap, err := f.stores.Users.Get(ctx, "bob")
	if err != nil {
		t.Fatalf("profile not created: %v", err)
	}
	if snap.Data.Username != "bob" || snap.Data.Stats.RoomsCompleted != 1 {
		t.Fatalf("created profile = %+v", snap.Data)
	}
}

func TestFinalizeFeedsQuizCounters(t *testing.T) {
	f := newFixture(t, RetrySameAnswerer)
	ctx := context.Background()
	sink := newRecordingStatsSink()
	finalizer := NewStatsFinalizer(f.stores, sink)
	room := completedRoom(t, f)

	if err := finalizer.Finalize(ctx, &room, "bob"); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if sink.used["quiz-1"] != 1 || sink.right["quiz-1"] != 0 {
		t.Fatalf("quiz-1 counters = used %d right %d, want 1/0", sink.used["quiz-1"], sink.right["quiz-1"])
	}
	if sink.right["quiz-0"] != 1 {
		t.Fatalf("quiz-0 correct counter = %d, want 1", sink.right["quiz-0"])
	}
}
