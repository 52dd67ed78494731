package app

import (
	"context"
	"errors"
	"testing"

	"quizroom-service/internal/domain"
)

type capturingSaver struct {
	saved []domain.Quiz
}

func (s *capturingSaver) SaveQuiz(_ context.Context, quiz domain.Quiz) error {
	s.saved = append(s.saved, quiz)
	return nil
}

func TestSaveQuizAssignsIDAndAuthor(t *testing.T) {
	saver := &capturingSaver{}
	authoring := NewQuizAuthoring(saver)

	id, err := authoring.SaveQuiz(context.Background(), domain.Quiz{
		Title:         "Capitals",
		Question:      "Capital of France?",
		Type:          domain.QuizMultipleChoice,
		Choices:       []string{"Paris", "Lyon", "Rome"},
		CorrectAnswer: "Paris",
		Genre:         "geography",
	}, "bob")
	if err != nil {
		t.Fatalf("SaveQuiz: %v", err)
	}
	if id == "" {
		t.Fatal("no quiz id assigned")
	}
	if len(saver.saved) != 1 {
		t.Fatalf("saved %d quizzes, want 1", len(saver.saved))
	}
	got := saver.saved[0]
	if got.QuizID != id || got.CreatedBy != "bob" || got.ClassType != domain.ClassUserCreated {
		t.Fatalf("saved quiz = %+v", got)
	}
}

func TestSaveQuizRejectsInvalidQuiz(t *testing.T) {
	saver := &capturingSaver{}
	authoring := NewQuizAuthoring(saver)

	_, err := authoring.SaveQuiz(context.Background(), domain.Quiz{
		Title:         "Capitals",
		Question:      "Capital of France?",
		Type:          domain.QuizMultipleChoice,
		Choices:       []string{"Paris", "Paris", "Lyon"},
		CorrectAnswer: "Paris",
		Genre:         "geography",
	}, "bob")
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("duplicate choices accepted: err = %v", err)
	}
	if len(saver.saved) != 0 {
		t.Fatal("invalid quiz reached the saver")
	}
}
