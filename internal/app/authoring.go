package app

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"quizroom-service/internal/domain"
)

// QuizAuthoring accepts user-created quizzes into the bank.
type QuizAuthoring struct {
	saver QuizSaver
}

func NewQuizAuthoring(saver QuizSaver) *QuizAuthoring {
	return &QuizAuthoring{saver: saver}
}

// SaveQuiz validates and persists a quiz, assigning an ID when the caller
// left it blank. User-authored quizzes always land in the user_created class.
func (a *QuizAuthoring) SaveQuiz(ctx context.Context, quiz domain.Quiz, authorID string) (string, error) {
	quiz.ClassType = domain.ClassUserCreated
	quiz.CreatedBy = authorID
	if quiz.QuizID == "" {
		quiz.QuizID = uuid.NewString()
	}
	if err := domain.ValidateQuiz(quiz); err != nil {
		return "", err
	}
	if err := a.saver.SaveQuiz(ctx, quiz); err != nil {
		return "", err
	}
	log.Info().Str("quiz", quiz.QuizID).Str("genre", quiz.Genre).Str("author", authorID).Msg("quiz saved")
	return quiz.QuizID, nil
}
