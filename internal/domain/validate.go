package domain

import (
	"fmt"
	"strings"
)

// ValidationError describes a rejected field on an authored quiz.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid quiz: %s: %s", e.Field, e.Reason)
}

const (
	minChoices = 3
	maxChoices = 5
)

// ValidateQuiz checks an authored quiz before it is saved to the bank.
// Multiple-choice quizzes need 3-5 non-blank choices, pairwise distinct under
// case-insensitive trimmed comparison, with the correct answer among them.
// Input quizzes need a non-blank correct answer.
func ValidateQuiz(q Quiz) error {
	if strings.TrimSpace(q.Title) == "" {
		return &ValidationError{Field: "title", Reason: "required"}
	}
	if strings.TrimSpace(q.Question) == "" {
		return &ValidationError{Field: "question", Reason: "required"}
	}
	if strings.TrimSpace(q.Genre) == "" {
		return &ValidationError{Field: "genre", Reason: "required"}
	}

	switch q.Type {
	case QuizMultipleChoice:
		return validateMultipleChoice(q)
	case QuizInput:
		if strings.TrimSpace(q.CorrectAnswer) == "" {
			return &ValidationError{Field: "correctAnswer", Reason: "required"}
		}
		return nil
	default:
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown quiz type %q", q.Type)}
	}
}

func validateMultipleChoice(q Quiz) error {
	if len(q.Choices) < minChoices {
		return &ValidationError{Field: "choices", Reason: fmt.Sprintf("need at least %d choices", minChoices)}
	}
	if len(q.Choices) > maxChoices {
		return &ValidationError{Field: "choices", Reason: fmt.Sprintf("at most %d choices allowed", maxChoices)}
	}

	seen := make(map[string]struct{}, len(q.Choices))
	for _, choice := range q.Choices {
		if strings.TrimSpace(choice) == "" {
			return &ValidationError{Field: "choices", Reason: "choices must not be blank"}
		}
		key := NormalizeAnswer(choice)
		if _, dup := seen[key]; dup {
			return &ValidationError{Field: "choices", Reason: fmt.Sprintf("duplicate choice %q", choice)}
		}
		seen[key] = struct{}{}
	}

	for _, choice := range q.Choices {
		if choice == q.CorrectAnswer {
			return nil
		}
	}
	return &ValidationError{Field: "correctAnswer", Reason: "must be one of the choices"}
}

// NormalizeAnswer folds an answer for comparison: trimmed and case-insensitive.
func NormalizeAnswer(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Grade reports whether answer is accepted for this quiz. Multiple-choice
// answers must match the correct choice; input answers also match any of the
// acceptable alternates, compared normalized.
func (q Quiz) Grade(answer string) bool {
	if NormalizeAnswer(answer) == NormalizeAnswer(q.CorrectAnswer) {
		return true
	}
	if q.Type != QuizInput {
		return false
	}
	for _, alt := range q.AcceptableAnswers {
		if NormalizeAnswer(answer) == NormalizeAnswer(alt) {
			return true
		}
	}
	return false
}
