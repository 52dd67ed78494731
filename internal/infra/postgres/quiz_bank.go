package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quizroom-service/internal/domain"
)

// QuizBank stores quizzes as JSONB rows addressed by (genre, class, unit, id).
type QuizBank struct {
	pool *pgxpool.Pool
}

func NewQuizBank(pool *pgxpool.Pool) *QuizBank {
	return &QuizBank{pool: pool}
}

func (b *QuizBank) LoadQuiz(ctx context.Context, scope domain.QuizScope, quizID string) (domain.Quiz, error) {
	var raw []byte
	err := b.pool.QueryRow(ctx,
		`SELECT data FROM quizzes WHERE genre=$1 AND class_type=$2 AND unit_id=$3 AND id=$4`,
		scope.Genre, string(scope.ClassType), scope.UnitID, quizID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("unmarshal quiz: %w", err)
	}
	return quiz, nil
}

func (b *QuizBank) ListQuizIDs(ctx context.Context, scope domain.QuizScope) ([]string, error) {
	rows, err := b.pool.Query(ctx,
		`SELECT id FROM quizzes WHERE genre=$1 AND class_type=$2 AND unit_id=$3 ORDER BY id`,
		scope.Genre, string(scope.ClassType), scope.UnitID,
	)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan quiz id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveQuiz persists an authored quiz. The quiz must already be validated.
func (b *QuizBank) SaveQuiz(ctx context.Context, quiz domain.Quiz) error {
	data, err := json.Marshal(quiz)
	if err != nil {
		return fmt.Errorf("marshal quiz: %w", err)
	}
	_, err = b.pool.Exec(ctx,
		`INSERT INTO quizzes (id, genre, class_type, unit_id, data)
		 VALUES ($1, $2, $3, $4, $5::jsonb)
		 ON CONFLICT (genre, class_type, unit_id, id) DO UPDATE SET data=EXCLUDED.data`,
		quiz.QuizID, quiz.Genre, string(quiz.ClassType), quiz.UnitID, string(data),
	)
	if err != nil {
		return fmt.Errorf("save quiz: %w", err)
	}
	return nil
}

// BumpQuizStats adds to a quiz's use and correct counters. Invoked by the
// stats finalizer once per participant at room completion.
func (b *QuizBank) BumpQuizStats(ctx context.Context, scope domain.QuizScope, quizID string, used, correct int) error {
	_, err := b.pool.Exec(ctx,
		`UPDATE quizzes SET use_count = use_count + $5, correct_count = correct_count + $6
		 WHERE genre=$1 AND class_type=$2 AND unit_id=$3 AND id=$4`,
		scope.Genre, string(scope.ClassType), scope.UnitID, quizID, used, correct,
	)
	if err != nil {
		return fmt.Errorf("bump quiz stats: %w", err)
	}
	return nil
}
