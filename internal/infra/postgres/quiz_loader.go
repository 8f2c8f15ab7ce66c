package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"brainforces/internal/domain"
)

// QuizLoader assembles quiz content (questions and variants) from Postgres.
// It sits behind the content caches, so it favors simple queries over
// cleverness.
type QuizLoader struct {
	pool *pgxpool.Pool
}

func NewQuizLoader(pool *pgxpool.Pool) *QuizLoader {
	return &QuizLoader{pool: pool}
}

func (l *QuizLoader) LoadQuiz(ctx context.Context, quizID int64) (domain.Quiz, error) {
	var (
		quiz        domain.Quiz
		creatorID   sql.NullInt64
		organizerID sql.NullInt64
	)
	err := l.pool.QueryRow(ctx, `
		SELECT id, name, description, creator_id, organizer_id,
		       start_time, duration_minutes, is_rated, is_private, is_ended, is_published
		FROM quizzes WHERE id = $1`, quizID).Scan(
		&quiz.ID, &quiz.Name, &quiz.Description, &creatorID, &organizerID,
		&quiz.StartTime, &quiz.DurationMinutes, &quiz.IsRated, &quiz.IsPrivate,
		&quiz.IsEnded, &quiz.IsPublished,
	)
	if err == pgx.ErrNoRows {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	quiz.CreatorID = creatorID.Int64
	quiz.OrganizerID = organizerID.Int64

	questions, err := l.loadQuestions(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	quiz.Questions = questions
	return quiz, nil
}

func (l *QuizLoader) loadQuestions(ctx context.Context, quizID int64) ([]domain.Question, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, quiz_id, name, text, difficulty, tags
		FROM questions WHERE quiz_id = $1 ORDER BY id`, quizID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	index := make(map[int64]int)
	for rows.Next() {
		var question domain.Question
		if err := rows.Scan(&question.ID, &question.QuizID, &question.Name,
			&question.Text, &question.Difficulty, &question.Tags); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		index[question.ID] = len(questions)
		questions = append(questions, question)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}

	variantRows, err := l.pool.Query(ctx, `
		SELECT v.id, v.question_id, v.text, v.is_correct
		FROM variants v
		JOIN questions q ON q.id = v.question_id
		WHERE q.quiz_id = $1 ORDER BY v.question_id, v.id`, quizID)
	if err != nil {
		return nil, fmt.Errorf("load variants: %w", err)
	}
	defer variantRows.Close()

	for variantRows.Next() {
		var variant domain.Variant
		if err := variantRows.Scan(&variant.ID, &variant.QuestionID, &variant.Text, &variant.IsCorrect); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		if i, ok := index[variant.QuestionID]; ok {
			questions[i].Variants = append(questions[i].Variants, variant)
		}
	}
	if err := variantRows.Err(); err != nil {
		return nil, fmt.Errorf("load variants: %w", err)
	}
	return questions, nil
}
