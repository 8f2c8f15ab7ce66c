package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"brainforces/internal/app"
	"brainforces/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same Store
// methods run inside and outside transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Store implements app.Store on top of Postgres. InTx yields a tx-scoped
// Store; serialization failures and lock timeouts surface as
// domain.ErrStorageConflict so the service layer can retry.
type Store struct {
	pool *pgxpool.Pool
	db   querier
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

func (s *Store) InTx(ctx context.Context, fn func(tx app.Store) error) error {
	if s.pool == nil {
		// Already inside a transaction.
		return fn(s)
	}
	err := s.pool.BeginTxFunc(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&Store{db: tx})
	})
	return mapError(err)
}

func (s *Store) QuizForUpdate(ctx context.Context, quizID int64) (domain.Quiz, error) {
	var quiz domain.Quiz
	err := s.db.QueryRow(ctx, `
		SELECT id, name, description, COALESCE(creator_id, 0), COALESCE(organizer_id, 0),
		       start_time, duration_minutes, is_rated, is_private, is_ended, is_published
		FROM quizzes WHERE id = $1 FOR UPDATE`, quizID).Scan(
		&quiz.ID, &quiz.Name, &quiz.Description, &quiz.CreatorID, &quiz.OrganizerID,
		&quiz.StartTime, &quiz.DurationMinutes, &quiz.IsRated, &quiz.IsPrivate,
		&quiz.IsEnded, &quiz.IsPublished,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, mapError(fmt.Errorf("lock quiz: %w", err))
	}
	return quiz, nil
}

func (s *Store) SetQuizEnded(ctx context.Context, quizID int64) error {
	_, err := s.db.Exec(ctx, `UPDATE quizzes SET is_ended = TRUE WHERE id = $1`, quizID)
	if err != nil {
		return mapError(fmt.Errorf("mark quiz ended: %w", err))
	}
	return nil
}

func (s *Store) MemberRole(ctx context.Context, orgID, userID int64) (domain.Role, bool, error) {
	var role domain.Role
	err := s.db.QueryRow(ctx, `
		SELECT role FROM organization_members
		WHERE organization_id = $1 AND user_id = $2`, orgID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, mapError(fmt.Errorf("member role: %w", err))
	}
	return role, true, nil
}

func (s *Store) HasResult(ctx context.Context, quizID, userID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM quiz_results WHERE quiz_id = $1 AND user_id = $2)`,
		quizID, userID).Scan(&exists)
	if err != nil {
		return false, mapError(fmt.Errorf("has result: %w", err))
	}
	return exists, nil
}

func (s *Store) CreateResult(ctx context.Context, result *domain.QuizResult) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO quiz_results (quiz_id, user_id, rating_before, rating_after, solved, place)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (quiz_id, user_id) DO NOTHING
		RETURNING id`,
		result.QuizID, result.UserID, result.RatingBefore, result.RatingAfter,
		result.Solved, result.Place).Scan(&result.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Row already existed; registration is idempotent.
		return nil
	}
	if err != nil {
		return mapError(fmt.Errorf("create result: %w", err))
	}
	return nil
}

func (s *Store) ResultForUpdate(ctx context.Context, quizID, userID int64) (domain.QuizResult, bool, error) {
	var result domain.QuizResult
	err := s.db.QueryRow(ctx, `
		SELECT id, quiz_id, user_id, rating_before, rating_after, solved, place
		FROM quiz_results WHERE quiz_id = $1 AND user_id = $2 FOR UPDATE`,
		quizID, userID).Scan(
		&result.ID, &result.QuizID, &result.UserID, &result.RatingBefore,
		&result.RatingAfter, &result.Solved, &result.Place,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuizResult{}, false, nil
	}
	if err != nil {
		return domain.QuizResult{}, false, mapError(fmt.Errorf("lock result: %w", err))
	}
	return result, true, nil
}

func (s *Store) SaveResultScore(ctx context.Context, result domain.QuizResult) error {
	_, err := s.db.Exec(ctx, `
		UPDATE quiz_results SET rating_after = $1, solved = $2 WHERE id = $3`,
		result.RatingAfter, result.Solved, result.ID)
	if err != nil {
		return mapError(fmt.Errorf("save result score: %w", err))
	}
	return nil
}

func (s *Store) ResultsByQuiz(ctx context.Context, quizID int64) ([]domain.QuizResult, error) {
	rows, err := s.db.Query(ctx, `
		SELECT r.id, r.quiz_id, r.user_id, r.rating_before, r.rating_after,
		       r.solved, r.place, u.username
		FROM quiz_results r
		JOIN users u ON u.id = r.user_id
		WHERE r.quiz_id = $1
		ORDER BY r.solved DESC, r.user_id ASC`, quizID)
	if err != nil {
		return nil, mapError(fmt.Errorf("results by quiz: %w", err))
	}
	defer rows.Close()

	var results []domain.QuizResult
	for rows.Next() {
		var result domain.QuizResult
		if err := rows.Scan(&result.ID, &result.QuizID, &result.UserID,
			&result.RatingBefore, &result.RatingAfter, &result.Solved,
			&result.Place, &result.Username); err != nil {
			return nil, mapError(fmt.Errorf("scan result: %w", err))
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(fmt.Errorf("results by quiz: %w", err))
	}
	return results, nil
}

func (s *Store) SavePlaces(ctx context.Context, results []domain.QuizResult) error {
	for _, result := range results {
		_, err := s.db.Exec(ctx, `UPDATE quiz_results SET place = $1 WHERE id = $2`,
			result.Place, result.ID)
		if err != nil {
			return mapError(fmt.Errorf("save place: %w", err))
		}
	}
	return nil
}

func (s *Store) HasAnswer(ctx context.Context, userID, questionID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM user_answers WHERE user_id = $1 AND question_id = $2)`,
		userID, questionID).Scan(&exists)
	if err != nil {
		return false, mapError(fmt.Errorf("has answer: %w", err))
	}
	return exists, nil
}

func (s *Store) CorrectAnswerCount(ctx context.Context, userID, questionID int64) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM user_answers
		WHERE user_id = $1 AND question_id = $2 AND is_correct`,
		userID, questionID).Scan(&count)
	if err != nil {
		return 0, mapError(fmt.Errorf("correct answer count: %w", err))
	}
	return count, nil
}

func (s *Store) AppendAnswer(ctx context.Context, answer *domain.UserAnswer) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO user_answers (user_id, quiz_id, question_id, is_correct, time_answered)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		answer.UserID, answer.QuizID, answer.QuestionID, answer.IsCorrect,
		answer.TimeAnswered).Scan(&answer.ID)
	if err != nil {
		return mapError(fmt.Errorf("append answer: %w", err))
	}
	return nil
}

func (s *Store) AnswersByUser(ctx context.Context, quizID, userID int64) ([]domain.UserAnswer, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, quiz_id, question_id, is_correct, time_answered
		FROM user_answers
		WHERE quiz_id = $1 AND user_id = $2
		ORDER BY time_answered DESC, id DESC`, quizID, userID)
	if err != nil {
		return nil, mapError(fmt.Errorf("answers by user: %w", err))
	}
	defer rows.Close()

	var answers []domain.UserAnswer
	for rows.Next() {
		var answer domain.UserAnswer
		if err := rows.Scan(&answer.ID, &answer.UserID, &answer.QuizID,
			&answer.QuestionID, &answer.IsCorrect, &answer.TimeAnswered); err != nil {
			return nil, mapError(fmt.Errorf("scan answer: %w", err))
		}
		answers = append(answers, answer)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(fmt.Errorf("answers by user: %w", err))
	}
	return answers, nil
}

func (s *Store) Rating(ctx context.Context, userID int64) (int, error) {
	var rating int
	err := s.db.QueryRow(ctx, `SELECT rating FROM users WHERE id = $1`, userID).Scan(&rating)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, mapError(fmt.Errorf("rating: %w", err))
	}
	return rating, nil
}

func (s *Store) SetRating(ctx context.Context, userID int64, rating int) error {
	_, err := s.db.Exec(ctx, `UPDATE users SET rating = $1 WHERE id = $2`, rating, userID)
	if err != nil {
		return mapError(fmt.Errorf("set rating: %w", err))
	}
	return nil
}

// mapError translates retryable Postgres failures into
// domain.ErrStorageConflict and passes everything else through.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03": // serialization, deadlock, lock timeout
			return fmt.Errorf("%w: %s", domain.ErrStorageConflict, pgErr.Code)
		}
	}
	return err
}
