package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"brainforces/internal/domain"
)

// Store is the transactional persistence surface for quiz runs. InTx runs fn
// against a transaction-scoped Store; *ForUpdate methods must hold a row lock
// for the rest of the transaction.
type Store interface {
	InTx(ctx context.Context, fn func(tx Store) error) error

	QuizForUpdate(ctx context.Context, quizID int64) (domain.Quiz, error)
	SetQuizEnded(ctx context.Context, quizID int64) error
	MemberRole(ctx context.Context, orgID, userID int64) (domain.Role, bool, error)

	HasResult(ctx context.Context, quizID, userID int64) (bool, error)
	CreateResult(ctx context.Context, result *domain.QuizResult) error
	ResultForUpdate(ctx context.Context, quizID, userID int64) (domain.QuizResult, bool, error)
	SaveResultScore(ctx context.Context, result domain.QuizResult) error
	ResultsByQuiz(ctx context.Context, quizID int64) ([]domain.QuizResult, error)
	SavePlaces(ctx context.Context, results []domain.QuizResult) error

	HasAnswer(ctx context.Context, userID, questionID int64) (bool, error)
	CorrectAnswerCount(ctx context.Context, userID, questionID int64) (int, error)
	AppendAnswer(ctx context.Context, answer *domain.UserAnswer) error
	AnswersByUser(ctx context.Context, quizID, userID int64) ([]domain.UserAnswer, error)

	Rating(ctx context.Context, userID int64) (int, error)
	SetRating(ctx context.Context, userID int64, rating int) error
}

// QuizRepository loads quiz content, questions and variants included
// (typically through a cache).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID int64) (domain.Quiz, error)
	Invalidate(ctx context.Context, quizID int64) error
}

// StandingsCache holds computed standings snapshots.
type StandingsCache interface {
	Get(ctx context.Context, quizID int64) ([]domain.StandingsRow, bool, error)
	Set(ctx context.Context, quizID int64, rows []domain.StandingsRow) error
	Invalidate(ctx context.Context, quizID int64) error
}

// Settings is the immutable process configuration the service needs;
// assembled once at startup and passed in, never read from the environment.
type Settings struct {
	// RatingEnabled turns off all rating writes when false, regardless of
	// per-quiz flags.
	RatingEnabled bool
	// SubmitRetries bounds retries of the submit/finalize critical sections
	// on transient storage conflicts.
	SubmitRetries int
}

// DefaultSettings mirror production defaults.
func DefaultSettings() Settings {
	return Settings{RatingEnabled: true, SubmitRetries: 3}
}

// QuizService implements the quiz run use cases: registration, answer
// submission, results finalization and standings.
type QuizService struct {
	store     Store
	quizzes   QuizRepository
	standings StandingsCache
	hub       *StandingsHub
	settings  Settings
	log       *zap.Logger
	now       func() time.Time
}

func NewQuizService(store Store, quizzes QuizRepository, standings StandingsCache, hub *StandingsHub, settings Settings, log *zap.Logger) *QuizService {
	if log == nil {
		log = zap.NewNop()
	}
	if settings.SubmitRetries <= 0 {
		settings.SubmitRetries = 1
	}
	return &QuizService{
		store:     store,
		quizzes:   quizzes,
		standings: standings,
		hub:       hub,
		settings:  settings,
		log:       log,
		now:       time.Now,
	}
}

// WithClock is test-only for deterministic phases.
func (s *QuizService) WithClock(now func() time.Time) *QuizService {
	s.now = now
	return s
}

// Phase reports the quiz's current temporal phase. Quizzes the user may not
// see behave as absent.
func (s *QuizService) Phase(ctx context.Context, quizID, userID int64) (domain.Phase, error) {
	quiz, role, isMember, err := s.quizWithRole(ctx, quizID, userID)
	if err != nil {
		return 0, err
	}
	if !domain.CanAccessQuiz(quiz, role, isMember) {
		return 0, domain.ErrQuizNotFound
	}
	return quiz.PhaseAt(s.now()), nil
}

// Register creates the user's QuizResult row with the current rating as both
// the before and after snapshot. Registering twice is a no-op; registering
// after the run window is rejected.
func (s *QuizService) Register(ctx context.Context, quizID, userID int64) error {
	quiz, role, isMember, err := s.quizWithRole(ctx, quizID, userID)
	if err != nil {
		return err
	}
	if !domain.CanAccessQuiz(quiz, role, isMember) {
		return domain.ErrAccessDenied
	}
	if quiz.PhaseAt(s.now()) == domain.PhaseFinished {
		return domain.ErrRegistrationClosed
	}

	rating, err := s.store.Rating(ctx, userID)
	if err != nil {
		return err
	}
	return s.store.CreateResult(ctx, &domain.QuizResult{
		QuizID:       quizID,
		UserID:       userID,
		RatingBefore: rating,
		RatingAfter:  rating,
	})
}

// SubmitAnswer records one answer and, during the run, scores the user's
// first correct answer to the question. Returns whether the answer was
// correct without revealing which variant is.
func (s *QuizService) SubmitAnswer(ctx context.Context, quizID, questionID, userID, variantID int64) (bool, error) {
	quiz, role, isMember, err := s.quizWithRole(ctx, quizID, userID)
	if err != nil {
		return false, err
	}

	now := s.now()
	phase := quiz.PhaseAt(now)
	registered, err := s.store.HasResult(ctx, quizID, userID)
	if err != nil {
		return false, err
	}
	if !domain.CanParticipate(quiz, phase, registered, role, isMember) {
		return false, domain.ErrAccessDenied
	}

	question, ok := findQuestion(quiz, questionID)
	if !ok {
		return false, domain.ErrQuestionNotFound
	}
	variant, ok := findVariant(question, variantID)
	if !ok {
		return false, domain.ErrInvalidVariant
	}
	isCorrect := variant.IsCorrect

	scored := false
	err = s.withRetry(ctx, func() error {
		scored = false
		return s.store.InTx(ctx, func(tx Store) error {
			// While the run is live, one submission per question; later
			// resubmissions may exist as audit rows but never score again.
			if phase == domain.PhaseInProgress {
				answered, err := tx.HasAnswer(ctx, userID, questionID)
				if err != nil {
					return err
				}
				if answered {
					return domain.ErrAlreadyAnswered
				}
			}

			if err := tx.AppendAnswer(ctx, &domain.UserAnswer{
				UserID:       userID,
				QuizID:       quizID,
				QuestionID:   questionID,
				IsCorrect:    isCorrect,
				TimeAnswered: now,
			}); err != nil {
				return err
			}

			if phase != domain.PhaseInProgress || !isCorrect {
				return nil
			}
			result, ok, err := tx.ResultForUpdate(ctx, quizID, userID)
			if err != nil || !ok {
				return err
			}
			correct, err := tx.CorrectAnswerCount(ctx, userID, questionID)
			if err != nil {
				return err
			}
			// The count includes the row appended above, so 1 means this is
			// the first correct answer and the only one that scores.
			if correct != 1 {
				return nil
			}
			result.Solved++
			if quiz.IsRated && !quiz.IsPrivate && s.settings.RatingEnabled {
				result.RatingAfter += question.Difficulty
			}
			scored = true
			return tx.SaveResultScore(ctx, result)
		})
	})
	if err != nil {
		return false, err
	}

	if scored {
		s.refreshStandings(ctx, quizID)
	}
	s.log.Debug("answer recorded",
		zap.Int64("quiz", quizID),
		zap.Int64("question", questionID),
		zap.Int64("user", userID),
		zap.Bool("correct", isCorrect))
	return isCorrect, nil
}

// Finalize computes final places with dense ranking, commits rating changes
// for rated public quizzes and flips the quiz's ended flag, all in one
// transaction. It returns how many places were assigned.
func (s *QuizService) Finalize(ctx context.Context, quizID, userID int64) (int, error) {
	places := 0
	err := s.withRetry(ctx, func() error {
		places = 0
		return s.store.InTx(ctx, func(tx Store) error {
			// Fresh flags under the quiz row lock: a concurrent finalize is
			// serialized here and observes the ended flag.
			quiz, err := tx.QuizForUpdate(ctx, quizID)
			if err != nil {
				return err
			}
			if quiz.IsEnded {
				return domain.ErrAlreadyFinalized
			}
			if !domain.CanFinalize(quiz, quiz.PhaseAt(s.now()), userID) {
				return domain.ErrAccessDenied
			}

			results, err := tx.ResultsByQuiz(ctx, quizID)
			if err != nil {
				return err
			}
			assignPlaces(results)

			if quiz.IsRated && !quiz.IsPrivate && s.settings.RatingEnabled {
				for _, result := range results {
					if err := tx.SetRating(ctx, result.UserID, result.RatingAfter); err != nil {
						return err
					}
				}
			}
			if err := tx.SavePlaces(ctx, results); err != nil {
				return err
			}
			places = len(results)
			return tx.SetQuizEnded(ctx, quizID)
		})
	})
	if err != nil {
		return 0, err
	}

	// Content caches carry the ended flag; drop them along with standings.
	if err := s.quizzes.Invalidate(ctx, quizID); err != nil {
		s.log.Warn("quiz cache invalidation failed", zap.Int64("quiz", quizID), zap.Error(err))
	}
	s.refreshStandings(ctx, quizID)
	s.log.Info("quiz results finalized", zap.Int64("quiz", quizID), zap.Int("places", places))
	return places, nil
}

// Standings returns participants ordered by solved count; places are zero
// until the quiz is finalized. Visible under the same rules as questions.
func (s *QuizService) Standings(ctx context.Context, quizID, userID int64) ([]domain.StandingsRow, error) {
	if err := s.requireQuestionAccess(ctx, quizID, userID); err != nil {
		return nil, err
	}

	if rows, ok, err := s.standings.Get(ctx, quizID); err == nil && ok {
		return rows, nil
	}
	results, err := s.store.ResultsByQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	rows := toStandings(results)
	if err := s.standings.Set(ctx, quizID, rows); err != nil {
		s.log.Warn("standings cache set failed", zap.Int64("quiz", quizID), zap.Error(err))
	}
	return rows, nil
}

// Questions lists the quiz's questions with correctness flags stripped from
// the variants.
func (s *QuizService) Questions(ctx context.Context, quizID, userID int64) ([]domain.Question, error) {
	if err := s.requireQuestionAccess(ctx, quizID, userID); err != nil {
		return nil, err
	}
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	questions := make([]domain.Question, len(quiz.Questions))
	for i, question := range quiz.Questions {
		sanitized := question
		sanitized.Variants = make([]domain.Variant, len(question.Variants))
		for j, variant := range question.Variants {
			variant.IsCorrect = false
			sanitized.Variants[j] = variant
		}
		questions[i] = sanitized
	}
	return questions, nil
}

// UserAnswers lists the user's own submissions for a quiz, newest first.
func (s *QuizService) UserAnswers(ctx context.Context, quizID, userID int64) ([]domain.UserAnswer, error) {
	if err := s.requireQuestionAccess(ctx, quizID, userID); err != nil {
		return nil, err
	}
	return s.store.AnswersByUser(ctx, quizID, userID)
}

// Subscribe streams standings snapshots for a quiz. The caller must invoke
// the returned cancel function to avoid leaks.
func (s *QuizService) Subscribe(ctx context.Context, quizID, userID int64) (<-chan []domain.StandingsRow, func(), error) {
	rows, err := s.Standings(ctx, quizID, userID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.hub.Subscribe(quizID)
	s.hub.Broadcast(quizID, rows)
	return ch, cancel, nil
}

func (s *QuizService) quizWithRole(ctx context.Context, quizID, userID int64) (domain.Quiz, domain.Role, bool, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, 0, false, err
	}
	role, isMember, err := s.store.MemberRole(ctx, quiz.OrganizerID, userID)
	if err != nil {
		return domain.Quiz{}, 0, false, err
	}
	return quiz, role, isMember, nil
}

func (s *QuizService) requireQuestionAccess(ctx context.Context, quizID, userID int64) error {
	quiz, role, isMember, err := s.quizWithRole(ctx, quizID, userID)
	if err != nil {
		return err
	}
	registered, err := s.store.HasResult(ctx, quizID, userID)
	if err != nil {
		return err
	}
	if !domain.CanParticipate(quiz, quiz.PhaseAt(s.now()), registered, role, isMember) {
		return domain.ErrAccessDenied
	}
	return nil
}

// refreshStandings drops the cached snapshot and, when someone is watching,
// pushes a fresh one.
func (s *QuizService) refreshStandings(ctx context.Context, quizID int64) {
	if err := s.standings.Invalidate(ctx, quizID); err != nil {
		s.log.Warn("standings cache invalidation failed", zap.Int64("quiz", quizID), zap.Error(err))
	}
	if s.hub == nil || !s.hub.HasSubscribers(quizID) {
		return
	}
	results, err := s.store.ResultsByQuiz(ctx, quizID)
	if err != nil {
		s.log.Warn("standings refresh failed", zap.Int64("quiz", quizID), zap.Error(err))
		return
	}
	s.hub.Broadcast(quizID, toStandings(results))
}

// withRetry reruns fn on transient storage conflicts with a short backoff.
func (s *QuizService) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < s.settings.SubmitRetries; attempt++ {
		if err = fn(); !errors.Is(err, domain.ErrStorageConflict) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return err
}

func findQuestion(quiz domain.Quiz, questionID int64) (domain.Question, bool) {
	for _, question := range quiz.Questions {
		if question.ID == questionID {
			return question, true
		}
	}
	return domain.Question{}, false
}

func findVariant(question domain.Question, variantID int64) (domain.Variant, bool) {
	for _, variant := range question.Variants {
		if variant.ID == variantID {
			return variant, true
		}
	}
	return domain.Variant{}, false
}

func toStandings(results []domain.QuizResult) []domain.StandingsRow {
	rows := make([]domain.StandingsRow, len(results))
	for i, result := range results {
		rows[i] = domain.StandingsRow{
			UserID:   result.UserID,
			Username: result.Username,
			Solved:   result.Solved,
			Place:    result.Place,
		}
	}
	return rows
}
