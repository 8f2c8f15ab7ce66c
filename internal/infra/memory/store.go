package memory

import (
	"context"
	"sort"
	"sync"

	"brainforces/internal/app"
	"brainforces/internal/domain"
)

// Store is an in-memory implementation of app.Store, used by tests and by
// the server's no-database demo mode. InTx serializes writers behind one
// mutex, which stands in for the row locks a SQL store would take.
type Store struct {
	mu          sync.Mutex
	users       map[int64]*userRecord
	orgs        map[int64]domain.Organization
	memberships map[int64]map[int64]domain.Role
	quizzes     map[int64]*domain.Quiz
	results     map[int64]map[int64]*domain.QuizResult
	answers     []domain.UserAnswer
	nextID      int64
}

type userRecord struct {
	ID       int64
	Username string
	Rating   int
}

func NewStore() *Store {
	return &Store{
		users:       make(map[int64]*userRecord),
		orgs:        make(map[int64]domain.Organization),
		memberships: make(map[int64]map[int64]domain.Role),
		quizzes:     make(map[int64]*domain.Quiz),
		results:     make(map[int64]map[int64]*domain.QuizResult),
	}
}

// InTx holds the store lock for the whole callback; methods on the tx view
// skip locking. There is no rollback: callbacks must fail before mutating,
// which every use case in app does.
func (s *Store) InTx(_ context.Context, fn func(tx app.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&txView{s})
}

// Seeding helpers.

func (s *Store) SeedUser(username string, rating int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.allocID()
	s.users[id] = &userRecord{ID: id, Username: username, Rating: rating}
	return id
}

func (s *Store) SeedOrganization(name string, isPrivate bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.allocID()
	s.orgs[id] = domain.Organization{ID: id, Name: name, IsPrivate: isPrivate}
	return id
}

func (s *Store) SeedMembership(orgID, userID int64, role domain.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memberships[orgID] == nil {
		s.memberships[orgID] = make(map[int64]domain.Role)
	}
	s.memberships[orgID][userID] = role
}

// SeedQuiz stores the quiz and assigns missing quiz/question/variant IDs.
func (s *Store) SeedQuiz(quiz domain.Quiz) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if quiz.ID == 0 {
		quiz.ID = s.allocID()
	}
	for i := range quiz.Questions {
		question := &quiz.Questions[i]
		question.QuizID = quiz.ID
		if question.ID == 0 {
			question.ID = s.allocID()
		}
		for j := range question.Variants {
			variant := &question.Variants[j]
			variant.QuestionID = question.ID
			if variant.ID == 0 {
				variant.ID = s.allocID()
			}
		}
	}
	s.quizzes[quiz.ID] = &quiz
	return quiz.ID
}

// LoadQuiz makes the store usable as a QuizLoader behind the content caches.
func (s *Store) LoadQuiz(_ context.Context, quizID int64) (domain.Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadQuiz(quizID)
}

// app.Store methods: public receivers lock, the logic lives in unexported
// counterparts shared with the tx view.

func (s *Store) QuizForUpdate(_ context.Context, quizID int64) (domain.Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadQuiz(quizID)
}

func (s *Store) SetQuizEnded(_ context.Context, quizID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setQuizEnded(quizID)
}

func (s *Store) MemberRole(_ context.Context, orgID, userID int64) (domain.Role, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memberRole(orgID, userID)
}

func (s *Store) HasResult(_ context.Context, quizID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasResult(quizID, userID)
}

func (s *Store) CreateResult(_ context.Context, result *domain.QuizResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createResult(result)
}

func (s *Store) ResultForUpdate(_ context.Context, quizID, userID int64) (domain.QuizResult, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resultForUpdate(quizID, userID)
}

func (s *Store) SaveResultScore(_ context.Context, result domain.QuizResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveResultScore(result)
}

func (s *Store) ResultsByQuiz(_ context.Context, quizID int64) ([]domain.QuizResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resultsByQuiz(quizID)
}

func (s *Store) SavePlaces(_ context.Context, results []domain.QuizResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savePlaces(results)
}

func (s *Store) HasAnswer(_ context.Context, userID, questionID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasAnswer(userID, questionID)
}

func (s *Store) CorrectAnswerCount(_ context.Context, userID, questionID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.correctAnswerCount(userID, questionID)
}

func (s *Store) AppendAnswer(_ context.Context, answer *domain.UserAnswer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendAnswer(answer)
}

func (s *Store) AnswersByUser(_ context.Context, quizID, userID int64) ([]domain.UserAnswer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answersByUser(quizID, userID)
}

func (s *Store) Rating(_ context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rating(userID)
}

func (s *Store) SetRating(_ context.Context, userID int64, rating int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setRating(userID, rating)
}

// UserRating is a test helper reading a user's live rating.
func (s *Store) UserRating(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, _ := s.rating(userID)
	return r
}

func (s *Store) allocID() int64 {
	s.nextID++
	return s.nextID
}

func (s *Store) loadQuiz(quizID int64) (domain.Quiz, error) {
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return *quiz, nil
}

func (s *Store) setQuizEnded(quizID int64) error {
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return domain.ErrQuizNotFound
	}
	quiz.IsEnded = true
	return nil
}

func (s *Store) memberRole(orgID, userID int64) (domain.Role, bool, error) {
	role, ok := s.memberships[orgID][userID]
	return role, ok, nil
}

func (s *Store) hasResult(quizID, userID int64) (bool, error) {
	_, ok := s.results[quizID][userID]
	return ok, nil
}

func (s *Store) createResult(result *domain.QuizResult) error {
	if s.results[result.QuizID] == nil {
		s.results[result.QuizID] = make(map[int64]*domain.QuizResult)
	}
	if _, ok := s.results[result.QuizID][result.UserID]; ok {
		return nil
	}
	stored := *result
	stored.ID = s.allocID()
	if user, ok := s.users[result.UserID]; ok {
		stored.Username = user.Username
	}
	s.results[result.QuizID][result.UserID] = &stored
	result.ID = stored.ID
	return nil
}

func (s *Store) resultForUpdate(quizID, userID int64) (domain.QuizResult, bool, error) {
	result, ok := s.results[quizID][userID]
	if !ok {
		return domain.QuizResult{}, false, nil
	}
	return *result, true, nil
}

func (s *Store) saveResultScore(result domain.QuizResult) error {
	stored, ok := s.results[result.QuizID][result.UserID]
	if !ok {
		return domain.ErrQuizNotFound
	}
	stored.Solved = result.Solved
	stored.RatingAfter = result.RatingAfter
	return nil
}

func (s *Store) resultsByQuiz(quizID int64) ([]domain.QuizResult, error) {
	results := make([]domain.QuizResult, 0, len(s.results[quizID]))
	for _, result := range s.results[quizID] {
		results = append(results, *result)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Solved != results[j].Solved {
			return results[i].Solved > results[j].Solved
		}
		return results[i].UserID < results[j].UserID
	})
	return results, nil
}

func (s *Store) savePlaces(results []domain.QuizResult) error {
	for _, result := range results {
		if stored, ok := s.results[result.QuizID][result.UserID]; ok {
			stored.Place = result.Place
		}
	}
	return nil
}

func (s *Store) hasAnswer(userID, questionID int64) (bool, error) {
	for _, answer := range s.answers {
		if answer.UserID == userID && answer.QuestionID == questionID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) correctAnswerCount(userID, questionID int64) (int, error) {
	count := 0
	for _, answer := range s.answers {
		if answer.UserID == userID && answer.QuestionID == questionID && answer.IsCorrect {
			count++
		}
	}
	return count, nil
}

func (s *Store) appendAnswer(answer *domain.UserAnswer) error {
	stored := *answer
	stored.ID = s.allocID()
	s.answers = append(s.answers, stored)
	answer.ID = stored.ID
	return nil
}

func (s *Store) answersByUser(quizID, userID int64) ([]domain.UserAnswer, error) {
	var answers []domain.UserAnswer
	for _, answer := range s.answers {
		if answer.QuizID == quizID && answer.UserID == userID {
			answers = append(answers, answer)
		}
	}
	sort.Slice(answers, func(i, j int) bool {
		if !answers[i].TimeAnswered.Equal(answers[j].TimeAnswered) {
			return answers[i].TimeAnswered.After(answers[j].TimeAnswered)
		}
		return answers[i].ID > answers[j].ID
	})
	return answers, nil
}

func (s *Store) rating(userID int64) (int, error) {
	user, ok := s.users[userID]
	if !ok {
		return 0, nil
	}
	return user.Rating, nil
}

func (s *Store) setRating(userID int64, rating int) error {
	if user, ok := s.users[userID]; ok {
		user.Rating = rating
	}
	return nil
}

// txView exposes the store without locking; the enclosing InTx already holds
// the lock.
type txView struct {
	s *Store
}

func (t *txView) InTx(_ context.Context, fn func(tx app.Store) error) error { return fn(t) }

func (t *txView) QuizForUpdate(_ context.Context, quizID int64) (domain.Quiz, error) {
	return t.s.loadQuiz(quizID)
}

func (t *txView) SetQuizEnded(_ context.Context, quizID int64) error {
	return t.s.setQuizEnded(quizID)
}

func (t *txView) MemberRole(_ context.Context, orgID, userID int64) (domain.Role, bool, error) {
	return t.s.memberRole(orgID, userID)
}

func (t *txView) HasResult(_ context.Context, quizID, userID int64) (bool, error) {
	return t.s.hasResult(quizID, userID)
}

func (t *txView) CreateResult(_ context.Context, result *domain.QuizResult) error {
	return t.s.createResult(result)
}

func (t *txView) ResultForUpdate(_ context.Context, quizID, userID int64) (domain.QuizResult, bool, error) {
	return t.s.resultForUpdate(quizID, userID)
}

func (t *txView) SaveResultScore(_ context.Context, result domain.QuizResult) error {
	return t.s.saveResultScore(result)
}

func (t *txView) ResultsByQuiz(_ context.Context, quizID int64) ([]domain.QuizResult, error) {
	return t.s.resultsByQuiz(quizID)
}

func (t *txView) SavePlaces(_ context.Context, results []domain.QuizResult) error {
	return t.s.savePlaces(results)
}

func (t *txView) HasAnswer(_ context.Context, userID, questionID int64) (bool, error) {
	return t.s.hasAnswer(userID, questionID)
}

func (t *txView) CorrectAnswerCount(_ context.Context, userID, questionID int64) (int, error) {
	return t.s.correctAnswerCount(userID, questionID)
}

func (t *txView) AppendAnswer(_ context.Context, answer *domain.UserAnswer) error {
	return t.s.appendAnswer(answer)
}

func (t *txView) AnswersByUser(_ context.Context, quizID, userID int64) ([]domain.UserAnswer, error) {
	return t.s.answersByUser(quizID, userID)
}

func (t *txView) Rating(_ context.Context, userID int64) (int, error) {
	return t.s.rating(userID)
}

func (t *txView) SetRating(_ context.Context, userID int64, rating int) error {
	return t.s.setRating(userID, rating)
}

var _ app.Store = (*Store)(nil)
var _ app.Store = (*txView)(nil)
