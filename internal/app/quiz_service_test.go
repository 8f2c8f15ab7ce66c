package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"brainforces/internal/app"
	"brainforces/internal/domain"
	"brainforces/internal/infra/memory"
)

var startTime = time.Date(2023, 6, 3, 18, 0, 0, 0, time.UTC)

// fixture wires a service over the in-memory store with a settable clock.
type fixture struct {
	store *memory.Store
	svc   *app.QuizService
	now   time.Time

	orgID, quizID        int64
	creator, alice, bob  int64
	q1, q1Right, q1Wrong int64
	q2, q2Right          int64
}

func newFixture(t *testing.T, mutate func(*domain.Quiz)) *fixture {
	t.Helper()
	f := &fixture{store: memory.NewStore(), now: startTime.Add(-time.Hour)}

	f.orgID = f.store.SeedOrganization("acme", false)
	f.creator = f.store.SeedUser("carol", 2000)
	f.alice = f.store.SeedUser("alice", 1500)
	f.bob = f.store.SeedUser("bob", 1400)
	f.store.SeedMembership(f.orgID, f.creator, domain.RoleCreator)
	f.store.SeedMembership(f.orgID, f.alice, domain.RoleMember)
	f.store.SeedMembership(f.orgID, f.bob, domain.RoleMember)

	quiz := domain.Quiz{
		Name:            "weekly round",
		CreatorID:       f.creator,
		OrganizerID:     f.orgID,
		StartTime:       startTime,
		DurationMinutes: 10,
		IsRated:         true,
		IsPublished:     true,
		Questions: []domain.Question{
			{
				Name: "q1", Text: "first", Difficulty: 3,
				Variants: []domain.Variant{{Text: "right", IsCorrect: true}, {Text: "wrong"}},
			},
			{
				Name: "q2", Text: "second", Difficulty: 5,
				Variants: []domain.Variant{{Text: "right", IsCorrect: true}, {Text: "wrong"}},
			},
		},
	}
	if mutate != nil {
		mutate(&quiz)
	}
	f.quizID = f.store.SeedQuiz(quiz)

	seeded, err := f.store.LoadQuiz(context.Background(), f.quizID)
	if err != nil {
		t.Fatalf("load seeded quiz: %v", err)
	}
	f.q1 = seeded.Questions[0].ID
	f.q1Right = seeded.Questions[0].Variants[0].ID
	f.q1Wrong = seeded.Questions[0].Variants[1].ID
	f.q2 = seeded.Questions[1].ID
	f.q2Right = seeded.Questions[1].Variants[0].ID

	f.svc = app.NewQuizService(
		f.store,
		memory.NewQuizCache(f.store, time.Nanosecond), // effectively uncached for phase reads
		memory.NewStandingsCache(time.Minute),
		app.NewStandingsHub(),
		app.DefaultSettings(),
		nil,
	).WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) register(t *testing.T, users ...int64) {
	t.Helper()
	for _, user := range users {
		if err := f.svc.Register(context.Background(), f.quizID, user); err != nil {
			t.Fatalf("register %d: %v", user, err)
		}
	}
}

func TestFullRunScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.register(t, f.alice, f.bob)

	f.now = startTime.Add(time.Minute)
	correct, err := f.svc.SubmitAnswer(ctx, f.quizID, f.q1, f.alice, f.q1Right)
	if err != nil || !correct {
		t.Fatalf("alice correct answer: correct=%v err=%v", correct, err)
	}
	correct, err = f.svc.SubmitAnswer(ctx, f.quizID, f.q1, f.bob, f.q1Wrong)
	if err != nil || correct {
		t.Fatalf("bob wrong answer: correct=%v err=%v", correct, err)
	}

	f.now = startTime.Add(11 * time.Minute)
	places, err := f.svc.Finalize(ctx, f.quizID, f.creator)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if places != 2 {
		t.Fatalf("expected 2 places assigned, got %d", places)
	}

	rows, err := f.svc.Standings(ctx, f.quizID, f.alice)
	if err != nil {
		t.Fatalf("standings: %v", err)
	}
	if rows[0].UserID != f.alice || rows[0].Solved != 1 || rows[0].Place != 1 {
		t.Fatalf("expected alice first with place 1, got %+v", rows[0])
	}
	if rows[1].UserID != f.bob || rows[1].Solved != 0 || rows[1].Place != 2 {
		t.Fatalf("expected bob second with place 2, got %+v", rows[1])
	}

	// Rated public quiz: alice's live rating moves by q1's difficulty.
	if got := f.store.UserRating(f.alice); got != 1503 {
		t.Fatalf("expected alice rating 1503, got %d", got)
	}
	if got := f.store.UserRating(f.bob); got != 1400 {
		t.Fatalf("expected bob rating unchanged, got %d", got)
	}
}

func TestDuplicateAnswerScoresOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.register(t, f.alice)

	f.now = startTime.Add(time.Minute)
	if _, err := f.svc.SubmitAnswer(ctx, f.quizID, f.q1, f.alice, f.q1Right); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := f.svc.SubmitAnswer(ctx, f.quizID, f.q1, f.alice, f.q1Right)
	if !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("expected ErrAlreadyAnswered, got %v", err)
	}

	results, _ := f.store.ResultsByQuiz(ctx, f.quizID)
	if results[0].Solved != 1 {
		t.Fatalf("solved must stay 1, got %d", results[0].Solved)
	}
	answers, _ := f.store.AnswersByUser(ctx, f.quizID, f.alice)
	if len(answers) != 1 {
		t.Fatalf("rejected duplicate must not leave an audit row, got %d", len(answers))
	}
}

func TestLateAnswerIsLoggedButNeverScores(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.register(t, f.alice)

	f.now = startTime.Add(time.Minute)
	if _, err := f.svc.SubmitAnswer(ctx, f.quizID, f.q1, f.alice, f.q1Wrong); err != nil {
		t.Fatalf("in-run submit: %v", err)
	}

	// After the window closes the same question may be retried as a plain
	// audit row; solved must not move.
	f.now = startTime.Add(time.Hour)
	correct, err := f.svc.SubmitAnswer(ctx, f.quizID, f.q1, f.alice, f.q1Right)
	if err != nil || !correct {
		t.Fatalf("post-run submit: correct=%v err=%v", correct, err)
	}
	results, _ := f.store.ResultsByQuiz(ctx, f.quizID)
	if results[0].Solved != 0 || results[0].RatingAfter != 1500 {
		t.Fatalf("late answer must not score, got %+v", results[0])
	}
	answers, _ := f.store.AnswersByUser(ctx, f.quizID, f.alice)
	if len(answers) != 2 {
		t.Fatalf("expected 2 audit rows, got %d", len(answers))
	}
}

func TestSubmitGates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.register(t, f.alice)

	// Before start: nobody, registered or not.
	f.now = startTime.Add(-time.Minute)
	if _, err := f.svc.SubmitAnswer(ctx, f.quizID, f.q1, f.alice, f.q1Right); !errors.Is(err, domain.ErrAccessDenied) {
		t.Fatalf("before start: expected ErrAccessDenied, got %v", err)
	}

	// During the run an unregistered member is still turned away.
	f.now = startTime.Add(time.Minute)
	if _, err := f.svc.SubmitAnswer(ctx, f.quizID, f.q1, f.bob, f.q1Right); !errors.Is(err, domain.ErrAccessDenied) {
		t.Fatalf("unregistered: expected ErrAccessDenied, got %v", err)
	}

	// A variant from another question is rejected.
	if _, err := f.svc.SubmitAnswer(ctx, f.quizID, f.q1, f.alice, f.q2Right); !errors.Is(err, domain.ErrInvalidVariant) {
		t.Fatalf("expected ErrInvalidVariant, got %v", err)
	}
	if _, err := f.svc.SubmitAnswer(ctx, f.quizID, f.q2+1000, f.alice, f.q2Right); !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
}

func TestPrivateQuizOutsiderDeniedEverywhere(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(q *domain.Quiz) { q.IsPrivate = true })
	f.register(t, f.alice)
	outsider := f.store.SeedUser("mallory", 1000)

	for _, offset := range []time.Duration{-time.Minute, time.Minute, time.Hour} {
		f.now = startTime.Add(offset)
		if _, err := f.svc.SubmitAnswer(ctx, f.quizID, f.q1, outsider, f.q1Right); !errors.Is(err, domain.ErrAccessDenied) {
			t.Fatalf("offset %v: expected ErrAccessDenied on submit, got %v", offset, err)
		}
		if _, err := f.svc.Standings(ctx, f.quizID, outsider); !errors.Is(err, domain.ErrAccessDenied) {
			t.Fatalf("offset %v: expected ErrAccessDenied on standings, got %v", offset, err)
		}
		if _, err := f.svc.Questions(ctx, f.quizID, outsider); !errors.Is(err, domain.ErrAccessDenied) {
			t.Fatalf("offset %v: expected ErrAccessDenied on questions, got %v", offset, err)
		}
	}
	if answers, _ := f.store.AnswersByUser(ctx, f.quizID, outsider); len(answers) != 0 {
		t.Fatalf("denied submissions must not leave audit rows, got %d", len(answers))
	}
}

func TestDenseRankingOnFinalize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	solvedCounts := []int{10, 7, 7, 3}
	users := make([]int64, len(solvedCounts))
	f.now = startTime.Add(-time.Minute)
	for i, solved := range solvedCounts {
		users[i] = f.store.SeedUser("player", 1000)
		f.store.SeedMembership(f.orgID, users[i], domain.RoleMember)
		f.register(t, users[i])
		result := domain.QuizResult{QuizID: f.quizID, UserID: users[i], Solved: solved}
		if err := f.store.SaveResultScore(ctx, result); err != nil {
			t.Fatalf("seed solved: %v", err)
		}
	}

	f.now = startTime.Add(time.Hour)
	if _, err := f.svc.Finalize(ctx, f.quizID, f.creator); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	rows, err := f.svc.Standings(ctx, f.quizID, users[0])
	if err != nil {
		t.Fatalf("standings: %v", err)
	}
	wantPlaces := []int{1, 2, 2, 3}
	for i, want := range wantPlaces {
		if rows[i].Place != want {
			t.Fatalf("row %d: expected place %d, got %+v", i, want, rows[i])
		}
	}
}

func TestTieShareFirstPlace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.register(t, f.alice, f.bob)

	f.now = startTime.Add(time.Minute)
	for _, user := range []int64{f.alice, f.bob} {
		if _, err := f.svc.SubmitAnswer(ctx, f.quizID, f.q1, user, f.q1Right); err != nil {
			t.Fatalf("q1 submit: %v", err)
		}
		if _, err := f.svc.SubmitAnswer(ctx, f.quizID, f.q2, user, f.q2Right); err != nil {
			t.Fatalf("q2 submit: %v", err)
		}
	}

	f.now = startTime.Add(time.Hour)
	if _, err := f.svc.Finalize(ctx, f.quizID, f.creator); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	rows, err := f.svc.Standings(ctx, f.quizID, f.alice)
	if err != nil {
		t.Fatalf("standings: %v", err)
	}
	if rows[0].Place != 1 || rows[1].Place != 1 {
		t.Fatalf("tied participants must share place 1, got %+v", rows)
	}
}

func TestFinalizeGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.register(t, f.alice)

	// Too early.
	f.now = startTime.Add(time.Minute)
	if _, err := f.svc.Finalize(ctx, f.quizID, f.creator); !errors.Is(err, domain.ErrAccessDenied) {
		t.Fatalf("in-progress finalize: expected ErrAccessDenied, got %v", err)
	}

	// Wrong user.
	f.now = startTime.Add(time.Hour)
	if _, err := f.svc.Finalize(ctx, f.quizID, f.alice); !errors.Is(err, domain.ErrAccessDenied) {
		t.Fatalf("non-creator finalize: expected ErrAccessDenied, got %v", err)
	}

	if _, err := f.svc.Finalize(ctx, f.quizID, f.creator); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	rowsBefore, _ := f.svc.Standings(ctx, f.quizID, f.alice)

	// Second finalize is rejected and changes nothing.
	if _, err := f.svc.Finalize(ctx, f.quizID, f.creator); !errors.Is(err, domain.ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
	rowsAfter, _ := f.svc.Standings(ctx, f.quizID, f.alice)
	if len(rowsBefore) != len(rowsAfter) || rowsBefore[0] != rowsAfter[0] {
		t.Fatalf("repeat finalize must not change standings: %+v vs %+v", rowsBefore, rowsAfter)
	}
	if got := f.store.UserRating(f.alice); got != 1500 {
		t.Fatalf("rating must be committed exactly once, got %d", got)
	}
}

func TestFinalizeWithoutParticipants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	f.now = startTime.Add(time.Hour)
	places, err := f.svc.Finalize(ctx, f.quizID, f.creator)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if places != 0 {
		t.Fatalf("expected 0 places, got %d", places)
	}
	quiz, _ := f.store.LoadQuiz(ctx, f.quizID)
	if !quiz.IsEnded {
		t.Fatal("empty quiz must still be marked ended")
	}
}

func TestPrivateRatedQuizNeverMovesRatings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(q *domain.Quiz) { q.IsPrivate = true })
	f.register(t, f.alice)

	f.now = startTime.Add(time.Minute)
	if _, err := f.svc.SubmitAnswer(ctx, f.quizID, f.q1, f.alice, f.q1Right); err != nil {
		t.Fatalf("submit: %v", err)
	}
	results, _ := f.store.ResultsByQuiz(ctx, f.quizID)
	if results[0].Solved != 1 || results[0].RatingAfter != 1500 {
		t.Fatalf("private quiz counts solved but not rating, got %+v", results[0])
	}

	f.now = startTime.Add(time.Hour)
	if _, err := f.svc.Finalize(ctx, f.quizID, f.creator); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if got := f.store.UserRating(f.alice); got != 1500 {
		t.Fatalf("private quiz must leave live rating alone, got %d", got)
	}
}

func TestRegistration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	// Registering twice is a no-op.
	f.register(t, f.alice, f.alice)
	results, _ := f.store.ResultsByQuiz(ctx, f.quizID)
	if len(results) != 1 {
		t.Fatalf("expected one registration row, got %d", len(results))
	}
	if results[0].RatingBefore != 1500 || results[0].RatingAfter != 1500 {
		t.Fatalf("registration must snapshot the rating, got %+v", results[0])
	}

	// Mid-run registration still works; post-run does not.
	f.now = startTime.Add(time.Minute)
	f.register(t, f.bob)
	f.now = startTime.Add(time.Hour)
	late := f.store.SeedUser("dave", 1200)
	f.store.SeedMembership(f.orgID, late, domain.RoleMember)
	if err := f.svc.Register(ctx, f.quizID, late); !errors.Is(err, domain.ErrRegistrationClosed) {
		t.Fatalf("expected ErrRegistrationClosed, got %v", err)
	}
}

func TestQuestionsHideCorrectVariants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.register(t, f.alice)

	f.now = startTime.Add(time.Minute)
	questions, err := f.svc.Questions(ctx, f.quizID, f.alice)
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}
	for _, question := range questions {
		for _, variant := range question.Variants {
			if variant.IsCorrect {
				t.Fatalf("correctness flag leaked on %+v", variant)
			}
		}
	}
}

func TestSubscribeReceivesScoreUpdates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.register(t, f.alice)

	f.now = startTime.Add(time.Minute)
	updates, cancel, err := f.svc.Subscribe(ctx, f.quizID, f.alice)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()
	<-updates // initial snapshot

	if _, err := f.svc.SubmitAnswer(ctx, f.quizID, f.q1, f.alice, f.q1Right); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case rows := <-updates:
		if len(rows) != 1 || rows[0].Solved != 1 {
			t.Fatalf("expected updated snapshot, got %+v", rows)
		}
	case <-time.After(time.Second):
		t.Fatal("no standings update received")
	}
}

func TestPhaseVisibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(q *domain.Quiz) { q.IsPrivate = true })
	outsider := f.store.SeedUser("mallory", 1000)

	f.now = startTime.Add(time.Minute)
	phase, err := f.svc.Phase(ctx, f.quizID, f.alice)
	if err != nil || phase != domain.PhaseInProgress {
		t.Fatalf("member phase: %v %v", phase, err)
	}
	// Hidden quizzes look absent rather than forbidden.
	if _, err := f.svc.Phase(ctx, f.quizID, outsider); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
}
