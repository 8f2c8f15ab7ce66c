package domain

import "time"

// Role is a user's standing inside an organization. Invited users have not
// accepted yet and hold no access rights until they do.
type Role int

const (
	RoleInvited Role = iota
	RoleMember
	RoleAdmin
	RoleCreator
)

// Grants reports whether the role counts as real membership.
func (r Role) Grants() bool { return r >= RoleMember }

// GrantsAdmin reports whether the role carries admin powers.
func (r Role) GrantsAdmin() bool { return r >= RoleAdmin }

// Organization runs quizzes; private organizations hide their quizzes from
// non-members.
type Organization struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"isPrivate"`
}

// Membership ties a user to an organization with a role.
type Membership struct {
	OrgID  int64 `json:"orgId"`
	UserID int64 `json:"userId"`
	Role   Role  `json:"role"`
}

// Quiz is a timed competition owned by an organization.
type Quiz struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	CreatorID       int64      `json:"creatorId"` // zero when the creator account is gone
	OrganizerID     int64      `json:"organizerId"`
	StartTime       time.Time  `json:"startTime"`
	DurationMinutes int        `json:"durationMinutes"`
	IsRated         bool       `json:"isRated"`
	IsPrivate       bool       `json:"isPrivate"`
	IsEnded         bool       `json:"isEnded"`
	IsPublished     bool       `json:"isPublished"`
	Questions       []Question `json:"questions,omitempty"`
}

// EndTime is the closing instant of the run window; the quiz is already
// finished at exactly this instant.
func (q Quiz) EndTime() time.Time {
	return q.StartTime.Add(time.Duration(q.DurationMinutes) * time.Minute)
}

// Question belongs to exactly one quiz; difficulty doubles as the point value.
type Question struct {
	ID         int64     `json:"id"`
	QuizID     int64     `json:"quizId"`
	Name       string    `json:"name"`
	Text       string    `json:"text"`
	Difficulty int       `json:"difficulty"`
	Tags       []string  `json:"tags,omitempty"`
	Variants   []Variant `json:"variants,omitempty"`
}

// Variant is one selectable answer. Authoring guarantees every question has
// at least two variants and one correct one; the scoring path trusts that.
type Variant struct {
	ID         int64  `json:"id"`
	QuestionID int64  `json:"questionId"`
	Text       string `json:"text"`
	IsCorrect  bool   `json:"isCorrect"`
}

// QuizResult is one participant's run record, unique per (quiz, user).
// Solved and RatingAfter move incrementally during the run; Place stays zero
// until results are finalized.
type QuizResult struct {
	ID           int64  `json:"id"`
	QuizID       int64  `json:"quizId"`
	UserID       int64  `json:"userId"`
	Username     string `json:"username"`
	RatingBefore int    `json:"ratingBefore"`
	RatingAfter  int    `json:"ratingAfter"`
	Solved       int    `json:"solved"`
	Place        int    `json:"place"`
}

// UserAnswer is an append-only audit row; duplicates per (user, question) may
// exist in storage, only the first correct one during the run ever scores.
type UserAnswer struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"userId"`
	QuizID       int64     `json:"quizId"`
	QuestionID   int64     `json:"questionId"`
	IsCorrect    bool      `json:"isCorrect"`
	TimeAnswered time.Time `json:"timeAnswered"`
}

// StandingsRow is the public standings view of a QuizResult.
type StandingsRow struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Solved   int    `json:"solved"`
	Place    int    `json:"place"`
}
