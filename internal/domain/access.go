package domain

// Access predicates. All of them are pure: callers pass snapshots (quiz
// flags, the user's membership role if any, registration state, phase) and
// no predicate ever reads storage or errors out.

// CanAccessOrganization reports whether the user may see the organization:
// it is public, or the user is a real member of it.
func CanAccessOrganization(org Organization, role Role, isMember bool) bool {
	return !org.IsPrivate || (isMember && role.Grants())
}

// CanAccessQuiz reports whether the user may see the quiz at all.
// Unpublished quizzes are visible only to organizer admins; private quizzes
// require membership in the organizer.
func CanAccessQuiz(q Quiz, role Role, isMember bool) bool {
	if !q.IsPublished {
		return isMember && role.GrantsAdmin()
	}
	if !q.IsPrivate {
		return true
	}
	return isMember && role.Grants()
}

// CanParticipate reports whether the user may see questions and submit
// answers at the given phase. Before the start nobody may; during the run
// only registered participants may; once finished anyone with quiz access
// may review.
func CanParticipate(q Quiz, phase Phase, registered bool, role Role, isMember bool) bool {
	switch phase {
	case PhaseInProgress:
		return registered
	case PhaseFinished:
		return CanAccessQuiz(q, role, isMember)
	}
	return false
}

// CanFinalize reports whether the user may commit final results: creator
// only, after the run window, and only once.
func CanFinalize(q Quiz, phase Phase, userID int64) bool {
	return q.CreatorID != 0 && q.CreatorID == userID && phase == PhaseFinished && !q.IsEnded
}

// IsOrgAdmin reports whether the user administers the organization.
func IsOrgAdmin(role Role, isMember bool) bool {
	return isMember && role.GrantsAdmin()
}
