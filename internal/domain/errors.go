package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz does not exist or is hidden.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates the question does not belong to the quiz.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrAccessDenied is returned when the user lacks the required role or
	// relationship (private quiz without membership, answering before start,
	// finalizing someone else's quiz).
	ErrAccessDenied = errors.New("access denied")
	// ErrInvalidVariant is returned when the chosen variant does not belong
	// to the question being answered.
	ErrInvalidVariant = errors.New("variant does not belong to question")
	// ErrAlreadyAnswered is returned on a duplicate submission for the same
	// question during an active run.
	ErrAlreadyAnswered = errors.New("question already answered during this run")
	// ErrAlreadyFinalized is returned when results were already made final.
	ErrAlreadyFinalized = errors.New("quiz results already finalized")
	// ErrRegistrationClosed is returned when registering after the run window.
	ErrRegistrationClosed = errors.New("registration closed")
	// ErrStorageConflict marks a transient lock/serialization failure; the
	// service retries these a bounded number of times.
	ErrStorageConflict = errors.New("storage conflict")
)
