package attendance

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable class of an engine error.
type Kind string

const (
	KindSessionNotOpen   Kind = "session_not_open"
	KindInvalidState     Kind = "invalid_state"
	KindInvalidToken     Kind = "invalid_token"
	KindOutOfRange       Kind = "out_of_range"
	KindLowConfidence    Kind = "low_confidence"
	KindIdentityMismatch Kind = "identity_mismatch"
	KindDuplicateCheckIn Kind = "duplicate_check_in"
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindForbidden        Kind = "forbidden"
)

// Error is an expected, caller-facing engine outcome.
type Error struct {
	Kind    Kind
	Message string
	Detail  map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is.
var (
	ErrSessionNotOpen   = &Error{Kind: KindSessionNotOpen, Message: "session is not open"}
	ErrInvalidState     = &Error{Kind: KindInvalidState, Message: "invalid session state"}
	ErrInvalidToken     = &Error{Kind: KindInvalidToken, Message: "invalid check-in token"}
	ErrOutOfRange       = &Error{Kind: KindOutOfRange, Message: "location out of range"}
	ErrLowConfidence    = &Error{Kind: KindLowConfidence, Message: "face match confidence too low"}
	ErrIdentityMismatch = &Error{Kind: KindIdentityMismatch, Message: "face does not match participant"}
	ErrDuplicateCheckIn = &Error{Kind: KindDuplicateCheckIn, Message: "already checked in"}
	ErrValidation       = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrNotFound         = &Error{Kind: KindNotFound, Message: "not found"}
	ErrForbidden        = &Error{Kind: KindForbidden, Message: "not authorized"}
)

// ErrTransient marks storage failures that may succeed on retry
// (serialization failures, deadlocks).
var ErrTransient = errors.New("transient storage failure")

// TokenFailure explains why a token did not validate.
type TokenFailure string

const (
	TokenNotFound       TokenFailure = "not-found"
	TokenSuperseded     TokenFailure = "superseded"
	TokenExpired        TokenFailure = "expired"
	TokenSessionNotOpen TokenFailure = "session-not-open"
)

// KindOf returns the kind of an engine error, if err is one.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func sessionNotOpen(id string, status SessionStatus) error {
	return &Error{
		Kind:    KindSessionNotOpen,
		Message: fmt.Sprintf("session is %s", status),
		Detail:  map[string]any{"session_id": id, "status": status},
	}
}

func invalidState(id string, status SessionStatus, op string) error {
	return &Error{
		Kind:    KindInvalidState,
		Message: fmt.Sprintf("cannot %s a %s session", op, status),
		Detail:  map[string]any{"session_id": id, "status": status, "operation": op},
	}
}

func invalidToken(reason TokenFailure) error {
	return &Error{
		Kind:    KindInvalidToken,
		Message: "check-in token " + string(reason),
		Detail:  map[string]any{"reason": reason},
	}
}

func outOfRange(distance, radius float64, reason string) error {
	return &Error{
		Kind:    KindOutOfRange,
		Message: fmt.Sprintf("location is %.0fm away (max allowed: %.0fm)", distance, radius),
		Detail:  map[string]any{"distance": distance, "radius": radius, "reason": reason},
	}
}

func lowConfidence(confidence, min float64) error {
	return &Error{
		Kind:    KindLowConfidence,
		Message: fmt.Sprintf("confidence %.2f below required %.2f", confidence, min),
		Detail:  map[string]any{"confidence": confidence, "min_confidence": min},
	}
}

func identityMismatch(participantID, subjectID string) error {
	return &Error{
		Kind:    KindIdentityMismatch,
		Message: "matched subject does not match participant",
		Detail:  map[string]any{"participant_id": participantID, "matched_subject_id": subjectID},
	}
}

func duplicateCheckIn(sessionID, participantID string) error {
	return &Error{
		Kind:    KindDuplicateCheckIn,
		Message: "participant already checked in",
		Detail:  map[string]any{"session_id": sessionID, "participant_id": participantID},
	}
}

func validation(msg string, detail map[string]any) error {
	return &Error{Kind: KindValidation, Message: msg, Detail: detail}
}

func notFound(what, id string) error {
	return &Error{
		Kind:    KindNotFound,
		Message: what + " not found",
		Detail:  map[string]any{what + "_id": id},
	}
}

func forbidden(msg string) error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func statusUnchanged(st Status) error {
	return &Error{
		Kind:    KindValidation,
		Message: "record already has status " + string(st),
		Detail:  map[string]any{"status": st},
	}
}
