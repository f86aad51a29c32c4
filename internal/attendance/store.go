package attendance

import (
	"context"
	"time"
)

// SessionFilter narrows session listings. Zero values match everything.
type SessionFilter struct {
	CourseID   string
	ClassID    string
	LecturerID string
	// ParticipantID keeps sessions whose roster lists the participant.
	ParticipantID string
	Status        SessionStatus
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}

// RecordFilter narrows participant record queries. Records of cancelled
// sessions are never returned.
type RecordFilter struct {
	ParticipantID string
	CourseID      string
	ClassID       string
	From          *time.Time
	To            *time.Time
}

// CloseCommand describes a close transition.
type CloseCommand struct {
	SessionID string
	By        string
	At        time.Time
	Auto      bool
}

// CancelCommand describes a cancel transition.
type CancelCommand struct {
	SessionID string
	By        string
	At        time.Time
	Reason    string
}

// Store is the durable state behind the engine. Implementations guarantee:
//   - at most one record per (session, participant);
//   - session counters change in the same atomic step as the record they count;
//   - close and cancel succeed only from the open state;
//   - at most one active token per session.
type Store interface {
	CreateSession(ctx context.Context, s Session, roster []string) error
	// GetSession returns the session with its active token, or a not-found error.
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context, f SessionFilter) ([]Session, error)
	// OverdueSessions returns open auto-close sessions whose end is before cutoff.
	OverdueSessions(ctx context.Context, cutoff time.Time) ([]Session, error)
	OnRoster(ctx context.Context, sessionID, participantID string) (bool, error)

	// CloseSession moves an open session to closed, writes absent records for
	// roster members without one and recounts the session from its records.
	CloseSession(ctx context.Context, cmd CloseCommand) (Session, error)
	// CancelSession moves an open session to cancelled without touching records.
	CancelSession(ctx context.Context, cmd CancelCommand) (Session, error)

	// IssueToken deactivates the session's active token and stores tok as the
	// new active one. Fails with session-not-open unless the session is open.
	IssueToken(ctx context.Context, tok Token) (Token, error)
	DeactivateToken(ctx context.Context, sessionID string) error
	FindToken(ctx context.Context, sessionID, code string) (Token, error)

	GetRecord(ctx context.Context, sessionID, participantID string) (Record, error)
	ListRecords(ctx context.Context, sessionID string) ([]Record, error)
	QueryRecords(ctx context.Context, f RecordFilter) ([]Record, error)

	// CommitCheckIn inserts rec, or fills a placeholder that has not been
	// checked in, and bumps the session counters while the session is open.
	CommitCheckIn(ctx context.Context, rec Record) (Record, error)
	// OverrideRecord sets rec.Status on the participant's record, creating a
	// placeholder when none exists, and moves the counters accordingly. The
	// returned record carries the previous status in its override trail.
	OverrideRecord(ctx context.Context, rec Record) (Record, error)
	MarkVerified(ctx context.Context, sessionID, participantID, by string, at time.Time) (Record, error)
}
