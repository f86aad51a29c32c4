package attendance

import (
	"time"

	"classcheckin/internal/geofence"
)

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionOpen      SessionStatus = "open"
	SessionClosed    SessionStatus = "closed"
	SessionCancelled SessionStatus = "cancelled"
)

// Status is the attendance outcome recorded for a participant.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
	StatusExcused Status = "excused"
)

// Valid returns true when the status is a supported value.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate, StatusExcused:
		return true
	default:
		return false
	}
}

// Attended reports whether the status counts toward the attendance rate.
func (s Status) Attended() bool {
	return s == StatusPresent || s == StatusLate
}

// Channel is the verification method behind a check-in.
type Channel string

const (
	ChannelManual    Channel = "manual"
	ChannelToken     Channel = "token"
	ChannelLocation  Channel = "location"
	ChannelFaceMatch Channel = "face-match"
	ChannelSystem    Channel = "system"
)

// Channels lists the verification methods a session accepts.
type Channels struct {
	Manual   bool `json:"manual"`
	Token    bool `json:"token"`
	Face     bool `json:"face"`
	Location bool `json:"location"`
}

// Enabled reports whether the channel is accepted.
func (c Channels) Enabled(ch Channel) bool {
	switch ch {
	case ChannelManual:
		return c.Manual
	case ChannelToken:
		return c.Token
	case ChannelFaceMatch:
		return c.Face
	case ChannelLocation:
		return c.Location
	default:
		return false
	}
}

// Any reports whether at least one channel is enabled.
func (c Channels) Any() bool {
	return c.Manual || c.Token || c.Face || c.Location
}

// Geofence is the circular area around a session's room.
type Geofence struct {
	Latitude     float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude    float64 `json:"longitude" validate:"min=-180,max=180"`
	RadiusMeters float64 `json:"radius_meters" validate:"min=10,max=1000"`
}

// Center returns the fence center as a geofence.Point.
func (g Geofence) Center() geofence.Point {
	return geofence.Point{Latitude: g.Latitude, Longitude: g.Longitude}
}

// Counters are the per-status buckets of a session.
type Counters struct {
	Present int `json:"present"`
	Absent  int `json:"absent"`
	Late    int `json:"late"`
	Excused int `json:"excused"`
}

// Sum returns the number of participants accounted for.
func (c Counters) Sum() int {
	return c.Present + c.Absent + c.Late + c.Excused
}

// Add moves n into the bucket for st. Unknown statuses are ignored.
func (c *Counters) Add(st Status, n int) {
	switch st {
	case StatusPresent:
		c.Present += n
	case StatusAbsent:
		c.Absent += n
	case StatusLate:
		c.Late += n
	case StatusExcused:
		c.Excused += n
	}
}

// Token is the scan credential owned by one session. Only the most recently
// issued token of a session is active.
type Token struct {
	ID        string    `json:"-"`
	SessionID string    `json:"session_id"`
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Active    bool      `json:"active"`
	IssuedBy  string    `json:"issued_by,omitempty"`
}

// Session is a single scheduled occurrence of a class.
type Session struct {
	ID                   string        `json:"id"`
	CourseID             string        `json:"course_id"`
	ClassID              string        `json:"class_id"`
	LecturerID           string        `json:"lecturer_id"`
	StartAt              time.Time     `json:"start_at"`
	EndAt                time.Time     `json:"end_at"`
	OpenedAt             time.Time     `json:"opened_at"`
	Location             string        `json:"location"`
	Channels             Channels      `json:"channels"`
	Geofence             *Geofence     `json:"geofence,omitempty"`
	LateThresholdMinutes int           `json:"late_threshold_minutes"`
	AutoClose            bool          `json:"auto_close"`
	Status               SessionStatus `json:"status"`
	Token                *Token        `json:"token,omitempty"`
	Counters             Counters      `json:"counters"`
	TotalParticipants    int           `json:"total_participants"`

	ClosedBy     string     `json:"closed_by,omitempty"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	AutoClosed   bool       `json:"auto_closed,omitempty"`
	CancelledBy  string     `json:"cancelled_by,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// ManagedBy reports whether the actor holds session-management authority.
func (s Session) ManagedBy(a Actor) bool {
	switch a.Role {
	case RoleAdmin, RoleSystem:
		return true
	case RoleLecturer:
		return a.ID != "" && a.ID == s.LecturerID
	default:
		return false
	}
}

// VisibleTo returns the session as the actor may see it. The active token
// code is a scan secret, so only session authority receives it.
func (s Session) VisibleTo(a Actor) Session {
	if !s.ManagedBy(a) {
		s.Token = nil
	}
	return s
}

// overdue reports whether an auto-close session has passed its window.
func (s Session) overdue(now time.Time, grace time.Duration) bool {
	return s.Status == SessionOpen && s.AutoClose && now.After(s.EndAt.Add(grace))
}

// TokenEvidence is the snapshot of the scanned token.
type TokenEvidence struct {
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	ScannedAt time.Time `json:"scanned_at"`
}

// LocationEvidence is the device fix and its computed distance to the fence center.
type LocationEvidence struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Distance  float64  `json:"distance"`
}

// FaceEvidence is the face-match collaborator's verdict.
type FaceEvidence struct {
	Confidence       float64 `json:"confidence"`
	MatchedSubjectID string  `json:"matched_subject_id"`
	RawScore         float64 `json:"raw_score,omitempty"`
	Distance         float64 `json:"distance,omitempty"`
	ImageURL         string  `json:"image_url,omitempty"`
	Live             *bool   `json:"live,omitempty"`
}

// ManualEvidence records who entered a manual mark.
type ManualEvidence struct {
	ActorID string `json:"actor_id"`
	Notes   string `json:"notes,omitempty"`
}

// Evidence holds exactly one channel-specific snapshot.
type Evidence struct {
	Token    *TokenEvidence    `json:"token,omitempty"`
	Location *LocationEvidence `json:"location,omitempty"`
	Face     *FaceEvidence     `json:"face,omitempty"`
	Manual   *ManualEvidence   `json:"manual,omitempty"`
}

// Override is the audit trail of an administrative correction.
type Override struct {
	By             string    `json:"by"`
	At             time.Time `json:"at"`
	Reason         string    `json:"reason"`
	PreviousStatus Status    `json:"previous_status,omitempty"`
}

// Record is the single attendance record of a participant in a session.
type Record struct {
	ID            string     `json:"id"`
	SessionID     string     `json:"session_id"`
	ParticipantID string     `json:"participant_id"`
	Status        Status     `json:"status"`
	CheckedInAt   *time.Time `json:"checked_in_at,omitempty"`
	Channel       Channel    `json:"channel"`
	LateMinutes   int        `json:"late_minutes"`
	Evidence      Evidence   `json:"evidence"`
	Override      *Override  `json:"override,omitempty"`

	Verified         bool       `json:"verified"`
	VerifiedBy       string     `json:"verified_by,omitempty"`
	VerifiedAt       *time.Time `json:"verified_at,omitempty"`
	Suspicious       bool       `json:"suspicious"`
	SuspiciousReason string     `json:"suspicious_reason,omitempty"`

	// Snapshot of the owning session for filtering without a join.
	CourseID     string    `json:"course_id"`
	ClassID      string    `json:"class_id"`
	SessionStart time.Time `json:"session_start"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckedIn reports whether the participant has already been admitted.
func (r Record) CheckedIn() bool {
	return r.CheckedInAt != nil
}

// Role is the authority an actor holds.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleLecturer Role = "lecturer"
	RoleStudent  Role = "student"
	RoleSystem   Role = "system"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// systemActor performs lazy and swept auto-closes.
var systemActor = Actor{ID: "system", Role: RoleSystem}
