package attendance

import (
	"context"
	"log"
	"strings"

	"github.com/google/uuid"
)

// OverrideRequest corrects a participant's status after the fact.
type OverrideRequest struct {
	SessionID     string `json:"-"`
	ParticipantID string `json:"-"`
	Status        Status `json:"status"`
	Reason        string `json:"reason"`
}

// Override sets a participant's status with an audit trail. Works on open and
// closed sessions. A participant without a record gets a placeholder that a
// later check-in may still fill while the session is open.
func (s *Service) Override(ctx context.Context, actor Actor, req OverrideRequest) (Record, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if !req.Status.Valid() {
		return Record{}, validation("invalid status", map[string]any{"status": req.Status})
	}
	if req.Reason == "" {
		return Record{}, validation("override reason required", nil)
	}

	sess, err := s.Session(ctx, req.SessionID)
	if err != nil {
		return Record{}, err
	}
	if !sess.ManagedBy(actor) {
		return Record{}, forbidden("override requires session authority")
	}
	if sess.Status == SessionCancelled {
		return Record{}, invalidState(sess.ID, sess.Status, "override")
	}
	on, err := s.store.OnRoster(ctx, sess.ID, req.ParticipantID)
	if err != nil {
		return Record{}, err
	}
	if !on {
		return Record{}, validation("participant not on session roster", map[string]any{"participant_id": req.ParticipantID})
	}

	now := s.now()
	rec, err := s.store.OverrideRecord(ctx, Record{
		ID:            uuid.NewString(),
		SessionID:     sess.ID,
		ParticipantID: req.ParticipantID,
		Status:        req.Status,
		Channel:       ChannelSystem,
		Evidence:      Evidence{Manual: &ManualEvidence{ActorID: actor.ID}},
		Override:      &Override{By: actor.ID, At: now, Reason: req.Reason},
		CourseID:      sess.CourseID,
		ClassID:       sess.ClassID,
		SessionStart:  sess.StartAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return Record{}, err
	}

	var previous Status
	if rec.Override != nil {
		previous = rec.Override.PreviousStatus
	}
	log.Printf("record overridden session=%s participant=%s %s->%s by=%s", sess.ID, rec.ParticipantID, previous, rec.Status, actor.ID)
	s.emit(ctx, Event{
		Kind:          EventRecordOverridden,
		SessionID:     sess.ID,
		ParticipantID: rec.ParticipantID,
		Payload: map[string]any{
			"previous_status": previous,
			"status":          rec.Status,
			"reason":          req.Reason,
			"by":              actor.ID,
		},
	})
	return rec, nil
}

// Verify marks a record as reviewed by session authority.
func (s *Service) Verify(ctx context.Context, actor Actor, sessionID, participantID string) (Record, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Record{}, err
	}
	if !sess.ManagedBy(actor) {
		return Record{}, forbidden("verification requires session authority")
	}
	rec, err := s.store.MarkVerified(ctx, sessionID, participantID, actor.ID, s.now())
	if err != nil {
		return Record{}, err
	}
	s.emit(ctx, Event{
		Kind:          EventRecordVerified,
		SessionID:     sessionID,
		ParticipantID: participantID,
		Payload:       map[string]any{"by": actor.ID},
	})
	return rec, nil
}
