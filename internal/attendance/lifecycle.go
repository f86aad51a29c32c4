package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// NewSession is the input for opening a session.
type NewSession struct {
	CourseID             string    `json:"course_id" validate:"required"`
	ClassID              string    `json:"class_id" validate:"required"`
	LecturerID           string    `json:"lecturer_id"`
	StartAt              time.Time `json:"start_at" validate:"required"`
	EndAt                time.Time `json:"end_at" validate:"required,gtfield=StartAt"`
	Location             string    `json:"location" validate:"required,max=100"`
	Channels             Channels  `json:"channels"`
	Geofence             *Geofence `json:"geofence"`
	LateThresholdMinutes *int      `json:"late_threshold_minutes" validate:"omitempty,min=0,max=60"`
	AutoClose            *bool     `json:"auto_close"`
	Roster               []string  `json:"roster" validate:"required,min=1,dive,required"`
}

// OpenSession creates an open session with its roster. When the token channel
// is enabled the first token is issued right away.
func (s *Service) OpenSession(ctx context.Context, actor Actor, in NewSession) (Session, error) {
	switch actor.Role {
	case RoleAdmin:
	case RoleLecturer:
		if in.LecturerID == "" {
			in.LecturerID = actor.ID
		}
		if in.LecturerID != actor.ID {
			return Session{}, forbidden("lecturers may only open their own sessions")
		}
	default:
		return Session{}, forbidden("opening a session requires lecturer or admin role")
	}

	cfg, err := s.settings.Settings(ctx)
	if err != nil {
		return Session{}, err
	}

	in.Location = strings.ToUpper(strings.TrimSpace(in.Location))
	if in.LateThresholdMinutes == nil {
		v := cfg.LateThresholdMinutes
		in.LateThresholdMinutes = &v
	}
	if in.Geofence != nil && in.Geofence.RadiusMeters == 0 {
		g := *in.Geofence
		g.RadiusMeters = cfg.GeofenceRadiusMeters
		in.Geofence = &g
	}
	if err := s.validate.StructCtx(ctx, in); err != nil {
		return Session{}, validationFrom(err)
	}
	if in.LecturerID == "" {
		return Session{}, validation("lecturer_id required", nil)
	}
	if !in.Channels.Any() {
		return Session{}, validation("at least one channel must be enabled", nil)
	}
	if in.Channels.Location && in.Geofence == nil {
		return Session{}, validation("location channel requires a geofence", nil)
	}
	roster, err := normalizeRoster(in.Roster)
	if err != nil {
		return Session{}, err
	}

	now := s.now()
	autoClose := true
	if in.AutoClose != nil {
		autoClose = *in.AutoClose
	}
	sess := Session{
		ID:                   uuid.NewString(),
		CourseID:             in.CourseID,
		ClassID:              in.ClassID,
		LecturerID:           in.LecturerID,
		StartAt:              in.StartAt.UTC(),
		EndAt:                in.EndAt.UTC(),
		OpenedAt:             now,
		Location:             in.Location,
		Channels:             in.Channels,
		Geofence:             in.Geofence,
		LateThresholdMinutes: *in.LateThresholdMinutes,
		AutoClose:            autoClose,
		Status:               SessionOpen,
		TotalParticipants:    len(roster),
		CreatedAt:            now,
	}
	if err := s.store.CreateSession(ctx, sess, roster); err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	s.observer.ObserveTransition(SessionOpen)
	log.Printf("session opened id=%s course=%s class=%s participants=%d", sess.ID, sess.CourseID, sess.ClassID, len(roster))

	if sess.Channels.Token {
		tok, err := s.IssueToken(ctx, actor, sess.ID, 0)
		if err != nil {
			return Session{}, err
		}
		sess.Token = &tok.Token
	}
	return sess, nil
}

func normalizeRoster(in []string) ([]string, error) {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, validation("roster contains an empty participant id", nil)
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

// validationFrom converts validator errors into a validation error listing
// the failing fields.
func validationFrom(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return validation(err.Error(), nil)
	}
	fields := make([]map[string]any, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, map[string]any{
			"field": fe.Namespace(),
			"tag":   fe.Tag(),
			"param": fe.Param(),
		})
	}
	return validation("invalid session", map[string]any{"fields": fields})
}

// Session returns a session, closing it first when it has passed its
// auto-close window.
func (s *Service) Session(ctx context.Context, id string) (Session, error) {
	cfg, err := s.settings.Settings(ctx)
	if err != nil {
		return Session{}, err
	}
	return s.loadSession(ctx, id, cfg)
}

func (s *Service) loadSession(ctx context.Context, id string, cfg Settings) (Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !sess.overdue(s.now(), cfg.AutoCloseGrace) {
		return sess, nil
	}
	closed, err := s.close(ctx, sess, systemActor, true)
	if errors.Is(err, ErrInvalidState) {
		// Someone else finished the session first.
		return s.store.GetSession(ctx, id)
	}
	return closed, err
}

// SessionFor returns a session the actor may read: session authority or a
// roster member. Token codes are withheld from non-managers.
func (s *Service) SessionFor(ctx context.Context, actor Actor, id string) (Session, error) {
	sess, err := s.Session(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if err := s.authorizeRead(ctx, sess, actor); err != nil {
		return Session{}, err
	}
	return sess.VisibleTo(actor), nil
}

func (s *Service) authorizeRead(ctx context.Context, sess Session, actor Actor) error {
	if sess.ManagedBy(actor) {
		return nil
	}
	if actor.Role == RoleStudent {
		on, err := s.store.OnRoster(ctx, sess.ID, actor.ID)
		if err != nil {
			return err
		}
		if on {
			return nil
		}
	}
	return forbidden("session not visible to actor")
}

// scopeSessions narrows f to what the actor may list. Lecturers see their
// own sessions and students the sessions whose roster lists them.
func scopeSessions(actor Actor, f *SessionFilter) error {
	switch actor.Role {
	case RoleAdmin, RoleSystem:
	case RoleLecturer:
		f.LecturerID = actor.ID
	case RoleStudent:
		f.ParticipantID = actor.ID
	default:
		return forbidden("unknown role")
	}
	return nil
}

// ListSessions returns the sessions matching f that the actor may see.
func (s *Service) ListSessions(ctx context.Context, actor Actor, f SessionFilter) ([]Session, error) {
	if err := scopeSessions(actor, &f); err != nil {
		return nil, err
	}
	sessions, err := s.store.ListSessions(ctx, f)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i] = sessions[i].VisibleTo(actor)
	}
	return sessions, nil
}

// Records returns the records of a session. Session authority sees every
// record, a roster member only their own.
func (s *Service) Records(ctx context.Context, actor Actor, sessionID string) ([]Record, error) {
	sess, err := s.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(ctx, sess, actor); err != nil {
		return nil, err
	}
	records, err := s.store.ListRecords(ctx, sessionID)
	if err != nil || sess.ManagedBy(actor) {
		return records, err
	}
	own := records[:0]
	for _, r := range records {
		if r.ParticipantID == actor.ID {
			own = append(own, r)
		}
	}
	return own, nil
}

// CloseSession ends an open session. Roster members without a record are
// marked absent and the counters are finalized.
func (s *Service) CloseSession(ctx context.Context, actor Actor, id string) (Session, error) {
	sess, err := s.Session(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !sess.ManagedBy(actor) {
		return Session{}, forbidden("closing requires session authority")
	}
	if sess.Status != SessionOpen {
		return Session{}, invalidState(sess.ID, sess.Status, "close")
	}
	return s.close(ctx, sess, actor, false)
}

func (s *Service) close(ctx context.Context, sess Session, actor Actor, auto bool) (Session, error) {
	closed, err := s.store.CloseSession(ctx, CloseCommand{SessionID: sess.ID, By: actor.ID, At: s.now(), Auto: auto})
	if err != nil {
		return Session{}, err
	}
	s.observer.ObserveTransition(SessionClosed)
	log.Printf("session closed id=%s by=%s auto=%t present=%d late=%d absent=%d excused=%d",
		closed.ID, actor.ID, auto, closed.Counters.Present, closed.Counters.Late, closed.Counters.Absent, closed.Counters.Excused)

	stats := SummarizeSession(closed)
	s.emit(ctx, Event{
		Kind:      EventSessionClosed,
		SessionID: closed.ID,
		Payload: map[string]any{
			"closed_by":       actor.ID,
			"auto":            auto,
			"counters":        closed.Counters,
			"attendance_rate": stats.Rate,
		},
	})
	return closed, nil
}

// CancelSession voids an open session. Existing records are kept, no absences
// are inferred and the session drops out of rate denominators.
func (s *Service) CancelSession(ctx context.Context, actor Actor, id, reason string) (Session, error) {
	sess, err := s.Session(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !sess.ManagedBy(actor) {
		return Session{}, forbidden("cancelling requires session authority")
	}
	if sess.Status != SessionOpen {
		return Session{}, invalidState(sess.ID, sess.Status, "cancel")
	}
	cancelled, err := s.store.CancelSession(ctx, CancelCommand{
		SessionID: sess.ID,
		By:        actor.ID,
		At:        s.now(),
		Reason:    strings.TrimSpace(reason),
	})
	if err != nil {
		return Session{}, err
	}
	s.observer.ObserveTransition(SessionCancelled)
	log.Printf("session cancelled id=%s by=%s", cancelled.ID, actor.ID)
	s.emit(ctx, Event{
		Kind:      EventSessionCancelled,
		SessionID: cancelled.ID,
		Payload:   map[string]any{"cancelled_by": actor.ID, "reason": cancelled.CancelReason},
	})
	return cancelled, nil
}

// SweepOverdue closes every auto-close session past its window. It returns
// the number of sessions this call closed.
func (s *Service) SweepOverdue(ctx context.Context) (int, error) {
	cfg, err := s.settings.Settings(ctx)
	if err != nil {
		return 0, err
	}
	overdue, err := s.store.OverdueSessions(ctx, s.now().Add(-cfg.AutoCloseGrace))
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, sess := range overdue {
		if ctx.Err() != nil {
			return closed, ctx.Err()
		}
		if _, err := s.close(ctx, sess, systemActor, true); err != nil {
			if errors.Is(err, ErrInvalidState) {
				continue
			}
			return closed, err
		}
		closed++
	}
	return closed, nil
}

// RunSweeper calls SweepOverdue every interval until ctx is done. Sweep
// failures are logged and retried on the next tick.
func (s *Service) RunSweeper(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		return errors.New("sweep interval must be positive")
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.SweepOverdue(ctx)
			if err != nil && ctx.Err() == nil {
				log.Printf("auto-close sweep failed after %d sessions: %v", n, err)
				continue
			}
			if n > 0 {
				log.Printf("auto-close sweep closed %d sessions", n)
			}
		}
	}
}
