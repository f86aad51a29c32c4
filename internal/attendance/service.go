package attendance

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"log"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"classcheckin/internal/geofence"
)

// Observer receives engine measurements. The metrics package implements it.
type Observer interface {
	ObserveAdmission(channel Channel, outcome string, elapsed time.Duration)
	ObserveTransition(to SessionStatus)
	ObserveTokenIssued()
}

type nopObserver struct{}

func (nopObserver) ObserveAdmission(Channel, string, time.Duration) {}
func (nopObserver) ObserveTransition(SessionStatus)                 {}
func (nopObserver) ObserveTokenIssued()                             {}

// Service coordinates session lifecycle, tokens, admission and statistics.
type Service struct {
	store    Store
	settings SettingsProvider
	tokens   *TokenManager
	stats    *Aggregator
	events   Publisher
	observer Observer
	validate *validator.Validate
	now      func() time.Time
	retries  uint
}

// Option customizes a Service.
type Option func(*Service)

// WithPublisher sets the event sink.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithObserver sets the metrics sink.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRetries bounds attempts of a conflicting admission commit.
func WithRetries(n uint) Option {
	return func(s *Service) {
		if n > 0 {
			s.retries = n
		}
	}
}

// WithEntropy replaces crypto/rand as the token code source.
func WithEntropy(r io.Reader) Option {
	return func(s *Service) { s.tokens.rand = r }
}

// NewService wires the engine over a store.
func NewService(store Store, settings SettingsProvider, opts ...Option) *Service {
	if settings == nil {
		settings = StaticSettings(DefaultSettings())
	}
	s := &Service{
		store:    store,
		settings: settings,
		events:   discardPublisher{},
		observer: nopObserver{},
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      func() time.Time { return time.Now().UTC() },
		retries:  3,
	}
	s.tokens = &TokenManager{store: store, rand: rand.Reader, now: func() time.Time { return s.now() }}
	s.stats = &Aggregator{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tokens exposes the token manager.
func (s *Service) Tokens() *TokenManager { return s.tokens }

// LocationFix is a device-reported GPS reading.
type LocationFix struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// FaceMatch is the verdict of the face recognition collaborator.
type FaceMatch struct {
	Matched    bool    `json:"matched"`
	SubjectID  string  `json:"subject_id"`
	Confidence float64 `json:"confidence"`
	RawScore   float64 `json:"raw_score,omitempty"`
	Distance   float64 `json:"distance,omitempty"`
	ImageURL   string  `json:"image_url,omitempty"`
	Live       *bool   `json:"live,omitempty"`
}

// CheckInRequest is one admission attempt.
type CheckInRequest struct {
	SessionID     string
	ParticipantID string
	Channel       Channel
	Actor         Actor
	Token         string
	Location      *LocationFix
	Face          *FaceMatch
	Notes         string
}

// CheckInResult is the committed outcome of an admission.
type CheckInResult struct {
	Record      Record   `json:"record"`
	Status      Status   `json:"status"`
	LateMinutes int      `json:"late_minutes"`
	Distance    *float64 `json:"distance,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`
}

// CheckIn admits a participant into an open session through one channel.
func (s *Service) CheckIn(ctx context.Context, req CheckInRequest) (CheckInResult, error) {
	started := time.Now()
	res, err := s.checkIn(ctx, req)
	s.observer.ObserveAdmission(req.Channel, outcome(err), time.Since(started))
	return res, err
}

func outcome(err error) string {
	if err == nil {
		return "admitted"
	}
	if kind, ok := KindOf(err); ok {
		return string(kind)
	}
	return "error"
}

func (s *Service) checkIn(ctx context.Context, req CheckInRequest) (CheckInResult, error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.ParticipantID = strings.TrimSpace(req.ParticipantID)
	if req.SessionID == "" || req.ParticipantID == "" {
		return CheckInResult{}, validation("session_id and participant_id required", nil)
	}
	switch req.Channel {
	case ChannelManual, ChannelToken, ChannelLocation, ChannelFaceMatch:
	default:
		return CheckInResult{}, validation("unsupported channel", map[string]any{"channel": req.Channel})
	}

	cfg, err := s.settings.Settings(ctx)
	if err != nil {
		return CheckInResult{}, err
	}
	sess, err := s.loadSession(ctx, req.SessionID, cfg)
	if err != nil {
		return CheckInResult{}, err
	}
	if sess.Status != SessionOpen {
		return CheckInResult{}, sessionNotOpen(sess.ID, sess.Status)
	}
	if !sess.Channels.Enabled(req.Channel) {
		return CheckInResult{}, validation("channel not enabled for session", map[string]any{"channel": req.Channel})
	}
	if err := authorizeCheckIn(sess, req); err != nil {
		return CheckInResult{}, err
	}
	on, err := s.store.OnRoster(ctx, sess.ID, req.ParticipantID)
	if err != nil {
		return CheckInResult{}, err
	}
	if !on {
		return CheckInResult{}, validation("participant not on session roster", map[string]any{"participant_id": req.ParticipantID})
	}

	now := s.now()
	rec := Record{
		SessionID:     sess.ID,
		ParticipantID: req.ParticipantID,
		Channel:       req.Channel,
		CourseID:      sess.CourseID,
		ClassID:       sess.ClassID,
		SessionStart:  sess.StartAt,
	}
	var result CheckInResult

	switch req.Channel {
	case ChannelToken:
		tok, err := s.tokens.Validate(ctx, sess, req.Token)
		if err != nil {
			return CheckInResult{}, err
		}
		rec.Evidence.Token = &TokenEvidence{Code: tok.Code, IssuedAt: tok.IssuedAt, ExpiresAt: tok.ExpiresAt, ScannedAt: now}

	case ChannelLocation:
		if req.Location == nil {
			return CheckInResult{}, validation("location required", nil)
		}
		if sess.Geofence == nil {
			return CheckInResult{}, validation("session has no geofence", nil)
		}
		fix := geofence.Point{Latitude: req.Location.Latitude, Longitude: req.Location.Longitude}
		res := geofence.Validate(fix, sess.Geofence.Center(), sess.Geofence.RadiusMeters, req.Location.Accuracy)
		switch res.Reason {
		case geofence.ReasonInvalidCoordinates:
			return CheckInResult{}, validation("invalid coordinates", map[string]any{"latitude": fix.Latitude, "longitude": fix.Longitude})
		case geofence.ReasonAccuracyTooLow, geofence.ReasonOutOfRange:
			return CheckInResult{}, outOfRange(res.Distance, res.Radius, string(res.Reason))
		}
		rec.Evidence.Location = &LocationEvidence{
			Latitude:  fix.Latitude,
			Longitude: fix.Longitude,
			Accuracy:  req.Location.Accuracy,
			Distance:  res.Distance,
		}
		d := res.Distance
		result.Distance = &d

	case ChannelFaceMatch:
		f := req.Face
		if f == nil {
			return CheckInResult{}, validation("face match required", nil)
		}
		if !f.Matched || f.Confidence < cfg.MinFaceConfidence {
			return CheckInResult{}, lowConfidence(f.Confidence, cfg.MinFaceConfidence)
		}
		if f.SubjectID != req.ParticipantID {
			return CheckInResult{}, identityMismatch(req.ParticipantID, f.SubjectID)
		}
		rec.Evidence.Face = &FaceEvidence{
			Confidence:       f.Confidence,
			MatchedSubjectID: f.SubjectID,
			RawScore:         f.RawScore,
			Distance:         f.Distance,
			ImageURL:         f.ImageURL,
			Live:             f.Live,
		}
		if f.Live != nil && !*f.Live {
			rec.Suspicious = true
			rec.SuspiciousReason = "liveness check failed"
		}
		c := f.Confidence
		result.Confidence = &c

	case ChannelManual:
		rec.Evidence.Manual = &ManualEvidence{ActorID: req.Actor.ID, Notes: strings.TrimSpace(req.Notes)}
	}

	existing, err := s.store.GetRecord(ctx, sess.ID, req.ParticipantID)
	switch {
	case err == nil && existing.CheckedIn():
		return CheckInResult{}, duplicateCheckIn(sess.ID, req.ParticipantID)
	case err != nil && !errors.Is(err, ErrNotFound):
		return CheckInResult{}, err
	}

	late := LateMinutes(now, sess.StartAt)
	rec.ID = uuid.NewString()
	rec.Status = StatusPresent
	if late > sess.LateThresholdMinutes {
		rec.Status = StatusLate
	}
	rec.LateMinutes = late
	rec.CheckedInAt = &now
	rec.CreatedAt = now
	rec.UpdatedAt = now

	committed, err := s.commit(ctx, rec)
	if err != nil {
		return CheckInResult{}, err
	}

	s.emit(ctx, Event{
		Kind:          EventRecordCreated,
		SessionID:     sess.ID,
		ParticipantID: committed.ParticipantID,
		Payload: map[string]any{
			"status":       committed.Status,
			"channel":      committed.Channel,
			"late_minutes": committed.LateMinutes,
			"suspicious":   committed.Suspicious,
		},
	})

	result.Record = committed
	result.Status = committed.Status
	result.LateMinutes = committed.LateMinutes
	return result, nil
}

// authorizeCheckIn enforces who may admit whom: manual marks need session
// authority, self-service channels need the participant or session authority.
func authorizeCheckIn(sess Session, req CheckInRequest) error {
	if req.Channel == ChannelManual {
		if !sess.ManagedBy(req.Actor) {
			return forbidden("manual check-in requires session authority")
		}
		return nil
	}
	if req.Actor.ID == req.ParticipantID || sess.ManagedBy(req.Actor) {
		return nil
	}
	return forbidden("cannot check in another participant")
}

// commit retries the atomic write while the store reports a transient conflict.
func (s *Service) commit(ctx context.Context, rec Record) (Record, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	attempt := 0
	return backoff.Retry(ctx, func() (Record, error) {
		attempt++
		out, err := s.store.CommitCheckIn(ctx, rec)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, ErrTransient) {
			log.Printf("admission commit conflict session=%s participant=%s attempt=%d: %v", rec.SessionID, rec.ParticipantID, attempt, err)
			return Record{}, err
		}
		return Record{}, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(s.retries))
}

// LateMinutes is the whole number of minutes past start, never negative.
func LateMinutes(now, start time.Time) int {
	m := math.Round(now.Sub(start).Minutes())
	if m < 0 {
		return 0
	}
	return int(m)
}
