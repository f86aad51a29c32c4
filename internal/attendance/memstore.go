package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type recordKey struct {
	session     string
	participant string
}

// MemoryStore keeps all state in process. A single mutex serializes every
// mutation, which gives the same atomicity the Postgres store gets from
// transactions. Used for development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	roster   map[string]map[string]struct{}
	records  map[recordKey]*Record
	tokens   map[string][]Token
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		roster:   make(map[string]map[string]struct{}),
		records:  make(map[recordKey]*Record),
		tokens:   make(map[string][]Token),
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, s Session, roster []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return validation("session already exists", map[string]any{"session_id": s.ID})
	}
	members := make(map[string]struct{}, len(roster))
	for _, p := range roster {
		members[p] = struct{}{}
	}
	s.Token = nil
	s.TotalParticipants = len(members)
	m.sessions[s.ID] = &s
	m.roster[s.ID] = members
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, notFound("session", id)
	}
	return m.view(s), nil
}

// view copies a session and attaches its active token. Caller holds mu.
func (m *MemoryStore) view(s *Session) Session {
	out := *s
	out.Token = nil
	for _, t := range m.tokens[s.ID] {
		if t.Active {
			tok := t
			out.Token = &tok
		}
	}
	return out
}

func (m *MemoryStore) ListSessions(_ context.Context, f SessionFilter) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if !sessionMatches(*s, f) {
			continue
		}
		if f.ParticipantID != "" {
			if _, ok := m.roster[s.ID][f.ParticipantID]; !ok {
				continue
			}
		}
		out = append(out, m.view(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartAt.After(out[j].StartAt)
	})
	return paginate(out, f.Limit, f.Offset), nil
}

func sessionMatches(s Session, f SessionFilter) bool {
	switch {
	case f.CourseID != "" && s.CourseID != f.CourseID:
		return false
	case f.ClassID != "" && s.ClassID != f.ClassID:
		return false
	case f.LecturerID != "" && s.LecturerID != f.LecturerID:
		return false
	case f.Status != "" && s.Status != f.Status:
		return false
	case f.From != nil && s.StartAt.Before(*f.From):
		return false
	case f.To != nil && s.StartAt.After(*f.To):
		return false
	}
	return true
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func (m *MemoryStore) OverdueSessions(_ context.Context, cutoff time.Time) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.Status == SessionOpen && s.AutoClose && s.EndAt.Before(cutoff) {
			out = append(out, m.view(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndAt.Before(out[j].EndAt) })
	return out, nil
}

func (m *MemoryStore) OnRoster(_ context.Context, sessionID, participantID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return false, notFound("session", sessionID)
	}
	_, ok := m.roster[sessionID][participantID]
	return ok, nil
}

func (m *MemoryStore) CloseSession(_ context.Context, cmd CloseCommand) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[cmd.SessionID]
	if !ok {
		return Session{}, notFound("session", cmd.SessionID)
	}
	if s.Status != SessionOpen {
		return Session{}, invalidState(s.ID, s.Status, "close")
	}

	for p := range m.roster[s.ID] {
		key := recordKey{s.ID, p}
		if _, ok := m.records[key]; ok {
			continue
		}
		m.records[key] = &Record{
			ID:            uuid.NewString(),
			SessionID:     s.ID,
			ParticipantID: p,
			Status:        StatusAbsent,
			Channel:       ChannelSystem,
			CourseID:      s.CourseID,
			ClassID:       s.ClassID,
			SessionStart:  s.StartAt,
			CreatedAt:     cmd.At,
			UpdatedAt:     cmd.At,
		}
	}

	var counters Counters
	for key, r := range m.records {
		if key.session == s.ID {
			counters.Add(r.Status, 1)
		}
	}

	at := cmd.At
	s.Status = SessionClosed
	s.ClosedBy = cmd.By
	s.ClosedAt = &at
	s.AutoClosed = cmd.Auto
	s.Counters = counters
	m.deactivate(s.ID)
	return m.view(s), nil
}

func (m *MemoryStore) CancelSession(_ context.Context, cmd CancelCommand) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[cmd.SessionID]
	if !ok {
		return Session{}, notFound("session", cmd.SessionID)
	}
	if s.Status != SessionOpen {
		return Session{}, invalidState(s.ID, s.Status, "cancel")
	}
	at := cmd.At
	s.Status = SessionCancelled
	s.CancelledBy = cmd.By
	s.CancelledAt = &at
	s.CancelReason = cmd.Reason
	m.deactivate(s.ID)
	return m.view(s), nil
}

func (m *MemoryStore) IssueToken(_ context.Context, tok Token) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tok.SessionID]
	if !ok {
		return Token{}, notFound("session", tok.SessionID)
	}
	if s.Status != SessionOpen {
		return Token{}, sessionNotOpen(s.ID, s.Status)
	}
	m.deactivate(s.ID)
	if tok.ID == "" {
		tok.ID = uuid.NewString()
	}
	tok.Active = true
	m.tokens[s.ID] = append(m.tokens[s.ID], tok)
	return tok, nil
}

func (m *MemoryStore) DeactivateToken(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return notFound("session", sessionID)
	}
	m.deactivate(sessionID)
	return nil
}

// deactivate clears the active flag of every token. Caller holds mu.
func (m *MemoryStore) deactivate(sessionID string) {
	toks := m.tokens[sessionID]
	for i := range toks {
		toks[i].Active = false
	}
}

func (m *MemoryStore) FindToken(_ context.Context, sessionID, code string) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens[sessionID] {
		if t.Code == code {
			return t, nil
		}
	}
	return Token{}, notFound("token", code)
}

func (m *MemoryStore) GetRecord(_ context.Context, sessionID, participantID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[recordKey{sessionID, participantID}]
	if !ok {
		return Record{}, notFound("record", participantID)
	}
	return *r, nil
}

func (m *MemoryStore) ListRecords(_ context.Context, sessionID string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, notFound("session", sessionID)
	}
	var out []Record
	for key, r := range m.records {
		if key.session == sessionID {
			out = append(out, *r)
		}
	}
	sortRecords(out)
	return out, nil
}

func (m *MemoryStore) QueryRecords(_ context.Context, f RecordFilter) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.records {
		if s, ok := m.sessions[r.SessionID]; !ok || s.Status == SessionCancelled {
			continue
		}
		switch {
		case f.ParticipantID != "" && r.ParticipantID != f.ParticipantID:
			continue
		case f.CourseID != "" && r.CourseID != f.CourseID:
			continue
		case f.ClassID != "" && r.ClassID != f.ClassID:
			continue
		case f.From != nil && r.SessionStart.Before(*f.From):
			continue
		case f.To != nil && r.SessionStart.After(*f.To):
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SessionStart.Equal(out[j].SessionStart) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].SessionStart.Before(out[j].SessionStart)
	})
	return out, nil
}

func sortRecords(rs []Record) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].ParticipantID < rs[j].ParticipantID
		}
		return rs[i].CreatedAt.Before(rs[j].CreatedAt)
	})
}

func (m *MemoryStore) CommitCheckIn(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[rec.SessionID]
	if !ok {
		return Record{}, notFound("session", rec.SessionID)
	}
	if s.Status != SessionOpen {
		return Record{}, sessionNotOpen(s.ID, s.Status)
	}

	key := recordKey{rec.SessionID, rec.ParticipantID}
	existing, ok := m.records[key]
	if !ok {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		stored := rec
		m.records[key] = &stored
		s.Counters.Add(rec.Status, 1)
		return rec, nil
	}
	if existing.CheckedIn() {
		return Record{}, duplicateCheckIn(rec.SessionID, rec.ParticipantID)
	}

	// Fill the placeholder, keeping its identity and override trail.
	prev := existing.Status
	rec.ID = existing.ID
	rec.Override = existing.Override
	rec.CreatedAt = existing.CreatedAt
	stored := rec
	m.records[key] = &stored
	s.Counters.Add(prev, -1)
	s.Counters.Add(rec.Status, 1)
	return rec, nil
}

func (m *MemoryStore) OverrideRecord(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[rec.SessionID]
	if !ok {
		return Record{}, notFound("session", rec.SessionID)
	}
	if s.Status == SessionCancelled {
		return Record{}, invalidState(s.ID, s.Status, "override")
	}
	if rec.Override == nil {
		return Record{}, validation("override trail required", nil)
	}

	key := recordKey{rec.SessionID, rec.ParticipantID}
	existing, ok := m.records[key]
	if !ok {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		stored := rec
		m.records[key] = &stored
		s.Counters.Add(rec.Status, 1)
		return rec, nil
	}
	if existing.Status == rec.Status {
		return Record{}, statusUnchanged(rec.Status)
	}

	out := *existing
	ov := *rec.Override
	ov.PreviousStatus = existing.Status
	out.Status = rec.Status
	out.Override = &ov
	out.UpdatedAt = rec.UpdatedAt
	m.records[key] = &out
	s.Counters.Add(existing.Status, -1)
	s.Counters.Add(rec.Status, 1)
	return out, nil
}

func (m *MemoryStore) MarkVerified(_ context.Context, sessionID, participantID, by string, at time.Time) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey{sessionID, participantID}
	existing, ok := m.records[key]
	if !ok {
		return Record{}, notFound("record", participantID)
	}
	out := *existing
	ts := at
	out.Verified = true
	out.VerifiedBy = by
	out.VerifiedAt = &ts
	out.UpdatedAt = at
	m.records[key] = &out
	return out, nil
}
