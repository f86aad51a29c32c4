package attendance

import (
	"context"
	"math"
	"sort"
)

// Rate is the rounded percentage of attended participants, 0 when total is 0.
func Rate(c Counters, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(c.Present+c.Late) / float64(total)))
}

// Tally counts records per status.
func Tally(records []Record) Counters {
	var c Counters
	for _, r := range records {
		c.Add(r.Status, 1)
	}
	return c
}

// SessionStats is the attendance summary of one session.
type SessionStats struct {
	SessionID string        `json:"session_id"`
	Status    SessionStatus `json:"status"`
	Counters  Counters      `json:"counters"`
	Total     int           `json:"total_participants"`
	// Pending counts roster members with no record yet. Always 0 once closed.
	Pending  int  `json:"pending"`
	Rate     int  `json:"attendance_rate"`
	Excluded bool `json:"excluded_from_rates"`
}

// SummarizeSession derives stats from the session counters.
func SummarizeSession(s Session) SessionStats {
	pending := s.TotalParticipants - s.Counters.Sum()
	if pending < 0 {
		pending = 0
	}
	return SessionStats{
		SessionID: s.ID,
		Status:    s.Status,
		Counters:  s.Counters,
		Total:     s.TotalParticipants,
		Pending:   pending,
		Rate:      Rate(s.Counters, s.TotalParticipants),
		Excluded:  s.Status == SessionCancelled,
	}
}

// DayStats is one bucket of a participant trend.
type DayStats struct {
	Date     string   `json:"date"`
	Counters Counters `json:"counters"`
	Total    int      `json:"total"`
	Rate     int      `json:"attendance_rate"`
}

// ParticipantStats summarizes one participant across sessions.
type ParticipantStats struct {
	ParticipantID string     `json:"participant_id"`
	Counters      Counters   `json:"counters"`
	Total         int        `json:"total_sessions"`
	Rate          int        `json:"attendance_rate"`
	Trend         []DayStats `json:"trend"`
}

// Overview summarizes sessions matching a filter.
type Overview struct {
	Sessions    int      `json:"sessions"`
	Open        int      `json:"open"`
	Closed      int      `json:"closed"`
	Cancelled   int      `json:"cancelled"`
	Counters    Counters `json:"counters"`
	AverageRate float64  `json:"average_rate"`
}

// Aggregator derives statistics from stored records.
type Aggregator struct {
	store Store
}

// Participant computes per-participant stats. Cancelled sessions are skipped.
func (a *Aggregator) Participant(ctx context.Context, f RecordFilter) (ParticipantStats, error) {
	records, err := a.store.QueryRecords(ctx, f)
	if err != nil {
		return ParticipantStats{}, err
	}
	out := ParticipantStats{ParticipantID: f.ParticipantID, Counters: Tally(records), Total: len(records)}
	out.Rate = Rate(out.Counters, out.Total)

	days := map[string]*DayStats{}
	for _, r := range records {
		key := r.SessionStart.UTC().Format("2006-01-02")
		d, ok := days[key]
		if !ok {
			d = &DayStats{Date: key}
			days[key] = d
		}
		d.Counters.Add(r.Status, 1)
		d.Total++
	}
	out.Trend = make([]DayStats, 0, len(days))
	for _, d := range days {
		d.Rate = Rate(d.Counters, d.Total)
		out.Trend = append(out.Trend, *d)
	}
	sort.Slice(out.Trend, func(i, j int) bool { return out.Trend[i].Date < out.Trend[j].Date })
	return out, nil
}

// Overview averages the rates of closed sessions matching f.
func (a *Aggregator) Overview(ctx context.Context, f SessionFilter) (Overview, error) {
	f.Limit, f.Offset = 0, 0
	sessions, err := a.store.ListSessions(ctx, f)
	if err != nil {
		return Overview{}, err
	}
	var out Overview
	var rateSum, rated int
	for _, s := range sessions {
		out.Sessions++
		switch s.Status {
		case SessionOpen:
			out.Open++
		case SessionClosed:
			out.Closed++
			rateSum += Rate(s.Counters, s.TotalParticipants)
			rated++
		case SessionCancelled:
			out.Cancelled++
			continue
		}
		out.Counters.Present += s.Counters.Present
		out.Counters.Absent += s.Counters.Absent
		out.Counters.Late += s.Counters.Late
		out.Counters.Excused += s.Counters.Excused
	}
	if rated > 0 {
		out.AverageRate = math.Round(float64(rateSum)/float64(rated)*100) / 100
	}
	return out, nil
}

// SessionStats returns the summary of a session, auto-closing it when overdue.
func (s *Service) SessionStats(ctx context.Context, actor Actor, sessionID string) (SessionStats, error) {
	sess, err := s.Session(ctx, sessionID)
	if err != nil {
		return SessionStats{}, err
	}
	if err := s.authorizeRead(ctx, sess, actor); err != nil {
		return SessionStats{}, err
	}
	return SummarizeSession(sess), nil
}

// ParticipantStats returns per-participant attendance. Students may only
// read their own.
func (s *Service) ParticipantStats(ctx context.Context, actor Actor, f RecordFilter) (ParticipantStats, error) {
	if f.ParticipantID == "" {
		return ParticipantStats{}, validation("participant_id required", nil)
	}
	switch actor.Role {
	case RoleAdmin, RoleLecturer, RoleSystem:
	case RoleStudent:
		if actor.ID != f.ParticipantID {
			return ParticipantStats{}, forbidden("students may only read their own statistics")
		}
	default:
		return ParticipantStats{}, forbidden("unknown role")
	}
	return s.stats.Participant(ctx, f)
}

// Overview returns aggregate stats over the sessions the actor manages.
func (s *Service) Overview(ctx context.Context, actor Actor, f SessionFilter) (Overview, error) {
	if actor.Role == RoleStudent {
		return Overview{}, forbidden("overview requires lecturer or admin role")
	}
	if err := scopeSessions(actor, &f); err != nil {
		return Overview{}, err
	}
	return s.stats.Overview(ctx, f)
}
