package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists engine state in Postgres. Every multi-row change runs in
// one transaction that first locks the session row, so admissions, overrides
// and transitions of a session are serialized.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

const sessionSelect = `
	SELECT s.id, s.course_id, s.class_id, s.lecturer_id, s.start_at, s.end_at, s.opened_at, s.location,
		s.channel_manual, s.channel_token, s.channel_face, s.channel_location,
		s.fence_latitude, s.fence_longitude, s.fence_radius, s.late_threshold, s.auto_close, s.status,
		s.present_count, s.absent_count, s.late_count, s.excused_count, s.total_participants,
		s.closed_by, s.closed_at, s.auto_closed, s.cancelled_by, s.cancelled_at, s.cancel_reason, s.created_at,
		t.id, t.code, t.issued_at, t.expires_at, t.issued_by
	FROM sessions s
	LEFT JOIN checkin_tokens t ON t.session_id = s.id AND t.active`

const recordSelect = `
	SELECT a.id, a.session_id, a.participant_id, a.status, a.checked_in_at, a.channel, a.late_minutes, a.evidence,
		a.override_by, a.override_at, a.override_reason, a.previous_status,
		a.verified, a.verified_by, a.verified_at, a.suspicious, a.suspicious_reason,
		a.course_id, a.class_id, a.session_start, a.created_at, a.updated_at
	FROM attendance_records a`

// adjustCounters moves one unit from the bucket of $3 to the bucket of $2.
// An empty $3 only increments.
const adjustCounters = `
	UPDATE sessions SET
		present_count = present_count + (CASE WHEN $2::text = 'present' THEN 1 ELSE 0 END) - (CASE WHEN $3::text = 'present' THEN 1 ELSE 0 END),
		absent_count  = absent_count  + (CASE WHEN $2::text = 'absent'  THEN 1 ELSE 0 END) - (CASE WHEN $3::text = 'absent'  THEN 1 ELSE 0 END),
		late_count    = late_count    + (CASE WHEN $2::text = 'late'    THEN 1 ELSE 0 END) - (CASE WHEN $3::text = 'late'    THEN 1 ELSE 0 END),
		excused_count = excused_count + (CASE WHEN $2::text = 'excused' THEN 1 ELSE 0 END) - (CASE WHEN $3::text = 'excused' THEN 1 ELSE 0 END)
	WHERE id = $1`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var (
		s                         Session
		fenceLat, fenceLon        sql.NullFloat64
		fenceRadius               float64
		closedBy, cancelledBy     sql.NullString
		cancelReason              sql.NullString
		closedAt, cancelledAt     sql.NullTime
		tokID, tokCode, tokIssuer sql.NullString
		tokIssuedAt, tokExpiresAt sql.NullTime
	)
	err := row.Scan(&s.ID, &s.CourseID, &s.ClassID, &s.LecturerID, &s.StartAt, &s.EndAt, &s.OpenedAt, &s.Location,
		&s.Channels.Manual, &s.Channels.Token, &s.Channels.Face, &s.Channels.Location,
		&fenceLat, &fenceLon, &fenceRadius, &s.LateThresholdMinutes, &s.AutoClose, &s.Status,
		&s.Counters.Present, &s.Counters.Absent, &s.Counters.Late, &s.Counters.Excused, &s.TotalParticipants,
		&closedBy, &closedAt, &s.AutoClosed, &cancelledBy, &cancelledAt, &cancelReason, &s.CreatedAt,
		&tokID, &tokCode, &tokIssuedAt, &tokExpiresAt, &tokIssuer)
	if err != nil {
		return Session{}, err
	}
	if fenceLat.Valid && fenceLon.Valid {
		s.Geofence = &Geofence{Latitude: fenceLat.Float64, Longitude: fenceLon.Float64, RadiusMeters: fenceRadius}
	}
	s.ClosedBy = closedBy.String
	s.CancelledBy = cancelledBy.String
	s.CancelReason = cancelReason.String
	s.ClosedAt = timePtr(closedAt)
	s.CancelledAt = timePtr(cancelledAt)
	if tokID.Valid {
		s.Token = &Token{
			ID:        tokID.String,
			SessionID: s.ID,
			Code:      tokCode.String,
			IssuedAt:  tokIssuedAt.Time,
			ExpiresAt: tokExpiresAt.Time,
			Active:    true,
			IssuedBy:  tokIssuer.String,
		}
	}
	return s, nil
}

func scanRecord(row scanner) (Record, error) {
	var (
		r                                  Record
		evidence                           []byte
		checkedIn, overrideAt, verifiedAt  sql.NullTime
		overrideBy, overrideReason, prevSt sql.NullString
		verifiedBy, suspiciousReason       sql.NullString
	)
	err := row.Scan(&r.ID, &r.SessionID, &r.ParticipantID, &r.Status, &checkedIn, &r.Channel, &r.LateMinutes, &evidence,
		&overrideBy, &overrideAt, &overrideReason, &prevSt,
		&r.Verified, &verifiedBy, &verifiedAt, &r.Suspicious, &suspiciousReason,
		&r.CourseID, &r.ClassID, &r.SessionStart, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &r.Evidence); err != nil {
			return Record{}, fmt.Errorf("decode evidence %s: %w", r.ID, err)
		}
	}
	r.CheckedInAt = timePtr(checkedIn)
	r.VerifiedAt = timePtr(verifiedAt)
	r.VerifiedBy = verifiedBy.String
	r.SuspiciousReason = suspiciousReason.String
	if overrideBy.Valid {
		r.Override = &Override{
			By:             overrideBy.String,
			At:             overrideAt.Time,
			Reason:         overrideReason.String,
			PreviousStatus: Status(prevSt.String),
		}
	}
	return r, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// classify maps retryable Postgres failures onto ErrTransient.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return fmt.Errorf("%w: %s (%s)", ErrTransient, pgErr.Message, pgErr.Code)
		}
	}
	return err
}

func (r *Repository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return classify(err)
	}
	return classify(tx.Commit())
}

// lockSession locks the session row for the rest of the transaction.
func lockSession(ctx context.Context, tx *sql.Tx, id string) (SessionStatus, error) {
	var status SessionStatus
	err := tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound("session", id)
	}
	return status, err
}

func (r *Repository) CreateSession(ctx context.Context, s Session, roster []string) error {
	var fenceLat, fenceLon sql.NullFloat64
	radius := 100.0
	if s.Geofence != nil {
		fenceLat = sql.NullFloat64{Float64: s.Geofence.Latitude, Valid: true}
		fenceLon = sql.NullFloat64{Float64: s.Geofence.Longitude, Valid: true}
		radius = s.Geofence.RadiusMeters
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, course_id, class_id, lecturer_id, start_at, end_at, opened_at, location,
				channel_manual, channel_token, channel_face, channel_location,
				fence_latitude, fence_longitude, fence_radius, late_threshold, auto_close, status,
				total_participants, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,'open',$18,$19)
		`, s.ID, s.CourseID, s.ClassID, s.LecturerID, s.StartAt, s.EndAt, s.OpenedAt, s.Location,
			s.Channels.Manual, s.Channels.Token, s.Channels.Face, s.Channels.Location,
			fenceLat, fenceLon, radius, s.LateThresholdMinutes, s.AutoClose,
			len(roster), s.CreatedAt)
		if err != nil {
			return err
		}
		for _, p := range roster {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO session_roster (session_id, participant_id) VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, s.ID, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repository) GetSession(ctx context.Context, id string) (Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, sessionSelect+` WHERE s.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, notFound("session", id)
	}
	return s, err
}

func getSessionTx(ctx context.Context, tx *sql.Tx, id string) (Session, error) {
	return scanSession(tx.QueryRowContext(ctx, sessionSelect+` WHERE s.id = $1`, id))
}

func (r *Repository) ListSessions(ctx context.Context, f SessionFilter) ([]Session, error) {
	query := sessionSelect
	args := []any{}
	clauses := []string{}
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.CourseID != "" {
		add("s.course_id = $%d", f.CourseID)
	}
	if f.ClassID != "" {
		add("s.class_id = $%d", f.ClassID)
	}
	if f.LecturerID != "" {
		add("s.lecturer_id = $%d", f.LecturerID)
	}
	if f.ParticipantID != "" {
		add("EXISTS (SELECT 1 FROM session_roster r WHERE r.session_id = s.id AND r.participant_id = $%d)", f.ParticipantID)
	}
	if f.Status != "" {
		add("s.status = $%d", f.Status)
	}
	if f.From != nil {
		add("s.start_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("s.start_at <= $%d", *f.To)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY s.start_at DESC, s.id"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return r.querySessions(ctx, query, args...)
}

func (r *Repository) querySessions(ctx context.Context, query string, args ...any) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r *Repository) OverdueSessions(ctx context.Context, cutoff time.Time) ([]Session, error) {
	return r.querySessions(ctx, sessionSelect+`
		WHERE s.status = 'open' AND s.auto_close AND s.end_at < $1
		ORDER BY s.end_at
	`, cutoff)
}

func (r *Repository) OnRoster(ctx context.Context, sessionID, participantID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM session_roster WHERE session_id = $1 AND participant_id = $2)
	`, sessionID, participantID).Scan(&exists)
	return exists, err
}

func (r *Repository) CloseSession(ctx context.Context, cmd CloseCommand) (Session, error) {
	var out Session
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		status, err := lockSession(ctx, tx, cmd.SessionID)
		if err != nil {
			return err
		}
		if status != SessionOpen {
			return invalidState(cmd.SessionID, status, "close")
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET status = 'closed', closed_by = $2, closed_at = $3, auto_closed = $4
			WHERE id = $1 AND status = 'open'
		`, cmd.SessionID, cmd.By, cmd.At, cmd.Auto); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attendance_records (id, session_id, participant_id, status, channel,
				course_id, class_id, session_start, created_at, updated_at)
			SELECT gen_random_uuid()::text, s.id, r.participant_id, 'absent', 'system',
				s.course_id, s.class_id, s.start_at, $2, $2
			FROM session_roster r
			JOIN sessions s ON s.id = r.session_id
			WHERE r.session_id = $1
				AND NOT EXISTS (
					SELECT 1 FROM attendance_records a
					WHERE a.session_id = r.session_id AND a.participant_id = r.participant_id
				)
		`, cmd.SessionID, cmd.At); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions s SET
				present_count = c.present, absent_count = c.absent,
				late_count = c.late, excused_count = c.excused
			FROM (
				SELECT COUNT(*) FILTER (WHERE status = 'present') AS present,
					COUNT(*) FILTER (WHERE status = 'absent') AS absent,
					COUNT(*) FILTER (WHERE status = 'late') AS late,
					COUNT(*) FILTER (WHERE status = 'excused') AS excused
				FROM attendance_records WHERE session_id = $1
			) c
			WHERE s.id = $1
		`, cmd.SessionID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE checkin_tokens SET active = FALSE WHERE session_id = $1 AND active`, cmd.SessionID); err != nil {
			return err
		}
		out, err = getSessionTx(ctx, tx, cmd.SessionID)
		return err
	})
	return out, err
}

func (r *Repository) CancelSession(ctx context.Context, cmd CancelCommand) (Session, error) {
	var out Session
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		status, err := lockSession(ctx, tx, cmd.SessionID)
		if err != nil {
			return err
		}
		if status != SessionOpen {
			return invalidState(cmd.SessionID, status, "cancel")
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE sessions SET status = 'cancelled', cancelled_by = $2, cancelled_at = $3, cancel_reason = $4
			WHERE id = $1 AND status = 'open'
		`, cmd.SessionID, cmd.By, cmd.At, nullString(cmd.Reason)); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE checkin_tokens SET active = FALSE WHERE session_id = $1 AND active`, cmd.SessionID); err != nil {
			return err
		}
		out, err = getSessionTx(ctx, tx, cmd.SessionID)
		return err
	})
	return out, err
}

func (r *Repository) IssueToken(ctx context.Context, tok Token) (Token, error) {
	if tok.ID == "" {
		tok.ID = uuid.NewString()
	}
	tok.Active = true
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		status, err := lockSession(ctx, tx, tok.SessionID)
		if err != nil {
			return err
		}
		if status != SessionOpen {
			return sessionNotOpen(tok.SessionID, status)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE checkin_tokens SET active = FALSE WHERE session_id = $1 AND active`, tok.SessionID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO checkin_tokens (id, session_id, code, issued_at, expires_at, active, issued_by)
			VALUES ($1, $2, $3, $4, $5, TRUE, $6)
		`, tok.ID, tok.SessionID, tok.Code, tok.IssuedAt, tok.ExpiresAt, tok.IssuedBy)
		return err
	})
	if err != nil {
		return Token{}, err
	}
	return tok, nil
}

func (r *Repository) DeactivateToken(ctx context.Context, sessionID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE checkin_tokens SET active = FALSE WHERE session_id = $1 AND active`, sessionID)
	return err
}

func (r *Repository) FindToken(ctx context.Context, sessionID, code string) (Token, error) {
	var (
		t      Token
		issuer sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, session_id, code, issued_at, expires_at, active, issued_by
		FROM checkin_tokens WHERE session_id = $1 AND code = $2
	`, sessionID, code).Scan(&t.ID, &t.SessionID, &t.Code, &t.IssuedAt, &t.ExpiresAt, &t.Active, &issuer)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, notFound("token", code)
	}
	t.IssuedBy = issuer.String
	return t, err
}

func (r *Repository) GetRecord(ctx context.Context, sessionID, participantID string) (Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, recordSelect+`
		WHERE a.session_id = $1 AND a.participant_id = $2
	`, sessionID, participantID))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, notFound("record", participantID)
	}
	return rec, err
}

func getRecordTx(ctx context.Context, tx *sql.Tx, sessionID, participantID string) (Record, error) {
	return scanRecord(tx.QueryRowContext(ctx, recordSelect+`
		WHERE a.session_id = $1 AND a.participant_id = $2
	`, sessionID, participantID))
}

func (r *Repository) ListRecords(ctx context.Context, sessionID string) ([]Record, error) {
	if _, err := r.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return r.queryRecords(ctx, recordSelect+`
		WHERE a.session_id = $1
		ORDER BY a.created_at, a.participant_id
	`, sessionID)
}

func (r *Repository) QueryRecords(ctx context.Context, f RecordFilter) ([]Record, error) {
	query := recordSelect + ` JOIN sessions s ON s.id = a.session_id`
	args := []any{}
	clauses := []string{"s.status <> 'cancelled'"}
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.ParticipantID != "" {
		add("a.participant_id = $%d", f.ParticipantID)
	}
	if f.CourseID != "" {
		add("a.course_id = $%d", f.CourseID)
	}
	if f.ClassID != "" {
		add("a.class_id = $%d", f.ClassID)
	}
	if f.From != nil {
		add("a.session_start >= $%d", *f.From)
	}
	if f.To != nil {
		add("a.session_start <= $%d", *f.To)
	}
	query += " WHERE " + strings.Join(clauses, " AND ") + " ORDER BY a.session_start, a.session_id"
	return r.queryRecords(ctx, query, args...)
}

func (r *Repository) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (r *Repository) CommitCheckIn(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	evidence, err := json.Marshal(rec.Evidence)
	if err != nil {
		return Record{}, err
	}
	var out Record
	err = r.inTx(ctx, func(tx *sql.Tx) error {
		status, err := lockSession(ctx, tx, rec.SessionID)
		if err != nil {
			return err
		}
		if status != SessionOpen {
			return sessionNotOpen(rec.SessionID, status)
		}

		var previous string
		var id string
		err = tx.QueryRowContext(ctx, `
			INSERT INTO attendance_records (id, session_id, participant_id, status, checked_in_at, channel,
				late_minutes, evidence, suspicious, suspicious_reason, course_id, class_id, session_start,
				created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8::jsonb,$9,$10,$11,$12,$13,$14,$14)
			ON CONFLICT (session_id, participant_id) DO NOTHING
			RETURNING id
		`, rec.ID, rec.SessionID, rec.ParticipantID, rec.Status, rec.CheckedInAt, rec.Channel,
			rec.LateMinutes, string(evidence), rec.Suspicious, nullString(rec.SuspiciousReason),
			rec.CourseID, rec.ClassID, rec.SessionStart, rec.CreatedAt).Scan(&id)
		switch {
		case err == nil:
		case errors.Is(err, sql.ErrNoRows):
			var checkedIn sql.NullTime
			if err := tx.QueryRowContext(ctx, `
				SELECT status, checked_in_at FROM attendance_records
				WHERE session_id = $1 AND participant_id = $2
				FOR UPDATE
			`, rec.SessionID, rec.ParticipantID).Scan(&previous, &checkedIn); err != nil {
				return err
			}
			if checkedIn.Valid {
				return duplicateCheckIn(rec.SessionID, rec.ParticipantID)
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE attendance_records SET status = $3, checked_in_at = $4, channel = $5, late_minutes = $6,
					evidence = $7::jsonb, suspicious = $8, suspicious_reason = $9, updated_at = $10
				WHERE session_id = $1 AND participant_id = $2
			`, rec.SessionID, rec.ParticipantID, rec.Status, rec.CheckedInAt, rec.Channel, rec.LateMinutes,
				string(evidence), rec.Suspicious, nullString(rec.SuspiciousReason), rec.UpdatedAt); err != nil {
				return err
			}
		default:
			return err
		}

		if _, err := tx.ExecContext(ctx, adjustCounters, rec.SessionID, rec.Status, previous); err != nil {
			return err
		}
		out, err = getRecordTx(ctx, tx, rec.SessionID, rec.ParticipantID)
		return err
	})
	return out, err
}

func (r *Repository) OverrideRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.Override == nil {
		return Record{}, validation("override trail required", nil)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	evidence, err := json.Marshal(rec.Evidence)
	if err != nil {
		return Record{}, err
	}
	ov := rec.Override
	var out Record
	err = r.inTx(ctx, func(tx *sql.Tx) error {
		status, err := lockSession(ctx, tx, rec.SessionID)
		if err != nil {
			return err
		}
		if status == SessionCancelled {
			return invalidState(rec.SessionID, status, "override")
		}

		var previous string
		err = tx.QueryRowContext(ctx, `
			SELECT status FROM attendance_records
			WHERE session_id = $1 AND participant_id = $2
			FOR UPDATE
		`, rec.SessionID, rec.ParticipantID).Scan(&previous)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO attendance_records (id, session_id, participant_id, status, channel, evidence,
					override_by, override_at, override_reason, course_id, class_id, session_start,
					created_at, updated_at)
				VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7,$8,$9,$10,$11,$12,$13,$13)
			`, rec.ID, rec.SessionID, rec.ParticipantID, rec.Status, rec.Channel, string(evidence),
				ov.By, ov.At, ov.Reason, rec.CourseID, rec.ClassID, rec.SessionStart, rec.CreatedAt); err != nil {
				return err
			}
		case err != nil:
			return err
		case Status(previous) == rec.Status:
			return statusUnchanged(rec.Status)
		default:
			if _, err := tx.ExecContext(ctx, `
				UPDATE attendance_records SET status = $3, override_by = $4, override_at = $5,
					override_reason = $6, previous_status = $7, updated_at = $8
				WHERE session_id = $1 AND participant_id = $2
			`, rec.SessionID, rec.ParticipantID, rec.Status, ov.By, ov.At, ov.Reason, previous, rec.UpdatedAt); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, adjustCounters, rec.SessionID, rec.Status, previous); err != nil {
			return err
		}
		out, err = getRecordTx(ctx, tx, rec.SessionID, rec.ParticipantID)
		return err
	})
	return out, err
}

func (r *Repository) MarkVerified(ctx context.Context, sessionID, participantID, by string, at time.Time) (Record, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_records SET verified = TRUE, verified_by = $3, verified_at = $4, updated_at = $4
		WHERE session_id = $1 AND participant_id = $2
	`, sessionID, participantID, by, at)
	if err != nil {
		return Record{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Record{}, notFound("record", participantID)
	}
	return r.GetRecord(ctx, sessionID, participantID)
}
