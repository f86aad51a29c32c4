package attendance

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"
)

// tokenBytes is the entropy of a token code before hex encoding.
const tokenBytes = 32

// TokenManager issues and validates session scan tokens.
type TokenManager struct {
	store Store
	rand  io.Reader
	now   func() time.Time
}

// Issue mints a fresh code for an open session, superseding the previous one.
func (m *TokenManager) Issue(ctx context.Context, sess Session, ttl time.Duration, issuedBy string) (Token, error) {
	if sess.Status != SessionOpen {
		return Token{}, sessionNotOpen(sess.ID, sess.Status)
	}
	if ttl <= 0 {
		return Token{}, validation("token ttl must be positive", map[string]any{"ttl": ttl.String()})
	}
	code, err := m.newCode()
	if err != nil {
		return Token{}, err
	}
	now := m.now()
	return m.store.IssueToken(ctx, Token{
		SessionID: sess.ID,
		Code:      code,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		Active:    true,
		IssuedBy:  issuedBy,
	})
}

func (m *TokenManager) newCode() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(m.rand, buf); err != nil {
		return "", fmt.Errorf("token entropy: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Validate accepts code only when it is the active, unexpired token of an
// open session. The expiry instant itself is still valid.
func (m *TokenManager) Validate(ctx context.Context, sess Session, code string) (Token, error) {
	if sess.Status != SessionOpen {
		return Token{}, invalidToken(TokenSessionNotOpen)
	}
	if code == "" {
		return Token{}, invalidToken(TokenNotFound)
	}
	tok, err := m.store.FindToken(ctx, sess.ID, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Token{}, invalidToken(TokenNotFound)
		}
		return Token{}, err
	}
	if !tok.Active {
		return Token{}, invalidToken(TokenSuperseded)
	}
	if m.now().After(tok.ExpiresAt) {
		return Token{}, invalidToken(TokenExpired)
	}
	return tok, nil
}

// IssuedToken is a token together with the payload encoded in its QR image.
type IssuedToken struct {
	Token   Token  `json:"token"`
	Payload string `json:"payload"`
}

type tokenPayload struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
	ExpiresAt int64  `json:"expires_at"`
}

// ParseTokenPayload decodes a scanned QR payload.
func ParseTokenPayload(raw string) (sessionID, code string, err error) {
	var p tokenPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return "", "", validation("malformed token payload", nil)
	}
	if p.SessionID == "" || p.Code == "" {
		return "", "", validation("malformed token payload", nil)
	}
	return p.SessionID, p.Code, nil
}

// IssueToken rotates the session token. A zero ttl uses the configured default.
func (s *Service) IssueToken(ctx context.Context, actor Actor, sessionID string, ttl time.Duration) (IssuedToken, error) {
	cfg, err := s.settings.Settings(ctx)
	if err != nil {
		return IssuedToken{}, err
	}
	sess, err := s.loadSession(ctx, sessionID, cfg)
	if err != nil {
		return IssuedToken{}, err
	}
	if !sess.ManagedBy(actor) {
		return IssuedToken{}, forbidden("issuing tokens requires session authority")
	}
	if !sess.Channels.Token {
		return IssuedToken{}, validation("token channel not enabled for session", nil)
	}
	if ttl == 0 {
		ttl = cfg.TokenTTL()
	}
	tok, err := s.tokens.Issue(ctx, sess, ttl, actor.ID)
	if err != nil {
		return IssuedToken{}, err
	}
	s.observer.ObserveTokenIssued()
	log.Printf("token issued session=%s expires=%s", sess.ID, tok.ExpiresAt.Format(time.RFC3339))

	payload, err := json.Marshal(tokenPayload{SessionID: sess.ID, Code: tok.Code, ExpiresAt: tok.ExpiresAt.Unix()})
	if err != nil {
		return IssuedToken{}, err
	}
	s.emit(ctx, Event{
		Kind:      EventTokenIssued,
		SessionID: sess.ID,
		Payload:   map[string]any{"expires_at": tok.ExpiresAt},
	})
	return IssuedToken{Token: tok, Payload: string(payload)}, nil
}

// DeactivateToken revokes the session's active token without issuing another.
func (s *Service) DeactivateToken(ctx context.Context, actor Actor, sessionID string) error {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.ManagedBy(actor) {
		return forbidden("revoking tokens requires session authority")
	}
	return s.store.DeactivateToken(ctx, sessionID)
}
