// Package auth issues and verifies the bearer tokens that identify actors.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"classcheckin/internal/attendance"
)

// Claims represents JWT payload.
type Claims struct {
	Role attendance.Role `json:"role"`
	jwt.RegisteredClaims
}

// Actor returns the engine actor the claims describe.
func (c Claims) Actor() attendance.Actor {
	return attendance.Actor{ID: c.Subject, Role: c.Role}
}

// Issued is a signed access token and its expiry.
type Issued struct {
	Token     string
	ExpiresAt time.Time
}

// Issue signs an access token for the actor.
func Issue(actor attendance.Actor, issuer, key string, ttl time.Duration) (Issued, error) {
	if actor.ID == "" {
		return Issued{}, errors.New("subject required")
	}
	switch actor.Role {
	case attendance.RoleAdmin, attendance.RoleLecturer, attendance.RoleStudent:
	default:
		return Issued{}, errors.New("unsupported role")
	}
	now := time.Now()
	exp := now.Add(ttl)
	claims := Claims{
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   actor.ID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return Issued{}, err
	}
	return Issued{Token: signed, ExpiresAt: exp}, nil
}

// Parse validates a token and returns claims.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	if claims.Subject == "" {
		return Claims{}, errors.New("missing subject")
	}
	return *claims, nil
}
