package attendance

import (
	"context"
	"time"
)

// Settings are the deployment-wide defaults applied when a session does not
// override them.
type Settings struct {
	LateThresholdMinutes int
	GeofenceRadiusMeters float64
	TokenExpiryMinutes   int
	MinFaceConfidence    float64
	AutoCloseGrace       time.Duration
}

// DefaultSettings mirrors the shipped configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		LateThresholdMinutes: 15,
		GeofenceRadiusMeters: 100,
		TokenExpiryMinutes:   5,
		MinFaceConfidence:    0.85,
	}
}

// TokenTTL is the default lifetime of an issued token.
func (s Settings) TokenTTL() time.Duration {
	return time.Duration(s.TokenExpiryMinutes) * time.Minute
}

// SettingsProvider supplies the current settings snapshot.
type SettingsProvider interface {
	Settings(ctx context.Context) (Settings, error)
}

// StaticSettings serves a fixed snapshot.
type StaticSettings Settings

// Settings implements SettingsProvider.
func (s StaticSettings) Settings(context.Context) (Settings, error) {
	return Settings(s), nil
}
