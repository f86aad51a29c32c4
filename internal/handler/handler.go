// Package handler exposes the check-in engine over HTTP.
package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"classcheckin/internal/attendance"
	"classcheckin/internal/auth"
	"classcheckin/internal/cloudinary"
	"classcheckin/internal/faceclient"
)

// Uploader stores images and returns a stable URL.
type Uploader interface {
	Configured() bool
	UploadBytes(ctx context.Context, data []byte, filename string) (*cloudinary.UploadResult, error)
	UploadBase64(ctx context.Context, data string) (*cloudinary.UploadResult, error)
}

// Recognizer identifies faces in hosted images.
type Recognizer interface {
	Recognize(ctx context.Context, imageURL, claimed string) (*faceclient.Recognition, error)
	Liveness(ctx context.Context, imageURL string) (*faceclient.LivenessResult, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Handler serves the /v1 API.
type Handler struct {
	svc      *attendance.Service
	uploads  Uploader
	faces    Recognizer
	liveness bool
	checks   map[string]HealthCheck
	qrSize   int
}

// Option configures a Handler.
type Option func(*Handler)

// WithUploader enables image uploads.
func WithUploader(u Uploader) Option { return func(h *Handler) { h.uploads = u } }

// WithRecognizer enables the face-match channel. When liveness is set every
// recognized image also goes through the anti-spoofing check.
func WithRecognizer(r Recognizer, liveness bool) Option {
	return func(h *Handler) {
		h.faces = r
		h.liveness = liveness
	}
}

// WithHealthCheck adds a named dependency to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) { h.checks[name] = check }
}

// New builds a handler around the engine service.
func New(svc *attendance.Service, opts ...Option) *Handler {
	h := &Handler{svc: svc, checks: map[string]HealthCheck{}, qrSize: 256}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the health endpoint and the authenticated /v1 routes.
func (h *Handler) Register(r gin.IRouter, authn gin.HandlerFunc) {
	r.GET("/healthz", h.Healthz)

	managers := auth.RequireRole(attendance.RoleAdmin, attendance.RoleLecturer)

	v1 := r.Group("/v1", authn)
	{
		v1.POST("/sessions", managers, h.OpenSession)
		v1.GET("/sessions", h.ListSessions)
		v1.GET("/sessions/:id", h.GetSession)
		v1.GET("/sessions/:id/records", h.ListRecords)
		v1.POST("/sessions/:id/close", h.CloseSession)
		v1.POST("/sessions/:id/cancel", h.CancelSession)
		v1.POST("/sessions/:id/token", h.IssueToken)
		v1.DELETE("/sessions/:id/token", h.DeactivateToken)
		v1.POST("/sessions/:id/records/:participant/override", h.Override)
		v1.POST("/sessions/:id/records/:participant/verify", h.Verify)
		v1.GET("/sessions/:id/stats", h.SessionStats)

		v1.POST("/checkins", h.CheckIn)
		v1.POST("/checkins/face", h.FaceCheckIn)

		v1.GET("/participants/:id/stats", h.ParticipantStats)
		v1.GET("/stats/overview", managers, h.Overview)

		v1.POST("/upload", h.Upload)
	}
}

// Healthz reports process and dependency health.
func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	deps := gin.H{}
	for name, check := range h.checks {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		ok := check(ctx)
		cancel()
		if ok {
			deps[name] = "ok"
			continue
		}
		deps[name] = "down"
		status = http.StatusServiceUnavailable
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "dependencies": deps})
}

func actor(c *gin.Context) attendance.Actor {
	a, _ := auth.ActorFrom(c)
	return a
}

var kindStatus = map[attendance.Kind]int{
	attendance.KindValidation:       http.StatusBadRequest,
	attendance.KindForbidden:        http.StatusForbidden,
	attendance.KindNotFound:         http.StatusNotFound,
	attendance.KindSessionNotOpen:   http.StatusConflict,
	attendance.KindInvalidState:     http.StatusConflict,
	attendance.KindDuplicateCheckIn: http.StatusConflict,
	attendance.KindInvalidToken:     http.StatusUnprocessableEntity,
	attendance.KindOutOfRange:       http.StatusUnprocessableEntity,
	attendance.KindLowConfidence:    http.StatusUnprocessableEntity,
	attendance.KindIdentityMismatch: http.StatusUnprocessableEntity,
}

// fail writes err using the engine's error taxonomy. Anything unclassified is
// logged and reported as an internal error.
func fail(c *gin.Context, err error) {
	var e *attendance.Error
	if errors.As(err, &e) {
		status, ok := kindStatus[e.Kind]
		if !ok {
			status = http.StatusBadRequest
		}
		body := gin.H{"kind": e.Kind, "message": e.Message}
		if len(e.Detail) > 0 {
			body["detail"] = e.Detail
		}
		c.AbortWithStatusJSON(status, gin.H{"error": body})
		return
	}
	log.Printf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{"kind": "internal", "message": "internal error"}})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": gin.H{"kind": attendance.KindValidation, "message": msg}})
}

func queryTime(c *gin.Context, key string) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return nil, errors.New(key + " must be RFC3339 or YYYY-MM-DD")
	}
	return &t, nil
}

func queryInt(c *gin.Context, key string, def int) int {
	v := c.Query(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
