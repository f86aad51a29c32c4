package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classcheckin/internal/attendance"
	"classcheckin/internal/auth"
	"classcheckin/internal/cloudinary"
	"classcheckin/internal/faceclient"
)

const (
	signingKey = "handler-test-key"
	issuer     = "handler-test"
)

var classStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeUploader struct {
	configured bool
	files      []string
}

func (u *fakeUploader) Configured() bool { return u.configured }

func (u *fakeUploader) UploadBytes(_ context.Context, _ []byte, filename string) (*cloudinary.UploadResult, error) {
	u.files = append(u.files, filename)
	return &cloudinary.UploadResult{PublicID: "p-1", SecureURL: "https://img.test/" + filename}, nil
}

func (u *fakeUploader) UploadBase64(context.Context, string) (*cloudinary.UploadResult, error) {
	return &cloudinary.UploadResult{PublicID: "p-2", SecureURL: "https://img.test/inline.jpg"}, nil
}

type fakeRecognizer struct {
	subject    string
	confidence float64
	live       bool
	err        error
}

func (f fakeRecognizer) Recognize(context.Context, string, string) (*faceclient.Recognition, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &faceclient.Recognition{Matched: true, SubjectID: f.subject, Confidence: f.confidence, Faces: 1}, nil
}

func (f fakeRecognizer) Liveness(context.Context, string) (*faceclient.LivenessResult, error) {
	return &faceclient.LivenessResult{IsLive: f.live, Confidence: 0.9}, nil
}

type testAPI struct {
	router *gin.Engine
	now    time.Time
}

func newAPI(t *testing.T, opts ...Option) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	api := &testAPI{now: classStart.Add(-2 * time.Minute)}
	svc := attendance.NewService(attendance.NewMemoryStore(), nil, attendance.WithClock(func() time.Time { return api.now }))
	api.router = gin.New()
	New(svc, opts...).Register(api.router, auth.Bearer(signingKey, issuer))
	return api
}

func bearer(t *testing.T, id string, role attendance.Role) string {
	t.Helper()
	issued, err := auth.Issue(attendance.Actor{ID: id, Role: role}, issuer, signingKey, time.Hour)
	require.NoError(t, err)
	return "Bearer " + issued.Token
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type errorBody struct {
	Error struct {
		Kind    string         `json:"kind"`
		Message string         `json:"message"`
		Detail  map[string]any `json:"detail"`
	} `json:"error"`
}

func (a *testAPI) openSession(t *testing.T, lecturer string) attendance.Session {
	t.Helper()
	w := a.do(t, http.MethodPost, "/v1/sessions", lecturer, gin.H{
		"course_id": "CS101",
		"class_id":  "CS101-A",
		"start_at":  classStart,
		"end_at":    classStart.Add(time.Hour),
		"location":  "b-201",
		"channels":  gin.H{"manual": true, "token": true, "face": true, "location": true},
		"geofence":  gin.H{"latitude": 6.5244, "longitude": 3.3792, "radius_meters": 50},
		"roster":    []string{"stu-1", "stu-2", "stu-3"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[attendance.Session](t, w)
}

func TestRoutesRequireBearer(t *testing.T) {
	api := newAPI(t)
	w := api.do(t, http.MethodGet, "/v1/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	api := newAPI(t)
	lecturer := bearer(t, "lec-1", attendance.RoleLecturer)
	sess := api.openSession(t, lecturer)
	assert.Equal(t, "B-201", sess.Location)
	require.NotNil(t, sess.Token, "token channel issues a token on open")

	w := api.do(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/token", lecturer, gin.H{"ttl_minutes": 10})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	tok := decode[struct {
		Code    string `json:"code"`
		Payload string `json:"payload"`
		Image   string `json:"image"`
	}](t, w)
	assert.Len(t, tok.Code, 64)
	assert.True(t, strings.HasPrefix(tok.Image, "data:image/png;base64,"))

	// Scanned payload carries the session id.
	stu := bearer(t, "stu-1", attendance.RoleStudent)
	w = api.do(t, http.MethodPost, "/v1/checkins", stu, gin.H{"participant_id": "stu-1", "channel": "token", "payload": tok.Payload})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[attendance.CheckInResult](t, w)
	assert.Equal(t, attendance.StatusPresent, res.Status)

	w = api.do(t, http.MethodPost, "/v1/checkins", stu, gin.H{"session_id": sess.ID, "participant_id": "stu-1", "channel": "token", "token": tok.Code})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "duplicate_check_in", decode[errorBody](t, w).Error.Kind)

	api.now = classStart.Add(20 * time.Minute)
	w = api.do(t, http.MethodPost, "/v1/checkins", lecturer, gin.H{"session_id": sess.ID, "participant_id": "stu-2", "channel": "manual", "notes": "late bus"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res = decode[attendance.CheckInResult](t, w)
	assert.Equal(t, attendance.StatusLate, res.Status)
	assert.Equal(t, 20, res.LateMinutes)

	w = api.do(t, http.MethodGet, "/v1/sessions/"+sess.ID+"/stats", lecturer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[attendance.SessionStats](t, w)
	assert.Equal(t, 1, stats.Counters.Present)
	assert.Equal(t, 1, stats.Counters.Late)
	assert.Equal(t, 1, stats.Pending)

	w = api.do(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/close", lecturer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	closed := decode[struct {
		Session attendance.Session      `json:"session"`
		Stats   attendance.SessionStats `json:"stats"`
	}](t, w)
	assert.Equal(t, attendance.SessionClosed, closed.Session.Status)
	assert.Equal(t, 1, closed.Stats.Counters.Absent)
	assert.Equal(t, 67, closed.Stats.Rate)

	w = api.do(t, http.MethodPost, "/v1/checkins", lecturer, gin.H{"session_id": sess.ID, "participant_id": "stu-3", "channel": "manual"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "session_not_open", decode[errorBody](t, w).Error.Kind)

	w = api.do(t, http.MethodPost, "/v1/sessions/"+sess.ID+"/records/stu-3/override", lecturer, gin.H{"status": "excused", "reason": "medical"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, attendance.StatusExcused, decode[attendance.Record](t, w).Status)

	w = api.do(t, http.MethodGet, "/v1/participants/stu-2/stats?course_id=CS101", stu, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(t, http.MethodGet, "/v1/participants/stu-2/stats?course_id=CS101", lecturer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 100, decode[attendance.ParticipantStats](t, w).Rate)
}

func TestTokenCodeWithheldFromStudents(t *testing.T) {
	api := newAPI(t)
	lecturer := bearer(t, "lec-1", attendance.RoleLecturer)
	stu := bearer(t, "stu-1", attendance.RoleStudent)
	sess := api.openSession(t, lecturer)

	w := api.do(t, http.MethodGet, "/v1/sessions/"+sess.ID, lecturer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	managed := decode[attendance.Session](t, w)
	require.NotNil(t, managed.Token)
	assert.Len(t, managed.Token.Code, 64)

	w = api.do(t, http.MethodGet, "/v1/sessions/"+sess.ID, stu, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), managed.Token.Code)
	assert.Nil(t, decode[attendance.Session](t, w).Token)

	w = api.do(t, http.MethodGet, "/v1/sessions", stu, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), managed.Token.Code)
	listed := decode[struct {
		Sessions []attendance.Session `json:"sessions"`
	}](t, w)
	require.Len(t, listed.Sessions, 1)
	assert.Nil(t, listed.Sessions[0].Token)

	w = api.do(t, http.MethodGet, "/v1/sessions/"+sess.ID, bearer(t, "stu-9", attendance.RoleStudent), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestStudentSeesOnlyOwnRecords(t *testing.T) {
	api := newAPI(t)
	lecturer := bearer(t, "lec-1", attendance.RoleLecturer)
	sess := api.openSession(t, lecturer)
	for _, p := range []string{"stu-1", "stu-2"} {
		w := api.do(t, http.MethodPost, "/v1/checkins", lecturer, gin.H{"session_id": sess.ID, "participant_id": p, "channel": "manual"})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	type recordList struct {
		Records []attendance.Record `json:"records"`
	}
	w := api.do(t, http.MethodGet, "/v1/sessions/"+sess.ID+"/records", bearer(t, "stu-1", attendance.RoleStudent), nil)
	require.Equal(t, http.StatusOK, w.Code)
	own := decode[recordList](t, w)
	require.Len(t, own.Records, 1)
	assert.Equal(t, "stu-1", own.Records[0].ParticipantID)

	w = api.do(t, http.MethodGet, "/v1/sessions/"+sess.ID+"/records", lecturer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[recordList](t, w).Records, 2)

	w = api.do(t, http.MethodGet, "/v1/stats/overview", bearer(t, "stu-1", attendance.RoleStudent), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestOversizedPhotoRejected(t *testing.T) {
	uploads := &fakeUploader{configured: true}
	api := newAPI(t, WithUploader(uploads), WithRecognizer(fakeRecognizer{subject: "stu-1", confidence: 0.95, live: true}, true))
	sess := api.openSession(t, bearer(t, "lec-1", attendance.RoleLecturer))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("session_id", sess.ID))
	require.NoError(t, mw.WriteField("participant_id", "stu-1"))
	fw, err := mw.CreateFormFile("photo", "huge.jpg")
	require.NoError(t, err)
	_, err = fw.Write(bytes.Repeat([]byte{0xff}, maxPhotoBytes+1))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/checkins/face", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", bearer(t, "stu-1", attendance.RoleStudent))
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "validation", decode[errorBody](t, w).Error.Kind)
	assert.Empty(t, uploads.files, "truncated images are never uploaded")
}

func TestErrorMapping(t *testing.T) {
	api := newAPI(t)
	lecturer := bearer(t, "lec-1", attendance.RoleLecturer)
	sess := api.openSession(t, lecturer)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
		kind   string
	}{
		{
			name: "unknown session", method: http.MethodGet, path: "/v1/sessions/nope",
			token: lecturer, status: http.StatusNotFound, kind: "not_found",
		},
		{
			name: "student cannot open", method: http.MethodPost, path: "/v1/sessions",
			token: bearer(t, "stu-1", attendance.RoleStudent), body: gin.H{"course_id": "x"},
			status: http.StatusForbidden, kind: "forbidden",
		},
		{
			name: "other lecturer cannot close", method: http.MethodPost, path: "/v1/sessions/" + sess.ID + "/close",
			token: bearer(t, "lec-2", attendance.RoleLecturer), status: http.StatusForbidden, kind: "forbidden",
		},
		{
			name: "bad token", method: http.MethodPost, path: "/v1/checkins",
			token: bearer(t, "stu-1", attendance.RoleStudent),
			body:  gin.H{"session_id": sess.ID, "participant_id": "stu-1", "channel": "token", "token": "deadbeef"},
			status: http.StatusUnprocessableEntity, kind: "invalid_token",
		},
		{
			name: "out of range", method: http.MethodPost, path: "/v1/checkins",
			token: bearer(t, "stu-1", attendance.RoleStudent),
			body: gin.H{"session_id": sess.ID, "participant_id": "stu-1", "channel": "location",
				"location": gin.H{"latitude": 6.6, "longitude": 3.3792}},
			status: http.StatusUnprocessableEntity, kind: "out_of_range",
		},
		{
			name: "not on roster", method: http.MethodPost, path: "/v1/checkins",
			token:  lecturer,
			body:   gin.H{"session_id": sess.ID, "participant_id": "stu-9", "channel": "manual"},
			status: http.StatusBadRequest, kind: "validation",
		},
		{
			name: "missing channel", method: http.MethodPost, path: "/v1/checkins",
			token: lecturer, body: gin.H{"session_id": sess.ID, "participant_id": "stu-1"},
			status: http.StatusBadRequest, kind: "validation",
		},
		{
			name: "cancel needs reason", method: http.MethodPost, path: "/v1/sessions/" + sess.ID + "/cancel",
			token: lecturer, body: gin.H{}, status: http.StatusBadRequest, kind: "validation",
		},
		{
			name: "face channel without collaborator", method: http.MethodPost, path: "/v1/checkins",
			token:  bearer(t, "stu-1", attendance.RoleStudent),
			body:   gin.H{"session_id": sess.ID, "participant_id": "stu-1", "channel": "face-match", "image_url": "https://img.test/a.jpg"},
			status: http.StatusServiceUnavailable, kind: "unavailable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(t, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.kind, decode[errorBody](t, w).Error.Kind)
		})
	}
}

func multipartPhoto(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("photo", "selfie.jpg")
	require.NoError(t, err)
	_, err = fw.Write([]byte("\xff\xd8\xff\xe0fake-jpeg"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestFaceCheckIn(t *testing.T) {
	tests := []struct {
		name       string
		recognizer fakeRecognizer
		status     int
		kind       string
		suspicious bool
	}{
		{name: "match", recognizer: fakeRecognizer{subject: "stu-1", confidence: 0.93, live: true}, status: http.StatusCreated},
		{name: "not live", recognizer: fakeRecognizer{subject: "stu-1", confidence: 0.93}, status: http.StatusCreated, suspicious: true},
		{name: "someone else", recognizer: fakeRecognizer{subject: "stu-2", confidence: 0.97, live: true}, status: http.StatusUnprocessableEntity, kind: "identity_mismatch"},
		{name: "weak match", recognizer: fakeRecognizer{subject: "stu-1", confidence: 0.6, live: true}, status: http.StatusUnprocessableEntity, kind: "low_confidence"},
		{name: "collaborator down", recognizer: fakeRecognizer{err: errors.New("connection refused")}, status: http.StatusBadGateway, kind: "upstream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uploads := &fakeUploader{configured: true}
			api := newAPI(t, WithUploader(uploads), WithRecognizer(tt.recognizer, true))
			sess := api.openSession(t, bearer(t, "lec-1", attendance.RoleLecturer))

			body, contentType := multipartPhoto(t, map[string]string{"session_id": sess.ID, "participant_id": "stu-1"})
			req := httptest.NewRequest(http.MethodPost, "/v1/checkins/face", body)
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("Authorization", bearer(t, "stu-1", attendance.RoleStudent))
			w := httptest.NewRecorder()
			api.router.ServeHTTP(w, req)

			require.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, []string{"selfie.jpg"}, uploads.files)
			if tt.kind != "" {
				assert.Equal(t, tt.kind, decode[errorBody](t, w).Error.Kind)
				return
			}
			res := decode[attendance.CheckInResult](t, w)
			assert.Equal(t, attendance.ChannelFaceMatch, res.Record.Channel)
			assert.Equal(t, tt.suspicious, res.Record.Suspicious)
			require.NotNil(t, res.Record.Evidence.Face)
			assert.Equal(t, "https://img.test/selfie.jpg", res.Record.Evidence.Face.ImageURL)
		})
	}
}

func TestUpload(t *testing.T) {
	api := newAPI(t)
	token := bearer(t, "stu-1", attendance.RoleStudent)
	w := api.do(t, http.MethodPost, "/v1/upload", token, gin.H{"data": "data:image/png;base64,AAAA"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	api = newAPI(t, WithUploader(&fakeUploader{configured: true}))
	w = api.do(t, http.MethodPost, "/v1/upload", token, gin.H{"data": "data:image/png;base64,AAAA"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://img.test/inline.jpg", decode[map[string]any](t, w)["url"])
}

func TestHealthz(t *testing.T) {
	api := newAPI(t,
		WithHealthCheck("db", func(context.Context) bool { return true }),
		WithHealthCheck("redis", func(context.Context) bool { return false }),
	)
	w := api.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, map[string]any{"db": "ok", "redis": "down"}, body["dependencies"])
}
