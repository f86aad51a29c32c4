package faceclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecognizePicksBestMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://img/x.jpg", body["image_url"])
		_, _ = w.Write([]byte(`{"matches":[{"user_id":"stu-1","similarity":0.91,"distance":0.3}],"faces_detected":1}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL, false).Recognize(context.Background(), "https://img/x.jpg", "stu-9")
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, "stu-1", res.SubjectID)
	assert.Equal(t, 0.91, res.Confidence)
}

func TestRecognizeNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"matches":[],"faces_detected":1}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL, false).Recognize(context.Background(), "https://img/x.jpg", "stu-1")
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Zero(t, res.Confidence)
}

func TestServiceErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, false)
	_, err := c.Liveness(context.Background(), "https://img/x.jpg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Error(t, c.Health(context.Background()))
}

func TestSkipEchoesClaim(t *testing.T) {
	c := New("http://unused", true)
	res, err := c.Recognize(context.Background(), "", "stu-4")
	require.NoError(t, err)
	assert.Equal(t, "stu-4", res.SubjectID)
	live, err := c.Liveness(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, live.IsLive)
}
