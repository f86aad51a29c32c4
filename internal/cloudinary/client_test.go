package cloudinary

import (
	"context"
	"crypto/sha1"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignExcludesKeyAndFile(t *testing.T) {
	c := New("demo", "key", "secret", "")
	got := c.sign(map[string]string{"timestamp": "100", "folder": "checkins", "api_key": "key", "file": "x"})
	want := fmt.Sprintf("%x", sha1.Sum([]byte("folder=checkins&timestamp=100secret")))
	assert.Equal(t, want, got)
}

func TestUploadBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/demo/image/upload", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "key", r.FormValue("api_key"))
		assert.Equal(t, "checkins", r.FormValue("folder"))
		assert.Equal(t, "1700000000", r.FormValue("timestamp"))
		assert.NotEmpty(t, r.FormValue("signature"))
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		assert.Equal(t, "selfie.jpg", hdr.Filename)
		_, _ = w.Write([]byte(`{"public_id":"checkins/abc","secure_url":"https://res.example/abc.jpg"}`))
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "checkins")
	c.BaseURL = srv.URL
	c.now = func() time.Time { return time.Unix(1700000000, 0) }

	res, err := c.UploadBytes(context.Background(), []byte{0xff, 0xd8}, "selfie.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://res.example/abc.jpg", res.SecureURL)
}

func TestUploadRequiresCredentials(t *testing.T) {
	_, err := New("", "", "", "").UploadBase64(context.Background(), "data:image/png;base64,AA==")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
