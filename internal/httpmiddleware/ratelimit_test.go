package httpmiddleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestTokenBucketRefills(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewSimpleTokenBucket(2, 60)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"), "keys are independent")

	now = now.Add(time.Second)
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	serve := func(l Limiter) int {
		r := gin.New()
		r.GET("/", RateLimit(l), func(c *gin.Context) { c.Status(http.StatusNoContent) })
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		return w.Code
	}

	bucket := NewSimpleTokenBucket(1, 1)
	assert.Equal(t, http.StatusNoContent, serve(bucket))
	assert.Equal(t, http.StatusTooManyRequests, serve(bucket))
	assert.Equal(t, http.StatusNoContent, serve(failingLimiter{}), "fails open")
}
