package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classcheckin/internal/attendance"
)

const (
	testKey    = "test-key"
	testIssuer = "checkin-test"
)

func TestIssueAndParse(t *testing.T) {
	actor := attendance.Actor{ID: "lec-1", Role: attendance.RoleLecturer}
	issued, err := Issue(actor, testIssuer, testKey, time.Minute)
	require.NoError(t, err)

	claims, err := Parse(issued.Token, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, actor, claims.Actor())

	_, err = Parse(issued.Token, "other-key", testIssuer)
	assert.Error(t, err)
	_, err = Parse(issued.Token, testKey, "someone-else")
	assert.Error(t, err)
}

func TestIssueRejectsSystemRole(t *testing.T) {
	_, err := Issue(attendance.Actor{ID: "x", Role: attendance.RoleSystem}, testIssuer, testKey, time.Minute)
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	issued, err := Issue(attendance.Actor{ID: "stu-1", Role: attendance.RoleStudent}, testIssuer, testKey, -time.Minute)
	require.NoError(t, err)
	_, err = Parse(issued.Token, testKey, testIssuer)
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", Bearer(testKey, testIssuer), RequireRole(attendance.RoleAdmin), func(c *gin.Context) {
		actor, _ := ActorFrom(c)
		c.String(http.StatusOK, actor.ID)
	})

	token := func(role attendance.Role) string {
		issued, err := Issue(attendance.Actor{ID: "u-1", Role: role}, testIssuer, testKey, time.Minute)
		require.NoError(t, err)
		return "Bearer " + issued.Token
	}

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing", status: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "wrong role", header: token(attendance.RoleStudent), status: http.StatusForbidden},
		{name: "admin", header: token(attendance.RoleAdmin), status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
