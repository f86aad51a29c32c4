package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"classcheckin/internal/attendance"
)

const actorKey = "actor"

// Bearer enforces bearer JWT tokens signed with HS256 and stores the actor
// on the request context.
func Bearer(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			abort(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			abort(c, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		c.Set(actorKey, claims.Actor())
		c.Next()
	}
}

// RequireRole rejects actors whose role is not listed.
func RequireRole(roles ...attendance.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := ActorFrom(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "unauthorized", "missing actor")
			return
		}
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, "forbidden", "role not permitted")
	}
}

// ActorFrom returns the authenticated actor.
func ActorFrom(c *gin.Context) (attendance.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return attendance.Actor{}, false
	}
	actor, ok := v.(attendance.Actor)
	return actor, ok
}

func abort(c *gin.Context, status int, kind, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"kind": kind, "message": msg}})
}
