// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the caller identity. Authentication is delegated to an
// upstream gateway which forwards the user id in X-User-ID; the id is stashed
// in the Gin context under "userID" so that rate limiting, idempotency and
// logging all key on the same principal.
package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderUserID carries the authenticated principal.
	HeaderUserID = "X-User-ID"
	// userIDKey is the Gin context key holding the principal.
	userIDKey = "userID"
	// queryUserID is accepted on websocket upgrades, where browsers cannot
	// set custom headers.
	queryUserID = "user_id"
)

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._@:\-]{1,128}$`)

// IdentityOptions configures Identity.
type IdentityOptions struct {
	// Required rejects requests without a principal (401). Public paths such
	// as /health are listed in Skip.
	Required bool
	// Skip lists exact request paths exempt from the requirement.
	Skip []string
	// SkipPrefixes exempts whole subtrees (e.g. "/swagger/").
	SkipPrefixes []string
}

// Identity reads X-User-ID (or ?user_id= on websocket upgrades), validates
// it and stores it in the Gin context.
func Identity(opts IdentityOptions) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(opts.Skip))
	for _, p := range opts.Skip {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		uid := strings.TrimSpace(c.GetHeader(HeaderUserID))
		if uid == "" && isWebsocketUpgrade(c.Request) {
			uid = strings.TrimSpace(c.Query(queryUserID))
		}

		if uid != "" {
			if !userIDPattern.MatchString(uid) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
					"request_id": c.Writer.Header().Get(requestIDHeader),
					"code":       "bad_request",
					"message":    "invalid user id",
				})
				return
			}
			c.Set(userIDKey, uid)
			c.Next()
			return
		}

		if opts.Required && !skipped(c.Request.URL.Path, skip, opts.SkipPrefixes) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"message":    "missing user id",
			})
			return
		}
		c.Next()
	}
}

// UserID returns the principal stored by Identity, or "".
func UserID(c *gin.Context) string {
	if v, ok := c.Get(userIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func skipped(path string, exact map[string]struct{}, prefixes []string) bool {
	if _, ok := exact[path]; ok {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

func isWebsocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
