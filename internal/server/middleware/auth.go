// file: internal/server/middleware/auth.go
// version: 2.0.0
// guid: 83c42ecb-1df2-4baf-9890-3f91ab4db6fe

package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// TokenCookieName carries the daemon token for clients that cannot set
// headers, such as browser EventSource streams.
const TokenCookieName = "erpcache_token"

// TokenFromRequest extracts the daemon token from Bearer auth or cookie.
func TokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token
		}
	}
	if cookie, err := r.Cookie(TokenCookieName); err == nil && strings.TrimSpace(cookie.Value) != "" {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

// RequireToken rejects requests that do not present expected. An empty
// expected token disables the check. Exempt paths always pass.
func RequireToken(expected string, exempt ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(exempt))
	for _, p := range exempt {
		skip[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if expected == "" {
			c.Next()
			return
		}
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		token := TokenFromRequest(c.Request)
		if token == "" {
			c.Header("WWW-Authenticate", `Bearer realm="erpcache"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required", "code": "UNAUTHORIZED", "status": http.StatusUnauthorized,
			})
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			c.Header("WWW-Authenticate", `Bearer realm="erpcache"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token", "code": "UNAUTHORIZED", "status": http.StatusUnauthorized,
			})
			return
		}
		c.Next()
	}
}
