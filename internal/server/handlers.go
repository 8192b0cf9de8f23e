// file: internal/server/handlers.go
// version: 1.0.0
// guid: 6a1f3c8e-2d4b-4e9a-b7c5-8f0e1d2a3b4c

package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jdfalk/erpcache/internal/cache"
	"github.com/jdfalk/erpcache/internal/session"
	"go.uber.org/zap"
)

// ReasonManual labels flushes requested by an operator.
const ReasonManual = "manual"

// KeyInfo describes one cached entry.
type KeyInfo struct {
	Key      string    `json:"key"`
	StoredAt time.Time `json:"stored_at"`
	Bytes    int       `json:"bytes"`
}

// SessionInfo is the body of GET /api/v1/session.
type SessionInfo struct {
	Authenticated bool       `json:"authenticated"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Subscribers   int        `json:"subscribers"`
}

func (s *Server) healthCheck(c *gin.Context) {
	stats := s.deps.Registry.Guard().Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"authenticated": s.authenticated(),
		"in_flight":     stats.InFlight,
		"generation":    stats.Generation,
		"sse_clients":   s.deps.Hub.GetClientCount(),
	})
}

func (s *Server) listResources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"resources": s.deps.Registry.Definitions()})
}

func (s *Server) getResource(c *gin.Context) {
	s.resolve(c, false)
}

func (s *Server) refreshResource(c *gin.Context) {
	s.resolve(c, true)
}

func (s *Server) resolve(c *gin.Context, refresh bool) {
	name := c.Param("name")
	raw, err := s.deps.Registry.Resolve(c.Request.Context(), name, queryParams(c), refresh)
	if err != nil {
		RespondWithResolveError(c, name, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

// invalidateResource drops the entry matching the query parameters, or every
// entry of the resource when none are given.
func (s *Server) invalidateResource(c *gin.Context) {
	name := c.Param("name")
	params := queryParams(c)
	removed, err := s.deps.Registry.Invalidate(name, params, len(params) == 0)
	if err != nil {
		RespondWithResolveError(c, name, err)
		return
	}
	s.deps.Hub.SendCacheInvalidated(name, removed)
	loggerFrom(c).Info("cache invalidated", zap.String("resource", name), zap.Int("removed", removed))
	c.JSON(http.StatusOK, gin.H{"resource": name, "removed": removed})
}

func (s *Server) flushCache(c *gin.Context) {
	var removed int
	if s.deps.Session != nil {
		removed = s.deps.Session.Flush(ReasonManual)
	} else {
		removed = s.deps.Registry.Guard().InvalidateAll()
	}
	s.deps.Hub.SendCacheFlushed(removed, ReasonManual)
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) listKeys(c *gin.Context) {
	entries := s.deps.Registry.Guard().Entries()
	byKey := make(map[string]cache.Entry, len(entries))
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		byKey[e.Key] = e
		keys = append(keys, e.Key)
	}

	keys = cache.FindKeys(keys, strings.TrimSpace(c.Query("find")))
	items := make([]KeyInfo, 0, len(keys))
	for _, k := range keys {
		e := byKey[k]
		items = append(items, KeyInfo{
			Key:      k,
			StoredAt: time.UnixMilli(e.StoredAt).UTC(),
			Bytes:    len(e.Value),
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

func (s *Server) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.sessionInfo())
}

func (s *Server) logout(c *gin.Context) {
	if s.deps.Session == nil {
		RespondWithError(c, http.StatusServiceUnavailable, "no session configured", "UNAVAILABLE")
		return
	}
	if err := s.deps.Session.Logout(session.ReasonLogout); err != nil {
		// the session is over either way; only the credential file lingers
		loggerFrom(c).Warn("logout left credential behind", zap.Error(err))
	}
	c.JSON(http.StatusOK, s.sessionInfo())
}

func (s *Server) sessionInfo() SessionInfo {
	if s.deps.Session == nil {
		return SessionInfo{}
	}
	info := SessionInfo{
		Authenticated: s.deps.Session.Authenticated(),
		Subscribers:   s.deps.Session.Subscribers(),
	}
	if exp := s.deps.Session.Expiry(); info.Authenticated && !exp.IsZero() {
		info.ExpiresAt = &exp
	}
	return info
}

func (s *Server) authenticated() bool {
	return s.deps.Session != nil && s.deps.Session.Authenticated()
}

// queryParams turns the query string into resource parameters, keeping the
// first value of repeated names.
func queryParams(c *gin.Context) cache.Params {
	q := c.Request.URL.Query()
	if len(q) == 0 {
		return nil
	}
	params := make(cache.Params, len(q))
	for name, values := range q {
		if len(values) > 0 {
			params[name] = values[0]
		}
	}
	return params
}
