// file: internal/server/error_handler_test.go
// version: 2.0.0
// guid: 7c2e9a4b-3d1f-4b6e-8a0c-5f2d7e9b1a3c

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/jdfalk/erpcache/internal/api"
	"github.com/jdfalk/erpcache/internal/resources"
	"github.com/jdfalk/erpcache/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRespondWithResolveError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unknown", fmt.Errorf("%w: %q", resources.ErrUnknownResource, "x"), http.StatusNotFound, "NOT_FOUND"},
		{"params", fmt.Errorf("%w: nope", resources.ErrInvalidParams), http.StatusBadRequest, "BAD_REQUEST"},
		{"unauthorized", &api.HTTPError{StatusCode: http.StatusUnauthorized}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"missing credential", fmt.Errorf("no token: %w", session.ErrUnauthorized), http.StatusUnauthorized, "UNAUTHORIZED"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
		{"upstream status", &api.HTTPError{StatusCode: http.StatusServiceUnavailable}, http.StatusBadGateway, "UPSTREAM_ERROR"},
		{"transport", errors.New("connection refused"), http.StatusBadGateway, "UPSTREAM_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(resp)
			c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/resources/x", nil)

			RespondWithResolveError(c, "x", tt.err)
			assert.Equal(t, tt.status, resp.Code)
			assert.Contains(t, resp.Body.String(), tt.code)
		})
	}
}

func TestErrorsAreLoggedByLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.DebugLevel)

	router := gin.New()
	router.Use(requestLogger(zap.New(core)))
	router.GET("/bad", func(c *gin.Context) { RespondWithBadRequest(c, "bad input") })
	router.GET("/down", func(c *gin.Context) { RespondWithBadGateway(c, "backend down") })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bad", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/down", nil))

	warn := logs.FilterMessage("bad input").All()
	require.Len(t, warn, 1)
	assert.Equal(t, zap.WarnLevel, warn[0].Level)

	errs := logs.FilterMessage("backend down").All()
	require.Len(t, errs, 1)
	assert.Equal(t, zap.ErrorLevel, errs[0].Level)

	assert.Equal(t, 2, logs.FilterMessage("request").Len())
}

func TestLoggerFromDefaultsToNop(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.NotNil(t, loggerFrom(c))
}
