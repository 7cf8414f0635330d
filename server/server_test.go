package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/scalytics/core-orchestrator/cancelreg"
	"github.com/scalytics/core-orchestrator/event"
	"github.com/scalytics/core-orchestrator/lifecycle"
	"github.com/scalytics/core-orchestrator/logmon"
	"github.com/scalytics/core-orchestrator/policy"
	"github.com/scalytics/core-orchestrator/store"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := event.NewBus()
	cancelReg := cancelreg.New()
	logger := logmon.New(64)
	pe := policy.New(db)
	mgr := lifecycle.New(db, bus, cancelReg, logger, lifecycle.EngineConfig{LauncherPath: "/bin/true", Port: 18090}, nil)

	return New(Config{
		DB: db, Bus: bus, Policy: pe, Manager: mgr, CancelReg: cancelReg, Logger: logger,
	})
}

func TestHealthCheckIsUnauthenticated(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPoolStatusReportsIdleByDefault(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/admin/models/pool-status", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"idle"`)
}

func TestAdminRoutesRequireAPIKeyWhenConfigured(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	bus := event.NewBus()
	cancelReg := cancelreg.New()
	logger := logmon.New(64)
	pe := policy.New(db)
	mgr := lifecycle.New(db, bus, cancelReg, logger, lifecycle.EngineConfig{LauncherPath: "/bin/true", Port: 18091}, nil)

	s := New(Config{DB: db, Bus: bus, Policy: pe, Manager: mgr, CancelReg: cancelReg, Logger: logger, AdminAPIKey: "secret"})

	req := httptest.NewRequest(http.MethodGet, "/api/admin/models/pool-status", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req2 := httptest.NewRequest(http.MethodGet, "/api/admin/models/pool-status", nil)
	req2.Header.Set("Authorization", "Bearer secret")
	rec2 := httptest.NewRecorder()
	s.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)
}

func TestOptionsRequestGetsPermissiveCORSHeaders(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/admin/models/pool-status", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
