package gateway

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/scalytics/core-orchestrator/cancelreg"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeResolver struct {
	engineURL string
	ok        bool
}

func (f fakeResolver) ActiveModel() (int64, string, string, bool) {
	return 1, "llama-3-8b", f.engineURL, f.ok
}

func TestValidateBodyRejectsEmptyMessages(t *testing.T) {
	err := validateBody([]byte(`{"messages":[]}`))
	require.NotNil(t, err)
	require.Equal(t, "messages", err.Param)
}

func TestValidateBodyRejectsBadRole(t *testing.T) {
	err := validateBody([]byte(`{"messages":[{"role":"system-bad","content":"hi"}]}`))
	require.NotNil(t, err)
}

func TestValidateBodyRejectsOutOfRangeTemperature(t *testing.T) {
	err := validateBody([]byte(`{"messages":[{"role":"user","content":"hi"}],"temperature":3}`))
	require.NotNil(t, err)
	require.Equal(t, "temperature", err.Param)
}

func TestValidateBodyAcceptsMinimalValidBody(t *testing.T) {
	err := validateBody([]byte(`{"messages":[{"role":"user","content":"hi"}],"user_id":"42"}`))
	require.Nil(t, err)
}

func TestValidateBodyRejectsMissingUserID(t *testing.T) {
	err := validateBody([]byte(`{"messages":[{"role":"user","content":"hi"}]}`))
	require.NotNil(t, err)
	require.Equal(t, "user_id", err.Param)
}

func TestHandlerRejectsNonLocalhost(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	g := New(fakeResolver{engineURL: upstream.URL, ok: true}, cancelreg.New())

	router := gin.New()
	router.POST("/api/internal/v1/local_completion", g.Handler())

	req := httptest.NewRequest(http.MethodPost, "/api/internal/v1/local_completion", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}]}`))
	req.RemoteAddr = "203.0.113.5:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerReturns500WhenNoModelActive(t *testing.T) {
	g := New(fakeResolver{ok: false}, cancelreg.New())

	router := gin.New()
	router.POST("/api/internal/v1/local_completion", g.Handler())

	req := httptest.NewRequest(http.MethodPost, "/api/internal/v1/local_completion", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}],"user_id":"42"}`))
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandlerStreamsSSEFramesFromUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Hello there")
	}))
	defer upstream.Close()

	g := New(fakeResolver{engineURL: upstream.URL, ok: true}, cancelreg.New())

	router := gin.New()
	router.POST("/api/internal/v1/local_completion", g.Handler())

	req := httptest.NewRequest(http.MethodPost, "/api/internal/v1/local_completion", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}],"user_id":"42"}`))
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	scanner := bufio.NewScanner(rec.Body)
	var sawDone bool
	for scanner.Scan() {
		if scanner.Text() == "data: [DONE]" {
			sawDone = true
		}
	}
	require.True(t, sawDone)
}

func TestHandlerRewritesModelToActiveModelBeforeForwarding(t *testing.T) {
	var receivedBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedBody, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, "ok")
	}))
	defer upstream.Close()

	g := New(fakeResolver{engineURL: upstream.URL, ok: true}, cancelreg.New())

	router := gin.New()
	router.POST("/api/internal/v1/local_completion", g.Handler())

	req := httptest.NewRequest(http.MethodPost, "/api/internal/v1/local_completion", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}],"user_id":"42","model":"whatever-the-caller-asked-for"}`))
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "llama-3-8b", gjson.GetBytes(receivedBody, "model").String())
}

// TestHandlerCancellationStopsStreamByUserID exercises spec §8 scenario 6: a
// requestCancellation call keyed by the request's own user_id, with no
// server-generated id involved, must be honored by the streaming loop — it
// ends the stream at the next token boundary with the [DONE] sentinel and
// no further content deltas ever reach the client.
func TestHandlerCancellationStopsStreamByUserID(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "should-not-be-seen")
	}))
	defer upstream.Close()

	cancelReg := cancelreg.New()
	cancelReg.Request("42") // cancellation observed before any token is read
	g := New(fakeResolver{engineURL: upstream.URL, ok: true}, cancelReg)

	router := gin.New()
	router.POST("/api/internal/v1/local_completion", g.Handler())

	req := httptest.NewRequest(http.MethodPost, "/api/internal/v1/local_completion", strings.NewReader(`{"messages":[{"role":"user","content":"hi"}],"user_id":"42"}`))
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "data: [DONE]")
	require.NotContains(t, rec.Body.String(), "should-not-be-seen")
}
