package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgewright/winbuildd/internal/config"
	"github.com/forgewright/winbuildd/internal/logger"
	"github.com/forgewright/winbuildd/internal/ratelimit"
	"github.com/forgewright/winbuildd/internal/tools"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *ratelimit.Store) {
	t.Helper()
	cfg := &config.Config{
		ServerName:          "winbuildd",
		ServerVersion:       "test",
		ProtocolVersion:     config.ProtocolVersion,
		CommandTimeoutMs:    5000,
		MaxAllowedTimeoutMs: 10000,
		RateLimit:           config.RateLimit{MaxRequests: 100, WindowMs: 60000},
	}
	if mutate != nil {
		mutate(cfg)
	}
	limiter := ratelimit.New()
	dispatcher := tools.NewDispatcher(cfg, nil, nil)
	return New(cfg, limiter, dispatcher), limiter
}

func doMCP(s *Server, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestToolsListReturnsBuiltinTools(t *testing.T) {
	s, limiter := newTestServer(t, nil)
	defer limiter.Destroy()

	rec := doMCP(s, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	result := resp["result"].(map[string]any)
	toolsList := result["tools"].([]any)

	names := make(map[string]bool)
	for _, raw := range toolsList {
		tool := raw.(map[string]any)
		names[tool["name"].(string)] = true
	}

	for _, want := range []string{"run_powershell", "build_dotnet", "ssh_command", "run_batch", "mcp_self_build", "process_manager", "file_sync"} {
		assert.True(t, names[want], "expected tool %s", want)
	}

	buildCount := 0
	for name := range names {
		if len(name) > 6 && name[:6] == "build_" {
			buildCount++
		}
	}
	assert.GreaterOrEqual(t, buildCount, 10)
}

func TestBadJSONReturnsParseError(t *testing.T) {
	s, limiter := newTestServer(t, nil)
	defer limiter.Destroy()

	rec := doMCP(s, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Parse error")
	assert.Contains(t, rec.Body.String(), `"id":null`)
}

func TestRateLimitTrip(t *testing.T) {
	s, limiter := newTestServer(t, func(c *config.Config) {
		c.RateLimit = config.RateLimit{MaxRequests: 3, WindowMs: 60000}
	})
	defer limiter.Destroy()

	for i := 0; i < 3; i++ {
		rec := doMCP(s, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec := doMCP(s, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestAuthRejectionLogsOnlyFingerprints(t *testing.T) {
	s, limiter := newTestServer(t, func(c *config.Config) {
		c.AuthToken = "sekret12345"
	})
	defer limiter.Destroy()

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	req.Header.Set("Authorization", "Bearer wrong1234")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var messages []string
	for _, e := range logger.GetLogs(logger.ChannelSecurity) {
		messages = append(messages, e.Message)
	}
	joined := strings.Join(messages, "\n")
	assert.Contains(t, joined, "sekr…2345")
	assert.Contains(t, joined, "wron…1234")
	assert.NotContains(t, joined, "sekret12345")
	assert.NotContains(t, joined, "wrong1234")
}

func TestInvalidRequestShapeReturnsInvalidRequestCode(t *testing.T) {
	s, limiter := newTestServer(t, nil)
	defer limiter.Destroy()

	rec := doMCP(s, `{"jsonrpc":"1.0","id":1,"method":"ping"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "-32600")
}

func TestMissingIDFieldReturnsInvalidRequestCode(t *testing.T) {
	s, limiter := newTestServer(t, nil)
	defer limiter.Destroy()

	rec := doMCP(s, `{"jsonrpc":"2.0","method":"ping"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "-32600")
}

func TestExplicitNullIDIsAccepted(t *testing.T) {
	s, limiter := newTestServer(t, nil)
	defer limiter.Destroy()

	rec := doMCP(s, `{"jsonrpc":"2.0","id":null,"method":"ping"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pong")
}

func TestUnknownMethodReturnsMethodNotFound(t *testing.T) {
	s, limiter := newTestServer(t, nil)
	defer limiter.Destroy()

	rec := doMCP(s, `{"jsonrpc":"2.0","id":1,"method":"nope"}`)
	assert.Contains(t, rec.Body.String(), "-32601")
}

func TestPingReturnsPong(t *testing.T) {
	s, limiter := newTestServer(t, nil)
	defer limiter.Destroy()

	rec := doMCP(s, `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	assert.Contains(t, rec.Body.String(), "pong")
}

func TestHealthEndpointUnauthenticated(t *testing.T) {
	s, limiter := newTestServer(t, func(c *config.Config) {
		c.AuthToken = "sekret12345"
	})
	defer limiter.Destroy()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
