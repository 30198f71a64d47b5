// Package server implements the request pipeline of §4.1: JSON framing,
// access logging, client-IP resolution, rate limiting, IP allowlisting,
// bearer-token authentication, JSON-RPC shape checking, and the method
// router. It is grounded on the teacher's ControlServer/McpGateway
// http.ServeMux plumbing and global CORS header pattern
// (internal/api/server.go), generalized into the ordered middleware chain
// spec.md requires.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/forgewright/winbuildd/internal/config"
	"github.com/forgewright/winbuildd/internal/logger"
	"github.com/forgewright/winbuildd/internal/ratelimit"
	"github.com/forgewright/winbuildd/internal/rpc"
	"github.com/forgewright/winbuildd/internal/security"
	"github.com/forgewright/winbuildd/internal/tools"
)

const maxBodyBytes = 1024 * 1024 // 1 MiB, Stage A

// Server wires together the pipeline stages and the tool dispatcher.
type Server struct {
	cfg        *config.Config
	limiter    *ratelimit.Store
	allowlist  *security.Allowlist
	dispatcher *tools.Dispatcher
	startedAt  time.Time
	mux        *http.ServeMux
}

// New builds a Server. limiter is accepted rather than constructed here so
// the caller (cmd/winbuildd) owns its lifecycle and can call Destroy on
// shutdown.
func New(cfg *config.Config, limiter *ratelimit.Store, dispatcher *tools.Dispatcher) *Server {
	s := &Server{
		cfg:        cfg,
		limiter:    limiter,
		allowlist:  security.NewAllowlist(cfg.AllowedIPs),
		dispatcher: dispatcher,
		startedAt:  time.Now(),
	}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/mcp", s.handleMCP)
	return s
}

// Handler returns the composed http.Handler, with CORS applied globally as
// the teacher's server does.
func (s *Server) Handler() http.Handler {
	return s.withCORS(s.mux)
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(s.cfg.AllowedOrigins) > 0 {
			reqOrigin := r.Header.Get("Origin")
			for _, allowed := range s.cfg.AllowedOrigins {
				if allowed == reqOrigin {
					origin = reqOrigin
					break
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":      "ok",
		"server":      s.cfg.ServerName,
		"version":     s.cfg.ServerVersion,
		"remoteHosts": s.cfg.KnownRemoteHosts,
		"configuration": map[string]any{
			"commandTimeout": s.cfg.CommandTimeoutMs,
			"timeoutMinutes": s.cfg.MaxAllowedTimeoutMs / 60000,
			"dangerousMode":  s.cfg.Modes.Dangerous,
			"devCommands":    s.cfg.Modes.DevCommands,
			"authConfigured": authConfigured(s.cfg),
			"port":           s.cfg.PreferredPort,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func authConfigured(cfg *config.Config) bool {
	return cfg.AuthToken != "" && cfg.AuthToken != "default-token-change-me"
}

// handleMCP runs stages A-H of §4.1 in strict order.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK

	defer func() {
		logger.Access(formatAccessLog(r, status, time.Since(start)))
	}()

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		w.WriteHeader(status)
		return
	}

	// Stage A: body ingest with a 1 MiB limit.
	limited := io.LimitReader(r.Body, maxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, rpc.NewError(nil, rpc.CodeParseError, "Parse error", nil))
		return
	}
	if len(body) > maxBodyBytes {
		status = http.StatusRequestEntityTooLarge
		w.WriteHeader(status)
		return
	}

	var req rpc.Request
	if err := json.Unmarshal(body, &req); err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, rpc.NewError(nil, rpc.CodeParseError, "Parse error", nil))
		return
	}

	// "id" unmarshals to nil whether the key is absent or explicitly null;
	// §4.1 Stage G must reject absence but accept an explicit null, so the
	// raw object is inspected separately to tell the two apart.
	var shape map[string]json.RawMessage
	idPresent := json.Unmarshal(body, &shape) == nil && hasKey(shape, "id")

	// Stage C: client IP resolution.
	clientIP := resolveClientIP(r)
	localhost := isLocalhostIP(clientIP)

	// Stage D: rate limit (bypassed in dangerous mode, but logged).
	if s.cfg.Modes.Dangerous {
		logger.Security("rate limit bypassed: dangerous mode enabled for client " + clientIP)
	} else {
		result := s.limiter.CheckLimit(clientIP, s.cfg.RateLimit.MaxRequests, time.Duration(s.cfg.RateLimit.WindowMs)*time.Millisecond)
		if !result.Allowed {
			status = http.StatusTooManyRequests
			w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
			writeJSON(w, status, map[string]any{"error": "rate limit exceeded", "retryAfter": result.RetryAfter.Seconds()})
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	}

	// Stage E: IP allowlist.
	if !s.allowlist.Allows(clientIP) {
		status = http.StatusForbidden
		writeJSON(w, status, map[string]any{"error": "forbidden"})
		return
	}

	// Stage F: authentication (exempt path handled by separate mux entry).
	if authConfigured(s.cfg) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		token := header
		if len(header) >= 7 && strings.EqualFold(header[:7], "bearer ") {
			token = strings.TrimSpace(header[7:])
		}
		if !constantTimeEqual(token, s.cfg.AuthToken) {
			status = http.StatusUnauthorized
			logger.Security("auth rejected: expected " + logger.Fingerprint(s.cfg.AuthToken) + " received " + logger.Fingerprint(token))
			writeJSON(w, status, map[string]any{"error": "unauthorized"})
			return
		}
	}

	// Stage G: JSON-RPC shape check. id is a required field (spec.md: "id
	// present (may be null)"); only its absence is a violation.
	if req.JSONRPC != "2.0" || req.Method == "" || !idPresent {
		status = http.StatusBadRequest
		writeJSON(w, status, rpc.NewError(req.ID, rpc.CodeInvalidRequest, "Invalid Request", nil))
		return
	}

	// Stage H: method router.
	resp := s.route(r.Context(), req, localhost)
	if resp.Error != nil && resp.Error.Code == rpc.CodeInternalError {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func (s *Server) route(ctx context.Context, req rpc.Request, callerIsLocalhost bool) rpc.Response {
	switch req.Method {
	case "initialize":
		return rpc.NewResult(req.ID, map[string]any{
			"protocolVersion": s.cfg.ProtocolVersion,
			"capabilities": map[string]any{
				"tools":     map[string]any{},
				"resources": map[string]any{},
				"prompts":   map[string]any{},
				"logging":   map[string]any{},
			},
			"serverInfo": map[string]any{"name": s.cfg.ServerName, "version": s.cfg.ServerVersion},
		})
	case "ping":
		return rpc.NewResult(req.ID, map[string]any{"status": "pong"})
	case "shutdown":
		return rpc.NewResult(req.ID, map[string]any{})
	case "tools/list":
		return rpc.NewResult(req.ID, map[string]any{"tools": s.dispatcher.ListTools()})
	case "tools/call":
		var params rpc.ToolCallParams
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return rpc.NewError(req.ID, rpc.CodeInvalidParams, "Invalid params", err.Error())
			}
		}
		result := s.dispatcher.Call(ctx, params.Name, params.Arguments, callerIsLocalhost)
		return rpc.NewResult(req.ID, result)
	default:
		return rpc.NewError(req.ID, rpc.CodeMethodNotFound, "Method not found", nil)
	}
}

func hasKey(m map[string]json.RawMessage, key string) bool {
	_, ok := m[key]
	return ok
}

func resolveClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

func isLocalhostIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return addr.IsLoopback()
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func formatAccessLog(r *http.Request, status int, duration time.Duration) string {
	return resolveClientIP(r) + " " + r.Method + " " + r.URL.Path + " " +
		strconv.Itoa(status) + " " + duration.String() + " ua=" + r.UserAgent()
}
