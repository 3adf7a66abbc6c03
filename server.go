package callbackd

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Server exposes the registration and administrative HTTP API. The routing
// layer is thin: every decision of consequence is delegated to the cipher,
// the guard, the audit trail, or a store.
type Server struct {
	cfg       Config
	apiKey    string
	cipher    *RotatingCipher // nil: encrypted payloads unsupported
	guard     *Guard
	audit     *AuditTrail
	callbacks CallbackStore
	sessions  *sessionStore
	loginLim  *KeyLimiter
	regLim    *KeyLimiter
	logger    *slog.Logger

	httpServer *http.Server
}

// NewServer wires the service together. The API key authenticates agents;
// when cfg.APIKey is empty a random one is generated and logged once.
func NewServer(cfg Config, guard *Guard, audit *AuditTrail, callbacks CallbackStore, logger *slog.Logger) (*Server, error) {
	logger = orDiscard(logger)

	apiKey := cfg.APIKey
	if apiKey == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate api key: %w", err)
		}
		apiKey = base64.RawURLEncoding.EncodeToString(buf)
		logger.Info("generated agent api key, save it", "api_key", apiKey)
	}

	s := &Server{
		cfg:       cfg,
		apiKey:    apiKey,
		cipher:    cfg.Cipher(),
		guard:     guard,
		audit:     audit,
		callbacks: callbacks,
		sessions:  newSessionStore(cfg.SessionTTL()),
		loginLim:  NewKeyLimiter(cfg.LoginRatePerSec, cfg.LoginBurst, 10*time.Minute),
		regLim:    NewKeyLimiter(cfg.RegisterRatePerSec, cfg.RegisterBurst, 10*time.Minute),
		logger:    logger,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.httpServer = &http.Server{
		Addr:         cfg.Listen,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/register", s.handleRegister)
	mux.HandleFunc("/api/v1/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("/api/v1/login", s.handleLogin)
	mux.HandleFunc("/api/v1/logout", s.handleLogout)
	mux.HandleFunc("/api/v1/callbacks", s.handleCallbacks)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// APIKey returns the effective agent key (configured or generated).
func (s *Server) APIKey() string { return s.apiKey }

// Start runs the server until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		s.logger.Info("server shut down")
		return nil
	case err := <-errChan:
		return err
	}
}

// clientAddr prefers the first X-Forwarded-For hop, falling back to the
// connection's remote host.
func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) checkAPIKey(key string) bool {
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) == 1
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"time":      time.Now().UTC().Format(time.RFC3339),
		"encrypted": s.cipher != nil,
	})
}

// registerRequest is the agent registration envelope. The unencrypted form
// carries the report fields inline; the encrypted form carries an opaque
// payload that must decrypt to the same report JSON.
type registerRequest struct {
	APIKey    string `json:"api_key"`
	Encrypted bool   `json:"encrypted,omitempty"`
	Data      string `json:"data,omitempty"`
	Report
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	source := clientAddr(r)
	if !s.regLim.Allow(source, time.Now()) {
		writeError(w, http.StatusTooManyRequests, "slow down")
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !s.checkAPIKey(req.APIKey) {
		s.audit.Record("", ActionAPIAuthFailed, source, "invalid api key")
		writeError(w, http.StatusUnauthorized, "invalid or missing api key")
		return
	}

	report := req.Report
	if req.Encrypted {
		if s.cipher == nil {
			s.audit.Record("", ActionDecryptError, source, "no cipher configured")
			writeError(w, http.StatusInternalServerError, "server does not support encrypted callbacks")
			return
		}
		plain, err := s.cipher.Decrypt(req.Data)
		if err != nil {
			s.audit.Record("", ActionDecryptError, source, "failed to decrypt callback data")
			writeError(w, http.StatusBadRequest, "failed to decrypt callback data")
			return
		}
		report = Report{}
		if err := json.Unmarshal(plain, &report); err != nil {
			s.audit.Record("", ActionDecryptError, source, "decrypted data is not a valid report")
			writeError(w, http.StatusBadRequest, "decrypted data is not a valid report")
			return
		}
	}

	now := time.Now().UTC()
	rec := CallbackRecord{
		Time:          now,
		SourceAddr:    source,
		Report:        report,
		UserAgent:     r.Header.Get("User-Agent"),
		LastSeen:      now,
		Verified:      true,
		IntegrityHash: ReportHash(now, source, report),
	}
	id, err := s.callbacks.SaveReport(r.Context(), rec)
	if err != nil {
		s.logger.Error("save callback failed", "err", err)
		s.audit.Record("", ActionCallbackError, source, err.Error())
		writeError(w, http.StatusInternalServerError, "failed to store callback")
		return
	}

	s.audit.Record("", ActionCallbackRegistered, source, "hostname: "+report.Hostname)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "success",
		"callback_id":    id,
		"timestamp":      now.Format(time.RFC3339Nano),
		"integrity_hash": rec.IntegrityHash,
	})
}

type heartbeatRequest struct {
	APIKey   string `json:"api_key"`
	Hostname string `json:"hostname"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	source := clientAddr(r)

	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !s.checkAPIKey(req.APIKey) {
		s.audit.Record("", ActionAPIAuthFailed, source, "invalid api key")
		writeError(w, http.StatusUnauthorized, "invalid or missing api key")
		return
	}

	now := time.Now().UTC()
	matched, err := s.callbacks.TouchHeartbeat(r.Context(), req.Hostname, source, now)
	if err != nil {
		s.logger.Error("heartbeat update failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to update heartbeat")
		return
	}
	if !matched {
		writeError(w, http.StatusNotFound, "no matching callback found")
		return
	}
	s.audit.Record("", ActionHeartbeat, source, "hostname: "+req.Hostname)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"timestamp": now.Format(time.RFC3339Nano),
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	source := clientAddr(r)
	if !s.loginLim.Allow(source, time.Now()) {
		writeError(w, http.StatusTooManyRequests, "slow down")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		s.audit.Record("", ActionLoginFailed, source, "missing credentials")
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}

	decision, err := s.guard.Verify(r.Context(), req.Username, req.Password)
	if err != nil {
		// A store outage is not an authentication failure; say so.
		s.logger.Error("verification unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, "authentication temporarily unavailable")
		return
	}

	switch decision {
	case DecisionAccepted:
		token, err := s.sessions.Issue(req.Username)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to create session")
			return
		}
		s.audit.Record(req.Username, ActionLoginSuccess, source, "")
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "success",
			"token":      token,
			"expires_in": int(s.cfg.SessionTTL().Seconds()),
		})
	case DecisionLocked:
		s.audit.Record(req.Username, ActionLoginLocked, source, "attempt while locked")
		writeError(w, http.StatusForbidden, "account temporarily locked")
	default:
		s.audit.Record(req.Username, ActionLoginFailed, source, "invalid credentials")
		writeError(w, http.StatusUnauthorized, "invalid username or password")
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, prefix) {
		return auth[len(prefix):]
	}
	return ""
}

// requireSession resolves the request's bearer token, writing the error
// response itself when the session is missing or expired.
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request) (string, bool) {
	username, ok := s.sessions.Validate(bearerToken(r))
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return username, true
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if username, ok := s.sessions.Revoke(bearerToken(r)); ok {
		s.audit.Record(username, ActionLogout, clientAddr(r), "")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleCallbacks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireSession(w, r); !ok {
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	records, err := s.callbacks.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("list callbacks failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list callbacks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"count":     len(records),
		"callbacks": records,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireSession(w, r); !ok {
		return
	}

	stats, err := s.callbacks.Stats(r.Context())
	if err != nil {
		s.logger.Error("stats failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"stats":  stats,
	})
}
