package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"deathmatter/internal/metrics"
	"deathmatter/internal/ratelimit"
	"deathmatter/internal/usertoken"
	"deathmatter/internal/util"
	"deathmatter/pkg/domain"
	"deathmatter/services/tools/internal/app"
)

const maxJSONBody = 1 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	TokenVerifier  *usertoken.Verifier
	Redis          *redis.Client
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	TrustedProxies *util.TrustedProxies
	MaxUploadBytes int64

	GenerateRateLimitPerMinute int
	ImageRateLimitPerMinute    int
	SearchRateLimitPerMinute   int
	ContactRateLimitPerMinute  int
}

// Server exposes the obituary tools API.
type Server struct {
	app            *app.App
	tokenVerifier  *usertoken.Verifier
	metrics        *metrics.Metrics
	mux            *http.ServeMux
	allowedOrigins []string
	trustedProxies *util.TrustedProxies
	maxUploadBytes int64

	generateLimiter *ratelimit.FixedWindowLimiter
	imageLimiter    *ratelimit.FixedWindowLimiter
	searchLimiter   *ratelimit.FixedWindowLimiter
	contactLimiter  *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	if cfg.TokenVerifier == nil {
		return nil, errors.New("server: token verifier is required")
	}
	newLimiter := func(name string, limit, def int) (*ratelimit.FixedWindowLimiter, error) {
		if limit <= 0 {
			limit = def
		}
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "deathmatter:tools:ratelimit:"+name, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	s := &Server{
		app:            cfg.App,
		tokenVerifier:  cfg.TokenVerifier,
		metrics:        cfg.Metrics,
		mux:            http.NewServeMux(),
		allowedOrigins: cfg.AllowedOrigins,
		trustedProxies: cfg.TrustedProxies,
		maxUploadBytes: normalizeMaxBytes(cfg.MaxUploadBytes),
	}
	var err error
	if s.generateLimiter, err = newLimiter("generate", cfg.GenerateRateLimitPerMinute, 10); err != nil {
		return nil, err
	}
	if s.imageLimiter, err = newLimiter("images", cfg.ImageRateLimitPerMinute, 5); err != nil {
		return nil, err
	}
	if s.searchLimiter, err = newLimiter("search", cfg.SearchRateLimitPerMinute, 30); err != nil {
		return nil, err
	}
	if s.contactLimiter, err = newLimiter("contact", cfg.ContactRateLimitPerMinute, 3); err != nil {
		return nil, err
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("tools",
		util.WithSecurityHeaders(util.WithCORS(s.allowedOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	// chat co-editing
	s.mux.Handle("POST /api/chat", s.authenticated(s.handleChat))
	s.mux.Handle("POST /api/revise", s.authenticated(s.handleRevise))
	s.mux.Handle("GET /api/document", s.authenticated(s.handleLatestDocument))

	// entries
	s.mux.Handle("GET /api/entries", s.authenticated(s.handleListEntries))
	s.mux.Handle("POST /api/entries", s.authenticated(s.handleCreateEntry))
	s.mux.Handle("GET /api/entries/{entryId}", s.authenticated(s.handleGetEntry))
	s.mux.Handle("PATCH /api/entries/{entryId}", s.authenticated(s.handleUpdateEntry))
	s.mux.Handle("DELETE /api/entries/{entryId}", s.authenticated(s.handleDeleteEntry))
	s.mux.Handle("GET /api/entries/{entryId}/details", s.authenticated(s.handleGetDetails))
	s.mux.Handle("PUT /api/entries/{entryId}/details", s.authenticated(s.handleSaveDetails))
	s.mux.Handle("POST /api/entries/{entryId}/portrait", s.authenticated(s.handleUploadPortrait))

	// obituaries and documents
	s.mux.Handle("POST /api/entries/{entryId}/obituaries", s.authenticated(s.handleGenerate))
	s.mux.Handle("POST /api/entries/{entryId}/obituaries/from-file", s.authenticated(s.handleGenerateFromFile))
	s.mux.Handle("GET /api/entries/{entryId}/documents", s.authenticated(s.handleListDocuments))
	s.mux.Handle("GET /api/documents/{documentId}", s.authenticated(s.handleGetDocument))
	s.mux.Handle("DELETE /api/documents/{documentId}", s.authenticated(s.handleDeleteDocument))
	s.mux.Handle("GET /api/documents/{documentId}/chat", s.authenticated(s.handleDocumentChat))

	// chats and votes
	s.mux.Handle("GET /api/chats", s.authenticated(s.handleListChats))
	s.mux.Handle("GET /api/chats/{chatId}/messages", s.authenticated(s.handleChatMessages))
	s.mux.Handle("DELETE /api/chats/{chatId}/messages", s.authenticated(s.handleDeleteTrailingMessages))
	s.mux.Handle("PATCH /api/chats/{chatId}/visibility", s.authenticated(s.handleChatVisibility))
	s.mux.Handle("DELETE /api/chats/{chatId}", s.authenticated(s.handleDeleteChat))
	s.mux.Handle("GET /api/vote", s.authenticated(s.handleListVotes))
	s.mux.Handle("PATCH /api/vote", s.authenticated(s.handleVote))

	// images, quotes and scripture
	s.mux.Handle("POST /api/entries/{entryId}/images", s.authenticated(s.handleCreateImages))
	s.mux.Handle("GET /api/entries/{entryId}/images", s.authenticated(s.handleListImages))
	s.mux.Handle("DELETE /api/images/{imageId}", s.authenticated(s.handleDeleteImage))
	s.mux.Handle("GET /api/quotes", s.authenticated(s.handleSearchQuotes))
	s.mux.Handle("GET /api/scripture", s.authenticated(s.handleSearchScripture))
	s.mux.Handle("GET /api/entries/{entryId}/quotes", s.authenticated(s.handleListSavedQuotes))
	s.mux.Handle("POST /api/entries/{entryId}/quotes", s.authenticated(s.handleSaveQuote))
	s.mux.Handle("DELETE /api/quotes/{quoteId}", s.authenticated(s.handleDeleteSavedQuote))

	// public
	s.mux.HandleFunc("POST /api/contact", s.handleContact)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		logger := util.LoggerFromContext(r.Context()).With("user_id", id.Subject, "session_id", id.SessionID)
		r = r.WithContext(util.ContextWithLogger(r.Context(), logger))
		user := domain.User{ID: id.Subject, Email: id.Email, Name: id.Name}
		if err := s.app.EnsureUser(r.Context(), user); err != nil {
			s.writeAppError(w, r, err)
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (usertoken.Identity, bool) {
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "tools.token.verify", "fail", "reason", "missing_token")
		return usertoken.Identity{}, false
	}
	id, err := s.tokenVerifier.Verify(token)
	if err != nil {
		s.audit(r, "tools.token.verify", "fail", "reason", "invalid_signature_or_claims")
		return usertoken.Identity{}, false
	}
	return id, true
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// statusFor maps app errors to HTTP statuses and client-safe messages.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, app.ErrInvalidID):
		return http.StatusBadRequest, "invalid id format"
	case errors.Is(err, app.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, app.ErrEntryNotFound),
		errors.Is(err, app.ErrDocumentNotFound),
		errors.Is(err, app.ErrChatNotFound),
		errors.Is(err, app.ErrMessageNotFound),
		errors.Is(err, app.ErrImageNotFound),
		errors.Is(err, app.ErrQuoteNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, app.ErrForbidden):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, app.ErrMessageCapReached):
		return http.StatusForbidden, "You have reached the daily message limit. Please try again tomorrow."
	case errors.Is(err, app.ErrDocumentLimit):
		return http.StatusConflict, err.Error()
	case errors.Is(err, app.ErrUpstream):
		return http.StatusBadGateway, "upstream service unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	logger := util.LoggerFromContext(r.Context())
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "path", r.URL.Path, "status", status, "err", err)
	case status == http.StatusUnauthorized:
		s.audit(r, "tools.ownership", "fail", "err", err.Error())
	default:
		logger.Debug("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeError(w, status, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 10 << 20
	}
	return value
}

func (s *Server) clientIP(r *http.Request) string {
	return util.ClientIP(r, s.trustedProxies)
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", s.clientIP(r),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

// allowRate counts the request against limiter keyed by route and caller.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, route, caller string) bool {
	decision := limiter.Allow(r.Context(), route+"|"+caller)
	if decision.Allowed {
		return true
	}
	s.metrics.Limited(route)
	retry := int(decision.RetryAfter.Round(time.Second).Seconds())
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, http.StatusTooManyRequests, "too many requests, please slow down")
	return false
}
