// Package httpapi binds the session lifecycle operations to a JSON-over-HTTP
// surface. Payload shapes mirror the cluster-internal request/response
// contracts; every response carries an error_code alongside its payload
// fields so callers can branch without inspecting HTTP status text.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kvgraph/metad/internal/logctx"
	"github.com/kvgraph/metad/sessions"
)

// Config for the HTTP handler.
type Config struct {
	// Log receives request and operation events. Defaults to slog.Default().
	Log *slog.Logger
	// Registry receives the operation metrics. Defaults to the global
	// Prometheus registerer.
	Registry prometheus.Registerer
}

// Handler serves the session API.
type Handler struct {
	mgr     *sessions.Manager
	log     *slog.Logger
	metrics *metrics
}

// New builds the routed HTTP handler for a session manager.
func New(mgr *sessions.Manager, cfg Config) http.Handler {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	reg := cfg.Registry
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	h := &Handler{mgr: mgr, log: log, metrics: newMetrics(reg)}

	r := chi.NewRouter()
	r.Use(h.requestID)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/sessions", h.op("create_session", h.createSession))
		r.Post("/sessions/update", h.op("update_sessions", h.updateSessions))
		r.Get("/sessions", h.op("list_sessions", h.listSessions))
		r.Get("/sessions/{id}", h.op("get_session", h.getSession))
		r.Post("/sessions/remove", h.op("remove_sessions", h.removeSessions))
		r.Post("/queries/kill", h.op("kill_queries", h.killQueries))
	})

	return r
}

// --- Wire types ---

// ErrorCode is the machine-readable outcome of one operation.
type ErrorCode string

const (
	CodeOK              ErrorCode = "ok"
	CodeBadRequest      ErrorCode = "bad_request"
	CodeUserNotFound    ErrorCode = "user_not_found"
	CodeSessionNotFound ErrorCode = "session_not_found"
	CodeQueryNotFound   ErrorCode = "query_not_found"
	CodeStoreError      ErrorCode = "store_error"
)

type createSessionRequest struct {
	User      string `json:"user"`
	GraphAddr string `json:"graph_addr"`
	ClientIP  string `json:"client_ip"`
}

type createSessionResponse struct {
	ErrorCode ErrorCode         `json:"error_code"`
	Session   *sessions.Session `json:"session,omitempty"`
}

type updateSessionsRequest struct {
	Sessions []*sessions.Session `json:"sessions"`
}

type updateSessionsResponse struct {
	ErrorCode      ErrorCode                              `json:"error_code"`
	KilledQueries  map[int64]map[int64]sessions.QueryDesc `json:"killed_queries,omitempty"`
	KilledSessions []int64                                `json:"killed_sessions,omitempty"`
}

type listSessionsResponse struct {
	ErrorCode ErrorCode           `json:"error_code"`
	Sessions  []*sessions.Session `json:"sessions"`
}

type getSessionResponse struct {
	ErrorCode ErrorCode         `json:"error_code"`
	Session   *sessions.Session `json:"session,omitempty"`
}

type removeSessionsRequest struct {
	SessionIDs []int64 `json:"session_ids"`
}

type removeSessionsResponse struct {
	ErrorCode         ErrorCode `json:"error_code"`
	RemovedSessionIDs []int64   `json:"removed_session_ids"`
}

type killQueriesRequest struct {
	KillQueries map[int64][]int64 `json:"kill_queries"`
}

type killQueriesResponse struct {
	ErrorCode ErrorCode `json:"error_code"`
}

// --- Operations ---

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(r, w, http.StatusBadRequest, createSessionResponse{ErrorCode: CodeBadRequest})
		return
	}

	session, err := h.mgr.CreateSession(r.Context(), req.User, req.GraphAddr, req.ClientIP)
	if err != nil {
		// A store failure still reports the generated session; the caller
		// gets both the record and the error code.
		h.writeJSON(r, w, statusFor(err), createSessionResponse{ErrorCode: codeFor(err), Session: session})
		return
	}
	h.writeJSON(r, w, http.StatusOK, createSessionResponse{ErrorCode: CodeOK, Session: session})
}

func (h *Handler) updateSessions(w http.ResponseWriter, r *http.Request) {
	var req updateSessionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(r, w, http.StatusBadRequest, updateSessionsResponse{ErrorCode: CodeBadRequest})
		return
	}

	res, err := h.mgr.UpdateSessions(r.Context(), req.Sessions)
	if err != nil {
		h.writeJSON(r, w, statusFor(err), updateSessionsResponse{ErrorCode: codeFor(err)})
		return
	}
	h.writeJSON(r, w, http.StatusOK, updateSessionsResponse{
		ErrorCode:      CodeOK,
		KilledQueries:  res.KilledQueries,
		KilledSessions: res.KilledSessions,
	})
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	listed, err := h.mgr.ListSessions(r.Context())
	if err != nil {
		h.writeJSON(r, w, statusFor(err), listSessionsResponse{ErrorCode: codeFor(err)})
		return
	}
	if listed == nil {
		listed = []*sessions.Session{}
	}
	h.writeJSON(r, w, http.StatusOK, listSessionsResponse{ErrorCode: CodeOK, Sessions: listed})
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.writeJSON(r, w, http.StatusBadRequest, getSessionResponse{ErrorCode: CodeBadRequest})
		return
	}

	session, err := h.mgr.GetSession(r.Context(), id)
	if err != nil {
		h.writeJSON(r, w, statusFor(err), getSessionResponse{ErrorCode: codeFor(err)})
		return
	}
	h.writeJSON(r, w, http.StatusOK, getSessionResponse{ErrorCode: CodeOK, Session: session})
}

func (h *Handler) removeSessions(w http.ResponseWriter, r *http.Request) {
	var req removeSessionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(r, w, http.StatusBadRequest, removeSessionsResponse{ErrorCode: CodeBadRequest})
		return
	}

	removed, err := h.mgr.RemoveSessions(r.Context(), req.SessionIDs)
	if err != nil {
		h.writeJSON(r, w, statusFor(err), removeSessionsResponse{ErrorCode: codeFor(err)})
		return
	}
	h.writeJSON(r, w, http.StatusOK, removeSessionsResponse{ErrorCode: CodeOK, RemovedSessionIDs: removed})
}

func (h *Handler) killQueries(w http.ResponseWriter, r *http.Request) {
	var req killQueriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(r, w, http.StatusBadRequest, killQueriesResponse{ErrorCode: CodeBadRequest})
		return
	}

	if err := h.mgr.KillQueries(r.Context(), req.KillQueries); err != nil {
		h.writeJSON(r, w, statusFor(err), killQueriesResponse{ErrorCode: codeFor(err)})
		return
	}
	h.writeJSON(r, w, http.StatusOK, killQueriesResponse{ErrorCode: CodeOK})
}

// --- Error mapping ---

func codeFor(err error) ErrorCode {
	var se *sessions.StoreError
	switch {
	case errors.Is(err, sessions.ErrUserNotFound):
		return CodeUserNotFound
	case errors.Is(err, sessions.ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, sessions.ErrQueryNotFound):
		return CodeQueryNotFound
	case errors.As(err, &se):
		return CodeStoreError
	default:
		return CodeStoreError
	}
}

func statusFor(err error) int {
	switch codeFor(err) {
	case CodeUserNotFound, CodeSessionNotFound, CodeQueryNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(r *http.Request, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.WarnContext(r.Context(), "response encode failed", slog.String("err", err.Error()))
	}
}

// op wraps an operation handler with logging and metrics. The wrapped
// ResponseWriter captures the status code for the outcome label.
func (h *Handler) op(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := logctx.WithOpData(r.Context(), &logctx.OpData{Name: name})
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		next(sw, r.WithContext(ctx))
		elapsed := time.Since(start)

		h.metrics.observe(name, sw.status, elapsed)
		h.log.InfoContext(ctx, "session op",
			slog.String("op", name),
			slog.Int("status", sw.status),
			slog.Duration("elapsed", elapsed))
	}
}

func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
			RequestID:  id,
			Method:     r.Method,
			Path:       r.URL.Path,
			RemoteAddr: r.RemoteAddr,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
