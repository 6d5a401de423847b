package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/research/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/research/internal/policy"
	"github.com/Kocoro-lab/Shannon/go/research/internal/research"
	"github.com/Kocoro-lab/Shannon/go/research/internal/session"
	"github.com/Kocoro-lab/Shannon/go/research/internal/streaming"
	"github.com/Kocoro-lab/Shannon/go/research/internal/tracing"
)

const (
	defaultDepth   = research.DepthModerate
	maxRequestBody = 64 << 10
)

// Handler serves the research session API.
type Handler struct {
	store    session.Store
	launcher Launcher
	policy   policy.Engine
	stream   *streaming.Manager
	logger   *zap.Logger
}

// NewHandler creates the API handler. engine may be nil to admit every
// well-formed request.
func NewHandler(store session.Store, launcher Launcher, engine policy.Engine, stream *streaming.Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:    store,
		launcher: launcher,
		policy:   engine,
		stream:   stream,
		logger:   logger,
	}
}

// RegisterRoutes registers the /v1/research routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	read := func(fn http.HandlerFunc) http.HandlerFunc { return auth.RequireScope(auth.ScopeResearchRead, fn) }
	write := func(fn http.HandlerFunc) http.HandlerFunc { return auth.RequireScope(auth.ScopeResearchWrite, fn) }

	mux.HandleFunc("POST /v1/research", write(h.handleCreate))
	mux.HandleFunc("GET /v1/research", read(h.handleList))
	mux.HandleFunc("GET /v1/research/{id}", read(h.handleGet))
	mux.HandleFunc("GET /v1/research/{id}/report", read(h.handleReport))
	mux.HandleFunc("DELETE /v1/research/{id}", write(h.handleDiscard))
	mux.HandleFunc("GET /v1/research/{id}/events", read(h.handleSSE))
	mux.HandleFunc("GET /v1/research/{id}/ws", read(h.handleWS))
}

// Routes returns the API wrapped in tracing, authentication and rate
// limiting, in that order.
func (h *Handler) Routes(authMw *auth.Middleware, limiter *RateLimiter) http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	var handler http.Handler = mux
	handler = limiter.Middleware(handler)
	handler = authMw.HTTPMiddleware(handler)
	return h.withTracing(handler)
}

func (h *Handler) withTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracing.StartServerSpan(r)
		defer span.End()
		if id := tracing.TraceID(ctx); id != "" {
			w.Header().Set("X-Trace-ID", id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type createRequest struct {
	Topic string `json:"topic"`
	Depth string `json:"depth"`
}

type createResponse struct {
	SessionID string          `json:"session_id"`
	Status    research.Status `json:"status"`
	Depth     research.Depth  `json:"depth"`
	StatusURL string          `json:"status_url"`
	EventsURL string          `json:"events_url"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Depth) == "" {
		req.Depth = string(defaultDepth)
	}

	if h.policy != nil {
		input := &policy.AdmissionInput{Topic: req.Topic, Depth: req.Depth, IPAddress: clientIP(r)}
		if client, err := auth.GetClientContext(ctx); err == nil {
			input.ClientID = client.ClientID
		}
		decision, err := h.policy.Evaluate(ctx, input)
		if err != nil {
			h.logger.Error("Admission policy failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "admission policy unavailable")
			return
		}
		if !decision.Allow {
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error":  "request denied by admission policy",
				"reason": decision.Reason,
			})
			return
		}
	}

	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}
	depth, err := research.ParseDepth(req.Depth)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s, err := h.store.Create(ctx, topic, depth)
	if err != nil {
		h.logger.Error("Failed to create session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	if err := h.launcher.Launch(s); err != nil {
		h.logger.Error("Failed to launch session", zap.String("session_id", s.ID), zap.Error(err))
		if derr := h.store.Discard(ctx, s.ID); derr != nil {
			h.logger.Warn("Failed to discard unlaunched session", zap.String("session_id", s.ID), zap.Error(derr))
		}
		writeError(w, http.StatusServiceUnavailable, "unable to start session")
		return
	}

	h.logger.Info("Research session accepted",
		zap.String("session_id", s.ID),
		zap.String("depth", string(depth)),
	)
	statusURL := "/v1/research/" + s.ID
	w.Header().Set("Location", statusURL)
	writeJSON(w, http.StatusAccepted, createResponse{
		SessionID: s.ID,
		Status:    s.Status,
		Depth:     depth,
		StatusURL: statusURL,
		EventsURL: statusURL + "/events",
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list sessions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if summaries == nil {
		summaries = []research.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": summaries})
}

type sessionView struct {
	research.Summary
	Plan []string `json:"plan"`
	Gaps []string `json:"gaps,omitempty"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionView{
		Summary: s.Summarize(),
		Plan:    s.Memory.Plan,
		Gaps:    research.GapStrings(s.Memory.Gaps),
	})
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	switch s.Status {
	case research.StatusCompleted:
	case research.StatusFailed:
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "session failed",
			"status": string(s.Status),
			"reason": s.Error,
		})
		return
	default:
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "session is still running",
			"status": string(s.Status),
		})
		return
	}

	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"session_id":  s.ID,
			"report":      s.Report,
			"exit_reason": s.ExitReason,
			"sources":     len(s.Sources),
			"coverage":    s.CoverageScore(),
		})
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(s.Report))
}

func (h *Handler) handleDiscard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	wasRunning, err := h.launcher.Cancel(ctx, id)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "session did not stop in time")
		return
	}
	if err := h.store.Discard(ctx, id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("Failed to discard session", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to discard session")
		return
	}
	h.stream.Forget(id)
	h.logger.Info("Research session discarded", zap.String("session_id", id), zap.Bool("cancelled", wasRunning))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*research.Session, bool) {
	id := r.PathValue("id")
	s, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return nil, false
		}
		h.logger.Error("Failed to load session", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	return s, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
