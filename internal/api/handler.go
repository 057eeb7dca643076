// Package api serves analysis sessions over HTTP: session lifecycle, paged
// packet tree queries, bitrate segments, stream info and a live WebSocket
// feed.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zsiec/bitlens/internal/logger"
	"github.com/zsiec/bitlens/internal/metrics"
	"github.com/zsiec/bitlens/internal/model"
	"github.com/zsiec/bitlens/internal/parser"
	"github.com/zsiec/bitlens/internal/session"
)

const (
	defaultPageSize     = 100
	maxPageSize         = 1000
	defaultFeedInterval = 250 * time.Millisecond
)

// Config configures a Handler.
type Config struct {
	Registry *session.Registry
	Log      *slog.Logger
	// Metrics may be nil to disable metric recording (e.g. in tests).
	Metrics *metrics.Metrics
	// Root, when set, is the directory session paths are resolved in.
	Root string
	// FeedInterval is how often the live feed polls a session.
	FeedInterval time.Duration
}

// Handler exposes session endpoints using go-chi.
type Handler struct {
	reg          *session.Registry
	log          *slog.Logger
	metrics      *metrics.Metrics
	root         string
	feedInterval time.Duration
	upgrader     websocket.Upgrader
}

// NewHandler returns a Handler for the sessions of cfg.Registry.
func NewHandler(cfg Config) *Handler {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	interval := cfg.FeedInterval
	if interval <= 0 {
		interval = defaultFeedInterval
	}
	return &Handler{
		reg:          cfg.Registry,
		log:          log.With("component", "api"),
		metrics:      cfg.Metrics,
		root:         cfg.Root,
		feedInterval: interval,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Routes returns the router with all endpoints and middleware installed.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(logger.RequestLogger(h.log))
	if h.metrics != nil {
		r.Use(metrics.RequestMiddleware(h.metrics))
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			h.metrics.Handler(func() { h.metrics.SetActiveSessions(h.reg.Running()) }).ServeHTTP(w, r)
		})
	}
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": h.reg.Len()})
	})
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Get("/", h.ListSessions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.DeleteSession)
			r.Post("/cancel", h.CancelSession)
			r.Post("/restart", h.RestartSession)
			r.Get("/packets", h.ListPackets)
			r.Get("/packets/{pid}", h.GetPacket)
			r.Get("/segments/{stream}", h.GetSegments)
			r.Get("/info", h.GetInfo)
			r.Get("/feed", h.Feed)
		})
	})
	return r
}

type createRequest struct {
	Path   string        `json:"path"`
	Format parser.Format `json:"format"`
}

type sessionResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	session.Status
}

func statusOf(s *session.Session) sessionResponse {
	return sessionResponse{ID: s.ID, CreatedAt: s.CreatedAt, Status: s.Status()}
}

// CreateSession handles POST /api/sessions.
// Body: { "path": "capture.ts", "format": "ts" }.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid session body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.Path == "" || req.Format == parser.FormatUnknown {
		writeError(w, http.StatusBadRequest, "path and format are required")
		return
	}
	path := h.resolve(req.Path)

	s, ok := h.reg.Create(h.reg.NextID(), req.Format)
	if !ok {
		writeError(w, http.StatusConflict, "session id in use")
		return
	}
	if err := s.Start(path); err != nil {
		h.reg.Remove(s.ID)
		h.log.Error("start session failed", slog.String("path", path), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Location", "/api/sessions/"+s.ID)
	writeJSON(w, http.StatusCreated, map[string]string{"id": s.ID})
}

// resolve maps a request path into the data directory. Absolute paths and
// ".." elements cannot leave it.
func (h *Handler) resolve(path string) string {
	if h.root == "" {
		return path
	}
	return filepath.Join(h.root, filepath.Clean("/"+path))
}

// ListSessions handles GET /api/sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.reg.List()
	out := make([]sessionResponse, len(sessions))
	for i, s := range sessions {
		out[i] = statusOf(s)
	}
	writeJSON(w, http.StatusOK, out)
}

// GetSession handles GET /api/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, statusOf(s))
}

// DeleteSession handles DELETE /api/sessions/{id}. A running parse is
// cancelled and awaited before the response is written.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.reg.Remove(id) {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelSession handles POST /api/sessions/{id}/cancel.
func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.RequestCancel()
	h.log.Info("session cancel requested", slog.String("id", s.ID))
	w.WriteHeader(http.StatusAccepted)
}

// RestartSession handles POST /api/sessions/{id}/restart: a finished
// session is reset and parses its input again.
func (h *Handler) RestartSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	path := s.Path()
	err := s.Reset()
	if err == nil {
		err = s.Start(path)
	}
	switch {
	case errors.Is(err, session.ErrSessionActive), errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, statusOf(s))
	}
}

type packetPage struct {
	Total  int           `json:"total"`
	Offset int           `json:"offset"`
	Rows   []model.Entry `json:"rows"`
}

// ListPackets handles GET /api/sessions/{id}/packets with optional offset,
// limit, stream and errors query parameters.
func (h *Handler) ListPackets(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	limit, err := intParam(q.Get("limit"), defaultPageSize)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	limit = min(limit, maxPageSize)

	var preds []model.Predicate
	if v := q.Get("stream"); v != "" {
		stream, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid stream")
			return
		}
		preds = append(preds, model.ByStream(stream))
	}
	if v := q.Get("errors"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid errors flag")
			return
		}
		if on {
			preds = append(preds, model.ErrorsOnly())
		}
	}

	m := s.Model()
	page := packetPage{Offset: offset, Rows: []model.Entry{}}
	var ids []int
	if len(preds) > 0 {
		view := model.NewFilterView(m, model.All(preds...))
		ids = view.Rows(offset, limit)
		page.Total = view.RowCount()
	} else {
		page.Total = m.TopLevelCount()
		for i := offset; i < offset+limit; i++ {
			id, ok := m.TopLevelAt(i)
			if !ok {
				break
			}
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		if e, ok := m.Get(id); ok {
			page.Rows = append(page.Rows, e)
		}
	}
	writeJSON(w, http.StatusOK, page)
}

type packetDetail struct {
	model.Entry
	Children []model.Entry `json:"children"`
}

// GetPacket handles GET /api/sessions/{id}/packets/{pid}.
func (h *Handler) GetPacket(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	pid, err := strconv.Atoi(chi.URLParam(r, "pid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid packet id")
		return
	}
	m := s.Model()
	e, ok := m.Get(pid)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown packet")
		return
	}
	out := packetDetail{Entry: e, Children: []model.Entry{}}
	for _, c := range m.ChildrenOf(pid) {
		if ce, ok := m.Get(c); ok {
			out.Children = append(out.Children, ce)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// GetSegments handles GET /api/sessions/{id}/segments/{stream}?since=n.
func (h *Handler) GetSegments(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	stream, err := strconv.Atoi(chi.URLParam(r, "stream"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid stream")
		return
	}
	since, err := intParam(r.URL.Query().Get("since"), 0)
	if err != nil || since < 0 {
		writeError(w, http.StatusBadRequest, "invalid since")
		return
	}
	segs := s.SegmentsSince(stream, since)
	writeJSON(w, http.StatusOK, map[string]any{
		"stream":   stream,
		"since":    since,
		"next":     since + len(segs),
		"segments": nonNil(segs),
	})
}

// GetInfo handles GET /api/sessions/{id}/info.
func (h *Handler) GetInfo(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, nonNil(s.StreamInfo()))
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, ok := h.reg.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
	}
	return s, ok
}

func intParam(v string, fallback int) (int, error) {
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func nonNil[S ~[]E, E any](s S) S {
	if s == nil {
		return S{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
