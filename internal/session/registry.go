package session

import (
	"cmp"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/bitlens/internal/parser"
)

// Session is a Controller registered under an id.
type Session struct {
	*Controller
	ID        string
	CreatedAt time.Time
}

// Registry tracks the sessions of a server, providing create/get/remove/list
// operations used by the HTTP API.
type Registry struct {
	log      *slog.Logger
	opts     []Option
	seq      atomic.Uint64
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry. Every Controller it creates gets
// opts. If log is nil, slog.Default() is used.
func NewRegistry(log *slog.Logger, opts ...Option) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:      log.With("component", "session-registry"),
		opts:     append([]Option{WithLogger(log)}, opts...),
		sessions: make(map[string]*Session),
	}
}

// NextID returns an id no session of this registry has been given yet.
func (r *Registry) NextID() string {
	return strconv.FormatUint(r.seq.Add(1), 10)
}

// Create registers an idle session. Returns the session and true if
// created, or nil and false if a session with this id already exists.
func (r *Registry) Create(id string, format parser.Format, opts ...Option) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		r.log.Warn("session already exists, rejecting duplicate", "id", id)
		return nil, false
	}

	s := &Session{
		Controller: New(format, append(slices.Clone(r.opts), opts...)...),
		ID:         id,
		CreatedAt:  time.Now(),
	}
	r.sessions[id] = s
	r.log.Info("session created", "id", id, "format", format)
	return s, true
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove unregisters a session and tears it down, waiting for a running
// parse to stop. It reports whether the session existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if ok {
		s.Close()
		r.log.Info("session removed", "id", id, "state", s.State())
	}
	return ok
}

// List returns all sessions, oldest first.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	slices.SortFunc(sessions, func(a, b *Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return compareIDs(a.ID, b.ID)
	})
	return sessions
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Running returns the number of sessions currently parsing.
func (r *Registry) Running() int {
	n := 0
	for _, s := range r.List() {
		if s.State() == Running {
			n++
		}
	}
	return n
}

// CloseAll removes every session, tearing them down concurrently.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(s.Close)
	}
	_ = g.Wait()
	if len(sessions) > 0 {
		r.log.Info("all sessions closed", "count", len(sessions))
	}
}

// compareIDs orders numeric ids by value and everything else as strings.
func compareIDs(a, b string) int {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		return cmp.Compare(na, nb)
	}
	return strings.Compare(a, b)
}
