package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RegistryConfig bounds the sessions a Registry keeps.
type RegistryConfig struct {
	// TTL drops sessions that nobody has touched for this long.
	TTL time.Duration
	// MaxSessions caps open sessions. Zero means unlimited.
	MaxSessions int
}

type entry struct {
	orch     *Orchestrator
	lastSeen time.Time
}

// Registry owns the checkout sessions of one server. It is also the
// Navigator of its sessions: a completed session is closed once the buyer
// is redirected, and its final state stays readable until it expires.
type Registry struct {
	cfg  RegistryConfig
	ocfg Config
	deps Deps
	lg   *zap.Logger
	now  func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewRegistry creates a Registry that builds sessions from cfg and deps.
func NewRegistry(rcfg RegistryConfig, cfg Config, deps Deps) *Registry {
	if rcfg.TTL <= 0 {
		rcfg.TTL = 30 * time.Minute
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	r := &Registry{
		cfg:      rcfg,
		ocfg:     cfg,
		lg:       deps.Logger.Named("registry"),
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
	if deps.Navigator == nil {
		deps.Navigator = r
	}
	r.deps = deps
	return r
}

// Open starts a new session for userID buying productID.
func (r *Registry) Open(productID, userID string) (*Orchestrator, error) {
	r.mu.Lock()
	if r.cfg.MaxSessions > 0 && len(r.sessions) >= r.cfg.MaxSessions {
		r.mu.Unlock()
		return nil, ErrTooManySessions
	}
	o := New(uuid.NewString(), productID, userID, r.ocfg, r.deps)
	r.sessions[o.ID()] = &entry{orch: o, lastSeen: r.now()}
	r.mu.Unlock()

	r.deps.Metrics.sessionDelta(context.Background(), 1)
	o.Start()
	return o, nil
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Orchestrator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.lastSeen = r.now()
	return e.orch, nil
}

// Remove closes and forgets a session. It reports whether one existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if !ok {
		return false
	}
	e.orch.Close()
	r.deps.Metrics.sessionDelta(context.Background(), -1)
	return true
}

// Len returns the number of sessions held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Navigate closes a completed session after its redirect. The session stays
// in the registry so that its final snapshot can still be read.
func (r *Registry) Navigate(_ context.Context, s Session) error {
	r.lg.Info("Redirecting buyer",
		zap.String("session_id", s.ID),
		zap.String("location", s.Redirect),
	)
	r.mu.Lock()
	e, ok := r.sessions[s.ID]
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	go e.orch.Close()
	return nil
}

// Sweep removes sessions idle for longer than the TTL and returns how many
// were removed.
func (r *Registry) Sweep() int {
	deadline := r.now().Add(-r.cfg.TTL)

	r.mu.Lock()
	var expired []string
	for id, e := range r.sessions {
		if e.lastSeen.Before(deadline) {
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	n := 0
	for _, id := range expired {
		if r.Remove(id) {
			n++
		}
	}
	if n > 0 {
		r.lg.Debug("Expired checkout sessions", zap.Int("count", n))
	}
	return n
}

// Run sweeps expired sessions until ctx is done, then closes every session.
func (r *Registry) Run(ctx context.Context) error {
	interval := r.cfg.TTL / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return nil
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Remove(id)
	}
}
