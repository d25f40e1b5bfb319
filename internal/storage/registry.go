package storage

import (
	"context"
	"sync"
	"time"

	"github.com/valter-silva-au/haven/pkg/models"
)

// SessionRegistry tracks live interaction handles (active calls, open chat
// channels) and their transient data. Entries are removed explicitly when
// the interaction ends or by the TTL sweep, which bounds memory growth from
// abandoned interactions.
type SessionRegistry interface {
	Set(handleID string, handle models.SessionHandle)
	Get(handleID string) (*models.SessionHandle, bool)
	UpdateLocation(handleID string, lat, lng float64) bool
	Clear(handleID string)
	SweepExpired(maxAge time.Duration) int
	Len() int
	List() []models.SessionHandle
	Run(ctx context.Context)
}

// sessionRegistry implements SessionRegistry with a mutex-guarded map. The
// background sweep uses the same synchronized mutation path as foreground
// requests.
type sessionRegistry struct {
	mu      sync.Mutex
	handles map[string]*models.SessionHandle

	ttl           time.Duration
	sweepInterval time.Duration
	now           func() time.Time
}

// RegistryOption configures a session registry.
type RegistryOption func(*sessionRegistry)

// WithRegistryClock overrides the registry's time source. Used by tests.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *sessionRegistry) { r.now = now }
}

// NewSessionRegistry creates an empty registry. ttl is the idle lifetime of
// a handle; sweepInterval is how often Run sweeps.
func NewSessionRegistry(ttl, sweepInterval time.Duration, opts ...RegistryOption) SessionRegistry {
	r := &sessionRegistry{
		handles:       make(map[string]*models.SessionHandle),
		ttl:           ttl,
		sweepInterval: sweepInterval,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Set stores or replaces the handle. Zero timestamps are filled in.
func (r *sessionRegistry) Set(handleID string, handle models.SessionHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	handle.HandleID = handleID
	if handle.StartedAt.IsZero() {
		handle.StartedAt = now
	}
	if handle.LastUpdatedAt.IsZero() {
		handle.LastUpdatedAt = now
	}
	if handle.Location != nil {
		loc := *handle.Location
		clampLocation(&loc)
		handle.Location = &loc
	}
	r.handles[handleID] = &handle
}

// Get returns a copy of the handle, if present.
func (r *sessionRegistry) Get(handleID string) (*models.SessionHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[handleID]
	if !ok {
		return nil, false
	}
	out := *h
	if h.Location != nil {
		loc := *h.Location
		out.Location = &loc
	}
	return &out, true
}

// UpdateLocation records a location ping for the handle and refreshes its
// idle timer. Returns false if the handle is unknown.
func (r *sessionRegistry) UpdateLocation(handleID string, lat, lng float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[handleID]
	if !ok {
		return false
	}
	loc := models.Location{Lat: lat, Lng: lng}
	if h.Location != nil {
		loc.PrecisionMeters = h.Location.PrecisionMeters
		loc.Address = h.Location.Address
	}
	clampLocation(&loc)
	h.Location = &loc
	h.LastUpdatedAt = r.now().UTC()
	return true
}

// Clear removes the handle. Clearing an unknown handle is a no-op.
func (r *sessionRegistry) Clear(handleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handles, handleID)
}

// SweepExpired removes every handle idle for longer than maxAge and returns
// the number removed.
func (r *sessionRegistry) SweepExpired(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxAge)
	removed := 0
	for id, h := range r.handles {
		if h.LastUpdatedAt.Before(cutoff) {
			delete(r.handles, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of live handles.
func (r *sessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// List returns copies of all live handles. Ordering is unspecified.
func (r *sessionRegistry) List() []models.SessionHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.SessionHandle, 0, len(r.handles))
	for _, h := range r.handles {
		copied := *h
		if h.Location != nil {
			loc := *h.Location
			copied.Location = &loc
		}
		out = append(out, copied)
	}
	return out
}

// Run sweeps on the configured interval until the context is cancelled.
func (r *sessionRegistry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepExpired(r.ttl)
		}
	}
}
