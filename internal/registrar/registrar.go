// Package registrar implements the Registrar (User Manager) of §4.C: the
// extension -> contact binding map, with expiry and a bounded history of
// REGISTER/UNREGISTER events for observability.
package registrar

import (
	"sync"
	"time"

	"github.com/antirek/sip-server2/internal/history"
	"github.com/antirek/sip-server2/internal/logging"
)

// Transport is the (IP, UDP port) a REGISTER's source address presented.
type Transport struct {
	Addr string
	Port int
}

// Binding is the registrar's record for one extension.
type Binding struct {
	Extension        string
	ContactURI       string
	Transport        Transport
	ExpiresSeconds   int
	ExpiresAt        time.Time
	RegisteredAt     time.Time
	LastSeen         time.Time
	RegistrationCount int
}

func (b *Binding) expired(now time.Time) bool {
	return now.After(b.ExpiresAt)
}

// Event is one history entry.
type Event struct {
	Kind      string // "REGISTER" or "UNREGISTER"
	Extension string
	At        time.Time
}

// Registrar owns the binding map. Reads never return an expired binding;
// reads are serialized with writes via a single RWMutex.
type Registrar struct {
	mu       sync.RWMutex
	bindings map[string]*Binding
	history  *history.Ring[Event]
	logger   logging.Logger
	now      func() time.Time
}

// New builds an empty Registrar.
func New(logger logging.Logger) *Registrar {
	return &Registrar{
		bindings: make(map[string]*Binding),
		history:  history.New[Event](history.DefaultCapacity),
		logger:   logger,
		now:      time.Now,
	}
}

// Register creates or refreshes a binding. If a prior binding exists for
// the extension, RegisteredAt and RegistrationCount carry over.
func (r *Registrar) Register(number, contactURI string, transport Transport, expiresSeconds int) *Binding {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	b, existed := r.bindings[number]
	if !existed || b.expired(now) {
		b = &Binding{
			Extension:    number,
			RegisteredAt: now,
		}
	}
	b.ContactURI = contactURI
	b.Transport = transport
	b.ExpiresSeconds = expiresSeconds
	b.ExpiresAt = now.Add(time.Duration(expiresSeconds) * time.Second)
	b.LastSeen = now
	b.RegistrationCount++
	r.bindings[number] = b

	r.history.Append(Event{Kind: "REGISTER", Extension: number, At: now})
	return copyBinding(b)
}

// Unregister removes a binding if present, returning whether it existed.
func (r *Registrar) Unregister(number string) bool {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.bindings[number]
	delete(r.bindings, number)
	r.history.Append(Event{Kind: "UNREGISTER", Extension: number, At: now})
	return existed
}

// Lookup returns the binding for number if present and not expired. A
// lazily-discovered expired binding is removed as a side effect.
func (r *Registrar) Lookup(number string) (*Binding, bool) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bindings[number]
	if !ok {
		return nil, false
	}
	if b.expired(now) {
		delete(r.bindings, number)
		return nil, false
	}
	return copyBinding(b), true
}

// IsRegistered reports whether number has a live binding.
func (r *Registrar) IsRegistered(number string) bool {
	_, ok := r.Lookup(number)
	return ok
}

// UpdateLastSeen bumps LastSeen for an existing binding.
func (r *Registrar) UpdateLastSeen(number string) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.bindings[number]; ok && !b.expired(now) {
		b.LastSeen = now
	}
}

// Cleanup removes every expired binding. Intended to be driven by the
// shared cleanup ticker (§5).
func (r *Registrar) Cleanup() int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for number, b := range r.bindings {
		if b.expired(now) {
			delete(r.bindings, number)
			removed++
		}
	}
	if removed > 0 && r.logger != nil {
		r.logger.WithField("removed", removed).Debug("registrar cleanup")
	}
	return removed
}

// ListExtensions returns every currently registered extension.
func (r *Registrar) ListExtensions() []string {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.bindings))
	for number, b := range r.bindings {
		if !b.expired(now) {
			out = append(out, number)
		}
	}
	return out
}

// ListUsers returns a snapshot of every currently registered binding.
func (r *Registrar) ListUsers() []*Binding {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Binding, 0, len(r.bindings))
	for _, b := range r.bindings {
		if !b.expired(now) {
			out = append(out, copyBinding(b))
		}
	}
	return out
}

// History returns up to limit REGISTER/UNREGISTER events starting at offset.
func (r *Registrar) History(limit, offset int) []Event {
	return r.history.List(limit, offset)
}

// ClearAll drops every binding, for the admin API's clear_all_users.
func (r *Registrar) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = make(map[string]*Binding)
}

func copyBinding(b *Binding) *Binding {
	cp := *b
	return &cp
}
