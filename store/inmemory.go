package store

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-extension-auth/identity"
)

// InMemoryRepo is a single-context implementation of Repo, used by tests and
// by contexts that do not share their session with another process.
type InMemoryRepo struct {
	mu        sync.RWMutex
	current   *identity.Session
	listeners map[int]ChangeListener
	nextID    int
}

// NewInMemoryRepo creates an empty in-memory session store.
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		listeners: make(map[int]ChangeListener),
	}
}

var _ Repo = (*InMemoryRepo)(nil)

// Put implements Repo. Writing a session equal to the stored one is a no-op
// and fires no change notification, so duplicate sign-in deliveries do not
// ripple through subscribers.
func (r *InMemoryRepo) Put(_ context.Context, session *identity.Session) error {
	if !session.Valid() {
		return ErrInvalidSession
	}

	r.mu.Lock()
	if r.current.Equal(session) {
		r.mu.Unlock()
		return nil
	}
	old := r.current
	r.current = session.Clone()
	listeners := r.snapshotListenersLocked()
	r.mu.Unlock()

	notifyAsync(listeners, old, session)
	return nil
}

// Get implements Repo.
func (r *InMemoryRepo) Get(_ context.Context) (*identity.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return nil, ErrSessionNotFound
	}
	return r.current.Clone(), nil
}

// Clear implements Repo.
func (r *InMemoryRepo) Clear(_ context.Context) error {
	r.mu.Lock()
	if r.current == nil {
		r.mu.Unlock()
		return nil
	}
	old := r.current
	r.current = nil
	listeners := r.snapshotListenersLocked()
	r.mu.Unlock()

	notifyAsync(listeners, old, nil)
	return nil
}

// Subscribe implements Repo.
func (r *InMemoryRepo) Subscribe(listener ChangeListener) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = listener
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

func (r *InMemoryRepo) snapshotListenersLocked() []ChangeListener {
	listeners := make([]ChangeListener, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	return listeners
}

// notifyAsync delivers a change to each listener on its own goroutine:
// asynchronous, unordered, the same guarantees a cross-context storage
// event would have.
func notifyAsync(listeners []ChangeListener, old, new *identity.Session) {
	for _, l := range listeners {
		go l(old.Clone(), new.Clone())
	}
}
