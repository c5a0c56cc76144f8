package backendfakes

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-extension-auth/exchange"
	"github.com/jrsteele09/go-extension-auth/identity"
)

var _ exchange.Backend = (*FakeBackend)(nil)

// FakeBackend is an in-memory identity backend. Credentials seeded with Seed
// exchange successfully; everything else is rejected as invalid.
//
// Auth-state listeners are invoked synchronously (without holding the fake's
// lock) so tests stay deterministic.
type FakeBackend struct {
	lock sync.Mutex

	sessions  map[string]*identity.Session // credential token -> session
	current   *identity.Session
	listeners map[int]exchange.AuthStateListener
	nextID    int

	// SignInErr, when set, fails every exchange with that error.
	SignInErr error

	signInCalls  int
	signOutCalls int
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		sessions:  make(map[string]*identity.Session),
		listeners: make(map[int]exchange.AuthStateListener),
	}
}

// Seed registers a session the given credential token exchanges into.
func (b *FakeBackend) Seed(token string, session *identity.Session) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.sessions[token] = session.Clone()
}

func (b *FakeBackend) SignInWithCredential(_ context.Context, cred exchange.Credential) (*identity.Session, error) {
	b.lock.Lock()
	b.signInCalls++

	if b.SignInErr != nil {
		err := b.SignInErr
		b.lock.Unlock()
		return nil, err
	}

	session, ok := b.sessions[cred.AccessToken]
	if !ok {
		session, ok = b.sessions[cred.IDToken]
	}
	if !ok {
		b.lock.Unlock()
		return nil, exchange.ErrInvalidCredential
	}

	b.current = session.Clone()
	listeners := b.snapshotListenersLocked()
	b.lock.Unlock()

	notify(listeners, session)
	return session.Clone(), nil
}

func (b *FakeBackend) SignOut(_ context.Context) error {
	b.lock.Lock()
	b.signOutCalls++
	b.current = nil
	listeners := b.snapshotListenersLocked()
	b.lock.Unlock()

	notify(listeners, nil)
	return nil
}

func (b *FakeBackend) CurrentSession() *identity.Session {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.current.Clone()
}

func (b *FakeBackend) SubscribeAuthState(listener exchange.AuthStateListener) func() {
	b.lock.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = listener
	b.lock.Unlock()

	return func() {
		b.lock.Lock()
		delete(b.listeners, id)
		b.lock.Unlock()
	}
}

// EmitAuthState drives the live auth-state stream directly, simulating the
// backend's own listener firing in this context.
func (b *FakeBackend) EmitAuthState(session *identity.Session) {
	b.lock.Lock()
	b.current = session.Clone()
	listeners := b.snapshotListenersLocked()
	b.lock.Unlock()

	notify(listeners, session)
}

// SignInCalls reports how many credential exchanges were attempted.
func (b *FakeBackend) SignInCalls() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.signInCalls
}

// SignOutCalls reports how many sign-outs were performed.
func (b *FakeBackend) SignOutCalls() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.signOutCalls
}

func (b *FakeBackend) snapshotListenersLocked() []exchange.AuthStateListener {
	listeners := make([]exchange.AuthStateListener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	return listeners
}

func notify(listeners []exchange.AuthStateListener, session *identity.Session) {
	for _, l := range listeners {
		l(session.Clone())
	}
}
