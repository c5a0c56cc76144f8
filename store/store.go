package store

import (
	"context"
	"errors"

	"github.com/jrsteele09/go-extension-auth/identity"
)

// StorageKey is the key the session record is persisted under, matching the
// record any other consumer of the shared storage reads.
const StorageKey = "firebaseAuth"

// ChangeListener observes session mutations. A nil newSession means the
// session was cleared.
type ChangeListener func(oldSession, newSession *identity.Session)

// Repo is the persisted session record shared across extension contexts —
// the only channel between an isolated auth context and the long-lived
// background/UI contexts.
//
// Writes are last-writer-wins with no cross-context transactional
// guarantee: a reader in another context may observe a stale value until
// its own change listener fires. Callers must not assume read-after-write
// consistency across contexts.
type Repo interface {
	// Put overwrites the stored session. Sessions without a uid are
	// rejected.
	Put(ctx context.Context, session *identity.Session) error

	// Get returns the stored session, or ErrSessionNotFound when absent.
	Get(ctx context.Context) (*identity.Session, error)

	// Clear removes the stored session. Clearing an empty store is not an
	// error.
	Clear(ctx context.Context) error

	// Subscribe registers a listener invoked asynchronously whenever the
	// stored session changes. The returned function unsubscribes it.
	Subscribe(listener ChangeListener) (unsubscribe func())
}

var (
	// ErrSessionNotFound means no session is currently stored.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSession means the session must not be persisted (no uid).
	ErrInvalidSession = errors.New("invalid session")
)
