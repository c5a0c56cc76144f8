package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-extension-auth/identity"
)

// fileEnvelope is the on-disk shape: the session record keyed the same way
// every other consumer of the shared storage keys it.
type fileEnvelope struct {
	FirebaseAuth *identity.Session `json:"firebaseAuth,omitempty"`
}

// FileRepo persists the session record in a JSON file shared by every
// extension context, with change notifications driven by a filesystem
// watcher — the storage-change event channel between processes that share
// no memory.
//
// The file holds a credential, so it is written 0600 inside a 0700
// directory and its contents are never logged.
type FileRepo struct {
	path    string
	log     zerolog.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu        sync.Mutex
	lastKnown *identity.Session
	listeners map[int]ChangeListener
	nextID    int
}

// FileRepoOption configures a FileRepo.
type FileRepoOption func(*FileRepo)

// WithFileLogger sets the repo logger.
func WithFileLogger(log zerolog.Logger) FileRepoOption {
	return func(r *FileRepo) {
		r.log = log
	}
}

// NewFileRepo creates a file-backed session store at path and starts
// watching it for changes made by other contexts. Close must be called to
// stop the watcher.
func NewFileRepo(path string, options ...FileRepoOption) (*FileRepo, error) {
	if path == "" {
		return nil, errors.New("[NewFileRepo] path is required")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "[NewFileRepo] create storage directory")
	}

	repo := &FileRepo{
		path:      path,
		log:       zerolog.Nop(),
		done:      make(chan struct{}),
		listeners: make(map[int]ChangeListener),
	}
	for _, opt := range options {
		opt(repo)
	}

	initial, err := repo.readFromDisk()
	if err != nil {
		return nil, errors.Wrap(err, "[NewFileRepo] read existing session")
	}
	repo.lastKnown = initial

	// Watch the directory, not the file: writes are atomic rename
	// replacements, which swap the inode out from under a file watch.
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "[NewFileRepo] create watcher")
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, errors.Wrap(err, "[NewFileRepo] watch storage directory")
	}
	repo.watcher = watcher

	go repo.watchLoop()
	return repo, nil
}

var _ Repo = (*FileRepo)(nil)

// Close stops the change watcher.
func (r *FileRepo) Close() error {
	close(r.done)
	return r.watcher.Close()
}

// Put implements Repo. Rewriting a session equal to the stored one is a
// no-op, so duplicate deliveries of the same sign-in result leave the
// persisted record untouched.
func (r *FileRepo) Put(_ context.Context, session *identity.Session) error {
	if !session.Valid() {
		return ErrInvalidSession
	}

	r.mu.Lock()
	if r.lastKnown.Equal(session) {
		r.mu.Unlock()
		return nil
	}

	if err := r.writeToDisk(session); err != nil {
		r.mu.Unlock()
		return errors.Wrap(err, "[FileRepo.Put] persist session")
	}
	old := r.lastKnown
	r.lastKnown = session.Clone()
	listeners := r.snapshotListenersLocked()
	r.mu.Unlock()

	notifyAsync(listeners, old, session)
	return nil
}

// Get implements Repo. It always re-reads the file, so callers re-querying
// after a cross-context event observe the latest persisted value rather
// than this context's cached view.
func (r *FileRepo) Get(_ context.Context) (*identity.Session, error) {
	session, err := r.readFromDisk()
	if err != nil {
		return nil, errors.Wrap(err, "[FileRepo.Get] read session")
	}

	r.mu.Lock()
	r.lastKnown = session.Clone()
	r.mu.Unlock()

	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Clear implements Repo.
func (r *FileRepo) Clear(_ context.Context) error {
	r.mu.Lock()
	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		r.mu.Unlock()
		return errors.Wrap(err, "[FileRepo.Clear] remove session file")
	}
	old := r.lastKnown
	r.lastKnown = nil
	listeners := r.snapshotListenersLocked()
	r.mu.Unlock()

	if old != nil {
		notifyAsync(listeners, old, nil)
	}
	return nil
}

// Subscribe implements Repo.
func (r *FileRepo) Subscribe(listener ChangeListener) func() {
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

func (r *FileRepo) watchLoop() {
	for {
		select {
		case <-r.done:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(r.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			r.reconcileFromDisk()
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.log.Warn().Err(err).Msg("session store watcher error")
		}
	}
}

// reconcileFromDisk reloads the persisted record and notifies listeners if
// another context changed it. Events caused by this context's own writes
// compare equal to lastKnown and are dropped.
func (r *FileRepo) reconcileFromDisk() {
	session, err := r.readFromDisk()
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to reload session store")
		return
	}

	r.mu.Lock()
	if r.lastKnown.Equal(session) {
		r.mu.Unlock()
		return
	}
	old := r.lastKnown
	r.lastKnown = session.Clone()
	listeners := r.snapshotListenersLocked()
	r.mu.Unlock()

	notifyAsync(listeners, old, session)
}

func (r *FileRepo) readFromDisk() (*identity.Session, error) {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var envelope fileEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	if !envelope.FirebaseAuth.Valid() {
		// A record without a uid must never be exposed.
		return nil, nil
	}
	return envelope.FirebaseAuth, nil
}

func (r *FileRepo) writeToDisk(session *identity.Session) error {
	data, err := json.Marshal(fileEnvelope{FirebaseAuth: session})
	if err != nil {
		return err
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

func (r *FileRepo) snapshotListenersLocked() []ChangeListener {
	listeners := make([]ChangeListener, 0, len(r.listeners))
	for _, l := range r.listeners {
		listeners = append(listeners, l)
	}
	return listeners
}
