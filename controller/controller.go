// Package controller owns the in-memory view of the current user. It
// reconciles two event sources that share no ordering guarantee: the
// identity backend's live auth-state stream and the persisted session
// store's change notifications.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jrsteele09/go-extension-auth/broker"
	"github.com/jrsteele09/go-extension-auth/exchange"
	"github.com/jrsteele09/go-extension-auth/identity"
	"github.com/jrsteele09/go-extension-auth/store"
)

// State is the controller's lifecycle state as exposed to the UI.
type State int

const (
	StateInitializing State = iota
	StateSignedOut
	StateSignedIn
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateSignedOut:
		return "signed-out"
	case StateSignedIn:
		return "signed-in"
	}
	return "unknown"
}

// Event is published to subscribers on every state change.
type Event struct {
	State State
	User  *identity.Session
}

// Exchanger converts a provider token into a signed-in session.
type Exchanger interface {
	ExchangeForSession(ctx context.Context, token *broker.Token) (*identity.Session, error)
}

// Deps holds all dependencies of the Controller.
type Deps struct {
	Broker    broker.Broker
	Backend   exchange.Backend
	Exchanger Exchanger
	Store     store.Repo
}

// Controller is the session state machine consumed by the UI.
type Controller struct {
	deps    Deps
	log     zerolog.Logger
	nowTime func() time.Time // nowTime function (injectable for testing)

	mu           sync.Mutex
	state        State
	current      *identity.Session
	restoring    bool
	started      bool
	subscribers  map[int]func(Event)
	nextSubID    int
	unsubscribes []func()
}

// Option defines a function type to modify the Controller instance.
type Option func(*Controller)

// WithLogger sets the controller logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(c *Controller) {
		c.nowTime = nowFunc
	}
}

// New initializes a new Controller with required dependencies.
func New(deps Deps, options ...Option) (*Controller, error) {
	if deps.Broker == nil {
		return nil, errors.New("[controller.New] Broker is required")
	}
	if deps.Backend == nil {
		return nil, errors.New("[controller.New] Backend is required")
	}
	if deps.Exchanger == nil {
		return nil, errors.New("[controller.New] Exchanger is required")
	}
	if deps.Store == nil {
		return nil, errors.New("[controller.New] Store is required")
	}

	c := &Controller{
		deps:        deps,
		log:         zerolog.Nop(),
		nowTime:     time.Now,
		state:       StateInitializing,
		subscribers: make(map[int]func(Event)),
	}

	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Start begins reconciliation: it subscribes to the backend's live
// auth-state stream and to store change notifications, then reads the store
// once — all running concurrently. Whichever source produces a definitive
// signed-in identity first wins.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("[Controller.Start] already started")
	}
	c.started = true
	c.mu.Unlock()

	unsubBackend := c.deps.Backend.SubscribeAuthState(func(session *identity.Session) {
		c.onBackendEvent(session)
	})
	unsubStore := c.deps.Store.Subscribe(func(_, _ *identity.Session) {
		// The payload is only a trigger: change deliveries carry no
		// ordering guarantee, so the store itself is re-queried.
		c.reconcileFromStore()
	})

	c.mu.Lock()
	c.unsubscribes = append(c.unsubscribes, unsubBackend, unsubStore)
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.initialStoreRead(gctx)
		return nil
	})
	g.Go(func() error {
		if live := c.deps.Backend.CurrentSession(); live.Valid() {
			c.setState(StateSignedIn, live)
		}
		return nil
	})
	return g.Wait()
}

// Stop unsubscribes from both event sources.
func (c *Controller) Stop() {
	c.mu.Lock()
	unsubs := c.unsubscribes
	c.unsubscribes = nil
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentUser returns the signed-in user's session, or nil.
func (c *Controller) CurrentUser() *identity.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Clone()
}

// Subscribe registers a state-change subscriber and returns its
// unsubscribe function.
func (c *Controller) Subscribe(fn func(Event)) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

// SignIn runs the explicit, user-initiated sign-in flow: interactive token
// request, credential exchange, persistence.
//
// A user cancellation is returned as broker.ErrUserCancelled so the UI can
// silently return to its idle prompt; every other failure is surfaced
// verbatim for the UI to display.
func (c *Controller) SignIn(ctx context.Context) error {
	token, err := c.deps.Broker.RequestToken(ctx, true)
	if err != nil {
		if errors.Is(err, broker.ErrUserCancelled) {
			c.log.Debug().Msg("sign-in cancelled by user")
			return err
		}
		return errors.Wrap(err, "[Controller.SignIn] request token")
	}

	session, err := c.deps.Exchanger.ExchangeForSession(ctx, token)
	if err != nil {
		return errors.Wrap(err, "[Controller.SignIn] exchange credential")
	}

	stamped := session.Clone()
	stamped.Timestamp = c.nowTime()
	if err := c.deps.Store.Put(ctx, stamped); err != nil {
		return errors.Wrap(err, "[Controller.SignIn] persist session")
	}

	c.setState(StateSignedIn, stamped)
	return nil
}

// SignOut tears the session down in order: revoke the provider token
// (best-effort), clear the store, sign out of the backend, and only then
// transition to SignedOut — so no context observes a lingering
// authenticated session after the call resolves.
func (c *Controller) SignOut(ctx context.Context) error {
	if token, err := c.deps.Broker.RequestToken(ctx, false); err == nil {
		if err := c.deps.Broker.RevokeToken(ctx, token); err != nil {
			c.log.Warn().Err(err).Msg("token revocation failed")
		}
	} else if !errors.Is(err, broker.ErrNoCachedGrant) {
		c.log.Warn().Err(err).Msg("could not fetch token for revocation")
	}

	var firstErr error
	if err := c.deps.Store.Clear(ctx); err != nil {
		firstErr = errors.Wrap(err, "[Controller.SignOut] clear store")
	}
	if err := c.deps.Backend.SignOut(ctx); err != nil && firstErr == nil {
		firstErr = errors.Wrap(err, "[Controller.SignOut] backend sign-out")
	}

	c.setState(StateSignedOut, nil)
	return firstErr
}

// initialStoreRead performs the one startup read of the persisted record.
// Failures here belong to silent restoration: they are logged, never
// surfaced.
func (c *Controller) initialStoreRead(ctx context.Context) {
	stored, err := c.deps.Store.Get(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrSessionNotFound) {
			c.log.Warn().Err(err).Msg("session store read failed during startup")
		}
		// Nothing persisted: signed out unless the backend already holds a
		// live session in this context.
		if live := c.deps.Backend.CurrentSession(); live.Valid() {
			c.setState(StateSignedIn, live)
			return
		}
		c.setState(StateSignedOut, nil)
		return
	}

	c.setState(StateSignedIn, stored)
	go c.restoreLiveSession(context.Background(), stored)
}

// onBackendEvent handles the live auth-state stream. Once received, a
// backend event supersedes the startup store snapshot — except that a
// "no user" event is not taken at face value while a stored session exists:
// the store may simply be ahead of the backend's own listener.
func (c *Controller) onBackendEvent(session *identity.Session) {
	if session.Valid() {
		c.setState(StateSignedIn, session)

		// Keep the persisted attribute record in step with the live
		// session, so other contexts can pick it up. Best-effort.
		stamped := session.Clone()
		stamped.Timestamp = c.nowTime()
		if err := c.deps.Store.Put(context.Background(), stamped); err != nil {
			c.log.Warn().Err(err).Msg("failed to persist live session")
		}
		return
	}

	// "No user" from the backend: re-query the store before concluding
	// anything.
	stored, err := c.deps.Store.Get(context.Background())
	if err != nil || !stored.Valid() {
		c.setState(StateSignedOut, nil)
		return
	}

	// The stored session wins; try to rebuild the live session behind it.
	c.setState(StateSignedIn, stored)
	go c.restoreLiveSession(context.Background(), stored)
}

// reconcileFromStore handles store change notifications by re-reading the
// store, making the handler insensitive to delivery order.
func (c *Controller) reconcileFromStore() {
	stored, err := c.deps.Store.Get(context.Background())
	if err == nil && stored.Valid() {
		c.setState(StateSignedIn, stored)
		return
	}

	// Cleared: a sign-out happened, possibly in another context. Mirror it
	// locally so no stale live session lingers here.
	if live := c.deps.Backend.CurrentSession(); live.Valid() {
		if err := c.deps.Backend.SignOut(context.Background()); err != nil {
			c.log.Warn().Err(err).Msg("backend sign-out failed")
		}
	}
	c.setState(StateSignedOut, nil)
}

// restoreLiveSession silently rebuilds a live backend session behind a
// store-sourced signed-in view. All failures are swallowed to the log: the
// persisted attributes keep serving the UI, and the user is never prompted.
func (c *Controller) restoreLiveSession(ctx context.Context, stored *identity.Session) {
	c.mu.Lock()
	if c.restoring {
		c.mu.Unlock()
		return
	}
	c.restoring = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.restoring = false
		c.mu.Unlock()
	}()

	if live := c.deps.Backend.CurrentSession(); live.Valid() {
		return
	}

	// The persisted credential first; it usually survives a restart.
	persisted := &broker.Token{AccessToken: stored.AccessToken, IDToken: stored.IDToken}
	if !persisted.Empty() {
		if _, err := c.deps.Exchanger.ExchangeForSession(ctx, persisted); err == nil {
			c.log.Debug().Str("uid", stored.UID).Msg("live session restored from persisted credential")
			return
		} else {
			c.log.Debug().Err(err).Msg("persisted credential no longer exchanges")
		}
	}

	// Fall back to a silent provider token.
	token, err := c.deps.Broker.RequestToken(ctx, false)
	if err != nil {
		if errors.Is(err, broker.ErrNoCachedGrant) {
			c.log.Debug().Msg("no cached grant for silent restoration")
		} else {
			c.log.Warn().Err(err).Msg("silent token request failed")
		}
		return
	}
	if _, err := c.deps.Exchanger.ExchangeForSession(ctx, token); err != nil {
		c.log.Warn().Err(err).Msg("silent restoration failed")
	}
}

// setState applies a transition and notifies subscribers. Transitions to
// the already-current state with the same user are dropped.
func (c *Controller) setState(state State, user *identity.Session) {
	if user != nil && !user.Valid() {
		// Invalid sessions are never exposed.
		return
	}

	c.mu.Lock()
	if c.state == state && c.current.Equal(user) {
		c.mu.Unlock()
		return
	}
	from := c.state
	c.state = state
	c.current = user.Clone()
	subscribers := make([]func(Event), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subscribers = append(subscribers, fn)
	}
	c.mu.Unlock()

	c.log.Info().Stringer("from", from).Stringer("to", state).Msg("session state changed")
	event := Event{State: state, User: user.Clone()}
	for _, fn := range subscribers {
		fn(event)
	}
}
