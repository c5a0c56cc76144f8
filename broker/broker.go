package broker

import (
	"context"
	"errors"
	"time"
)

// Token is a short-lived credential issued by the identity provider.
// Depending on the flow that produced it, either or both of AccessToken and
// IDToken may be set.
type Token struct {
	AccessToken string    `json:"access_token,omitempty"`
	IDToken     string    `json:"id_token,omitempty"`
	Expiry      time.Time `json:"expiry,omitempty"`
}

// Empty reports whether the token carries no usable credential.
func (t *Token) Empty() bool {
	return t == nil || (t.AccessToken == "" && t.IDToken == "")
}

// Broker wraps the platform identity API: it requests and revokes provider
// tokens, interactively or silently.
type Broker interface {
	// RequestToken obtains a provider token. With interactive set, the call
	// may present a user-facing consent surface and suspends until the user
	// completes or cancels it. Without it, the call must not show any UI and
	// fails fast with ErrNoCachedGrant when no cached grant exists.
	//
	// A successful interactive call caches the grant so later silent calls
	// can succeed without user interaction.
	RequestToken(ctx context.Context, interactive bool) (*Token, error)

	// RevokeToken invalidates a previously issued token and drops the cached
	// grant, so a subsequent silent RequestToken cannot reuse it.
	RevokeToken(ctx context.Context, token *Token) error
}

var (
	// ErrUserCancelled means the user dismissed the interactive consent
	// surface. Not an error condition for the UI: return to the idle
	// sign-in prompt, show nothing.
	ErrUserCancelled = errors.New("user cancelled sign-in")

	// ErrNoCachedGrant means a silent request found no cached grant.
	// Expected during silent restoration; fall back to interactive sign-in.
	ErrNoCachedGrant = errors.New("no cached grant")

	// ErrProvider covers failures reported by the identity provider itself.
	ErrProvider = errors.New("identity provider error")
)
