package brokerfakes

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-extension-auth/broker"
)

var _ broker.Broker = (*FakeBroker)(nil)

// FakeBroker mimics the platform identity API: interactive requests hand out
// InteractiveToken and cache it, silent requests only succeed against the
// cached grant, and revocation clears the cache.
type FakeBroker struct {
	lock sync.Mutex

	// InteractiveToken is returned by interactive requests. When nil, the
	// interactive flow behaves as if the user cancelled it.
	InteractiveToken *broker.Token

	// InteractiveErr, when set, is returned by interactive requests instead.
	InteractiveErr error

	// CachedToken seeds the silent-request cache.
	CachedToken *broker.Token

	// Revoked records every revoked access token, in call order.
	Revoked []string

	requestCalls int
}

func NewFakeBroker() *FakeBroker {
	return &FakeBroker{}
}

func (b *FakeBroker) RequestToken(_ context.Context, interactive bool) (*broker.Token, error) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.requestCalls++

	if !interactive {
		if b.CachedToken == nil {
			return nil, broker.ErrNoCachedGrant
		}
		return b.CachedToken, nil
	}

	if b.InteractiveErr != nil {
		return nil, b.InteractiveErr
	}
	if b.InteractiveToken == nil {
		return nil, broker.ErrUserCancelled
	}

	b.CachedToken = b.InteractiveToken
	return b.InteractiveToken, nil
}

func (b *FakeBroker) RevokeToken(_ context.Context, token *broker.Token) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	if token != nil {
		b.Revoked = append(b.Revoked, token.AccessToken)
	}
	if b.CachedToken != nil && token != nil && b.CachedToken.AccessToken == token.AccessToken {
		b.CachedToken = nil
	}
	return nil
}

// RequestCalls reports how many token requests have been made.
func (b *FakeBroker) RequestCalls() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.requestCalls
}
