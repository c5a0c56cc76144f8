package exchange

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-extension-auth/broker"
	"github.com/jrsteele09/go-extension-auth/identity"
)

// Service converts provider tokens into signed-in sessions via the identity
// backend.
type Service struct {
	backend Backend
	nowTime func() time.Time // nowTime function (injectable for testing)
	log     zerolog.Logger
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

// WithLogger sets the service logger.
func WithLogger(log zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.log = log
	}
}

// NewService initializes a new Service with the given identity backend.
func NewService(backend Backend, options ...ServiceOption) (*Service, error) {
	if backend == nil {
		return nil, errors.New("[NewService] backend is required")
	}

	service := &Service{
		backend: backend,
		nowTime: time.Now,
		log:     zerolog.Nop(),
	}

	for _, opt := range options {
		opt(service)
	}
	return service, nil
}

// ExchangeForSession builds a federated credential from the token and
// exchanges it with the identity backend for a live session.
//
// The call is idempotent: exchanging the same still-valid token twice yields
// equivalent sessions, not an error. Failures are surfaced verbatim and
// never retried here.
func (s *Service) ExchangeForSession(ctx context.Context, tok *broker.Token) (*identity.Session, error) {
	if tok.Empty() {
		return nil, errors.Wrap(ErrInvalidCredential, "[Service.ExchangeForSession] token carries no credential")
	}

	session, err := s.backend.SignInWithCredential(ctx, CredentialFromToken(tok))
	if err != nil {
		return nil, errors.Wrap(err, "[Service.ExchangeForSession] backend sign-in")
	}
	if !session.Valid() {
		return nil, errors.Wrap(ErrInvalidCredential, "[Service.ExchangeForSession] backend returned session without uid")
	}

	// Carry the exchanged credential on the session so another context can
	// silently rebuild a live session from the persisted record.
	result := session.Clone()
	if result.AccessToken == "" {
		result.AccessToken = tok.AccessToken
	}
	if result.IDToken == "" {
		result.IDToken = tok.IDToken
	}
	result.Timestamp = s.nowTime()

	s.log.Debug().Str("uid", result.UID).Msg("credential exchanged for session")
	return result, nil
}
