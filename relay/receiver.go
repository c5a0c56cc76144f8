package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-extension-auth/broker"
	"github.com/jrsteele09/go-extension-auth/exchange"
	"github.com/jrsteele09/go-extension-auth/identity"
	"github.com/jrsteele09/go-extension-auth/store"
)

// Exchanger converts a relayed raw token into a signed-in session in the
// privileged context.
type Exchanger interface {
	ExchangeForSession(ctx context.Context, token *broker.Token) (*identity.Session, error)
}

// Receiver is the background context's end of the relay. It persists the
// relayed session into the store BEFORE acknowledging, so the sender can
// safely close its page once acknowledged. Duplicate deliveries of the same
// payload leave the persisted record unchanged.
type Receiver struct {
	store     store.Repo
	exchanger Exchanger
	log       zerolog.Logger
	nowTime   func() time.Time

	mu   sync.Mutex
	seen map[string]struct{}
}

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver)

// WithReceiverLogger sets the receiver logger.
func WithReceiverLogger(log zerolog.Logger) ReceiverOption {
	return func(r *Receiver) {
		r.log = log
	}
}

// WithReceiverNowTime sets the now time function (primarily for testing)
func WithReceiverNowTime(nowFunc func() time.Time) ReceiverOption {
	return func(r *Receiver) {
		r.nowTime = nowFunc
	}
}

// NewReceiver creates a relay receiver persisting into sessionStore. The
// exchanger handles the raw-token payload variant; when nil, raw-token
// payloads are rejected.
func NewReceiver(sessionStore store.Repo, exchanger Exchanger, options ...ReceiverOption) (*Receiver, error) {
	if sessionStore == nil {
		return nil, errors.New("[NewReceiver] session store is required")
	}

	receiver := &Receiver{
		store:     sessionStore,
		exchanger: exchanger,
		log:       zerolog.Nop(),
		nowTime:   time.Now,
		seen:      make(map[string]struct{}),
	}

	for _, opt := range options {
		opt(receiver)
	}
	return receiver, nil
}

// Handler returns the HTTP handler for relayed messages.
func (r *Receiver) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			writeAck(w, http.StatusMethodNotAllowed, Ack{Success: false, Error: "POST required"})
			return
		}

		var envelope Envelope
		if err := json.NewDecoder(req.Body).Decode(&envelope); err != nil {
			writeAck(w, http.StatusBadRequest, Ack{Success: false, Error: "malformed message"})
			return
		}
		if envelope.Type != MessageTypeAuthSuccess {
			writeAck(w, http.StatusBadRequest, Ack{Success: false, Error: "unknown message type"})
			return
		}

		if envelope.MessageID != "" && r.alreadySeen(envelope.MessageID) {
			// Duplicate delivery of an acknowledged message: the session is
			// already persisted, so just acknowledge again.
			writeAck(w, http.StatusOK, Ack{Success: true})
			return
		}

		session, status, err := r.sessionFromEnvelope(req.Context(), envelope)
		if err != nil {
			r.log.Warn().Err(err).Msg("rejected relayed auth message")
			writeAck(w, status, Ack{Success: false, Error: "sign-in could not be completed"})
			return
		}

		if err := r.persist(req.Context(), session); err != nil {
			r.log.Error().Err(err).Msg("failed to persist relayed session")
			writeAck(w, http.StatusInternalServerError, Ack{Success: false, Error: "could not store session"})
			return
		}

		if envelope.MessageID != "" {
			r.markSeen(envelope.MessageID)
		}
		r.log.Info().Str("uid", session.UID).Msg("relayed session persisted")
		writeAck(w, http.StatusOK, Ack{Success: true})
	}
}

// sessionFromEnvelope resolves the two payload variants into a session.
func (r *Receiver) sessionFromEnvelope(ctx context.Context, envelope Envelope) (*identity.Session, int, error) {
	data := envelope.AuthData

	if data.UID != "" {
		return SessionFromAuthData(data), 0, nil
	}

	// Raw-token variant: the exchange happens here, in the privileged
	// context.
	if data.Token == "" && data.IDToken == "" {
		return nil, http.StatusBadRequest, errors.New("payload carries neither session nor token")
	}
	if r.exchanger == nil {
		return nil, http.StatusBadRequest, errors.New("raw-token payloads not supported")
	}

	session, err := r.exchanger.ExchangeForSession(ctx, &broker.Token{
		AccessToken: data.Token,
		IDToken:     data.IDToken,
	})
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, exchange.ErrBackendUnavailable) {
			status = http.StatusBadGateway
		}
		return nil, status, err
	}
	return session, 0, nil
}

// persist upserts idempotently: a session equal to the stored one is
// acknowledged without rewriting.
func (r *Receiver) persist(ctx context.Context, session *identity.Session) error {
	if existing, err := r.store.Get(ctx); err == nil && existing.Equal(session) {
		return nil
	}

	toStore := session.Clone()
	toStore.Timestamp = r.nowTime()
	return r.store.Put(ctx, toStore)
}

func (r *Receiver) alreadySeen(messageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.seen[messageID]
	return ok
}

func (r *Receiver) markSeen(messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[messageID] = struct{}{}
}

func writeAck(w http.ResponseWriter, status int, ack Ack) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ack)
}
