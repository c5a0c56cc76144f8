package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Sender is the external auth context's end of the relay: a one-shot,
// acknowledged handoff to the background context.
type Sender struct {
	endpoint   string
	httpClient *http.Client
	log        zerolog.Logger
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithSenderLogger sets the sender logger.
func WithSenderLogger(log zerolog.Logger) SenderOption {
	return func(s *Sender) {
		s.log = log
	}
}

// WithSenderHTTPClient overrides the HTTP client.
func WithSenderHTTPClient(client *http.Client) SenderOption {
	return func(s *Sender) {
		s.httpClient = client
	}
}

// NewSender creates a sender targeting the background context's receiver
// endpoint.
func NewSender(endpoint string, options ...SenderOption) (*Sender, error) {
	if endpoint == "" {
		return nil, errors.New("[NewSender] endpoint is required")
	}

	sender := &Sender{
		endpoint:   endpoint,
		httpClient: http.DefaultClient,
		log:        zerolog.Nop(),
	}

	for _, opt := range options {
		opt(sender)
	}
	return sender, nil
}

// Relay sends the auth payload and waits for the acknowledgement. It
// returns nil only when the receiver acknowledged success, meaning the
// session is persisted and the caller may safely close its page.
//
// An unreachable receiver fails closed with ErrUnreachable: the caller must
// inform the human to reopen the flow from the extension.
func (s *Sender) Relay(ctx context.Context, data AuthData) error {
	envelope := Envelope{
		Type:      MessageTypeAuthSuccess,
		MessageID: uuid.New().String(),
		AuthData:  data,
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return errors.Wrap(err, "[Sender.Relay] encode message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "[Sender.Relay] build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(ErrUnreachable, err.Error())
	}
	defer resp.Body.Close()

	var ack Ack
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return errors.Wrap(ErrUnreachable, "no acknowledgement")
	}
	if !ack.Success {
		if ack.Error != "" {
			return errors.Errorf("[Sender.Relay] receiver rejected message: %s", ack.Error)
		}
		return errors.New("[Sender.Relay] receiver rejected message")
	}

	s.log.Info().Msg("auth handoff acknowledged")
	return nil
}
