// Package relay moves a freshly obtained credential from an isolated
// external auth context into the extension's background context. The two
// share no memory; the handoff is a one-shot message with explicit
// acknowledgement, and the sender must not assume delivery without one.
package relay

import (
	"errors"

	"github.com/jrsteele09/go-extension-auth/identity"
)

// MessageTypeAuthSuccess is the only message type the relay carries.
const MessageTypeAuthSuccess = "AUTH_SUCCESS"

// AuthData is the relayed payload. Two variants occur:
//   - a fully exchanged session (UID set), persisted by the receiver as-is;
//   - a raw provider token (Token and/or IDToken set, no UID), exchanged in
//     the privileged background context before persisting.
type AuthData struct {
	UID         string `json:"uid,omitempty"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	PhotoURL    string `json:"photoURL,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
	IDToken     string `json:"idToken,omitempty"`

	// Token is the raw provider token of the privileged-exchange variant.
	Token string `json:"token,omitempty"`
}

// Envelope frames a relayed message.
type Envelope struct {
	Type string `json:"type"`
	// MessageID lets the receiver drop duplicate deliveries of the same
	// send.
	MessageID string   `json:"messageId,omitempty"`
	AuthData  AuthData `json:"authData"`
}

// Ack is the receiver's response. The sender may only treat the sign-in as
// delivered when Success is true.
type Ack struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ErrUnreachable means the background context could not be reached. The
// external page cannot recover on its own: it must tell the human to reopen
// the flow from the extension, never silently proceed as signed-in.
var ErrUnreachable = errors.New("relay target unreachable")

// SessionFromAuthData builds the session record for the exchanged-session
// payload variant.
func SessionFromAuthData(data AuthData) *identity.Session {
	return &identity.Session{
		UID:         data.UID,
		Email:       data.Email,
		DisplayName: data.DisplayName,
		PhotoURL:    data.PhotoURL,
		AccessToken: data.AccessToken,
		IDToken:     data.IDToken,
	}
}

// AuthDataFromSession builds the relay payload for an exchanged session.
func AuthDataFromSession(session *identity.Session) AuthData {
	if session == nil {
		return AuthData{}
	}
	return AuthData{
		UID:         session.UID,
		Email:       session.Email,
		DisplayName: session.DisplayName,
		PhotoURL:    session.PhotoURL,
		AccessToken: session.AccessToken,
		IDToken:     session.IDToken,
	}
}
