package identity

import "time"

// Session is the reconciled identity record shared between extension
// contexts. The persisted copy is the single cross-context source of truth;
// every field except UID is optional, and consumers must treat it that way.
//
// AccessToken and IDToken carry whatever credential shape the sign-in flow
// produced. They are kept so a context that starts with no live backend
// session can silently rebuild one, provided the underlying grant is still
// valid.
type Session struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	PhotoURL    string    `json:"photoURL,omitempty"`
	AccessToken string    `json:"accessToken,omitempty"`
	IDToken     string    `json:"idToken,omitempty"`
	// Timestamp records when the session was persisted, not when the
	// underlying token was issued.
	Timestamp time.Time `json:"timestamp"`
}

// Valid reports whether the session may be exposed to consumers.
// A session without a stable provider user id is invalid.
func (s *Session) Valid() bool {
	return s != nil && s.UID != ""
}

// Equal reports whether two sessions describe the same signed-in identity
// with the same credentials. Timestamp is deliberately excluded so a
// re-delivered sign-in result compares equal to the already stored record.
func (s *Session) Equal(other *Session) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.UID == other.UID &&
		s.Email == other.Email &&
		s.DisplayName == other.DisplayName &&
		s.PhotoURL == other.PhotoURL &&
		s.AccessToken == other.AccessToken &&
		s.IDToken == other.IDToken
}

// Clone returns a copy that callers can hold without observing later
// mutations by the owner.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	return &clone
}
