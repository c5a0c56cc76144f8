package exchange

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/jrsteele09/go-extension-auth/identity"
)

// SessionFromIDToken extracts profile attributes from a raw ID token without
// verifying its signature. Callers that received the token over an untrusted
// path must still exchange it with the backend; this only recovers the
// attribute record the token already carries.
func SessionFromIDToken(rawIDToken string) (*identity.Session, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawIDToken, claims); err != nil {
		return nil, errors.Wrap(ErrInvalidCredential, err.Error())
	}

	session := &identity.Session{
		UID:         stringClaim(claims, "sub"),
		Email:       stringClaim(claims, "email"),
		DisplayName: stringClaim(claims, "name"),
		PhotoURL:    stringClaim(claims, "picture"),
		IDToken:     rawIDToken,
	}
	if !session.Valid() {
		return nil, errors.Wrap(ErrInvalidCredential, "id token has no subject")
	}
	return session, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	value, _ := claims[key].(string)
	return value
}
