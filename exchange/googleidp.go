package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-extension-auth/identity"
)

const (
	defaultSignInEndpoint = "https://identitytoolkit.googleapis.com/v1/accounts:signInWithIdp"
	googleIssuer          = "https://accounts.google.com"
)

// GoogleBackend implements Backend against the Google identity-platform
// REST surface: federated credentials are exchanged with the signInWithIdp
// call, keyed by the project API key.
//
// The backend also keeps the per-process live auth state and fans it out to
// subscribed listeners, which is the live auth-state stream the controller
// consumes.
type GoogleBackend struct {
	apiKey        string
	endpoint      string
	httpClient    *http.Client
	oauthClientID string // enables ID-token verification when set
	log           zerolog.Logger

	mu        sync.RWMutex
	current   *identity.Session
	listeners map[int]AuthStateListener
	nextID    int

	verifierOnce sync.Once
	verifier     *oidc.IDTokenVerifier
	verifierErr  error
}

// GoogleBackendOption configures a GoogleBackend.
type GoogleBackendOption func(*GoogleBackend)

// WithBackendLogger sets the backend logger.
func WithBackendLogger(log zerolog.Logger) GoogleBackendOption {
	return func(b *GoogleBackend) {
		b.log = log
	}
}

// WithBackendHTTPClient overrides the HTTP client.
func WithBackendHTTPClient(client *http.Client) GoogleBackendOption {
	return func(b *GoogleBackend) {
		b.httpClient = client
	}
}

// WithBackendEndpoint overrides the sign-in endpoint (for testing).
func WithBackendEndpoint(endpoint string) GoogleBackendOption {
	return func(b *GoogleBackend) {
		b.endpoint = endpoint
	}
}

// WithIDTokenVerification verifies incoming ID tokens against Google's
// issuer for the given OAuth client before exchanging them.
func WithIDTokenVerification(oauthClientID string) GoogleBackendOption {
	return func(b *GoogleBackend) {
		b.oauthClientID = oauthClientID
	}
}

// NewGoogleBackend creates a backend for the given identity-platform API key.
func NewGoogleBackend(apiKey string, options ...GoogleBackendOption) (*GoogleBackend, error) {
	if apiKey == "" {
		return nil, errors.New("[NewGoogleBackend] apiKey is required")
	}

	b := &GoogleBackend{
		apiKey:     apiKey,
		endpoint:   defaultSignInEndpoint,
		httpClient: http.DefaultClient,
		log:        zerolog.Nop(),
		listeners:  make(map[int]AuthStateListener),
	}

	for _, opt := range options {
		opt(b)
	}
	return b, nil
}

var _ Backend = (*GoogleBackend)(nil)

type signInRequest struct {
	PostBody            string `json:"postBody"`
	RequestURI          string `json:"requestUri"`
	ReturnSecureToken   bool   `json:"returnSecureToken"`
	ReturnIdpCredential bool   `json:"returnIdpCredential"`
}

type signInResponse struct {
	LocalID          string `json:"localId"`
	Email            string `json:"email"`
	DisplayName      string `json:"displayName"`
	PhotoURL         string `json:"photoUrl"`
	IDToken          string `json:"idToken"`
	OauthAccessToken string `json:"oauthAccessToken"`
	Error            *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// SignInWithCredential implements Backend.
func (b *GoogleBackend) SignInWithCredential(ctx context.Context, cred Credential) (*identity.Session, error) {
	if cred.Empty() {
		return nil, ErrInvalidCredential
	}

	if b.oauthClientID != "" && cred.IDToken != "" {
		if err := b.verifyIDToken(ctx, cred.IDToken); err != nil {
			return nil, err
		}
	}

	postBody := url.Values{}
	postBody.Set("providerId", cred.ProviderID)
	if cred.IDToken != "" {
		postBody.Set("id_token", cred.IDToken)
	} else {
		postBody.Set("access_token", cred.AccessToken)
	}

	payload, err := json.Marshal(signInRequest{
		PostBody:            postBody.Encode(),
		RequestURI:          "http://localhost",
		ReturnSecureToken:   true,
		ReturnIdpCredential: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[GoogleBackend.SignInWithCredential] encode request")
	}

	endpoint := fmt.Sprintf("%s?key=%s", b.endpoint, url.QueryEscape(b.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "[GoogleBackend.SignInWithCredential] build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(ErrBackendUnavailable, err.Error())
	}
	defer resp.Body.Close()

	var body signInResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(ErrBackendUnavailable, err.Error())
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, errors.Wrap(ErrBackendUnavailable, fmt.Sprintf("sign-in returned %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		message := "sign-in rejected"
		if body.Error != nil {
			message = body.Error.Message
		}
		return nil, errors.Wrap(ErrInvalidCredential, message)
	}

	session := &identity.Session{
		UID:         body.LocalID,
		Email:       body.Email,
		DisplayName: body.DisplayName,
		PhotoURL:    body.PhotoURL,
		AccessToken: body.OauthAccessToken,
		IDToken:     body.IDToken,
	}
	if !session.Valid() {
		return nil, errors.Wrap(ErrInvalidCredential, "sign-in response has no uid")
	}

	// Profile attributes may be absent from the response body but present
	// in the returned ID token claims.
	if session.DisplayName == "" && body.IDToken != "" {
		if fromClaims, err := SessionFromIDToken(body.IDToken); err == nil {
			session.DisplayName = fromClaims.DisplayName
			if session.Email == "" {
				session.Email = fromClaims.Email
			}
			if session.PhotoURL == "" {
				session.PhotoURL = fromClaims.PhotoURL
			}
		}
	}

	b.setCurrent(session)
	b.log.Info().Str("uid", session.UID).Msg("backend sign-in completed")
	return session.Clone(), nil
}

// SignOut implements Backend.
func (b *GoogleBackend) SignOut(_ context.Context) error {
	b.setCurrent(nil)
	return nil
}

// CurrentSession implements Backend.
func (b *GoogleBackend) CurrentSession() *identity.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current.Clone()
}

// SubscribeAuthState implements Backend.
func (b *GoogleBackend) SubscribeAuthState(listener AuthStateListener) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = listener
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

func (b *GoogleBackend) setCurrent(session *identity.Session) {
	b.mu.Lock()
	b.current = session.Clone()
	listeners := make([]AuthStateListener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.Unlock()

	// Asynchronous, unordered delivery: listeners in this process get the
	// same guarantees as listeners in another context.
	for _, l := range listeners {
		go l(session.Clone())
	}
}

func (b *GoogleBackend) verifyIDToken(ctx context.Context, rawIDToken string) error {
	b.verifierOnce.Do(func() {
		provider, err := oidc.NewProvider(ctx, googleIssuer)
		if err != nil {
			b.verifierErr = errors.Wrap(ErrBackendUnavailable, err.Error())
			return
		}
		b.verifier = provider.Verifier(&oidc.Config{ClientID: b.oauthClientID})
	})
	if b.verifierErr != nil {
		return b.verifierErr
	}
	if _, err := b.verifier.Verify(ctx, rawIDToken); err != nil {
		return errors.Wrap(ErrInvalidCredential, err.Error())
	}
	return nil
}
