package broker

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	defaultListenAddr = "127.0.0.1:0"
	revokeEndpoint    = "https://oauth2.googleapis.com/revoke"
)

// googleEndpoint is spelled out rather than imported so the broker depends
// only on the generic oauth2 plumbing.
var googleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

// GoogleBroker implements Broker against Google's OAuth endpoint.
//
// Interactive requests run the consent flow through the user's browser with
// a loopback redirect listener. Silent requests are served from the cached
// grant, refreshing it when possible. Grants are cached on disk so silent
// requests keep working across process restarts.
type GoogleBroker struct {
	oauthConfig *oauth2.Config
	cache       *grantCache
	listenAddr  string
	openBrowser func(url string) error
	httpClient  *http.Client
	revokeURL   string
	log         zerolog.Logger
}

// GoogleBrokerOption configures a GoogleBroker.
type GoogleBrokerOption func(*GoogleBroker)

// WithLogger sets the broker logger.
func WithLogger(log zerolog.Logger) GoogleBrokerOption {
	return func(b *GoogleBroker) {
		b.log = log
	}
}

// WithListenAddr sets the loopback address for the interactive redirect
// listener. Defaults to an ephemeral port on 127.0.0.1.
func WithListenAddr(addr string) GoogleBrokerOption {
	return func(b *GoogleBroker) {
		b.listenAddr = addr
	}
}

// WithBrowserOpener overrides how the consent URL is presented to the user
// (primarily for testing).
func WithBrowserOpener(open func(url string) error) GoogleBrokerOption {
	return func(b *GoogleBroker) {
		b.openBrowser = open
	}
}

// WithHTTPClient overrides the HTTP client used for token revocation.
func WithHTTPClient(client *http.Client) GoogleBrokerOption {
	return func(b *GoogleBroker) {
		b.httpClient = client
	}
}

// WithOAuthEndpoint overrides the provider OAuth endpoint (for testing).
func WithOAuthEndpoint(endpoint oauth2.Endpoint) GoogleBrokerOption {
	return func(b *GoogleBroker) {
		b.oauthConfig.Endpoint = endpoint
	}
}

// WithRevokeEndpoint overrides the provider revocation endpoint (for
// testing).
func WithRevokeEndpoint(endpoint string) GoogleBrokerOption {
	return func(b *GoogleBroker) {
		b.revokeURL = endpoint
	}
}

// NewGoogleBroker creates a broker for the given OAuth client, caching
// grants at cachePath.
func NewGoogleBroker(clientID, clientSecret, cachePath string, options ...GoogleBrokerOption) (*GoogleBroker, error) {
	if clientID == "" {
		return nil, errors.New("[NewGoogleBroker] clientID is required")
	}

	cache, err := newGrantCache(cachePath)
	if err != nil {
		return nil, errors.Wrap(err, "[NewGoogleBroker] grant cache")
	}

	b := &GoogleBroker{
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     googleEndpoint,
			Scopes:       []string{"openid", "profile", "email"},
		},
		cache:       cache,
		listenAddr:  defaultListenAddr,
		openBrowser: openURL,
		httpClient:  http.DefaultClient,
		revokeURL:   revokeEndpoint,
		log:         zerolog.Nop(),
	}

	for _, opt := range options {
		opt(b)
	}
	return b, nil
}

var _ Broker = (*GoogleBroker)(nil)

// RequestToken implements Broker.
func (b *GoogleBroker) RequestToken(ctx context.Context, interactive bool) (*Token, error) {
	if interactive {
		return b.interactiveToken(ctx)
	}
	return b.silentToken(ctx)
}

// silentToken serves a token from the cached grant without any UI.
func (b *GoogleBroker) silentToken(ctx context.Context) (*Token, error) {
	grant, err := b.cache.Load()
	if err != nil {
		return nil, errors.Wrap(err, "[GoogleBroker.silentToken] load cached grant")
	}
	if grant == nil {
		return nil, ErrNoCachedGrant
	}

	if grant.Valid() {
		return tokenFromGrant(grant), nil
	}

	if grant.RefreshToken == "" {
		return nil, ErrNoCachedGrant
	}

	refreshed, err := b.oauthConfig.TokenSource(ctx, grant).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			// The provider rejected the refresh token. The grant is dead;
			// drop it so the caller falls back to interactive sign-in.
			if removeErr := b.cache.Remove(); removeErr != nil {
				b.log.Warn().Err(removeErr).Msg("failed to drop rejected grant")
			}
			return nil, ErrNoCachedGrant
		}
		return nil, errors.Wrap(ErrProvider, err.Error())
	}

	if err := b.cache.Save(refreshed); err != nil {
		return nil, errors.Wrap(err, "[GoogleBroker.silentToken] save refreshed grant")
	}
	return tokenFromGrant(refreshed), nil
}

type callbackResult struct {
	code string
	err  error
}

// interactiveToken runs the browser consent flow and blocks until the user
// completes or cancels it.
func (b *GoogleBroker) interactiveToken(ctx context.Context) (*Token, error) {
	listener, err := net.Listen("tcp", b.listenAddr)
	if err != nil {
		return nil, errors.Wrap(err, "[GoogleBroker.interactiveToken] listen for redirect")
	}
	defer listener.Close()

	state := randomURLString(16)
	verifier := randomURLString(32)

	cfg := *b.oauthConfig
	cfg.RedirectURL = fmt.Sprintf("http://%s/callback", listener.Addr().String())

	results := make(chan callbackResult, 1)
	server := &http.Server{Handler: callbackHandler(state, results)}
	go func() { _ = server.Serve(listener) }()
	defer server.Close()

	consentURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge(verifier)),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)

	if err := b.openBrowser(consentURL); err != nil {
		return nil, errors.Wrap(ErrProvider, err.Error())
	}

	var result callbackResult
	select {
	case <-ctx.Done():
		return nil, ErrUserCancelled
	case result = <-results:
	}
	if result.err != nil {
		return nil, result.err
	}

	grant, err := cfg.Exchange(ctx, result.code,
		oauth2.SetAuthURLParam("code_verifier", verifier))
	if err != nil {
		return nil, errors.Wrap(ErrProvider, err.Error())
	}

	if err := b.cache.Save(grant); err != nil {
		return nil, errors.Wrap(err, "[GoogleBroker.interactiveToken] cache grant")
	}

	b.log.Info().Msg("interactive sign-in completed")
	return tokenFromGrant(grant), nil
}

// RevokeToken implements Broker. The cached grant is dropped even when the
// provider rejects the revocation, so a silent request cannot reuse it.
func (b *GoogleBroker) RevokeToken(ctx context.Context, token *Token) error {
	if removeErr := b.cache.Remove(); removeErr != nil {
		b.log.Warn().Err(removeErr).Msg("failed to drop cached grant")
	}
	if token.Empty() || token.AccessToken == "" {
		return nil
	}

	form := url.Values{"token": {token.AccessToken}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.revokeURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "[GoogleBroker.RevokeToken] build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(ErrProvider, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Wrap(ErrProvider, fmt.Sprintf("revocation returned %d", resp.StatusCode))
	}
	return nil
}

// callbackHandler captures the provider redirect and reports it once.
func callbackHandler(expectedState string, results chan<- callbackResult) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()

		var result callbackResult
		switch {
		case query.Get("error") == "access_denied":
			result.err = ErrUserCancelled
		case query.Get("error") != "":
			result.err = errors.Wrap(ErrProvider, query.Get("error"))
		case query.Get("state") != expectedState:
			result.err = errors.Wrap(ErrProvider, "state mismatch")
		default:
			result.code = query.Get("code")
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if result.err != nil {
			fmt.Fprint(w, "<html><body>Sign-in was not completed. You may close this tab.</body></html>")
		} else {
			fmt.Fprint(w, "<html><body>Signed in. You may close this tab.</body></html>")
		}

		select {
		case results <- result:
		default:
		}
	}
}

func tokenFromGrant(grant *oauth2.Token) *Token {
	tok := &Token{
		AccessToken: grant.AccessToken,
		Expiry:      grant.Expiry,
	}
	if idToken, ok := grant.Extra("id_token").(string); ok {
		tok.IDToken = idToken
	}
	return tok
}

// randomURLString creates a random base64url string
func randomURLString(length int) string {
	b := make([]byte, length)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

// codeChallenge creates a PKCE code challenge from a verifier
func codeChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

func openURL(target string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", target).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", target).Start()
	default:
		return exec.Command("xdg-open", target).Start()
	}
}
