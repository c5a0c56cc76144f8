package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-extension-auth/broker"
	"github.com/jrsteele09/go-extension-auth/exchange"
	"github.com/jrsteele09/go-extension-auth/internal/config"
	"github.com/jrsteele09/go-extension-auth/relay"
)

// The external sign-in context: it completes the federated sign-in flow on
// its own, then hands the result to the background context over the relay.
// It has no access to the background context's memory; the relay
// acknowledgement is the only proof the session was persisted.
func main() {
	if err := run(); err != nil {
		log.Fatalf("Sign-in failed: %s\n", err)
	}
}

func run() error {
	c := config.New()
	displayAppname(c.GetAppName())
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tokenBroker, err := broker.NewGoogleBroker(
		c.GetGoogleClientID(),
		c.GetGoogleClientSecret(),
		c.GetGrantCacheFile(),
		broker.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("broker.NewGoogleBroker: %w", err)
	}

	backend, err := exchange.NewGoogleBackend(c.GetIdentityAPIKey(),
		exchange.WithBackendLogger(logger),
		exchange.WithIDTokenVerification(c.GetGoogleClientID()),
	)
	if err != nil {
		return fmt.Errorf("exchange.NewGoogleBackend: %w", err)
	}

	exchanger, err := exchange.NewService(backend, exchange.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("exchange.NewService: %w", err)
	}

	sender, err := relay.NewSender(c.GetRelayEndpoint(), relay.WithSenderLogger(logger))
	if err != nil {
		return fmt.Errorf("relay.NewSender: %w", err)
	}

	token, err := tokenBroker.RequestToken(ctx, true)
	if err != nil {
		if errors.Is(err, broker.ErrUserCancelled) {
			logger.Info().Msg("sign-in cancelled")
			return nil
		}
		return fmt.Errorf("request token: %w", err)
	}

	session, err := exchanger.ExchangeForSession(ctx, token)
	if err != nil {
		return fmt.Errorf("exchange credential: %w", err)
	}

	if err := sender.Relay(ctx, relay.AuthDataFromSession(session)); err != nil {
		if errors.Is(err, relay.ErrUnreachable) {
			// Fail closed: without an acknowledgement the session is NOT
			// persisted, and this context must not pretend otherwise.
			fmt.Println("Could not reach the extension. Please reopen sign-in from the extension and try again.")
		}
		return fmt.Errorf("relay session: %w", err)
	}

	fmt.Printf("Signed in as %s. You can close this window.\n", session.Email)
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
