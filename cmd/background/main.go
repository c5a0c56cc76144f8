package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-extension-auth/broker"
	"github.com/jrsteele09/go-extension-auth/controller"
	"github.com/jrsteele09/go-extension-auth/exchange"
	"github.com/jrsteele09/go-extension-auth/internal/config"
	"github.com/jrsteele09/go-extension-auth/relay"
	"github.com/jrsteele09/go-extension-auth/store"
)

// The background context: it owns the relay receiver and the long-lived
// session controller, and serves the reconciled session to the popup.
func main() {
	for {
		if err := run(); err != nil {
			log.Fatalf("Error running background service: %s\n", err)
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	log.Printf("Background service stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	sessionStore, err := store.NewFileRepo(c.GetSessionFile(), store.WithFileLogger(logger))
	if err != nil {
		return fmt.Errorf("store.NewFileRepo: %w", err)
	}
	defer sessionStore.Close()

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

	tokenBroker, err := broker.NewGoogleBroker(
		c.GetGoogleClientID(),
		c.GetGoogleClientSecret(),
		c.GetGrantCacheFile(),
		broker.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("broker.NewGoogleBroker: %w", err)
	}

	sessionController, err := controller.New(controller.Deps{
		Broker:    tokenBroker,
		Backend:   backend,
		Exchanger: exchanger,
		Store:     sessionStore,
	}, controller.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("controller.New: %w", err)
	}

	if err := sessionController.Start(context.Background()); err != nil {
		return fmt.Errorf("controller.Start: %w", err)
	}
	defer sessionController.Stop()

	receiver, err := relay.NewReceiver(sessionStore, exchanger, relay.WithReceiverLogger(logger))
	if err != nil {
		return fmt.Errorf("relay.NewReceiver: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth", receiver.Handler())
	mux.HandleFunc("/session", sessionHandler(sessionController))

	server := &http.Server{Addr: c.GetPort(), Handler: mux}
	go listenAndServe(server)
	waitForStopSignal()
	returnError = shutdown(server)
	return returnError
}

// sessionHandler serves the current session view to the popup context.
func sessionHandler(sessionController *controller.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "GET required", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			State string      `json:"state"`
			User  interface{} `json:"user,omitempty"`
		}{
			State: sessionController.State().String(),
			User:  sessionController.CurrentUser(),
		})
	}
}

func listenAndServe(server *http.Server) error {
	log.Printf("Background service listening on %s\n", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
