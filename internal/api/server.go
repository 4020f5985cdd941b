// Package api is the HTTP surface of the relay: the provider webhook, the
// session poll redirect, device balances, seller management and the
// static result pages.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/suspectuso/paylink-relay/internal/correlator"
	"github.com/suspectuso/paylink-relay/internal/storage"
	"github.com/suspectuso/paylink-relay/internal/stripeapi"
)

// Payments correlates provider events with devices.
type Payments interface {
	HandleDelivery(ctx context.Context, payload []byte, signature string) (correlator.Result, error)
	HandlePoll(ctx context.Context, sessionID, accountID string) (correlator.PollResult, error)
}

// Provider is the subset of the payment provider used by the handlers.
type Provider interface {
	CreateExpressAccount(ctx context.Context, req stripeapi.ExpressAccountRequest) (string, error)
	GetAccount(ctx context.Context, accountID string) (stripeapi.AccountStatus, error)
	CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error)
	CreateLoginLink(ctx context.Context, accountID string) (string, error)
	CreatePaymentLink(ctx context.Context, req stripeapi.PaymentLinkRequest) (string, error)
	GetBalance(ctx context.Context, accountID string) (stripeapi.Balance, error)
	ListPayouts(ctx context.Context, accountID string) ([]stripeapi.Payout, error)
}

// Store is the persistence used by the handlers.
type Store interface {
	Ping(ctx context.Context) error
	GetDevice(ctx context.Context, deviceID string) (*storage.Device, error)
	CreateSeller(ctx context.Context, id, name, email string) (*storage.Seller, error)
	FindSellerByLogin(ctx context.Context, name, email string) (*storage.Seller, error)
	MarkSellerOnboarded(ctx context.Context, id, paymentLink string) error
	SellerPaymentLink(ctx context.Context, id string) (string, error)
}

type Options struct {
	Port int
	// BaseURL is the public URL of this server, with a trailing slash.
	BaseURL           string
	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Deps are the collaborators of the HTTP server. WebSocket may be nil.
type Deps struct {
	Payments  Payments
	Provider  Provider
	Store     Store
	WebSocket http.Handler
}

// Server serves the HTTP API
type Server struct {
	opts Options
	deps Deps
	log  *slog.Logger

	server *http.Server
}

// NewServer creates a new API server
func NewServer(opts Options, deps Deps, log *slog.Logger) *Server {
	return &Server{opts: opts, deps: deps, log: log}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(corsHandler(s.opts.CORSOrigins))
	r.Use(instrument(s.log))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, r, newHTTPError(http.StatusNotFound, "Page Not Found"), nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, r, newHTTPError(http.StatusMethodNotAllowed, "Method Not Allowed"), nil)
	})

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	if s.deps.WebSocket != nil {
		r.Get("/ws", s.deps.WebSocket.ServeHTTP)
	}

	// provider retries are not rate limited
	r.Post("/webhook", s.handleWebhook)

	r.Get("/success", s.staticPage(pageSuccess))
	r.Get("/cancel", s.staticPage(pageCancel))

	r.Group(func(r chi.Router) {
		r.Use(rateLimit(s.opts.RateLimitRequests, s.opts.RateLimitWindow))

		// Payments
		r.Get("/user", s.handleUserSession)
		r.Post("/create-payment-link", s.handleCreatePaymentLink)
		r.Post("/device-balance", s.handleDeviceBalance)
		r.Post("/balance", s.handleBalance)
		r.Post("/payouts", s.handlePayouts)

		// Sellers
		r.Post("/login", s.handleLogin)
		r.Post("/account", s.handleCreateAccount)
		r.Post("/account/{account}", s.handleUpdateAccount)
		r.Post("/create-account-link", s.handleCreateAccountLink)
		r.Post("/details", s.handleDetails)
		r.Post("/login-link", s.handleLoginLink)
		r.Post("/payment-link", s.handlePaymentLink)
		r.Get("/onboard-success", s.handleOnboardSuccess)
		r.Get("/reauth", s.handleReauth)
	})

	return r
}

// Serve runs the HTTP server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.opts.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.log.Info("starting http server", "port", s.opts.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http server shutdown", "error", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.log.Info("http server stopped")
	return ctx.Err()
}

func (s *Server) String() string { return "http-server" }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.deps.Store.Ping(ctx); err != nil {
		s.log.Warn("health check failed", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
