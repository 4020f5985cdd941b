// Package stripeapi adapts the Stripe SDK to the relay: connected accounts,
// payment links, balances, checkout session lookups and webhook
// verification. Every remote call runs through a circuit breaker.
package stripeapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/suspectuso/paylink-relay/internal/metrics"
	"github.com/suspectuso/paylink-relay/internal/payment"
)

var (
	// ErrProvider wraps every failed provider call, including an open circuit.
	ErrProvider = errors.New("payment provider error")
	// ErrResourceMissing is joined to ErrProvider when the account, session
	// or link does not exist.
	ErrResourceMissing = errors.New("resource missing")
)

// Config holds the provider client settings
type Config struct {
	SecretKey   string
	Country     string
	Currency    string
	BusinessURL string

	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration

	// Backends overrides the SDK transport; nil uses the live API.
	Backends *stripe.Backends
}

// Client is a Stripe API client guarded by a circuit breaker
type Client struct {
	api *client.API
	cb  *gobreaker.CircuitBreaker[any]
	cfg Config
	log *slog.Logger
}

// NewClient creates a new Stripe client
func NewClient(cfg Config, log *slog.Logger) *Client {
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "stripe",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
		// client errors (bad ids, validation) say nothing about provider health
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var se *stripe.Error
			if errors.As(err, &se) {
				return se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500 && se.HTTPStatusCode != 429
			}
			return false
		},
	}
	metrics.BreakerState.WithLabelValues(settings.Name).Set(float64(gobreaker.StateClosed))

	return &Client{
		api: client.New(cfg.SecretKey, cfg.Backends),
		cb:  gobreaker.NewCircuitBreaker[any](settings),
		cfg: cfg,
		log: log,
	}
}

// call runs fn through the breaker and normalizes its error.
func call[T any](c *Client, op string, fn func() (T, error)) (T, error) {
	start := time.Now()
	out, err := c.cb.Execute(func() (any, error) {
		return fn()
	})
	metrics.RecordProviderCall(op, time.Since(start), err)

	if err != nil {
		var zero T
		return zero, c.wrap(op, err)
	}
	return out.(T), nil
}

func (c *Client) wrap(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.log.Warn("provider call rejected by circuit breaker", "operation", op)
		return fmt.Errorf("%w: %s: %w", ErrProvider, op, err)
	}

	var se *stripe.Error
	if errors.As(err, &se) {
		c.log.Error("provider call failed",
			"operation", op,
			"status", se.HTTPStatusCode,
			"code", string(se.Code),
			"request_id", se.RequestID,
			"error", se.Msg,
		)
		if se.Code == stripe.ErrorCodeResourceMissing || se.HTTPStatusCode == 404 {
			return fmt.Errorf("%w: %s: %w", ErrProvider, op, ErrResourceMissing)
		}
		return fmt.Errorf("%w: %s: %s", ErrProvider, op, se.Msg)
	}

	c.log.Error("provider call failed", "operation", op, "error", err)
	return fmt.Errorf("%w: %s: %v", ErrProvider, op, err)
}

// --- Checkout sessions ---

// GetCheckoutSession fetches a session created on a connected account
func (c *Client) GetCheckoutSession(ctx context.Context, sessionID, accountID string) (payment.Session, error) {
	return call(c, "checkout_session.get", func() (payment.Session, error) {
		params := &stripe.CheckoutSessionParams{}
		params.Context = ctx
		if accountID != "" {
			params.SetStripeAccount(accountID)
		}

		s, err := c.api.CheckoutSessions.Get(sessionID, params)
		if err != nil {
			return payment.Session{}, err
		}

		return payment.Session{
			ID:                s.ID,
			ClientReferenceID: s.ClientReferenceID,
			Account:           accountID,
			PaymentStatus:     sessionStatus(string(s.PaymentStatus), string(s.Status)),
			AmountMinor:       s.AmountTotal,
		}, nil
	})
}

func sessionStatus(paymentStatus, status string) payment.Status {
	switch {
	case paymentStatus == "paid":
		return payment.StatusPaid
	case status == "expired":
		return payment.StatusExpired
	case status == "open":
		return payment.StatusPending
	default:
		return payment.StatusUnpaid
	}
}

// --- Connected accounts ---

// CreateExpressAccount creates an express connected account
func (c *Client) CreateExpressAccount(ctx context.Context, req ExpressAccountRequest) (string, error) {
	return call(c, "account.create", func() (string, error) {
		params := &stripe.AccountParams{
			Type:    stripe.String(string(stripe.AccountTypeExpress)),
			Email:   stripe.String(req.Email),
			Country: stripe.String(c.cfg.Country),
			Capabilities: &stripe.AccountCapabilitiesParams{
				Transfers:    &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
				CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			},
			BusinessProfile: &stripe.AccountBusinessProfileParams{
				URL: stripe.String(c.cfg.BusinessURL),
			},
			TOSAcceptance: &stripe.AccountTOSAcceptanceParams{
				ServiceAgreement: stripe.String("full"),
			},
		}
		params.Context = ctx

		acct, err := c.api.Accounts.New(params)
		if err != nil {
			return "", err
		}
		if acct.ID == "" {
			return "", errors.New("empty account id")
		}
		return acct.ID, nil
	})
}

// GetAccount returns the onboarding state of a connected account
func (c *Client) GetAccount(ctx context.Context, accountID string) (AccountStatus, error) {
	return call(c, "account.get", func() (AccountStatus, error) {
		params := &stripe.AccountParams{}
		params.Context = ctx

		acct, err := c.api.Accounts.GetByID(accountID, params)
		if err != nil {
			return AccountStatus{}, err
		}

		st := AccountStatus{
			ID:             acct.ID,
			ChargesEnabled: acct.ChargesEnabled,
			PayoutsEnabled: acct.PayoutsEnabled,
		}
		if acct.Requirements != nil {
			st.EventuallyDue = acct.Requirements.EventuallyDue
		}
		return st, nil
	})
}

// CreateAccountLink returns an onboarding link for a connected account
func (c *Client) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	return call(c, "account_link.create", func() (string, error) {
		params := &stripe.AccountLinkParams{
			Account:    stripe.String(accountID),
			RefreshURL: stripe.String(refreshURL),
			ReturnURL:  stripe.String(returnURL),
			Type:       stripe.String("account_onboarding"),
		}
		params.Context = ctx

		link, err := c.api.AccountLinks.New(params)
		if err != nil {
			return "", err
		}
		return link.URL, nil
	})
}

// CreateLoginLink returns an express dashboard login link
func (c *Client) CreateLoginLink(ctx context.Context, accountID string) (string, error) {
	return call(c, "login_link.create", func() (string, error) {
		params := &stripe.LoginLinkParams{
			Account: stripe.String(accountID),
		}
		params.Context = ctx

		link, err := c.api.LoginLinks.New(params)
		if err != nil {
			return "", err
		}
		return link.URL, nil
	})
}

// --- Payment links ---

// CreatePaymentLink creates product, price and payment link on the seller
// account and returns the link url.
func (c *Client) CreatePaymentLink(ctx context.Context, req PaymentLinkRequest) (string, error) {
	return call(c, "payment_link.create", func() (string, error) {
		productParams := &stripe.ProductParams{Name: stripe.String(req.ProductName)}
		productParams.Context = ctx
		productParams.SetStripeAccount(req.AccountID)

		product, err := c.api.Products.New(productParams)
		if err != nil {
			return "", err
		}

		priceParams := &stripe.PriceParams{
			UnitAmount: stripe.Int64(req.AmountMinor),
			Currency:   stripe.String(c.cfg.Currency),
			Product:    stripe.String(product.ID),
		}
		priceParams.Context = ctx
		priceParams.SetStripeAccount(req.AccountID)

		price, err := c.api.Prices.New(priceParams)
		if err != nil {
			return "", err
		}

		linkParams := &stripe.PaymentLinkParams{
			LineItems: []*stripe.PaymentLinkLineItemParams{
				{Price: stripe.String(price.ID), Quantity: stripe.Int64(1)},
			},
			AfterCompletion: &stripe.PaymentLinkAfterCompletionParams{
				Type: stripe.String("redirect"),
				Redirect: &stripe.PaymentLinkAfterCompletionRedirectParams{
					URL: stripe.String(req.RedirectURL),
				},
			},
			CustomerCreation: stripe.String("always"),
		}
		linkParams.Context = ctx
		linkParams.SetStripeAccount(req.AccountID)

		link, err := c.api.PaymentLinks.New(linkParams)
		if err != nil {
			return "", err
		}
		return link.URL, nil
	})
}

// --- Balance and payouts ---

// GetBalance returns the connected account balance
func (c *Client) GetBalance(ctx context.Context, accountID string) (Balance, error) {
	return call(c, "balance.get", func() (Balance, error) {
		params := &stripe.BalanceParams{}
		params.Context = ctx
		params.SetStripeAccount(accountID)

		b, err := c.api.Balance.Get(params)
		if err != nil {
			return Balance{}, err
		}
		return Balance{
			Available: toMoney(b.Available),
			Pending:   toMoney(b.Pending),
		}, nil
	})
}

func toMoney(amounts []*stripe.Amount) []Money {
	out := make([]Money, 0, len(amounts))
	for _, a := range amounts {
		if a == nil {
			continue
		}
		out = append(out, Money{Amount: a.Amount, Currency: string(a.Currency)})
	}
	return out
}

// ListPayouts returns the most recent page of payouts
func (c *Client) ListPayouts(ctx context.Context, accountID string) ([]Payout, error) {
	return call(c, "payout.list", func() ([]Payout, error) {
		params := &stripe.PayoutListParams{}
		params.Context = ctx
		params.Single = true
		params.SetStripeAccount(accountID)

		payouts := make([]Payout, 0)
		it := c.api.Payouts.List(params)
		for it.Next() {
			p := it.Payout()
			payouts = append(payouts, Payout{
				ID:          p.ID,
				Amount:      p.Amount,
				Currency:    string(p.Currency),
				Status:      string(p.Status),
				ArrivalDate: p.ArrivalDate,
				Created:     p.Created,
			})
		}
		if err := it.Err(); err != nil {
			return nil, err
		}
		return payouts, nil
	})
}

// --- Webhook endpoints ---

// ListWebhookEndpoints returns the platform webhook endpoints
func (c *Client) ListWebhookEndpoints(ctx context.Context) ([]WebhookEndpoint, error) {
	return call(c, "webhook_endpoint.list", func() ([]WebhookEndpoint, error) {
		params := &stripe.WebhookEndpointListParams{}
		params.Context = ctx

		var endpoints []WebhookEndpoint
		it := c.api.WebhookEndpoints.List(params)
		for it.Next() {
			endpoints = append(endpoints, toEndpoint(it.WebhookEndpoint()))
		}
		if err := it.Err(); err != nil {
			return nil, err
		}
		return endpoints, nil
	})
}

// CreateWebhookEndpoint registers an endpoint that also receives
// connected-account events.
func (c *Client) CreateWebhookEndpoint(ctx context.Context, url string, events []string) (WebhookEndpoint, error) {
	return call(c, "webhook_endpoint.create", func() (WebhookEndpoint, error) {
		params := &stripe.WebhookEndpointParams{
			URL:           stripe.String(url),
			EnabledEvents: stripe.StringSlice(events),
			Connect:       stripe.Bool(true),
		}
		params.Context = ctx

		we, err := c.api.WebhookEndpoints.New(params)
		if err != nil {
			return WebhookEndpoint{}, err
		}
		return toEndpoint(we), nil
	})
}

// UpdateWebhookEndpointEvents replaces the enabled events of an endpoint
func (c *Client) UpdateWebhookEndpointEvents(ctx context.Context, id string, events []string) (WebhookEndpoint, error) {
	return call(c, "webhook_endpoint.update", func() (WebhookEndpoint, error) {
		params := &stripe.WebhookEndpointParams{
			EnabledEvents: stripe.StringSlice(events),
		}
		params.Context = ctx

		we, err := c.api.WebhookEndpoints.Update(id, params)
		if err != nil {
			return WebhookEndpoint{}, err
		}
		return toEndpoint(we), nil
	})
}

func toEndpoint(we *stripe.WebhookEndpoint) WebhookEndpoint {
	return WebhookEndpoint{
		ID:            we.ID,
		URL:           we.URL,
		EnabledEvents: we.EnabledEvents,
		Status:        we.Status,
		Secret:        we.Secret,
	}
}
