// Package webhook keeps the provider webhook endpoint for this relay
// registered and subscribed to the handled event types.
package webhook

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/suspectuso/paylink-relay/internal/stripeapi"
)

const defaultSyncInterval = 10 * time.Minute

// EndpointProvider manages webhook endpoints at the payment provider.
type EndpointProvider interface {
	ListWebhookEndpoints(ctx context.Context) ([]stripeapi.WebhookEndpoint, error)
	CreateWebhookEndpoint(ctx context.Context, url string, events []string) (stripeapi.WebhookEndpoint, error)
	UpdateWebhookEndpointEvents(ctx context.Context, id string, events []string) (stripeapi.WebhookEndpoint, error)
}

// Manager manages the provider webhook endpoint
type Manager struct {
	provider EndpointProvider
	endpoint string
	events   []string
	interval time.Duration
	log      *slog.Logger

	mu         sync.Mutex
	endpointID string
}

// NewManager creates a new webhook manager. An empty endpoint disables it.
func NewManager(provider EndpointProvider, endpoint string, events []string, interval time.Duration, log *slog.Logger) *Manager {
	if interval <= 0 {
		interval = defaultSyncInterval
	}
	return &Manager{
		provider: provider,
		endpoint: endpoint,
		events:   events,
		interval: interval,
		log:      log,
	}
}

// Init finds the endpoint registered for our URL or creates it.
func (m *Manager) Init(ctx context.Context) error {
	if m.endpoint == "" {
		m.log.Warn("webhook endpoint not set, skipping webhook init")
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	endpoints, err := m.provider.ListWebhookEndpoints(ctx)
	if err != nil {
		return err
	}

	for _, ep := range endpoints {
		if ep.URL == m.endpoint {
			m.endpointID = ep.ID
			m.log.Info("using existing webhook endpoint", "id", ep.ID, "status", ep.Status)
			return m.ensureEventsLocked(ctx, ep)
		}
	}

	ep, err := m.provider.CreateWebhookEndpoint(ctx, m.endpoint, m.events)
	if err != nil {
		return err
	}

	m.endpointID = ep.ID
	m.log.Info("created new webhook endpoint", "id", ep.ID, "events", len(m.events))
	if ep.Secret != "" {
		m.log.Warn("new webhook endpoint has its own signing secret; set WEBHOOK_SECRET from the provider dashboard", "id", ep.ID)
	}
	return nil
}

// ensureEventsLocked adds any handled event type the endpoint is missing.
func (m *Manager) ensureEventsLocked(ctx context.Context, ep stripeapi.WebhookEndpoint) error {
	if slices.Contains(ep.EnabledEvents, "*") {
		return nil
	}

	var missing []string
	for _, e := range m.events {
		if !slices.Contains(ep.EnabledEvents, e) {
			missing = append(missing, e)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	events := append(slices.Clone(ep.EnabledEvents), missing...)
	if _, err := m.provider.UpdateWebhookEndpointEvents(ctx, ep.ID, events); err != nil {
		return err
	}
	m.log.Info("subscribed webhook endpoint to events", "id", ep.ID, "added", missing)
	return nil
}

// Serve initializes the endpoint and re-checks it periodically until ctx is
// cancelled.
func (m *Manager) Serve(ctx context.Context) error {
	if m.endpoint == "" {
		m.log.Info("webhook endpoint not set, registration disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	if err := m.Init(ctx); err != nil {
		m.log.Error("init webhook endpoint", "error", err)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info("webhook sync loop started", "interval", m.interval)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.sync(ctx); err != nil {
				m.log.Error("sync webhook endpoint", "error", err)
			}
		}
	}
}

func (m *Manager) String() string { return "webhook-manager" }

// sync verifies the endpoint still exists and is enabled, re-creating it
// when it was deleted at the provider.
func (m *Manager) sync(ctx context.Context) error {
	m.mu.Lock()
	id := m.endpointID
	m.mu.Unlock()

	if id == "" {
		return m.Init(ctx)
	}

	endpoints, err := m.provider.ListWebhookEndpoints(ctx)
	if err != nil {
		return err
	}

	for _, ep := range endpoints {
		if ep.ID != id {
			continue
		}
		if ep.Status != "" && ep.Status != "enabled" {
			m.log.Warn("webhook endpoint is not enabled", "id", ep.ID, "status", ep.Status)
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.ensureEventsLocked(ctx, ep)
	}

	m.log.Warn("webhook endpoint disappeared, re-registering", "id", id)
	m.mu.Lock()
	m.endpointID = ""
	m.mu.Unlock()
	return m.Init(ctx)
}

// EndpointID returns the current webhook endpoint id
func (m *Manager) EndpointID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpointID
}
