// Package notifier is the entry point the HTTP layer calls: device
// registration, owner-scoped app management and dispatch.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/tariel-x/apppush/internal/dispatch"
	"github.com/tariel-x/apppush/internal/metrics"
	"github.com/tariel-x/apppush/internal/models"
	"github.com/tariel-x/apppush/internal/registry"
	"github.com/tariel-x/apppush/internal/tenant"
)

const FeedDispatch = "dispatch"

var (
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrForbidden           = errors.New("app belongs to another owner")
)

// Tenants is the app store as the notifier uses it.
type Tenants interface {
	tenant.Store
	Delete(ctx context.Context, id string) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Result, error)
}

// Feed receives a summary of every dispatch for the owner's dashboards.
type Feed interface {
	Publish(ownerID, msgType string, data any) int
}

// DispatchEvent is the feed message published after a dispatch.
type DispatchEvent struct {
	DispatchID string   `json:"dispatch_id"`
	Scope      string   `json:"scope"`
	Success    int      `json:"success"`
	Failure    int      `json:"failure"`
	Removed    []string `json:"removed"`
}

type Service struct {
	registry   registry.Registry
	tenants    Tenants
	dispatcher Dispatcher
	feed       Feed
	logger     *slog.Logger
}

// New builds the service. feed may be nil.
func New(reg registry.Registry, tenants Tenants, dispatcher Dispatcher, feed Feed, logger *slog.Logger) *Service {
	return &Service{
		registry:   reg,
		tenants:    tenants,
		dispatcher: dispatcher,
		feed:       feed,
		logger:     logger.With("component", "notifier"),
	}
}

// RegisterSubscription records a device for appID, rotating keys if the
// endpoint is already known. Returns tenant.ErrNotFound for unknown apps.
func (s *Service) RegisterSubscription(ctx context.Context, appID, endpoint string, keys registry.Keys) (*models.PushSubscription, error) {
	if err := validateSubscription(endpoint, keys); err != nil {
		return nil, err
	}
	if _, err := s.tenants.FindByID(ctx, appID); err != nil {
		return nil, err
	}

	sub, err := s.registry.Upsert(ctx, appID, endpoint, keys)
	if err != nil {
		return nil, err
	}
	metrics.Registrations.Inc()
	s.logger.Debug("Subscription registered", "app_id", appID, "subscription_id", sub.ID)
	return sub, nil
}

// SubscribeAll registers one device with every app ownerID owns and returns
// how many apps it now receives pushes for.
func (s *Service) SubscribeAll(ctx context.Context, ownerID, endpoint string, keys registry.Keys) (int, error) {
	if ownerID == "" {
		return 0, tenant.ErrNotAuthorized
	}
	if err := validateSubscription(endpoint, keys); err != nil {
		return 0, err
	}

	apps, err := s.tenants.ListByOwner(ctx, ownerID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, app := range apps {
		if _, err := s.registry.Upsert(ctx, app.ID, endpoint, keys); err != nil {
			return count, fmt.Errorf("subscribe to app %s: %w", app.ID, err)
		}
		metrics.Registrations.Inc()
		count++
	}
	s.logger.Info("Device subscribed to all apps", "owner_id", ownerID, "apps", count)
	return count, nil
}

// Unsubscribe removes the (appID, endpoint) registration if present.
func (s *Service) Unsubscribe(ctx context.Context, appID, endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidSubscription)
	}
	return s.registry.DeleteByEndpoint(ctx, appID, endpoint)
}

// Authorize returns the app if ownerID owns it.
func (s *Service) Authorize(ctx context.Context, ownerID, appID string) (*models.App, error) {
	if ownerID == "" {
		return nil, tenant.ErrNotAuthorized
	}
	app, err := s.tenants.FindByID(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.UserID != ownerID {
		return nil, ErrForbidden
	}
	return app, nil
}

// Dispatch runs one dispatch and publishes its summary to the scope owner's
// feed.
func (s *Service) Dispatch(ctx context.Context, req dispatch.Request) (dispatch.Result, error) {
	kind := "single"
	if req.Scope.All {
		kind = "all"
	}

	started := time.Now()
	result, err := s.dispatcher.Dispatch(ctx, req)
	metrics.DispatchDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.Dispatches.WithLabelValues(kind, "error").Inc()
		return dispatch.Result{}, err
	}
	metrics.Dispatches.WithLabelValues(kind, "ok").Inc()

	if s.feed != nil && req.Scope.OwnerID != "" {
		s.feed.Publish(req.Scope.OwnerID, FeedDispatch, DispatchEvent{
			DispatchID: result.DispatchID,
			Scope:      req.Scope.String(),
			Success:    result.Success,
			Failure:    result.Failure,
			Removed:    result.Removed,
		})
	}
	return result, nil
}

// CountSubscriptions reports how many devices are registered for an app the
// owner controls.
func (s *Service) CountSubscriptions(ctx context.Context, ownerID, appID string) (int, error) {
	if _, err := s.Authorize(ctx, ownerID, appID); err != nil {
		return 0, err
	}
	subs, err := s.registry.ListByTenant(ctx, appID)
	if err != nil {
		return 0, err
	}
	return len(subs), nil
}

// DeleteTenant removes an owner's app and all of its subscriptions.
func (s *Service) DeleteTenant(ctx context.Context, ownerID, appID string) error {
	if _, err := s.Authorize(ctx, ownerID, appID); err != nil {
		return err
	}
	// Goes through the registry first so a cached subscription list is
	// dropped along with the rows.
	if err := s.registry.DeleteByTenant(ctx, appID); err != nil {
		return err
	}
	if err := s.tenants.Delete(ctx, appID); err != nil {
		return err
	}
	s.logger.Info("App deleted", "owner_id", ownerID, "app_id", appID)
	return nil
}

func validateSubscription(endpoint string, keys registry.Keys) error {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("%w: endpoint must be an absolute http(s) URL", ErrInvalidSubscription)
	}
	if keys.P256DH == "" || keys.Auth == "" {
		return fmt.Errorf("%w: p256dh and auth keys are required", ErrInvalidSubscription)
	}
	return nil
}
