// Package registry stores push subscriptions: which device endpoints should
// receive pushes for which app.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/tariel-x/apppush/internal/models"
)

var (
	// ErrUnavailable wraps every storage failure. Callers decide whether it
	// is fatal (reads before a dispatch) or not (cleanup after a Gone).
	ErrUnavailable = errors.New("subscription registry unavailable")
	ErrNotFound    = errors.New("subscription not found")
)

// Keys are the opaque per-device secrets the push transport needs.
type Keys struct {
	P256DH string
	Auth   string
}

// Registry is the durable set of (app, endpoint) registrations.
type Registry interface {
	// Upsert registers endpoint for appID. A second call for the same pair
	// replaces the keys and keeps the existing id.
	Upsert(ctx context.Context, appID, endpoint string, keys Keys) (*models.PushSubscription, error)
	Get(ctx context.Context, id string) (*models.PushSubscription, error)
	ListByTenant(ctx context.Context, appID string) ([]models.PushSubscription, error)
	// ListByTenants concatenates ListByTenant for every id. The same device
	// registered with two apps appears twice.
	ListByTenants(ctx context.Context, appIDs []string) ([]models.PushSubscription, error)
	// DeleteByID removes one registration of appID. Missing rows are not an error.
	DeleteByID(ctx context.Context, appID, id string) error
	DeleteByEndpoint(ctx context.Context, appID, endpoint string) error
	DeleteByTenant(ctx context.Context, appID string) error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
