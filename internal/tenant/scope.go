package tenant

import (
	"context"
	"errors"

	"github.com/tariel-x/apppush/internal/models"
)

// Scope names the recipients of one dispatch: a single app, or every app
// owned by OwnerID.
type Scope struct {
	AppID   string
	All     bool
	OwnerID string
}

func Single(appID string) Scope {
	return Scope{AppID: appID}
}

// AllOwnedBy scopes to every app of ownerID. An empty ownerID means the
// caller is not authenticated.
func AllOwnedBy(ownerID string) Scope {
	return Scope{All: true, OwnerID: ownerID}
}

func (s Scope) String() string {
	if s.All {
		return "ALL"
	}
	return s.AppID
}

// Resolution is the concrete set of app ids a scope expands to. App is set
// only for a single-app scope whose app exists.
type Resolution struct {
	AppIDs []string
	App    *models.App
}

type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve expands scope. A single app that does not exist resolves to an
// empty set without error; an all-apps scope without an owner fails with
// ErrNotAuthorized.
func (r *Resolver) Resolve(ctx context.Context, scope Scope) (Resolution, error) {
	if !scope.All {
		app, err := r.store.FindByID(ctx, scope.AppID)
		if errors.Is(err, ErrNotFound) {
			return Resolution{}, nil
		}
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{AppIDs: []string{app.ID}, App: app}, nil
	}

	if scope.OwnerID == "" {
		return Resolution{}, ErrNotAuthorized
	}
	apps, err := r.store.ListByOwner(ctx, scope.OwnerID)
	if err != nil {
		return Resolution{}, err
	}
	ids := make([]string, 0, len(apps))
	for _, app := range apps {
		ids = append(ids, app.ID)
	}
	return Resolution{AppIDs: ids}, nil
}
