package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tariel-x/apppush/internal/models"
)

// CacheClient is the subset of Redis commands the cached registry needs.
// Every key carries a version that Invalidate bumps, so a list read from the
// database before a write can not be stored after that write.
type CacheClient interface {
	// Get decodes the value into dest or returns an error on a miss.
	Get(ctx context.Context, key string, dest any) error
	// Version returns the current version of key, zero if never invalidated.
	Version(ctx context.Context, key string) (int64, error)
	// SetIfVersion stores value only while key is still at version.
	// It returns ErrStaleCache when an Invalidate got there first.
	SetIfVersion(ctx context.Context, key string, version int64, value any, ttl time.Duration) error
	// Invalidate deletes key and bumps its version.
	Invalidate(ctx context.Context, key string) error
}

// ErrStaleCache reports a cache fill that lost the race with a write.
var ErrStaleCache = errors.New("cache entry invalidated")

// CachedStore adds read-aside caching of per-app subscription lists to any
// Registry. Writes go to the wrapped registry first and then drop the app's
// key so the next dispatch rereads it.
type CachedStore struct {
	next  Registry
	cache CacheClient
	ttl   time.Duration
}

func NewCachedStore(next Registry, cache CacheClient, ttl time.Duration) *CachedStore {
	return &CachedStore{next: next, cache: cache, ttl: ttl}
}

func (s *CachedStore) ListByTenant(ctx context.Context, appID string) ([]models.PushSubscription, error) {
	key := cacheKey(appID)

	var cached []models.PushSubscription
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	// Read the version before the database so a write landing in between
	// rejects the fill below.
	version, verr := s.cache.Version(ctx, key)

	subs, err := s.next.ListByTenant(ctx, appID)
	if err != nil {
		return nil, err
	}
	if subs == nil {
		subs = []models.PushSubscription{}
	}
	if verr == nil {
		// A cache outage or a lost race only costs us the read-aside.
		_ = s.cache.SetIfVersion(ctx, key, version, subs, s.ttl)
	}
	return subs, nil
}

func (s *CachedStore) ListByTenants(ctx context.Context, appIDs []string) ([]models.PushSubscription, error) {
	return listEach(ctx, s, appIDs)
}

func (s *CachedStore) Get(ctx context.Context, id string) (*models.PushSubscription, error) {
	return s.next.Get(ctx, id)
}

func (s *CachedStore) Upsert(ctx context.Context, appID, endpoint string, keys Keys) (*models.PushSubscription, error) {
	sub, err := s.next.Upsert(ctx, appID, endpoint, keys)
	if err != nil {
		return nil, err
	}
	if err := s.invalidate(ctx, appID); err != nil {
		return nil, err
	}
	return sub, nil
}

// DeleteByID invalidates appID even when the row was already gone, so a
// stale cached entry is dropped by the prune that found it.
func (s *CachedStore) DeleteByID(ctx context.Context, appID, id string) error {
	if err := s.next.DeleteByID(ctx, appID, id); err != nil {
		return err
	}
	return s.invalidate(ctx, appID)
}

func (s *CachedStore) DeleteByEndpoint(ctx context.Context, appID, endpoint string) error {
	if err := s.next.DeleteByEndpoint(ctx, appID, endpoint); err != nil {
		return err
	}
	return s.invalidate(ctx, appID)
}

func (s *CachedStore) DeleteByTenant(ctx context.Context, appID string) error {
	if err := s.next.DeleteByTenant(ctx, appID); err != nil {
		return err
	}
	return s.invalidate(ctx, appID)
}

func (s *CachedStore) invalidate(ctx context.Context, appID string) error {
	if err := s.cache.Invalidate(ctx, cacheKey(appID)); err != nil {
		return unavailable("invalidate subscription cache", err)
	}
	return nil
}

func cacheKey(appID string) string {
	return fmt.Sprintf("apppush:subs:%s", appID)
}
