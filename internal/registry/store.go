package registry

import (
	"context"
	"errors"
	"strings"

	"github.com/tariel-x/apppush/internal/models"

	"gorm.io/gorm"
)

// upsertAttempts bounds the find/insert/update loop. Two rounds are enough
// for one lost insert race; more only happens if rows are being deleted
// concurrently with registration.
const upsertAttempts = 3

// GormStore is the SQL-backed Registry. Uniqueness of (app_id, endpoint) is
// enforced by the idx_app_endpoint index, not by locks held here.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Upsert(ctx context.Context, appID, endpoint string, keys Keys) (*models.PushSubscription, error) {
	var lastErr error
	for attempt := 0; attempt < upsertAttempts; attempt++ {
		sub, err := s.updateExisting(ctx, appID, endpoint, keys)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, unavailable("upsert subscription", err)
		}

		sub = &models.PushSubscription{
			AppID:    appID,
			Endpoint: endpoint,
			P256DH:   keys.P256DH,
			Auth:     keys.Auth,
		}
		err = s.db.WithContext(ctx).Create(sub).Error
		if err == nil {
			return sub, nil
		}
		if !isUniqueViolation(err) {
			return nil, unavailable("insert subscription", err)
		}
		// Another registration for the same pair won the insert; go back
		// and apply our keys to its row.
		lastErr = err
	}
	return nil, unavailable("upsert subscription", lastErr)
}

// updateExisting rotates the keys of the (appID, endpoint) row and rereads it.
// gorm.ErrRecordNotFound means there is no such row yet.
func (s *GormStore) updateExisting(ctx context.Context, appID, endpoint string, keys Keys) (*models.PushSubscription, error) {
	db := s.db.WithContext(ctx)

	res := db.Model(&models.PushSubscription{}).
		Where("app_id = ? AND endpoint = ?", appID, endpoint).
		Updates(map[string]any{"p256dh": keys.P256DH, "auth": keys.Auth})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	var sub models.PushSubscription
	if err := db.Where("app_id = ? AND endpoint = ?", appID, endpoint).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *GormStore) Get(ctx context.Context, id string) (*models.PushSubscription, error) {
	var sub models.PushSubscription
	err := s.db.WithContext(ctx).First(&sub, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get subscription", err)
	}
	return &sub, nil
}

func (s *GormStore) ListByTenant(ctx context.Context, appID string) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	if err := s.db.WithContext(ctx).Where("app_id = ?", appID).Find(&subs).Error; err != nil {
		return nil, unavailable("list subscriptions", err)
	}
	return subs, nil
}

func (s *GormStore) ListByTenants(ctx context.Context, appIDs []string) ([]models.PushSubscription, error) {
	return listEach(ctx, s, appIDs)
}

func (s *GormStore) DeleteByID(ctx context.Context, appID, id string) error {
	err := s.db.WithContext(ctx).
		Where("app_id = ? AND id = ?", appID, id).
		Delete(&models.PushSubscription{}).Error
	if err != nil {
		return unavailable("delete subscription", err)
	}
	return nil
}

func (s *GormStore) DeleteByEndpoint(ctx context.Context, appID, endpoint string) error {
	err := s.db.WithContext(ctx).
		Where("app_id = ? AND endpoint = ?", appID, endpoint).
		Delete(&models.PushSubscription{}).Error
	if err != nil {
		return unavailable("delete subscription", err)
	}
	return nil
}

func (s *GormStore) DeleteByTenant(ctx context.Context, appID string) error {
	if err := s.db.WithContext(ctx).Where("app_id = ?", appID).Delete(&models.PushSubscription{}).Error; err != nil {
		return unavailable("delete subscriptions", err)
	}
	return nil
}

// listEach queries every app independently and concatenates the results.
func listEach(ctx context.Context, r Registry, appIDs []string) ([]models.PushSubscription, error) {
	var all []models.PushSubscription
	for _, id := range appIDs {
		subs, err := r.ListByTenant(ctx, id)
		if err != nil {
			return nil, err
		}
		all = append(all, subs...)
	}
	return all, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
