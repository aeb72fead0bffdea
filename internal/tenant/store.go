// Package tenant reads apps (tenants) and resolves dispatch scopes into
// concrete app ids.
package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/tariel-x/apppush/internal/models"

	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("app not found")
	// ErrNotAuthorized is returned when an owner-scoped operation has no
	// authenticated owner. It is distinct from an owner with zero apps.
	ErrNotAuthorized = errors.New("not authorized")
	ErrUnavailable   = errors.New("app store unavailable")
)

// Store is the read side the dispatch path needs.
type Store interface {
	FindByID(ctx context.Context, id string) (*models.App, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.App, error)
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) FindByID(ctx context.Context, id string) (*models.App, error) {
	var app models.App
	err := s.db.WithContext(ctx).First(&app, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find app: %w: %w", ErrUnavailable, err)
	}
	return &app, nil
}

// ListByOwner returns the owner's apps oldest first.
func (s *GormStore) ListByOwner(ctx context.Context, ownerID string) ([]models.App, error) {
	var apps []models.App
	err := s.db.WithContext(ctx).
		Where("user_id = ?", ownerID).
		Order("created_at ASC, id ASC").
		Find(&apps).Error
	if err != nil {
		return nil, fmt.Errorf("list apps: %w: %w", ErrUnavailable, err)
	}
	return apps, nil
}

func (s *GormStore) Create(ctx context.Context, app *models.App) error {
	if err := s.db.WithContext(ctx).Create(app).Error; err != nil {
		return fmt.Errorf("create app: %w: %w", ErrUnavailable, err)
	}
	return nil
}

// Delete removes the app and every subscription that references it in one
// transaction.
func (s *GormStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("app_id = ?", id).Delete(&models.PushSubscription{}).Error; err != nil {
			return fmt.Errorf("delete app subscriptions: %w: %w", ErrUnavailable, err)
		}
		res := tx.Delete(&models.App{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("delete app: %w: %w", ErrUnavailable, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// EnsureOwner returns the user with the given email, creating it if needed.
// Only the operator token flag uses it; request paths never create owners.
func (s *GormStore) EnsureOwner(ctx context.Context, email string) (*models.User, error) {
	db := s.db.WithContext(ctx)

	var user models.User
	err := db.Where("email = ?", email).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("find owner: %w: %w", ErrUnavailable, err)
	}

	user = models.User{Email: email}
	if err := db.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("create owner: %w: %w", ErrUnavailable, err)
	}
	return &user, nil
}
