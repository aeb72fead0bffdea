package tenant_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tariel-x/apppush/internal/database"
	"github.com/tariel-x/apppush/internal/models"
	"github.com/tariel-x/apppush/internal/tenant"
)

func setupStore(t *testing.T) (*tenant.GormStore, *gorm.DB) {
	t.Helper()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return tenant.NewGormStore(db), db
}

func TestGormStore_FindAndList(t *testing.T) {
	ctx := context.Background()
	store, _ := setupStore(t)

	owner, err := store.EnsureOwner(ctx, "owner@example.com")
	require.NoError(t, err)
	other, err := store.EnsureOwner(ctx, "other@example.com")
	require.NoError(t, err)

	a := &models.App{UserID: owner.ID, Name: "a", TargetURL: "https://a.example"}
	b := &models.App{UserID: owner.ID, Name: "b", TargetURL: "https://b.example"}
	c := &models.App{UserID: other.ID, Name: "c", TargetURL: "https://c.example"}
	for _, app := range []*models.App{a, b, c} {
		require.NoError(t, store.Create(ctx, app))
		require.NotEmpty(t, app.ID)
	}

	found, err := store.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://a.example", found.TargetURL)

	_, err = store.FindByID(ctx, "missing")
	assert.ErrorIs(t, err, tenant.ErrNotFound)

	apps, err := store.ListByOwner(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, apps, 2)
	ids := []string{apps[0].ID, apps[1].ID}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)

	none, err := store.ListByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestGormStore_EnsureOwnerIsStable(t *testing.T) {
	ctx := context.Background()
	store, _ := setupStore(t)

	first, err := store.EnsureOwner(ctx, "owner@example.com")
	require.NoError(t, err)
	second, err := store.EnsureOwner(ctx, "owner@example.com")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestGormStore_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	store, db := setupStore(t)

	owner, err := store.EnsureOwner(ctx, "owner@example.com")
	require.NoError(t, err)
	keep := &models.App{UserID: owner.ID, Name: "keep", TargetURL: "/"}
	drop := &models.App{UserID: owner.ID, Name: "drop", TargetURL: "/"}
	require.NoError(t, store.Create(ctx, keep))
	require.NoError(t, store.Create(ctx, drop))

	for _, appID := range []string{keep.ID, drop.ID} {
		require.NoError(t, db.Create(&models.PushSubscription{
			AppID: appID, Endpoint: "https://push.example/x", P256DH: "p", Auth: "a",
		}).Error)
	}

	require.NoError(t, store.Delete(ctx, drop.ID))

	_, err = store.FindByID(ctx, drop.ID)
	assert.ErrorIs(t, err, tenant.ErrNotFound)

	var orphans int64
	require.NoError(t, db.Model(&models.PushSubscription{}).Where("app_id = ?", drop.ID).Count(&orphans).Error)
	assert.Zero(t, orphans)

	var kept int64
	require.NoError(t, db.Model(&models.PushSubscription{}).Where("app_id = ?", keep.ID).Count(&kept).Error)
	assert.Equal(t, int64(1), kept)

	assert.ErrorIs(t, store.Delete(ctx, drop.ID), tenant.ErrNotFound)
}
