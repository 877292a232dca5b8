package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/catalog-sync/internal/core"
	"github.com/target/catalog-sync/internal/domain/model"
	"github.com/target/catalog-sync/internal/mocks"
)

func TestNewCatalogCache_NilRepositoryIsAlwaysEmpty(t *testing.T) {
	cache := core.NewCatalogCache(core.CatalogCacheOptions{})
	require.Nil(t, cache)

	products, ok, err := cache.Get(context.Background(), "main.myshopify.com")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, products)

	stored, err := cache.Put(context.Background(), "main.myshopify.com", &model.Listing{Complete: true})
	require.NoError(t, err)
	assert.False(t, stored)
	require.NoError(t, cache.Invalidate(context.Background(), "main.myshopify.com"))
}

func TestCatalogKey_NormalizesDomain(t *testing.T) {
	assert.Equal(t, "catalog:main:main.myshopify.com", core.CatalogKey(" HTTPS://Main.myshopify.com/ "))
}

func TestCatalogCache_PutAndGet(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockCacheRepository(ctrl)
	cache := core.NewCatalogCache(core.CatalogCacheOptions{Cache: repo, TTL: time.Minute})

	listing := &model.Listing{
		Complete: true,
		Pages:    1,
		Products: []*model.Product{{
			ID:    1,
			Title: "Mug",
			Variants: []model.Variant{
				{ID: 11, SKU: "MUG-1", Price: 12.5},
			},
		}},
	}

	var stored []byte
	repo.EXPECT().
		Set(gomock.Any(), "catalog:main:main.myshopify.com", gomock.Any(), time.Minute).
		DoAndReturn(func(_ context.Context, _ string, value []byte, _ time.Duration) error {
			stored = value
			return nil
		})

	ok, err := cache.Put(context.Background(), "main.myshopify.com", listing)
	require.NoError(t, err)
	require.True(t, ok)

	repo.EXPECT().Get(gomock.Any(), "catalog:main:main.myshopify.com").Return(stored, nil)

	products, hit, err := cache.Get(context.Background(), "main.myshopify.com")
	require.NoError(t, err)
	require.True(t, hit)
	require.Len(t, products, 1)
	assert.Equal(t, "Mug", products[0].Title)
	assert.Equal(t, "MUG-1", products[0].Variants[0].SKU)
	assert.InDelta(t, 12.5, products[0].Variants[0].Price, 0.001)
}

func TestCatalogCache_SkipsIncompleteListings(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockCacheRepository(ctrl)
	cache := core.NewCatalogCache(core.CatalogCacheOptions{Cache: repo})

	ok, err := cache.Put(context.Background(), "main.myshopify.com", &model.Listing{
		Products: []*model.Product{{ID: 1, Title: "partial"}},
		Complete: false,
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCatalogCache_DefaultTTL(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockCacheRepository(ctrl)
	cache := core.NewCatalogCache(core.CatalogCacheOptions{Cache: repo})

	repo.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any(), core.DefaultCatalogCacheTTL).Return(nil)

	ok, err := cache.Put(context.Background(), "main.myshopify.com", &model.Listing{Complete: true})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCatalogCache_GetErrors(t *testing.T) {
	tests := []struct {
		name    string
		raw     []byte
		err     error
		wantErr bool
	}{
		{name: "miss", raw: nil},
		{name: "repository error", err: errors.New("connection refused"), wantErr: true},
		{name: "corrupt entry", raw: []byte("{not json"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			repo := mocks.NewMockCacheRepository(ctrl)
			cache := core.NewCatalogCache(core.CatalogCacheOptions{Cache: repo})

			repo.EXPECT().Get(gomock.Any(), gomock.Any()).Return(tt.raw, tt.err)

			products, ok, err := cache.Get(context.Background(), "main.myshopify.com")
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.False(t, ok)
			assert.Nil(t, products)
		})
	}
}

func TestCatalogCache_Invalidate(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockCacheRepository(ctrl)
	cache := core.NewCatalogCache(core.CatalogCacheOptions{Cache: repo})

	repo.EXPECT().Delete(gomock.Any(), "catalog:main:main.myshopify.com").Return(true, nil)
	require.NoError(t, cache.Invalidate(context.Background(), "main.myshopify.com"))
}
