package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Tonic56/stock-trading-simulator/lib/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogFixture = `
items:
  - name: Coffee Maker
    description: Programmable drip coffee maker
    cost: "89.99"
    score: 2
    emoji: "☕"
  - name: Standing Desk
    description: Height-adjustable desk
    cost: "399.99"
    score: 7
    emoji: "🖥️"
  - name: Retired Collectible
    description: No longer offered
    cost: "10"
    score: 20
    emoji: "🏺"
    available: false
`

func seededShop(t *testing.T) (*shopService, *testEnv) {
	t.Helper()
	env := newTestEnv(t, 0, true)
	svc := NewShopService(env.db, discardLogger()).(*shopService)
	svc.now = func() time.Time { return testNow }

	path := filepath.Join(t.TempDir(), "shop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogFixture), 0o600))

	n, err := svc.SeedCatalog(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	return svc, env
}

func TestSeedCatalogIsIdempotent(t *testing.T) {
	svc, _ := seededShop(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "shop.yaml")
	updated := strings.Replace(catalogFixture, `cost: "89.99"`, `cost: "79.99"`, 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))
	_, err := svc.SeedCatalog(ctx, path)
	require.NoError(t, err)

	items, err := svc.ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2, "unavailable items are hidden")
	assert.Equal(t, "Coffee Maker", items[0].Name)
	assert.True(t, items[0].Cost.Equal(dec("79.99")))
}

func TestParseCatalogRejectsBadCost(t *testing.T) {
	_, err := parseCatalog(strings.NewReader("items:\n  - name: Broken\n    cost: abc\n"))
	assert.Error(t, err)

	_, err = parseCatalog(strings.NewReader("items:\n  - cost: \"1\"\n"))
	assert.Error(t, err)
}

func TestPurchase(t *testing.T) {
	svc, env := seededShop(t)
	ctx := context.Background()
	user := createUser(t, env.db, "shopper", "400")

	items, err := svc.ListItems(ctx)
	require.NoError(t, err)
	coffee, desk := items[0], items[1]

	result, err := svc.Purchase(ctx, user.ID, coffee.ID)
	require.NoError(t, err)
	assert.Equal(t, "Coffee Maker", result.ItemName)
	assert.True(t, result.Balance.Equal(dec("310.01")), "got %s", result.Balance)
	assert.Equal(t, int64(2), result.CommunityScore)

	t.Run("second_purchase_conflicts", func(t *testing.T) {
		_, err := svc.Purchase(ctx, user.ID, coffee.ID)
		assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	})

	t.Run("insufficient_funds", func(t *testing.T) {
		_, err := svc.Purchase(ctx, user.ID, desk.ID)
		assert.Equal(t, errs.KindInsufficientFunds, errs.KindOf(err))
		assert.True(t, env.balance(t, user.ID).Equal(dec("310.01")))
	})

	t.Run("unknown_item", func(t *testing.T) {
		_, err := svc.Purchase(ctx, user.ID, 9999)
		assert.Equal(t, errs.KindResourceNotFound, errs.KindOf(err))
	})

	t.Run("unavailable_item", func(t *testing.T) {
		var retiredID uint
		require.NoError(t, env.db.Raw("SELECT id FROM shop_items WHERE name = ?", "Retired Collectible").Scan(&retiredID).Error)
		_, err := svc.Purchase(ctx, user.ID, retiredID)
		assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))
	})

	t.Run("my_items", func(t *testing.T) {
		owned, err := svc.MyItems(ctx, user.ID)
		require.NoError(t, err)
		require.Len(t, owned, 1)
		assert.Equal(t, "Coffee Maker", owned[0].Name)
		assert.Equal(t, "☕", owned[0].Emoji)
	})
}

func TestAdminCatalogue(t *testing.T) {
	svc, env := seededShop(t)
	ctx := context.Background()

	all, err := svc.AllItems(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3, "admins see unavailable items too")
	assert.False(t, all[2].Available)

	hidden := false
	lamp, err := svc.CreateItem(ctx, ShopItemInput{Name: " Desk Lamp ", Cost: dec("25"), ScoreValue: 1, Emoji: "💡", Available: &hidden})
	require.NoError(t, err)
	assert.Equal(t, "Desk Lamp", lamp.Name)
	assert.False(t, lamp.Available)

	t.Run("create_validates", func(t *testing.T) {
		_, err := svc.CreateItem(ctx, ShopItemInput{Name: "", Cost: dec("1")})
		assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))

		_, err = svc.CreateItem(ctx, ShopItemInput{Name: "Refund", Cost: dec("-1")})
		assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))

		_, err = svc.CreateItem(ctx, ShopItemInput{Name: "Coffee Maker", Cost: dec("1")})
		assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	})

	t.Run("created_item_defaults_to_available", func(t *testing.T) {
		mug, err := svc.CreateItem(ctx, ShopItemInput{Name: "Mug", Cost: dec("5")})
		require.NoError(t, err)
		assert.True(t, mug.Available)
	})

	t.Run("update", func(t *testing.T) {
		shown := true
		cost := dec("30")
		updated, err := svc.UpdateItem(ctx, lamp.ID, ShopItemPatch{Cost: &cost, Available: &shown})
		require.NoError(t, err)
		assert.True(t, updated.Cost.Equal(dec("30")))
		assert.True(t, updated.Available)
		assert.Equal(t, "Desk Lamp", updated.Name, "omitted fields are kept")

		listed, err := svc.ListItems(ctx)
		require.NoError(t, err)
		assert.Len(t, listed, 4)

		taken := "Coffee Maker"
		_, err = svc.UpdateItem(ctx, lamp.ID, ShopItemPatch{Name: &taken})
		assert.Equal(t, errs.KindConflict, errs.KindOf(err))

		_, err = svc.UpdateItem(ctx, 9999, ShopItemPatch{Cost: &cost})
		assert.Equal(t, errs.KindResourceNotFound, errs.KindOf(err))
	})

	t.Run("delete", func(t *testing.T) {
		buyer := createUser(t, env.db, "buyer", "1000")
		_, err := svc.Purchase(ctx, buyer.ID, all[0].ID)
		require.NoError(t, err)

		err = svc.DeleteItem(ctx, all[0].ID)
		assert.Equal(t, errs.KindConflict, errs.KindOf(err), "bought items stay for their owners")

		require.NoError(t, svc.DeleteItem(ctx, lamp.ID))
		err = svc.DeleteItem(ctx, lamp.ID)
		assert.Equal(t, errs.KindResourceNotFound, errs.KindOf(err))
	})
}
