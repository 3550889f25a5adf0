package repository_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Tonic56/stock-trading-simulator/internal/models"
	"github.com/Tonic56/stock-trading-simulator/internal/repository"
	"github.com/Tonic56/stock-trading-simulator/lib/errs"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to connect database: %v", err)
	}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("failed to migrate database: %v", err)
	}

	return db
}

func newUser(name string) *models.User {
	return &models.User{
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "hash",
		Role:         models.RoleUser,
		Balance:      decimal.NewFromInt(100000),
	}
}

func TestCreateUser(t *testing.T) {
	testDB := setupTestDB(t)
	userRepo := repository.NewUsersRepository(testDB)
	ctx := context.Background()

	t.Run("success_create_user", func(t *testing.T) {
		user := newUser("test_user")

		if err := userRepo.CreateUser(ctx, user); err != nil {
			t.Errorf("CreateUser failed: unexpected error: %v", err)
		}
		require.NotEqual(t, uuid.Nil, user.ID)

		foundUser, err := userRepo.GetUserByID(ctx, user.ID)
		if err != nil {
			t.Fatalf("GetUserByID failed after create: %v", err)
		}

		if foundUser.Username != "test_user" {
			t.Errorf("Expected user name %s, got %s", "test_user", foundUser.Username)
		}
		assert.True(t, foundUser.Balance.Equal(decimal.NewFromInt(100000)))
	})

	t.Run("duplicate_username", func(t *testing.T) {
		_ = userRepo.CreateUser(ctx, newUser("duplicate_user"))

		dup := newUser("duplicate_user")
		dup.Email = "other@example.com"
		err := userRepo.CreateUser(ctx, dup)

		if err == nil {
			t.Fatalf("Expected an error for duplicated user creation, but got nil")
		}

		if !errors.Is(err, errs.ErrAlreadyExists) {
			t.Errorf("Expected ErrAlreadyExists, but got %v", err)
		}
	})

	t.Run("lookup_by_username_and_email", func(t *testing.T) {
		require.NoError(t, userRepo.CreateUser(ctx, newUser("lookup")))

		byName, err := userRepo.GetUserByUsername(ctx, "lookup")
		require.NoError(t, err)
		byEmail, err := userRepo.GetUserByEmail(ctx, "lookup@example.com")
		require.NoError(t, err)
		assert.Equal(t, byName.ID, byEmail.ID)

		_, err = userRepo.GetUserByUsername(ctx, "missing")
		assert.ErrorIs(t, err, errs.ErrNotFound)
	})
}

func TestUpdateBalanceAndDelete(t *testing.T) {
	testDB := setupTestDB(t)
	userRepo := repository.NewUsersRepository(testDB)
	ctx := context.Background()

	user := newUser("balance_user")
	require.NoError(t, userRepo.CreateUser(ctx, user))

	require.NoError(t, userRepo.UpdateBalanceAndScore(ctx, user.ID, decimal.RequireFromString("99500.25"), 40))

	locked, err := userRepo.GetUserForUpdate(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, locked.Balance.Equal(decimal.RequireFromString("99500.25")))
	assert.Equal(t, int64(40), locked.CommunityScore)

	require.NoError(t, userRepo.DeleteUserByID(ctx, user.ID))

	_, err = userRepo.GetUserByID(ctx, user.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound)

	assert.ErrorIs(t, userRepo.DeleteUserByID(ctx, user.ID), errs.ErrNotFound)
	assert.ErrorIs(t, userRepo.UpdateBalance(ctx, uuid.New(), decimal.Zero), errs.ErrNotFound)
}

func TestPositionsRepository(t *testing.T) {
	testDB := setupTestDB(t)
	userRepo := repository.NewUsersRepository(testDB)
	positionsRepo := repository.NewPositionsRepository(testDB)
	ctx := context.Background()

	user := newUser("holder")
	require.NoError(t, userRepo.CreateUser(ctx, user))

	pos := &models.Position{UserID: user.ID, Symbol: "MSFT", Shares: decimal.NewFromInt(2), AvgCost: decimal.NewFromInt(300)}
	require.NoError(t, positionsRepo.SavePosition(ctx, pos))

	pos.Shares = decimal.NewFromInt(5)
	require.NoError(t, positionsRepo.SavePosition(ctx, pos))

	got, err := positionsRepo.GetPositionForUpdate(ctx, user.ID, "MSFT")
	require.NoError(t, err)
	assert.True(t, got.Shares.Equal(decimal.NewFromInt(5)))

	t.Run("zero_share_rows_are_rejected", func(t *testing.T) {
		err := positionsRepo.SavePosition(ctx, &models.Position{UserID: user.ID, Symbol: "ZERO", Shares: decimal.Zero, AvgCost: decimal.NewFromInt(1)})
		assert.Error(t, err)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, positionsRepo.DeletePosition(ctx, user.ID, "MSFT"))
		_, err := positionsRepo.GetPosition(ctx, user.ID, "MSFT")
		assert.ErrorIs(t, err, errs.ErrNotFound)
		assert.ErrorIs(t, positionsRepo.DeletePosition(ctx, user.ID, "MSFT"), errs.ErrNotFound)
	})
}

func TestTransactionsNewestFirst(t *testing.T) {
	testDB := setupTestDB(t)
	userRepo := repository.NewUsersRepository(testDB)
	txRepo := repository.NewTransactionsRepository(testDB)
	ctx := context.Background()

	user := newUser("trader")
	require.NoError(t, userRepo.CreateUser(ctx, user))

	base := time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)
	for i, side := range []models.Side{models.SideBuy, models.SideBuy, models.SideSell} {
		require.NoError(t, txRepo.AppendTransaction(ctx, &models.Transaction{
			UserID:    user.ID,
			Symbol:    "AAPL",
			Shares:    decimal.NewFromInt(1),
			Price:     decimal.NewFromInt(int64(100 + i)),
			Side:      side,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	history, err := txRepo.ListTransactions(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.SideSell, history[0].Side)
	assert.True(t, history[2].Price.Equal(decimal.NewFromInt(100)))

	recorded := history[0]
	assert.Error(t, txRepo.AppendTransaction(ctx, &recorded), "a stored transaction cannot be re-appended")
}

func TestUpsertQuote(t *testing.T) {
	testDB := setupTestDB(t)
	quotesRepo := repository.NewQuotesRepository(testDB)
	ctx := context.Background()

	t0 := time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)
	require.NoError(t, quotesRepo.UpsertQuote(ctx, &models.CachedQuote{
		Symbol:              "AAPL",
		Price:               decimal.NewFromInt(190),
		PreviousClose:       decimal.NewFromInt(188),
		Change:              decimal.NewFromInt(2),
		PercentChange:       decimal.RequireFromString("1.06"),
		DisplayName:         "Apple Inc.",
		LogoURL:             "https://logo/AAPL.png",
		PriceUpdatedAt:      t0,
		DescriptorUpdatedAt: t0,
	}, true))

	t.Run("price_only_update_keeps_descriptor", func(t *testing.T) {
		require.NoError(t, quotesRepo.UpsertQuote(ctx, &models.CachedQuote{
			Symbol:         "AAPL",
			Price:          decimal.NewFromInt(195),
			PreviousClose:  decimal.NewFromInt(190),
			Change:         decimal.NewFromInt(5),
			PercentChange:  decimal.RequireFromString("2.63"),
			PriceUpdatedAt: t0.Add(time.Hour),
		}, false))

		got, err := quotesRepo.GetQuote(ctx, "AAPL")
		require.NoError(t, err)
		assert.True(t, got.Price.Equal(decimal.NewFromInt(195)))
		assert.Equal(t, "Apple Inc.", got.DisplayName)
		assert.Equal(t, "https://logo/AAPL.png", got.LogoURL)
	})

	quotes, err := quotesRepo.ListQuotes(ctx)
	require.NoError(t, err)
	assert.Len(t, quotes, 1, "symbol is unique in the cache")
}
