package service

import (
	"context"
	"testing"
	"time"

	"github.com/Tonic56/stock-trading-simulator/internal/models"
	"github.com/Tonic56/stock-trading-simulator/internal/repository"
	"github.com/Tonic56/stock-trading-simulator/lib/errs"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newUsersTestService(t *testing.T) (*usersService, *testEnv) {
	t.Helper()
	env := newTestEnv(t, 0, true)
	svc := NewUsersService(env.db, AuthConfig{
		Secret:          testSecret,
		AccessTokenTTL:  time.Hour,
		StartingBalance: dec("100000"),
		AdminUsernames:  []string{"root"},
	}, discardLogger()).(*usersService)
	svc.now = time.Now
	return svc, env
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newUsersTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, RegisterRequest{Username: "alice", Email: "Alice@Example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.True(t, user.Balance.Equal(dec("100000")))
	assert.NotEqual(t, "secret1", user.PasswordHash)

	t.Run("login_by_username_issues_token", func(t *testing.T) {
		token, got, err := svc.Login(ctx, "alice", "secret1")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)

		parsed, err := jwt.Parse(token, func(*jwt.Token) (any, error) { return []byte(testSecret), nil })
		require.NoError(t, err)
		claims := parsed.Claims.(jwt.MapClaims)
		assert.Equal(t, user.ID.String(), claims["sub"])
		assert.Equal(t, "alice", claims["name"])
		assert.Equal(t, models.RoleUser, claims["role"])
	})

	t.Run("login_by_email", func(t *testing.T) {
		_, got, err := svc.Login(ctx, "ALICE@example.com", "secret1")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
	})

	t.Run("wrong_password", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "alice", "nope-nope")
		assert.Equal(t, errs.KindUnauthenticated, errs.KindOf(err))
	})

	t.Run("unknown_user", func(t *testing.T) {
		_, _, err := svc.Login(ctx, "mallory", "secret1")
		assert.Equal(t, errs.KindUnauthenticated, errs.KindOf(err))
	})

	t.Run("duplicate_username", func(t *testing.T) {
		_, err := svc.Register(ctx, RegisterRequest{Username: "alice", Email: "other@example.com", Password: "secret1"})
		assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	})

	t.Run("duplicate_email", func(t *testing.T) {
		_, err := svc.Register(ctx, RegisterRequest{Username: "alice2", Email: "alice@example.com", Password: "secret1"})
		assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	})

	t.Run("invalid_input", func(t *testing.T) {
		for _, req := range []RegisterRequest{
			{Username: "", Email: "x@example.com", Password: "secret1"},
			{Username: "x", Email: "not-an-email", Password: "secret1"},
			{Username: "x", Email: "x@example.com", Password: "123"},
		} {
			_, err := svc.Register(ctx, req)
			assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err), "request %+v", req)
		}
	})

	t.Run("configured_admin", func(t *testing.T) {
		admin, err := svc.Register(ctx, RegisterRequest{Username: "root", Email: "root@example.com", Password: "secret1"})
		require.NoError(t, err)
		assert.Equal(t, models.RoleAdmin, admin.Role)
	})
}

func TestDeleteUserRemovesOwnedRows(t *testing.T) {
	svc, env := newUsersTestService(t)
	ctx := context.Background()

	user := createUser(t, env.db, "leaving", "1000")
	env.source.setPrice("AAPL", "10")
	_, err := env.trades.Buy(ctx, TradeRequest{UserID: user.ID, Symbol: "AAPL", Shares: dec("1"), Timezone: tz})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteUser(ctx, user.ID))

	_, err = svc.GetProfile(ctx, user.ID)
	assert.Equal(t, errs.KindUserNotFound, errs.KindOf(err))

	positions, err := repository.NewPositionsRepository(env.db).ListPositions(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, positions)
	history, err := repository.NewTransactionsRepository(env.db).ListTransactions(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	err = svc.DeleteUser(ctx, user.ID)
	assert.Equal(t, errs.KindUserNotFound, errs.KindOf(err))
}

func ptr[T any](v T) *T {
	return &v
}

func TestUpdateDetails(t *testing.T) {
	svc, env := newUsersTestService(t)
	ctx := context.Background()
	user := createUser(t, env.db, "detailed", "1000")

	updated, err := svc.UpdateDetails(ctx, user.ID, UserDetails{
		FirstName:   ptr(" Ada "),
		LastName:    ptr("Lovelace"),
		DateOfBirth: ptr("1990-12-10"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Ada", updated.FirstName)
	assert.Equal(t, "Lovelace", updated.LastName)
	require.NotNil(t, updated.DateOfBirth)
	assert.Equal(t, "1990-12-10", updated.DateOfBirth.Format("2006-01-02"))
	assert.True(t, updated.Balance.Equal(dec("1000")), "details never touch the balance")

	t.Run("omitted_fields_are_kept", func(t *testing.T) {
		again, err := svc.UpdateDetails(ctx, user.ID, UserDetails{Address: ptr("12 Analytical Row")})
		require.NoError(t, err)
		assert.Equal(t, "Ada", again.FirstName)
		assert.Equal(t, "12 Analytical Row", again.Address)
	})

	t.Run("bad_date", func(t *testing.T) {
		_, err := svc.UpdateDetails(ctx, user.ID, UserDetails{DateOfBirth: ptr("10/12/1990")})
		assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))

		_, err = svc.UpdateDetails(ctx, user.ID, UserDetails{DateOfBirth: ptr("2999-01-01")})
		assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))
	})

	t.Run("unknown_user", func(t *testing.T) {
		_, err := svc.UpdateDetails(ctx, uuid.New(), UserDetails{FirstName: ptr("x")})
		assert.Equal(t, errs.KindUserNotFound, errs.KindOf(err))
	})
}

func TestAdminUpdateUser(t *testing.T) {
	svc, env := newUsersTestService(t)
	ctx := context.Background()
	user := createUser(t, env.db, "target", "1000")
	createUser(t, env.db, "neighbour", "1000")

	updated, err := svc.AdminUpdateUser(ctx, user.ID, AdminUserUpdate{
		Email:          ptr("New@Example.com"),
		Balance:        ptr(dec("2500.5")),
		CommunityScore: ptr(int64(9)),
	})
	require.NoError(t, err)
	assert.Equal(t, "target", updated.Username)
	assert.Equal(t, "new@example.com", updated.Email)
	assert.True(t, updated.Balance.Equal(dec("2500.5")), "got %s", updated.Balance)
	assert.Equal(t, int64(9), updated.CommunityScore)

	t.Run("taken_username", func(t *testing.T) {
		_, err := svc.AdminUpdateUser(ctx, user.ID, AdminUserUpdate{Username: ptr("neighbour")})
		assert.Equal(t, errs.KindConflict, errs.KindOf(err))
	})

	t.Run("invalid_values", func(t *testing.T) {
		for _, update := range []AdminUserUpdate{
			{Username: ptr("  ")},
			{Email: ptr("nowhere")},
			{Balance: ptr(dec("-1"))},
			{CommunityScore: ptr(int64(-3))},
		} {
			_, err := svc.AdminUpdateUser(ctx, user.ID, update)
			assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err), "update %+v", update)
		}
		assert.True(t, env.balance(t, user.ID).Equal(dec("2500.5")), "rejected updates write nothing")
	})

	t.Run("unknown_user", func(t *testing.T) {
		_, err := svc.AdminUpdateUser(ctx, uuid.New(), AdminUserUpdate{Username: ptr("ghost")})
		assert.Equal(t, errs.KindUserNotFound, errs.KindOf(err))
	})
}
