package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Tonic56/stock-trading-simulator/internal/models"
	"github.com/Tonic56/stock-trading-simulator/internal/repository"
	"github.com/Tonic56/stock-trading-simulator/lib/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentTradesForOneUser(t *testing.T) {
	env := newTestEnvOn(t, setupFileDB(t), time.Hour, true)
	ctx := context.Background()
	user := createUser(t, env.db, "busy", "10000")

	env.source.setPrice("AAPL", "10")
	_, err := env.trades.Buy(ctx, TradeRequest{UserID: user.ID, Symbol: "AAPL", Shares: dec("20"), Timezone: tz})
	require.NoError(t, err)

	const rounds = 10
	var wg sync.WaitGroup
	errCh := make(chan error, 2*rounds)
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := env.trades.Buy(ctx, TradeRequest{UserID: user.ID, Symbol: "AAPL", Shares: dec("1"), Timezone: tz})
			errCh <- err
		}()
		go func() {
			defer wg.Done()
			_, err := env.trades.Sell(ctx, TradeRequest{UserID: user.ID, Symbol: "AAPL", Shares: dec("1"), Timezone: tz})
			errCh <- err
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		require.NoError(t, err)
	}

	// 20 bought up front; every concurrent buy is matched by a sell.
	assert.True(t, env.balance(t, user.ID).Equal(dec("9800")), "got %s", env.balance(t, user.ID))

	position, err := repository.NewPositionsRepository(env.db).GetPosition(ctx, user.ID, "AAPL")
	require.NoError(t, err)
	assert.True(t, position.Shares.Equal(dec("20")), "got %s", position.Shares)

	history, err := env.trades.History(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1+2*rounds)

	drift, err := env.trades.Audit(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

func TestConcurrentBuysCannotOverspend(t *testing.T) {
	env := newTestEnvOn(t, setupFileDB(t), time.Hour, true)
	ctx := context.Background()
	user := createUser(t, env.db, "eager", "100")

	env.source.setPrice("MSFT", "10")
	_, err := env.quotes.GetQuote(ctx, "MSFT")
	require.NoError(t, err)

	const attempts = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	kinds := make(map[errs.Kind]int)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.trades.Buy(ctx, TradeRequest{UserID: user.ID, Symbol: "MSFT", Shares: dec("1"), Timezone: tz})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				kinds[""]++
				return
			}
			kinds[errs.KindOf(err)]++
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, kinds[""], "exactly the affordable buys settle: %v", kinds)
	assert.Equal(t, attempts-10, kinds[errs.KindInsufficientFunds], "%v", kinds)
	assert.True(t, env.balance(t, user.ID).IsZero(), "got %s", env.balance(t, user.ID))

	history, err := env.trades.History(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, history, 10)
	for _, entry := range history {
		assert.Equal(t, models.SideBuy, entry.Side)
	}

	drift, err := env.trades.Audit(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, drift)
}
