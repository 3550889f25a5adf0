package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Tonic56/stock-trading-simulator/internal/market"
	"github.com/Tonic56/stock-trading-simulator/internal/models"
	"github.com/Tonic56/stock-trading-simulator/internal/provider"
	"github.com/Tonic56/stock-trading-simulator/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

// setupFileDB opens a database file shared by several connections. Every
// transaction takes the write lock at BEGIN, the way row locks serialize a
// single user's trades on postgres.
func setupFileDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=10000&_txlock=immediate", filepath.Join(t.TempDir(), "trading.db"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(8)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func createUser(t *testing.T, db *gorm.DB, name, balance string) *models.User {
	t.Helper()
	user := &models.User{
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "hash",
		Role:         models.RoleUser,
		Balance:      dec(balance),
	}
	require.NoError(t, repository.NewUsersRepository(db).CreateUser(context.Background(), user))
	return user
}

// fakeSource serves a fixed latest close per symbol. The previous close is
// always one unit below the latest.
type fakeSource struct {
	mu             sync.Mutex
	prices         map[string]decimal.Decimal
	closesErr      map[string]error
	descriptorErr  error
	closeCalls     int
	descriptorCall int
	// hold, when set, runs before each price fetch and may fail it.
	hold func(ctx context.Context) error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		prices:    make(map[string]decimal.Decimal),
		closesErr: make(map[string]error),
	}
}

func (f *fakeSource) setPrice(symbol, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = dec(price)
}

func (f *fakeSource) fail(symbol string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closesErr[symbol] = err
}

func (f *fakeSource) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

func (f *fakeSource) FetchRecentCloses(ctx context.Context, symbol string, _ int) ([]provider.Close, error) {
	if f.hold != nil {
		if err := f.hold(ctx); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++

	if err := f.closesErr[symbol]; err != nil {
		return nil, err
	}
	price, ok := f.prices[symbol]
	if !ok {
		return nil, provider.ErrNoData
	}
	return []provider.Close{
		{Date: testNow.Add(-24 * time.Hour), Close: price.Sub(decimal.NewFromInt(1))},
		{Date: testNow, Open: price, Close: price},
	}, nil
}

func (f *fakeSource) FetchDescriptor(_ context.Context, symbol string) (provider.Descriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.descriptorCall++

	if f.descriptorErr != nil {
		return provider.Descriptor{}, f.descriptorErr
	}
	return provider.Descriptor{DisplayName: symbol + " Corp", LogoURL: "https://logo.example/" + symbol + ".png"}, nil
}

type fixedOracle struct {
	open bool
}

func (o fixedOracle) IsOpen(timezone string) (market.Status, error) {
	if timezone == "" {
		return market.NewHours(false).IsOpen(timezone)
	}
	return market.Status{Open: o.open, Timezone: timezone}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	trades []models.TradeEvent
	quotes []models.QuoteUpdate
}

func (p *recordingPublisher) PublishTrade(_ context.Context, e models.TradeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trades = append(p.trades, e)
	return nil
}

func (p *recordingPublisher) PublishQuote(_ context.Context, u models.QuoteUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes = append(p.quotes, u)
	return nil
}

type testEnv struct {
	db        *gorm.DB
	source    *fakeSource
	publisher *recordingPublisher
	quotes    *quotesService
	trades    *tradeService
	portfolio PortfolioService
}

// newTestEnv wires the engine over an in-memory database. priceTTL zero
// refreshes the price on every lookup.
func newTestEnv(t *testing.T, priceTTL time.Duration, open bool) *testEnv {
	t.Helper()
	return newTestEnvOn(t, setupTestDB(t), priceTTL, open)
}

func newTestEnvOn(t *testing.T, db *gorm.DB, priceTTL time.Duration, open bool) *testEnv {
	t.Helper()

	source := newFakeSource()
	publisher := &recordingPublisher{}
	log := discardLogger()

	quotes := NewQuotesService(repository.NewQuotesRepository(db), source, publisher, QuoteCacheConfig{
		PriceTTL:      priceTTL,
		DescriptorTTL: 24 * time.Hour,
	}, log).(*quotesService)
	quotes.now = func() time.Time { return testNow }

	trades := NewTradeService(db, quotes, fixedOracle{open: open}, publisher, log).(*tradeService)
	trades.now = func() time.Time { return testNow }

	portfolio := NewPortfolioService(repository.NewUsersRepository(db), repository.NewPositionsRepository(db), quotes, log)

	return &testEnv{
		db:        db,
		source:    source,
		publisher: publisher,
		quotes:    quotes,
		trades:    trades,
		portfolio: portfolio,
	}
}

func (e *testEnv) balance(t *testing.T, userID uuid.UUID) decimal.Decimal {
	t.Helper()
	user, err := repository.NewUsersRepository(e.db).GetUserByID(context.Background(), userID)
	require.NoError(t, err)
	return user.Balance
}
