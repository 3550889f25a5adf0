package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Tonic56/stock-trading-simulator/internal/models"
	"github.com/Tonic56/stock-trading-simulator/internal/provider"
	"github.com/Tonic56/stock-trading-simulator/internal/repository"
	"github.com/Tonic56/stock-trading-simulator/lib/errs"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// closeSessions is the number of daily sessions needed for day-over-day change.
const closeSessions = 2

var hundred = decimal.NewFromInt(100)

type QuotesService interface {
	GetQuote(ctx context.Context, symbol string) (*models.CachedQuote, error)
	PeekQuote(ctx context.Context, symbol string) (*models.CachedQuote, error)
	ListCachedQuotes(ctx context.Context) ([]models.CachedQuote, error)
}

// QuotePublisher fans refreshed quotes out to live subscribers.
type QuotePublisher interface {
	PublishQuote(ctx context.Context, update models.QuoteUpdate) error
}

type QuoteCacheConfig struct {
	// PriceTTL is the freshness window of the traded price. Zero refreshes on
	// every lookup.
	PriceTTL time.Duration
	// DescriptorTTL bounds how long display metadata is reused.
	DescriptorTTL   time.Duration
	ProviderTimeout time.Duration
}

type quotesService struct {
	repo      repository.QuotesRepository
	source    provider.Source
	publisher QuotePublisher
	cfg       QuoteCacheConfig
	log       *slog.Logger
	now       func() time.Time
	inflight  singleflight.Group
}

func NewQuotesService(repo repository.QuotesRepository, source provider.Source, publisher QuotePublisher, cfg QuoteCacheConfig, log *slog.Logger) QuotesService {
	return &quotesService{
		repo:      repo,
		source:    source,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

func (s *quotesService) GetQuote(ctx context.Context, symbol string) (*models.CachedQuote, error) {
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, errs.New(errs.KindInvalidInput, "symbol is required")
	}

	cached, err := s.repo.GetQuote(ctx, symbol)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return nil, errs.Wrap(errs.KindInternal, "failed to read quote cache", err)
	}

	if cached != nil && s.fresh(cached.PriceUpdatedAt, s.cfg.PriceTTL) {
		return cached, nil
	}

	// Concurrent misses for one symbol share a single provider round trip,
	// which must outlive the caller that happened to start it.
	v, err, _ := s.inflight.Do(symbol, func() (any, error) {
		return s.refresh(context.WithoutCancel(ctx), symbol, cached)
	})
	if err != nil {
		return nil, err
	}

	quote := *v.(*models.CachedQuote)
	return &quote, nil
}

// PeekQuote returns the cached quote whatever its age. Only a symbol that was
// never cached goes to the provider.
func (s *quotesService) PeekQuote(ctx context.Context, symbol string) (*models.CachedQuote, error) {
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, errs.New(errs.KindInvalidInput, "symbol is required")
	}

	cached, err := s.repo.GetQuote(ctx, symbol)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, errs.Wrap(errs.KindInternal, "failed to read quote cache", err)
	}
	return s.GetQuote(ctx, symbol)
}

func (s *quotesService) ListCachedQuotes(ctx context.Context) ([]models.CachedQuote, error) {
	quotes, err := s.repo.ListQuotes(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to list quote cache", err)
	}
	return quotes, nil
}

func (s *quotesService) fresh(at time.Time, ttl time.Duration) bool {
	if ttl <= 0 || at.IsZero() {
		return false
	}
	return s.now().Sub(at) < ttl
}

// refresh fetches the latest sessions and upserts the cache row. Nothing is
// written when the price fetch fails.
func (s *quotesService) refresh(ctx context.Context, symbol string, cached *models.CachedQuote) (*models.CachedQuote, error) {
	fetchCtx := ctx
	if s.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.cfg.ProviderTimeout)
		defer cancel()
	}

	closes, err := s.source.FetchRecentCloses(fetchCtx, symbol, closeSessions)
	if err != nil {
		if errors.Is(err, provider.ErrNoData) {
			return nil, errs.Newf(errs.KindNoData, "no market data for %s", symbol)
		}
		s.log.Error("price provider call failed", "symbol", symbol, slog.Any("error", err))
		return nil, errs.Wrap(errs.KindProviderError, fmt.Sprintf("failed to fetch price for %s", symbol), err)
	}
	if len(closes) == 0 {
		return nil, errs.Newf(errs.KindNoData, "no market data for %s", symbol)
	}

	now := s.now()
	latest := closes[len(closes)-1]
	previous := latest.Open
	if len(closes) > 1 {
		previous = closes[len(closes)-2].Close
	}
	change, percent := dayChange(latest.Close, previous)

	quote := &models.CachedQuote{
		Symbol:         symbol,
		Price:          latest.Close,
		PreviousClose:  previous,
		Change:         change,
		PercentChange:  percent,
		PriceUpdatedAt: now,
	}

	withDescriptor := false
	if cached != nil {
		quote.DisplayName = cached.DisplayName
		quote.LogoURL = cached.LogoURL
		quote.DescriptorUpdatedAt = cached.DescriptorUpdatedAt
	}
	if cached == nil || !s.fresh(cached.DescriptorUpdatedAt, s.cfg.DescriptorTTL) {
		descriptor, err := s.source.FetchDescriptor(fetchCtx, symbol)
		if err != nil {
			s.log.Warn("descriptor refresh failed, keeping previous metadata", "symbol", symbol, slog.Any("error", err))
		} else {
			quote.DisplayName = descriptor.DisplayName
			quote.LogoURL = descriptor.LogoURL
			quote.DescriptorUpdatedAt = now
			withDescriptor = true
		}
	}

	if err := s.repo.UpsertQuote(ctx, quote, withDescriptor); err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to store quote", err)
	}

	// Subscribers revalue on every update, so an unchanged price is not news.
	if s.publisher != nil && (cached == nil || !cached.Price.Equal(quote.Price)) {
		update := models.QuoteUpdate{Symbol: symbol, Price: quote.Price}
		if err := s.publisher.PublishQuote(ctx, update); err != nil {
			s.log.Warn("failed to publish quote update", "symbol", symbol, slog.Any("error", err))
		}
	}

	s.log.Debug("quote refreshed", "symbol", symbol, "price", quote.Price.String(), "descriptor", withDescriptor)
	return quote, nil
}

// dayChange returns the absolute and percent change of today against the
// previous close. A zero previous close yields a zero percent change.
func dayChange(today, previous decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if previous.IsZero() {
		return decimal.Zero, decimal.Zero
	}
	change := today.Sub(previous)
	return change, change.Div(previous).Mul(hundred)
}
