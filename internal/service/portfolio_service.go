package service

import (
	"context"
	"log/slog"
	"sort"

	"github.com/Tonic56/stock-trading-simulator/internal/models"
	"github.com/Tonic56/stock-trading-simulator/internal/repository"
	"github.com/Tonic56/stock-trading-simulator/lib/errs"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const LeaderboardSize = 10

const (
	SortByMoney = "money"
	SortByScore = "score"
	SortByTotal = "total"
)

var (
	moneyWeight = decimal.RequireFromString("0.6")
	scoreWeight = decimal.RequireFromString("0.4")
)

type PortfolioService interface {
	ValuePortfolio(ctx context.Context, userID uuid.UUID) (*models.PortfolioView, error)
	ValueCachedPortfolio(ctx context.Context, userID uuid.UUID) (*models.PortfolioView, error)
	Leaderboard(ctx context.Context, sortBy string) ([]models.LeaderboardEntry, error)
}

type portfolioService struct {
	usersRepo     repository.UsersRepository
	positionsRepo repository.PositionsRepository
	quotes        QuotesService
	log           *slog.Logger
}

func NewPortfolioService(usersRepo repository.UsersRepository, positionsRepo repository.PositionsRepository, quotes QuotesService, log *slog.Logger) PortfolioService {
	return &portfolioService{
		usersRepo:     usersRepo,
		positionsRepo: positionsRepo,
		quotes:        quotes,
		log:           log,
	}
}

func (s *portfolioService) ValuePortfolio(ctx context.Context, userID uuid.UUID) (*models.PortfolioView, error) {
	return s.value(ctx, userID, s.quotes.GetQuote)
}

// ValueCachedPortfolio values holdings at the last cached prices without
// refreshing them. Live pushes triggered by a quote update use it.
func (s *portfolioService) ValueCachedPortfolio(ctx context.Context, userID uuid.UUID) (*models.PortfolioView, error) {
	return s.value(ctx, userID, s.quotes.PeekQuote)
}

func (s *portfolioService) value(ctx context.Context, userID uuid.UUID, fetch quoteFetcher) (*models.PortfolioView, error) {
	user, err := s.usersRepo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, userLookupFailure(err)
	}

	positions, err := s.positionsRepo.ListPositions(ctx, userID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to load positions", err)
	}

	prices := newPriceMemo(fetch, s.log)
	view := valuate(user, positions, prices.lookup(ctx))
	return &view, nil
}

// Leaderboard ranks every user by the requested key and returns the top
// entries. Users with equal keys keep their registration order.
func (s *portfolioService) Leaderboard(ctx context.Context, sortBy string) ([]models.LeaderboardEntry, error) {
	if sortBy == "" {
		sortBy = SortByTotal
	}
	if sortBy != SortByMoney && sortBy != SortByScore && sortBy != SortByTotal {
		return nil, errs.Newf(errs.KindInvalidInput, "sort_by must be one of money, score, total; got %q", sortBy)
	}

	users, err := s.usersRepo.ListUsers(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to load users", err)
	}
	all, err := s.positionsRepo.ListAllPositions(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to load positions", err)
	}

	byUser := make(map[uuid.UUID][]models.Position, len(users))
	for _, p := range all {
		byUser[p.UserID] = append(byUser[p.UserID], p)
	}

	// One quote lookup per symbol for the whole batch.
	prices := newPriceMemo(s.quotes.GetQuote, s.log)
	lookup := prices.lookup(ctx)

	entries := make([]models.LeaderboardEntry, 0, len(users))
	for i := range users {
		view := valuate(&users[i], byUser[users[i].ID], lookup)
		entries = append(entries, models.LeaderboardEntry{
			UserID:         users[i].ID,
			Username:       users[i].Username,
			Balance:        users[i].Balance,
			TotalEquity:    view.Totals.TotalEquity,
			CommunityScore: users[i].CommunityScore,
		})
	}

	return RankLeaderboard(entries, sortBy, LeaderboardSize), nil
}

// RankLeaderboard normalizes equity and community score against the best
// value of each, blends them 60/40 into TotalScore, sorts by sortBy and keeps
// at most limit entries. A maximum of zero normalizes everyone to zero.
func RankLeaderboard(entries []models.LeaderboardEntry, sortBy string, limit int) []models.LeaderboardEntry {
	ranked := make([]models.LeaderboardEntry, len(entries))
	copy(ranked, entries)

	maxMoney := decimal.Zero
	var maxScore int64
	for _, e := range ranked {
		if e.TotalEquity.GreaterThan(maxMoney) {
			maxMoney = e.TotalEquity
		}
		if e.CommunityScore > maxScore {
			maxScore = e.CommunityScore
		}
	}

	for i := range ranked {
		ranked[i].NormalizedMoney = normalize(ranked[i].TotalEquity, maxMoney)
		ranked[i].NormalizedScore = normalize(decimal.NewFromInt(ranked[i].CommunityScore), decimal.NewFromInt(maxScore))
		ranked[i].TotalScore = ranked[i].NormalizedMoney.Mul(moneyWeight).Add(ranked[i].NormalizedScore.Mul(scoreWeight))
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		switch sortBy {
		case SortByMoney:
			return ranked[i].TotalEquity.GreaterThan(ranked[j].TotalEquity)
		case SortByScore:
			return ranked[i].CommunityScore > ranked[j].CommunityScore
		default:
			return ranked[i].TotalScore.GreaterThan(ranked[j].TotalScore)
		}
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func normalize(value, max decimal.Decimal) decimal.Decimal {
	if max.Sign() <= 0 {
		return decimal.Zero
	}
	return value.Div(max).Mul(hundred)
}

type priceLookup func(symbol string) (decimal.Decimal, bool)

// valuate prices each position and folds the results into totals. A
// position whose quote is unavailable is valued at its average cost.
func valuate(user *models.User, positions []models.Position, price priceLookup) models.PortfolioView {
	view := models.PortfolioView{
		UserID:   user.ID,
		UserName: user.Username,
		Holdings: make([]models.HoldingView, 0, len(positions)),
	}

	portfolioValue := decimal.Zero
	costBasis := decimal.Zero
	for _, p := range positions {
		marketPrice, ok := price(p.Symbol)
		if !ok {
			marketPrice = p.AvgCost
		}

		marketValue := p.Shares.Mul(marketPrice)
		invested := p.AvgCost.Mul(p.Shares)

		view.Holdings = append(view.Holdings, models.HoldingView{
			Symbol:        p.Symbol,
			Shares:        p.Shares,
			AvgCost:       p.AvgCost,
			MarketPrice:   marketPrice,
			MarketValue:   marketValue,
			Invested:      invested,
			Profit:        marketValue.Sub(invested),
			PriceFallback: !ok,
		})

		portfolioValue = portfolioValue.Add(marketValue)
		costBasis = costBasis.Add(invested)
	}

	view.Totals = models.PortfolioTotals{
		Balance:        user.Balance,
		PortfolioValue: portfolioValue,
		TotalCostBasis: costBasis,
		NetGainLoss:    portfolioValue.Sub(costBasis),
		TotalEquity:    user.Balance.Add(portfolioValue),
	}
	return view
}

type quoteFetcher func(ctx context.Context, symbol string) (*models.CachedQuote, error)

type priceMemo struct {
	fetch  quoteFetcher
	log    *slog.Logger
	seen   map[string]decimal.Decimal
	failed map[string]bool
}

func newPriceMemo(fetch quoteFetcher, log *slog.Logger) *priceMemo {
	return &priceMemo{
		fetch:  fetch,
		log:    log,
		seen:   make(map[string]decimal.Decimal),
		failed: make(map[string]bool),
	}
}

func (m *priceMemo) lookup(ctx context.Context) priceLookup {
	return func(symbol string) (decimal.Decimal, bool) {
		if p, ok := m.seen[symbol]; ok {
			return p, true
		}
		if m.failed[symbol] {
			return decimal.Zero, false
		}

		quote, err := m.fetch(ctx, symbol)
		if err != nil {
			m.log.Warn("quote unavailable, valuing at average cost", "symbol", symbol, "kind", errs.KindOf(err))
			m.failed[symbol] = true
			return decimal.Zero, false
		}
		m.seen[symbol] = quote.Price
		return quote.Price, true
	}
}
