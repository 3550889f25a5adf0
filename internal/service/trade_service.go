package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Tonic56/stock-trading-simulator/internal/market"
	"github.com/Tonic56/stock-trading-simulator/internal/models"
	"github.com/Tonic56/stock-trading-simulator/internal/repository"
	"github.com/Tonic56/stock-trading-simulator/lib/errs"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TradeRequest struct {
	UserID   uuid.UUID
	Symbol   string
	Shares   decimal.Decimal
	Timezone string
}

// PositionDrift reports a symbol whose stored position disagrees with the
// position rebuilt from the transaction log.
type PositionDrift struct {
	Symbol          string          `json:"symbol"`
	StoredShares    decimal.Decimal `json:"stored_shares"`
	ReplayedShares  decimal.Decimal `json:"replayed_shares"`
	StoredAvgCost   decimal.Decimal `json:"stored_avg_price"`
	ReplayedAvgCost decimal.Decimal `json:"replayed_avg_price"`
}

type TradeService interface {
	Buy(ctx context.Context, req TradeRequest) (*models.Receipt, error)
	Sell(ctx context.Context, req TradeRequest) (*models.Receipt, error)
	History(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error)
	Audit(ctx context.Context, userID uuid.UUID) ([]PositionDrift, error)
	AllTransactions(ctx context.Context) ([]models.Transaction, error)
	AllPositions(ctx context.Context) ([]models.Position, error)
}

// TradePublisher receives every settled trade after its commit.
type TradePublisher interface {
	PublishTrade(ctx context.Context, event models.TradeEvent) error
}

type tradeService struct {
	db        *gorm.DB
	usersRepo repository.UsersRepository
	quotes    QuotesService
	market    market.Oracle
	publisher TradePublisher
	log       *slog.Logger
	now       func() time.Time
}

func NewTradeService(db *gorm.DB, quotes QuotesService, oracle market.Oracle, publisher TradePublisher, log *slog.Logger) TradeService {
	return &tradeService{
		db:        db,
		usersRepo: repository.NewUsersRepository(db),
		quotes:    quotes,
		market:    oracle,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

func (s *tradeService) Buy(ctx context.Context, req TradeRequest) (*models.Receipt, error) {
	return s.settle(ctx, models.SideBuy, req)
}

func (s *tradeService) Sell(ctx context.Context, req TradeRequest) (*models.Receipt, error) {
	return s.settle(ctx, models.SideSell, req)
}

// settle checks the trade preconditions in order and applies balance,
// position and ledger changes in one database transaction. The quote is
// fetched before the transaction opens so no row lock is held across
// provider I/O; the user row is then locked and re-read.
func (s *tradeService) settle(ctx context.Context, side models.Side, req TradeRequest) (*models.Receipt, error) {
	symbol := models.NormalizeSymbol(req.Symbol)
	if symbol == "" {
		return nil, errs.New(errs.KindInvalidInput, "symbol is required")
	}
	if req.Shares.Sign() <= 0 {
		return nil, errs.New(errs.KindInvalidInput, "shares must be a positive number")
	}
	if !req.Shares.Equal(req.Shares.Truncate(models.ShareScale)) {
		return nil, errs.Newf(errs.KindInvalidInput, "shares allow at most %d decimal places", models.ShareScale)
	}

	status, err := s.market.IsOpen(req.Timezone)
	if err != nil {
		return nil, err
	}
	if !status.Open {
		s.log.Info("trade rejected: market closed", "userID", req.UserID, "timezone", req.Timezone)
		return nil, errs.Newf(errs.KindMarketClosed, "market is closed in timezone %s", req.Timezone)
	}

	if _, err := s.usersRepo.GetUserByID(ctx, req.UserID); err != nil {
		return nil, userLookupFailure(err)
	}

	quote, err := s.quotes.GetQuote(ctx, symbol)
	if err != nil {
		return nil, errs.Wrap(errs.KindPriceUnavailable, "stock price fetch failed for "+symbol, err)
	}
	price := quote.Price
	amount := price.Mul(req.Shares)
	at := s.now().UTC()

	var receipt models.Receipt
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txUsers := repository.NewUsersRepository(tx)
		ledger := newPositionLedger(tx)

		user, err := txUsers.GetUserForUpdate(ctx, req.UserID)
		if err != nil {
			return userLookupFailure(err)
		}

		balance := user.Balance
		if side == models.SideBuy {
			if balance.LessThan(amount) {
				return errs.Wrap(errs.KindInsufficientFunds, "insufficient balance", errs.ErrInsufficientFunds)
			}
			balance = balance.Sub(amount)
		} else {
			balance = balance.Add(amount)
		}

		position, entry, err := ledger.Record(ctx, user.ID, side, symbol, req.Shares, price, at)
		if err != nil {
			if errors.Is(err, errs.ErrInsufficientShares) {
				return errs.Wrap(errs.KindInsufficientShares, "not enough shares to sell", err)
			}
			return errs.Wrap(errs.KindInternal, "failed to record trade", err)
		}

		if err := txUsers.UpdateBalance(ctx, user.ID, balance); err != nil {
			return errs.Wrap(errs.KindInternal, "failed to update balance", err)
		}

		receipt = models.Receipt{
			TransactionID: entry.ID,
			Side:          side,
			Symbol:        symbol,
			Shares:        req.Shares,
			Price:         price,
			NewBalance:    balance,
			Position: models.PositionSnapshot{
				Symbol:  symbol,
				Shares:  position.Shares,
				AvgCost: position.AvgCost,
			},
			Timestamp: at,
		}
		return nil
	})
	if err != nil {
		switch errs.KindOf(err) {
		case errs.KindInsufficientFunds, errs.KindInsufficientShares, errs.KindUserNotFound:
			s.log.Info("trade rejected", "userID", req.UserID, "side", side, "symbol", symbol, "reason", errs.KindOf(err))
		default:
			s.log.Error("trade settlement failed", "userID", req.UserID, "side", side, "symbol", symbol, slog.Any("error", err))
		}
		return nil, err
	}

	s.log.Info("trade settled",
		"userID", req.UserID,
		"side", side,
		"symbol", symbol,
		"shares", req.Shares.String(),
		"price", price.String(),
	)

	if s.publisher != nil {
		event := models.TradeEvent{
			UserID:    req.UserID,
			Symbol:    symbol,
			Side:      side,
			Shares:    req.Shares,
			Price:     price,
			Balance:   receipt.NewBalance,
			Timestamp: at,
		}
		if err := s.publisher.PublishTrade(ctx, event); err != nil {
			s.log.Warn("failed to publish trade event", "userID", req.UserID, slog.Any("error", err))
		}
	}

	return &receipt, nil
}

func (s *tradeService) History(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error) {
	history, err := repository.NewTransactionsRepository(s.db).ListTransactions(ctx, userID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to load transaction history", err)
	}
	return history, nil
}

func (s *tradeService) AllTransactions(ctx context.Context) ([]models.Transaction, error) {
	transactions, err := repository.NewTransactionsRepository(s.db).ListAllTransactions(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to list transactions", err)
	}
	return transactions, nil
}

func (s *tradeService) AllPositions(ctx context.Context) ([]models.Position, error) {
	positions, err := repository.NewPositionsRepository(s.db).ListAllPositions(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to list positions", err)
	}
	return positions, nil
}

// Audit replays the user's ledger and compares it with the stored positions.
// An empty result means the two agree.
func (s *tradeService) Audit(ctx context.Context, userID uuid.UUID) ([]PositionDrift, error) {
	history, err := s.History(ctx, userID)
	if err != nil {
		return nil, err
	}
	replayed, err := ReplayLedger(history)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "transaction log is inconsistent", err)
	}

	stored, err := repository.NewPositionsRepository(s.db).ListPositions(ctx, userID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to load positions", err)
	}

	var drift []PositionDrift
	seen := make(map[string]bool, len(stored))
	for _, p := range stored {
		seen[p.Symbol] = true
		r := replayed[p.Symbol]
		if !p.Shares.Equal(r.Shares) || !p.AvgCost.Round(4).Equal(r.AvgCost.Round(4)) {
			drift = append(drift, PositionDrift{
				Symbol:          p.Symbol,
				StoredShares:    p.Shares,
				ReplayedShares:  r.Shares,
				StoredAvgCost:   p.AvgCost,
				ReplayedAvgCost: r.AvgCost,
			})
		}
	}
	for symbol, r := range replayed {
		if seen[symbol] {
			continue
		}
		drift = append(drift, PositionDrift{
			Symbol:          symbol,
			ReplayedShares:  r.Shares,
			ReplayedAvgCost: r.AvgCost,
		})
	}
	return drift, nil
}

func userLookupFailure(err error) error {
	if errors.Is(err, errs.ErrNotFound) {
		return errs.New(errs.KindUserNotFound, "user not found")
	}
	return errs.Wrap(errs.KindInternal, "failed to load user", err)
}
