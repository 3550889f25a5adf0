package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Tonic56/stock-trading-simulator/internal/models"
	"github.com/Tonic56/stock-trading-simulator/internal/repository"
	"github.com/Tonic56/stock-trading-simulator/lib/errs"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// positionLedger keeps a user's holdings and the append-only transaction log
// in step. It is always bound to the unit of work of a single settlement.
type positionLedger struct {
	positions    repository.PositionsRepository
	transactions repository.TransactionsRepository
}

func newPositionLedger(tx *gorm.DB) *positionLedger {
	return &positionLedger{
		positions:    repository.NewPositionsRepository(tx),
		transactions: repository.NewTransactionsRepository(tx),
	}
}

// Record applies one trade to the user's position and appends its ledger
// entry. The returned position has zero shares when a sell closed it; the row
// is deleted in that case.
func (l *positionLedger) Record(ctx context.Context, userID uuid.UUID, side models.Side, symbol string, shares, price decimal.Decimal, at time.Time) (models.Position, *models.Transaction, error) {
	current, err := l.positions.GetPositionForUpdate(ctx, userID, symbol)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return models.Position{}, nil, err
	}

	var position models.Position
	switch side {
	case models.SideBuy:
		if current == nil {
			current = &models.Position{UserID: userID, Symbol: symbol}
		}
		applyBuy(current, shares, price)
		if err := l.positions.SavePosition(ctx, current); err != nil {
			return models.Position{}, nil, err
		}
		position = *current

	case models.SideSell:
		if current == nil {
			return models.Position{}, nil, errs.ErrInsufficientShares
		}
		closed, err := applySell(current, shares)
		if err != nil {
			return models.Position{}, nil, err
		}
		if closed {
			if err := l.positions.DeletePosition(ctx, userID, symbol); err != nil {
				return models.Position{}, nil, err
			}
			position = models.Position{UserID: userID, Symbol: symbol}
		} else {
			if err := l.positions.SavePosition(ctx, current); err != nil {
				return models.Position{}, nil, err
			}
			position = *current
		}

	default:
		return models.Position{}, nil, fmt.Errorf("unknown trade side %q", side)
	}

	entry := &models.Transaction{
		UserID:    userID,
		Symbol:    symbol,
		Shares:    shares,
		Price:     price,
		Side:      side,
		Timestamp: at,
	}
	if err := l.transactions.AppendTransaction(ctx, entry); err != nil {
		return models.Position{}, nil, err
	}

	return position, entry, nil
}

// applyBuy folds a purchase into the position using the share-weighted
// average cost.
func applyBuy(position *models.Position, shares, price decimal.Decimal) {
	if position.Shares.Sign() <= 0 {
		position.Shares = shares
		position.AvgCost = price
		return
	}

	total := position.Shares.Add(shares)
	invested := position.AvgCost.Mul(position.Shares).Add(price.Mul(shares))
	position.AvgCost = invested.Div(total)
	position.Shares = total
}

// applySell removes shares from the position. Average cost is left untouched.
// closed reports whether the position is now empty.
func applySell(position *models.Position, shares decimal.Decimal) (closed bool, err error) {
	if position.Shares.LessThan(shares) {
		return false, errs.ErrInsufficientShares
	}
	position.Shares = position.Shares.Sub(shares)
	if position.Shares.IsZero() {
		position.AvgCost = decimal.Zero
		return true, nil
	}
	return false, nil
}

// ReplayLedger rebuilds holdings from a transaction log with the same rules
// settlement uses. Entries may be given in any order.
func ReplayLedger(transactions []models.Transaction) (map[string]models.Position, error) {
	ordered := make([]models.Transaction, len(transactions))
	copy(ordered, transactions)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].ID < ordered[j].ID
	})

	holdings := make(map[string]models.Position)
	for _, t := range ordered {
		symbol := models.NormalizeSymbol(t.Symbol)
		position := holdings[symbol]
		position.UserID = t.UserID
		position.Symbol = symbol

		switch t.Side {
		case models.SideBuy:
			applyBuy(&position, t.Shares, t.Price)
			holdings[symbol] = position
		case models.SideSell:
			closed, err := applySell(&position, t.Shares)
			if err != nil {
				return nil, fmt.Errorf("transaction %d sells %s %s without holding it: %w", t.ID, t.Shares, symbol, err)
			}
			if closed {
				delete(holdings, symbol)
			} else {
				holdings[symbol] = position
			}
		default:
			return nil, fmt.Errorf("transaction %d has unknown side %q", t.ID, t.Side)
		}
	}

	return holdings, nil
}
