package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DisplayPlaces is the number of decimals currency values are rounded to in
// API responses. Internal arithmetic never rounds.
const DisplayPlaces = 2

type QuoteUpdate struct {
	Symbol string          `json:"s"`
	Price  decimal.Decimal `json:"p"`
}

type TradeEvent struct {
	UserID    uuid.UUID       `json:"user_id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Shares    decimal.Decimal `json:"shares"`
	Price     decimal.Decimal `json:"price"`
	Balance   decimal.Decimal `json:"balance"`
	Timestamp time.Time       `json:"timestamp"`
}

type PositionSnapshot struct {
	Symbol  string          `json:"symbol"`
	Shares  decimal.Decimal `json:"shares"`
	AvgCost decimal.Decimal `json:"avg_price"`
}

// Receipt describes a settled trade. Position.Shares is zero when a sell
// closed the position.
type Receipt struct {
	TransactionID uint             `json:"transaction_id"`
	Side          Side             `json:"type"`
	Symbol        string           `json:"symbol"`
	Shares        decimal.Decimal  `json:"shares"`
	Price         decimal.Decimal  `json:"price"`
	NewBalance    decimal.Decimal  `json:"new_balance"`
	Position      PositionSnapshot `json:"portfolio"`
	Timestamp     time.Time        `json:"timestamp"`
}

func (r Receipt) Display() Receipt {
	r.Price = r.Price.Round(DisplayPlaces)
	r.NewBalance = r.NewBalance.Round(DisplayPlaces)
	r.Position.AvgCost = r.Position.AvgCost.Round(DisplayPlaces)
	return r
}

type HoldingView struct {
	Symbol      string          `json:"symbol"`
	Shares      decimal.Decimal `json:"shares"`
	AvgCost     decimal.Decimal `json:"avg_price"`
	MarketPrice decimal.Decimal `json:"market_price"`
	MarketValue decimal.Decimal `json:"market_value"`
	Invested    decimal.Decimal `json:"total_invested"`
	Profit      decimal.Decimal `json:"profit"`
	// PriceFallback is set when the quote was unavailable and AvgCost was
	// used as the market price.
	PriceFallback bool `json:"price_fallback"`
}

type PortfolioTotals struct {
	Balance        decimal.Decimal `json:"balance"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	TotalCostBasis decimal.Decimal `json:"total_cost_basis"`
	NetGainLoss    decimal.Decimal `json:"net_gain_loss"`
	TotalEquity    decimal.Decimal `json:"total_equity"`
}

type PortfolioView struct {
	UserID   uuid.UUID       `json:"user_id"`
	UserName string          `json:"username"`
	Holdings []HoldingView   `json:"holdings"`
	Totals   PortfolioTotals `json:"totals"`
}

func (p PortfolioView) Display() PortfolioView {
	holdings := make([]HoldingView, 0, len(p.Holdings))
	for _, h := range p.Holdings {
		h.AvgCost = h.AvgCost.Round(DisplayPlaces)
		h.MarketPrice = h.MarketPrice.Round(DisplayPlaces)
		h.MarketValue = h.MarketValue.Round(DisplayPlaces)
		h.Invested = h.Invested.Round(DisplayPlaces)
		h.Profit = h.Profit.Round(DisplayPlaces)
		holdings = append(holdings, h)
	}
	p.Holdings = holdings
	p.Totals = PortfolioTotals{
		Balance:        p.Totals.Balance.Round(DisplayPlaces),
		PortfolioValue: p.Totals.PortfolioValue.Round(DisplayPlaces),
		TotalCostBasis: p.Totals.TotalCostBasis.Round(DisplayPlaces),
		NetGainLoss:    p.Totals.NetGainLoss.Round(DisplayPlaces),
		TotalEquity:    p.Totals.TotalEquity.Round(DisplayPlaces),
	}
	return p
}

type LeaderboardEntry struct {
	UserID          uuid.UUID       `json:"user_id"`
	Username        string          `json:"username"`
	Balance         decimal.Decimal `json:"balance"`
	TotalEquity     decimal.Decimal `json:"total_equity"`
	CommunityScore  int64           `json:"community_score"`
	NormalizedMoney decimal.Decimal `json:"normalized_money"`
	NormalizedScore decimal.Decimal `json:"normalized_score"`
	TotalScore      decimal.Decimal `json:"total_score"`
}

func (e LeaderboardEntry) Display() LeaderboardEntry {
	e.Balance = e.Balance.Round(DisplayPlaces)
	e.TotalEquity = e.TotalEquity.Round(DisplayPlaces)
	e.NormalizedMoney = e.NormalizedMoney.Round(DisplayPlaces)
	e.NormalizedScore = e.NormalizedScore.Round(DisplayPlaces)
	e.TotalScore = e.TotalScore.Round(DisplayPlaces)
	return e
}

type PurchasedItem struct {
	ID           uint      `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Emoji        string    `json:"emoji"`
	PurchaseDate time.Time `json:"purchase_date"`
}

type PurchaseResult struct {
	ItemID         uint            `json:"item_id"`
	ItemName       string          `json:"item_name"`
	Balance        decimal.Decimal `json:"user_balance"`
	CommunityScore int64           `json:"user_community_score"`
}
