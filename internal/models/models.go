package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ShareScale is the finest share fraction a trade may name.
const ShareScale = 8

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// NormalizeSymbol returns the canonical ticker form used as the join key
// between positions, transactions and cached quotes.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (user *User) BeforeCreate(tx *gorm.DB) (err error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	return
}

type User struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey;" json:"id"`
	Username       string          `gorm:"unique;not null" json:"username"`
	Email          string          `gorm:"unique;not null" json:"email"`
	PasswordHash   string          `gorm:"not null" json:"-"`
	Role           string          `gorm:"not null;default:user" json:"role"`
	Balance        decimal.Decimal `gorm:"type:numeric;not null" json:"balance"`
	CommunityScore int64           `gorm:"not null;default:0" json:"community_score"`
	FirstName      string          `json:"first_name,omitempty"`
	LastName       string          `json:"last_name,omitempty"`
	PhoneNumber    string          `json:"phone_number,omitempty"`
	DateOfBirth    *time.Time      `gorm:"type:date" json:"date_of_birth,omitempty"`
	Address        string          `json:"address,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`

	Positions    []Position     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE;" json:"-"`
	Transactions []Transaction  `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE;" json:"-"`
	Purchases    []ShopPurchase `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE;" json:"-"`
}

// Position is a user's aggregate holding in one symbol. A row never
// persists with zero shares.
type Position struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	UserID    uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_position_user_symbol" json:"user_id"`
	Symbol    string          `gorm:"size:16;not null;uniqueIndex:idx_position_user_symbol" json:"symbol"`
	Shares    decimal.Decimal `gorm:"type:numeric;not null" json:"shares"`
	AvgCost   decimal.Decimal `gorm:"type:numeric;not null" json:"avg_price"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Transaction is an append-only ledger entry. Rows are never updated or deleted
// except by cascade when the owning user is removed.
type Transaction struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	UserID    uuid.UUID       `gorm:"type:uuid;not null;index" json:"user_id"`
	Symbol    string          `gorm:"size:16;not null" json:"symbol"`
	Shares    decimal.Decimal `gorm:"type:numeric;not null" json:"shares"`
	Price     decimal.Decimal `gorm:"type:numeric;not null" json:"price"`
	Side      Side            `gorm:"size:4;not null" json:"type"`
	Timestamp time.Time       `gorm:"not null;index" json:"timestamp"`
}

// CachedQuote is the memoized provider response for a symbol. It is never the
// system of record for money movement.
type CachedQuote struct {
	ID                  uint            `gorm:"primaryKey" json:"-"`
	Symbol              string          `gorm:"size:16;not null;uniqueIndex" json:"symbol"`
	Price               decimal.Decimal `gorm:"type:numeric;not null" json:"price"`
	PreviousClose       decimal.Decimal `gorm:"type:numeric;not null" json:"previous_close"`
	Change              decimal.Decimal `gorm:"type:numeric;not null" json:"change"`
	PercentChange       decimal.Decimal `gorm:"type:numeric;not null" json:"percent_change"`
	DisplayName         string          `json:"display_name,omitempty"`
	LogoURL             string          `json:"logo_url,omitempty"`
	PriceUpdatedAt      time.Time       `gorm:"not null" json:"last_updated"`
	DescriptorUpdatedAt time.Time       `json:"-"`
}

func (CachedQuote) TableName() string {
	return "stock_cache"
}

type ShopItem struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	Name        string          `gorm:"unique;not null" json:"name"`
	Description string          `gorm:"not null" json:"description"`
	Cost        decimal.Decimal `gorm:"type:numeric;not null" json:"cost"`
	ScoreValue  int64           `gorm:"not null" json:"score_value"`
	Emoji       string          `gorm:"not null" json:"emoji"`
	Available   bool            `gorm:"not null" json:"available"`
}

type ShopPurchase struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_purchase_user_item"`
	ItemID    uint      `gorm:"not null;uniqueIndex:idx_purchase_user_item"`
	Item      ShopItem  `gorm:"foreignKey:ItemID"`
	Timestamp time.Time `gorm:"not null"`
}

// All lists every persisted model in migration order.
func All() []any {
	return []any{
		&User{},
		&Position{},
		&Transaction{},
		&CachedQuote{},
		&ShopItem{},
		&ShopPurchase{},
	}
}
