package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tonic56/stock-trading-simulator/internal/models"
	"github.com/Tonic56/stock-trading-simulator/lib/errs"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var priceColumns = []string{"price", "previous_close", "change", "percent_change", "price_updated_at"}

var descriptorColumns = []string{"display_name", "logo_url", "descriptor_updated_at"}

type QuotesRepository interface {
	GetQuote(ctx context.Context, symbol string) (*models.CachedQuote, error)
	ListQuotes(ctx context.Context) ([]models.CachedQuote, error)
	UpsertQuote(ctx context.Context, quote *models.CachedQuote, withDescriptor bool) error
}

type quotesRepository struct {
	db *gorm.DB
}

func NewQuotesRepository(db *gorm.DB) QuotesRepository {
	return &quotesRepository{db: db}
}

func (db *quotesRepository) GetQuote(ctx context.Context, symbol string) (*models.CachedQuote, error) {
	var quote models.CachedQuote
	if err := db.db.WithContext(ctx).Where("symbol = ?", symbol).First(&quote).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %s", errs.ErrDB, err.Error())
	}
	return &quote, nil
}

func (db *quotesRepository) ListQuotes(ctx context.Context) ([]models.CachedQuote, error) {
	var quotes []models.CachedQuote
	if err := db.db.WithContext(ctx).Order("symbol ASC").Find(&quotes).Error; err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrDB, err.Error())
	}
	return quotes, nil
}

// UpsertQuote writes the quote in a single INSERT .. ON CONFLICT(symbol)
// statement. Only price columns are overwritten on conflict unless
// withDescriptor is set, so concurrent writers never clobber metadata they
// did not fetch.
func (db *quotesRepository) UpsertQuote(ctx context.Context, quote *models.CachedQuote, withDescriptor bool) error {
	columns := priceColumns
	if withDescriptor {
		columns = append(append([]string{}, priceColumns...), descriptorColumns...)
	}

	err := db.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(quote).Error
	if err != nil {
		return fmt.Errorf("%w: %s", errs.ErrDB, err.Error())
	}
	return nil
}
