package repository

import (
	"context"
	"fmt"

	"github.com/Tonic56/stock-trading-simulator/internal/models"
	"github.com/Tonic56/stock-trading-simulator/lib/errs"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TransactionsRepository only appends and reads; the ledger has no update path.
type TransactionsRepository interface {
	AppendTransaction(ctx context.Context, transaction *models.Transaction) error
	ListTransactions(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error)
	ListAllTransactions(ctx context.Context) ([]models.Transaction, error)
}

type transactionsRepository struct {
	db *gorm.DB
}

func NewTransactionsRepository(db *gorm.DB) TransactionsRepository {
	return &transactionsRepository{db: db}
}

func (db *transactionsRepository) AppendTransaction(ctx context.Context, transaction *models.Transaction) error {
	if transaction.ID != 0 {
		return fmt.Errorf("transaction %d already recorded", transaction.ID)
	}
	if err := db.db.WithContext(ctx).Create(transaction).Error; err != nil {
		return fmt.Errorf("%w: %s", errs.ErrDB, err.Error())
	}
	return nil
}

// ListTransactions returns the user's ledger newest first.
func (db *transactionsRepository) ListTransactions(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error) {
	var transactions []models.Transaction
	err := db.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Order("id DESC").
		Find(&transactions).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrDB, err.Error())
	}
	return transactions, nil
}

func (db *transactionsRepository) ListAllTransactions(ctx context.Context) ([]models.Transaction, error) {
	var transactions []models.Transaction
	if err := db.db.WithContext(ctx).Order("id ASC").Find(&transactions).Error; err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrDB, err.Error())
	}
	return transactions, nil
}
