package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Tonic56/stock-trading-simulator/internal/models"
	"github.com/Tonic56/stock-trading-simulator/lib/errs"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PositionsRepository interface {
	GetPosition(ctx context.Context, userID uuid.UUID, symbol string) (*models.Position, error)
	GetPositionForUpdate(ctx context.Context, userID uuid.UUID, symbol string) (*models.Position, error)
	ListPositions(ctx context.Context, userID uuid.UUID) ([]models.Position, error)
	ListAllPositions(ctx context.Context) ([]models.Position, error)
	SavePosition(ctx context.Context, position *models.Position) error
	DeletePosition(ctx context.Context, userID uuid.UUID, symbol string) error
}

type positionsRepository struct {
	db *gorm.DB
}

func NewPositionsRepository(db *gorm.DB) PositionsRepository {
	return &positionsRepository{
		db: db,
	}
}

func (db *positionsRepository) GetPosition(ctx context.Context, userID uuid.UUID, symbol string) (*models.Position, error) {
	return db.get(db.db.WithContext(ctx), userID, symbol)
}

func (db *positionsRepository) GetPositionForUpdate(ctx context.Context, userID uuid.UUID, symbol string) (*models.Position, error) {
	return db.get(db.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), userID, symbol)
}

func (db *positionsRepository) get(q *gorm.DB, userID uuid.UUID, symbol string) (*models.Position, error) {
	var position models.Position

	if err := q.Where("user_id = ? AND symbol = ?", userID, symbol).First(&position).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %s", errs.ErrDB, err.Error())
	}

	return &position, nil
}

func (db *positionsRepository) ListPositions(ctx context.Context, userID uuid.UUID) ([]models.Position, error) {
	var positions []models.Position
	if err := db.db.WithContext(ctx).Where("user_id = ?", userID).Order("symbol ASC").Find(&positions).Error; err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrDB, err.Error())
	}
	return positions, nil
}

func (db *positionsRepository) ListAllPositions(ctx context.Context) ([]models.Position, error) {
	var positions []models.Position
	if err := db.db.WithContext(ctx).Order("user_id ASC").Order("symbol ASC").Find(&positions).Error; err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrDB, err.Error())
	}
	return positions, nil
}

// SavePosition inserts a new position or updates an existing one by primary key.
func (db *positionsRepository) SavePosition(ctx context.Context, position *models.Position) error {
	if position.Shares.Sign() <= 0 {
		return fmt.Errorf("refusing to store position %s with %s shares", position.Symbol, position.Shares)
	}

	if position.ID == 0 {
		if err := db.db.WithContext(ctx).Create(position).Error; err != nil {
			if isUniqueViolation(err) {
				return errs.ErrAlreadyExists
			}
			return fmt.Errorf("%w: %s", errs.ErrDB, err.Error())
		}
		return nil
	}

	if err := db.db.WithContext(ctx).Save(position).Error; err != nil {
		return fmt.Errorf("%w: %s", errs.ErrDB, err.Error())
	}
	return nil
}

func (db *positionsRepository) DeletePosition(ctx context.Context, userID uuid.UUID, symbol string) error {
	result := db.db.WithContext(ctx).Where("user_id = ? AND symbol = ?", userID, symbol).Delete(&models.Position{})
	return rowsOrNotFound(result)
}
