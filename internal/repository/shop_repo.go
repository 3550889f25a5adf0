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

type ShopRepository interface {
	ListAvailableItems(ctx context.Context) ([]models.ShopItem, error)
	ListAllItems(ctx context.Context) ([]models.ShopItem, error)
	GetItem(ctx context.Context, itemID uint) (*models.ShopItem, error)
	UpsertItemByName(ctx context.Context, item *models.ShopItem) error
	CreateItem(ctx context.Context, item *models.ShopItem) error
	UpdateItem(ctx context.Context, itemID uint, fields map[string]any) error
	DeleteItem(ctx context.Context, itemID uint) error
	CountItemPurchases(ctx context.Context, itemID uint) (int64, error)
	HasPurchase(ctx context.Context, userID uuid.UUID, itemID uint) (bool, error)
	CreatePurchase(ctx context.Context, purchase *models.ShopPurchase) error
	ListPurchases(ctx context.Context, userID uuid.UUID) ([]models.ShopPurchase, error)
}

type shopRepository struct {
	db *gorm.DB
}

func NewShopRepository(db *gorm.DB) ShopRepository {
	return &shopRepository{db: db}
}

func (db *shopRepository) ListAvailableItems(ctx context.Context) ([]models.ShopItem, error) {
	var items []models.ShopItem
	if err := db.db.WithContext(ctx).Where("available = ?", true).Order("id ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrDB, err.Error())
	}
	return items, nil
}

func (db *shopRepository) ListAllItems(ctx context.Context) ([]models.ShopItem, error) {
	var items []models.ShopItem
	if err := db.db.WithContext(ctx).Order("id ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrDB, err.Error())
	}
	return items, nil
}

func (db *shopRepository) GetItem(ctx context.Context, itemID uint) (*models.ShopItem, error) {
	var item models.ShopItem
	if err := db.db.WithContext(ctx).Where("id = ?", itemID).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %s", errs.ErrDB, err.Error())
	}
	return &item, nil
}

func (db *shopRepository) UpsertItemByName(ctx context.Context, item *models.ShopItem) error {
	err := db.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"description", "cost", "score_value", "emoji", "available"}),
	}).Create(item).Error
	if err != nil {
		return fmt.Errorf("%w: %s", errs.ErrDB, err.Error())
	}
	return nil
}

func (db *shopRepository) CreateItem(ctx context.Context, item *models.ShopItem) error {
	if err := db.db.WithContext(ctx).Create(item).Error; err != nil {
		if isUniqueViolation(err) {
			return errs.ErrAlreadyExists
		}
		return fmt.Errorf("%w: %s", errs.ErrDB, err.Error())
	}
	return nil
}

func (db *shopRepository) UpdateItem(ctx context.Context, itemID uint, fields map[string]any) error {
	result := db.db.WithContext(ctx).Model(&models.ShopItem{}).Where("id = ?", itemID).Updates(fields)
	if result.Error != nil && isUniqueViolation(result.Error) {
		return errs.ErrAlreadyExists
	}
	return rowsOrNotFound(result)
}

func (db *shopRepository) DeleteItem(ctx context.Context, itemID uint) error {
	result := db.db.WithContext(ctx).Where("id = ?", itemID).Delete(&models.ShopItem{})
	return rowsOrNotFound(result)
}

func (db *shopRepository) CountItemPurchases(ctx context.Context, itemID uint) (int64, error) {
	var count int64
	if err := db.db.WithContext(ctx).Model(&models.ShopPurchase{}).Where("item_id = ?", itemID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("%w: %s", errs.ErrDB, err.Error())
	}
	return count, nil
}

func (db *shopRepository) HasPurchase(ctx context.Context, userID uuid.UUID, itemID uint) (bool, error) {
	var count int64
	err := db.db.WithContext(ctx).Model(&models.ShopPurchase{}).
		Where("user_id = ? AND item_id = ?", userID, itemID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("%w: %s", errs.ErrDB, err.Error())
	}
	return count > 0, nil
}

func (db *shopRepository) CreatePurchase(ctx context.Context, purchase *models.ShopPurchase) error {
	if err := db.db.WithContext(ctx).Omit(clause.Associations).Create(purchase).Error; err != nil {
		if isUniqueViolation(err) {
			return errs.ErrAlreadyExists
		}
		return fmt.Errorf("%w: %s", errs.ErrDB, err.Error())
	}
	return nil
}

func (db *shopRepository) ListPurchases(ctx context.Context, userID uuid.UUID) ([]models.ShopPurchase, error) {
	var purchases []models.ShopPurchase
	err := db.db.WithContext(ctx).Preload("Item").
		Where("user_id = ?", userID).
		Order("timestamp ASC").
		Find(&purchases).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrDB, err.Error())
	}
	return purchases, nil
}
