package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Tonic56/stock-trading-simulator/internal/models"
	"github.com/Tonic56/stock-trading-simulator/lib/errs"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UsersRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error)
	GetUserForUpdate(ctx context.Context, userID uuid.UUID) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateBalance(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) error
	UpdateBalanceAndScore(ctx context.Context, userID uuid.UUID, balance decimal.Decimal, score int64) error
	UpdateUser(ctx context.Context, userID uuid.UUID, fields map[string]any) error
	DeleteUserByID(ctx context.Context, userID uuid.UUID) error
}

type usersRepository struct {
	db *gorm.DB
}

func NewUsersRepository(db *gorm.DB) UsersRepository {
	return &usersRepository{db: db}
}

func (db *usersRepository) CreateUser(ctx context.Context, user *models.User) error {
	if err := db.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueViolation(err) {
			return errs.ErrAlreadyExists
		}

		return fmt.Errorf("%w: %s", errs.ErrDB, err.Error())
	}

	return nil
}

func (db *usersRepository) GetUserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return db.first(db.db.WithContext(ctx), "id = ?", userID)
}

// GetUserForUpdate reads the user row under a row-level write lock. It must be
// called on a transaction handle; drivers without row locks ignore the clause.
func (db *usersRepository) GetUserForUpdate(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return db.first(db.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), "id = ?", userID)
}

func (db *usersRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return db.first(db.db.WithContext(ctx), "username = ?", username)
}

func (db *usersRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return db.first(db.db.WithContext(ctx), "email = ?", email)
}

func (db *usersRepository) first(q *gorm.DB, query string, args ...any) (*models.User, error) {
	var user models.User
	if err := q.Where(query, args...).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrNotFound
		}

		return nil, fmt.Errorf("%w: %s", errs.ErrDB, err.Error())
	}
	return &user, nil
}

func (db *usersRepository) ListUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := db.db.WithContext(ctx).Order("created_at ASC").Order("id ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrDB, err.Error())
	}
	return users, nil
}

func (db *usersRepository) UpdateBalance(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) error {
	result := db.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("balance", balance)
	return rowsOrNotFound(result)
}

func (db *usersRepository) UpdateBalanceAndScore(ctx context.Context, userID uuid.UUID, balance decimal.Decimal, score int64) error {
	result := db.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(map[string]any{
		"balance":         balance,
		"community_score": score,
	})
	return rowsOrNotFound(result)
}

// UpdateUser writes the given columns. Keys are column names.
func (db *usersRepository) UpdateUser(ctx context.Context, userID uuid.UUID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	result := db.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(fields)
	if result.Error != nil && isUniqueViolation(result.Error) {
		return errs.ErrAlreadyExists
	}
	return rowsOrNotFound(result)
}

func (db *usersRepository) DeleteUserByID(ctx context.Context, userID uuid.UUID) error {
	result := db.db.WithContext(ctx).Where("id = ?", userID).Delete(&models.User{})
	return rowsOrNotFound(result)
}

func rowsOrNotFound(result *gorm.DB) error {
	if result.Error != nil {
		return fmt.Errorf("%w: %s", errs.ErrDB, result.Error.Error())
	}

	if result.RowsAffected == 0 {
		return errs.ErrNotFound
	}

	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	errorString := err.Error()
	return strings.Contains(errorString, "UNIQUE constraint failed") ||
		strings.Contains(errorString, "duplicate key value violates unique constraint")
}
