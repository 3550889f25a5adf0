package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Tonic56/stock-trading-simulator/internal/models"
	"github.com/Tonic56/stock-trading-simulator/internal/repository"
	"github.com/Tonic56/stock-trading-simulator/lib/errs"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

type ShopService interface {
	ListItems(ctx context.Context) ([]models.ShopItem, error)
	Purchase(ctx context.Context, userID uuid.UUID, itemID uint) (*models.PurchaseResult, error)
	MyItems(ctx context.Context, userID uuid.UUID) ([]models.PurchasedItem, error)
	SeedCatalog(ctx context.Context, path string) (int, error)
	AllItems(ctx context.Context) ([]models.ShopItem, error)
	CreateItem(ctx context.Context, input ShopItemInput) (*models.ShopItem, error)
	UpdateItem(ctx context.Context, itemID uint, patch ShopItemPatch) (*models.ShopItem, error)
	DeleteItem(ctx context.Context, itemID uint) error
}

type ShopItemInput struct {
	Name        string
	Description string
	Cost        decimal.Decimal
	ScoreValue  int64
	Emoji       string
	// Available defaults to true when nil.
	Available *bool
}

// ShopItemPatch carries the fields to overwrite; nil fields are kept.
type ShopItemPatch struct {
	Name        *string
	Description *string
	Cost        *decimal.Decimal
	ScoreValue  *int64
	Emoji       *string
	Available   *bool
}

type catalogFile struct {
	Items []catalogItem `yaml:"items"`
}

type catalogItem struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Cost        string `yaml:"cost"`
	Score       int64  `yaml:"score"`
	Emoji       string `yaml:"emoji"`
	Available   *bool  `yaml:"available"`
}

type shopService struct {
	db   *gorm.DB
	repo repository.ShopRepository
	log  *slog.Logger
	now  func() time.Time
}

func NewShopService(db *gorm.DB, log *slog.Logger) ShopService {
	return &shopService{
		db:   db,
		repo: repository.NewShopRepository(db),
		log:  log,
		now:  time.Now,
	}
}

func (s *shopService) ListItems(ctx context.Context) ([]models.ShopItem, error) {
	items, err := s.repo.ListAvailableItems(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to list shop items", err)
	}
	return items, nil
}

// Purchase debits the item cost and credits its score under a lock on the
// user row. An item can be bought once per user.
func (s *shopService) Purchase(ctx context.Context, userID uuid.UUID, itemID uint) (*models.PurchaseResult, error) {
	if itemID == 0 {
		return nil, errs.New(errs.KindInvalidInput, "item_id is required")
	}

	var result models.PurchaseResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txUsers := repository.NewUsersRepository(tx)
		txShop := repository.NewShopRepository(tx)

		user, err := txUsers.GetUserForUpdate(ctx, userID)
		if err != nil {
			return userLookupFailure(err)
		}

		item, err := txShop.GetItem(ctx, itemID)
		if err != nil {
			return itemFailure(err, "failed to load item")
		}
		if !item.Available {
			return errs.New(errs.KindInvalidInput, "item is not available")
		}

		owned, err := txShop.HasPurchase(ctx, userID, itemID)
		if err != nil {
			return errs.Wrap(errs.KindInternal, "failed to check purchases", err)
		}
		if owned {
			return errs.New(errs.KindConflict, "item already purchased")
		}

		if user.Balance.LessThan(item.Cost) {
			return errs.Wrap(errs.KindInsufficientFunds, "insufficient balance", errs.ErrInsufficientFunds)
		}

		balance := user.Balance.Sub(item.Cost)
		score := user.CommunityScore + item.ScoreValue
		if err := txUsers.UpdateBalanceAndScore(ctx, userID, balance, score); err != nil {
			return errs.Wrap(errs.KindInternal, "failed to update balance", err)
		}

		purchase := &models.ShopPurchase{UserID: userID, ItemID: itemID, Timestamp: s.now().UTC()}
		if err := txShop.CreatePurchase(ctx, purchase); err != nil {
			if errors.Is(err, errs.ErrAlreadyExists) {
				return errs.New(errs.KindConflict, "item already purchased")
			}
			return errs.Wrap(errs.KindInternal, "failed to record purchase", err)
		}

		result = models.PurchaseResult{
			ItemID:         item.ID,
			ItemName:       item.Name,
			Balance:        balance,
			CommunityScore: score,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("shop item purchased", "userID", userID, "itemID", itemID, "score", result.CommunityScore)
	return &result, nil
}

func (s *shopService) MyItems(ctx context.Context, userID uuid.UUID) ([]models.PurchasedItem, error) {
	purchases, err := s.repo.ListPurchases(ctx, userID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to list purchases", err)
	}

	items := make([]models.PurchasedItem, 0, len(purchases))
	for _, p := range purchases {
		items = append(items, models.PurchasedItem{
			ID:           p.Item.ID,
			Name:         p.Item.Name,
			Description:  p.Item.Description,
			Emoji:        p.Item.Emoji,
			PurchaseDate: p.Timestamp,
		})
	}
	return items, nil
}

func (s *shopService) AllItems(ctx context.Context) ([]models.ShopItem, error) {
	items, err := s.repo.ListAllItems(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to list shop items", err)
	}
	return items, nil
}

func (s *shopService) CreateItem(ctx context.Context, input ShopItemInput) (*models.ShopItem, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errs.New(errs.KindInvalidInput, "name is required")
	}
	if input.Cost.IsNegative() {
		return nil, errs.New(errs.KindInvalidInput, "cost must not be negative")
	}

	item := &models.ShopItem{
		Name:        name,
		Description: input.Description,
		Cost:        input.Cost,
		ScoreValue:  input.ScoreValue,
		Emoji:       input.Emoji,
		Available:   input.Available == nil || *input.Available,
	}
	if err := s.repo.CreateItem(ctx, item); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			return nil, errs.Newf(errs.KindConflict, "item %q already exists", name)
		}
		return nil, errs.Wrap(errs.KindInternal, "failed to create item", err)
	}

	s.log.Info("shop item created", "itemID", item.ID, "name", item.Name)
	return item, nil
}

func (s *shopService) UpdateItem(ctx context.Context, itemID uint, patch ShopItemPatch) (*models.ShopItem, error) {
	fields := make(map[string]any)
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, errs.New(errs.KindInvalidInput, "name must not be empty")
		}
		fields["name"] = name
	}
	if patch.Description != nil {
		fields["description"] = *patch.Description
	}
	if patch.Cost != nil {
		if patch.Cost.IsNegative() {
			return nil, errs.New(errs.KindInvalidInput, "cost must not be negative")
		}
		fields["cost"] = *patch.Cost
	}
	if patch.ScoreValue != nil {
		fields["score_value"] = *patch.ScoreValue
	}
	if patch.Emoji != nil {
		fields["emoji"] = *patch.Emoji
	}
	if patch.Available != nil {
		fields["available"] = *patch.Available
	}

	var item *models.ShopItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txShop := repository.NewShopRepository(tx)
		if len(fields) > 0 {
			if err := txShop.UpdateItem(ctx, itemID, fields); err != nil {
				return itemFailure(err, "failed to update item")
			}
		}

		var err error
		item, err = txShop.GetItem(ctx, itemID)
		if err != nil {
			return itemFailure(err, "failed to load item")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("shop item updated", "itemID", itemID)
	return item, nil
}

// DeleteItem removes an item nobody has bought yet. Purchased items can
// only be withdrawn by marking them unavailable.
func (s *shopService) DeleteItem(ctx context.Context, itemID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txShop := repository.NewShopRepository(tx)

		bought, err := txShop.CountItemPurchases(ctx, itemID)
		if err != nil {
			return errs.Wrap(errs.KindInternal, "failed to check purchases", err)
		}
		if bought > 0 {
			return errs.New(errs.KindConflict, "item has purchases; mark it unavailable instead")
		}

		if err := txShop.DeleteItem(ctx, itemID); err != nil {
			return itemFailure(err, "failed to delete item")
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("shop item deleted", "itemID", itemID)
	return nil
}

func itemFailure(err error, msg string) error {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return errs.New(errs.KindResourceNotFound, "item not found")
	case errors.Is(err, errs.ErrAlreadyExists):
		return errs.New(errs.KindConflict, "item name already taken")
	default:
		return errs.Wrap(errs.KindInternal, msg, err)
	}
}

// SeedCatalog upserts every item of the YAML catalogue at path by name and
// returns how many were written.
func (s *shopService) SeedCatalog(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open catalogue: %w", err)
	}
	defer f.Close()

	items, err := parseCatalog(f)
	if err != nil {
		return 0, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txShop := repository.NewShopRepository(tx)
		for i := range items {
			if err := txShop.UpsertItemByName(ctx, &items[i]); err != nil {
				return fmt.Errorf("upsert %q: %w", items[i].Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Info("shop catalogue seeded", "path", path, "items", len(items))
	return len(items), nil
}

func parseCatalog(r io.Reader) ([]models.ShopItem, error) {
	var file catalogFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode catalogue: %w", err)
	}

	items := make([]models.ShopItem, 0, len(file.Items))
	for i, raw := range file.Items {
		name := strings.TrimSpace(raw.Name)
		if name == "" {
			return nil, fmt.Errorf("catalogue item %d has no name", i)
		}
		cost, err := decimal.NewFromString(raw.Cost)
		if err != nil {
			return nil, fmt.Errorf("catalogue item %q: invalid cost %q: %w", name, raw.Cost, err)
		}
		if cost.IsNegative() {
			return nil, fmt.Errorf("catalogue item %q: cost must not be negative", name)
		}

		available := true
		if raw.Available != nil {
			available = *raw.Available
		}

		items = append(items, models.ShopItem{
			Name:        name,
			Description: raw.Description,
			Cost:        cost,
			ScoreValue:  raw.Score,
			Emoji:       raw.Emoji,
			Available:   available,
		})
	}
	return items, nil
}
