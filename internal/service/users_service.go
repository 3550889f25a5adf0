package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Tonic56/stock-trading-simulator/internal/models"
	"github.com/Tonic56/stock-trading-simulator/internal/repository"
	"github.com/Tonic56/stock-trading-simulator/lib/errs"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const minPasswordLength = 6

type RegisterRequest struct {
	Username string
	Email    string
	Password string
}

type AuthConfig struct {
	Secret          string
	AccessTokenTTL  time.Duration
	StartingBalance decimal.Decimal
	AdminUsernames  []string
}

type UsersService interface {
	Register(ctx context.Context, req RegisterRequest) (*models.User, error)
	Login(ctx context.Context, identifier, password string) (string, *models.User, error)
	GetProfile(ctx context.Context, userID uuid.UUID) (*models.User, error)
	UpdateDetails(ctx context.Context, userID uuid.UUID, details UserDetails) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	AdminUpdateUser(ctx context.Context, userID uuid.UUID, update AdminUserUpdate) (*models.User, error)
	DeleteUser(ctx context.Context, userID uuid.UUID) error
}

// UserDetails carries optional profile fields. Nil fields are left as they
// are; an empty DateOfBirth clears it.
type UserDetails struct {
	FirstName   *string
	LastName    *string
	PhoneNumber *string
	DateOfBirth *string
	Address     *string
}

// AdminUserUpdate carries the account fields an administrator may
// overwrite. Nil fields are left as they are.
type AdminUserUpdate struct {
	Username       *string
	Email          *string
	Balance        *decimal.Decimal
	CommunityScore *int64
}

const dateOfBirthLayout = "2006-01-02"

type usersService struct {
	db   *gorm.DB
	repo repository.UsersRepository
	cfg  AuthConfig
	log  *slog.Logger
	now  func() time.Time
}

func NewUsersService(db *gorm.DB, cfg AuthConfig, log *slog.Logger) UsersService {
	return &usersService{
		db:   db,
		repo: repository.NewUsersRepository(db),
		cfg:  cfg,
		log:  log,
		now:  time.Now,
	}
}

func (s *usersService) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if username == "" || email == "" || req.Password == "" {
		return nil, errs.New(errs.KindInvalidInput, "username, email and password are required")
	}
	if !strings.Contains(email, "@") {
		return nil, errs.New(errs.KindInvalidInput, "email is not valid")
	}
	if len(req.Password) < minPasswordLength {
		return nil, errs.Newf(errs.KindInvalidInput, "password must be at least %d characters", minPasswordLength)
	}

	if _, err := s.repo.GetUserByUsername(ctx, username); err == nil {
		return nil, errs.New(errs.KindConflict, "username already taken")
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, errs.Wrap(errs.KindInternal, "failed to check username", err)
	}
	if _, err := s.repo.GetUserByEmail(ctx, email); err == nil {
		return nil, errs.New(errs.KindConflict, "email already registered")
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, errs.Wrap(errs.KindInternal, "failed to check email", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to hash password", err)
	}

	role := models.RoleUser
	if slices.Contains(s.cfg.AdminUsernames, username) {
		role = models.RoleAdmin
	}

	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hashed),
		Role:         role,
		Balance:      s.cfg.StartingBalance,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			return nil, errs.New(errs.KindConflict, "username or email already registered")
		}
		return nil, errs.Wrap(errs.KindInternal, "failed to create user", err)
	}

	s.log.Info("user registered", "userID", user.ID, "username", user.Username, "role", user.Role)
	return user, nil
}

// Login verifies the credentials and issues a signed access token. The
// identifier is matched against the email when it contains an @ and the
// username otherwise.
func (s *usersService) Login(ctx context.Context, identifier, password string) (string, *models.User, error) {
	identifier = strings.TrimSpace(identifier)

	var user *models.User
	var err error
	if strings.Contains(identifier, "@") {
		user, err = s.repo.GetUserByEmail(ctx, strings.ToLower(identifier))
	} else {
		user, err = s.repo.GetUserByUsername(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return "", nil, errs.New(errs.KindUnauthenticated, "invalid username or password")
		}
		return "", nil, errs.Wrap(errs.KindInternal, "failed to load user", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, errs.New(errs.KindUnauthenticated, "invalid username or password")
	}

	token, err := s.issueToken(user)
	if err != nil {
		return "", nil, errs.Wrap(errs.KindInternal, "failed to issue token", err)
	}
	return token, user, nil
}

func (s *usersService) issueToken(user *models.User) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sub":  user.ID.String(),
		"name": user.Username,
		"role": user.Role,
		"exp":  now.Add(s.cfg.AccessTokenTTL).Unix(),
		"iat":  now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

func (s *usersService) GetProfile(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, userLookupFailure(err)
	}
	return user, nil
}

func (s *usersService) UpdateDetails(ctx context.Context, userID uuid.UUID, details UserDetails) (*models.User, error) {
	fields := make(map[string]any)
	for column, value := range map[string]*string{
		"first_name":   details.FirstName,
		"last_name":    details.LastName,
		"phone_number": details.PhoneNumber,
		"address":      details.Address,
	} {
		if value != nil {
			fields[column] = strings.TrimSpace(*value)
		}
	}
	if details.DateOfBirth != nil {
		raw := strings.TrimSpace(*details.DateOfBirth)
		if raw == "" {
			fields["date_of_birth"] = nil
		} else {
			born, err := time.Parse(dateOfBirthLayout, raw)
			if err != nil {
				return nil, errs.New(errs.KindInvalidInput, "date_of_birth must be YYYY-MM-DD")
			}
			if born.After(s.now()) {
				return nil, errs.New(errs.KindInvalidInput, "date_of_birth is in the future")
			}
			fields["date_of_birth"] = born
		}
	}

	return s.update(ctx, userID, func() (map[string]any, error) { return fields, nil })
}

// AdminUpdateUser overwrites account fields under a lock on the user row.
func (s *usersService) AdminUpdateUser(ctx context.Context, userID uuid.UUID, update AdminUserUpdate) (*models.User, error) {
	user, err := s.update(ctx, userID, func() (map[string]any, error) {
		fields := make(map[string]any)
		if update.Username != nil {
			username := strings.TrimSpace(*update.Username)
			if username == "" {
				return nil, errs.New(errs.KindInvalidInput, "username must not be empty")
			}
			fields["username"] = username
		}
		if update.Email != nil {
			email := strings.ToLower(strings.TrimSpace(*update.Email))
			if !strings.Contains(email, "@") {
				return nil, errs.New(errs.KindInvalidInput, "email is not valid")
			}
			fields["email"] = email
		}
		if update.Balance != nil {
			if update.Balance.IsNegative() {
				return nil, errs.New(errs.KindInvalidInput, "balance must not be negative")
			}
			fields["balance"] = *update.Balance
		}
		if update.CommunityScore != nil {
			if *update.CommunityScore < 0 {
				return nil, errs.New(errs.KindInvalidInput, "community_score must not be negative")
			}
			fields["community_score"] = *update.CommunityScore
		}
		return fields, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("user updated by admin", "userID", userID)
	return user, nil
}

// update locks the user row, writes the columns build returns and reloads
// the row.
func (s *usersService) update(ctx context.Context, userID uuid.UUID, build func() (map[string]any, error)) (*models.User, error) {
	var updated *models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txUsers := repository.NewUsersRepository(tx)

		if _, err := txUsers.GetUserForUpdate(ctx, userID); err != nil {
			return userLookupFailure(err)
		}

		fields, err := build()
		if err != nil {
			return err
		}
		if err := txUsers.UpdateUser(ctx, userID, fields); err != nil {
			if errors.Is(err, errs.ErrAlreadyExists) {
				return errs.New(errs.KindConflict, "username or email already registered")
			}
			return errs.Wrap(errs.KindInternal, "failed to update user", err)
		}

		updated, err = txUsers.GetUserByID(ctx, userID)
		if err != nil {
			return errs.Wrap(errs.KindInternal, "failed to reload user", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *usersService) ListUsers(ctx context.Context) ([]models.User, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to list users", err)
	}
	return users, nil
}

// DeleteUser removes the user together with positions, ledger entries and
// shop purchases in one transaction.
func (s *usersService) DeleteUser(ctx context.Context, userID uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, child := range []any{&models.Position{}, &models.Transaction{}, &models.ShopPurchase{}} {
			if err := tx.Where("user_id = ?", userID).Delete(child).Error; err != nil {
				return fmt.Errorf("%w: %s", errs.ErrDB, err.Error())
			}
		}
		return repository.NewUsersRepository(tx).DeleteUserByID(ctx, userID)
	})
	if err != nil {
		return userLookupFailure(err)
	}

	s.log.Info("user deleted", "userID", userID)
	return nil
}
