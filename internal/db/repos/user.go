package repos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/wasmforge/wasmforge/internal/db/models"
)

// ErrUserNotFound is returned when no user matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// UserRepository handles database operations for users
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new instance of UserRepository
func NewUserRepository(gdb *gorm.DB) *UserRepository {
	return &UserRepository{db: gdb}
}

// Create creates a new user in the database
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrUserNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByToken retrieves a user by API token
func (r *UserRepository) GetByToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrUserNotFound
	}
	var user models.User
	err := r.db.WithContext(ctx).Where("api_token = ?", token).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Update persists changes to an existing user.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Save(user).Error
}

// ResetCounters zeroes the periodic counters and restarts the window.
func (r *UserRepository) ResetCounters(ctx context.Context, id uint, now time.Time) error {
	return r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"deploy_count":           0,
			"deploy_reset_at":        now,
			"function_test_count":    0,
			"function_test_reset_at": now,
		}).Error
}

// IncrementDeployCount bumps the deploy counter after a successful deploy.
func (r *UserRepository) IncrementDeployCount(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		UpdateColumn("deploy_count", gorm.Expr("deploy_count + 1")).Error
}

// IncrementFunctionTestCount bumps the function test counter.
func (r *UserRepository) IncrementFunctionTestCount(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		UpdateColumn("function_test_count", gorm.Expr("function_test_count + 1")).Error
}
