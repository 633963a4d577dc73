package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/app/models"
)

// UserRepository defines the user and OAuth identity operations
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error

	GetProviderAccount(ctx context.Context, provider, providerUserID string) (*models.ProviderAccount, error)
	SaveProviderAccount(ctx context.Context, account *models.ProviderAccount) error
}

// Repositories holds all repository instances
type Repositories struct {
	User UserRepository
}

// NewRepositories creates all repository instances
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User: NewUserRepository(db),
	}
}
