package controllers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/markbates/goth"
	gothfiber "github.com/shareed2k/goth_fiber"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/session"
	"github.com/ManuelReschke/PayFox/internal/pkg/usercontext"
)

type AuthController struct {
	users repository.UserRepository
}

func NewAuthController(users repository.UserRepository) *AuthController {
	return &AuthController{users: users}
}

// HandleOAuthCallback completes the provider flow and logs the user in
func (ac *AuthController) HandleOAuthCallback(c *fiber.Ctx) error {
	u, err := gothfiber.CompleteUserAuth(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "oauth_failed", "message": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	appUser, err := ac.linkOAuthUser(ctx, u)
	if err != nil {
		log.Errorf("[OAuth] Linking %s user %s failed: %v", u.Provider, u.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "login_failed"})
	}
	if !appUser.IsActive() {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "User inactive"})
	}

	if err := session.SetSessionValues(c, map[string]string{
		usercontext.KeyUserID:   appUser.ID,
		usercontext.KeyUsername: appUser.Name,
		usercontext.KeyEmail:    appUser.Email,
	}); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "session_save_failed"})
	}

	if err := ac.users.TouchLastLogin(ctx, appUser.ID, time.Now().UTC()); err != nil {
		log.Warnf("[OAuth] Updating last login of %s failed: %v", appUser.ID, err)
	}

	log.Infof("[OAuth] User %s logged in via %s", appUser.ID, u.Provider)
	return c.Redirect("/", fiber.StatusSeeOther)
}

// HandleLogout ends the app session.
func (ac *AuthController) HandleLogout(c *fiber.Ctx) error {
	if err := session.Destroy(c); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "logout_failed"})
	}
	return c.JSON(fiber.Map{"logged_out": true})
}

// linkOAuthUser finds the user behind a provider identity, creating the user
// and the provider link on first login. An existing user with the same email
// gets the new provider linked.
func (ac *AuthController) linkOAuthUser(ctx context.Context, u goth.User) (*models.User, error) {
	pa, err := ac.users.GetProviderAccount(ctx, u.Provider, u.UserID)
	if err == nil {
		appUser, err := ac.users.GetByID(ctx, pa.UserID)
		if err != nil {
			return nil, fmt.Errorf("linked user %s: %w", pa.UserID, err)
		}
		pa.ExpiresAt = tokenExpiry(u)
		if err := ac.users.SaveProviderAccount(ctx, pa); err != nil {
			return nil, err
		}
		return appUser, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	email := oauthEmail(u)
	appUser, err := ac.users.GetByEmail(ctx, email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		appUser = &models.User{
			Name:      firstNonEmpty(u.Name, u.NickName, u.Email, "User"),
			Email:     email,
			AvatarURL: u.AvatarURL,
			Status:    models.STATUS_ACTIVE,
		}
		if err := ac.users.Create(ctx, appUser); err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
	} else if err != nil {
		return nil, err
	}

	if err := ac.users.SaveProviderAccount(ctx, &models.ProviderAccount{
		UserID:         appUser.ID,
		Provider:       u.Provider,
		ProviderUserID: u.UserID,
		ExpiresAt:      tokenExpiry(u),
	}); err != nil {
		return nil, fmt.Errorf("link provider: %w", err)
	}
	return appUser, nil
}

// oauthEmail returns the provider email or a unique placeholder, since
// users.email is unique and required.
func oauthEmail(u goth.User) string {
	if e := strings.TrimSpace(u.Email); e != "" {
		return strings.ToLower(e)
	}
	return fmt.Sprintf("%s_%s@%s.oauth.local", u.Provider, u.UserID, u.Provider)
}

func tokenExpiry(u goth.User) *time.Time {
	if u.ExpiresAt.IsZero() {
		return nil
	}
	t := u.ExpiresAt.UTC()
	return &t
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
