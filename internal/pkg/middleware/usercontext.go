package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayFox/internal/pkg/session"
	"github.com/ManuelReschke/PayFox/internal/pkg/usercontext"
)

// UserContextMiddleware resolves the logged-in user from the session for
// every request and stores it in Locals.
func UserContextMiddleware(c *fiber.Ctx) error {
	// Goth keeps its own session on /auth/*
	if strings.HasPrefix(c.Path(), "/auth/") {
		return c.Next()
	}

	store := session.GetSessionStore()
	if store == nil {
		return anonymous(c)
	}
	sess, err := store.Get(c)
	if err != nil {
		return anonymous(c)
	}

	userID, _ := sess.Get(usercontext.KeyUserID).(string)
	if userID == "" {
		return anonymous(c)
	}
	username, _ := sess.Get(usercontext.KeyUsername).(string)
	email, _ := sess.Get(usercontext.KeyEmail).(string)

	c.Locals(usercontext.LocalsKey, usercontext.UserContext{
		UserID:     userID,
		Username:   username,
		Email:      email,
		IsLoggedIn: true,
	})
	c.Locals(usercontext.KeyFromProtected, true)
	return c.Next()
}

func anonymous(c *fiber.Ctx) error {
	c.Locals(usercontext.LocalsKey, usercontext.UserContext{})
	c.Locals(usercontext.KeyFromProtected, false)
	return c.Next()
}
