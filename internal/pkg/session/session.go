package session

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/PayFox/internal/pkg/config"
)

// Redis databases shared with the cache client (which uses DB 0).
const (
	SessionDB    = 1
	OAuthStateDB = 2
)

var sessionStore *session.Store

// NewRedisStorage returns fiber storage on the cache server in the given database.
func NewRedisStorage(cfg config.CacheConfig, database int) *redis.Storage {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		port = 6379
	}
	return redis.New(redis.Config{
		Host:     cfg.Host,
		Port:     port,
		Password: cfg.Password,
		Database: database,
		Reset:    false,
	})
}

func NewSessionStore(cfg config.CacheConfig, secure bool) *session.Store {
	sessionStore = session.New(session.Config{
		Storage:        NewRedisStorage(cfg, SessionDB),
		CookieHTTPOnly: true,
		CookieSecure:   secure,
		CookieSameSite: "Lax",
		Expiration:     24 * time.Hour,
		KeyLookup:      "cookie:session_id",
	})
	return sessionStore
}

// SetStore replaces the package store, mainly for tests using in-memory storage.
func SetStore(store *session.Store) {
	sessionStore = store
}

func GetSessionStore() *session.Store {
	return sessionStore
}

// SetSessionValues stores several keys in the user's session with one save.
func SetSessionValues(c *fiber.Ctx, values map[string]string) error {
	if sessionStore == nil {
		return fmt.Errorf("session store not initialized")
	}

	sess, err := sessionStore.Get(c)
	if err != nil {
		return fmt.Errorf("failed to get session: %v", err)
	}

	for k, v := range values {
		sess.Set(k, v)
	}
	return sess.Save()
}

// GetSessionValue retrieves a string value by key from the user's session
func GetSessionValue(c *fiber.Ctx, key string) string {
	if sessionStore == nil {
		return ""
	}

	sess, err := sessionStore.Get(c)
	if err != nil {
		return ""
	}

	if s, ok := sess.Get(key).(string); ok {
		return s
	}
	return ""
}

// Destroy removes the user's session, used on logout.
func Destroy(c *fiber.Ctx) error {
	if sessionStore == nil {
		return nil
	}
	sess, err := sessionStore.Get(c)
	if err != nil {
		return err
	}
	return sess.Destroy()
}
