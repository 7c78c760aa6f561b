package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Скоупы токенов.
const (
	ScopeTurns         = "turns:write"         // транспорт чата: запуск хода
	ScopeConfirmations = "confirmations:write" // транспорт чата: кнопки Accept / Reject
	ScopeConsoleRead   = "console:read"
	ScopeGuildAdmin    = "guilds:admin" // пауза и dry-run гильдий
)

type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"`
	jwt.RegisteredClaims
}

// HasScope проверяет скоуп; "admin" покрывает любой.
func (c *CustomClaims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	return c.Scopes[scope] || c.Scopes["admin"]
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}

// User оператор консоли.
type User struct {
	ID           string          `json:"id"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"` // Никогда не отправляем наружу
	Scopes       map[string]bool `json:"scopes"`
	CreatedAt    time.Time       `json:"created_at"`
}
