package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xela07ax/guildops-agent/internal/domain"
)

// UserRepo — операторы консоли.
type UserRepo struct {
	db *DB
}

func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetUserByUsername возвращает nil, nil, если пользователя нет.
func (r *UserRepo) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT id, username, password_hash, scopes, created_at FROM users WHERE username = $1`

	u := &domain.User{}
	err := r.db.pool.QueryRow(ctx, query, username).Scan(
		&u.ID, &u.Username, &u.PasswordHash, &u.Scopes, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get user: %w", err)
	}
	return u, nil
}

// CreateUser заводит оператора (ledgerctl user add).
func (r *UserRepo) CreateUser(ctx context.Context, u *domain.User) error {
	_, err := r.db.pool.Exec(ctx,
		`INSERT INTO users (id, username, password_hash, scopes) VALUES ($1, $2, $3, $4)`,
		u.ID, u.Username, u.PasswordHash, u.Scopes,
	)
	if err != nil {
		return fmt.Errorf("postgres: create user: %w", err)
	}
	return nil
}
