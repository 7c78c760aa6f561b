package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xela07ax/guildops-agent/internal/domain"
)

// ThreadRepo память тредов (memory.Store).
type ThreadRepo struct {
	db *DB
}

func NewThreadRepo(db *DB) *ThreadRepo {
	return &ThreadRepo{db: db}
}

func (r *ThreadRepo) Get(ctx context.Context, threadID string) (domain.ThreadMemory, bool, error) {
	var m domain.ThreadMemory
	err := r.db.pool.QueryRow(ctx,
		`SELECT thread_id, guild_id, owner_user_id, summary, updated_at FROM thread_memory WHERE thread_id = $1`,
		threadID,
	).Scan(&m.ThreadID, &m.GuildID, &m.OwnerUserID, &m.Summary, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ThreadMemory{}, false, nil
	}
	if err != nil {
		return domain.ThreadMemory{}, false, fmt.Errorf("postgres: get thread memory: %w", err)
	}
	return m, true, nil
}

// Append делает read-modify-write под блокировкой строки: параллельные ходы одного треда
// не теряют строки друг друга.
func (r *ThreadRepo) Append(ctx context.Context, threadID, guildID, ownerUserID, line string) (domain.ThreadMemory, error) {
	var out domain.ThreadMemory
	err := pgx.BeginFunc(ctx, r.db.pool, func(tx pgx.Tx) error {
		// Строка должна существовать до FOR UPDATE, иначе блокировать нечего
		if _, err := tx.Exec(ctx,
			`INSERT INTO thread_memory (thread_id, guild_id, owner_user_id) VALUES ($1, $2, $3)
			 ON CONFLICT (thread_id) DO NOTHING`,
			threadID, guildID, ownerUserID,
		); err != nil {
			return err
		}

		var current string
		if err := tx.QueryRow(ctx,
			`SELECT summary FROM thread_memory WHERE thread_id = $1 FOR UPDATE`, threadID,
		).Scan(&current); err != nil {
			return err
		}

		return tx.QueryRow(ctx,
			`UPDATE thread_memory SET summary = $1, updated_at = NOW() WHERE thread_id = $2
			 RETURNING thread_id, guild_id, owner_user_id, summary, updated_at`,
			domain.AppendSummary(current, line), threadID,
		).Scan(&out.ThreadID, &out.GuildID, &out.OwnerUserID, &out.Summary, &out.UpdatedAt)
	})
	if err != nil {
		return domain.ThreadMemory{}, fmt.Errorf("postgres: append thread memory: %w", err)
	}
	return out, nil
}
