package postgres

/*
Файл confirmation_repo.go хранит журнал подтверждений.
Переходы состояния выполняются одним условным UPDATE ... WHERE ... RETURNING:
два одновременных нажатия Accept не могут оба забрать одну запись.
*/

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xela07ax/guildops-agent/internal/domain"
)

const recordColumns = `id, action, actor_id, guild_id, target_id, payload, confirmation_required,
	confirmation_status, status, error_message, created_at, updated_at`

type ConfirmationRepo struct {
	db *DB
}

func NewConfirmationRepo(db *DB) *ConfirmationRepo {
	return &ConfirmationRepo{db: db}
}

func scanRecord(row pgx.Row) (*domain.ConfirmationRecord, error) {
	rec := &domain.ConfirmationRecord{}
	err := row.Scan(
		&rec.ID, &rec.Action, &rec.ActorID, &rec.GuildID, &rec.TargetID, &rec.Payload,
		&rec.ConfirmationRequired, &rec.ConfirmationStatus, &rec.Status, &rec.ErrorMessage,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *ConfirmationRepo) Create(ctx context.Context, rec *domain.ConfirmationRecord) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	query := `INSERT INTO confirmation_records (` + recordColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.db.pool.Exec(ctx, query,
		rec.ID, rec.Action, rec.ActorID, rec.GuildID, rec.TargetID, rec.Payload,
		rec.ConfirmationRequired, rec.ConfirmationStatus, rec.Status, rec.ErrorMessage,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create confirmation record: %w", err)
	}
	return nil
}

func (r *ConfirmationRepo) Get(ctx context.Context, id string) (*domain.ConfirmationRecord, error) {
	rec, err := scanRecord(r.db.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM confirmation_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get confirmation record: %w", err)
	}
	return rec, nil
}

// Transition атомарно переводит запись, только если она все еще в состоянии From*.
func (r *ConfirmationRepo) Transition(ctx context.Context, id string, t domain.Transition) (*domain.ConfirmationRecord, error) {
	// Результат пишется в payload только если он есть: jsonb_set не трогает остальной запрос
	query := `
		UPDATE confirmation_records
		SET confirmation_status = $1,
		    status = $2,
		    error_message = $3,
		    payload = CASE WHEN $4::jsonb IS NULL THEN payload ELSE jsonb_set(payload, '{result}', $4::jsonb) END,
		    updated_at = NOW()
		WHERE id = $5 AND confirmation_status = $6 AND status = $7
		RETURNING ` + recordColumns

	var result any
	if t.Result != nil {
		result = t.Result
	}
	rec, err := scanRecord(r.db.pool.QueryRow(ctx, query,
		t.Confirmation, t.Status, t.ErrorMessage, result, id, t.FromConfirmation, t.FromStatus,
	))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: transition confirmation record: %w", err)
	}

	// Строк не найдено: либо ID неверный, либо решение уже принято ранее
	var exists bool
	if err := r.db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM confirmation_records WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("postgres: transition confirmation record: %w", err)
	}
	if !exists {
		return nil, domain.ErrRecordNotFound
	}
	return nil, domain.ErrAlreadyResolved
}

func (r *ConfirmationRepo) List(ctx context.Context, f domain.ConfirmationFilter) ([]*domain.ConfirmationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM confirmation_records WHERE TRUE`
	var args []any
	if f.GuildID != "" {
		args = append(args, f.GuildID)
		query += fmt.Sprintf(" AND guild_id = $%d", len(args))
	}
	if f.ConfirmationStatus != "" {
		args = append(args, f.ConfirmationStatus)
		query += fmt.Sprintf(" AND confirmation_status = $%d", len(args))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list confirmation records: %w", err)
	}
	defer rows.Close()

	// Пустой слайс, чтобы в JSON был [] вместо null
	out := make([]*domain.ConfirmationRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan confirmation record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return out, nil
}

func (r *ConfirmationRepo) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.db.pool.Exec(ctx, `DELETE FROM confirmation_records WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("postgres: purge confirmation records: %w", err)
	}
	return tag.RowsAffected(), nil
}
