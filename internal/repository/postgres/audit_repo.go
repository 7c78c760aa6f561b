package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres для database/sql

	"github.com/xela07ax/guildops-agent/internal/audit"
)

// AuditRepo пишет события аудита пачками (audit.StorageInterface).
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(connString string) (*AuditRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open audit db: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &AuditRepo{db: db}, nil
}

// Количество колонок в таблице audit_logs
const auditFields = 12

func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	var placeholders strings.Builder
	vals := make([]any, 0, len(events)*auditFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		if i > 0 {
			placeholders.WriteString(",")
		}
		placeholders.WriteString("(")
		for j := 1; j <= auditFields; j++ {
			if j > 1 {
				placeholders.WriteString(", ")
			}
			fmt.Fprintf(&placeholders, "$%d", i*auditFields+j)
		}
		placeholders.WriteString(")")

		vals = append(vals,
			e.ID, e.TraceID, e.RecordID, e.GuildID, e.ActorID, e.ActorTag,
			e.Action, e.Status, e.Confirmation, e.Message, e.Mode, e.Timestamp,
		)
	}

	query := `INSERT INTO audit_logs (id, trace_id, record_id, guild_id, actor_id, actor_tag,
		action, status, confirmation, message, mode, timestamp) VALUES ` + placeholders.String() +
		` ON CONFLICT (id) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: write audit batch: %w", err)
	}
	return nil
}

func (r *AuditRepo) Find(ctx context.Context, f audit.Filter) ([]audit.AuditEvent, error) {
	query := `SELECT id, trace_id, record_id, guild_id, actor_id, actor_tag, action, status,
		confirmation, message, mode, timestamp FROM audit_logs WHERE TRUE`
	var args []any
	if f.GuildID != "" {
		args = append(args, f.GuildID)
		query += fmt.Sprintf(" AND guild_id = $%d", len(args))
	}
	if f.Action != "" {
		args = append(args, f.Action)
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query audit logs: %w", err)
	}
	defer rows.Close()

	out := make([]audit.AuditEvent, 0)
	for rows.Next() {
		var e audit.AuditEvent
		if err := rows.Scan(&e.ID, &e.TraceID, &e.RecordID, &e.GuildID, &e.ActorID, &e.ActorTag,
			&e.Action, &e.Status, &e.Confirmation, &e.Message, &e.Mode, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan audit log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *AuditRepo) Close() error {
	return r.db.Close()
}
