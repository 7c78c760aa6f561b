// Package sqlite — журнал подтверждений и память тредов в одном файле SQLite
// для установки на одном узле без PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/xela07ax/guildops-agent/internal/domain"
)

// Store реализует ledger.Store; Threads() отдает memory.Store поверх той же базы.
type Store struct {
	db       *sql.DB
	appendMu sync.Mutex // read-modify-write памяти треда без SQLITE_BUSY
}

// Open создает (при необходимости) файл базы и схему.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlite: create database directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS confirmation_records (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		guild_id TEXT NOT NULL,
		target_id TEXT,
		payload TEXT NOT NULL,
		confirmation_required INTEGER NOT NULL DEFAULT 0,
		confirmation_status TEXT NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_guild ON confirmation_records(guild_id, created_at);

	CREATE TABLE IF NOT EXISTS thread_memory (
		thread_id TEXT PRIMARY KEY,
		guild_id TEXT NOT NULL,
		owner_user_id TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func (s *Store) Close() error {
	return s.db.Close()
}

const recordColumns = `id, action, actor_id, guild_id, target_id, payload, confirmation_required,
	confirmation_status, status, error_message, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*domain.ConfirmationRecord, error) {
	var (
		rec                  domain.ConfirmationRecord
		targetID, errMsg     sql.NullString
		payload              string
		createdAt, updatedAt int64
	)
	err := row.Scan(&rec.ID, &rec.Action, &rec.ActorID, &rec.GuildID, &targetID, &payload,
		&rec.ConfirmationRequired, &rec.ConfirmationStatus, &rec.Status, &errMsg, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if targetID.Valid {
		rec.TargetID = &targetID.String
	}
	if errMsg.Valid {
		rec.ErrorMessage = &errMsg.String
	}
	rec.CreatedAt = time.Unix(0, createdAt)
	rec.UpdatedAt = time.Unix(0, updatedAt)
	return &rec, nil
}

func (s *Store) Create(ctx context.Context, rec *domain.ConfirmationRecord) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("sqlite: encode payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO confirmation_records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Action, rec.ActorID, rec.GuildID, nullString(rec.TargetID), string(payload),
		rec.ConfirmationRequired, string(rec.ConfirmationStatus), string(rec.Status), nullString(rec.ErrorMessage),
		rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create confirmation record: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.ConfirmationRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM confirmation_records WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get confirmation record: %w", err)
	}
	return rec, nil
}

// Transition условный UPDATE: применяется, только если запись все еще в состоянии From*.
func (s *Store) Transition(ctx context.Context, id string, t domain.Transition) (*domain.ConfirmationRecord, error) {
	var result any
	if t.Result != nil {
		raw, err := json.Marshal(t.Result)
		if err != nil {
			return nil, fmt.Errorf("sqlite: encode result: %w", err)
		}
		result = string(raw)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE confirmation_records
		SET confirmation_status = ?, status = ?, error_message = ?,
		    payload = CASE WHEN ? IS NULL THEN payload ELSE json_set(payload, '$.result', json(?)) END,
		    updated_at = ?
		WHERE id = ? AND confirmation_status = ? AND status = ?`,
		string(t.Confirmation), string(t.Status), nullString(t.ErrorMessage), result, result, time.Now().UnixNano(),
		id, string(t.FromConfirmation), string(t.FromStatus),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: transition confirmation record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: transition confirmation record: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, domain.ErrAlreadyResolved
	}
	return s.Get(ctx, id)
}

func (s *Store) List(ctx context.Context, f domain.ConfirmationFilter) ([]*domain.ConfirmationRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM confirmation_records WHERE 1 = 1`
	var args []any
	if f.GuildID != "" {
		query += ` AND guild_id = ?`
		args = append(args, f.GuildID)
	}
	if f.ConfirmationStatus != "" {
		query += ` AND confirmation_status = ?`
		args = append(args, string(f.ConfirmationStatus))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list confirmation records: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.ConfirmationRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan confirmation record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM confirmation_records WHERE created_at < ?`, olderThan.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge confirmation records: %w", err)
	}
	return res.RowsAffected()
}

// Память тредов (memory.Store)

func (s *Store) getThread(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, threadID string) (domain.ThreadMemory, bool, error) {
	var (
		m         domain.ThreadMemory
		updatedAt int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT thread_id, guild_id, owner_user_id, summary, updated_at FROM thread_memory WHERE thread_id = ?`, threadID,
	).Scan(&m.ThreadID, &m.GuildID, &m.OwnerUserID, &m.Summary, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ThreadMemory{}, false, nil
	}
	if err != nil {
		return domain.ThreadMemory{}, false, err
	}
	m.UpdatedAt = time.Unix(0, updatedAt)
	return m, true, nil
}

func (s *Store) GetThread(ctx context.Context, threadID string) (domain.ThreadMemory, bool, error) {
	m, ok, err := s.getThread(ctx, s.db, threadID)
	if err != nil {
		return m, false, fmt.Errorf("sqlite: get thread memory: %w", err)
	}
	return m, ok, nil
}

func (s *Store) AppendThread(ctx context.Context, threadID, guildID, ownerUserID, line string) (domain.ThreadMemory, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ThreadMemory{}, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	m, found, err := s.getThread(ctx, tx, threadID)
	if err != nil {
		return domain.ThreadMemory{}, fmt.Errorf("sqlite: append thread memory: %w", err)
	}
	if !found {
		m = domain.ThreadMemory{ThreadID: threadID, GuildID: guildID, OwnerUserID: ownerUserID}
	}
	m.Summary = domain.AppendSummary(m.Summary, line)
	m.UpdatedAt = time.Now()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO thread_memory (thread_id, guild_id, owner_user_id, summary, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET summary = excluded.summary, updated_at = excluded.updated_at`,
		m.ThreadID, m.GuildID, m.OwnerUserID, m.Summary, m.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return domain.ThreadMemory{}, fmt.Errorf("sqlite: append thread memory: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.ThreadMemory{}, fmt.Errorf("sqlite: commit: %w", err)
	}
	return m, nil
}

// Threads память тредов как memory.Store: метод Get у Store занят журналом.
type Threads struct{ s *Store }

func (s *Store) Threads() Threads { return Threads{s: s} }

func (t Threads) Get(ctx context.Context, threadID string) (domain.ThreadMemory, bool, error) {
	return t.s.GetThread(ctx, threadID)
}

func (t Threads) Append(ctx context.Context, threadID, guildID, ownerUserID, line string) (domain.ThreadMemory, error) {
	return t.s.AppendThread(ctx, threadID, guildID, ownerUserID, line)
}
