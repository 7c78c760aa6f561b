package postgres

/*
Файл settings_repo.go хранит настройки гильдий и операторские флаги (пауза, dry-run).
Ядро читает их из кэша в памяти; сюда ходят только загрузка кэша и консоль.
*/

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xela07ax/guildops-agent/internal/domain"
)

type SettingsRepo struct {
	db *DB
}

func NewSettingsRepo(db *DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

// flagColumn колонка флага; неизвестный флаг не попадает в SQL.
func flagColumn(flag string) (string, error) {
	switch flag {
	case domain.FlagPaused:
		return "paused", nil
	case domain.FlagDryRun:
		return "dry_run", nil
	}
	return "", fmt.Errorf("postgres: unknown guild flag %q", flag)
}

const settingsColumns = `guild_id, language, rate_limit_per_min, log_channel_id, manager_role_id`

func scanSettings(row pgx.Row) (domain.GuildSettings, error) {
	var s domain.GuildSettings
	err := row.Scan(&s.GuildID, &s.Language, &s.RateLimitPerMin, &s.LogChannelID, &s.ManagerRoleID)
	return s, err
}

// AllSettings холодная загрузка кэша настроек.
func (r *SettingsRepo) AllSettings(ctx context.Context) ([]domain.GuildSettings, error) {
	rows, err := r.db.pool.Query(ctx, `SELECT `+settingsColumns+` FROM guild_settings`)
	if err != nil {
		return nil, fmt.Errorf("postgres: query settings: %w", err)
	}
	defer rows.Close()

	out := make([]domain.GuildSettings, 0)
	for rows.Next() {
		s, err := scanSettings(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settings: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SettingsRepo) GetSettings(ctx context.Context, guildID string) (domain.GuildSettings, bool, error) {
	s, err := scanSettings(r.db.pool.QueryRow(ctx, `SELECT `+settingsColumns+` FROM guild_settings WHERE guild_id = $1`, guildID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GuildSettings{}, false, nil
	}
	if err != nil {
		return domain.GuildSettings{}, false, fmt.Errorf("postgres: get settings: %w", err)
	}
	return s, true, nil
}

// FlaggedGuilds гильдии с включенным флагом (инициализация L1 кэша флагов при старте).
func (r *SettingsRepo) FlaggedGuilds(ctx context.Context, flag string) ([]string, error) {
	col, err := flagColumn(flag)
	if err != nil {
		return nil, err
	}
	// Выбираем только ID, чтобы минимизировать трафик между БД и приложением
	rows, err := r.db.pool.Query(ctx, `SELECT guild_id FROM guild_settings WHERE `+col+` = TRUE`)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch flagged guilds: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan guild id error: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return ids, nil
}

// SetFlag включает/выключает флаг; строка настроек создается при первом изменении.
func (r *SettingsRepo) SetFlag(ctx context.Context, guildID, flag string, on bool) error {
	col, err := flagColumn(flag)
	if err != nil {
		return err
	}
	query := `INSERT INTO guild_settings (guild_id, ` + col + `) VALUES ($1, $2)
	          ON CONFLICT (guild_id) DO UPDATE SET ` + col + ` = EXCLUDED.` + col + `, updated_at = NOW()`
	if _, err := r.db.pool.Exec(ctx, query, guildID, on); err != nil {
		return fmt.Errorf("postgres: set %s flag: %w", flag, err)
	}
	return nil
}
