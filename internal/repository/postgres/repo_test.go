package postgres

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/guildops-agent/internal/audit"
	"github.com/xela07ax/guildops-agent/internal/domain"
	"github.com/xela07ax/guildops-agent/internal/infra"
)

// Интеграционные тесты: нужен живой PostgreSQL в GUILDOPS_TEST_DATABASE_URL.
func testDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("GUILDOPS_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("GUILDOPS_TEST_DATABASE_URL is not set")
	}
	ctx := context.Background()
	db, err := NewDB(ctx, infra.DatabaseConfig{URL: url, MaxConns: 8})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))
	t.Cleanup(db.Close)
	return db
}

func pendingRecord(guildID string) *domain.ConfirmationRecord {
	return &domain.ConfirmationRecord{
		ID:      uuid.NewString(),
		Action:  domain.ActionDeleteChannel,
		ActorID: "u1",
		GuildID: guildID,
		Payload: domain.RecordPayload{Request: domain.RequestPayload{
			Action:   domain.ActionDeleteChannel,
			Params:   map[string]any{"channel_id": "100"},
			ThreadID: "t1",
		}},
		ConfirmationRequired: true,
		ConfirmationStatus:   domain.ConfirmationPending,
		Status:               domain.RecordPending,
	}
}

var claim = domain.Transition{
	FromConfirmation: domain.ConfirmationPending,
	FromStatus:       domain.RecordPending,
	Confirmation:     domain.ConfirmationApproved,
	Status:           domain.RecordPending,
}

func TestConfirmationRepo_TransitionIsExclusive(t *testing.T) {
	repo := NewConfirmationRepo(testDB(t))
	ctx := context.Background()
	rec := pendingRecord("g-" + uuid.NewString())
	require.NoError(t, repo.Create(ctx, rec))

	var won atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Transition(ctx, rec.ID, claim); err == nil {
				won.Add(1)
			} else {
				assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), won.Load())

	final, err := repo.Transition(ctx, rec.ID, domain.Transition{
		FromConfirmation: domain.ConfirmationApproved,
		FromStatus:       domain.RecordPending,
		Confirmation:     domain.ConfirmationApproved,
		Status:           domain.RecordSuccess,
		Result:           &domain.ResultPayload{OK: true, Message: "Done"},
	})
	require.NoError(t, err)
	require.NotNil(t, final.Payload.Result)
	assert.Equal(t, "Done", final.Payload.Result.Message)
	assert.Equal(t, domain.ActionDeleteChannel, final.Payload.Request.Action)

	_, err = repo.Transition(ctx, uuid.NewString(), claim)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestConfirmationRepo_ListAndPurge(t *testing.T) {
	repo := NewConfirmationRepo(testDB(t))
	ctx := context.Background()
	guild := "g-" + uuid.NewString()

	old := pendingRecord(guild)
	old.CreatedAt = time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, pendingRecord(guild)))

	list, err := repo.List(ctx, domain.ConfirmationFilter{GuildID: guild, ConfirmationStatus: domain.ConfirmationPending})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	n, err := repo.Purge(ctx, time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))

	_, err = repo.Get(ctx, old.ID)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestThreadRepo_ConcurrentAppendsKeepAllLines(t *testing.T) {
	repo := NewThreadRepo(testDB(t))
	ctx := context.Background()
	thread := "t-" + uuid.NewString()

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Append(ctx, thread, "g1", "u1", string(rune('a'+i)))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	m, found, err := repo.Get(ctx, thread)
	require.NoError(t, err)
	require.True(t, found)
	for _, line := range []string{"a", "b", "c", "d", "e"} {
		assert.Contains(t, m.Summary, line)
	}
}

func TestSettingsRepo_Flags(t *testing.T) {
	repo := NewSettingsRepo(testDB(t))
	ctx := context.Background()
	guild := "g-" + uuid.NewString()

	require.NoError(t, repo.SetFlag(ctx, guild, domain.FlagPaused, true))
	ids, err := repo.FlaggedGuilds(ctx, domain.FlagPaused)
	require.NoError(t, err)
	assert.Contains(t, ids, guild)

	require.NoError(t, repo.SetFlag(ctx, guild, domain.FlagPaused, false))
	ids, err = repo.FlaggedGuilds(ctx, domain.FlagPaused)
	require.NoError(t, err)
	assert.NotContains(t, ids, guild)

	s, found, err := repo.GetSettings(ctx, guild)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, domain.LangEN, s.Language)

	require.Error(t, repo.SetFlag(ctx, guild, "drop table", true))
}

func TestAuditRepo_WriteAndFind(t *testing.T) {
	testDB(t) // создает audit_logs
	repo, err := NewAuditRepo(os.Getenv("GUILDOPS_TEST_DATABASE_URL"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	guild := "g-" + uuid.NewString()
	events := []audit.AuditEvent{
		audit.AuditEvent{GuildID: guild, Action: "create_role", Status: "success"}.Normalize(),
		audit.AuditEvent{GuildID: guild, Action: "batch", Status: "pending"}.Normalize(),
	}
	ctx := context.Background()
	require.NoError(t, repo.WriteBatch(ctx, events))
	// Повторная запись той же пачки (ретрай воркера) не дублирует строки
	require.NoError(t, repo.WriteBatch(ctx, events))

	got, err := repo.Find(ctx, audit.Filter{GuildID: guild})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = repo.Find(ctx, audit.Filter{GuildID: guild, Action: "batch"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pending", got[0].Status)
}

func TestFlagColumn_RejectsUnknown(t *testing.T) {
	_, err := flagColumn("paused; DROP TABLE users")
	require.Error(t, err)
	col, err := flagColumn(domain.FlagDryRun)
	require.NoError(t, err)
	assert.Equal(t, "dry_run", col)
}
