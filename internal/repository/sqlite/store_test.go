package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/guildops-agent/internal/domain"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "guildops.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func pendingRecord(guildID string) *domain.ConfirmationRecord {
	target := "100"
	return &domain.ConfirmationRecord{
		ID:       uuid.NewString(),
		Action:   domain.ActionDeleteChannel,
		ActorID:  "u1",
		GuildID:  guildID,
		TargetID: &target,
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

func TestStore_CreateGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	rec := pendingRecord("g1")
	require.NoError(t, s.Create(ctx, rec))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.True(t, got.ConfirmationRequired)
	assert.Equal(t, domain.ConfirmationPending, got.ConfirmationStatus)
	require.NotNil(t, got.TargetID)
	assert.Equal(t, "100", *got.TargetID)
	assert.Nil(t, got.ErrorMessage)
	assert.Equal(t, "t1", got.Payload.Request.ThreadID)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestStore_TransitionIsExclusive(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	rec := pendingRecord("g1")
	require.NoError(t, s.Create(ctx, rec))

	var won atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Transition(ctx, rec.ID, claim); err == nil {
				won.Add(1)
			} else {
				assert.ErrorIs(t, err, domain.ErrAlreadyResolved)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), won.Load())
}

func TestStore_TransitionStoresResult(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	rec := pendingRecord("g1")
	require.NoError(t, s.Create(ctx, rec))

	_, err := s.Transition(ctx, rec.ID, claim)
	require.NoError(t, err)

	msg := "Missing permission"
	final, err := s.Transition(ctx, rec.ID, domain.Transition{
		FromConfirmation: domain.ConfirmationApproved,
		FromStatus:       domain.RecordPending,
		Confirmation:     domain.ConfirmationApproved,
		Status:           domain.RecordFailure,
		ErrorMessage:     &msg,
		Result:           &domain.ResultPayload{OK: false, Message: msg},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RecordFailure, final.Status)
	require.NotNil(t, final.ErrorMessage)
	assert.Equal(t, msg, *final.ErrorMessage)
	require.NotNil(t, final.Payload.Result)
	assert.Equal(t, msg, final.Payload.Result.Message)
	// Запрос остается в payload рядом с результатом
	assert.Equal(t, domain.ActionDeleteChannel, final.Payload.Request.Action)

	_, err = s.Transition(ctx, "missing", claim)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestStore_ListAndPurge(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	old := pendingRecord("g1")
	old.CreatedAt = time.Now().Add(-30 * 24 * time.Hour)
	require.NoError(t, s.Create(ctx, old))
	require.NoError(t, s.Create(ctx, pendingRecord("g1")))
	require.NoError(t, s.Create(ctx, pendingRecord("g2")))

	list, err := s.List(ctx, domain.ConfirmationFilter{GuildID: "g1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.NotEqual(t, old.ID, list[0].ID, "newest first")

	list, err = s.List(ctx, domain.ConfirmationFilter{ConfirmationStatus: domain.ConfirmationApproved})
	require.NoError(t, err)
	assert.Empty(t, list)

	n, err := s.Purge(ctx, time.Now().Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Get(ctx, old.ID)
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestThreads_AppendTrimsSummary(t *testing.T) {
	threads := openStore(t).Threads()
	ctx := context.Background()

	_, found, err := threads.Get(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, found)

	line := strings.Repeat("x", 700)
	for range 4 {
		_, err := threads.Append(ctx, "t1", "g1", "u1", line)
		require.NoError(t, err)
	}

	m, found, err := threads.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "u1", m.OwnerUserID)
	assert.LessOrEqual(t, len(m.Summary), 1800)
}

func TestThreads_ConcurrentAppendsKeepAllLines(t *testing.T) {
	threads := openStore(t).Threads()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := threads.Append(ctx, "t1", "g1", "u1", string(rune('a'+i)))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	m, _, err := threads.Get(ctx, "t1")
	require.NoError(t, err)
	for _, line := range []string{"a", "b", "c", "d", "e"} {
		assert.Contains(t, m.Summary, line)
	}
}
