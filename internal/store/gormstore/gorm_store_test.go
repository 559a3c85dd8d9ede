package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"vigil/internal/position"
	"vigil/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "vigil.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndListPositions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := position.New("BTCUSDT", position.SideLong, 0.5, 3)
	require.NoError(t, p.Transition(position.StateOpening, "decision accepted"))
	require.NoError(t, p.Transition(position.StateOpen, "filled"))
	p.EntryPrice = 50000
	p.StopPrice = 49000

	require.NoError(t, s.SavePosition(ctx, *p))

	active, err := s.ListPositions(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	got := active[0]
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, position.StateOpen, got.State)
	require.Len(t, got.History, 2, "transition history must round-trip")
	assert.Equal(t, "filled", got.History[1].Reason)

	// Upsert on close.
	require.NoError(t, p.Transition(position.StateClosing, "exit"))
	require.NoError(t, p.Transition(position.StateClosed, "confirmed"))
	p.ExitPrice = 50500
	require.NoError(t, s.SavePosition(ctx, *p))

	active, err = s.ListPositions(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := s.ListPositions(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Len(t, all[0].History, 4)
}

func TestCycleResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := store.CycleRecord{
			CycleID:   "cycle-" + string(rune('a'+i)),
			Status:    "completed",
			StartedAt: time.Now().Add(time.Duration(i) * time.Minute),
			Duration:  1500 * time.Millisecond,
			Generated: 6, Executed: 2, Rejected: 1,
		}
		require.NoError(t, s.SaveCycleResult(ctx, rec))
	}
	got, err := s.ListCycleResults(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "cycle-c", got[0].CycleID, "newest first")
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveSnapshot(ctx, store.SnapshotRecord{Balance: 10000, DailyRealized: -50, TakenAt: time.Now().Add(-time.Hour)}))
	require.NoError(t, s.SaveSnapshot(ctx, store.SnapshotRecord{Balance: 9900, DailyRealized: -150, TakenAt: time.Now()}))

	rec, ok, err := s.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 9900, rec.Balance, 1e-9)
}
