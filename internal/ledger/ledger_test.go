package ledger

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-exit-engine/internal/storage/filestore"
)

func openLedger(t *testing.T, dir string) *Ledger {
	t.Helper()
	kv, err := filestore.New(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	return New(kv, DefaultRetention, zaptest.NewLogger(t))
}

func TestRecordRefusesReentry(t *testing.T) {
	l := openLedger(t, t.TempDir())
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, Record{Mint: "mintA", Route: "pumpfun", Quantity: 10}))
	err := l.Record(ctx, Record{Mint: "mintA", Route: "jupiter", Quantity: 99})
	assert.ErrorIs(t, err, ErrAlreadyPurchased)

	rec, err := l.Get(ctx, "mintA")
	require.NoError(t, err)
	assert.Equal(t, "pumpfun", rec.Route)
}

func TestLedgerSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	require.NoError(t, openLedger(t, dir).Record(ctx, Record{Mint: "mintA", Buyer: "wallet"}))

	again := openLedger(t, dir)
	bought, err := again.WasPurchased(ctx, "mintA")
	require.NoError(t, err)
	assert.True(t, bought)

	bought, err = again.WasPurchased(ctx, "mintB")
	require.NoError(t, err)
	assert.False(t, bought)
}

func TestCompactKeepsActiveAndFresh(t *testing.T) {
	l := openLedger(t, t.TempDir())
	ctx := context.Background()
	now := time.Now()

	old := now.Add(-48 * time.Hour)
	require.NoError(t, l.Record(ctx, Record{Mint: "old-closed", PurchasedAt: old}))
	require.NoError(t, l.Record(ctx, Record{Mint: "old-active", PurchasedAt: old}))
	require.NoError(t, l.Record(ctx, Record{Mint: "old-unknown", PurchasedAt: old}))
	require.NoError(t, l.Record(ctx, Record{Mint: "fresh", PurchasedAt: now.Add(-time.Hour)}))

	isActive := func(_ context.Context, mint string) (bool, error) {
		switch mint {
		case "old-active":
			return true, nil
		case "old-unknown":
			return false, errors.New("store unavailable")
		}
		return false, nil
	}

	removed, err := l.Compact(ctx, now, isActive)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	records, err := l.List(ctx)
	require.NoError(t, err)
	var mints []string
	for _, r := range records {
		mints = append(mints, r.Mint)
	}
	assert.ElementsMatch(t, []string{"old-active", "old-unknown", "fresh"}, mints)
}

type countingSweeper struct{ n atomic.Int32 }

func (s *countingSweeper) Sweep(context.Context) int {
	s.n.Add(1)
	return 0
}

func TestCompactorSchedules(t *testing.T) {
	l := openLedger(t, t.TempDir())
	noneActive := func(context.Context, string) (bool, error) { return false, nil }

	_, err := NewCompactor(l, noneActive, nil, "not a schedule", "", zaptest.NewLogger(t))
	assert.Error(t, err)

	sweeper := &countingSweeper{}
	c, err := NewCompactor(l, noneActive, sweeper, "@every 1h", "@every 1s", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Len(t, c.cron.Entries(), 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool { return sweeper.n.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestCompactorJobUsesClock(t *testing.T) {
	l := openLedger(t, t.TempDir())
	ctx := context.Background()
	require.NoError(t, l.Record(ctx, Record{Mint: "mintA", PurchasedAt: time.Now()}))

	c, err := NewCompactor(l, func(context.Context, string) (bool, error) { return false, nil }, nil, "", "", zaptest.NewLogger(t))
	require.NoError(t, err)
	c.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	c.compact()

	bought, err := l.WasPurchased(ctx, "mintA")
	require.NoError(t, err)
	assert.False(t, bought)
}
