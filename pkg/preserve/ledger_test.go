package preserve_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-preserve/pkg/preserve"
	repomemory "github.com/tendant/simple-preserve/pkg/preserve/repo/memory"
)

func month(year int, m time.Month) time.Time {
	return time.Date(year, m, 1, 0, 0, 0, 0, time.UTC)
}

func TestLedgerIncrementAndQuery(t *testing.T) {
	repo := repomemory.New()
	ledger := preserve.NewLedger(repo)
	ctx := context.Background()

	scope := preserve.Scope{Kind: preserve.ScopeItem, ID: uuid.New()}

	// Three downloads in January, one in March, nothing in February.
	for i := 0; i < 3; i++ {
		require.NoError(t, ledger.IncrementAt(ctx, month(2026, time.January).Add(time.Duration(i)*time.Hour), scope))
	}
	require.NoError(t, ledger.IncrementAt(ctx, month(2026, time.March), scope))

	counts, err := ledger.RangeQuery(ctx, scope, month(2026, time.January), month(2026, time.March))
	require.NoError(t, err)
	require.Len(t, counts, 3)

	assert.Equal(t, 2026, counts[0].Year)
	assert.Equal(t, 1, counts[0].Month)
	assert.Equal(t, int64(3), counts[0].Count)

	// February has no activity but is still present.
	assert.Equal(t, 2, counts[1].Month)
	assert.Equal(t, int64(0), counts[1].Count)

	assert.Equal(t, 3, counts[2].Month)
	assert.Equal(t, int64(1), counts[2].Count)
}

func TestLedgerRangeSpansYearBoundary(t *testing.T) {
	repo := repomemory.New()
	ledger := preserve.NewLedger(repo)
	ctx := context.Background()

	scope := preserve.Scope{Kind: preserve.ScopeInstitution, ID: uuid.New()}
	require.NoError(t, ledger.IncrementAt(ctx, month(2025, time.December), scope))
	require.NoError(t, ledger.IncrementAt(ctx, month(2026, time.February), scope))

	counts, err := ledger.RangeQuery(ctx, scope, month(2025, time.November), month(2026, time.February))
	require.NoError(t, err)
	require.Len(t, counts, 4)

	assert.Equal(t, int64(0), counts[0].Count) // 2025-11
	assert.Equal(t, int64(1), counts[1].Count) // 2025-12
	assert.Equal(t, int64(0), counts[2].Count) // 2026-01
	assert.Equal(t, int64(1), counts[3].Count) // 2026-02
}

func TestLedgerScopesAreIndependent(t *testing.T) {
	repo := repomemory.New()
	ledger := preserve.NewLedger(repo)
	ctx := context.Background()

	item := preserve.Scope{Kind: preserve.ScopeItem, ID: uuid.New()}
	collection := preserve.Scope{Kind: preserve.ScopeCollection, ID: item.ID}

	// Same uuid under two kinds counts separately.
	require.NoError(t, ledger.Increment(ctx, item, collection))
	require.NoError(t, ledger.Increment(ctx, item))

	now := time.Now().UTC()
	itemCounts, err := ledger.RangeQuery(ctx, item, now, now)
	require.NoError(t, err)
	require.Len(t, itemCounts, 1)
	assert.Equal(t, int64(2), itemCounts[0].Count)

	collCounts, err := ledger.RangeQuery(ctx, collection, now, now)
	require.NoError(t, err)
	require.Len(t, collCounts, 1)
	assert.Equal(t, int64(1), collCounts[0].Count)
}

func TestLedgerInvertedRange(t *testing.T) {
	ledger := preserve.NewLedger(repomemory.New())

	_, err := ledger.RangeQuery(context.Background(),
		preserve.Scope{Kind: preserve.ScopeItem, ID: uuid.New()},
		month(2026, time.March), month(2026, time.January))
	assert.Error(t, err)
}

func TestLedgerRecompute(t *testing.T) {
	repo := repomemory.New()
	ledger := preserve.NewLedger(repo)
	ctx := context.Background()

	scope := preserve.Scope{Kind: preserve.ScopeUnit, ID: uuid.New()}

	// Drift the counters, then rebuild from the event log.
	for i := 0; i < 5; i++ {
		require.NoError(t, ledger.IncrementAt(ctx, month(2026, time.April), scope))
	}

	events := []time.Time{
		month(2026, time.April),
		month(2026, time.April),
		month(2026, time.May),
	}
	require.NoError(t, ledger.Recompute(ctx, scope, events))

	counts, err := ledger.RangeQuery(ctx, scope, month(2026, time.April), month(2026, time.May))
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, int64(2), counts[0].Count)
	assert.Equal(t, int64(1), counts[1].Count)

	// Re-running with the same events is idempotent.
	require.NoError(t, ledger.Recompute(ctx, scope, events))
	counts, err = ledger.RangeQuery(ctx, scope, month(2026, time.April), month(2026, time.May))
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[0].Count)
}
