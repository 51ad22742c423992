package preserve

import (
	"context"
	"fmt"
	"time"
)

// Ledger is the derived download-reporting layer: append-only monthly
// counters per item/collection/unit/institution, eventually consistent
// with the download event stream.
type Ledger struct {
	repository Repository
}

// NewLedger creates a ledger over the given repository.
func NewLedger(repo Repository) *Ledger {
	return &Ledger{repository: repo}
}

// Increment records one download event against each given scope for the
// current month. Each increment is a single atomic upsert; concurrent
// download events never lose counts.
func (l *Ledger) Increment(ctx context.Context, scopes ...Scope) error {
	return l.IncrementAt(ctx, time.Now().UTC(), scopes...)
}

// IncrementAt records one download event at an explicit time. Used by
// backfill; the request path uses Increment.
func (l *Ledger) IncrementAt(ctx context.Context, at time.Time, scopes ...Scope) error {
	for _, scope := range scopes {
		if err := l.repository.IncrementDownloadCount(ctx, scope, at.Year(), int(at.Month())); err != nil {
			return fmt.Errorf("increment download count for %s %s: %w", scope.Kind, scope.ID, err)
		}
	}
	return nil
}

// RangeQuery returns one row per month in the inclusive span, zero-filling
// months with no recorded activity. A month is never omitted.
func (l *Ledger) RangeQuery(ctx context.Context, scope Scope, from, to time.Time) ([]*DownloadCount, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("range end %s before start %s", to.Format("2006-01"), from.Format("2006-01"))
	}

	recorded, err := l.repository.ListDownloadCounts(ctx, scope, from, to)
	if err != nil {
		return nil, err
	}

	byMonth := make(map[[2]int]int64, len(recorded))
	for _, row := range recorded {
		byMonth[[2]int{row.Year, row.Month}] = row.Count
	}

	var result []*DownloadCount
	cur := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(to.Year(), to.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(end) {
		result = append(result, &DownloadCount{
			Scope: scope,
			Year:  cur.Year(),
			Month: int(cur.Month()),
			Count: byMonth[[2]int{cur.Year(), int(cur.Month())}],
		})
		cur = cur.AddDate(0, 1, 0)
	}

	return result, nil
}

// Recompute rebuilds a scope's counters from an event log: delete all rows
// for the scope, then re-derive. Idempotent and safe to re-run; intended
// for historical backfill only, never the request path.
func (l *Ledger) Recompute(ctx context.Context, scope Scope, events []time.Time) error {
	if err := l.repository.DeleteDownloadCounts(ctx, scope); err != nil {
		return fmt.Errorf("delete download counts for %s %s: %w", scope.Kind, scope.ID, err)
	}
	for _, at := range events {
		if err := l.repository.IncrementDownloadCount(ctx, scope, at.Year(), int(at.Month())); err != nil {
			return fmt.Errorf("recompute download count for %s %s: %w", scope.Kind, scope.ID, err)
		}
	}
	return nil
}
