/*
sweep.go - Point expiry

PURPOSE:
  Expires earned points whose validity has lapsed. Earning entries that
  carry an ExpiresAt form lots; spends consume lots oldest-first, so
  only the unconsumed remainder of a lapsed lot expires.

IDEMPOTENCY:
  Each expire entry references the lot it drains. Replaying the ledger
  therefore reconstructs how much of every lot is left, and a second
  sweep over the same instant finds every lapsed lot already at zero
  and posts nothing.

SEE ALSO:
  - voucher.go: SweepExpired, the voucher counterpart
  - api/sweeper.go: the scheduler that runs both on an interval
*/
package loyalty

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// LOT ACCOUNTING
// =============================================================================

// lot is the unconsumed remainder of one earning entry.
type lot struct {
	entryID   EntryID
	remaining Points
	expiresAt *time.Time
}

// replayLots folds the entry history into open lots. Positive entries
// open lots; spends and negative adjustments drain them oldest-first;
// expire entries drain the specific lot they reference.
func replayLots(entries []LedgerEntry) []lot {
	var lots []lot
	for _, e := range entries {
		if e.Delta.IsPositive() {
			lots = append(lots, lot{entryID: e.ID, remaining: e.Delta, expiresAt: e.ExpiresAt})
			continue
		}

		owed := e.Delta.Neg()
		if e.Kind == KindExpire {
			for i := range lots {
				if string(lots[i].entryID) == e.Reference {
					lots[i].remaining = lots[i].remaining.Sub(owed.Min(lots[i].remaining))
					break
				}
			}
			continue
		}

		// FIFO: the oldest open lot pays first.
		for i := range lots {
			if owed.IsZero() {
				break
			}
			take := owed.Min(lots[i].remaining)
			lots[i].remaining = lots[i].remaining.Sub(take)
			owed = owed.Sub(take)
		}
	}
	return lots
}

// =============================================================================
// SWEEP
// =============================================================================

// SweepExpiredPoints posts expire entries for every lapsed, unconsumed
// lot across all accounts, as of the given instant. Each account's
// expire entries commit as one atomic change. Returns the number of
// entries posted.
func (l *Ledger) SweepExpiredPoints(ctx context.Context, asOf time.Time) (int, error) {
	accounts, err := l.store.ListAccounts(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, acct := range accounts {
		n, err := l.sweepAccount(ctx, acct.ID, asOf)
		total += n
		if err != nil {
			return total, fmt.Errorf("sweep account %s: %w", acct.ID, err)
		}
	}
	return total, nil
}

func (l *Ledger) sweepAccount(ctx context.Context, id AccountID, asOf time.Time) (int, error) {
	release := l.accounts.acquire(string(id))
	defer release()

	n, err := l.sweepAccountLocked(ctx, id, asOf)
	if IsRetryable(err) {
		n, err = l.sweepAccountLocked(ctx, id, asOf)
	}
	return n, err
}

func (l *Ledger) sweepAccountLocked(ctx context.Context, id AccountID, asOf time.Time) (int, error) {
	acct, err := l.store.GetAccount(ctx, id)
	if err != nil {
		return 0, err
	}
	if acct == nil {
		return 0, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}

	entries, err := l.store.Entries(ctx, id)
	if err != nil {
		return 0, err
	}

	var change Change
	for _, open := range replayLots(entries) {
		if open.remaining.IsZero() || open.expiresAt == nil || asOf.Before(*open.expiresAt) {
			continue
		}

		entry, err := l.prepare(acct, PostInput{
			AccountID: id,
			Kind:      KindExpire,
			Delta:     open.remaining.Neg(),
			Reason:    "points expired",
			Reference: string(open.entryID),
			At:        asOf,
		})
		if err != nil {
			return 0, err
		}
		change.Entries = append(change.Entries, *entry)
	}

	if len(change.Entries) == 0 {
		return 0, nil
	}
	change.Account = acct
	if err := l.store.Apply(ctx, change); err != nil {
		return 0, err
	}
	return len(change.Entries), nil
}
