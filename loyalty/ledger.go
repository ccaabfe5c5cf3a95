/*
ledger.go - Append-only point ledger

PURPOSE:
  The Ledger is the sole source of truth for point balances. Every
  earn, spend, expiration, bonus, refund, and manual adjustment is
  recorded here; account balances are derived state, recomputable from
  the entries at any time.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: Entries are never updated or deleted. Corrections
     are new offsetting entries.
  2. CHAINED: BalanceAfter of entry n equals BalanceAfter of entry n-1
     plus this entry's delta.
  3. NON-NEGATIVE: A negative posting that would drive CurrentPoints
     below zero is rejected; the check and the apply are atomic with
     respect to concurrent postings for the same account.
  4. LIFETIME MONOTONIC: LifetimePoints accumulates positive-earn
     deltas and never decreases.

CONCURRENCY:
  Postings for the same account are serialized by a per-account lock;
  postings for different accounts run in parallel. The balance check,
  the entry append, the account update, and any synchronous rank
  transition commit as one Store.Apply. A store-level conflict is
  retried once with fresh state before the business error surfaces.

RANK COUPLING:
  A posting that raises LifetimePoints re-evaluates the account's rank
  synchronously: the caller observes the new rank when Post returns.
  The ledger itself knows nothing about rank bands; it delegates to the
  rank engine while still holding the account lock.

SEE ALSO:
  - sweep.go: idempotent expiry of earned point lots
  - rules.go: computes awards under the same lock via PostAtomic
  - voucher.go: extends postings with voucher writes via PostAtomic
*/
package loyalty

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger posts entries and derives balances. Construct via NewEngine.
type Ledger struct {
	store    Store
	accounts *lockTable
	ranks    *RankEngine // nil disables synchronous rank evaluation
}

// PostInput describes one requested posting.
type PostInput struct {
	AccountID AccountID
	Kind      EntryKind
	Delta     Points
	Reason    string
	Reference string
	RuleID    RuleID
	EventType string
	ExpiresAt *time.Time
	Actor     string
	At        time.Time // zero = now
}

// PostFunc computes a posting under the account lock. It receives the
// account's current state and its full entry history in chronological
// order. Returning a nil input posts nothing (not an error).
type PostFunc func(acct *Account, entries []LedgerEntry) (*PostInput, error)

// DecorateFunc extends the atomic change set of a posting with
// additional writes (voucher counter, user voucher).
type DecorateFunc func(change *Change) error

// Post validates and appends a single entry.
//
// Fails with InvalidDelta when the delta is zero or its sign is
// inconsistent with the kind, and with InsufficientBalance when a
// negative delta would drive the balance below zero. On success the
// account's CurrentPoints (and, for positive-earn kinds,
// LifetimePoints) is updated and the rank engine is consulted before
// returning.
func (l *Ledger) Post(ctx context.Context, in PostInput) (*LedgerEntry, error) {
	return l.PostAtomic(ctx, in.AccountID, func(*Account, []LedgerEntry) (*PostInput, error) {
		return &in, nil
	}, nil)
}

// PostAtomic evaluates fn under the account lock and commits the
// resulting posting, the account update, any rank transition, and any
// decorations as one atomic change. The lock guarantees fn observes a
// balance no concurrent posting can invalidate.
func (l *Ledger) PostAtomic(ctx context.Context, id AccountID, fn PostFunc, decorate DecorateFunc) (*LedgerEntry, error) {
	release := l.accounts.acquire(string(id))
	defer release()

	entry, err := l.postLocked(ctx, id, fn, decorate)
	if IsRetryable(err) {
		// One retry with fresh state; a second conflict surfaces.
		entry, err = l.postLocked(ctx, id, fn, decorate)
	}
	return entry, err
}

func (l *Ledger) postLocked(ctx context.Context, id AccountID, fn PostFunc, decorate DecorateFunc) (*LedgerEntry, error) {
	acct, err := l.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}

	entries, err := l.store.Entries(ctx, id)
	if err != nil {
		return nil, err
	}

	in, err := fn(acct, entries)
	if err != nil {
		return nil, err
	}

	// A nil input posts no entry; decorations may still commit writes
	// (status transitions, counter updates) under the same lock.
	var change Change
	var entry *LedgerEntry
	if in != nil {
		entry, err = l.prepare(acct, *in)
		if err != nil {
			return nil, err
		}
		change.Account = acct
		change.Entries = []LedgerEntry{*entry}

		if entry.CountsTowardLifetime() && l.ranks != nil {
			transition, history, err := l.ranks.transitionFor(acct, RankReasonThreshold, "")
			if err != nil {
				return nil, err
			}
			if transition != nil {
				acct.RankID = transition.To.ID
				change.RankHistory = history
			}
		}
	}

	if decorate != nil {
		if err := decorate(&change); err != nil {
			return nil, err
		}
	}
	if change.Empty() {
		return entry, nil
	}

	if err := l.store.Apply(ctx, change); err != nil {
		return nil, err
	}
	return entry, nil
}

// prepare validates the posting against the locked account state and
// mutates acct to its post-entry state.
func (l *Ledger) prepare(acct *Account, in PostInput) (*LedgerEntry, error) {
	if !in.Kind.Valid() {
		return nil, &InvalidDeltaError{Kind: in.Kind, Delta: in.Delta, Detail: "unknown entry kind"}
	}
	if in.Delta.IsZero() {
		return nil, &InvalidDeltaError{Kind: in.Kind, Delta: in.Delta, Detail: "delta must be non-zero"}
	}

	switch in.Kind {
	case KindEarn, KindBonus, KindRefund:
		if in.Delta.IsNegative() {
			return nil, &InvalidDeltaError{Kind: in.Kind, Delta: in.Delta, Detail: "earning kinds require a positive delta"}
		}
	case KindSpend, KindExpire:
		if in.Delta.IsPositive() {
			return nil, &InvalidDeltaError{Kind: in.Kind, Delta: in.Delta, Detail: "spend/expire require a negative delta"}
		}
	case KindAdminAdjust:
		// Either sign; the sign decides lifetime contribution.
	}

	balance := acct.CurrentPoints.Add(in.Delta)
	if balance.IsNegative() {
		return nil, &InsufficientBalanceError{
			AccountID: acct.ID,
			Available: acct.CurrentPoints,
			Requested: in.Delta.Neg(),
		}
	}

	at := in.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	entry := &LedgerEntry{
		ID:           EntryID(uuid.NewString()),
		AccountID:    acct.ID,
		Kind:         in.Kind,
		Delta:        in.Delta,
		BalanceAfter: balance,
		Reason:       in.Reason,
		Reference:    in.Reference,
		RuleID:       in.RuleID,
		EventType:    in.EventType,
		ExpiresAt:    in.ExpiresAt,
		Actor:        in.Actor,
		CreatedAt:    at,
	}

	acct.CurrentPoints = balance
	if entry.CountsTowardLifetime() {
		acct.LifetimePoints = acct.LifetimePoints.Add(in.Delta)
	}
	return entry, nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

// CreateAccount registers a new account with zero balances and the
// base rank for zero lifetime points.
func (l *Ledger) CreateAccount(ctx context.Context, id AccountID) (*Account, error) {
	acct := Account{
		ID:             id,
		CurrentPoints:  ZeroPoints(),
		LifetimePoints: ZeroPoints(),
		CreatedAt:      time.Now().UTC(),
	}

	if l.ranks != nil {
		base, err := l.ranks.RankFor(ZeroPoints())
		if err != nil {
			return nil, err
		}
		acct.RankID = base.ID
	}

	if err := l.store.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// GetAccount returns the account's current derived state.
func (l *Ledger) GetAccount(ctx context.Context, id AccountID) (*Account, error) {
	acct, err := l.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return acct, nil
}

// =============================================================================
// READS - Balance derivation and history
// =============================================================================

// Balance returns the account's spendable balance.
func (l *Ledger) Balance(ctx context.Context, id AccountID) (Points, error) {
	acct, err := l.GetAccount(ctx, id)
	if err != nil {
		return Points{}, err
	}
	return acct.CurrentPoints, nil
}

// BalanceAsOf replays entries up to the timestamp. Used for auditing
// and by the expiry sweep.
func (l *Ledger) BalanceAsOf(ctx context.Context, id AccountID, at time.Time) (Points, error) {
	entries, err := l.store.Entries(ctx, id)
	if err != nil {
		return Points{}, err
	}

	balance := ZeroPoints()
	for _, e := range entries {
		if e.CreatedAt.After(at) {
			break
		}
		balance = balance.Add(e.Delta)
	}
	return balance, nil
}

// History returns the account's entries, chronologically. A zero from
// and to return the full history.
func (l *Ledger) History(ctx context.Context, id AccountID, from, to time.Time) ([]LedgerEntry, error) {
	if from.IsZero() && to.IsZero() {
		return l.store.Entries(ctx, id)
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	return l.store.EntriesInRange(ctx, id, from, to)
}

// Audit recomputes the account's balances from its entries and fails
// when the stored state has drifted from the fold.
func (l *Ledger) Audit(ctx context.Context, id AccountID) error {
	acct, err := l.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	entries, err := l.store.Entries(ctx, id)
	if err != nil {
		return err
	}

	current := ZeroPoints()
	lifetime := ZeroPoints()
	prev := ZeroPoints()
	for i, e := range entries {
		current = current.Add(e.Delta)
		if e.CountsTowardLifetime() {
			lifetime = lifetime.Add(e.Delta)
		}
		if !e.BalanceAfter.Equal(prev.Add(e.Delta)) {
			return fmt.Errorf("ledger %s: entry %d (%s) breaks the balance chain", id, i, e.ID)
		}
		prev = e.BalanceAfter
	}

	if !acct.CurrentPoints.Equal(current) {
		return fmt.Errorf("ledger %s: current points %s != sum of deltas %s", id, acct.CurrentPoints, current)
	}
	if !acct.LifetimePoints.Equal(lifetime) {
		return fmt.Errorf("ledger %s: lifetime points %s != sum of positive earns %s", id, acct.LifetimePoints, lifetime)
	}
	return nil
}

// =============================================================================
// ERRORS
// =============================================================================
// Error types live in errors.go. Key errors returned by this file:
//   - ErrInvalidDelta / InvalidDeltaError
//   - ErrInsufficientBalance / InsufficientBalanceError
//   - ErrNotFound
