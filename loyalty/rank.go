/*
rank.go - Rank progression engine

PURPOSE:
  Derives an account's tier from its lifetime points and records every
  transition. Rank bands partition the lifetime-points axis into
  contiguous, non-overlapping, gapless intervals ordered by level; the
  top band is unbounded. Exactly one active rank matches any
  non-negative lifetime value -- anything else is a configuration
  error, surfaced as NoMatchingRank rather than silently ignored.

UPWARD-ONLY BY CONSTRUCTION:
  Lifetime points never decrease, so organic accrual can only move an
  account up. Administrators may force a downward assignment through
  AdminAssign, which bypasses the threshold check but still records
  history with reason "admin_override".

SYNCHRONOUS EVALUATION:
  The ledger consults transitionFor while holding the account lock, so
  a posting's caller observes the new rank before Post returns, and no
  locking beyond the account lock is needed.
*/
package loyalty

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// RANK ENGINE
// =============================================================================

// RankEngine resolves rank bands and records transitions. Construct
// via NewEngine; call Reload after administering rank content.
type RankEngine struct {
	store    Store
	accounts *lockTable

	mu    sync.RWMutex
	bands []Rank // active ranks, sorted by MinPoints, validated
}

// Reload loads the active rank set from the store and validates that
// the bands are contiguous and gapless. A mis-configured set fails
// with NoMatchingRank before it can misclassify an account.
func (e *RankEngine) Reload(ctx context.Context) error {
	ranks, err := e.store.ListRanks(ctx)
	if err != nil {
		return err
	}

	var active []Rank
	for _, r := range ranks {
		if r.Active {
			active = append(active, r)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].MinPoints.LessThan(active[j].MinPoints)
	})

	if err := validateBands(active); err != nil {
		return err
	}

	e.mu.Lock()
	e.bands = active
	e.mu.Unlock()
	return nil
}

// validateBands checks contiguity: the first band starts at zero, each
// band's exclusive max equals the next band's inclusive min, and only
// the last band is unbounded.
func validateBands(bands []Rank) error {
	if len(bands) == 0 {
		return &NoMatchingRankError{Detail: "no active ranks configured"}
	}
	if !bands[0].MinPoints.IsZero() {
		return &NoMatchingRankError{Detail: fmt.Sprintf(
			"lowest rank %q starts at %s, not 0", bands[0].Name, bands[0].MinPoints)}
	}
	for i, r := range bands {
		last := i == len(bands)-1
		if last {
			if r.MaxPoints != nil {
				return &NoMatchingRankError{Detail: fmt.Sprintf(
					"top rank %q must be unbounded", r.Name)}
			}
			continue
		}
		if r.MaxPoints == nil {
			return &NoMatchingRankError{Detail: fmt.Sprintf(
				"rank %q is unbounded but not the top rank", r.Name)}
		}
		next := bands[i+1]
		if !r.MaxPoints.Equal(next.MinPoints) {
			return &NoMatchingRankError{Detail: fmt.Sprintf(
				"gap or overlap between %q [%s,%s) and %q [%s,...)",
				r.Name, r.MinPoints, *r.MaxPoints, next.Name, next.MinPoints)}
		}
	}
	return nil
}

// RankFor returns the unique active rank whose band contains lifetime.
func (e *RankEngine) RankFor(lifetime Points) (*Rank, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, r := range e.bands {
		if r.Contains(lifetime) {
			rank := r
			return &rank, nil
		}
	}
	return nil, &NoMatchingRankError{LifetimePoints: lifetime}
}

// ByID returns a configured active rank by ID, or nil.
func (e *RankEngine) ByID(id RankID) *Rank {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, r := range e.bands {
		if r.ID == id {
			rank := r
			return &rank
		}
	}
	return nil
}

// Ranks returns the active bands in ascending order.
func (e *RankEngine) Ranks() []Rank {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rank, len(e.bands))
	copy(out, e.bands)
	return out
}

// =============================================================================
// EVALUATION
// =============================================================================

// transitionFor computes the transition for an account's current
// lifetime points. Pure over the cached bands; called by the ledger
// while it holds the account lock. Returns (nil, nil, nil) when the
// stored rank already matches.
func (e *RankEngine) transitionFor(acct *Account, reason, actor string) (*RankTransition, *RankHistory, error) {
	target, err := e.RankFor(acct.LifetimePoints)
	if err != nil {
		return nil, nil, err
	}
	if target.ID == acct.RankID {
		return nil, nil, nil
	}

	transition := &RankTransition{To: *target, LifetimePoints: acct.LifetimePoints}
	history := &RankHistory{
		ID:             uuid.NewString(),
		AccountID:      acct.ID,
		ToRank:         target.ID,
		LifetimePoints: acct.LifetimePoints,
		Reason:         reason,
		Actor:          actor,
		CreatedAt:      time.Now().UTC(),
	}
	if acct.RankID != "" {
		from := acct.RankID
		history.FromRank = &from
		transition.From = e.ByID(from)
	}
	return transition, history, nil
}

// Evaluate re-derives the account's rank from lifetime points and, if
// it changed, updates the account and appends a history record
// atomically. Returns nil when the stored rank already matches.
func (e *RankEngine) Evaluate(ctx context.Context, id AccountID) (*RankTransition, error) {
	release := e.accounts.acquire(string(id))
	defer release()

	return e.assignLocked(ctx, id, func(acct *Account) (*RankTransition, *RankHistory, error) {
		return e.transitionFor(acct, RankReasonThreshold, "")
	})
}

// AdminAssign forces the account onto the given rank, bypassing the
// threshold check but still recording history with the acting
// administrator attached. This is the only path that can move a rank
// downward.
func (e *RankEngine) AdminAssign(ctx context.Context, id AccountID, rankID RankID, actor string) (*RankTransition, error) {
	release := e.accounts.acquire(string(id))
	defer release()

	return e.assignLocked(ctx, id, func(acct *Account) (*RankTransition, *RankHistory, error) {
		target := e.ByID(rankID)
		if target == nil {
			return nil, nil, fmt.Errorf("rank %s: %w", rankID, ErrNotFound)
		}
		if target.ID == acct.RankID {
			return nil, nil, nil
		}

		transition := &RankTransition{To: *target, LifetimePoints: acct.LifetimePoints}
		history := &RankHistory{
			ID:             uuid.NewString(),
			AccountID:      acct.ID,
			ToRank:         target.ID,
			LifetimePoints: acct.LifetimePoints,
			Reason:         RankReasonOverride,
			Actor:          actor,
			CreatedAt:      time.Now().UTC(),
		}
		if acct.RankID != "" {
			from := acct.RankID
			history.FromRank = &from
			transition.From = e.ByID(from)
		}
		return transition, history, nil
	})
}

func (e *RankEngine) assignLocked(ctx context.Context, id AccountID, fn func(*Account) (*RankTransition, *RankHistory, error)) (*RankTransition, error) {
	acct, err := e.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}

	transition, history, err := fn(acct)
	if err != nil {
		return nil, err
	}
	if transition == nil {
		return nil, nil
	}

	acct.RankID = transition.To.ID
	err = e.store.Apply(ctx, Change{Account: acct, RankHistory: history})
	if IsRetryable(err) {
		err = e.store.Apply(ctx, Change{Account: acct, RankHistory: history})
	}
	if err != nil {
		return nil, err
	}
	return transition, nil
}

// CurrentRank resolves the account's stored rank.
func (e *RankEngine) CurrentRank(ctx context.Context, id AccountID) (*Rank, error) {
	acct, err := e.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}

	if rank := e.ByID(acct.RankID); rank != nil {
		return rank, nil
	}
	// Stored rank no longer configured; fall back to the band.
	return e.RankFor(acct.LifetimePoints)
}

// History returns the account's rank transitions, oldest first.
func (e *RankEngine) History(ctx context.Context, id AccountID) ([]RankHistory, error) {
	return e.store.RankHistory(ctx, id)
}
