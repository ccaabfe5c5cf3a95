/*
rules.go - Point rule engine

PURPOSE:
  Computes how many points a qualifying external event earns, and posts
  the result to the ledger. Rules are administered content: each binds
  an event type to flat and/or per-currency earning, optional daily and
  lifetime caps, an optional minimum order value, an optional rank
  restriction, and a validity window.

SELECTION:
  Exactly one rule applies per event. Candidates are the active rules
  for the event type whose window contains the event time, whose rank
  restriction includes the account's rank, and whose minimum order
  value is satisfied. The lowest Priority value wins; ties break to the
  most recently created rule. No qualifying rule is not an error -- the
  award returns nil and nothing is posted.

COMPUTATION:
  raw      = points_per_action + floor(points_per_currency * orderValue)
  adjusted = floor(raw * rank multiplier)        (when the rule opts in)
  award    = clamp(adjusted, daily headroom, lifetime headroom)

  The daily cap is enforced over the trailing 24-hour window of earns
  for this account and event type; the lifetime cap over all earns for
  this account and rule. Clamping never produces a negative award; a
  zero award posts nothing.

CONCURRENCY:
  The cap computation and the posting run under the account lock via
  Ledger.PostAtomic, so two concurrent awards cannot both fill the
  same remaining headroom.
*/
package loyalty

import (
	"context"
	"sort"
	"sync"
	"time"
)

// =============================================================================
// RULE ENGINE
// =============================================================================

// RuleEngine selects rules and posts awards. Construct via NewEngine;
// call Reload after administering rule content.
type RuleEngine struct {
	store  Store
	ledger *Ledger
	ranks  *RankEngine

	mu    sync.RWMutex
	rules []PointRule // sorted by (priority asc, createdAt desc)
}

// Reload loads the rule set from the store into evaluation order.
func (e *RuleEngine) Reload(ctx context.Context) error {
	rules, err := e.store.ListRules(ctx)
	if err != nil {
		return err
	}

	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].CreatedAt.After(rules[j].CreatedAt)
	})

	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
	return nil
}

// Rules returns the rule set in evaluation order.
func (e *RuleEngine) Rules() []PointRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]PointRule, len(e.rules))
	copy(out, e.rules)
	return out
}

// =============================================================================
// AWARD
// =============================================================================

// Award computes and posts the points a qualifying event earns.
// Returns (nil, nil) when no rule qualifies or the caps leave no
// headroom; the caller treats that as a completed no-op, not an error.
func (e *RuleEngine) Award(ctx context.Context, id AccountID, eventType string, ectx EventContext) (*LedgerEntry, error) {
	at := ectx.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	return e.ledger.PostAtomic(ctx, id, func(acct *Account, entries []LedgerEntry) (*PostInput, error) {
		rule := e.selectRule(acct, eventType, ectx, at)
		if rule == nil {
			return nil, nil
		}

		award := e.computeAward(*rule, acct, ectx)
		award = e.clampDaily(*rule, entries, award, at)
		award = e.clampLifetime(*rule, entries, award)
		if !award.IsPositive() {
			return nil, nil
		}

		var expiresAt *time.Time
		if rule.PointsValidFor > 0 {
			exp := at.Add(rule.PointsValidFor)
			expiresAt = &exp
		}

		return &PostInput{
			AccountID: id,
			Kind:      KindEarn,
			Delta:     award,
			Reason:    rule.Name,
			Reference: ectx.Reference,
			RuleID:    rule.ID,
			EventType: rule.EventType,
			ExpiresAt: expiresAt,
			At:        at,
		}, nil
	}, nil)
}

// selectRule picks the single eligible rule for the event, or nil.
func (e *RuleEngine) selectRule(acct *Account, eventType string, ectx EventContext, at time.Time) *PointRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	// Rules are pre-sorted by (priority, createdAt desc): first match wins.
	for _, r := range e.rules {
		if !r.Active || r.EventType != eventType {
			continue
		}
		if !r.InWindow(at) {
			continue
		}
		if !r.AppliesToRank(acct.RankID) {
			continue
		}
		if r.MinOrderValue != nil && ectx.OrderValue.LessThan(*r.MinOrderValue) {
			continue
		}
		rule := r
		return &rule
	}
	return nil
}

// computeAward produces the raw award before caps.
func (e *RuleEngine) computeAward(rule PointRule, acct *Account, ectx EventContext) Points {
	award := rule.PointsPerAction
	if !rule.PointsPerCurrency.IsZero() && ectx.OrderValue.IsPositive() {
		award = award.Add(PointsFromDecimal(rule.PointsPerCurrency.Mul(ectx.OrderValue)).Floor())
	}

	if rule.UseRankMultiplier && e.ranks != nil {
		if rank := e.ranks.ByID(acct.RankID); rank != nil && !rank.Multiplier.IsZero() {
			award = award.Mul(rank.Multiplier).Floor()
		}
	}

	if award.IsNegative() {
		return ZeroPoints()
	}
	return award
}

// clampDaily reduces the award to the headroom left under the rolling
// 24-hour cap for this account and event type.
func (e *RuleEngine) clampDaily(rule PointRule, entries []LedgerEntry, award Points, at time.Time) Points {
	if rule.MaxPointsPerDay == nil || !award.IsPositive() {
		return award
	}

	cutoff := at.Add(-24 * time.Hour)
	earned := ZeroPoints()
	for _, entry := range entries {
		if entry.Kind != KindEarn || entry.EventType != rule.EventType {
			continue
		}
		if entry.CreatedAt.After(cutoff) {
			earned = earned.Add(entry.Delta)
		}
	}

	headroom := rule.MaxPointsPerDay.Sub(earned)
	if headroom.IsNegative() {
		headroom = ZeroPoints()
	}
	return award.Min(headroom)
}

// clampLifetime reduces the award to the headroom left under the
// per-account lifetime cap for this rule.
func (e *RuleEngine) clampLifetime(rule PointRule, entries []LedgerEntry, award Points) Points {
	if rule.MaxPointsPerUser == nil || !award.IsPositive() {
		return award
	}

	earned := ZeroPoints()
	for _, entry := range entries {
		if entry.Kind == KindEarn && entry.RuleID == rule.ID {
			earned = earned.Add(entry.Delta)
		}
	}

	headroom := rule.MaxPointsPerUser.Sub(earned)
	if headroom.IsNegative() {
		headroom = ZeroPoints()
	}
	return award.Min(headroom)
}
