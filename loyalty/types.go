/*
Package loyalty provides the core membership points engine.

PURPOSE:
  This package contains the types and algorithms for a loyalty program:
  an append-only point ledger, rank progression derived from lifetime
  earnings, rule-driven point awards, and voucher acquisition/redemption.

KEY CONCEPTS IN THIS FILE (types.go):
  - Points: A decimal point quantity (never float)
  - Account: Per-user balance state, mutated only through ledger postings
  - LedgerEntry: An immutable ledger record of one point movement
  - Rank: A tier over a contiguous lifetime-points band
  - PointRule: How an event type earns points, with caps and windows
  - Voucher / UserVoucher: Redeemable instruments bought with points

DESIGN PRINCIPLES:
  1. Immutability: Ledger entries are never modified, only offset
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for IDs prevents mixing account/voucher IDs
  4. Auditability: Current state is always recomputable from the ledger

SEE ALSO:
  - ledger.go: Posting contract and balance derivation
  - rank.go: Rank band resolution and transitions
  - rules.go: Award computation with caps
  - voucher.go: Acquisition, redemption, revocation
*/
package loyalty

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// POINTS - Decimal point quantity
// =============================================================================

type Points struct {
	Value decimal.Decimal
}

func NewPoints(value int64) Points {
	return Points{Value: decimal.NewFromInt(value)}
}

func PointsFromFloat(value float64) Points {
	return Points{Value: decimal.NewFromFloat(value)}
}

func PointsFromDecimal(value decimal.Decimal) Points {
	return Points{Value: value}
}

func ZeroPoints() Points { return Points{Value: decimal.Zero} }

func (p Points) Add(q Points) Points          { return Points{Value: p.Value.Add(q.Value)} }
func (p Points) Sub(q Points) Points          { return Points{Value: p.Value.Sub(q.Value)} }
func (p Points) Neg() Points                  { return Points{Value: p.Value.Neg()} }
func (p Points) Mul(s decimal.Decimal) Points { return Points{Value: p.Value.Mul(s)} }
func (p Points) Floor() Points                { return Points{Value: p.Value.Floor()} }
func (p Points) IsZero() bool                 { return p.Value.IsZero() }
func (p Points) IsNegative() bool             { return p.Value.IsNegative() }
func (p Points) IsPositive() bool             { return p.Value.IsPositive() }
func (p Points) Equal(q Points) bool          { return p.Value.Equal(q.Value) }
func (p Points) GreaterThan(q Points) bool    { return p.Value.GreaterThan(q.Value) }
func (p Points) LessThan(q Points) bool       { return p.Value.LessThan(q.Value) }
func (p Points) String() string               { return p.Value.String() }

func (p Points) Min(q Points) Points {
	if p.LessThan(q) {
		return p
	}
	return q
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type EntryID string
type RankID string
type RuleID string
type VoucherID string
type UserVoucherID string

// =============================================================================
// ACCOUNT - Per-user balance state
// =============================================================================

// Account holds the derived balance state for one member.
//
// INVARIANTS:
//   - CurrentPoints equals the sum of all ledger deltas for the account.
//   - LifetimePoints equals the sum of all positive-earn deltas and never
//     decreases; spends and expirations do not reduce it.
//   - Mutated only through Store.Apply as part of a ledger posting.
type Account struct {
	ID             AccountID
	CurrentPoints  Points
	LifetimePoints Points
	RankID         RankID
	CreatedAt      time.Time
}

// =============================================================================
// LEDGER ENTRY - Immutable record of one point movement
// =============================================================================

type EntryKind string

const (
	KindEarn        EntryKind = "earn"         // Points earned from a qualifying event
	KindSpend       EntryKind = "spend"        // Points spent (voucher acquisition)
	KindExpire      EntryKind = "expire"       // Earned points that lapsed unspent
	KindAdminAdjust EntryKind = "admin_adjust" // Manual correction, either sign
	KindBonus       EntryKind = "bonus"        // Promotional grant outside the rule engine
	KindRefund      EntryKind = "refund"       // Points returned (revoked voucher, canceled order)
)

func (k EntryKind) Valid() bool {
	switch k {
	case KindEarn, KindSpend, KindExpire, KindAdminAdjust, KindBonus, KindRefund:
		return true
	}
	return false
}

// LedgerEntry is one immutable, signed point movement for an account.
// Entries are append-only and ordered by creation time; BalanceAfter of
// entry n equals BalanceAfter of entry n-1 plus this entry's delta.
// Corrections are new offsetting entries, never edits.
type LedgerEntry struct {
	ID           EntryID
	AccountID    AccountID
	Kind         EntryKind
	Delta        Points
	BalanceAfter Points
	Reason       string
	Reference    string // Originating domain object (order, review, voucher)
	RuleID       RuleID // Rule that produced an earn, if any
	EventType    string // Event type for rule-produced earns
	ExpiresAt    *time.Time
	Actor        string // Administrator identity for manual adjustments
	CreatedAt    time.Time
}

// CountsTowardLifetime reports whether this entry's delta adds to
// lifetime points. Earns, bonuses, and refunds always do; an admin
// adjustment only when its delta is positive.
func (e LedgerEntry) CountsTowardLifetime() bool {
	switch e.Kind {
	case KindEarn, KindBonus, KindRefund:
		return true
	case KindAdminAdjust:
		return e.Delta.IsPositive()
	}
	return false
}

// =============================================================================
// RANK - Tier over a contiguous lifetime-points band
// =============================================================================

// Rank is a tier definition. Active ranks partition the lifetime-points
// axis into contiguous, non-overlapping bands ordered by Level: each
// band is [MinPoints, MaxPoints), and the top rank has MaxPoints == nil.
type Rank struct {
	ID              RankID
	Name            string
	Level           int
	MinPoints       Points
	MaxPoints       *Points // nil = unbounded (top rank)
	Multiplier      decimal.Decimal
	DiscountPercent decimal.Decimal
	Active          bool
}

// Contains reports whether lifetime falls inside this rank's band.
// MinPoints is inclusive, MaxPoints exclusive.
func (r Rank) Contains(lifetime Points) bool {
	if lifetime.LessThan(r.MinPoints) {
		return false
	}
	if r.MaxPoints != nil && !lifetime.LessThan(*r.MaxPoints) {
		return false
	}
	return true
}

// RankHistory records one rank transition for an account. Append-only,
// created exclusively by the rank engine.
type RankHistory struct {
	ID             string
	AccountID      AccountID
	FromRank       *RankID // nil for the first assignment
	ToRank         RankID
	LifetimePoints Points
	Reason         string // "points_threshold" or "admin_override"
	Actor          string
	CreatedAt      time.Time
}

const (
	RankReasonThreshold = "points_threshold"
	RankReasonOverride  = "admin_override"
)

// RankTransition is the outcome of a rank evaluation that changed the
// account's tier.
type RankTransition struct {
	From           *Rank
	To             Rank
	LifetimePoints Points
}

// =============================================================================
// POINT RULE - How an event type earns points
// =============================================================================

// PointRule defines how an event type earns points. Rules are read-only
// at evaluation time and administered externally. When multiple rules
// qualify for one event, the lowest Priority wins; ties go to the most
// recently created rule.
type PointRule struct {
	ID                RuleID
	Name              string
	EventType         string
	PointsPerAction   Points
	PointsPerCurrency decimal.Decimal // points per unit currency, floored
	MaxPointsPerDay   *Points         // rolling 24h cap per account + event type
	MaxPointsPerUser  *Points         // lifetime cap per account + rule
	MinOrderValue     *decimal.Decimal
	Ranks             []RankID // empty = all ranks qualify
	UseRankMultiplier bool
	PointsValidFor    time.Duration // 0 = earned points never expire
	ValidFrom         time.Time     // zero = open start
	ValidUntil        time.Time     // zero = open end
	Priority          int
	Active            bool
	CreatedAt         time.Time
}

// InWindow reports whether the rule's validity window contains t.
func (r PointRule) InWindow(t time.Time) bool {
	if !r.ValidFrom.IsZero() && t.Before(r.ValidFrom) {
		return false
	}
	if !r.ValidUntil.IsZero() && t.After(r.ValidUntil) {
		return false
	}
	return true
}

// AppliesToRank reports whether the rule's rank restriction, if any,
// includes the given rank.
func (r PointRule) AppliesToRank(rank RankID) bool {
	if len(r.Ranks) == 0 {
		return true
	}
	for _, id := range r.Ranks {
		if id == rank {
			return true
		}
	}
	return false
}

// EventContext carries the attributes of the external event an award is
// computed from.
type EventContext struct {
	OrderValue decimal.Decimal
	Reference  string    // originating domain object (order id, review id)
	At         time.Time // zero = now
}

// Well-known event types awarded by the surrounding application.
const (
	EventPurchase = "purchase"
	EventReview   = "review"
	EventReferral = "referral"
	EventSignup   = "signup"
	EventCheckin  = "checkin"
)

// =============================================================================
// VOUCHER - Redeemable instrument
// =============================================================================

type DiscountKind string

const (
	DiscountPercentage   DiscountKind = "percentage"
	DiscountFixed        DiscountKind = "fixed"
	DiscountFreeShipping DiscountKind = "free_shipping"
	DiscountGift         DiscountKind = "gift"
)

// Voucher is a redeemable instrument acquired with points.
// INVARIANT: CurrentUsage <= MaxTotalUsage whenever a cap is set.
type Voucher struct {
	ID             VoucherID
	Code           string
	Name           string
	Kind           DiscountKind
	Value          decimal.Decimal // percent for percentage, amount for fixed
	MaxDiscount    *decimal.Decimal
	MinOrderValue  *decimal.Decimal
	RequiredRank   *RankID
	RequiredPoints Points
	MaxPerUser     int // 0 = unlimited acquisitions per account
	MaxTotalUsage  int // 0 = unlimited across all accounts
	CurrentUsage   int
	ValidFrom      time.Time
	ValidUntil     time.Time
	ExpiresAfter   time.Duration // personal expiry after acquisition; 0 = voucher window
	Active         bool
	Exclusive      bool
}

// InWindow reports whether the voucher's validity window contains t.
func (v Voucher) InWindow(t time.Time) bool {
	if !v.ValidFrom.IsZero() && t.Before(v.ValidFrom) {
		return false
	}
	if !v.ValidUntil.IsZero() && t.After(v.ValidUntil) {
		return false
	}
	return true
}

// Exhausted reports whether the global usage cap has been reached.
func (v Voucher) Exhausted() bool {
	return v.MaxTotalUsage > 0 && v.CurrentUsage >= v.MaxTotalUsage
}

// =============================================================================
// USER VOUCHER - An account's instance of a voucher
// =============================================================================

type UserVoucherStatus string

const (
	VoucherAvailable UserVoucherStatus = "available"
	VoucherUsed      UserVoucherStatus = "used"
	VoucherExpired   UserVoucherStatus = "expired"
	VoucherRevoked   UserVoucherStatus = "revoked"
)

// UserVoucher is one account's instance of a voucher. It transitions
// exactly once from available to one of used/expired/revoked and never
// reverts.
type UserVoucher struct {
	ID          UserVoucherID
	AccountID   AccountID
	VoucherID   VoucherID
	Status      UserVoucherStatus
	PointsSpent Points
	AcquiredAt  time.Time
	ExpiresAt   *time.Time
	UsedAt      *time.Time
	OrderRef    string
	RevokedBy   string
}

// Expired reports whether the personal expiry has passed at t.
func (uv UserVoucher) Expired(t time.Time) bool {
	return uv.ExpiresAt != nil && t.After(*uv.ExpiresAt)
}

// OrderContext carries the order attributes redemption is computed from.
type OrderContext struct {
	OrderID    string
	OrderValue decimal.Decimal
	At         time.Time // zero = now
}

// DiscountResult is the outcome of a successful redemption.
type DiscountResult struct {
	UserVoucherID UserVoucherID
	VoucherCode   string
	Kind          DiscountKind
	Discount      decimal.Decimal // monetary discount; zero for shipping/gift kinds
	FreeShipping  bool
	Gift          bool
	OrderRef      string
}
