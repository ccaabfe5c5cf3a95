/*
voucher.go - Voucher acquisition, redemption, and revocation

PURPOSE:
  Manages the points-to-voucher-to-discount lifecycle. Acquisition
  spends points for a personal UserVoucher instance; redemption applies
  that instance's discount to one order, exactly once; revocation
  returns an unused instance and refunds its cost.

USAGE CAP INVARIANT:
  CurrentUsage never exceeds MaxTotalUsage when a cap is set. The cap
  check, the spend posting, the counter increment, and the UserVoucher
  creation commit as one atomic unit under the voucher lock, so two
  concurrent acquisitions cannot both take the last slot.

ONE-WAY TRANSITIONS:
  A UserVoucher moves exactly once from available to used, expired, or
  revoked. Redemption is final: reversing it is not an operation this
  engine offers. Revocation applies only to available instances.

LOCK ORDER:
  Voucher lock before account lock, always. Acquisition takes both;
  redemption, revocation, and the expiry sweep take only the account
  lock of the owning member.

SEE ALSO:
  - ledger.go: PostAtomic carries the voucher writes with the spend
  - sweep.go: the point-expiry counterpart of SweepExpired
*/
package loyalty

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// VOUCHER ENGINE
// =============================================================================

// VoucherEngine manages eligibility, acquisition, and redemption.
// Construct via NewEngine.
type VoucherEngine struct {
	store    Store
	ledger   *Ledger
	ranks    *RankEngine
	vouchers *lockTable // per-voucher serialization for usage caps
	accounts *lockTable // shared with the ledger
}

// =============================================================================
// ACQUIRE
// =============================================================================

// Acquire spends points to create an available UserVoucher.
//
// Fails with VoucherNotEligible (inactive, outside window, rank not
// held, per-user limit reached), VoucherExhausted (global cap), or
// InsufficientBalance (cannot afford the point cost). The eligibility
// re-check, spend, counter increment, and instance creation are atomic
// as a unit.
func (e *VoucherEngine) Acquire(ctx context.Context, id AccountID, voucherID VoucherID) (*UserVoucher, error) {
	release := e.vouchers.acquire(string(voucherID))
	defer release()

	now := time.Now().UTC()

	voucher, err := e.store.GetVoucher(ctx, voucherID)
	if err != nil {
		return nil, err
	}
	if voucher == nil {
		return nil, fmt.Errorf("voucher %s: %w", voucherID, ErrNotFound)
	}

	acct, err := e.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}

	if reason := e.eligibility(ctx, acct, voucher, now); reason != "" {
		return nil, &VoucherNotEligibleError{VoucherID: voucherID, Reason: reason}
	}
	if voucher.Exhausted() {
		return nil, &VoucherExhaustedError{VoucherID: voucherID}
	}

	instance := UserVoucher{
		ID:          UserVoucherID(uuid.NewString()),
		AccountID:   id,
		VoucherID:   voucherID,
		Status:      VoucherAvailable,
		PointsSpent: voucher.RequiredPoints,
		AcquiredAt:  now,
		ExpiresAt:   personalExpiry(*voucher, now),
	}
	voucher.CurrentUsage++

	_, err = e.ledger.PostAtomic(ctx, id, func(*Account, []LedgerEntry) (*PostInput, error) {
		if !voucher.RequiredPoints.IsPositive() {
			return nil, nil // free voucher, no spend entry
		}
		return &PostInput{
			AccountID: id,
			Kind:      KindSpend,
			Delta:     voucher.RequiredPoints.Neg(),
			Reason:    fmt.Sprintf("voucher %s acquired", voucher.Code),
			Reference: string(instance.ID),
			At:        now,
		}, nil
	}, func(change *Change) error {
		change.Voucher = voucher
		change.UserVoucher = &instance
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &instance, nil
}

// eligibility returns the refusal reason, or "" when acquirable.
func (e *VoucherEngine) eligibility(ctx context.Context, acct *Account, v *Voucher, now time.Time) string {
	if !v.Active {
		return "voucher is inactive"
	}
	if !v.InWindow(now) {
		return "outside validity window"
	}
	if v.RequiredRank != nil && !e.holdsRank(acct, *v.RequiredRank) {
		return fmt.Sprintf("requires rank %s", *v.RequiredRank)
	}
	if v.MaxPerUser > 0 {
		count, err := e.store.CountUserVouchers(ctx, acct.ID, v.ID)
		if err != nil || count >= v.MaxPerUser {
			return "per-user limit reached"
		}
	}
	return ""
}

// holdsRank reports whether the account's rank satisfies the
// requirement. A higher tier satisfies a lower requirement.
func (e *VoucherEngine) holdsRank(acct *Account, required RankID) bool {
	if acct.RankID == required {
		return true
	}
	if e.ranks == nil {
		return false
	}
	held := e.ranks.ByID(acct.RankID)
	want := e.ranks.ByID(required)
	return held != nil && want != nil && held.Level >= want.Level
}

// personalExpiry derives the instance expiry: a relative lifetime when
// configured, otherwise the voucher's own window end.
func personalExpiry(v Voucher, acquiredAt time.Time) *time.Time {
	if v.ExpiresAfter > 0 {
		exp := acquiredAt.Add(v.ExpiresAfter)
		return &exp
	}
	if !v.ValidUntil.IsZero() {
		exp := v.ValidUntil
		return &exp
	}
	return nil
}

// =============================================================================
// REDEEM
// =============================================================================

// Redeem applies an available UserVoucher's discount to an order and
// marks it used. The transition is final; it never reverts.
//
// Fails with VoucherNotAvailable when the instance is not available or
// has personally expired, and with VoucherNotEligible when the order
// is below the voucher's minimum value.
func (e *VoucherEngine) Redeem(ctx context.Context, id UserVoucherID, order OrderContext) (*DiscountResult, error) {
	instance, err := e.store.GetUserVoucher(ctx, id)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, fmt.Errorf("user voucher %s: %w", id, ErrNotFound)
	}

	release := e.accounts.acquire(string(instance.AccountID))
	defer release()

	// Reload under the lock; a concurrent redeem may have won.
	instance, err = e.store.GetUserVoucher(ctx, id)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, fmt.Errorf("user voucher %s: %w", id, ErrNotFound)
	}

	at := order.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	if instance.Status != VoucherAvailable {
		return nil, &VoucherNotAvailableError{UserVoucherID: id, Status: instance.Status}
	}
	if instance.Expired(at) {
		// Lapsed while sitting available; record the expiry on the way out.
		instance.Status = VoucherExpired
		if err := e.apply(ctx, Change{UserVoucher: instance}); err != nil {
			return nil, err
		}
		return nil, &VoucherNotAvailableError{UserVoucherID: id, Status: VoucherExpired}
	}

	voucher, err := e.store.GetVoucher(ctx, instance.VoucherID)
	if err != nil {
		return nil, err
	}
	if voucher == nil {
		return nil, fmt.Errorf("voucher %s: %w", instance.VoucherID, ErrNotFound)
	}
	if voucher.MinOrderValue != nil && order.OrderValue.LessThan(*voucher.MinOrderValue) {
		return nil, &VoucherNotEligibleError{
			VoucherID: voucher.ID,
			Reason:    fmt.Sprintf("order value below minimum %s", voucher.MinOrderValue),
		}
	}

	result := computeDiscount(*voucher, order)
	result.UserVoucherID = id

	instance.Status = VoucherUsed
	instance.UsedAt = &at
	instance.OrderRef = order.OrderID
	if err := e.apply(ctx, Change{UserVoucher: instance}); err != nil {
		return nil, err
	}
	return &result, nil
}

// computeDiscount resolves the voucher's mechanism against the order.
func computeDiscount(v Voucher, order OrderContext) DiscountResult {
	result := DiscountResult{
		VoucherCode: v.Code,
		Kind:        v.Kind,
		Discount:    decimal.Zero,
		OrderRef:    order.OrderID,
	}

	switch v.Kind {
	case DiscountPercentage:
		result.Discount = order.OrderValue.Mul(v.Value).Div(decimal.NewFromInt(100))
	case DiscountFixed:
		result.Discount = v.Value
	case DiscountFreeShipping:
		result.FreeShipping = true
	case DiscountGift:
		result.Gift = true
	}

	if v.MaxDiscount != nil && result.Discount.GreaterThan(*v.MaxDiscount) {
		result.Discount = *v.MaxDiscount
	}
	if result.Discount.GreaterThan(order.OrderValue) {
		result.Discount = order.OrderValue
	}
	return result
}

// =============================================================================
// REVOKE
// =============================================================================

// Revoke withdraws an unused instance and refunds its point cost. Only
// available instances can be revoked; a used voucher stays used.
func (e *VoucherEngine) Revoke(ctx context.Context, id UserVoucherID, actor string) (*UserVoucher, error) {
	instance, err := e.store.GetUserVoucher(ctx, id)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, fmt.Errorf("user voucher %s: %w", id, ErrNotFound)
	}

	var revoked *UserVoucher
	_, err = e.ledger.PostAtomic(ctx, instance.AccountID, func(*Account, []LedgerEntry) (*PostInput, error) {
		// Re-check status under the account lock.
		current, err := e.store.GetUserVoucher(ctx, id)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, fmt.Errorf("user voucher %s: %w", id, ErrNotFound)
		}
		if current.Status != VoucherAvailable {
			return nil, &VoucherNotAvailableError{UserVoucherID: id, Status: current.Status}
		}

		current.Status = VoucherRevoked
		current.RevokedBy = actor
		revoked = current

		if !current.PointsSpent.IsPositive() {
			return nil, nil
		}
		return &PostInput{
			AccountID: current.AccountID,
			Kind:      KindRefund,
			Delta:     current.PointsSpent,
			Reason:    "voucher revoked",
			Reference: string(id),
			Actor:     actor,
		}, nil
	}, func(change *Change) error {
		change.UserVoucher = revoked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return revoked, nil
}

// =============================================================================
// ADMINISTRATION
// =============================================================================

// Save creates or updates a voucher definition under the voucher lock.
// The live usage counter is never taken from the input: an update keeps
// the stored count, so re-administering a voucher cannot reopen slots
// past its cap or race a concurrent acquisition.
func (e *VoucherEngine) Save(ctx context.Context, v Voucher) (*Voucher, error) {
	release := e.vouchers.acquire(string(v.ID))
	defer release()

	existing, err := e.store.GetVoucher(ctx, v.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		v.CurrentUsage = existing.CurrentUsage
	} else {
		v.CurrentUsage = 0
	}

	if err := e.store.SaveVoucher(ctx, v); err != nil {
		return nil, err
	}
	return &v, nil
}

// =============================================================================
// BROWSING
// =============================================================================

// ListAvailable returns the vouchers the account could acquire now:
// active, in window, rank requirement met, and neither the global nor
// the per-user cap reached. Affordability is not filtered; the UI
// shows the cost.
func (e *VoucherEngine) ListAvailable(ctx context.Context, id AccountID) ([]Voucher, error) {
	acct, err := e.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}

	all, err := e.store.ListVouchers(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	available := make([]Voucher, 0, len(all))
	for _, v := range all {
		voucher := v
		if e.eligibility(ctx, acct, &voucher, now) != "" || voucher.Exhausted() {
			continue
		}
		available = append(available, voucher)
	}
	return available, nil
}

// Held returns the account's UserVoucher instances.
func (e *VoucherEngine) Held(ctx context.Context, id AccountID) ([]UserVoucher, error) {
	return e.store.ListUserVouchers(ctx, id)
}

// =============================================================================
// EXPIRY SWEEP
// =============================================================================

// SweepExpired transitions available instances whose expiry has passed
// to expired. Idempotent: already used, revoked, or expired instances
// are never touched, and a re-run after completion does nothing.
func (e *VoucherEngine) SweepExpired(ctx context.Context, asOf time.Time) (int, error) {
	candidates, err := e.store.ListUserVouchersByStatus(ctx, VoucherAvailable)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, candidate := range candidates {
		if !candidate.Expired(asOf) {
			continue
		}

		release := e.accounts.acquire(string(candidate.AccountID))
		instance, err := e.store.GetUserVoucher(ctx, candidate.ID)
		if err == nil && instance != nil && instance.Status == VoucherAvailable && instance.Expired(asOf) {
			instance.Status = VoucherExpired
			err = e.apply(ctx, Change{UserVoucher: instance})
			if err == nil {
				swept++
			}
		}
		release()
		if err != nil {
			return swept, err
		}
	}
	return swept, nil
}

// apply commits a change with the engine's standard single retry.
func (e *VoucherEngine) apply(ctx context.Context, change Change) error {
	err := e.store.Apply(ctx, change)
	if IsRetryable(err) {
		err = e.store.Apply(ctx, change)
	}
	return err
}
