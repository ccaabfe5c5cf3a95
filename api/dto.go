/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// AccountDTO represents a member account in API responses.
type AccountDTO struct {
	ID             string  `json:"id"`
	CurrentPoints  float64 `json:"current_points"`
	LifetimePoints float64 `json:"lifetime_points"`
	RankID         string  `json:"rank_id"`
	CreatedAt      string  `json:"created_at,omitempty"`
}

// CreateAccountRequest is the request to enroll a member.
type CreateAccountRequest struct {
	ID string `json:"id"`
}

// BalanceDTO is the balance summary for one account.
type BalanceDTO struct {
	AccountID      string  `json:"account_id"`
	CurrentPoints  float64 `json:"current_points"`
	LifetimePoints float64 `json:"lifetime_points"`
	AsOf           string  `json:"as_of"`
}

// EntryDTO represents one ledger entry.
type EntryDTO struct {
	ID           string  `json:"id"`
	AccountID    string  `json:"account_id"`
	Kind         string  `json:"kind"`
	Delta        float64 `json:"delta"`
	BalanceAfter float64 `json:"balance_after"`
	Reason       string  `json:"reason,omitempty"`
	Reference    string  `json:"reference,omitempty"`
	RuleID       string  `json:"rule_id,omitempty"`
	EventType    string  `json:"event_type,omitempty"`
	ExpiresAt    *string `json:"expires_at,omitempty"`
	Actor        string  `json:"actor,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// EventRequest reports an external event for point awarding.
type EventRequest struct {
	AccountID  string  `json:"account_id"`
	EventType  string  `json:"event_type"`
	OrderValue float64 `json:"order_value,omitempty"`
	Reference  string  `json:"reference,omitempty"`
}

// AwardDTO is the outcome of an event submission.
type AwardDTO struct {
	Awarded bool      `json:"awarded"`
	Entry   *EntryDTO `json:"entry,omitempty"`
}

// RankDTO represents a rank definition.
type RankDTO struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Level           int      `json:"level"`
	MinPoints       float64  `json:"min_points"`
	MaxPoints       *float64 `json:"max_points,omitempty"`
	Multiplier      float64  `json:"multiplier"`
	DiscountPercent float64  `json:"discount_percent"`
	Active          bool     `json:"active"`
}

// RankHistoryDTO represents one rank transition.
type RankHistoryDTO struct {
	ID             string  `json:"id"`
	AccountID      string  `json:"account_id"`
	FromRank       *string `json:"from_rank,omitempty"`
	ToRank         string  `json:"to_rank"`
	LifetimePoints float64 `json:"lifetime_points"`
	Reason         string  `json:"reason"`
	Actor          string  `json:"actor,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

// SaveRankRequest creates or updates a rank definition.
type SaveRankRequest struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Level           int      `json:"level"`
	MinPoints       float64  `json:"min_points"`
	MaxPoints       *float64 `json:"max_points,omitempty"`
	Multiplier      float64  `json:"multiplier"`
	DiscountPercent float64  `json:"discount_percent"`
	Active          bool     `json:"active"`
}

// AssignRankRequest forces an account onto a rank.
type AssignRankRequest struct {
	AccountID string `json:"account_id"`
	RankID    string `json:"rank_id"`
}

// AdjustmentRequest is a manual balance correction.
type AdjustmentRequest struct {
	AccountID string  `json:"account_id"`
	Delta     float64 `json:"delta"`
	Reason    string  `json:"reason"`
}

// VoucherDTO represents a voucher definition.
type VoucherDTO struct {
	ID             string   `json:"id"`
	Code           string   `json:"code"`
	Name           string   `json:"name"`
	Kind           string   `json:"kind"`
	Value          float64  `json:"value"`
	MaxDiscount    *float64 `json:"max_discount,omitempty"`
	MinOrderValue  *float64 `json:"min_order_value,omitempty"`
	RequiredRank   *string  `json:"required_rank,omitempty"`
	RequiredPoints float64  `json:"required_points"`
	MaxPerUser     int      `json:"max_per_user"`
	MaxTotalUsage  int      `json:"max_total_usage"`
	CurrentUsage   int      `json:"current_usage"`
	ValidFrom      *string  `json:"valid_from,omitempty"`
	ValidUntil     *string  `json:"valid_until,omitempty"`
	ExpiresAfter   int64    `json:"expires_after_secs,omitempty"`
	Active         bool     `json:"active"`
}

// UserVoucherDTO represents a member's voucher instance.
type UserVoucherDTO struct {
	ID          string  `json:"id"`
	AccountID   string  `json:"account_id"`
	VoucherID   string  `json:"voucher_id"`
	Status      string  `json:"status"`
	PointsSpent float64 `json:"points_spent"`
	AcquiredAt  string  `json:"acquired_at"`
	ExpiresAt   *string `json:"expires_at,omitempty"`
	UsedAt      *string `json:"used_at,omitempty"`
	OrderRef    string  `json:"order_ref,omitempty"`
}

// AcquireVoucherRequest spends points on a voucher.
type AcquireVoucherRequest struct {
	AccountID string `json:"account_id"`
}

// SaveRuleRequest creates or updates an earning rule.
type SaveRuleRequest struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	EventType         string   `json:"event_type"`
	PointsPerAction   float64  `json:"points_per_action,omitempty"`
	PointsPerCurrency float64  `json:"points_per_currency,omitempty"`
	MaxPointsPerDay   *float64 `json:"max_points_per_day,omitempty"`
	MaxPointsPerUser  *float64 `json:"max_points_per_user,omitempty"`
	MinOrderValue     *float64 `json:"min_order_value,omitempty"`
	Ranks             []string `json:"ranks,omitempty"`
	UseRankMultiplier bool     `json:"use_rank_multiplier,omitempty"`
	PointsValidFor    int64    `json:"points_valid_for_secs,omitempty"`
	ValidFrom         *string  `json:"valid_from,omitempty"`
	ValidUntil        *string  `json:"valid_until,omitempty"`
	Priority          int      `json:"priority"`
	Active            bool     `json:"active"`
}

// RedeemRequest applies a held voucher to an order.
type RedeemRequest struct {
	OrderID    string  `json:"order_id"`
	OrderValue float64 `json:"order_value"`
}

// DiscountDTO is the outcome of a redemption.
type DiscountDTO struct {
	UserVoucherID string  `json:"user_voucher_id"`
	VoucherCode   string  `json:"voucher_code"`
	Kind          string  `json:"kind"`
	Discount      float64 `json:"discount"`
	FreeShipping  bool    `json:"free_shipping,omitempty"`
	Gift          bool    `json:"gift,omitempty"`
	OrderRef      string  `json:"order_ref"`
}

// SweepResultDTO reports what a sweep run expired.
type SweepResultDTO struct {
	PointEntries int    `json:"point_entries"`
	Vouchers     int    `json:"vouchers"`
	AsOf         string `json:"as_of"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toAccountDTO(a loyalty.Account) AccountDTO {
	current, _ := a.CurrentPoints.Value.Float64()
	lifetime, _ := a.LifetimePoints.Value.Float64()
	return AccountDTO{
		ID:             string(a.ID),
		CurrentPoints:  current,
		LifetimePoints: lifetime,
		RankID:         string(a.RankID),
		CreatedAt:      a.CreatedAt.Format(time.RFC3339),
	}
}

func toEntryDTO(e loyalty.LedgerEntry) EntryDTO {
	delta, _ := e.Delta.Value.Float64()
	balance, _ := e.BalanceAfter.Value.Float64()
	dto := EntryDTO{
		ID:           string(e.ID),
		AccountID:    string(e.AccountID),
		Kind:         string(e.Kind),
		Delta:        delta,
		BalanceAfter: balance,
		Reason:       e.Reason,
		Reference:    e.Reference,
		RuleID:       string(e.RuleID),
		EventType:    e.EventType,
		Actor:        e.Actor,
		CreatedAt:    e.CreatedAt.Format(time.RFC3339),
	}
	if e.ExpiresAt != nil {
		s := e.ExpiresAt.Format(time.RFC3339)
		dto.ExpiresAt = &s
	}
	return dto
}

func toEntryDTOs(entries []loyalty.LedgerEntry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toRankDTO(r loyalty.Rank) RankDTO {
	min, _ := r.MinPoints.Value.Float64()
	mult, _ := r.Multiplier.Float64()
	disc, _ := r.DiscountPercent.Float64()
	dto := RankDTO{
		ID:              string(r.ID),
		Name:            r.Name,
		Level:           r.Level,
		MinPoints:       min,
		Multiplier:      mult,
		DiscountPercent: disc,
		Active:          r.Active,
	}
	if r.MaxPoints != nil {
		max, _ := r.MaxPoints.Value.Float64()
		dto.MaxPoints = &max
	}
	return dto
}

func toRankHistoryDTO(h loyalty.RankHistory) RankHistoryDTO {
	lifetime, _ := h.LifetimePoints.Value.Float64()
	dto := RankHistoryDTO{
		ID:             h.ID,
		AccountID:      string(h.AccountID),
		ToRank:         string(h.ToRank),
		LifetimePoints: lifetime,
		Reason:         h.Reason,
		Actor:          h.Actor,
		CreatedAt:      h.CreatedAt.Format(time.RFC3339),
	}
	if h.FromRank != nil {
		from := string(*h.FromRank)
		dto.FromRank = &from
	}
	return dto
}

func toVoucherDTO(v loyalty.Voucher) VoucherDTO {
	value, _ := v.Value.Float64()
	required, _ := v.RequiredPoints.Value.Float64()
	dto := VoucherDTO{
		ID:             string(v.ID),
		Code:           v.Code,
		Name:           v.Name,
		Kind:           string(v.Kind),
		Value:          value,
		RequiredPoints: required,
		MaxPerUser:     v.MaxPerUser,
		MaxTotalUsage:  v.MaxTotalUsage,
		CurrentUsage:   v.CurrentUsage,
		ExpiresAfter:   int64(v.ExpiresAfter / time.Second),
		Active:         v.Active,
	}
	if !v.ValidFrom.IsZero() {
		s := v.ValidFrom.Format(time.RFC3339)
		dto.ValidFrom = &s
	}
	if !v.ValidUntil.IsZero() {
		s := v.ValidUntil.Format(time.RFC3339)
		dto.ValidUntil = &s
	}
	if v.MaxDiscount != nil {
		f, _ := v.MaxDiscount.Float64()
		dto.MaxDiscount = &f
	}
	if v.MinOrderValue != nil {
		f, _ := v.MinOrderValue.Float64()
		dto.MinOrderValue = &f
	}
	if v.RequiredRank != nil {
		r := string(*v.RequiredRank)
		dto.RequiredRank = &r
	}
	return dto
}

func toUserVoucherDTO(uv loyalty.UserVoucher) UserVoucherDTO {
	spent, _ := uv.PointsSpent.Value.Float64()
	dto := UserVoucherDTO{
		ID:          string(uv.ID),
		AccountID:   string(uv.AccountID),
		VoucherID:   string(uv.VoucherID),
		Status:      string(uv.Status),
		PointsSpent: spent,
		AcquiredAt:  uv.AcquiredAt.Format(time.RFC3339),
		OrderRef:    uv.OrderRef,
	}
	if uv.ExpiresAt != nil {
		s := uv.ExpiresAt.Format(time.RFC3339)
		dto.ExpiresAt = &s
	}
	if uv.UsedAt != nil {
		s := uv.UsedAt.Format(time.RFC3339)
		dto.UsedAt = &s
	}
	return dto
}

func toDiscountDTO(d loyalty.DiscountResult) DiscountDTO {
	discount, _ := d.Discount.Float64()
	return DiscountDTO{
		UserVoucherID: string(d.UserVoucherID),
		VoucherCode:   d.VoucherCode,
		Kind:          string(d.Kind),
		Discount:      discount,
		FreeShipping:  d.FreeShipping,
		Gift:          d.Gift,
		OrderRef:      d.OrderRef,
	}
}
