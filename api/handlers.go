/*
handlers.go - HTTP API handlers for the loyalty engine

PURPOSE:
  Exposes the loyalty engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Accounts:
    GET    /api/accounts                    List accounts
    POST   /api/accounts                    Enroll a member
    GET    /api/accounts/{id}               Account state
    GET    /api/accounts/{id}/balance       Current balance
    GET    /api/accounts/{id}/ledger        Entry history (from/to filters)
    GET    /api/accounts/{id}/rank          Current rank
    GET    /api/accounts/{id}/rank/history  Rank transitions
    GET    /api/accounts/{id}/vouchers      Held voucher instances
    GET    /api/accounts/{id}/vouchers/available  Acquirable vouchers

  Events:
    POST   /api/events                      Report an event; may award points

  Vouchers:
    GET    /api/vouchers                    Voucher catalog
    POST   /api/vouchers/{id}/acquire       Spend points on a voucher
    POST   /api/uservouchers/{id}/redeem    Apply a held voucher to an order

  Ranks and rules:
    GET    /api/ranks                       Rank definitions
    GET    /api/rules                       Earning rules

  Admin:
    POST   /api/admin/adjustments           Manual balance correction
    POST   /api/admin/ranks                 Create/update a rank definition
    POST   /api/admin/ranks/assign          Force an account onto a rank
    POST   /api/admin/rules                 Create/update an earning rule
    POST   /api/admin/vouchers              Create/update a voucher
    POST   /api/admin/uservouchers/{id}/revoke  Withdraw and refund
    POST   /api/admin/sweep                 Run expiry sweeps now
    GET    /api/admin/accounts/{id}/audit   Verify ledger integrity

ERROR HANDLING:
  Domain errors map onto HTTP status codes:
  - 400: Validation errors (bad delta, unknown kind, malformed input)
  - 404: Account/voucher not found
  - 409: Business refusals (insufficient balance, exhausted voucher)
  - 500: Configuration errors, storage failures

ACTOR ATTRIBUTION:
  Admin endpoints read the X-Actor header and stamp it onto the ledger
  entries and history records they produce.

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *loyalty.Engine
}

// NewHandler creates a new handler over the engine.
func NewHandler(engine *loyalty.Engine) *Handler {
	return &Handler{Engine: engine}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns all accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Engine.Store().ListAccounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}

	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAccount enrolls a new member at the base rank.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}

	acct, err := h.Engine.Ledger.CreateAccount(r.Context(), loyalty.AccountID(req.ID))
	if err != nil {
		writeDomainError(w, "Failed to create account", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(*acct))
}

// GetAccount returns one account's state.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := loyalty.AccountID(chi.URLParam(r, "id"))

	acct, err := h.Engine.Ledger.GetAccount(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get account", err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(*acct))
}

// GetBalance returns the current balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := loyalty.AccountID(chi.URLParam(r, "id"))

	acct, err := h.Engine.Ledger.GetAccount(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get balance", err)
		return
	}

	current, _ := acct.CurrentPoints.Value.Float64()
	lifetime, _ := acct.LifetimePoints.Value.Float64()
	writeJSON(w, http.StatusOK, BalanceDTO{
		AccountID:      string(acct.ID),
		CurrentPoints:  current,
		LifetimePoints: lifetime,
		AsOf:           time.Now().UTC().Format(time.RFC3339),
	})
}

// GetLedger returns entry history, optionally bounded by from/to.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	id := loyalty.AccountID(chi.URLParam(r, "id"))

	var from, to time.Time
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from (use RFC3339)", err)
			return
		}
		from = t
	}
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to (use RFC3339)", err)
			return
		}
		to = t
	}

	entries, err := h.Engine.Ledger.History(r.Context(), id, from, to)
	if err != nil {
		writeDomainError(w, "Failed to get ledger", err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// =============================================================================
// EVENT HANDLER
// =============================================================================

// SubmitEvent reports an external event. The rule engine decides
// whether and how much to award.
func (h *Handler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AccountID == "" || req.EventType == "" {
		writeError(w, http.StatusBadRequest, "account_id and event_type are required", nil)
		return
	}

	entry, err := h.Engine.Rules.Award(r.Context(), loyalty.AccountID(req.AccountID), req.EventType, loyalty.EventContext{
		OrderValue: decimal.NewFromFloat(req.OrderValue),
		Reference:  req.Reference,
	})
	if err != nil {
		writeDomainError(w, "Failed to process event", err)
		return
	}

	// No matching rule, or the award clamped to zero: accepted, nothing posted.
	if entry == nil {
		writeJSON(w, http.StatusOK, AwardDTO{Awarded: false})
		return
	}

	dto := toEntryDTO(*entry)
	writeJSON(w, http.StatusCreated, AwardDTO{Awarded: true, Entry: &dto})
}

// =============================================================================
// RANK HANDLERS
// =============================================================================

// ListRanks returns the configured rank definitions.
func (h *Handler) ListRanks(w http.ResponseWriter, r *http.Request) {
	ranks := h.Engine.Ranks.Ranks()
	dtos := make([]RankDTO, len(ranks))
	for i, rank := range ranks {
		dtos[i] = toRankDTO(rank)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRank returns the account's current rank.
func (h *Handler) GetRank(w http.ResponseWriter, r *http.Request) {
	id := loyalty.AccountID(chi.URLParam(r, "id"))

	rank, err := h.Engine.Ranks.CurrentRank(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get rank", err)
		return
	}
	writeJSON(w, http.StatusOK, toRankDTO(*rank))
}

// GetRankHistory returns the account's rank transitions.
func (h *Handler) GetRankHistory(w http.ResponseWriter, r *http.Request) {
	id := loyalty.AccountID(chi.URLParam(r, "id"))

	history, err := h.Engine.Ranks.History(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get rank history", err)
		return
	}

	dtos := make([]RankHistoryDTO, len(history))
	for i, entry := range history {
		dtos[i] = toRankHistoryDTO(entry)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListRules returns the active earning rules in evaluation order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules := h.Engine.Rules.Rules()

	type ruleDTO struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		EventType string `json:"event_type"`
		Priority  int    `json:"priority"`
		Active    bool   `json:"active"`
	}
	dtos := make([]ruleDTO, len(rules))
	for i, rule := range rules {
		dtos[i] = ruleDTO{
			ID:        string(rule.ID),
			Name:      rule.Name,
			EventType: rule.EventType,
			Priority:  rule.Priority,
			Active:    rule.Active,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// VOUCHER HANDLERS
// =============================================================================

// ListVouchers returns the voucher catalog.
func (h *Handler) ListVouchers(w http.ResponseWriter, r *http.Request) {
	vouchers, err := h.Engine.Store().ListVouchers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list vouchers", err)
		return
	}

	dtos := make([]VoucherDTO, len(vouchers))
	for i, v := range vouchers {
		dtos[i] = toVoucherDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListAvailableVouchers returns the vouchers the account could acquire.
func (h *Handler) ListAvailableVouchers(w http.ResponseWriter, r *http.Request) {
	id := loyalty.AccountID(chi.URLParam(r, "id"))

	vouchers, err := h.Engine.Vouchers.ListAvailable(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to list available vouchers", err)
		return
	}

	dtos := make([]VoucherDTO, len(vouchers))
	for i, v := range vouchers {
		dtos[i] = toVoucherDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListHeldVouchers returns the account's voucher instances.
func (h *Handler) ListHeldVouchers(w http.ResponseWriter, r *http.Request) {
	id := loyalty.AccountID(chi.URLParam(r, "id"))

	instances, err := h.Engine.Vouchers.Held(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to list vouchers", err)
		return
	}

	dtos := make([]UserVoucherDTO, len(instances))
	for i, uv := range instances {
		dtos[i] = toUserVoucherDTO(uv)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AcquireVoucher spends points to acquire a voucher instance.
func (h *Handler) AcquireVoucher(w http.ResponseWriter, r *http.Request) {
	voucherID := loyalty.VoucherID(chi.URLParam(r, "id"))

	var req AcquireVoucherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "account_id is required", nil)
		return
	}

	instance, err := h.Engine.Vouchers.Acquire(r.Context(), loyalty.AccountID(req.AccountID), voucherID)
	if err != nil {
		writeDomainError(w, "Failed to acquire voucher", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserVoucherDTO(*instance))
}

// RedeemVoucher applies a held voucher instance to an order.
func (h *Handler) RedeemVoucher(w http.ResponseWriter, r *http.Request) {
	id := loyalty.UserVoucherID(chi.URLParam(r, "id"))

	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.OrderID == "" {
		writeError(w, http.StatusBadRequest, "order_id is required", nil)
		return
	}

	result, err := h.Engine.Vouchers.Redeem(r.Context(), id, loyalty.OrderContext{
		OrderID:    req.OrderID,
		OrderValue: decimal.NewFromFloat(req.OrderValue),
	})
	if err != nil {
		writeDomainError(w, "Failed to redeem voucher", err)
		return
	}
	writeJSON(w, http.StatusOK, toDiscountDTO(*result))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateAdjustment posts a manual balance correction.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AccountID == "" || req.Reason == "" {
		writeError(w, http.StatusBadRequest, "account_id and reason are required", nil)
		return
	}

	entry, err := h.Engine.Ledger.Post(r.Context(), loyalty.PostInput{
		AccountID: loyalty.AccountID(req.AccountID),
		Kind:      loyalty.KindAdminAdjust,
		Delta:     loyalty.PointsFromFloat(req.Delta),
		Reason:    req.Reason,
		Actor:     actor(r),
	})
	if err != nil {
		writeDomainError(w, "Failed to post adjustment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(*entry))
}

// SaveRank creates or updates a rank definition and reloads the band
// set. An update that breaks band contiguity is rejected before any
// account is evaluated against it.
func (h *Handler) SaveRank(w http.ResponseWriter, r *http.Request) {
	var req SaveRankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	rank := loyalty.Rank{
		ID:              loyalty.RankID(req.ID),
		Name:            req.Name,
		Level:           req.Level,
		MinPoints:       loyalty.PointsFromFloat(req.MinPoints),
		Multiplier:      decimal.NewFromFloat(req.Multiplier),
		DiscountPercent: decimal.NewFromFloat(req.DiscountPercent),
		Active:          req.Active,
	}
	if req.MaxPoints != nil {
		p := loyalty.PointsFromFloat(*req.MaxPoints)
		rank.MaxPoints = &p
	}

	if err := h.Engine.Store().SaveRank(r.Context(), rank); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save rank", err)
		return
	}
	if err := h.Engine.Ranks.Reload(r.Context()); err != nil {
		writeDomainError(w, "Rank set is invalid", err)
		return
	}
	writeJSON(w, http.StatusOK, toRankDTO(rank))
}

// SaveRule creates or updates an earning rule and reloads the rule
// set. An update keeps the original creation time so the most-recent
// tie-break stays stable across edits.
func (h *Handler) SaveRule(w http.ResponseWriter, r *http.Request) {
	var req SaveRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" || req.EventType == "" {
		writeError(w, http.StatusBadRequest, "id, name, and event_type are required", nil)
		return
	}

	rule := loyalty.PointRule{
		ID:                loyalty.RuleID(req.ID),
		Name:              req.Name,
		EventType:         req.EventType,
		PointsPerAction:   loyalty.PointsFromFloat(req.PointsPerAction),
		PointsPerCurrency: decimal.NewFromFloat(req.PointsPerCurrency),
		UseRankMultiplier: req.UseRankMultiplier,
		PointsValidFor:    time.Duration(req.PointsValidFor) * time.Second,
		Priority:          req.Priority,
		Active:            req.Active,
		CreatedAt:         time.Now().UTC(),
	}
	if req.MaxPointsPerDay != nil {
		p := loyalty.PointsFromFloat(*req.MaxPointsPerDay)
		rule.MaxPointsPerDay = &p
	}
	if req.MaxPointsPerUser != nil {
		p := loyalty.PointsFromFloat(*req.MaxPointsPerUser)
		rule.MaxPointsPerUser = &p
	}
	if req.MinOrderValue != nil {
		d := decimal.NewFromFloat(*req.MinOrderValue)
		rule.MinOrderValue = &d
	}
	for _, rank := range req.Ranks {
		rule.Ranks = append(rule.Ranks, loyalty.RankID(rank))
	}
	if req.ValidFrom != nil {
		t, err := time.Parse(time.RFC3339, *req.ValidFrom)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid valid_from", err)
			return
		}
		rule.ValidFrom = t
	}
	if req.ValidUntil != nil {
		t, err := time.Parse(time.RFC3339, *req.ValidUntil)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid valid_until", err)
			return
		}
		rule.ValidUntil = t
	}

	existing, err := h.Engine.Store().ListRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load rules", err)
		return
	}
	for _, old := range existing {
		if old.ID == rule.ID {
			rule.CreatedAt = old.CreatedAt
			break
		}
	}

	if err := h.Engine.Store().SaveRule(r.Context(), rule); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save rule", err)
		return
	}
	if err := h.Engine.Rules.Reload(r.Context()); err != nil {
		writeDomainError(w, "Failed to reload rules", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": req.ID, "saved": true})
}

// AssignRank forces an account onto a rank by administrative override.
func (h *Handler) AssignRank(w http.ResponseWriter, r *http.Request) {
	var req AssignRankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.AccountID == "" || req.RankID == "" {
		writeError(w, http.StatusBadRequest, "account_id and rank_id are required", nil)
		return
	}

	transition, err := h.Engine.Ranks.AdminAssign(r.Context(),
		loyalty.AccountID(req.AccountID), loyalty.RankID(req.RankID), actor(r))
	if err != nil {
		writeDomainError(w, "Failed to assign rank", err)
		return
	}

	if transition == nil {
		writeJSON(w, http.StatusOK, map[string]any{"changed": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"changed": true,
		"to":      toRankDTO(transition.To),
	})
}

// SaveVoucher creates or updates a voucher definition.
func (h *Handler) SaveVoucher(w http.ResponseWriter, r *http.Request) {
	var req VoucherDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "id and code are required", nil)
		return
	}

	voucher := loyalty.Voucher{
		ID:             loyalty.VoucherID(req.ID),
		Code:           req.Code,
		Name:           req.Name,
		Kind:           loyalty.DiscountKind(req.Kind),
		Value:          decimal.NewFromFloat(req.Value),
		RequiredPoints: loyalty.PointsFromFloat(req.RequiredPoints),
		MaxPerUser:     req.MaxPerUser,
		MaxTotalUsage:  req.MaxTotalUsage,
		ExpiresAfter:   time.Duration(req.ExpiresAfter) * time.Second,
		Active:         req.Active,
	}
	if req.MaxDiscount != nil {
		d := decimal.NewFromFloat(*req.MaxDiscount)
		voucher.MaxDiscount = &d
	}
	if req.MinOrderValue != nil {
		d := decimal.NewFromFloat(*req.MinOrderValue)
		voucher.MinOrderValue = &d
	}
	if req.RequiredRank != nil {
		rid := loyalty.RankID(*req.RequiredRank)
		voucher.RequiredRank = &rid
	}
	if req.ValidFrom != nil {
		t, err := time.Parse(time.RFC3339, *req.ValidFrom)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid valid_from", err)
			return
		}
		voucher.ValidFrom = t
	}
	if req.ValidUntil != nil {
		t, err := time.Parse(time.RFC3339, *req.ValidUntil)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid valid_until", err)
			return
		}
		voucher.ValidUntil = t
	}

	// The engine owns the usage counter; the request never sets it.
	saved, err := h.Engine.Vouchers.Save(r.Context(), voucher)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save voucher", err)
		return
	}
	writeJSON(w, http.StatusOK, toVoucherDTO(*saved))
}

// RevokeVoucher withdraws an unused voucher instance and refunds it.
func (h *Handler) RevokeVoucher(w http.ResponseWriter, r *http.Request) {
	id := loyalty.UserVoucherID(chi.URLParam(r, "id"))

	instance, err := h.Engine.Vouchers.Revoke(r.Context(), id, actor(r))
	if err != nil {
		writeDomainError(w, "Failed to revoke voucher", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserVoucherDTO(*instance))
}

// RunSweep triggers the point and voucher expiry sweeps immediately.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	asOf := time.Now().UTC()

	points, err := h.Engine.Ledger.SweepExpiredPoints(r.Context(), asOf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Point sweep failed", err)
		return
	}
	vouchers, err := h.Engine.Vouchers.SweepExpired(r.Context(), asOf)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Voucher sweep failed", err)
		return
	}

	writeJSON(w, http.StatusOK, SweepResultDTO{
		PointEntries: points,
		Vouchers:     vouchers,
		AsOf:         asOf.Format(time.RFC3339),
	})
}

// AuditAccount recomputes the account's state from its ledger and
// reports whether the stored state matches.
func (h *Handler) AuditAccount(w http.ResponseWriter, r *http.Request) {
	id := loyalty.AccountID(chi.URLParam(r, "id"))

	if err := h.Engine.Ledger.Audit(r.Context(), id); err != nil {
		if loyalty.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "Account not found", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"consistent": false, "detail": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"consistent": true})
}

// =============================================================================
// HELPERS
// =============================================================================

// actor identifies the administrator from the X-Actor header.
func actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "admin"
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the engine's error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case loyalty.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case loyalty.IsValidationError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case loyalty.IsBusinessError(err):
		writeError(w, http.StatusConflict, message, err)
	case loyalty.IsConfigError(err):
		log.Printf("[Config] %s: %v", message, err)
		writeError(w, http.StatusInternalServerError, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
