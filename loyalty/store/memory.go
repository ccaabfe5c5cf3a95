// Package store provides Store implementations backed by memory.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	accounts     map[loyalty.AccountID]loyalty.Account
	entries      map[loyalty.AccountID][]loyalty.LedgerEntry
	rankHistory  map[loyalty.AccountID][]loyalty.RankHistory
	ranks        map[loyalty.RankID]loyalty.Rank
	rules        map[loyalty.RuleID]loyalty.PointRule
	vouchers     map[loyalty.VoucherID]loyalty.Voucher
	userVouchers map[loyalty.UserVoucherID]loyalty.UserVoucher
}

func NewMemory() *Memory {
	return &Memory{
		accounts:     make(map[loyalty.AccountID]loyalty.Account),
		entries:      make(map[loyalty.AccountID][]loyalty.LedgerEntry),
		rankHistory:  make(map[loyalty.AccountID][]loyalty.RankHistory),
		ranks:        make(map[loyalty.RankID]loyalty.Rank),
		rules:        make(map[loyalty.RuleID]loyalty.PointRule),
		vouchers:     make(map[loyalty.VoucherID]loyalty.Voucher),
		userVouchers: make(map[loyalty.UserVoucherID]loyalty.UserVoucher),
	}
}

// Apply commits the change under one lock acquisition; a partially
// visible change is never observable.
func (m *Memory) Apply(_ context.Context, change loyalty.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if change.Account != nil {
		m.accounts[change.Account.ID] = *change.Account
	}
	for _, e := range change.Entries {
		m.entries[e.AccountID] = append(m.entries[e.AccountID], e)
	}
	if change.RankHistory != nil {
		h := *change.RankHistory
		m.rankHistory[h.AccountID] = append(m.rankHistory[h.AccountID], h)
	}
	if change.Voucher != nil {
		m.vouchers[change.Voucher.ID] = *change.Voucher
	}
	if change.UserVoucher != nil {
		m.userVouchers[change.UserVoucher.ID] = *change.UserVoucher
	}
	return nil
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (m *Memory) CreateAccount(_ context.Context, acct loyalty.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[acct.ID]; ok {
		return fmt.Errorf("account %s: %w", acct.ID, loyalty.ErrDuplicateAccount)
	}
	m.accounts[acct.ID] = acct
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id loyalty.AccountID) (*loyalty.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	return &acct, nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]loyalty.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]loyalty.Account, 0, len(m.accounts))
	for _, acct := range m.accounts {
		result = append(result, acct)
	}
	return result, nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) Entries(_ context.Context, id loyalty.AccountID) ([]loyalty.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]loyalty.LedgerEntry, len(m.entries[id]))
	copy(result, m.entries[id])
	return result, nil
}

func (m *Memory) EntriesInRange(_ context.Context, id loyalty.AccountID, from, to time.Time) ([]loyalty.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []loyalty.LedgerEntry
	for _, e := range m.entries[id] {
		if e.CreatedAt.Before(from) || e.CreatedAt.After(to) {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

// =============================================================================
// RANK STATE
// =============================================================================

func (m *Memory) RankHistory(_ context.Context, id loyalty.AccountID) ([]loyalty.RankHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]loyalty.RankHistory, len(m.rankHistory[id]))
	copy(result, m.rankHistory[id])
	return result, nil
}

func (m *Memory) ListRanks(_ context.Context) ([]loyalty.Rank, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]loyalty.Rank, 0, len(m.ranks))
	for _, r := range m.ranks {
		result = append(result, r)
	}
	return result, nil
}

func (m *Memory) SaveRank(_ context.Context, r loyalty.Rank) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ranks[r.ID] = r
	return nil
}

// =============================================================================
// RULES
// =============================================================================

func (m *Memory) ListRules(_ context.Context) ([]loyalty.PointRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]loyalty.PointRule, 0, len(m.rules))
	for _, r := range m.rules {
		result = append(result, r)
	}
	return result, nil
}

func (m *Memory) SaveRule(_ context.Context, r loyalty.PointRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.ID] = r
	return nil
}

// =============================================================================
// VOUCHERS
// =============================================================================

func (m *Memory) GetVoucher(_ context.Context, id loyalty.VoucherID) (*loyalty.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.vouchers[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (m *Memory) ListVouchers(_ context.Context) ([]loyalty.Voucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]loyalty.Voucher, 0, len(m.vouchers))
	for _, v := range m.vouchers {
		result = append(result, v)
	}
	return result, nil
}

func (m *Memory) SaveVoucher(_ context.Context, v loyalty.Voucher) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vouchers[v.ID] = v
	return nil
}

// =============================================================================
// USER VOUCHERS
// =============================================================================

func (m *Memory) GetUserVoucher(_ context.Context, id loyalty.UserVoucherID) (*loyalty.UserVoucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uv, ok := m.userVouchers[id]
	if !ok {
		return nil, nil
	}
	return &uv, nil
}

func (m *Memory) ListUserVouchers(_ context.Context, id loyalty.AccountID) ([]loyalty.UserVoucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []loyalty.UserVoucher
	for _, uv := range m.userVouchers {
		if uv.AccountID == id {
			result = append(result, uv)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AcquiredAt.Before(result[j].AcquiredAt)
	})
	return result, nil
}

func (m *Memory) ListUserVouchersByStatus(_ context.Context, status loyalty.UserVoucherStatus) ([]loyalty.UserVoucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []loyalty.UserVoucher
	for _, uv := range m.userVouchers {
		if uv.Status == status {
			result = append(result, uv)
		}
	}
	return result, nil
}

func (m *Memory) CountUserVouchers(_ context.Context, id loyalty.AccountID, voucherID loyalty.VoucherID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, uv := range m.userVouchers {
		if uv.AccountID == id && uv.VoucherID == voucherID && uv.Status != loyalty.VoucherRevoked {
			count++
		}
	}
	return count, nil
}
