/*
store.go - Persistence interface for the loyalty engine

PURPOSE:
  Defines the interface between the engine and the database. Every state
  change commits through a single Apply call so that an operation's
  writes (account row, ledger entries, rank history, voucher counter,
  user voucher) land as one atomic unit.

APPEND-ONLY CONTRACT:
  Ledger entries and rank history are append-only: Apply may insert
  them, and no interface method updates or deletes them. Corrections
  are new offsetting entries.

ATOMICITY:
  Apply is the ONLY write path for engine operations. Implementations
  must make it all-or-nothing: the SQLite store wraps it in one SQL
  transaction; the memory store applies under its mutex. Serialization
  per account and per voucher is the engine's job (see locks.go) -- the
  store only guarantees that a Change commits whole or not at all.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store
  - loyalty/store: in-memory store for tests and development

SEE ALSO:
  - ledger.go: builds Changes under the account lock
  - voucher.go: extends Changes with voucher writes
*/
package loyalty

import (
	"context"
	"time"
)

// =============================================================================
// CHANGE - One atomic unit of engine writes
// =============================================================================

// Change carries everything one engine operation writes. All non-nil
// fields commit together or not at all.
type Change struct {
	Account     *Account      // updated balance/rank state
	Entries     []LedgerEntry // appended, in order
	RankHistory *RankHistory  // appended transition record
	Voucher     *Voucher      // updated usage counter
	UserVoucher *UserVoucher  // created or transitioned instance
}

// Empty reports whether the change writes nothing.
func (c Change) Empty() bool {
	return c.Account == nil && len(c.Entries) == 0 &&
		c.RankHistory == nil && c.Voucher == nil && c.UserVoucher == nil
}

// =============================================================================
// STORE - Persistence interface
// =============================================================================

// Store persists accounts, ledger entries, rank state, rules, and
// vouchers. Reads return copies; callers never share memory with the
// store.
type Store interface {
	// Apply commits one Change atomically. Returns ErrConflict when the
	// write lost a race and may succeed with fresh state.
	Apply(ctx context.Context, change Change) error

	// Accounts
	CreateAccount(ctx context.Context, acct Account) error
	GetAccount(ctx context.Context, id AccountID) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)

	// Ledger (append-only; written via Apply)
	Entries(ctx context.Context, id AccountID) ([]LedgerEntry, error)
	EntriesInRange(ctx context.Context, id AccountID, from, to time.Time) ([]LedgerEntry, error)

	// Rank history (append-only; written via Apply)
	RankHistory(ctx context.Context, id AccountID) ([]RankHistory, error)

	// Administered content
	ListRanks(ctx context.Context) ([]Rank, error)
	SaveRank(ctx context.Context, r Rank) error
	ListRules(ctx context.Context) ([]PointRule, error)
	SaveRule(ctx context.Context, r PointRule) error

	// Vouchers
	GetVoucher(ctx context.Context, id VoucherID) (*Voucher, error)
	ListVouchers(ctx context.Context) ([]Voucher, error)
	SaveVoucher(ctx context.Context, v Voucher) error

	// User vouchers
	GetUserVoucher(ctx context.Context, id UserVoucherID) (*UserVoucher, error)
	ListUserVouchers(ctx context.Context, id AccountID) ([]UserVoucher, error)
	ListUserVouchersByStatus(ctx context.Context, status UserVoucherStatus) ([]UserVoucher, error)
	CountUserVouchers(ctx context.Context, id AccountID, voucherID VoucherID) (int, error)
}
