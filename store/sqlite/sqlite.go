/*
Package sqlite provides a SQLite-backed implementation of loyalty.Store.

PURPOSE:
  Persists accounts, the point ledger, rank state, rules, and vouchers
  using SQLite. In production, the same patterns apply to PostgreSQL -
  only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  The ledger_entries and rank_history tables take INSERTs only:
  - No UPDATE statements on either table
  - No DELETE statements on either table
  - Corrections happen via offsetting entries

ATOMIC CHANGES:
  Apply commits one loyalty.Change in a single database transaction.
  The account row, the appended entries, the rank history record, and
  any voucher writes become visible together or not at all.

KEY TABLES:
  accounts:       Derived balance state per member
  ledger_entries: Immutable point movements
  rank_history:   Immutable rank transitions
  ranks:          Tier definitions (administered)
  point_rules:    Earning rules (administered)
  vouchers:       Voucher definitions with live usage counters
  user_vouchers:  Per-member voucher instances

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better
  concurrency: readers don't block, single writer at a time, better
  crash recovery. A busy writer surfaces as loyalty.ErrConflict, which
  the engine retries once.

USAGE:
  store, err := sqlite.New("./data/loyalty.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine, err := loyalty.NewEngine(ctx, store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - loyalty/store.go: Interface definition
  - loyalty/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/loyalty-engine/loyalty"
)

// Store implements loyalty.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Accounts (derived state; written only via Apply)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		current_points TEXT NOT NULL,
		lifetime_points TEXT NOT NULL,
		rank_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- Ledger entries (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		delta TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		reason TEXT,
		reference TEXT,
		rule_id TEXT,
		event_type TEXT,
		expires_at TEXT,
		actor TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_account
		ON ledger_entries(account_id, created_at);

	-- For rolling daily-cap queries (hot path)
	CREATE INDEX IF NOT EXISTS idx_entries_account_event
		ON ledger_entries(account_id, event_type, created_at)
		WHERE event_type IS NOT NULL AND event_type != '';

	-- For expiry sweeps
	CREATE INDEX IF NOT EXISTS idx_entries_expires
		ON ledger_entries(expires_at)
		WHERE expires_at IS NOT NULL;

	-- Rank history (append-only)
	CREATE TABLE IF NOT EXISTS rank_history (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		from_rank TEXT,
		to_rank TEXT NOT NULL,
		lifetime_points TEXT NOT NULL,
		reason TEXT NOT NULL,
		actor TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rank_history_account
		ON rank_history(account_id, created_at);

	-- Rank definitions
	CREATE TABLE IF NOT EXISTS ranks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		level INTEGER NOT NULL,
		min_points TEXT NOT NULL,
		max_points TEXT,
		multiplier TEXT NOT NULL,
		discount_percent TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	-- Earning rules
	CREATE TABLE IF NOT EXISTS point_rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		event_type TEXT NOT NULL,
		points_per_action TEXT NOT NULL,
		points_per_currency TEXT NOT NULL,
		max_points_per_day TEXT,
		max_points_per_user TEXT,
		min_order_value TEXT,
		ranks_json TEXT,
		use_rank_multiplier BOOLEAN NOT NULL DEFAULT FALSE,
		points_valid_for_secs INTEGER NOT NULL DEFAULT 0,
		valid_from TEXT,
		valid_until TEXT,
		priority INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rules_event
		ON point_rules(event_type, priority);

	-- Voucher definitions
	CREATE TABLE IF NOT EXISTS vouchers (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		value TEXT NOT NULL,
		max_discount TEXT,
		min_order_value TEXT,
		required_rank TEXT,
		required_points TEXT NOT NULL,
		max_per_user INTEGER NOT NULL DEFAULT 0,
		max_total_usage INTEGER NOT NULL DEFAULT 0,
		current_usage INTEGER NOT NULL DEFAULT 0,
		valid_from TEXT,
		valid_until TEXT,
		expires_after_secs INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		exclusive BOOLEAN NOT NULL DEFAULT FALSE
	);

	-- Member voucher instances
	CREATE TABLE IF NOT EXISTS user_vouchers (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		voucher_id TEXT NOT NULL,
		status TEXT NOT NULL,
		points_spent TEXT NOT NULL,
		acquired_at TEXT NOT NULL,
		expires_at TEXT,
		used_at TEXT,
		order_ref TEXT,
		revoked_by TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_user_vouchers_account
		ON user_vouchers(account_id, acquired_at);
	CREATE INDEX IF NOT EXISTS idx_user_vouchers_status
		ON user_vouchers(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ATOMIC CHANGE
// =============================================================================

// Apply commits one Change inside a single database transaction.
func (s *Store) Apply(ctx context.Context, change loyalty.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapBusy(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if change.Account != nil {
		if err := upsertAccount(ctx, tx, *change.Account); err != nil {
			return wrapBusy(err)
		}
	}
	for _, e := range change.Entries {
		if err := insertEntry(ctx, tx, e); err != nil {
			return wrapBusy(err)
		}
	}
	if change.RankHistory != nil {
		if err := insertRankHistory(ctx, tx, *change.RankHistory); err != nil {
			return wrapBusy(err)
		}
	}
	if change.Voucher != nil {
		if err := upsertVoucher(ctx, tx, *change.Voucher); err != nil {
			return wrapBusy(err)
		}
	}
	if change.UserVoucher != nil {
		if err := upsertUserVoucher(ctx, tx, *change.UserVoucher); err != nil {
			return wrapBusy(err)
		}
	}

	return wrapBusy(tx.Commit())
}

func upsertAccount(ctx context.Context, tx *sql.Tx, acct loyalty.Account) error {
	query := `
		INSERT INTO accounts (id, current_points, lifetime_points, rank_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_points = excluded.current_points,
			lifetime_points = excluded.lifetime_points,
			rank_id = excluded.rank_id
	`
	_, err := tx.ExecContext(ctx, query,
		acct.ID,
		acct.CurrentPoints.String(),
		acct.LifetimePoints.String(),
		acct.RankID,
		acct.CreatedAt.Format(time.RFC3339),
	)
	return err
}

func insertEntry(ctx context.Context, tx *sql.Tx, e loyalty.LedgerEntry) error {
	query := `
		INSERT INTO ledger_entries
		(id, account_id, kind, delta, balance_after, reason, reference,
		 rule_id, event_type, expires_at, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, query,
		e.ID, e.AccountID, e.Kind,
		e.Delta.String(), e.BalanceAfter.String(),
		e.Reason, e.Reference, e.RuleID, e.EventType,
		nullTime(e.ExpiresAt), e.Actor,
		e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func insertRankHistory(ctx context.Context, tx *sql.Tx, h loyalty.RankHistory) error {
	var from *string
	if h.FromRank != nil {
		s := string(*h.FromRank)
		from = &s
	}

	query := `
		INSERT INTO rank_history
		(id, account_id, from_rank, to_rank, lifetime_points, reason, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, query,
		h.ID, h.AccountID, from, h.ToRank,
		h.LifetimePoints.String(), h.Reason, h.Actor,
		h.CreatedAt.Format(time.RFC3339),
	)
	return err
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, acct loyalty.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO accounts (id, current_points, lifetime_points, rank_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		acct.ID,
		acct.CurrentPoints.String(),
		acct.LifetimePoints.String(),
		acct.RankID,
		acct.CreatedAt.Format(time.RFC3339),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("account %s: %w", acct.ID, loyalty.ErrDuplicateAccount)
	}
	return wrapBusy(err)
}

func (s *Store) GetAccount(ctx context.Context, id loyalty.AccountID) (*loyalty.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		acct              loyalty.Account
		current, lifetime string
		createdAt         string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, current_points, lifetime_points, rank_id, created_at FROM accounts WHERE id = ?",
		id,
	).Scan(&acct.ID, &current, &lifetime, &acct.RankID, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	acct.CurrentPoints = parsePoints(current)
	acct.LifetimePoints = parsePoints(lifetime)
	acct.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &acct, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]loyalty.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, current_points, lifetime_points, rank_id, created_at FROM accounts ORDER BY created_at",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []loyalty.Account
	for rows.Next() {
		var acct loyalty.Account
		var current, lifetime, createdAt string
		if err := rows.Scan(&acct.ID, &current, &lifetime, &acct.RankID, &createdAt); err != nil {
			return nil, err
		}
		acct.CurrentPoints = parsePoints(current)
		acct.LifetimePoints = parsePoints(lifetime)
		acct.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

// =============================================================================
// LEDGER
// =============================================================================

const entryColumns = `id, account_id, kind, delta, balance_after, reason, reference,
	rule_id, event_type, expires_at, actor, created_at`

func (s *Store) Entries(ctx context.Context, id loyalty.AccountID) ([]loyalty.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE account_id = ?
		ORDER BY created_at ASC, rowid ASC
	`
	return s.queryEntries(ctx, query, id)
}

func (s *Store) EntriesInRange(ctx context.Context, id loyalty.AccountID, from, to time.Time) ([]loyalty.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT ` + entryColumns + `
		FROM ledger_entries
		WHERE account_id = ? AND created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC, rowid ASC
	`
	return s.queryEntries(ctx, query, id,
		from.Format(time.RFC3339), to.Format(time.RFC3339))
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]loyalty.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []loyalty.LedgerEntry
	for rows.Next() {
		var (
			e                loyalty.LedgerEntry
			delta, balance   string
			reason, ref      sql.NullString
			ruleID, event    sql.NullString
			expiresAt, actor sql.NullString
			createdAt        string
		)
		if err := rows.Scan(
			&e.ID, &e.AccountID, &e.Kind, &delta, &balance,
			&reason, &ref, &ruleID, &event, &expiresAt, &actor, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}

		e.Delta = parsePoints(delta)
		e.BalanceAfter = parsePoints(balance)
		e.Reason = reason.String
		e.Reference = ref.String
		e.RuleID = loyalty.RuleID(ruleID.String)
		e.EventType = event.String
		e.ExpiresAt = parseNullTime(expiresAt)
		e.Actor = actor.String
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// RANK STATE
// =============================================================================

func (s *Store) RankHistory(ctx context.Context, id loyalty.AccountID) ([]loyalty.RankHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, account_id, from_rank, to_rank, lifetime_points, reason, actor, created_at
		FROM rank_history
		WHERE account_id = ?
		ORDER BY created_at ASC, rowid ASC
	`
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []loyalty.RankHistory
	for rows.Next() {
		var (
			h           loyalty.RankHistory
			from, actor sql.NullString
			lifetime    string
			createdAt   string
		)
		if err := rows.Scan(&h.ID, &h.AccountID, &from, &h.ToRank, &lifetime, &h.Reason, &actor, &createdAt); err != nil {
			return nil, err
		}
		if from.Valid {
			rid := loyalty.RankID(from.String)
			h.FromRank = &rid
		}
		h.LifetimePoints = parsePoints(lifetime)
		h.Actor = actor.String
		h.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		history = append(history, h)
	}
	return history, rows.Err()
}

func (s *Store) ListRanks(ctx context.Context) ([]loyalty.Rank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, level, min_points, max_points, multiplier, discount_percent, active
		FROM ranks ORDER BY level ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ranks []loyalty.Rank
	for rows.Next() {
		var (
			r                    loyalty.Rank
			minPoints            string
			maxPoints            sql.NullString
			multiplier, discount string
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.Level, &minPoints, &maxPoints, &multiplier, &discount, &r.Active); err != nil {
			return nil, err
		}
		r.MinPoints = parsePoints(minPoints)
		if maxPoints.Valid {
			p := parsePoints(maxPoints.String)
			r.MaxPoints = &p
		}
		r.Multiplier = parseDecimal(multiplier)
		r.DiscountPercent = parseDecimal(discount)
		ranks = append(ranks, r)
	}
	return ranks, rows.Err()
}

func (s *Store) SaveRank(ctx context.Context, r loyalty.Rank) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxPoints *string
	if r.MaxPoints != nil {
		v := r.MaxPoints.String()
		maxPoints = &v
	}

	query := `
		INSERT INTO ranks (id, name, level, min_points, max_points, multiplier, discount_percent, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			level = excluded.level,
			min_points = excluded.min_points,
			max_points = excluded.max_points,
			multiplier = excluded.multiplier,
			discount_percent = excluded.discount_percent,
			active = excluded.active
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Name, r.Level,
		r.MinPoints.String(), maxPoints,
		r.Multiplier.String(), r.DiscountPercent.String(),
		r.Active,
	)
	return wrapBusy(err)
}

// =============================================================================
// RULES
// =============================================================================

func (s *Store) ListRules(ctx context.Context) ([]loyalty.PointRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, event_type, points_per_action, points_per_currency,
		       max_points_per_day, max_points_per_user, min_order_value, ranks_json,
		       use_rank_multiplier, points_valid_for_secs, valid_from, valid_until,
		       priority, active, created_at
		FROM point_rules ORDER BY priority ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []loyalty.PointRule
	for rows.Next() {
		var (
			r                     loyalty.PointRule
			perAction, perCur     string
			maxDay, maxUser       sql.NullString
			minOrder, ranksJSON   sql.NullString
			validForSecs          int64
			validFrom, validUntil sql.NullString
			createdAt             string
		)
		if err := rows.Scan(
			&r.ID, &r.Name, &r.EventType, &perAction, &perCur,
			&maxDay, &maxUser, &minOrder, &ranksJSON,
			&r.UseRankMultiplier, &validForSecs, &validFrom, &validUntil,
			&r.Priority, &r.Active, &createdAt,
		); err != nil {
			return nil, err
		}

		r.PointsPerAction = parsePoints(perAction)
		r.PointsPerCurrency = parseDecimal(perCur)
		r.MaxPointsPerDay = parseNullPoints(maxDay)
		r.MaxPointsPerUser = parseNullPoints(maxUser)
		r.MinOrderValue = parseNullDecimal(minOrder)
		if ranksJSON.Valid && ranksJSON.String != "" {
			json.Unmarshal([]byte(ranksJSON.String), &r.Ranks)
		}
		r.PointsValidFor = time.Duration(validForSecs) * time.Second
		r.ValidFrom = parseTimeOrZero(validFrom)
		r.ValidUntil = parseTimeOrZero(validUntil)
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *Store) SaveRule(ctx context.Context, r loyalty.PointRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ranksJSON, _ := json.Marshal(r.Ranks)

	query := `
		INSERT INTO point_rules
		(id, name, event_type, points_per_action, points_per_currency,
		 max_points_per_day, max_points_per_user, min_order_value, ranks_json,
		 use_rank_multiplier, points_valid_for_secs, valid_from, valid_until,
		 priority, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			event_type = excluded.event_type,
			points_per_action = excluded.points_per_action,
			points_per_currency = excluded.points_per_currency,
			max_points_per_day = excluded.max_points_per_day,
			max_points_per_user = excluded.max_points_per_user,
			min_order_value = excluded.min_order_value,
			ranks_json = excluded.ranks_json,
			use_rank_multiplier = excluded.use_rank_multiplier,
			points_valid_for_secs = excluded.points_valid_for_secs,
			valid_from = excluded.valid_from,
			valid_until = excluded.valid_until,
			priority = excluded.priority,
			active = excluded.active
	`
	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Name, r.EventType,
		r.PointsPerAction.String(), r.PointsPerCurrency.String(),
		nullPoints(r.MaxPointsPerDay), nullPoints(r.MaxPointsPerUser),
		nullDecimal(r.MinOrderValue), string(ranksJSON),
		r.UseRankMultiplier, int64(r.PointsValidFor/time.Second),
		zeroTimeNull(r.ValidFrom), zeroTimeNull(r.ValidUntil),
		r.Priority, r.Active,
		r.CreatedAt.Format(time.RFC3339),
	)
	return wrapBusy(err)
}

// =============================================================================
// VOUCHERS
// =============================================================================

const voucherColumns = `id, code, name, kind, value, max_discount, min_order_value,
	required_rank, required_points, max_per_user, max_total_usage, current_usage,
	valid_from, valid_until, expires_after_secs, active, exclusive`

func (s *Store) GetVoucher(ctx context.Context, id loyalty.VoucherID) (*loyalty.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vouchers, err := s.queryVouchers(ctx,
		"SELECT "+voucherColumns+" FROM vouchers WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(vouchers) == 0 {
		return nil, nil
	}
	return &vouchers[0], nil
}

func (s *Store) ListVouchers(ctx context.Context) ([]loyalty.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryVouchers(ctx,
		"SELECT "+voucherColumns+" FROM vouchers ORDER BY code")
}

func (s *Store) queryVouchers(ctx context.Context, query string, args ...any) ([]loyalty.Voucher, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vouchers []loyalty.Voucher
	for rows.Next() {
		var (
			v                     loyalty.Voucher
			value, required       string
			maxDiscount, minOrder sql.NullString
			requiredRank          sql.NullString
			validFrom, validUntil sql.NullString
			expiresAfterSecs      int64
		)
		if err := rows.Scan(
			&v.ID, &v.Code, &v.Name, &v.Kind, &value, &maxDiscount, &minOrder,
			&requiredRank, &required, &v.MaxPerUser, &v.MaxTotalUsage, &v.CurrentUsage,
			&validFrom, &validUntil, &expiresAfterSecs, &v.Active, &v.Exclusive,
		); err != nil {
			return nil, err
		}

		v.Value = parseDecimal(value)
		v.MaxDiscount = parseNullDecimal(maxDiscount)
		v.MinOrderValue = parseNullDecimal(minOrder)
		if requiredRank.Valid && requiredRank.String != "" {
			rid := loyalty.RankID(requiredRank.String)
			v.RequiredRank = &rid
		}
		v.RequiredPoints = parsePoints(required)
		v.ValidFrom = parseTimeOrZero(validFrom)
		v.ValidUntil = parseTimeOrZero(validUntil)
		v.ExpiresAfter = time.Duration(expiresAfterSecs) * time.Second

		vouchers = append(vouchers, v)
	}
	return vouchers, rows.Err()
}

func (s *Store) SaveVoucher(ctx context.Context, v loyalty.Voucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapBusy(err)
	}
	defer tx.Rollback()

	if err := upsertVoucher(ctx, tx, v); err != nil {
		return wrapBusy(err)
	}
	return wrapBusy(tx.Commit())
}

func upsertVoucher(ctx context.Context, tx *sql.Tx, v loyalty.Voucher) error {
	var requiredRank *string
	if v.RequiredRank != nil {
		r := string(*v.RequiredRank)
		requiredRank = &r
	}

	query := `
		INSERT INTO vouchers
		(id, code, name, kind, value, max_discount, min_order_value,
		 required_rank, required_points, max_per_user, max_total_usage, current_usage,
		 valid_from, valid_until, expires_after_secs, active, exclusive)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			name = excluded.name,
			kind = excluded.kind,
			value = excluded.value,
			max_discount = excluded.max_discount,
			min_order_value = excluded.min_order_value,
			required_rank = excluded.required_rank,
			required_points = excluded.required_points,
			max_per_user = excluded.max_per_user,
			max_total_usage = excluded.max_total_usage,
			current_usage = excluded.current_usage,
			valid_from = excluded.valid_from,
			valid_until = excluded.valid_until,
			expires_after_secs = excluded.expires_after_secs,
			active = excluded.active,
			exclusive = excluded.exclusive
	`
	_, err := tx.ExecContext(ctx, query,
		v.ID, v.Code, v.Name, v.Kind, v.Value.String(),
		nullDecimal(v.MaxDiscount), nullDecimal(v.MinOrderValue),
		requiredRank, v.RequiredPoints.String(),
		v.MaxPerUser, v.MaxTotalUsage, v.CurrentUsage,
		zeroTimeNull(v.ValidFrom), zeroTimeNull(v.ValidUntil),
		int64(v.ExpiresAfter/time.Second), v.Active, v.Exclusive,
	)
	return err
}

// =============================================================================
// USER VOUCHERS
// =============================================================================

const userVoucherColumns = `id, account_id, voucher_id, status, points_spent,
	acquired_at, expires_at, used_at, order_ref, revoked_by`

func (s *Store) GetUserVoucher(ctx context.Context, id loyalty.UserVoucherID) (*loyalty.UserVoucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instances, err := s.queryUserVouchers(ctx,
		"SELECT "+userVoucherColumns+" FROM user_vouchers WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, nil
	}
	return &instances[0], nil
}

func (s *Store) ListUserVouchers(ctx context.Context, id loyalty.AccountID) ([]loyalty.UserVoucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryUserVouchers(ctx,
		"SELECT "+userVoucherColumns+" FROM user_vouchers WHERE account_id = ? ORDER BY acquired_at ASC", id)
}

func (s *Store) ListUserVouchersByStatus(ctx context.Context, status loyalty.UserVoucherStatus) ([]loyalty.UserVoucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryUserVouchers(ctx,
		"SELECT "+userVoucherColumns+" FROM user_vouchers WHERE status = ?", status)
}

func (s *Store) CountUserVouchers(ctx context.Context, id loyalty.AccountID, voucherID loyalty.VoucherID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM user_vouchers
		WHERE account_id = ? AND voucher_id = ? AND status != ?
	`, id, voucherID, loyalty.VoucherRevoked).Scan(&count)
	return count, err
}

func (s *Store) queryUserVouchers(ctx context.Context, query string, args ...any) ([]loyalty.UserVoucher, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []loyalty.UserVoucher
	for rows.Next() {
		var (
			uv                loyalty.UserVoucher
			points            string
			acquiredAt        string
			expiresAt, usedAt sql.NullString
			orderRef, revoked sql.NullString
		)
		if err := rows.Scan(
			&uv.ID, &uv.AccountID, &uv.VoucherID, &uv.Status, &points,
			&acquiredAt, &expiresAt, &usedAt, &orderRef, &revoked,
		); err != nil {
			return nil, err
		}

		uv.PointsSpent = parsePoints(points)
		uv.AcquiredAt, _ = time.Parse(time.RFC3339, acquiredAt)
		uv.ExpiresAt = parseNullTime(expiresAt)
		uv.UsedAt = parseNullTime(usedAt)
		uv.OrderRef = orderRef.String
		uv.RevokedBy = revoked.String

		instances = append(instances, uv)
	}
	return instances, rows.Err()
}

func upsertUserVoucher(ctx context.Context, tx *sql.Tx, uv loyalty.UserVoucher) error {
	query := `
		INSERT INTO user_vouchers
		(id, account_id, voucher_id, status, points_spent,
		 acquired_at, expires_at, used_at, order_ref, revoked_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			used_at = excluded.used_at,
			order_ref = excluded.order_ref,
			revoked_by = excluded.revoked_by
	`
	_, err := tx.ExecContext(ctx, query,
		uv.ID, uv.AccountID, uv.VoucherID, uv.Status,
		uv.PointsSpent.String(),
		uv.AcquiredAt.Format(time.RFC3339),
		nullTime(uv.ExpiresAt), nullTime(uv.UsedAt),
		uv.OrderRef, uv.RevokedBy,
	)
	return err
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"ledger_entries", "rank_history", "user_vouchers", "accounts", "vouchers", "point_rules", "ranks"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func parsePoints(s string) loyalty.Points {
	return loyalty.PointsFromDecimal(parseDecimal(s))
}

func parseDecimal(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func parseNullPoints(ns sql.NullString) *loyalty.Points {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	p := parsePoints(ns.String)
	return &p
}

func parseNullDecimal(ns sql.NullString) *decimal.Decimal {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	d := parseDecimal(ns.String)
	return &d
}

func nullPoints(p *loyalty.Points) *string {
	if p == nil {
		return nil
	}
	s := p.String()
	return &s
}

func nullDecimal(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func nullTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func zeroTimeNull(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTimeOrZero(ns sql.NullString) time.Time {
	if !ns.Valid || ns.String == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, ns.String)
	return t
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// wrapBusy maps SQLite's busy/locked errors onto the engine's conflict
// sentinel so callers retry with fresh state.
func wrapBusy(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked") {
		return fmt.Errorf("%s: %w", msg, loyalty.ErrConflict)
	}
	return err
}
