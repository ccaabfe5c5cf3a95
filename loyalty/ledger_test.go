package loyalty_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/loyalty/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func pts(n int64) loyalty.Points {
	return loyalty.NewPoints(n)
}

func ptsPtr(n int64) *loyalty.Points {
	p := loyalty.NewPoints(n)
	return &p
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// testRanks is the standard three-band configuration used across the
// package tests: bronze [0,1000), silver [1000,5000) x1.25, gold [5000,...) x1.5.
func testRanks() []loyalty.Rank {
	return []loyalty.Rank{
		{
			ID:         "bronze",
			Name:       "Bronze",
			Level:      1,
			MinPoints:  pts(0),
			MaxPoints:  ptsPtr(1000),
			Multiplier: decimal.NewFromInt(1),
			Active:     true,
		},
		{
			ID:              "silver",
			Name:            "Silver",
			Level:           2,
			MinPoints:       pts(1000),
			MaxPoints:       ptsPtr(5000),
			Multiplier:      decimal.RequireFromString("1.25"),
			DiscountPercent: decimal.NewFromInt(3),
			Active:          true,
		},
		{
			ID:              "gold",
			Name:            "Gold",
			Level:           3,
			MinPoints:       pts(5000),
			Multiplier:      decimal.RequireFromString("1.5"),
			DiscountPercent: decimal.NewFromInt(5),
			Active:          true,
		},
	}
}

func newTestEngine(t *testing.T) *loyalty.Engine {
	t.Helper()
	ctx := context.Background()

	mem := store.NewMemory()
	for _, r := range testRanks() {
		if err := mem.SaveRank(ctx, r); err != nil {
			t.Fatalf("SaveRank(%s): %v", r.ID, err)
		}
	}

	engine, err := loyalty.NewEngine(ctx, mem)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func newTestAccount(t *testing.T, engine *loyalty.Engine, id loyalty.AccountID) *loyalty.Account {
	t.Helper()
	acct, err := engine.Ledger.CreateAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("CreateAccount(%s): %v", id, err)
	}
	return acct
}

func mustPost(t *testing.T, engine *loyalty.Engine, in loyalty.PostInput) *loyalty.LedgerEntry {
	t.Helper()
	entry, err := engine.Ledger.Post(context.Background(), in)
	if err != nil {
		t.Fatalf("Post(%s %s): %v", in.Kind, in.Delta, err)
	}
	return entry
}

// =============================================================================
// POSTING TESTS
// =============================================================================

func TestPostEarnUpdatesBalances(t *testing.T) {
	// GIVEN a fresh account
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")

	// WHEN we post a 100-point earn
	entry := mustPost(t, engine, loyalty.PostInput{
		AccountID: "alice",
		Kind:      loyalty.KindEarn,
		Delta:     pts(100),
		Reason:    "welcome",
	})

	// THEN the entry and both balances reflect the earn
	if !entry.BalanceAfter.Equal(pts(100)) {
		t.Errorf("BalanceAfter = %s, want 100", entry.BalanceAfter)
	}

	acct, err := engine.Ledger.GetAccount(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if !acct.CurrentPoints.Equal(pts(100)) {
		t.Errorf("CurrentPoints = %s, want 100", acct.CurrentPoints)
	}
	if !acct.LifetimePoints.Equal(pts(100)) {
		t.Errorf("LifetimePoints = %s, want 100", acct.LifetimePoints)
	}
}

func TestPostSpendReducesBalanceNotLifetime(t *testing.T) {
	// GIVEN an account with 100 earned points
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")
	mustPost(t, engine, loyalty.PostInput{
		AccountID: "alice", Kind: loyalty.KindEarn, Delta: pts(100),
	})

	// WHEN 40 points are spent
	entry := mustPost(t, engine, loyalty.PostInput{
		AccountID: "alice", Kind: loyalty.KindSpend, Delta: pts(40).Neg(),
	})

	// THEN the balance drops but lifetime points are untouched
	if !entry.BalanceAfter.Equal(pts(60)) {
		t.Errorf("BalanceAfter = %s, want 60", entry.BalanceAfter)
	}

	acct, _ := engine.Ledger.GetAccount(context.Background(), "alice")
	if !acct.CurrentPoints.Equal(pts(60)) {
		t.Errorf("CurrentPoints = %s, want 60", acct.CurrentPoints)
	}
	if !acct.LifetimePoints.Equal(pts(100)) {
		t.Errorf("LifetimePoints = %s, want 100 (spends never reduce lifetime)", acct.LifetimePoints)
	}
}

func TestPostInsufficientBalance(t *testing.T) {
	// GIVEN an account holding 50 points
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")
	mustPost(t, engine, loyalty.PostInput{
		AccountID: "alice", Kind: loyalty.KindEarn, Delta: pts(50),
	})

	// WHEN we try to spend 80
	_, err := engine.Ledger.Post(context.Background(), loyalty.PostInput{
		AccountID: "alice", Kind: loyalty.KindSpend, Delta: pts(80).Neg(),
	})

	// THEN the post is rejected with the structured error and nothing changed
	var insufficient *loyalty.InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err = %v, want InsufficientBalanceError", err)
	}
	if !insufficient.Available.Equal(pts(50)) || !insufficient.Requested.Equal(pts(80)) {
		t.Errorf("error detail = available %s requested %s, want 50 / 80",
			insufficient.Available, insufficient.Requested)
	}
	if !errors.Is(err, loyalty.ErrInsufficientBalance) {
		t.Error("expected errors.Is(err, ErrInsufficientBalance)")
	}

	balance, _ := engine.Ledger.Balance(context.Background(), "alice")
	if !balance.Equal(pts(50)) {
		t.Errorf("balance after rejected spend = %s, want 50", balance)
	}
}

func TestPostRejectsInvalidDeltas(t *testing.T) {
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")
	mustPost(t, engine, loyalty.PostInput{
		AccountID: "alice", Kind: loyalty.KindEarn, Delta: pts(100),
	})

	cases := []struct {
		name string
		kind loyalty.EntryKind
		delta loyalty.Points
	}{
		{"zero delta", loyalty.KindEarn, pts(0)},
		{"negative earn", loyalty.KindEarn, pts(10).Neg()},
		{"negative bonus", loyalty.KindBonus, pts(5).Neg()},
		{"negative refund", loyalty.KindRefund, pts(5).Neg()},
		{"positive spend", loyalty.KindSpend, pts(10)},
		{"positive expire", loyalty.KindExpire, pts(10)},
		{"unknown kind", loyalty.EntryKind("transfer"), pts(10)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engine.Ledger.Post(context.Background(), loyalty.PostInput{
				AccountID: "alice", Kind: tc.kind, Delta: tc.delta,
			})
			if !errors.Is(err, loyalty.ErrInvalidDelta) {
				t.Errorf("err = %v, want ErrInvalidDelta", err)
			}
		})
	}

	// THEN no rejected posting left a trace
	entries, _ := engine.Ledger.History(context.Background(), "alice", time.Time{}, time.Time{})
	if len(entries) != 1 {
		t.Errorf("entries = %d, want the single valid earn", len(entries))
	}
}

func TestAdminAdjustLifetimeContribution(t *testing.T) {
	// GIVEN an account with 100 lifetime points
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")
	mustPost(t, engine, loyalty.PostInput{
		AccountID: "alice", Kind: loyalty.KindEarn, Delta: pts(100),
	})

	// WHEN an admin grants 30 and later claws back 10
	mustPost(t, engine, loyalty.PostInput{
		AccountID: "alice", Kind: loyalty.KindAdminAdjust, Delta: pts(30), Actor: "support",
	})
	mustPost(t, engine, loyalty.PostInput{
		AccountID: "alice", Kind: loyalty.KindAdminAdjust, Delta: pts(10).Neg(), Actor: "support",
	})

	// THEN only the positive adjustment counted toward lifetime
	acct, _ := engine.Ledger.GetAccount(context.Background(), "alice")
	if !acct.CurrentPoints.Equal(pts(120)) {
		t.Errorf("CurrentPoints = %s, want 120", acct.CurrentPoints)
	}
	if !acct.LifetimePoints.Equal(pts(130)) {
		t.Errorf("LifetimePoints = %s, want 130", acct.LifetimePoints)
	}
}

func TestBalanceAfterChains(t *testing.T) {
	// GIVEN a mixed posting history
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")
	mustPost(t, engine, loyalty.PostInput{AccountID: "alice", Kind: loyalty.KindEarn, Delta: pts(100)})
	mustPost(t, engine, loyalty.PostInput{AccountID: "alice", Kind: loyalty.KindSpend, Delta: pts(40).Neg()})
	mustPost(t, engine, loyalty.PostInput{AccountID: "alice", Kind: loyalty.KindBonus, Delta: pts(25)})

	// THEN every entry's running balance equals the previous plus its delta
	entries, err := engine.Ledger.History(context.Background(), "alice", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	want := []int64{100, 60, 85}
	if len(entries) != len(want) {
		t.Fatalf("entries = %d, want %d", len(entries), len(want))
	}
	for i, w := range want {
		if !entries[i].BalanceAfter.Equal(pts(w)) {
			t.Errorf("entry %d BalanceAfter = %s, want %d", i, entries[i].BalanceAfter, w)
		}
	}

	// AND the audit replay agrees with the stored state
	if err := engine.Ledger.Audit(context.Background(), "alice"); err != nil {
		t.Errorf("Audit: %v", err)
	}
}

// =============================================================================
// ACCOUNT TESTS
// =============================================================================

func TestCreateAccountStartsAtBaseRank(t *testing.T) {
	engine := newTestEngine(t)
	acct := newTestAccount(t, engine, "alice")

	if acct.RankID != "bronze" {
		t.Errorf("RankID = %s, want bronze", acct.RankID)
	}
	if !acct.CurrentPoints.IsZero() || !acct.LifetimePoints.IsZero() {
		t.Errorf("new account balances = %s / %s, want zero", acct.CurrentPoints, acct.LifetimePoints)
	}
}

func TestCreateAccountDuplicate(t *testing.T) {
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")

	_, err := engine.Ledger.CreateAccount(context.Background(), "alice")
	if !errors.Is(err, loyalty.ErrDuplicateAccount) {
		t.Errorf("err = %v, want ErrDuplicateAccount", err)
	}
}

func TestPostUnknownAccount(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.Ledger.Post(context.Background(), loyalty.PostInput{
		AccountID: "ghost", Kind: loyalty.KindEarn, Delta: pts(10),
	})
	if !loyalty.IsNotFound(err) {
		t.Errorf("err = %v, want not found", err)
	}
}

// =============================================================================
// HISTORY AND REPLAY TESTS
// =============================================================================

func TestHistoryRange(t *testing.T) {
	// GIVEN entries posted across three days
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")

	day := func(d int) time.Time {
		return time.Date(2026, time.March, d, 12, 0, 0, 0, time.UTC)
	}
	for d := 1; d <= 3; d++ {
		mustPost(t, engine, loyalty.PostInput{
			AccountID: "alice", Kind: loyalty.KindEarn, Delta: pts(10), At: day(d),
		})
	}

	// WHEN we ask for the middle day only
	entries, err := engine.Ledger.History(context.Background(), "alice", day(2).Add(-time.Hour), day(2).Add(time.Hour))
	if err != nil {
		t.Fatalf("History: %v", err)
	}

	// THEN exactly the middle entry comes back
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if !entries[0].CreatedAt.Equal(day(2)) {
		t.Errorf("CreatedAt = %s, want %s", entries[0].CreatedAt, day(2))
	}
}

func TestBalanceAsOf(t *testing.T) {
	// GIVEN an earn followed a day later by a spend
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")

	t1 := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.AddDate(0, 0, 1)
	mustPost(t, engine, loyalty.PostInput{AccountID: "alice", Kind: loyalty.KindEarn, Delta: pts(100), At: t1})
	mustPost(t, engine, loyalty.PostInput{AccountID: "alice", Kind: loyalty.KindSpend, Delta: pts(30).Neg(), At: t2})

	// THEN the point-in-time balance between the two reflects only the earn
	balance, err := engine.Ledger.BalanceAsOf(context.Background(), "alice", t1.Add(time.Hour))
	if err != nil {
		t.Fatalf("BalanceAsOf: %v", err)
	}
	if !balance.Equal(pts(100)) {
		t.Errorf("balance as of t1+1h = %s, want 100", balance)
	}

	balance, _ = engine.Ledger.BalanceAsOf(context.Background(), "alice", t2)
	if !balance.Equal(pts(70)) {
		t.Errorf("balance as of t2 = %s, want 70", balance)
	}
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestConcurrentPostsSerialize(t *testing.T) {
	// GIVEN 20 goroutines earning 10 points each on the same account
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Ledger.Post(context.Background(), loyalty.PostInput{
				AccountID: "alice", Kind: loyalty.KindEarn, Delta: pts(10),
			})
			if err != nil {
				t.Errorf("concurrent Post: %v", err)
			}
		}()
	}
	wg.Wait()

	// THEN the balance is exact and the running-balance chain is unbroken
	balance, _ := engine.Ledger.Balance(context.Background(), "alice")
	if !balance.Equal(pts(200)) {
		t.Errorf("balance = %s, want 200", balance)
	}
	if err := engine.Ledger.Audit(context.Background(), "alice"); err != nil {
		t.Errorf("Audit after concurrent posts: %v", err)
	}
}

func TestConcurrentSpendsNeverOverdraw(t *testing.T) {
	// GIVEN an account with exactly 50 points and 10 racing 10-point spends
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")
	mustPost(t, engine, loyalty.PostInput{AccountID: "alice", Kind: loyalty.KindEarn, Delta: pts(50)})

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Ledger.Post(context.Background(), loyalty.PostInput{
				AccountID: "alice", Kind: loyalty.KindSpend, Delta: pts(10).Neg(),
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, loyalty.ErrInsufficientBalance) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	// THEN exactly 5 spends fit and the balance never went negative
	if succeeded != 5 {
		t.Errorf("successful spends = %d, want 5", succeeded)
	}
	balance, _ := engine.Ledger.Balance(context.Background(), "alice")
	if !balance.IsZero() {
		t.Errorf("balance = %s, want 0", balance)
	}
}
