package loyalty_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func saveRules(t *testing.T, engine *loyalty.Engine, rules ...loyalty.PointRule) {
	t.Helper()
	ctx := context.Background()
	for _, r := range rules {
		require.NoError(t, engine.Store().SaveRule(ctx, r))
	}
	require.NoError(t, engine.Rules.Reload(ctx))
}

func purchaseRule(id string, priority int) loyalty.PointRule {
	return loyalty.PointRule{
		ID:                loyalty.RuleID(id),
		Name:              "points on purchase",
		EventType:         loyalty.EventPurchase,
		PointsPerCurrency: decimal.NewFromInt(1),
		Priority:          priority,
		Active:            true,
		CreatedAt:         time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

func orderOf(value string) loyalty.EventContext {
	return loyalty.EventContext{
		OrderValue: decimal.RequireFromString(value),
		Reference:  "order-1",
	}
}

// =============================================================================
// AWARD COMPUTATION TESTS
// =============================================================================

func TestAwardFlatPlusPerCurrency(t *testing.T) {
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")

	rule := purchaseRule("r1", 10)
	rule.PointsPerAction = pts(10)
	rule.PointsPerCurrency = decimal.RequireFromString("0.5")
	saveRules(t, engine, rule)

	entry, err := engine.Rules.Award(context.Background(), "alice", loyalty.EventPurchase, orderOf("25.50"))
	require.NoError(t, err)
	require.NotNil(t, entry)

	// 10 flat + floor(0.5 * 25.50) = 10 + 12
	assert.True(t, entry.Delta.Equal(pts(22)), "delta = %s, want 22", entry.Delta)
	assert.Equal(t, loyalty.KindEarn, entry.Kind)
	assert.Equal(t, loyalty.RuleID("r1"), entry.RuleID)
	assert.Equal(t, loyalty.EventPurchase, entry.EventType)
	assert.Equal(t, "order-1", entry.Reference)
}

func TestAwardFlatOnlyEvent(t *testing.T) {
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")

	saveRules(t, engine, loyalty.PointRule{
		ID:              "review",
		Name:            "review bonus",
		EventType:       loyalty.EventReview,
		PointsPerAction: pts(25),
		Priority:        10,
		Active:          true,
	})

	entry, err := engine.Rules.Award(context.Background(), "alice", loyalty.EventReview, loyalty.EventContext{})
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.Delta.Equal(pts(25)))
}

func TestAwardRankMultiplierFloored(t *testing.T) {
	// Silver multiplies by 1.25; the product floors before posting.
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")
	mustPost(t, engine, loyalty.PostInput{AccountID: "alice", Kind: loyalty.KindEarn, Delta: pts(1500)})

	rule := purchaseRule("r1", 10)
	rule.UseRankMultiplier = true
	saveRules(t, engine, rule)

	entry, err := engine.Rules.Award(context.Background(), "alice", loyalty.EventPurchase, orderOf("50"))
	require.NoError(t, err)
	require.NotNil(t, entry)

	// floor(floor(1 * 50) * 1.25) = floor(62.5) = 62
	assert.True(t, entry.Delta.Equal(pts(62)), "delta = %s, want 62", entry.Delta)
}

func TestAwardNoQualifyingRule(t *testing.T) {
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")
	saveRules(t, engine, purchaseRule("r1", 10))

	// An event type no rule binds is a completed no-op.
	entry, err := engine.Rules.Award(context.Background(), "alice", loyalty.EventSignup, loyalty.EventContext{})
	require.NoError(t, err)
	assert.Nil(t, entry)

	balance, err := engine.Ledger.Balance(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestAwardMinOrderValue(t *testing.T) {
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")

	rule := purchaseRule("r1", 10)
	rule.MinOrderValue = decPtr("20")
	saveRules(t, engine, rule)

	entry, err := engine.Rules.Award(context.Background(), "alice", loyalty.EventPurchase, orderOf("19.99"))
	require.NoError(t, err)
	assert.Nil(t, entry, "order below the minimum must not earn")

	entry, err = engine.Rules.Award(context.Background(), "alice", loyalty.EventPurchase, orderOf("20"))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.Delta.Equal(pts(20)))
}

func TestAwardRankRestriction(t *testing.T) {
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")

	rule := purchaseRule("silver-only", 10)
	rule.Ranks = []loyalty.RankID{"silver", "gold"}
	saveRules(t, engine, rule)

	// Bronze does not qualify.
	entry, err := engine.Rules.Award(context.Background(), "alice", loyalty.EventPurchase, orderOf("50"))
	require.NoError(t, err)
	assert.Nil(t, entry)

	// Promote to silver, then the same event earns.
	mustPost(t, engine, loyalty.PostInput{AccountID: "alice", Kind: loyalty.KindEarn, Delta: pts(1500)})
	entry, err = engine.Rules.Award(context.Background(), "alice", loyalty.EventPurchase, orderOf("50"))
	require.NoError(t, err)
	assert.NotNil(t, entry)
}

func TestAwardValidityWindow(t *testing.T) {
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")

	rule := purchaseRule("seasonal", 10)
	rule.ValidFrom = time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	rule.ValidUntil = time.Date(2026, time.July, 1, 0, 0, 0, 0, time.UTC)
	saveRules(t, engine, rule)

	before := loyalty.EventContext{OrderValue: decimal.NewFromInt(10), At: rule.ValidFrom.Add(-time.Hour)}
	during := loyalty.EventContext{OrderValue: decimal.NewFromInt(10), At: rule.ValidFrom.Add(time.Hour)}

	entry, err := engine.Rules.Award(context.Background(), "alice", loyalty.EventPurchase, before)
	require.NoError(t, err)
	assert.Nil(t, entry)

	entry, err = engine.Rules.Award(context.Background(), "alice", loyalty.EventPurchase, during)
	require.NoError(t, err)
	assert.NotNil(t, entry)
}

// =============================================================================
// RULE SELECTION TESTS
// =============================================================================

func TestAwardLowestPriorityWins(t *testing.T) {
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")

	generic := purchaseRule("generic", 100)
	promo := purchaseRule("promo", 10)
	promo.PointsPerCurrency = decimal.NewFromInt(2)
	saveRules(t, engine, generic, promo)

	entry, err := engine.Rules.Award(context.Background(), "alice", loyalty.EventPurchase, orderOf("30"))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, loyalty.RuleID("promo"), entry.RuleID)
	assert.True(t, entry.Delta.Equal(pts(60)))
}

func TestAwardTieBreaksToMostRecent(t *testing.T) {
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")

	older := purchaseRule("older", 10)
	older.CreatedAt = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	newer := purchaseRule("newer", 10)
	newer.PointsPerCurrency = decimal.NewFromInt(3)
	newer.CreatedAt = time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	saveRules(t, engine, older, newer)

	entry, err := engine.Rules.Award(context.Background(), "alice", loyalty.EventPurchase, orderOf("10"))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, loyalty.RuleID("newer"), entry.RuleID)
}

func TestAwardIgnoresInactiveRules(t *testing.T) {
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")

	retired := purchaseRule("retired", 1)
	retired.Active = false
	saveRules(t, engine, retired, purchaseRule("live", 50))

	entry, err := engine.Rules.Award(context.Background(), "alice", loyalty.EventPurchase, orderOf("10"))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, loyalty.RuleID("live"), entry.RuleID)
}

// =============================================================================
// CAP TESTS
// =============================================================================

func TestAwardDailyCapClamps(t *testing.T) {
	// GIVEN a rule capped at 50 points per rolling 24 hours
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")

	rule := purchaseRule("capped", 10)
	rule.MaxPointsPerDay = ptsPtr(50)
	saveRules(t, engine, rule)

	at := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	ectx := loyalty.EventContext{OrderValue: decimal.NewFromInt(30), At: at}

	// WHEN three 30-point events land inside the window
	first, err := engine.Rules.Award(context.Background(), "alice", loyalty.EventPurchase, ectx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.True(t, first.Delta.Equal(pts(30)))

	ectx.At = at.Add(time.Hour)
	second, err := engine.Rules.Award(context.Background(), "alice", loyalty.EventPurchase, ectx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.True(t, second.Delta.Equal(pts(20)), "second award clamps to headroom, got %s", second.Delta)

	ectx.At = at.Add(2 * time.Hour)
	third, err := engine.Rules.Award(context.Background(), "alice", loyalty.EventPurchase, ectx)
	require.NoError(t, err)
	assert.Nil(t, third, "no headroom left under the daily cap")

	// THEN an event after the window reopens earning
	ectx.At = at.Add(25 * time.Hour)
	fourth, err := engine.Rules.Award(context.Background(), "alice", loyalty.EventPurchase, ectx)
	require.NoError(t, err)
	require.NotNil(t, fourth)
	assert.True(t, fourth.Delta.Equal(pts(30)))
}

func TestAwardDailyCapScopedToEventType(t *testing.T) {
	// Earns from a different event type never consume this cap's headroom.
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")

	capped := purchaseRule("capped", 10)
	capped.MaxPointsPerDay = ptsPtr(50)
	saveRules(t, engine, capped, loyalty.PointRule{
		ID:              "review",
		Name:            "review bonus",
		EventType:       loyalty.EventReview,
		PointsPerAction: pts(100),
		Priority:        10,
		Active:          true,
	})

	_, err := engine.Rules.Award(context.Background(), "alice", loyalty.EventReview, loyalty.EventContext{})
	require.NoError(t, err)

	entry, err := engine.Rules.Award(context.Background(), "alice", loyalty.EventPurchase, orderOf("40"))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.True(t, entry.Delta.Equal(pts(40)))
}

func TestAwardDailyCapHoldsUnderConcurrency(t *testing.T) {
	// GIVEN a 50-point daily cap and ten 30-point events racing
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")

	rule := purchaseRule("capped", 10)
	rule.MaxPointsPerDay = ptsPtr(50)
	saveRules(t, engine, rule)

	at := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Rules.Award(context.Background(), "alice", loyalty.EventPurchase,
				loyalty.EventContext{OrderValue: decimal.NewFromInt(30), At: at})
			if err != nil {
				t.Errorf("concurrent Award: %v", err)
			}
		}()
	}
	wg.Wait()

	// THEN the cap is filled exactly once, never exceeded
	balance, err := engine.Ledger.Balance(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, balance.Equal(pts(50)), "balance = %s, want exactly the cap", balance)
	require.NoError(t, engine.Ledger.Audit(context.Background(), "alice"))
}

func TestAwardLifetimeCapClamps(t *testing.T) {
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")

	rule := purchaseRule("once-ish", 10)
	rule.MaxPointsPerUser = ptsPtr(75)
	saveRules(t, engine, rule)

	first, err := engine.Rules.Award(context.Background(), "alice", loyalty.EventPurchase, orderOf("50"))
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.True(t, first.Delta.Equal(pts(50)))

	second, err := engine.Rules.Award(context.Background(), "alice", loyalty.EventPurchase, orderOf("50"))
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.True(t, second.Delta.Equal(pts(25)), "lifetime headroom, got %s", second.Delta)

	third, err := engine.Rules.Award(context.Background(), "alice", loyalty.EventPurchase, orderOf("50"))
	require.NoError(t, err)
	assert.Nil(t, third)
}

// =============================================================================
// EXPIRING AWARD TESTS
// =============================================================================

func TestAwardStampsExpiry(t *testing.T) {
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")

	rule := purchaseRule("expiring", 10)
	rule.PointsValidFor = 30 * 24 * time.Hour
	saveRules(t, engine, rule)

	at := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	entry, err := engine.Rules.Award(context.Background(), "alice", loyalty.EventPurchase,
		loyalty.EventContext{OrderValue: decimal.NewFromInt(10), At: at})
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.NotNil(t, entry.ExpiresAt)
	assert.True(t, entry.ExpiresAt.Equal(at.Add(30*24*time.Hour)))
}

func TestAwardWithoutValidityNeverExpires(t *testing.T) {
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")
	saveRules(t, engine, purchaseRule("r1", 10))

	entry, err := engine.Rules.Award(context.Background(), "alice", loyalty.EventPurchase, orderOf("10"))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Nil(t, entry.ExpiresAt)
}
