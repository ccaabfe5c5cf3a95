package loyalty_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/loyalty/store"
)

// =============================================================================
// BAND VALIDATION TESTS
// =============================================================================

func engineWithRanks(t *testing.T, ranks []loyalty.Rank) (*loyalty.Engine, error) {
	t.Helper()
	ctx := context.Background()

	mem := store.NewMemory()
	for _, r := range ranks {
		if err := mem.SaveRank(ctx, r); err != nil {
			t.Fatalf("SaveRank(%s): %v", r.ID, err)
		}
	}
	return loyalty.NewEngine(ctx, mem)
}

func TestRankBandValidation(t *testing.T) {
	one := decimal.NewFromInt(1)

	cases := []struct {
		name  string
		ranks []loyalty.Rank
	}{
		{
			name:  "no active ranks",
			ranks: nil,
		},
		{
			name: "first band does not start at zero",
			ranks: []loyalty.Rank{
				{ID: "a", Name: "A", Level: 1, MinPoints: pts(100), Multiplier: one, Active: true},
			},
		},
		{
			name: "gap between bands",
			ranks: []loyalty.Rank{
				{ID: "a", Name: "A", Level: 1, MinPoints: pts(0), MaxPoints: ptsPtr(500), Multiplier: one, Active: true},
				{ID: "b", Name: "B", Level: 2, MinPoints: pts(600), Multiplier: one, Active: true},
			},
		},
		{
			name: "overlapping bands",
			ranks: []loyalty.Rank{
				{ID: "a", Name: "A", Level: 1, MinPoints: pts(0), MaxPoints: ptsPtr(500), Multiplier: one, Active: true},
				{ID: "b", Name: "B", Level: 2, MinPoints: pts(400), Multiplier: one, Active: true},
			},
		},
		{
			name: "unbounded band below the top",
			ranks: []loyalty.Rank{
				{ID: "a", Name: "A", Level: 1, MinPoints: pts(0), Multiplier: one, Active: true},
				{ID: "b", Name: "B", Level: 2, MinPoints: pts(500), MaxPoints: ptsPtr(1000), Multiplier: one, Active: true},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := engineWithRanks(t, tc.ranks)
			if !errors.Is(err, loyalty.ErrNoMatchingRank) {
				t.Errorf("err = %v, want ErrNoMatchingRank", err)
			}
			if !loyalty.IsConfigError(err) {
				t.Errorf("expected a configuration error, got %v", err)
			}
		})
	}
}

func TestRankBandsIgnoreInactive(t *testing.T) {
	// GIVEN a contiguous active set alongside an inactive legacy band
	one := decimal.NewFromInt(1)
	engine, err := engineWithRanks(t, []loyalty.Rank{
		{ID: "a", Name: "A", Level: 1, MinPoints: pts(0), MaxPoints: ptsPtr(500), Multiplier: one, Active: true},
		{ID: "b", Name: "B", Level: 2, MinPoints: pts(500), Multiplier: one, Active: true},
		{ID: "legacy", Name: "Legacy", Level: 9, MinPoints: pts(250), MaxPoints: ptsPtr(300), Multiplier: one, Active: false},
	})

	// THEN validation only sees the active bands
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if got := len(engine.Ranks.Ranks()); got != 2 {
		t.Errorf("active bands = %d, want 2", got)
	}
}

// =============================================================================
// THRESHOLD TRANSITION TESTS
// =============================================================================

func TestEarnCrossesThresholdOnce(t *testing.T) {
	// GIVEN an account sitting at 950 lifetime points
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")
	mustPost(t, engine, loyalty.PostInput{AccountID: "alice", Kind: loyalty.KindEarn, Delta: pts(950)})

	// WHEN one earn carries it across the 1000 boundary
	mustPost(t, engine, loyalty.PostInput{AccountID: "alice", Kind: loyalty.KindEarn, Delta: pts(100)})

	// THEN the account holds silver and exactly one transition was recorded
	rank, err := engine.Ranks.CurrentRank(context.Background(), "alice")
	if err != nil {
		t.Fatalf("CurrentRank: %v", err)
	}
	if rank.ID != "silver" {
		t.Errorf("rank = %s, want silver", rank.ID)
	}

	history, err := engine.Ranks.History(context.Background(), "alice")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("transitions = %d, want 1", len(history))
	}
	record := history[0]
	if record.FromRank == nil || *record.FromRank != "bronze" || record.ToRank != "silver" {
		t.Errorf("transition = %v -> %s, want bronze -> silver", record.FromRank, record.ToRank)
	}
	if record.Reason != loyalty.RankReasonThreshold {
		t.Errorf("reason = %s, want %s", record.Reason, loyalty.RankReasonThreshold)
	}
	if !record.LifetimePoints.Equal(pts(1050)) {
		t.Errorf("LifetimePoints = %s, want 1050", record.LifetimePoints)
	}
}

func TestLargeEarnSkipsIntermediateBand(t *testing.T) {
	// GIVEN a fresh bronze account
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")

	// WHEN a single earn jumps past silver straight into gold
	mustPost(t, engine, loyalty.PostInput{AccountID: "alice", Kind: loyalty.KindEarn, Delta: pts(6000)})

	// THEN the account lands on gold with one history record, not two
	rank, _ := engine.Ranks.CurrentRank(context.Background(), "alice")
	if rank.ID != "gold" {
		t.Errorf("rank = %s, want gold", rank.ID)
	}
	history, _ := engine.Ranks.History(context.Background(), "alice")
	if len(history) != 1 {
		t.Errorf("transitions = %d, want 1", len(history))
	}
}

func TestSpendNeverDemotes(t *testing.T) {
	// GIVEN an account promoted to silver
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")
	mustPost(t, engine, loyalty.PostInput{AccountID: "alice", Kind: loyalty.KindEarn, Delta: pts(1200)})

	// WHEN the whole balance is spent
	mustPost(t, engine, loyalty.PostInput{AccountID: "alice", Kind: loyalty.KindSpend, Delta: pts(1200).Neg()})

	// THEN the rank stays put; lifetime points only ever grow
	rank, _ := engine.Ranks.CurrentRank(context.Background(), "alice")
	if rank.ID != "silver" {
		t.Errorf("rank = %s, want silver", rank.ID)
	}
	history, _ := engine.Ranks.History(context.Background(), "alice")
	if len(history) != 1 {
		t.Errorf("transitions = %d, want 1", len(history))
	}
}

// =============================================================================
// ADMIN OVERRIDE TESTS
// =============================================================================

func TestAdminAssignRecordsOverride(t *testing.T) {
	// GIVEN a silver account
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")
	mustPost(t, engine, loyalty.PostInput{AccountID: "alice", Kind: loyalty.KindEarn, Delta: pts(1500)})

	// WHEN an administrator forces it back to bronze
	transition, err := engine.Ranks.AdminAssign(context.Background(), "alice", "bronze", "ops@example.com")
	if err != nil {
		t.Fatalf("AdminAssign: %v", err)
	}
	if transition == nil || transition.To.ID != "bronze" {
		t.Fatalf("transition = %+v, want -> bronze", transition)
	}

	// THEN the override is in effect and attributed in history
	rank, _ := engine.Ranks.CurrentRank(context.Background(), "alice")
	if rank.ID != "bronze" {
		t.Errorf("rank = %s, want bronze", rank.ID)
	}
	history, _ := engine.Ranks.History(context.Background(), "alice")
	last := history[len(history)-1]
	if last.Reason != loyalty.RankReasonOverride {
		t.Errorf("reason = %s, want %s", last.Reason, loyalty.RankReasonOverride)
	}
	if last.Actor != "ops@example.com" {
		t.Errorf("actor = %s, want ops@example.com", last.Actor)
	}
}

func TestAdminAssignUnknownRank(t *testing.T) {
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")

	_, err := engine.Ranks.AdminAssign(context.Background(), "alice", "diamond", "ops")
	if !loyalty.IsNotFound(err) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestAdminAssignSameRankIsNoOp(t *testing.T) {
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")

	transition, err := engine.Ranks.AdminAssign(context.Background(), "alice", "bronze", "ops")
	if err != nil {
		t.Fatalf("AdminAssign: %v", err)
	}
	if transition != nil {
		t.Errorf("transition = %+v, want nil for same-rank assignment", transition)
	}
	history, _ := engine.Ranks.History(context.Background(), "alice")
	if len(history) != 0 {
		t.Errorf("history = %d records, want none", len(history))
	}
}

func TestEvaluateAfterOverride(t *testing.T) {
	// GIVEN a silver-by-points account overridden down to bronze
	engine := newTestEngine(t)
	newTestAccount(t, engine, "alice")
	mustPost(t, engine, loyalty.PostInput{AccountID: "alice", Kind: loyalty.KindEarn, Delta: pts(1500)})
	if _, err := engine.Ranks.AdminAssign(context.Background(), "alice", "bronze", "ops"); err != nil {
		t.Fatalf("AdminAssign: %v", err)
	}

	// WHEN the threshold evaluation runs again
	transition, err := engine.Ranks.Evaluate(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	// THEN the points-derived rank wins back
	if transition == nil || transition.To.ID != "silver" {
		t.Fatalf("transition = %+v, want -> silver", transition)
	}
}
