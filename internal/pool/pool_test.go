package pool

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/opentac/controller/internal/game"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// testGame builds a three-agent, three-good ledger with 20 money each,
// one unit of each good apiece (two of good 0 for agent b) and a fee
// of 1.
func testGame(t *testing.T) *game.Game {
	t.Helper()

	cfg, err := game.NewConfiguration(3, 3, d(1),
		map[string]string{"agent_a": "alice", "agent_b": "bob", "agent_c": "carol"},
		map[string]string{"good_0": "Good 0", "good_1": "Good 1", "good_2": "Good 2"})
	if err != nil {
		t.Fatalf("configuration: %v", err)
	}

	init, err := game.NewInitialization(
		[]decimal.Decimal{d(20), d(20), d(20)},
		[][]int{{1, 1, 1}, {2, 1, 1}, {1, 1, 1}},
		[][]float64{{20, 40, 40}, {10, 50, 40}, {40, 30, 30}},
		[]float64{1, 1, 1},
		[][]float64{{1, 1, 1}, {1, 1, 1}, {1, 1, 1}},
		[]float64{20, 20, 20},
	)
	if err != nil {
		t.Fatalf("initialization: %v", err)
	}

	g, err := game.NewGame(cfg, init)
	if err != nil {
		t.Fatalf("game: %v", err)
	}
	return g
}

func leg(t *testing.T, id string, isSenderBuyer bool, sender, counterparty string, amount float64, quantities map[string]int) game.Transaction {
	t.Helper()
	tx, err := game.NewTransaction(id, isSenderBuyer, sender, counterparty, d(amount), quantities)
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	return tx
}

func TestReconcile_FirstValidLegPends(t *testing.T) {
	g := testGame(t)
	p := New()

	outcome, _ := p.Reconcile(g, leg(t, "tx", true, "agent_a", "agent_b", 10, map[string]int{"good_0": 1}))
	if outcome != Pending {
		t.Fatalf("expected Pending, got %v", outcome)
	}
	if p.Len() != 1 {
		t.Errorf("expected 1 pending request, got %d", p.Len())
	}
}

func TestReconcile_FirstInvalidLegRejected(t *testing.T) {
	g := testGame(t)
	p := New()

	// 25 exceeds the buyer's balance.
	outcome, _ := p.Reconcile(g, leg(t, "tx", true, "agent_a", "agent_b", 25, map[string]int{"good_0": 1}))
	if outcome != RejectedInvalid {
		t.Fatalf("expected RejectedInvalid, got %v", outcome)
	}
	if p.Len() != 0 {
		t.Errorf("expected empty pool, got %d pending", p.Len())
	}
}

func TestReconcile_MatchingLegsSettle(t *testing.T) {
	g := testGame(t)
	p := New()

	first := leg(t, "tx", true, "agent_a", "agent_b", 10, map[string]int{"good_0": 1})
	second := leg(t, "tx", false, "agent_b", "agent_a", 10, map[string]int{"good_0": 1})

	p.Reconcile(g, first)
	outcome, pendingLeg := p.Reconcile(g, second)
	if outcome != Settled {
		t.Fatalf("expected Settled, got %v", outcome)
	}
	if !pendingLeg.Equal(first) {
		t.Error("expected the popped pending leg to be the first submission")
	}
	if p.Len() != 0 {
		t.Errorf("expected empty pool after settlement, got %d pending", p.Len())
	}

	if !g.Balances()["agent_a"].Equal(d(9.5)) {
		t.Errorf("expected buyer balance 9.5, got %s", g.Balances()["agent_a"])
	}
	if len(g.Transactions()) != 1 {
		t.Errorf("expected one settled transaction, got %d", len(g.Transactions()))
	}
}

func TestReconcile_NonMatchingDropsPendingLeg(t *testing.T) {
	g := testGame(t)
	p := New()

	p.Reconcile(g, leg(t, "tx", true, "agent_a", "agent_b", 10, map[string]int{"good_0": 1}))
	// Same ID, different amount: no match.
	outcome, _ := p.Reconcile(g, leg(t, "tx", false, "agent_b", "agent_a", 11, map[string]int{"good_0": 1}))
	if outcome != RejectedNonMatching {
		t.Fatalf("expected RejectedNonMatching, got %v", outcome)
	}
	if p.Len() != 0 {
		t.Error("expected the pending leg to be dropped, not re-queued")
	}
	if len(g.Transactions()) != 0 {
		t.Error("expected no settlement")
	}
}

func TestReconcile_StalePendingLegRejectedOnDrift(t *testing.T) {
	g := testGame(t)
	p := New()

	// agent_a pends a purchase that consumes most of its balance.
	p.Reconcile(g, leg(t, "tx1", true, "agent_a", "agent_b", 18, map[string]int{"good_0": 1}))

	// A second, independent trade settles first and drains agent_a.
	p.Reconcile(g, leg(t, "tx2", true, "agent_a", "agent_c", 10, map[string]int{"good_1": 1}))
	outcome, _ := p.Reconcile(g, leg(t, "tx2", false, "agent_c", "agent_a", 10, map[string]int{"good_1": 1}))
	if outcome != Settled {
		t.Fatalf("expected tx2 to settle, got %v", outcome)
	}

	// The counterpart of the stale leg matches but no longer validates.
	outcome, _ = p.Reconcile(g, leg(t, "tx1", false, "agent_b", "agent_a", 18, map[string]int{"good_0": 1}))
	if outcome != RejectedInvalid {
		t.Fatalf("expected RejectedInvalid after ledger drift, got %v", outcome)
	}
}

func TestReconcile_SettledIDStartsOver(t *testing.T) {
	g := testGame(t)
	p := New()

	first := leg(t, "tx", true, "agent_a", "agent_b", 5, map[string]int{"good_0": 1})
	second := leg(t, "tx", false, "agent_b", "agent_a", 5, map[string]int{"good_0": 1})
	p.Reconcile(g, first)
	p.Reconcile(g, second)

	// Terminal IDs carry no memory: a resubmission opens a fresh first leg.
	outcome, _ := p.Reconcile(g, first)
	if outcome != Pending {
		t.Fatalf("expected resubmitted ID to pend again, got %v", outcome)
	}
}
