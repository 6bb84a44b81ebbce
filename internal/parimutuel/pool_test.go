package parimutuel_test

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/bethub/bet-engine/internal/parimutuel"
)

func TestSnapshot_EmptyPool(t *testing.T) {
	m := seedMarket()

	snap := parimutuel.Snapshot(m)
	if !snap.Pool.IsZero() {
		t.Errorf("expected empty pool, got %s", snap.Pool)
	}
	for _, oo := range snap.Outcomes {
		// Equal 1/N split before any stake.
		if !oo.ImpliedProbability.Equal(d(0.5)) {
			t.Errorf("expected probability 0.5 for %s, got %s", oo.Outcome, oo.ImpliedProbability)
		}
		if !oo.DecimalOdds.IsZero() {
			t.Errorf("expected zero odds for unstaked %s, got %s", oo.Outcome, oo.DecimalOdds)
		}
	}
}

func TestSnapshot_OddsNetOfFee(t *testing.T) {
	m := seedMarket(
		stake("a", "Yes", 100),
		stake("b", "No", 100),
	)

	snap := parimutuel.Snapshot(m)
	for _, oo := range snap.Outcomes {
		// 0.95 * 200 / 100 = 1.90
		if !oo.DecimalOdds.Equal(d(1.90)) {
			t.Errorf("expected odds 1.90 for %s, got %s", oo.Outcome, oo.DecimalOdds)
		}
		if !oo.ImpliedProbability.Equal(d(0.5)) {
			t.Errorf("expected probability 0.5 for %s, got %s", oo.Outcome, oo.ImpliedProbability)
		}
	}
}

func TestSnapshot_ProbabilitiesSumToOne(t *testing.T) {
	m := seedMarket(
		stake("a", "Yes", 73.21),
		stake("b", "No", 26.79),
	)

	snap := parimutuel.Snapshot(m)
	sum := decimal.Zero
	for _, oo := range snap.Outcomes {
		sum = sum.Add(oo.ImpliedProbability)
	}
	if sum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(d(0.001)) {
		t.Errorf("probabilities should sum to ~1, got %s", sum)
	}
}

func TestWinProbability_IncludesProspectiveStake(t *testing.T) {
	m := seedMarket(stake("a", "Yes", 100))

	// (100 + 100) / (100 + 100) = 1 on the staked side of a one-sided pool.
	p := parimutuel.WinProbability(m, "Yes", d(100))
	if !p.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected probability 1, got %s", p)
	}

	// (0 + 100) / (100 + 100) = 0.5 on the other side.
	p = parimutuel.WinProbability(m, "No", d(100))
	if !p.Equal(d(0.5)) {
		t.Errorf("expected probability 0.5, got %s", p)
	}
}

func TestWinProbability_EmptyMarket(t *testing.T) {
	m := seedMarket()

	p := parimutuel.WinProbability(m, "Yes", decimal.Zero)
	if !p.Equal(d(0.5)) {
		t.Errorf("expected 1/N probability 0.5, got %s", p)
	}
}

func TestVerifyPool(t *testing.T) {
	m := seedMarket(stake("a", "Yes", 100))
	if err := parimutuel.VerifyPool(m); err != nil {
		t.Fatalf("consistent pool should verify: %v", err)
	}

	m.Pool = m.Pool.Add(d(0.01))
	if err := parimutuel.VerifyPool(m); err == nil {
		t.Fatal("expected drift error")
	}
}
