// Package parimutuel implements the pool accounting and settlement math
// for parimutuel markets: all stakes pool together and payouts are a
// proportional split of the pool, rather than fixed odds agreed at bet
// time.
//
// Everything in this package is pure and stateless — market state is
// passed as an argument, never stored — so the same computation can be
// re-derived in tests to catch cache drift.
//
// All monetary values use shopspring/decimal — never float64 for money.
package parimutuel

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bethub/bet-engine/internal/model"
)

var (
	// HouseFeeRate is the platform-retained share of the pool, reported in
	// settlement summaries and netted into display odds. Never credited to
	// any user account.
	HouseFeeRate = decimal.NewFromFloat(0.05)

	// CommissionRate is the creator's commission on the pool, credited as
	// a COMMISSION transaction at settlement.
	CommissionRate = decimal.NewFromFloat(0.01)

	// LoserRefundRate is the share of their own stake losers get back.
	// The remainder of the losing pool funds the winner distribution.
	LoserRefundRate = decimal.NewFromFloat(0.40)

	// ErrPoolDrift signals that the cached pool total no longer equals the
	// sum of stake amounts. Internal invariant failure — never a user error.
	ErrPoolDrift = errors.New("parimutuel: cached pool diverges from stakes")
)

// MoneyScale is the number of decimal places for monetary amounts.
// Amounts are fixed-precision to keep conservation checks exact.
const MoneyScale int32 = 2

// ProbScale is the number of decimal places for implied probabilities.
const ProbScale int32 = 4

// OutcomeOdds is the live pricing view of one outcome.
type OutcomeOdds struct {
	Outcome string          `json:"outcome"`
	Staked  decimal.Decimal `json:"staked"`
	// ImpliedProbability is outcome stake / pool total, or an equal 1/N
	// split while the pool is empty.
	ImpliedProbability decimal.Decimal `json:"implied_probability"`
	// DecimalOdds is the payout multiple implied by the fee-netted pool:
	// 0.95·pool / outcome stake. Zero while the outcome has no stake.
	DecimalOdds decimal.Decimal `json:"decimal_odds"`
}

// PoolSnapshot is a point-in-time view of a market's pool and odds.
type PoolSnapshot struct {
	MarketID string          `json:"market_id"`
	Pool     decimal.Decimal `json:"pool"`
	Outcomes []OutcomeOdds   `json:"outcomes"`
}

// OutcomeTotals sums stake amounts per outcome. Every outcome of the
// market appears in the result, zero-valued if nobody staked on it.
func OutcomeTotals(m *model.Market) map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal, len(m.Outcomes))
	for _, o := range m.Outcomes {
		totals[o] = decimal.Zero
	}
	for _, s := range m.Stakes {
		totals[s.Outcome] = totals[s.Outcome].Add(s.Amount)
	}
	return totals
}

// Snapshot derives the live odds view from the market's stakes.
func Snapshot(m *model.Market) PoolSnapshot {
	totals := OutcomeTotals(m)
	pool := m.StakedPool()
	netPool := pool.Mul(decimal.NewFromInt(1).Sub(HouseFeeRate))

	equalSplit := decimal.Zero
	if len(m.Outcomes) > 0 {
		equalSplit = decimal.NewFromInt(1).
			Div(decimal.NewFromInt(int64(len(m.Outcomes)))).
			Round(ProbScale)
	}

	snap := PoolSnapshot{MarketID: m.ID, Pool: pool}
	for _, o := range m.Outcomes {
		staked := totals[o]
		oo := OutcomeOdds{Outcome: o, Staked: staked}

		if pool.IsZero() {
			oo.ImpliedProbability = equalSplit
		} else {
			oo.ImpliedProbability = staked.Div(pool).Round(ProbScale)
		}
		if staked.IsPositive() {
			oo.DecimalOdds = netPool.Div(staked).Round(MoneyScale)
		} else {
			oo.DecimalOdds = decimal.Zero
		}
		snap.Outcomes = append(snap.Outcomes, oo)
	}
	return snap
}

// WinProbability is the implied probability of the chosen outcome after a
// prospective stake is added: (outcome stake + amount) / (pool + amount).
// Recorded on the stake at placement time.
func WinProbability(m *model.Market, outcome string, amount decimal.Decimal) decimal.Decimal {
	totals := OutcomeTotals(m)
	poolAfter := m.StakedPool().Add(amount)
	if poolAfter.IsZero() {
		if len(m.Outcomes) == 0 {
			return decimal.Zero
		}
		return decimal.NewFromInt(1).
			Div(decimal.NewFromInt(int64(len(m.Outcomes)))).
			Round(ProbScale)
	}
	return totals[outcome].Add(amount).Div(poolAfter).Round(ProbScale)
}

// VerifyPool re-derives the pool from the stakes and compares it against
// the cached total. A mismatch means internal state corruption and must
// abort the operation rather than settle on bad numbers.
func VerifyPool(m *model.Market) error {
	derived := m.StakedPool()
	if !derived.Equal(m.Pool) {
		return fmt.Errorf("%w: market=%s derived=%s cached=%s",
			ErrPoolDrift, m.ID, derived, m.Pool)
	}
	return nil
}
