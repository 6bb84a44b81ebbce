// Package trust implements the 0–1000 trust score derived from loan
// repayment history, and the tier table that maps scores to borrowing
// limits.
//
// The score is derived, never authoritative: it is recomputed from the
// account's loan aggregates on every repayment or default, and the cached
// value on the account is only an optimization.
//
// Formula:
//
//	trust = clamp(1000·(0.6·repaymentRatio + 0.4·timeliness) − 150·defaults, 0, 1000)
//
// repaymentRatio is total repaid over total borrowed (1.0 for users who
// never borrowed, and clamped at 1.0 since interest pushes repayments
// above the borrowed principal). timeliness is the fraction of completed
// loans repaid on or before their due date (1.0 when none completed).
// The default penalty is recomputed from the current count, not
// accumulated destructively.
package trust

import (
	"github.com/shopspring/decimal"

	"github.com/bethub/bet-engine/internal/ledger"
)

const (
	// MaxScore is the trust ceiling.
	MaxScore = 1000

	// DefaultPenalty is subtracted per recorded default.
	DefaultPenalty = 150
)

var (
	repaymentWeight  = decimal.NewFromFloat(0.6)
	timelinessWeight = decimal.NewFromFloat(0.4)

	// BaseLimit is the borrowing limit at tier multiplier 1.0.
	BaseLimit = decimal.NewFromInt(2500)

	// LimitCap is the absolute borrowing ceiling regardless of tier.
	LimitCap = decimal.NewFromInt(5000)
)

// Score computes the trust score from loan history aggregates.
func Score(totalBorrowed, totalRepaid decimal.Decimal, loansCompleted, loansOnTime, defaultCount int) int {
	one := decimal.NewFromInt(1)

	repaymentRatio := one
	if totalBorrowed.IsPositive() {
		repaymentRatio = totalRepaid.Div(totalBorrowed)
		if repaymentRatio.GreaterThan(one) {
			repaymentRatio = one
		}
	}

	timeliness := one
	if loansCompleted > 0 {
		timeliness = decimal.NewFromInt(int64(loansOnTime)).
			Div(decimal.NewFromInt(int64(loansCompleted)))
	}

	base := decimal.NewFromInt(MaxScore).
		Mul(repaymentWeight.Mul(repaymentRatio).Add(timelinessWeight.Mul(timeliness)))
	penalty := decimal.NewFromInt(int64(DefaultPenalty * defaultCount))

	score := int(base.Sub(penalty).IntPart())
	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// Recompute derives the score from an account's aggregates.
func Recompute(a *ledger.Account) int {
	return Score(a.TotalBorrowed, a.TotalRepaid, a.LoansCompleted, a.LoansOnTime, a.DefaultCount)
}

// TierMultiplier maps a trust score to its borrowing-limit multiplier.
// Band edges are inclusive on the lower bound.
func TierMultiplier(score int) decimal.Decimal {
	switch {
	case score < 50:
		return decimal.Zero
	case score < 300:
		return decimal.NewFromFloat(0.2)
	case score < 500:
		return decimal.NewFromFloat(0.5)
	case score < 700:
		return decimal.NewFromInt(1)
	case score < 850:
		return decimal.NewFromFloat(1.5)
	default:
		return decimal.NewFromInt(2)
	}
}

// Limit returns the borrowing limit for a trust score:
// min(LimitCap, BaseLimit · tierMultiplier).
func Limit(score int) decimal.Decimal {
	limit := BaseLimit.Mul(TierMultiplier(score))
	if limit.GreaterThan(LimitCap) {
		return LimitCap
	}
	return limit
}
