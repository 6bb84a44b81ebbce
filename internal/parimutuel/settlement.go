package parimutuel

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/bethub/bet-engine/internal/ledger"
	"github.com/bethub/bet-engine/internal/model"
)

var (
	// ErrConservation signals that a computed plan does not conserve the
	// pool. Plans failing validation must never be applied.
	ErrConservation = errors.New("parimutuel: settlement plan does not conserve pool")

	// ErrUnknownResult is returned when the winning outcome is not part of
	// the market's outcome set.
	ErrUnknownResult = errors.New("parimutuel: result is not a market outcome")
)

// Payout is one user-visible settlement line.
type Payout struct {
	UserID string                 `json:"user_id"`
	Kind   ledger.TransactionKind `json:"kind"`
	// Amount is the total credited to the user.
	Amount decimal.Decimal `json:"amount"`
	// Principal is the refunded stake component of a WIN.
	Principal decimal.Decimal `json:"principal,omitempty"`
	// Profit is the winner-pool share component of a WIN.
	Profit decimal.Decimal `json:"profit,omitempty"`
}

// Plan is the full financial resolution of one market, computed before any
// balance is touched and applied as a single atomic batch.
//
// Conservation invariant: Σ Payout amounts + HouseRetained == Pool,
// exactly. The creator commission and the house fee are platform book
// entries outside the pool: the commission is platform-funded and the fee
// is retained without ever being credited to a user.
type Plan struct {
	MarketID string `json:"market_id"`
	Creator  string `json:"creator"`
	// Result is the winning outcome; empty for a voided market.
	Result string `json:"result,omitempty"`

	Pool     decimal.Decimal `json:"pool"`
	WinPool  decimal.Decimal `json:"win_pool"`
	LosePool decimal.Decimal `json:"lose_pool"`

	HouseFee   decimal.Decimal `json:"house_fee"`
	Commission decimal.Decimal `json:"commission"`
	// HouseRetained is the pool remainder kept by the platform when the
	// winning outcome had no stakers.
	HouseRetained decimal.Decimal `json:"house_retained"`

	// Payouts are in stake insertion order: deterministic, so rounding
	// assignment and lock ordering are reproducible.
	Payouts []Payout `json:"payouts"`
}

// ComputeResult builds the settlement plan for a declared result.
//
// Losers get back LoserRefundRate of their own stake; their forfeits form
// the winner pool, split across winners pro-rata by stake size on top of
// each winner's refunded principal. Rounding dust from the pro-rata split
// goes to the last winner in stake order so the pool conserves exactly.
func ComputeResult(m *model.Market, result string) (*Plan, error) {
	if !m.HasOutcome(result) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResult, result)
	}

	plan := &Plan{
		MarketID: m.ID,
		Creator:  m.Creator,
		Result:   result,
		Pool:     m.StakedPool(),
	}
	if len(m.Stakes) == 0 || !plan.Pool.IsPositive() {
		return plan, nil
	}

	plan.HouseFee = plan.Pool.Mul(HouseFeeRate).Round(MoneyScale)
	plan.Commission = plan.Pool.Mul(CommissionRate).Round(MoneyScale)

	var winners []model.Stake
	winnerPool := decimal.Zero // Σ loser forfeits, funds winner profits

	for _, s := range m.Stakes {
		if s.Outcome == result {
			plan.WinPool = plan.WinPool.Add(s.Amount)
			winners = append(winners, s)
			continue
		}
		plan.LosePool = plan.LosePool.Add(s.Amount)
		refund := s.Amount.Mul(LoserRefundRate).Round(MoneyScale)
		winnerPool = winnerPool.Add(s.Amount.Sub(refund))
		plan.Payouts = append(plan.Payouts, Payout{
			UserID: s.UserID,
			Kind:   ledger.KindRefund,
			Amount: refund,
		})
	}

	if len(winners) == 0 {
		// Nobody staked the winning outcome: no winner distribution, the
		// forfeited remainder is platform-retained.
		plan.HouseRetained = winnerPool
		return plan, nil
	}

	distributed := decimal.Zero
	for i, s := range winners {
		var share decimal.Decimal
		if i == len(winners)-1 {
			share = winnerPool.Sub(distributed)
		} else {
			share = winnerPool.Mul(s.Amount).Div(plan.WinPool).RoundDown(MoneyScale)
			distributed = distributed.Add(share)
		}
		plan.Payouts = append(plan.Payouts, Payout{
			UserID:    s.UserID,
			Kind:      ledger.KindWin,
			Amount:    s.Amount.Add(share),
			Principal: s.Amount,
			Profit:    share,
		})
	}
	return plan, nil
}

// ComputeVoid builds the full-refund plan for a market closed without a
// result. No fee, no commission: every participant gets their stake back.
func ComputeVoid(m *model.Market) *Plan {
	plan := &Plan{
		MarketID: m.ID,
		Creator:  m.Creator,
		Pool:     m.StakedPool(),
	}
	for _, s := range m.Stakes {
		plan.Payouts = append(plan.Payouts, Payout{
			UserID: s.UserID,
			Kind:   ledger.KindRefund,
			Amount: s.Amount,
		})
	}
	return plan
}

// Validate checks the conservation invariant. A failing plan must abort
// settlement; it indicates a bug, not bad input.
func (p *Plan) Validate() error {
	total := p.HouseRetained
	for _, po := range p.Payouts {
		switch po.Kind {
		case ledger.KindWin, ledger.KindRefund:
			total = total.Add(po.Amount)
		default:
			return fmt.Errorf("parimutuel: unexpected payout kind %q in plan for market %s",
				po.Kind, p.MarketID)
		}
		if po.Amount.IsNegative() {
			return fmt.Errorf("parimutuel: negative payout %s for user %s in market %s",
				po.Amount, po.UserID, p.MarketID)
		}
	}
	if !total.Equal(p.Pool) {
		return fmt.Errorf("%w: market=%s pool=%s distributed=%s",
			ErrConservation, p.MarketID, p.Pool, total)
	}
	return nil
}
