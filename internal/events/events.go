// Package events defines the engine's outbound event contracts and the
// Kafka publisher that emits them. Events are fire-and-forget: downstream
// consumers (notifications, analytics) must tolerate loss, and a broker
// outage never fails the originating request.
package events

import (
	"github.com/shopspring/decimal"
)

// Topics, one per event family.
const (
	TopicStakes      = "bethub.stakes"
	TopicSettlements = "bethub.settlements"
	TopicLoans       = "bethub.loans"
)

// StakePlaced is emitted after a stake commits.
type StakePlaced struct {
	MarketID       string          `json:"market_id"`
	UserID         string          `json:"user_id"`
	Outcome        string          `json:"outcome"`
	Amount         decimal.Decimal `json:"amount"`
	WinProbability decimal.Decimal `json:"win_probability"`
	Pool           decimal.Decimal `json:"pool"`
	TsUnixMs       int64           `json:"ts_unix_ms"`
}

// MarketSettled is emitted after a settlement batch commits, whether from
// a declared result, a manual close, or the expiry sweeper.
type MarketSettled struct {
	MarketID string `json:"market_id"`
	// Status is the terminal state: RESULT_DECLARED or CLOSED.
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
	// Voided is true when the market settled by full refund.
	Voided        bool            `json:"voided"`
	Pool          decimal.Decimal `json:"pool"`
	HouseFee      decimal.Decimal `json:"house_fee"`
	Commission    decimal.Decimal `json:"commission"`
	HouseRetained decimal.Decimal `json:"house_retained"`
	Payouts       int             `json:"payouts"`
	TsUnixMs      int64           `json:"ts_unix_ms"`
}

// LoanEvent covers both loan issuance and repayment.
type LoanEvent struct {
	UserID string `json:"user_id"`
	// Action is "ISSUED", "REPAID", or "DEFAULTED".
	Action      string          `json:"action"`
	Amount      decimal.Decimal `json:"amount"`
	Outstanding decimal.Decimal `json:"outstanding"`
	TrustScore  int             `json:"trust_score"`
	TsUnixMs    int64           `json:"ts_unix_ms"`
}

const (
	LoanIssued    = "ISSUED"
	LoanRepaid    = "REPAID"
	LoanDefaulted = "DEFAULTED"
)
