// Package model defines the core domain types shared across the bet engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the market lifecycle state. A market is created OPEN and
// transitions exactly once to one of the two terminal states.
type Status string

const (
	StatusOpen           Status = "OPEN"
	StatusResultDeclared Status = "RESULT_DECLARED"
	StatusClosed         Status = "CLOSED"
)

// Terminal reports whether the status allows no further transitions.
func (s Status) Terminal() bool {
	return s == StatusResultDeclared || s == StatusClosed
}

// Visibility controls who can find and join a market.
type Visibility string

const (
	VisibilityPublic Visibility = "PUBLIC"
	// VisibilityPrivate markets are joined via join code only. Creating one
	// consumes one of the creator's access cards.
	VisibilityPrivate Visibility = "PRIVATE"
)

// Stake is an immutable record of one user's position in a market.
// Once created, stakes are never modified or deleted; a user holds at
// most one stake per market.
type Stake struct {
	UserID string `json:"user_id" db:"user_id"`
	// Outcome must be a member of the market's outcome set.
	Outcome string          `json:"outcome" db:"outcome"`
	Amount  decimal.Decimal `json:"amount" db:"amount"`
	// WinProbability is the implied probability of the chosen outcome at
	// the moment the stake was placed, including this stake.
	WinProbability decimal.Decimal `json:"win_probability" db:"win_probability"`
	PlacedAt       time.Time       `json:"placed_at" db:"placed_at"`
}

// Market represents one parimutuel prediction market.
type Market struct {
	ID          string     `json:"id" db:"id"`
	Title       string     `json:"title" db:"title"`
	Description string     `json:"description" db:"description"`
	Category    string     `json:"category" db:"category"`
	Creator     string     `json:"creator" db:"creator"`
	Outcomes    []string   `json:"outcomes"`
	Visibility  Visibility `json:"visibility" db:"visibility"`
	// JoinCode is set for private markets only and is required to stake.
	JoinCode string          `json:"join_code,omitempty" db:"join_code"`
	MinStake decimal.Decimal `json:"min_stake" db:"min_stake"`
	Status   Status          `json:"status" db:"status"`
	// Result is the winning outcome label; set iff Status == RESULT_DECLARED.
	Result string `json:"result,omitempty" db:"result"`
	// Pool is the cached sum of all stake amounts. It must always equal
	// Σ Stakes[i].Amount; the stakes are the source of truth.
	Pool      decimal.Decimal `json:"pool" db:"pool"`
	Stakes    []Stake         `json:"stakes"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	EndTime   time.Time       `json:"end_time" db:"end_time"`
}

// StakeBy returns the stake held by the given user, if any.
func (m *Market) StakeBy(userID string) (Stake, bool) {
	for _, s := range m.Stakes {
		if s.UserID == userID {
			return s, true
		}
	}
	return Stake{}, false
}

// HasOutcome reports whether the label is a member of the outcome set.
func (m *Market) HasOutcome(label string) bool {
	for _, o := range m.Outcomes {
		if o == label {
			return true
		}
	}
	return false
}

// StakedPool recomputes the pool total from the stakes. The cached Pool
// field is an optimization; this is the authoritative value.
func (m *Market) StakedPool() decimal.Decimal {
	total := decimal.Zero
	for _, s := range m.Stakes {
		total = total.Add(s.Amount)
	}
	return total
}
