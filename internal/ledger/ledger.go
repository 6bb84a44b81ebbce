// Package ledger implements the account ledger: balances, loan state, and
// the append-only transaction history. Accounts are mutated only through
// the settlement engine, loan underwriting, and stake placement — never by
// presentation code.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrNonPositiveAmount is returned for zero or negative operation amounts.
	ErrNonPositiveAmount = errors.New("ledger: amount must be positive")

	// ErrHistoryDrift signals that the transaction history no longer sums
	// to the balance delta. This is an internal invariant failure, not a
	// recoverable user error.
	ErrHistoryDrift = errors.New("ledger: transaction history does not match balance")
)

// TransactionKind is the business reason for a balance movement.
// The set is closed; the settlement engine matches on it exhaustively.
type TransactionKind string

const (
	KindStake      TransactionKind = "STAKE"
	KindWin        TransactionKind = "WIN"
	KindRefund     TransactionKind = "REFUND"
	KindLoan       TransactionKind = "LOAN"
	KindRepayment  TransactionKind = "REPAYMENT"
	KindCommission TransactionKind = "COMMISSION"
)

// valid kinds for exhaustive checks.
var validKinds = map[TransactionKind]bool{
	KindStake:      true,
	KindWin:        true,
	KindRefund:     true,
	KindLoan:       true,
	KindRepayment:  true,
	KindCommission: true,
}

// Transaction is a single immutable row in an account's history.
// Amount is signed: credits positive, debits negative.
type Transaction struct {
	ID     string          `json:"id" db:"id"`
	UserID string          `json:"user_id" db:"user_id"`
	Kind   TransactionKind `json:"kind" db:"kind"`
	Amount decimal.Decimal `json:"amount" db:"amount"`
	// Profit is the profit component of a WIN (payout minus refunded
	// principal). Zero for every other kind.
	Profit      decimal.Decimal `json:"profit,omitempty" db:"profit"`
	Description string          `json:"description" db:"description"`
	MarketID    string          `json:"market_id,omitempty" db:"market_id"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
}

// Validate checks the transaction shape before it is appended.
func (t Transaction) Validate() error {
	if !validKinds[t.Kind] {
		return fmt.Errorf("ledger: unknown transaction kind %q", t.Kind)
	}
	if t.Amount.IsZero() {
		return ErrNonPositiveAmount
	}
	switch t.Kind {
	case KindStake, KindRepayment:
		if t.Amount.IsPositive() {
			return fmt.Errorf("ledger: %s amount must be negative, got %s", t.Kind, t.Amount)
		}
	case KindWin, KindRefund, KindLoan, KindCommission:
		if t.Amount.IsNegative() {
			return fmt.Errorf("ledger: %s amount must be positive, got %s", t.Kind, t.Amount)
		}
	}
	return nil
}

// Account holds one user's balance, loan state, trust aggregates, and
// transaction history.
type Account struct {
	UserID string `json:"user_id" db:"user_id"`
	// Balance is the available balance; never negative.
	Balance decimal.Decimal `json:"balance" db:"balance"`
	// StartingBalance is the signup credit; kept so the history invariant
	// (Σ transaction amounts == Balance − StartingBalance) stays checkable.
	StartingBalance decimal.Decimal `json:"starting_balance" db:"starting_balance"`
	// AccessCards are consumed when creating private markets.
	AccessCards int `json:"access_cards" db:"access_cards"`

	// TrustScore is the cached 0–1000 reputation score. Derived — always
	// recomputable from the loan aggregates below.
	TrustScore int `json:"trust_score" db:"trust_score"`

	// Loan state. Interest is tracked separately from principal and is
	// settled first on repayment.
	LoanPrincipal   decimal.Decimal `json:"loan_principal" db:"loan_principal"`
	LoanInterest    decimal.Decimal `json:"loan_interest" db:"loan_interest"`
	LoanRate        decimal.Decimal `json:"loan_rate" db:"loan_rate"` // per 30 days
	LoanDueDate     time.Time       `json:"loan_due_date,omitempty" db:"loan_due_date"`
	LoanAccruedAt   time.Time       `json:"loan_accrued_at,omitempty" db:"loan_accrued_at"`
	LoanDefaulted   bool            `json:"loan_defaulted" db:"loan_defaulted"`

	// Loan history aggregates feeding the trust score.
	TotalBorrowed  decimal.Decimal `json:"total_borrowed" db:"total_borrowed"`
	TotalRepaid    decimal.Decimal `json:"total_repaid" db:"total_repaid"`
	LoansCompleted int             `json:"loans_completed" db:"loans_completed"`
	LoansOnTime    int             `json:"loans_on_time" db:"loans_on_time"`
	DefaultCount   int             `json:"default_count" db:"default_count"`

	// Transactions is append-only, ordered by insertion.
	Transactions []Transaction `json:"transactions"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
}

// Outstanding returns principal plus accrued interest.
func (a *Account) Outstanding() decimal.Decimal {
	return a.LoanPrincipal.Add(a.LoanInterest)
}

// Apply validates a transaction, moves the balance, and appends it to the
// history in one step. Debits that would take the balance negative are
// rejected with ErrInsufficientFunds and leave the account untouched.
func (a *Account) Apply(t Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	next := a.Balance.Add(t.Amount)
	if next.IsNegative() {
		return ErrInsufficientFunds
	}
	a.Balance = next
	a.Transactions = append(a.Transactions, t)
	return nil
}

// VerifyHistory re-derives the balance from the transaction history and
// compares it with the cached balance. A mismatch is an invariant failure.
func (a *Account) VerifyHistory() error {
	sum := decimal.Zero
	for _, t := range a.Transactions {
		sum = sum.Add(t.Amount)
	}
	if !a.StartingBalance.Add(sum).Equal(a.Balance) {
		return fmt.Errorf("%w: user=%s derived=%s cached=%s",
			ErrHistoryDrift, a.UserID, a.StartingBalance.Add(sum), a.Balance)
	}
	return nil
}

// Clone returns a deep copy, so read snapshots never alias store state.
func (a *Account) Clone() *Account {
	cp := *a
	cp.Transactions = make([]Transaction, len(a.Transactions))
	copy(cp.Transactions, a.Transactions)
	return &cp
}
