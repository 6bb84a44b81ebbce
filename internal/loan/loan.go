// Package loan implements underwriting and interest accrual for the
// trust-gated micro-loan facility. Loans are issued against the trust
// tier limit, accrue interest on outstanding principal, and feed
// repayment outcomes back into the trust score.
package loan

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bethub/bet-engine/internal/ledger"
	"github.com/bethub/bet-engine/internal/parimutuel"
	"github.com/bethub/bet-engine/internal/trust"
)

var (
	// ErrLoanLimitExceeded is returned when a requested loan would push
	// the outstanding principal past the trust-tier limit.
	ErrLoanLimitExceeded = errors.New("loan: limit exceeded for trust tier")

	// ErrNoActiveLoan is returned for repayments with nothing outstanding.
	ErrNoActiveLoan = errors.New("loan: no active loan")

	// DefaultRate is the interest rate per accrual period (30 days),
	// applied to outstanding principal. Adjustable per account.
	DefaultRate = decimal.NewFromFloat(0.05)
)

const (
	// accrualPeriod is the window DefaultRate covers; interest accrues
	// lazily per elapsed day at rate/30.
	accrualPeriod = 30

	// coinsPerDay sizes the repayment window: every 100 coins borrowed
	// adds one day to the due date.
	coinsPerDay = 100
)

// Accrue brings the account's interest up to date as of now. Interest is
// tracked as a running total separate from principal and is settled first
// on repayment. Call before any loan read or mutation.
func Accrue(a *ledger.Account, now time.Time) {
	if !a.LoanPrincipal.IsPositive() || a.LoanAccruedAt.IsZero() {
		return
	}
	days := int64(now.Sub(a.LoanAccruedAt).Hours() / 24)
	if days <= 0 {
		return
	}
	rate := a.LoanRate
	if rate.IsZero() {
		rate = DefaultRate
	}
	accrued := a.LoanPrincipal.
		Mul(rate).
		Mul(decimal.NewFromInt(days)).
		Div(decimal.NewFromInt(accrualPeriod)).
		Round(parimutuel.MoneyScale)
	a.LoanInterest = a.LoanInterest.Add(accrued)
	a.LoanAccruedAt = a.LoanAccruedAt.Add(time.Duration(days) * 24 * time.Hour)
}

// Duration returns the repayment window for a loan amount: one day per
// 100 coins, rounded up.
func Duration(amount decimal.Decimal) time.Duration {
	days := amount.Div(decimal.NewFromInt(coinsPerDay)).Ceil().IntPart()
	if days < 1 {
		days = 1
	}
	return time.Duration(days) * 24 * time.Hour
}

// Issue underwrites and applies a new loan on the account: checks the
// trust-tier limit, credits the balance as a LOAN transaction, grows the
// principal, and sets or extends the due date.
func Issue(a *ledger.Account, amount decimal.Decimal, now time.Time) error {
	if !amount.IsPositive() {
		return ledger.ErrNonPositiveAmount
	}
	Accrue(a, now)

	limit := trust.Limit(a.TrustScore)
	if a.LoanPrincipal.Add(amount).GreaterThan(limit) {
		return fmt.Errorf("%w: outstanding %s + requested %s > limit %s",
			ErrLoanLimitExceeded, a.LoanPrincipal, amount, limit)
	}

	if err := a.Apply(ledger.Transaction{
		ID:          uuid.NewString(),
		UserID:      a.UserID,
		Kind:        ledger.KindLoan,
		Amount:      amount,
		Description: fmt.Sprintf("Loan of %s at %s per 30d", amount, rateOf(a)),
		Timestamp:   now,
	}); err != nil {
		return err
	}

	firstLoan := !a.LoanPrincipal.IsPositive()
	a.LoanPrincipal = a.LoanPrincipal.Add(amount)
	a.TotalBorrowed = a.TotalBorrowed.Add(amount)
	if firstLoan {
		a.LoanAccruedAt = now
		a.LoanDefaulted = false
		a.LoanDueDate = now.Add(Duration(amount))
	} else {
		// Extending an open loan pushes the due date out from whichever is
		// later: now or the current due date.
		base := a.LoanDueDate
		if base.Before(now) {
			base = now
		}
		a.LoanDueDate = base.Add(Duration(amount))
	}
	return nil
}

// Repay applies a repayment: debits the balance, settles interest before
// principal, and on full repayment completes the loan and recomputes the
// trust score. Returns the effective amount applied (capped at the
// outstanding total) and whether the loan was fully repaid.
func Repay(a *ledger.Account, amount decimal.Decimal, now time.Time) (decimal.Decimal, bool, error) {
	if !amount.IsPositive() {
		return decimal.Zero, false, ledger.ErrNonPositiveAmount
	}
	Accrue(a, now)

	outstanding := a.Outstanding()
	if !outstanding.IsPositive() {
		return decimal.Zero, false, ErrNoActiveLoan
	}
	if amount.GreaterThan(a.Balance) {
		return decimal.Zero, false, ledger.ErrInsufficientFunds
	}

	effective := amount
	if effective.GreaterThan(outstanding) {
		effective = outstanding
	}

	if err := a.Apply(ledger.Transaction{
		ID:          uuid.NewString(),
		UserID:      a.UserID,
		Kind:        ledger.KindRepayment,
		Amount:      effective.Neg(),
		Description: fmt.Sprintf("Loan repayment of %s", effective),
		Timestamp:   now,
	}); err != nil {
		return decimal.Zero, false, err
	}

	// Interest settles first, then principal.
	remaining := effective
	if remaining.GreaterThanOrEqual(a.LoanInterest) {
		remaining = remaining.Sub(a.LoanInterest)
		a.LoanInterest = decimal.Zero
	} else {
		a.LoanInterest = a.LoanInterest.Sub(remaining)
		remaining = decimal.Zero
	}
	a.LoanPrincipal = a.LoanPrincipal.Sub(remaining)
	a.TotalRepaid = a.TotalRepaid.Add(effective)

	completed := !a.Outstanding().IsPositive()
	if completed {
		a.LoansCompleted++
		if !a.LoanDefaulted && !now.After(a.LoanDueDate) {
			a.LoansOnTime++
		}
		a.LoanDueDate = time.Time{}
		a.LoanAccruedAt = time.Time{}
		a.LoanDefaulted = false
	}
	a.TrustScore = trust.Recompute(a)
	return effective, completed, nil
}

// MarkDefault flags an overdue loan exactly once, incrementing the
// default count and recomputing trust. Returns whether a new default was
// recorded. The loan stays due: repayment afterwards still completes it,
// just never on time.
func MarkDefault(a *ledger.Account, now time.Time) bool {
	if a.LoanDefaulted || a.LoanDueDate.IsZero() {
		return false
	}
	if !a.Outstanding().IsPositive() || !now.After(a.LoanDueDate) {
		return false
	}
	a.LoanDefaulted = true
	a.DefaultCount++
	a.TrustScore = trust.Recompute(a)
	return true
}

func rateOf(a *ledger.Account) decimal.Decimal {
	if a.LoanRate.IsZero() {
		return DefaultRate
	}
	return a.LoanRate
}
