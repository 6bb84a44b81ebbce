package loan_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bethub/bet-engine/internal/ledger"
	"github.com/bethub/bet-engine/internal/loan"
	"github.com/bethub/bet-engine/internal/trust"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newAccount() *ledger.Account {
	return &ledger.Account{
		UserID:          "u1",
		Balance:         d(1000),
		StartingBalance: d(1000),
		TrustScore:      trust.MaxScore,
	}
}

func TestIssue_CreditsBalanceAndSetsDueDate(t *testing.T) {
	a := newAccount()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := loan.Issue(a, d(500), now); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if !a.Balance.Equal(d(1500)) {
		t.Errorf("expected balance 1500, got %s", a.Balance)
	}
	if !a.LoanPrincipal.Equal(d(500)) {
		t.Errorf("expected principal 500, got %s", a.LoanPrincipal)
	}
	// One day per 100 coins: 500 → 5 days.
	wantDue := now.Add(5 * 24 * time.Hour)
	if !a.LoanDueDate.Equal(wantDue) {
		t.Errorf("expected due %v, got %v", wantDue, a.LoanDueDate)
	}
	if err := a.VerifyHistory(); err != nil {
		t.Errorf("history should verify: %v", err)
	}
}

func TestIssue_DurationRoundsUp(t *testing.T) {
	a := newAccount()
	now := time.Now().UTC()

	if err := loan.Issue(a, d(101), now); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if want := now.Add(2 * 24 * time.Hour); !a.LoanDueDate.Equal(want) {
		t.Errorf("101 coins should get 2 days, due %v, got %v", want, a.LoanDueDate)
	}
}

func TestIssue_RejectsOverLimit(t *testing.T) {
	a := newAccount()
	now := time.Now().UTC()

	// Top tier limit is 5000.
	err := loan.Issue(a, d(5001), now)
	if !errors.Is(err, loan.ErrLoanLimitExceeded) {
		t.Fatalf("expected ErrLoanLimitExceeded, got %v", err)
	}
	if !a.LoanPrincipal.IsZero() || !a.Balance.Equal(d(1000)) {
		t.Error("rejected loan must not touch the account")
	}

	// Outstanding principal counts against the limit.
	if err := loan.Issue(a, d(4000), now); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := loan.Issue(a, d(1001), now); !errors.Is(err, loan.ErrLoanLimitExceeded) {
		t.Fatalf("expected ErrLoanLimitExceeded on top-up, got %v", err)
	}
}

func TestIssue_ZeroTierCannotBorrow(t *testing.T) {
	a := newAccount()
	a.TrustScore = 20

	err := loan.Issue(a, d(1), time.Now().UTC())
	if !errors.Is(err, loan.ErrLoanLimitExceeded) {
		t.Fatalf("expected ErrLoanLimitExceeded, got %v", err)
	}
}

func TestAccrue_DailyInterest(t *testing.T) {
	a := newAccount()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := loan.Issue(a, d(300), start); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// 30 days at the default 5% per 30 days: 300 * 0.05 = 15.
	loan.Accrue(a, start.Add(30*24*time.Hour))
	if !a.LoanInterest.Equal(d(15)) {
		t.Errorf("expected interest 15 after 30 days, got %s", a.LoanInterest)
	}

	// Accruing again at the same instant adds nothing.
	loan.Accrue(a, start.Add(30*24*time.Hour))
	if !a.LoanInterest.Equal(d(15)) {
		t.Errorf("re-accrual changed interest to %s", a.LoanInterest)
	}
}

func TestAccrue_PartialDaysIgnored(t *testing.T) {
	a := newAccount()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := loan.Issue(a, d(300), start); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	loan.Accrue(a, start.Add(23*time.Hour))
	if !a.LoanInterest.IsZero() {
		t.Errorf("sub-day accrual should add nothing, got %s", a.LoanInterest)
	}
}

func TestRepay_InterestSettledFirst(t *testing.T) {
	a := newAccount()
	now := time.Now().UTC()
	if err := loan.Issue(a, d(100), now); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	a.LoanInterest = d(10)

	repaid, completed, err := loan.Repay(a, d(50), now)
	if err != nil {
		t.Fatalf("Repay: %v", err)
	}
	if !repaid.Equal(d(50)) || completed {
		t.Fatalf("expected partial repayment of 50, got %s completed=%v", repaid, completed)
	}
	if !a.LoanInterest.IsZero() {
		t.Errorf("interest should settle first, got %s", a.LoanInterest)
	}
	if !a.LoanPrincipal.Equal(d(60)) {
		t.Errorf("expected principal 60, got %s", a.LoanPrincipal)
	}
}

func TestRepay_OverpaymentCappedAtOutstanding(t *testing.T) {
	a := newAccount()
	now := time.Now().UTC()
	if err := loan.Issue(a, d(100), now); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	repaid, completed, err := loan.Repay(a, d(500), now)
	if err != nil {
		t.Fatalf("Repay: %v", err)
	}
	if !repaid.Equal(d(100)) {
		t.Errorf("expected repayment capped at 100, got %s", repaid)
	}
	if !completed {
		t.Error("full repayment should complete the loan")
	}
	// Balance: 1000 + 100 loan - 100 repayment.
	if !a.Balance.Equal(d(1000)) {
		t.Errorf("expected balance 1000, got %s", a.Balance)
	}
}

func TestRepay_OnTimeCompletionFeedsTrust(t *testing.T) {
	a := newAccount()
	now := time.Now().UTC()
	if err := loan.Issue(a, d(200), now); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// One day of interest accrues on 200 at 5% per 30 days: 0.33.
	repaid, completed, err := loan.Repay(a, d(250), now.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Repay: %v", err)
	}
	if !completed {
		t.Fatal("expected completion")
	}
	if !repaid.Equal(d(200.33)) {
		t.Errorf("expected repayment of 200.33 with accrued interest, got %s", repaid)
	}
	if a.LoansCompleted != 1 || a.LoansOnTime != 1 {
		t.Errorf("expected 1 completed, 1 on time; got %d/%d", a.LoansCompleted, a.LoansOnTime)
	}
	if !a.LoanDueDate.IsZero() {
		t.Error("due date should reset after completion")
	}
	if a.TrustScore != trust.MaxScore {
		t.Errorf("clean repayment should keep trust at %d, got %d", trust.MaxScore, a.TrustScore)
	}
}

func TestRepay_LateCompletionNotOnTime(t *testing.T) {
	a := newAccount()
	now := time.Now().UTC()
	if err := loan.Issue(a, d(100), now); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Due in 1 day; repay 10 days late.
	_, completed, err := loan.Repay(a, d(200), now.Add(10*24*time.Hour))
	if err != nil {
		t.Fatalf("Repay: %v", err)
	}
	if !completed {
		t.Fatal("expected completion")
	}
	if a.LoansOnTime != 0 {
		t.Errorf("late repayment must not count as on time, got %d", a.LoansOnTime)
	}
	if a.TrustScore >= trust.MaxScore {
		t.Errorf("late repayment should lower trust, got %d", a.TrustScore)
	}
}

func TestRepay_NoActiveLoan(t *testing.T) {
	a := newAccount()

	_, _, err := loan.Repay(a, d(50), time.Now().UTC())
	if !errors.Is(err, loan.ErrNoActiveLoan) {
		t.Fatalf("expected ErrNoActiveLoan, got %v", err)
	}
}

func TestRepay_InsufficientBalance(t *testing.T) {
	a := newAccount()
	now := time.Now().UTC()
	if err := loan.Issue(a, d(100), now); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	a.Balance = d(10)

	_, _, err := loan.Repay(a, d(50), now)
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestMarkDefault_OncePerLoan(t *testing.T) {
	a := newAccount()
	now := time.Now().UTC()
	if err := loan.Issue(a, d(100), now); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	overdue := now.Add(30 * 24 * time.Hour)
	if !loan.MarkDefault(a, overdue) {
		t.Fatal("expected default to be recorded")
	}
	if a.DefaultCount != 1 {
		t.Errorf("expected 1 default, got %d", a.DefaultCount)
	}
	if a.TrustScore > trust.MaxScore-trust.DefaultPenalty {
		t.Errorf("default should cost at least %d trust, got %d", trust.DefaultPenalty, a.TrustScore)
	}

	if loan.MarkDefault(a, overdue.Add(time.Hour)) {
		t.Error("a loan must default at most once")
	}
	if a.DefaultCount != 1 {
		t.Errorf("default count grew to %d", a.DefaultCount)
	}
}

func TestMarkDefault_NotBeforeDueDate(t *testing.T) {
	a := newAccount()
	now := time.Now().UTC()
	if err := loan.Issue(a, d(100), now); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if loan.MarkDefault(a, now.Add(time.Hour)) {
		t.Error("loan within its term must not default")
	}
}

func TestDefaultedLoanStillRepayable(t *testing.T) {
	a := newAccount()
	now := time.Now().UTC()
	if err := loan.Issue(a, d(100), now); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	loan.MarkDefault(a, now.Add(30*24*time.Hour))

	_, completed, err := loan.Repay(a, d(200), now.Add(31*24*time.Hour))
	if err != nil {
		t.Fatalf("Repay: %v", err)
	}
	if !completed {
		t.Fatal("defaulted loan should still complete on repayment")
	}
	if a.LoansOnTime != 0 {
		t.Error("defaulted loan must never count as on time")
	}
	if a.DefaultCount != 1 {
		t.Errorf("repayment must not erase the default, got %d", a.DefaultCount)
	}
}
