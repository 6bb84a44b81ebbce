package ledger_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bethub/bet-engine/internal/ledger"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newAccount(balance float64) *ledger.Account {
	return &ledger.Account{
		UserID:          "u1",
		Balance:         d(balance),
		StartingBalance: d(balance),
		CreatedAt:       time.Now().UTC(),
	}
}

func txn(kind ledger.TransactionKind, amount float64) ledger.Transaction {
	return ledger.Transaction{
		ID:        "t1",
		UserID:    "u1",
		Kind:      kind,
		Amount:    d(amount),
		Timestamp: time.Now().UTC(),
	}
}

func TestValidate_SignPerKind(t *testing.T) {
	cases := []struct {
		kind   ledger.TransactionKind
		amount float64
		ok     bool
	}{
		{ledger.KindStake, -10, true},
		{ledger.KindStake, 10, false},
		{ledger.KindRepayment, -10, true},
		{ledger.KindRepayment, 10, false},
		{ledger.KindWin, 10, true},
		{ledger.KindWin, -10, false},
		{ledger.KindRefund, 10, true},
		{ledger.KindLoan, 10, true},
		{ledger.KindCommission, 10, true},
		{ledger.KindCommission, -10, false},
	}
	for _, tc := range cases {
		err := txn(tc.kind, tc.amount).Validate()
		if tc.ok && err != nil {
			t.Errorf("%s %v should validate: %v", tc.kind, tc.amount, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s %v should be rejected", tc.kind, tc.amount)
		}
	}
}

func TestValidate_RejectsUnknownKindAndZero(t *testing.T) {
	if err := txn("BONUS", 10).Validate(); err == nil {
		t.Error("unknown kind should be rejected")
	}
	if err := txn(ledger.KindWin, 0).Validate(); err == nil {
		t.Error("zero amount should be rejected")
	}
}

func TestApply_MovesBalanceAndAppends(t *testing.T) {
	a := newAccount(100)

	if err := a.Apply(txn(ledger.KindStake, -40)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !a.Balance.Equal(d(60)) {
		t.Errorf("expected balance 60, got %s", a.Balance)
	}
	if len(a.Transactions) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(a.Transactions))
	}
	if err := a.VerifyHistory(); err != nil {
		t.Errorf("history should verify: %v", err)
	}
}

func TestApply_RejectsOverdraft(t *testing.T) {
	a := newAccount(30)

	err := a.Apply(txn(ledger.KindStake, -40))
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if !a.Balance.Equal(d(30)) || len(a.Transactions) != 0 {
		t.Error("rejected transaction must leave the account untouched")
	}
}

func TestVerifyHistory_DetectsDrift(t *testing.T) {
	a := newAccount(100)
	a.Apply(txn(ledger.KindWin, 25))

	a.Balance = a.Balance.Add(d(0.01))
	if err := a.VerifyHistory(); !errors.Is(err, ledger.ErrHistoryDrift) {
		t.Fatalf("expected ErrHistoryDrift, got %v", err)
	}
}

func TestOutstanding(t *testing.T) {
	a := newAccount(0)
	a.LoanPrincipal = d(100)
	a.LoanInterest = d(5.50)
	if !a.Outstanding().Equal(d(105.50)) {
		t.Errorf("expected outstanding 105.50, got %s", a.Outstanding())
	}
}

func TestClone_DoesNotAliasHistory(t *testing.T) {
	a := newAccount(100)
	a.Apply(txn(ledger.KindWin, 10))

	cp := a.Clone()
	cp.Apply(ledger.Transaction{
		ID: "t2", UserID: "u1", Kind: ledger.KindWin, Amount: d(5),
		Timestamp: time.Now().UTC(),
	})

	if len(a.Transactions) != 1 {
		t.Errorf("clone mutation leaked into original: %d transactions", len(a.Transactions))
	}
	if !a.Balance.Equal(d(110)) {
		t.Errorf("original balance changed to %s", a.Balance)
	}
}
