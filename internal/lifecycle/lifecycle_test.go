package lifecycle_test

import (
	"errors"
	"testing"
	"time"

	"github.com/bethub/bet-engine/internal/lifecycle"
	"github.com/bethub/bet-engine/internal/model"
)

func openMarket() *model.Market {
	return &model.Market{
		ID:       "m1",
		Creator:  "carol",
		Outcomes: []string{"Yes", "No"},
		Status:   model.StatusOpen,
	}
}

func TestCheckStakeable(t *testing.T) {
	now := time.Now()

	m := openMarket()
	if err := lifecycle.CheckStakeable(m, "alice", now); err != nil {
		t.Fatalf("open market should be stakeable: %v", err)
	}

	m.Status = model.StatusResultDeclared
	if err := lifecycle.CheckStakeable(m, "alice", now); !errors.Is(err, lifecycle.ErrMarketClosed) {
		t.Fatalf("expected ErrMarketClosed, got %v", err)
	}
}

func TestCheckStakeable_CreatorRejected(t *testing.T) {
	m := openMarket()
	err := lifecycle.CheckStakeable(m, "carol", time.Now())
	if !errors.Is(err, lifecycle.ErrCreatorStake) {
		t.Fatalf("expected ErrCreatorStake, got %v", err)
	}
}

func TestCheckStakeable_EndTime(t *testing.T) {
	now := time.Now()

	m := openMarket()
	m.EndTime = now.Add(time.Hour)
	if err := lifecycle.CheckStakeable(m, "alice", now); err != nil {
		t.Fatalf("market before end time should be stakeable: %v", err)
	}

	m.EndTime = now.Add(-time.Minute)
	if err := lifecycle.CheckStakeable(m, "alice", now); !errors.Is(err, lifecycle.ErrMarketEnded) {
		t.Fatalf("expected ErrMarketEnded, got %v", err)
	}

	// No end time means no deadline.
	m.EndTime = time.Time{}
	if err := lifecycle.CheckStakeable(m, "alice", now); err != nil {
		t.Fatalf("market without end time should be stakeable: %v", err)
	}
}

func TestCheckDeclare(t *testing.T) {
	m := openMarket()

	if err := lifecycle.CheckDeclare(m, "carol", "Yes"); err != nil {
		t.Fatalf("creator declare should pass: %v", err)
	}
	if err := lifecycle.CheckDeclare(m, "mallory", "Yes"); !errors.Is(err, lifecycle.ErrNotCreator) {
		t.Errorf("expected ErrNotCreator, got %v", err)
	}
	if err := lifecycle.CheckDeclare(m, "carol", "Maybe"); !errors.Is(err, lifecycle.ErrInvalidOutcome) {
		t.Errorf("expected ErrInvalidOutcome, got %v", err)
	}
}

func TestCheckDeclare_TerminalStates(t *testing.T) {
	for _, status := range []model.Status{model.StatusResultDeclared, model.StatusClosed} {
		m := openMarket()
		m.Status = status
		if err := lifecycle.CheckDeclare(m, "carol", "Yes"); !errors.Is(err, lifecycle.ErrInvalidState) {
			t.Errorf("declare on %s market: expected ErrInvalidState, got %v", status, err)
		}
	}
}

func TestCheckClose(t *testing.T) {
	m := openMarket()
	if err := lifecycle.CheckClose(m, "carol"); err != nil {
		t.Fatalf("creator close should pass: %v", err)
	}
	if err := lifecycle.CheckClose(m, "mallory"); !errors.Is(err, lifecycle.ErrNotCreator) {
		t.Errorf("expected ErrNotCreator, got %v", err)
	}

	m.Status = model.StatusClosed
	if err := lifecycle.CheckClose(m, "carol"); !errors.Is(err, lifecycle.ErrInvalidState) {
		t.Errorf("close on closed market: expected ErrInvalidState, got %v", err)
	}
}

func TestConsistent(t *testing.T) {
	m := openMarket()
	if err := lifecycle.Consistent(m); err != nil {
		t.Errorf("open market without result should be consistent: %v", err)
	}

	m.Result = "Yes"
	if err := lifecycle.Consistent(m); err == nil {
		t.Error("result on an OPEN market should be inconsistent")
	}

	m.Status = model.StatusResultDeclared
	if err := lifecycle.Consistent(m); err != nil {
		t.Errorf("declared market with result should be consistent: %v", err)
	}

	m.Result = ""
	if err := lifecycle.Consistent(m); err == nil {
		t.Error("declared market without result should be inconsistent")
	}
}
