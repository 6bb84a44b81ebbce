// Package lifecycle implements the market state machine. A market starts
// OPEN and transitions exactly once, by its creator, to RESULT_DECLARED or
// CLOSED. There is no transition out of a terminal state.
package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/bethub/bet-engine/internal/model"
)

var (
	// ErrInvalidState is returned when an operation is attempted outside
	// the lifecycle state that permits it.
	ErrInvalidState = errors.New("lifecycle: invalid market state")

	// ErrMarketClosed is returned for operations on a terminal market.
	ErrMarketClosed = errors.New("lifecycle: market is closed")

	// ErrNotCreator is returned when someone other than the market creator
	// attempts a lifecycle transition.
	ErrNotCreator = errors.New("lifecycle: only the creator may resolve a market")

	// ErrInvalidOutcome is returned when a declared result is not a member
	// of the market's outcome set.
	ErrInvalidOutcome = errors.New("lifecycle: outcome is not part of this market")

	// ErrCreatorStake is returned when a market's creator tries to stake
	// their own market.
	ErrCreatorStake = errors.New("lifecycle: creator cannot stake their own market")

	// ErrMarketEnded is returned for stakes placed after the market's end
	// time, before the expiry sweep has voided it.
	ErrMarketEnded = errors.New("lifecycle: market end time has passed")
)

// CheckStakeable verifies that a stake by userID may still be recorded:
// the market is OPEN, its end time has not passed, and the staker is not
// the creator.
func CheckStakeable(m *model.Market, userID string, now time.Time) error {
	if m.Status != model.StatusOpen {
		return fmt.Errorf("%w: market %s is %s", ErrMarketClosed, m.ID, m.Status)
	}
	if !m.EndTime.IsZero() && !now.Before(m.EndTime) {
		return fmt.Errorf("%w: market %s ended at %s", ErrMarketEnded, m.ID, m.EndTime.Format(time.RFC3339))
	}
	if userID == m.Creator {
		return fmt.Errorf("%w: market %s", ErrCreatorStake, m.ID)
	}
	return nil
}

// CheckDeclare validates the OPEN → RESULT_DECLARED transition. It does
// not apply it; the store applies the transition atomically with the
// settlement batch.
func CheckDeclare(m *model.Market, caller, outcome string) error {
	if err := checkTransition(m, caller); err != nil {
		return err
	}
	if !m.HasOutcome(outcome) {
		return fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}
	return nil
}

// CheckClose validates the OPEN → CLOSED (voided) transition. Close is
// unconditional apart from state and authorship: it is the path for
// abandoned or ambiguous markets and triggers full-refund settlement.
func CheckClose(m *model.Market, caller string) error {
	return checkTransition(m, caller)
}

func checkTransition(m *model.Market, caller string) error {
	if m.Status.Terminal() {
		return fmt.Errorf("%w: market %s already %s", ErrInvalidState, m.ID, m.Status)
	}
	if m.Status != model.StatusOpen {
		return fmt.Errorf("%w: market %s is %s", ErrInvalidState, m.ID, m.Status)
	}
	if m.Creator != caller {
		return ErrNotCreator
	}
	return nil
}

// Consistent checks the status/result pairing invariant: result is set
// if and only if the market is RESULT_DECLARED.
func Consistent(m *model.Market) error {
	declared := m.Status == model.StatusResultDeclared
	if declared != (m.Result != "") {
		return fmt.Errorf("%w: market %s status=%s result=%q",
			ErrInvalidState, m.ID, m.Status, m.Result)
	}
	return nil
}
