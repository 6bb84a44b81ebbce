// Package store defines the persistence interface for the bet engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bethub/bet-engine/internal/ledger"
	"github.com/bethub/bet-engine/internal/model"
)

var (
	// ErrNotFound is returned when a market or account does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrNoAccessCards is returned when creating a private market with no
	// access cards left.
	ErrNoAccessCards = errors.New("store: no access cards remaining")

	// ErrAlreadyStaked is returned when a user already holds a stake in
	// the market. Stakes are immutable; one per user per market.
	ErrAlreadyStaked = errors.New("store: user already staked in this market")
)

// New accounts are bootstrapped with a signup balance and a stock of
// access cards for creating private markets.
var (
	StartingBalance     = decimal.RequireFromString("1000.00")
	StartingAccessCards = 10
)

// SettlementBatch is the one-shot write that resolves a market: the
// lifecycle transition plus every resulting balance credit, applied
// atomically. If the market is no longer OPEN the whole batch is
// rejected, which is what makes settlement idempotent under races.
type SettlementBatch struct {
	MarketID string
	// Status is the terminal state to record: RESULT_DECLARED or CLOSED.
	Status model.Status
	// Result is the winning outcome; empty when voiding.
	Result string
	// Credits are the WIN/REFUND/COMMISSION transactions to apply.
	// Each is validated and appended to its account's history.
	Credits []ledger.Transaction
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Market operations ---

	// CreateMarket persists a new market. For private markets it consumes
	// one of the creator's access cards in the same write, failing with
	// ErrNoAccessCards if none remain.
	CreateMarket(ctx context.Context, market *model.Market, consumeAccessCard bool) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// GetMarketByJoinCode retrieves a private market by its join code.
	GetMarketByJoinCode(ctx context.Context, code string) (*model.Market, error)

	// ListMarkets returns all public markets plus, when userID is
	// non-empty, private markets the user created or staked in.
	ListMarkets(ctx context.Context, userID string) ([]model.Market, error)

	// ListExpiredOpenMarkets returns OPEN markets whose end time is
	// before the cutoff. Feeds the expiry sweeper.
	ListExpiredOpenMarkets(ctx context.Context, cutoff time.Time) ([]model.Market, error)

	// AppendStake records a stake and the matching balance debit in one
	// atomic write. It re-checks — under the write lock — that the market
	// is OPEN, the user has not staked, and the balance covers the debit.
	// Returns the market after the stake is recorded.
	AppendStake(ctx context.Context, marketID string, stake model.Stake, debit ledger.Transaction) (*model.Market, error)

	// ApplySettlement transitions the market to its terminal state and
	// applies every credit in the batch atomically. Fails without side
	// effects if the market is not OPEN.
	ApplySettlement(ctx context.Context, batch SettlementBatch) (*model.Market, error)

	// --- Account operations ---

	// GetOrCreateAccount returns the account, bootstrapping a fresh one
	// (signup balance, access cards, full trust) on first contact.
	GetOrCreateAccount(ctx context.Context, userID string) (*ledger.Account, error)

	// GetAccount returns the account or ErrNotFound.
	GetAccount(ctx context.Context, userID string) (*ledger.Account, error)

	// UpdateAccount loads the account, runs fn on it under the write
	// lock, and persists the result. If fn returns an error nothing is
	// written. Loan issue/repay and default flagging go through here.
	UpdateAccount(ctx context.Context, userID string, fn func(*ledger.Account) error) (*ledger.Account, error)

	// Transactions returns the user's full history, oldest first.
	Transactions(ctx context.Context, userID string) ([]ledger.Transaction, error)

	// ListOverdueAccounts returns user IDs with an outstanding loan past
	// its due date as of cutoff and not yet flagged defaulted. Feeds the
	// default sweeper.
	ListOverdueAccounts(ctx context.Context, cutoff time.Time) ([]string, error)
}
