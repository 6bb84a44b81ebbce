package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bethub/bet-engine/internal/ledger"
	"github.com/bethub/bet-engine/internal/lifecycle"
	"github.com/bethub/bet-engine/internal/model"
	"github.com/bethub/bet-engine/internal/trust"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Multi-account writes lock rows in sorted user order so concurrent
// settlements cannot deadlock.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const marketCols = `id, title, description, category, creator, outcomes,
	visibility, join_code, min_stake::TEXT, status, result, pool::TEXT,
	created_at, end_time`

const accountCols = `user_id, balance::TEXT, starting_balance::TEXT,
	access_cards, trust_score,
	loan_principal::TEXT, loan_interest::TEXT, loan_rate::TEXT,
	loan_due_date, loan_accrued_at, loan_defaulted,
	total_borrowed::TEXT, total_repaid::TEXT,
	loans_completed, loans_on_time, default_count, created_at`

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market, consumeAccessCard bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if consumeAccessCard {
		var cards int
		err := tx.QueryRow(ctx,
			`SELECT access_cards FROM accounts WHERE user_id = $1 FOR UPDATE`,
			m.Creator).Scan(&cards)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: account %s", ErrNotFound, m.Creator)
		}
		if err != nil {
			return err
		}
		if cards <= 0 {
			return ErrNoAccessCards
		}
		if _, err := tx.Exec(ctx,
			`UPDATE accounts SET access_cards = access_cards - 1 WHERE user_id = $1`,
			m.Creator); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO markets (id, title, description, category, creator, outcomes,
		                      visibility, join_code, min_stake, status, result, pool,
		                      created_at, end_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC, $10, $11, $12::NUMERIC, $13, $14)`,
		m.ID, m.Title, m.Description, m.Category, m.Creator, m.Outcomes,
		m.Visibility, m.JoinCode, m.MinStake.String(), m.Status, m.Result,
		m.Pool.String(), m.CreatedAt, nullTime(m.EndTime),
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: market %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	if err := s.loadStakes(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *PostgresStore) GetMarketByJoinCode(ctx context.Context, code string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE join_code = $1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: join code %s", ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("get market by join code: %w", err)
	}
	if err := s.loadStakes(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context, userID string) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+`
		 FROM markets m
		 WHERE m.visibility = 'PUBLIC'
		    OR ($1 <> '' AND (m.creator = $1 OR EXISTS (
		        SELECT 1 FROM stakes st WHERE st.market_id = m.id AND st.user_id = $1)))
		 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	markets, err := collectMarkets(rows)
	if err != nil {
		return nil, err
	}
	for i := range markets {
		if err := s.loadStakes(ctx, &markets[i]); err != nil {
			return nil, err
		}
	}
	return markets, nil
}

func (s *PostgresStore) ListExpiredOpenMarkets(ctx context.Context, cutoff time.Time) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketCols+`
		 FROM markets
		 WHERE status = 'OPEN' AND end_time IS NOT NULL AND end_time < $1
		 ORDER BY end_time`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	markets, err := collectMarkets(rows)
	if err != nil {
		return nil, err
	}
	for i := range markets {
		if err := s.loadStakes(ctx, &markets[i]); err != nil {
			return nil, err
		}
	}
	return markets, nil
}

func (s *PostgresStore) AppendStake(ctx context.Context, marketID string, stake model.Stake, debit ledger.Transaction) (*model.Market, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	m, err := scanMarket(tx.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1 FOR UPDATE`, marketID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: market %s", ErrNotFound, marketID)
	}
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CheckStakeable(m, stake.UserID, time.Now()); err != nil {
		return nil, err
	}

	var staked bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM stakes WHERE market_id = $1 AND user_id = $2)`,
		marketID, stake.UserID).Scan(&staked); err != nil {
		return nil, err
	}
	if staked {
		return nil, ErrAlreadyStaked
	}

	var balanceS string
	err = tx.QueryRow(ctx,
		`SELECT balance::TEXT FROM accounts WHERE user_id = $1 FOR UPDATE`,
		stake.UserID).Scan(&balanceS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, stake.UserID)
	}
	if err != nil {
		return nil, err
	}
	balance, _ := decimal.NewFromString(balanceS)
	if balance.Add(debit.Amount).IsNegative() {
		return nil, ledger.ErrInsufficientFunds
	}

	if err := applyTransactionTx(ctx, tx, debit); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO stakes (market_id, user_id, outcome, amount, win_probability, placed_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)`,
		marketID, stake.UserID, stake.Outcome,
		stake.Amount.String(), stake.WinProbability.String(), stake.PlacedAt,
	); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE markets SET pool = pool + $2::NUMERIC WHERE id = $1`,
		marketID, stake.Amount.String()); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.GetMarket(ctx, marketID)
}

func (s *PostgresStore) ApplySettlement(ctx context.Context, batch SettlementBatch) (*model.Market, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	m, err := scanMarket(tx.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1 FOR UPDATE`, batch.MarketID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: market %s", ErrNotFound, batch.MarketID)
	}
	if err != nil {
		return nil, err
	}
	if m.Status != model.StatusOpen {
		return nil, fmt.Errorf("%w: market %s already %s",
			lifecycle.ErrInvalidState, m.ID, m.Status)
	}

	// Lock every touched account in sorted order before writing any of
	// them, so two settlements over an overlapping user set never deadlock.
	users := make([]string, 0, len(batch.Credits))
	seen := make(map[string]bool, len(batch.Credits))
	for _, c := range batch.Credits {
		if !seen[c.UserID] {
			seen[c.UserID] = true
			users = append(users, c.UserID)
		}
	}
	sort.Strings(users)
	for _, u := range users {
		var id string
		err := tx.QueryRow(ctx,
			`SELECT user_id FROM accounts WHERE user_id = $1 FOR UPDATE`, u).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: account %s", ErrNotFound, u)
		}
		if err != nil {
			return nil, err
		}
	}

	for _, credit := range batch.Credits {
		if err := applyTransactionTx(ctx, tx, credit); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE markets SET status = $2, result = $3 WHERE id = $1`,
		batch.MarketID, batch.Status, batch.Result); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.GetMarket(ctx, batch.MarketID)
}

// applyTransactionTx validates the transaction, moves the balance, and
// records the history row inside the caller's transaction.
func applyTransactionTx(ctx context.Context, tx pgx.Tx, t ledger.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = balance + $2::NUMERIC WHERE user_id = $1`,
		t.UserID, t.Amount.String()); err != nil {
		return err
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, kind, amount, profit, description, market_id, timestamp)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8)`,
		t.ID, t.UserID, t.Kind, t.Amount.String(), t.Profit.String(),
		t.Description, t.MarketID, t.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetOrCreateAccount(ctx context.Context, userID string) (*ledger.Account, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, balance, starting_balance, access_cards,
		                       trust_score, loan_principal, loan_interest, loan_rate,
		                       loan_defaulted, total_borrowed, total_repaid,
		                       loans_completed, loans_on_time, default_count, created_at)
		 VALUES ($1, $2::NUMERIC, $2::NUMERIC, $3, $4, 0, 0, 0, FALSE, 0, 0, 0, 0, 0, $5)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, StartingBalance.String(), StartingAccessCards, trust.MaxScore,
		time.Now().UTC(),
	)
	if err != nil {
		return nil, err
	}
	return s.GetAccount(ctx, userID)
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (*ledger.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", userID, err)
	}
	a.Transactions, err = s.Transactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *PostgresStore) UpdateAccount(ctx context.Context, userID string, fn func(*ledger.Account) error) (*ledger.Account, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	a, err := scanAccount(tx.QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE user_id = $1 FOR UPDATE`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, userID)
	}
	if err != nil {
		return nil, err
	}
	a.Transactions, err = transactionsTx(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	before := len(a.Transactions)
	if err := fn(a); err != nil {
		return nil, err
	}

	// fn mutates the in-memory account; persist the scalar state plus any
	// transactions it appended.
	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET
		     balance = $2::NUMERIC, access_cards = $3, trust_score = $4,
		     loan_principal = $5::NUMERIC, loan_interest = $6::NUMERIC,
		     loan_rate = $7::NUMERIC, loan_due_date = $8, loan_accrued_at = $9,
		     loan_defaulted = $10, total_borrowed = $11::NUMERIC,
		     total_repaid = $12::NUMERIC, loans_completed = $13,
		     loans_on_time = $14, default_count = $15
		 WHERE user_id = $1`,
		a.UserID, a.Balance.String(), a.AccessCards, a.TrustScore,
		a.LoanPrincipal.String(), a.LoanInterest.String(), a.LoanRate.String(),
		nullTime(a.LoanDueDate), nullTime(a.LoanAccruedAt),
		a.LoanDefaulted, a.TotalBorrowed.String(), a.TotalRepaid.String(),
		a.LoansCompleted, a.LoansOnTime, a.DefaultCount,
	); err != nil {
		return nil, err
	}
	for _, t := range a.Transactions[before:] {
		if _, err := tx.Exec(ctx,
			`INSERT INTO transactions (id, user_id, kind, amount, profit, description, market_id, timestamp)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6, $7, $8)`,
			t.ID, t.UserID, t.Kind, t.Amount.String(), t.Profit.String(),
			t.Description, t.MarketID, t.Timestamp,
		); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *PostgresStore) Transactions(ctx context.Context, userID string) ([]ledger.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, kind, amount::TEXT, profit::TEXT, description, market_id, timestamp
		 FROM transactions WHERE user_id = $1 ORDER BY timestamp, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (s *PostgresStore) ListOverdueAccounts(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM accounts
		 WHERE NOT loan_defaulted
		   AND loan_due_date IS NOT NULL AND loan_due_date < $1
		   AND loan_principal + loan_interest > 0
		 ORDER BY user_id`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func transactionsTx(ctx context.Context, tx pgx.Tx, userID string) ([]ledger.Transaction, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, user_id, kind, amount::TEXT, profit::TEXT, description, market_id, timestamp
		 FROM transactions WHERE user_id = $1 ORDER BY timestamp, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// --- row scanning ---

func (s *PostgresStore) loadStakes(ctx context.Context, m *model.Market) error {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, outcome, amount::TEXT, win_probability::TEXT, placed_at
		 FROM stakes WHERE market_id = $1 ORDER BY placed_at, user_id`, m.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var st model.Stake
		var amountS, probS string
		if err := rows.Scan(&st.UserID, &st.Outcome, &amountS, &probS, &st.PlacedAt); err != nil {
			return err
		}
		st.Amount, _ = decimal.NewFromString(amountS)
		st.WinProbability, _ = decimal.NewFromString(probS)
		m.Stakes = append(m.Stakes, st)
	}
	return rows.Err()
}

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var minStakeS, poolS string
	var endTime sql.NullTime

	err := row.Scan(&m.ID, &m.Title, &m.Description, &m.Category, &m.Creator,
		&m.Outcomes, &m.Visibility, &m.JoinCode, &minStakeS, &m.Status,
		&m.Result, &poolS, &m.CreatedAt, &endTime)
	if err != nil {
		return nil, err
	}
	m.MinStake, _ = decimal.NewFromString(minStakeS)
	m.Pool, _ = decimal.NewFromString(poolS)
	if endTime.Valid {
		m.EndTime = endTime.Time
	}
	return &m, nil
}

func collectMarkets(rows pgx.Rows) ([]model.Market, error) {
	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func scanAccount(row pgx.Row) (*ledger.Account, error) {
	var a ledger.Account
	var balanceS, startS, principalS, interestS, rateS, borrowedS, repaidS string
	var dueDate, accruedAt sql.NullTime

	err := row.Scan(&a.UserID, &balanceS, &startS, &a.AccessCards, &a.TrustScore,
		&principalS, &interestS, &rateS, &dueDate, &accruedAt, &a.LoanDefaulted,
		&borrowedS, &repaidS, &a.LoansCompleted, &a.LoansOnTime, &a.DefaultCount,
		&a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Balance, _ = decimal.NewFromString(balanceS)
	a.StartingBalance, _ = decimal.NewFromString(startS)
	a.LoanPrincipal, _ = decimal.NewFromString(principalS)
	a.LoanInterest, _ = decimal.NewFromString(interestS)
	a.LoanRate, _ = decimal.NewFromString(rateS)
	a.TotalBorrowed, _ = decimal.NewFromString(borrowedS)
	a.TotalRepaid, _ = decimal.NewFromString(repaidS)
	if dueDate.Valid {
		a.LoanDueDate = dueDate.Time
	}
	if accruedAt.Valid {
		a.LoanAccruedAt = accruedAt.Time
	}
	return &a, nil
}

func collectTransactions(rows pgx.Rows) ([]ledger.Transaction, error) {
	var txns []ledger.Transaction
	for rows.Next() {
		var t ledger.Transaction
		var amountS, profitS string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Kind, &amountS, &profitS,
			&t.Description, &t.MarketID, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Amount, _ = decimal.NewFromString(amountS)
		t.Profit, _ = decimal.NewFromString(profitS)
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
