package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bethub/bet-engine/internal/ledger"
	"github.com/bethub/bet-engine/internal/lifecycle"
	"github.com/bethub/bet-engine/internal/model"
	"github.com/bethub/bet-engine/internal/trust"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	markets   map[string]*model.Market
	accounts  map[string]*ledger.Account
	joinCodes map[string]string // join code -> market ID
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:   make(map[string]*model.Market),
		accounts:  make(map[string]*ledger.Account),
		joinCodes: make(map[string]string),
	}
}

func cloneMarket(m *model.Market) *model.Market {
	cp := *m
	cp.Outcomes = append([]string(nil), m.Outcomes...)
	cp.Stakes = append([]model.Stake(nil), m.Stakes...)
	return &cp
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market, consumeAccessCard bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("store: market %s already exists", m.ID)
	}
	if m.JoinCode != "" {
		if _, ok := s.joinCodes[m.JoinCode]; ok {
			return fmt.Errorf("store: join code %s already in use", m.JoinCode)
		}
	}
	if consumeAccessCard {
		a, ok := s.accounts[m.Creator]
		if !ok {
			return fmt.Errorf("%w: account %s", ErrNotFound, m.Creator)
		}
		if a.AccessCards <= 0 {
			return ErrNoAccessCards
		}
		a.AccessCards--
	}

	s.markets[m.ID] = cloneMarket(m)
	if m.JoinCode != "" {
		s.joinCodes[m.JoinCode] = m.ID
	}
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: market %s", ErrNotFound, id)
	}
	return cloneMarket(m), nil
}

func (s *MemoryStore) GetMarketByJoinCode(_ context.Context, code string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.joinCodes[code]
	if !ok {
		return nil, fmt.Errorf("%w: join code %s", ErrNotFound, code)
	}
	return cloneMarket(s.markets[id]), nil
}

func (s *MemoryStore) ListMarkets(_ context.Context, userID string) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		if m.Visibility == model.VisibilityPrivate {
			if userID == "" || !visibleTo(m, userID) {
				continue
			}
		}
		markets = append(markets, *cloneMarket(m))
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets, nil
}

func visibleTo(m *model.Market, userID string) bool {
	if m.Creator == userID {
		return true
	}
	_, staked := m.StakeBy(userID)
	return staked
}

func (s *MemoryStore) ListExpiredOpenMarkets(_ context.Context, cutoff time.Time) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []model.Market
	for _, m := range s.markets {
		if m.Status == model.StatusOpen && !m.EndTime.IsZero() && m.EndTime.Before(cutoff) {
			expired = append(expired, *cloneMarket(m))
		}
	}
	return expired, nil
}

func (s *MemoryStore) AppendStake(_ context.Context, marketID string, stake model.Stake, debit ledger.Transaction) (*model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[marketID]
	if !ok {
		return nil, fmt.Errorf("%w: market %s", ErrNotFound, marketID)
	}
	if err := lifecycle.CheckStakeable(m, stake.UserID, time.Now()); err != nil {
		return nil, err
	}
	if _, staked := m.StakeBy(stake.UserID); staked {
		return nil, ErrAlreadyStaked
	}
	a, ok := s.accounts[stake.UserID]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, stake.UserID)
	}

	// Debit on a clone first so a rejected transaction leaves no trace.
	staged := a.Clone()
	if err := staged.Apply(debit); err != nil {
		return nil, err
	}

	s.accounts[stake.UserID] = staged
	m.Stakes = append(m.Stakes, stake)
	m.Pool = m.Pool.Add(stake.Amount)
	return cloneMarket(m), nil
}

func (s *MemoryStore) ApplySettlement(_ context.Context, batch SettlementBatch) (*model.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[batch.MarketID]
	if !ok {
		return nil, fmt.Errorf("%w: market %s", ErrNotFound, batch.MarketID)
	}
	if m.Status != model.StatusOpen {
		return nil, fmt.Errorf("%w: market %s already %s",
			lifecycle.ErrInvalidState, m.ID, m.Status)
	}

	// Stage every credit before committing anything: either the whole
	// batch lands or none of it does.
	staged := make(map[string]*ledger.Account, len(batch.Credits))
	for _, credit := range batch.Credits {
		a := staged[credit.UserID]
		if a == nil {
			orig, ok := s.accounts[credit.UserID]
			if !ok {
				return nil, fmt.Errorf("%w: account %s", ErrNotFound, credit.UserID)
			}
			a = orig.Clone()
			staged[credit.UserID] = a
		}
		if err := a.Apply(credit); err != nil {
			return nil, err
		}
	}

	for userID, a := range staged {
		s.accounts[userID] = a
	}
	m.Status = batch.Status
	m.Result = batch.Result
	return cloneMarket(m), nil
}

func (s *MemoryStore) GetOrCreateAccount(_ context.Context, userID string) (*ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.accounts[userID]; ok {
		return a.Clone(), nil
	}
	a := &ledger.Account{
		UserID:          userID,
		Balance:         StartingBalance,
		StartingBalance: StartingBalance,
		AccessCards:     StartingAccessCards,
		TrustScore:      trust.MaxScore,
		CreatedAt:       time.Now().UTC(),
	}
	s.accounts[userID] = a
	return a.Clone(), nil
}

func (s *MemoryStore) GetAccount(_ context.Context, userID string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, userID)
	}
	return a.Clone(), nil
}

func (s *MemoryStore) UpdateAccount(_ context.Context, userID string, fn func(*ledger.Account) error) (*ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, userID)
	}
	staged := a.Clone()
	if err := fn(staged); err != nil {
		return nil, err
	}
	s.accounts[userID] = staged
	return staged.Clone(), nil
}

func (s *MemoryStore) ListOverdueAccounts(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var overdue []string
	for _, a := range s.accounts {
		if a.LoanDefaulted || a.LoanDueDate.IsZero() {
			continue
		}
		if a.Outstanding().IsPositive() && a.LoanDueDate.Before(cutoff) {
			overdue = append(overdue, a.UserID)
		}
	}
	sort.Strings(overdue)
	return overdue, nil
}

func (s *MemoryStore) Transactions(_ context.Context, userID string) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, userID)
	}
	return append([]ledger.Transaction(nil), a.Transactions...), nil
}
