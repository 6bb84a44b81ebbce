package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bethub/bet-engine/internal/ledger"
	"github.com/bethub/bet-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Money-moving writes
// never touch Redis except to invalidate — the cache holds views, never
// authoritative balances.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market, consumeAccessCard bool) error {
	if err := s.primary.CreateMarket(ctx, m, consumeAccessCard); err != nil {
		return err
	}
	s.cacheMarket(ctx, m)
	if consumeAccessCard {
		s.rdb.Del(ctx, accountKey(m.Creator))
	}
	return nil
}

func (s *CachedStore) AppendStake(ctx context.Context, marketID string, stake model.Stake, debit ledger.Transaction) (*model.Market, error) {
	m, err := s.primary.AppendStake(ctx, marketID, stake, debit)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, m)
	s.rdb.Del(ctx, accountKey(stake.UserID))
	return m, nil
}

func (s *CachedStore) ApplySettlement(ctx context.Context, batch SettlementBatch) (*model.Market, error) {
	m, err := s.primary.ApplySettlement(ctx, batch)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, m)
	for _, credit := range batch.Credits {
		s.rdb.Del(ctx, accountKey(credit.UserID))
	}
	return m, nil
}

func (s *CachedStore) UpdateAccount(ctx context.Context, userID string, fn func(*ledger.Account) error) (*ledger.Account, error) {
	a, err := s.primary.UpdateAccount(ctx, userID, fn)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, accountKey(userID))
	return a, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, m)
	return m, nil
}

func (s *CachedStore) GetMarketByJoinCode(ctx context.Context, code string) (*model.Market, error) {
	// Try cache via join-code→marketID mapping.
	marketID, err := s.rdb.Get(ctx, joinCodeKey(code)).Result()
	if err == nil {
		return s.GetMarket(ctx, marketID)
	}

	m, err := s.primary.GetMarketByJoinCode(ctx, code)
	if err != nil {
		return nil, err
	}
	s.cacheMarket(ctx, m)
	s.rdb.Set(ctx, joinCodeKey(code), m.ID, s.ttl)
	return m, nil
}

func (s *CachedStore) GetAccount(ctx context.Context, userID string) (*ledger.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(userID)).Bytes()
	if err == nil {
		var a ledger.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheAccount(ctx, a)
	return a, nil
}

func (s *CachedStore) GetOrCreateAccount(ctx context.Context, userID string) (*ledger.Account, error) {
	// Bootstrap goes to the primary; the cached view follows.
	a, err := s.primary.GetOrCreateAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cacheAccount(ctx, a)
	return a, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context, userID string) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx, userID)
}

func (s *CachedStore) ListExpiredOpenMarkets(ctx context.Context, cutoff time.Time) ([]model.Market, error) {
	return s.primary.ListExpiredOpenMarkets(ctx, cutoff)
}

func (s *CachedStore) Transactions(ctx context.Context, userID string) ([]ledger.Transaction, error) {
	return s.primary.Transactions(ctx, userID)
}

func (s *CachedStore) ListOverdueAccounts(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.primary.ListOverdueAccounts(ctx, cutoff)
}

// --- Cache helpers ---

func (s *CachedStore) cacheMarket(ctx context.Context, m *model.Market) {
	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(m.ID), data, s.ttl)
	}
}

func (s *CachedStore) cacheAccount(ctx context.Context, a *ledger.Account) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(a.UserID), data, s.ttl)
	}
}

func marketKey(id string) string     { return fmt.Sprintf("market:%s", id) }
func joinCodeKey(code string) string { return fmt.Sprintf("joincode:%s", code) }
func accountKey(uid string) string   { return fmt.Sprintf("account:%s", uid) }
