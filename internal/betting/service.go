// Package betting provides the HTTP handlers and business logic for
// creating markets, placing stakes, and settling results.
//
// All monetary values use shopspring/decimal — never float64 for money.
package betting

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bethub/bet-engine/internal/events"
	"github.com/bethub/bet-engine/internal/ledger"
	"github.com/bethub/bet-engine/internal/lifecycle"
	"github.com/bethub/bet-engine/internal/metrics"
	"github.com/bethub/bet-engine/internal/model"
	"github.com/bethub/bet-engine/internal/parimutuel"
	"github.com/bethub/bet-engine/internal/store"
)

// Service handles market operations. A per-market lock serializes stake
// placement and settlement on the same market (single-instance); the
// store's row locking covers the database itself.
type Service struct {
	store store.Store
	locks *keyLock
	wsHub *WSHub            // optional WebSocket hub for real-time broadcasts
	pub   *events.Publisher // optional Kafka publisher; nil drops events
}

// NewService creates a new betting service.
// Pass nil for hub and pub if broadcasting/eventing is not needed.
func NewService(st store.Store, hub *WSHub, pub *events.Publisher) *Service {
	return &Service{
		store: st,
		locks: newKeyLock(),
		wsHub: hub,
		pub:   pub,
	}
}

// --- Request/Response types ---

// CreateMarketRequest is the JSON body for market creation.
type CreateMarketRequest struct {
	Creator     string           `json:"creator"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Category    string           `json:"category"`
	Outcomes    []string         `json:"outcomes"`
	Visibility  model.Visibility `json:"visibility"` // defaults to PUBLIC
	MinStake    decimal.Decimal  `json:"min_stake"`
	EndTime     time.Time        `json:"end_time"`
}

// StakeRequest is the JSON body for POST /stakes.
type StakeRequest struct {
	UserID   string          `json:"user_id"`
	MarketID string          `json:"market_id"`
	Outcome  string          `json:"outcome"`
	Amount   decimal.Decimal `json:"amount"`
}

// StakeByCodeRequest is the JSON body for POST /stakes/code: joining a
// private market by its join code.
type StakeByCodeRequest struct {
	UserID   string          `json:"user_id"`
	JoinCode string          `json:"join_code"`
	Outcome  string          `json:"outcome"`
	Amount   decimal.Decimal `json:"amount"`
}

// StakeResponse is returned from stake placement.
type StakeResponse struct {
	MarketID       string                  `json:"market_id"`
	UserID         string                  `json:"user_id"`
	Outcome        string                  `json:"outcome"`
	Amount         decimal.Decimal         `json:"amount"`
	WinProbability decimal.Decimal         `json:"win_probability"`
	Balance        decimal.Decimal         `json:"balance"`
	Snapshot       parimutuel.PoolSnapshot `json:"snapshot"`
}

// ResolveRequest is the JSON body for declaring a result or closing.
type ResolveRequest struct {
	Caller  string `json:"caller"`
	Outcome string `json:"outcome,omitempty"`
}

// --- HTTP Handlers ---

// CreateMarket handles POST /api/v1/markets
func (s *Service) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Creator == "" {
		writeError(w, "creator is required", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		writeError(w, "title is required", http.StatusBadRequest)
		return
	}
	if err := validateOutcomes(req.Outcomes); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.MinStake.IsNegative() {
		writeError(w, "min_stake must not be negative", http.StatusBadRequest)
		return
	}
	if !req.EndTime.IsZero() && req.EndTime.Before(time.Now()) {
		writeError(w, "end_time must be in the future", http.StatusBadRequest)
		return
	}

	visibility := req.Visibility
	if visibility == "" {
		visibility = model.VisibilityPublic
	}
	if visibility != model.VisibilityPublic && visibility != model.VisibilityPrivate {
		writeError(w, "visibility must be PUBLIC or PRIVATE", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	// Creator always gets an account before the market exists; private
	// creation consumes one of their access cards atomically.
	if _, err := s.store.GetOrCreateAccount(ctx, req.Creator); err != nil {
		writeError(w, "failed to load creator account", http.StatusInternalServerError)
		return
	}

	market := &model.Market{
		ID:          uuid.New().String(),
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Creator:     req.Creator,
		Outcomes:    req.Outcomes,
		Visibility:  visibility,
		MinStake:    req.MinStake,
		Status:      model.StatusOpen,
		Pool:        decimal.Zero,
		CreatedAt:   time.Now().UTC(),
		EndTime:     req.EndTime,
	}
	private := visibility == model.VisibilityPrivate
	if private {
		code, err := newJoinCode()
		if err != nil {
			writeError(w, "failed to generate join code", http.StatusInternalServerError)
			return
		}
		market.JoinCode = code
	}

	if err := s.store.CreateMarket(ctx, market, private); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	metrics.OpenMarkets.Inc()

	slog.Info("market created",
		"id", market.ID,
		"creator", market.Creator,
		"visibility", market.Visibility,
		"outcomes", len(market.Outcomes),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(market)
}

// GetMarket handles GET /api/v1/markets/{marketID}
func (s *Service) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	market, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(market)
}

// GetOdds handles GET /api/v1/markets/{marketID}/odds
func (s *Service) GetOdds(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	market, err := s.store.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(parimutuel.Snapshot(market))
}

// ListMarkets handles GET /api/v1/markets
// Returns public markets plus, with ?user_id=, the caller's private ones.
// Supports ?category= filtering.
func (s *Service) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.store.ListMarkets(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if markets == nil {
		markets = []model.Market{}
	}

	if category := r.URL.Query().Get("category"); category != "" {
		filtered := []model.Market{}
		for _, m := range markets {
			if m.Category == category {
				filtered = append(filtered, m)
			}
		}
		markets = filtered
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(markets)
}

// PlaceStake handles POST /api/v1/stakes
func (s *Service) PlaceStake(w http.ResponseWriter, r *http.Request) {
	var req StakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.MarketID == "" {
		writeError(w, "market_id is required", http.StatusBadRequest)
		return
	}
	s.placeStake(w, r, req, false)
}

// PlaceStakeByCode handles POST /api/v1/stakes/code
// Resolves a private market through its join code, then stakes normally.
func (s *Service) PlaceStakeByCode(w http.ResponseWriter, r *http.Request) {
	var req StakeByCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.JoinCode == "" {
		writeError(w, "join_code is required", http.StatusBadRequest)
		return
	}

	market, err := s.store.GetMarketByJoinCode(r.Context(), req.JoinCode)
	if err != nil {
		writeError(w, "no market for join code", http.StatusNotFound)
		return
	}
	s.placeStake(w, r, StakeRequest{
		UserID:   req.UserID,
		MarketID: market.ID,
		Outcome:  req.Outcome,
		Amount:   req.Amount,
	}, true)
}

func (s *Service) placeStake(w http.ResponseWriter, r *http.Request, req StakeRequest, viaCode bool) {
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.Outcome == "" {
		writeError(w, "outcome is required", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	if _, err := s.store.GetOrCreateAccount(ctx, req.UserID); err != nil {
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}

	// Serialize against settlement of the same market.
	mu := s.locks.lock(req.MarketID)
	defer mu.Unlock()

	market, err := s.store.GetMarket(ctx, req.MarketID)
	if err != nil {
		writeError(w, "market not found", http.StatusNotFound)
		return
	}
	if market.Visibility == model.VisibilityPrivate && !viaCode {
		writeError(w, "private markets can only be joined with their join code", http.StatusForbidden)
		return
	}
	if err := lifecycle.CheckStakeable(market, req.UserID, time.Now()); err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	if !market.HasOutcome(req.Outcome) {
		writeError(w, fmt.Sprintf("outcome %q is not part of this market", req.Outcome), http.StatusBadRequest)
		return
	}
	if market.MinStake.IsPositive() && req.Amount.LessThan(market.MinStake) {
		writeError(w, fmt.Sprintf("amount below market minimum of %s", market.MinStake), http.StatusBadRequest)
		return
	}

	stake := model.Stake{
		UserID:         req.UserID,
		Outcome:        req.Outcome,
		Amount:         req.Amount,
		WinProbability: parimutuel.WinProbability(market, req.Outcome, req.Amount),
		PlacedAt:       time.Now().UTC(),
	}
	debit := ledger.Transaction{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		Kind:        ledger.KindStake,
		Amount:      req.Amount.Neg(),
		Description: fmt.Sprintf("Stake on %q in market %s", req.Outcome, market.Title),
		MarketID:    market.ID,
		Timestamp:   stake.PlacedAt,
	}

	market, err = s.store.AppendStake(ctx, req.MarketID, stake, debit)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	account, err := s.store.GetAccount(ctx, req.UserID)
	if err != nil {
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}

	metrics.StakesTotal.WithLabelValues(string(market.Visibility)).Inc()
	metrics.StakeVolume.Add(req.Amount.InexactFloat64())

	snapshot := parimutuel.Snapshot(market)

	slog.Info("stake placed",
		"market", market.ID,
		"user", req.UserID,
		"outcome", req.Outcome,
		"amount", req.Amount.String(),
		"pool", market.Pool.String(),
	)

	s.pub.PublishStakePlaced(ctx, events.StakePlaced{
		MarketID:       market.ID,
		UserID:         req.UserID,
		Outcome:        req.Outcome,
		Amount:         req.Amount,
		WinProbability: stake.WinProbability,
		Pool:           market.Pool,
	})
	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:     "stake_placed",
			MarketID: market.ID,
			Snapshot: &snapshot,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(StakeResponse{
		MarketID:       market.ID,
		UserID:         req.UserID,
		Outcome:        req.Outcome,
		Amount:         req.Amount,
		WinProbability: stake.WinProbability,
		Balance:        account.Balance,
		Snapshot:       snapshot,
	})
}

// DeclareResult handles POST /api/v1/markets/{marketID}/result
// Creator-only. Transitions the market to RESULT_DECLARED and settles
// every participant in one atomic batch.
func (s *Service) DeclareResult(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Caller == "" {
		writeError(w, "caller is required", http.StatusBadRequest)
		return
	}
	if req.Outcome == "" {
		writeError(w, "outcome is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	plan, err := s.settle(r.Context(), marketID, func(m *model.Market) (*parimutuel.Plan, model.Status, error) {
		if err := lifecycle.CheckDeclare(m, req.Caller, req.Outcome); err != nil {
			return nil, "", err
		}
		plan, err := parimutuel.ComputeResult(m, req.Outcome)
		return plan, model.StatusResultDeclared, err
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	metrics.SettlementsTotal.WithLabelValues("result").Inc()
	metrics.SettlementLatency.WithLabelValues("result").Observe(time.Since(start).Seconds())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(plan)
}

// CloseMarket handles POST /api/v1/markets/{marketID}/close
// Creator-only. Voids the market: every stake is refunded in full.
func (s *Service) CloseMarket(w http.ResponseWriter, r *http.Request) {
	marketID := chi.URLParam(r, "marketID")

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Caller == "" {
		writeError(w, "caller is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	plan, err := s.settle(r.Context(), marketID, func(m *model.Market) (*parimutuel.Plan, model.Status, error) {
		if err := lifecycle.CheckClose(m, req.Caller); err != nil {
			return nil, "", err
		}
		return parimutuel.ComputeVoid(m), model.StatusClosed, nil
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	metrics.SettlementsTotal.WithLabelValues("void").Inc()
	metrics.SettlementLatency.WithLabelValues("void").Observe(time.Since(start).Seconds())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(plan)
}

// settle runs the shared settlement path: load the market under its
// lock, compute and validate the plan, apply the batch, then notify.
func (s *Service) settle(ctx context.Context, marketID string, compute func(*model.Market) (*parimutuel.Plan, model.Status, error)) (*parimutuel.Plan, error) {
	mu := s.locks.lock(marketID)
	defer mu.Unlock()

	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	if err := parimutuel.VerifyPool(market); err != nil {
		slog.Error("pool drift detected, refusing to settle", "market", marketID, "err", err)
		return nil, err
	}

	plan, status, err := compute(market)
	if err != nil {
		return nil, err
	}
	if err := plan.Validate(); err != nil {
		slog.Error("settlement plan failed validation", "market", marketID, "err", err)
		return nil, err
	}

	now := time.Now().UTC()
	credits := make([]ledger.Transaction, 0, len(plan.Payouts)+1)
	for _, po := range plan.Payouts {
		if po.Amount.IsZero() {
			continue
		}
		desc := fmt.Sprintf("Refund from market %s", market.Title)
		if po.Kind == ledger.KindWin {
			desc = fmt.Sprintf("Winnings from market %s", market.Title)
		}
		credits = append(credits, ledger.Transaction{
			ID:          uuid.New().String(),
			UserID:      po.UserID,
			Kind:        po.Kind,
			Amount:      po.Amount,
			Profit:      po.Profit,
			Description: desc,
			MarketID:    market.ID,
			Timestamp:   now,
		})
	}
	if plan.Commission.IsPositive() {
		credits = append(credits, ledger.Transaction{
			ID:          uuid.New().String(),
			UserID:      plan.Creator,
			Kind:        ledger.KindCommission,
			Amount:      plan.Commission,
			Description: fmt.Sprintf("Creator commission for market %s", market.Title),
			MarketID:    market.ID,
			Timestamp:   now,
		})
	}

	market, err = s.store.ApplySettlement(ctx, store.SettlementBatch{
		MarketID: marketID,
		Status:   status,
		Result:   plan.Result,
		Credits:  credits,
	})
	if err != nil {
		return nil, err
	}
	metrics.OpenMarkets.Dec()

	slog.Info("market settled",
		"market", marketID,
		"status", status,
		"result", plan.Result,
		"pool", plan.Pool.String(),
		"payouts", len(plan.Payouts),
		"commission", plan.Commission.String(),
	)

	s.pub.PublishMarketSettled(ctx, events.MarketSettled{
		MarketID:      marketID,
		Status:        string(status),
		Result:        plan.Result,
		Voided:        plan.Result == "",
		Pool:          plan.Pool,
		HouseFee:      plan.HouseFee,
		Commission:    plan.Commission,
		HouseRetained: plan.HouseRetained,
		Payouts:       len(plan.Payouts),
	})
	if s.wsHub != nil {
		snapshot := parimutuel.Snapshot(market)
		s.wsHub.Broadcast(WSMessage{
			Type:     "market_settled",
			MarketID: marketID,
			Status:   string(status),
			Result:   plan.Result,
			Snapshot: &snapshot,
		})
	}
	return plan, nil
}

func validateOutcomes(outcomes []string) error {
	if len(outcomes) < 2 {
		return errors.New("at least two outcomes are required")
	}
	seen := make(map[string]bool, len(outcomes))
	for _, o := range outcomes {
		if o == "" {
			return errors.New("outcome labels must not be empty")
		}
		if seen[o] {
			return fmt.Errorf("duplicate outcome %q", o)
		}
		seen[o] = true
	}
	return nil
}

const joinCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// newJoinCode returns a 6-character code from the A-Z0-9 alphabet.
func newJoinCode() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = joinCodeAlphabet[int(b)%len(joinCodeAlphabet)]
	}
	return string(buf), nil
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrNotCreator):
		return http.StatusForbidden
	case errors.Is(err, store.ErrAlreadyStaked),
		errors.Is(err, store.ErrNoAccessCards),
		errors.Is(err, lifecycle.ErrInvalidState),
		errors.Is(err, lifecycle.ErrMarketClosed),
		errors.Is(err, lifecycle.ErrMarketEnded),
		errors.Is(err, lifecycle.ErrCreatorStake):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrNonPositiveAmount),
		errors.Is(err, lifecycle.ErrInvalidOutcome),
		errors.Is(err, parimutuel.ErrUnknownResult):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
