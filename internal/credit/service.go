// Package credit provides the HTTP handlers for accounts and the
// trust-gated loan facility: applying for loans, repaying them, and the
// sweeper that flags overdue loans as defaulted.
package credit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/bethub/bet-engine/internal/events"
	"github.com/bethub/bet-engine/internal/ledger"
	"github.com/bethub/bet-engine/internal/loan"
	"github.com/bethub/bet-engine/internal/metrics"
	"github.com/bethub/bet-engine/internal/store"
	"github.com/bethub/bet-engine/internal/trust"
)

// Service handles account and loan operations.
type Service struct {
	store store.Store
	pub   *events.Publisher // optional Kafka publisher; nil drops events
}

// NewService creates a new credit service.
func NewService(st store.Store, pub *events.Publisher) *Service {
	return &Service{store: st, pub: pub}
}

// --- Request/Response types ---

// LoanRequest is the JSON body for POST /loans and /loans/repay.
type LoanRequest struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// LoanResponse summarizes loan state after an operation.
type LoanResponse struct {
	UserID      string          `json:"user_id"`
	Balance     decimal.Decimal `json:"balance"`
	Principal   decimal.Decimal `json:"principal"`
	Interest    decimal.Decimal `json:"interest"`
	Outstanding decimal.Decimal `json:"outstanding"`
	DueDate     time.Time       `json:"due_date,omitempty"`
	TrustScore  int             `json:"trust_score"`
	LoanLimit   decimal.Decimal `json:"loan_limit"`
	// Repaid and Completed are set on repayment responses.
	Repaid    decimal.Decimal `json:"repaid,omitempty"`
	Completed bool            `json:"completed,omitempty"`
}

// --- HTTP Handlers ---

// ApplyLoan handles POST /api/v1/loans
// Issues a loan against the caller's trust-tier limit.
func (s *Service) ApplyLoan(w http.ResponseWriter, r *http.Request) {
	var req LoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
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

	account, err := s.store.UpdateAccount(ctx, req.UserID, func(a *ledger.Account) error {
		return loan.Issue(a, req.Amount, time.Now().UTC())
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	metrics.LoansTotal.WithLabelValues("issued").Inc()
	slog.Info("loan issued",
		"user", req.UserID,
		"amount", req.Amount.String(),
		"outstanding", account.Outstanding().String(),
		"due", account.LoanDueDate,
	)
	s.pub.PublishLoanEvent(ctx, events.LoanEvent{
		UserID:      req.UserID,
		Action:      events.LoanIssued,
		Amount:      req.Amount,
		Outstanding: account.Outstanding(),
		TrustScore:  account.TrustScore,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(loanResponse(account))
}

// RepayLoan handles POST /api/v1/loans/repay
// Settles accrued interest before principal.
func (s *Service) RepayLoan(w http.ResponseWriter, r *http.Request) {
	var req LoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var repaid decimal.Decimal
	var completed bool
	account, err := s.store.UpdateAccount(ctx, req.UserID, func(a *ledger.Account) error {
		var err error
		repaid, completed, err = loan.Repay(a, req.Amount, time.Now().UTC())
		return err
	})
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}

	metrics.LoansTotal.WithLabelValues("repaid").Inc()
	slog.Info("loan repaid",
		"user", req.UserID,
		"amount", repaid.String(),
		"completed", completed,
		"outstanding", account.Outstanding().String(),
	)
	s.pub.PublishLoanEvent(ctx, events.LoanEvent{
		UserID:      req.UserID,
		Action:      events.LoanRepaid,
		Amount:      repaid,
		Outstanding: account.Outstanding(),
		TrustScore:  account.TrustScore,
	})

	resp := loanResponse(account)
	resp.Repaid = repaid
	resp.Completed = completed
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// GetAccount handles GET /api/v1/accounts/{userID}
// Bootstraps the account on first contact, like every other entry point.
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	account, err := s.store.GetOrCreateAccount(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to load account", http.StatusInternalServerError)
		return
	}
	// Present up-to-date interest without persisting the accrual; the
	// next mutation will accrue for real.
	loan.Accrue(account, time.Now().UTC())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(account)
}

// GetLoan handles GET /api/v1/accounts/{userID}/loan
func (s *Service) GetLoan(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	account, err := s.store.GetAccount(r.Context(), userID)
	if err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}
	loan.Accrue(account, time.Now().UTC())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(loanResponse(account))
}

// GetTransactions handles GET /api/v1/accounts/{userID}/transactions
func (s *Service) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	txns, err := s.store.Transactions(r.Context(), userID)
	if err != nil {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}
	if txns == nil {
		txns = []ledger.Transaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txns)
}

// RunDefaultSweeper periodically flags overdue loans as defaulted.
// Each loan is flagged at most once; repayment afterwards still settles
// the debt, it just never counts as on time. Runs until the context is
// cancelled.
func (s *Service) RunDefaultSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("loan default sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepDefaults(ctx)
		}
	}
}

// SweepDefaults runs one pass over overdue loans, flagging each as
// defaulted at most once.
func (s *Service) SweepDefaults(ctx context.Context) {
	now := time.Now().UTC()
	overdue, err := s.store.ListOverdueAccounts(ctx, now)
	if err != nil {
		slog.Error("default sweep failed to list accounts", "err", err)
		return
	}

	for _, userID := range overdue {
		var flagged bool
		account, err := s.store.UpdateAccount(ctx, userID, func(a *ledger.Account) error {
			loan.Accrue(a, now)
			flagged = loan.MarkDefault(a, now)
			return nil
		})
		if err != nil {
			slog.Error("default sweep failed to update account", "user", userID, "err", err)
			continue
		}
		if !flagged {
			continue
		}
		metrics.LoansTotal.WithLabelValues("defaulted").Inc()
		slog.Warn("loan defaulted",
			"user", userID,
			"outstanding", account.Outstanding().String(),
			"trust", account.TrustScore,
		)
		s.pub.PublishLoanEvent(ctx, events.LoanEvent{
			UserID:      userID,
			Action:      events.LoanDefaulted,
			Amount:      decimal.Zero,
			Outstanding: account.Outstanding(),
			TrustScore:  account.TrustScore,
		})
	}
}

func loanResponse(a *ledger.Account) LoanResponse {
	return LoanResponse{
		UserID:      a.UserID,
		Balance:     a.Balance,
		Principal:   a.LoanPrincipal,
		Interest:    a.LoanInterest,
		Outstanding: a.Outstanding(),
		DueDate:     a.LoanDueDate,
		TrustScore:  a.TrustScore,
		LoanLimit:   trust.Limit(a.TrustScore),
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, loan.ErrLoanLimitExceeded):
		return http.StatusForbidden
	case errors.Is(err, loan.ErrNoActiveLoan),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrNonPositiveAmount):
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
