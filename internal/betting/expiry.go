package betting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bethub/bet-engine/internal/lifecycle"
	"github.com/bethub/bet-engine/internal/metrics"
	"github.com/bethub/bet-engine/internal/model"
	"github.com/bethub/bet-engine/internal/parimutuel"
)

// RunExpirySweeper periodically voids OPEN markets whose end time passed
// more than grace ago without the creator declaring a result. Every
// stake is refunded in full, same as a manual close. Runs until the
// context is cancelled.
func (s *Service) RunExpirySweeper(ctx context.Context, interval, grace time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("expiry sweeper started", "interval", interval, "grace", grace)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepExpired(ctx, grace)
		}
	}
}

// SweepExpired runs one expiry pass: every OPEN market whose end time
// passed more than grace ago is voided with full refunds.
func (s *Service) SweepExpired(ctx context.Context, grace time.Duration) {
	cutoff := time.Now().Add(-grace)
	expired, err := s.store.ListExpiredOpenMarkets(ctx, cutoff)
	if err != nil {
		slog.Error("expiry sweep failed to list markets", "err", err)
		return
	}

	for _, m := range expired {
		if _, err := s.settleExpired(ctx, m.ID); err != nil {
			// A concurrent declare or close winning the race is fine; the
			// market is terminal either way.
			slog.Warn("expiry void skipped", "market", m.ID, "err", err)
			continue
		}
		metrics.SettlementsTotal.WithLabelValues("expired").Inc()
		slog.Info("expired market voided", "market", m.ID, "end_time", m.EndTime)
	}
}

// settleExpired voids one market without a creator check: the sweep is
// system-initiated.
func (s *Service) settleExpired(ctx context.Context, marketID string) (*parimutuel.Plan, error) {
	return s.settle(ctx, marketID, func(m *model.Market) (*parimutuel.Plan, model.Status, error) {
		if m.Status != model.StatusOpen {
			return nil, "", fmt.Errorf("%w: market %s already %s",
				lifecycle.ErrInvalidState, m.ID, m.Status)
		}
		return parimutuel.ComputeVoid(m), model.StatusClosed, nil
	})
}
