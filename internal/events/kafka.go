package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher emits engine events to Kafka. A nil Publisher is valid and
// drops everything, so callers never need to branch on whether eventing
// is configured.
type Publisher struct {
	stakes      *kafka.Writer
	settlements *kafka.Writer
	loans       *kafka.Writer
	logger      *slog.Logger
}

// NewPublisher wires writers for every topic against the given brokers.
// Returns nil when no brokers are configured.
func NewPublisher(brokers []string, logger *slog.Logger) *Publisher {
	if len(brokers) == 0 {
		return nil
	}
	return &Publisher{
		stakes:      newWriter(brokers, TopicStakes),
		settlements: newWriter(brokers, TopicSettlements),
		loans:       newWriter(brokers, TopicLoans),
		logger:      logger,
	}
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
}

// Close flushes and closes all writers.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	var first error
	for _, w := range []*kafka.Writer{p.stakes, p.settlements, p.loans} {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// PublishStakePlaced emits a stake event keyed by market, so per-market
// ordering survives partitioning.
func (p *Publisher) PublishStakePlaced(ctx context.Context, e StakePlaced) {
	if p == nil {
		return
	}
	e.TsUnixMs = time.Now().UnixMilli()
	p.write(ctx, p.stakes, e.MarketID, e)
}

// PublishMarketSettled emits a settlement event keyed by market.
func (p *Publisher) PublishMarketSettled(ctx context.Context, e MarketSettled) {
	if p == nil {
		return
	}
	e.TsUnixMs = time.Now().UnixMilli()
	p.write(ctx, p.settlements, e.MarketID, e)
}

// PublishLoanEvent emits a loan lifecycle event keyed by user.
func (p *Publisher) PublishLoanEvent(ctx context.Context, e LoanEvent) {
	if p == nil {
		return
	}
	e.TsUnixMs = time.Now().UnixMilli()
	p.write(ctx, p.loans, e.UserID, e)
}

func (p *Publisher) write(ctx context.Context, w *kafka.Writer, key string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("marshal event", "topic", w.Topic, "error", err)
		return
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: b,
		Time:  time.Now(),
	}
	if err := w.WriteMessages(ctx, msg); err != nil {
		p.logger.Warn("publish event failed", "topic", w.Topic, "key", key, "error", err)
	}
}
