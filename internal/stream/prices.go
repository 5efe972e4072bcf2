package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/gopiinho/stablecoin/internal/oracle"
)

// PriceUpdate is the wire form of one feed round pushed by an external
// price relayer on stable.prices.{symbol}.
type PriceUpdate struct {
	Symbol      string `json:"symbol"`
	RoundID     uint64 `json:"round_id"`
	Answer      string `json:"answer"` // raw feed units, decimal string
	UpdatedAtUS int64  `json:"updated_at_us"`
}

// PriceSubscriber consumes price updates and fans them into the
// per-asset StreamFeeds the engine reads through its staleness guard.
// Gaps in round IDs are tolerated; only monotonic progress is enforced,
// and that by the feed itself.
type PriceSubscriber struct {
	js       jetstream.JetStream
	feeds    map[string]*oracle.StreamFeed
	log      zerolog.Logger
	consumer jetstream.ConsumeContext
}

func NewPriceSubscriber(js jetstream.JetStream, feeds map[string]*oracle.StreamFeed, log zerolog.Logger) *PriceSubscriber {
	return &PriceSubscriber{
		js:    js,
		feeds: feeds,
		log:   log,
	}
}

// Subscribe creates a durable JetStream consumer on stable.prices.> and
// starts delivering updates. Malformed or unknown-symbol updates are
// acknowledged and dropped; redelivery cannot fix them.
func (ps *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, "STABLE_PRICES", jetstream.ConsumerConfig{
		Durable:       "engine-prices",
		FilterSubject: "stable.prices.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverLastPerSubjectPolicy,
	})
	if err != nil {
		return fmt.Errorf("create price consumer: %w", err)
	}

	consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
		ps.handle(msg.Data())
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume prices: %w", err)
	}

	ps.consumer = consumerContext
	return nil
}

// Stop drains the consumer.
func (ps *PriceSubscriber) Stop() {
	if ps.consumer != nil {
		ps.consumer.Stop()
	}
}

func (ps *PriceSubscriber) handle(data []byte) {
	var upd PriceUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		ps.log.Warn().Err(err).Msg("malformed price update")
		return
	}

	feed, ok := ps.feeds[upd.Symbol]
	if !ok {
		ps.log.Warn().Str("symbol", upd.Symbol).Msg("price update for unknown symbol")
		return
	}

	answer, ok := new(big.Int).SetString(upd.Answer, 10)
	if !ok || answer.Sign() <= 0 {
		ps.log.Warn().Str("symbol", upd.Symbol).Str("answer", upd.Answer).Msg("unparsable price answer")
		return
	}

	feed.Update(upd.RoundID, answer, time.UnixMicro(upd.UpdatedAtUS))
}

// EnsurePriceStream creates the inbound price stream.
func EnsurePriceStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "STABLE_PRICES",
		Subjects:  []string{"stable.prices.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create price stream: %w", err)
	}
	return nil
}
