package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/gopiinho/stablecoin/internal/event"
)

// Publisher pushes committed engine events to NATS for downstream
// consumers (dashboards, keeper bots watching for liquidation events).
// Subjects follow the pattern: stable.engine.events.{event_type}
type Publisher struct {
	js        jetstream.JetStream
	inputChan <-chan event.Envelope
	log       zerolog.Logger
}

func NewPublisher(js jetstream.JetStream, inputChan <-chan event.Envelope, log zerolog.Logger) *Publisher {
	return &Publisher{
		js:        js,
		inputChan: inputChan,
		log:       log,
	}
}

// Run starts the publisher loop. Publish failures are non-fatal:
// consumers can always rebuild from the Postgres event log.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-p.inputChan:
			if !ok {
				return nil
			}

			if err := p.publish(ctx, env); err != nil {
				p.log.Warn().Err(err).Int64("sequence", env.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, env event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = p.js.Publish(ctx, SubjectFor(env.Type), data)
	return err
}

// SubjectFor maps an event type to its outbound subject.
func SubjectFor(t event.Type) string {
	return fmt.Sprintf("stable.engine.events.%s", t)
}

// EnsureEventStream creates the outbound events stream.
func EnsureEventStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "STABLE_ENGINE_EVENTS",
		Subjects:  []string{"stable.engine.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create event stream: %w", err)
	}
	return nil
}
