package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/gopiinho/stablecoin/internal/event"
	"github.com/gopiinho/stablecoin/internal/observability"
)

// Worker drains the engine's persist channel and batch-writes the event
// log to Postgres. The engine sends on that channel blockingly, so if this
// worker falls behind the engine stalls rather than lose an event.
type Worker struct {
	writer       *EventLogWriter
	inputChan    <-chan event.Envelope
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan event.Envelope,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Worker {
	return &Worker{
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run batches incoming events and flushes either when the batch is full
// or the flush timeout expires. Blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]EventRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining with a fresh context.
			if len(batch) > 0 {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := w.flush(flushCtx, batch); err != nil {
					w.log.Error().Err(err).Msg("final flush failed")
				}
				cancel()
			}
			return ctx.Err()

		case env, ok := <-w.inputChan:
			if !ok {
				if len(batch) > 0 {
					return w.flush(ctx, batch)
				}
				return nil
			}

			row, err := RowFromEnvelope(env)
			if err != nil {
				w.log.Error().Err(err).Int64("sequence", env.Sequence).Msg("drop unmarshalable event")
				continue
			}
			batch = append(batch, row)

			if len(batch) >= w.batchSize {
				if err := w.flush(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
				resetTimer(timer, w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := w.flush(ctx, batch); err != nil {
					return err
				}
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch []EventRow) error {
	if err := w.writer.WriteBatch(ctx, batch); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.Inc()
		}
		return err
	}
	if w.metrics != nil {
		w.metrics.PersistEventsWritten.Add(float64(len(batch)))
		w.metrics.PersistBatchSize.Observe(float64(len(batch)))
	}
	return nil
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
