package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/db"
)

// Publisher delivers a batch of records in one call. An error means none of
// them may be considered delivered.
type Publisher interface {
	Publish(ctx context.Context, records []Record) error
}

// LogPublisher stands in for the broker when none is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, records []Record) error {
	for _, rec := range records {
		log.Info().Str("topic", rec.Topic).Str("key", rec.Key).RawJSON("payload", rec.Payload).Msg("outbox: event published to log")
	}
	return nil
}

const defaultBatchSize = 100

type Relay struct {
	tx       db.Transactor
	repo     Repository
	pub      Publisher
	interval time.Duration
	batch    int
}

func NewRelay(tx db.Transactor, repo Repository, pub Publisher, interval time.Duration) *Relay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Relay{tx: tx, repo: repo, pub: pub, interval: interval, batch: defaultBatchSize}
}

// Run flushes the outbox every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", r.interval).Msg("outbox: relay started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox: relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("outbox: relay flush failed")
			}
		}
	}
}

// Flush publishes one batch of pending records with a single Publisher call.
// When the call fails the whole batch stays pending and is retried on the next
// flush, so consumers may see an event twice and dedupe by event id.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	var sent int
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		records, err := r.repo.FetchPending(ctx, r.batch)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}

		if err := r.pub.Publish(ctx, records); err != nil {
			log.Warn().Err(err).Int("pending", len(records)).Msg("outbox: batch not published")
			return nil
		}

		ids := make([]int64, 0, len(records))
		for _, rec := range records {
			ids = append(ids, rec.ID)
		}
		if err := r.repo.MarkSent(ctx, ids); err != nil {
			return err
		}
		sent = len(ids)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return sent, nil
}
