// Package outbox stores domain events in the same transaction as the state
// change that produced them and relays them to the message broker.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vasiliy-maslov/storefront/internal/db"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderPaid          = "order.paid"
	EventOrderStatusChanged = "order.status_changed"
)

type Record struct {
	ID        int64
	EventID   uuid.UUID
	Topic     string
	Key       string
	Payload   json.RawMessage
	CreatedAt time.Time
	SentAt    *time.Time
}

// Envelope is the JSON body published for every event.
type Envelope struct {
	EventID    string    `json:"eventId"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

type Repository interface {
	Insert(ctx context.Context, rec *Record) error
	// FetchPending returns unsent records oldest first. Inside a transaction
	// the rows stay locked and are skipped by concurrent relays.
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, ids []int64) error
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) Insert(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO outbox (event_id, topic, key, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	err := db.Conn(ctx, r.pool).QueryRow(ctx, query, rec.EventID.String(), rec.Topic, rec.Key, []byte(rec.Payload)).
		Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("repository: failed to insert outbox record: %w", err)
	}
	return nil
}

func (r *postgresRepository) FetchPending(ctx context.Context, limit int) ([]Record, error) {
	query := `
		SELECT id, event_id::text, topic, key, payload, created_at, sent_at
		FROM outbox
		WHERE sent_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	// SKIP LOCKED: второй relay возьмет другие записи, а не будет ждать
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to fetch pending outbox records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec     Record
			eventID string
			payload []byte
		)
		if err := rows.Scan(&rec.ID, &eventID, &rec.Topic, &rec.Key, &payload, &rec.CreatedAt, &rec.SentAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan outbox record: %w", err)
		}
		if rec.EventID, err = uuid.FromString(eventID); err != nil {
			return nil, fmt.Errorf("repository: malformed outbox event id %q: %w", eventID, err)
		}
		rec.Payload = payload
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *postgresRepository) MarkSent(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE outbox SET sent_at = now() WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("repository: failed to mark outbox records sent: %w", err)
	}
	return nil
}

// Writer appends events to the outbox. Call it with the context of the
// transaction that made the state change.
type Writer struct {
	repo  Repository
	topic string
	now   func() time.Time
}

func NewWriter(repo Repository, topic string) *Writer {
	return &Writer{repo: repo, topic: topic, now: time.Now}
}

func (w *Writer) Write(ctx context.Context, eventType, key string, data any) error {
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("failed to generate event id: %w", err)
	}

	payload, err := json.Marshal(Envelope{
		EventID:    id.String(),
		Type:       eventType,
		OccurredAt: w.now().UTC(),
		Data:       data,
	})
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", eventType, err)
	}

	return w.repo.Insert(ctx, &Record{EventID: id, Topic: w.topic, Key: key, Payload: payload})
}
