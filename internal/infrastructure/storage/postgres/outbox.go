package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"conteo/internal/core/id"
	"conteo/internal/domain"
	"conteo/pkg/logger"
)

// OutboxStatus represents the state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"

	outboxMaxRetries = 5
)

// OutboxMessage is one row of sys_outbox.
type OutboxMessage struct {
	ID          id.ID        `db:"id"`
	EntityType  string       `db:"entity_type"`
	EntityID    string       `db:"entity_id"`
	EventType   string       `db:"event_type"`
	Payload     []byte       `db:"payload"`
	Status      OutboxStatus `db:"status"`
	RetryCount  int          `db:"retry_count"`
	LastError   *string      `db:"last_error"`
	NextRetryAt *time.Time   `db:"next_retry_at"`
	CreatedAt   time.Time    `db:"created_at"`
	PublishedAt *time.Time   `db:"published_at"`
}

var _ domain.Events = (*OutboxPublisher)(nil)

// OutboxPublisher implements the events port by writing to sys_outbox
// inside the caller's transaction. Events therefore commit or roll back
// atomically with the primary operation; the relay dispatches them after
// commit.
type OutboxPublisher struct {
	txManager *TxManager
}

func NewOutboxPublisher(txManager *TxManager) *OutboxPublisher {
	return &OutboxPublisher{txManager: txManager}
}

// Publish writes one event row. Must be called inside a transaction.
func (p *OutboxPublisher) Publish(ctx context.Context, event domain.Event) error {
	txn := p.txManager.GetTx(ctx)
	if txn == nil {
		return fmt.Errorf("outbox publish requires transaction context")
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = txn.Exec(ctx, `
		INSERT INTO sys_outbox (id, entity_type, entity_id, event_type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id.New(), event.Entity, event.ID, event.Type, payload, OutboxStatusPending, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

// EventSink receives relayed events. The realtime broadcast collaborator
// sits behind this.
type EventSink func(ctx context.Context, event domain.Event) error

// OutboxRelay drains pending outbox rows to the sink, retrying failed
// deliveries with a growing backoff.
type OutboxRelay struct {
	pool      *Pool
	batchSize int
	period    time.Duration
	sink      EventSink
	log       *logger.Logger
}

func NewOutboxRelay(pool *Pool, batchSize int, period time.Duration, sink EventSink, log *logger.Logger) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	if period <= 0 {
		period = 5 * time.Second
	}
	return &OutboxRelay{
		pool:      pool,
		batchSize: batchSize,
		period:    period,
		sink:      sink,
		log:       log.WithComponent("outbox-relay"),
	}
}

// Run drains the outbox until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ProcessBatch(ctx); err != nil {
				r.log.Errorw("outbox batch failed", "error", err)
			}
		}
	}
}

// ProcessBatch fetches and dispatches pending messages, returning how many
// were delivered. The whole batch runs in one transaction: row locks from
// SKIP LOCKED only hold while the transaction is open, and holding them
// across dispatch is what keeps a second relay instance off these rows.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	txn, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin outbox batch: %w", err)
	}
	defer func() { _ = txn.Rollback(ctx) }()

	rows, err := txn.Query(ctx, `
		SELECT id, entity_type, entity_id, event_type, payload, status,
		       retry_count, last_error, next_retry_at, created_at, published_at
		FROM sys_outbox
		WHERE status = $1
		  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, OutboxStatusPending, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch outbox messages: %w", err)
	}
	defer rows.Close()

	var messages []*OutboxMessage
	for rows.Next() {
		var msg OutboxMessage
		err := rows.Scan(
			&msg.ID, &msg.EntityType, &msg.EntityID, &msg.EventType,
			&msg.Payload, &msg.Status, &msg.RetryCount, &msg.LastError,
			&msg.NextRetryAt, &msg.CreatedAt, &msg.PublishedAt,
		)
		if err != nil {
			return 0, fmt.Errorf("scan outbox message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate outbox messages: %w", err)
	}

	processed := 0
	for _, msg := range messages {
		if err := r.dispatch(ctx, txn, msg); err != nil {
			r.log.Warnw("outbox dispatch failed",
				"message_id", msg.ID, "event_type", msg.EventType,
				"retries", msg.RetryCount, "error", err)
			continue
		}
		processed++
	}
	if err := txn.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit outbox batch: %w", err)
	}
	return processed, nil
}

func (r *OutboxRelay) dispatch(ctx context.Context, txn pgx.Tx, msg *OutboxMessage) error {
	var payload map[string]any
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		payload = map[string]any{"raw": string(msg.Payload)}
	}

	err := r.sink(ctx, domain.Event{
		Type:    msg.EventType,
		Entity:  msg.EntityType,
		ID:      msg.EntityID,
		Payload: payload,
	})
	if err != nil {
		nextRetry := time.Now().Add(time.Duration(msg.RetryCount+1) * time.Minute)
		errStr := err.Error()
		_, updateErr := txn.Exec(ctx, `
			UPDATE sys_outbox
			SET retry_count = retry_count + 1,
			    last_error = $1,
			    next_retry_at = $2,
			    status = CASE WHEN retry_count >= $3 THEN $4 ELSE status END
			WHERE id = $5
		`, errStr, nextRetry, outboxMaxRetries, OutboxStatusFailed, msg.ID)
		if updateErr != nil {
			return fmt.Errorf("update failed message: %w", updateErr)
		}
		return err
	}

	_, err = txn.Exec(ctx, `
		UPDATE sys_outbox
		SET status = $1, published_at = $2
		WHERE id = $3
	`, OutboxStatusPublished, time.Now().UTC(), msg.ID)
	return err
}
