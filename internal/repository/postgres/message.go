package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/model"
	"github.com/joaopba/hcc-med-pay-flow-sub001/internal/repository"
)

const (
	messageTable   = "outbound_messages"
	messageColumns = `id, destination, kind, payload, priority, state, attempts, max_attempts,
		next_attempt_at, last_error, created_at, sent_at, updated_at`
	defaultListLimit = 100
)

type messageRepository struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) repository.MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Enqueue(ctx context.Context, msg *model.OutboundMessage) error {
	if msg == nil {
		return fmt.Errorf("message cannot be nil")
	}

	query := `
		INSERT INTO outbound_messages (
			id, destination, kind, payload, priority, state, attempts, max_attempts,
			next_attempt_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		msg.ID,
		msg.Destination,
		msg.Kind,
		msg.Payload,
		msg.Priority,
		msg.State,
		msg.Attempts,
		msg.MaxAttempts,
		msg.NextAttemptAt,
		msg.CreatedAt,
		msg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
	return nil
}

func (r *messageRepository) Get(ctx context.Context, id uuid.UUID) (*model.OutboundMessage, error) {
	var msg model.OutboundMessage
	query := `SELECT ` + messageColumns + ` FROM outbound_messages WHERE id = $1`
	if err := getOne(ctx, r.db, &msg, query, id); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.OutboundMessage, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM outbound_messages
		WHERE state = $1
		AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
		ORDER BY priority ASC, created_at ASC
		LIMIT $3
	`
	var msgs []*model.OutboundMessage
	if err := r.db.SelectContext(ctx, &msgs, query, model.MessageStatePending, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list due messages: %w", err)
	}
	return msgs, nil
}

func (r *messageRepository) Transition(ctx context.Context, msg *model.OutboundMessage, from model.MessageState) error {
	query := `
		UPDATE outbound_messages
		SET state = $1,
			attempts = $2,
			next_attempt_at = $3,
			last_error = $4,
			sent_at = $5,
			updated_at = $6
		WHERE id = $7 AND state = $8
	`
	err := execConditional(ctx, r.db, query,
		msg.State,
		msg.Attempts,
		msg.NextAttemptAt,
		msg.LastError,
		msg.SentAt,
		msg.UpdatedAt,
		msg.ID,
		from,
	)
	if err == repository.ErrStateConflict {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to update message %s to %s: %w", msg.ID, msg.State, err)
	}
	return nil
}

func (r *messageRepository) List(ctx context.Context, filters *model.MessageFilters) ([]*model.OutboundMessage, error) {
	qb := psql.Select(messageColumns).
		From(messageTable).
		OrderBy("created_at DESC")

	limit := defaultListLimit
	if filters != nil {
		if filters.State != "" {
			qb = qb.Where(sq.Eq{"state": filters.State})
		}
		if filters.Destination != "" {
			qb = qb.Where(sq.Eq{"destination": filters.Destination})
		}
		if filters.Limit > 0 {
			limit = filters.Limit
		}
	}

	query, args, err := qb.Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build message list query: %w", err)
	}

	var msgs []*model.OutboundMessage
	if err := r.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

func (r *messageRepository) DeleteSentBefore(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM outbound_messages
		WHERE state = $1
		AND sent_at < $2
	`
	result, err := r.db.ExecContext(ctx, query, model.MessageStateSent, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sent messages: %w", err)
	}

	return result.RowsAffected()
}

func (r *messageRepository) ReclaimStale(ctx context.Context, before time.Time) (int64, error) {
	query := `
		UPDATE outbound_messages
		SET state = $1, updated_at = NOW()
		WHERE state = $2
		AND updated_at < $3
	`
	result, err := r.db.ExecContext(ctx, query, model.MessageStatePending, model.MessageStateInFlight, before)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale messages: %w", err)
	}

	return result.RowsAffected()
}
