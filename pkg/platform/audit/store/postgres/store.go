package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	id "grc/pkg/domain"
	audit "grc/pkg/platform/audit"
	txcontext "grc/pkg/platform/tx"
)

// Store implements audit.Store and audit.Outbox on the audit_outbox table of
// one logical database. Append joins the transaction bound to the store's
// pool so the event commits or rolls back with the state change.
type Store struct {
	db   *sqlx.DB
	pool txcontext.Pool
}

func New(db *sqlx.DB, pool txcontext.Pool) *Store {
	return &Store{db: db, pool: pool}
}

type outboxRow struct {
	ID            uuid.UUID   `db:"id"`
	TenantID      id.TenantID `db:"tenant_id"`
	EventName     string      `db:"event_name"`
	AggregateType string      `db:"aggregate_type"`
	AggregateID   string      `db:"aggregate_id"`
	ActorID       *id.UserID  `db:"actor_id"`
	Payload       []byte      `db:"payload"`
	OccurredAt    time.Time   `db:"occurred_at"`
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	var actor *id.UserID
	if !event.ActorID.IsNil() {
		actor = &event.ActorID
	}
	_, err = txcontext.Conn(ctx, s.db, s.pool).ExecContext(ctx, `
		INSERT INTO audit_outbox (id, tenant_id, event_name, aggregate_type, aggregate_id, actor_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.TenantID, string(event.Name), event.AggregateType, event.AggregateID, actor, string(body), event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// ProcessBatch claims rows with FOR UPDATE SKIP LOCKED so several relay
// workers can share one outbox.
func (s *Store) ProcessBatch(ctx context.Context, limit int, publish func(context.Context, audit.Event) error) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin outbox batch: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var rows []outboxRow
	err = tx.SelectContext(ctx, &rows, `
		SELECT id, tenant_id, event_name, aggregate_type, aggregate_id, actor_id, payload, occurred_at
		FROM audit_outbox
		WHERE processed_at IS NULL
		ORDER BY occurred_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return 0, fmt.Errorf("claim outbox rows: %w", err)
	}

	n := 0
	var publishErr error
	for _, row := range rows {
		var event audit.Event
		if err := json.Unmarshal(row.Payload, &event); err != nil {
			publishErr = fmt.Errorf("decode outbox row %s: %w", row.ID, err)
			break
		}
		if err := publish(ctx, event); err != nil {
			publishErr = err
			break
		}
		if _, err := tx.ExecContext(ctx, `UPDATE audit_outbox SET processed_at = now() WHERE id = $1`, row.ID); err != nil {
			publishErr = fmt.Errorf("mark outbox row %s: %w", row.ID, err)
			break
		}
		n++
	}
	if n == 0 {
		return 0, publishErr
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit outbox batch: %w", err)
	}
	committed = true
	return n, publishErr
}
