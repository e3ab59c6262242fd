package audit

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PostgresRepo writes to audit_events. Only INSERT and SELECT are issued.
type PostgresRepo struct {
	db *sqlx.DB
}

func NewPostgresRepo(db *sqlx.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.NamedExecContext(ctx, `
INSERT INTO audit_events (id, actor_user_id, actor_role, ip_address, type, target_id, message, metadata, created_at)
VALUES (:id, :actor_user_id, :actor_role, NULLIF(:ip_address, ''), :type, NULLIF(:target_id, ''),
        NULLIF(:message, ''), NULLIF(:metadata, ''), :created_at)
`, e)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (r *PostgresRepo) List(ctx context.Context, limit int) ([]Event, error) {
	var out []Event
	err := r.db.SelectContext(ctx, &out, `
SELECT id, actor_user_id, actor_role, COALESCE(ip_address, '') AS ip_address, type,
       COALESCE(target_id, '') AS target_id, COALESCE(message, '') AS message,
       COALESCE(metadata, '') AS metadata, created_at
FROM audit_events
ORDER BY created_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return out, nil
}
