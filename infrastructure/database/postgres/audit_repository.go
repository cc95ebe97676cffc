package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"isectech/ratelimit-service/domain/entity"
)

// AuditRepository implements the audit repository interface for PostgreSQL
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new PostgreSQL audit repository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{
		db: db,
	}
}

// EnsureSchema creates the audit table when it does not exist yet
func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS rate_limit_admin_events (
			id UUID PRIMARY KEY,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			target_identity TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT '',
			source_ip TEXT NOT NULL DEFAULT '',
			details JSONB,
			created_at TIMESTAMPTZ NOT NULL
		)`

	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure audit schema: %w", err)
	}
	return nil
}

// LogAdminEvent logs an administrative rate-limit mutation
func (r *AuditRepository) LogAdminEvent(ctx context.Context, record *entity.AuditRecord) error {
	detailsJSON, err := json.Marshal(record.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	query := `
		INSERT INTO rate_limit_admin_events (
			id, actor, action, target_identity, category,
			request_id, source_ip, details, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)`

	_, err = r.db.ExecContext(ctx, query,
		record.ID, record.Actor, record.Action, record.TargetIdentity,
		record.Category, record.RequestID, record.SourceIP,
		detailsJSON, record.CreatedAt,
	)

	if err != nil {
		return WrapSQLError(err, "log_admin_event", query, record)
	}

	return nil
}

// RecentAdminEvents returns the most recent administrative events,
// newest first. Used by the admin inspection surface.
func (r *AuditRepository) RecentAdminEvents(ctx context.Context, limit int) ([]entity.AuditRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, actor, action, target_identity, category,
		       request_id, source_ip, created_at
		FROM rate_limit_admin_events
		ORDER BY created_at DESC
		LIMIT $1`

	var records []entity.AuditRecord
	if err := r.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, WrapSQLError(err, "recent_admin_events", query, limit)
	}

	return records, nil
}
