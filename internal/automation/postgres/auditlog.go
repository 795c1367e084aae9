package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/janastudio/agenda-automation/internal/automation"
)

// AuditLog implements automation.AuditLog using PostgreSQL. Entries are
// append-only; the single read path serves the window evaluator.
type AuditLog struct {
	db *pgxpool.Pool
}

// NewAuditLog creates a new PostgreSQL audit log.
func NewAuditLog(db *pgxpool.Pool) *AuditLog {
	return &AuditLog{db: db}
}

// Record appends an audit entry.
func (l *AuditLog) Record(ctx context.Context, entry *automation.LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("marshal detail: %w", err)
	}

	query := `
		INSERT INTO automation_message_log (id, tenant_id, appointment_id, job_id, channel, entry_type, direction, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`
	err = l.db.QueryRow(ctx, query,
		entry.ID,
		entry.TenantID,
		entry.AppointmentID,
		nullableString(entry.JobID),
		entry.Channel,
		entry.EntryType,
		entry.Direction,
		detail,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	return nil
}

// LastInboundReply returns the most recent inbound-reply entry for an
// appointment, or nil when the customer never replied.
func (l *AuditLog) LastInboundReply(ctx context.Context, tenantID, appointmentID string) (*automation.LogEntry, error) {
	query := `
		SELECT id, tenant_id, appointment_id, job_id, channel, entry_type, direction, detail, created_at
		FROM automation_message_log
		WHERE tenant_id = $1 AND appointment_id = $2 AND entry_type = $3
		ORDER BY created_at DESC
		LIMIT 1
	`

	var entry automation.LogEntry
	var jobID *string
	var detail []byte

	err := l.db.QueryRow(ctx, query, tenantID, appointmentID, automation.EntryInboundReply).Scan(
		&entry.ID,
		&entry.TenantID,
		&entry.AppointmentID,
		&jobID,
		&entry.Channel,
		&entry.EntryType,
		&entry.Direction,
		&detail,
		&entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("last inbound reply: %w", err)
	}

	if jobID != nil {
		entry.JobID = *jobID
	}
	if len(detail) > 0 {
		if err := json.Unmarshal(detail, &entry.Detail); err != nil {
			return nil, fmt.Errorf("unmarshal detail of entry %s: %w", entry.ID, err)
		}
	}

	return &entry, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
