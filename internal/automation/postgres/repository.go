// Package postgres provides PostgreSQL implementations of the automation
// engine's repositories.
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

const jobColumns = `id, tenant_id, appointment_id, channel, type, scheduled_for, status, payload, created_at, updated_at`

// JobRepository implements automation.JobRepository using PostgreSQL. The
// payload (including the engine-owned automation state) lives in a JSONB
// column; conditional updates are expressed as WHERE status = $expected so
// the database guarantees the optimistic transition semantics.
type JobRepository struct {
	db *pgxpool.Pool
}

// NewJobRepository creates a new PostgreSQL job repository.
func NewJobRepository(db *pgxpool.Pool) *JobRepository {
	return &JobRepository{db: db}
}

// Insert stores a new job, filling ID and timestamps.
func (r *JobRepository) Insert(ctx context.Context, job *automation.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		INSERT INTO notification_jobs (id, tenant_id, appointment_id, channel, type, scheduled_for, status, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRow(ctx, query,
		job.ID,
		job.TenantID,
		job.AppointmentID,
		job.Channel,
		job.Type,
		job.ScheduledFor,
		job.Status,
		payload,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// FindPendingDuplicate returns an existing pending job for the same
// (tenant, appointment-or-null, channel, type), or nil.
func (r *JobRepository) FindPendingDuplicate(ctx context.Context, tenantID string, appointmentID *string, channel automation.Channel, jobType automation.JobType) (*automation.Job, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM notification_jobs
		WHERE tenant_id = $1
		  AND appointment_id IS NOT DISTINCT FROM $2
		  AND channel = $3
		  AND type = $4
		  AND status = $5
		LIMIT 1
	`, jobColumns)

	job, err := scanJob(r.db.QueryRow(ctx, query, tenantID, appointmentID, channel, jobType, automation.JobStatusPending))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find pending duplicate: %w", err)
	}
	return job, nil
}

// ListDue returns due pending jobs ordered by scheduled_for ascending.
func (r *JobRepository) ListDue(ctx context.Context, filter automation.DueFilter) ([]*automation.Job, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM notification_jobs
		WHERE status = $1 AND scheduled_for <= $2 AND channel = $3
	`, jobColumns)
	args := []any{automation.JobStatusPending, filter.Now, filter.Channel}

	if filter.AppointmentID != "" {
		args = append(args, filter.AppointmentID)
		query += fmt.Sprintf(" AND appointment_id = $%d", len(args))
	}
	if filter.JobID != "" {
		args = append(args, filter.JobID)
		query += fmt.Sprintf(" AND id = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}

	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY scheduled_for ASC LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list due jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]*automation.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// ConditionalUpdate applies the update iff the row still matches the
// expected status. Returns (nil, nil) when the precondition failed.
func (r *JobRepository) ConditionalUpdate(ctx context.Context, upd automation.ConditionalUpdate) (*automation.Job, error) {
	set := "status = $2, updated_at = NOW()"
	args := []any{upd.ID, upd.Status}

	if upd.Payload != nil {
		payload, err := json.Marshal(upd.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		args = append(args, payload)
		set += fmt.Sprintf(", payload = $%d", len(args))
	}
	if upd.ScheduledFor != nil {
		args = append(args, *upd.ScheduledFor)
		set += fmt.Sprintf(", scheduled_for = $%d", len(args))
	}

	args = append(args, upd.ExpectedStatus)
	query := fmt.Sprintf(`
		UPDATE notification_jobs
		SET %s
		WHERE id = $1 AND status = $%d
		RETURNING %s
	`, set, len(args), jobColumns)

	job, err := scanJob(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Precondition failed: a concurrent run won the race.
			return nil, nil
		}
		return nil, fmt.Errorf("conditional update: %w", err)
	}
	return job, nil
}

// GetByID returns a job or automation.ErrJobNotFound.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*automation.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM notification_jobs WHERE id = $1`, jobColumns)

	job, err := scanJob(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, automation.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// FindByProviderMessageID matches a provider callback to its job, or nil.
func (r *JobRepository) FindByProviderMessageID(ctx context.Context, providerMessageID string) (*automation.Job, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM notification_jobs
		WHERE payload -> 'automation' ->> 'provider_message_id' = $1
		LIMIT 1
	`, jobColumns)

	job, err := scanJob(r.db.QueryRow(ctx, query, providerMessageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find by provider message id: %w", err)
	}
	return job, nil
}

// QueueStats returns job counts by status.
func (r *JobRepository) QueueStats(ctx context.Context) (*automation.QueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM notification_jobs
	`
	var stats automation.QueueStats
	if err := r.db.QueryRow(ctx, query).Scan(&stats.Pending, &stats.Sent, &stats.Failed); err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	return &stats, nil
}

func scanJob(row pgx.Row) (*automation.Job, error) {
	var job automation.Job
	var payload []byte

	err := row.Scan(
		&job.ID,
		&job.TenantID,
		&job.AppointmentID,
		&job.Channel,
		&job.Type,
		&job.ScheduledFor,
		&job.Status,
		&payload,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	// Validate the payload shape on read instead of trusting it.
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &job.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload of job %s: %w", job.ID, err)
		}
	}

	return &job, nil
}
