package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/janastudio/agenda-automation/internal/config"
	"github.com/janastudio/agenda-automation/internal/pkg/ctxlog"
)

// Job outcome buckets reported in a processing summary.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// hardBatchLimit caps a single processor invocation regardless of config.
const hardBatchLimit = 100

// ProcessFilter narrows a processor invocation. The zero value processes the
// default batch of due WhatsApp jobs.
type ProcessFilter struct {
	Limit         int     `json:"limit" validate:"omitempty,min=1,max=100"`
	AppointmentID string  `json:"appointment_id"`
	JobID         string  `json:"job_id"`
	Type          JobType `json:"type" validate:"omitempty,oneof=appointment_created appointment_reminder appointment_canceled"`
}

// JobResult is the per-job outcome of a processor invocation.
type JobResult struct {
	JobID   string  `json:"job_id"`
	Type    JobType `json:"type"`
	Outcome string  `json:"outcome"`
	Detail  string  `json:"detail,omitempty"`
}

// Summary aggregates one processor invocation.
type Summary struct {
	TotalScanned int         `json:"total_scanned"`
	Sent         int         `json:"sent"`
	Failed       int         `json:"failed"`
	Skipped      int         `json:"skipped"`
	Results      []JobResult `json:"results"`
}

func (s *Summary) add(r JobResult) {
	s.Results = append(s.Results, r)
	switch r.Outcome {
	case OutcomeSent:
		s.Sent++
	case OutcomeFailed:
		s.Failed++
	default:
		s.Skipped++
	}
}

// Processor is the dispatch state machine: it claims due jobs, attempts
// delivery, and records the outcome with optimistic status transitions.
// Jobs in one invocation are handled sequentially; concurrency only arises
// from overlapping invocations, which the conditional updates make safe.
type Processor struct {
	cfg      config.AutomationConfig
	jobs     JobRepository
	audit    AuditLog
	sender   Sender
	contexts ContextSource
	renderer *Renderer
	window   *WindowEvaluator
	policy   RetryPolicy

	now func() time.Time
}

// NewProcessor creates a dispatch processor.
func NewProcessor(
	cfg config.AutomationConfig,
	jobs JobRepository,
	audit AuditLog,
	sender Sender,
	contexts ContextSource,
	renderer *Renderer,
	window *WindowEvaluator,
) *Processor {
	return &Processor{
		cfg:      cfg,
		jobs:     jobs,
		audit:    audit,
		sender:   sender,
		contexts: contexts,
		renderer: renderer,
		window:   window,
		policy: RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryBaseDelay(),
		},
		now: time.Now,
	}
}

// ProcessDue claims and processes due pending WhatsApp jobs. Per-job
// failures are recorded in the summary and never abort the batch; only the
// due-job query failing returns an error.
func (p *Processor) ProcessDue(ctx context.Context, filter ProcessFilter) (*Summary, error) {
	summary := &Summary{Results: make([]JobResult, 0)}

	// Global kill switch.
	if p.cfg.Mode == config.ModeDisabled {
		return summary, nil
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = p.cfg.BatchLimit
	}
	if limit > hardBatchLimit {
		limit = hardBatchLimit
	}

	due, err := p.jobs.ListDue(ctx, DueFilter{
		Channel:       ChannelWhatsApp,
		Now:           p.now(),
		Limit:         limit,
		AppointmentID: filter.AppointmentID,
		JobID:         filter.JobID,
		Type:          filter.Type,
	})
	if err != nil {
		return nil, fmt.Errorf("list due jobs: %w", err)
	}

	summary.TotalScanned = len(due)

	for _, job := range due {
		result := p.processJob(ctx, job)
		summary.add(result)
		recordJobOutcome(job.Type, result.Outcome)
	}

	return summary, nil
}

func (p *Processor) processJob(ctx context.Context, job *Job) JobResult {
	logger := ctxlog.FromContext(ctx).With("job_id", job.ID, "job_type", job.Type)

	if !job.Type.Valid() {
		return JobResult{JobID: job.ID, Type: job.Type, Outcome: OutcomeSkipped, Detail: "unsupported type"}
	}

	if !p.cfg.TenantAllowed(job.TenantID) {
		return JobResult{JobID: job.ID, Type: job.Type, Outcome: OutcomeSkipped, Detail: "tenant not allowed"}
	}

	payload := job.Payload
	state := &payload.Automation

	start := p.now()
	outcome, err := p.deliver(ctx, job, state)
	if err != nil {
		return p.handleDeliveryError(ctx, job, payload, err)
	}
	recordDeliveryDuration(job.Type, p.now().Sub(start))

	processedAt := p.now()
	state.ProcessedAt = &processedAt
	state.DeliveryMode = outcome.Mode
	state.Preview = outcome.Preview
	state.ProviderMessageID = outcome.MessageID
	state.RetryNextAt = nil

	updated, err := p.jobs.ConditionalUpdate(ctx, ConditionalUpdate{
		ID:             job.ID,
		Status:         JobStatusSent,
		Payload:        &payload,
		ExpectedStatus: JobStatusPending,
	})
	if err != nil {
		// The message is out; losing the status write must not flip the
		// outcome. Cron and poller will not resend a non-pending row.
		logger.Error("failed to mark job as sent", "error", err)
		return JobResult{JobID: job.ID, Type: job.Type, Outcome: OutcomeSent, Detail: "sent, status write failed"}
	}
	if updated == nil {
		// A concurrent run already claimed this job.
		return JobResult{JobID: job.ID, Type: job.Type, Outcome: OutcomeSkipped, Detail: "already processed"}
	}

	entryType := EntrySentAuto
	if outcome.Mode == DeliveryModeDryRun {
		entryType = EntrySentAutoDryRun
	}
	p.logAudit(ctx, job, entryType, DirectionOutbound, map[string]any{
		"delivery_mode":       outcome.Mode,
		"provider_message_id": outcome.MessageID,
	})

	logger.Info("job delivered", "mode", outcome.Mode, "provider_message_id", outcome.MessageID)
	return JobResult{JobID: job.ID, Type: job.Type, Outcome: OutcomeSent}
}

// deliveryOutcome is the result of a delivery attempt.
type deliveryOutcome struct {
	Mode        string
	MessageID   string
	Preview     string
	DeliveredAt time.Time
}

func (p *Processor) deliver(ctx context.Context, job *Job, state *AutomationState) (*deliveryOutcome, error) {
	if job.AppointmentID == nil || *job.AppointmentID == "" {
		return nil, NewNonRetryableError(errors.New("job has no appointment id"))
	}

	if p.cfg.Mode == config.ModeDryRun {
		tc, _, err := p.contexts.Build(ctx, job.TenantID, *job.AppointmentID)
		if err != nil {
			return nil, err
		}
		preview, err := p.renderer.Preview(job.Type, tc)
		if err != nil {
			return nil, NewNonRetryableError(err)
		}
		return &deliveryOutcome{Mode: DeliveryModeDryRun, Preview: preview, DeliveredAt: p.now()}, nil
	}

	if p.cfg.Provider != config.ProviderMetaCloud {
		return nil, NewNonRetryableError(errors.New("messaging provider not configured"))
	}

	tc, appt, err := p.contexts.Build(ctx, job.TenantID, *job.AppointmentID)
	if err != nil {
		return nil, err
	}

	switch job.Type {
	case JobTypeCreated:
		return p.sendTemplate(ctx, job, state, appt, p.cfg.CreatedTemplate, tc)
	case JobTypeReminder:
		return p.sendTemplate(ctx, job, state, appt, p.cfg.ReminderTemplate, tc)
	case JobTypeCanceled:
		return p.sendCanceledText(ctx, job, state, tc)
	default:
		return nil, NewNonRetryableError(fmt.Errorf("delivery for job type %q not implemented", job.Type))
	}
}

func (p *Processor) sendTemplate(ctx context.Context, job *Job, state *AutomationState, appt *Appointment, tpl config.TemplateConfig, tc *TemplateContext) (*deliveryOutcome, error) {
	if tpl.Name == "" {
		return nil, NewNonRetryableError(fmt.Errorf("template for job type %q not configured", job.Type))
	}

	to := state.CustomerWaID
	if to == "" {
		to = appt.Client.Phone
	}

	res, err := p.sender.SendTemplate(ctx, TemplateSend{
		To:         to,
		Name:       tpl.Name,
		Language:   tpl.Language,
		BodyParams: tc.Params(),
	})
	if err != nil {
		return nil, err
	}
	return &deliveryOutcome{Mode: DeliveryModeLive, MessageID: res.MessageID, DeliveredAt: res.DeliveredAt}, nil
}

// sendCanceledText delivers the cancellation as a free-text session message.
// Platform policy forbids free-form messages outside the 24h customer
// service window, so the window is re-checked at dispatch time even though
// the scheduler gated on it at enqueue time.
func (p *Processor) sendCanceledText(ctx context.Context, job *Job, state *AutomationState, tc *TemplateContext) (*deliveryOutcome, error) {
	win, err := p.window.Evaluate(ctx, job.TenantID, *job.AppointmentID, p.now())
	if err != nil {
		return nil, NewRetryableError(fmt.Errorf("evaluate customer service window: %w", err))
	}

	state.ServiceWindow = win.Check()
	if win.CustomerWaID != "" {
		state.CustomerWaID = win.CustomerWaID
	}

	if !win.IsOpen {
		return nil, NewNonRetryableError(fmt.Errorf("customer service window %s, free-text send not permitted", win.Reason))
	}

	body, err := p.renderer.CanceledText(tc)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}

	res, err := p.sender.SendText(ctx, TextSend{To: win.CustomerWaID, Body: body})
	if err != nil {
		return nil, err
	}
	return &deliveryOutcome{Mode: DeliveryModeLive, MessageID: res.MessageID, DeliveredAt: res.DeliveredAt}, nil
}

func (p *Processor) handleDeliveryError(ctx context.Context, job *Job, payload Payload, deliveryErr error) JobResult {
	logger := ctxlog.FromContext(ctx).With("job_id", job.ID, "job_type", job.Type)
	state := &payload.Automation

	logger.Warn("delivery failed",
		"retry_count", state.RetryCount,
		"max_retries", p.policy.MaxRetries,
		"error", deliveryErr,
	)

	// Retries are only scheduled for retryable errors in live mode and
	// while budget remains; everything else is terminal.
	if IsRetryable(deliveryErr) && p.cfg.Mode == config.ModeEnabled && p.policy.Budget(state.RetryCount) {
		attempt := state.RetryCount + 1
		delay := p.policy.NextDelay(attempt)
		nextAt := p.now().Add(delay)

		state.RetryCount = attempt
		state.RetryNextAt = &nextAt
		state.RetryLastError = deliveryErr.Error()

		updated, err := p.jobs.ConditionalUpdate(ctx, ConditionalUpdate{
			ID:             job.ID,
			Status:         JobStatusPending,
			Payload:        &payload,
			ScheduledFor:   &nextAt,
			ExpectedStatus: JobStatusPending,
		})
		if err != nil {
			logger.Error("failed to reschedule job", "error", err)
			return JobResult{JobID: job.ID, Type: job.Type, Outcome: OutcomeSkipped, Detail: "retry reschedule failed"}
		}
		if updated == nil {
			return JobResult{JobID: job.ID, Type: job.Type, Outcome: OutcomeSkipped, Detail: "already processed"}
		}

		p.logAudit(ctx, job, EntryRetryScheduledAuto, DirectionSystem, map[string]any{
			"retry_count":   attempt,
			"retry_next_at": nextAt.Format(time.RFC3339),
			"error":         deliveryErr.Error(),
		})

		logger.Info("retry scheduled", "attempt", attempt, "next_at", nextAt)
		return JobResult{
			JobID:   job.ID,
			Type:    job.Type,
			Outcome: OutcomeSkipped,
			Detail:  fmt.Sprintf("retry %d scheduled in %s: %v", attempt, delay, deliveryErr),
		}
	}

	state.RetryLastError = deliveryErr.Error()
	state.RetryNextAt = nil

	updated, err := p.jobs.ConditionalUpdate(ctx, ConditionalUpdate{
		ID:             job.ID,
		Status:         JobStatusFailed,
		Payload:        &payload,
		ExpectedStatus: JobStatusPending,
	})
	if err != nil {
		logger.Error("failed to mark job as failed", "error", err)
		return JobResult{JobID: job.ID, Type: job.Type, Outcome: OutcomeSkipped, Detail: "status write failed"}
	}
	if updated == nil {
		return JobResult{JobID: job.ID, Type: job.Type, Outcome: OutcomeSkipped, Detail: "already processed"}
	}

	p.logAudit(ctx, job, EntryFailedAuto, DirectionSystem, map[string]any{
		"retry_count": state.RetryCount,
		"error":       deliveryErr.Error(),
	})

	return JobResult{JobID: job.ID, Type: job.Type, Outcome: OutcomeFailed, Detail: deliveryErr.Error()}
}

func (p *Processor) logAudit(ctx context.Context, job *Job, entryType, direction string, detail map[string]any) {
	entry := &LogEntry{
		TenantID:      job.TenantID,
		AppointmentID: job.AppointmentID,
		JobID:         job.ID,
		Channel:       job.Channel,
		EntryType:     entryType,
		Direction:     direction,
		Detail:        detail,
	}
	if err := p.audit.Record(ctx, entry); err != nil {
		ctxlog.FromContext(ctx).Error("failed to write audit entry",
			"job_id", job.ID,
			"entry_type", entryType,
			"error", err,
		)
	}
}
