package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/janastudio/agenda-automation/internal/config"
	"github.com/janastudio/agenda-automation/internal/pkg/ctxlog"
)

// reminderLead is how long before the appointment start the reminder fires.
const reminderLead = 24 * time.Hour

// Skip reasons recorded when a cancellation notification is not enqueued.
const (
	SkipTenantNotAllowed = "tenant_not_allowed"
	SkipWindowNoInbound  = "customer_service_window_no_inbound"
	SkipWindowExpired    = "customer_service_window_expired"
)

// LifecycleInput schedules the created + reminder pair for an appointment.
type LifecycleInput struct {
	TenantID      string `json:"tenant_id" validate:"required"`
	AppointmentID string `json:"appointment_id" validate:"required"`
	StartTimeISO  string `json:"start_time" validate:"required"`
	Source        string `json:"source" validate:"required,oneof=admin_create public_booking admin_cancel"`
}

// CanceledInput schedules a cancellation notification.
type CanceledInput struct {
	TenantID      string `json:"tenant_id" validate:"required"`
	AppointmentID string `json:"appointment_id" validate:"required"`
	Source        string `json:"source" validate:"required,oneof=admin_create public_booking admin_cancel"`
	NotifyClient  bool   `json:"notify_client"`
}

// EnqueueResult reports one enqueue attempt.
type EnqueueResult struct {
	JobID      string  `json:"job_id,omitempty"`
	Type       JobType `json:"type"`
	Queued     bool    `json:"queued"`
	Duplicate  bool    `json:"duplicate,omitempty"`
	SkipReason string  `json:"skip_reason,omitempty"`
}

// Scheduler is the producer side of the engine: it enqueues lifecycle jobs
// with duplicate suppression and, optionally, triggers immediate dispatch.
type Scheduler struct {
	cfg       config.AutomationConfig
	jobs      JobRepository
	audit     AuditLog
	window    *WindowEvaluator
	processor *Processor

	now func() time.Time
}

// NewScheduler creates a scheduler. processor may be nil when immediate
// dispatch on enqueue is disabled.
func NewScheduler(cfg config.AutomationConfig, jobs JobRepository, audit AuditLog, window *WindowEvaluator, processor *Processor) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		jobs:      jobs,
		audit:     audit,
		window:    window,
		processor: processor,
		now:       time.Now,
	}
}

// ScheduleLifecycle enqueues the appointment_created job (due now) and the
// appointment_reminder job (due at start minus 24h) for an appointment.
func (s *Scheduler) ScheduleLifecycle(ctx context.Context, in LifecycleInput) ([]EnqueueResult, error) {
	startTime, err := time.Parse(time.RFC3339, in.StartTimeISO)
	if err != nil {
		return nil, fmt.Errorf("parse start time %q: %w", in.StartTimeISO, err)
	}

	now := s.now()
	results := make([]EnqueueResult, 0, 2)

	created, err := s.enqueue(ctx, enqueueRequest{
		TenantID:      in.TenantID,
		AppointmentID: in.AppointmentID,
		Type:          JobTypeCreated,
		ScheduledFor:  now,
		Source:        in.Source,
		Data:          map[string]any{"start_time": in.StartTimeISO},
	})
	if err != nil {
		return results, err
	}
	results = append(results, created)

	reminder, err := s.enqueue(ctx, enqueueRequest{
		TenantID:      in.TenantID,
		AppointmentID: in.AppointmentID,
		Type:          JobTypeReminder,
		ScheduledFor:  startTime.Add(-reminderLead),
		Source:        in.Source,
		Data: map[string]any{
			"start_time":      in.StartTimeISO,
			"reminder_window": "24h",
		},
	})
	if err != nil {
		return results, err
	}
	results = append(results, reminder)

	return results, nil
}

// ScheduleCanceled conditionally enqueues a cancellation notification. The
// cancellation message is always free-text, so it is only queued when the
// customer-service window is open with a resolved WhatsApp id; otherwise the
// skip reason is logged and no job is created.
func (s *Scheduler) ScheduleCanceled(ctx context.Context, in CanceledInput) (EnqueueResult, error) {
	result := EnqueueResult{Type: JobTypeCanceled}

	if !in.NotifyClient {
		result.SkipReason = "notify_client_disabled"
		return result, nil
	}

	if !s.cfg.TenantAllowed(in.TenantID) {
		result.SkipReason = SkipTenantNotAllowed
		s.logSkip(ctx, in.TenantID, in.AppointmentID, in.Source, result.SkipReason)
		return result, nil
	}

	win, err := s.window.Evaluate(ctx, in.TenantID, in.AppointmentID, s.now())
	if err != nil {
		return result, fmt.Errorf("evaluate customer service window: %w", err)
	}
	if !win.IsOpen || win.CustomerWaID == "" {
		switch win.Reason {
		case WindowReasonExpired:
			result.SkipReason = SkipWindowExpired
		default:
			result.SkipReason = SkipWindowNoInbound
		}
		s.logSkip(ctx, in.TenantID, in.AppointmentID, in.Source, result.SkipReason)
		return result, nil
	}

	return s.enqueue(ctx, enqueueRequest{
		TenantID:      in.TenantID,
		AppointmentID: in.AppointmentID,
		Type:          JobTypeCanceled,
		ScheduledFor:  s.now(),
		Source:        in.Source,
		CustomerWaID:  win.CustomerWaID,
		WindowCheck:   win.Check(),
	})
}

type enqueueRequest struct {
	TenantID      string
	AppointmentID string
	Type          JobType
	ScheduledFor  time.Time
	Source        string
	Data          map[string]any
	CustomerWaID  string
	WindowCheck   *WindowCheck
}

// enqueue applies the automation guard: global queue switch, tenant
// allow-list, duplicate suppression, payload stamping, insert, audit entry
// and optional immediate single-job dispatch.
func (s *Scheduler) enqueue(ctx context.Context, req enqueueRequest) (EnqueueResult, error) {
	logger := ctxlog.FromContext(ctx).With(
		"tenant_id", req.TenantID,
		"appointment_id", req.AppointmentID,
		"job_type", req.Type,
	)
	result := EnqueueResult{Type: req.Type}

	if !s.cfg.QueueEnabled {
		result.SkipReason = "queue_disabled"
		return result, nil
	}

	if !s.cfg.TenantAllowed(req.TenantID) {
		result.SkipReason = SkipTenantNotAllowed
		return result, nil
	}

	var appointmentID *string
	if req.AppointmentID != "" {
		appointmentID = &req.AppointmentID
	}

	// Exactly one pending lifecycle per (tenant, appointment, type).
	existing, err := s.jobs.FindPendingDuplicate(ctx, req.TenantID, appointmentID, ChannelWhatsApp, req.Type)
	if err != nil {
		return result, fmt.Errorf("duplicate lookup: %w", err)
	}
	if existing != nil {
		logger.Debug("duplicate pending job, skipping enqueue", "existing_job_id", existing.ID)
		result.JobID = existing.ID
		result.Duplicate = true
		return result, nil
	}

	queuedAt := s.now()
	job := &Job{
		TenantID:      req.TenantID,
		AppointmentID: appointmentID,
		Channel:       ChannelWhatsApp,
		Type:          req.Type,
		ScheduledFor:  req.ScheduledFor,
		Status:        JobStatusPending,
		Payload: Payload{
			Data: req.Data,
			Automation: AutomationState{
				QueuedAt:        &queuedAt,
				Source:          req.Source,
				ModeAtQueueTime: s.cfg.Mode,
				CustomerWaID:    req.CustomerWaID,
				ServiceWindow:   req.WindowCheck,
			},
		},
	}

	if err := s.jobs.Insert(ctx, job); err != nil {
		return result, fmt.Errorf("insert job: %w", err)
	}

	result.JobID = job.ID
	result.Queued = true

	s.logEntry(ctx, &LogEntry{
		TenantID:      req.TenantID,
		AppointmentID: appointmentID,
		JobID:         job.ID,
		Channel:       ChannelWhatsApp,
		EntryType:     EntryQueued,
		Direction:     DirectionSystem,
		Detail: map[string]any{
			"type":          string(req.Type),
			"source":        req.Source,
			"scheduled_for": req.ScheduledFor.Format(time.RFC3339),
		},
	})

	logger.Info("job queued", "job_id", job.ID, "scheduled_for", req.ScheduledFor)

	// Low-latency path: dispatch exactly this job right away. Cron and the
	// poller remain the safety net if this immediate pass misses.
	if s.cfg.DispatchOnQueue && s.cfg.Mode != config.ModeDisabled && s.processor != nil {
		if _, err := s.processor.ProcessDue(ctx, ProcessFilter{JobID: job.ID, Limit: 1}); err != nil {
			logger.Error("immediate dispatch failed", "job_id", job.ID, "error", err)
		}
	}

	return result, nil
}

func (s *Scheduler) logSkip(ctx context.Context, tenantID, appointmentID, source, reason string) {
	var apptID *string
	if appointmentID != "" {
		apptID = &appointmentID
	}
	s.logEntry(ctx, &LogEntry{
		TenantID:      tenantID,
		AppointmentID: apptID,
		Channel:       ChannelWhatsApp,
		EntryType:     EntrySkipped,
		Direction:     DirectionSystem,
		Detail: map[string]any{
			"type":   string(JobTypeCanceled),
			"source": source,
			"reason": reason,
		},
	})
}

func (s *Scheduler) logEntry(ctx context.Context, entry *LogEntry) {
	if err := s.audit.Record(ctx, entry); err != nil {
		ctxlog.FromContext(ctx).Error("failed to write audit entry",
			"entry_type", entry.EntryType,
			"error", err,
		)
	}
}
