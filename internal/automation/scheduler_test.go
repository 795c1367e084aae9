package automation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janastudio/agenda-automation/internal/config"
)

func schedulerConfig() config.AutomationConfig {
	return config.AutomationConfig{
		Mode:               config.ModeEnabled,
		Provider:           config.ProviderMetaCloud,
		QueueEnabled:       true,
		DispatchOnQueue:    false,
		BatchLimit:         20,
		MaxRetries:         3,
		RetryBaseDelaySecs: 120,
	}
}

type schedulerFixture struct {
	repo      *memJobRepository
	audit     *memAuditLog
	scheduler *Scheduler
	now       time.Time
}

func newSchedulerFixture(cfg config.AutomationConfig) *schedulerFixture {
	fix := &schedulerFixture{
		repo:  newMemJobRepository(),
		audit: newMemAuditLog(),
		now:   time.Date(2025, 3, 8, 10, 0, 0, 0, time.UTC),
	}
	fix.scheduler = NewScheduler(cfg, fix.repo, fix.audit, NewWindowEvaluator(fix.audit), nil)
	fix.scheduler.now = func() time.Time { return fix.now }
	return fix
}

func TestScheduleLifecycleQueuesPair(t *testing.T) {
	fix := newSchedulerFixture(schedulerConfig())

	results, err := fix.scheduler.ScheduleLifecycle(context.Background(), LifecycleInput{
		TenantID:      "t1",
		AppointmentID: "a1",
		StartTimeISO:  "2025-03-10T15:00:00Z",
		Source:        SourcePublicBooking,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, JobTypeCreated, results[0].Type)
	assert.True(t, results[0].Queued)
	assert.Equal(t, JobTypeReminder, results[1].Type)
	assert.True(t, results[1].Queued)

	created := fix.repo.get(results[0].JobID)
	require.NotNil(t, created)
	assert.True(t, created.ScheduledFor.Equal(fix.now), "created notification is due immediately")
	assert.Equal(t, SourcePublicBooking, created.Payload.Automation.Source)
	assert.Equal(t, config.ModeEnabled, created.Payload.Automation.ModeAtQueueTime)
	require.NotNil(t, created.Payload.Automation.QueuedAt)

	reminder := fix.repo.get(results[1].JobID)
	require.NotNil(t, reminder)
	wantReminder := time.Date(2025, 3, 9, 15, 0, 0, 0, time.UTC)
	assert.True(t, reminder.ScheduledFor.Equal(wantReminder), "reminder fires 24h before start")
	assert.Equal(t, "24h", reminder.Payload.Data["reminder_window"])

	assert.Len(t, fix.audit.byType(EntryQueued), 2)
}

func TestScheduleLifecycleInvalidStartTime(t *testing.T) {
	fix := newSchedulerFixture(schedulerConfig())

	_, err := fix.scheduler.ScheduleLifecycle(context.Background(), LifecycleInput{
		TenantID:      "t1",
		AppointmentID: "a1",
		StartTimeISO:  "10/03/2025 15:00",
		Source:        SourceAdminCreate,
	})
	assert.Error(t, err)
}

func TestScheduleLifecycleDuplicateSuppression(t *testing.T) {
	fix := newSchedulerFixture(schedulerConfig())
	in := LifecycleInput{
		TenantID:      "t1",
		AppointmentID: "a1",
		StartTimeISO:  "2025-03-10T15:00:00Z",
		Source:        SourceAdminCreate,
	}

	first, err := fix.scheduler.ScheduleLifecycle(context.Background(), in)
	require.NoError(t, err)

	second, err := fix.scheduler.ScheduleLifecycle(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, second, 2)

	for i, result := range second {
		assert.False(t, result.Queued)
		assert.True(t, result.Duplicate)
		assert.Equal(t, first[i].JobID, result.JobID, "duplicate reports the existing job id")
	}

	stats, err := fix.repo.QueueStats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Pending)
}

func TestScheduleLifecycleQueueDisabled(t *testing.T) {
	cfg := schedulerConfig()
	cfg.QueueEnabled = false
	fix := newSchedulerFixture(cfg)

	results, err := fix.scheduler.ScheduleLifecycle(context.Background(), LifecycleInput{
		TenantID:      "t1",
		AppointmentID: "a1",
		StartTimeISO:  "2025-03-10T15:00:00Z",
		Source:        SourceAdminCreate,
	})
	require.NoError(t, err)

	for _, result := range results {
		assert.False(t, result.Queued)
		assert.Equal(t, "queue_disabled", result.SkipReason)
	}

	stats, _ := fix.repo.QueueStats(context.Background())
	assert.Zero(t, stats.Pending)
}

func TestScheduleLifecycleTenantNotAllowed(t *testing.T) {
	cfg := schedulerConfig()
	cfg.AllowedTenantIDs = []string{"pilot-tenant"}
	fix := newSchedulerFixture(cfg)

	results, err := fix.scheduler.ScheduleLifecycle(context.Background(), LifecycleInput{
		TenantID:      "t1",
		AppointmentID: "a1",
		StartTimeISO:  "2025-03-10T15:00:00Z",
		Source:        SourceAdminCreate,
	})
	require.NoError(t, err)

	for _, result := range results {
		assert.False(t, result.Queued)
		assert.Equal(t, SkipTenantNotAllowed, result.SkipReason)
	}
}

func TestScheduleCanceledNotifyDisabled(t *testing.T) {
	fix := newSchedulerFixture(schedulerConfig())

	result, err := fix.scheduler.ScheduleCanceled(context.Background(), CanceledInput{
		TenantID:      "t1",
		AppointmentID: "a1",
		Source:        SourceAdminCancel,
		NotifyClient:  false,
	})
	require.NoError(t, err)

	assert.False(t, result.Queued)
	assert.Equal(t, "notify_client_disabled", result.SkipReason)
	assert.Empty(t, fix.audit.byType(EntrySkipped), "an explicit opt-out is not an anomaly worth logging")
}

func TestScheduleCanceledWindowGating(t *testing.T) {
	tests := []struct {
		name       string
		lastIn     *LogEntry
		wantReason string
	}{
		{name: "no inbound ever", lastIn: nil, wantReason: SkipWindowNoInbound},
		{
			name:       "window expired",
			lastIn:     inboundEntry("5511999990000", time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)),
			wantReason: SkipWindowExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fix := newSchedulerFixture(schedulerConfig())
			fix.audit.lastInbound = tt.lastIn

			result, err := fix.scheduler.ScheduleCanceled(context.Background(), CanceledInput{
				TenantID:      "t1",
				AppointmentID: "a1",
				Source:        SourceAdminCancel,
				NotifyClient:  true,
			})
			require.NoError(t, err)

			assert.False(t, result.Queued)
			assert.Equal(t, tt.wantReason, result.SkipReason)

			skips := fix.audit.byType(EntrySkipped)
			require.Len(t, skips, 1)
			assert.Equal(t, tt.wantReason, skips[0].Detail["reason"])
		})
	}
}

func TestScheduleCanceledQueuesInsideWindow(t *testing.T) {
	fix := newSchedulerFixture(schedulerConfig())
	fix.audit.lastInbound = inboundEntry("5511988887777", fix.now.Add(-3*time.Hour))

	result, err := fix.scheduler.ScheduleCanceled(context.Background(), CanceledInput{
		TenantID:      "t1",
		AppointmentID: "a1",
		Source:        SourceAdminCancel,
		NotifyClient:  true,
	})
	require.NoError(t, err)

	assert.True(t, result.Queued)
	require.NotEmpty(t, result.JobID)

	job := fix.repo.get(result.JobID)
	require.NotNil(t, job)
	assert.Equal(t, JobTypeCanceled, job.Type)
	assert.Equal(t, "5511988887777", job.Payload.Automation.CustomerWaID)
	require.NotNil(t, job.Payload.Automation.ServiceWindow)
	assert.Equal(t, WindowReasonOpen, job.Payload.Automation.ServiceWindow.Reason)
}

func TestEnqueueDispatchOnQueue(t *testing.T) {
	cfg := schedulerConfig()
	cfg.DispatchOnQueue = true

	repo := newMemJobRepository()
	audit := newMemAuditLog()
	sender := newFakeSender()
	cfg.CreatedTemplate = config.TemplateConfig{Name: "agendamento_confirmado", Language: "pt_BR"}
	cfg.ReminderTemplate = config.TemplateConfig{Name: "lembrete_24h", Language: "pt_BR"}

	renderer, err := NewRenderer()
	require.NoError(t, err)

	contexts := &fakeContextSource{
		tc:   testContext(),
		appt: &Appointment{ID: "a1", TenantID: "t1", Client: Client{Phone: "5511999990000"}},
	}

	now := time.Date(2025, 3, 8, 10, 0, 0, 0, time.UTC)
	processor := NewProcessor(cfg, repo, audit, sender, contexts, renderer, NewWindowEvaluator(audit))
	processor.now = func() time.Time { return now }

	scheduler := NewScheduler(cfg, repo, audit, NewWindowEvaluator(audit), processor)
	scheduler.now = func() time.Time { return now }

	results, err := scheduler.ScheduleLifecycle(context.Background(), LifecycleInput{
		TenantID:      "t1",
		AppointmentID: "a1",
		StartTimeISO:  "2025-03-10T15:00:00Z",
		Source:        SourceAdminCreate,
	})
	require.NoError(t, err)

	// The created job is due now and dispatched inline; the reminder stays
	// queued for its own due time.
	created := repo.get(results[0].JobID)
	assert.Equal(t, JobStatusSent, created.Status)

	reminder := repo.get(results[1].JobID)
	assert.Equal(t, JobStatusPending, reminder.Status)

	templates, _ := sender.calls()
	assert.Equal(t, 1, templates)
}
