// Package automation implements the WhatsApp appointment notification
// engine: a durable job queue with a scheduler, a dispatch processor,
// webhook event processing and a retry policy.
package automation

import "time"

// Channel is the messaging transport of a job.
type Channel string

// ChannelWhatsApp is the only channel the engine currently processes.
const ChannelWhatsApp Channel = "whatsapp"

// JobType classifies the lifecycle notification a job delivers.
type JobType string

// Lifecycle job types.
const (
	JobTypeCreated  JobType = "appointment_created"
	JobTypeReminder JobType = "appointment_reminder"
	JobTypeCanceled JobType = "appointment_canceled"
)

// Valid reports whether the type is one of the supported lifecycle kinds.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeCreated, JobTypeReminder, JobTypeCanceled:
		return true
	}
	return false
}

// JobStatus is the engine's own send-attempt status. It reflects whether the
// engine successfully called the provider API, not whether the platform
// confirmed delivery; platform confirmations live in AutomationState.
type JobStatus string

// Job statuses. Sent and failed are terminal.
const (
	JobStatusPending JobStatus = "pending"
	JobStatusSent    JobStatus = "sent"
	JobStatusFailed  JobStatus = "failed"
)

// Scheduling sources, recorded for audit purposes.
const (
	SourceAdminCreate   = "admin_create"
	SourcePublicBooking = "public_booking"
	SourceAdminCancel   = "admin_cancel"
)

// Delivery modes recorded on a processed job.
const (
	DeliveryModeLive   = "live"
	DeliveryModeDryRun = "dry_run"
)

// EventRingCapacity bounds the per-job status and inbound event lists.
const EventRingCapacity = 20

// StatusEvent is one provider delivery-status callback recorded on a job.
type StatusEvent struct {
	MessageID  string    `json:"message_id"`
	Status     string    `json:"status"`
	Timestamp  string    `json:"timestamp"`
	ReceivedAt time.Time `json:"received_at"`
}

// InboundEvent is one inbound interactive reply recorded on a job.
type InboundEvent struct {
	MessageID  string    `json:"message_id"`
	From       string    `json:"from"`
	Selection  string    `json:"selection"`
	Action     string    `json:"action"`
	ReceivedAt time.Time `json:"received_at"`
}

// WindowCheck is the persisted outcome of a customer-service-window check.
type WindowCheck struct {
	CheckedAt     time.Time  `json:"checked_at"`
	LastInboundAt *time.Time `json:"last_inbound_at,omitempty"`
	Reason        string     `json:"reason"`
}

// AutomationState is the engine-owned zone of a job payload. The two event
// lists are bounded rings keeping the most recent EventRingCapacity entries.
type AutomationState struct {
	QueuedAt        *time.Time `json:"queued_at,omitempty"`
	Source          string     `json:"source,omitempty"`
	ModeAtQueueTime string     `json:"mode_at_queue_time,omitempty"`

	RetryCount     int        `json:"retry_count"`
	RetryNextAt    *time.Time `json:"retry_next_at,omitempty"`
	RetryLastError string     `json:"retry_last_error,omitempty"`

	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	DeliveryMode string     `json:"delivery_mode,omitempty"`
	Preview      string     `json:"preview,omitempty"`

	ProviderMessageID      string `json:"provider_message_id,omitempty"`
	ProviderDeliveryStatus string `json:"provider_delivery_status,omitempty"`
	ProviderDeliveryError  string `json:"provider_delivery_error,omitempty"`

	StatusEvents  []StatusEvent  `json:"meta_status_events,omitempty"`
	InboundEvents []InboundEvent `json:"meta_inbound_events,omitempty"`

	CustomerWaID  string       `json:"customer_wa_id,omitempty"`
	ServiceWindow *WindowCheck `json:"customer_service_window,omitempty"`
}

// HasStatusEvent reports whether the exact (id, status, timestamp) triple is
// already recorded. Provider webhooks may redeliver events.
func (s *AutomationState) HasStatusEvent(messageID, status, timestamp string) bool {
	for _, e := range s.StatusEvents {
		if e.MessageID == messageID && e.Status == status && e.Timestamp == timestamp {
			return true
		}
	}
	return false
}

// AppendStatusEvent records a status event, dropping the oldest entry once
// the ring is full. Returns false for duplicates.
func (s *AutomationState) AppendStatusEvent(e StatusEvent) bool {
	if s.HasStatusEvent(e.MessageID, e.Status, e.Timestamp) {
		return false
	}
	s.StatusEvents = append(s.StatusEvents, e)
	if n := len(s.StatusEvents); n > EventRingCapacity {
		s.StatusEvents = s.StatusEvents[n-EventRingCapacity:]
	}
	return true
}

// HasInboundEvent reports whether an inbound message id is already recorded.
func (s *AutomationState) HasInboundEvent(messageID string) bool {
	for _, e := range s.InboundEvents {
		if e.MessageID == messageID {
			return true
		}
	}
	return false
}

// AppendInboundEvent records an inbound reply, dropping the oldest entry
// once the ring is full. Returns false for duplicates.
func (s *AutomationState) AppendInboundEvent(e InboundEvent) bool {
	if s.HasInboundEvent(e.MessageID) {
		return false
	}
	s.InboundEvents = append(s.InboundEvents, e)
	if n := len(s.InboundEvents); n > EventRingCapacity {
		s.InboundEvents = s.InboundEvents[n-EventRingCapacity:]
	}
	return true
}

// Payload is the JSON document stored with a job. Data carries
// caller-supplied business fields; Automation is owned by the engine.
type Payload struct {
	Data       map[string]any  `json:"data,omitempty"`
	Automation AutomationState `json:"automation"`
}

// Job is the central durable entity: a unit of scheduled notification work.
// Jobs are never deleted; the audit log mirrors every state transition.
type Job struct {
	ID            string
	TenantID      string
	AppointmentID *string
	Channel       Channel
	Type          JobType
	ScheduledFor  time.Time
	Status        JobStatus
	Payload       Payload
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Due reports whether the job is eligible for processing at now.
func (j *Job) Due(now time.Time) bool {
	return j.Status == JobStatusPending && !j.ScheduledFor.After(now)
}
