package automation

import (
	"context"
	"time"
)

// DueFilter narrows the due-job query of the dispatch processor.
type DueFilter struct {
	Channel       Channel
	Now           time.Time
	Limit         int
	AppointmentID string
	JobID         string
	Type          JobType
}

// ConditionalUpdate describes an optimistic, condition-qualified job update.
// The update only applies while the row still has ExpectedStatus; every
// transition out of pending goes through this, so overlapping processor
// invocations cannot double-send.
type ConditionalUpdate struct {
	ID             string
	Status         JobStatus
	Payload        *Payload
	ScheduledFor   *time.Time
	ExpectedStatus JobStatus
}

// QueueStats holds job counts by status for metrics.
type QueueStats struct {
	Pending int64
	Sent    int64
	Failed  int64
}

// JobRepository is the durable job store.
type JobRepository interface {
	// Insert stores a new job and fills ID and timestamps.
	Insert(ctx context.Context, job *Job) error

	// FindPendingDuplicate returns an existing pending job with the same
	// (tenant, appointment-or-null, channel, type), or nil if none exists.
	FindPendingDuplicate(ctx context.Context, tenantID string, appointmentID *string, channel Channel, jobType JobType) (*Job, error)

	// ListDue returns pending jobs with scheduled_for <= filter.Now,
	// ordered by scheduled_for ascending, capped at filter.Limit.
	ListDue(ctx context.Context, filter DueFilter) ([]*Job, error)

	// ConditionalUpdate applies the update iff the row still matches
	// ExpectedStatus. Returns (nil, nil) when the precondition failed,
	// which callers treat as "lost the race", not as an error.
	ConditionalUpdate(ctx context.Context, upd ConditionalUpdate) (*Job, error)

	// GetByID returns a job or ErrJobNotFound.
	GetByID(ctx context.Context, id string) (*Job, error)

	// FindByProviderMessageID matches a provider webhook callback back to
	// the job whose send produced the given message id. Returns nil if no
	// job matches.
	FindByProviderMessageID(ctx context.Context, providerMessageID string) (*Job, error)

	// QueueStats returns job counts by status.
	QueueStats(ctx context.Context) (*QueueStats, error)
}

// Audit entry types.
const (
	EntryQueued             = "queued"
	EntrySkipped            = "skipped"
	EntrySentAuto           = "sent_auto"
	EntrySentAutoDryRun     = "sent_auto_dry_run"
	EntryRetryScheduledAuto = "retry_scheduled_auto"
	EntryFailedAuto         = "failed_auto"
	EntryInboundReply       = "inbound_reply_received"
	EntryAutoReplySent      = "auto_reply_sent"
)

// Audit entry directions.
const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"
	DirectionSystem   = "system"
)

// LogEntry is an append-only audit record mirroring a job-state transition.
// Entries are write-only for engine logic, with one exception: the window
// evaluator reads the most recent inbound-reply entry of an appointment.
type LogEntry struct {
	ID            string
	TenantID      string
	AppointmentID *string
	JobID         string
	Channel       Channel
	EntryType     string
	Direction     string
	Detail        map[string]any
	CreatedAt     time.Time
}

// AuditLog records engine activity.
type AuditLog interface {
	Record(ctx context.Context, entry *LogEntry) error

	// LastInboundReply returns the most recent inbound-reply entry for an
	// appointment, or nil when the customer never replied.
	LastInboundReply(ctx context.Context, tenantID, appointmentID string) (*LogEntry, error)
}

// Client is the appointment's customer as the engine needs it.
type Client struct {
	PublicFirstName   string
	PublicLastName    string
	InternalReference string
	RawName           string
	Phone             string
	AddressLine       string
}

// Appointment is the read model joined with its client.
type Appointment struct {
	ID          string
	TenantID    string
	StartTime   time.Time
	ServiceName string
	HomeVisit   bool
	Client      Client
}

// AppointmentReader loads appointment data for template rendering.
type AppointmentReader interface {
	// GetAppointment returns the appointment with its client or
	// ErrAppointmentNotFound.
	GetAppointment(ctx context.Context, tenantID, appointmentID string) (*Appointment, error)
}

// SendResult is the provider's acknowledgement of a send.
type SendResult struct {
	MessageID   string
	DeliveredAt time.Time
}

// TemplateSend describes a structured template message.
type TemplateSend struct {
	To       string
	Name     string
	Language string
	// BodyParams are positional text parameters substituted into the
	// template body.
	BodyParams []string
}

// TextSend describes a free-text session message, only permitted within an
// open customer-service window.
type TextSend struct {
	To         string
	Body       string
	PreviewURL bool
}

// Sender is the outbound messaging provider boundary.
type Sender interface {
	SendTemplate(ctx context.Context, send TemplateSend) (*SendResult, error)
	SendText(ctx context.Context, send TextSend) (*SendResult, error)
}

// VoucherLinkBuilder composes the voucher link included in auto-replies.
type VoucherLinkBuilder interface {
	BuildLink(tenantID, appointmentID string) string
}
