package automation

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memJobRepository implements JobRepository in memory with the same
// conditional-update semantics as the postgres store.
type memJobRepository struct {
	mu   sync.Mutex
	jobs map[string]*Job
	seq  int

	insertErr  error
	listDueErr error
	updateErr  error
}

func newMemJobRepository() *memJobRepository {
	return &memJobRepository{jobs: make(map[string]*Job)}
}

func (m *memJobRepository) Insert(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	m.seq++
	job.ID = fmt.Sprintf("job-%d", m.seq)
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	clone := *job
	m.jobs[job.ID] = &clone
	return nil
}

func (m *memJobRepository) FindPendingDuplicate(_ context.Context, tenantID string, appointmentID *string, channel Channel, jobType JobType) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.Status != JobStatusPending || j.TenantID != tenantID || j.Channel != channel || j.Type != jobType {
			continue
		}
		if (j.AppointmentID == nil) != (appointmentID == nil) {
			continue
		}
		if j.AppointmentID != nil && *j.AppointmentID != *appointmentID {
			continue
		}
		clone := *j
		return &clone, nil
	}
	return nil, nil
}

func (m *memJobRepository) ListDue(_ context.Context, filter DueFilter) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listDueErr != nil {
		return nil, m.listDueErr
	}
	var due []*Job
	for _, j := range m.jobs {
		if j.Status != JobStatusPending || j.ScheduledFor.After(filter.Now) {
			continue
		}
		if filter.JobID != "" && j.ID != filter.JobID {
			continue
		}
		if filter.AppointmentID != "" && (j.AppointmentID == nil || *j.AppointmentID != filter.AppointmentID) {
			continue
		}
		if filter.Type != "" && j.Type != filter.Type {
			continue
		}
		clone := *j
		due = append(due, &clone)
	}
	if filter.Limit > 0 && len(due) > filter.Limit {
		due = due[:filter.Limit]
	}
	return due, nil
}

func (m *memJobRepository) ConditionalUpdate(_ context.Context, upd ConditionalUpdate) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	j, ok := m.jobs[upd.ID]
	if !ok || j.Status != upd.ExpectedStatus {
		return nil, nil
	}
	j.Status = upd.Status
	if upd.Payload != nil {
		j.Payload = *upd.Payload
	}
	if upd.ScheduledFor != nil {
		j.ScheduledFor = *upd.ScheduledFor
	}
	j.UpdatedAt = time.Now()
	clone := *j
	return &clone, nil
}

func (m *memJobRepository) GetByID(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	clone := *j
	return &clone, nil
}

func (m *memJobRepository) FindByProviderMessageID(_ context.Context, providerMessageID string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.Payload.Automation.ProviderMessageID == providerMessageID {
			clone := *j
			return &clone, nil
		}
	}
	return nil, nil
}

func (m *memJobRepository) QueueStats(_ context.Context) (*QueueStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &QueueStats{}
	for _, j := range m.jobs {
		switch j.Status {
		case JobStatusPending:
			stats.Pending++
		case JobStatusSent:
			stats.Sent++
		case JobStatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// get returns the stored job without copying, for assertions.
func (m *memJobRepository) get(id string) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id]
}

// put stores a job under a fixed id.
func (m *memJobRepository) put(job *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
}

// memAuditLog implements AuditLog in memory.
type memAuditLog struct {
	mu      sync.Mutex
	entries []*LogEntry

	lastInbound    *LogEntry
	lastInboundErr error
}

func newMemAuditLog() *memAuditLog {
	return &memAuditLog{}
}

func (m *memAuditLog) Record(_ context.Context, entry *LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *entry
	m.entries = append(m.entries, &clone)
	return nil
}

func (m *memAuditLog) LastInboundReply(_ context.Context, _, _ string) (*LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastInboundErr != nil {
		return nil, m.lastInboundErr
	}
	return m.lastInbound, nil
}

// byType returns all recorded entries of the given type.
func (m *memAuditLog) byType(entryType string) []*LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*LogEntry
	for _, e := range m.entries {
		if e.EntryType == entryType {
			out = append(out, e)
		}
	}
	return out
}

// fakeSender implements Sender and records calls.
type fakeSender struct {
	mu            sync.Mutex
	templateSends []TemplateSend
	textSends     []TextSend

	templateErr error
	textErr     error
	nextID      string
}

func newFakeSender() *fakeSender {
	return &fakeSender{nextID: "wamid.test"}
}

func (f *fakeSender) SendTemplate(_ context.Context, send TemplateSend) (*SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.templateErr != nil {
		return nil, f.templateErr
	}
	f.templateSends = append(f.templateSends, send)
	return &SendResult{MessageID: f.nextID, DeliveredAt: time.Now()}, nil
}

func (f *fakeSender) SendText(_ context.Context, send TextSend) (*SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.textErr != nil {
		return nil, f.textErr
	}
	f.textSends = append(f.textSends, send)
	return &SendResult{MessageID: f.nextID, DeliveredAt: time.Now()}, nil
}

func (f *fakeSender) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.templateSends), len(f.textSends)
}

// fakeContextSource implements ContextSource with a canned context.
type fakeContextSource struct {
	tc   *TemplateContext
	appt *Appointment
	err  error
}

func (f *fakeContextSource) Build(_ context.Context, _, _ string) (*TemplateContext, *Appointment, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.tc, f.appt, nil
}

// memAppointmentReader implements AppointmentReader in memory.
type memAppointmentReader struct {
	appointments map[string]*Appointment
	err          error
}

func (m *memAppointmentReader) GetAppointment(_ context.Context, _, appointmentID string) (*Appointment, error) {
	if m.err != nil {
		return nil, m.err
	}
	appt, ok := m.appointments[appointmentID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return appt, nil
}

// fakeVoucher implements VoucherLinkBuilder.
type fakeVoucher struct{}

func (fakeVoucher) BuildLink(tenantID, appointmentID string) string {
	return "https://vouchers.test/" + tenantID + "/" + appointmentID
}

func testContext() *TemplateContext {
	return &TemplateContext{
		Name:      "Maria Silva",
		Service:   "Pilates",
		DateLabel: "segunda-feira, 10 de março",
		TimeLabel: "15:00",
		Location:  "no estúdio",
	}
}
