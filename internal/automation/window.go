package automation

import (
	"context"
	"fmt"
	"time"
)

// ServiceWindowDuration is the rolling window after a customer's last
// inbound message during which free-text replies are permitted by platform
// policy. Template messages are exempt.
const ServiceWindowDuration = 24 * time.Hour

// Window reasons.
const (
	WindowReasonOpen      = "open"
	WindowReasonExpired   = "expired"
	WindowReasonNoInbound = "no_inbound"
)

// WindowResult is the outcome of a customer-service-window evaluation.
type WindowResult struct {
	IsOpen        bool
	Reason        string
	CheckedAt     time.Time
	LastInboundAt *time.Time
	CustomerWaID  string
}

// Check converts the result into its persisted form.
func (r *WindowResult) Check() *WindowCheck {
	return &WindowCheck{
		CheckedAt:     r.CheckedAt,
		LastInboundAt: r.LastInboundAt,
		Reason:        r.Reason,
	}
}

// WindowEvaluator determines whether a free-text message may be sent to an
// appointment's customer.
type WindowEvaluator struct {
	audit AuditLog
}

// NewWindowEvaluator creates a window evaluator over the audit log.
func NewWindowEvaluator(audit AuditLog) *WindowEvaluator {
	return &WindowEvaluator{audit: audit}
}

// Evaluate looks up the most recent inbound-reply entry for the appointment
// and reports whether the 24h window is still open at now.
func (e *WindowEvaluator) Evaluate(ctx context.Context, tenantID, appointmentID string, now time.Time) (*WindowResult, error) {
	result := &WindowResult{CheckedAt: now, Reason: WindowReasonNoInbound}

	entry, err := e.audit.LastInboundReply(ctx, tenantID, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("last inbound reply: %w", err)
	}
	if entry == nil {
		return result, nil
	}

	from, _ := entry.Detail["from"].(string)
	lastInboundAt, ok := inboundTimestamp(entry)
	if from == "" || !ok {
		// Record exists but lacks a usable sender or timestamp.
		return result, nil
	}

	result.LastInboundAt = &lastInboundAt
	result.CustomerWaID = from

	if now.Sub(lastInboundAt) > ServiceWindowDuration {
		result.Reason = WindowReasonExpired
		return result, nil
	}

	result.IsOpen = true
	result.Reason = WindowReasonOpen
	return result, nil
}

// inboundTimestamp prefers the provider timestamp recorded in the entry
// detail, falling back to the entry's own creation time.
func inboundTimestamp(entry *LogEntry) (time.Time, bool) {
	if raw, ok := entry.Detail["received_at"].(string); ok && raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return ts, true
		}
	}
	if !entry.CreatedAt.IsZero() {
		return entry.CreatedAt, true
	}
	return time.Time{}, false
}
