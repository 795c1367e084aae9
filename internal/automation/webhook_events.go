package automation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/janastudio/agenda-automation/internal/pkg/ctxlog"
)

// ProviderError is one error item attached to a failed delivery status.
type ProviderError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// StatusEventInput is one delivery-status event from the provider webhook.
type StatusEventInput struct {
	MessageID string
	Status    string
	Timestamp string
	Errors    []ProviderError
}

// StatusSummary aggregates one batch of status events.
type StatusSummary struct {
	Processed  int `json:"processed"`
	Duplicates int `json:"duplicates"`
	Unmatched  int `json:"unmatched"`
}

// InboundMessageInput is one inbound message from the provider webhook,
// already reduced to the fields the engine needs.
type InboundMessageInput struct {
	MessageID   string
	From        string
	Type        string
	Timestamp   string
	ContextID   string
	ButtonID    string
	ButtonTitle string
}

// InboundSummary aggregates one batch of inbound messages.
type InboundSummary struct {
	Replied   int `json:"replied"`
	Ignored   int `json:"ignored"`
	Unmatched int `json:"unmatched"`
}

// WebhookProcessor applies asynchronous provider callbacks to jobs: delivery
// statuses and inbound interactive replies with auto-replies.
type WebhookProcessor struct {
	jobs     JobRepository
	audit    AuditLog
	sender   Sender
	renderer *Renderer
	voucher  VoucherLinkBuilder

	now func() time.Time
}

// NewWebhookProcessor creates a webhook processor.
func NewWebhookProcessor(jobs JobRepository, audit AuditLog, sender Sender, renderer *Renderer, voucher VoucherLinkBuilder) *WebhookProcessor {
	return &WebhookProcessor{
		jobs:     jobs,
		audit:    audit,
		sender:   sender,
		renderer: renderer,
		voucher:  voucher,
		now:      time.Now,
	}
}

// HandleStatusEvents matches delivery-status events back to jobs by provider
// message id and records them. Only the nested automation metadata changes;
// the job's top-level status reflects the engine's own send attempt and is
// never touched here. Per-event errors are logged and skipped.
func (w *WebhookProcessor) HandleStatusEvents(ctx context.Context, events []StatusEventInput) StatusSummary {
	logger := ctxlog.FromContext(ctx)
	var summary StatusSummary

	for _, event := range events {
		status := strings.ToLower(strings.TrimSpace(event.Status))
		if event.MessageID == "" || status == "" {
			summary.Unmatched++
			recordWebhookEvent("status", "unmatched")
			continue
		}

		job, err := w.jobs.FindByProviderMessageID(ctx, event.MessageID)
		if err != nil {
			logger.Error("status event job lookup failed", "message_id", event.MessageID, "error", err)
			continue
		}
		if job == nil {
			summary.Unmatched++
			recordWebhookEvent("status", "unmatched")
			continue
		}

		payload := job.Payload
		state := &payload.Automation

		// Provider webhooks may redeliver; the exact triple is recorded once.
		if state.HasStatusEvent(event.MessageID, status, event.Timestamp) {
			summary.Duplicates++
			recordWebhookEvent("status", "duplicate")
			continue
		}

		state.AppendStatusEvent(StatusEvent{
			MessageID:  event.MessageID,
			Status:     status,
			Timestamp:  event.Timestamp,
			ReceivedAt: w.now(),
		})
		state.ProviderDeliveryStatus = status
		if status == "failed" {
			state.ProviderDeliveryError = summarizeProviderErrors(event.Errors)
		}

		updated, err := w.jobs.ConditionalUpdate(ctx, ConditionalUpdate{
			ID:             job.ID,
			Status:         job.Status,
			Payload:        &payload,
			ExpectedStatus: job.Status,
		})
		if err != nil {
			logger.Error("status event persist failed", "job_id", job.ID, "error", err)
			continue
		}
		if updated == nil {
			logger.Warn("status event lost update race, skipping", "job_id", job.ID)
			continue
		}

		detail := map[string]any{
			"message_id": event.MessageID,
			"status":     status,
			"timestamp":  event.Timestamp,
		}
		if state.ProviderDeliveryError != "" && status == "failed" {
			detail["error"] = state.ProviderDeliveryError
		}
		w.logEntry(ctx, job, "webhook_status_"+status, DirectionInbound, detail)

		summary.Processed++
		recordWebhookEvent("status", "processed")
	}

	return summary
}

// HandleInboundMessages processes inbound interactive replies: map the
// button selection to an action, match the reply context back to the
// outbound message's job, dedupe, auto-reply, and record the event.
func (w *WebhookProcessor) HandleInboundMessages(ctx context.Context, messages []InboundMessageInput) InboundSummary {
	logger := ctxlog.FromContext(ctx)
	var summary InboundSummary

	for _, msg := range messages {
		selection := msg.ButtonTitle
		if selection == "" {
			selection = msg.ButtonID
		}

		action, ok := MapButtonSelection(selection)
		if !ok {
			summary.Ignored++
			recordWebhookEvent("inbound", "ignored")
			continue
		}

		if msg.ContextID == "" {
			summary.Unmatched++
			recordWebhookEvent("inbound", "unmatched")
			continue
		}

		job, err := w.jobs.FindByProviderMessageID(ctx, msg.ContextID)
		if err != nil {
			logger.Error("inbound reply job lookup failed", "context_id", msg.ContextID, "error", err)
			summary.Ignored++
			continue
		}
		if job == nil {
			summary.Unmatched++
			recordWebhookEvent("inbound", "unmatched")
			continue
		}

		payload := job.Payload
		state := &payload.Automation

		if state.HasInboundEvent(msg.MessageID) {
			summary.Ignored++
			recordWebhookEvent("inbound", "duplicate")
			continue
		}

		var voucherLink string
		if w.voucher != nil && job.AppointmentID != nil {
			voucherLink = w.voucher.BuildLink(job.TenantID, *job.AppointmentID)
		}

		reply, err := w.renderer.AutoReply(action, voucherLink)
		if err != nil {
			logger.Error("auto-reply render failed", "action", action, "error", err)
			summary.Ignored++
			continue
		}

		// The event is only recorded after a successful reply send, so a
		// provider redelivery retries the reply instead of dropping it.
		res, err := w.sender.SendText(ctx, TextSend{To: msg.From, Body: reply, PreviewURL: true})
		if err != nil {
			logger.Error("auto-reply send failed", "job_id", job.ID, "to", msg.From, "error", err)
			summary.Ignored++
			recordWebhookEvent("inbound", "reply_failed")
			continue
		}

		receivedAt := inboundReceivedAt(msg.Timestamp, w.now())
		state.AppendInboundEvent(InboundEvent{
			MessageID:  msg.MessageID,
			From:       msg.From,
			Selection:  selection,
			Action:     string(action),
			ReceivedAt: receivedAt,
		})
		state.CustomerWaID = msg.From

		updated, err := w.jobs.ConditionalUpdate(ctx, ConditionalUpdate{
			ID:             job.ID,
			Status:         job.Status,
			Payload:        &payload,
			ExpectedStatus: job.Status,
		})
		if err != nil {
			logger.Error("inbound event persist failed", "job_id", job.ID, "error", err)
		} else if updated == nil {
			logger.Warn("inbound event lost update race", "job_id", job.ID)
		}

		w.logEntry(ctx, job, EntryInboundReply, DirectionInbound, map[string]any{
			"message_id":  msg.MessageID,
			"from":        msg.From,
			"selection":   selection,
			"action":      string(action),
			"received_at": receivedAt.Format(time.RFC3339),
		})
		w.logEntry(ctx, job, EntryAutoReplySent, DirectionOutbound, map[string]any{
			"action":              string(action),
			"to":                  msg.From,
			"provider_message_id": res.MessageID,
		})

		summary.Replied++
		recordWebhookEvent("inbound", "replied")
	}

	return summary
}

func (w *WebhookProcessor) logEntry(ctx context.Context, job *Job, entryType, direction string, detail map[string]any) {
	entry := &LogEntry{
		TenantID:      job.TenantID,
		AppointmentID: job.AppointmentID,
		JobID:         job.ID,
		Channel:       job.Channel,
		EntryType:     entryType,
		Direction:     direction,
		Detail:        detail,
	}
	if err := w.audit.Record(ctx, entry); err != nil {
		ctxlog.FromContext(ctx).Error("failed to write audit entry",
			"job_id", job.ID,
			"entry_type", entryType,
			"error", err,
		)
	}
}

// summarizeProviderErrors joins the provider's error list into one
// human-readable line.
func summarizeProviderErrors(errs []ProviderError) string {
	if len(errs) == 0 {
		return "delivery failed"
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		msg := e.Message
		if msg == "" {
			msg = e.Title
		}
		if msg == "" {
			msg = "unknown error"
		}
		parts = append(parts, fmt.Sprintf("%d: %s", e.Code, msg))
	}
	return strings.Join(parts, "; ")
}

// inboundReceivedAt parses the provider's unix-seconds timestamp, falling
// back to the processing time.
func inboundReceivedAt(timestamp string, fallback time.Time) time.Time {
	if timestamp == "" {
		return fallback
	}
	secs, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fallback
	}
	return time.Unix(secs, 0).UTC()
}
