package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/janastudio/agenda-automation/internal/automation"
	"github.com/janastudio/agenda-automation/internal/pkg/ctxlog"
	"github.com/janastudio/agenda-automation/internal/pkg/httputil"
)

// maxBodySize bounds webhook request bodies.
const maxBodySize = 1 << 20

// EventSink is the engine side consuming decoded webhook events.
type EventSink interface {
	HandleStatusEvents(ctx context.Context, events []automation.StatusEventInput) automation.StatusSummary
	HandleInboundMessages(ctx context.Context, messages []automation.InboundMessageInput) automation.InboundSummary
}

// Handler handles the provider webhook endpoints.
type Handler struct {
	sink        EventSink
	appSecret   string
	verifyToken string
}

// NewHandler creates a webhook handler.
func NewHandler(sink EventSink, appSecret, verifyToken string) *Handler {
	return &Handler{
		sink:        sink,
		appSecret:   appSecret,
		verifyToken: verifyToken,
	}
}

// RegisterRoutes registers the webhook routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/whatsapp", h.Verify)
	r.Post("/whatsapp", h.Receive)
}

// Verify handles the GET handshake: the provider sends mode, token and a
// challenge to echo back.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if q.Get("hub.mode") == "subscribe" && h.verifyToken != "" && q.Get("hub.verify_token") == h.verifyToken {
		httputil.Text(w, http.StatusOK, q.Get("hub.challenge"))
		return
	}

	httputil.Text(w, http.StatusForbidden, "verification failed")
}

// Receive handles signed webhook POSTs. Once the signature checks out the
// response is always 200, regardless of per-event outcomes, to keep the
// provider from redelivering.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	logger := ctxlog.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		logger.Error("failed to read webhook body", "error", err)
		httputil.Error(w, http.StatusBadRequest, "invalid body")
		return
	}

	if !VerifySignature(h.appSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		logger.Warn("webhook signature verification failed", "remote_addr", r.RemoteAddr)
		httputil.Error(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		// Signed but malformed; acknowledge to avoid a redelivery storm.
		logger.Error("failed to decode webhook payload", "error", err)
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	var statuses automation.StatusSummary
	var inbound automation.InboundSummary

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if events := change.Value.StatusInputs(); len(events) > 0 {
				s := h.sink.HandleStatusEvents(r.Context(), events)
				statuses.Processed += s.Processed
				statuses.Duplicates += s.Duplicates
				statuses.Unmatched += s.Unmatched
			}
			if messages := change.Value.InboundInputs(); len(messages) > 0 {
				s := h.sink.HandleInboundMessages(r.Context(), messages)
				inbound.Replied += s.Replied
				inbound.Ignored += s.Ignored
				inbound.Unmatched += s.Unmatched
			}
		}
	}

	logger.Info("webhook processed",
		"statuses_processed", statuses.Processed,
		"statuses_duplicates", statuses.Duplicates,
		"statuses_unmatched", statuses.Unmatched,
		"inbound_replied", inbound.Replied,
		"inbound_ignored", inbound.Ignored,
		"inbound_unmatched", inbound.Unmatched,
	)

	httputil.JSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"statuses": statuses,
		"messages": inbound,
	})
}
