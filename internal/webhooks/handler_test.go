package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/janastudio/agenda-automation/internal/automation"
)

const (
	testAppSecret   = "app-secret"
	testVerifyToken = "verify-me"
)

// recordingSink captures the events handed to the engine.
type recordingSink struct {
	statuses []automation.StatusEventInput
	inbound  []automation.InboundMessageInput
}

func (s *recordingSink) HandleStatusEvents(_ context.Context, events []automation.StatusEventInput) automation.StatusSummary {
	s.statuses = append(s.statuses, events...)
	return automation.StatusSummary{Processed: len(events)}
}

func (s *recordingSink) HandleInboundMessages(_ context.Context, messages []automation.InboundMessageInput) automation.InboundSummary {
	s.inbound = append(s.inbound, messages...)
	return automation.InboundSummary{Replied: len(messages)}
}

func newTestRouter(sink EventSink) *chi.Mux {
	r := chi.NewRouter()
	NewHandler(sink, testAppSecret, testVerifyToken).RegisterRoutes(r)
	return r
}

func TestVerifyHandshake(t *testing.T) {
	router := newTestRouter(&recordingSink{})

	req := httptest.NewRequest(http.MethodGet,
		"/whatsapp?hub.mode=subscribe&hub.verify_token="+testVerifyToken+"&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())
}

func TestVerifyHandshakeRejected(t *testing.T) {
	router := newTestRouter(&recordingSink{})

	tests := []struct {
		name string
		url  string
	}{
		{name: "wrong token", url: "/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1"},
		{name: "wrong mode", url: "/whatsapp?hub.mode=unsubscribe&hub.verify_token=" + testVerifyToken},
		{name: "no params", url: "/whatsapp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	}
}

func TestVerifyHandshakeNoTokenConfigured(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(&recordingSink{}, testAppSecret, "").RegisterRoutes(r)

	req := httptest.NewRequest(http.MethodGet,
		"/whatsapp?hub.mode=subscribe&hub.verify_token=&hub.challenge=1", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code, "an empty configured token never verifies")
}

func signedPost(t *testing.T, router http.Handler, payload any) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/whatsapp", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hub-Signature-256", Sign(testAppSecret, body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestReceiveRejectsBadSignature(t *testing.T) {
	sink := &recordingSink{}
	router := newTestRouter(sink)

	body := []byte(`{"object":"whatsapp_business_account","entry":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/whatsapp", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", Sign("wrong-secret", body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, sink.statuses)
	assert.Empty(t, sink.inbound)
}

func TestReceiveStatusEvents(t *testing.T) {
	sink := &recordingSink{}
	router := newTestRouter(sink)

	rec := signedPost(t, router, Payload{
		Object: "whatsapp_business_account",
		Entry: []Entry{{
			ID: "entry-1",
			Changes: []Change{{
				Field: "messages",
				Value: Value{
					MessagingProduct: "whatsapp",
					Statuses: []StatusEvent{
						{ID: "wamid.1", Status: "delivered", Timestamp: "1741600000"},
						{ID: "wamid.2", Status: "failed", Timestamp: "1741600001", Errors: []ProviderError{{Code: 131026, Title: "Message undeliverable"}}},
					},
				},
			}},
		}},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sink.statuses, 2)
	assert.Equal(t, "wamid.1", sink.statuses[0].MessageID)
	require.Len(t, sink.statuses[1].Errors, 1)
	assert.Equal(t, 131026, sink.statuses[1].Errors[0].Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestReceiveInboundButtonReply(t *testing.T) {
	sink := &recordingSink{}
	router := newTestRouter(sink)

	rec := signedPost(t, router, Payload{
		Object: "whatsapp_business_account",
		Entry: []Entry{{
			Changes: []Change{{
				Value: Value{
					Messages: []Message{{
						ID:        "wamid.in",
						From:      "5511988887777",
						Type:      "interactive",
						Timestamp: "1741608000",
						Context:   &Context{ID: "wamid.out"},
						Interactive: &Interactive{
							Type:        "button_reply",
							ButtonReply: &ButtonReply{ID: "btn_confirm", Title: "Confirmar"},
						},
					}},
				},
			}},
		}},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sink.inbound, 1)
	msg := sink.inbound[0]
	assert.Equal(t, "wamid.out", msg.ContextID)
	assert.Equal(t, "btn_confirm", msg.ButtonID)
	assert.Equal(t, "Confirmar", msg.ButtonTitle)
}

func TestReceiveLegacyButtonShape(t *testing.T) {
	sink := &recordingSink{}
	router := newTestRouter(sink)

	rec := signedPost(t, router, Payload{
		Entry: []Entry{{
			Changes: []Change{{
				Value: Value{
					Messages: []Message{{
						ID:      "wamid.in",
						From:    "5511988887777",
						Type:    "button",
						Context: &Context{ID: "wamid.out"},
						Button:  &Button{Text: "Reagendar", Payload: "btn_reschedule"},
					}},
				},
			}},
		}},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sink.inbound, 1)
	assert.Equal(t, "btn_reschedule", sink.inbound[0].ButtonID)
	assert.Equal(t, "Reagendar", sink.inbound[0].ButtonTitle)
}

func TestReceiveMalformedButSignedBody(t *testing.T) {
	sink := &recordingSink{}
	router := newTestRouter(sink)

	body := []byte(`this is not json`)
	req := httptest.NewRequest(http.MethodPost, "/whatsapp", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", Sign(testAppSecret, body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// Acknowledged to stop redelivery, but nothing reaches the engine.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, sink.statuses)
	assert.Empty(t, sink.inbound)
}
