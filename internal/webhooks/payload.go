// Package webhooks provides the HTTP surface for provider webhook
// callbacks: handshake verification, signature checking and payload
// decoding before handing events to the automation engine.
package webhooks

import "github.com/janastudio/agenda-automation/internal/automation"

// Payload is the provider webhook envelope.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry is one webhook entry.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one value change within an entry.
type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

// Value carries either delivery statuses or inbound messages.
type Value struct {
	MessagingProduct string        `json:"messaging_product"`
	Statuses         []StatusEvent `json:"statuses"`
	Messages         []Message     `json:"messages"`
}

// StatusEvent is one delivery-status callback.
type StatusEvent struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Timestamp string          `json:"timestamp"`
	Errors    []ProviderError `json:"errors"`
}

// ProviderError is one error item attached to a failed status.
type ProviderError struct {
	Code    int    `json:"code"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Message is one inbound message. Button taps arrive either as interactive
// button replies or in the legacy button shape.
type Message struct {
	ID          string       `json:"id"`
	From        string       `json:"from"`
	Type        string       `json:"type"`
	Timestamp   string       `json:"timestamp"`
	Context     *Context     `json:"context"`
	Interactive *Interactive `json:"interactive"`
	Button      *Button      `json:"button"`
}

// Context references the message being replied to.
type Context struct {
	ID string `json:"id"`
}

// Interactive carries an interactive button reply.
type Interactive struct {
	Type        string       `json:"type"`
	ButtonReply *ButtonReply `json:"button_reply"`
}

// ButtonReply is the tapped button of an interactive message.
type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Button is the legacy button shape.
type Button struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

// StatusInputs converts the value's statuses into engine inputs.
func (v Value) StatusInputs() []automation.StatusEventInput {
	inputs := make([]automation.StatusEventInput, 0, len(v.Statuses))
	for _, s := range v.Statuses {
		errs := make([]automation.ProviderError, 0, len(s.Errors))
		for _, e := range s.Errors {
			errs = append(errs, automation.ProviderError{Code: e.Code, Title: e.Title, Message: e.Message})
		}
		inputs = append(inputs, automation.StatusEventInput{
			MessageID: s.ID,
			Status:    s.Status,
			Timestamp: s.Timestamp,
			Errors:    errs,
		})
	}
	return inputs
}

// InboundInputs converts the value's messages into engine inputs.
func (v Value) InboundInputs() []automation.InboundMessageInput {
	inputs := make([]automation.InboundMessageInput, 0, len(v.Messages))
	for _, m := range v.Messages {
		input := automation.InboundMessageInput{
			MessageID: m.ID,
			From:      m.From,
			Type:      m.Type,
			Timestamp: m.Timestamp,
		}
		if m.Context != nil {
			input.ContextID = m.Context.ID
		}
		if m.Interactive != nil && m.Interactive.ButtonReply != nil {
			input.ButtonID = m.Interactive.ButtonReply.ID
			input.ButtonTitle = m.Interactive.ButtonReply.Title
		} else if m.Button != nil {
			input.ButtonID = m.Button.Payload
			input.ButtonTitle = m.Button.Text
		}
		inputs = append(inputs, input)
	}
	return inputs
}
