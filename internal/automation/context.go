package automation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// defaultClientLabel is used when no usable name exists on the client.
const defaultClientLabel = "cliente"

// businessTimeZone is the fixed timezone all customer-facing date/time
// labels are rendered in.
const businessTimeZone = "America/Sao_Paulo"

var weekdaysPtBR = map[time.Weekday]string{
	time.Sunday:    "domingo",
	time.Monday:    "segunda-feira",
	time.Tuesday:   "terça-feira",
	time.Wednesday: "quarta-feira",
	time.Thursday:  "quinta-feira",
	time.Friday:    "sexta-feira",
	time.Saturday:  "sábado",
}

var monthsPtBR = map[time.Month]string{
	time.January:   "janeiro",
	time.February:  "fevereiro",
	time.March:     "março",
	time.April:     "abril",
	time.May:       "maio",
	time.June:      "junho",
	time.July:      "julho",
	time.August:    "agosto",
	time.September: "setembro",
	time.October:   "outubro",
	time.November:  "novembro",
	time.December:  "dezembro",
}

// TemplateContext is the variable set rendered into templated messages.
type TemplateContext struct {
	Name      string
	Service   string
	DateLabel string
	TimeLabel string
	Location  string
}

// Params returns the positional body parameters in template order.
func (c *TemplateContext) Params() []string {
	return []string{c.Name, c.Service, c.DateLabel, c.TimeLabel, c.Location}
}

// ContextSource builds the template context for an appointment.
type ContextSource interface {
	Build(ctx context.Context, tenantID, appointmentID string) (*TemplateContext, *Appointment, error)
}

// ContextBuilder loads appointment and client data and renders the variable
// set needed for templated messages.
type ContextBuilder struct {
	appointments AppointmentReader
	studioLine   string
	loc          *time.Location
}

// NewContextBuilder creates a context builder. studioLine is the configured
// studio address fallback; it may be empty.
func NewContextBuilder(appointments AppointmentReader, studioLine string) *ContextBuilder {
	loc, err := time.LoadLocation(businessTimeZone)
	if err != nil {
		loc = time.FixedZone("-03", -3*60*60)
	}
	return &ContextBuilder{
		appointments: appointments,
		studioLine:   studioLine,
		loc:          loc,
	}
}

// Build loads the appointment and resolves name, service, date, time and
// location labels. A missing appointment is a structural problem the retry
// policy must not paper over, so it surfaces as a non-retryable error;
// transient lookup failures stay retryable.
func (b *ContextBuilder) Build(ctx context.Context, tenantID, appointmentID string) (*TemplateContext, *Appointment, error) {
	appt, err := b.appointments.GetAppointment(ctx, tenantID, appointmentID)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, nil, NewNonRetryableError(fmt.Errorf("appointment %s: %w", appointmentID, err))
		}
		return nil, nil, NewRetryableError(fmt.Errorf("load appointment %s: %w", appointmentID, err))
	}

	start := appt.StartTime.In(b.loc)

	tc := &TemplateContext{
		Name:      displayName(appt.Client),
		Service:   appt.ServiceName,
		DateLabel: fmt.Sprintf("%s, %d de %s", weekdaysPtBR[start.Weekday()], start.Day(), monthsPtBR[start.Month()]),
		TimeLabel: start.Format("15:04"),
		Location:  b.location(appt),
	}
	if tc.Service == "" {
		tc.Service = "atendimento"
	}

	return tc, appt, nil
}

// displayName falls back through the name-profile fields.
func displayName(c Client) string {
	if c.PublicFirstName != "" {
		if c.PublicLastName != "" {
			return c.PublicFirstName + " " + c.PublicLastName
		}
		return c.PublicFirstName
	}
	if c.InternalReference != "" {
		return c.InternalReference
	}
	if c.RawName != "" {
		return c.RawName
	}
	return defaultClientLabel
}

func (b *ContextBuilder) location(appt *Appointment) string {
	if appt.HomeVisit {
		if appt.Client.AddressLine != "" {
			return appt.Client.AddressLine
		}
		return "endereço a confirmar"
	}
	if b.studioLine != "" {
		return b.studioLine
	}
	return "no estúdio"
}
