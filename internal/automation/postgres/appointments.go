package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/janastudio/agenda-automation/internal/automation"
)

// AppointmentReader implements automation.AppointmentReader over the
// booking application's appointment and client tables.
type AppointmentReader struct {
	db *pgxpool.Pool
}

// NewAppointmentReader creates a new PostgreSQL appointment reader.
func NewAppointmentReader(db *pgxpool.Pool) *AppointmentReader {
	return &AppointmentReader{db: db}
}

// GetAppointment loads the appointment joined with its client, or returns
// automation.ErrAppointmentNotFound.
func (r *AppointmentReader) GetAppointment(ctx context.Context, tenantID, appointmentID string) (*automation.Appointment, error) {
	query := `
		SELECT a.id, a.tenant_id, a.start_time, a.service_name, a.home_visit,
		       COALESCE(c.public_first_name, ''),
		       COALESCE(c.public_last_name, ''),
		       COALESCE(c.internal_reference, ''),
		       COALESCE(c.raw_name, ''),
		       COALESCE(c.phone, ''),
		       COALESCE(c.street, ''),
		       COALESCE(c.street_number, ''),
		       COALESCE(c.neighborhood, ''),
		       COALESCE(c.city, '')
		FROM appointments a
		LEFT JOIN clients c ON c.id = a.client_id
		WHERE a.id = $1 AND a.tenant_id = $2
	`

	var appt automation.Appointment
	var street, number, neighborhood, city string

	err := r.db.QueryRow(ctx, query, appointmentID, tenantID).Scan(
		&appt.ID,
		&appt.TenantID,
		&appt.StartTime,
		&appt.ServiceName,
		&appt.HomeVisit,
		&appt.Client.PublicFirstName,
		&appt.Client.PublicLastName,
		&appt.Client.InternalReference,
		&appt.Client.RawName,
		&appt.Client.Phone,
		&street,
		&number,
		&neighborhood,
		&city,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, automation.ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}

	appt.Client.AddressLine = composeAddress(street, number, neighborhood, city)

	return &appt, nil
}

// composeAddress joins the present address parts into one line.
func composeAddress(street, number, neighborhood, city string) string {
	parts := make([]string, 0, 3)
	if street != "" {
		if number != "" {
			parts = append(parts, street+", "+number)
		} else {
			parts = append(parts, street)
		}
	}
	if neighborhood != "" {
		parts = append(parts, neighborhood)
	}
	if city != "" {
		parts = append(parts, city)
	}
	return strings.Join(parts, " - ")
}
