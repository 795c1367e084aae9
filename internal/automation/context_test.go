package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextBuilderBuild(t *testing.T) {
	// 2025-03-10 18:30 UTC is 15:30 in São Paulo.
	appt := &Appointment{
		ID:          "a1",
		TenantID:    "t1",
		StartTime:   time.Date(2025, 3, 10, 18, 30, 0, 0, time.UTC),
		ServiceName: "Pilates",
		Client:      Client{PublicFirstName: "Maria", PublicLastName: "Silva"},
	}
	reader := &memAppointmentReader{appointments: map[string]*Appointment{"a1": appt}}
	builder := NewContextBuilder(reader, "Rua das Flores, 120")

	tc, got, err := builder.Build(context.Background(), "t1", "a1")
	require.NoError(t, err)
	assert.Same(t, appt, got)

	assert.Equal(t, "Maria Silva", tc.Name)
	assert.Equal(t, "Pilates", tc.Service)
	assert.Equal(t, "segunda-feira, 10 de março", tc.DateLabel)
	assert.Equal(t, "15:30", tc.TimeLabel)
	assert.Equal(t, "Rua das Flores, 120", tc.Location)
	assert.Equal(t, []string{"Maria Silva", "Pilates", "segunda-feira, 10 de março", "15:30", "Rua das Flores, 120"}, tc.Params())
}

func TestContextBuilderNotFoundIsNonRetryable(t *testing.T) {
	reader := &memAppointmentReader{appointments: map[string]*Appointment{}}
	builder := NewContextBuilder(reader, "")

	_, _, err := builder.Build(context.Background(), "t1", "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	assert.False(t, IsRetryable(err))
}

func TestContextBuilderLookupErrorIsRetryable(t *testing.T) {
	reader := &memAppointmentReader{err: errors.New("connection reset")}
	builder := NewContextBuilder(reader, "")

	_, _, err := builder.Build(context.Background(), "t1", "a1")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestDisplayNameFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		client Client
		want   string
	}{
		{name: "full public name", client: Client{PublicFirstName: "Maria", PublicLastName: "Silva"}, want: "Maria Silva"},
		{name: "first name only", client: Client{PublicFirstName: "Maria"}, want: "Maria"},
		{name: "internal reference", client: Client{InternalReference: "Maria S. (indicação)"}, want: "Maria S. (indicação)"},
		{name: "raw name", client: Client{RawName: "maria silva"}, want: "maria silva"},
		{name: "nothing usable", client: Client{}, want: "cliente"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, displayName(tt.client))
		})
	}
}

func TestLocationResolution(t *testing.T) {
	builder := NewContextBuilder(nil, "Rua das Flores, 120")

	home := &Appointment{HomeVisit: true, Client: Client{AddressLine: "Av. Paulista, 1000, Bela Vista, São Paulo"}}
	assert.Equal(t, "Av. Paulista, 1000, Bela Vista, São Paulo", builder.location(home))

	homeNoAddress := &Appointment{HomeVisit: true}
	assert.Equal(t, "endereço a confirmar", builder.location(homeNoAddress))

	studio := &Appointment{}
	assert.Equal(t, "Rua das Flores, 120", builder.location(studio))

	noStudio := NewContextBuilder(nil, "")
	assert.Equal(t, "no estúdio", noStudio.location(studio))
}

func TestContextBuilderEmptyService(t *testing.T) {
	appt := &Appointment{
		ID:        "a1",
		StartTime: time.Date(2025, 3, 10, 18, 30, 0, 0, time.UTC),
	}
	reader := &memAppointmentReader{appointments: map[string]*Appointment{"a1": appt}}
	builder := NewContextBuilder(reader, "")

	tc, _, err := builder.Build(context.Background(), "t1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "atendimento", tc.Service)
}
