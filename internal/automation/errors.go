package automation

import "errors"

// Repository errors.
var (
	ErrJobNotFound         = errors.New("notification job not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)
