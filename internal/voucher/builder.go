// Package voucher builds the voucher links included in auto-replies.
package voucher

import (
	"fmt"
	"net/url"
	"strings"
)

// Builder composes voucher links from a configured base URL.
type Builder struct {
	baseURL string
}

// NewBuilder creates a link builder. An empty base URL produces empty links,
// which the reply templates simply omit.
func NewBuilder(baseURL string) *Builder {
	return &Builder{baseURL: strings.TrimRight(baseURL, "/")}
}

// BuildLink returns the voucher link for an appointment.
func (b *Builder) BuildLink(tenantID, appointmentID string) string {
	if b.baseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/vouchers/%s?appointment=%s",
		b.baseURL,
		url.PathEscape(tenantID),
		url.QueryEscape(appointmentID),
	)
}
