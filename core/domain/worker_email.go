package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Email is the slice of a mailbox message the engine needs.
type Email struct {
	ID         string    `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	From       string    `json:"from"`
	To         []string  `json:"to,omitempty"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
	// IsFromUser marks a message the user authored themselves.
	IsFromUser bool `json:"is_from_user"`
}

// Content is what keyword coverage is measured against.
func (e *Email) Content() string {
	if e.Subject == "" {
		return e.Body
	}
	return e.Subject + "\n" + e.Body
}

// SenderDomain returns the "@domain" part of the sender address, lower-cased.
func (e *Email) SenderDomain() string {
	return SenderDomain(e.From)
}

// SenderDomain extracts "@domain" from an address, tolerating "Name <addr>" forms.
func SenderDomain(addr string) string {
	addr = NormalizeAddress(addr)
	if i := strings.LastIndexByte(addr, '@'); i >= 0 {
		return addr[i:]
	}
	return ""
}

// NormalizeAddress strips a display name and lower-cases the address.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if i := strings.LastIndexByte(addr, '<'); i >= 0 {
		if j := strings.IndexByte(addr[i:], '>'); j > 0 {
			addr = addr[i+1 : i+j]
		}
	}
	return strings.ToLower(strings.TrimSpace(addr))
}

// EmailPair is a received email and the reply the user sent to it, if any.
type EmailPair struct {
	Received Email  `json:"received"`
	Response *Email `json:"response,omitempty"`
}

// HasResponse reports whether the pair carries a sent reply.
func (p *EmailPair) HasResponse() bool {
	return p.Response != nil && strings.TrimSpace(p.Response.Body) != ""
}
