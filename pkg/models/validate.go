package models

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxMessageTextLength is the longest inbound text kept, in characters.
const MaxMessageTextLength = 10000

const truncatedMarker = "... [truncated]"

// MaxTenantIDLength bounds tenant identifiers.
const MaxTenantIDLength = 128

// ValidChannel reports whether c is a channel the gateway accepts.
func ValidChannel(c ChannelType) bool {
	switch c {
	case ChannelWeb, ChannelWhatsApp, ChannelSlack, ChannelEmail, ChannelTelegram:
		return true
	}
	return false
}

func validParty(t PartyType) bool {
	return t == PartyUser || t == PartyBot
}

// ApplyInboundDefaults fills fields channel adapters commonly omit.
func (m *CanonicalMessage) ApplyInboundDefaults() {
	if m.Direction == "" {
		m.Direction = DirectionInbound
	}
	if m.Content.Type == "" {
		m.Content.Type = "text"
	}
	if m.From.Type == "" {
		m.From.Type = PartyUser
	}
	if m.To.Type == "" {
		m.To.Type = PartyBot
	}
}

// ValidateInbound checks that m is a well-formed inbound text message.
func (m *CanonicalMessage) ValidateInbound() error {
	if err := ValidateTenantID(m.TenantID); err != nil {
		return err
	}
	if m.Direction != DirectionInbound {
		return fmt.Errorf("direction must be %q, got %q", DirectionInbound, m.Direction)
	}
	if !ValidChannel(m.Channel) {
		return fmt.Errorf("invalid channel %q", m.Channel)
	}
	if !validParty(m.From.Type) {
		return fmt.Errorf("invalid from.type %q", m.From.Type)
	}
	if !validParty(m.To.Type) {
		return fmt.Errorf("invalid to.type %q", m.To.Type)
	}
	if m.Content.Type != "text" {
		return fmt.Errorf("unsupported content type %q", m.Content.Type)
	}
	if strings.TrimSpace(m.Content.Text) == "" {
		return errors.New("text content cannot be empty")
	}
	return nil
}

// ValidateTenantID rejects empty, oversized and quote- or comment-bearing ids.
func ValidateTenantID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("tenant_id cannot be empty")
	}
	if len(id) > MaxTenantIDLength {
		return errors.New("tenant_id too long")
	}
	for _, bad := range []string{"'", ";", "--", "/*", "*/"} {
		if strings.Contains(id, bad) {
			return errors.New("tenant_id contains suspicious characters")
		}
	}
	return nil
}

// SanitizeText drops NUL and control characters other than tab, newline and
// carriage return, and caps the result at limit characters.
func SanitizeText(s string, limit int) string {
	if utf8.RuneCountInString(s) > limit {
		n := 0
		for i := range s {
			if n == limit {
				s = s[:i] + truncatedMarker
				break
			}
			n++
		}
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t', r == '\n', r == '\r':
			return r
		case r < 0x20, r == 0x7f:
			return -1
		}
		return r
	}, s)
}
