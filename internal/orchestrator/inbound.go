package orchestrator

import (
	"github.com/haasonsaas/nexushub/internal/faults"
	"github.com/haasonsaas/nexushub/internal/identity"
	"github.com/haasonsaas/nexushub/internal/prompt"
	"github.com/haasonsaas/nexushub/pkg/models"
)

// Admission is the outcome of accepting an inbound message.
type Admission struct {
	Exec identity.ExecutionContext
	// Injections lists the prompt injection categories seen in the text.
	Injections []string
}

// AcceptInbound checks msg against the authenticated tenant, fills defaults,
// validates it and sanitizes its text in place. The tenant check runs first
// so a spoofed tenant is always reported as AuthzMismatch. Both the HTTP
// ingress and ProcessInboundMessage call it before anything is written.
func AcceptInbound(authenticatedTenantID string, msg *models.CanonicalMessage) (Admission, error) {
	ec, err := identity.Build(authenticatedTenantID, msg)
	if err != nil {
		return Admission{}, err
	}
	msg.ApplyInboundDefaults()
	if err := msg.ValidateInbound(); err != nil {
		return Admission{}, faults.Wrap(faults.KindInvalidMessage, err, "invalid inbound message")
	}
	injections := prompt.DetectInjection(msg.Content.Text)
	msg.Content.Text = models.SanitizeText(msg.Content.Text, models.MaxMessageTextLength)
	return Admission{Exec: ec, Injections: injections}, nil
}

// RejectInbound converts an AcceptInbound error into the error a caller may
// see, with a fresh correlation id.
func RejectInbound(err error) *PublicError {
	return newPublicError(err, newErrorID())
}
