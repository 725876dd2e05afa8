package models

import "time"

// Trigger types understood by the enrollment layer. Trigger delivery is
// an external concern; the engine consumes TriggerEvents regardless of
// their origin.
const (
	TriggerFormSubmitted     = "form.submitted"
	TriggerTagApplied        = "contact.tag.applied"
	TriggerTagRemoved        = "contact.tag.removed"
	TriggerContactCreated    = "contact.created"
	TriggerContactUpdated    = "contact.updated"
	TriggerAppointmentBooked = "appointment.booked"
	TriggerOpportunityStage  = "opportunity.stage.changed"
	TriggerEmailOpened       = "email.opened"
	TriggerEmailClicked      = "email.clicked"
	TriggerSMSReplied        = "sms.replied"
	TriggerCallCompleted     = "call.completed"
	TriggerPaymentReceived   = "payment.received"
	TriggerWebhookReceived   = "webhook.received"
	TriggerManualEnrollment  = "manual.enrollment"
)

// TriggerEvent is an inbound event that may enroll a contact into a
// workflow. Payload is the raw provider data and becomes the
// execution's trigger data.
type TriggerEvent struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"       validate:"required"`
	ContactID  string          `json:"contact_id" validate:"required"`
	Contact    ContactSnapshot `json:"contact"`
	Payload    map[string]any  `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}
