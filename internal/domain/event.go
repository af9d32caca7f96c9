package domain

// EventKind classifies an inbound chat event.
type EventKind string

const (
	KindText   EventKind = "text"
	KindMedia  EventKind = "media"
	KindChoice EventKind = "choice"
)

// Choice identifies one of the fixed confirmation-prompt buttons.
type Choice string

const (
	ChoiceAffirm  Choice = "affirm"
	ChoiceCorrect Choice = "correct"
	ChoiceCancel  Choice = "cancel"
)

// InboundEvent is one chat event delivered by the transport layer.
// Exactly one of Text, MediaRef, or Choice is meaningful, per Kind.
type InboundEvent struct {
	SenderID string
	Kind     EventKind
	Text     string
	MediaRef string
	Choice   Choice
}
