package domain

import "time"

// Dealer is a registered selling entity. Senders resolve to a dealer by
// phone number during finalization, not before.
type Dealer struct {
	ID        string
	Phone     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}
