package domain

import "time"

// Listing is the durable record produced when a session is finalized.
type Listing struct {
	ID                string
	DealerID          string
	Make              string
	Model             string
	Year              int
	Mileage           int
	Color             string
	Price             int64
	PrimaryMediaIndex int
	Media             []MediaItem
	CreatedAt         time.Time
}
