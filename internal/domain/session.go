// Package domain defines the core data model for listing intake.
package domain

import (
	"fmt"
	"time"
)

// State is the lifecycle state of an in-flight session.
type State string

const (
	// StateCollecting means the sender is still submitting text and photos.
	StateCollecting State = "collecting"
	// StateExtracting means the debounce window lapsed and extraction is running.
	StateExtracting State = "extracting"
	// StateAwaitingConfirmation means extraction succeeded and the sender
	// has been asked to confirm the draft listing.
	StateAwaitingConfirmation State = "awaiting_confirmation"
)

// transitions is the allowed state graph. Finalization and cancellation are
// not states: they delete the session row, so "no session" and "terminal
// session" are indistinguishable by design.
var transitions = map[State][]State{
	StateCollecting:           {StateExtracting},
	StateExtracting:           {StateAwaitingConfirmation},
	StateAwaitingConfirmation: {StateAwaitingConfirmation},
}

// MediaItem is one staged photo belonging to a session.
type MediaItem struct {
	StorageID string `json:"storage_id"`
	URL       string `json:"url"`
}

// ExtractionResult holds the structured fields derived from a session's
// accumulated text and photos. It is produced once by the extraction engine
// and then owned by the session, which may mutate it (price corrections)
// until finalization.
type ExtractionResult struct {
	Make              string   `json:"make"`
	Model             string   `json:"model"`
	Year              int      `json:"year"`
	Mileage           int      `json:"mileage"`
	Color             string   `json:"color"`
	Price             int64    `json:"price"`
	Valid             bool     `json:"valid"`
	PrimaryMediaIndex int      `json:"primary_media_index"`
	MissingFields     []string `json:"missing_fields"`
}

// Session is the in-flight aggregate of one sender's not-yet-finalized
// submission. At most one active session exists per sender.
type Session struct {
	SenderID      string
	State         State
	TextFragments []string
	MediaItems    []MediaItem
	Extracted     *ExtractionResult
	CreatedAt     time.Time
	LastUpdated   time.Time
}

// NewSession creates a fresh collecting session for a sender.
// Precondition: senderID must be non-empty and the caller must have verified
// that no active session exists for it; the store key is the sender id, so
// writing a second session for the same sender would silently replace the
// first.
func NewSession(senderID string) (*Session, error) {
	if senderID == "" {
		return nil, fmt.Errorf("new session: empty sender id")
	}
	now := time.Now()
	return &Session{
		SenderID:    senderID,
		State:       StateCollecting,
		CreatedAt:   now,
		LastUpdated: now,
	}, nil
}

// Advance moves the session to the given state, enforcing the transition
// graph. Collecting can never jump straight to AwaitingConfirmation.
func (s *Session) Advance(to State) error {
	for _, allowed := range transitions[s.State] {
		if allowed == to {
			s.State = to
			s.LastUpdated = time.Now()
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s", s.State, to)
}

// AppendFragment records one more free-text fragment. Order matters: later
// fragments may supersede earlier intent.
func (s *Session) AppendFragment(text string) {
	s.TextFragments = append(s.TextFragments, text)
	s.LastUpdated = time.Now()
}

// AppendMedia records one more staged photo in submission order.
func (s *Session) AppendMedia(item MediaItem) {
	s.MediaItems = append(s.MediaItems, item)
	s.LastUpdated = time.Now()
}

// Touch refreshes the last-updated timestamp.
func (s *Session) Touch() {
	s.LastUpdated = time.Now()
}
