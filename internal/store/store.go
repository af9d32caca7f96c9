// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/lotline/internal/domain"
)

// Repository defines the interface for persisting sessions, debounce
// markers, dealers, and finalized listings.
//
// Session operations are atomic at the single-key level; no cross-key
// transactions are assumed. The debounce marker is an independent resource
// that merely shares the sender id as its key: it can expire while the
// session row still exists, and vice versa.
type Repository interface {
	// GetSession retrieves the active session for a sender.
	// Returns (nil, nil) when no unexpired session exists.
	GetSession(ctx context.Context, senderID string) (*domain.Session, error)

	// PutSession upserts a session and refreshes its row TTL to the fixed
	// ceiling configured at store construction, independent of debounce.
	PutSession(ctx context.Context, session *domain.Session) error

	// DeleteSession removes a session. Deleting a missing session is not
	// an error.
	DeleteSession(ctx context.Context, senderID string) error

	// ListActiveSessions returns all unexpired sessions.
	ListActiveSessions(ctx context.Context) ([]*domain.Session, error)

	// ArmDebounce sets or refreshes the sender's debounce marker with the
	// given inactivity window.
	ArmDebounce(ctx context.Context, senderID string, window time.Duration) error

	// DebounceArmed reports whether an unexpired marker exists for the sender.
	DebounceArmed(ctx context.Context, senderID string) (bool, error)

	// DisarmDebounce removes the sender's marker if present.
	DisarmDebounce(ctx context.Context, senderID string) error

	// GetDealerByPhone retrieves a dealer by phone number.
	// Returns (nil, nil) when the phone is not registered.
	GetDealerByPhone(ctx context.Context, phone string) (*domain.Dealer, error)

	// UpsertDealer creates or updates a dealer record.
	UpsertDealer(ctx context.Context, dealer *domain.Dealer) error

	// InsertListing durably records a finalized listing and returns its id.
	InsertListing(ctx context.Context, listing *domain.Listing) (string, error)

	// PurgeExpired removes expired session rows and debounce markers and
	// returns the sender ids whose sessions were purged, so callers can
	// sweep their temporary media.
	PurgeExpired(ctx context.Context) ([]string, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
