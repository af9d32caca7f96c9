package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/lotline/internal/domain"
	"github.com/ashureev/lotline/internal/media"
	"github.com/ashureev/lotline/internal/store"
)

// Scanner polls for sessions whose debounce marker has lapsed and hands them
// to the orchestrator. The store has no expiry notification, so polling is
// the trigger mechanism. Overlapping runs (from this or another instance)
// are safe: idempotency is delegated to OnExpiry's Collecting-state guard,
// not to mutual exclusion here.
type Scanner struct {
	repo     store.Repository
	media    media.Store
	orch     *Orchestrator
	interval time.Duration
}

// NewScanner creates an expiry scanner.
func NewScanner(repo store.Repository, mediaStore media.Store, orch *Orchestrator, interval time.Duration) *Scanner {
	return &Scanner{
		repo:     repo,
		media:    mediaStore,
		orch:     orch,
		interval: interval,
	}
}

// Start runs the scan loop in a background goroutine until ctx is done.
func (s *Scanner) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		slog.Info("expiry scanner started", "interval", s.interval)

		for {
			select {
			case <-ticker.C:
				s.sweep(ctx)
			case <-ctx.Done():
				slog.Info("expiry scanner shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// sweep runs one scan pass: trigger lapsed sessions, then purge rows that
// hit the store TTL ceiling along with their temp media.
func (s *Scanner) sweep(ctx context.Context) {
	sessions, err := s.repo.ListActiveSessions(ctx)
	if err != nil {
		slog.Error("scanner failed to list active sessions", "error", err)
		return
	}

	for _, sess := range sessions {
		if sess.State != domain.StateCollecting || len(sess.MediaItems) == 0 {
			continue
		}

		armed, err := s.repo.DebounceArmed(ctx, sess.SenderID)
		if err != nil {
			slog.Error("scanner failed to check debounce marker", "sender_id", sess.SenderID, "error", err)
			continue
		}
		if armed {
			continue
		}

		if err := s.orch.OnExpiry(ctx, sess.SenderID); err != nil {
			slog.Error("scanner expiry handling failed", "sender_id", sess.SenderID, "error", err)
		}
	}

	purged, err := s.repo.PurgeExpired(ctx)
	if err != nil {
		slog.Error("scanner failed to purge expired rows", "error", err)
		return
	}
	for _, senderID := range purged {
		if err := s.media.DeleteFor(ctx, senderID); err != nil {
			slog.Warn("scanner failed to sweep temp media for expired session", "sender_id", senderID, "error", err)
		}
	}
	if len(purged) > 0 {
		slog.Info("scanner purged expired sessions", "count", len(purged))
	}
}
