// Package pipeline drives a session from debounce expiry through
// confirmation to finalization or teardown.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/lotline/internal/domain"
	"github.com/ashureev/lotline/internal/extract"
	"github.com/ashureev/lotline/internal/identity"
	"github.com/ashureev/lotline/internal/media"
	"github.com/ashureev/lotline/internal/store"
	"github.com/google/uuid"
)

// Notifier sends fire-and-forget messages back to a sender. Send failures
// are logged by callers, never retried.
type Notifier interface {
	SendText(ctx context.Context, to, body string) error
	SendConfirmation(ctx context.Context, to, summary string) error
}

// One short user-visible message per outcome category. The sender never
// sees raw error detail.
const (
	msgInsufficient  = "We need at least %d photos of the vehicle. Send the full set and we'll pick it up from there."
	msgNotRecognized = "We couldn't recognize a vehicle for sale in what you sent, so this submission was discarded."
	msgUnregistered  = "This number isn't registered with a dealer yet. Register first, then tap Confirm again."
	msgFinalized     = "Your listing is live. Reference: %s"
	msgCancelled     = "Submission cancelled and photos discarded."
	msgFailure       = "Something went wrong on our side. Please start over."
	msgReprompt      = "That doesn't look like a price. Send a plain number like 5m, 450k or 1,200,000."
)

// Orchestrator executes the pipeline steps for one sender at a time. It
// holds no per-sender state of its own; every step re-reads the session.
type Orchestrator struct {
	repo      store.Repository
	media     media.Store
	extractor extract.Engine
	resolver  identity.Resolver
	notifier  Notifier
	minMedia  int
	maxMedia  int
}

// NewOrchestrator wires the pipeline with its collaborators.
func NewOrchestrator(repo store.Repository, mediaStore media.Store, extractor extract.Engine, resolver identity.Resolver, notifier Notifier, minMedia, maxMedia int) *Orchestrator {
	return &Orchestrator{
		repo:      repo,
		media:     mediaStore,
		extractor: extractor,
		resolver:  resolver,
		notifier:  notifier,
		minMedia:  minMedia,
		maxMedia:  maxMedia,
	}
}

// OnExpiry runs validation and extraction for a sender whose debounce window
// has lapsed. Safe to call more than once: any state other than Collecting
// makes it a no-op, which is what keeps overlapping scanner runs harmless.
func (o *Orchestrator) OnExpiry(ctx context.Context, senderID string) error {
	if err := o.runExpiry(ctx, senderID); err != nil {
		slog.Error("expiry pipeline failed, tearing session down", "sender_id", senderID, "error", err)
		o.teardown(ctx, senderID)
		o.send(ctx, senderID, msgFailure)
		return err
	}
	return nil
}

func (o *Orchestrator) runExpiry(ctx context.Context, senderID string) error {
	sess, err := o.repo.GetSession(ctx, senderID)
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if sess == nil || sess.State != domain.StateCollecting {
		return nil
	}

	if err := o.repo.DisarmDebounce(ctx, senderID); err != nil {
		slog.Warn("failed to disarm debounce marker", "sender_id", senderID, "error", err)
	}

	if len(sess.MediaItems) < o.minMedia {
		o.deleteMediaFor(ctx, senderID)
		if err := o.repo.DeleteSession(ctx, senderID); err != nil {
			return fmt.Errorf("delete undersized session: %w", err)
		}
		o.send(ctx, senderID, fmt.Sprintf(msgInsufficient, o.minMedia))
		return nil
	}

	discarded := 0
	if len(sess.MediaItems) > o.maxMedia {
		// Deterministic prefix: keep the earliest-submitted photos.
		excess := sess.MediaItems[o.maxMedia:]
		sess.MediaItems = sess.MediaItems[:o.maxMedia]
		discarded = len(excess)
		if err := o.media.Delete(ctx, excess); err != nil {
			slog.Warn("failed to delete excess media", "sender_id", senderID, "count", discarded, "error", err)
		}
	}

	// Claiming the Extracting state before calling out is what makes a
	// second OnExpiry for the same window a no-op.
	if err := sess.Advance(domain.StateExtracting); err != nil {
		return fmt.Errorf("advance to extracting: %w", err)
	}
	if err := o.repo.PutSession(ctx, sess); err != nil {
		return fmt.Errorf("store extracting session: %w", err)
	}

	result, err := o.extractor.Extract(ctx, sess.TextFragments, sess.MediaItems)
	if err != nil {
		slog.Warn("extraction failed, treating submission as invalid", "sender_id", senderID, "error", err)
		result = &domain.ExtractionResult{Valid: false}
	}

	if !result.Valid {
		o.deleteMediaFor(ctx, senderID)
		if err := o.repo.DeleteSession(ctx, senderID); err != nil {
			return fmt.Errorf("delete unrecognized session: %w", err)
		}
		o.send(ctx, senderID, msgNotRecognized)
		return nil
	}

	sess.Extracted = result
	if err := sess.Advance(domain.StateAwaitingConfirmation); err != nil {
		return fmt.Errorf("advance to awaiting confirmation: %w", err)
	}
	if err := o.repo.PutSession(ctx, sess); err != nil {
		return fmt.Errorf("store confirmed session: %w", err)
	}

	o.sendConfirmation(ctx, senderID, summarize(sess, discarded))
	return nil
}

// OnAffirm finalizes a confirmed session: resolves the dealer, promotes the
// media to permanent storage, and persists the listing.
func (o *Orchestrator) OnAffirm(ctx context.Context, senderID string) error {
	if err := o.runAffirm(ctx, senderID); err != nil {
		slog.Error("finalization failed, tearing session down", "sender_id", senderID, "error", err)
		o.teardown(ctx, senderID)
		o.send(ctx, senderID, msgFailure)
		return err
	}
	return nil
}

func (o *Orchestrator) runAffirm(ctx context.Context, senderID string) error {
	sess, err := o.repo.GetSession(ctx, senderID)
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if sess == nil || sess.State != domain.StateAwaitingConfirmation {
		return nil
	}

	dealer, err := o.resolver.Resolve(ctx, senderID)
	if err != nil {
		return fmt.Errorf("resolve dealer: %w", err)
	}
	if dealer == nil {
		// The session is preserved so the work survives a registration gap;
		// the store TTL ceiling still bounds its lifetime.
		o.send(ctx, senderID, msgUnregistered)
		return nil
	}

	listingID := uuid.NewString()
	moved, err := o.media.Promote(ctx, senderID, dealer.ID, listingID, sess.MediaItems)
	if err != nil {
		return fmt.Errorf("promote media: %w", err)
	}

	listing := &domain.Listing{
		ID:                listingID,
		DealerID:          dealer.ID,
		Make:              sess.Extracted.Make,
		Model:             sess.Extracted.Model,
		Year:              sess.Extracted.Year,
		Mileage:           sess.Extracted.Mileage,
		Color:             sess.Extracted.Color,
		Price:             sess.Extracted.Price,
		PrimaryMediaIndex: sess.Extracted.PrimaryMediaIndex,
		Media:             moved,
		CreatedAt:         time.Now(),
	}

	ref, err := o.repo.InsertListing(ctx, listing)
	if err != nil {
		return fmt.Errorf("persist listing: %w", err)
	}
	slog.Info("listing finalized", "sender_id", senderID, "listing_id", ref, "dealer_id", dealer.ID)

	if err := o.repo.DeleteSession(ctx, senderID); err != nil {
		return fmt.Errorf("delete finalized session: %w", err)
	}
	if err := o.repo.DisarmDebounce(ctx, senderID); err != nil {
		slog.Warn("failed to disarm debounce marker", "sender_id", senderID, "error", err)
	}

	o.send(ctx, senderID, fmt.Sprintf(msgFinalized, ref))
	return nil
}

// OnCorrect applies a price override to a session awaiting confirmation and
// re-sends the confirmation prompt.
func (o *Orchestrator) OnCorrect(ctx context.Context, senderID, rawInput string) error {
	sess, err := o.repo.GetSession(ctx, senderID)
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if sess == nil || sess.State != domain.StateAwaitingConfirmation {
		return nil
	}

	amount, ok := ParseAmount(rawInput)
	if !ok {
		o.send(ctx, senderID, msgReprompt)
		return nil
	}

	sess.Extracted.Price = amount
	sess.Extracted.MissingFields = without(sess.Extracted.MissingFields, "price")
	if err := sess.Advance(domain.StateAwaitingConfirmation); err != nil {
		return fmt.Errorf("refresh awaiting confirmation: %w", err)
	}
	if err := o.repo.PutSession(ctx, sess); err != nil {
		return fmt.Errorf("store corrected session: %w", err)
	}

	o.sendConfirmation(ctx, senderID, summarize(sess, 0))
	return nil
}

// OnCancel tears a session down at the sender's request. Valid from any
// state: tearing down is always safe.
func (o *Orchestrator) OnCancel(ctx context.Context, senderID string) error {
	sess, err := o.repo.GetSession(ctx, senderID)
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}
	if sess == nil {
		return nil
	}

	o.teardown(ctx, senderID)
	o.send(ctx, senderID, msgCancelled)
	return nil
}

// teardown removes everything associated with a sender. Media deletion is
// best-effort: a storage hiccup must not block the user-facing flow.
func (o *Orchestrator) teardown(ctx context.Context, senderID string) {
	o.deleteMediaFor(ctx, senderID)
	if err := o.repo.DeleteSession(ctx, senderID); err != nil {
		slog.Warn("failed to delete session during teardown", "sender_id", senderID, "error", err)
	}
	if err := o.repo.DisarmDebounce(ctx, senderID); err != nil {
		slog.Warn("failed to disarm debounce marker during teardown", "sender_id", senderID, "error", err)
	}
}

func (o *Orchestrator) deleteMediaFor(ctx context.Context, senderID string) {
	if err := o.media.DeleteFor(ctx, senderID); err != nil {
		slog.Warn("failed to delete staged media", "sender_id", senderID, "error", err)
	}
}

func (o *Orchestrator) send(ctx context.Context, to, body string) {
	if err := o.notifier.SendText(ctx, to, body); err != nil {
		slog.Warn("failed to send message", "sender_id", to, "error", err)
	}
}

func (o *Orchestrator) sendConfirmation(ctx context.Context, to, summary string) {
	if err := o.notifier.SendConfirmation(ctx, to, summary); err != nil {
		slog.Warn("failed to send confirmation prompt", "sender_id", to, "error", err)
	}
}

// summarize renders the draft listing for the confirmation prompt.
func summarize(sess *domain.Session, discarded int) string {
	e := sess.Extracted
	var b strings.Builder

	fmt.Fprintf(&b, "%d %s %s\n", e.Year, e.Make, e.Model)
	fmt.Fprintf(&b, "Price: %s\n", formatAmount(e.Price))
	if e.Mileage > 0 {
		fmt.Fprintf(&b, "Mileage: %d km\n", e.Mileage)
	}
	if e.Color != "" {
		fmt.Fprintf(&b, "Color: %s\n", e.Color)
	}
	fmt.Fprintf(&b, "Photos: %d", len(sess.MediaItems))
	if discarded > 0 {
		fmt.Fprintf(&b, " (%d over the limit were discarded)", discarded)
	}
	if len(e.MissingFields) > 0 {
		fmt.Fprintf(&b, "\nStill missing: %s", strings.Join(e.MissingFields, ", "))
	}
	return b.String()
}

func formatAmount(v int64) string {
	s := fmt.Sprintf("%d", v)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func without(fields []string, name string) []string {
	out := fields[:0]
	for _, f := range fields {
		if f != name {
			out = append(out, f)
		}
	}
	return out
}
