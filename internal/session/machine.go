// Package session implements the inbound-event state machine: it decides
// whether an event joins the sender's current session, starts a new one, or
// belongs to the confirmation flow.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/lotline/internal/domain"
	"github.com/ashureev/lotline/internal/media"
	"github.com/ashureev/lotline/internal/pipeline"
	"github.com/ashureev/lotline/internal/store"
)

// Orchestrator is the confirmation-flow entry point the machine hands
// choice events to.
type Orchestrator interface {
	OnAffirm(ctx context.Context, senderID string) error
	OnCorrect(ctx context.Context, senderID, rawInput string) error
	OnCancel(ctx context.Context, senderID string) error
}

// Notifier is the outbound side the machine needs for the one prompt it
// sends itself (asking for a corrected price after the "fix price" button).
type Notifier interface {
	SendText(ctx context.Context, to, body string) error
}

const msgAskPrice = "Send the corrected price as a plain number (e.g. 5m, 450k or 4,500,000)."

// Machine routes inbound events through the session state graph.
type Machine struct {
	repo     store.Repository
	media    media.Store
	orch     Orchestrator
	notifier Notifier
	window   time.Duration
}

// NewMachine creates the state machine. window is the debounce inactivity
// window re-armed on every accepted collecting event.
func NewMachine(repo store.Repository, mediaStore media.Store, orch Orchestrator, notifier Notifier, window time.Duration) *Machine {
	return &Machine{
		repo:     repo,
		media:    mediaStore,
		orch:     orch,
		notifier: notifier,
		window:   window,
	}
}

// HandleEvent dispatches one inbound event. Store errors are returned
// without mutating any caller-visible state so the transport layer can treat
// the whole event as transiently failed.
func (m *Machine) HandleEvent(ctx context.Context, ev domain.InboundEvent) error {
	switch ev.Kind {
	case domain.KindText:
		return m.handleText(ctx, ev.SenderID, ev.Text)
	case domain.KindMedia:
		return m.handleMedia(ctx, ev.SenderID, ev.MediaRef)
	case domain.KindChoice:
		return m.handleChoice(ctx, ev.SenderID, ev.Choice)
	default:
		slog.Debug("ignoring event of unknown kind", "sender_id", ev.SenderID, "kind", ev.Kind)
		return nil
	}
}

func (m *Machine) handleText(ctx context.Context, senderID, text string) error {
	sess, err := m.repo.GetSession(ctx, senderID)
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}

	if sess == nil {
		sess, err = domain.NewSession(senderID)
		if err != nil {
			return err
		}
		sess.AppendFragment(text)
		return m.storeAndArm(ctx, sess)
	}

	switch sess.State {
	case domain.StateCollecting:
		sess.AppendFragment(text)
		return m.storeAndArm(ctx, sess)
	case domain.StateExtracting:
		// Race between the scanner and a late message. Dropped, not queued:
		// the scanner interval keeps this window to a few seconds.
		slog.Debug("dropping text that arrived mid-extraction", "sender_id", senderID)
		return nil
	case domain.StateAwaitingConfirmation:
		if _, ok := pipeline.ParseAmount(text); ok {
			return m.orch.OnCorrect(ctx, senderID, text)
		}
		// Anything that doesn't lexically resemble an amount has no meaning
		// at this stage.
		slog.Debug("ignoring non-price text during confirmation", "sender_id", senderID)
		return nil
	default:
		return fmt.Errorf("session for %s in unknown state %q", senderID, sess.State)
	}
}

func (m *Machine) handleMedia(ctx context.Context, senderID, ref string) error {
	sess, err := m.repo.GetSession(ctx, senderID)
	if err != nil {
		return fmt.Errorf("read session: %w", err)
	}

	if sess != nil && sess.State != domain.StateCollecting {
		slog.Debug("dropping media outside collecting state", "sender_id", senderID, "state", sess.State)
		return nil
	}

	item, err := m.media.Stage(ctx, senderID, ref)
	if err != nil {
		return fmt.Errorf("stage media: %w", err)
	}

	if sess == nil {
		sess, err = domain.NewSession(senderID)
		if err != nil {
			return err
		}
	}
	sess.AppendMedia(item)
	return m.storeAndArm(ctx, sess)
}

func (m *Machine) handleChoice(ctx context.Context, senderID string, choice domain.Choice) error {
	switch choice {
	case domain.ChoiceAffirm:
		return m.orch.OnAffirm(ctx, senderID)
	case domain.ChoiceCancel:
		return m.orch.OnCancel(ctx, senderID)
	case domain.ChoiceCorrect:
		if err := m.notifier.SendText(ctx, senderID, msgAskPrice); err != nil {
			slog.Warn("failed to send price prompt", "sender_id", senderID, "error", err)
		}
		return nil
	default:
		slog.Debug("ignoring unknown confirmation choice", "sender_id", senderID, "choice", choice)
		return nil
	}
}

// storeAndArm persists the session and re-arms the debounce marker. Every
// accepted collecting event goes through here so the inactivity window
// always measures from the latest event.
func (m *Machine) storeAndArm(ctx context.Context, sess *domain.Session) error {
	if err := m.repo.PutSession(ctx, sess); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	if err := m.repo.ArmDebounce(ctx, sess.SenderID, m.window); err != nil {
		return fmt.Errorf("arm debounce: %w", err)
	}
	return nil
}
