package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/lotline/internal/domain"
	"github.com/ashureev/lotline/internal/store"
)

type fakeMedia struct {
	stageCalls int
}

func (f *fakeMedia) Stage(_ context.Context, senderID, ref string) (domain.MediaItem, error) {
	f.stageCalls++
	return domain.MediaItem{StorageID: ref, URL: "/tmp/" + senderID + "/" + ref}, nil
}

func (f *fakeMedia) Delete(_ context.Context, _ []domain.MediaItem) error { return nil }

func (f *fakeMedia) DeleteFor(_ context.Context, _ string) error { return nil }

func (f *fakeMedia) Promote(_ context.Context, _, _, _ string, items []domain.MediaItem) ([]domain.MediaItem, error) {
	return items, nil
}

type fakeOrch struct {
	affirms  []string
	corrects []string
	cancels  []string
}

func (f *fakeOrch) OnAffirm(_ context.Context, senderID string) error {
	f.affirms = append(f.affirms, senderID)
	return nil
}

func (f *fakeOrch) OnCorrect(_ context.Context, senderID, rawInput string) error {
	f.corrects = append(f.corrects, rawInput)
	return nil
}

func (f *fakeOrch) OnCancel(_ context.Context, senderID string) error {
	f.cancels = append(f.cancels, senderID)
	return nil
}

type fakeNotifier struct {
	texts []string
}

func (f *fakeNotifier) SendText(_ context.Context, _, body string) error {
	f.texts = append(f.texts, body)
	return nil
}

type machineFixture struct {
	repo     store.Repository
	media    *fakeMedia
	orch     *fakeOrch
	notifier *fakeNotifier
	machine  *Machine
}

func newMachineFixture(t *testing.T) *machineFixture {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"), time.Hour)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})

	f := &machineFixture{
		repo:     repo,
		media:    &fakeMedia{},
		orch:     &fakeOrch{},
		notifier: &fakeNotifier{},
	}
	f.machine = NewMachine(repo, f.media, f.orch, f.notifier, 30*time.Second)
	return f
}

func (f *machineFixture) seedState(t *testing.T, senderID string, state domain.State) {
	t.Helper()
	sess, err := domain.NewSession(senderID)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	sess.AppendFragment("first message")
	sess.AppendMedia(domain.MediaItem{StorageID: "m0", URL: "/tmp/m0.jpg"})
	sess.State = state
	if state == domain.StateAwaitingConfirmation {
		sess.Extracted = &domain.ExtractionResult{Make: "Toyota", Price: 5000000, Valid: true}
	}
	if err := f.repo.PutSession(context.Background(), sess); err != nil {
		t.Fatalf("PutSession failed: %v", err)
	}
}

func TestFirstTextEventCreatesSession(t *testing.T) {
	f := newMachineFixture(t)
	ctx := context.Background()

	ev := domain.InboundEvent{SenderID: "s1", Kind: domain.KindText, Text: "Toyota Camry 2015"}
	if err := f.machine.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}

	sess, err := f.repo.GetSession(ctx, "s1")
	if err != nil || sess == nil {
		t.Fatalf("Expected session after first event, got %v (err %v)", sess, err)
	}
	if sess.State != domain.StateCollecting {
		t.Errorf("Expected collecting state, got %s", sess.State)
	}
	if len(sess.TextFragments) != 1 || sess.TextFragments[0] != "Toyota Camry 2015" {
		t.Errorf("Unexpected fragments: %v", sess.TextFragments)
	}

	armed, err := f.repo.DebounceArmed(ctx, "s1")
	if err != nil {
		t.Fatalf("DebounceArmed failed: %v", err)
	}
	if !armed {
		t.Error("Expected debounce marker armed after accepted event")
	}
}

func TestMediaEventStagesAndAppends(t *testing.T) {
	f := newMachineFixture(t)
	ctx := context.Background()

	for _, ref := range []string{"wamid-1", "wamid-2"} {
		ev := domain.InboundEvent{SenderID: "s1", Kind: domain.KindMedia, MediaRef: ref}
		if err := f.machine.HandleEvent(ctx, ev); err != nil {
			t.Fatalf("HandleEvent failed: %v", err)
		}
	}

	if f.media.stageCalls != 2 {
		t.Errorf("Expected 2 stage calls, got %d", f.media.stageCalls)
	}
	sess, _ := f.repo.GetSession(ctx, "s1")
	if sess == nil || len(sess.MediaItems) != 2 {
		t.Fatalf("Expected 2 media items, got %+v", sess)
	}
	if sess.MediaItems[0].StorageID != "wamid-1" || sess.MediaItems[1].StorageID != "wamid-2" {
		t.Errorf("Media out of submission order: %v", sess.MediaItems)
	}
}

func TestEventsDroppedWhileExtracting(t *testing.T) {
	f := newMachineFixture(t)
	ctx := context.Background()
	f.seedState(t, "s1", domain.StateExtracting)

	text := domain.InboundEvent{SenderID: "s1", Kind: domain.KindText, Text: "one more thing"}
	if err := f.machine.HandleEvent(ctx, text); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}
	photo := domain.InboundEvent{SenderID: "s1", Kind: domain.KindMedia, MediaRef: "wamid-9"}
	if err := f.machine.HandleEvent(ctx, photo); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}

	sess, _ := f.repo.GetSession(ctx, "s1")
	if len(sess.TextFragments) != 1 {
		t.Errorf("Expected dropped text to leave fragments untouched, got %v", sess.TextFragments)
	}
	if len(sess.MediaItems) != 1 {
		t.Errorf("Expected dropped media to leave items untouched, got %v", sess.MediaItems)
	}
	if f.media.stageCalls != 0 {
		t.Errorf("Expected no staging for dropped media, got %d", f.media.stageCalls)
	}

	armed, _ := f.repo.DebounceArmed(ctx, "s1")
	if armed {
		t.Error("Expected dropped events not to re-arm the debounce marker")
	}
}

func TestConfirmationTextRoutedAsPriceCorrection(t *testing.T) {
	f := newMachineFixture(t)
	ctx := context.Background()
	f.seedState(t, "s1", domain.StateAwaitingConfirmation)

	ev := domain.InboundEvent{SenderID: "s1", Kind: domain.KindText, Text: "6m"}
	if err := f.machine.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}

	if len(f.orch.corrects) != 1 || f.orch.corrects[0] != "6m" {
		t.Errorf("Expected price correction with raw input, got %v", f.orch.corrects)
	}
}

func TestConfirmationChatterIgnored(t *testing.T) {
	f := newMachineFixture(t)
	ctx := context.Background()
	f.seedState(t, "s1", domain.StateAwaitingConfirmation)

	ev := domain.InboundEvent{SenderID: "s1", Kind: domain.KindText, Text: "is this still available?"}
	if err := f.machine.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("HandleEvent failed: %v", err)
	}

	if len(f.orch.corrects) != 0 {
		t.Errorf("Expected no correction for non-price text, got %v", f.orch.corrects)
	}
	sess, _ := f.repo.GetSession(ctx, "s1")
	if len(sess.TextFragments) != 1 {
		t.Errorf("Expected non-price text not to join the session, got %v", sess.TextFragments)
	}
}

func TestChoiceRouting(t *testing.T) {
	f := newMachineFixture(t)
	ctx := context.Background()

	events := []domain.InboundEvent{
		{SenderID: "s1", Kind: domain.KindChoice, Choice: domain.ChoiceAffirm},
		{SenderID: "s1", Kind: domain.KindChoice, Choice: domain.ChoiceCancel},
		{SenderID: "s1", Kind: domain.KindChoice, Choice: domain.ChoiceCorrect},
	}
	for _, ev := range events {
		if err := f.machine.HandleEvent(ctx, ev); err != nil {
			t.Fatalf("HandleEvent failed: %v", err)
		}
	}

	if len(f.orch.affirms) != 1 || len(f.orch.cancels) != 1 {
		t.Errorf("Expected one affirm and one cancel, got %v / %v", f.orch.affirms, f.orch.cancels)
	}
	if len(f.notifier.texts) != 1 {
		t.Errorf("Expected a price prompt after the correct choice, got %v", f.notifier.texts)
	}
}
