package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/lotline/internal/domain"
)

func newTestStore(t *testing.T, ttl time.Duration) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"), ttl)
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("Close failed: %v", err)
		}
	})
	return repo
}

func TestSessionRoundTrip(t *testing.T) {
	repo := newTestStore(t, time.Hour)
	ctx := context.Background()

	sess, err := domain.NewSession("2348012345678")
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	sess.AppendFragment("Toyota Camry 2015 5m")
	sess.AppendMedia(domain.MediaItem{StorageID: "id-1", URL: "/tmp/a.jpg"})

	if err := repo.PutSession(ctx, sess); err != nil {
		t.Fatalf("PutSession failed: %v", err)
	}

	got, err := repo.GetSession(ctx, "2348012345678")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected session, got nil")
	}
	if got.State != domain.StateCollecting {
		t.Errorf("Expected state %s, got %s", domain.StateCollecting, got.State)
	}
	if len(got.TextFragments) != 1 || got.TextFragments[0] != "Toyota Camry 2015 5m" {
		t.Errorf("Unexpected fragments: %v", got.TextFragments)
	}
	if len(got.MediaItems) != 1 || got.MediaItems[0].StorageID != "id-1" {
		t.Errorf("Unexpected media: %v", got.MediaItems)
	}
	if got.Extracted != nil {
		t.Error("Expected no extraction result on a collecting session")
	}
}

func TestSessionExtractedRoundTrip(t *testing.T) {
	repo := newTestStore(t, time.Hour)
	ctx := context.Background()

	sess := &domain.Session{
		SenderID:    "s1",
		State:       domain.StateAwaitingConfirmation,
		CreatedAt:   time.Now(),
		LastUpdated: time.Now(),
		Extracted: &domain.ExtractionResult{
			Make: "Toyota", Model: "Camry", Year: 2015, Price: 5000000,
			Valid: true, PrimaryMediaIndex: 2, MissingFields: []string{"mileage"},
		},
	}
	if err := repo.PutSession(ctx, sess); err != nil {
		t.Fatalf("PutSession failed: %v", err)
	}

	got, err := repo.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Extracted == nil {
		t.Fatal("Expected extraction result to survive round trip")
	}
	if got.Extracted.Price != 5000000 || got.Extracted.PrimaryMediaIndex != 2 {
		t.Errorf("Unexpected extraction result: %+v", got.Extracted)
	}
	if len(got.Extracted.MissingFields) != 1 || got.Extracted.MissingFields[0] != "mileage" {
		t.Errorf("Unexpected missing fields: %v", got.Extracted.MissingFields)
	}
}

func TestGetSessionMissingAndDeleted(t *testing.T) {
	repo := newTestStore(t, time.Hour)
	ctx := context.Background()

	got, err := repo.GetSession(ctx, "nobody")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got != nil {
		t.Error("Expected nil for missing session")
	}

	sess, _ := domain.NewSession("s1")
	if err := repo.PutSession(ctx, sess); err != nil {
		t.Fatalf("PutSession failed: %v", err)
	}
	if err := repo.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	got, err = repo.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got != nil {
		t.Error("Expected nil after delete")
	}

	// Deleting again is not an error.
	if err := repo.DeleteSession(ctx, "s1"); err != nil {
		t.Errorf("Repeated delete failed: %v", err)
	}
}

func TestAtMostOneSessionPerSender(t *testing.T) {
	repo := newTestStore(t, time.Hour)
	ctx := context.Background()

	sess, _ := domain.NewSession("s1")
	if err := repo.PutSession(ctx, sess); err != nil {
		t.Fatalf("PutSession failed: %v", err)
	}
	sess.AppendFragment("more")
	if err := repo.PutSession(ctx, sess); err != nil {
		t.Fatalf("Second PutSession failed: %v", err)
	}

	active, err := repo.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("ListActiveSessions failed: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("Expected exactly one session row, got %d", len(active))
	}
	if len(active[0].TextFragments) != 1 {
		t.Errorf("Expected upsert to replace the row, got fragments %v", active[0].TextFragments)
	}
}

func TestSessionTTLCeiling(t *testing.T) {
	repo := newTestStore(t, time.Nanosecond)
	ctx := context.Background()

	sess, _ := domain.NewSession("s1")
	if err := repo.PutSession(ctx, sess); err != nil {
		t.Fatalf("PutSession failed: %v", err)
	}

	got, err := repo.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got != nil {
		t.Error("Expected expired session to read as absent")
	}

	active, err := repo.ListActiveSessions(ctx)
	if err != nil {
		t.Fatalf("ListActiveSessions failed: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("Expected no active sessions, got %d", len(active))
	}

	purged, err := repo.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if len(purged) != 1 || purged[0] != "s1" {
		t.Errorf("Expected purge to report s1, got %v", purged)
	}
}

func TestDebounceMarkerLifecycle(t *testing.T) {
	repo := newTestStore(t, time.Hour)
	ctx := context.Background()

	armed, err := repo.DebounceArmed(ctx, "s1")
	if err != nil {
		t.Fatalf("DebounceArmed failed: %v", err)
	}
	if armed {
		t.Error("Expected no marker before arming")
	}

	if err := repo.ArmDebounce(ctx, "s1", 30*time.Second); err != nil {
		t.Fatalf("ArmDebounce failed: %v", err)
	}
	armed, err = repo.DebounceArmed(ctx, "s1")
	if err != nil {
		t.Fatalf("DebounceArmed failed: %v", err)
	}
	if !armed {
		t.Error("Expected marker to be armed")
	}

	if err := repo.DisarmDebounce(ctx, "s1"); err != nil {
		t.Fatalf("DisarmDebounce failed: %v", err)
	}
	armed, err = repo.DebounceArmed(ctx, "s1")
	if err != nil {
		t.Fatalf("DebounceArmed failed: %v", err)
	}
	if armed {
		t.Error("Expected marker to be gone after disarm")
	}
}

func TestDebounceMarkerExpires(t *testing.T) {
	repo := newTestStore(t, time.Hour)
	ctx := context.Background()

	// Sub-second windows land on the current unix second, which the armed
	// check already treats as lapsed.
	if err := repo.ArmDebounce(ctx, "s1", time.Nanosecond); err != nil {
		t.Fatalf("ArmDebounce failed: %v", err)
	}
	armed, err := repo.DebounceArmed(ctx, "s1")
	if err != nil {
		t.Fatalf("DebounceArmed failed: %v", err)
	}
	if armed {
		t.Error("Expected lapsed marker to read as disarmed")
	}
}

func TestDealerRoundTrip(t *testing.T) {
	repo := newTestStore(t, time.Hour)
	ctx := context.Background()

	got, err := repo.GetDealerByPhone(ctx, "2348012345678")
	if err != nil {
		t.Fatalf("GetDealerByPhone failed: %v", err)
	}
	if got != nil {
		t.Error("Expected nil for unregistered phone")
	}

	dealer := &domain.Dealer{
		ID:        "dealer-1",
		Phone:     "2348012345678",
		Name:      "Ikeja Motors",
		CreatedAt: time.Now(),
	}
	if err := repo.UpsertDealer(ctx, dealer); err != nil {
		t.Fatalf("UpsertDealer failed: %v", err)
	}

	got, err = repo.GetDealerByPhone(ctx, "2348012345678")
	if err != nil {
		t.Fatalf("GetDealerByPhone failed: %v", err)
	}
	if got == nil || got.ID != "dealer-1" || got.Name != "Ikeja Motors" {
		t.Errorf("Unexpected dealer: %+v", got)
	}

	// Upsert by phone updates in place.
	dealer.Name = "Ikeja Motors Ltd"
	if err := repo.UpsertDealer(ctx, dealer); err != nil {
		t.Fatalf("Second UpsertDealer failed: %v", err)
	}
	got, _ = repo.GetDealerByPhone(ctx, "2348012345678")
	if got.Name != "Ikeja Motors Ltd" {
		t.Errorf("Expected updated name, got %q", got.Name)
	}
}

func TestInsertListing(t *testing.T) {
	repo := newTestStore(t, time.Hour)
	ctx := context.Background()

	listing := &domain.Listing{
		ID:       "listing-1",
		DealerID: "dealer-1",
		Make:     "Toyota", Model: "Camry", Year: 2015, Price: 5000000,
		Media:     []domain.MediaItem{{StorageID: "m1", URL: "/x/m1.jpg"}},
		CreatedAt: time.Now(),
	}

	ref, err := repo.InsertListing(ctx, listing)
	if err != nil {
		t.Fatalf("InsertListing failed: %v", err)
	}
	if ref != "listing-1" {
		t.Errorf("Expected listing id back, got %q", ref)
	}

	// Same primary key again must fail rather than silently overwrite.
	if _, err := repo.InsertListing(ctx, listing); err == nil {
		t.Error("Expected duplicate insert to fail")
	}
}
