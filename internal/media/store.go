// Package media stages inbound photos in temporary storage and promotes
// the kept set to its permanent listing location on finalization.
package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ashureev/lotline/internal/domain"
	"github.com/google/uuid"
)

// Fetcher retrieves the raw bytes for a transport-specific media reference.
// Implemented by the WhatsApp client (media id -> signed URL -> bytes).
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (data []byte, mimeType string, err error)
}

// Store is the media intake contract consumed by the state machine and the
// pipeline orchestrator.
type Store interface {
	// Stage fetches a media reference and writes it into the sender's
	// temporary directory, returning the staged item.
	Stage(ctx context.Context, senderID, ref string) (domain.MediaItem, error)

	// Delete removes individual staged items.
	Delete(ctx context.Context, items []domain.MediaItem) error

	// DeleteFor removes everything staged for a sender.
	DeleteFor(ctx context.Context, senderID string) error

	// Promote moves the kept items from the sender's temporary directory to
	// the permanent location for the given dealer and listing, returning the
	// items with their new URLs.
	Promote(ctx context.Context, senderID, dealerID, listingID string, items []domain.MediaItem) ([]domain.MediaItem, error)
}

// FSStore implements Store on the local filesystem.
type FSStore struct {
	root    string
	fetcher Fetcher
}

// NewFSStore creates a filesystem media store rooted at dir.
func NewFSStore(dir string, fetcher Fetcher) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &FSStore{root: dir, fetcher: fetcher}, nil
}

// Stage fetches and writes one media asset into temporary storage.
func (s *FSStore) Stage(ctx context.Context, senderID, ref string) (domain.MediaItem, error) {
	data, mimeType, err := s.fetcher.Fetch(ctx, ref)
	if err != nil {
		return domain.MediaItem{}, fmt.Errorf("fetch media %s: %w", ref, err)
	}

	dir := s.tmpDir(senderID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return domain.MediaItem{}, fmt.Errorf("create sender media directory: %w", err)
	}

	id := uuid.NewString()
	path := filepath.Join(dir, id+extForMime(mimeType))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return domain.MediaItem{}, fmt.Errorf("write staged media: %w", err)
	}

	return domain.MediaItem{StorageID: id, URL: path}, nil
}

// Delete removes individual staged items. Missing files are not an error.
func (s *FSStore) Delete(_ context.Context, items []domain.MediaItem) error {
	var firstErr error
	for _, item := range items {
		if err := os.Remove(item.URL); err != nil && !errors.Is(err, fs.ErrNotExist) {
			if firstErr == nil {
				firstErr = fmt.Errorf("remove staged media %s: %w", item.StorageID, err)
			}
		}
	}
	return firstErr
}

// DeleteFor removes the sender's entire temporary directory.
func (s *FSStore) DeleteFor(_ context.Context, senderID string) error {
	if err := os.RemoveAll(s.tmpDir(senderID)); err != nil {
		return fmt.Errorf("remove sender media directory: %w", err)
	}
	return nil
}

// Promote moves kept items to the permanent listing location.
func (s *FSStore) Promote(_ context.Context, senderID, dealerID, listingID string, items []domain.MediaItem) ([]domain.MediaItem, error) {
	destDir := filepath.Join(s.root, "listings", sanitize(dealerID), sanitize(listingID))
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("create listing media directory: %w", err)
	}

	moved := make([]domain.MediaItem, 0, len(items))
	for _, item := range items {
		dest := filepath.Join(destDir, filepath.Base(item.URL))
		if err := os.Rename(item.URL, dest); err != nil {
			return nil, fmt.Errorf("promote media %s: %w", item.StorageID, err)
		}
		moved = append(moved, domain.MediaItem{StorageID: item.StorageID, URL: dest})
	}

	// The temp directory is empty (or holds only discarded leftovers) now.
	if err := os.RemoveAll(s.tmpDir(senderID)); err != nil {
		return nil, fmt.Errorf("remove sender media directory: %w", err)
	}

	return moved, nil
}

func (s *FSStore) tmpDir(senderID string) string {
	return filepath.Join(s.root, "tmp", sanitize(senderID))
}

func extForMime(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}

// sanitize keeps path components to a safe character set. Sender ids are
// phone numbers and the rest are UUIDs, so this only matters for hostile
// webhook payloads.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
