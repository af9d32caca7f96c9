package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/lotline/internal/domain"
	"github.com/ashureev/lotline/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db         *sql.DB
	sessionTTL time.Duration
}

// NewSQLite creates a new SQLite-backed repository. sessionTTL is the fixed
// row-lifetime ceiling applied on every session put.
func NewSQLite(dbPath string, sessionTTL time.Duration) (Repository, error) {
	if sessionTTL <= 0 {
		return nil, fmt.Errorf("session ttl must be positive, got %v", sessionTTL)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, sessionTTL: sessionTTL}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		sender_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		fragments_json TEXT NOT NULL,
		media_json TEXT NOT NULL,
		extracted_json TEXT,
		created_at INTEGER NOT NULL,
		last_updated INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);

	CREATE TABLE IF NOT EXISTS debounce (
		sender_id TEXT PRIMARY KEY,
		expires_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS dealers (
		dealer_id TEXT PRIMARY KEY,
		phone TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS listings (
		listing_id TEXT PRIMARY KEY,
		dealer_id TEXT NOT NULL,
		make TEXT NOT NULL,
		model TEXT NOT NULL,
		year INTEGER NOT NULL,
		mileage INTEGER NOT NULL,
		color TEXT NOT NULL,
		price INTEGER NOT NULL,
		primary_media INTEGER NOT NULL,
		media_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_listings_dealer ON listings(dealer_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetSession retrieves the active session for a sender. An expired row is
// treated as absent; the scanner's purge pass removes it later.
func (s *SQLiteStore) GetSession(ctx context.Context, senderID string) (*domain.Session, error) {
	query := `
		SELECT sender_id, state, fragments_json, media_json, extracted_json,
		       created_at, last_updated, expires_at
		FROM sessions WHERE sender_id = ?`

	row := s.db.QueryRowContext(ctx, query, senderID)

	var sess domain.Session
	var state string
	var fragmentsJSON, mediaJSON string
	var extractedJSON sql.NullString
	var createdAt, lastUpdated, expiresAt int64

	err := row.Scan(
		&sess.SenderID, &state, &fragmentsJSON, &mediaJSON, &extractedJSON,
		&createdAt, &lastUpdated, &expiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	if expiresAt <= time.Now().Unix() {
		return nil, nil
	}

	sess.State = domain.State(state)
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.LastUpdated = time.Unix(lastUpdated, 0)

	if err := json.Unmarshal([]byte(fragmentsJSON), &sess.TextFragments); err != nil {
		return nil, fmt.Errorf("decode session fragments: %w", err)
	}
	if err := json.Unmarshal([]byte(mediaJSON), &sess.MediaItems); err != nil {
		return nil, fmt.Errorf("decode session media: %w", err)
	}
	if extractedJSON.Valid {
		var extracted domain.ExtractionResult
		if err := json.Unmarshal([]byte(extractedJSON.String), &extracted); err != nil {
			return nil, fmt.Errorf("decode session extraction result: %w", err)
		}
		sess.Extracted = &extracted
	}

	return &sess, nil
}

// PutSession upserts a session and refreshes its row TTL to the fixed ceiling.
func (s *SQLiteStore) PutSession(ctx context.Context, sess *domain.Session) error {
	fragmentsJSON, err := json.Marshal(sess.TextFragments)
	if err != nil {
		return fmt.Errorf("encode session fragments: %w", err)
	}
	mediaJSON, err := json.Marshal(sess.MediaItems)
	if err != nil {
		return fmt.Errorf("encode session media: %w", err)
	}

	var extractedJSON interface{}
	if sess.Extracted != nil {
		raw, err := json.Marshal(sess.Extracted)
		if err != nil {
			return fmt.Errorf("encode session extraction result: %w", err)
		}
		extractedJSON = string(raw)
	}

	query := `
	INSERT INTO sessions (sender_id, state, fragments_json, media_json, extracted_json, created_at, last_updated, expires_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(sender_id) DO UPDATE SET
		state = excluded.state,
		fragments_json = excluded.fragments_json,
		media_json = excluded.media_json,
		extracted_json = excluded.extracted_json,
		last_updated = excluded.last_updated,
		expires_at = excluded.expires_at`

	_, err = s.db.ExecContext(ctx, query,
		sess.SenderID, string(sess.State), string(fragmentsJSON), string(mediaJSON), extractedJSON,
		sess.CreatedAt.Unix(), sess.LastUpdated.Unix(), time.Now().Add(s.sessionTTL).Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// DeleteSession removes a session.
// Implements retry logic with exponential backoff to handle SQLITE_BUSY
// errors, which can occur while the scanner is mid-sweep.
func (s *SQLiteStore) DeleteSession(ctx context.Context, senderID string) error {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE sender_id = ?`, senderID)
		if err == nil {
			return nil
		}

		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // exponential backoff: 100ms, 200ms, 400ms
			slog.Debug("DeleteSession failed with SQLITE_BUSY, retrying",
				"sender_id", senderID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
			continue
		}

		return fmt.Errorf("delete session for %s: %w", senderID, err)
	}

	return nil
}

// ListActiveSessions returns all unexpired sessions.
func (s *SQLiteStore) ListActiveSessions(ctx context.Context) ([]*domain.Session, error) {
	query := `SELECT sender_id FROM sessions WHERE expires_at > ?`

	rows, err := s.db.QueryContext(ctx, query, time.Now().Unix())
	if err != nil {
		return nil, fmt.Errorf("query active sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close active sessions rows", "error", closeErr)
		}
	}()

	var senderIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan active session row: %w", err)
		}
		senderIDs = append(senderIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active sessions: %w", err)
	}

	var sessions []*domain.Session
	for _, id := range senderIDs {
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			sessions = append(sessions, sess)
		}
	}
	return sessions, nil
}

// ArmDebounce sets or refreshes the sender's debounce marker.
func (s *SQLiteStore) ArmDebounce(ctx context.Context, senderID string, window time.Duration) error {
	query := `
	INSERT INTO debounce (sender_id, expires_at) VALUES (?, ?)
	ON CONFLICT(sender_id) DO UPDATE SET expires_at = excluded.expires_at`

	_, err := s.db.ExecContext(ctx, query, senderID, time.Now().Add(window).Unix())
	if err != nil {
		return fmt.Errorf("arm debounce: %w", err)
	}
	return nil
}

// DebounceArmed reports whether an unexpired marker exists for the sender.
func (s *SQLiteStore) DebounceArmed(ctx context.Context, senderID string) (bool, error) {
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT expires_at FROM debounce WHERE sender_id = ?`, senderID).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query debounce marker: %w", err)
	}
	return expiresAt > time.Now().Unix(), nil
}

// DisarmDebounce removes the sender's marker if present.
func (s *SQLiteStore) DisarmDebounce(ctx context.Context, senderID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM debounce WHERE sender_id = ?`, senderID); err != nil {
		return fmt.Errorf("disarm debounce: %w", err)
	}
	return nil
}

// GetDealerByPhone retrieves a dealer by phone number.
func (s *SQLiteStore) GetDealerByPhone(ctx context.Context, phone string) (*domain.Dealer, error) {
	query := `SELECT dealer_id, phone, name, created_at, updated_at FROM dealers WHERE phone = ?`

	row := s.db.QueryRowContext(ctx, query, phone)

	var dealer domain.Dealer
	var createdAt, updatedAt int64

	err := row.Scan(&dealer.ID, &dealer.Phone, &dealer.Name, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan dealer row: %w", err)
	}

	dealer.CreatedAt = time.Unix(createdAt, 0)
	dealer.UpdatedAt = time.Unix(updatedAt, 0)

	return &dealer, nil
}

// UpsertDealer creates or updates a dealer record.
func (s *SQLiteStore) UpsertDealer(ctx context.Context, dealer *domain.Dealer) error {
	query := `
	INSERT INTO dealers (dealer_id, phone, name, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(phone) DO UPDATE SET
		name = excluded.name,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		dealer.ID, dealer.Phone, dealer.Name,
		dealer.CreatedAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert dealer: %w", err)
	}
	return nil
}

// InsertListing durably records a finalized listing.
func (s *SQLiteStore) InsertListing(ctx context.Context, listing *domain.Listing) (string, error) {
	mediaJSON, err := json.Marshal(listing.Media)
	if err != nil {
		return "", fmt.Errorf("encode listing media: %w", err)
	}

	query := `
	INSERT INTO listings (listing_id, dealer_id, make, model, year, mileage, color, price, primary_media, media_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		listing.ID, listing.DealerID, listing.Make, listing.Model,
		listing.Year, listing.Mileage, listing.Color, listing.Price,
		listing.PrimaryMediaIndex, string(mediaJSON), listing.CreatedAt.Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("insert listing: %w", err)
	}
	return listing.ID, nil
}

// PurgeExpired removes expired session rows and debounce markers.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) ([]string, error) {
	now := time.Now().Unix()

	rows, err := s.db.QueryContext(ctx, `SELECT sender_id FROM sessions WHERE expires_at <= ?`, now)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close expired sessions rows", "error", closeErr)
		}
	}()

	var purged []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired session row: %w", err)
		}
		purged = append(purged, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now); err != nil {
		return nil, fmt.Errorf("delete expired sessions: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM debounce WHERE expires_at <= ?`, now); err != nil {
		return nil, fmt.Errorf("delete expired debounce markers: %w", err)
	}

	return purged, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
