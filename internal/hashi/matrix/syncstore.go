package matrix

// syncstore.go persists the mautrix sync position in Hashi's SQLite database.
// Without it every restart replays old room history, and the bot would
// re-run bind probes and re-answer prompts that were already handled.

import (
	"context"
	"database/sql"
	"errors"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

var _ mautrix.SyncStore = (*syncTokenStore)(nil)

// syncTokenStore implements mautrix.SyncStore over the matrix_sync_state
// table, one row per (user_id, key) pair.
type syncTokenStore struct {
	db *sql.DB
}

// newSyncTokenStore wraps the given connection. The matrix_sync_state
// migration must have been applied before the store is used.
func newSyncTokenStore(db *sql.DB) *syncTokenStore {
	return &syncTokenStore{db: db}
}

func (s *syncTokenStore) SaveFilterID(ctx context.Context, userID id.UserID, filterID string) error {
	return s.put(ctx, userID.String(), "filter_id", filterID)
}

// LoadFilterID returns ("", nil) when no filter has been saved yet.
func (s *syncTokenStore) LoadFilterID(ctx context.Context, userID id.UserID) (string, error) {
	return s.get(ctx, userID.String(), "filter_id")
}

func (s *syncTokenStore) SaveNextBatch(ctx context.Context, userID id.UserID, nextBatchToken string) error {
	return s.put(ctx, userID.String(), "next_batch", nextBatchToken)
}

// LoadNextBatch returns ("", nil) on first run, which makes mautrix start a
// fresh sync.
func (s *syncTokenStore) LoadNextBatch(ctx context.Context, userID id.UserID) (string, error) {
	return s.get(ctx, userID.String(), "next_batch")
}

func (s *syncTokenStore) put(ctx context.Context, userID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO matrix_sync_state (user_id, key, value)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value
	`, userID, key, value)
	return err
}

func (s *syncTokenStore) get(ctx context.Context, userID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM matrix_sync_state WHERE user_id = ? AND key = ?
	`, userID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}
