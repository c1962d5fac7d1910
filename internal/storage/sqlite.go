// Package storage persists the directory server's state in SQLite.
package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/PolarWolf314/muna/internal/directory"
	kerrors "github.com/PolarWolf314/muna/internal/errors"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS identity_keys (
	user_id    TEXT    NOT NULL,
	version    INTEGER NOT NULL,
	public_key BLOB    NOT NULL,
	suite      TEXT    NOT NULL DEFAULT '',
	active     INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (user_id, version)
);

CREATE TABLE IF NOT EXISTS conversation_keys (
	conversation_id TEXT    NOT NULL,
	user_id         TEXT    NOT NULL,
	epoch           INTEGER NOT NULL,
	key_version     INTEGER NOT NULL,
	wrapped_key     BLOB    NOT NULL,
	recipients      TEXT    NOT NULL DEFAULT '[]',
	created_at      INTEGER NOT NULL,
	PRIMARY KEY (conversation_id, user_id, epoch)
);
CREATE INDEX IF NOT EXISTS idx_conversation_keys_epoch ON conversation_keys(conversation_id, epoch);

CREATE TABLE IF NOT EXISTS conversation_members (
	conversation_id TEXT NOT NULL,
	user_id         TEXT NOT NULL,
	PRIMARY KEY (conversation_id, user_id)
);
`

// SQLite is a directory.Backend stored in a SQLite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens or creates the database at path. Use ":memory:" for a
// throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

// Close releases the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func storeFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", kerrors.ErrDirectoryOrStoreFailure, op, err)
}

func (s *SQLite) Publish(ctx context.Context, userID string, publicKey []byte, suite string) (int, error) {
	if len(publicKey) == 0 {
		return 0, fmt.Errorf("%w: empty public key", kerrors.ErrInvalidKeyLength)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeFailure("publish", err)
	}
	defer tx.Rollback()

	var newest int
	var newestKey []byte
	err = tx.QueryRowContext(ctx,
		`SELECT version, public_key FROM identity_keys WHERE user_id = ? ORDER BY version DESC LIMIT 1`,
		userID).Scan(&newest, &newestKey)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, storeFailure("publish", err)
	}
	if newest > 0 && bytes.Equal(newestKey, publicKey) {
		return newest, nil
	}

	version := newest + 1
	_, err = tx.ExecContext(ctx,
		`INSERT INTO identity_keys (user_id, version, public_key, suite, active, created_at) VALUES (?, ?, ?, ?, 1, ?)`,
		userID, version, publicKey, suite, s.now().UnixMilli())
	if err != nil {
		return 0, storeFailure("publish", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, storeFailure("publish", err)
	}
	return version, nil
}

func scanKey(row interface{ Scan(...any) error }) (directory.PublishedKey, error) {
	var k directory.PublishedKey
	var active int
	var created int64
	if err := row.Scan(&k.UserID, &k.Version, &k.PublicKey, &k.Suite, &active, &created); err != nil {
		return directory.PublishedKey{}, err
	}
	k.Active = active == 1
	k.CreatedAt = time.UnixMilli(created).UTC()
	return k, nil
}

func (s *SQLite) Fetch(ctx context.Context, userID string) (directory.PublishedKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, version, public_key, suite, active, created_at FROM identity_keys
		 WHERE user_id = ? AND active = 1 ORDER BY version DESC LIMIT 1`, userID)
	k, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.PublishedKey{}, fmt.Errorf("%w: no active key for %s", kerrors.ErrNotFound, userID)
	}
	if err != nil {
		return directory.PublishedKey{}, storeFailure("fetch", err)
	}
	return k, nil
}

func (s *SQLite) FetchVersion(ctx context.Context, userID string, version int) (directory.PublishedKey, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, version, public_key, suite, active, created_at FROM identity_keys
		 WHERE user_id = ? AND version = ?`, userID, version)
	k, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.PublishedKey{}, fmt.Errorf("%w: %s has no key version %d", kerrors.ErrNotFound, userID, version)
	}
	if err != nil {
		return directory.PublishedKey{}, storeFailure("fetch version", err)
	}
	return k, nil
}

func (s *SQLite) Deactivate(ctx context.Context, userID string, belowVersion int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE identity_keys SET active = 0 WHERE user_id = ? AND version < ?`, userID, belowVersion)
	if err != nil {
		return storeFailure("deactivate", err)
	}
	return nil
}

func (s *SQLite) Upsert(ctx context.Context, rec directory.ConversationKeyRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	recipients := rec.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	encoded, err := json.Marshal(recipients)
	if err != nil {
		return fmt.Errorf("encoding recipients: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversation_keys (conversation_id, user_id, epoch, key_version, wrapped_key, recipients, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (conversation_id, user_id, epoch) DO UPDATE SET
		   key_version = excluded.key_version,
		   wrapped_key = excluded.wrapped_key,
		   recipients  = excluded.recipients,
		   created_at  = excluded.created_at`,
		rec.ConversationID, rec.UserID, rec.Epoch, rec.KeyVersion, rec.WrappedKey, string(encoded), rec.CreatedAt.UnixMilli())
	if err != nil {
		return storeFailure("upsert", err)
	}
	return nil
}

func scanRecord(row interface{ Scan(...any) error }) (directory.ConversationKeyRecord, error) {
	var r directory.ConversationKeyRecord
	var created int64
	var recipients string
	if err := row.Scan(&r.ConversationID, &r.UserID, &r.Epoch, &r.KeyVersion, &r.WrappedKey, &recipients, &created); err != nil {
		return directory.ConversationKeyRecord{}, err
	}
	if err := json.Unmarshal([]byte(recipients), &r.Recipients); err != nil {
		return directory.ConversationKeyRecord{}, fmt.Errorf("decoding recipients: %w", err)
	}
	if len(r.Recipients) == 0 {
		r.Recipients = nil
	}
	r.CreatedAt = time.UnixMilli(created).UTC()
	return r, nil
}

const recordColumns = `conversation_id, user_id, epoch, key_version, wrapped_key, recipients, created_at`

func (s *SQLite) FetchLatest(ctx context.Context, conversationID, userID string) (directory.ConversationKeyRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM conversation_keys
		 WHERE conversation_id = ? AND user_id = ? ORDER BY epoch DESC LIMIT 1`, conversationID, userID)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.ConversationKeyRecord{}, fmt.Errorf("%w: %s has no key for conversation %s", kerrors.ErrNotFound, userID, conversationID)
	}
	if err != nil {
		return directory.ConversationKeyRecord{}, storeFailure("fetch latest", err)
	}
	return r, nil
}

func (s *SQLite) FetchEpoch(ctx context.Context, conversationID, userID string, epoch int) (directory.ConversationKeyRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM conversation_keys
		 WHERE conversation_id = ? AND user_id = ? AND epoch = ?`, conversationID, userID, epoch)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.ConversationKeyRecord{}, fmt.Errorf("%w: %s has no key for epoch %d of %s", kerrors.ErrNotFound, userID, epoch, conversationID)
	}
	if err != nil {
		return directory.ConversationKeyRecord{}, storeFailure("fetch epoch", err)
	}
	return r, nil
}

func (s *SQLite) LatestEpoch(ctx context.Context, conversationID string) (int, error) {
	var latest sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(epoch) FROM conversation_keys WHERE conversation_id = ?`, conversationID).Scan(&latest)
	if err != nil {
		return 0, storeFailure("latest epoch", err)
	}
	return int(latest.Int64), nil
}

func (s *SQLite) ListEpoch(ctx context.Context, conversationID string, epoch int) ([]directory.ConversationKeyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM conversation_keys
		 WHERE conversation_id = ? AND epoch = ? ORDER BY user_id`, conversationID, epoch)
	if err != nil {
		return nil, storeFailure("list epoch", err)
	}
	defer rows.Close()

	var out []directory.ConversationKeyRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, storeFailure("list epoch", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeFailure("list epoch", err)
	}
	return out, nil
}

func (s *SQLite) Members(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM conversation_members WHERE conversation_id = ? ORDER BY user_id`, conversationID)
	if err != nil {
		return nil, storeFailure("members", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeFailure("members", err)
		}
		members = append(members, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeFailure("members", err)
	}
	return members, nil
}

func (s *SQLite) SetMembers(ctx context.Context, conversationID string, members []string) error {
	normalized, err := directory.NormalizeMembers(members)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeFailure("set members", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_members WHERE conversation_id = ?`, conversationID); err != nil {
		return storeFailure("set members", err)
	}
	for _, id := range normalized {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_members (conversation_id, user_id) VALUES (?, ?)`, conversationID, id); err != nil {
			return storeFailure("set members", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeFailure("set members", err)
	}
	return nil
}

var _ directory.Backend = (*SQLite)(nil)
