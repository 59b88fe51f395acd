package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ZentaChain/zentalk-streams/pkg/crypto"
	"github.com/ZentaChain/zentalk-streams/pkg/logging"
)

// KeyState is the lifecycle position of a group key within its stream
type KeyState string

const (
	KeyStateCurrent KeyState = "current"
	KeyStateNext    KeyState = "next"
	KeyStateRetired KeyState = "retired"
)

// GroupKeyStore persists the group keys of the streams a publisher writes to.
// Each stream has at most one current key and at most one queued next key;
// retired keys are kept so that old messages stay decryptable.
type GroupKeyStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewGroupKeyStore opens (or creates) the key database at dbPath
func NewGroupKeyStore(dbPath string, logger *zap.Logger) (*GroupKeyStore, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS group_keys (
		stream_id TEXT NOT NULL,
		key_id TEXT NOT NULL,
		key_data BLOB NOT NULL,
		state TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (stream_id, key_id)
	);

	-- Index for current/next lookups
	CREATE INDEX IF NOT EXISTS idx_group_keys_state ON group_keys(stream_id, state);
	`

	db, err := openSQLite(dbPath, schema)
	if err != nil {
		return nil, err
	}

	return &GroupKeyStore{db: db, logger: logging.OrNop(logger).Named("groupkeys")}, nil
}

// HasAnyGroupKey reports whether a key was ever established for streamID
func (s *GroupKeyStore) HasAnyGroupKey(ctx context.Context, streamID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM group_keys WHERE stream_id = ?`, streamID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count group keys: %w", err)
	}
	return count > 0, nil
}

// AddGroupKey stores key for streamID in state. Adding a current or next key
// retires the key previously holding that state.
func (s *GroupKeyStore) AddGroupKey(ctx context.Context, streamID string, key *crypto.GroupKey, state KeyState) error {
	if err := key.Validate(); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return addGroupKey(ctx, tx, streamID, key, state)
	})
}

func addGroupKey(ctx context.Context, tx *sql.Tx, streamID string, key *crypto.GroupKey, state KeyState) error {
	if state != KeyStateRetired {
		if _, err := tx.ExecContext(ctx,
			`UPDATE group_keys SET state = ? WHERE stream_id = ? AND state = ?`,
			KeyStateRetired, streamID, state); err != nil {
			return fmt.Errorf("failed to retire %s key: %w", state, err)
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO group_keys (stream_id, key_id, key_data, state, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (stream_id, key_id) DO UPDATE SET state = excluded.state
	`, streamID, key.ID, key.Data, state, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to store group key: %w", err)
	}
	return nil
}

// GroupKey returns the key keyID of streamID, in any state
func (s *GroupKeyStore) GroupKey(ctx context.Context, streamID, keyID string) (*crypto.GroupKey, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT key_data FROM group_keys WHERE stream_id = ? AND key_id = ?`, streamID, keyID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group key %s of stream %s: %w", keyID, streamID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group key: %w", err)
	}
	return &crypto.GroupKey{ID: keyID, Data: data}, nil
}

// UseGroupKey returns the key to encrypt the next message of streamID with,
// and the queued next key if one is waiting to be announced. Returning a next
// key promotes it: later calls use it as the current key.
// Both keys are nil when the stream has no usable key.
func (s *GroupKeyStore) UseGroupKey(ctx context.Context, streamID string) (current, next *crypto.GroupKey, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		current, err = keyInState(ctx, tx, streamID, KeyStateCurrent)
		if err != nil {
			return err
		}
		next, err = keyInState(ctx, tx, streamID, KeyStateNext)
		if err != nil {
			return err
		}

		switch {
		case current == nil && next == nil:
			return nil
		case current == nil:
			// nothing to announce with, start using the queued key directly
			current, next = next, nil
			return addGroupKey(ctx, tx, streamID, current, KeyStateCurrent)
		case next != nil:
			return addGroupKey(ctx, tx, streamID, next, KeyStateCurrent)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if next != nil {
		s.logger.Debug("announcing next group key",
			zap.String("stream", streamID),
			zap.String("current", current.ID),
			zap.String("next", next.ID))
	}
	return current, next, nil
}

// Rotate generates a fresh key for streamID. It becomes the current key if
// the stream has none, otherwise it is queued to be announced by the next
// message.
func (s *GroupKeyStore) Rotate(ctx context.Context, streamID string) (*crypto.GroupKey, error) {
	key, err := crypto.NewGroupKey()
	if err != nil {
		return nil, err
	}

	var state KeyState
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := keyInState(ctx, tx, streamID, KeyStateCurrent)
		if err != nil {
			return err
		}
		state = KeyStateNext
		if current == nil {
			state = KeyStateCurrent
		}
		return addGroupKey(ctx, tx, streamID, key, state)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("rotated group key",
		zap.String("stream", streamID),
		zap.String("key", key.ID),
		zap.String("state", string(state)))
	return key, nil
}

// Close closes the database connection
func (s *GroupKeyStore) Close() error {
	return s.db.Close()
}

func keyInState(ctx context.Context, tx *sql.Tx, streamID string, state KeyState) (*crypto.GroupKey, error) {
	key := &crypto.GroupKey{}
	err := tx.QueryRowContext(ctx,
		`SELECT key_id, key_data FROM group_keys WHERE stream_id = ? AND state = ? LIMIT 1`,
		streamID, state).Scan(&key.ID, &key.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s key: %w", state, err)
	}
	return key, nil
}

func (s *GroupKeyStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
