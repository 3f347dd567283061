package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/npezzotti/go-chatsync/internal/types"
)

const defaultBusyTimeout = 5000

const schema = `
CREATE TABLE IF NOT EXISTS cosmetic_state (
	user_id TEXT PRIMARY KEY,
	decoration TEXT,
	name_effect TEXT,
	updated_at TIMESTAMP NOT NULL
);`

// Store wraps the local SQLite handle holding the user's persisted cosmetic
// choices. It survives restarts so a rejoin restores the same appearance.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if needed bootstraps) the database at path. Pass
// ":memory:" for an ephemeral store. Call Close when done.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "chatsync.db"
	}

	db, err := sql.Open("sqlite", buildDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func buildDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "file:"), strings.HasPrefix(path, ":memory:"):
		// already in a form sqlite understands
	default:
		path = "file:" + path
	}
	return path
}

// SaveCosmetic upserts the cosmetic state for a user.
func (s *Store) SaveCosmetic(userId string, state types.CosmeticState) error {
	var decoration sql.NullString
	if state.Decoration != nil {
		raw, err := json.Marshal(state.Decoration)
		if err != nil {
			return fmt.Errorf("encode decoration: %w", err)
		}
		decoration = sql.NullString{String: string(raw), Valid: true}
	}

	var nameEffect sql.NullString
	if state.NameEffect != nil {
		nameEffect = sql.NullString{String: *state.NameEffect, Valid: true}
	}

	_, err := s.db.Exec(`INSERT INTO cosmetic_state (user_id, decoration, name_effect, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			decoration = excluded.decoration,
			name_effect = excluded.name_effect,
			updated_at = excluded.updated_at`,
		userId, decoration, nameEffect, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save cosmetic state: %w", err)
	}
	return nil
}

// LoadCosmetic returns the persisted cosmetic state for a user. The second
// return value reports whether a row existed.
func (s *Store) LoadCosmetic(userId string) (types.CosmeticState, bool, error) {
	var (
		state      types.CosmeticState
		decoration sql.NullString
		nameEffect sql.NullString
	)

	row := s.db.QueryRow(`SELECT decoration, name_effect FROM cosmetic_state WHERE user_id = ?`, userId)
	if err := row.Scan(&decoration, &nameEffect); err != nil {
		if err == sql.ErrNoRows {
			return state, false, nil
		}
		return state, false, fmt.Errorf("load cosmetic state: %w", err)
	}

	if decoration.Valid {
		var frame types.FrameConfig
		if err := json.Unmarshal([]byte(decoration.String), &frame); err != nil {
			return state, false, fmt.Errorf("decode decoration: %w", err)
		}
		state.Decoration = &frame
	}
	if nameEffect.Valid {
		effect := nameEffect.String
		state.NameEffect = &effect
	}

	return state, true, nil
}
