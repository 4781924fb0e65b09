// Package sessiondb persists session snapshots as JSONB documents in SQLite
// so a restarted server can pick up where it left off.
package sessiondb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/playperu/valentines/internal/session"
)

// Fixed width so updated_at compares correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// record is the stored document. Idempotency tokens are not part of the
// public snapshot but must survive a restart.
type record struct {
	*session.Session
	Tokens session.Ledger `json:"tokens,omitempty"`
}

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save upserts s. A snapshot the stored one supersedes is ignored, so
// out-of-order writes never roll a session back. A session recreated under
// the same id replaces its predecessor.
func (s *Store) Save(ctx context.Context, sess *session.Session) error {
	data, err := json.Marshal(record{Session: sess, Tokens: sess.Tokens})
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", sess.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, game_type, status, created_at, updated_at, version, data)
		 VALUES (?, ?, ?, ?, ?, ?, jsonb(?))
		 ON CONFLICT(id) DO UPDATE SET
			game_type = excluded.game_type,
			status = excluded.status,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			version = excluded.version,
			data = excluded.data
		 WHERE excluded.created_at > sessions.created_at
			OR (excluded.created_at = sessions.created_at AND excluded.version >= sessions.version)`,
		sess.ID, sess.GameType, string(sess.Status),
		sess.CreatedAt.UTC().Format(timeLayout), sess.UpdatedAt.UTC().Format(timeLayout),
		int64(sess.Version), string(data),
	)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", sess.ID, err)
	}
	return nil
}

// LoadAll returns every stored session, oldest update first.
func (s *Store) LoadAll(ctx context.Context) ([]*session.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT json(data) FROM sessions ORDER BY updated_at, id`)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		rec := record{Session: &session.Session{}}
		dec := json.NewDecoder(strings.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decoding session: %w", err)
		}
		rec.Session.Tokens = rec.Tokens
		out = append(out, rec.Session)
	}
	return out, rows.Err()
}

// Delete removes the given sessions. Unknown ids are ignored.
func (s *Store) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting session %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// PurgeCompleted deletes completed sessions last updated before cutoff and
// reports how many rows went.
func (s *Store) PurgeCompleted(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE status = ? AND updated_at < ?`,
		string(session.StatusCompleted), cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("purging sessions: %w", err)
	}
	return res.RowsAffected()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Restore loads every stored session into store and returns how many were
// added. Sessions already in the store are left alone.
func (s *Store) Restore(ctx context.Context, store *session.Store) (int, error) {
	all, err := s.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sess := range all {
		if store.Load(sess) {
			n++
		}
	}
	return n, nil
}
