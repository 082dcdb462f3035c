package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/repodeck/internal/domain/workcopy"
	"github.com/Strob0t/repodeck/internal/port/journal"
)

// JournalStore implements journal.Store using PostgreSQL (append-only).
type JournalStore struct {
	pool *pgxpool.Pool
}

var _ journal.Store = (*JournalStore)(nil)

// NewJournalStore creates a JournalStore backed by the given connection pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

// Append inserts e and fills in its ID.
func (s *JournalStore) Append(ctx context.Context, e *journal.Entry) error {
	o := e.Outcome
	at := o.At
	if at.IsZero() {
		at = time.Now()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO action_journal (session_id, repository, action, ok, message, commit_hash, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		e.SessionID, o.Repository, string(o.Action), o.OK, o.Message, o.CommitHash, e.Duration.Milliseconds(), at,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// List returns the newest entries of repository, newest first.
func (s *JournalStore) List(ctx context.Context, repository string, limit int) ([]journal.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, repository, action, ok, message, commit_hash, duration_ms, created_at
		 FROM action_journal
		 WHERE repository = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`, repository, limit)
	if err != nil {
		return nil, fmt.Errorf("list journal %s: %w", repository, err)
	}
	defer rows.Close()

	var entries []journal.Entry
	for rows.Next() {
		var (
			e          journal.Entry
			action     string
			durationMS int64
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Outcome.Repository, &action, &e.Outcome.OK,
			&e.Outcome.Message, &e.Outcome.CommitHash, &durationMS, &e.Outcome.At); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		e.Outcome.Action = workcopy.Action(action)
		e.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than cutoff and returns how many were removed.
func (s *JournalStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM action_journal WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return tag.RowsAffected(), nil
}
