package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
	id         TEXT PRIMARY KEY,
	mode       TEXT NOT NULL,
	incoming   TEXT NOT NULL,
	reply      TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_exchanges_created ON exchanges(created_at);
`

// Exchange is one incoming chat message and the reply we sent for it.
type Exchange struct {
	ID        string
	Mode      string
	Incoming  string
	Reply     string
	CreatedAt time.Time
}

// Recorder is what the reply loops need from a store.
type Recorder interface {
	Record(ctx context.Context, ex Exchange) (Exchange, error)
}

// Store keeps the transcript in a local SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates the database file and schema when missing. Use ":memory:" for
// a throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// modernc connections do not share an in-memory database.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Record stores ex, filling in ID and CreatedAt when empty.
func (s *Store) Record(ctx context.Context, ex Exchange) (Exchange, error) {
	if ex.ID == "" {
		ex.ID = uuid.NewString()
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exchanges (id, mode, incoming, reply, created_at) VALUES (?, ?, ?, ?, ?)`,
		ex.ID, ex.Mode, ex.Incoming, ex.Reply, ex.CreatedAt.UnixNano())
	if err != nil {
		return Exchange{}, fmt.Errorf("record exchange: %w", err)
	}
	return ex, nil
}

// Recent returns up to n exchanges, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Exchange, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mode, incoming, reply, created_at FROM exchanges ORDER BY created_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var ex Exchange
		var ts int64
		if err := rows.Scan(&ex.ID, &ex.Mode, &ex.Incoming, &ex.Reply, &ts); err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		ex.CreatedAt = time.Unix(0, ts)
		out = append(out, ex)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Discard is a Recorder that keeps nothing.
type Discard struct{}

func (Discard) Record(_ context.Context, ex Exchange) (Exchange, error) { return ex, nil }
