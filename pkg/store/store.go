// Package store persists pixel events and users in SQLite. The events
// table is append-only; last-write-wins is materialized here, at read
// time, and nowhere else.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"

	"github.com/pixelwall/pixelwall/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS pixel_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	x          INTEGER NOT NULL,
	y          INTEGER NOT NULL,
	color      TEXT    NOT NULL,
	user_id    TEXT    NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS pixel_events_coord ON pixel_events (x, y, created_at DESC);

CREATE TABLE IF NOT EXISTS users (
	user_id    TEXT PRIMARY KEY,
	nickname   TEXT NOT NULL,
	color      TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
`

// snapshotQuery reduces the append-only log to one row per coordinate:
// the event with the greatest created_at, ties broken by insertion order.
// The outer ORDER BY yields canonical ascending (x, y).
const snapshotQuery = `
SELECT x, y, color, user_id, created_at FROM (
	SELECT x, y, color, user_id, created_at,
	       ROW_NUMBER() OVER (PARTITION BY x, y ORDER BY created_at DESC, id DESC) AS rn
	FROM pixel_events
	%s
) WHERE rn = 1
ORDER BY x, y`

// Store wraps the SQLite handle. Safe for concurrent use; WAL mode lets
// snapshot reads proceed while draws are being appended.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and applies the
// schema. Pragmas are passed through the DSN unless the caller supplied
// their own query string.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &types.PersistenceError{Op: "open database", Err: err}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &types.PersistenceError{Op: "ping database", Err: err}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, &types.PersistenceError{Op: "apply schema", Err: err}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Append validates and durably records one pixel event. The event is
// never updated or deleted afterwards.
func (s *Store) Append(ctx context.Context, p types.Pixel) error {
	if err := types.ValidateCoords(p.X, p.Y); err != nil {
		return err
	}
	if p.UserID == "" {
		return &types.ValidationError{Field: "userId", Reason: "must not be empty"}
	}
	if p.Timestamp.IsZero() {
		return &types.ValidationError{Field: "timestamp", Reason: "must be set"}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pixel_events (x, y, color, user_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.X, p.Y, p.Color(), p.UserID, p.Timestamp.UnixMilli())
	if err != nil {
		return &types.PersistenceError{Op: "append event", Err: err}
	}
	return nil
}

// SnapshotLatest returns the latest event per coordinate for the whole
// canvas, in canonical ascending (x, y) order.
func (s *Store) SnapshotLatest(ctx context.Context) ([]types.Pixel, error) {
	return s.snapshot(ctx, fmt.Sprintf(snapshotQuery, ""))
}

// SnapshotRegion is SnapshotLatest restricted to the inclusive bounding
// box. Corners must lie on the canvas with min at or below max per axis.
func (s *Store) SnapshotRegion(ctx context.Context, minX, minY, maxX, maxY int) ([]types.Pixel, error) {
	if err := types.ValidateCoords(minX, minY); err != nil {
		return nil, err
	}
	if err := types.ValidateCoords(maxX, maxY); err != nil {
		return nil, err
	}
	if minX > maxX || minY > maxY {
		return nil, &types.ValidationError{
			Field:  "region",
			Reason: fmt.Sprintf("min corner (%d,%d) exceeds max corner (%d,%d)", minX, minY, maxX, maxY),
		}
	}
	q := fmt.Sprintf(snapshotQuery, "WHERE x BETWEEN ? AND ? AND y BETWEEN ? AND ?")
	return s.snapshot(ctx, q, minX, maxX, minY, maxY)
}

func (s *Store) snapshot(ctx context.Context, query string, args ...any) ([]types.Pixel, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &types.PersistenceError{Op: "snapshot query", Err: err}
	}
	defer rows.Close()

	var pixels []types.Pixel
	for rows.Next() {
		var (
			p     types.Pixel
			color string
			ms    int64
		)
		if err := rows.Scan(&p.X, &p.Y, &color, &p.UserID, &ms); err != nil {
			return nil, &types.PersistenceError{Op: "snapshot scan", Err: err}
		}
		r, g, b, err := types.ParseColor(color)
		if err != nil {
			return nil, &types.PersistenceError{Op: "snapshot scan", Err: fmt.Errorf("row (%d,%d): %w", p.X, p.Y, err)}
		}
		p.R, p.G, p.B = r, g, b
		p.Timestamp = millisToTime(ms)
		pixels = append(pixels, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.PersistenceError{Op: "snapshot iterate", Err: err}
	}
	return pixels, nil
}

// CountEvents returns the total size of the append-only log.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pixel_events`).Scan(&n); err != nil {
		return 0, &types.PersistenceError{Op: "count events", Err: err}
	}
	return n, nil
}

// InsertUser stores a new directory entry. A duplicate id reports
// types.ErrConflict.
func (s *Store) InsertUser(ctx context.Context, u types.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, nickname, color, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Nickname, u.Color, u.CreatedAt.UnixMilli())
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("user %s: %w", u.ID, types.ErrConflict)
		}
		return &types.PersistenceError{Op: "insert user", Err: err}
	}
	return nil
}

// GetUser looks up a directory entry by id. The second return is false
// when no such user exists.
func (s *Store) GetUser(ctx context.Context, id string) (types.User, bool, error) {
	var (
		u  types.User
		ms int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, nickname, color, created_at FROM users WHERE user_id = ?`, id).
		Scan(&u.ID, &u.Nickname, &u.Color, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return types.User{}, false, nil
	}
	if err != nil {
		return types.User{}, false, &types.PersistenceError{Op: "get user", Err: err}
	}
	u.CreatedAt = millisToTime(ms)
	return u, true, nil
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// isConstraint reports whether err is any SQLITE_CONSTRAINT variant
// (primary key, unique). The low byte of extended result codes carries
// the primary code.
func isConstraint(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == 19
	}
	return false
}
