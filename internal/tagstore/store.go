// Package tagstore persists tag sightings in SQLite, one row per tag id.
package tagstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danmuck/rfidctl/internal/reader"
	"github.com/rs/zerolog"
)

var ErrEmptyID = errors.New("tagstore: empty tag id")

// Sighting is the aggregated history of one tag.
type Sighting struct {
	TagID     string    `json:"tag_id"`
	Antenna   int       `json:"antenna"`
	Reads     int64     `json:"reads"`
	Sightings int64     `json:"sightings"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

type Store struct {
	db *sql.DB
}

// Open creates the database file if needed and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := ApplyMigrations(ctx, db); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record folds one sighting into the tag's row. last_seen never moves backwards.
func (s *Store) Record(ctx context.Context, tag reader.Tag) error {
	if tag.ID == "" {
		return ErrEmptyID
	}
	seen := tag.LastSeen
	if seen.IsZero() {
		seen = time.Now()
	}
	reads := tag.ReadCount
	if reads <= 0 {
		reads = 1
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sightings(tag_id, antenna, reads, sightings, first_seen, last_seen)
VALUES (?, ?, ?, 1, ?, ?)
ON CONFLICT(tag_id) DO UPDATE SET
	antenna=excluded.antenna,
	reads=sightings.reads + excluded.reads,
	sightings=sightings.sightings + 1,
	first_seen=MIN(sightings.first_seen, excluded.first_seen),
	last_seen=MAX(sightings.last_seen, excluded.last_seen)
`, tag.ID, tag.Antenna, reads, ts(seen), ts(seen))
	if err != nil {
		return fmt.Errorf("record sighting %s: %w", tag.ID, err)
	}
	return nil
}

// List returns sightings ordered by most recent first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]Sighting, error) {
	query := `SELECT tag_id, antenna, reads, sightings, first_seen, last_seen FROM sightings ORDER BY last_seen DESC, tag_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sightings: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Sighting
	for rows.Next() {
		var (
			sg          Sighting
			first, last string
		)
		if err := rows.Scan(&sg.TagID, &sg.Antenna, &sg.Reads, &sg.Sightings, &first, &last); err != nil {
			return nil, fmt.Errorf("scan sighting: %w", err)
		}
		if sg.FirstSeen, err = parseTS(first); err != nil {
			return nil, fmt.Errorf("parse first_seen %s: %w", sg.TagID, err)
		}
		if sg.LastSeen, err = parseTS(last); err != nil {
			return nil, fmt.Errorf("parse last_seen %s: %w", sg.TagID, err)
		}
		out = append(out, sg)
	}
	return out, rows.Err()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sightings`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sightings: %w", err)
	}
	return n, nil
}

// Consume records every tag from tags until the channel closes or ctx ends.
// Write failures are logged and skipped.
func (s *Store) Consume(ctx context.Context, tags <-chan reader.Tag, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case tag, ok := <-tags:
			if !ok {
				return
			}
			if err := s.Record(ctx, tag); err != nil {
				logger.Warn().Msgf("tagstore.Store record tag=%s err=%v", tag.ID, err)
			}
		}
	}
}

// tsLayout is fixed width so SQL MIN/MAX order timestamps correctly.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(tsLayout, s)
}
