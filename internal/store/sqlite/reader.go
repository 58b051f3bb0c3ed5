package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fxsignal/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for warm-up and the history
// endpoint, on its own connections so reads never queue behind batch writes.
type Reader struct {
	db *sql.DB
}

var _ model.SampleReader = (*Reader)(nil)

// NewReader opens a SQLite connection for reading. The database must
// already have been created by New.
func NewReader(dbPath string) (*Reader, error) {
	db, err := open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	slog.Info("sqlite reader opened", "component", "sqlite", "path", dbPath)
	return &Reader{db: db}, nil
}

// ReadRecentSamples returns up to limit of the newest samples for an
// instrument, oldest first.
func (r *Reader) ReadRecentSamples(instrument string, limit int) ([]model.PriceSample, error) {
	return readRecentSamples(r.db, instrument, limit)
}

// CountSamples returns the number of archived samples for an instrument.
func (r *Reader) CountSamples(instrument string) (int, error) {
	var n int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM samples WHERE instrument = ?`, instrument).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite count samples: %w", err)
	}
	return n, nil
}

// ReadLatestSnapshotJSON returns the newest snapshot, or nil, nil if none.
func (r *Reader) ReadLatestSnapshotJSON() ([]byte, error) {
	return readLatestSnapshot(r.db)
}

// Ping checks the connection for health reporting.
func (r *Reader) Ping() error {
	return r.db.Ping()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

func readRecentSamples(db *sql.DB, instrument string, limit int) ([]model.PriceSample, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := db.Query(`
		SELECT instrument, ts, price
		FROM samples
		WHERE instrument = ?
		ORDER BY ts DESC
		LIMIT ?
	`, instrument, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query samples: %w", err)
	}
	defer rows.Close()

	var out []model.PriceSample
	for rows.Next() {
		var s model.PriceSample
		var ts int64
		if err := rows.Scan(&s.Instrument, &ts, &s.Price); err != nil {
			return nil, fmt.Errorf("sqlite scan samples: %w", err)
		}
		s.TS = time.Unix(0, ts).UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// newest-first from the query; replay wants oldest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func readLatestSnapshot(db *sql.DB) ([]byte, error) {
	var data string
	err := db.QueryRow(`SELECT data FROM oscillator_snapshots ORDER BY id DESC LIMIT 1`).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // no snapshot
		}
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}
	return []byte(data), nil
}
