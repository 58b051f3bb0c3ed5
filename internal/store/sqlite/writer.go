package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"fxsignal/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
	keepSnapshots     = 10
)

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/fxsignal.db"
}

// Writer is a single-goroutine SQLite writer with transaction batching. It
// archives price samples and stores oscillator engine snapshots.
type Writer struct {
	db *sql.DB

	// OnCommit is called after every batch commit attempt.
	OnCommit func(n int, elapsed time.Duration, err error)
}

var (
	_ model.SampleWriter  = (*Writer)(nil)
	_ model.SnapshotStore = (*Writer)(nil)
)

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig) (*Writer, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite dir: %w", err)
		}
	}
	db, err := open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	slog.Info("sqlite database opened", "component", "sqlite", "path", cfg.DBPath)
	return &Writer{db: db}, nil
}

func open(path string) (*sql.DB, error) {
	return sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS samples (
			instrument TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			price      REAL    NOT NULL,
			PRIMARY KEY (instrument, ts)
		);

		CREATE TABLE IF NOT EXISTS oscillator_snapshots (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			data       TEXT    NOT NULL,
			created_at INTEGER NOT NULL
		);
	`)
	return err
}

// Run reads samples from sampleCh and inserts them in batched transactions.
// Flushes every batchSize samples OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or sampleCh is closed.
func (w *Writer) Run(ctx context.Context, sampleCh <-chan model.PriceSample) {
	batch := make([]model.PriceSample, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		err := w.insertBatch(batch)
		if err != nil {
			slog.Error("sqlite batch insert failed", "component", "sqlite", "rows", len(batch), "error", err)
		}
		if w.OnCommit != nil {
			w.OnCommit(len(batch), time.Since(start), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case s, ok := <-sampleCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, s)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// insertBatch inserts a batch of samples in a single transaction.
func (w *Writer) insertBatch(samples []model.PriceSample) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO samples (instrument, ts, price) VALUES (?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, s := range samples {
		if _, err := stmt.Exec(s.Instrument, s.TS.UnixNano(), s.Price); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// ReadRecentSamples returns up to limit of the newest samples for an
// instrument, oldest first.
func (w *Writer) ReadRecentSamples(instrument string, limit int) ([]model.PriceSample, error) {
	return readRecentSamples(w.db, instrument, limit)
}

// SaveSnapshotJSON stores an engine snapshot and prunes all but the newest
// ten.
func (w *Writer) SaveSnapshotJSON(data []byte) error {
	if len(data) == 0 {
		return errors.New("sqlite: empty snapshot")
	}
	_, err := w.db.Exec(`INSERT INTO oscillator_snapshots (data, created_at) VALUES (?, ?)`,
		string(data), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}

	_, err = w.db.Exec(`DELETE FROM oscillator_snapshots WHERE id NOT IN (SELECT id FROM oscillator_snapshots ORDER BY id DESC LIMIT ?)`, keepSnapshots)
	if err != nil {
		slog.Warn("sqlite prune snapshots failed", "component", "sqlite", "error", err)
	}
	return nil
}

// ReadLatestSnapshotJSON returns the newest snapshot, or nil, nil if none.
func (w *Writer) ReadLatestSnapshotJSON() ([]byte, error) {
	return readLatestSnapshot(w.db)
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
