// Package store provides durable persistence for a replica's snapshot.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/streaks/internal/codec"
	"github.com/fentz26/streaks/internal/models"
	"github.com/fentz26/streaks/internal/vault"
	_ "modernc.org/sqlite"
)

// ErrSealedSnapshot is returned by Load when the database holds an
// encrypted snapshot but the Store has no sealer.
var ErrSealedSnapshot = errors.New("stored snapshot is encrypted; enable storage.encrypt")

// Store persists snapshots in a SQLite database. Without a sealer records
// live in the timers and history tables. With one, the whole snapshot is
// sealed into a single sealed_snapshot row and the plain tables stay empty.
type Store struct {
	db     *sql.DB
	sealer *vault.Sealer
}

var _ Adapter = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithSealer encrypts the stored snapshot.
func WithSealer(sealer *vault.Sealer) Option {
	return func(s *Store) { s.sealer = sealer }
}

// New creates a new Store and runs migrations.
func New(dbPath string, opts ...Option) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Instants are stored as whole seconds plus nanoseconds so that every
// time.Time survives, including ones outside the int64 nanosecond range.
func splitTime(t time.Time) (sec int64, nsec int64) {
	return t.Unix(), int64(t.Nanosecond())
}

func joinTime(sec, nsec int64) time.Time {
	return time.Unix(sec, nsec).UTC()
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS timers (
		title TEXT PRIMARY KEY,
		kind TEXT NOT NULL DEFAULT 'timer',
		start_sec INTEGER NOT NULL,
		start_nsec INTEGER NOT NULL,
		paused INTEGER NOT NULL DEFAULT 0,
		rules TEXT,
		updated_sec INTEGER NOT NULL,
		updated_nsec INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS history (
		title TEXT NOT NULL,
		seq INTEGER NOT NULL,
		start_sec INTEGER NOT NULL,
		start_nsec INTEGER NOT NULL,
		end_sec INTEGER NOT NULL,
		end_nsec INTEGER NOT NULL,
		elapsed_ns INTEGER NOT NULL,
		reset_reason TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (title, seq),
		FOREIGN KEY (title) REFERENCES timers(title)
	);

	CREATE INDEX IF NOT EXISTS idx_history_title ON history(title);

	CREATE TABLE IF NOT EXISTS sealed_snapshot (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		payload BLOB NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Save replaces the stored snapshot in a single transaction, so a reader
// never observes a partially written store.
func (s *Store) Save(ctx context.Context, snap models.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM timers`); err != nil {
		return fmt.Errorf("clear timers: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sealed_snapshot`); err != nil {
		return fmt.Errorf("clear sealed snapshot: %w", err)
	}

	if s.sealer != nil {
		if err := s.saveSealed(ctx, tx, snap); err != nil {
			return err
		}
		return tx.Commit()
	}

	for title, rec := range snap {
		var rules sql.NullString
		if rec.Rules != "" {
			rules = sql.NullString{String: rec.Rules, Valid: true}
		}
		startSec, startNsec := splitTime(rec.StartTime)
		updSec, updNsec := splitTime(rec.LastUpdated)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO timers (title, kind, start_sec, start_nsec, paused, rules, updated_sec, updated_nsec)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			title, string(rec.Kind), startSec, startNsec, rec.Paused(), rules, updSec, updNsec,
		)
		if err != nil {
			return fmt.Errorf("insert timer %q: %w", title, err)
		}
		for i, h := range rec.History {
			hsSec, hsNsec := splitTime(h.StartTime)
			heSec, heNsec := splitTime(h.EndTime)
			_, err := tx.ExecContext(ctx,
				`INSERT INTO history (title, seq, start_sec, start_nsec, end_sec, end_nsec, elapsed_ns, reset_reason)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				title, i, hsSec, hsNsec, heSec, heNsec, int64(h.Elapsed), h.ResetReason,
			)
			if err != nil {
				return fmt.Errorf("insert history %q/%d: %w", title, i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) saveSealed(ctx context.Context, tx *sql.Tx, snap models.Snapshot) error {
	data, err := codec.EncodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	sealed, err := s.sealer.Seal(data)
	if err != nil {
		return fmt.Errorf("seal snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sealed_snapshot (id, payload) VALUES (1, ?)`, sealed); err != nil {
		return fmt.Errorf("insert sealed snapshot: %w", err)
	}
	return nil
}

// Load reads the stored snapshot. An empty database yields an empty snapshot.
// A sealed snapshot takes precedence over the plain tables, so a database
// written before encryption was enabled still loads and is sealed on the
// next save.
func (s *Store) Load(ctx context.Context) (models.Snapshot, error) {
	var sealed []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM sealed_snapshot WHERE id = 1`).Scan(&sealed)
	switch {
	case err == nil:
		if s.sealer == nil {
			return nil, ErrSealedSnapshot
		}
		data, err := s.sealer.Open(sealed)
		if err != nil {
			return nil, fmt.Errorf("open sealed snapshot: %w", err)
		}
		return codec.DecodeSnapshot(data)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("query sealed snapshot: %w", err)
	}
	return s.loadPlain(ctx)
}

func (s *Store) loadPlain(ctx context.Context) (models.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT title, kind, start_sec, start_nsec, paused, rules, updated_sec, updated_nsec FROM timers`)
	if err != nil {
		return nil, fmt.Errorf("query timers: %w", err)
	}
	defer rows.Close()

	snap := make(models.Snapshot)
	for rows.Next() {
		var (
			rec                 models.TimerRecord
			kind                string
			startSec, startNsec int64
			updSec, updNsec     int64
			paused              bool
			rules               sql.NullString
		)
		if err := rows.Scan(&rec.Title, &kind, &startSec, &startNsec, &paused, &rules, &updSec, &updNsec); err != nil {
			return nil, fmt.Errorf("scan timer: %w", err)
		}
		rec.Kind = models.Kind(kind)
		rec.StartTime = joinTime(startSec, startNsec)
		rec.LastUpdated = joinTime(updSec, updNsec)
		rec.State = models.StateRunning
		if paused {
			rec.State = models.StatePaused
		}
		if rules.Valid {
			rec.Rules = rules.String
		}
		rec.History = []models.HistoryEntry{}
		snap[rec.Title] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hrows, err := s.db.QueryContext(ctx,
		`SELECT title, start_sec, start_nsec, end_sec, end_nsec, elapsed_ns, reset_reason
		FROM history ORDER BY title, seq`)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer hrows.Close()

	for hrows.Next() {
		var (
			title              string
			startSec, startNsec int64
			endSec, endNsec    int64
			elapsed            int64
			reason             string
		)
		if err := hrows.Scan(&title, &startSec, &startNsec, &endSec, &endNsec, &elapsed, &reason); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		rec, ok := snap[title]
		if !ok {
			continue
		}
		rec.History = append(rec.History, models.HistoryEntry{
			StartTime:   joinTime(startSec, startNsec),
			EndTime:     joinTime(endSec, endNsec),
			Elapsed:     time.Duration(elapsed),
			ResetReason: reason,
		})
		snap[title] = rec
	}
	return snap, hrows.Err()
}
