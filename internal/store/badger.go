package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/fentz26/streaks/internal/codec"
	"github.com/fentz26/streaks/internal/models"
	"github.com/fentz26/streaks/internal/vault"
)

var snapshotKey = []byte("snapshot/v1")

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// Sealer encrypts the stored blob. Nil stores plaintext JSON.
	Sealer *vault.Sealer

	// Logger receives badger's internal logs. Nil silences them.
	Logger *slog.Logger
}

// BadgerStore keeps the whole snapshot as one sealed value under a single
// key, so every Save is one atomic write.
type BadgerStore struct {
	db     *badger.DB
	sealer *vault.Sealer
}

var _ Adapter = (*BadgerStore)(nil)

// OpenBadger opens (or creates) a badger-backed store.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db, sealer: cfg.Sealer}, nil
}

// Save writes snap under the snapshot key.
func (b *BadgerStore) Save(ctx context.Context, snap models.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := codec.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	if b.sealer != nil {
		if data, err = b.sealer.Seal(data); err != nil {
			return fmt.Errorf("seal snapshot: %w", err)
		}
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey, data)
	})
}

// Load reads the stored snapshot. A missing key yields an empty snapshot.
func (b *BadgerStore) Load(ctx context.Context) (models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return models.Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	if b.sealer != nil {
		if data, err = b.sealer.Open(data); err != nil {
			return nil, fmt.Errorf("open snapshot: %w", err)
		}
	}
	return codec.DecodeSnapshot(data)
}

// Close closes the database.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
