package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fentz26/streaks/internal/config"
	"github.com/fentz26/streaks/internal/controlplane"
	"github.com/fentz26/streaks/internal/logging"
	"github.com/fentz26/streaks/internal/replica"
	"github.com/fentz26/streaks/internal/store"
	"github.com/fentz26/streaks/internal/timers"
	"github.com/fentz26/streaks/internal/transport"
	"github.com/fentz26/streaks/internal/transport/filedrop"
	"github.com/fentz26/streaks/internal/transport/wsnet"
	"github.com/fentz26/streaks/internal/vault"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	listenAddr    string
	peerURL       string
	transportName string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the streaks daemon",
	Long: `Starts the streaks daemon which owns the timer store, persists it,
syncs it with the paired device and serves the HTTP API.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	daemonCmd.Flags().StringVar(&peerURL, "peer", "", "Peer websocket URL, e.g. ws://phone.local:7466/peer/ws (overrides config)")
	daemonCmd.Flags().StringVar(&transportName, "transport", "", "Sync transport: websocket, filedrop or none (overrides config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Listen = listenAddr
	}
	if peerURL != "" {
		cfg.Sync.PeerURL = peerURL
	}
	if transportName != "" {
		cfg.Sync.Transport = transportName
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	id, err := cfg.EnsureReplicaID()
	if err != nil {
		return err
	}
	logger = logger.With("replica", id)
	logger.Info("starting streaks daemon", "config", configPath, "storage", cfg.Storage.Backend, "transport", cfg.Sync.Transport)

	adapter, pinger, err := openAdapter(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy := timers.PausedSincePause
	if cfg.Timers.PausedElapsed == "zero" {
		policy = timers.PausedZero
	}
	tm := timers.New(store.LoadOrEmpty(ctx, adapter, logger),
		timers.WithLogger(logger),
		timers.WithPausedPolicy(policy),
	)
	logger.Info("loaded timers", "count", tm.Len())

	saver := store.NewSaver(adapter, logger)
	changes := tm.Subscribe()

	tr, ws, err := openTransport(cfg, id, logger)
	if err != nil {
		adapter.Close()
		return err
	}

	var (
		syncer *replica.Synchronizer
		status controlplane.SyncStatus
	)
	if tr != nil {
		syncer = replica.New(tm, tr,
			replica.WithReplicaID(id),
			replica.WithLogger(logger),
			replica.WithRebroadcast(cfg.Sync.Rebroadcast),
			replica.WithInstantTimeout(cfg.Sync.InstantTimeout),
		)
		status = syncer
	}

	service := controlplane.NewService(tm, status, logger)
	server := controlplane.NewServer(service, pinger, cfg.Listen, logger)
	if ws != nil {
		server.SetPeerHandler(ws.Handler())
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case c := <-changes:
				saver.Submit(c.Snapshot)
			}
		}
	})

	if syncer != nil {
		g.Go(func() error {
			if err := syncer.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("synchronizer: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown", "error", err)
		}
		if tr != nil {
			if err := tr.Close(); err != nil {
				logger.Error("transport close", "error", err)
			}
		}
		return nil
	})

	runErr := g.Wait()

	// Final save so nothing accepted after the last change notification is lost.
	saver.Submit(tm.Snapshot())
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := saver.Close(closeCtx); err != nil {
		logger.Error("final save", "error", err)
	}
	if err := adapter.Close(); err != nil {
		logger.Error("database close", "error", err)
	}

	logger.Info("shutdown complete")
	return runErr
}

// openAdapter opens the configured persistence backend. The returned Pinger
// is nil when the backend has no liveness check. With storage.encrypt both
// backends seal the snapshot with the key kept in DataDir.
func openAdapter(cfg *config.Config, logger *slog.Logger) (store.Adapter, controlplane.Pinger, error) {
	var sealer *vault.Sealer
	if cfg.Storage.Encrypt {
		key, err := vault.LoadOrCreateKey(filepath.Join(cfg.DataDir, "streaks.key"))
		if err != nil {
			return nil, nil, err
		}
		if sealer, err = vault.NewSealer(key); err != nil {
			return nil, nil, err
		}
	}

	switch cfg.Storage.Backend {
	case "badger":
		b, err := store.OpenBadger(store.BadgerConfig{
			Path:   filepath.Join(cfg.DataDir, "badger"),
			Logger: logger.With("component", "badger"),
			Sealer: sealer,
		})
		if err != nil {
			return nil, nil, err
		}
		return b, nil, nil
	default:
		var opts []store.Option
		if sealer != nil {
			opts = append(opts, store.WithSealer(sealer))
		}
		s, err := store.New(filepath.Join(cfg.DataDir, "streaks.db"), opts...)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
}

// openTransport builds the configured peer transport. Both returns are nil
// for "none"; the websocket transport is also returned concretely so its
// handler can be mounted.
func openTransport(cfg *config.Config, id string, logger *slog.Logger) (transport.Transport, *wsnet.Transport, error) {
	switch cfg.Sync.Transport {
	case "websocket":
		ws := wsnet.New(wsnet.Config{
			PeerURL:      cfg.Sync.PeerURL,
			WriteTimeout: cfg.Sync.InstantTimeout,
			PingInterval: cfg.Sync.PingInterval,
			RedialEvery:  cfg.Sync.RedialEvery,
			Logger:       logger,
		})
		return ws, ws, nil
	case "filedrop":
		fd, err := filedrop.New(filedrop.Config{
			Dir:       cfg.Sync.DropDir,
			ReplicaID: id,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return fd, nil, nil
	default:
		return nil, nil, nil
	}
}
