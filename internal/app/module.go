// Package app composes the sync client: config, logging, session lock,
// store, object storage, the realtime backend and the timeline layer.
package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/beacon-im/beacon/internal/backend/ws"
	"github.com/beacon-im/beacon/internal/blob"
	"github.com/beacon-im/beacon/internal/bus"
	"github.com/beacon-im/beacon/internal/config"
	"github.com/beacon-im/beacon/internal/connectivity"
	"github.com/beacon-im/beacon/internal/linkpreview"
	"github.com/beacon-im/beacon/internal/lock"
	"github.com/beacon-im/beacon/internal/logging"
	"github.com/beacon-im/beacon/internal/outbox"
	"github.com/beacon-im/beacon/internal/session"
	"github.com/beacon-im/beacon/internal/store"
	"github.com/beacon-im/beacon/internal/timeline"
	"github.com/beacon-im/beacon/internal/uploads"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the sync client, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideMonitor,
			provideLock,
			provideStore,
			provideBlobStore,
			provideBackendClient,
			provideUploads,
			provideQueue,
			providePreviewFetcher,
			provideTimelineManager,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.Load(session.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMonitor(b *bus.Bus) *connectivity.Monitor {
	return connectivity.NewMonitor(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.LockPath(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideBlobStore(cfg *config.Config, logger *zap.Logger) (*blob.Store, error) {
	return blob.NewStore(cfg.Storage, logger)
}

func provideBackendClient(cfg *config.Config, blobStore *blob.Store, mon *connectivity.Monitor, logger *zap.Logger) *ws.Client {
	return ws.NewClient(cfg.Backend, blobStore, mon, logger)
}

func provideUploads(b *bus.Bus, logger *zap.Logger) *uploads.Manager {
	return uploads.NewManager(b, logger)
}

func provideQueue(db *store.DB, logger *zap.Logger) *outbox.Queue {
	return outbox.NewQueue(db, logger)
}

func providePreviewFetcher() *linkpreview.Fetcher {
	return linkpreview.NewFetcher()
}

func provideTimelineManager(cfg *config.Config, client *ws.Client, db *store.DB, queue *outbox.Queue, up *uploads.Manager, mon *connectivity.Monitor, b *bus.Bus, fetcher *linkpreview.Fetcher, logger *zap.Logger) *timeline.Manager {
	return timeline.NewManager(timeline.Env{
		UserID:  cfg.Backend.UserID,
		Backend: client,
		Store:   db,
		Queue:   queue,
		Uploads: up,
		Net:     mon,
		Bus:     b,
		Preview: fetcher,
		Logger:  logger,
	})
}

func registerLifecycle(lc fx.Lifecycle, client *ws.Client, timelines *timeline.Manager, lk *lock.Lock, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Connect in the background; the client reconnects with backoff
			// on its own and sends are queued while offline.
			go func() {
				if err := client.Connect(context.Background()); err != nil {
					logger.Error("initial connect failed", zap.Error(err))
				}
			}()
			logger.Info("client started")
			return nil
		},
		OnStop: func(context.Context) error {
			timelines.Close()
			client.Close()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
