// Package app wires protolith's components together per spec.md §4.6's
// boot sequence and §5's graceful shutdown, as a single-owner App struct
// rather than the teacher's flat main()-function wiring (spec.md §9's
// "single owner" re-architecture note).
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/protolith-db/protolith/internal/auth"
	"github.com/protolith-db/protolith/internal/config"
	"github.com/protolith-db/protolith/internal/dbengine"
	"github.com/protolith-db/protolith/internal/kv"
	"github.com/protolith-db/protolith/internal/meta"
	"github.com/protolith-db/protolith/internal/metrics"
	"github.com/protolith-db/protolith/internal/rpcapi"
	"github.com/protolith-db/protolith/internal/session"
)

// sessionsFileName is the JSON snapshot file written on graceful shutdown
// (spec.md §6.2 "<sessions_file>").
const sessionsFileName = "sessions.json"

// App owns every long-lived component: the database engine, the auth
// service, the session store, and the RPC server.
type App struct {
	cfg *config.Config

	Engine   *dbengine.Engine
	Auth     *auth.Service
	Sessions *session.Store
	Metrics  *metrics.Metrics
	Server   *rpcapi.Server

	logger       *slog.Logger
	sessionsPath string
}

// Boot performs spec.md §4.6's steps 1-8: it assumes cfg has already been
// loaded (step 1, the caller's job), then opens the root directory,
// discovers and opens every on-disk database instance, builds the
// engine, bootstraps the configured default user, and restores the
// session snapshot.
func Boot(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := seedDefaultDescriptor(cfg); err != nil {
		logger.Warn("could not seed default database descriptor", "error", err)
	}

	m := metrics.New()

	engine := dbengine.NewEngine(dbengine.EngineConfig{
		Root:               cfg.DB.Path,
		DescriptorFileName: cfg.DB.DescriptorFileName,
		KVOptions: kv.Options{
			MaxOpenFiles: cfg.DB.MaxOpenFiles,
			CacheSize:    cfg.DB.CacheSizeBytes,
			Recorder:     m,
		},
		MetaStore: meta.Config{
			SchemaCF:         cfg.MetaStore.SchemaCFName,
			SchemaVersionsCF: cfg.MetaStore.SchemaVersionsCFName,
			IndexCF:          cfg.MetaStore.IndexCFName,
			InitialVersion:   cfg.Schema.DefaultVersion,
		},
	})
	if err := engine.Boot(cfg.Database.Name); err != nil {
		return nil, fmt.Errorf("app: booting engine: %w", err)
	}

	defaultDB, err := engine.ListDatabases()
	if err != nil {
		return nil, fmt.Errorf("app: listing databases: %w", err)
	}
	m.SetDatabaseCount(len(defaultDB))

	defaultInstance, err := engine.Instance(cfg.Database.Name)
	if err != nil {
		return nil, fmt.Errorf("app: locating default database: %w", err)
	}

	sessionsPath := filepath.Join(cfg.DB.Path, sessionsFileName)
	sessions := session.LoadFromFile(sessionsPath)
	m.SetSessionCount(len(sessions.Snapshot()))

	authSvc, err := auth.NewService(defaultInstance.Store(), sessions, cfg.MetaStore.UserCFName)
	if err != nil {
		return nil, fmt.Errorf("app: constructing auth service: %w", err)
	}
	if err := authSvc.BootstrapUser(cfg.Auth.User, cfg.Auth.Password); err != nil {
		return nil, fmt.Errorf("app: bootstrapping default user: %w", err)
	}

	server := rpcapi.NewServer(engine, authSvc, sessions, m, logger)

	return &App{
		cfg:          cfg,
		Engine:       engine,
		Auth:         authSvc,
		Sessions:     sessions,
		Metrics:      m,
		Server:       server,
		logger:       logger,
		sessionsPath: sessionsPath,
	}, nil
}

// seedDefaultDescriptor stages cfg.Database.DescriptorPath's bytes as the
// default database's descriptor file if one isn't already present, the
// "for ... the configured default database" half of spec.md §4.6 step 4:
// a fresh root directory has no on-disk descriptor yet, so the
// configured default path is consulted.
func seedDefaultDescriptor(cfg *config.Config) error {
	dest := filepath.Join(cfg.DB.Path, cfg.Database.Name, cfg.DB.DescriptorFileName)
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	raw, err := os.ReadFile(cfg.Database.DescriptorPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, raw, 0o644)
}

// Run binds and serves the RPC server, blocking until ctx is canceled,
// then drains: either destroying every database (destroy_on_shutdown) or
// snapshotting sessions to disk, per spec.md §5's graceful-shutdown path.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.Server.Start(a.cfg.Address())
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		a.logger.Info("draining", "grace_period_seconds", a.cfg.ShutdownGracePeriodSeconds)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(a.cfg.ShutdownGracePeriodSeconds)*time.Second)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", "error", err)
	}

	return a.drain()
}

// drain implements spec.md §5's post-drain branch.
func (a *App) drain() error {
	if a.cfg.DestroyOnShutdown {
		if err := a.Engine.DestroyAll(); err != nil {
			return fmt.Errorf("app: destroying databases on shutdown: %w", err)
		}
		return nil
	}
	if err := a.Sessions.SaveToFile(a.sessionsPath); err != nil {
		return fmt.Errorf("app: saving session snapshot: %w", err)
	}
	return nil
}
