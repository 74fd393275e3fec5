package main

import (
	"context"

	"github.com/kimhsiao/tasksync/internal/config"
	"github.com/kimhsiao/tasksync/internal/crypto"
	"github.com/kimhsiao/tasksync/internal/db"
	apperrors "github.com/kimhsiao/tasksync/internal/errors"
	"github.com/kimhsiao/tasksync/internal/logging"
	"github.com/kimhsiao/tasksync/internal/remote"
	"github.com/kimhsiao/tasksync/internal/services"
	"github.com/kimhsiao/tasksync/internal/session"
	syncpkg "github.com/kimhsiao/tasksync/internal/sync"
	"github.com/kimhsiao/tasksync/internal/sync/connectivity"
	"github.com/kimhsiao/tasksync/internal/sync/scheduler"
)

// app is one opened session plus the resources behind it.
type app struct {
	cfg         *config.Config
	db          *db.DB
	credentials *crypto.CredentialStore
	session     *session.Session
	data        *services.DataService
	prober      *connectivity.Prober
}

// loadConfig resolves configuration and the user, and initializes logging.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.user != "" {
		cfg.User = opts.user
	}
	if cfg.User == "" {
		return nil, apperrors.Validation("no user configured: pass --user or set user in the config")
	}

	logging.Init(logging.Options{
		Level:     logging.ParseLevel(cfg.Log.Level),
		File:      cfg.Log.File,
		MaxSizeMB: cfg.Log.MaxSizeMB,
	})
	return cfg, nil
}

// openApp loads configuration, opens the database and the user's session.
// Connectivity is probed once so one-shot commands start from a real
// online/offline state.
func openApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrPersistence, "open database", err)
	}
	repo := db.NewRepository(database.DB, cfg.Namespace)
	credentials := crypto.NewCredentialStore(repo, "")

	if cfg.Remote.Credential == "" {
		secret, ok, err := credentials.Load(cfg.User)
		if err != nil {
			database.Close()
			return nil, err
		}
		if ok {
			cfg.Remote.Credential = secret
		}
	}

	client := opts.remote
	monitor := connectivity.NewMonitor(true)
	var prober *connectivity.Prober
	if client == nil {
		client = remote.NewHTTPClient(cfg.Remote.BaseURL, cfg.Remote.Credential, cfg.Remote.RequestTimeout)
		prober = connectivity.NewProber(monitor, cfg.Remote.BaseURL, cfg.Connectivity.ProbeInterval, cfg.Connectivity.ProbeTimeout)
		prober.Probe(ctx)
	}

	s, err := session.Open(session.Options{
		UserID:     cfg.User,
		Blobs:      repo,
		Remote:     client,
		Monitor:    monitor,
		MaxRetries: cfg.Sync.MaxRetries,
		Engine: syncpkg.Config{
			RequestTimeout:    cfg.Remote.RequestTimeout,
			ReplayConcurrency: cfg.Sync.ReplayConcurrency,
		},
		Scheduler: &scheduler.SchedulerConfig{
			SyncInterval: cfg.Sync.Interval,
			SyncTimeout:  cfg.Sync.Timeout,
		},
	})
	if err != nil {
		database.Close()
		return nil, err
	}
	data, err := s.Data()
	if err != nil {
		s.Close()
		database.Close()
		return nil, err
	}

	return &app{cfg: cfg, db: database, credentials: credentials, session: s, data: data, prober: prober}, nil
}

// Close releases the session and the database.
func (a *app) Close() {
	if a.prober != nil {
		a.prober.Stop()
	}
	a.session.Close()
	if err := a.db.Close(); err != nil {
		logging.Warn("Failed to close database", map[string]interface{}{"error": err.Error()})
	}
}

// withApp opens the app for the duration of fn.
func withApp(ctx context.Context, opts *rootOptions, fn func(a *app) error) error {
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
