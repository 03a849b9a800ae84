package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/datallboy/manifetch/internal/cache"
	"github.com/datallboy/manifetch/internal/engine"
	"github.com/datallboy/manifetch/internal/infra/config"
	"github.com/datallboy/manifetch/internal/infra/logger"
	"github.com/datallboy/manifetch/internal/manifest"
	"github.com/datallboy/manifetch/internal/status"
	"github.com/datallboy/manifetch/internal/store"
	"github.com/redis/go-redis/v9"
)

// Context holds the core environment and shared resources for manifetch.
// It acts as the single source of truth for the application state.
type Context struct {
	Config *config.Config
	Logger *logger.Logger

	Controller *engine.Controller
	Loader     *manifest.Loader

	// Store is nil when history is disabled (store.driver=none).
	Store store.Recorder
	Redis *redis.Client
}

// NewContext initializes the base environment: the run controller and the
// manifest loader. Call Open to attach history and the redis mirror.
func NewContext(cfg *config.Config, log *logger.Logger) *Context {
	dl := cfg.Download
	client := engine.NewHTTPClient(dl.Timeout)

	ctrl := engine.NewController(engine.Options{
		Workers:          dl.Workers,
		ChunkSize:        dl.ChunkSize,
		Digest:           dl.Digest,
		RateLimit:        dl.RateLimit,
		Timeout:          dl.Timeout,
		StopGrace:        dl.StopGrace,
		ProgressInterval: dl.ProgressInterval,
		UserAgent:        dl.UserAgent,
		Client:           client,
	}, log)

	loader := manifest.NewLoader(client, dl.UserAgent)
	if cfg.Manifest.CacheDir != "" {
		loader.SetCache(&cache.FileCache{Dir: cfg.Manifest.CacheDir}, log)
	}

	return &Context{
		Config:     cfg,
		Logger:     log,
		Controller: ctrl,
		Loader:     loader,
	}
}

// Open connects the history store and, when enabled, redis.
func (a *Context) Open(ctx context.Context) error {
	rec, err := OpenStore(ctx, a.Config.Store)
	if err != nil {
		return err
	}
	if rec != nil {
		a.Store = rec
		a.Controller.SetRecorder(rec)
		a.Logger.Debug("Run history enabled (%s)", a.Config.Store.Driver)
	}

	if a.Config.Redis.Enabled {
		rc := a.Config.Redis
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.Redis.Ping(pingCtx).Err(); err != nil {
			// The mirror is best-effort; runs go ahead without it
			a.Logger.Warn("Redis at %s is not reachable: %v", rc.Addr, err)
		}

		a.Controller.AddObserver(status.NewRedisObserver(a.Redis, rc.TTL, a.Logger))
		a.Logger.Info("Mirroring run status to redis at %s", rc.Addr)
	}

	return nil
}

// OpenStore builds the history store named by cfg.Driver. It returns nil,
// nil for the "none" driver.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Recorder, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		return s, nil
	case "postgres":
		s, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Close releases the store and redis connections.
func (a *Context) Close() error {
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	return errors.Join(errs...)
}
