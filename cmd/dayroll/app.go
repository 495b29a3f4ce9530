package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"dayroll/internal/config"
	"dayroll/internal/database"
	"dayroll/internal/domain"
	"dayroll/internal/events"
	"dayroll/internal/identity"
	"dayroll/internal/logging"
	"dayroll/internal/remote"
	"dayroll/internal/repository"
	"dayroll/internal/service"
	"dayroll/internal/store"
	"dayroll/internal/syncer"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app is the object graph shared by every command.
type app struct {
	cfg      *config.Config
	logger   *zerolog.Logger
	db       *database.DB
	redis    *redis.Client
	bus      *events.EventBus
	store    *store.Store
	tasks    *service.TaskService
	syncer   *syncer.Syncer
	provider remote.Provider
	detach   func()
	closers  []io.Closer
}

func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg

	db, err := database.NewDB(cfg.Database.Path, logging.Component(a.logger, "database"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db)

	if cfg.Redis.Address != "" {
		a.redis = repository.NewRedisClient(cfg.Redis)
		if err := repository.Ping(ctx, a.redis); err != nil {
			a.logger.Warn().Err(err).Str("addr", cfg.Redis.Address).Msg("redis not reachable")
		} else {
			a.logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
		}
	}

	kv, err := a.kvStore()
	if err != nil {
		return err
	}

	a.bus = events.NewEventBus(logging.Component(a.logger, "events"))
	a.store, err = store.New(ctx, kv, a.bus, logging.Component(a.logger, "store"),
		store.WithLocation(cfg.Location()),
		store.WithCeiling(cfg.Tasks.RolloverCeiling),
	)
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	a.tasks = service.NewTaskService(a.store, logging.Component(a.logger, "tasks"))

	a.provider, err = remote.New(ctx, cfg, a.redis, logging.Component(a.logger, "remote"))
	if err != nil {
		return fmt.Errorf("init remote provider: %w", err)
	}
	ident, err := identity.New(cfg)
	if err != nil {
		return fmt.Errorf("init identity: %w", err)
	}

	a.syncer, err = syncer.New(ctx, a.store, kv, a.provider, ident, a.bus, logging.Component(a.logger, "syncer"),
		syncer.WithConflictPolicy(cfg.Sync.ConflictPolicy),
		syncer.WithCallTimeout(cfg.Sync.CallTimeout),
		syncer.WithRecorder(a.db),
	)
	if err != nil {
		return fmt.Errorf("init syncer: %w", err)
	}
	a.detach = a.syncer.Attach(a.bus)
	return nil
}

// kvStore picks where the task collection lives. With fallback_memory the
// store keeps working on an in-memory copy while the primary is down.
func (a *app) kvStore() (domain.KVStore, error) {
	var primary domain.KVStore
	switch a.cfg.Storage.Backend {
	case "redis":
		if a.redis == nil {
			return nil, errors.New("storage.backend=redis requires redis.address")
		}
		primary = repository.NewRedisKVStore(a.redis, a.cfg.Redis.Prefix)
	default:
		primary = a.db
	}
	if !a.cfg.Storage.FallbackMemory {
		return primary, nil
	}
	return repository.NewFailoverKVStore(primary, repository.NewMemoryKVStore(), logging.Component(a.logger, "kv")), nil
}

func (a *app) Close() {
	if a.detach != nil {
		a.detach()
	}
	if a.redis != nil {
		_ = repository.Close(a.redis)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}

// withApp builds the graph for one command and tears it down afterwards.
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
