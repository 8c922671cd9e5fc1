package setup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bramble-social/bramble/internal/cache"
	"github.com/bramble-social/bramble/internal/feed"
	"github.com/bramble-social/bramble/internal/friends"
	"github.com/bramble-social/bramble/internal/posts"
	"github.com/bramble-social/bramble/internal/privacy"
	"github.com/bramble-social/bramble/internal/profile"
	"github.com/bramble-social/bramble/internal/redis"
	"github.com/bramble-social/bramble/internal/service"
	"github.com/bramble-social/bramble/internal/setup/config"
	"github.com/bramble-social/bramble/internal/store"
	"github.com/bramble-social/bramble/internal/store/pgstore"
)

// App bundles the shared application dependencies.
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	Store        store.Store
	RedisManager *redis.Manager
	Service      *service.Service
}

// InitializeApp loads configuration and connects all shared dependencies.
func InitializeApp(ctx context.Context, createSchema bool) (*App, error) {
	cfg, configDir, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := NewLogger(&cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Configuration loaded", zap.String("config_dir", configDir))

	pg, err := pgstore.New(ctx, &cfg.PostgreSQL, logger, createSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	redisManager := redis.NewManager(&cfg.Redis, logger)

	cacheClient, err := redisManager.GetClient(redis.CacheDBIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis cache client: %w", err)
	}

	friendCache := cache.NewFriendList(cacheClient, time.Duration(cfg.Cache.FriendListTTL)*time.Second, logger)
	friendRepo := friends.NewRepository(pg, friendCache, logger)
	postRepo := posts.NewRepository(pg, logger)
	evaluator := privacy.NewEvaluator(friendRepo, logger)
	aggregator := feed.New(friendRepo, postRepo, evaluator, &cfg.Feed, logger)

	var profiles profile.Provider = profile.PlaceholderProvider{}
	if cfg.Profile.BaseURL != "" {
		profiles = profile.NewHTTPProvider(&cfg.Profile, logger)
	}

	svc := service.New(friendRepo, postRepo, evaluator, aggregator, profiles, cfg, logger)

	return &App{
		Config:       cfg,
		Logger:       logger,
		Store:        pg,
		RedisManager: redisManager,
		Service:      svc,
	}, nil
}

// Cleanup releases the application's shared resources.
func (a *App) Cleanup(ctx context.Context) {
	if a.RedisManager != nil {
		a.RedisManager.Close()
	}

	if closer, ok := a.Store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.Logger.Error("Failed to close store", zap.Error(err))
		}
	}

	_ = a.Logger.Sync()
}
