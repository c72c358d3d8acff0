// Command reqpiped wires the requirement-processing pipeline's
// components together and runs the queue's worker pool. Configuration
// loading beyond the handful of environment variables read here is
// out of scope (spec.md §1); a real deployment is expected to build
// config.Config itself (from env, file, or secrets manager) and call
// the same constructors this file calls.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/reqforge/reqpipe/analyzer"
	"github.com/reqforge/reqpipe/committer"
	"github.com/reqforge/reqpipe/generator"
	"github.com/reqforge/reqpipe/internal/config"
	"github.com/reqforge/reqpipe/internal/dbpool"
	"github.com/reqforge/reqpipe/orchestrator"
	"github.com/reqforge/reqpipe/provider"
	"github.com/reqforge/reqpipe/quality"
	"github.com/reqforge/reqpipe/queue"
	"github.com/reqforge/reqpipe/store"
)

func main() {
	logger := initLogger()
	defer logger.Sync()

	cfg := loadConfigFromEnv()

	gormDB, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	pool, err := dbpool.NewManager(gormDB, dbpool.DefaultConfig(), logger)
	if err != nil {
		logger.Fatal("failed to initialize connection pool", zap.Error(err))
	}
	defer pool.Close()

	redisClient := queue.NewRedisClient(queue.Config{
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	q := queue.New(redisClient, queue.Config{
		KeyPrefix:   cfg.Queue.KeyPrefix,
		Concurrency: cfg.Queue.Concurrency,
		Retry:       queue.DefaultRetryPolicy(),
	}, logger)

	taskStore, err := store.NewGormTaskStore(pool, q, logger)
	if err != nil {
		logger.Fatal("failed to initialize task store", zap.Error(err))
	}
	defer taskStore.Close()

	providerConfigs := make([]provider.Config, 0, len(cfg.Providers.Entries))
	for _, p := range cfg.Providers.Entries {
		providerConfigs = append(providerConfigs, provider.Config{
			Name:        p.Name,
			Protocol:    provider.Protocol(p.Protocol),
			BaseURL:     p.BaseURL,
			APIKey:      p.APIKey,
			Model:       p.Model,
			Timeout:     p.Timeout,
			RPS:         p.RPS,
			Temperature: p.Temperature,
			MaxTokens:   p.MaxTokens,
			Enabled:     p.Enabled,
		})
	}
	registry, err := provider.NewRegistry(providerConfigs, logger)
	if err != nil {
		logger.Fatal("failed to initialize provider registry", zap.Error(err))
	}
	registry.SetDefaultProvider(cfg.Providers.DefaultProvider)

	fallbackChain := cfg.Providers.FallbackOrder
	if len(fallbackChain) == 0 && cfg.Providers.DefaultProvider != "" {
		fallbackChain = []string{cfg.Providers.DefaultProvider}
	}

	orch := orchestrator.New(
		taskStore,
		analyzer.New(registry, fallbackChain),
		generator.New(registry, fallbackChain),
		quality.New(registry, fallbackChain),
		committer.New(committer.Identity{
			Name:           cfg.Git.Name,
			Email:          cfg.Git.Email,
			PrivateKeyPath: cfg.Git.PrivateKeyPath,
		}, logger),
		logger,
	)
	orch.Gate.EnforceGate = cfg.Gate.Enforce

	q.RegisterProcessor(func(ctx context.Context, taskID string) error {
		return orch.Run(ctx, taskID)
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("reqpiped starting", zap.Int64("concurrency", cfg.Queue.Concurrency))
	if err := q.Start(ctx); err != nil {
		logger.Fatal("queue stopped with error", zap.Error(err))
	}
	logger.Info("reqpiped stopped")
}

func initLogger() *zap.Logger {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// loadConfigFromEnv performs the minimal environment-variable reads
// needed to run this entrypoint. It is not a general-purpose loader —
// config loading (env parsing, file parsing, validation) is out of
// scope per spec.md §1; a real deployment supplies its own.
func loadConfigFromEnv() config.Config {
	concurrency, _ := strconv.ParseInt(getEnv("QUEUE_CONCURRENCY", "5"), 10, 64)
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	enforceGate := getEnv("QUALITY_GATE_ENFORCE", "false") == "true"

	return config.Config{
		Database: config.Database{
			DSN:                 getEnv("DATABASE_URL", ""),
			MaxOpenConns:        50,
			MaxIdleConns:        10,
			ConnMaxLifetime:     time.Hour,
			ConnMaxIdleTime:     10 * time.Minute,
			HealthCheckInterval: 30 * time.Second,
		},
		Redis: config.Redis{
			Addr:     getEnv("REDIS_URL", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Queue: config.Queue{
			Concurrency: concurrency,
			KeyPrefix:   "reqpipe:",
		},
		Providers: config.Providers{
			DefaultProvider: os.Getenv("LLM_DEFAULT_PROVIDER"),
		},
		Git: config.GitIdentity{
			Name:           getEnv("GIT_AUTHOR_NAME", "reqpiped"),
			Email:          getEnv("GIT_AUTHOR_EMAIL", "reqpiped@localhost"),
			PrivateKeyPath: os.Getenv("GIT_SSH_PRIVATE_KEY_PATH"),
		},
		Gate: config.Gate{Enforce: enforceGate},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
