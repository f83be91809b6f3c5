package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/marketplace-scraper/internal/api"
	"github.com/maltedev/marketplace-scraper/internal/browser"
	"github.com/maltedev/marketplace-scraper/internal/config"
	"github.com/maltedev/marketplace-scraper/internal/database"
	"github.com/maltedev/marketplace-scraper/internal/events"
	"github.com/maltedev/marketplace-scraper/internal/jobs"
	"github.com/maltedev/marketplace-scraper/internal/scraper"
	"github.com/maltedev/marketplace-scraper/internal/sites"
	"github.com/maltedev/marketplace-scraper/internal/storage"
	"github.com/maltedev/marketplace-scraper/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := sites.Builtin()
	if err != nil {
		log.Error("failed to load site tables", "error", err)
		os.Exit(1)
	}
	if cfg.Scraper.TablesDir != "" {
		if err := registry.Override(cfg.Scraper.TablesDir); err != nil {
			log.Error("failed to load site tables", "dir", cfg.Scraper.TablesDir, "error", err)
			os.Exit(1)
		}
	}

	launcher, err := browser.NewLauncher(cfg.Browser.Driver, cfg.BrowserOptions(), log)
	if err != nil {
		log.Error("failed to initialize browser", "error", err)
		os.Exit(1)
	}

	engine := scraper.NewEngine(launcher, storage.NewPersister(nil, log), cfg.EngineConfig(), log)

	var (
		sinks  []jobs.Sink
		outbox api.OutboxStats
	)
	if cfg.Database.Enabled {
		db, err := database.New(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			log.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := database.Migrate(ctx, db); err != nil {
			log.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}

		repo := database.NewOutboxRepository(db)
		var publisher *events.Publisher
		if cfg.Redis.Enabled {
			redisClient := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer redisClient.Close()

			if err := redisClient.Ping(ctx).Err(); err != nil {
				log.Error("failed to connect to Redis", "error", err)
				os.Exit(1)
			}

			publisher = events.NewPublisher(db, repo, cfg.Redis.Stream, log)
			outbox = repo

			relay := database.NewRelay(repo, redisClient, log, database.RelayConfig{
				PollInterval: cfg.Redis.PollInterval,
				BatchSize:    cfg.Redis.BatchSize,
			})
			go func() {
				if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("relay stopped with error", "error", err)
				}
			}()
		}

		sinks = append(sinks, jobs.NewStoreSink(db, database.NewResultStore(), publisher, log))
	}

	manager := jobs.NewManager(engine, registry, jobs.Config{
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		PerMinute:     cfg.Jobs.PerMinute,
		MaxPages:      cfg.Jobs.MaxPages,
		DefaultPages:  cfg.Jobs.DefaultPages,
		History:       cfg.Jobs.History,
		OutputDir:     cfg.Output.PrimaryDir,
		FallbackDir:   cfg.Output.FallbackDir,
	}, log, sinks...)

	handler := api.NewRouter(api.NewHandlers(manager, outbox, log), api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.WriteTimeout,
		AccessLog:      cfg.Logging.Level == "debug",
	})

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("server starting",
		"addr", server.Addr,
		"driver", cfg.Browser.Driver,
		"sites", registry.Keys(),
		"database", cfg.Database.Enabled,
		"events", cfg.Redis.Enabled,
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
