package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/seplitza/backend-rejuvena/internal/analytics"
	"github.com/seplitza/backend-rejuvena/internal/api"
	"github.com/seplitza/backend-rejuvena/internal/channel"
	"github.com/seplitza/backend-rejuvena/internal/config"
	"github.com/seplitza/backend-rejuvena/internal/engine"
	"github.com/seplitza/backend-rejuvena/internal/pkg/distlock"
	"github.com/seplitza/backend-rejuvena/internal/pkg/logger"
	"github.com/seplitza/backend-rejuvena/internal/repository/postgres"
	"github.com/seplitza/backend-rejuvena/internal/template"
	"github.com/seplitza/backend-rejuvena/internal/webhook"
)

func main() {
	configPath := "config/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		configPath = v
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		logger.Error("load config", "path", configPath, "error", err.Error())
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	logger.Info("starting campaign engine")

	// Database
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("open database", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		logger.Error("ping database", "error", err.Error())
		os.Exit(1)
	}
	pingCancel()
	logger.Info("connected to database")

	// Optional Redis run lock. The engine runs fine without it; the lock
	// only keeps two scheduler replicas from running the same tick.
	var runLock engine.RunLock
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		rctx, rcancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(rctx).Err(); err != nil {
			logger.Warn("redis unavailable, running without run lock",
				"addr", cfg.Redis.Addr, "error", err.Error())
			redisClient.Close()
			redisClient = nil
		} else {
			runLock = distlock.NewRedisLock(redisClient, "campaign-engine:run", cfg.Redis.LockTTL())
			logger.Info("redis run lock enabled", "addr", cfg.Redis.Addr)
		}
		rcancel()
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Delivery channel: SES when enabled, otherwise SparkPost.
	var delivery engine.DeliveryChannel
	if cfg.SES.Enabled {
		ses, err := channel.NewSESChannel(context.Background(),
			cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region,
			cfg.SES.FromName, cfg.SES.FromEmail)
		if err != nil {
			logger.Error("init ses channel", "error", err.Error())
			os.Exit(1)
		}
		delivery = ses
		logger.Info("delivery channel: ses", "region", cfg.SES.Region)
	} else {
		delivery = channel.NewSparkPostChannel(cfg.SparkPost.APIKey, cfg.SparkPost.BaseURL,
			cfg.SparkPost.FromName, cfg.SparkPost.FromEmail, cfg.SparkPost.Timeout())
		logger.Info("delivery channel: sparkpost")
	}

	// Stores and services
	campaigns := postgres.NewCampaignStore(db)
	deliveryLog := postgres.NewDeliveryLog(db)
	source := postgres.NewRecipientSource(db)
	renderer := template.NewRenderer(db)

	dispatcher := engine.NewDispatcher(campaigns, deliveryLog, renderer, delivery, source, cfg.Tracking.BaseURL)
	dispatcher.SetPolicy(engine.Policy{RetryFailedSteps: cfg.Engine.RetryFailedSteps})
	dispatcher.SetSendTimeout(cfg.Engine.SendTimeout())

	resolver := engine.NewTriggerResolver(source)
	orchestrator := engine.NewOrchestrator(campaigns, deliveryLog, resolver, dispatcher, runLock)
	orchestrator.SetInterval(cfg.Engine.Interval())
	orchestrator.SetConcurrency(cfg.Engine.Concurrency)

	if err := orchestrator.Start(); err != nil {
		logger.Error("start orchestrator", "error", err.Error())
		os.Exit(1)
	}
	logger.Info("orchestrator started",
		"interval", cfg.Engine.Interval().String(),
		"concurrency", cfg.Engine.Concurrency)

	// HTTP surface: delivery webhooks plus the analytics read API.
	ingestor := engine.NewIngestor(deliveryLog)
	receiver := webhook.NewReceiver(ingestor)
	reports := analytics.NewService(campaigns, deliveryLog)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://app.rejuvena.app", "http://localhost:5173"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","last_run":%q}`, orchestrator.LastRunAt().UTC().Format(time.RFC3339))
	})
	receiver.Mount(r)
	reports.Mount(r)
	api.NewHandlers(orchestrator).Mount(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	orchestrator.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err.Error())
	}
	logger.Info("stopped")
}
