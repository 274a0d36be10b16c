package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"lesson-sync/server/internal/api"
	"lesson-sync/server/internal/config"
	"lesson-sync/server/internal/lesson"
	"lesson-sync/server/internal/relay"
	"lesson-sync/server/internal/timeline"
)

func main() {
	// 本地默认用内存课程表；多实例部署时 lessons.store 设为 redis，并用 LESSONSYNC_REDIS_ADDR 指定地址。
	configPath := flag.String("config", "server/configs/lessonsync.yaml", "config file path")
	envPath := flag.String("env", ".env", "dotenv file path")
	flag.Parse()

	if _, err := os.Stat(*envPath); err == nil {
		if err := godotenv.Load(*envPath); err != nil {
			log.Fatalf("load %s: %v", *envPath, err)
		}
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, logCloser, err := config.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logCloser.Close()

	var store lesson.Store
	switch cfg.Lessons.Store {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Fatalf("connect redis %s: %v", cfg.Redis.Addr, err)
		}
		store = lesson.NewRedisStore(client, cfg.Redis.KeyPrefix, cfg.Lessons.TTL)
	default:
		store = lesson.NewInMemoryStore()
	}

	relayConfig := relay.Config{
		PingInterval:  cfg.Relay.PingInterval,
		WriteTimeout:  cfg.Relay.WriteTimeout,
		QueueCapacity: cfg.Relay.QueueCapacity,
		Logger:        logger,
	}
	if cfg.Relay.JournalLimit >= 0 {
		relayConfig.Journal = timeline.NewInMemoryStore(cfg.Relay.JournalLimit)
	}
	relays := relay.NewRegistry(relayConfig)
	defer relays.Close()

	server := api.NewServer(cfg, store, relays, logger)
	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      server.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Printf("lessonrelay listening on %s (store=%s)", cfg.Addr(), cfg.Lessons.Store)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}
