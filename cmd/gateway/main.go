package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chatbridge/wa-gateway/internal/audit"
	"github.com/chatbridge/wa-gateway/internal/driver"
	"github.com/chatbridge/wa-gateway/internal/driver/simdriver"
	"github.com/chatbridge/wa-gateway/internal/events"
	"github.com/chatbridge/wa-gateway/internal/export"
	"github.com/chatbridge/wa-gateway/internal/httpapi"
	"github.com/chatbridge/wa-gateway/internal/messaging"
	"github.com/chatbridge/wa-gateway/internal/ratelimit"
	"github.com/chatbridge/wa-gateway/internal/session"
)

func main() {
	httpConfig := httpapi.DefaultConfig()
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		httpConfig.ListenAddr = v
	}

	regConfig := session.DefaultConfig()
	if v := os.Getenv("DATA_DIR"); v != "" {
		regConfig.DataDir = v
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			regConfig.DefaultTTL = d
		}
	}
	if v := os.Getenv("DEFAULT_COUNTRY_CODE"); v != "" {
		regConfig.CountryCode = v
	}
	if v := os.Getenv("CONNECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			regConfig.ConnectTimeout = d
		}
	}
	if v := os.Getenv("DESTROY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			regConfig.DestroyTimeout = d
		}
	}

	sweepInterval := session.DefaultSweepInterval
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			sweepInterval = d
		}
	}
	archiveRetention := export.DefaultArchiveRetention
	if v := os.Getenv("ARCHIVE_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			archiveRetention = d
		}
	}
	retentionInterval := export.DefaultRetentionInterval
	if v := os.Getenv("ARCHIVE_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			retentionInterval = d
		}
	}

	// --- NATS (optional) ---
	var feed *events.Feed
	var natsPub *messaging.NATSPublisher
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = natsURL
		if v := os.Getenv("SERVER_NAME"); v != "" {
			natsConfig.Name = v
		}
		var err error
		natsPub, err = messaging.NewNATSPublisher(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		feed = events.NewFeed(natsPub)
	} else {
		feed = events.NewFeed(nil)
	}

	// --- Redis rate limiter (optional) ---
	var limiter *ratelimit.Limiter
	var rdb *redis.Client
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			cancel()
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		cancel()
		limiter = ratelimit.NewLimiter(rdb)
	}

	// --- PostgreSQL export audit (optional) ---
	var auditStore *audit.Store
	var auditLog export.AuditLog
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		var err error
		auditStore, err = audit.Open(databaseURL)
		if err != nil {
			log.Fatalf("failed to open audit store: %v", err)
		}
		auditLog = auditStore
	}

	// --- Driver backend ---
	backend := os.Getenv("DRIVER_BACKEND")
	if backend == "" {
		backend = "sim"
	}
	var factory driver.Factory
	switch backend {
	case "sim":
		opts := simdriver.Options{
			ChallengeDelay: 2 * time.Second,
			ConfirmDelay:   5 * time.Second,
			ReadyDelay:     1 * time.Second,
		}
		factory = simdriver.Factory(opts)
	default:
		log.Fatalf("unknown driver backend %q", backend)
	}

	registry := session.NewRegistry(regConfig, factory, feed)
	exporter := export.NewCoordinator(registry, regConfig.DataDir, auditLog)
	server := httpapi.NewServer(httpConfig, registry, exporter, feed, limiter)

	log.Printf("WA gateway starting")
	log.Printf("  listen_addr:       %s", httpConfig.ListenAddr)
	log.Printf("  data_dir:          %s", regConfig.DataDir)
	log.Printf("  session_ttl:       %s", regConfig.DefaultTTL)
	log.Printf("  sweep_interval:    %s", sweepInterval)
	log.Printf("  archive_retention: %s", archiveRetention)
	log.Printf("  driver_backend:    %s", backend)
	log.Printf("  country_code:      %s", regConfig.CountryCode)
	log.Printf("  nats:              %v", natsPub != nil)
	log.Printf("  redis_limiter:     %v", limiter != nil)
	log.Printf("  audit_store:       %v", auditStore != nil)

	ctx, cancel := context.WithCancel(context.Background())
	go session.StartSweeper(ctx, registry, sweepInterval)
	go export.StartRetention(ctx, filepath.Join(regConfig.DataDir, "archives"), archiveRetention, retentionInterval)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown error: %v", err)
		}
		registry.Close(shutdownCtx)

		if natsPub != nil {
			natsPub.Close()
		}
		if rdb != nil {
			rdb.Close()
		}
		if auditStore != nil {
			auditStore.Close()
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
