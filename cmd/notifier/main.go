package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/notification-dispatch/internal/alert"
	"github.com/ignite/notification-dispatch/internal/api"
	"github.com/ignite/notification-dispatch/internal/config"
	"github.com/ignite/notification-dispatch/internal/dispatch"
	"github.com/ignite/notification-dispatch/internal/email"
	"github.com/ignite/notification-dispatch/internal/notification"
	"github.com/ignite/notification-dispatch/internal/pkg/distlock"
	"github.com/ignite/notification-dispatch/internal/pkg/logger"
	"github.com/ignite/notification-dispatch/internal/rabbit"
	"github.com/ignite/notification-dispatch/internal/storage"
)

// triggerWorkers sizes the scheduled-job pool: one slot for a long
// batch sweep plus headroom for summary fan-outs.
const triggerWorkers = 4

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

// registryOverrides converts configured per-type adjustments into
// registry overrides, dropping entries that name unknown types or
// strategies.
func registryOverrides(cfg config.NotificationsConfig) map[notification.Type]notification.Override {
	overrides := make(map[notification.Type]notification.Override, len(cfg.Types))
	for name, tc := range cfg.Types {
		t, err := notification.ParseType(name)
		if err != nil {
			log.Printf("[config] Ignoring override for unknown type %q", name)
			continue
		}

		o := notification.Override{MaxDelay: tc.MaxDelay()}
		if tc.Strategy != "" {
			s, err := notification.ParseStrategy(tc.Strategy)
			if err != nil {
				log.Printf("[config] Ignoring strategy override for %s: %v", name, err)
			} else {
				o.Strategy = s
			}
		}
		overrides[t] = o
	}
	return overrides
}

func main() {
	log.Println("╔════════════════════════════════════════════════════════════╗")
	log.Println("║  Notification Dispatch Service (cmd/notifier/main.go)      ║")
	log.Println("║  RabbitMQ consumer, scheduled triggers and RPC surface     ║")
	log.Println("╚════════════════════════════════════════════════════════════╝")

	// Load configuration
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))

	// Pre-flight check: verify the target port is available
	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", port)

	// PostgreSQL is the hard dependency: user lookups, batches and
	// summary aggregates all live there.
	db, err := storage.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	store := storage.New(db)

	registry := notification.NewRegistry(registryOverrides(cfg.Notifications))

	// Redis is optional; without it flush locks fall back to
	// PostgreSQL advisory locks on the store connection.
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Printf("[redis] Invalid URL, using advisory locks: %v", err)
		} else {
			redisClient = redis.NewClient(opts)
			pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := redisClient.Ping(pingCtx).Err(); err != nil {
				log.Printf("[redis] Unreachable, using advisory locks: %v", err)
				redisClient.Close()
				redisClient = nil
			}
			cancel()
		}
	}
	locks := func(key string) distlock.DistLock {
		return distlock.New(redisClient, db, key, cfg.Redis.LockTTL())
	}

	sender := email.New(cfg.Email)
	signer := email.NewLinkSigner(cfg.Email.UnsubscribeBaseURL, cfg.Email.UnsubscribeSecret)
	alerts := alert.NewDiscordSink(cfg.Alerting)

	handlers := dispatch.NewHandlers(store, sender, signer, registry, locks, cfg.Notifications.AdminEmail)

	// The broker is a soft dependency: without it the service still
	// answers health checks, alerts and batch sweeps, and reports
	// itself degraded.
	var (
		broker     *rabbit.Client
		producer   rabbit.Publisher
		dispatcher *dispatch.Dispatcher
	)
	broker, err = rabbit.New(cfg.Broker)
	if err != nil {
		log.Printf("[broker] Connect failed, running degraded: %v", err)
		broker = nil
	} else {
		producer = rabbit.NewProducer(broker, registry)
		dispatcher = dispatch.New(cfg.Broker, broker, handlers)
		dispatcher.Start()
	}

	triggers := dispatch.NewTriggers(store, producer, handlers, registry, triggerWorkers)
	triggers.Start()

	// Wire the RPC surface. Nil components stay nil interfaces so the
	// handlers can answer 503 instead of dereferencing them.
	var dispatcherStatus api.DispatcherStatus
	if dispatcher != nil {
		dispatcherStatus = dispatcher
	}
	var brokerStatus api.Broker
	if broker != nil {
		brokerStatus = broker
	}
	apiHandlers := api.NewHandlers(producer, dispatcherStatus, triggers, alerts, brokerStatus)
	server := api.NewServer(cfg.Server, apiHandlers)

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", host, port)
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized — service is ready")

	<-done
	log.Println("Shutting down...")

	// Stop intake first, then drain the consume loop and the job
	// pool, then drop the broker connection.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	if dispatcher != nil {
		dispatcher.Stop()
	}
	triggers.Stop()
	if broker != nil {
		broker.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}

	log.Println("Service stopped")
}
