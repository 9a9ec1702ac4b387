/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the intake ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load config (file + INTAKE_* env)
  2. Open the store (memory, sqlite, sqlite3 or postgres)
  3. Open the change-feed publisher and export sink
  4. Wire orchestrator, aggregator, reconciler and handler
  5. Start the reconcile scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Config file (yaml, toml or json; optional)
  -port    HTTP server port (overrides server.port)
  -db      Database path or DSN (overrides the configured driver's DSN)
           Use ":memory:" for an in-memory sqlite database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the reconcile scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close publisher and database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/intake.db"

  # Run against postgres
  INTAKE_STORAGE_DRIVER=postgres \
  INTAKE_STORAGE_POSTGRES_DSN=postgres://intake@localhost/intake ./server

  # Publish the change feed to Kafka
  INTAKE_EVENTS_DRIVER=kafka INTAKE_EVENTS_KAFKA_BROKERS=localhost:9092 ./server

SEE ALSO:
  - config/config.go: Every key and its default
  - api/server.go: Router configuration
  - store/sqldb/store.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/intake-ledger/api"
	"github.com/warp/intake-ledger/config"
	"github.com/warp/intake-ledger/events"
	"github.com/warp/intake-ledger/export"
	"github.com/warp/intake-ledger/intake"
	"github.com/warp/intake-ledger/intake/store"
	"github.com/warp/intake-ledger/metrics"
	"github.com/warp/intake-ledger/store/sqldb"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "Config file (yaml, toml or json)")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "Database path or DSN (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		if cfg.Storage.Driver == "postgres" {
			cfg.Storage.PostgresDSN = *dbPath
		} else {
			cfg.Storage.SQLitePath = *dbPath
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	ctx := context.Background()
	loc, _ := cfg.Ledger.Location()
	policy, _ := intake.ParseNumericPolicy(cfg.Ledger.NumericPolicy)

	// Initialize store
	st, closeStore, err := openStore(ctx, cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer closeStore()

	publisher, closePublisher, err := openPublisher(cfg.Events)
	if err != nil {
		log.Fatalf("Failed to initialize event publisher: %v", err)
	}
	defer closePublisher()

	sink, err := openSink(ctx, cfg.Export)
	if err != nil {
		log.Fatalf("Failed to initialize export sink: %v", err)
	}

	m := metrics.New()

	// Initialize handler
	handler := api.NewHandler(st)
	handler.Validator = intake.Validator{Policy: policy}
	handler.Orchestrator.Atomic = cfg.Storage.AtomicMutations
	handler.Orchestrator.Publisher = publisher
	handler.Orchestrator.Observer = m
	handler.Aggregator.Location = loc
	handler.Aggregator.MaxRangeDays = cfg.Ledger.MaxRangeDays
	handler.Repairs = m
	if sink != nil {
		handler.Exporter = export.NewExporter(handler.Aggregator, sink)
	}

	scheduler := api.NewReconcileScheduler(handler.Reconciler)
	scheduler.Enabled = cfg.Reconcile.Enabled
	scheduler.CheckInterval = cfg.Reconcile.Interval
	scheduler.WindowDays = cfg.Reconcile.WindowDays
	scheduler.Location = loc
	scheduler.Repairs = m
	scheduler.Start()

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Auth:           api.APIKeyAuth(cfg.Server.APIKey),
		Metrics:        m,
	})

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("[Server] Listening on %s (storage=%s, events=%s, export=%s, policy=%s)",
			server.Addr, cfg.Storage.Driver, cfg.Events.Driver, cfg.Export.Driver, policy)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[Server] Shutting down...")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Server] Forced to shutdown: %v", err)
	}

	log.Println("[Server] Stopped")
}

// openStore returns the configured backend and its closer.
func openStore(ctx context.Context, cfg config.StorageConfig) (intake.Store, func(), error) {
	if cfg.Driver == "memory" {
		return store.NewTxMemory(), func() {}, nil
	}
	st, err := sqldb.Open(ctx, cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, nil, err
	}
	return st, func() {
		if err := st.Close(); err != nil {
			log.Printf("[Server] Closing database: %v", err)
		}
	}, nil
}

// openPublisher returns the change-feed publisher and its closer.
func openPublisher(cfg config.EventsConfig) (intake.Publisher, func(), error) {
	var (
		p   intake.Publisher
		c   io.Closer
		err error
	)
	switch cfg.Driver {
	case "none", "":
		return intake.NopPublisher{}, func() {}, nil
	case "log":
		return events.LogPublisher{}, func() {}, nil
	case "kafka":
		var kp *events.KafkaPublisher
		kp, err = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		p, c = kp, kp
	case "rabbitmq":
		var rp *events.RabbitPublisher
		rp, err = events.NewRabbitPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey)
		p, c = rp, rp
	default:
		return nil, nil, fmt.Errorf("unknown events driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, nil, err
	}
	return p, func() {
		if err := c.Close(); err != nil {
			log.Printf("[Events] Closing publisher: %v", err)
		}
	}, nil
}

// openSink returns the export sink, or nil when exports are disabled.
func openSink(ctx context.Context, cfg config.ExportConfig) (export.Sink, error) {
	switch cfg.Driver {
	case "none", "":
		return nil, nil
	case "memory":
		return export.NewMemorySink(), nil
	case "fs":
		return export.NewFSSink(cfg.FSRoot)
	case "s3":
		return export.NewS3Sink(ctx, export.S3Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			PathStyle: cfg.S3.PathStyle,
			Prefix:    cfg.S3.Prefix,
		})
	}
	return nil, fmt.Errorf("unknown export driver %q", cfg.Driver)
}
