package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/fitflow/retention/internal/api"
	"github.com/fitflow/retention/internal/config"
	"github.com/fitflow/retention/internal/events"
	"github.com/fitflow/retention/internal/pkg/pii"
	"github.com/fitflow/retention/internal/repository/postgres"
	"github.com/fitflow/retention/internal/service/playbook"
	"github.com/fitflow/retention/internal/service/risk"
	"github.com/fitflow/retention/internal/template"
	"github.com/fitflow/retention/internal/worker"
)

// checkPortAvailable verifies that the target port is not already in use,
// so a stale process does not silently swallow traffic.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := checkPortAvailable(cfg.Server.Host, cfg.Server.Port); err != nil {
		log.Fatalf("Pre-flight check failed: %v", err)
	}

	// Fail fast on a bad contact encryption key rather than at first import.
	if cfg.PII.EncryptionKeyHex != "" {
		if _, err := pii.NewCodecFromHex(cfg.PII.EncryptionKeyHex); err != nil {
			log.Fatalf("Invalid PII_ENCRYPTION_KEY: %v", err)
		}
		log.Println("Contact encryption key validated")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Failed to ping database: %v", err)
	}
	pingCancel()
	log.Println("Connected to database")

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.URL})
		} else {
			redisClient = redis.NewClient(opts)
		}
		log.Println("Redis send-cap counters enabled")
	} else {
		log.Println("Redis not configured, send caps fall back to Postgres counts")
	}

	var audit playbook.AuditPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer publisher.Close()
		audit = publisher
		log.Printf("Kafka execution audit enabled (topic %s)", cfg.Kafka.Topic)
	}

	riskRepo := postgres.NewRiskRepo(db)
	playbookRepo := postgres.NewPlaybookRepo(db)
	templateRepo := postgres.NewTemplateRepo(db)
	messageRepo := postgres.NewMessageRepo(db)

	riskSvc := risk.NewService(riskRepo)
	renderer := template.NewRenderer(templateRepo)
	counter := worker.NewSendCounter(redisClient, messageRepo)
	playbookSvc := playbook.NewService(playbookRepo, riskSvc, renderer, counter, audit)

	server := api.NewServer(riskSvc, playbookSvc, templateRepo, renderer, messageRepo, riskRepo)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting retention API on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
