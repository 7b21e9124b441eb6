package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/fitflow/retention/internal/config"
	"github.com/fitflow/retention/internal/events"
	"github.com/fitflow/retention/internal/repository/postgres"
	"github.com/fitflow/retention/internal/service/playbook"
	"github.com/fitflow/retention/internal/service/risk"
	"github.com/fitflow/retention/internal/template"
	"github.com/fitflow/retention/internal/worker"
)

// The worker runs the periodic retention sweep: per-organization risk
// recalculation, no-check-in playbook triggering, and win-back evaluation.
// It shares no state with the API server beyond Postgres and Redis.
func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
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
	}

	var audit playbook.AuditPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer publisher.Close()
		audit = publisher
	}

	riskRepo := postgres.NewRiskRepo(db)
	playbookRepo := postgres.NewPlaybookRepo(db)
	templateRepo := postgres.NewTemplateRepo(db)
	messageRepo := postgres.NewMessageRepo(db)
	orgRepo := postgres.NewOrgRepo(db)

	riskSvc := risk.NewService(riskRepo)
	renderer := template.NewRenderer(templateRepo)
	counter := worker.NewSendCounter(redisClient, messageRepo)
	playbookSvc := playbook.NewService(playbookRepo, riskSvc, renderer, counter, audit)

	sweeper := worker.NewSweeper(playbookSvc, orgRepo, redisClient, db, cfg.Retention.SweepInterval(), risk.BatchOptions{
		BatchSize: cfg.Retention.BatchSize,
		Workers:   cfg.Retention.Workers,
		Deadline:  cfg.Retention.BatchDeadline(),
	})
	sweeper.Start()
	log.Printf("Retention sweeper started (interval %s)", cfg.Retention.SweepInterval())

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	log.Println("Shutting down...")
	sweeper.Stop()
	log.Println("Worker stopped")
}
