package worker

import (
	"context"
	"database/sql"
	"log"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fitflow/retention/internal/pkg/distlock"
	"github.com/fitflow/retention/internal/pkg/logger"
	"github.com/fitflow/retention/internal/service/playbook"
	"github.com/fitflow/retention/internal/service/risk"
)

// OrgLister enumerates the tenants a sweep pass covers.
type OrgLister interface {
	ListOrganizationIDs(ctx context.Context) ([]string, error)
}

// SweepRunner is the slice of the playbook service one sweep pass consumes.
type SweepRunner interface {
	RecalculateAndTrigger(ctx context.Context, orgID string, opts risk.BatchOptions) (*playbook.SweepResult, error)
	TriggerForRecentCancels(ctx context.Context, orgID string, days int) (int, error)
}

// Sweeper periodically recalculates risk scores and fires playbook triggers
// for every organization. A distributed lock per organization keeps sweeps
// single-flight across worker instances.
type Sweeper struct {
	playbooks SweepRunner
	orgs      OrgLister
	redis     *redis.Client
	db        *sql.DB

	interval time.Duration
	batch    risk.BatchOptions

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	sweepsRun atomic.Int64
	lastRunAt atomic.Int64
}

// NewSweeper creates a sweeper. redisClient may be nil; locking then falls
// back to Postgres advisory locks on db.
func NewSweeper(playbooks SweepRunner, orgs OrgLister, redisClient *redis.Client, db *sql.DB, interval time.Duration, batch risk.BatchOptions) *Sweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Sweeper{
		playbooks: playbooks,
		orgs:      orgs,
		redis:     redisClient,
		db:        db,
		interval:  interval,
		batch:     batch,
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		log.Printf("[Sweeper] Starting retention sweep loop, interval=%s", s.interval)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				log.Println("[Sweeper] Stopped")
				return
			case <-ticker.C:
				s.sweepAll()
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// LastRunAt reports when the last sweep pass completed.
func (s *Sweeper) LastRunAt() time.Time {
	return time.Unix(s.lastRunAt.Load(), 0)
}

// SweepsRun reports how many sweep passes have completed.
func (s *Sweeper) SweepsRun() int64 {
	return s.sweepsRun.Load()
}

func (s *Sweeper) sweepAll() {
	orgIDs, err := s.orgs.ListOrganizationIDs(s.ctx)
	if err != nil {
		log.Printf("[Sweeper] List organizations: %v", err)
		return
	}

	for _, orgID := range orgIDs {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		s.SweepOrg(s.ctx, orgID)
	}

	s.sweepsRun.Add(1)
	s.lastRunAt.Store(time.Now().Unix())
}

// SweepOrg runs one organization's recalculate-and-trigger pass plus the
// win-back sweep, under a per-organization lock. Lock contention means
// another instance is already sweeping; that is not an error.
func (s *Sweeper) SweepOrg(ctx context.Context, orgID string) {
	lock := distlock.NewLock(s.redis, s.db, "sweep:"+orgID, 10*time.Minute)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		log.Printf("[Sweeper] Lock org %s: %v", orgID, err)
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			log.Printf("[Sweeper] Release lock for org %s: %v", orgID, err)
		}
	}()

	opts := s.batch
	var evaluated, triggered, skipped int
	for {
		res, err := s.playbooks.RecalculateAndTrigger(ctx, orgID, opts)
		if err != nil {
			log.Printf("[Sweeper] Recalculate org %s: %v", orgID, err)
			return
		}
		evaluated += res.Evaluated
		triggered += res.Triggered
		skipped += res.Skipped
		if res.Batch.NextCursor == "" {
			break
		}
		opts.Cursor = res.Batch.NextCursor
	}
	logger.Info("sweep complete",
		"organization_id", orgID,
		"evaluated", evaluated,
		"triggered", triggered,
		"skipped", skipped)

	if n, err := s.playbooks.TriggerForRecentCancels(ctx, orgID, 0); err != nil {
		log.Printf("[Sweeper] Win-back sweep org %s: %v", orgID, err)
	} else if n > 0 {
		log.Printf("[Sweeper] Org %s: win-back triggered %d members", orgID, n)
	}
}
