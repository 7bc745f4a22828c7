/*
scheduler.go - Periodic reward accrual

PURPOSE:
  Runs customer accrual for every active customer on a fixed interval, so
  points show up without anyone calling the process endpoint.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start
  - One customer's failure is logged and does not stop the sweep
  - Accrual is idempotent; overlapping with a manual process call only
    means one of them finds nothing left to do

CONFIGURATION:
  - Interval: How often to run (config scheduler.interval, default 1h)
  - Enabled:  Whether scheduler is active (default: false)

USAGE:
  scheduler := NewAccrualScheduler(store, engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ProcessCustomerRewards endpoint (manual accrual)
  - rewards/accrual.go: AccrualEngine
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/reward-ledger/rewards"
)

// CustomerLister lists the customers a sweep visits.
type CustomerLister interface {
	ActiveCustomers(ctx context.Context) ([]rewards.Customer, error)
}

// SweepResult summarizes one scheduler run.
type SweepResult struct {
	Customers     int
	Transactions  int
	PointsAwarded rewards.Points
	Failures      int
}

// AccrualScheduler handles automated accrual.
type AccrualScheduler struct {
	Customers CustomerLister
	Engine    *rewards.AccrualEngine
	Interval  time.Duration
	Enabled   bool

	logger *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewAccrualScheduler creates a new scheduler. It is disabled until Enabled
// is set.
func NewAccrualScheduler(customers CustomerLister, engine *rewards.AccrualEngine, logger *zap.Logger) *AccrualScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccrualScheduler{
		Customers: customers,
		Engine:    engine,
		Interval:  time.Hour,
		logger:    logger.Named("scheduler"),
	}
}

// Start begins the scheduler.
func (s *AccrualScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.logger.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	s.logger.Info("started", zap.Duration("interval", s.Interval))
}

// Stop stops the scheduler and waits for an in-flight sweep to finish.
func (s *AccrualScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.logger.Info("stopped")
	}
}

func (s *AccrualScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	s.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow performs one sweep over all active customers.
func (s *AccrualScheduler) RunNow(ctx context.Context) SweepResult {
	result := SweepResult{PointsAwarded: rewards.PointsFromInt(0)}

	customers, err := s.Customers.ActiveCustomers(ctx)
	if err != nil {
		s.logger.Error("listing customers", zap.Error(err))
		return result
	}

	for _, c := range customers {
		if ctx.Err() != nil {
			break
		}
		res, err := s.Engine.AccrueCustomer(ctx, c.ID)
		if err != nil {
			result.Failures++
			s.logger.Warn("accrual failed", zap.String("customer_id", string(c.ID)), zap.Error(err))
			continue
		}
		result.Customers++
		result.Transactions += res.Processed
		result.PointsAwarded = result.PointsAwarded.Add(res.PointsAwarded)
	}

	if result.Transactions > 0 || result.Failures > 0 {
		s.logger.Info("sweep completed",
			zap.Int("customers", result.Customers),
			zap.Int("transactions", result.Transactions),
			zap.String("points", rewards.FormatPoints(result.PointsAwarded)),
			zap.Int("failures", result.Failures))
	}
	return result
}
