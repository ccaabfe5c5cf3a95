/*
sweeper.go - Automated expiry sweeper

PURPOSE:
  Periodically runs the point-expiry and voucher-expiry sweeps so
  lapsed points and stale voucher instances don't require a manual
  admin trigger.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Both sweeps are idempotent, so overlapping or repeated runs are safe
  - Failures are logged and retried on the next tick

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour)
  - Enabled: Whether the sweeper is active (default: true)

USAGE:
  sweeper := NewSweeper(engine)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: RunSweep endpoint (manual trigger)
  - loyalty/sweep.go: SweepExpiredPoints
  - loyalty/voucher.go: SweepExpired
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/loyalty-engine/loyalty"
)

// Sweeper runs the expiry sweeps on an interval.
type Sweeper struct {
	Engine        *loyalty.Engine
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweeper creates a new sweeper.
func NewSweeper(engine *loyalty.Engine) *Sweeper {
	return &Sweeper{
		Engine:        engine,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the sweeper.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Sweeper] Disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	log.Printf("[Sweeper] Started with check interval: %v", s.CheckInterval)
}

// Stop stops the sweeper.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		log.Println("[Sweeper] Stopped")
	}
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.sweep()

	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) sweep() {
	ctx := context.Background()
	asOf := time.Now().UTC()

	points, err := s.Engine.Ledger.SweepExpiredPoints(ctx, asOf)
	if err != nil {
		log.Printf("[Sweeper] Point sweep error: %v", err)
	}
	vouchers, err := s.Engine.Vouchers.SweepExpired(ctx, asOf)
	if err != nil {
		log.Printf("[Sweeper] Voucher sweep error: %v", err)
	}

	if points > 0 || vouchers > 0 {
		log.Printf("[Sweeper] Completed: %d point entries expired, %d vouchers expired", points, vouchers)
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (s *Sweeper) RunNow() {
	s.sweep()
}
