/*
scheduler.go - Periodic snapshot sync

PURPOSE:
  Keeps the stock snapshot close to the live levels so new count sessions
  start from a recent baseline without somebody calling sync by hand.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Syncs once immediately on start, then on every tick
  - Sessions already created are unaffected: their lines carry their own
    system quantities

CONFIGURATION:
  - SYNC_INTERVAL: How often to sync (0 disables the scheduler)

USAGE:
  scheduler := NewSyncScheduler(engine, 15*time.Minute)
  scheduler.Start()
  // ... later
  scheduler.Stop()
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/stockcount/count"
)

// SyncScheduler runs the snapshot sync on a ticker.
type SyncScheduler struct {
	Engine   *count.Engine
	Interval time.Duration
	Timeout  time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastRun time.Time
	lastErr error
}

// NewSyncScheduler creates a scheduler. An interval <= 0 disables it.
func NewSyncScheduler(engine *count.Engine, interval time.Duration) *SyncScheduler {
	return &SyncScheduler{
		Engine:   engine,
		Interval: interval,
		Timeout:  5 * time.Minute,
	}
}

// Enabled reports whether Start will run anything.
func (s *SyncScheduler) Enabled() bool {
	return s.Interval > 0
}

// Start begins the scheduler.
func (s *SyncScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled() {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run(s.ticker, s.stop)

	log.Printf("[Scheduler] Started with sync interval: %v", s.Interval)
}

// Stop stops the scheduler and waits for a running sync to finish.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	if s.ticker == nil {
		s.mu.Unlock()
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.ticker = nil
	s.mu.Unlock()

	s.wg.Wait()
	log.Println("[Scheduler] Stopped")
}

func (s *SyncScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.RunNow()

	for {
		select {
		case <-ticker.C:
			s.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow syncs once and records the outcome.
func (s *SyncScheduler) RunNow() {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	res, err := s.Engine.Sync(ctx, systemActor)

	s.mu.Lock()
	s.lastRun, s.lastErr = time.Now().UTC(), err
	s.mu.Unlock()

	if err != nil {
		log.Printf("[Scheduler] Sync failed: %v", err)
		return
	}
	log.Printf("[Scheduler] Synced %d positions", res.Positions)
}

// LastRun returns when the last sync ran and how it ended.
func (s *SyncScheduler) LastRun() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}
