// Package jobs provides background refresh and cache maintenance.
package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cinecache/catalog"
	"cinecache/models"
	"cinecache/repository"
)

// Scheduler periodically refreshes the remote-fed categories and sweeps
// stale records out of the cache.
type Scheduler struct {
	syncer          *catalog.Syncer
	repo            *repository.MovieRepository
	refreshInterval time.Duration
	sweepInterval   time.Duration
	sweepTTL        time.Duration
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	running         bool
	mu              sync.RWMutex
}

// NewScheduler creates a scheduler. Non-positive intervals fall back to the
// defaults: refresh every 30 minutes, sweep daily, evict after 30 days.
func NewScheduler(syncer *catalog.Syncer, repo *repository.MovieRepository, refreshInterval, sweepInterval, sweepTTL time.Duration) *Scheduler {
	if refreshInterval <= 0 {
		refreshInterval = 30 * time.Minute
	}
	if sweepInterval <= 0 {
		sweepInterval = 24 * time.Hour
	}
	if sweepTTL <= 0 {
		sweepTTL = 30 * 24 * time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		syncer:          syncer,
		repo:            repo,
		refreshInterval: refreshInterval,
		sweepInterval:   sweepInterval,
		sweepTTL:        sweepTTL,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Start begins the background loops.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		log.Println("Scheduler is already running")
		return
	}

	s.running = true
	log.Println("Starting scheduler...")

	s.wg.Add(2)
	go s.runPeriodicRefresh()
	go s.runPeriodicSweep()
}

// Stop stops the scheduler and waits for in-flight work to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	log.Println("Stopping scheduler...")
	s.cancel()
	s.running = false

	s.wg.Wait()
	log.Println("Scheduler stopped")
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// TriggerRefresh immediately refreshes one category in the background.
// Refreshes go through the syncer's deduplicated path, so a trigger racing
// the periodic loop never double-fetches.
func (s *Scheduler) TriggerRefresh(category models.Category) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.syncer.Refresh(s.ctx, category); err != nil {
			log.Printf("Failed to refresh %s: %v", category, err)
		}
	}()
}

// RefreshAll refreshes the remote-fed categories in parallel. Returns the
// first error, after all refreshes finish.
func (s *Scheduler) RefreshAll(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, category := range []models.Category{models.CategoryTrending, models.CategoryNowPlaying} {
		category := category
		g.Go(func() error {
			return s.syncer.Refresh(ctx, category)
		})
	}
	return g.Wait()
}

func (s *Scheduler) runPeriodicRefresh() {
	defer s.wg.Done()

	// Run immediately on startup
	if err := s.RefreshAll(s.ctx); err != nil {
		log.Printf("Initial catalog refresh failed: %v", err)
	}

	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			log.Println("Periodic catalog refresh stopped")
			return
		case <-ticker.C:
			if err := s.RefreshAll(s.ctx); err != nil {
				log.Printf("Periodic catalog refresh failed: %v", err)
			}
		}
	}
}

func (s *Scheduler) runPeriodicSweep() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			log.Println("Stale record sweep stopped")
			return
		case <-ticker.C:
			removed, err := s.repo.DeleteStale(s.ctx, s.sweepTTL)
			if err != nil {
				log.Printf("Stale record sweep failed: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("Swept %d stale movie records", removed)
			}
		}
	}
}
