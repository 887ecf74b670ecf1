// Package application contains the services that load GeoPackages and
// answer feature, tile and coverage requests.
package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrRateLimited is returned by TriggerSync inside the cooldown window.
var ErrRateLimited = errors.New("rate limit exceeded")

// SyncResult reports one rescan of the package source.
type SyncResult struct {
	PackagesAdded   int       `json:"packages_added"`
	PackagesRemoved int       `json:"packages_removed"`
	PackagesTotal   int       `json:"packages_total"`
	TablesReindexed int       `json:"tables_reindexed"`
	SyncedAt        time.Time `json:"synced_at"`
	NextScheduledAt time.Time `json:"next_scheduled_at,omitempty"`
}

// SyncService rescans the package source on a fixed interval and on
// demand, keeping the registry in step with the GeoPackages in storage.
// Only one rescan runs at a time.
type SyncService struct {
	registry *PackageRegistry
	interval time.Duration
	cooldown time.Duration
	reindex  bool
	logger   *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	triggerMu   sync.Mutex
	lastTrigger time.Time

	runMu sync.Mutex

	nextMu sync.RWMutex
	next   time.Time
}

// SyncOption configures a SyncService.
type SyncOption func(*SyncService)

// WithReindex refreshes stale feature indexes after every sync, picking up
// packages whose features were edited in place.
func WithReindex(enabled bool) SyncOption {
	return func(s *SyncService) {
		s.reindex = enabled
	}
}

// WithCooldown sets the minimum time between two API-triggered syncs.
func WithCooldown(d time.Duration) SyncOption {
	return func(s *SyncService) {
		s.cooldown = d
	}
}

// NewSyncService returns a service rescanning registry every interval.
func NewSyncService(registry *PackageRegistry, interval time.Duration, logger *slog.Logger, opts ...SyncOption) *SyncService {
	s := &SyncService{
		registry: registry,
		interval: interval,
		cooldown: 30 * time.Second,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	// the first trigger is never rate limited
	s.lastTrigger = time.Now().Add(-s.cooldown - time.Second)
	return s
}

// Start launches the rescan loop. It runs until ctx ends or Stop is called.
func (s *SyncService) Start(ctx context.Context) {
	s.logger.Info("package rescans scheduled", "interval", s.interval)
	s.wg.Add(1)
	go s.loop(ctx)
}

func (s *SyncService) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.schedule(time.Now().Add(s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("package rescans stopped", "reason", ctx.Err())
			return
		case <-s.stopCh:
			s.logger.Info("package rescans stopped")
			return
		case <-ticker.C:
			res, err := s.rescan(ctx)
			if err != nil {
				s.logger.Error("package rescan failed", "error", err)
			} else {
				s.logger.Info("packages rescanned",
					"added", res.PackagesAdded,
					"removed", res.PackagesRemoved,
					"reindexed", res.TablesReindexed,
					"total", res.PackagesTotal,
				)
			}
			s.schedule(time.Now().Add(s.interval))
		}
	}
}

// Stop ends the rescan loop and waits for a running rescan to finish.
func (s *SyncService) Stop() {
	s.logger.Info("stopping package rescans")
	close(s.stopCh)
	s.wg.Wait()
}

// TriggerSync rescans now. Calls within the cooldown of the previous
// trigger get ErrRateLimited.
func (s *SyncService) TriggerSync(ctx context.Context) (SyncResult, error) {
	s.triggerMu.Lock()
	defer s.triggerMu.Unlock()

	if time.Since(s.lastTrigger) < s.cooldown {
		return SyncResult{}, ErrRateLimited
	}
	s.lastTrigger = time.Now()
	return s.rescan(ctx)
}

// rescan loads new packages, drops vanished ones and, when enabled,
// refreshes stale feature indexes.
func (s *SyncService) rescan(ctx context.Context) (SyncResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	stats, err := s.registry.Sync(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	res := SyncResult{
		PackagesAdded:   stats.Added,
		PackagesRemoved: stats.Removed,
		PackagesTotal:   s.registry.PackageCount(),
		SyncedAt:        time.Now(),
		NextScheduledAt: s.nextScheduled(),
	}
	if s.reindex {
		res.TablesReindexed = len(s.registry.Reindex(ctx))
	}
	return res, nil
}

func (s *SyncService) schedule(t time.Time) {
	s.nextMu.Lock()
	defer s.nextMu.Unlock()
	s.next = t
}

func (s *SyncService) nextScheduled() time.Time {
	s.nextMu.RLock()
	defer s.nextMu.RUnlock()
	return s.next
}

// Cooldown returns the minimum time between API-triggered syncs.
func (s *SyncService) Cooldown() time.Duration {
	return s.cooldown
}

// Interval returns the time between scheduled rescans.
func (s *SyncService) Interval() time.Duration {
	return s.interval
}
