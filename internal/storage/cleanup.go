package storage

import (
	"context"
	"sync"
	"time"

	"github.com/gcsewala/authbridge/internal/log"
)

// DefaultSweepTimeout bounds one pass over the session store.
const DefaultSweepTimeout = 30 * time.Second

// SweepStats summarises the expired-session sweeps run so far.
type SweepStats struct {
	Sweeps    int
	Removed   int
	LastSweep time.Time
	LastError error
}

// CleanupManager purges expired bridged sessions on an interval. Sessions
// already expire on read, so sweeping only reclaims space; a failed sweep is
// logged and retried on the next tick.
type CleanupManager struct {
	store        Storage
	interval     time.Duration
	sweepTimeout time.Duration

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	stats SweepStats
}

func NewCleanupManager(store Storage, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		store:        store,
		interval:     interval,
		sweepTimeout: DefaultSweepTimeout,
		done:         make(chan struct{}),
	}
}

// Start sweeps once, then on every tick until Stop or ctx is done.
func (cm *CleanupManager) Start(ctx context.Context) {
	ctx, cm.cancel = context.WithCancel(ctx)
	log.LogInfoWithFields("cleanup", "Starting bridged session sweeper", map[string]any{
		"interval": cm.interval.String(),
	})

	go func() {
		defer close(cm.done)
		ticker := time.NewTicker(cm.interval)
		defer ticker.Stop()

		cm.Sweep(ctx)
		for {
			select {
			case <-ticker.C:
				cm.Sweep(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the loop and runs a last sweep. It is safe to call more than
// once and before Start.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() {
		if cm.cancel == nil {
			return
		}
		cm.cancel()
		<-cm.done
		cm.Sweep(context.Background())
		stats := cm.Stats()
		log.LogDebugWithFields("cleanup", "Bridged session sweeper stopped", map[string]any{
			"sweeps":  stats.Sweeps,
			"removed": stats.Removed,
		})
	})
}

// Sweep deletes expired sessions once and returns how many went.
func (cm *CleanupManager) Sweep(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, cm.sweepTimeout)
	defer cancel()

	removed, err := cm.store.CleanupExpiredSessions(ctx)

	cm.mu.Lock()
	cm.stats.Sweeps++
	cm.stats.LastSweep = time.Now()
	cm.stats.LastError = err
	if err == nil {
		cm.stats.Removed += removed
	}
	cm.mu.Unlock()

	if err != nil {
		log.LogErrorWithFields("cleanup", "Sweep of expired bridged sessions failed", map[string]any{
			"error": err.Error(),
		})
		return 0
	}
	if removed > 0 {
		log.LogInfoWithFields("cleanup", "Swept expired bridged sessions", map[string]any{
			"removed": removed,
		})
	}
	return removed
}

func (cm *CleanupManager) Stats() SweepStats {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.stats
}
