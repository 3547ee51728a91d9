package session

import (
	"context"
	"log"
	"time"
)

// DefaultSweepInterval is how often the expiry sweeper runs.
const DefaultSweepInterval = 60 * time.Second

// sweepRemoveTimeout bounds the teardown of one expired session so a stuck
// backend cannot stall the rest of the sweep.
const sweepRemoveTimeout = 30 * time.Second

// StartSweeper runs the expiry sweep loop until ctx is cancelled. Expiry is
// advisory: an entry expiring mid-sweep is caught on the next cycle.
func StartSweeper(ctx context.Context, reg *Registry, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[sweeper] expiry loop stopped")
			return
		case <-ticker.C:
			Sweep(ctx, reg)
		}
	}
}

// Sweep performs a single expiry pass over the registry snapshot. Failures
// on one entry never abort the sweep of the remaining entries. Non-expired
// entries get a liveness touch.
func Sweep(ctx context.Context, reg *Registry) {
	now := time.Now()
	removed := 0

	for _, info := range reg.List() {
		if now.After(info.ExpiresAt) {
			rctx, cancel := context.WithTimeout(ctx, sweepRemoveTimeout)
			if reg.Remove(rctx, info.ID) {
				removed++
				log.Printf("[sweeper] expired session=%s owner=%s", info.ID, info.Owner)
			}
			cancel()
			continue
		}
		reg.Touch(info.ID)
	}

	if removed > 0 {
		log.Printf("[sweeper] removed %d expired sessions", removed)
	}
}
