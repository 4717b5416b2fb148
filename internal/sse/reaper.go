package sse

import (
	"context"
	"log"
	"time"
)

// Reaper periodically writes a keep-alive frame to every connection and
// evicts the ones that stopped accepting writes or went idle past the
// configured window. The keep-alives also stop proxies and load balancers
// from closing streams that carry no event traffic.
type Reaper struct {
	registry *Registry
	admitter *Admitter

	interval    time.Duration
	idleTimeout time.Duration
}

func NewReaper(registry *Registry, admitter *Admitter, interval, idleTimeout time.Duration) *Reaper {
	return &Reaper{
		registry:    registry,
		admitter:    admitter,
		interval:    interval,
		idleTimeout: idleTimeout,
	}
}

// Run blocks until ctx is done. Intended as a dedicated goroutine started at
// server wiring time.
func (rp *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(rp.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rp.sweep()
		}
	}
}

// sweep walks a registry snapshot; the registry lock is not held while
// frames are enqueued.
func (rp *Reaper) sweep() {
	now := time.Now()
	for _, c := range rp.registry.All() {
		if now.Sub(c.LastSeen()) > rp.idleTimeout {
			log.Printf("sse: evicting idle connection %s (last seen %s)", c.ID, c.LastSeen().Format(time.RFC3339))
			rp.admitter.Dismiss(c)
			continue
		}
		if err := c.enqueue(Frame{}); err != nil {
			log.Printf("sse: evicting connection %s after failed heartbeat: %v", c.ID, err)
			rp.admitter.Dismiss(c)
		}
	}
}
