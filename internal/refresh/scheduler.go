package refresh

import (
	"context"
	"sync"
	"time"
)

// Run refreshes immediately, then once per interval until ctx is done. A tick
// that arrives while the previous fetch is still running is skipped. Run
// returns after the last fetch it started has finished.
func (c *Controller) Run(ctx context.Context) {
	var wg sync.WaitGroup
	busy := make(chan struct{}, 1)

	trigger := func() {
		select {
		case busy <- struct{}{}:
		default:
			c.log.V(1).Info("skipping tick, fetch still in flight")
			if c.rec != nil {
				c.rec.RefreshSkipped(c.name)
			}
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-busy }()
			c.Refresh(ctx)
		}()
	}

	c.log.Info("refresh loop started", "interval", c.interval)
	trigger()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			c.log.Info("refresh loop stopped")
			return
		case <-ticker.C:
			trigger()
		}
	}
}

// Handle cancels a running refresh loop.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Start runs the loop in the background.
func (c *Controller) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		c.Run(ctx)
	}()
	return h
}

// Stop cancels the loop and waits for it to exit. Safe to call twice.
func (h *Handle) Stop() {
	h.once.Do(h.cancel)
	<-h.done
}

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}
