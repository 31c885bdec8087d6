// Package timectrl paces quasi-steady-state studies: a Controller advances
// study time in fixed steps and notifies listeners on each advance.
package timectrl

import (
	"context"
	"sync"
	"time"
)

// Clock is the read side of study time. Engines depend on this rather than
// the concrete Controller so tests can run without sleeping.
type Clock interface {
	// Now returns the current study time.
	Now() time.Time
}

// Mode describes how the Controller paces its steps.
type Mode int

const (
	// RealTime waits one wall-clock Step between advances.
	RealTime Mode = iota
	// Batch runs steps back to back, as fast as listeners return.
	Batch
)

// Controller drives study time and notifies registered listeners. It
// implements Clock.
type Controller struct {
	mu        sync.RWMutex
	StartTime time.Time
	Step      time.Duration
	Mode      Mode

	currentTime time.Time

	listeners []func(time.Time)
}

// NewController constructs a controller positioned at start.
func NewController(start time.Time, step time.Duration, mode Mode) *Controller {
	return &Controller{
		StartTime:   start,
		Step:        step,
		Mode:        mode,
		currentTime: start,
	}
}

// Now returns the current study time. Implements Clock.
func (c *Controller) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentTime
}

// AddListener registers a callback invoked on every advance. Listeners run
// sequentially on the controller's goroutine; register before Run.
func (c *Controller) AddListener(fn func(time.Time)) {
	c.listeners = append(c.listeners, fn)
}

// Run advances study time in a separate goroutine until steps advances have
// happened (steps <= 0 means unbounded) or ctx is cancelled. The returned
// channel is closed when the controller finishes.
func (c *Controller) Run(ctx context.Context, steps int) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		c.mu.Lock()
		now := c.StartTime
		c.currentTime = now
		c.mu.Unlock()

		var tick <-chan time.Time
		if c.Mode == RealTime {
			ticker := time.NewTicker(c.Step)
			defer ticker.Stop()
			tick = ticker.C
		}

		for n := 0; steps <= 0 || n < steps; n++ {
			if c.Mode == RealTime {
				select {
				case <-ctx.Done():
					return
				case <-tick:
				}
			} else if ctx.Err() != nil {
				return
			}

			now = now.Add(c.Step)
			c.mu.Lock()
			c.currentTime = now
			c.mu.Unlock()

			for _, fn := range c.listeners {
				fn(now)
			}
		}
	}()
	return done
}
