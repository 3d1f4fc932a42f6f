// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package debounce

import (
	"sync"
	"sync/atomic"
	"time"
)

// Debouncer coalesces bursts of submissions into a single execution.
// The window opens at the first submission and is not extended by later
// ones; when it closes the most recently submitted function runs.
type Debouncer struct {
	submissions chan func()
	timer       <-chan time.Time
	latest      func()
	mu          sync.RWMutex
	delay       time.Duration
	stopped     atomic.Bool
	done        chan struct{}
}

// New creates a new Debouncer with the specified delay.
func New(delay time.Duration) *Debouncer {
	d := &Debouncer{
		submissions: make(chan func(), 100),
		delay:       delay,
		done:        make(chan struct{}),
	}

	go d.run()

	return d
}

func (d *Debouncer) run() {
	defer close(d.done)

	for {
		select {
		case <-d.timer:
			d.mu.Lock()
			d.timer = nil
			fn := d.latest
			d.latest = nil
			d.mu.Unlock()
			if fn != nil {
				fn()
			}
		case fn, ok := <-d.submissions:
			if !ok {
				// pending work is dropped on stop
				d.mu.Lock()
				d.timer = nil
				d.latest = nil
				d.mu.Unlock()
				return
			}
			d.mu.Lock()
			d.latest = fn
			if d.timer == nil {
				d.timer = time.After(d.delay)
			}
			d.mu.Unlock()
		}
	}
}

// Do schedules fn to run when the current window closes, replacing any fn
// submitted earlier in the same window. It is a no-op after Stop.
func (d *Debouncer) Do(fn func()) {
	if d.stopped.Load() {
		return
	}

	defer func() {
		// lost a race with Stop closing the channel
		_ = recover()
	}()

	select {
	case d.submissions <- fn:
	default:
		// buffer full; the window already has a pending fn
	}
}

// Queued reports whether a window is open.
func (d *Debouncer) Queued() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.timer != nil
}

// Stop shuts down the debouncer and discards any pending fn. It waits for an
// fn that is already running to return.
func (d *Debouncer) Stop() {
	if !d.stopped.CompareAndSwap(false, true) {
		return
	}

	close(d.submissions)
	<-d.done
}
