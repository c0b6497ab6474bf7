package main

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type reverseGeocodeFunc func(ctx context.Context, coords Coords) (string, error)

// GeocodeDebouncer coalesces bursts of map center changes into a single
// reverse geocode lookup for the last center. Only one timer is live at a
// time; scheduling again replaces it and cancels a lookup still in flight.
type GeocodeDebouncer struct {
	clock    clock.Clock
	interval time.Duration
	timeout  time.Duration
	lookup   reverseGeocodeFunc
	resolved func(address string)

	mu         sync.Mutex
	timer      *clock.Timer
	generation uint64
	inflight   context.CancelFunc
	closed     bool
}

func NewGeocodeDebouncer(clk clock.Clock, interval, timeout time.Duration, lookup reverseGeocodeFunc, resolved func(address string)) *GeocodeDebouncer {
	return &GeocodeDebouncer{
		clock:    clk,
		interval: interval,
		timeout:  timeout,
		lookup:   lookup,
		resolved: resolved,
	}
}

func (d *GeocodeDebouncer) Schedule(coords Coords) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.lookup == nil {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.cancelInflightLocked()
	d.generation++
	generation := d.generation
	d.timer = d.clock.AfterFunc(d.interval, func() { d.fire(generation, coords) })
}

// Pending reports whether a lookup is waiting for its quiet period to end.
func (d *GeocodeDebouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

func (d *GeocodeDebouncer) fire(generation uint64, coords Coords) {
	d.mu.Lock()
	if d.closed || generation != d.generation {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	d.inflight = cancel
	d.mu.Unlock()
	defer cancel()

	address, err := d.lookup(ctx, coords)

	d.mu.Lock()
	superseded := d.closed || generation != d.generation
	if !superseded {
		d.inflight = nil
	}
	d.mu.Unlock()
	if superseded || err != nil || address == "" {
		return
	}
	if d.resolved != nil {
		d.resolved(address)
	}
}

func (d *GeocodeDebouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.cancelInflightLocked()
}

func (d *GeocodeDebouncer) cancelInflightLocked() {
	if d.inflight != nil {
		d.inflight()
		d.inflight = nil
	}
}
