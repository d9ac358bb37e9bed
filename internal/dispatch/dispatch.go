// Package dispatch runs callbacks for collaborators (UI, renderer) on a single
// goroutine, so they never run concurrently with each other.
package dispatch

import (
	"context"
	"log"
	"sync/atomic"
)

type Dispatcher struct {
	tasks   chan func()
	dropped atomic.Uint64
}

func New(buffer int) *Dispatcher {
	if buffer < 1 {
		buffer = 1
	}
	return &Dispatcher{tasks: make(chan func(), buffer)}
}

// Enqueue schedules fn without blocking. It reports false when the buffer is
// full and fn was dropped. On a nil Dispatcher fn runs immediately.
func (d *Dispatcher) Enqueue(fn func()) bool {
	if d == nil {
		fn()
		return true
	}
	select {
	case d.tasks <- fn:
		return true
	default:
		n := d.dropped.Add(1)
		if n == 1 || n%100 == 0 {
			log.Printf("dispatch queue full, dropped %d callbacks", n)
		}
		return false
	}
}

// Run executes callbacks until ctx is cancelled. Callbacks still queued at
// that point are discarded.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-d.tasks:
			fn()
		}
	}
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
