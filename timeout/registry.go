package timeout

import (
	"context"
	"errors"
	"sync"
	"time"

	"facette.io/natsort"
)

// Causes recorded on an attempt's signal, so the attempt can tell why it
// was ended.
var (
	errBudgetExpired = errors.New("attempt budget expired")
	errCancelledOne  = errors.New("attempt cancelled by handle")
	errCancelledAll  = errors.New("attempt cancelled by cancel-all")
)

// controller is the cancellation side of one in-flight attempt: its
// signal and its expiry timer.
type controller struct {
	id     string
	cancel context.CancelCauseFunc
	timer  *time.Timer
}

// fire stops the timer and raises the signal with cause. Raising a signal
// twice is harmless; the first cause wins.
func (c *controller) fire(cause error) {
	c.timer.Stop()
	c.cancel(cause)
}

// registry tracks every live attempt. Attempts started with an operation
// id are also reachable by that id. Registering a second attempt under an
// id that is still live replaces the first in the id index: the first can
// then no longer be cancelled by id, only by cancelAll or its own timer.
type registry struct {
	mu    sync.Mutex
	named map[string]*controller
	live  map[*controller]struct{}
}

func newRegistry() *registry {
	return &registry{
		named: make(map[string]*controller),
		live:  make(map[*controller]struct{}),
	}
}

func (r *registry) add(c *controller) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.live[c] = struct{}{}

	if c.id != "" {
		r.named[c.id] = c
	}
}

// remove drops c, leaving a newer attempt registered under the same id alone.
func (r *registry) remove(c *controller) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.live, c)

	if c.id != "" && r.named[c.id] == c {
		delete(r.named, c.id)
	}
}

func (r *registry) cancel(id string) bool {
	r.mu.Lock()

	c, ok := r.named[id]
	if ok {
		delete(r.named, id)
		delete(r.live, c)
	}

	r.mu.Unlock()

	if !ok {
		return false
	}

	c.fire(errCancelledOne)

	return true
}

func (r *registry) cancelAll() int {
	r.mu.Lock()

	live := r.live
	r.live = make(map[*controller]struct{})
	r.named = make(map[string]*controller)

	r.mu.Unlock()

	for c := range live {
		c.fire(errCancelledAll)
	}

	return len(live)
}

func (r *registry) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.live)
}

func (r *registry) handles() []string {
	r.mu.Lock()

	ids := make([]string, 0, len(r.named))
	for id := range r.named {
		ids = append(ids, id)
	}

	r.mu.Unlock()

	natsort.Sort(ids)

	return ids
}
