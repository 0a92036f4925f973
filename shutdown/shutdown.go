// Package shutdown coordinates process teardown. Components register
// hooks with BeforeShutdown; SetupHandler turns SIGINT/SIGTERM (or a call
// to Shutdown) into running those hooks and cancelling the root context.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

type hook struct {
	name string
	fn   func()
}

var (
	mut     sync.Mutex     //nolint:gochecknoglobals
	hooks   []*hook        //nolint:gochecknoglobals
	channel chan os.Signal //nolint:gochecknoglobals
)

// BeforeShutdown registers fn to run before the root context is cancelled.
// Hooks run in reverse registration order, so something registered late
// (an executor) is torn down before what it depends on (a worker pool).
// The returned function unregisters the hook.
func BeforeShutdown(name string, fn func()) (unregister func()) {
	h := &hook{name: name, fn: fn}

	mut.Lock()
	hooks = append(hooks, h)
	mut.Unlock()

	return func() {
		mut.Lock()
		defer mut.Unlock()

		for i, existing := range hooks {
			if existing == h {
				hooks = append(hooks[:i], hooks[i+1:]...)

				return
			}
		}
	}
}

// Shutdown triggers the shutdown process programmatically. It is a no-op
// until SetupHandler has been called.
func Shutdown() {
	mut.Lock()
	ch := channel
	mut.Unlock()

	if ch == nil {
		return
	}

	select {
	case ch <- os.Interrupt:
	default:
	}
}

// SetupHandler installs the signal handler and returns a context that is
// cancelled once every hook has run.
func SetupHandler() context.Context {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	mut.Lock()
	channel = ch
	mut.Unlock()

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		sig := <-ch

		signal.Stop(ch)
		slog.Warn("Received " + sig.String() + ", shutting down...")

		mut.Lock()
		channel = nil
		mut.Unlock()

		cleanup()
		cancel()
	}()

	return ctx
}

func cleanup() {
	mut.Lock()
	pending := hooks
	hooks = nil
	mut.Unlock()

	for i := len(pending) - 1; i >= 0; i-- {
		slog.Debug("running shutdown hook", "hook", pending[i].name)
		pending[i].fn()
	}
}
