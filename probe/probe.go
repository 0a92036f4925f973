// Package probe checks that a set of backend endpoints answer in time.
//
// Each target is fetched with the progressive-timeout ladder, so a slow
// cold start gets a second, longer chance before it counts as down.
// Probes run concurrently on a bounded worker pool.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"
	"github.com/vitalscan/scan-common/envutil"
	"github.com/vitalscan/scan-common/http/fetch"
	"github.com/vitalscan/scan-common/logger"
	"github.com/vitalscan/scan-common/timeout"
	"go.uber.org/atomic"
)

const defaultConcurrency = 4

var (
	ErrInvalidTarget = errors.New("invalid probe target")
	ErrNoTargets     = errors.New("no probe targets")
	ErrNotRun        = errors.New("probe did not run")
)

// Target is a named endpoint.
type Target struct {
	Name string
	URL  string
}

// ParseTargets reads "name=url" entries. An entry without a name is named
// after its position.
func ParseTargets(entries []string) ([]Target, error) {
	targets := make([]Target, 0, len(entries))

	for i, entry := range entries {
		name, url, found := strings.Cut(entry, "=")
		if !found {
			name, url = fmt.Sprintf("target-%d", i+1), entry
		}

		name, url = strings.TrimSpace(name), strings.TrimSpace(url)
		if name == "" || !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, entry)
		}

		targets = append(targets, Target{Name: name, URL: url})
	}

	return targets, nil
}

// TargetsFromEnv reads PROBE_TARGETS, a comma separated list of entries
// in the ParseTargets format.
func TargetsFromEnv(ctx context.Context) ([]Target, error) {
	entries, err := envutil.Strings(ctx, "PROBE_TARGETS", envutil.IfMissing[[]string](ErrNoTargets)).Value()
	if err != nil {
		return nil, err
	}

	if len(entries) == 0 {
		return nil, ErrNoTargets
	}

	return ParseTargets(entries)
}

// Result is the outcome of probing one target.
type Result struct {
	Target     Target
	StatusCode int
	Latency    time.Duration
	Err        error
}

func (r Result) OK() bool {
	return r.Err == nil
}

// TimedOut reports whether the target used up every budget.
func (r Result) TimedOut() bool {
	return timeout.IsTimeout(r.Err) && !errors.Is(r.Err, timeout.ErrCancelled)
}

// Report collects the results of one Run, in target order.
type Report struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Results  []Result
}

func (r *Report) Healthy() bool {
	for _, res := range r.Results {
		if !res.OK() {
			return false
		}
	}

	return true
}

func (r *Report) Failed() []Result {
	var failed []Result

	for _, res := range r.Results {
		if !res.OK() {
			failed = append(failed, res)
		}
	}

	return failed
}

// Prober runs probes on its own worker pool. Close it when done.
type Prober struct {
	client      *fetch.Client
	pool        pond.Pool
	concurrency int
	active      atomic.Int32
}

// New returns a Prober running at most concurrency probes at a time. A
// non-positive concurrency reads PROBE_CONCURRENCY (default 4).
func New(ctx context.Context, client *fetch.Client, concurrency int) *Prober {
	if concurrency <= 0 {
		concurrency = envutil.Int(ctx, "PROBE_CONCURRENCY",
			envutil.Default(defaultConcurrency)).ValueOrElse(defaultConcurrency)
	}

	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &Prober{
		client:      client,
		pool:        pond.NewPool(concurrency),
		concurrency: concurrency,
	}
}

func (p *Prober) Concurrency() int {
	return p.concurrency
}

// Active returns how many probes are running right now.
func (p *Prober) Active() int {
	return int(p.active.Load())
}

// Close waits for running probes and stops the pool.
func (p *Prober) Close() {
	p.pool.StopAndWait()
}

// Run probes every target and waits for all of them. Each probe's attempts
// are registered under "<run id>/<target name>" so a single slow target
// can be cancelled through the executor. If ctx ends first, targets that
// had not started report ErrNotRun, as do all targets once the Prober
// is closed.
func (p *Prober) Run(ctx context.Context, targets []Target, opts ...timeout.Option) (*Report, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	report := &Report{
		RunID:   uuid.NewString(),
		Started: time.Now(),
		Results: make([]Result, len(targets)),
	}

	ctx = logger.With(ctx, "probe-run", report.RunID)
	log := logger.Get(ctx)

	log.Info("probing targets", "count", len(targets))

	var wg sync.WaitGroup

	for i, target := range targets {
		wg.Add(1)

		err := p.pool.Go(func() {
			defer wg.Done()

			if err := ctx.Err(); err != nil {
				report.Results[i] = Result{Target: target, Err: fmt.Errorf("%w: %w", ErrNotRun, err)}

				return
			}

			report.Results[i] = p.probe(ctx, report.RunID, target, opts)
		})
		if err != nil {
			wg.Done()

			report.Results[i] = Result{Target: target, Err: fmt.Errorf("%w: %w", ErrNotRun, err)}
		}
	}

	wg.Wait()

	report.Duration = time.Since(report.Started)

	log.Info("probe run finished",
		"healthy", report.Healthy(),
		"failed", len(report.Failed()),
		"duration", report.Duration)

	return report, nil
}

func (p *Prober) probe(ctx context.Context, runID string, target Target, opts []timeout.Option) Result {
	p.active.Inc()
	defer p.active.Dec()

	callOpts := append([]timeout.Option{
		timeout.WithLabel("probe:" + target.Name),
		timeout.WithOperationID(runID + "/" + target.Name),
	}, opts...)

	start := time.Now()
	rsp, err := p.client.Get(ctx, target.URL, callOpts...)

	res := Result{
		Target:  target,
		Latency: time.Since(start),
		Err:     err,
	}

	var sErr *fetch.StatusError

	switch {
	case err == nil:
		res.StatusCode = rsp.StatusCode
	case errors.As(err, &sErr):
		res.StatusCode = sErr.StatusCode
	}

	if err != nil {
		logger.Get(ctx).Warn("probe failed", "target", target.Name, "error", err)
	} else {
		logger.Get(ctx).Debug("probe ok", "target", target.Name, "status", res.StatusCode, "latency", res.Latency)
	}

	return res
}
