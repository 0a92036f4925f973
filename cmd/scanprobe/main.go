// Command scanprobe checks that the backend endpoints the dashboard
// depends on answer within the configured time budgets.
//
// Targets come from PROBE_TARGETS ("store=https://...,auth=https://...").
// With PROBE_INTERVAL unset it probes once and exits non-zero if anything
// failed; otherwise it keeps probing until interrupted.
package main

import (
	"context"
	"os"
	"time"

	"github.com/vitalscan/scan-common/build"
	"github.com/vitalscan/scan-common/envutil"
	"github.com/vitalscan/scan-common/http/fetch"
	"github.com/vitalscan/scan-common/http/transport"
	"github.com/vitalscan/scan-common/logger"
	"github.com/vitalscan/scan-common/probe"
	"github.com/vitalscan/scan-common/shutdown"
	"github.com/vitalscan/scan-common/stage"
	"github.com/vitalscan/scan-common/startup"
	"github.com/vitalscan/scan-common/telemetry"
	"github.com/vitalscan/scan-common/timeout"
)

const (
	appName            = "scanprobe"
	dnsRefreshInterval = 5 * time.Minute
)

func main() {
	ctx := shutdown.SetupHandler()

	if err := startup.ConfigureEnvironment(ctx); err != nil {
		logger.Fatal("error loading environment files", "error", err)
	}

	logger.ConfigureLogging(ctx, appName)

	providers := setupTelemetry(ctx)

	policy, err := timeout.LoadPolicyFromEnv(ctx)
	if err != nil {
		logger.Fatal("invalid timeout policy", "error", err)
	}

	targets, err := probe.TargetsFromEnv(ctx)
	if err != nil {
		logger.Fatal("invalid probe targets", "error", err)
	}

	interval := envutil.Duration(ctx, "PROBE_INTERVAL", envutil.Default(time.Duration(0))).ValueOrFatal()

	exec := timeout.New(timeout.WithPolicy(policy))
	prober := probe.New(ctx, fetch.New(ctx, exec), 0)

	runCtx, stopRuns := context.WithCancel(ctx)

	// Hooks run last-registered first: stop new probes, cancel whatever is
	// in flight, drain the pool, then flush telemetry.
	shutdown.BeforeShutdown("telemetry", func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := providers.Shutdown(flushCtx); err != nil {
			logger.Get().Error("error flushing telemetry", "error", err)
		}
	})
	shutdown.BeforeShutdown("probe-pool", prober.Close)
	shutdown.BeforeShutdown("timeout-executor", func() {
		exec.CancelAll()
	})
	shutdown.BeforeShutdown("probe-runs", stopRuns)

	go transport.RefreshDNS(runCtx, dnsRefreshInterval)

	logger.Get(ctx).Info("starting",
		"build", build.Current(),
		"stage", stage.Current(),
		"targets", len(targets),
		"retry-durations", policy.RetryDurations,
		"ceiling", policy.Ceiling,
		"cancel-on-timeout", policy.CancelOnTimeout,
		"interval", interval)

	healthy := probeOnce(runCtx, prober, targets)

	if interval > 0 {
		ticker := time.NewTicker(interval)

	loop:
		for {
			select {
			case <-runCtx.Done():
				break loop
			case <-ticker.C:
				healthy = probeOnce(runCtx, prober, targets)
			}
		}

		ticker.Stop()
	}

	// Run the hooks ourselves when we finished on our own.
	shutdown.Shutdown()
	<-ctx.Done()

	if !healthy {
		os.Exit(1)
	}
}

func setupTelemetry(ctx context.Context) *telemetry.Providers {
	cfg, err := telemetry.LoadConfigFromEnv(ctx, string(stage.Current()))
	if err != nil {
		logger.Fatal("invalid telemetry config", "error", err)
	}

	providers, err := telemetry.Initialize(ctx, cfg)
	if err != nil {
		logger.Get(ctx).Error("telemetry disabled", "error", err)

		return &telemetry.Providers{}
	}

	if h := providers.LogHandler(); h != nil {
		logger.ConfigureLogging(ctx, appName, logger.WithExtraHandler(h))
	}

	return providers
}

func probeOnce(ctx context.Context, prober *probe.Prober, targets []probe.Target) bool {
	log := logger.Get(ctx)

	report, err := prober.Run(ctx, targets)
	if err != nil {
		log.Error("probe run failed", "error", err)

		return false
	}

	for _, res := range report.Results {
		switch {
		case res.OK():
			log.Info("reachable",
				"target", res.Target.Name,
				"status", res.StatusCode,
				"latency", res.Latency)
		case res.TimedOut():
			log.Warn("timed out",
				"target", res.Target.Name,
				"latency", res.Latency,
				"error", res.Err)
		default:
			log.Warn("unreachable",
				"target", res.Target.Name,
				"status", res.StatusCode,
				"error", res.Err)
		}
	}

	return report.Healthy()
}
