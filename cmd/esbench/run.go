package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/esbench/esbench/internal/chaos"
	"github.com/esbench/esbench/internal/config"
	"github.com/esbench/esbench/internal/keyspace"
	"github.com/esbench/esbench/internal/metrics"
	"github.com/esbench/esbench/internal/output"
	"github.com/esbench/esbench/internal/resource"
	"github.com/esbench/esbench/internal/runner"
	"github.com/esbench/esbench/internal/store"
	"github.com/esbench/esbench/internal/tracing"
	"github.com/esbench/esbench/internal/workload"
)

const (
	progressInterval = time.Second
	warmupDuration   = time.Second
	cooldownDuration = time.Second
)

func runBenchmark(cmd *cobra.Command, cfg *config.Config) error {
	def, err := workload.Load(cfg.WorkloadPath)
	if err != nil {
		return err
	}
	for _, warn := range def.Warnings() {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", warn)
	}

	seed := def.Seed
	if cfg.SeedSet {
		seed = cfg.Seed
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// runCtx scopes the workers and the crash controller to this run. A fatal
	// recovery failure cancels it so a count-targeted run cannot spin forever
	// against a store that never comes back.
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer provider.Shutdown(context.Background())
	tracer := provider.Tracer()

	params := store.Params{URI: cfg.URI, Options: cfg.Options}
	if _, set := params.Options["durability"]; !set {
		params.Options["durability"] = def.DurabilityMode()
	}
	adapter, err := store.Open(cfg.Store, params)
	if err != nil {
		return err
	}
	defer adapter.Close(context.Background())

	crashCfg := def.Durability.Crash
	var crasher store.Crasher
	if crashCfg.Enabled {
		c, ok := adapter.(store.Crasher)
		if !ok {
			return fmt.Errorf("workload %s requests crash testing but adapter %q has no crash capability", def.Name, cfg.Store)
		}
		crasher = c
	}

	collector := metrics.NewCollector()
	keys := keyspace.NewGenerator(def, seed)

	opts := runner.Options{
		Writers:       def.Writers,
		Readers:       def.Readers,
		TargetEvents:  def.TargetEvents,
		RateEPS:       def.RateEPS,
		Grace:         cfg.Grace,
		EventSize:     def.EventSizeBytes,
		TagQueryRatio: def.ReadMix.TagQueryRatio,
		Store:         adapter,
		Keys:          keys,
		Collector:     collector,
	}
	if def.DurationSeconds > 0 {
		opts.Duration = time.Duration(def.DurationSeconds * float64(time.Second))
		opts.Warmup = warmupDuration
		opts.Cooldown = cooldownDuration
	}
	if def.Setup != nil {
		opts.PrepopulateEvents = def.Setup.EventsToPrepopulate
		opts.PrepopulateStreams = def.Setup.PrepopulateStreams
		if opts.PrepopulateStreams == 0 {
			opts.PrepopulateStreams = def.Streams.UniqueStreams
		}
	}
	if cfg.LogErrors {
		opts.ErrorLog = cmd.ErrOrStderr()
	}
	r := runner.New(opts)

	stem := strings.TrimSuffix(filepath.Base(cfg.WorkloadPath), filepath.Ext(cfg.WorkloadPath))
	dir, err := output.NewRunDir(cfg.OutputDir, stem, output.RunLabel(cfg.Store, def.Writers, def.Readers))
	if err != nil {
		return err
	}
	defer dir.Close()

	setupCtx, setupSpan := tracing.StartPhaseSpan(ctx, tracer, "setup", cfg.Store)
	err = r.Prepopulate(setupCtx)
	tracing.EndSpan(setupSpan, err)
	if err != nil {
		return err
	}

	sampler, err := resource.NewSampler(time.Second)
	if err != nil {
		return err
	}
	sampler.Start(ctx)

	var progress *output.ProgressReporter
	if !cfg.JSONOutput && !cfg.NoProgress {
		progress = output.NewProgressReporter(collector, progressInterval, cmd.OutOrStdout())
		progress.Start()
	}

	var controller *chaos.Controller
	chaosDone := make(chan error, 1)
	if crasher != nil {
		controller = chaos.New(chaos.Options{
			AtOffset:        time.Duration(crashCfg.AtSeconds * float64(time.Second)),
			AfterEvents:     crashCfg.AfterEvents,
			RecoveryTimeout: time.Duration(crashCfg.RecoveryTimeoutSeconds * float64(time.Second)),
			Verify:          crashCfg.Verify,
			Crasher:         crasher,
			Store:           adapter,
			Collector:       collector,
			Claims:          keys.Claims(),
			Issued:          r.Issued,
		})
		go func() {
			crashCtx, crashSpan := tracing.StartPhaseSpan(runCtx, tracer, "crash", cfg.Store)
			cerr := controller.Run(crashCtx)
			tracing.EndSpan(crashSpan, cerr, attribute.String("esbench.chaos_state", controller.State().String()))
			if cerr != nil {
				runCancel()
			}
			chaosDone <- cerr
		}()
	} else {
		chaosDone <- nil
	}

	measureCtx, measureSpan := tracing.StartPhaseSpan(runCtx, tracer, "measure", cfg.Store)
	result := r.Run(measureCtx)
	tracing.EndSpan(measureSpan, nil)

	sampler.Stop()
	if progress != nil {
		progress.Stop()
		fmt.Fprintln(cmd.OutOrStdout())
	}
	interrupted := ctx.Err() != nil
	runCancel()
	chaosErr := <-chaosDone

	// Flush everything collected even when recovery failed, so partial
	// results remain usable.
	_, drainSpan := tracing.StartPhaseSpan(context.Background(), tracer, "drain", cfg.Store)
	samples := collector.Drain()
	writeErr := dir.WriteSamples(samples)
	tracing.EndSpan(drainSpan, writeErr, attribute.Int("esbench.samples", len(samples)))
	if writeErr != nil {
		return writeErr
	}

	exStart, exEnd, _ := collector.RecoveryWindow()
	stats := metrics.Compute(samples, exStart, exEnd)
	summary := buildSummary(def, cfg.Store, result, stats, sampler.Usage(), collector)

	if err := dir.WriteSummary(summary); err != nil {
		return err
	}
	if err := dir.WriteMeta(cfg.WorkloadPath, cfg.Store, seed, version); err != nil {
		return err
	}

	if cfg.JSONOutput {
		if err := output.PrintJSONReport(cmd.OutOrStdout(), summary); err != nil {
			return err
		}
	} else {
		output.PrintReport(cmd.OutOrStdout(), summary)
		fmt.Fprintf(cmd.OutOrStdout(), "\nRaw results written to %s\n", dir.Path)
	}

	if chaosErr != nil && !interrupted {
		return chaosErr
	}
	return nil
}

func buildSummary(def *workload.Definition, adapterName string, result runner.Result, stats metrics.Stats, usage resource.Usage, collector *metrics.Collector) output.Summary {
	appendStats := stats.PerOp[metrics.OpAppend]
	eventsWritten := appendStats.Outcomes[metrics.OutcomeOK]
	durationS := result.Duration.Seconds()

	s := output.Summary{
		Workload:      def.Name,
		Adapter:       adapterName,
		Writers:       def.Writers,
		Readers:       def.Readers,
		DurationS:     durationS,
		EventsWritten: eventsWritten,
		EventsRead:    result.EventsRead,
		Conflicts:     stats.Outcomes[metrics.OutcomeConflict],
		Errors:        stats.Outcomes[metrics.OutcomeError] + stats.Outcomes[metrics.OutcomeTimeout],
		Abandoned:     result.Abandoned,
		Latency:       stats.Latency,
		Resources:     usage,
	}
	if durationS > 0 {
		s.ThroughputEPS = float64(eventsWritten) / durationS
	}
	if rec, ok := collector.RecoveryTime(); ok {
		ms := float64(rec) / float64(time.Millisecond)
		s.RecoveryMS = &ms
	}
	return s
}
