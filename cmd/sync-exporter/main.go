package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/validaoxyz/ephemery-sync-exporter/internal/config"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/events"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/exporter"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/logger"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/metrics"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/series"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/stats"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/statusapi"
	"github.com/validaoxyz/ephemery-sync-exporter/internal/telemetry"
)

func usage() {
	fmt.Println("Usage: sync-exporter <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  start                Start the sync exporter")
	fmt.Println("  status               Print sync status, statistics and timeline over the history (--limit N)")
	fmt.Println("  restart-consensus    Restart the consensus client on the node")
	fmt.Println("  check-sync-sources   Check the checkpoint sync sources")
	fmt.Println("  run-fix-script       Run the node's sync fix script")
	fmt.Println("\nRun 'sync-exporter <command> --help' for the options of a command.")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	command := os.Args[1]
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	flags := config.RegisterFlags(fs)
	var limit int
	if command == "status" {
		fs.IntVar(&limit, "limit", 0, "Use the newest N history samples instead of --history-days")
	}

	switch command {
	case "start", "status", statusapi.CommandRestartConsensus, statusapi.CommandCheckSyncSources, statusapi.CommandRunFixScript:
		fs.Parse(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Printf("%q is not a valid command.\n", command)
		usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(flags)
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.SetLogLevel(cfg.LogLevel); err != nil {
		fmt.Printf("Error setting log level: %v\n", err)
		os.Exit(1)
	}
	logger.SetColorsEnabled(cfg.LogColors)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "start":
		err = start(ctx, cfg)
	case "status":
		err = printStatus(ctx, os.Stdout, cfg, limit, time.Now())
	default:
		err = runCommand(ctx, cfg, command)
	}
	if err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func start(ctx context.Context, cfg config.Config) error {
	metricsConfig := metrics.MetricsConfig{
		EnablePrometheus: cfg.EnablePrometheus,
		EnableOTLP:       cfg.EnableOTLP,
		OTLPEndpoint:     cfg.OTLPEndpoint,
		OTLPInsecure:     cfg.OTLPInsecure,
		OTLPInterval:     cfg.OTLPInterval,
		Alias:            cfg.Alias,
		Network:          cfg.Network,
	}

	if err := metrics.InitMetrics(ctx, metricsConfig); err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metrics.Shutdown(shutdownCtx); err != nil {
			logger.WarningComponent("metrics", "Failed to flush metrics: %v", err)
		}
	}()

	if err := exporter.Start(ctx, cfg); err != nil {
		return err
	}
	logger.InfoComponent("system", "Shutting down gracefully")
	return nil
}

func runCommand(ctx context.Context, cfg config.Config, command string) error {
	client := exporter.NewClient(cfg)
	started := time.Now()

	res, err := client.Run(ctx, command)
	var remote *statusapi.RemoteCommandError
	if err != nil && !errors.As(err, &remote) {
		return fmt.Errorf("%s: %w", command, err)
	}

	took := strings.TrimSpace(humanize.RelTime(started, time.Now(), "", ""))
	if res.Output != "" {
		fmt.Println(res.Output)
	}
	if remote != nil {
		return fmt.Errorf("%s failed after %s: %s", command, took, remote.Message)
	}
	fmt.Printf("%s succeeded (%s)\n", command, took)
	return nil
}

// printStatus pulls history once and reports on all of it. The live window bound does
// not apply here.
func printStatus(ctx context.Context, w io.Writer, cfg config.Config, limit int, now time.Time) error {
	client := exporter.NewClient(cfg)

	var raws []telemetry.RawSnapshot
	var err error
	if limit > 0 {
		raws, err = client.HistoryLimit(ctx, limit)
	} else {
		raws, err = client.History(ctx, cfg.HistoryDays)
	}
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	samples, errs := telemetry.NormalizeAll(raws, now)
	for _, e := range errs {
		logger.DebugComponent("poll", "%v", e)
	}
	if len(samples) == 0 {
		fmt.Fprintf(w, "No samples available from %s\n", client.BaseURL())
		return nil
	}
	samples = series.Sorted(samples)

	latest := samples[len(samples)-1]
	fmt.Fprintf(w, "Status source %s, %d samples since %s\n",
		client.BaseURL(), len(samples), samples[0].Timestamp.Format(time.RFC3339))
	fmt.Fprintf(w, "Latest sample %s (%s)\n", latest.Timestamp.Format(time.RFC3339), humanize.RelTime(latest.Timestamp, now, "ago", "from now"))
	fmt.Fprintf(w, "  consensus: %s, head slot %s, distance %s\n",
		latest.Consensus.Kind, formatInt(latest.Consensus.HeadSlot), formatInt(latest.Consensus.SyncDistance))
	fmt.Fprintf(w, "  execution: %s, block %s of %s\n",
		latest.Execution.Kind, formatInt(latest.Execution.CurrentBlock), formatInt(latest.Execution.HighestBlock))

	fmt.Fprintln(w, stats.Compute(samples, telemetry.LayerConsensus, now).Summary())
	fmt.Fprintln(w, stats.Compute(samples, telemetry.LayerExecution, now).Summary())

	timeline := events.Detect(samples, cfg.Events)
	if len(timeline) > 0 {
		fmt.Fprintln(w, "Timeline:")
	}
	for _, ev := range timeline {
		fmt.Fprintf(w, "  %s  %-8s %s: %s\n", ev.Timestamp.Format(time.RFC3339), ev.Severity, ev.Title, ev.Description)
	}
	return nil
}

func formatInt(v telemetry.Int) string {
	if !v.Known {
		return v.String()
	}
	return humanize.Comma(v.Value)
}
