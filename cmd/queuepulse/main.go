// Command queuepulse polls SQS queues, dead-letter queues, and Lambda
// functions on a fixed cadence, diffs queue depths between cycles, infers
// function execution state from CloudWatch metric windows, and appends one
// JSON snapshot per cycle to an export file.
//
// One-shot modes: -once runs a single cycle and prints the snapshot,
// -list-functions prints the function inventory, -scan-logs <fn> scans the
// function's recent log events for errors.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/queuepulse/queuepulse/internal/config"
	"github.com/queuepulse/queuepulse/internal/dlq"
	"github.com/queuepulse/queuepulse/internal/export"
	"github.com/queuepulse/queuepulse/internal/logging"
	"github.com/queuepulse/queuepulse/internal/logscan"
	"github.com/queuepulse/queuepulse/internal/poller"
	"github.com/queuepulse/queuepulse/internal/provider"
	"github.com/queuepulse/queuepulse/internal/provider/awsclient"
	"github.com/queuepulse/queuepulse/internal/registry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "queuepulse: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath       = flag.String("config", "", "path to YAML config file")
		interval         = flag.Duration("interval", 0, "queue polling interval (overrides config)")
		functionInterval = flag.Duration("function-interval", 0, "function polling interval (overrides config)")
		metricPeriod     = flag.Duration("metric-period", 0, "trailing metric window (overrides config)")
		maxDLQMessages   = flag.Int("max-dlq-messages", 0, "max DLQ messages sampled per queue per cycle (overrides config)")
		exportFile       = flag.String("export-file", "", "snapshot export file (overrides config)")
		metricsAddr      = flag.String("metrics-addr", "", "listen address for prometheus metrics (empty disables)")
		once             = flag.Bool("once", false, "run a single cycle, print the snapshot, and exit")
		listFunctions    = flag.Bool("list-functions", false, "print the function inventory and exit")
		countDLQ         = flag.String("count-dlq", "", "sample the named DLQ, count messages by body field, and exit (requires -count-field)")
		countField       = flag.String("count-field", "", "JSON body field for -count-dlq")
		countValue       = flag.String("count-value", "", "field value to match for -count-dlq")
		scanLogs         = flag.String("scan-logs", "", "scan recent log events of the named function and exit")
		logHours         = flag.Int("log-hours", 1, "how many trailing hours -scan-logs covers")
		errorsOnly       = flag.Bool("errors-only", false, "with -scan-logs, print only error-classified events")
		devLog           = flag.Bool("dev-log", false, "human-readable development logging")
	)
	flag.Parse()

	log, err := logging.New(*devLog)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(cfg, *interval, *functionInterval, *metricPeriod, *maxDLQMessages, *exportFile)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := awsclient.New(ctx, cfg.Region, log)
	if err != nil {
		return err
	}

	switch {
	case *listFunctions:
		return printFunctionInventory(ctx, client)
	case *scanLogs != "":
		return printLogScan(ctx, client, log, *scanLogs, *logHours, *errorsOnly)
	case *countDLQ != "":
		return printDLQFieldCount(ctx, client, cfg, log, *countDLQ, *countField, *countValue)
	}

	reg, err := registry.New(cfg)
	if err != nil {
		return err
	}
	log.Info("resources registered",
		zap.Int("queues", len(cfg.Queues)),
		zap.Int("dlqs", len(cfg.DLQs)),
		zap.Int("functions", len(cfg.Functions)))

	sampler := dlq.NewSampler(client, dlq.Options{
		MaxBodyLength: cfg.RedactionLimit,
		CallBudget:    cfg.EffectiveDLQCallBudget(),
	}, log)

	opts := poller.Options{
		QueueInterval:    cfg.QueueInterval,
		FunctionInterval: cfg.FunctionInterval,
		MetricPeriod:     cfg.MetricPeriod,
		FetchTimeout:     cfg.FetchTimeout,
		TransientRetries: cfg.TransientRetries,
		MaxDLQMessages:   cfg.MaxDLQMessages,
	}

	if cfg.SaveToLog && cfg.ExportPath != "" && !*once {
		writer, err := export.NewFileWriter(cfg.ExportPath)
		if err != nil {
			return err
		}
		defer writer.Close()
		opts.Exporter = writer
		log.Info("cycle export enabled", zap.String("path", cfg.ExportPath))
	}

	p := poller.New(reg, client, sampler, log, opts)

	if *once {
		snap, err := p.RunOnce(ctx)
		if err != nil {
			return err
		}
		doc, err := export.Marshal(snap)
		if err != nil {
			return err
		}
		fmt.Println(string(doc))
		return nil
	}

	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, log)
	}

	log.Info("starting polling loop",
		zap.Duration("queueInterval", cfg.QueueInterval),
		zap.Duration("functionInterval", cfg.FunctionInterval),
		zap.Duration("metricPeriod", cfg.MetricPeriod))
	return p.Run(ctx)
}

// applyFlagOverrides lets flags win over config file and environment, the
// usual precedence for operational one-offs.
func applyFlagOverrides(cfg *config.Config, interval, functionInterval, metricPeriod time.Duration, maxDLQ int, exportFile string) {
	if interval > 0 {
		cfg.QueueInterval = interval
		if cfg.FunctionInterval < interval {
			cfg.FunctionInterval = interval
		}
	}
	if functionInterval > 0 {
		cfg.FunctionInterval = functionInterval
	}
	if metricPeriod > 0 {
		cfg.MetricPeriod = metricPeriod
	}
	if maxDLQ > 0 {
		cfg.MaxDLQMessages = maxDLQ
	}
	if exportFile != "" {
		cfg.ExportPath = exportFile
		cfg.SaveToLog = true
	}
}

func printFunctionInventory(ctx context.Context, client *awsclient.Client) error {
	infos, err := client.ListFunctions(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d functions\n\n", len(infos))
	for _, fn := range infos {
		fmt.Printf("%s\n", fn.Name)
		if fn.Description != "" {
			fmt.Printf("  description:  %s\n", fn.Description)
		}
		fmt.Printf("  runtime:      %s\n", fn.Runtime)
		fmt.Printf("  memory:       %d MB\n", fn.MemorySizeMB)
		fmt.Printf("  timeout:      %d s\n", fn.TimeoutSec)
		fmt.Printf("  lastModified: %s\n\n", fn.LastModified)
	}
	return nil
}

func printLogScan(ctx context.Context, client *awsclient.Client, log *zap.Logger, functionID string, hours int, errorsOnly bool) error {
	if hours <= 0 {
		hours = 1
	}
	window := provider.TrailingWindow(time.Now().UTC(), time.Duration(hours)*time.Hour)

	scanner := logscan.NewScanner(client, 0, log)
	report, err := scanner.Scan(ctx, functionID, window, errorsOnly)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %d events, %d errors (window %s to %s)\n",
		report.FunctionID, report.TotalEvents, report.ErrorEvents,
		report.Window.Start.Format(time.RFC3339), report.Window.End.Format(time.RFC3339))
	if report.Truncated {
		fmt.Println("(truncated: page budget reached)")
	}
	for _, entry := range report.Entries {
		marker := " "
		if entry.IsError {
			marker = "!"
		}
		fmt.Printf("%s %s [%s] %s\n", marker, entry.Timestamp, entry.LogStream, entry.Message)
	}
	return nil
}

func printDLQFieldCount(ctx context.Context, client *awsclient.Client, cfg *config.Config, log *zap.Logger, queue, field, value string) error {
	if field == "" {
		return fmt.Errorf("-count-dlq requires -count-field")
	}
	queueURL := queue
	if !strings.HasPrefix(queue, "https://") {
		queueURL = cfg.QueueURL(queue)
	}

	// Counting parses bodies in-process and exports nothing, so it keeps a
	// generous body limit instead of the export redaction threshold.
	sampler := dlq.NewSampler(client, dlq.Options{
		MaxBodyLength: 64 * 1024,
		CallBudget:    cfg.EffectiveDLQCallBudget(),
	}, log)
	records, err := sampler.SampleMessages(ctx, queueURL, cfg.MaxDLQMessages)
	if err != nil {
		return err
	}

	fc := dlq.CountByBodyField(records, field, value)
	fmt.Printf("%s: %d sampled, %d match %s=%q\n", queue, fc.Processed, fc.Matches, field, value)
	if fc.ParseErrors > 0 {
		fmt.Printf("  unparseable bodies: %d\n", fc.ParseErrors)
	}
	if fc.MissingField > 0 {
		fmt.Printf("  missing field:      %d\n", fc.MissingField)
	}
	return nil
}

func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info("metrics endpoint listening", zap.String("addr", addr))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics endpoint failed", zap.Error(err))
	}
}
