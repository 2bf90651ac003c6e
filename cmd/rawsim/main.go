package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rawsim/internal/config"
	"rawsim/internal/pcap"
	"rawsim/internal/scenario"
	"rawsim/internal/stats"
)

var (
	version   = "1.0.0"
	cfgFile   string
	dryRun    bool
	statsOnly string
)

// flagKeys maps CLI overrides to configuration keys.
var flagKeys = map[string]string{
	"stations":       "station.count",
	"ssid":           "station.ssid",
	"active-probing": "station.active_probing",
	"qos":            "station.qos",
	"beacon":         "ap.beacon_interval_ms",
	"max-stations":   "ap.max_stations",
	"aid-strategy":   "ap.aid_strategy",
	"raw":            "raw.enabled",
	"slots":          "raw.slot_count",
	"slot-ms":        "raw.slot_duration_ms",
	"assigner":       "raw.assigner",
	"threshold":      "raw.auth_control.threshold",
	"traffic-ms":     "traffic.interval_ms",
	"duration":       "simulation.duration_ms",
	"seed":           "simulation.seed",
	"trace":          "trace.file",
	"log-level":      "logging.level",
	"export":         "stats.export_file",
	"metrics":        "stats.metrics_file",
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "rawsim",
		Short: "802.11ah RAW simulator - associate stations and schedule them into RAW slots",
		Long: `A discrete-event simulator of an 802.11ah BSS: stations associate with an
access point, decode the RAW parameter set from each beacon and gate their
contention into the restricted access windows it announces.`,
		Version: version,
		RunE:    run,
	}

	f := rootCmd.Flags()
	f.StringVar(&cfgFile, "config", "", "Configuration file path (default: rawsim.yaml)")
	f.Int("stations", 0, "Number of stations")
	f.String("ssid", "", "SSID the stations look for (empty matches any)")
	f.Bool("active-probing", true, "Send probe requests instead of waiting for beacons")
	f.Bool("qos", true, "Stations use QoS data and EDCA queues")
	f.Int("beacon", 0, "Beacon interval in ms")
	f.Int("max-stations", 0, "Association table size at the AP (0 = unlimited)")
	f.String("aid-strategy", "", "AID allocation strategy (sequential|random)")
	f.Bool("raw", true, "Announce a RAW in every beacon")
	f.Int("slots", 0, "RAW slot count")
	f.Int("slot-ms", 0, "RAW slot duration in ms")
	f.String("assigner", "", "Slot assigner (send-history|modulo|block)")
	f.Int("threshold", 0, "Authentication control threshold (0-1023)")
	f.Int("traffic-ms", 0, "Uplink packet interval in ms")
	f.Int("duration", 0, "Simulated duration in ms")
	f.Int64("seed", 0, "Random seed")
	f.String("trace", "", "Write every transmitted frame to this pcap file")
	f.String("log-level", "", "Log level (debug|info|warn|error)")
	f.String("export", "", "Export statistics as JSON to this file")
	f.String("metrics", "", "Write Prometheus metrics in textfile format to this file")
	f.BoolVar(&dryRun, "dry-run", false, "Validate and print the effective configuration, do not simulate")
	f.StringVar(&statsOnly, "stats-only", "", "Summarize an existing pcap trace and exit")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if statsOnly != "" {
		return showStats(statsOnly)
	}

	v := viper.New()
	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("rawsim")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		log.Debug("No config file found, using defaults and CLI flags")
	}

	// Only flags the user set override the file.
	for name, key := range flagKeys {
		if fl := cmd.Flags().Lookup(name); fl != nil && fl.Changed {
			_ = v.BindPFlag(key, fl)
		}
	}

	cfg, err := config.LoadWithViper(v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	setupLogging(cfg)

	fmt.Printf("RAW Simulator v%s\n", version)
	fmt.Println("==================")
	fmt.Print(cfg.Summary())
	fmt.Println()

	if dryRun {
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		fmt.Println("Dry-run mode: effective configuration")
		fmt.Print(out)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	runID := uuid.New()
	collector := stats.NewCollector()
	var metrics *stats.Metrics
	if cfg.Stats.MetricsFile != "" {
		metrics = stats.NewMetrics(runID.String())
		collector.WithMetrics(metrics)
	}
	reporter := stats.NewReporter(collector, cfg.Stats.ReportIntervalSec, cfg.Stats.ExportFile, runID)
	if cfg.Stats.Enabled {
		reporter.StartPeriodicReport(ctx)
	}

	runner, err := scenario.NewRunner(cfg, collector)
	if err != nil {
		return fmt.Errorf("failed to build scenario: %w", err)
	}

	if cfg.Trace.File != "" {
		w, err := pcap.Create(cfg.Trace.File, time.Now())
		if err != nil {
			return err
		}
		defer func() {
			if err := w.Close(); err != nil {
				log.WithError(err).Warn("Failed to close trace file")
			}
			log.WithFields(log.Fields{"file": cfg.Trace.File, "frames": w.Packets()}).Info("Trace written")
		}()
		runner.AddTap(w)
	}

	log.WithField("run_id", runID).Info("Simulation started")
	if _, err := runner.Run(ctx); err != nil {
		if ctx.Err() != nil {
			log.Info("Simulation interrupted by shutdown")
			return nil
		}
		return err
	}

	if cfg.Stats.Enabled {
		reporter.PrintFinalReport()
		if err := reporter.ExportJSON(); err != nil {
			log.WithError(err).Warn("Failed to export statistics")
		}
	}
	if metrics != nil {
		if err := metrics.WriteTextfile(cfg.Stats.MetricsFile); err != nil {
			log.WithError(err).Warn("Failed to write metrics")
		}
	}
	return nil
}

func showStats(file string) error {
	summary, err := pcap.NewParser().CountFrames(file)
	if err != nil {
		return fmt.Errorf("failed to count frames: %w", err)
	}

	fmt.Println("Trace Frame Statistics:")
	types := make([]string, 0, len(summary.Counts))
	for t := range summary.Counts {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Printf("  %-24s %d\n", t, summary.Counts[t])
	}
	fmt.Printf("  %-24s %d\n", "Total:", summary.Frames)
	fmt.Printf("  %-24s %d\n", "Bytes:", summary.Bytes)
	fmt.Printf("  %-24s %s\n", "Span:", summary.Duration())
	return nil
}

func setupLogging(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.WithError(err).Warn("Failed to open log file, using console only")
		} else if cfg.Logging.Console {
			log.SetOutput(io.MultiWriter(os.Stderr, f))
		} else {
			log.SetOutput(f)
		}
	}
}
