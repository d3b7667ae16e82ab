package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/popsim/popsim/sim"
	"github.com/popsim/popsim/sim/job"
	"github.com/popsim/popsim/sim/model"
)

var (
	// CLI flags; a non-default flag overrides the run config file
	modelPath       string  // YAML model file
	configPath      string  // YAML run config file
	duration        float64 // Simulated seconds
	step            float64 // Base integration step
	seed            int64   // Master seed
	jobDir          string  // Directory for started/finished markers
	tracePath       string  // Trace CSV output
	stepEventsFirst bool    // Order bucket events before spikes at equal time
	metricsAddr     string  // Address serving /metrics
	logLevel        string  // Log verbosity level
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "popsim",
	Short: "Discrete-event simulator for hierarchical population models",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
		return nil
	},
	SilenceUsage: true,
}

// runCmd executes the simulation using the run config and CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a model to its duration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		m, err := model.LoadModel(cfg.Model)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := job.Options{Dir: cfg.JobDir, TracePath: cfg.Trace}
		if cfg.MetricsAddr != "" {
			reg := prometheus.NewRegistry()
			metrics, err := sim.NewMetrics(reg)
			if err != nil {
				return err
			}
			opts.Metrics = metrics
			shutdown := serveMetrics(cfg.MetricsAddr, metrics)
			defer shutdown()
		}

		start := time.Now()
		res, err := job.Execute(ctx, m, cfg.SimConfig(), opts)
		if err != nil {
			return err
		}
		printResult(cmd.ErrOrStderr(), m.Name, res, time.Since(start))
		logrus.Info("Simulation complete.")
		return nil
	},
}

// networkCmd builds the initial topology only and prints population sizes
var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Construct a model's initial network and print population counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd)
		if err != nil {
			return err
		}
		m, err := model.LoadModel(cfg.Model)
		if err != nil {
			return err
		}
		s, err := sim.ConstructNetwork(m, cfg.SimConfig())
		if err != nil {
			return err
		}
		counts, err := s.Counts()
		if err != nil {
			return err
		}
		printCounts(cmd.OutOrStdout(), counts)
		return nil
	},
}

// resolveConfig merges the optional config file with flags the user set.
func resolveConfig(cmd *cobra.Command) (RunConfig, error) {
	var cfg RunConfig
	if configPath != "" {
		loaded, err := loadRunConfig(configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("model") || cfg.Model == "" {
		cfg.Model = modelPath
	}
	if flags.Changed("duration") {
		cfg.Duration = duration
	}
	if flags.Changed("step") {
		cfg.Step = step
	}
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("job-dir") {
		cfg.JobDir = jobDir
	}
	if flags.Changed("trace") {
		cfg.Trace = tracePath
	}
	if flags.Changed("step-events-first") {
		cfg.StepEventsFirst = stepEventsFirst
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
	if cfg.Model == "" {
		return cfg, errors.New("no model given: use --model or the config file's model field")
	}
	return cfg, nil
}

func serveMetrics(addr string, metrics *sim.Metrics) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("metrics server: %v", err)
		}
	}()
	logrus.Infof("Serving metrics on %s/metrics", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func printResult(w io.Writer, name string, res *job.Result, elapsed time.Duration) {
	fmt.Fprintln(w, "=== Simulation Summary ===")
	fmt.Fprintf(w, "Model            : %s\n", name)
	fmt.Fprintf(w, "Simulated time   : %g\n", res.Clock)
	fmt.Fprintf(w, "Events           : %d\n", res.Events)
	fmt.Fprintf(w, "Bucket passes    : %d\n", res.BucketPasses)
	if res.Trace != nil {
		fmt.Fprintf(w, "Trace rows       : %d\n", res.Trace.Rows)
	}
	fmt.Fprintf(w, "Wall time        : %s\n", elapsed.Round(time.Millisecond))
	printCounts(w, res.Counts)
}

func printCounts(w io.Writer, counts map[string]int) {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%d\n", name, counts[name])
	}
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&modelPath, "model", "", "YAML model file")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML run config file")
	rootCmd.PersistentFlags().Float64Var(&step, "step", 0, "Base integration step (0 uses the model's step)")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", 0, "Master seed (0 uses the model's seed)")

	runCmd.Flags().Float64Var(&duration, "duration", 0, "Simulated seconds (0 uses the model's duration)")
	runCmd.Flags().StringVar(&jobDir, "job-dir", "", "Directory receiving the started and finished markers")
	runCmd.Flags().StringVar(&tracePath, "trace", "", "Trace CSV file (empty or - for stdout)")
	runCmd.Flags().BoolVar(&stepEventsFirst, "step-events-first", false, "Run bucket events before spikes that share a timestamp")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(networkCmd)
}
