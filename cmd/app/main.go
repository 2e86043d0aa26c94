package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"TrustGate/internal/di"
	"TrustGate/internal/usecase"
	"TrustGate/pkg/config"
)

type rootFlags struct {
	configPath string
	runSeconds float64
	symbol     string
	dataDir    string
	outputDir  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "trustgate",
		Short:         "Trading decision gate: sanitize market data, track trust, emit ALLOWED/RESTRICTED/HALTED",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f, usecase.ModeHistorical)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "config file path (YAML); defaults apply when empty")
	pf.StringVar(&f.dataDir, "data-dir", "", "directory of CSV files to replay")
	pf.StringVar(&f.outputDir, "output-dir", "", "directory for decision logs and summary")

	root.AddCommand(&cobra.Command{
		Use:   "historical",
		Short: "Replay CSV files from the data directory through the gate",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f, usecase.ModeHistorical)
		},
	})

	rt := &cobra.Command{
		Use:   "realtime",
		Short: "Stream live market data through the gate for a bounded duration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f, usecase.ModeRealtime)
		},
	}
	rt.Flags().Float64Var(&f.runSeconds, "run-seconds", 0, "run duration in seconds; 0 keeps the configured value")
	rt.Flags().StringVar(&f.symbol, "symbol", "", "market symbol, e.g. btcusdt")
	root.AddCommand(rt)

	return root
}

// applyFlags lets explicit flags win over file and environment values.
func applyFlags(cfg *config.Config, f *rootFlags) {
	if f.dataDir != "" {
		cfg.Ingest.DataDir = f.dataDir
	}
	if f.outputDir != "" {
		cfg.Output.Dir = f.outputDir
	}
	if f.runSeconds > 0 {
		cfg.Ingest.RunDuration = time.Duration(f.runSeconds * float64(time.Second))
	}
	if f.symbol != "" {
		cfg.Ingest.Symbol = strings.ToLower(f.symbol)
	}
}

func run(ctx context.Context, f *rootFlags, mode usecase.Mode) error {
	cfg, err := config.LoadWithEnv(f.configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	applyFlags(cfg, f)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := di.InitializeApp(cfg, mode)
	if err != nil {
		return fmt.Errorf("app initialization failed: %w", err)
	}
	return app.Run(ctx)
}
