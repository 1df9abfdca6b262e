package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/mevengine/internal/mev/engine"
	"github.com/sawpanic/mevengine/internal/mev/httpapi"
	"github.com/sawpanic/mevengine/internal/mev/mevconfig"
)

const (
	appName = "mevengine"
	version = "v0.1.0"

	// Exit codes (spec.md §6).
	exitClean          = 0
	exitConfigError    = 1
	exitWalletFailure  = 2
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	var configPath string
	var secretsPrefix string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Solana MEV execution engine",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/mevengine.yaml", "path to the engine's YAML config file")
	rootCmd.PersistentFlags().StringVar(&secretsPrefix, "secrets-prefix", "mevengine", "env var prefix for secret lookups")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine's scanning, execution, and HTTP API as a daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configPath, secretsPrefix)
		},
	}

	scanOnceCmd := &cobra.Command{
		Use:   "scan-once",
		Short: "Run a single venue scan tick and print the resulting signal count, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScanOnce(configPath, secretsPrefix)
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Construct the engine and print a one-shot status snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(configPath, secretsPrefix)
		},
	}

	rootCmd.AddCommand(runCmd, scanOnceCmd, statusCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(exitConfigError)
	}
}

func loadEngine(configPath, secretsPrefix string) (*engine.Engine, mevconfig.Config, error) {
	cfg, err := mevconfig.Load(configPath)
	if err != nil {
		return nil, cfg, fmt.Errorf("load config: %w", err)
	}

	logger := log.Logger.Level(parseLevel(cfg.LogLevel))
	secrets := mevconfig.NewEnvSecrets(secretsPrefix)

	eng, err := engine.New(cfg, secrets, logger)
	if err != nil {
		return nil, cfg, fmt.Errorf("construct engine: %w", err)
	}
	return eng, cfg, nil
}

// exitCodeFor maps a loadEngine failure to the spec's exit codes: wallet/
// key construction failures are a distinct, more severe class than a
// generic config problem (bad DSN, unreachable redis, malformed YAML).
func exitCodeFor(err error) int {
	if err != nil && strings.Contains(err.Error(), "construct signer") {
		return exitWalletFailure
	}
	return exitConfigError
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// runDaemon wires the scanning/execution loops, the operator HTTP API,
// and a periodic status-log cron job, then blocks until SIGINT/SIGTERM.
func runDaemon(configPath, secretsPrefix string) error {
	eng, _, err := loadEngine(configPath, secretsPrefix)
	if err != nil {
		log.Error().Err(err).Msg("fatal config error")
		os.Exit(exitCodeFor(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng.Start(ctx)
	log.Info().Msg("engine started")

	httpSrv := httpapi.NewServer(eng, log.Logger, httpapi.DefaultServerConfig())
	go func() {
		if err := httpSrv.Start(); err != nil {
			log.Error().Err(err).Msg("http api server failed")
		}
	}()

	statusCron := cron.New()
	if _, err := statusCron.AddFunc("@every 1m", func() {
		st := eng.Status()
		log.Info().
			Int("queue_depth", st.QueueDepth).
			Int("pending_approvals", st.PendingApprovals).
			Bool("swarm_paused", st.Swarm.IsPaused).
			Str("overall_health", string(st.Swarm.OverallHealth)).
			Msg("engine status")
	}); err != nil {
		log.Warn().Err(err).Msg("failed to register status-log cron job")
	}
	statusCron.Start()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, stopping engine")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	statusCron.Stop()
	eng.Stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http api shutdown did not complete cleanly")
	}

	log.Info().Msg("clean shutdown complete")
	return nil
}

func runScanOnce(configPath, secretsPrefix string) error {
	eng, _, err := loadEngine(configPath, secretsPrefix)
	if err != nil {
		log.Error().Err(err).Msg("fatal config error")
		os.Exit(exitCodeFor(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	signals := eng.Scanner().ScanOnce(ctx)
	fmt.Printf("scan-once: %d signals observed\n", len(signals))
	return nil
}

func runStatus(configPath, secretsPrefix string) error {
	eng, _, err := loadEngine(configPath, secretsPrefix)
	if err != nil {
		log.Error().Err(err).Msg("fatal config error")
		os.Exit(exitCodeFor(err))
	}

	st := eng.Status()
	fmt.Printf("swarm: %s (paused=%v)\n", st.Swarm.OverallHealth, st.Swarm.IsPaused)
	fmt.Printf("queue depth: %d\n", st.QueueDepth)
	fmt.Printf("pending approvals: %d\n", st.PendingApprovals)
	fmt.Printf("scanner: %d scans, %d healthy venues\n", st.ScannerStats.TotalScans, st.ScannerStats.HealthyVenues)
	for name, state := range st.BreakerStates {
		fmt.Printf("breaker %s: %s\n", name, state)
	}
	return nil
}
