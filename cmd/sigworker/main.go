package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"sigworker/internal/broker"
	"sigworker/internal/config"
	"sigworker/internal/engine"
	"sigworker/internal/logging"
	"sigworker/internal/md"
	"sigworker/internal/metrics"
)

var rootCmd = &cobra.Command{
	Use:   "sigworker",
	Short: "Concurrent, risk-bounded trading signal worker",
	Long: `sigworker analyses a fixed symbol universe every cycle, turns confident
verdicts into bracket orders and admits them through a shared risk gate
before forwarding them to the Alpaca paper broker.

Auto-trading is off by default: admitted orders are logged as dry runs.`,
	SilenceUsage: true,
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single cycle and print the result as JSON",
	RunE:  runOnce,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run cycles every interval until interrupted",
	Long: `Run cycles every interval until SIGINT or SIGTERM.

Examples:
  sigworker run --config worker.yaml
  sigworker run --symbols AAPL,MSFT --interval 30s --log-format console`,
	RunE: runLoop,
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(onceCmd, runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	cfg       config.Config
	log       zerolog.Logger
	worker    *engine.Worker
	broker    *broker.Client
	decisions *engine.DecisionLogger
}

func (a *app) close() {
	if a.decisions == nil {
		return
	}
	if err := a.decisions.Close(); err != nil {
		a.log.Error().Err(err).Msg("failed to close decision log")
	}
}

func setup(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: logging.New(cfg.App.LogLevel, cfg.App.LogFormat)}

	gateway, err := md.NewAlpacaGateway(md.GatewayConfig{
		APIKey:    cfg.Alpaca.APIKey,
		APISecret: cfg.Alpaca.APISecret,
		BaseURL:   cfg.Alpaca.DataBaseURL,
		Feed:      cfg.Alpaca.Feed,
		Timeframe: cfg.Alpaca.Timeframe,
		RateLimit: cfg.Alpaca.RateLimit,
		RateBurst: cfg.Alpaca.RateBurst,
	}, a.log)
	if err != nil {
		return nil, err
	}

	var executor engine.Executor
	if cfg.Worker.AutoTrading {
		a.broker = broker.New(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.PaperBaseURL, a.log)
		executor = a.broker
	}

	runID := generateRunID()
	if cfg.Worker.DecisionsPath != "" {
		if a.decisions, err = engine.NewDecisionLogger(cfg.Worker.DecisionsPath, runID, a.log); err != nil {
			return nil, fmt.Errorf("decision log: %w", err)
		}
	}

	a.worker, err = engine.New(ctx, cfg, gateway, nil, executor, a.decisions, a.log)
	if err != nil {
		a.close()
		return nil, err
	}
	a.log.Info().Str("run_id", runID).Strs("symbols", cfg.Worker.Symbols).Bool("auto_trading", cfg.Worker.AutoTrading).
		Int("max_workers", cfg.Worker.MaxWorkers).Int("max_positions", cfg.Risk.MaxPositions).
		Str("analyzer", cfg.Analysis.Analyzer).Str("feed", cfg.Alpaca.Feed).Msg("worker ready")
	return a, nil
}

func runOnce(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	result := a.worker.RunOnce(ctx)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func runLoop(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if addr := a.cfg.App.MetricsAddr; addr != "" {
		srv := metrics.Serve(addr)
		a.log.Info().Str("addr", addr).Msg("metrics listening")
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error().Err(err).Msg("metrics shutdown failed")
			}
		}()
	}

	if a.broker != nil {
		go engine.ReconcileLoop(ctx, a.broker, a.worker, a.cfg.Worker.ReconcileInterval, a.log)
	}

	autoTrading := a.cfg.Worker.AutoTrading
	err = a.worker.RunForever(ctx, a.cfg.Worker.Interval, func(result engine.CycleResult) {
		// Dry-run admissions never become positions, so their capacity is returned after the cycle.
		if autoTrading {
			return
		}
		for _, res := range result.Held() {
			a.worker.Release(res.ID)
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.log.Info().Msg("shutdown complete")
	return nil
}

func generateRunID() string {
	timestamp := time.Now().UTC().Format("20060102T150405")
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return timestamp
	}
	return timestamp + "-" + hex.EncodeToString(randomBytes)
}
