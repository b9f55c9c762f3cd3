package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

const (
	FlagConfig        = "config"
	FlagSymbols       = "symbols"
	FlagAutoTrading   = "auto-trading"
	FlagMaxWorkers    = "max-workers"
	FlagMaxPositions  = "max-positions"
	FlagRiskPerTrade  = "risk-per-trade"
	FlagAccountBudget = "account-budget"
	FlagSymbolTimeout = "symbol-timeout"
	FlagCycleTimeout  = "cycle-timeout"
	FlagInterval      = "interval"
	FlagAnalyzer      = "analyzer"
	FlagMinConfidence = "min-confidence"
	FlagRewardRatio   = "reward-ratio"
	FlagFeed          = "feed"
	FlagDecisionsPath = "decisions-path"
	FlagMetricsAddr   = "metrics-addr"
	FlagLogLevel      = "log-level"
	FlagLogFormat     = "log-format"
)

// RegisterFlags declares the override flags. Only flags the user sets are applied by Load.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String(FlagConfig, "", "path to YAML config file")
	fs.StringSlice(FlagSymbols, nil, "comma-separated symbol universe")
	fs.Bool(FlagAutoTrading, d.Worker.AutoTrading, "forward admitted orders to the broker")
	fs.Int(FlagMaxWorkers, d.Worker.MaxWorkers, "max symbols analysed in parallel")
	fs.Int(FlagMaxPositions, d.Risk.MaxPositions, "max concurrently reserved positions")
	fs.Float64(FlagRiskPerTrade, d.Risk.RiskPerTrade, "fraction of account budget risked per trade")
	fs.Float64(FlagAccountBudget, d.Risk.AccountBudget, "account risk budget used for sizing")
	fs.Duration(FlagSymbolTimeout, d.Worker.SymbolTimeout, "per-symbol task timeout")
	fs.Duration(FlagCycleTimeout, d.Worker.CycleTimeout, "whole-cycle deadline")
	fs.Duration(FlagInterval, d.Worker.Interval, "delay between cycles in run mode")
	fs.String(FlagAnalyzer, d.Analysis.Analyzer, "analyzer: trend or mean_reversion")
	fs.Float64(FlagMinConfidence, d.Analysis.MinConfidence, "minimum verdict confidence to emit a signal")
	fs.Float64(FlagRewardRatio, d.Analysis.RewardRatio, "target distance as a multiple of stop distance")
	fs.String(FlagFeed, d.Alpaca.Feed, "market data feed: iex or sip")
	fs.String(FlagDecisionsPath, d.Worker.DecisionsPath, "path to decisions log")
	fs.String(FlagMetricsAddr, d.App.MetricsAddr, "prometheus listen address, empty to disable")
	fs.String(FlagLogLevel, d.App.LogLevel, "log level")
	fs.String(FlagLogFormat, d.App.LogFormat, "log format: json or console")
}

func applyFlags(cfg *Config, fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case FlagSymbols:
			cfg.Worker.Symbols, err = fs.GetStringSlice(f.Name)
		case FlagAutoTrading:
			cfg.Worker.AutoTrading, err = fs.GetBool(f.Name)
		case FlagMaxWorkers:
			cfg.Worker.MaxWorkers, err = fs.GetInt(f.Name)
		case FlagMaxPositions:
			cfg.Risk.MaxPositions, err = fs.GetInt(f.Name)
		case FlagRiskPerTrade:
			cfg.Risk.RiskPerTrade, err = fs.GetFloat64(f.Name)
		case FlagAccountBudget:
			cfg.Risk.AccountBudget, err = fs.GetFloat64(f.Name)
		case FlagSymbolTimeout:
			cfg.Worker.SymbolTimeout, err = fs.GetDuration(f.Name)
		case FlagCycleTimeout:
			cfg.Worker.CycleTimeout, err = fs.GetDuration(f.Name)
		case FlagInterval:
			cfg.Worker.Interval, err = fs.GetDuration(f.Name)
		case FlagAnalyzer:
			cfg.Analysis.Analyzer, err = fs.GetString(f.Name)
		case FlagMinConfidence:
			cfg.Analysis.MinConfidence, err = fs.GetFloat64(f.Name)
		case FlagRewardRatio:
			cfg.Analysis.RewardRatio, err = fs.GetFloat64(f.Name)
		case FlagFeed:
			cfg.Alpaca.Feed, err = fs.GetString(f.Name)
		case FlagDecisionsPath:
			cfg.Worker.DecisionsPath, err = fs.GetString(f.Name)
		case FlagMetricsAddr:
			cfg.App.MetricsAddr, err = fs.GetString(f.Name)
		case FlagLogLevel:
			cfg.App.LogLevel, err = fs.GetString(f.Name)
		case FlagLogFormat:
			cfg.App.LogFormat, err = fs.GetString(f.Name)
		}
		if err != nil {
			err = fmt.Errorf("flag --%s: %w", f.Name, err)
		}
	})
	return err
}
