// Package config loads worker settings from YAML, the environment and CLI flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	EnvAPIKey    = "APCA_API_KEY_ID"
	EnvAPISecret = "APCA_API_SECRET_KEY"
	EnvLogLevel  = "SIGWORKER_LOG_LEVEL"
)

// Worker controls the symbol universe and how a cycle is scheduled.
type Worker struct {
	Symbols           []string      `yaml:"symbols" validate:"min=1,unique,dive,required"`
	AutoTrading       bool          `yaml:"auto_trading"`
	MaxWorkers        int           `yaml:"max_workers" default:"4" validate:"min=1"`
	SymbolTimeout     time.Duration `yaml:"symbol_timeout" default:"10s" validate:"gt=0"`
	CycleTimeout      time.Duration `yaml:"cycle_timeout" default:"1m" validate:"gt=0"`
	Interval          time.Duration `yaml:"interval" default:"1m" validate:"gt=0"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval" default:"30s" validate:"gt=0"`
	Lookback          int           `yaml:"lookback" default:"60" validate:"min=2"`
	DecisionsPath     string        `yaml:"decisions_path" default:"decisions.ndjson"`
}

// Risk holds the portfolio-level limits enforced by the risk gate.
type Risk struct {
	RiskPerTrade  float64 `yaml:"risk_per_trade" default:"0.01" validate:"gt=0,lte=1"`
	MaxPositions  int     `yaml:"max_positions" default:"3" validate:"min=1"`
	AccountBudget float64 `yaml:"account_budget" default:"100000" validate:"gt=0"`
	// MaxNotional caps a single order's entry notional; 0 disables the cap.
	MaxNotional float64 `yaml:"max_notional" validate:"gte=0"`
}

// Analysis parameterises the default analyzer and the signal builder.
type Analysis struct {
	Analyzer        string  `yaml:"analyzer" default:"trend" validate:"oneof=trend mean_reversion"`
	FastWindow      int     `yaml:"fast_window" default:"5" validate:"min=1,ltfield=SlowWindow"`
	SlowWindow      int     `yaml:"slow_window" default:"20" validate:"min=2"`
	MomentumWindow  int     `yaml:"momentum_window" default:"10" validate:"min=1"`
	ATRWindow       int     `yaml:"atr_window" default:"14" validate:"min=1"`
	MinConfidence   float64 `yaml:"min_confidence" default:"0.5" validate:"gte=0,lte=1"`
	RewardRatio     float64 `yaml:"reward_ratio" default:"2" validate:"gt=0"`
	StopATRMultiple float64 `yaml:"stop_atr_multiple" default:"1.5" validate:"gt=0"`
}

// Alpaca holds broker and market data connectivity. Credentials only come from the environment.
type Alpaca struct {
	PaperBaseURL string  `yaml:"paper_base_url" default:"https://paper-api.alpaca.markets" validate:"url"`
	DataBaseURL  string  `yaml:"data_base_url" validate:"omitempty,url"`
	Feed         string  `yaml:"feed" default:"iex" validate:"oneof=iex sip"`
	Timeframe    string  `yaml:"timeframe" default:"1Min" validate:"oneof=1Min 5Min 15Min 1Hour 1Day"`
	RateLimit    float64 `yaml:"rate_limit" default:"3" validate:"gt=0"`
	RateBurst    int     `yaml:"rate_burst" default:"3" validate:"min=1"`
	APIKey       string  `yaml:"-"`
	APISecret    string  `yaml:"-"`
}

// App captures process-wide settings such as logging and the metrics listener.
type App struct {
	LogLevel    string `yaml:"log_level" default:"info"`
	LogFormat   string `yaml:"log_format" default:"json" validate:"oneof=json console"`
	MetricsAddr string `yaml:"metrics_addr" default:":9102"`
}

type Config struct {
	App      App      `yaml:"app"`
	Worker   Worker   `yaml:"worker"`
	Risk     Risk     `yaml:"risk"`
	Analysis Analysis `yaml:"analysis"`
	Alpaca   Alpaca   `yaml:"alpaca"`
}

var validate = validator.New()

// Default returns a Config with every default applied and no symbols.
func Default() Config {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// FromFile decodes a YAML file on top of the defaults. An empty path yields the defaults.
func FromFile(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode yaml: %w", err)
	}
	return cfg, nil
}

// Load layers the config file, .env, environment and explicitly set flags, in that order.
func Load(fs *pflag.FlagSet) (Config, error) {
	if err := loadDotEnv(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var path string
	if fs != nil && fs.Lookup(FlagConfig) != nil {
		path, _ = fs.GetString(FlagConfig)
	}
	cfg, err := FromFile(path)
	if err != nil {
		return cfg, err
	}

	applyEnv(&cfg)
	if fs != nil {
		if err := applyFlags(&cfg, fs); err != nil {
			return cfg, err
		}
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("invalid config: %s failed %q (%s)", fe.Namespace(), fe.Tag(), fe.Param())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Worker.Lookback < c.Analysis.SlowWindow {
		return fmt.Errorf("invalid config: lookback (%d) must be >= slow_window (%d)", c.Worker.Lookback, c.Analysis.SlowWindow)
	}
	if c.Worker.AutoTrading && (c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "") {
		return fmt.Errorf("%s and %s are required when auto_trading is enabled", EnvAPIKey, EnvAPISecret)
	}
	return nil
}

func (c *Config) normalize() {
	seen := make(map[string]struct{}, len(c.Worker.Symbols))
	symbols := make([]string, 0, len(c.Worker.Symbols))
	for _, s := range c.Worker.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		symbols = append(symbols, s)
	}
	c.Worker.Symbols = symbols
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv(EnvAPISecret); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.App.LogLevel = v
	}
}

// loadDotEnv never overrides variables that are already set.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	return godotenv.Load(path)
}
