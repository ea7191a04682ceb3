// Package config defines all configuration for the trading agent.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via TRADER_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	UseDemo   bool            `mapstructure:"use_demo"`
	DryRun    bool            `mapstructure:"dry_run"`
	Auth      AuthConfig      `mapstructure:"auth"`
	API       APIConfig       `mapstructure:"api"`
	RateLimit RateConfig      `mapstructure:"rate_limit"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
}

// AuthConfig holds the RSA-PSS signing identity used to authenticate every
// REST and stream request against the venue.
type AuthConfig struct {
	AccessKeyID    string `mapstructure:"access_key_id"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
	PrivateKeyPEM  string `mapstructure:"private_key_pem"`
}

// APIConfig holds venue endpoints.
type APIConfig struct {
	RestBaseURL   string `mapstructure:"rest_base_url"`
	StreamBaseURL string `mapstructure:"stream_base_url"`
}

// StrategyConfig tunes signal generation and exit evaluation.
//
//   - EntryThreshold: minimum best_bid to consider an entry.
//   - ProfitTarget / StopLoss: fractional distance from entry price.
//   - MaxHoldHours: force a TIMEOUT exit after this long in ENTERED.
//   - CloseBufferMinutes: exit an open position with MARKET_CLOSED once its
//     market's end time is this close.
type StrategyConfig struct {
	EntryThreshold    decimalLike   `mapstructure:"entry_threshold"`
	ProfitTarget      decimalLike   `mapstructure:"profit_target"`
	StopLoss          decimalLike   `mapstructure:"stop_loss"`
	MaxPositionPct    decimalLike   `mapstructure:"max_position_pct"`
	MinPositionDollars decimalLike  `mapstructure:"min_position_dollars"`
	MaxHoldHours      float64       `mapstructure:"max_hold_hours"`
	CloseBufferMinutes float64      `mapstructure:"close_buffer_minutes"`
	EvalInterval      time.Duration `mapstructure:"eval_interval"`
}

// RiskConfig sets hard limits enforced by RiskManager's pre-trade gate and
// its four independent circuit breakers.
//
//   - MaxExposurePct: total_exposure ceiling as a fraction of current_balance.
//   - MaxPositions: cap on simultaneously open positions.
//   - DailyLossLimit: fraction of daily_starting_balance that trips the
//     daily-loss breaker.
//   - MaxConsecutiveLosses: consecutive losing closures that trip the
//     consecutive-loss breaker.
//   - APIErrorRateLimit: fraction of recent REST calls erroring that trips
//     the API-error-rate breaker.
//   - StreamSilenceS / StreamForceExitS: stream watchdog thresholds — the
//     breaker trips at StreamSilenceS with no new signals, and at
//     StreamForceExitS the engine force-exits all open positions.
type RiskConfig struct {
	MaxExposurePct        decimalLike `mapstructure:"max_exposure_pct"`
	MaxPositions          int         `mapstructure:"max_positions"`
	DailyLossLimit        decimalLike `mapstructure:"daily_loss_limit"`
	MaxConsecutiveLosses  int         `mapstructure:"max_consecutive_losses"`
	APIErrorRateLimit     decimalLike `mapstructure:"api_error_rate_limit"`
	StreamSilenceS        int         `mapstructure:"stream_silence_s"`
	StreamForceExitS      int         `mapstructure:"stream_force_exit_s"`
}

// ScannerConfig controls which markets Filter admits as entry candidates.
type ScannerConfig struct {
	MinLiquidity decimalLike `mapstructure:"min_liquidity"`
	MinVolume    decimalLike `mapstructure:"min_volume"`
	MaxSpread    decimalLike `mapstructure:"max_spread"`
}

// StoreConfig points at the sqlite database file used for trades,
// account_snapshots, and logs.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the control-surface HTTP server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// SMTPConfig configures outbound email notifications.
type SMTPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
}

// decimalLike is a float64 alias used for config fields that flow into
// decimal.Decimal at construction via decimal.NewFromFloat. Keeping config
// itself in float64 matches the teacher's StrategyConfig/RiskConfig
// (float64 throughout); conversion into fixed-point happens once, at the
// boundary where the value is first read.
type decimalLike = float64

// RateConfig carries the token bucket rates shared with exchange.RateLimiter.
type RateConfig struct {
	ReadRate  float64 `mapstructure:"read_rate"`
	WriteRate float64 `mapstructure:"write_rate"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("TRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("TRADER_ACCESS_KEY_ID"); key != "" {
		cfg.Auth.AccessKeyID = key
	}
	if pem := os.Getenv("TRADER_PRIVATE_KEY_PEM"); pem != "" {
		cfg.Auth.PrivateKeyPEM = pem
	}
	if pass := os.Getenv("TRADER_SMTP_PASSWORD"); pass != "" {
		cfg.SMTP.Password = pass
	}
	if os.Getenv("TRADER_DRY_RUN") == "true" || os.Getenv("TRADER_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Auth.AccessKeyID == "" {
		return fmt.Errorf("auth.access_key_id is required")
	}
	if c.Auth.PrivateKeyPath == "" && c.Auth.PrivateKeyPEM == "" {
		return fmt.Errorf("auth.private_key_path or auth.private_key_pem is required")
	}
	if c.API.RestBaseURL == "" {
		return fmt.Errorf("api.rest_base_url is required")
	}
	if c.API.StreamBaseURL == "" {
		return fmt.Errorf("api.stream_base_url is required")
	}
	if c.Strategy.EntryThreshold <= 0 || c.Strategy.EntryThreshold >= 1 {
		return fmt.Errorf("strategy.entry_threshold must be in (0, 1)")
	}
	if c.Strategy.ProfitTarget <= 0 {
		return fmt.Errorf("strategy.profit_target must be > 0")
	}
	if c.Strategy.StopLoss <= 0 {
		return fmt.Errorf("strategy.stop_loss must be > 0")
	}
	if c.Strategy.MaxPositionPct <= 0 || c.Strategy.MaxPositionPct > 1 {
		return fmt.Errorf("strategy.max_position_pct must be in (0, 1]")
	}
	if c.Risk.MaxExposurePct <= 0 || c.Risk.MaxExposurePct > 1 {
		return fmt.Errorf("risk.max_exposure_pct must be in (0, 1]")
	}
	if c.Risk.MaxPositions <= 0 {
		return fmt.Errorf("risk.max_positions must be > 0")
	}
	if c.Risk.DailyLossLimit <= 0 {
		return fmt.Errorf("risk.daily_loss_limit must be > 0")
	}
	if c.Risk.MaxConsecutiveLosses <= 0 {
		return fmt.Errorf("risk.max_consecutive_losses must be > 0")
	}
	if c.Risk.StreamSilenceS <= 0 || c.Risk.StreamForceExitS <= c.Risk.StreamSilenceS {
		return fmt.Errorf("risk.stream_force_exit_s must be > risk.stream_silence_s > 0")
	}
	if c.RateLimit.ReadRate <= 0 {
		return fmt.Errorf("rate_limit.read_rate must be > 0")
	}
	if c.RateLimit.WriteRate <= 0 {
		return fmt.Errorf("rate_limit.write_rate must be > 0")
	}
	return nil
}
