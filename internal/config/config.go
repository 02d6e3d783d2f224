package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"

	"exitwatch/internal/types"
)

// Config is the full runtime configuration. Values come from a YAML file with
// EXITWATCH_* environment variables taking precedence; the wallet key should
// only ever arrive through the environment.
type Config struct {
	PostgresURL string `mapstructure:"postgres_url"`
	RPCURL      string `mapstructure:"rpc_url"`
	SwapAPIURL  string `mapstructure:"swap_api_url"`
	TokenAPIURL string `mapstructure:"token_api_url"`

	WalletPrivateKey string `mapstructure:"wallet_private_key"`
	UserID           string `mapstructure:"user_id"`

	MonitorIntervalMS int  `mapstructure:"monitor_interval_ms"`
	DemoMode          bool `mapstructure:"demo_mode"`

	TakeProfitEnabled bool    `mapstructure:"take_profit_enabled"`
	TakeProfitPercent float64 `mapstructure:"take_profit_percent"`
	StopLossEnabled   bool    `mapstructure:"stop_loss_enabled"`
	StopLossPercent   float64 `mapstructure:"stop_loss_percent"`

	SlippageType  string  `mapstructure:"slippage_type"`
	SlippageValue float64 `mapstructure:"slippage_value"`
	PriorityLevel string  `mapstructure:"priority_level"`

	ConfirmTimeoutMS int `mapstructure:"confirm_timeout_ms"`

	JournalPath  string `mapstructure:"journal_path"`
	DebugLogging bool   `mapstructure:"debug_logging"`
}

const (
	DefaultMonitorIntervalMS = 30000
	DefaultConfirmTimeoutMS  = 30000
	DefaultSwapAPIURL        = "https://quote-api.jup.ag/v6"
	DefaultTokenAPIURL       = "https://tokens.jup.ag"
	DefaultRPCURL            = "https://api.mainnet-beta.solana.com"
	DefaultJournalPath       = "data/exits.csv"
	DefaultTakeProfitPercent = 20.0
	DefaultStopLossPercent   = 10.0
)

// Load reads the configuration file at path and applies environment
// overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"monitor_interval_ms": DefaultMonitorIntervalMS,
		"confirm_timeout_ms":  DefaultConfirmTimeoutMS,
		"swap_api_url":        DefaultSwapAPIURL,
		"token_api_url":       DefaultTokenAPIURL,
		"rpc_url":             DefaultRPCURL,
		"journal_path":        DefaultJournalPath,
		"take_profit_enabled": true,
		"take_profit_percent": DefaultTakeProfitPercent,
		"stop_loss_enabled":   true,
		"stop_loss_percent":   DefaultStopLossPercent,
		"slippage_type":       string(types.SlippageAuto),
		"priority_level":      string(types.PriorityHigh),
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("EXITWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key := range defaults {
		_ = v.BindEnv(key)
	}
	for _, key := range []string{"postgres_url", "wallet_private_key", "user_id", "demo_mode", "debug_logging", "slippage_value"} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, validate(&cfg)
}

func validate(cfg *Config) error {
	if cfg.PostgresURL == "" {
		return errors.New("missing postgres_url in configuration")
	}
	if cfg.UserID == "" {
		return errors.New("missing user_id in configuration")
	}
	if !cfg.DemoMode && cfg.WalletPrivateKey == "" {
		return errors.New("missing wallet_private_key; set EXITWATCH_WALLET_PRIVATE_KEY or enable demo_mode")
	}
	if err := validateHTTPURL(cfg.RPCURL); err != nil {
		return fmt.Errorf("invalid rpc_url: %w", err)
	}
	if err := validateHTTPURL(cfg.SwapAPIURL); err != nil {
		return fmt.Errorf("invalid swap_api_url: %w", err)
	}
	if err := validateHTTPURL(cfg.TokenAPIURL); err != nil {
		return fmt.Errorf("invalid token_api_url: %w", err)
	}
	if cfg.MonitorIntervalMS <= 0 {
		return errors.New("invalid monitor_interval_ms")
	}
	if cfg.ConfirmTimeoutMS <= 0 {
		return errors.New("invalid confirm_timeout_ms")
	}
	if cfg.TakeProfitEnabled && cfg.TakeProfitPercent <= 0 {
		return errors.New("take_profit_percent must be positive")
	}
	if cfg.StopLossEnabled && (cfg.StopLossPercent <= 0 || cfg.StopLossPercent > 100) {
		return errors.New("stop_loss_percent must be in (0, 100]")
	}
	if _, err := cfg.Slippage(); err != nil {
		return err
	}
	if _, err := types.FeeOptionsForLevel(types.PriorityLevel(cfg.PriorityLevel)); err != nil {
		return err
	}
	return nil
}

func validateHTTPURL(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, "http") {
		return errors.New("URL must use http or https")
	}
	return nil
}

// Slippage resolves the configured slippage policy.
func (c *Config) Slippage() (types.SlippageConfig, error) {
	st := types.SlippageType(c.SlippageType)
	switch st {
	case types.SlippageFixed, types.SlippagePercent, types.SlippageAuto:
	default:
		return types.SlippageConfig{}, fmt.Errorf("invalid slippage_type %q", c.SlippageType)
	}
	if st != types.SlippageAuto && c.SlippageValue <= 0 {
		return types.SlippageConfig{}, errors.New("slippage_value must be positive")
	}
	return types.SlippageConfig{Type: st, Value: c.SlippageValue}, nil
}

// Fees resolves the configured priority fee profile.
func (c *Config) Fees() (types.FeeOptions, error) {
	return types.FeeOptionsForLevel(types.PriorityLevel(c.PriorityLevel))
}
