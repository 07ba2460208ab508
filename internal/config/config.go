package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"triarb/internal/model"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Trading  TradingConfig
	Risk     RiskConfig
	Exchange ExchangeConfig
	Monitors MonitorsConfig
	Database DatabaseConfig
	Redis    RedisConfig
	API      APIConfig
	Log      LogConfig
}

// TradingConfig defines the operating limits of the trading session.
type TradingConfig struct {
	AccountBalance       float64          `mapstructure:"account_balance"`
	QuoteAsset           string           `mapstructure:"quote_asset"`
	MaxPositionFraction  float64          `mapstructure:"max_position_fraction"`
	MinProfit            float64          `mapstructure:"min_profit"`
	MinProfitPercent     float64          `mapstructure:"min_profit_percent"`
	ScanIntervalMS       int              `mapstructure:"scan_interval_ms"`
	MaxDailyTrades       int              `mapstructure:"max_daily_trades"`
	StopLossPercent      float64          `mapstructure:"stop_loss_percent"`
	MinBalance           float64          `mapstructure:"min_balance"`
	EmergencyStop        bool             `mapstructure:"emergency_stop"`
	SizeFractions        []float64        `mapstructure:"size_fractions"`
	StepDelayMS          int              `mapstructure:"step_delay_ms"`
	PauseSeconds         int              `mapstructure:"pause_seconds"`
	BackoffBaseMS        int              `mapstructure:"backoff_base_ms"`
	BackoffMaxMS         int              `mapstructure:"backoff_max_ms"`
	MaxConsecutiveErrors int              `mapstructure:"max_consecutive_errors"`
	HistoryCapacity      int              `mapstructure:"history_capacity"`
	Triangles            []model.Triangle `mapstructure:"triangles"`
}

// RiskConfig defines the liquidity classes and notional thresholds used when
// scoring opportunities.
type RiskConfig struct {
	HighLiquidityAssets   []string `mapstructure:"high_liquidity_assets"`
	MediumLiquidityAssets []string `mapstructure:"medium_liquidity_assets"`
	MediumNotional        float64  `mapstructure:"medium_notional"`
	HighNotional          float64  `mapstructure:"high_notional"`
}

// ExchangeConfig defines settings for the exchange collaborator.
type ExchangeConfig struct {
	Name               string  `mapstructure:"name"`
	BaseURL            string  `mapstructure:"base_url"`
	StreamURL          string  `mapstructure:"stream_url"`
	StreamMaxAgeMS     int     `mapstructure:"stream_max_age_ms"`
	APIKey             string  `mapstructure:"api_key"`
	SecretKey          string  `mapstructure:"secret_key"`
	Testnet            bool    `mapstructure:"testnet"`
	QuoteSource        string  `mapstructure:"quote_source"`
	RequestTimeoutMS   int     `mapstructure:"request_timeout_ms"`
	RecvWindowMS       int     `mapstructure:"recv_window_ms"`
	TakerFeePercent    float64 `mapstructure:"taker_fee_percent"`
	DiscountFeePercent float64 `mapstructure:"discount_fee_percent"`
	FeeDiscountAsset   string  `mapstructure:"fee_discount_asset"`
	PaperBalance       float64 `mapstructure:"paper_balance"`
}

// MonitorsConfig defines the cadence of the periodic monitors.
type MonitorsConfig struct {
	ReportIntervalSec     int `mapstructure:"report_interval_sec"`
	ResetCheckIntervalSec int `mapstructure:"reset_check_interval_sec"`
	BalanceIntervalSec    int `mapstructure:"balance_interval_sec"`
}

// DatabaseConfig defines the database connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// Enabled reports whether an outcome journal database is configured.
func (d DatabaseConfig) Enabled() bool { return d.Host != "" }

// DSN builds the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", d.User, d.Password, d.Host, d.Port, d.DBName)
}

// RedisConfig defines the outcome feed settings.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	DB        int    `mapstructure:"db"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Stream    string `mapstructure:"stream"`
	StatusKey string `mapstructure:"status_key"`
	MaxLen    int64  `mapstructure:"max_len"`
}

// APIConfig defines the operator API listener. An empty address disables it.
type APIConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig defines logger output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// ConfigurationError reports an invalid or unreadable configuration.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// DefaultTriangles is the built-in catalog, biased toward high-liquidity
// pairs and BNB fee discounts.
var DefaultTriangles = []model.Triangle{
	{First: "BTCUSDT", Second: "ETHBTC", Third: "ETHUSDT"},
	{First: "BTCUSDT", Second: "BNBBTC", Third: "BNBUSDT"},
	{First: "BTCUSDT", Second: "ADABTC", Third: "ADAUSDT"},
	{First: "BTCUSDT", Second: "DOGEBTC", Third: "DOGEUSDT"},
	{First: "BTCUSDT", Second: "LTCBTC", Third: "LTCUSDT"},
	{First: "BTCUSDT", Second: "DOTBTC", Third: "DOTUSDT"},
	{First: "ETHUSDT", Second: "BNBETH", Third: "BNBUSDT"},
	{First: "ETHUSDT", Second: "ADAETH", Third: "ADAUSDT"},
	{First: "ETHUSDT", Second: "LINKETH", Third: "LINKUSDT"},
	{First: "ETHUSDT", Second: "MATICETH", Third: "MATICUSDT"},
	{First: "BNBUSDT", Second: "ADABNB", Third: "ADAUSDT"},
	{First: "BNBUSDT", Second: "DOGEBNB", Third: "DOGEUSDT"},
	{First: "BNBUSDT", Second: "LTCBNB", Third: "LTCUSDT"},
	{First: "BTCUSDT", Second: "BTCBUSD", Third: "BUSDUSDT"},
	{First: "ETHUSDT", Second: "ETHBUSD", Third: "BUSDUSDT"},
	{First: "BNBUSDT", Second: "BNBBUSD", Third: "BUSDUSDT"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trading.account_balance", 400.0)
	v.SetDefault("trading.quote_asset", "USDT")
	v.SetDefault("trading.max_position_fraction", 0.15)
	v.SetDefault("trading.min_profit", 0.25)
	v.SetDefault("trading.min_profit_percent", 0.1)
	v.SetDefault("trading.scan_interval_ms", 2000)
	v.SetDefault("trading.max_daily_trades", 50)
	v.SetDefault("trading.stop_loss_percent", 10.0)
	v.SetDefault("trading.min_balance", 10.0)
	v.SetDefault("trading.emergency_stop", false)
	v.SetDefault("trading.size_fractions", []float64{0.05, 0.10, 0.15, 0.20})
	v.SetDefault("trading.step_delay_ms", 100)
	v.SetDefault("trading.pause_seconds", 60)
	v.SetDefault("trading.backoff_base_ms", 1000)
	v.SetDefault("trading.backoff_max_ms", 60000)
	v.SetDefault("trading.max_consecutive_errors", 10)
	v.SetDefault("trading.history_capacity", 1000)

	v.SetDefault("risk.high_liquidity_assets", []string{"BTC", "ETH", "BNB"})
	v.SetDefault("risk.medium_liquidity_assets", []string{"ADA", "DOT", "LINK"})
	v.SetDefault("risk.medium_notional", 50.0)
	v.SetDefault("risk.high_notional", 100.0)

	v.SetDefault("exchange.name", "binance")
	v.SetDefault("exchange.base_url", "https://testnet.binance.vision")
	v.SetDefault("exchange.stream_url", "wss://stream.binance.com:9443/ws/!bookTicker")
	v.SetDefault("exchange.testnet", true)
	v.SetDefault("exchange.quote_source", "rest")
	v.SetDefault("exchange.stream_max_age_ms", 5000)
	v.SetDefault("exchange.request_timeout_ms", 10000)
	v.SetDefault("exchange.recv_window_ms", 5000)
	v.SetDefault("exchange.taker_fee_percent", 0.1)
	v.SetDefault("exchange.discount_fee_percent", 0.075)
	v.SetDefault("exchange.fee_discount_asset", "BNB")
	v.SetDefault("exchange.paper_balance", 400.0)

	v.SetDefault("monitors.report_interval_sec", 300)
	v.SetDefault("monitors.reset_check_interval_sec", 3600)
	v.SetDefault("monitors.balance_interval_sec", 1800)

	v.SetDefault("exchange.api_key", "")
	v.SetDefault("exchange.secret_key", "")

	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")

	v.SetDefault("redis.stream", "triarb:outcomes")
	v.SetDefault("redis.status_key", "triarb:status")
	v.SetDefault("redis.max_len", 10000)

	v.SetDefault("api.addr", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is not an error; defaults and environment apply.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, &ConfigurationError{Reason: "read config", Err: err}
		}
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, &ConfigurationError{Reason: "decode config", Err: err}
	}
	if len(config.Trading.Triangles) == 0 {
		config.Trading.Triangles = append([]model.Triangle(nil), DefaultTriangles...)
	}

	err = config.Validate()
	return
}

// Validate rejects values the trading session cannot run with.
func (c Config) Validate() error {
	t := c.Trading
	switch {
	case t.AccountBalance <= 0:
		return &ConfigurationError{Field: "trading.account_balance", Reason: "must be positive"}
	case t.QuoteAsset == "":
		return &ConfigurationError{Field: "trading.quote_asset", Reason: "must be set"}
	case t.MaxPositionFraction <= 0 || t.MaxPositionFraction > 1:
		return &ConfigurationError{Field: "trading.max_position_fraction", Reason: "must be in (0,1]"}
	case t.MinProfit < 0 || t.MinProfitPercent < 0:
		return &ConfigurationError{Field: "trading.min_profit", Reason: "must not be negative"}
	case t.ScanIntervalMS <= 0:
		return &ConfigurationError{Field: "trading.scan_interval_ms", Reason: "must be positive"}
	case t.PauseSeconds <= 0:
		return &ConfigurationError{Field: "trading.pause_seconds", Reason: "must be positive"}
	case t.StepDelayMS < 0:
		return &ConfigurationError{Field: "trading.step_delay_ms", Reason: "must not be negative"}
	case t.MaxDailyTrades <= 0:
		return &ConfigurationError{Field: "trading.max_daily_trades", Reason: "must be positive"}
	case t.StopLossPercent <= 0 || t.StopLossPercent > 100:
		return &ConfigurationError{Field: "trading.stop_loss_percent", Reason: "must be in (0,100]"}
	case len(t.SizeFractions) == 0:
		return &ConfigurationError{Field: "trading.size_fractions", Reason: "must not be empty"}
	case t.MaxConsecutiveErrors <= 0:
		return &ConfigurationError{Field: "trading.max_consecutive_errors", Reason: "must be positive"}
	case t.BackoffBaseMS <= 0 || t.BackoffMaxMS < t.BackoffBaseMS:
		return &ConfigurationError{Field: "trading.backoff_base_ms", Reason: "base must be positive and not above max"}
	case t.HistoryCapacity <= 0:
		return &ConfigurationError{Field: "trading.history_capacity", Reason: "must be positive"}
	case len(t.Triangles) == 0:
		return &ConfigurationError{Field: "trading.triangles", Reason: "catalog is empty"}
	}
	for _, f := range t.SizeFractions {
		if f <= 0 || f > 1 {
			return &ConfigurationError{Field: "trading.size_fractions", Reason: fmt.Sprintf("fraction %v outside (0,1]", f)}
		}
	}
	for _, tri := range t.Triangles {
		if tri.First == "" || tri.Second == "" || tri.Third == "" {
			return &ConfigurationError{Field: "trading.triangles", Reason: fmt.Sprintf("incomplete triangle %s", tri)}
		}
	}
	if c.Risk.HighNotional < c.Risk.MediumNotional {
		return &ConfigurationError{Field: "risk.high_notional", Reason: "must not be below risk.medium_notional"}
	}
	if c.Exchange.TakerFeePercent < 0 || c.Exchange.DiscountFeePercent < 0 {
		return &ConfigurationError{Field: "exchange.taker_fee_percent", Reason: "must not be negative"}
	}
	if c.Exchange.RequestTimeoutMS <= 0 {
		return &ConfigurationError{Field: "exchange.request_timeout_ms", Reason: "must be positive"}
	}
	switch c.Exchange.QuoteSource {
	case "rest":
	case "stream":
		if c.Exchange.StreamURL == "" {
			return &ConfigurationError{Field: "exchange.stream_url", Reason: "required for the stream quote source"}
		}
		if c.Exchange.StreamMaxAgeMS <= 0 {
			return &ConfigurationError{Field: "exchange.stream_max_age_ms", Reason: "must be positive"}
		}
	default:
		return &ConfigurationError{Field: "exchange.quote_source", Reason: fmt.Sprintf("unknown source %q", c.Exchange.QuoteSource)}
	}
	m := c.Monitors
	if m.ReportIntervalSec <= 0 || m.ResetCheckIntervalSec <= 0 || m.BalanceIntervalSec <= 0 {
		return &ConfigurationError{Field: "monitors", Reason: "intervals must be positive"}
	}
	return nil
}

// ScanInterval is the base delay between cycles.
func (t TradingConfig) ScanInterval() time.Duration {
	return time.Duration(t.ScanIntervalMS) * time.Millisecond
}

// StepDelay is the settling delay between consecutive legs.
func (t TradingConfig) StepDelay() time.Duration {
	return time.Duration(t.StepDelayMS) * time.Millisecond
}

// Pause is how long the loop sleeps when continuation is refused.
func (t TradingConfig) Pause() time.Duration {
	return time.Duration(t.PauseSeconds) * time.Second
}

func (t TradingConfig) BackoffBase() time.Duration {
	return time.Duration(t.BackoffBaseMS) * time.Millisecond
}

func (t TradingConfig) BackoffMax() time.Duration {
	return time.Duration(t.BackoffMaxMS) * time.Millisecond
}

// StreamMaxAge is the oldest streamed quote still served.
func (e ExchangeConfig) StreamMaxAge() time.Duration {
	return time.Duration(e.StreamMaxAgeMS) * time.Millisecond
}

// RequestTimeout bounds every exchange call.
func (e ExchangeConfig) RequestTimeout() time.Duration {
	return time.Duration(e.RequestTimeoutMS) * time.Millisecond
}

func (m MonitorsConfig) ReportInterval() time.Duration {
	return time.Duration(m.ReportIntervalSec) * time.Second
}

func (m MonitorsConfig) ResetCheckInterval() time.Duration {
	return time.Duration(m.ResetCheckIntervalSec) * time.Second
}

func (m MonitorsConfig) BalanceInterval() time.Duration {
	return time.Duration(m.BalanceIntervalSec) * time.Second
}
