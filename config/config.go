package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBybitURL     = "https://api.bybit.com"
	DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"
	DefaultUserAgent    = "fundingscan/1.0.0"

	// MaxCoinGeckoBatch is the per-request id cap of /coins/markets.
	MaxCoinGeckoBatch = 250
)

type Config struct {
	FundingScan FundingScanConfig `yaml:"fundingscan"`
	Scan        ScanConfig        `yaml:"scan"`
	HTTP        HTTPConfig        `yaml:"http"`
	Retry       RetryConfig       `yaml:"retry"`
	Source      SourceConfig      `yaml:"source"`
	Symbols     SymbolsConfig     `yaml:"symbols"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type FundingScanConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ScanConfig struct {
	MinCapUSD     decimal.Decimal `yaml:"min_cap_usd"`
	TopN          int             `yaml:"top_n"`
	SkipMarketCap bool            `yaml:"skip_market_cap"`
	Schedule      string          `yaml:"schedule"`
}

type HTTPConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	UserAgent      string        `yaml:"user_agent"`
}

type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	Multiplier float64       `yaml:"multiplier"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

type SourceConfig struct {
	Bybit     BybitSourceConfig     `yaml:"bybit"`
	CoinGecko CoinGeckoSourceConfig `yaml:"coingecko"`
}

type BybitSourceConfig struct {
	URL               string   `yaml:"url"`
	Category          string   `yaml:"category"`
	QuoteCoins        []string `yaml:"quote_coins"`
	PageLimit         int      `yaml:"page_limit"`
	MaxPages          int      `yaml:"max_pages"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
}

type CoinGeckoSourceConfig struct {
	URL               string  `yaml:"url"`
	APIKey            string  `yaml:"api_key"`
	APIKeyHeader      string  `yaml:"api_key_header"`
	BatchSize         int     `yaml:"batch_size"`
	Concurrency       int     `yaml:"concurrency"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type SymbolsConfig struct {
	// Aliases maps a normalized exchange base (lower case) to the
	// capitalization feed identifier.
	Aliases map[string]string `yaml:"aliases"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
	Prometheus PrometheusConfig `yaml:"prometheus"`
}

// PrometheusConfig controls the /metrics endpoint served by the watch command.
type PrometheusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type CloudWatchConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Region          string `yaml:"region"`
	Namespace       string `yaml:"namespace"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// Default returns the configuration used when no file is provided. The
// values follow the behaviour of the hosted feeds: Bybit pages hold up to
// 1000 instruments and CoinGecko accepts 250 ids per request.
func Default() *Config {
	return &Config{
		FundingScan: FundingScanConfig{Name: "fundingscan", Version: "1.0.0"},
		Scan: ScanConfig{
			MinCapUSD: decimal.NewFromInt(100_000_000),
			TopN:      15,
			Schedule:  "@every 8h",
		},
		HTTP: HTTPConfig{
			RequestTimeout: 15 * time.Second,
			UserAgent:      DefaultUserAgent,
		},
		Retry: RetryConfig{
			MaxRetries: 5,
			BaseDelay:  2 * time.Second,
			Multiplier: 2,
			MaxDelay:   60 * time.Second,
		},
		Source: SourceConfig{
			Bybit: BybitSourceConfig{
				URL:               DefaultBybitURL,
				Category:          "linear",
				QuoteCoins:        []string{"USDT"},
				PageLimit:         1000,
				MaxPages:          50,
				RequestsPerSecond: 10,
			},
			CoinGecko: CoinGeckoSourceConfig{
				URL:               DefaultCoinGeckoURL,
				APIKeyHeader:      "x-cg-demo-api-key",
				BatchSize:         MaxCoinGeckoBatch,
				Concurrency:       1,
				RequestsPerSecond: 0.5,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			CloudWatch: CloudWatchConfig{Namespace: "FundingScan"},
			Prometheus: PrometheusConfig{Addr: ":2112"},
		},
	}
}

// LoadConfig reads the YAML file at path on top of Default, applies
// environment overrides and validates the result. A missing file is not an
// error: the defaults plus environment are used instead.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	path = resolveEnvSpecificPath(path, DefaultPath, envConfigPaths)
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := applyEnv(config); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("BYBIT_REST")); v != "" {
		cfg.Source.Bybit.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("COINGECKO_REST")); v != "" {
		cfg.Source.CoinGecko.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("COINGECKO_API_KEY")); v != "" {
		cfg.Source.CoinGecko.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("MARKET_CAP_MIN_USD")); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("MARKET_CAP_MIN_USD: %w", err)
		}
		cfg.Scan.MinCapUSD = d
	}
	if v := strings.TrimSpace(os.Getenv("HTTP_TIMEOUT")); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("HTTP_TIMEOUT: %w", err)
		}
		cfg.HTTP.RequestTimeout = d
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if cfg.Metrics.CloudWatch.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Metrics.CloudWatch.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Metrics.CloudWatch.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Metrics.CloudWatch.Region = strings.TrimSpace(v)
		}
	}
	return nil
}

// parseSeconds accepts either a Go duration ("15s") or a plain number of
// seconds ("15", "2.5").
func parseSeconds(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("not a duration: %q", v)
	}
	return time.Duration(f * float64(time.Second)), nil
}

func validateConfig(cfg *Config) error {
	if cfg.FundingScan.Name == "" {
		return fmt.Errorf("fundingscan.name is required")
	}

	if err := ValidateScan(cfg); err != nil {
		return err
	}

	if cfg.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1")
	}
	if cfg.Retry.MaxDelay > 0 && cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay must not be lower than retry.base_delay")
	}

	if err := validateURL("source.bybit.url", cfg.Source.Bybit.URL); err != nil {
		return err
	}
	if err := validateURL("source.coingecko.url", cfg.Source.CoinGecko.URL); err != nil {
		return err
	}
	if cfg.Source.Bybit.Category == "" {
		return fmt.Errorf("source.bybit.category is required")
	}
	if len(cfg.Source.Bybit.QuoteCoins) == 0 {
		return fmt.Errorf("source.bybit.quote_coins must not be empty")
	}
	if cfg.Source.Bybit.PageLimit <= 0 || cfg.Source.Bybit.PageLimit > 1000 {
		return fmt.Errorf("source.bybit.page_limit must be between 1 and 1000")
	}
	if cfg.Source.CoinGecko.BatchSize <= 0 || cfg.Source.CoinGecko.BatchSize > MaxCoinGeckoBatch {
		return fmt.Errorf("source.coingecko.batch_size must be between 1 and %d", MaxCoinGeckoBatch)
	}
	if cfg.Source.CoinGecko.Concurrency <= 0 {
		return fmt.Errorf("source.coingecko.concurrency must be greater than 0")
	}

	if cfg.Metrics.CloudWatch.Enabled && cfg.Metrics.CloudWatch.Namespace == "" {
		return fmt.Errorf("metrics.cloudwatch.namespace is required when CloudWatch is enabled")
	}
	if cfg.Metrics.Prometheus.Enabled && cfg.Metrics.Prometheus.Addr == "" {
		return fmt.Errorf("metrics.prometheus.addr is required when Prometheus is enabled")
	}

	return nil
}

// ValidateScan checks the values a single scan depends on. It is exported so
// callers that adjust a loaded config (CLI flags) can re-check it.
func ValidateScan(cfg *Config) error {
	if cfg.Scan.MinCapUSD.IsNegative() {
		return fmt.Errorf("scan.min_cap_usd must not be negative")
	}
	if cfg.Scan.TopN <= 0 {
		return fmt.Errorf("scan.top_n must be greater than 0")
	}
	if cfg.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if cfg.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry.base_delay must be greater than 0")
	}
	if cfg.HTTP.RequestTimeout <= 0 {
		return fmt.Errorf("http.request_timeout must be greater than 0")
	}
	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s '%s' is invalid", field, raw)
	}
	return nil
}
