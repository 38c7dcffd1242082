package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Server struct {
	Port           string        `yaml:"port" envconfig:"PORT"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT"`
	MaxSymbols     int           `yaml:"max_symbols" envconfig:"MAX_SYMBOLS"`
	// Watchlist symbols are polled from startup and published to Redis when configured.
	Watchlist []string `yaml:"watchlist" envconfig:"WATCHLIST"`
}

type Log struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"`
}

type Trace struct {
	Enabled     bool `yaml:"enabled" envconfig:"TRACING_ENABLED"`
	PrettyPrint bool `yaml:"pretty_print" envconfig:"TRACING_PRETTY"`
}

type Facade struct {
	QuoteTTL        time.Duration `yaml:"quote_ttl" envconfig:"QUOTE_CACHE_TTL"`
	CandleTTL       time.Duration `yaml:"candle_ttl" envconfig:"CANDLE_CACHE_TTL"`
	SweepInterval   time.Duration `yaml:"sweep_interval" envconfig:"CACHE_SWEEP_INTERVAL"`
	ProviderTimeout time.Duration `yaml:"provider_timeout" envconfig:"PROVIDER_TIMEOUT"`
	BatchTimeout    time.Duration `yaml:"batch_timeout" envconfig:"BATCH_TIMEOUT"`
	CryptoBases     []string      `yaml:"crypto_bases" envconfig:"CRYPTO_BASES"`
	// MaxEntries caps each of the quote and candle caches.
	MaxEntries int `yaml:"max_entries" envconfig:"CACHE_MAX_ENTRIES"`
	// Indices are the benchmarks served by the indices endpoint, in order.
	Indices []MarketIndex `yaml:"indices" ignored:"true"`
	// MoverUniverse is the symbol list ranked for top movers.
	MoverUniverse []string `yaml:"mover_universe" envconfig:"MOVER_UNIVERSE"`
}

// MarketIndex names a benchmark and the ticker that tracks it.
type MarketIndex struct {
	Name   string `yaml:"name"`
	Symbol string `yaml:"symbol"`
}

type Subscription struct {
	PollInterval time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`
	// TickTimeout bounds one poll. It must exceed facade.batch_timeout so a
	// poll gets the partial results of a slow batch.
	TickTimeout time.Duration `yaml:"tick_timeout" envconfig:"TICK_TIMEOUT"`
	MailboxSize int           `yaml:"mailbox_size" envconfig:"MAILBOX_SIZE"`
}

type Retry struct {
	MaxAttempts int           `yaml:"max_attempts" envconfig:"RETRY_MAX_ATTEMPTS"`
	BaseDelay   time.Duration `yaml:"base_delay" envconfig:"RETRY_BASE_DELAY"`
	MaxDelay    time.Duration `yaml:"max_delay" envconfig:"RETRY_MAX_DELAY"`
	Multiplier  float64       `yaml:"multiplier" envconfig:"RETRY_MULTIPLIER"`
}

// Limits is the per-upstream request budget. RPM wins over MinInterval when both are set.
// From the environment: UPBIT_LIMITS_MAX_REQUESTS_PER_MINUTE, DART_LIMITS_BURST, ...
type Limits struct {
	MaxRequestsPerMinute int           `yaml:"max_requests_per_minute" split_words:"true"`
	Burst                int           `yaml:"burst" split_words:"true"`
	MinRequestInterval   time.Duration `yaml:"min_request_interval" split_words:"true"`
}

type Upbit struct {
	Enabled            bool   `yaml:"enabled" envconfig:"UPBIT_ENABLED"`
	BaseURL            string `yaml:"base_url" envconfig:"UPBIT_BASE_URL"`
	QuoteCurrency      string `yaml:"quote_currency" envconfig:"UPBIT_QUOTE_CURRENCY"`
	MaxItemsPerRequest int    `yaml:"max_items_per_request" envconfig:"UPBIT_MAX_ITEMS_PER_REQUEST"`
	MaxConcurrency     int    `yaml:"max_concurrency" envconfig:"UPBIT_MAX_CONCURRENCY"`
	Limits             Limits `yaml:"limits"`
	// SymbolMap overrides the market code per canonical symbol, e.g. BTC: USDT-BTC.
	SymbolMap map[string]string `yaml:"symbol_map" envconfig:"UPBIT_SYMBOL_MAP"`
}

type Yahoo struct {
	Enabled   bool              `yaml:"enabled" envconfig:"YAHOO_ENABLED"`
	KRXSuffix string            `yaml:"krx_suffix" envconfig:"YAHOO_KRX_SUFFIX"`
	SymbolMap map[string]string `yaml:"symbol_map" envconfig:"YAHOO_SYMBOL_MAP"`
	Limits    Limits            `yaml:"limits"`
}

type Dart struct {
	APIKey    string            `yaml:"api_key" envconfig:"DART_API_KEY"`
	BaseURL   string            `yaml:"base_url" envconfig:"DART_BASE_URL"`
	CacheTTL  time.Duration     `yaml:"cache_ttl" envconfig:"DART_CACHE_TTL"`
	CorpCodes map[string]string `yaml:"corp_codes" envconfig:"DART_CORP_CODES"`
	Limits    Limits            `yaml:"limits"`
}

type Redis struct {
	Addr      string        `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password  string        `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB        int           `yaml:"db" envconfig:"REDIS_DB"`
	KeyPrefix string        `yaml:"key_prefix" envconfig:"REDIS_KEY_PREFIX"`
	TTL       time.Duration `yaml:"ttl" envconfig:"REDIS_TTL"`
	// Channel, when set, also receives every watchlist update via PUBLISH.
	Channel string `yaml:"channel" envconfig:"REDIS_CHANNEL"`
}

type Config struct {
	Server       Server       `yaml:"server"`
	Log          Log          `yaml:"log"`
	Trace        Trace        `yaml:"trace"`
	Facade       Facade       `yaml:"facade"`
	Subscription Subscription `yaml:"subscription"`
	Retry        Retry        `yaml:"retry"`
	Upbit        Upbit        `yaml:"upbit"`
	Yahoo        Yahoo        `yaml:"yahoo"`
	Dart         Dart         `yaml:"dart"`
	Redis        Redis        `yaml:"redis"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeout: 15 * time.Second, MaxSymbols: 1000},
		Log:    Log{Level: "info", Format: "json"},
		Facade: Facade{
			QuoteTTL:        5 * time.Second,
			CandleTTL:       30 * time.Second,
			SweepInterval:   time.Minute,
			ProviderTimeout: 5 * time.Second,
			BatchTimeout:    8 * time.Second,
			MaxEntries:      10000,
			Indices: []MarketIndex{
				{Name: "KOSPI", Symbol: "^KS11"},
				{Name: "KOSDAQ", Symbol: "^KQ11"},
				{Name: "KOSPI200", Symbol: "^KS200"},
				{Name: "NASDAQ", Symbol: "^IXIC"},
			},
			MoverUniverse: []string{
				"005930.KS", "000660.KS", "373220.KS", "207940.KS", "005380.KS",
				"035420.KS", "035720.KS", "051910.KS", "247540.KQ", "086520.KQ",
			},
		},
		Subscription: Subscription{PollInterval: 3 * time.Second, TickTimeout: 10 * time.Second, MailboxSize: 16},
		Retry: Retry{
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    2 * time.Second,
			Multiplier:  2,
		},
		Upbit: Upbit{
			Enabled:            true,
			BaseURL:            "https://api.upbit.com",
			QuoteCurrency:      "KRW",
			MaxItemsPerRequest: 100,
			MaxConcurrency:     2,
			Limits:             Limits{MaxRequestsPerMinute: 600, Burst: 10},
		},
		Yahoo: Yahoo{
			Enabled:   true,
			KRXSuffix: ".KS",
			Limits:    Limits{MaxRequestsPerMinute: 120, Burst: 5},
		},
		Dart: Dart{
			BaseURL:  "https://opendart.fss.or.kr/api",
			CacheTTL: 5 * time.Minute,
			Limits:   Limits{MaxRequestsPerMinute: 600, Burst: 5},
		},
		Redis: Redis{KeyPrefix: "quote:", TTL: time.Minute},
	}
}

// Load layers configuration: defaults, then the YAML file at path, then a
// .env file and the process environment. An empty path picks up config.yaml
// from the working directory when present.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	// .env is optional; real environment variables take precedence over it.
	_ = godotenv.Load()
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("env config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the facade cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Facade.ProviderTimeout <= 0 {
		errs = append(errs, errors.New("facade.provider_timeout must be positive"))
	}
	if c.Facade.BatchTimeout <= c.Facade.ProviderTimeout {
		errs = append(errs, errors.New("facade.batch_timeout must exceed facade.provider_timeout"))
	}
	if c.Facade.QuoteTTL <= 0 || c.Facade.CandleTTL <= 0 {
		errs = append(errs, errors.New("facade cache ttls must be positive"))
	}
	if c.Subscription.PollInterval <= 0 {
		errs = append(errs, errors.New("subscription.poll_interval must be positive"))
	}
	if c.Subscription.TickTimeout <= c.Facade.BatchTimeout {
		errs = append(errs, errors.New("subscription.tick_timeout must exceed facade.batch_timeout"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	return errors.Join(errs...)
}

// DartEnabled reports whether a disclosure source can be built.
func (c Config) DartEnabled() bool { return c.Dart.APIKey != "" }
