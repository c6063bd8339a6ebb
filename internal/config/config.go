// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "EXIT_ENGINE"

type Config struct {
	BotName  string         `mapstructure:"bot_name"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Wallet   WalletConfig   `mapstructure:"wallet"`
	RPC      RPCConfig      `mapstructure:"rpc"`
	Fees     FeeConfig      `mapstructure:"fees"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Dedup    DedupConfig    `mapstructure:"dedup"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type LoggingConfig struct {
	File        string `mapstructure:"file"`
	Level       string `mapstructure:"level"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	MaxBackups  int    `mapstructure:"max_backups"`
	Compress    bool   `mapstructure:"compress"`
	Development bool   `mapstructure:"development"`
}

type WalletConfig struct {
	File string `mapstructure:"file"`
	Name string `mapstructure:"name"`
}

// ProviderConfig один RPC-провайдер. Capabilities: "query" и/или "subscribe".
type ProviderConfig struct {
	Name         string   `mapstructure:"name"`
	URL          string   `mapstructure:"url"`
	WSURL        string   `mapstructure:"ws_url"`
	Capabilities []string `mapstructure:"capabilities"`
	RPM          int      `mapstructure:"rpm"`
}

type RPCConfig struct {
	Providers []ProviderConfig `mapstructure:"providers"`
	// Profiles: имя нагрузки -> упорядоченный список провайдеров.
	Profiles           map[string][]string `mapstructure:"profiles"`
	CallTimeoutMs      int                 `mapstructure:"call_timeout_ms"`
	BlockhashRefreshMs int                 `mapstructure:"blockhash_refresh_ms"`
	BlockhashStaleMs   int                 `mapstructure:"blockhash_stale_ms"`
	ConfirmPollMs      int                 `mapstructure:"confirm_poll_ms"`
}

func (c RPCConfig) CallTimeout() time.Duration { return ms(c.CallTimeoutMs) }
func (c RPCConfig) BlockhashRefresh() time.Duration {
	return ms(c.BlockhashRefreshMs)
}
func (c RPCConfig) BlockhashStale() time.Duration { return ms(c.BlockhashStaleMs) }
func (c RPCConfig) ConfirmPoll() time.Duration    { return ms(c.ConfirmPollMs) }

// FeeConfig значения комиссий в micro-lamports за compute unit.
type FeeConfig struct {
	Strategy     string  `mapstructure:"strategy"`
	MinFee       uint64  `mapstructure:"min_fee"`
	HardCap      uint64  `mapstructure:"hard_cap"`
	FixedFee     uint64  `mapstructure:"fixed_fee"`
	FixedFeeSOL  string  `mapstructure:"fixed_fee_sol"`
	BuyExtraPct  float64 `mapstructure:"buy_extra_pct"`
	SellExtraPct float64 `mapstructure:"sell_extra_pct"`
	ComputeUnits uint32  `mapstructure:"compute_units"`
}

type ExecutorConfig struct {
	Routes            []string `mapstructure:"routes"`
	SlippageBps       uint16   `mapstructure:"slippage_bps"`
	TransientAttempts uint     `mapstructure:"transient_attempts"`
	UnknownAttempts   uint     `mapstructure:"unknown_attempts"`
	BackoffInitialMs  int      `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs      int      `mapstructure:"backoff_max_ms"`
	ConfirmTimeoutMs  int      `mapstructure:"confirm_timeout_ms"`
	VerifyAttempts    int      `mapstructure:"verify_attempts"`
	VerifyDelayMs     int      `mapstructure:"verify_delay_ms"`
	JupiterURL        string   `mapstructure:"jupiter_url"`
}

func (c ExecutorConfig) BackoffInitial() time.Duration { return ms(c.BackoffInitialMs) }
func (c ExecutorConfig) BackoffMax() time.Duration     { return ms(c.BackoffMaxMs) }
func (c ExecutorConfig) ConfirmTimeout() time.Duration { return ms(c.ConfirmTimeoutMs) }
func (c ExecutorConfig) VerifyDelay() time.Duration    { return ms(c.VerifyDelayMs) }

// ExitDefaults параметры выхода, применяемые, если сигнал их не задал. Проценты в долях (0.2 = 20%).
type ExitDefaults struct {
	StopLossPct         float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct       float64 `mapstructure:"take_profit_pct"`
	PartialSellFraction float64 `mapstructure:"partial_sell_fraction"`
	TrailingEnabled     bool    `mapstructure:"trailing_enabled"`
	TrailingActivation  float64 `mapstructure:"trailing_activation_pct"`
	TrailingDistance    float64 `mapstructure:"trailing_distance_pct"`
	TrailingSellFrac    float64 `mapstructure:"trailing_sell_fraction"`
	DCAEnabled          bool    `mapstructure:"dca_enabled"`
	DCATriggerPct       float64 `mapstructure:"dca_trigger_pct"`
	DCAFraction         float64 `mapstructure:"dca_fraction"`
}

type MonitorConfig struct {
	TickMs               int          `mapstructure:"tick_ms"`
	PriceTimeoutMs       int          `mapstructure:"price_timeout_ms"`
	MaxPriceErrors       int          `mapstructure:"max_price_errors"`
	HardStopLossPct      float64      `mapstructure:"hard_stop_loss_pct"`
	MoonBagFloorFraction float64      `mapstructure:"moon_bag_floor_fraction"`
	Defaults             ExitDefaults `mapstructure:"defaults"`
}

func (c MonitorConfig) Tick() time.Duration         { return ms(c.TickMs) }
func (c MonitorConfig) PriceTimeout() time.Duration { return ms(c.PriceTimeoutMs) }

type DedupConfig struct {
	Backend       string `mapstructure:"backend"` // memory | redis
	TTLSec        int    `mapstructure:"ttl_sec"`
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

func (c DedupConfig) TTL() time.Duration { return time.Duration(c.TTLSec) * time.Second }

type StorageConfig struct {
	Driver        string `mapstructure:"driver"` // file | redis | postgres
	Dir           string `mapstructure:"dir"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
}

type LedgerConfig struct {
	RetentionHours  int    `mapstructure:"retention_hours"`
	CompactSchedule string `mapstructure:"compact_schedule"`
}

func (c LedgerConfig) Retention() time.Duration { return time.Duration(c.RetentionHours) * time.Hour }

type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

const (
	DefaultTickMs           = 1000
	DefaultMaxPriceErrors   = 3
	DefaultHardStopLossPct  = 0.25
	DefaultDedupTTLSec      = 300
	DefaultRetentionHours   = 24
	DefaultBlockhashRefresh = 2000
	DefaultBlockhashStale   = 10000
)

func setDefaults(v *viper.Viper) {
	defaults := map[string]interface{}{
		"bot_name": "default",

		"logging.file":         "exit-engine.log",
		"logging.level":        "",
		"logging.max_size_mb":  100,
		"logging.max_age_days": 7,
		"logging.max_backups":  3,
		"logging.compress":     true,

		"wallet.file": "configs/wallets.yaml",

		"rpc.call_timeout_ms":      5000,
		"rpc.blockhash_refresh_ms": DefaultBlockhashRefresh,
		"rpc.blockhash_stale_ms":   DefaultBlockhashStale,
		"rpc.confirm_poll_ms":      500,

		"fees.strategy":       "conservative",
		"fees.min_fee":        1_000,
		"fees.hard_cap":       2_000_000,
		"fees.fixed_fee":      10_000,
		"fees.buy_extra_pct":  0.20,
		"fees.sell_extra_pct": 0.05,
		"fees.compute_units":  200_000,

		"executor.routes":             []string{"pumpfun", "pumpswap", "jupiter"},
		"executor.slippage_bps":       1_000,
		"executor.transient_attempts": 3,
		"executor.unknown_attempts":   2,
		"executor.backoff_initial_ms": 300,
		"executor.backoff_max_ms":     3000,
		"executor.confirm_timeout_ms": 30000,
		"executor.verify_attempts":    5,
		"executor.verify_delay_ms":    400,
		"executor.jupiter_url":        "https://lite-api.jup.ag/swap/v1",

		"monitor.tick_ms":                          DefaultTickMs,
		"monitor.price_timeout_ms":                 800,
		"monitor.max_price_errors":                 DefaultMaxPriceErrors,
		"monitor.hard_stop_loss_pct":               DefaultHardStopLossPct,
		"monitor.moon_bag_floor_fraction":          0.70,
		"monitor.defaults.stop_loss_pct":           0.20,
		"monitor.defaults.take_profit_pct":         1.00,
		"monitor.defaults.partial_sell_fraction":   0.90,
		"monitor.defaults.trailing_enabled":        true,
		"monitor.defaults.trailing_activation_pct": 0.15,
		"monitor.defaults.trailing_distance_pct":   0.30,
		"monitor.defaults.trailing_sell_fraction":  1.0,
		"monitor.defaults.dca_trigger_pct":         0.10,
		"monitor.defaults.dca_fraction":            0.5,

		"dedup.backend":        "memory",
		"dedup.ttl_sec":        DefaultDedupTTLSec,
		"dedup.sweep_schedule": "@every 30s",

		"storage.driver":       "file",
		"storage.dir":          "data",
		"storage.redis_prefix": "exit-engine",

		"ledger.retention_hours":  DefaultRetentionHours,
		"ledger.compact_schedule": "@every 10m",

		"metrics.listen": ":9102",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// LoadConfig читает файл конфигурации, накладывает переменные окружения и проверяет результат.
// Пустой path означает "только значения по умолчанию и окружение".
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config error: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config error: %w", err)
	}

	applyEnvProviders(v, &cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvProviders EXIT_ENGINE_RPC_URLS=url1,url2 заменяет список провайдеров
// query-провайдерами без ограничения профиля.
func applyEnvProviders(v *viper.Viper, cfg *Config) {
	raw := v.GetString("rpc_urls")
	if raw == "" {
		return
	}
	var providers []ProviderConfig
	for i, u := range strings.Split(raw, ",") {
		clean := strings.TrimSpace(u)
		if clean == "" {
			continue
		}
		providers = append(providers, ProviderConfig{
			Name:         fmt.Sprintf("env-%d", i+1),
			URL:          clean,
			Capabilities: []string{"query"},
			RPM:          600,
		})
	}
	if len(providers) > 0 {
		cfg.RPC.Providers = providers
		cfg.RPC.Profiles = nil
	}
}

func (c *Config) validate() error {
	if len(c.RPC.Providers) == 0 {
		return errors.New("rpc.providers is empty")
	}

	names := make(map[string]struct{}, len(c.RPC.Providers))
	for _, p := range c.RPC.Providers {
		if p.Name == "" {
			return errors.New("rpc provider without name")
		}
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("rpc provider %q declared twice", p.Name)
		}
		names[p.Name] = struct{}{}

		if err := validateURL(p.URL, "http"); err != nil {
			return fmt.Errorf("rpc provider %q: %w", p.Name, err)
		}
		if p.WSURL != "" {
			if err := validateURL(p.WSURL, "ws"); err != nil {
				return fmt.Errorf("rpc provider %q ws_url: %w", p.Name, err)
			}
		}
		if p.RPM <= 0 {
			return fmt.Errorf("rpc provider %q: rpm must be positive", p.Name)
		}
		for _, capability := range p.Capabilities {
			if capability != "query" && capability != "subscribe" {
				return fmt.Errorf("rpc provider %q: unknown capability %q", p.Name, capability)
			}
		}
	}
	for profile, list := range c.RPC.Profiles {
		for _, name := range list {
			if _, ok := names[name]; !ok {
				return fmt.Errorf("rpc profile %q references unknown provider %q", profile, name)
			}
		}
	}

	if c.Fees.MinFee > c.Fees.HardCap {
		return errors.New("fees.min_fee exceeds fees.hard_cap")
	}
	switch c.Fees.Strategy {
	case "conservative", "aggressive", "sniper":
	default:
		return fmt.Errorf("unknown fee strategy %q", c.Fees.Strategy)
	}

	if len(c.Executor.Routes) == 0 {
		return errors.New("executor.routes is empty")
	}
	if c.Executor.TransientAttempts == 0 {
		return errors.New("executor.transient_attempts must be positive")
	}
	if c.Executor.SlippageBps >= 10_000 {
		return errors.New("executor.slippage_bps must be below 10000")
	}

	if c.Monitor.TickMs <= 0 {
		return errors.New("invalid monitor.tick_ms")
	}
	if c.Monitor.MaxPriceErrors <= 0 {
		return errors.New("invalid monitor.max_price_errors")
	}
	if c.Monitor.HardStopLossPct <= 0 || c.Monitor.HardStopLossPct >= 1 {
		return errors.New("monitor.hard_stop_loss_pct must be in (0, 1)")
	}
	if c.Monitor.MoonBagFloorFraction <= 0 || c.Monitor.MoonBagFloorFraction > 1 {
		return errors.New("monitor.moon_bag_floor_fraction must be in (0, 1]")
	}

	switch c.Dedup.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown dedup backend %q", c.Dedup.Backend)
	}
	if c.Dedup.TTLSec <= 0 {
		return errors.New("invalid dedup.ttl_sec")
	}

	switch c.Storage.Driver {
	case "file":
		if c.Storage.Dir == "" {
			return errors.New("storage.dir is required for file driver")
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return errors.New("storage.redis_addr is required for redis driver")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("storage.postgres_dsn is required for postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Dedup.Backend == "redis" && c.Storage.RedisAddr == "" {
		return errors.New("dedup.backend=redis requires storage.redis_addr")
	}

	if c.Ledger.RetentionHours <= 0 {
		return errors.New("invalid ledger.retention_hours")
	}
	return nil
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
