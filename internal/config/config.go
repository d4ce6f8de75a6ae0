package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"DTokenSale/internal/models"
)

const (
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"

	OracleStatic    = "static"
	OracleHTTP      = "http"
	OracleChainlink = "chainlink"
)

type Config struct {
	Server  ServerConfig   `yaml:"server" toml:"server"`
	Store   StoreConfig    `yaml:"store" toml:"store"`
	DB      DBConfig       `yaml:"db" toml:"db"`
	Redis   RedisConfig    `yaml:"redis" toml:"redis"`
	Chain   ChainConfig    `yaml:"chain" toml:"chain"`
	Sale    SaleConfig     `yaml:"sale" toml:"sale"`
	Oracles []OracleConfig `yaml:"oracles" toml:"oracles"`
	Assets  []AssetConfig  `yaml:"assets" toml:"assets"`
	Genesis GenesisConfig  `yaml:"genesis" toml:"genesis"`
	Worker  WorkerConfig   `yaml:"worker" toml:"worker"`
	Log     LogConfig      `yaml:"log" toml:"log"`
	Metrics MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr" toml:"addr"`
	RateLimit   float64  `yaml:"rate_limit" toml:"rate_limit"`
	RateBurst   int      `yaml:"rate_burst" toml:"rate_burst"`
	CORSOrigins []string `yaml:"cors_origins" toml:"cors_origins"`
}

type StoreConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
}

type DBConfig struct {
	DSN      string `yaml:"dsn" toml:"dsn"`
	MaxConns int32  `yaml:"max_conns" toml:"max_conns"`
}

// RedisConfig enables the Redis event publisher when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
	Channel  string `yaml:"channel" toml:"channel"`
}

type ChainConfig struct {
	RPCEndpoints         []string `yaml:"rpc_endpoints" toml:"rpc_endpoints"`
	RPCFailoverThreshold int      `yaml:"rpc_failover_threshold" toml:"rpc_failover_threshold"`
}

type SaleConfig struct {
	UnitPriceUSD  string       `yaml:"unit_price_usd" toml:"unit_price_usd"`
	TokenDecimals uint8        `yaml:"token_decimals" toml:"token_decimals"`
	Tiers         []TierConfig `yaml:"tiers" toml:"tiers"`
}

// TierConfig switches the unit price once FromSold whole tokens are sold.
type TierConfig struct {
	FromSold string `yaml:"from_sold" toml:"from_sold"`
	PriceUSD string `yaml:"price_usd" toml:"price_usd"`
}

// OracleConfig describes one price feed. Value is a decimal price for static
// feeds, URL the endpoint for http feeds and Address the AggregatorV3
// contract for chainlink feeds.
type OracleConfig struct {
	ID             string `yaml:"id" toml:"id"`
	Kind           string `yaml:"kind" toml:"kind"`
	Value          string `yaml:"value" toml:"value"`
	URL            string `yaml:"url" toml:"url"`
	Address        string `yaml:"address" toml:"address"`
	TimeoutSeconds int    `yaml:"timeout_seconds" toml:"timeout_seconds"`
}

type AssetConfig struct {
	Token  string `yaml:"token" toml:"token"`
	Oracle string `yaml:"oracle" toml:"oracle"`
}

type GenesisConfig struct {
	Owner         string          `yaml:"owner" toml:"owner"`
	Admin         string          `yaml:"admin" toml:"admin"`
	Token         string          `yaml:"token" toml:"token"`
	Custody       string          `yaml:"custody" toml:"custody"`
	InitialSupply string          `yaml:"initial_supply" toml:"initial_supply"`
	NativeOracle  string          `yaml:"native_oracle" toml:"native_oracle"`
	Balances      []BalanceConfig `yaml:"balances" toml:"balances"`
}

// BalanceConfig seeds a ledger balance. Amount is in whole units of an asset
// with Decimals decimals (18 when unset).
type BalanceConfig struct {
	Asset    string `yaml:"asset" toml:"asset"`
	Account  string `yaml:"account" toml:"account"`
	Amount   string `yaml:"amount" toml:"amount"`
	Decimals *uint8 `yaml:"decimals" toml:"decimals"`
}

type WorkerConfig struct {
	IntervalSeconds int64  `yaml:"interval_seconds" toml:"interval_seconds"`
	MetricsAddr     string `yaml:"metrics_addr" toml:"metrics_addr"`
}

type LogConfig struct {
	Level      string `yaml:"level" toml:"level"`
	Format     string `yaml:"format" toml:"format"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Defaults are applied before the config file is decoded.
func Defaults() Config {
	var cfg Config
	cfg.Server.Addr = ":8080"
	cfg.Server.RateLimit = 20
	cfg.Server.RateBurst = 40
	cfg.Server.CORSOrigins = []string{"*"}
	cfg.Store.Driver = DriverBolt
	cfg.Store.Path = "data/sale.db"
	cfg.DB.MaxConns = 10
	cfg.Redis.Channel = "dtokensale:events"
	cfg.Chain.RPCFailoverThreshold = 3
	cfg.Sale.UnitPriceUSD = "0.1"
	cfg.Sale.TokenDecimals = 18
	cfg.Worker.IntervalSeconds = 30
	cfg.Worker.MetricsAddr = ":9091"
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	cfg.Metrics.Enabled = true
	cfg.Metrics.Path = "/metrics"
	return cfg
}

// Load reads the config file at path (falling back to CONFIG_PATH and then
// configs/config.yaml), applies a .env file if present and environment
// overrides, and validates the result. Files ending in .toml are decoded as
// TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := decode(path, data, &cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	_ = godotenv.Load()
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.Decode(string(data), cfg)
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("SERVER_RATE_LIMIT"); v != "" {
		cfg.Server.RateLimit = atofOr(cfg.Server.RateLimit, v)
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitCommaList(v)
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.Store.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		cfg.DB.MaxConns = int32(atoiOr(int(cfg.DB.MaxConns), v))
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		cfg.Redis.DB = atoiOr(cfg.Redis.DB, v)
	}
	if v := os.Getenv("REDIS_CHANNEL"); v != "" {
		cfg.Redis.Channel = v
	}
	if v := os.Getenv("RPC_ENDPOINTS"); v != "" {
		cfg.Chain.RPCEndpoints = splitCommaList(v)
	}
	if v := os.Getenv("RPC_FAILOVER_THRESHOLD"); v != "" {
		cfg.Chain.RPCFailoverThreshold = atoiOr(cfg.Chain.RPCFailoverThreshold, v)
	}
	if v := os.Getenv("SALE_UNIT_PRICE_USD"); v != "" {
		cfg.Sale.UnitPriceUSD = v
	}
	if v := os.Getenv("GENESIS_OWNER"); v != "" {
		cfg.Genesis.Owner = v
	}
	if v := os.Getenv("GENESIS_ADMIN"); v != "" {
		cfg.Genesis.Admin = v
	}
	if v := os.Getenv("WORKER_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.IntervalSeconds = atoi64Or(cfg.Worker.IntervalSeconds, v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Addr == "" {
		fail("server.addr is required")
	}
	switch c.Store.Driver {
	case DriverBolt:
		if c.Store.Path == "" {
			fail("store.path is required for the bolt driver")
		}
	case DriverPostgres:
		if c.DB.DSN == "" {
			fail("db.dsn is required for the postgres driver")
		}
	default:
		fail("store.driver must be %q or %q, got %q", DriverBolt, DriverPostgres, c.Store.Driver)
	}

	if v, err := models.ParseUnits(c.Sale.UnitPriceUSD, 18); err != nil || v.Sign() == 0 {
		fail("sale.unit_price_usd must be a positive decimal, got %q", c.Sale.UnitPriceUSD)
	}
	if c.Sale.TokenDecimals > 36 {
		fail("sale.token_decimals must be at most 36")
	}
	for i, t := range c.Sale.Tiers {
		if v, err := models.ParseUnits(t.FromSold, c.Sale.TokenDecimals); err != nil || v.Sign() == 0 {
			fail("sale.tiers[%d].from_sold must be a positive decimal", i)
		}
		if v, err := models.ParseUnits(t.PriceUSD, 18); err != nil || v.Sign() == 0 {
			fail("sale.tiers[%d].price_usd must be a positive decimal", i)
		}
	}

	ids := map[string]struct{}{}
	for i, o := range c.Oracles {
		id := strings.ToLower(strings.TrimSpace(o.ID))
		if id == "" {
			fail("oracles[%d].id is required", i)
			continue
		}
		if _, dup := ids[id]; dup {
			fail("oracles[%d]: duplicate id %q", i, o.ID)
		}
		ids[id] = struct{}{}
		switch o.Kind {
		case OracleStatic:
			if v, err := models.ParseUnits(o.Value, 8); err != nil || v.Sign() == 0 {
				fail("oracles[%d] (%s): static value must be a positive decimal with at most 8 fractional digits", i, o.ID)
			}
		case OracleHTTP:
			if o.URL == "" {
				fail("oracles[%d] (%s): url is required", i, o.ID)
			}
		case OracleChainlink:
			if !common.IsHexAddress(o.Address) {
				fail("oracles[%d] (%s): address must be a hex address", i, o.ID)
			}
			if len(c.Chain.RPCEndpoints) == 0 {
				fail("oracles[%d] (%s): chain.rpc_endpoints is required for chainlink feeds", i, o.ID)
			}
		default:
			fail("oracles[%d] (%s): unknown kind %q", i, o.ID, o.Kind)
		}
	}

	for i, a := range c.Assets {
		if !isAccount(a.Token) {
			fail("assets[%d].token must be a non-zero hex address", i)
		}
		if strings.TrimSpace(a.Oracle) == "" {
			fail("assets[%d].oracle is required", i)
		}
	}

	g := c.Genesis
	for name, v := range map[string]string{"owner": g.Owner, "admin": g.Admin, "token": g.Token, "custody": g.Custody} {
		if !isAccount(v) {
			fail("genesis.%s must be a non-zero hex address", name)
		}
	}
	if _, err := models.ParseUnits(g.InitialSupply, c.Sale.TokenDecimals); err != nil {
		fail("genesis.initial_supply: %v", err)
	}
	if strings.TrimSpace(g.NativeOracle) == "" {
		fail("genesis.native_oracle is required")
	}
	for i, b := range g.Balances {
		if _, err := models.ParseAsset(b.Asset); err != nil {
			fail("genesis.balances[%d].asset: %v", i, err)
		}
		if !isAccount(b.Account) {
			fail("genesis.balances[%d].account must be a non-zero hex address", i)
		}
		if _, err := models.ParseUnits(b.Amount, b.AssetDecimals()); err != nil {
			fail("genesis.balances[%d].amount: %v", i, err)
		}
	}

	if c.Worker.IntervalSeconds <= 0 {
		fail("worker.interval_seconds must be positive")
	}
	if f := strings.ToLower(c.Log.Format); f != "json" && f != "text" {
		fail("log.format must be json or text, got %q", c.Log.Format)
	}
	return errors.Join(errs...)
}

// AssetDecimals defaults to 18.
func (b BalanceConfig) AssetDecimals() uint8 {
	if b.Decimals == nil {
		return 18
	}
	return *b.Decimals
}

func isAccount(s string) bool {
	s = strings.TrimSpace(s)
	return common.IsHexAddress(s) && common.HexToAddress(s) != (common.Address{})
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func atofOr(fallback float64, v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
