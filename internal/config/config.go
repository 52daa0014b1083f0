package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

// Backend names accepted for inventory and ledger.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMySQL  = "mysql"
)

type Config struct {
	Server   ServerConfig  `yaml:"server"`
	MySQL    MySQLConfig   `yaml:"mysql"`
	Redis    RedisConfig   `yaml:"redis"`
	AMQP     AMQPConfig    `yaml:"amqp"`
	Backends BackendConfig `yaml:"backends"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
	Retry    RetryConfig   `yaml:"retry"`
	Catalog  CatalogConfig `yaml:"catalog"`
	Sales    SalesConfig   `yaml:"sales"`
	Tracing  TracingConfig `yaml:"tracing"`
	Seed     SeedConfig    `yaml:"seed"`
}

type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	// EnsureSchema creates the tables on startup.
	EnsureSchema bool `yaml:"ensure_schema"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// AMQPConfig enables RabbitMQ notifications when URL is set.
type AMQPConfig struct {
	URL string `yaml:"url"`
}

type BackendConfig struct {
	Inventory string `yaml:"inventory"`
	Ledger    string `yaml:"ledger"`
}

type TimeoutConfig struct {
	Reserve       time.Duration `yaml:"reserve"`
	Ledger        time.Duration `yaml:"ledger"`
	Notify        time.Duration `yaml:"notify"`
	Compensation  time.Duration `yaml:"compensation"`
	CommitLockTTL time.Duration `yaml:"commit_lock_ttl"`
}

type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	Jitter        bool          `yaml:"jitter"`
}

type CatalogConfig struct {
	// CacheTTL of zero disables the catalog cache.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type SalesConfig struct {
	// DefaultDeadlineDays fills a missing deadline on sales that owe a
	// balance. Zero makes the caller supply it.
	DefaultDeadlineDays int `yaml:"default_deadline_days"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// SeedConfig is loaded into the memory backends, or written to Redis and
// MySQL when Apply is set.
type SeedConfig struct {
	Apply    bool          `yaml:"apply"`
	Products []SeedProduct `yaml:"products"`
	Stock    []SeedStock   `yaml:"stock"`
}

type SeedProduct struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Price    string `yaml:"price"`
	Category string `yaml:"category"`
}

type SeedStock struct {
	StoreID   string `yaml:"store_id"`
	ProductID string `yaml:"product_id"`
	Quantity  int    `yaml:"quantity"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":50051",
			ShutdownTimeout: 5 * time.Second,
		},
		MySQL: MySQLConfig{
			DSN:             "root:root@tcp(localhost:3306)/electroshop?parseTime=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
			EnsureSchema:    true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 100,
		},
		Backends: BackendConfig{
			Inventory: BackendMemory,
			Ledger:    BackendMemory,
		},
		Timeouts: TimeoutConfig{
			Reserve:       2 * time.Second,
			Ledger:        5 * time.Second,
			Notify:        3 * time.Second,
			Compensation:  2 * time.Second,
			CommitLockTTL: 30 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:   3,
			InitialDelay:  100 * time.Millisecond,
			MaxDelay:      2 * time.Second,
			BackoffFactor: 2.0,
			Jitter:        true,
		},
		Catalog: CatalogConfig{CacheTTL: 30 * time.Second},
		Sales:   SalesConfig{DefaultDeadlineDays: 30},
		Tracing: TracingConfig{ServiceName: "electro-shop-sales"},
	}
}

// Load reads defaults, then the YAML file at path if path is not empty, then
// environment overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.loadEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	ext := filepath.Ext(path)
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("%w: unsupported config file extension %q", ErrInvalidConfig, ext)
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	return nil
}

func (c *Config) loadEnv(getenv func(string) string) error {
	setString(getenv, "SALES_HTTP_ADDR", &c.Server.HTTPAddr)
	setString(getenv, "SALES_GRPC_ADDR", &c.Server.GRPCAddr)
	setString(getenv, "MYSQL_DSN", &c.MySQL.DSN)
	setString(getenv, "REDIS_ADDR", &c.Redis.Addr)
	setString(getenv, "REDIS_PASSWORD", &c.Redis.Password)
	setString(getenv, "AMQP_URL", &c.AMQP.URL)
	setString(getenv, "SALES_INVENTORY_BACKEND", &c.Backends.Inventory)
	setString(getenv, "SALES_LEDGER_BACKEND", &c.Backends.Ledger)

	if err := setDuration(getenv, "SALES_RESERVE_TIMEOUT", &c.Timeouts.Reserve); err != nil {
		return err
	}
	if err := setDuration(getenv, "SALES_LEDGER_TIMEOUT", &c.Timeouts.Ledger); err != nil {
		return err
	}
	if err := setDuration(getenv, "SALES_CATALOG_CACHE_TTL", &c.Catalog.CacheTTL); err != nil {
		return err
	}
	if v := getenv("SALES_DEFAULT_DEADLINE_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: SALES_DEFAULT_DEADLINE_DAYS=%q", ErrInvalidConfig, v)
		}
		c.Sales.DefaultDeadlineDays = n
	}
	if v := getenv("SALES_TRACING_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: SALES_TRACING_ENABLED=%q", ErrInvalidConfig, v)
		}
		c.Tracing.Enabled = b
	}
	return nil
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.HTTPAddr == "" && c.Server.GRPCAddr == "" {
		errs = append(errs, errors.New("at least one of server.http_addr and server.grpc_addr is required"))
	}

	c.Backends.Inventory = strings.ToLower(c.Backends.Inventory)
	c.Backends.Ledger = strings.ToLower(c.Backends.Ledger)
	switch c.Backends.Inventory {
	case BackendMemory, BackendRedis, BackendMySQL:
	default:
		errs = append(errs, fmt.Errorf("unknown inventory backend %q", c.Backends.Inventory))
	}
	switch c.Backends.Ledger {
	case BackendMemory, BackendMySQL:
	default:
		errs = append(errs, fmt.Errorf("unknown ledger backend %q", c.Backends.Ledger))
	}
	if c.UsesMySQL() && c.MySQL.DSN == "" {
		errs = append(errs, errors.New("mysql.dsn is required for the mysql backend"))
	}
	if c.Backends.Inventory == BackendRedis && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required for the redis backend"))
	}

	if c.Timeouts.Reserve <= 0 || c.Timeouts.Ledger <= 0 || c.Timeouts.Notify <= 0 || c.Timeouts.Compensation <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.Timeouts.CommitLockTTL <= c.Timeouts.Reserve+c.Timeouts.Ledger {
		errs = append(errs, fmt.Errorf("timeouts.commit_lock_ttl %s must exceed reserve+ledger", c.Timeouts.CommitLockTTL))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts must be at least 1"))
	}
	if c.Retry.BackoffFactor < 1 {
		errs = append(errs, errors.New("retry.backoff_factor must be at least 1"))
	}
	if c.Catalog.CacheTTL < 0 {
		errs = append(errs, errors.New("catalog.cache_ttl must not be negative"))
	}
	if c.Sales.DefaultDeadlineDays < 0 {
		errs = append(errs, errors.New("sales.default_deadline_days must not be negative"))
	}

	for _, s := range c.Seed.Stock {
		if s.StoreID == "" || s.ProductID == "" || s.Quantity < 0 {
			errs = append(errs, fmt.Errorf("bad seed stock entry %+v", s))
		}
	}
	for _, p := range c.Seed.Products {
		if p.ID == "" || p.Price == "" {
			errs = append(errs, fmt.Errorf("seed product needs id and price: %+v", p))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// UsesMySQL reports whether any backend needs a MySQL connection.
func (c *Config) UsesMySQL() bool {
	return c.Backends.Inventory == BackendMySQL || c.Backends.Ledger == BackendMySQL
}

func setString(getenv func(string) string, key string, dst *string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(getenv func(string) string, key string, dst *time.Duration) error {
	v := getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, key, v)
	}
	*dst = d
	return nil
}
