package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds every setting the engine reads at startup. It is never mutated after Load.
type Config struct {
	Server   ServerConfig
	Database DBConfig
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
	Storage  StorageConfig
	Priority PriorityConfig
	TimeLock TimeLockConfig
	Reserve  ReserveConfig
	Workers  WorkerConfig
	Lock     LockConfig
	JWT      JWTConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DBConfig holds database configuration
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Host      string
	Port      string
	Password  string
	DB        int
	KeyPrefix string
}

type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// StorageConfig selects the backing implementations. "memory" keeps everything in process
// and is meant for local runs.
type StorageConfig struct {
	Driver       string
	RankedDriver string
}

// PriorityConfig holds the weight tables. Keys are upper-case urgency/tier names.
type PriorityConfig struct {
	UrgencyWeights map[string]float64
	TierWeights    map[string]float64
	AgingFactor    float64
}

type TimeLockConfig struct {
	Threshold    decimal.Decimal
	HoldDuration time.Duration
}

// ReserveConfig is the per-tier balance floor.
type ReserveConfig struct {
	Minimums map[string]decimal.Decimal
}

type WorkerConfig struct {
	AgingInterval  time.Duration
	UnlockInterval time.Duration
	TickTimeout    time.Duration
}

type LockConfig struct {
	TTL time.Duration
}

type JWTConfig struct {
	SecretKey string
}

type LogConfig struct {
	Level  string
	Format string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "payqueue")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Minute*5)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "payqueue")

	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "transfer_events")

	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("ranked.driver", "redis")

	v.SetDefault("priority.urgency_weights", map[string]interface{}{"NORMAL": 1.0, "EMI": 3.0, "MEDICAL": 5.0})
	v.SetDefault("priority.tier_weights", map[string]interface{}{"BASIC": 0.0, "PREMIUM": 2.0, "VIP": 4.0})
	v.SetDefault("priority.aging_factor", 0.1)

	v.SetDefault("timelock.threshold", "10000")
	v.SetDefault("timelock.hold_duration", 30*time.Second)

	v.SetDefault("reserve.minimums", map[string]string{"BASIC": "100", "PREMIUM": "500", "VIP": "1000"})

	v.SetDefault("workers.aging_interval", 5*time.Second)
	v.SetDefault("workers.unlock_interval", 1*time.Second)
	v.SetDefault("workers.tick_timeout", 30*time.Second)

	v.SetDefault("lock.ttl", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

func bindEnv(v *viper.Viper) {
	for key, env := range map[string]string{
		"server.port":             "PORT",
		"database.host":           "DATABASE_HOST",
		"database.port":           "DATABASE_PORT",
		"database.user":           "DATABASE_USER",
		"database.password":       "DATABASE_PASSWORD",
		"database.name":           "DATABASE_NAME",
		"database.ssl_mode":       "DATABASE_SSL_MODE",
		"redis.host":              "REDIS_HOST",
		"redis.port":              "REDIS_PORT",
		"redis.password":          "REDIS_PASSWORD",
		"redis.db":                "REDIS_DB",
		"redis.key_prefix":        "REDIS_KEY_PREFIX",
		"rabbitmq.url":            "RABBITMQ_URL",
		"rabbitmq.exchange":       "RABBITMQ_EXCHANGE",
		"storage.driver":          "STORAGE_DRIVER",
		"ranked.driver":           "RANKED_DRIVER",
		"priority.aging_factor":   "PRIORITY_AGING_FACTOR",
		"timelock.threshold":      "TIMELOCK_THRESHOLD",
		"timelock.hold_duration":  "TIMELOCK_HOLD_DURATION",
		"workers.aging_interval":  "AGING_INTERVAL",
		"workers.unlock_interval": "UNLOCK_INTERVAL",
		"workers.tick_timeout":    "WORKER_TICK_TIMEOUT",
		"lock.ttl":                "LOCK_TTL",
		"jwt.secret_key":          "JWT_SECRET_KEY",
		"log.level":               "LOG_LEVEL",
		"log.format":              "LOG_FORMAT",
	} {
		_ = v.BindEnv(key, env)
	}
}

// Load reads the optional .env file, then environment variables, then defaults.
func Load() (*Config, error) {
	v := viper.GetViper()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	return FromViper(v)
}

// Default returns the built-in configuration without reading files or the environment,
// switched to the in-memory drivers.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	v.Set("storage.driver", "memory")
	v.Set("ranked.driver", "memory")
	cfg, err := FromViper(v)
	if err != nil {
		panic(fmt.Sprintf("built-in defaults are invalid: %v", err))
	}
	return cfg
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	threshold, err := decimal.NewFromString(v.GetString("timelock.threshold"))
	if err != nil {
		return nil, fmt.Errorf("invalid timelock.threshold: %w", err)
	}

	minimums := make(map[string]decimal.Decimal)
	for tier, raw := range v.GetStringMapString("reserve.minimums") {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid reserve minimum for %s: %w", tier, err)
		}
		minimums[strings.ToUpper(tier)] = amount
	}

	weights, err := floatMap(v.GetStringMap("priority.urgency_weights"))
	if err != nil {
		return nil, fmt.Errorf("invalid priority.urgency_weights: %w", err)
	}
	tierWeights, err := floatMap(v.GetStringMap("priority.tier_weights"))
	if err != nil {
		return nil, fmt.Errorf("invalid priority.tier_weights: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         v.GetString("server.port"),
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
			IdleTimeout:  v.GetDuration("server.idle_timeout"),
		},
		Database: DBConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.ssl_mode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Host:      v.GetString("redis.host"),
			Port:      v.GetString("redis.port"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: strings.TrimSuffix(strings.TrimSpace(v.GetString("redis.key_prefix")), ":"),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      strings.TrimSpace(v.GetString("rabbitmq.url")),
			Exchange: v.GetString("rabbitmq.exchange"),
		},
		Storage: StorageConfig{
			Driver:       strings.ToLower(v.GetString("storage.driver")),
			RankedDriver: strings.ToLower(v.GetString("ranked.driver")),
		},
		Priority: PriorityConfig{
			UrgencyWeights: weights,
			TierWeights:    tierWeights,
			AgingFactor:    v.GetFloat64("priority.aging_factor"),
		},
		TimeLock: TimeLockConfig{
			Threshold:    threshold,
			HoldDuration: v.GetDuration("timelock.hold_duration"),
		},
		Reserve: ReserveConfig{Minimums: minimums},
		Workers: WorkerConfig{
			AgingInterval:  v.GetDuration("workers.aging_interval"),
			UnlockInterval: v.GetDuration("workers.unlock_interval"),
			TickTimeout:    v.GetDuration("workers.tick_timeout"),
		},
		Lock: LockConfig{TTL: v.GetDuration("lock.ttl")},
		JWT:  JWTConfig{SecretKey: v.GetString("jwt.secret_key")},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func floatMap(raw map[string]interface{}) (map[string]float64, error) {
	out := make(map[string]float64, len(raw))
	for name, value := range raw {
		var f float64
		switch n := value.(type) {
		case float64:
			f = n
		case float32:
			f = float64(n)
		case int:
			f = float64(n)
		case int64:
			f = float64(n)
		case string:
			d, err := decimal.NewFromString(n)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			f = d.InexactFloat64()
		default:
			return nil, fmt.Errorf("%s: unsupported value type %T", name, value)
		}
		out[strings.ToUpper(name)] = f
	}
	return out, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Priority.AgingFactor <= 0 {
		errs = append(errs, errors.New("priority.aging_factor must be positive"))
	}
	if c.JWT.SecretKey == "" && c.Storage.Driver != "memory" {
		errs = append(errs, errors.New("jwt.secret_key is required unless storage.driver is memory"))
	}
	if c.TimeLock.Threshold.IsNegative() {
		errs = append(errs, errors.New("timelock.threshold must not be negative"))
	}
	if c.TimeLock.HoldDuration < 0 {
		errs = append(errs, errors.New("timelock.hold_duration must not be negative"))
	}
	if c.Workers.AgingInterval <= 0 || c.Workers.UnlockInterval <= 0 {
		errs = append(errs, errors.New("worker intervals must be positive"))
	}
	if c.Lock.TTL <= 0 {
		errs = append(errs, errors.New("lock.ttl must be positive"))
	}
	for tier, amount := range c.Reserve.Minimums {
		if amount.IsNegative() {
			errs = append(errs, fmt.Errorf("reserve minimum for %s must not be negative", tier))
		}
	}
	return errors.Join(errs...)
}
