// Package config loads chai settings from defaults, a config file, CHAI_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/sweetpotato0/chai-tokenizer/engine"
)

// Cache backends
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

type Config struct {
	Engine    EngineConfig    `mapstructure:"engine"`
	Tokenizer TokenizerConfig `mapstructure:"tokenizer"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type EngineConfig struct {
	DefaultModel string        `mapstructure:"default_model"`
	Mode         string        `mapstructure:"mode"`
	Display      string        `mapstructure:"display"`
	Debounce     time.Duration `mapstructure:"debounce"`
	CopiedFor    time.Duration `mapstructure:"copied_for"`
}

type TokenizerConfig struct {
	// OfflineBPE loads BPE ranks from the embedded loader instead of the network.
	OfflineBPE bool `mapstructure:"offline_bpe"`
}

type CacheConfig struct {
	Backend       string        `mapstructure:"backend"`
	Capacity      int           `mapstructure:"capacity"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Prefix        string        `mapstructure:"prefix"`
	TTL           time.Duration `mapstructure:"ttl"`
}

type ServerConfig struct {
	ListenAddr  string        `mapstructure:"listen_addr"`
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// RateLimit is requests per second per client IP; 0 disables limiting.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
	// SessionIdleTimeout closes HTTP sessions left untouched this long; 0 keeps them.
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TelemetryConfig struct {
	Disable     bool   `mapstructure:"disable"`
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
	// Endpoint is an OTLP/gRPC collector address; empty means stdout.
	Endpoint string `mapstructure:"endpoint"`
	// SampleRatio is the fraction of traces kept; 1 keeps all.
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Engine: EngineConfig{
			DefaultModel: "gpt-3.5-turbo",
			Mode:         string(engine.Encode),
			Display:      string(engine.Badges),
			Debounce:     400 * time.Millisecond,
			CopiedFor:    2 * time.Second,
		},
		Tokenizer: TokenizerConfig{
			OfflineBPE: true,
		},
		Cache: CacheConfig{
			Backend:   CacheMemory,
			Capacity:  1024,
			RedisAddr: "localhost:6379",
			RedisDB:   0,
			Prefix:    "chai:encode:",
			TTL:       time.Hour,
		},
		Server: ServerConfig{
			ListenAddr:         ":8080",
			ReadTimeout:        10 * time.Second,
			RateLimit:          0,
			RateBurst:          20,
			SessionIdleTimeout: 30 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Disable:     true,
			ServiceName: "chai-tokenizer",
			Environment: "development",
			SampleRatio: 1,
		},
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("engine-default-model", defaults.Engine.DefaultModel, "Model selected when a session starts")
	fs.String("engine-mode", defaults.Engine.Mode, "Initial mode: encode or decode")
	fs.String("engine-display", defaults.Engine.Display, "Token display: badges or numbered")
	fs.Duration("engine-debounce", defaults.Engine.Debounce, "Quiet window before input settles")
	fs.Duration("engine-copied-for", defaults.Engine.CopiedFor, "How long the copied indicator stays on")
	fs.Bool("tokenizer-offline-bpe", defaults.Tokenizer.OfflineBPE, "Load BPE ranks from the embedded offline loader")
	fs.String("cache-backend", defaults.Cache.Backend, "Encode cache: none, memory or redis")
	fs.Int("cache-capacity", defaults.Cache.Capacity, "Entries kept by the memory cache")
	fs.String("cache-redis-addr", defaults.Cache.RedisAddr, "Redis address for the encode cache")
	fs.String("cache-redis-password", defaults.Cache.RedisPassword, "Redis password")
	fs.Int("cache-redis-db", defaults.Cache.RedisDB, "Redis database number")
	fs.String("cache-prefix", defaults.Cache.Prefix, "Key prefix for cached encodings")
	fs.Duration("cache-ttl", defaults.Cache.TTL, "Expiry of cached encodings")
	fs.String("server-listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Duration("server-read-timeout", defaults.Server.ReadTimeout, "HTTP read timeout")
	fs.Float64("server-rate-limit", defaults.Server.RateLimit, "Requests per second per client IP on /v1 routes (0 disables)")
	fs.Int("server-rate-burst", defaults.Server.RateBurst, "Burst size for the per-client rate limit")
	fs.Duration("server-session-idle-timeout", defaults.Server.SessionIdleTimeout, "Close HTTP sessions idle this long (0 keeps them)")
	fs.String("log-level", defaults.Log.Level, "Log level: debug, info, warn or error")
	fs.String("log-format", defaults.Log.Format, "Log format: text or json")
	fs.Bool("telemetry-disable", defaults.Telemetry.Disable, "Disable tracing")
	fs.String("telemetry-service-name", defaults.Telemetry.ServiceName, "Service name reported on spans")
	fs.String("telemetry-environment", defaults.Telemetry.Environment, "Deployment environment reported on spans")
	fs.String("telemetry-endpoint", defaults.Telemetry.Endpoint, "OTLP/gRPC collector address; empty writes spans to stdout")
	fs.Float64("telemetry-sample-ratio", defaults.Telemetry.SampleRatio, "Fraction of traces kept (0-1)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := bindFlags(v, opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	v.SetEnvPrefix("CHAI")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("chai")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// Validate checks every section and returns all failures at once.
func (c Config) Validate() error {
	v := NewValidator()

	v.RequireNonEmpty("engine.default_model", c.Engine.DefaultModel)
	_, err := engine.ParseMode(c.Engine.Mode)
	v.Check("engine.mode", err)
	_, err = engine.ParseDisplayMode(c.Engine.Display)
	v.Check("engine.display", err)
	v.RequirePositiveDuration("engine.debounce", c.Engine.Debounce)
	v.RequirePositiveDuration("engine.copied_for", c.Engine.CopiedFor)

	v.ValidateOneOf("cache.backend", c.Cache.Backend, CacheNone, CacheMemory, CacheRedis)
	switch c.Cache.Backend {
	case CacheMemory:
		v.RequirePositive("cache.capacity", c.Cache.Capacity)
	case CacheRedis:
		v.RequireNonEmpty("cache.redis_addr", c.Cache.RedisAddr)
		v.ValidateDBNumber("cache.redis_db", c.Cache.RedisDB)
		v.RequireNonEmpty("cache.prefix", c.Cache.Prefix)
		v.RequirePositiveDuration("cache.ttl", c.Cache.TTL)
	}

	v.ValidateListenAddr("server.listen_addr", c.Server.ListenAddr)
	v.RequirePositiveDuration("server.read_timeout", c.Server.ReadTimeout)
	if c.Server.RateLimit < 0 {
		v.Check("server.rate_limit", fmt.Errorf("must not be negative, got %g", c.Server.RateLimit))
	}
	if c.Server.RateLimit > 0 {
		v.RequirePositive("server.rate_burst", c.Server.RateBurst)
	}
	if c.Server.SessionIdleTimeout < 0 {
		v.Check("server.session_idle_timeout", fmt.Errorf("must not be negative, got %s", c.Server.SessionIdleTimeout))
	}

	v.ValidateOneOf("log.level", strings.ToLower(c.Log.Level), "debug", "info", "warn", "warning", "error")
	v.ValidateOneOf("log.format", strings.ToLower(c.Log.Format), "text", "json")

	if !c.Telemetry.Disable {
		v.RequireNonEmpty("telemetry.service_name", c.Telemetry.ServiceName)
		if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
			v.Check("telemetry.sample_ratio", fmt.Errorf("must be between 0 and 1, got %g", c.Telemetry.SampleRatio))
		}
	}

	return v.Error()
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("engine.default_model", c.Engine.DefaultModel)
	v.SetDefault("engine.mode", c.Engine.Mode)
	v.SetDefault("engine.display", c.Engine.Display)
	v.SetDefault("engine.debounce", c.Engine.Debounce)
	v.SetDefault("engine.copied_for", c.Engine.CopiedFor)
	v.SetDefault("tokenizer.offline_bpe", c.Tokenizer.OfflineBPE)
	v.SetDefault("cache.backend", c.Cache.Backend)
	v.SetDefault("cache.capacity", c.Cache.Capacity)
	v.SetDefault("cache.redis_addr", c.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", c.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", c.Cache.RedisDB)
	v.SetDefault("cache.prefix", c.Cache.Prefix)
	v.SetDefault("cache.ttl", c.Cache.TTL)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.rate_limit", c.Server.RateLimit)
	v.SetDefault("server.rate_burst", c.Server.RateBurst)
	v.SetDefault("server.session_idle_timeout", c.Server.SessionIdleTimeout)
	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.format", c.Log.Format)
	v.SetDefault("telemetry.disable", c.Telemetry.Disable)
	v.SetDefault("telemetry.service_name", c.Telemetry.ServiceName)
	v.SetDefault("telemetry.environment", c.Telemetry.Environment)
	v.SetDefault("telemetry.endpoint", c.Telemetry.Endpoint)
	v.SetDefault("telemetry.sample_ratio", c.Telemetry.SampleRatio)
}

// flagKeys maps each flag registered by RegisterFlags to its nested config
// key. An unset flag falls through to env, file and defaults.
var flagKeys = []struct{ flag, key string }{
	{"engine-default-model", "engine.default_model"},
	{"engine-mode", "engine.mode"},
	{"engine-display", "engine.display"},
	{"engine-debounce", "engine.debounce"},
	{"engine-copied-for", "engine.copied_for"},
	{"tokenizer-offline-bpe", "tokenizer.offline_bpe"},
	{"cache-backend", "cache.backend"},
	{"cache-capacity", "cache.capacity"},
	{"cache-redis-addr", "cache.redis_addr"},
	{"cache-redis-password", "cache.redis_password"},
	{"cache-redis-db", "cache.redis_db"},
	{"cache-prefix", "cache.prefix"},
	{"cache-ttl", "cache.ttl"},
	{"server-listen-addr", "server.listen_addr"},
	{"server-read-timeout", "server.read_timeout"},
	{"server-rate-limit", "server.rate_limit"},
	{"server-rate-burst", "server.rate_burst"},
	{"server-session-idle-timeout", "server.session_idle_timeout"},
	{"log-level", "log.level"},
	{"log-format", "log.format"},
	{"telemetry-disable", "telemetry.disable"},
	{"telemetry-service-name", "telemetry.service_name"},
	{"telemetry-environment", "telemetry.environment"},
	{"telemetry-endpoint", "telemetry.endpoint"},
	{"telemetry-sample-ratio", "telemetry.sample_ratio"},
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for _, fk := range flagKeys {
		f := fs.Lookup(fk.flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(fk.key, f); err != nil {
			return fmt.Errorf("%s: %w", fk.flag, err)
		}
	}
	return nil
}
