// Package config loads process configuration from defaults, an optional
// YAML file and LIVEWATCH_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"livewatch/internal/api"
	"livewatch/internal/cloud"
	"livewatch/internal/collectors"
	"livewatch/internal/engine"
	"livewatch/internal/observability/logging"
	"livewatch/internal/observability/tracing"
	"livewatch/internal/serverutil"
)

// EnvPrefix namespaces every environment variable, e.g.
// LIVEWATCH_TENCENT_SECRET_ID for tencent.secret_id.
const EnvPrefix = "LIVEWATCH"

type HTTPConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	TLS             serverutil.TLSConfig
	RateLimit       api.RateLimitConfig
}

// Config is the fully resolved configuration.
type Config struct {
	Provider   cloud.Config
	Engine     engine.Config
	Collectors collectors.Config
	Redis      engine.RedisConfig
	HTTP       HTTPConfig
	Log        logging.Config
	Tracing    tracing.Config
	Prewarm    bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider.driver", cloud.DriverTencent)
	v.SetDefault("provider.fixture_path", "")

	v.SetDefault("tencent.secret_id", "")
	v.SetDefault("tencent.secret_key", "")
	v.SetDefault("tencent.region", cloud.DefaultRegion)
	v.SetDefault("tencent.request_timeout", cloud.DefaultRequestTimeout)
	v.SetDefault("tencent.list_concurrency", cloud.DefaultListConcurrency)

	v.SetDefault("cdn.domain", "")
	v.SetDefault("cdn.app_name", "live")

	v.SetDefault("capabilities.input_state", true)
	v.SetDefault("capabilities.flows", true)
	v.SetDefault("capabilities.statistics", true)
	v.SetDefault("capabilities.package", true)
	v.SetDefault("capabilities.cdn", true)

	v.SetDefault("engine.cache_ttl", engine.DefaultCacheTTL)
	v.SetDefault("engine.negative_ttl", engine.DefaultNegativeTTL)
	v.SetDefault("engine.inventory_ttl", engine.DefaultInventoryTTL)
	v.SetDefault("engine.inventory_timeout", engine.DefaultInventoryTimeout)
	v.SetDefault("engine.workers", engine.DefaultWorkers)
	v.SetDefault("engine.collector_timeout", engine.DefaultCollectorTimeout)
	v.SetDefault("engine.resolve_deadline", engine.DefaultResolveDeadline)
	v.SetDefault("engine.retry_interval", collectors.DefaultRetryInterval)
	v.SetDefault("engine.jitter", engine.DefaultJitter)
	v.SetDefault("engine.cache_shards", engine.DefaultCacheShards)
	v.SetDefault("engine.prewarm", true)
	v.SetDefault("linkage.min_stream_key_length", 10)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.addrs", []string{})
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.master_name", "")
	v.SetDefault("redis.pool_size", 0)
	v.SetDefault("redis.key_prefix", "livewatch")
	v.SetDefault("redis.timeout", time.Second)

	v.SetDefault("http.addr", ":8000")
	v.SetDefault("http.shutdown_timeout", serverutil.DefaultShutdownTimeout)
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("http.tls_cert_file", "")
	v.SetDefault("http.tls_key_file", "")
	v.SetDefault("http.rate_limit.global_rps", 0)
	v.SetDefault("http.rate_limit.global_burst", 0)
	v.SetDefault("http.rate_limit.invalidate_limit", 30)
	v.SetDefault("http.rate_limit.invalidate_window", time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", string(logging.FormatJSON))

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.stdout", false)
}

// New returns a viper instance bound to the environment and, when path is
// set, to that YAML file.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

// Load resolves and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Provider: cloud.Config{
			Driver:      v.GetString("provider.driver"),
			FixturePath: v.GetString("provider.fixture_path"),
			Tencent: cloud.TencentConfig{
				SecretID:        v.GetString("tencent.secret_id"),
				SecretKey:       v.GetString("tencent.secret_key"),
				Region:          v.GetString("tencent.region"),
				RequestTimeout:  v.GetDuration("tencent.request_timeout"),
				CdnDomain:       v.GetString("cdn.domain"),
				CdnAppName:      v.GetString("cdn.app_name"),
				ListConcurrency: v.GetInt("tencent.list_concurrency"),
			},
			Enabled: cloud.Capabilities{
				InputState: v.GetBool("capabilities.input_state"),
				Flows:      v.GetBool("capabilities.flows"),
				Statistics: v.GetBool("capabilities.statistics"),
				Packages:   v.GetBool("capabilities.package"),
				CdnStreams: v.GetBool("capabilities.cdn"),
			},
		},
		Engine: engine.Config{
			CacheTTL:           v.GetDuration("engine.cache_ttl"),
			NegativeTTL:        v.GetDuration("engine.negative_ttl"),
			InventoryTTL:       v.GetDuration("engine.inventory_ttl"),
			InventoryTimeout:   v.GetDuration("engine.inventory_timeout"),
			Workers:            v.GetInt("engine.workers"),
			CollectorTimeout:   v.GetDuration("engine.collector_timeout"),
			ResolveDeadline:    v.GetDuration("engine.resolve_deadline"),
			Jitter:             v.GetDuration("engine.jitter"),
			CacheShards:        v.GetInt("engine.cache_shards"),
			MinStreamKeyLength: v.GetInt("linkage.min_stream_key_length"),
		},
		Collectors: collectors.Config{
			RetryInterval: v.GetDuration("engine.retry_interval"),
		},
		Redis: engine.RedisConfig{
			Addr:       v.GetString("redis.addr"),
			Addrs:      splitList(v.GetStringSlice("redis.addrs")),
			Username:   v.GetString("redis.username"),
			Password:   v.GetString("redis.password"),
			MasterName: v.GetString("redis.master_name"),
			PoolSize:   v.GetInt("redis.pool_size"),
			KeyPrefix:  v.GetString("redis.key_prefix"),
			Timeout:    v.GetDuration("redis.timeout"),
		},
		HTTP: HTTPConfig{
			Addr:            v.GetString("http.addr"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			AllowedOrigins:  splitList(v.GetStringSlice("http.allowed_origins")),
			TLS: serverutil.TLSConfig{
				CertFile: v.GetString("http.tls_cert_file"),
				KeyFile:  v.GetString("http.tls_key_file"),
			},
			RateLimit: api.RateLimitConfig{
				GlobalRPS:        v.GetFloat64("http.rate_limit.global_rps"),
				GlobalBurst:      v.GetInt("http.rate_limit.global_burst"),
				InvalidateLimit:  v.GetInt("http.rate_limit.invalidate_limit"),
				InvalidateWindow: v.GetDuration("http.rate_limit.invalidate_window"),
			},
		},
		Log: logging.Config{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Tracing: tracing.Config{
			Enabled: v.GetBool("tracing.enabled"),
			Stdout:  v.GetBool("tracing.stdout"),
		},
		Prewarm: v.GetBool("engine.prewarm"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error
	if err := c.Provider.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.HTTP.TLS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", cloud.ErrConfiguration, err))
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, fmt.Errorf("%w: http.addr is required", cloud.ErrConfiguration))
	}
	for key, d := range map[string]time.Duration{
		"engine.cache_ttl":         c.Engine.CacheTTL,
		"engine.negative_ttl":      c.Engine.NegativeTTL,
		"engine.collector_timeout": c.Engine.CollectorTimeout,
		"engine.resolve_deadline":  c.Engine.ResolveDeadline,
		"engine.inventory_timeout": c.Engine.InventoryTimeout,
		"engine.jitter":            c.Engine.Jitter,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%w: %s cannot be negative", cloud.ErrConfiguration, key))
		}
	}
	if c.Engine.NegativeTTL > c.Engine.CacheTTL && c.Engine.CacheTTL > 0 {
		errs = append(errs, fmt.Errorf("%w: engine.negative_ttl cannot exceed engine.cache_ttl", cloud.ErrConfiguration))
	}
	if c.HTTP.RateLimit.GlobalRPS < 0 || c.HTTP.RateLimit.InvalidateLimit < 0 {
		errs = append(errs, fmt.Errorf("%w: rate limits cannot be negative", cloud.ErrConfiguration))
	}
	if c.Engine.Workers < 0 {
		errs = append(errs, fmt.Errorf("%w: engine.workers cannot be negative", cloud.ErrConfiguration))
	}
	return errors.Join(errs...)
}

// splitList accepts both YAML lists and comma-separated env values.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
