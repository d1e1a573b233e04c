package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"dronedispatch/internal/logger"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Live      LiveConfig      `mapstructure:"live"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Seed      SeedConfig      `mapstructure:"seed"`
}

type ServerConfig struct {
	Addr                   string `mapstructure:"addr"`
	Mode                   string `mapstructure:"mode"` // debug / release
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
}

type LogConfig struct {
	Output     string `mapstructure:"output"` // file / stdout
	Dir        string `mapstructure:"dir"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

func (c LogConfig) ToLoggerOptions() logger.Options {
	return logger.Options{
		Output:     c.Output,
		Dir:        c.Dir,
		Filename:   c.Filename,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

// DatabaseConfig selects Postgres when URL is set; otherwise the in-memory store is used.
type DatabaseConfig struct {
	URL                    string `mapstructure:"url"`
	Migrate                bool   `mapstructure:"migrate"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `mapstructure:"conn_max_lifetime_seconds"`
}

func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeSeconds) * time.Second
}

type LiveConfig struct {
	Driver            string  `mapstructure:"driver"` // memory / redis / nats
	RedisURL          string  `mapstructure:"redis_url"`
	RedisPrefix       string  `mapstructure:"redis_prefix"`
	NATSURL           string  `mapstructure:"nats_url"`
	NATSSubjectPrefix string  `mapstructure:"nats_subject_prefix"`
	RatePerSecond     float64 `mapstructure:"rate_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type SchedulerConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	Cron                string `mapstructure:"cron"`
	CycleTimeoutSeconds int    `mapstructure:"cycle_timeout_seconds"`
}

type DispatchConfig struct {
	IdleDroneScope  string  `mapstructure:"idle_drone_scope"` // store / global
	DistancePerUnit float64 `mapstructure:"distance_per_unit"`
	SafetyMargin    float64 `mapstructure:"safety_margin"`
	CruiseSpeedKmh  float64 `mapstructure:"cruise_speed_kmh"`
	StopHandlingMin int     `mapstructure:"stop_handling_min"`
	TwoOptPasses    int     `mapstructure:"two_opt_passes"`
}

type SimulatorConfig struct {
	TickMS               int     `mapstructure:"tick_ms"`
	SpeedKmh             float64 `mapstructure:"speed_kmh"`
	MaxSamplesPerLeg     int     `mapstructure:"max_samples_per_leg"`
	MaxConcurrentFlights int64   `mapstructure:"max_concurrent_flights"`
}

func (c SimulatorConfig) Tick() time.Duration { return time.Duration(c.TickMS) * time.Millisecond }

type SeedConfig struct {
	File string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("log.output", "file")
	v.SetDefault("log.dir", "")
	v.SetDefault("log.filename", "dronedispatch.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("database.url", "")
	v.SetDefault("database.migrate", true)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime_seconds", 300)
	v.SetDefault("live.driver", "memory")
	v.SetDefault("live.redis_url", "redis://127.0.0.1:6379/0")
	v.SetDefault("live.redis_prefix", "dronedispatch:")
	v.SetDefault("live.nats_url", "nats://127.0.0.1:4222")
	v.SetDefault("live.nats_subject_prefix", "dronedispatch")
	v.SetDefault("live.rate_per_second", 0)
	v.SetDefault("live.burst", 20)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.cron", "0 */10 * * * *")
	v.SetDefault("scheduler.cycle_timeout_seconds", 60)
	v.SetDefault("dispatch.idle_drone_scope", "store")
	v.SetDefault("dispatch.distance_per_unit", 0.004)
	v.SetDefault("dispatch.safety_margin", 0.8)
	v.SetDefault("dispatch.cruise_speed_kmh", 30)
	v.SetDefault("dispatch.stop_handling_min", 2)
	v.SetDefault("dispatch.two_opt_passes", 0)
	v.SetDefault("simulator.tick_ms", 2000)
	v.SetDefault("simulator.speed_kmh", 30)
	v.SetDefault("simulator.max_samples_per_leg", 120)
	v.SetDefault("simulator.max_concurrent_flights", 0)
	v.SetDefault("seed.file", "")
}

// Load reads config.yaml from the given directories (default . and ./etc), then
// environment variables, then defaults. SERVER_ADDR overrides server.addr and so on;
// DATABASE_URL, REDIS_URL and NATS_URL are also honoured.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./etc"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = v.BindEnv("live.redis_url", "LIVE_REDIS_URL", "REDIS_URL")
	_ = v.BindEnv("live.nats_url", "LIVE_NATS_URL", "NATS_URL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		logger.Warnw("config_file_read_failed", "error", err, "fallback", "env_or_defaults")
	} else {
		logger.Infow("config_file_loaded", "file", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Dispatch.IdleDroneScope {
	case "store", "global":
	default:
		return fmt.Errorf("dispatch.idle_drone_scope must be store or global, got %q", c.Dispatch.IdleDroneScope)
	}
	switch c.Live.Driver {
	case "memory", "redis", "nats":
	default:
		return fmt.Errorf("live.driver must be memory, redis or nats, got %q", c.Live.Driver)
	}
	if c.Dispatch.SafetyMargin <= 0 || c.Dispatch.SafetyMargin > 1 {
		return fmt.Errorf("dispatch.safety_margin must be in (0,1], got %v", c.Dispatch.SafetyMargin)
	}
	if c.Dispatch.DistancePerUnit <= 0 {
		return errors.New("dispatch.distance_per_unit must be positive")
	}
	if c.Simulator.TickMS <= 0 {
		return errors.New("simulator.tick_ms must be positive")
	}
	return nil
}

// Summary is the non-secret subset shown on /debug/info.
func (c *Config) Summary() map[string]any {
	return map[string]any{
		"mode":           c.Server.Mode,
		"store":          map[bool]string{true: "postgres", false: "memory"}[c.Database.URL != ""],
		"liveDriver":     c.Live.Driver,
		"scheduler":      c.Scheduler.Enabled,
		"schedule":       c.Scheduler.Cron,
		"idleDroneScope": c.Dispatch.IdleDroneScope,
		"twoOptPasses":   c.Dispatch.TwoOptPasses,
		"tickMs":         c.Simulator.TickMS,
		"speedKmh":       c.Simulator.SpeedKmh,
	}
}
