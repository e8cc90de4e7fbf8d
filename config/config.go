package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Telemetry tunable defaults and bounds.
const (
	DefaultSampleInterval  = 600
	DefaultRetentionDays   = 7
	DefaultHalfLifeHours   = 72
	DefaultInactiveAfter   = 60
	DefaultVolumesInterval = 3600

	DefaultActivityDBPath = "/data/activity_samples.sqlite"
	DefaultHubAPIURL      = "http://127.0.0.1:8081/hub/api"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Hub        HubConfig        `yaml:"hub"`
	Database   DatabaseConfig   `yaml:"database"`
	Activity   ActivityConfig   `yaml:"activity"`
	Volumes    VolumesConfig    `yaml:"volumes"`
	Docker     DockerConfig     `yaml:"docker"`
	Session    SessionConfig    `yaml:"session"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
}

// HubConfig points at the hub control plane that owns the tenant directory.
// Directory selects the tenant source: "api" (hub REST) or "db" (primary datastore).
type HubConfig struct {
	APIURL           string `yaml:"api_url"`
	APIToken         string `yaml:"api_token"`
	Directory        string `yaml:"directory"`
	AuthCacheSeconds int    `yaml:"auth_cache_seconds"`
}

// DatabaseConfig holds the primary datastore connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ActivityConfig holds the activity sampling and scoring tunables.
type ActivityConfig struct {
	Enabled               bool   `yaml:"enabled"`
	DatabasePath          string `yaml:"database_path"`
	SampleIntervalSeconds int    `yaml:"sample_interval_seconds"`
	RetentionDays         int    `yaml:"retention_days"`
	HalfLifeHours         int    `yaml:"half_life_hours"`
	InactiveAfterMinutes  int    `yaml:"inactive_after_minutes"`
}

// Interval is the time between sampler ticks.
func (a ActivityConfig) Interval() time.Duration {
	return time.Duration(a.SampleIntervalSeconds) * time.Second
}

// Retention is the maximum age of a kept sample.
func (a ActivityConfig) Retention() time.Duration {
	return time.Duration(a.RetentionDays) * 24 * time.Hour
}

// InactiveAfter is the liveness threshold for a sample to count as active.
func (a ActivityConfig) InactiveAfter() time.Duration {
	return time.Duration(a.InactiveAfterMinutes) * time.Minute
}

// VolumesConfig holds the volume size cache configuration.
type VolumesConfig struct {
	UpdateIntervalSeconds int      `yaml:"update_interval_seconds"`
	Suffixes              []string `yaml:"suffixes"`
}

// Interval is the time between scheduled volume cache refreshes and the
// age past which a read triggers a refresh.
func (v VolumesConfig) Interval() time.Duration {
	return time.Duration(v.UpdateIntervalSeconds) * time.Second
}

// DockerConfig holds the orchestrator client configuration.
type DockerConfig struct {
	Host               string `yaml:"host"`
	NamePrefix         string `yaml:"name_prefix"`
	CallTimeoutSeconds int    `yaml:"call_timeout_seconds"`
	StatsCacheSeconds  int    `yaml:"stats_cache_seconds"`
}

// CallTimeout bounds every orchestrator call.
func (d DockerConfig) CallTimeout() time.Duration {
	return time.Duration(d.CallTimeoutSeconds) * time.Second
}

// SessionConfig mirrors the idle culler settings used by the session endpoints.
type SessionConfig struct {
	CullerEnabled     bool `yaml:"culler_enabled"`
	TimeoutSeconds    int  `yaml:"timeout_seconds"`
	MaxExtensionHours int  `yaml:"max_extension_hours"`
}

// WorkerPoolConfig holds the configuration for the orchestrator worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Load reads the configuration from the given path, applies environment
// overrides and resolves every tunable to a valid value. An empty path skips
// the file and builds the configuration from defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Config{
		Activity: ActivityConfig{Enabled: true},
	}

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(&cfg)
	resolve(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("JUPYTERHUB_API_URL"); ok && v != "" {
		cfg.Hub.APIURL = v
	}
	if v, ok := os.LookupEnv("JUPYTERHUB_API_TOKEN"); ok && v != "" {
		cfg.Hub.APIToken = v
	}
	if v, ok := os.LookupEnv("DATABASE_DSN"); ok && v != "" {
		cfg.Database.DSN = v
	}
	if v, ok := os.LookupEnv("JUPYTERHUB_ACTIVITYMON_DB_PATH"); ok && v != "" {
		cfg.Activity.DatabasePath = v
	}
	if v, ok := os.LookupEnv("JUPYTERHUB_IDLE_CULLER_ENABLED"); ok {
		cfg.Session.CullerEnabled = strings.TrimSpace(v) == "1"
	}
}

func resolve(cfg *Config) {
	a := &cfg.Activity
	a.SampleIntervalSeconds = tunable("JUPYTERHUB_ACTIVITYMON_SAMPLE_INTERVAL", a.SampleIntervalSeconds, DefaultSampleInterval, 60, 86400)
	a.RetentionDays = tunable("JUPYTERHUB_ACTIVITYMON_RETENTION_DAYS", a.RetentionDays, DefaultRetentionDays, 1, 365)
	a.HalfLifeHours = tunable("JUPYTERHUB_ACTIVITYMON_HALF_LIFE", a.HalfLifeHours, DefaultHalfLifeHours, 1, 168)
	a.InactiveAfterMinutes = tunable("JUPYTERHUB_ACTIVITYMON_INACTIVE_AFTER", a.InactiveAfterMinutes, DefaultInactiveAfter, 1, 1440)
	if a.DatabasePath == "" {
		a.DatabasePath = DefaultActivityDBPath
	}

	cfg.Volumes.UpdateIntervalSeconds = tunable("JUPYTERHUB_ACTIVITYMON_VOLUMES_UPDATE_INTERVAL", cfg.Volumes.UpdateIntervalSeconds, DefaultVolumesInterval, 1, maxInt)
	if len(cfg.Volumes.Suffixes) == 0 {
		cfg.Volumes.Suffixes = []string{"home", "workspace", "cache"}
	}

	s := &cfg.Session
	s.TimeoutSeconds = tunable("JUPYTERHUB_IDLE_CULLER_TIMEOUT", s.TimeoutSeconds, 86400, 1, maxInt)
	s.MaxExtensionHours = tunable("JUPYTERHUB_IDLE_CULLER_MAX_EXTENSION", s.MaxExtensionHours, 24, 0, 8760)

	if cfg.Hub.APIURL == "" {
		cfg.Hub.APIURL = DefaultHubAPIURL
	}
	cfg.Hub.APIURL = strings.TrimRight(cfg.Hub.APIURL, "/")
	if cfg.Hub.Directory == "" {
		cfg.Hub.Directory = "api"
	}
	if cfg.Hub.AuthCacheSeconds <= 0 {
		cfg.Hub.AuthCacheSeconds = 60
	}

	if cfg.Docker.NamePrefix == "" {
		cfg.Docker.NamePrefix = "jupyterlab-"
	}
	if cfg.Docker.CallTimeoutSeconds <= 0 || cfg.Docker.CallTimeoutSeconds > 9 {
		cfg.Docker.CallTimeoutSeconds = 5
	}
	if cfg.Docker.StatsCacheSeconds < 0 {
		cfg.Docker.StatsCacheSeconds = 0
	}

	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 20
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 4")
		cfg.WorkerPool.Size = 4
	}
}

const maxInt = int(^uint(0) >> 1)

// tunable resolves a named integer setting. The environment wins over the
// file value; zero means unset. A value outside [min, max] or one that does
// not parse falls back to def with a logged notice.
func tunable(name string, fileValue, def, min, max int) int {
	value := fileValue
	if raw, ok := os.LookupEnv(name); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			log.Printf("[Config] %s=%q invalid, using default %d", name, raw, def)
			return def
		}
		value = parsed
	} else if fileValue == 0 {
		return def
	}

	if value < min || value > max {
		log.Printf("[Config] %s=%d out of range (%d-%d), using default %d", name, value, min, max, def)
		return def
	}
	return value
}
