package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces every environment variable the binaries read.
const EnvPrefix = "ANDROCOMPUTE"

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Registry RegistryConfig `mapstructure:"registry"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"` // structured | console
}

// RegistryConfig keeps the assignment and eviction thresholds as separate
// tunables.
type RegistryConfig struct {
	ActiveWindow   time.Duration `mapstructure:"active_window"`
	EvictionWindow time.Duration `mapstructure:"eviction_window"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"` // 0 disables the janitor
}

type JobsConfig struct {
	MaxResults        int           `mapstructure:"max_results"`
	ExecutionDeadline time.Duration `mapstructure:"execution_deadline"` // 0 disables expiry
	TemplatesFile     string        `mapstructure:"templates_file"`
}

type MirrorConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"` // empty disables the mirror
	Prefix      string        `mapstructure:"prefix"`
	LeaseTTL    time.Duration `mapstructure:"lease_ttl"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Buffer      int           `mapstructure:"buffer"`
}

func (m MirrorConfig) Enabled() bool {
	return len(m.Endpoints) > 0
}

type WorkerConfig struct {
	CoordinatorURL string        `mapstructure:"coordinator_url"`
	NodeID         string        `mapstructure:"node_id"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	JobTimeout     time.Duration `mapstructure:"job_timeout"`
	Executor       string        `mapstructure:"executor"` // builtin | docker
	Docker         DockerConfig  `mapstructure:"docker"`
}

type DockerConfig struct {
	Image       string `mapstructure:"image"`
	Pull        bool   `mapstructure:"pull"`
	MemoryBytes int64  `mapstructure:"memory_bytes"`
	NanoCPUs    int64  `mapstructure:"nano_cpus"`
	PidsLimit   int64  `mapstructure:"pids_limit"`
}

const (
	ExecutorBuiltin = "builtin"
	ExecutorDocker  = "docker"
)

// setDefaults registers every key so env overrides are visible to Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	v.SetDefault("registry.active_window", "30s")
	v.SetDefault("registry.eviction_window", "120s")
	v.SetDefault("registry.sweep_interval", "0s")

	v.SetDefault("jobs.max_results", 10)
	v.SetDefault("jobs.execution_deadline", "0s")
	v.SetDefault("jobs.templates_file", "")

	v.SetDefault("mirror.endpoints", []string{})
	v.SetDefault("mirror.prefix", "/androcompute")
	v.SetDefault("mirror.lease_ttl", "60s")
	v.SetDefault("mirror.dial_timeout", "5s")
	v.SetDefault("mirror.buffer", 256)

	v.SetDefault("worker.coordinator_url", "http://localhost:5000")
	v.SetDefault("worker.node_id", "")
	v.SetDefault("worker.poll_interval", "5s")
	v.SetDefault("worker.request_timeout", "10s")
	v.SetDefault("worker.job_timeout", "60s")
	v.SetDefault("worker.executor", ExecutorBuiltin)
	v.SetDefault("worker.docker.image", "alpine:latest")
	v.SetDefault("worker.docker.pull", false)
	v.SetDefault("worker.docker.memory_bytes", 64*1024*1024)
	v.SetDefault("worker.docker.nano_cpus", 500_000_000)
	v.SetDefault("worker.docker.pids_limit", 64)
}

// envAliases are short names accepted next to the ANDROCOMPUTE_<KEY> form.
var envAliases = map[string]string{
	"server.port":            EnvPrefix + "_PORT",
	"server.host":            EnvPrefix + "_HOST",
	"logging.level":          EnvPrefix + "_LOG_LEVEL",
	"worker.coordinator_url": EnvPrefix + "_COORDINATOR_URL",
	"worker.node_id":         EnvPrefix + "_NODE_ID",
	"mirror.endpoints":       EnvPrefix + "_ETCD_ENDPOINTS",
}

// Load builds the configuration. Precedence: overrides > env > file > defaults.
// configFile may be empty.
func Load(configFile string, overrides ...map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, alias := range envAliases {
		long := EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
		if err := v.BindEnv(key, long, alias); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", alias, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	for _, o := range overrides {
		if len(o) == 0 {
			continue
		}
		if err := v.MergeConfigMap(o); err != nil {
			return nil, fmt.Errorf("apply overrides: %w", err)
		}
		// MergeConfigMap sits below env in viper's precedence; Set wins.
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Registry.ActiveWindow <= 0 {
		errs = append(errs, errors.New("registry.active_window must be positive"))
	}
	if c.Registry.EvictionWindow <= c.Registry.ActiveWindow {
		errs = append(errs, fmt.Errorf("registry.eviction_window (%s) must exceed registry.active_window (%s)",
			c.Registry.EvictionWindow, c.Registry.ActiveWindow))
	}
	if c.Registry.SweepInterval < 0 {
		errs = append(errs, errors.New("registry.sweep_interval must not be negative"))
	}
	if c.Jobs.MaxResults < 0 {
		errs = append(errs, errors.New("jobs.max_results must not be negative"))
	}
	if c.Jobs.ExecutionDeadline < 0 {
		errs = append(errs, errors.New("jobs.execution_deadline must not be negative"))
	}
	if c.Worker.PollInterval <= 0 {
		errs = append(errs, errors.New("worker.poll_interval must be positive"))
	}
	switch c.Worker.Executor {
	case ExecutorBuiltin, ExecutorDocker:
	default:
		errs = append(errs, fmt.Errorf("worker.executor %q is not one of %s, %s", c.Worker.Executor, ExecutorBuiltin, ExecutorDocker))
	}
	return errors.Join(errs...)
}

// Overrides collects runtime values keyed by dotted config path, e.g. from
// command-line flags. Pass it to Load.
type Overrides map[string]any

func (o Overrides) Set(key string, val any) {
	parts := strings.Split(key, ".")
	m := map[string]any(o)
	for _, p := range parts[:len(parts)-1] {
		next, ok := m[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[p] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = val
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}
