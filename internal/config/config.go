// Package config loads coachflow settings from coachflow.yaml, a .env file
// and COACHFLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/nodes"
)

// EnvPrefix namespaces environment overrides: store.driver becomes COACHFLOW_STORE_DRIVER.
const EnvPrefix = "COACHFLOW"

// Config holds the configuration for the application.
type Config struct {
	Log          LogConfig          `mapstructure:"log"`
	HTTP         HTTPConfig         `mapstructure:"http"`
	Store        StoreConfig        `mapstructure:"store"`
	Templates    TemplatesConfig    `mapstructure:"templates"`
	Providers    ProvidersConfig    `mapstructure:"providers"`
	BusinessData BusinessDataConfig `mapstructure:"business_data"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
	Dispatch     DispatchConfig     `mapstructure:"dispatch"`
	Workflow     WorkflowConfig     `mapstructure:"workflow"`
	Locking      LockingConfig      `mapstructure:"locking"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// Format is "text" or "json".
	Format string `mapstructure:"format"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects the conversation store.
type StoreConfig struct {
	// Driver is one of memory, redis, sqlite, postgres.
	Driver string        `mapstructure:"driver"`
	DSN    string        `mapstructure:"dsn"`
	TTL    time.Duration `mapstructure:"ttl"`
	Redis  RedisConfig   `mapstructure:"redis"`
	// EncryptionKey is a base64 AES-256 key. Empty disables at-rest encryption.
	EncryptionKey string   `mapstructure:"encryption_key"`
	FallbackKeys  []string `mapstructure:"fallback_keys"`
	MaskPII       bool     `mapstructure:"mask_pii"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// TemplatesConfig selects the prompt template repository.
type TemplatesConfig struct {
	// Driver is one of memory, loam, postgres.
	Driver    string        `mapstructure:"driver"`
	Dir       string        `mapstructure:"dir"`
	DSN       string        `mapstructure:"dsn"`
	LatestTTL time.Duration `mapstructure:"latest_ttl"`
	Watch     bool          `mapstructure:"watch"`
}

type ProvidersConfig struct {
	Default string           `mapstructure:"default"`
	List    []ProviderConfig `mapstructure:"list"`
}

// ProviderConfig describes one inference vendor.
type ProviderConfig struct {
	Name string `mapstructure:"name"`
	// Kind is one of anthropic, openai, gemini, scripted.
	Kind         string                       `mapstructure:"kind"`
	Priority     int                          `mapstructure:"priority"`
	DefaultModel string                       `mapstructure:"default_model"`
	Models       map[string]domain.ModelPrice `mapstructure:"models"`
	// APIKeyEnv names the environment variable holding the key.
	APIKeyEnv string `mapstructure:"api_key_env"`
	BaseURL   string `mapstructure:"base_url"`
	LatencyMS int    `mapstructure:"latency_ms"`
}

type BusinessDataConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheSize int           `mapstructure:"cache_size"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	TokenEnv  string        `mapstructure:"token_env"`
}

type ArchiveConfig struct {
	// Driver is none or kafka.
	Driver  string   `mapstructure:"driver"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type DispatchConfig struct {
	RoutesFile string `mapstructure:"routes_file"`
}

type WorkflowConfig struct {
	nodes.Policy    `mapstructure:",squash"`
	MaxStepsPerCall int     `mapstructure:"max_steps_per_call"`
	Temperature     float64 `mapstructure:"temperature"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	MinInputLength  int     `mapstructure:"min_input_length"`
	// AnalysisCapacity and AnalysisRetention bound the in-memory store of
	// single-shot analysis workflows.
	AnalysisCapacity  int           `mapstructure:"analysis_capacity"`
	AnalysisRetention time.Duration `mapstructure:"analysis_retention"`
}

type LockingConfig struct {
	Distributed bool          `mapstructure:"distributed"`
	TTL         time.Duration `mapstructure:"ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 5*time.Second)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.ttl", 0)
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "coachflow:session:")
	v.SetDefault("store.encryption_key", "")
	v.SetDefault("store.fallback_keys", []string{})
	v.SetDefault("store.mask_pii", false)

	v.SetDefault("templates.driver", "memory")
	v.SetDefault("templates.dir", "./templates")
	v.SetDefault("templates.dsn", "")
	v.SetDefault("templates.latest_ttl", time.Minute)
	v.SetDefault("templates.watch", false)

	v.SetDefault("providers.default", "")

	v.SetDefault("business_data.base_url", "")
	v.SetDefault("business_data.timeout", 2*time.Second)
	v.SetDefault("business_data.cache_size", 1024)
	v.SetDefault("business_data.cache_ttl", 5*time.Minute)
	v.SetDefault("business_data.token_env", "")

	v.SetDefault("archive.driver", "none")
	v.SetDefault("archive.brokers", []string{})
	v.SetDefault("archive.topic", "")

	v.SetDefault("dispatch.routes_file", "")

	d := nodes.DefaultConfig()
	v.SetDefault("workflow.min_candidates", d.Policy.MinCandidates)
	v.SetDefault("workflow.target_candidates", d.Policy.TargetCandidates)
	v.SetDefault("workflow.max_turns", d.Policy.MaxTurns)
	v.SetDefault("workflow.max_steps_per_call", 32)
	v.SetDefault("workflow.temperature", d.Temperature)
	v.SetDefault("workflow.max_tokens", d.MaxTokens)
	v.SetDefault("workflow.min_input_length", d.MinInputLength)
	v.SetDefault("workflow.analysis_capacity", 1024)
	v.SetDefault("workflow.analysis_retention", 15*time.Minute)

	v.SetDefault("locking.distributed", false)
	v.SetDefault("locking.ttl", 30*time.Second)
}

// LoadDotEnv loads a .env file from the working directory if present.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// Load reads the configuration. An explicit path must exist; otherwise
// coachflow.yaml is searched in . and ./config and may be absent.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("coachflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerations and required companions.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Driver {
	case "memory", "redis":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Sprintf("store.dsn is required for driver %q", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of memory, redis, sqlite, postgres", c.Store.Driver))
	}

	switch c.Templates.Driver {
	case "memory":
	case "loam":
		if c.Templates.Dir == "" {
			errs = append(errs, "templates.dir is required for driver \"loam\"")
		}
	case "postgres":
		if c.Templates.DSN == "" {
			errs = append(errs, "templates.dsn is required for driver \"postgres\"")
		}
	default:
		errs = append(errs, fmt.Sprintf("templates.driver %q is not one of memory, loam, postgres", c.Templates.Driver))
	}

	switch c.Archive.Driver {
	case "", "none":
	case "kafka":
		if len(c.Archive.Brokers) == 0 {
			errs = append(errs, "archive.brokers is required for driver \"kafka\"")
		}
	default:
		errs = append(errs, fmt.Sprintf("archive.driver %q is not one of none, kafka", c.Archive.Driver))
	}

	if c.Locking.Distributed && c.Store.Driver != "redis" {
		errs = append(errs, "locking.distributed requires store.driver \"redis\"")
	}

	names := make(map[string]bool)
	for i, p := range c.Providers.List {
		if p.Name == "" {
			errs = append(errs, fmt.Sprintf("providers.list[%d]: name is required", i))
		} else if names[p.Name] {
			errs = append(errs, fmt.Sprintf("providers.list[%d]: duplicate name %q", i, p.Name))
		}
		names[p.Name] = true

		switch p.Kind {
		case "anthropic", "openai", "gemini":
			if p.APIKeyEnv == "" {
				errs = append(errs, fmt.Sprintf("providers.list[%d]: api_key_env is required for kind %q", i, p.Kind))
			}
		case "scripted":
		default:
			errs = append(errs, fmt.Sprintf("providers.list[%d]: unknown kind %q", i, p.Kind))
		}
	}
	if c.Providers.Default != "" && !names[c.Providers.Default] {
		errs = append(errs, fmt.Sprintf("providers.default %q is not in providers.list", c.Providers.Default))
	}

	if len(errs) > 0 {
		return fmt.Errorf("found %d errors:\n- %s", len(errs), strings.Join(errs, "\n- "))
	}
	return nil
}

// NodeConfig maps the workflow section onto the node library settings.
func (c *Config) NodeConfig() nodes.Config {
	cfg := nodes.DefaultConfig()
	cfg.Policy = c.Workflow.Policy
	if c.Workflow.Temperature > 0 {
		cfg.Temperature = c.Workflow.Temperature
	}
	if c.Workflow.MaxTokens > 0 {
		cfg.MaxTokens = c.Workflow.MaxTokens
	}
	if c.Workflow.MinInputLength > 0 {
		cfg.MinInputLength = c.Workflow.MinInputLength
	}
	cfg.ProviderHint = c.Providers.Default
	return cfg
}
