package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the service configuration loaded from research.yaml plus env overrides.
type Config struct {
	DeepResearch Settings `mapstructure:"deep_research"`

	Service struct {
		Port            int           `mapstructure:"port"`
		GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
		AuthToken       string        `mapstructure:"auth_token"`
	} `mapstructure:"service"`

	Temporal struct {
		Host      string `mapstructure:"host"`
		Namespace string `mapstructure:"namespace"`
		TaskQueue string `mapstructure:"task_queue"`
	} `mapstructure:"temporal"`

	Redis struct {
		Addr      string `mapstructure:"addr"`
		Password  string `mapstructure:"password"`
		DB        int    `mapstructure:"db"`
		StreamLen int64  `mapstructure:"stream_len"`
	} `mapstructure:"redis"`

	Database struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Documents struct {
		Backend string `mapstructure:"backend"`
		S3      struct {
			Endpoint  string `mapstructure:"endpoint"`
			AccessKey string `mapstructure:"access_key"`
			SecretKey string `mapstructure:"secret_key"`
			Bucket    string `mapstructure:"bucket"`
			UseSSL    bool   `mapstructure:"use_ssl"`
		} `mapstructure:"s3"`
	} `mapstructure:"documents"`

	Search struct {
		RequestsPerMinute int           `mapstructure:"requests_per_minute"`
		CacheSize         int           `mapstructure:"cache_size"`
		Timeout           time.Duration `mapstructure:"timeout"`
	} `mapstructure:"search"`

	Tracing struct {
		Enabled      bool   `mapstructure:"enabled"`
		ServiceName  string `mapstructure:"service_name"`
		OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	} `mapstructure:"tracing"`

	// ConfigDir is watched for models.yaml pricing changes.
	ConfigDir string `mapstructure:"config_dir"`
}

func setDefaults(v *viper.Viper) {
	d := DefaultSettings()
	v.SetDefault("deep_research.max_structured_output_retries", d.MaxStructuredOutputRetries)
	v.SetDefault("deep_research.max_concurrent_research_units", d.MaxConcurrentResearchUnits)
	v.SetDefault("deep_research.max_researcher_iterations", d.MaxResearcherIterations)
	v.SetDefault("deep_research.search_api_max_queries", d.SearchAPIMaxQueries)
	v.SetDefault("deep_research.max_research_units", d.MaxResearchUnits)
	v.SetDefault("deep_research.allow_clarification", d.AllowClarification)
	v.SetDefault("deep_research.search_api", d.SearchAPI)
	for key, m := range map[string]ModelSpec{
		"summarization": d.Models.Summarization,
		"research":      d.Models.Research,
		"compression":   d.Models.Compression,
		"final_report":  d.Models.FinalReport,
		"status_update": d.Models.StatusUpdate,
	} {
		v.SetDefault("deep_research.models."+key+".id", m.ID)
		v.SetDefault("deep_research.models."+key+".max_tokens", m.MaxTokens)
	}

	v.SetDefault("service.port", 8081)
	v.SetDefault("service.graceful_timeout", 30*time.Second)
	v.SetDefault("service.auth_token", "")
	v.SetDefault("temporal.host", "")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "deep-research")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream_len", 1000)
	v.SetDefault("database.driver", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("documents.backend", "memory")
	v.SetDefault("documents.s3.endpoint", "")
	v.SetDefault("documents.s3.access_key", "")
	v.SetDefault("documents.s3.secret_key", "")
	v.SetDefault("documents.s3.bucket", "research-reports")
	v.SetDefault("documents.s3.use_ssl", false)
	v.SetDefault("search.requests_per_minute", 60)
	v.SetDefault("search.cache_size", 512)
	v.SetDefault("search.timeout", 30*time.Second)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "deep-research")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("config_dir", "config")
}

// Load reads the YAML file at path (CONFIG_PATH or config/research.yaml when empty).
// A missing file is not an error: defaults and env overrides still apply.
// Env keys are the upper-cased dotted keys with "_" separators,
// e.g. DEEP_RESEARCH_MAX_CONCURRENT_RESEARCH_UNITS or TEMPORAL_HOST.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config/research.yaml"
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat config: %w", err)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

// Runtime resolves the run configuration against the current environment.
func (c *Config) Runtime() RuntimeConfig {
	return Resolve(c.DeepResearch, AvailabilityFromEnv())
}
