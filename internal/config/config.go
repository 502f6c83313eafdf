package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures all runtime options for the advisor service.
type Config struct {
	ListenHost    string        `yaml:"listen_host"`
	ListenPort    int           `yaml:"listen_port"`
	Delimiter     string        `yaml:"delimiter"`
	MaxCandidates int           `yaml:"max_candidates"`
	ModelPath     string        `yaml:"model_path"`
	Registry      Registry      `yaml:"registry"`
	Gate          Gate          `yaml:"gate"`
	Search        Search        `yaml:"search"`
	Experience    Experience    `yaml:"experience"`
	Observability Observability `yaml:"observability"`
	Storage       StorageConfig `yaml:"storage"`
}

// Registry holds model persistence settings.
type Registry struct {
	Dir        string `yaml:"dir"`
	ArchiveDir string `yaml:"archive_dir"`
	WatchDir   string `yaml:"watch_dir"`
}

// Gate configures the regression gate guarding model swaps.
type Gate struct {
	ReferenceSize int     `yaml:"reference_size"`
	Tolerance     float64 `yaml:"tolerance"`
}

// Search configures the guided cardinality search.
type Search struct {
	LowerBound float64 `yaml:"lower_bound"`
	UpperBound float64 `yaml:"upper_bound"`
	StepFactor float64 `yaml:"step_factor"`
	LogDir     string  `yaml:"log_dir"`
}

// Experience configures the durable reward log.
type Experience struct {
	Path string `yaml:"path"`
}

// Observability configures the scoring observer sinks.
type Observability struct {
	PerfLogPath string `yaml:"perf_log_path"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// StorageConfig holds external storage settings for model archives.
type StorageConfig struct {
	S3  S3Config  `yaml:"s3"`
	GCS GCSConfig `yaml:"gcs"`
}

// CloudEnabled reports whether any cloud storage backend is enabled.
func (s StorageConfig) CloudEnabled() bool {
	return s.GCS.Enabled || s.S3.Enabled
}

// S3Config configures S3 uploads (legacy and S3-compatible endpoints).
type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// GCSConfig configures GCS uploads.
type GCSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Load reads configuration from a YAML file and applies KUROKO_* environment
// overrides on top. An empty path loads defaults plus overrides only.
func Load(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnvOverrides(&cfg)
	normalizeConfig(&cfg)
	return cfg, nil
}

// ListenAddr returns the host:port pair the server binds.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.ListenHost, c.ListenPort)
}

const (
	defaultPort          = 9381
	defaultMaxCandidates = 64
	defaultReferenceSize = 512
	defaultTolerance     = 0.10
	defaultLowerBound    = 0.01
	defaultUpperBound    = 100
	defaultStepFactor    = 10
)

func applyEnvOverrides(cfg *Config) {
	if v := env("KUROKO_LISTEN_HOST"); v != "" {
		cfg.ListenHost = v
	}
	if v := env("KUROKO_LISTEN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.ListenPort = port
		}
	}
	if v := env("KUROKO_MODEL_PATH"); v != "" {
		cfg.ModelPath = v
	}
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func normalizeConfig(cfg *Config) {
	if cfg.ListenPort <= 0 || cfg.ListenPort > 65535 {
		cfg.ListenPort = defaultPort
	}
	if cfg.Delimiter == "" {
		cfg.Delimiter = "\n"
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = defaultMaxCandidates
	}
	if cfg.Gate.ReferenceSize <= 0 {
		cfg.Gate.ReferenceSize = defaultReferenceSize
	}
	if cfg.Gate.Tolerance <= 0 {
		cfg.Gate.Tolerance = defaultTolerance
	}
	if cfg.Search.LowerBound <= 0 {
		cfg.Search.LowerBound = defaultLowerBound
	}
	if cfg.Search.UpperBound <= cfg.Search.LowerBound {
		cfg.Search.UpperBound = defaultUpperBound
	}
	if cfg.Search.StepFactor <= 1 {
		cfg.Search.StepFactor = defaultStepFactor
	}
	if cfg.Registry.Dir == "" {
		cfg.Registry.Dir = "models/current"
	}
	if cfg.Registry.ArchiveDir == "" {
		cfg.Registry.ArchiveDir = "models/archive"
	}
	if cfg.Experience.Path == "" {
		cfg.Experience.Path = "data/experience.log"
	}
}

func defaultConfig() Config {
	return Config{
		ListenHost:    "0.0.0.0",
		ListenPort:    defaultPort,
		Delimiter:     "\n",
		MaxCandidates: defaultMaxCandidates,
		Registry: Registry{
			Dir:        "models/current",
			ArchiveDir: "models/archive",
		},
		Gate: Gate{
			ReferenceSize: defaultReferenceSize,
			Tolerance:     defaultTolerance,
		},
		Search: Search{
			LowerBound: defaultLowerBound,
			UpperBound: defaultUpperBound,
			StepFactor: defaultStepFactor,
		},
		Experience: Experience{
			Path: "data/experience.log",
		},
	}
}
