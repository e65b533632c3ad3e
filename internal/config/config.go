// Package config loads pipeline settings from defaults, an optional YAML
// file named by SEGMENTER_CONFIG, a .env file and the environment, in that
// order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

type Config struct {
	ProviderURL    string
	ProviderAPIKey string

	CorrelationTolerance time.Duration
	CandidateLimit       int

	PollMaxAttempts int
	PollInterval    time.Duration

	DefaultTailMs    int64
	ValidationStrict bool

	OutputCodec      string
	FFmpegPath       string
	TranscodeTimeout time.Duration
	MaxConcurrency   int
	WorkDir          string

	StoreDir string

	StorageBackend string // local or s3
	StorageDir     string
	S3Bucket       string
	S3Prefix       string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string

	Port string
}

func Default() Config {
	return Config{
		CorrelationTolerance: 30 * time.Minute,
		CandidateLimit:       20,
		PollMaxAttempts:      40,
		PollInterval:         1500 * time.Millisecond,
		DefaultTailMs:        2000,
		OutputCodec:          "mp3",
		FFmpegPath:           "ffmpeg",
		TranscodeTimeout:     60 * time.Second,
		MaxConcurrency:       4,
		WorkDir:              os.TempDir() + "/voice-turns",
		StoreDir:             "data/store",
		StorageBackend:       "local",
		StorageDir:           "data/artifacts",
		S3Region:             "us-east-1",
		Port:                 "8080",
	}
}

// file mirrors Config for YAML; durations are strings such as "30m".
type file struct {
	Provider struct {
		URL    string `yaml:"url"`
		APIKey string `yaml:"api_key"`
	} `yaml:"provider"`
	Correlation struct {
		Tolerance      string `yaml:"tolerance"`
		CandidateLimit int    `yaml:"candidate_limit"`
	} `yaml:"correlation"`
	Poll struct {
		MaxAttempts int    `yaml:"max_attempts"`
		Interval    string `yaml:"interval"`
	} `yaml:"poll"`
	Timeline struct {
		DefaultTailMs int64 `yaml:"default_tail_ms"`
		Strict        bool  `yaml:"strict"`
	} `yaml:"timeline"`
	Extraction struct {
		Codec          string `yaml:"codec"`
		FFmpegPath     string `yaml:"ffmpeg_path"`
		Timeout        string `yaml:"timeout"`
		MaxConcurrency int    `yaml:"max_concurrency"`
		WorkDir        string `yaml:"work_dir"`
	} `yaml:"extraction"`
	StoreDir string `yaml:"store_dir"`
	Storage  struct {
		Backend   string `yaml:"backend"`
		Dir       string `yaml:"dir"`
		Bucket    string `yaml:"bucket"`
		Prefix    string `yaml:"prefix"`
		Region    string `yaml:"region"`
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
	} `yaml:"storage"`
	Port string `yaml:"port"`
}

// Load builds the configuration. envFiles are passed to godotenv; a missing
// .env is not an error.
func Load(envFiles ...string) (Config, error) {
	_ = godotenv.Load(envFiles...)
	cfg := Default()
	if path := os.Getenv("SEGMENTER_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	setStr(&c.ProviderURL, f.Provider.URL)
	setStr(&c.ProviderAPIKey, f.Provider.APIKey)
	setInt(&c.CandidateLimit, f.Correlation.CandidateLimit)
	setInt(&c.PollMaxAttempts, f.Poll.MaxAttempts)
	if f.Timeline.DefaultTailMs > 0 {
		c.DefaultTailMs = f.Timeline.DefaultTailMs
	}
	c.ValidationStrict = c.ValidationStrict || f.Timeline.Strict
	setStr(&c.OutputCodec, f.Extraction.Codec)
	setStr(&c.FFmpegPath, f.Extraction.FFmpegPath)
	setInt(&c.MaxConcurrency, f.Extraction.MaxConcurrency)
	setStr(&c.WorkDir, f.Extraction.WorkDir)
	setStr(&c.StoreDir, f.StoreDir)
	setStr(&c.StorageBackend, f.Storage.Backend)
	setStr(&c.StorageDir, f.Storage.Dir)
	setStr(&c.S3Bucket, f.Storage.Bucket)
	setStr(&c.S3Prefix, f.Storage.Prefix)
	setStr(&c.S3Region, f.Storage.Region)
	setStr(&c.S3Endpoint, f.Storage.Endpoint)
	setStr(&c.S3AccessKey, f.Storage.AccessKey)
	setStr(&c.S3SecretKey, f.Storage.SecretKey)
	setStr(&c.Port, f.Port)
	for _, d := range []struct {
		dst *time.Duration
		raw string
		key string
	}{
		{&c.CorrelationTolerance, f.Correlation.Tolerance, "correlation.tolerance"},
		{&c.PollInterval, f.Poll.Interval, "poll.interval"},
		{&c.TranscodeTimeout, f.Extraction.Timeout, "extraction.timeout"},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config: %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) applyEnv() error {
	envStr(&c.ProviderURL, "PROVIDER_URL")
	envStr(&c.ProviderAPIKey, "PROVIDER_API_KEY")
	envStr(&c.OutputCodec, "OUTPUT_CODEC")
	envStr(&c.FFmpegPath, "FFMPEG_PATH")
	envStr(&c.WorkDir, "WORK_DIR")
	envStr(&c.StoreDir, "STORE_DIR")
	envStr(&c.StorageBackend, "STORAGE_BACKEND")
	envStr(&c.StorageDir, "STORAGE_DIR")
	envStr(&c.S3Bucket, "S3_BUCKET")
	envStr(&c.S3Prefix, "S3_PREFIX")
	envStr(&c.S3Region, "S3_REGION")
	envStr(&c.S3Endpoint, "S3_ENDPOINT")
	envStr(&c.S3AccessKey, "S3_ACCESS_KEY")
	envStr(&c.S3SecretKey, "S3_SECRET_KEY")
	envStr(&c.Port, "PORT")

	var errs []string
	check := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	check(envDuration(&c.CorrelationTolerance, "CORRELATION_TOLERANCE"))
	check(envDuration(&c.PollInterval, "POLL_INTERVAL"))
	check(envDuration(&c.TranscodeTimeout, "TRANSCODE_TIMEOUT"))
	check(envInt(&c.CandidateLimit, "CANDIDATE_LIMIT"))
	check(envInt(&c.PollMaxAttempts, "POLL_MAX_ATTEMPTS"))
	check(envInt(&c.MaxConcurrency, "MAX_CONCURRENCY"))
	if v := os.Getenv("DEFAULT_TAIL_MS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("DEFAULT_TAIL_MS: %v", err))
		} else {
			c.DefaultTailMs = n
		}
	}
	if v := os.Getenv("VALIDATION_STRICT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("VALIDATION_STRICT: %v", err))
		} else {
			c.ValidationStrict = b
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with. The provider URL
// is checked by the provider client, since offline commands do not need it.
func (c Config) Validate() error {
	switch {
	case c.CorrelationTolerance <= 0:
		return fmt.Errorf("config: correlation tolerance must be positive")
	case c.CandidateLimit <= 0:
		return fmt.Errorf("config: candidate limit must be positive")
	case c.PollMaxAttempts <= 0:
		return fmt.Errorf("config: poll max attempts must be positive")
	case c.PollInterval < 0:
		return fmt.Errorf("config: poll interval must not be negative")
	case c.DefaultTailMs <= 0:
		return fmt.Errorf("config: default tail must be positive")
	case c.MaxConcurrency <= 0:
		return fmt.Errorf("config: max concurrency must be positive")
	}
	switch c.StorageBackend {
	case "local":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("config: S3_BUCKET is required for the s3 backend")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.StorageBackend)
	}
	return nil
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %v", key, err)
	}
	*dst = n
	return nil
}

func envDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %v", key, err)
	}
	*dst = d
	return nil
}
