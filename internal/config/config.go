// Package config loads the explicit configuration shared by the submitter,
// training worker and deploy resolver.
package config

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Key names a configuration value that a command may require.
type Key string

const (
	KeyBucket          Key = "bucket"
	KeyPrefix          Key = "prefix"
	KeyRegion          Key = "region"
	KeyCorrelationKey  Key = "correlation_key"
	KeyJobNameOverride Key = "job_name_override"
	KeyPlatformURL     Key = "platform_url"
)

// EnvMLRoot points the training worker at its job root.
const EnvMLRoot = "MLLEDGER_ML_ROOT"

// Config holds configuration for all mlledger processes.
type Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	CorrelationKey  string `yaml:"correlation_key"`
	JobNameOverride string `yaml:"job_name_override"`

	// Backend selects the blob store: "s3" (default), "file" or "memory".
	Backend string `yaml:"backend"`

	// Endpoint overrides the S3 endpoint (MinIO, LocalStack). For the file
	// backend it is the root directory, optionally as a file:// URI.
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	LedgerName   string        `yaml:"ledger_name"`
	PollInterval time.Duration `yaml:"poll_interval"`

	PlatformURL          string            `yaml:"platform_url"`
	BaseJobName          string            `yaml:"base_job_name"`
	TrainingImage        string            `yaml:"training_image"`
	TrainingInstanceType string            `yaml:"training_instance_type"`
	EndpointInstanceType string            `yaml:"endpoint_instance_type"`
	Hyperparameters      map[string]any    `yaml:"hyperparameters"`
	DeployTags           map[string]string `yaml:"deploy_tags"`

	// MLRoot is the training worker's job root: hyperparameters, input
	// channels and the model directory live beneath it.
	MLRoot string `yaml:"ml_root"`

	OutputDir string `yaml:"output_dir"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns sensible defaults. Nothing required is defaulted.
func Default() Config {
	return Config{
		Backend:              "s3",
		LedgerName:           "reports.csv",
		PollInterval:         10 * time.Second,
		PlatformURL:          "http://localhost:8090",
		BaseJobName:          "boston-housing-model",
		TrainingInstanceType: "ml.m5.large",
		EndpointInstanceType: "ml.m5.large",
		Hyperparameters:      map[string]any{"nestimators": 70},
		MLRoot:               "/opt/ml",
		OutputDir:            ".",
		LogLevel:             "info",
		LogFormat:            "text",
	}
}

// envBinding maps a configuration field to the environment variables that
// set it, highest precedence first.
type envBinding struct {
	names []string
	set   func(*Config, string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

var envBindings = []envBinding{
	{[]string{"MLLEDGER_BUCKET", "BUCKET_NAME"}, str(func(c *Config) *string { return &c.Bucket })},
	{[]string{"MLLEDGER_PREFIX", "PREFIX"}, str(func(c *Config) *string { return &c.Prefix })},
	{[]string{"MLLEDGER_REGION", "REGION", "AWS_REGION", "AWS_DEFAULT_REGION"}, str(func(c *Config) *string { return &c.Region })},
	{[]string{"MLLEDGER_CORRELATION_KEY", "CORRELATION_KEY", "GITHUB_SHA"}, str(func(c *Config) *string { return &c.CorrelationKey })},
	{[]string{"MLLEDGER_JOB_NAME", "TRAINING_JOB_NAME"}, str(func(c *Config) *string { return &c.JobNameOverride })},
	{[]string{"MLLEDGER_BACKEND"}, str(func(c *Config) *string { return &c.Backend })},
	{[]string{"MLLEDGER_ENDPOINT"}, str(func(c *Config) *string { return &c.Endpoint })},
	{[]string{"MLLEDGER_LEDGER_NAME"}, str(func(c *Config) *string { return &c.LedgerName })},
	{[]string{"MLLEDGER_PLATFORM_URL"}, str(func(c *Config) *string { return &c.PlatformURL })},
	{[]string{"MLLEDGER_BASE_JOB_NAME"}, str(func(c *Config) *string { return &c.BaseJobName })},
	{[]string{"MLLEDGER_TRAINING_IMAGE"}, str(func(c *Config) *string { return &c.TrainingImage })},
	{[]string{EnvMLRoot}, str(func(c *Config) *string { return &c.MLRoot })},
	{[]string{"MLLEDGER_OUTPUT_DIR"}, str(func(c *Config) *string { return &c.OutputDir })},
	{[]string{"MLLEDGER_LOG_LEVEL"}, str(func(c *Config) *string { return &c.LogLevel })},
	{[]string{"MLLEDGER_LOG_FORMAT"}, str(func(c *Config) *string { return &c.LogFormat })},
	{[]string{"MLLEDGER_POLL_INTERVAL"}, func(c *Config, v string) error {
		d, err := parseInterval(v)
		if err != nil {
			return fmt.Errorf("MLLEDGER_POLL_INTERVAL: %w", err)
		}
		c.PollInterval = d
		return nil
	}},
	{[]string{"MLLEDGER_DEPLOY_TAGS"}, func(c *Config, v string) error {
		tags, err := ParseTags(v)
		if err != nil {
			return fmt.Errorf("MLLEDGER_DEPLOY_TAGS: %w", err)
		}
		c.DeployTags = tags
		return nil
	}},
}

// Load builds a Config from defaults, the optional YAML file at path, and
// the environment, in increasing order of precedence. A nil lookup reads the
// process environment.
func Load(path string, lookup func(string) (string, bool)) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		// yaml.v3 merges into non-nil maps, so a file's hyperparameters
		// replace the defaults only if the map starts out empty.
		defaultHP := cfg.Hyperparameters
		cfg.Hyperparameters = nil
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		if cfg.Hyperparameters == nil {
			cfg.Hyperparameters = defaultHP
		}
	}

	for _, b := range envBindings {
		for _, name := range b.names {
			v, ok := lookup(name)
			if !ok || v == "" {
				continue
			}
			if err := b.set(&cfg, v); err != nil {
				return Config{}, err
			}
			break
		}
	}

	return cfg, nil
}

// MissingError lists required keys that have no value.
type MissingError struct {
	Keys []Key
}

func (e *MissingError) Error() string {
	names := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		names[i] = string(k)
	}
	return "missing required configuration: " + strings.Join(names, ", ")
}

// Require returns a *MissingError naming every key in keys that is empty.
func (c Config) Require(keys ...Key) error {
	var missing []Key
	for _, k := range keys {
		if c.value(k) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &MissingError{Keys: missing}
	}
	return nil
}

func (c Config) value(k Key) string {
	switch k {
	case KeyBucket:
		return c.Bucket
	case KeyPrefix:
		return c.Prefix
	case KeyRegion:
		return c.Region
	case KeyCorrelationKey:
		return c.CorrelationKey
	case KeyJobNameOverride:
		return c.JobNameOverride
	case KeyPlatformURL:
		return c.PlatformURL
	}
	return ""
}

// LedgerKey returns the object key of the ledger within the bucket.
func (c Config) LedgerKey() string {
	return path.Join(c.Prefix, c.LedgerName)
}

// S3URI returns s3://bucket/prefix/elem...
func (c Config) S3URI(elem ...string) string {
	return "s3://" + path.Join(append([]string{c.Bucket, c.Prefix}, elem...)...)
}

// ParseTags parses "k1=v1,k2=v2".
func ParseTags(s string) (map[string]string, error) {
	tags := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid tag %q, want key=value", pair)
		}
		tags[k] = v
	}
	return tags, nil
}

// FormatTags is the inverse of ParseTags, with keys sorted.
func FormatTags(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + tags[k]
	}
	return strings.Join(parts, ",")
}

// parseInterval accepts a Go duration ("10s") or a bare number of seconds.
func parseInterval(v string) (time.Duration, error) {
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}
