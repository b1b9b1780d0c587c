// Package config loads kiln.yaml and assembles it into a runnable project.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/kiln/pkg/adapters/process"
	"github.com/aretw0/kiln/pkg/domain"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the project directory.
const FileName = "kiln.yaml"

//go:embed default.yaml
var defaultYAML []byte

// Config is the kiln.yaml document.
type Config struct {
	Dist      string                  `yaml:"dist"`
	Cache     CacheConfig             `yaml:"cache"`
	Server    ServerConfig            `yaml:"server"`
	S3        S3Config                `yaml:"s3"`
	Tools     []process.ToolConfig    `yaml:"tools"`
	// ToolsFile names a shared tools.yaml (or .json); entries in Tools override it.
	ToolsFile string                  `yaml:"tools_file"`
	Pipelines map[string]PipelineSpec `yaml:"pipelines"`
	Tasks     map[string]TaskSpec     `yaml:"tasks"`
	Watch     []RuleSpec              `yaml:"watch"`
}

// CacheConfig selects the build cache backend.
type CacheConfig struct {
	// Backend is one of none, memory, file, redis, s3 or tiered.
	Backend string `yaml:"backend"`
	// Durable is the backing tier of a tiered cache: file, redis or s3.
	Durable  string        `yaml:"durable"`
	Dir      string        `yaml:"dir"`
	Size     int           `yaml:"size"`
	RedisURL string        `yaml:"redis_url"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// ServerConfig configures the development server and watcher.
type ServerConfig struct {
	Port     int           `yaml:"port"`
	Root     string        `yaml:"root"`
	Debounce time.Duration `yaml:"debounce"`
	Ignore   []string      `yaml:"ignore"`
}

// S3Config configures the s3 sink and cache backend. Credentials normally come
// from the environment.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// Enabled reports whether an S3 target is configured.
func (c S3Config) Enabled() bool { return c.Endpoint != "" && c.Bucket != "" }

// PipelineSpec declares one pipeline.
type PipelineSpec struct {
	Description string      `yaml:"description"`
	Source      SourceSpec  `yaml:"source"`
	Stages      []StageSpec `yaml:"stages"`
	Sinks       []StageSpec `yaml:"sinks"`
}

// SourceSpec mirrors pipeline.Source with project-relative paths.
type SourceSpec struct {
	Base     string   `yaml:"base"`
	Patterns []string `yaml:"patterns"`
	Exclude  []string `yaml:"exclude"`
	Ordered  []string `yaml:"ordered"`
}

// StageSpec names a stage or sink and its options.
type StageSpec struct {
	Use   string         `yaml:"use" mapstructure:"use"`
	With  map[string]any `yaml:"with" mapstructure:"with"`
	Delay time.Duration  `yaml:"delay" mapstructure:"delay"`
}

// RuleSpec declares a watch rule.
type RuleSpec struct {
	Name     string   `yaml:"name"`
	Patterns []string `yaml:"patterns"`
	Tasks    []string `yaml:"tasks"`
	Effect   string   `yaml:"effect"`
}

// TaskSpec is a composed task. In YAML it is either a task name or a mapping
// with exactly one of series, parallel or run.
type TaskSpec struct {
	Ref         string         `yaml:"-"`
	Description string         `yaml:"description"`
	Series      []TaskSpec     `yaml:"series"`
	Parallel    []TaskSpec     `yaml:"parallel"`
	Run         string         `yaml:"run"`
	With        map[string]any `yaml:"with"`
}

// UnmarshalYAML accepts a bare task name as shorthand.
func (t *TaskSpec) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		t.Ref = n.Value
		return nil
	}
	type plain TaskSpec
	return n.Decode((*plain)(t))
}

// Default returns the built-in project layout.
func Default() *Config {
	cfg, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("invalid built-in configuration: %v", err))
	}
	return cfg
}

// Parse decodes a kiln.yaml document and applies defaults. Unknown keys are
// rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, &domain.ConfigurationError{Subject: FileName, Reason: err.Error()}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Load reads the project configuration from dir. An optional .env file is
// loaded first, then the file (built-in defaults when absent), then the
// KILN_* environment overlay.
func Load(dir, file string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, &domain.ConfigurationError{Subject: ".env", Reason: err.Error()}
	}

	explicit := file != ""
	if !explicit {
		file = filepath.Join(dir, FileName)
	} else if !filepath.IsAbs(file) {
		file = filepath.Join(dir, file)
	}

	var cfg *Config
	data, err := os.ReadFile(file)
	switch {
	case err == nil:
		if cfg, err = Parse(data); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		cfg = Default()
	default:
		return nil, &domain.IOError{Op: "read", Path: file, Err: err}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Dist == "" {
		c.Dist = "dist"
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "tiered"
	}
	if c.Cache.Durable == "" {
		c.Cache.Durable = "file"
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = ".kiln/cache"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 9000
	}
	if c.Server.Root == "" {
		c.Server.Root = "app"
	}
	if c.Server.Debounce == 0 {
		c.Server.Debounce = 200 * time.Millisecond
	}
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("KILN_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return &domain.ConfigurationError{Subject: "KILN_PORT", Reason: fmt.Sprintf("invalid port %q", v)}
		}
		c.Server.Port = port
	}
	if v := os.Getenv("KILN_CACHE"); v != "" {
		c.Cache.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("KILN_REDIS_URL"); v != "" {
		c.Cache.RedisURL = v
	}
	if v := os.Getenv("KILN_CACHE_DIR"); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv("KILN_S3_ACCESS_KEY"); v != "" {
		c.S3.AccessKey = v
	}
	if v := os.Getenv("KILN_S3_SECRET_KEY"); v != "" {
		c.S3.SecretKey = v
	}
	return nil
}
