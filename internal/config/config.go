package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models travelagent.yml.
type Config struct {
	Server struct {
		Addr        string `yaml:"addr"`
		BasePath    string `yaml:"base_path"`
		JWTSecret   string `yaml:"jwt_secret"`
		ServiceKey  string `yaml:"service_key"`
		Development bool   `yaml:"development"`
	} `yaml:"server"`
	Generation struct {
		URL      string   `yaml:"url"`
		Timeout  Duration `yaml:"timeout"`
		Attempts int      `yaml:"attempts"`
		Delay    Duration `yaml:"delay"`
	} `yaml:"generation"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type RateLimitConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Capacity    int      `yaml:"capacity"`
	RefillEvery Duration `yaml:"refill_every"`
	Prefix      string   `yaml:"prefix"`
}

// WebhookConfig is one outbound subscriber for the trip event log.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Duration accepts Go duration strings ("1s", "250ms") in YAML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if strings.TrimSpace(raw) == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Generation.URL != "" {
		u, err := url.Parse(c.Generation.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config.generation.url must be an absolute URL")
		}
	}
	if c.Generation.Attempts < 0 {
		return fmt.Errorf("config.generation.attempts must be >= 0")
	}
	if c.Generation.Delay.Duration < 0 || c.Generation.Timeout.Duration < 0 {
		return fmt.Errorf("config.generation durations must be >= 0")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Capacity <= 0 {
			return fmt.Errorf("config.rate_limit.capacity must be > 0 when enabled")
		}
		if c.RateLimit.RefillEvery.Duration <= 0 {
			return fmt.Errorf("config.rate_limit.refill_every must be > 0 when enabled")
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be >= 0", i)
		}
		for _, evt := range hook.Events {
			if strings.TrimSpace(evt) == "" {
				return fmt.Errorf("config.webhooks[%d] has empty event type", i)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "travelagent.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; write one with ta config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing
// sections keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0
  development: false

generation:
  url: http://localhost:8000/generate-itinerary/
  timeout: 60s
  attempts: 3
  delay: 1s

redis:
  addr: ""
  db: 0

rate_limit:
  enabled: false
  capacity: 5
  refill_every: 12s
  prefix: "ratelimit:generate:"

webhooks: []
`
