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

// Config models fieldwork.yml.
type Config struct {
	Codes struct {
		// Prefix overrides the slug derived from the template name.
		Prefix string `yaml:"prefix"`
		Width  int    `yaml:"width"`
	} `yaml:"codes"`
	Cache struct {
		Templates int `yaml:"templates"`
	} `yaml:"cache"`
	Notifications struct {
		Webhooks      []Webhook     `yaml:"webhooks"`
		RetryAttempts uint64        `yaml:"retry_attempts"`
		RetryBackoff  time.Duration `yaml:"retry_backoff"`
		PollInterval  time.Duration `yaml:"poll_interval"`
	} `yaml:"notifications"`
	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`
	Server struct {
		Addr      string `yaml:"addr"`
		BasePath  string `yaml:"base_path"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Trash struct {
		// RetentionDays is the default age for task purge.
		RetentionDays int `yaml:"retention_days"`
	} `yaml:"trash"`
}

type Webhook struct {
	ID             string   `yaml:"id"`
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Enabled        bool     `yaml:"enabled"`
	SecretHeader   string   `yaml:"secret_header"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Matches reports whether the webhook subscribes to evtType. An empty list or
// "*" subscribes to everything.
func (w Webhook) Matches(evtType string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == "*" || e == evtType {
			return true
		}
	}
	return false
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with fw config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Codes.Width < 1 || c.Codes.Width > 12 {
		return fmt.Errorf("config.codes.width must be between 1 and 12")
	}
	if p := c.Codes.Prefix; p != "" && strings.ContainsAny(p, " \t/") {
		return fmt.Errorf("config.codes.prefix must not contain spaces or slashes")
	}
	if c.Cache.Templates < 0 {
		return fmt.Errorf("config.cache.templates must not be negative")
	}
	seen := map[string]bool{}
	for i, wh := range c.Notifications.Webhooks {
		if wh.ID == "" {
			return fmt.Errorf("config.notifications.webhooks[%d].id is required", i)
		}
		if seen[wh.ID] {
			return fmt.Errorf("duplicate webhook id %s", wh.ID)
		}
		seen[wh.ID] = true
		u, err := url.Parse(wh.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("webhook %s has invalid url %q", wh.ID, wh.URL)
		}
		if wh.Secret != "" && wh.SecretHeader == "" {
			return fmt.Errorf("webhook %s sets a secret without secret_header", wh.ID)
		}
		if wh.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %s has negative timeout_seconds", wh.ID)
		}
		for _, e := range wh.Events {
			if e == "" {
				return fmt.Errorf("webhook %s has empty event type", wh.ID)
			}
		}
	}
	if c.Notifications.RetryAttempts > 10 {
		return fmt.Errorf("config.notifications.retry_attempts must be at most 10")
	}
	if c.Notifications.RetryBackoff < 0 || c.Notifications.PollInterval < 0 {
		return fmt.Errorf("config.notifications durations must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error", "disabled":
	default:
		return fmt.Errorf("config.log.level %q is not a level", c.Log.Level)
	}
	if bp := c.Server.BasePath; bp != "" && !strings.HasPrefix(bp, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Trash.RetentionDays < 0 {
		return fmt.Errorf("config.trash.retention_days must not be negative")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "fieldwork.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep
// their default values.
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

// ToYAML serializes config.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// BasePath returns the API base path, defaulting to /v0.
func (c *Config) BasePath() string {
	if c == nil || c.Server.BasePath == "" {
		return "/v0"
	}
	return c.Server.BasePath
}

const defaultTemplate = `codes:
  prefix: ""
  width: 4
cache:
  templates: 128
notifications:
  webhooks: []
  retry_attempts: 3
  retry_backoff: 500ms
  poll_interval: 2s
log:
  level: info
  json: false
server:
  addr: 127.0.0.1:8080
  base_path: /v0
  jwt_secret: ""
trash:
  retention_days: 30
`
