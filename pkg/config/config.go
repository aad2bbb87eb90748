package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrConfigNotFound    = errors.New("config file not found")
	ErrUnsupportedFormat = errors.New("unsupported config format")
	ErrInvalidConfig     = errors.New("invalid config")
)

type Config struct {
	App       AppConfig                 `json:"app" yaml:"app"`
	Gateways  map[string]GatewayConfig  `json:"gateways" yaml:"gateways"`
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Memory    MemoryConfig              `json:"memory" yaml:"memory"`
	Loop      LoopConfig                `json:"loop" yaml:"loop"`
	Log       LogConfig                 `json:"log" yaml:"log"`
}

type AppConfig struct {
	Name      string `json:"name" yaml:"name"`
	Workspace string `json:"workspace" yaml:"workspace"`
	// Prompts overrides the embedded prompt set when it names a directory.
	Prompts string `json:"prompts,omitempty" yaml:"prompts,omitempty"`
}

type GatewayConfig struct {
	Token        string   `json:"token" yaml:"token"`
	Enabled      bool     `json:"enabled" yaml:"enabled"`
	AllowedChats []string `json:"allowed_chats,omitempty" yaml:"allowed_chats,omitempty"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// MemoryConfig locates the transcript database. Path ":memory:" keeps it in RAM.
type MemoryConfig struct {
	Type string `json:"type" yaml:"type"`
	Path string `json:"path" yaml:"path"`
}

type LoopConfig struct {
	// MaxIterations bounds dispatch/execute pairs. Zero means unbounded.
	MaxIterations int         `json:"max_iterations" yaml:"max_iterations"`
	Narrate       bool        `json:"narrate" yaml:"narrate"`
	Retry         RetryConfig `json:"retry" yaml:"retry"`
}

type RetryConfig struct {
	Attempts     int      `json:"attempts" yaml:"attempts"`
	InitialDelay Duration `json:"initial_delay" yaml:"initial_delay"`
	Multiplier   float64  `json:"multiplier" yaml:"multiplier"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Duration decodes "500ms"-style strings from both JSON and YAML.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		App: AppConfig{Name: "conductor", Workspace: "./workspace"},
		Providers: map[string]ProviderConfig{
			"openai": {APIKey: os.Getenv("OPENAI_API_KEY"), Model: "gpt-4o-mini", Enabled: true},
		},
		Gateways: map[string]GatewayConfig{},
		Memory:   MemoryConfig{Type: "sqlite", Path: "./workspace/transcripts.db"},
		Loop: LoopConfig{
			MaxIterations: 25,
			Retry:         RetryConfig{Attempts: 1, InitialDelay: Duration(500 * time.Millisecond), Multiplier: 2},
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// LoadConfig reads a JSON or YAML file over the defaults, expanding ${VAR}
// references first.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	data = []byte(ExpandEnv(string(data)))

	cfg := Default()
	cfg.Providers = nil
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	if len(cfg.Providers) == 0 {
		cfg.Providers = Default().Providers
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*)?\}`)

// ExpandEnv replaces ${VAR} and ${VAR:-default}. Unset variables without a
// default expand to the empty string.
func ExpandEnv(input string) string {
	return envPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		value, ok := os.LookupEnv(parts[1])
		if (!ok || value == "") && parts[2] != "" {
			return parts[2][2:]
		}
		return value
	})
}

// Validate checks the fields the loop and the CLI depend on.
func (c *Config) Validate() error {
	var problems []string
	if c.Loop.MaxIterations < 0 {
		problems = append(problems, "loop.max_iterations must be >= 0")
	}
	if c.Loop.Retry.Attempts < 1 {
		problems = append(problems, "loop.retry.attempts must be >= 1")
	}
	if c.Loop.Retry.Multiplier != 0 && c.Loop.Retry.Multiplier < 1 {
		problems = append(problems, "loop.retry.multiplier must be >= 1")
	}
	if c.Loop.Retry.InitialDelay < 0 {
		problems = append(problems, "loop.retry.initial_delay must not be negative")
	}
	switch c.Log.Level {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log.level %q is not a level", c.Log.Level))
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q must be json or console", c.Log.Format))
	}
	for name, p := range c.Providers {
		if p.Enabled && p.Model == "" {
			problems = append(problems, fmt.Sprintf("providers.%s.model is required", name))
		}
	}
	for name, g := range c.Gateways {
		if g.Enabled && g.Token == "" {
			problems = append(problems, fmt.Sprintf("gateways.%s.token is required", name))
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// GetDefaultProvider returns the first enabled provider in name order.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p := c.Providers[name]; p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	return c.gateway("telegram")
}

// GetDiscordConfig returns discord config if enabled
func (c *Config) GetDiscordConfig() (GatewayConfig, bool) {
	return c.gateway("discord")
}

func (c *Config) gateway(name string) (GatewayConfig, bool) {
	g, ok := c.Gateways[name]
	if ok && g.Enabled {
		return g, true
	}
	return GatewayConfig{}, false
}
