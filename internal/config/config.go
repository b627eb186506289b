package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/soaringjerry/imagechat/internal/utils"
)

// Config holds everything the server needs at startup.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Image    ImageConfig    `yaml:"image"`
	Chat     ChatConfig     `yaml:"chat"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port      string `yaml:"port"`
	BaseURL   string `yaml:"base_url"`
	StaticDir string `yaml:"static_dir"`
	// ShutdownTimeout bounds graceful shutdown, e.g. "10s".
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path          string `yaml:"path"`
	MigrationsDir string `yaml:"migrations_dir"`
}

type ImageConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

type ChatConfig struct {
	GroupsStartingID int `yaml:"groups_starting_id"`
	// MockPoolSize is K: ordinals 1..K are drawn from the mock pool whatever the folder holds.
	MockPoolSize int      `yaml:"mock_pool_size"`
	MockDir      string   `yaml:"mock_dir"`
	MockDelay    string   `yaml:"mock_delay"`
	TriggerWords []string `yaml:"trigger_words"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format"`
}

const DefaultMockPoolSize = 5

// DefaultTriggerWords admit a first message about designing accessible play spaces.
var DefaultTriggerWords = []string{
	"playground", "play", "disabilities", "disability", "wheelchair",
	"design", "sketch", "disabled", "indoor", "outdoor", "park",
	"children", "child", "accessibility", "accessible", "inclusion", "inclusive",
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "3000",
			BaseURL:         "http://localhost",
			StaticDir:       "public",
			ShutdownTimeout: "10s",
		},
		Database: DatabaseConfig{
			Path: "data/imagechat.db",
		},
		Image: ImageConfig{
			Model:   "dall-e-3",
			Timeout: "120s",
		},
		Chat: ChatConfig{
			GroupsStartingID: 1,
			MockPoolSize:     DefaultMockPoolSize,
			MockDir:          "mock_images",
			MockDelay:        "10s",
			TriggerWords:     append([]string(nil), DefaultTriggerWords...),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the YAML file at path (a missing or empty path keeps the defaults) and then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrap(err, "parse config")
			}
		case !os.IsNotExist(err):
			return nil, errors.Wrap(err, "read config")
		}
	}
	cfg.applyEnvOverrides()
	if cfg.Chat.GroupsStartingID == 0 {
		cfg.Chat.GroupsStartingID = 1
	}
	if cfg.Chat.MockPoolSize <= 0 {
		cfg.Chat.MockPoolSize = DefaultMockPoolSize
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Port = utils.SafeEnv("PORT", c.Server.Port)
	c.Server.BaseURL = utils.SafeEnv("BASE_URL", c.Server.BaseURL)
	c.Server.StaticDir = utils.SafeEnv("IMAGECHAT_STATIC_DIR", c.Server.StaticDir)
	c.Database.Path = utils.SafeEnv("IMAGECHAT_DB", c.Database.Path)
	c.Image.APIKey = utils.SafeEnv("OPENAI_API_KEY", c.Image.APIKey)
	c.Image.Model = utils.SafeEnv("OPENAI_MODEL", c.Image.Model)
	c.Image.BaseURL = utils.SafeEnv("API_BASE_URL", c.Image.BaseURL)
	c.Chat.MockDir = utils.SafeEnv("IMAGECHAT_MOCK_DIR", c.Chat.MockDir)
	c.Logging.Level = utils.SafeEnv("IMAGECHAT_LOG_LEVEL", c.Logging.Level)

	// Integers only: anything else, and zero, falls back to 1.
	if v := os.Getenv("GROUPS_STARTING_ID"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n == 0 {
			n = 1
		}
		c.Chat.GroupsStartingID = n
	}
	// Non-positive or non-integer values are ignored.
	if v := os.Getenv("IMAGECHAT_MOCK_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			c.Chat.MockPoolSize = n
		}
	}
}

// Addr is the listen address for the configured port.
func (c *Config) Addr() string {
	if strings.Contains(c.Server.Port, ":") {
		return c.Server.Port
	}
	return ":" + c.Server.Port
}

func (c *Config) GetImageTimeout() time.Duration {
	return parseDuration(c.Image.Timeout, 120*time.Second)
}

func (c *Config) GetMockDelay() time.Duration {
	return parseDuration(c.Chat.MockDelay, 10*time.Second)
}

func (c *Config) GetShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 10*time.Second)
}

// parseDuration accepts "0" or "0s" as zero; anything unparseable or negative gives fallback.
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
