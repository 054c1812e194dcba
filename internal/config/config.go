// ABOUTME: Configuration loading and parsing for persona-chat
// ABOUTME: Supports YAML files with environment variable expansion and XDG default paths

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Config represents the complete persona-chat configuration
type Config struct {
	Gemini   GeminiConfig   `yaml:"gemini"`
	Database DatabaseConfig `yaml:"database"`
	Personas PersonasConfig `yaml:"personas"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// GeminiConfig holds provider credentials and model selection
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"` // optional; falls back to the built-in default
}

// DatabaseConfig holds conversation store configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// PersonasConfig holds roster file configuration
type PersonasConfig struct {
	// Path is an optional TOML roster merged over the built-in personas
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultPath returns the path to the config file.
// Priority: PERSONA_CHAT_CONFIG env var > XDG_CONFIG_HOME/persona-chat/config.yaml > ~/.config/persona-chat/config.yaml
func DefaultPath() string {
	if envPath := os.Getenv("PERSONA_CHAT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "persona-chat", "config.yaml")
}

// DefaultDataPath returns the path to the persona-chat data directory.
// Priority: XDG_DATA_HOME/persona-chat > ~/.local/share/persona-chat
func DefaultDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "persona-chat")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// A missing file yields the defaults (the API key may still come from GEMINI_API_KEY).
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		expandedData := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills unset fields from the environment and XDG paths
func (c *Config) applyDefaults() {
	if c.Gemini.APIKey == "" {
		c.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(DefaultDataPath(), "conversations.db")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Personas.Path != "" {
		if _, err := os.Stat(c.Personas.Path); err != nil {
			return fmt.Errorf("personas.path %q: %w", c.Personas.Path, err)
		}
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	return nil
}
