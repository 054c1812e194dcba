// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
gemini:
  api_key: "test-key"
  model: "gemini-3-flash-preview"

database:
  path: "./test.db"

logging:
  level: "debug"
  format: "json"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Gemini.APIKey != "test-key" {
		t.Errorf("APIKey = %q, want %q", cfg.Gemini.APIKey, "test-key")
	}
	if cfg.Gemini.Model != "gemini-3-flash-preview" {
		t.Errorf("Model = %q, want %q", cfg.Gemini.Model, "gemini-3-flash-preview")
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_PERSONA_KEY", "secret-from-env")

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	configContent := `
gemini:
  api_key: "${TEST_PERSONA_KEY}"
database:
  path: "./test.db"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Gemini.APIKey != "secret-from-env" {
		t.Errorf("APIKey = %q, want expansion from env", cfg.Gemini.APIKey)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Gemini.APIKey != "env-key" {
		t.Errorf("APIKey = %q, want fallback to GEMINI_API_KEY", cfg.Gemini.APIKey)
	}
	if cfg.Database.Path == "" {
		t.Error("Database.Path should default to the XDG data directory")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want default %q", cfg.Logging.Level, "info")
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	configContent := `
database:
  path: "./test.db"
logging:
  level: "verbose"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() should reject unknown log level")
	}
	if !strings.Contains(err.Error(), "logging.level") {
		t.Errorf("error %q should mention logging.level", err)
	}
}

func TestLoad_MissingRosterFileRejected(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	configContent := `
database:
  path: "./test.db"
personas:
  path: "./no-such-roster.toml"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Load() should reject a personas.path that does not exist")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("gemini: [unclosed"), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Load() should fail on malformed YAML")
	}
}

func TestDefaultPath_EnvOverride(t *testing.T) {
	t.Setenv("PERSONA_CHAT_CONFIG", "/tmp/custom.yaml")
	if got := DefaultPath(); got != "/tmp/custom.yaml" {
		t.Errorf("DefaultPath() = %q, want env override", got)
	}
}
