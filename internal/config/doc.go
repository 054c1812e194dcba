// Package config handles configuration loading for persona-chat.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion. The package provides validation and sensible defaults; a
// missing file is not an error, since every field has a default or an
// environment fallback.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from PERSONA_CHAT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/persona-chat/config.yaml
//  3. ~/.config/persona-chat/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	gemini:
//	  api_key: "${GEMINI_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Configuration Sections
//
// Provider settings:
//
//	gemini:
//	  api_key: "${GEMINI_API_KEY}"  # falls back to GEMINI_API_KEY when unset
//	  model: "gemini-3-flash-preview"
//
// Database:
//
//	database:
//	  path: "~/.local/share/persona-chat/conversations.db"
//
// Persona roster:
//
//	personas:
//	  path: "./personas.toml"  # optional, merged over the built-in roster
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text (colorized) or json
package config
