// ABOUTME: Entry point for the persona-chat CLI
// ABOUTME: Dispatches chat, agents, reset, export, and init subcommands

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/persona-chat/internal/config"
	"github.com/2389/persona-chat/internal/conversation"
	"github.com/2389/persona-chat/internal/gemini"
	"github.com/2389/persona-chat/internal/persona"
	"github.com/2389/persona-chat/internal/store"
	"github.com/2389/persona-chat/internal/transcript"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                                         _           _
  _ __   ___ _ __ ___  ___  _ __   __ _        ___| |__   __ _| |_
 | '_ \ / _ \ '__/ __|/ _ \| '_ \ / _' |_____ / __| '_ \ / _' | __|
 | |_) |  __/ |  \__ \ (_) | | | | (_| |_____| (__| | | | (_| | |_
 | .__/ \___|_|  |___/\___/|_| |_|\__,_|      \___|_| |_|\__,_|\__|
 |_|
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: persona-chat <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  chat [persona]           Start an interactive chat session")
		fmt.Println("  agents                   List available personas")
		fmt.Println("  reset <persona>          Delete a persona's saved conversation")
		fmt.Println("  export <persona> [file]  Export a conversation as HTML")
		fmt.Println("  init                     Create a new config file interactively")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "chat":
		err = runChat(ctx, os.Args[2:])
	case "agents":
		err = runAgents()
	case "reset":
		err = runReset(ctx, os.Args[2:])
	case "export":
		err = runExport(ctx, os.Args[2:])
	case "init":
		err = runInit()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadRoster returns the built-in personas, merged with the user roster
// file when one is configured.
func loadRoster(cfg *config.Config) (*persona.Roster, error) {
	if cfg.Personas.Path != "" {
		return persona.Load(cfg.Personas.Path)
	}
	return persona.LoadBuiltin()
}

func runChat(ctx context.Context, args []string) error {
	configPath := config.DefaultPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger. Chat output goes to stdout, so logs go to stderr.
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	roster, err := loadRoster(cfg)
	if err != nil {
		return fmt.Errorf("loading personas: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening conversation store: %w", err)
	}
	defer st.Close()

	client, err := gemini.NewClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
	if err != nil {
		return fmt.Errorf("creating Gemini client (set GEMINI_API_KEY or gemini.api_key in %s): %w", configPath, err)
	}

	factory := func(ctx context.Context, p persona.Persona, prior []store.Turn) (conversation.Session, error) {
		s, err := client.NewSession(ctx, p, prior)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	ctrl := conversation.NewController(st, factory, nil, logger)

	// Startup info
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Personas: %d available\n", len(roster.List()))
	fmt.Println()

	// Pick the starting persona from args, or ask.
	var p persona.Persona
	if len(args) > 0 {
		p, err = roster.Get(args[0])
		if err != nil {
			return fmt.Errorf("persona %q: %w (run 'persona-chat agents' for the list)", args[0], err)
		}
	} else {
		printRoster(roster)
		fmt.Println()
		reader := bufio.NewReader(os.Stdin)
		id := prompt(reader, "Chat with", "pm")
		p, err = roster.Get(id)
		if err != nil {
			return fmt.Errorf("persona %q: %w", id, err)
		}
	}

	if err := ctrl.Select(ctx, p); err != nil {
		return err
	}

	return chatLoop(ctx, ctrl, roster)
}

func runAgents() error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	roster, err := loadRoster(cfg)
	if err != nil {
		return fmt.Errorf("loading personas: %w", err)
	}

	printRoster(roster)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: persona-chat reset <persona>")
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	roster, err := loadRoster(cfg)
	if err != nil {
		return fmt.Errorf("loading personas: %w", err)
	}

	p, err := roster.Get(args[0])
	if err != nil {
		return fmt.Errorf("persona %q: %w", args[0], err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening conversation store: %w", err)
	}
	defer st.Close()

	if err := st.ClearConversation(ctx, p.ID); err != nil {
		return fmt.Errorf("clearing conversation: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Cleared conversation with %s (%s)\n", p.Name, p.ID)
	return nil
}

func runExport(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: persona-chat export <persona> [file]")
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	roster, err := loadRoster(cfg)
	if err != nil {
		return fmt.Errorf("loading personas: %w", err)
	}

	p, err := roster.Get(args[0])
	if err != nil {
		return fmt.Errorf("persona %q: %w", args[0], err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening conversation store: %w", err)
	}
	defer st.Close()

	turns, err := st.LoadConversation(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("loading conversation: %w", err)
	}
	if len(turns) == 0 {
		return fmt.Errorf("no saved conversation with %s", p.ID)
	}

	outputFile := fmt.Sprintf("%s-transcript.html", p.ID)
	if len(args) > 1 {
		outputFile = args[1]
	}

	f, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer f.Close()

	if err := transcript.Write(f, p, turns); err != nil {
		return fmt.Errorf("writing transcript: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Exported %d turns to %s\n", len(turns), outputFile)
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("persona-chat configuration setup")
	fmt.Println("================================")
	fmt.Println()

	// Default paths
	defaultConfigPath := config.DefaultPath()
	defaultDbPath := filepath.Join(config.DefaultDataPath(), "conversations.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Gemini configuration
	fmt.Println("\n--- Gemini Configuration ---")
	apiKey := prompt(reader, "API key (leave empty to use GEMINI_API_KEY)", "")
	model := prompt(reader, "Model", gemini.DefaultModel)

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// Personas
	fmt.Println("\n--- Persona Configuration ---")
	rosterPath := prompt(reader, "Custom roster TOML (leave empty for built-in personas)", "")

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# persona-chat configuration\n")
	cfg.WriteString("# Generated by persona-chat init\n\n")

	cfg.WriteString("gemini:\n")
	if apiKey != "" {
		cfg.WriteString(fmt.Sprintf("  api_key: \"%s\"\n", apiKey))
	} else {
		cfg.WriteString("  api_key: \"${GEMINI_API_KEY}\"\n")
	}
	cfg.WriteString(fmt.Sprintf("  model: \"%s\"\n", model))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	if rosterPath != "" {
		cfg.WriteString("personas:\n")
		cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", rosterPath))
		cfg.WriteString("\n")
	}

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// The config may hold the API key, so keep it private.
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start chatting:")
	fmt.Printf("  persona-chat chat\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Fprint(os.Stderr, buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
