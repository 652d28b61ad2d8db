// Package config reads the tracker's settings from flags, MEDBILL_* environment
// variables and an optional .env file, and looks up extraction credentials.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/zalando/go-keyring"
)

const (
	// EnvPrefix maps --gemini-key to MEDBILL_GEMINI_KEY
	EnvPrefix = "MEDBILL"

	// KeyringService is the OS keyring service holding API keys
	KeyringService = "medbill-tracker"
)

// Extraction backends
const (
	ExtractorGemini = "gemini"
	ExtractorOpenAI = "openai"
	ExtractorOllama = "ollama"
	ExtractorNone   = "none"
)

// ErrNoAPIKey is returned when no source provides an API key
var ErrNoAPIKey = errors.New("no API key configured")

// Config holds the parsed settings
type Config struct {
	Port        int
	DBPath      string
	StoragePath string
	Extractor   string
	GeminiKey   string
	GeminiModel string
	OpenAIKey   string
	OpenAIModel string
	OpenAIURL   string
	OllamaURL   string
	OllamaModel string
	Language    string
	ShowVersion bool

	fs *ff.FlagSet
}

// Parse reads flags from args with environment fallback
func Parse(args []string) (*Config, error) {
	fs := ff.NewFlagSet("medbill-tracker")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "medbill-tracker.db", "Database file path")
		storagePath = fs.StringLong("storage", "./bills", "Directory for scanned bill images")
		extractor   = fs.StringLong("extractor", ExtractorGemini, "Extraction service: 'gemini', 'openai', 'ollama' or 'none'")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or GEMINI_API_KEY, or the OS keyring)")
		geminiModel = fs.StringLong("gemini-model", "gemini-1.5-flash", "Google Gemini model name")
		openAIKey   = fs.StringLong("openai-key", "", "OpenAI API key (or OPENAI_API_KEY, or the OS keyring)")
		openAIModel = fs.StringLong("openai-model", "gpt-4o-mini", "OpenAI model name")
		openAIURL   = fs.StringLong("openai-url", "", "OpenAI-compatible API base URL (optional)")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "llava", "Ollama vision model name")
		lang        = fs.StringLong("lang", "de", "Language for messages and sorting ('de' or 'en')")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	err := ff.Parse(fs, args, ff.WithEnvVarPrefix(EnvPrefix))
	cfg := &Config{
		Port:        *port,
		DBPath:      *dbPath,
		StoragePath: *storagePath,
		Extractor:   *extractor,
		GeminiKey:   *geminiKey,
		GeminiModel: *geminiModel,
		OpenAIKey:   *openAIKey,
		OpenAIModel: *openAIModel,
		OpenAIURL:   *openAIURL,
		OllamaURL:   *ollamaURL,
		OllamaModel: *ollamaModel,
		Language:    *lang,
		ShowVersion: *showVersion,
		fs:          fs,
	}
	if err != nil {
		return cfg, err
	}

	switch cfg.Extractor {
	case ExtractorGemini, ExtractorOpenAI, ExtractorOllama, ExtractorNone:
	default:
		return cfg, fmt.Errorf("invalid extractor %q: valid are gemini, openai, ollama or none", cfg.Extractor)
	}
	return cfg, nil
}

// Usage returns the flag help text
func (c *Config) Usage() string {
	return fmt.Sprint(ffhelp.Flags(c.fs))
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// LoadEnvFile loads variables from the given .env files (default ".env").
// Missing files are not an error; variables already set are kept.
func LoadEnvFile(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file: %w", err)
	}
	return nil
}

// ResolveAPIKey returns flagValue if set, then the environment variable
// envVar, then the keyring entry stored under envVar.
func ResolveAPIKey(flagValue, envVar string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if v := os.Getenv(envVar); v != "" {
		return v, nil
	}

	secret, err := keyring.Get(KeyringService, envVar)
	if err != nil {
		if !errors.Is(err, keyring.ErrNotFound) {
			// Headless machines often have no secret service at all
			slog.Debug("Keyring lookup failed", "service", KeyringService, "user", envVar, "error", err)
		}
		return "", fmt.Errorf("%w: set the flag, %s, or a keyring entry %s/%s", ErrNoAPIKey, envVar, KeyringService, envVar)
	}
	return secret, nil
}
