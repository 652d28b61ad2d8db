package main

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/medbill-tracker/internal/bill"
	"github.com/zombor/medbill-tracker/internal/config"
	"github.com/zombor/medbill-tracker/internal/locale"
	"github.com/zombor/medbill-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	if err := config.LoadEnvFile(); err != nil {
		slog.Warn("Could not load .env file", "error", err)
	}

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		if errors.Is(err, ff.ErrHelp) {
			fmt.Fprintf(os.Stderr, "%s\n", cfg.Usage())
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "%s\n", cfg.Usage())
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if cfg.ShowVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	messages, err := locale.New(cfg.Language)
	if err != nil {
		slog.Error("Failed to load messages", "lang", cfg.Language, "error", err)
		os.Exit(1)
	}

	// Initialize database
	slog.Info("Initializing database...", "path", cfg.DBPath)
	db, err := bill.NewBoltDB(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	extractor, err := newExtractor(cfg)
	if err != nil {
		slog.Error("Failed to initialize extraction service", "extractor", cfg.Extractor, "error", err)
		os.Exit(1)
	}
	if extractor != nil {
		defer extractor.Close()
	}

	// Initialize storage
	slog.Info("Initializing storage...", "path", cfg.StoragePath)
	storage, err := bill.NewLocalStorage(cfg.StoragePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	store := bill.NewStore(db, storage)
	bills := store.Load()
	slog.Info("Bills loaded", "count", len(bills))

	editor := bill.NewEditor(messages)
	workflow := bill.NewWorkflow(store, editor, extractor, storage, messages)
	aggregator := bill.NewAggregator(messages.Tag(), messages.T(locale.MsgUnknownProvider))
	server := bill.NewServer(store, workflow, aggregator, messages)

	// Start server in goroutine
	addr := cfg.Addr()
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}

// newExtractor returns nil for "none" or a missing API key; captures then go
// straight to manual entry
func newExtractor(cfg *config.Config) (scanning.Extractor, error) {
	extractor, err := openExtractor(cfg)
	if errors.Is(err, config.ErrNoAPIKey) {
		slog.Warn("No API key for extraction service, bills are entered manually", "extractor", cfg.Extractor, "error", err)
		return nil, nil
	}
	return extractor, err
}

func openExtractor(cfg *config.Config) (scanning.Extractor, error) {
	switch cfg.Extractor {
	case config.ExtractorGemini:
		apiKey, err := config.ResolveAPIKey(cfg.GeminiKey, "GEMINI_API_KEY")
		if err != nil {
			return nil, err
		}
		slog.Info("Initializing Gemini extractor...", "model", cfg.GeminiModel)
		return scanning.NewGemini(apiKey, cfg.GeminiModel)
	case config.ExtractorOpenAI:
		apiKey, err := config.ResolveAPIKey(cfg.OpenAIKey, "OPENAI_API_KEY")
		if err != nil {
			return nil, err
		}
		slog.Info("Initializing OpenAI extractor...", "model", cfg.OpenAIModel, "url", cfg.OpenAIURL)
		return scanning.NewOpenAI(apiKey, cfg.OpenAIURL, cfg.OpenAIModel)
	case config.ExtractorOllama:
		slog.Info("Initializing Ollama extractor...", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		return scanning.NewOllama(cfg.OllamaURL, cfg.OllamaModel)
	}
	slog.Warn("No extraction service configured, bills are entered manually")
	return nil, nil
}
