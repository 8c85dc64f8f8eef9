// Vika is a voice call-center agent for a tire shop.
//
// The telephony gateway streams transcribed caller speech to Vika over
// a websocket; Vika drives an LLM tool-use loop against the store's
// ERP backend and a local knowledge base, and returns reply text for
// speech synthesis. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	vika serve               Start the API server and voice bridge
//	vika ask <question>      Run a single turn from the CLI (for testing)
//	vika ingest [file.md]    Import knowledge base markdown documents
//	vika version             Print version and build information
//	vika -o json version     Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hlibko/vika-voice-agent/internal/agent"
	"github.com/hlibko/vika-voice-agent/internal/api"
	"github.com/hlibko/vika-voice-agent/internal/buildinfo"
	"github.com/hlibko/vika-voice-agent/internal/config"
	"github.com/hlibko/vika-voice-agent/internal/events"
	"github.com/hlibko/vika-voice-agent/internal/knowledge"
	"github.com/hlibko/vika-voice-agent/internal/llm"
	"github.com/hlibko/vika-voice-agent/internal/memory"
	"github.com/hlibko/vika-voice-agent/internal/mqtt"
	"github.com/hlibko/vika-voice-agent/internal/order"
	"github.com/hlibko/vika-voice-agent/internal/prompts"
	"github.com/hlibko/vika-voice-agent/internal/store"
	"github.com/hlibko/vika-voice-agent/internal/tools"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the vika command. All OS-level
// dependencies are injected as parameters so the lifecycle can be
// driven from tests. Arguments are parsed by hand: the flag package
// relies on package-level globals, and our argument surface is small
// enough that manual parsing is clearer than a CLI framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: vika ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
	case "ingest":
		var file string
		if len(cmdArgs) > 0 {
			file = cmdArgs[0]
		}
		return runIngest(stdout, configPath, file)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Vika - Tire Shop Voice Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: vika [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve            Start the API server and voice bridge")
	fmt.Fprintln(w, "  ask <question>   Run a single turn from the CLI (for testing)")
	fmt.Fprintln(w, "  ingest [file]    Import knowledge markdown (default: knowledge source_dir)")
	fmt.Fprintln(w, "  version          Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/vika/config.yaml, /etc/vika/config.yaml")
	return nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// buildRegistry wires the tool catalog against the store backend and
// knowledge base, applying operator prompt overrides.
func buildRegistry(cfg *config.Config, kb *knowledge.Store, logger *slog.Logger) (*tools.Registry, *store.Client, *prompts.Overrides, error) {
	storeClient := store.NewClient(
		cfg.Store.BaseURL,
		cfg.Store.APIKey,
		time.Duration(cfg.Store.TimeoutSec)*time.Second,
		cfg.Store.Retries,
		logger,
	)

	overrides, err := prompts.LoadOverrides(cfg.PromptDir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load prompt overrides: %w", err)
	}

	registry := tools.NewCatalog(storeClient, kb, logger)
	registry.ApplyOverrides(overrides.ToolDescriptions)

	return registry, storeClient, overrides, nil
}

// runServe handles the "vika serve" subcommand: the full server with
// voice bridge, archive, knowledge base and optional MQTT telemetry.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Vika",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure with the configured level; the initial Info logger
	// only covers the startup banner.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Anthropic.Model,
		"store", cfg.Store.BaseURL,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Stores ---
	kb, err := knowledge.NewStore(cfg.KnowledgeDBPath())
	if err != nil {
		return fmt.Errorf("open knowledge database: %w", err)
	}
	defer kb.Close()
	if n, err := kb.Count(); err == nil {
		logger.Info("knowledge base opened", "path", cfg.KnowledgeDBPath(), "entries", n)
	}

	archive, err := memory.NewArchive(cfg.ArchiveDBPath())
	if err != nil {
		return fmt.Errorf("open call archive: %w", err)
	}
	defer archive.Close()

	// --- Tools and backend clients ---
	registry, storeClient, overrides, err := buildRegistry(cfg, kb, logger)
	if err != nil {
		return err
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := storeClient.Ping(pingCtx); err != nil {
		logger.Warn("store backend unreachable at startup", "error", err)
	}
	pingCancel()

	// --- LLM client ---
	if cfg.Anthropic.APIKey == "" {
		return errors.New("anthropic.api_key is required")
	}
	llmClient := llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger)

	// --- Orchestrator ---
	bus := events.New()
	orch := agent.New(llmClient, registry, agent.Config{
		Model:        cfg.Anthropic.Model,
		SystemPrompt: overrides.SystemPrompt(),
		MaxTokens:    cfg.Anthropic.MaxTokens,
		MaxHistory:   cfg.Limits.MaxHistoryMessages,
		MaxToolCalls: cfg.Limits.MaxToolCallsPerTurn,
	}, bus, logger)

	// --- API server and voice bridge ---
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, orch, archive, bus, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// --- Price list cache refresher ---
	// Keeps a warm copy of the price list so operators can eyeball
	// drift between the ERP and what callers are quoted.
	cache := store.NewPriceListCache(storeClient, logger)
	go refreshPrices(ctx, cache, storeClient, logger)

	// --- Token accounting + MQTT telemetry ---
	tokens := mqtt.NewDailyTokens(nil)
	go trackTokens(ctx, bus, tokens)

	var publisher *mqtt.Publisher
	if cfg.MQTT.Enabled {
		publisher = mqtt.New(cfg.MQTT, tokens, &telemetryStats{server: server, archive: archive}, logger)
		go func() {
			if err := publisher.Start(ctx); err != nil {
				logger.Error("mqtt publisher stopped", "error", err)
			}
		}()
	}

	// --- Wait for shutdown ---
	select {
	case err := <-serverErr:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if publisher != nil {
		if err := publisher.Stop(shutdownCtx); err != nil {
			logger.Warn("mqtt shutdown failed", "error", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// refreshPrices periodically reconciles the local price cache with the
// store's published price list version.
func refreshPrices(ctx context.Context, cache *store.PriceListCache, client *store.Client, logger *slog.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	refresh := func() {
		version, err := client.PriceListVersion(ctx)
		if err != nil {
			logger.Debug("price list version check failed", "error", err)
			return
		}
		if err := cache.RefreshIfStale(ctx, version); err != nil {
			logger.Warn("price list refresh failed", "error", err)
		}
	}

	refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// trackTokens feeds backend usage numbers from the event bus into the
// daily accumulator.
func trackTokens(ctx context.Context, bus *events.Bus, tokens *mqtt.DailyTokens) {
	ch := bus.Subscribe(256)
	defer bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e := <-ch:
			if e.Kind != events.KindLLMResponse {
				continue
			}
			input, _ := e.Data["input_tokens"].(int)
			output, _ := e.Data["output_tokens"].(int)
			tokens.OnTokens(input, output)
		}
	}
}

// telemetryStats adapts the server and archive to mqtt.StatsSource.
type telemetryStats struct {
	server  *api.Server
	archive *memory.Archive
}

func (t *telemetryStats) Uptime() time.Duration { return buildinfo.Uptime() }
func (t *telemetryStats) Version() string       { return buildinfo.Version }
func (t *telemetryStats) ActiveCalls() int      { return t.server.ActiveCalls() }

func (t *telemetryStats) CallsToday() int {
	if st, err := t.archive.Stats(); err == nil {
		return st.CallsToday
	}
	return 0
}

func (t *telemetryStats) ConfirmedOrders() int {
	if st, err := t.archive.Stats(); err == nil {
		return st.ConfirmedOrders
	}
	return 0
}

func (t *telemetryStats) LastCallTime() time.Time {
	if st, err := t.archive.Stats(); err == nil {
		return st.LastCallEndedAt
	}
	return time.Time{}
}

// runAsk handles the "vika ask <question>" subcommand. It boots a
// minimal agent with the real store client and knowledge base and runs
// one turn, printing the response. Useful for smoke tests without the
// telephony gateway.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn)
	question := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Anthropic.APIKey == "" {
		return errors.New("anthropic.api_key is required")
	}

	kb, err := knowledge.NewStore(cfg.KnowledgeDBPath())
	if err != nil {
		return fmt.Errorf("open knowledge database: %w", err)
	}
	defer kb.Close()

	registry, _, overrides, err := buildRegistry(cfg, kb, logger)
	if err != nil {
		return err
	}

	orch := agent.New(llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger), registry, agent.Config{
		Model:        cfg.Anthropic.Model,
		SystemPrompt: overrides.SystemPrompt(),
		MaxTokens:    cfg.Anthropic.MaxTokens,
		MaxHistory:   cfg.Limits.MaxHistoryMessages,
		MaxToolCalls: cfg.Limits.MaxToolCallsPerTurn,
	}, nil, logger)

	ctx = tools.WithCallID(ctx, "cli")
	ctx = tools.WithState(ctx, order.NewState())

	response, _ := orch.Process(ctx, question, nil)
	if response == "" {
		return errors.New("no response from backend")
	}

	fmt.Fprintln(stdout, response)
	return nil
}

// runIngest handles the "vika ingest [file.md]" subcommand. Without an
// argument it imports every markdown file from the configured
// knowledge source_dir.
func runIngest(stdout io.Writer, configPath string, file string) error {
	logger := newLogger(stdout, slog.LevelInfo)

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	kb, err := knowledge.NewStore(cfg.KnowledgeDBPath())
	if err != nil {
		return fmt.Errorf("open knowledge database: %w", err)
	}
	defer kb.Close()

	ing := knowledge.NewIngester(kb)

	var n int
	if file != "" {
		n, err = ing.IngestFile(file)
	} else {
		if cfg.Knowledge.SourceDir == "" {
			return errors.New("no file given and knowledge.source_dir is not configured")
		}
		n, err = ing.IngestDir(cfg.Knowledge.SourceDir)
	}
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	logger.Info("knowledge imported", "entries", n)
	fmt.Fprintf(stdout, "Imported %d entries\n", n)
	return nil
}
